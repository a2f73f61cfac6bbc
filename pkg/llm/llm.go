// Copyright 2026 Tapestry Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//	http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package llm defines the chat-client abstraction the subagent runtime
// converses through. Providers stream responses as a lazy sequence of
// events; the consumer is single-threaded per session.
package llm

import (
	"context"

	"github.com/tapestry-labs/tapestry/pkg/shuttle"
)

// Message is one turn of a conversation.
type Message struct {
	// Role is one of "system", "user", "assistant", "tool".
	Role string

	// Content is the message text. For tool results it holds the tool
	// output.
	Content string

	// ToolUseID links a tool-result message to the call that produced it.
	ToolUseID string

	// ToolCalls holds the calls an assistant message requested.
	ToolCalls []FunctionCall
}

// FunctionCall is a tool invocation requested by the model.
type FunctionCall struct {
	ID   string
	Name string
	Args map[string]interface{}
}

// Usage reports token consumption for a request.
type Usage struct {
	InputTokens  int
	OutputTokens int
	TotalTokens  int
}

// Part is one fragment of streamed content.
type Part struct {
	Text string
}

// EventType tags a stream event.
type EventType string

const (
	// EventRetry signals a transient provider hiccup; the consumer should
	// keep reading.
	EventRetry EventType = "retry"

	// EventChunk carries content.
	EventChunk EventType = "chunk"
)

// StreamEvent is one element of a response stream.
type StreamEvent struct {
	Type  EventType
	Chunk *Chunk
}

// Chunk carries streamed content: text parts, completed function calls,
// and/or usage metadata. Any field may be empty.
type Chunk struct {
	Parts         []Part
	FunctionCalls []FunctionCall
	Usage         *Usage
}

// Stream is a pull iterator over a streaming response. Next returns io.EOF
// when the response is complete. Close releases the underlying connection
// and is safe to call at any point.
type Stream interface {
	Next(ctx context.Context) (StreamEvent, error)
	Close() error
}

// StreamConfig parameterizes one streaming request.
type StreamConfig struct {
	Tools     []shuttle.Tool
	System    string
	MaxTokens int
}

// Client is a streaming chat provider. The promptID identifies the round for
// provider-side tracing and logging; providers must treat it as opaque.
type Client interface {
	Name() string
	Model() string
	SendMessageStream(ctx context.Context, messages []Message, cfg StreamConfig, promptID string) (Stream, error)
}
