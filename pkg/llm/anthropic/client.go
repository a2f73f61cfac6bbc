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

// Package anthropic implements the llm.Client interface over Anthropic's
// Messages API, streaming responses via server-sent events.
package anthropic

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/tapestry-labs/tapestry/pkg/llm"
	"github.com/tapestry-labs/tapestry/pkg/shuttle"
)

const (
	// DefaultModel is the default Claude model
	DefaultModel = "claude-sonnet-4-5-20250929"
	// DefaultEndpoint is the default Anthropic API endpoint
	DefaultEndpoint = "https://api.anthropic.com/v1/messages"
	// DefaultMaxTokens is the default maximum tokens per request
	DefaultMaxTokens = 4096
	// DefaultTemperature is the default LLM temperature
	DefaultTemperature = 1.0
	// DefaultTimeout is the default HTTP timeout
	DefaultTimeout = 120 * time.Second
)

// Client implements the llm.Client interface for Anthropic's Claude API.
type Client struct {
	apiKey      string
	model       string
	endpoint    string
	httpClient  *http.Client
	maxTokens   int
	temperature float64
}

// Config holds configuration for the Anthropic client.
type Config struct {
	APIKey      string
	Model       string // Default: claude-sonnet-4-5-20250929
	Endpoint    string // Default: https://api.anthropic.com/v1/messages
	Timeout     time.Duration
	MaxTokens   int     // Default: 4096
	Temperature float64 // Default: 1.0
}

// NewClient creates a new Anthropic client.
func NewClient(config Config) *Client {
	if config.Model == "" {
		if envModel := os.Getenv("ANTHROPIC_DEFAULT_MODEL"); envModel != "" {
			config.Model = envModel
		} else {
			config.Model = DefaultModel
		}
	}
	if config.Endpoint == "" {
		if envEndpoint := os.Getenv("ANTHROPIC_API_ENDPOINT"); envEndpoint != "" {
			config.Endpoint = envEndpoint
		} else {
			config.Endpoint = DefaultEndpoint
		}
	}
	if config.Timeout == 0 {
		config.Timeout = DefaultTimeout
	}
	if config.MaxTokens == 0 {
		config.MaxTokens = DefaultMaxTokens
	}
	if config.Temperature == 0 {
		config.Temperature = DefaultTemperature
	}

	return &Client{
		apiKey:      config.APIKey,
		model:       config.Model,
		endpoint:    config.Endpoint,
		maxTokens:   config.MaxTokens,
		temperature: config.Temperature,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}
}

// Name returns the provider name.
func (c *Client) Name() string {
	return "anthropic"
}

// Model returns the model identifier.
func (c *Client) Model() string {
	return c.model
}

// SendMessageStream opens a streaming Messages API request and returns a
// lazy pull iterator over its server-sent events.
func (c *Client) SendMessageStream(ctx context.Context, messages []llm.Message, cfg llm.StreamConfig, promptID string) (llm.Stream, error) {
	systemPrompt, apiMessages := convertMessages(messages)
	if cfg.System != "" {
		if systemPrompt != "" {
			systemPrompt = cfg.System + "\n\n" + systemPrompt
		} else {
			systemPrompt = cfg.System
		}
	}

	nameMap := make(map[string]string)
	apiTools := convertTools(cfg.Tools, nameMap)

	maxTokens := c.maxTokens
	if cfg.MaxTokens > 0 {
		maxTokens = cfg.MaxTokens
	}

	req := &messagesRequest{
		Model:       c.model,
		Messages:    apiMessages,
		MaxTokens:   maxTokens,
		Temperature: c.temperature,
		System:      systemPrompt,
		Tools:       apiTools,
		Stream:      true,
	}
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")
	if promptID != "" {
		httpReq.Header.Set("x-prompt-id", promptID)
	}

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	if httpResp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(httpResp.Body)
		_ = httpResp.Body.Close()
		return nil, fmt.Errorf("API error (status %d): %s", httpResp.StatusCode, string(respBody))
	}

	return &stream{
		body:             httpResp.Body,
		scanner:          bufio.NewScanner(httpResp.Body),
		nameMap:          nameMap,
		toolInputBuffers: make(map[int]*strings.Builder),
		pendingCalls:     make(map[int]llm.FunctionCall),
	}, nil
}

// stream lazily decodes server-sent events into llm.StreamEvent values.
type stream struct {
	body    io.ReadCloser
	scanner *bufio.Scanner
	nameMap map[string]string

	// Tool input JSON accumulates across input_json_delta events, keyed by
	// content block index, and is parsed at content_block_stop.
	toolInputBuffers map[int]*strings.Builder
	pendingCalls     map[int]llm.FunctionCall

	done   bool
	closed bool
}

// Next returns the next stream event, or io.EOF after message_stop.
func (s *stream) Next(ctx context.Context) (llm.StreamEvent, error) {
	for {
		select {
		case <-ctx.Done():
			return llm.StreamEvent{}, ctx.Err()
		default:
		}
		if s.done {
			return llm.StreamEvent{}, io.EOF
		}
		if !s.scanner.Scan() {
			s.done = true
			if err := s.scanner.Err(); err != nil {
				return llm.StreamEvent{}, fmt.Errorf("error reading stream: %w", err)
			}
			return llm.StreamEvent{}, io.EOF
		}

		line := s.scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			// "event:" lines and keep-alive blanks carry no payload.
			continue
		}
		jsonData := strings.TrimSpace(strings.TrimPrefix(line, "data:"))

		var event streamEvent
		if err := json.Unmarshal([]byte(jsonData), &event); err != nil {
			// Skip malformed events but continue processing.
			continue
		}

		ev, ok := s.translate(&event)
		if ok {
			return ev, nil
		}
		if s.done {
			return llm.StreamEvent{}, io.EOF
		}
	}
}

// translate maps one wire event to an llm.StreamEvent. The second return is
// false when the event produces nothing for the consumer.
func (s *stream) translate(event *streamEvent) (llm.StreamEvent, bool) {
	switch event.Type {
	case "ping":
		return llm.StreamEvent{Type: llm.EventRetry}, true

	case "error":
		// Overloaded errors are transient; surface as a retry marker.
		if event.Error != nil && event.Error.Type == "overloaded_error" {
			return llm.StreamEvent{Type: llm.EventRetry}, true
		}
		return llm.StreamEvent{}, false

	case "message_start":
		if event.Message != nil && event.Message.Usage != nil {
			return llm.StreamEvent{Type: llm.EventChunk, Chunk: &llm.Chunk{
				Usage: &llm.Usage{
					InputTokens: event.Message.Usage.InputTokens,
					TotalTokens: event.Message.Usage.InputTokens,
				},
			}}, true
		}
		return llm.StreamEvent{}, false

	case "content_block_start":
		if event.ContentBlock != nil && event.ContentBlock.Type == "tool_use" {
			s.pendingCalls[event.Index] = llm.FunctionCall{
				ID:   event.ContentBlock.ID,
				Name: llm.ReverseToolName(s.nameMap, event.ContentBlock.Name),
			}
			s.toolInputBuffers[event.Index] = &strings.Builder{}
		}
		return llm.StreamEvent{}, false

	case "content_block_delta":
		if event.Delta == nil {
			return llm.StreamEvent{}, false
		}
		switch event.Delta.Type {
		case "text_delta":
			if event.Delta.Text == "" {
				return llm.StreamEvent{}, false
			}
			return llm.StreamEvent{Type: llm.EventChunk, Chunk: &llm.Chunk{
				Parts: []llm.Part{{Text: event.Delta.Text}},
			}}, true
		case "input_json_delta":
			if buf, exists := s.toolInputBuffers[event.Index]; exists {
				buf.WriteString(event.Delta.PartialJSON)
			}
			return llm.StreamEvent{}, false
		}
		return llm.StreamEvent{}, false

	case "content_block_stop":
		call, pending := s.pendingCalls[event.Index]
		if !pending {
			return llm.StreamEvent{}, false
		}
		if buf := s.toolInputBuffers[event.Index]; buf != nil && buf.Len() > 0 {
			var input map[string]interface{}
			if err := json.Unmarshal([]byte(buf.String()), &input); err == nil {
				call.Args = input
			}
		}
		if call.Args == nil {
			call.Args = make(map[string]interface{})
		}
		delete(s.pendingCalls, event.Index)
		delete(s.toolInputBuffers, event.Index)
		return llm.StreamEvent{Type: llm.EventChunk, Chunk: &llm.Chunk{
			FunctionCalls: []llm.FunctionCall{call},
		}}, true

	case "message_delta":
		if event.Usage != nil {
			return llm.StreamEvent{Type: llm.EventChunk, Chunk: &llm.Chunk{
				Usage: &llm.Usage{
					OutputTokens: event.Usage.OutputTokens,
					TotalTokens:  event.Usage.OutputTokens,
				},
			}}, true
		}
		return llm.StreamEvent{}, false

	case "message_stop":
		s.done = true
		return llm.StreamEvent{}, false
	}
	return llm.StreamEvent{}, false
}

// Close releases the underlying connection. Safe to call at any point.
func (s *stream) Close() error {
	if s.closed {
		return nil
	}
	s.closed = true
	s.done = true
	return s.body.Close()
}

// convertMessages converts conversation messages to the wire format.
// System messages are extracted and combined; the Messages API requires them
// in a separate "system" field, not in the messages array.
func convertMessages(messages []llm.Message) (string, []message) {
	var systemPrompts []string
	var apiMessages []message

	for _, msg := range messages {
		switch msg.Role {
		case "system":
			if msg.Content != "" {
				systemPrompts = append(systemPrompts, msg.Content)
			}

		case "user":
			apiMessages = append(apiMessages, message{
				Role: "user",
				Content: []contentBlock{
					{Type: "text", Text: msg.Content},
				},
			})

		case "assistant":
			var content []contentBlock
			if msg.Content != "" {
				content = append(content, contentBlock{
					Type: "text",
					Text: msg.Content,
				})
			}
			for _, call := range msg.ToolCalls {
				input := call.Args
				if input == nil {
					input = map[string]interface{}{}
				}
				content = append(content, contentBlock{
					Type:  "tool_use",
					ID:    call.ID,
					Name:  llm.SanitizeToolName(call.Name),
					Input: input,
				})
			}
			if len(content) > 0 {
				apiMessages = append(apiMessages, message{
					Role:    "assistant",
					Content: content,
				})
			}

		case "tool":
			apiMessages = append(apiMessages, message{
				Role: "user",
				Content: []contentBlock{
					{
						Type:      "tool_result",
						ToolUseID: msg.ToolUseID,
						Content:   msg.Content,
					},
				},
			})
		}
	}

	return strings.Join(systemPrompts, "\n\n"), apiMessages
}

// convertTools converts shuttle tools to the wire format, sanitizing names
// for provider compatibility and recording the reverse mapping.
func convertTools(tools []shuttle.Tool, nameMap map[string]string) []tool {
	var apiTools []tool
	for _, t := range tools {
		originalName := t.Name()
		sanitizedName := llm.SanitizeToolName(originalName)
		nameMap[sanitizedName] = originalName

		apiTool := tool{
			Name:        sanitizedName,
			Description: t.Description(),
		}
		if schema := t.InputSchema(); schema != nil {
			apiTool.InputSchema = inputSchema{
				Type:       schema.Type,
				Properties: convertSchemaProperties(schema.Properties),
				Required:   schema.Required,
			}
		}
		apiTools = append(apiTools, apiTool)
	}
	return apiTools
}

// convertSchemaProperties converts JSONSchema properties to the wire format.
func convertSchemaProperties(props map[string]*shuttle.JSONSchema) map[string]map[string]interface{} {
	if props == nil {
		return nil
	}
	result := make(map[string]map[string]interface{})
	for key, schema := range props {
		propMap := make(map[string]interface{})
		propMap["type"] = schema.Type

		if schema.Description != "" {
			propMap["description"] = schema.Description
		}
		if schema.Enum != nil {
			propMap["enum"] = schema.Enum
		}
		if schema.Default != nil {
			propMap["default"] = schema.Default
		}
		if schema.Properties != nil {
			propMap["properties"] = convertSchemaProperties(schema.Properties)
		}
		if schema.Items != nil {
			propMap["items"] = map[string]interface{}{
				"type": schema.Items.Type,
			}
		}
		result[key] = propMap
	}
	return result
}

// Ensure Client implements the llm.Client interface.
var _ llm.Client = (*Client)(nil)
