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

// Package events provides a typed, synchronous event bus for session and
// subagent lifecycle notifications. Listeners run in subscription order on
// the emitting goroutine; a panicking listener is recovered and logged so it
// cannot break fan-out for the others.
package events

import "time"

// Type tags an event variant.
type Type string

// Session lifecycle events.
const (
	SessionStarted        Type = "SESSION_STARTED"
	SessionSwitched       Type = "SESSION_SWITCHED"
	SessionPaused         Type = "SESSION_PAUSED"
	SessionResumed        Type = "SESSION_RESUMED"
	SessionCompleted      Type = "SESSION_COMPLETED"
	SessionAborted        Type = "SESSION_ABORTED"
	UserMessageToSession  Type = "USER_MESSAGE_TO_SESSION"
	SubagentMessageToUser Type = "SUBAGENT_MESSAGE_TO_USER"
)

// Subagent scope events.
const (
	SubagentStart               Type = "START"
	SubagentRoundStart          Type = "ROUND_START"
	SubagentStreamText          Type = "STREAM_TEXT"
	SubagentToolCall            Type = "TOOL_CALL"
	SubagentToolResult          Type = "TOOL_RESULT"
	SubagentToolWaitingApproval Type = "TOOL_WAITING_APPROVAL"
	SubagentRoundEnd            Type = "ROUND_END"
	SubagentFinish              Type = "FINISH"
	SubagentError               Type = "ERROR"
)

// Event is a single bus notification. Payload holds one of the typed payload
// structs below, keyed by Type.
type Event struct {
	Type      Type
	SessionID string
	Timestamp time.Time
	Payload   any
}

// SessionStartedPayload carries the newly created session node. Node is kept
// untyped here to avoid coupling the bus to the session package.
type SessionStartedPayload struct {
	Node any
}

// SessionSwitchedPayload reports an active-session change. From is empty when
// there was no previously active session.
type SessionSwitchedPayload struct {
	From string
	To   string
}

// SessionCompletedPayload carries the optional result and terminate reason.
type SessionCompletedPayload struct {
	Result          string
	TerminateReason string
}

// SessionAbortedPayload carries the optional abort reason.
type SessionAbortedPayload struct {
	Reason string
}

// UserMessagePayload carries a user message routed to a session.
type UserMessagePayload struct {
	Text string
}

// SubagentMessagePayload carries text flowing back to the user. Exactly one
// of TextChunk and FinalText is set.
type SubagentMessagePayload struct {
	TextChunk string
	FinalText string
}

// RoundStartPayload identifies a conversation round.
type RoundStartPayload struct {
	Round    int
	PromptID string
}

// RoundEndPayload closes a conversation round.
type RoundEndPayload struct {
	Round    int
	PromptID string
}

// StreamTextPayload carries one streamed text fragment.
type StreamTextPayload struct {
	Text string
}

// ToolCallPayload describes a tool invocation requested by the model.
type ToolCallPayload struct {
	CallID string
	Name   string
	Args   map[string]any
}

// ToolResultPayload reports the outcome of a tool invocation.
type ToolResultPayload struct {
	CallID  string
	Name    string
	Success bool
	Output  string
	Error   string
}

// ToolWaitingApprovalPayload signals a tool call awaiting user approval.
type ToolWaitingApprovalPayload struct {
	CallID string
	Name   string
}

// ErrorPayload carries a scope-level failure.
type ErrorPayload struct {
	Message string
	Err     error
}

// FinishPayload closes a subagent run with its termination reason and
// cumulative token stats.
type FinishPayload struct {
	Reason       string
	Rounds       int
	InputTokens  int
	OutputTokens int
}
