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
package subagent

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/tapestry-labs/tapestry/internal/log"
	"github.com/tapestry-labs/tapestry/pkg/events"
	"github.com/tapestry-labs/tapestry/pkg/llm"
	"github.com/tapestry-labs/tapestry/pkg/retry"
	"github.com/tapestry-labs/tapestry/pkg/session"
	"github.com/tapestry-labs/tapestry/pkg/shuttle"
)

// TerminateReason explains why a scope's run ended.
type TerminateReason string

const (
	TerminateCompleted TerminateReason = "COMPLETED"
	TerminateCancelled TerminateReason = "CANCELLED"
	TerminateError     TerminateReason = "ERROR"
	TerminateMaxRounds TerminateReason = "MAX_ROUNDS"
	TerminateTimeout   TerminateReason = "TIMEOUT"
)

// Stats accumulates per-session conversation totals.
type Stats struct {
	Rounds       int
	InputTokens  int
	OutputTokens int
}

// ScopeConfig parameterizes one interactive scope.
type ScopeConfig struct {
	SessionID    string
	SubagentName string
	SystemPrompt string

	// AllowNestedTasks keeps the delegation tool in the tool list; when
	// false it is filtered out even if registered.
	AllowNestedTasks bool

	// ToolNames whitelists registry tools by name. Nil means all.
	ToolNames []string

	// InlineTools are appended to the tool list unconditionally.
	InlineTools []shuttle.Tool

	// MaxRounds caps the number of conversation rounds. Zero means no cap.
	MaxRounds int

	// MaxDuration caps the total run time. Zero means no cap.
	MaxDuration time.Duration

	// StreamRetry governs retries of the stream-open call. The zero value
	// means a single attempt.
	StreamRetry retry.Config
}

// Scope drives one session's conversation: it drains queued user messages
// strictly FIFO, streams model responses, dispatches tool calls, and emits
// everything on the bus. At most one round is in flight per scope.
type Scope struct {
	cfg      ScopeConfig
	manager  *session.Manager
	client   llm.Client
	executor *shuttle.Executor
	bus      *events.Bus
	logger   *log.Logger

	mu          sync.Mutex
	queue       []string
	history     []llm.Message
	round       int
	stats       Stats
	reason      TerminateReason
	roundCancel context.CancelFunc
	closed      bool

	// wake is buffered so an enqueue during a drain is never lost.
	wake chan struct{}

	sessionCtx    context.Context
	sessionCancel context.CancelFunc
}

// ScopeOption configures a Scope.
type ScopeOption func(*Scope)

// WithScopeLogger sets the scope's logger.
func WithScopeLogger(logger *log.Logger) ScopeOption {
	return func(s *Scope) {
		s.logger = logger
	}
}

// NewScope creates a scope for the configured session.
func NewScope(manager *session.Manager, client llm.Client, executor *shuttle.Executor, cfg ScopeConfig, opts ...ScopeOption) *Scope {
	s := &Scope{
		cfg:      cfg,
		manager:  manager,
		client:   client,
		executor: executor,
		bus:      manager.Bus(),
		logger:   log.L(),
		wake:     make(chan struct{}, 1),
		reason:   TerminateCompleted,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Stats returns the cumulative round and token totals so far.
func (s *Scope) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stats
}

// RunInteractive binds the scope to its session, seeds the queue from the
// context's task prompt, and blocks draining messages until ctx fires. The
// FINISH event is emitted on every exit path.
func (s *Scope) RunInteractive(ctx context.Context, initialCtx *session.Context) error {
	var sessionCtx context.Context
	var cancel context.CancelFunc
	if s.cfg.MaxDuration > 0 {
		sessionCtx, cancel = context.WithTimeout(ctx, s.cfg.MaxDuration)
	} else {
		sessionCtx, cancel = context.WithCancel(ctx)
	}
	s.mu.Lock()
	s.sessionCtx = sessionCtx
	s.sessionCancel = cancel
	s.mu.Unlock()
	defer cancel()

	defer func() {
		s.mu.Lock()
		s.closed = true
		reason := s.reason
		stats := s.stats
		s.mu.Unlock()
		s.emit(events.SubagentFinish, events.FinishPayload{
			Reason:       string(reason),
			Rounds:       stats.Rounds,
			InputTokens:  stats.InputTokens,
			OutputTokens: stats.OutputTokens,
		})
	}()

	if err := s.manager.BindScope(s.cfg.SessionID, s); err != nil {
		s.setReason(TerminateError)
		return err
	}
	s.emit(events.SubagentStart, nil)

	if initialCtx != nil {
		if prompt := initialCtx.GetString(session.KeyTaskPrompt); prompt != "" {
			_ = s.EnqueueUserMessage(prompt)
		}
	}

	for {
		s.drain()
		select {
		case <-sessionCtx.Done():
			s.noteShutdown(ctx, sessionCtx)
			return nil
		case <-s.wake:
		}
	}
}

// noteShutdown records why the session context fired.
func (s *Scope) noteShutdown(external, sessionCtx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reason != TerminateCompleted {
		return
	}
	switch {
	case sessionCtx.Err() == context.DeadlineExceeded:
		s.reason = TerminateTimeout
	case external.Err() != nil:
		s.reason = TerminateCancelled
	}
}

// EnqueueUserMessage appends text to the FIFO queue, emits
// USER_MESSAGE_TO_SESSION, and wakes the processor.
func (s *Scope) EnqueueUserMessage(text string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return fmt.Errorf("scope for session %s is closed", s.cfg.SessionID)
	}
	s.queue = append(s.queue, text)
	s.mu.Unlock()

	s.emit(events.UserMessageToSession, events.UserMessagePayload{Text: text})

	select {
	case s.wake <- struct{}{}:
	default:
	}
	return nil
}

// CancelCurrentMessage aborts the in-flight round only; the session stays
// alive and keeps accepting messages. No-op when nothing is in flight.
func (s *Scope) CancelCurrentMessage() {
	s.mu.Lock()
	cancel := s.roundCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// Abort fires the scope's internal abort, ending RunInteractive.
func (s *Scope) Abort() {
	s.mu.Lock()
	s.reason = TerminateCancelled
	cancel := s.sessionCancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// drain processes queued messages one at a time, strictly FIFO.
func (s *Scope) drain() {
	for {
		if s.sessionCtx.Err() != nil {
			return
		}
		s.mu.Lock()
		if len(s.queue) == 0 {
			s.mu.Unlock()
			return
		}
		text := s.queue[0]
		s.queue = s.queue[1:]
		s.mu.Unlock()

		s.processRound(text)
	}
}

// processRound runs one full conversation round for a single user message.
func (s *Scope) processRound(text string) {
	s.mu.Lock()
	if s.cfg.MaxRounds > 0 && s.round >= s.cfg.MaxRounds {
		s.reason = TerminateMaxRounds
		cancel := s.sessionCancel
		s.mu.Unlock()
		s.logger.Warn("max rounds reached", map[string]any{
			"session_id": s.cfg.SessionID,
			"max_rounds": s.cfg.MaxRounds,
		})
		cancel()
		return
	}
	s.round++
	round := s.round
	s.stats.Rounds = round

	roundCtx, cancel := context.WithCancel(s.sessionCtx)
	s.roundCancel = cancel
	s.mu.Unlock()

	defer func() {
		cancel()
		s.mu.Lock()
		s.roundCancel = nil
		s.mu.Unlock()
	}()

	promptID := fmt.Sprintf("%s#%s#%d", s.rootSessionID(), s.cfg.SubagentName, round)
	s.emit(events.SubagentRoundStart, events.RoundStartPayload{Round: round, PromptID: promptID})
	defer s.emit(events.SubagentRoundEnd, events.RoundEndPayload{Round: round, PromptID: promptID})

	s.mu.Lock()
	s.history = append(s.history, llm.Message{Role: "user", Content: text})
	messages := make([]llm.Message, len(s.history))
	copy(messages, s.history)
	s.mu.Unlock()

	open := retry.ExecuteWithRetry(roundCtx, func(ctx context.Context, _ *retry.RetryContext) (llm.Stream, error) {
		return s.client.SendMessageStream(ctx, messages, llm.StreamConfig{
			Tools:  s.buildTools(),
			System: s.cfg.SystemPrompt,
		}, promptID)
	}, retry.Options{
		Config:        s.cfg.StreamRetry,
		OperationName: "chat_stream_open",
		Logger:        s.logger,
	})
	if !open.Success {
		s.logger.Error("chat client call failed", open.Err, map[string]any{
			"session_id": s.cfg.SessionID,
			"prompt_id":  promptID,
			"attempts":   open.Attempts,
		})
		s.emit(events.SubagentError, events.ErrorPayload{Message: "chat client call failed", Err: open.Err})
		return
	}
	stream := open.Value
	defer func() { _ = stream.Close() }()

	var textBuf strings.Builder
	var calls []llm.FunctionCall
	var inTokens, outTokens int

	for {
		ev, err := stream.Next(roundCtx)
		if err == io.EOF {
			break
		}
		if err != nil {
			if roundCtx.Err() != nil {
				// Aborted mid-stream: chunks already emitted are abandoned,
				// no finalText follows.
				s.logger.Info("round aborted", map[string]any{
					"session_id": s.cfg.SessionID,
					"prompt_id":  promptID,
				})
				return
			}
			s.emit(events.SubagentError, events.ErrorPayload{Message: "stream read failed", Err: err})
			return
		}

		switch ev.Type {
		case llm.EventRetry:
			continue
		case llm.EventChunk:
			for _, part := range ev.Chunk.Parts {
				if part.Text == "" {
					continue
				}
				textBuf.WriteString(part.Text)
				s.emit(events.SubagentStreamText, events.StreamTextPayload{Text: part.Text})
				s.emit(events.SubagentMessageToUser, events.SubagentMessagePayload{TextChunk: part.Text})
			}
			calls = append(calls, ev.Chunk.FunctionCalls...)
			if ev.Chunk.Usage != nil {
				if ev.Chunk.Usage.InputTokens > 0 {
					inTokens = ev.Chunk.Usage.InputTokens
				}
				if ev.Chunk.Usage.OutputTokens > 0 {
					outTokens = ev.Chunk.Usage.OutputTokens
				}
			}
		}
	}

	s.mu.Lock()
	s.stats.InputTokens += inTokens
	s.stats.OutputTokens += outTokens
	s.mu.Unlock()

	roundText := textBuf.String()
	assistant := llm.Message{Role: "assistant", Content: roundText, ToolCalls: calls}
	s.mu.Lock()
	s.history = append(s.history, assistant)
	s.mu.Unlock()

	if len(calls) > 0 {
		s.dispatchCalls(roundCtx, calls)
	}

	if trimmed := strings.TrimSpace(roundText); trimmed != "" {
		s.emit(events.SubagentMessageToUser, events.SubagentMessagePayload{FinalText: trimmed})
	}
}

// dispatchCalls runs requested tool calls in order and records results in
// the conversation history. Failures become failed tool results; they never
// end the session.
func (s *Scope) dispatchCalls(ctx context.Context, calls []llm.FunctionCall) {
	for _, call := range calls {
		s.emit(events.SubagentToolCall, events.ToolCallPayload{
			CallID: call.ID,
			Name:   call.Name,
			Args:   call.Args,
		})

		result := s.executor.Execute(ctx, call.Name, call.Args)

		payload := events.ToolResultPayload{
			CallID:  call.ID,
			Name:    call.Name,
			Success: result.Success,
		}
		var content string
		if result.Success {
			content = stringifyData(result.Data)
			payload.Output = content
		} else if result.Error != nil {
			content = fmt.Sprintf("error: %s", result.Error.Message)
			payload.Error = result.Error.Message
		}
		s.emit(events.SubagentToolResult, payload)

		s.mu.Lock()
		s.history = append(s.history, llm.Message{
			Role:      "tool",
			ToolUseID: call.ID,
			Content:   content,
		})
		s.mu.Unlock()
	}
}

// buildTools assembles the round's tool list: registry tools through the
// whitelist, minus the delegation tool when nesting is disallowed, plus any
// inline tools.
func (s *Scope) buildTools() []shuttle.Tool {
	tools := s.executor.Registry().ListToolsFiltered(s.cfg.ToolNames)
	if !s.cfg.AllowNestedTasks {
		filtered := tools[:0]
		for _, t := range tools {
			if t.Name() != DelegationToolName {
				filtered = append(filtered, t)
			}
		}
		tools = filtered
	}
	return append(tools, s.cfg.InlineTools...)
}

// rootSessionID walks parents to the top of this session's tree.
func (s *Scope) rootSessionID() string {
	id := s.cfg.SessionID
	for {
		node, err := s.manager.GetSessionNode(id)
		if err != nil || node.ParentID == "" {
			return id
		}
		id = node.ParentID
	}
}

func (s *Scope) setReason(reason TerminateReason) {
	s.mu.Lock()
	s.reason = reason
	s.mu.Unlock()
}

func (s *Scope) emit(t events.Type, payload any) {
	s.bus.Emit(events.Event{
		Type:      t,
		SessionID: s.cfg.SessionID,
		Payload:   payload,
	})
}

func stringifyData(data any) string {
	switch v := data.(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		raw, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(raw)
	}
}

var _ session.CancelableScope = (*Scope)(nil)
