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

package session

import (
	"sync"
	"time"

	"github.com/tapestry-labs/tapestry/internal/log"
	"github.com/tapestry-labs/tapestry/pkg/events"
)

// Scope is the manager's view of an interactive subagent bound to a session.
// The manager holds a non-owning reference; the scope's creator owns it.
type Scope interface {
	EnqueueUserMessage(text string) error
}

// CancelableScope is implemented by scopes that can cancel an in-flight
// round without ending the session.
type CancelableScope interface {
	Scope
	CancelCurrentMessage()
}

// CreateOptions parameterizes Manager.CreateSession.
type CreateOptions struct {
	Name         string
	SubagentName string
	ParentID     string
	Config       Config
	TaskPrompt   string
}

// Manager is the public façade over the session store, per-session contexts,
// bound scopes, and the event bus. All methods are safe for concurrent use.
// No internal lock is held while listeners run, so listeners may call back
// into the manager.
type Manager struct {
	mu       sync.Mutex
	store    *Store
	contexts map[string]*Context
	scopes   map[string]Scope
	bus      *events.Bus
	logger   *log.Logger
}

// ManagerOption configures a Manager.
type ManagerOption func(*Manager)

// WithManagerLogger sets the manager's logger.
func WithManagerLogger(logger *log.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = logger
	}
}

// NewManager creates a manager publishing to bus.
func NewManager(bus *events.Bus, opts ...ManagerOption) *Manager {
	m := &Manager{
		store:    NewStore(),
		contexts: make(map[string]*Context),
		scopes:   make(map[string]Scope),
		bus:      bus,
		logger:   log.L(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Bus returns the manager's event bus.
func (m *Manager) Bus() *events.Bus {
	return m.bus
}

// CreateSession allocates a new session node, links it to its parent, builds
// its context, and emits SESSION_STARTED (plus SESSION_SWITCHED when the
// config auto-switches). Returns the new session id.
func (m *Manager) CreateSession(opts CreateOptions) (string, error) {
	cfg := opts.Config
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = DefaultConfig().MaxDepth
	}

	m.mu.Lock()

	depth := 0
	var parentCtx *Context
	if opts.ParentID != "" {
		parentDepth, err := m.store.GetDepth(opts.ParentID)
		if err != nil {
			m.mu.Unlock()
			return "", newError(CodeParentNotFound, opts.ParentID, "parent session not found")
		}
		depth = parentDepth + 1
		parentCtx = m.contexts[opts.ParentID]
	}
	if depth >= cfg.MaxDepth {
		m.mu.Unlock()
		return "", newError(CodeMaxDepthExceeded, "", "depth %d exceeds max depth %d", depth, cfg.MaxDepth)
	}

	id := newID(opts.Name)
	nowTS := time.Now()
	node := Node{
		ID:           id,
		Name:         opts.Name,
		SubagentName: opts.SubagentName,
		Depth:        depth,
		Status:       StatusActive,
		ParentID:     opts.ParentID,
		CreatedAt:    nowTS,
		UpdatedAt:    nowTS,
		Config:       cfg,
	}
	if err := m.store.AddNode(node); err != nil {
		m.mu.Unlock()
		return "", err
	}
	if err := m.store.LinkChild(opts.ParentID, id); err != nil {
		m.mu.Unlock()
		return "", err
	}

	var ctx *Context
	if cfg.InheritContext && parentCtx != nil {
		ctx = NewContext(parentCtx)
	} else {
		ctx = NewContext(nil)
	}
	if opts.TaskPrompt != "" {
		ctx.Set(KeyTaskPrompt, opts.TaskPrompt)
	}
	m.contexts[id] = ctx

	pending := []events.Event{{
		Type:      events.SessionStarted,
		SessionID: id,
		Payload:   events.SessionStartedPayload{Node: node},
	}}
	if cfg.AutoSwitch {
		previous := m.store.GetActive()
		// Push cannot fail here; the node was just added.
		_ = m.store.Push(id)
		pending = append(pending, events.Event{
			Type:      events.SessionSwitched,
			SessionID: id,
			Payload:   events.SessionSwitchedPayload{From: previous, To: id},
		})
	}
	m.mu.Unlock()

	m.logger.Info("session created", map[string]any{
		"session_id": id,
		"name":       opts.Name,
		"parent_id":  opts.ParentID,
		"depth":      depth,
	})
	m.emit(pending)
	return id, nil
}

// SwitchActiveSession pushes id onto the active-path stack.
func (m *Manager) SwitchActiveSession(id string) error {
	m.mu.Lock()
	previous := m.store.GetActive()
	if err := m.store.Push(id); err != nil {
		m.mu.Unlock()
		return err
	}
	m.mu.Unlock()

	m.emit([]events.Event{{
		Type:      events.SessionSwitched,
		SessionID: id,
		Payload:   events.SessionSwitchedPayload{From: previous, To: id},
	}})
	return nil
}

// BackToParent pops the active session and returns the id now active, or ""
// when the stack is empty.
func (m *Manager) BackToParent() string {
	m.mu.Lock()
	popped := m.store.Pop()
	active := m.store.GetActive()
	m.mu.Unlock()

	if popped != "" && active != "" {
		m.emit([]events.Event{{
			Type:      events.SessionSwitched,
			SessionID: active,
			Payload:   events.SessionSwitchedPayload{From: popped, To: active},
		}})
	}
	return active
}

// Pause suspends an active session.
func (m *Manager) Pause(id string) error {
	return m.transition(id, StatusPaused, events.SessionPaused, nil, false)
}

// Resume reactivates a paused session.
func (m *Manager) Resume(id string) error {
	return m.transition(id, StatusActive, events.SessionResumed, nil, false)
}

// Complete terminates a session successfully. If the session is currently
// active it is popped from the stack and SESSION_SWITCHED announces the new
// top.
func (m *Manager) Complete(id, result, reason string) error {
	payload := events.SessionCompletedPayload{Result: result, TerminateReason: reason}
	return m.transition(id, StatusCompleted, events.SessionCompleted, payload, true)
}

// Abort terminates a session unsuccessfully, with the same stack handling as
// Complete.
func (m *Manager) Abort(id, reason string) error {
	payload := events.SessionAbortedPayload{Reason: reason}
	return m.transition(id, StatusAborted, events.SessionAborted, payload, true)
}

// transition validates the state change, applies it, and emits the lifecycle
// event plus any stack switch.
func (m *Manager) transition(id string, to Status, evType events.Type, payload any, popIfActive bool) error {
	m.mu.Lock()
	node, err := m.store.GetNode(id)
	if err != nil {
		m.mu.Unlock()
		return err
	}
	if err := validateTransition(node.Status, to); err != nil {
		m.mu.Unlock()
		return err
	}
	// SetStatus cannot fail; the node was just fetched.
	_ = m.store.SetStatus(id, to)

	pending := []events.Event{{Type: evType, SessionID: id, Payload: payload}}
	if popIfActive && m.store.GetActive() == id {
		m.store.Pop()
		if next := m.store.GetActive(); next != "" {
			pending = append(pending, events.Event{
				Type:      events.SessionSwitched,
				SessionID: next,
				Payload:   events.SessionSwitchedPayload{From: id, To: next},
			})
		}
	}
	m.mu.Unlock()

	m.logger.Debug("session status changed", map[string]any{
		"session_id": id,
		"status":     string(to),
	})
	m.emit(pending)
	return nil
}

func validateTransition(from, to Status) error {
	if from.Terminal() {
		return newError(CodeInvalidState, "", "session is %s and cannot transition to %s", from, to)
	}
	switch to {
	case StatusPaused:
		if from != StatusActive {
			return newError(CodeInvalidState, "", "cannot pause a %s session", from)
		}
	case StatusActive:
		if from != StatusPaused {
			return newError(CodeInvalidState, "", "cannot resume a %s session", from)
		}
	}
	return nil
}

// SendUserMessage routes text to the session. When a scope is bound the
// scope enqueues the message (and emits USER_MESSAGE_TO_SESSION itself);
// otherwise the manager emits the event and the text goes nowhere.
func (m *Manager) SendUserMessage(id, text string) error {
	m.mu.Lock()
	if !m.store.Has(id) {
		m.mu.Unlock()
		return newError(CodeSessionNotFound, id, "session not found")
	}
	scope := m.scopes[id]
	m.mu.Unlock()

	if scope == nil {
		m.emit([]events.Event{{
			Type:      events.UserMessageToSession,
			SessionID: id,
			Payload:   events.UserMessagePayload{Text: text},
		}})
		m.logger.Debug("no scope bound, message emitted only", map[string]any{"session_id": id})
		return nil
	}
	if err := scope.EnqueueUserMessage(text); err != nil {
		// Scope dispatch failures do not suppress the event.
		m.logger.Warn("scope enqueue failed", map[string]any{
			"session_id": id,
			"error":      err.Error(),
		})
		m.emit([]events.Event{{
			Type:      events.UserMessageToSession,
			SessionID: id,
			Payload:   events.UserMessagePayload{Text: text},
		}})
	}
	return nil
}

// BindScope registers scope for id. A later bind for the same id replaces
// the previous scope.
func (m *Manager) BindScope(id string, scope Scope) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.store.Has(id) {
		return newError(CodeSessionNotFound, id, "session not found")
	}
	if _, rebound := m.scopes[id]; rebound {
		m.logger.Warn("scope rebound for session", map[string]any{"session_id": id})
	}
	m.scopes[id] = scope
	return nil
}

// CancelCurrentMessage cancels the in-flight round of the active session, if
// its scope supports cancellation.
func (m *Manager) CancelCurrentMessage() {
	m.mu.Lock()
	active := m.store.GetActive()
	scope := m.scopes[active]
	m.mu.Unlock()

	cancelable, ok := scope.(CancelableScope)
	if !ok {
		m.logger.Debug("no cancelable scope for active session", map[string]any{"session_id": active})
		return
	}
	cancelable.CancelCurrentMessage()
}

// GetActiveSessionID returns the id on top of the stack, or "".
func (m *Manager) GetActiveSessionID() string {
	return m.store.GetActive()
}

// GetSessionNode returns a copy of the node.
func (m *Manager) GetSessionNode(id string) (Node, error) {
	return m.store.GetNode(id)
}

// GetTree returns copies of every session node keyed by id.
func (m *Manager) GetTree() map[string]Node {
	return m.store.GetTree()
}

// GetBreadcrumb returns session names from the root down to id.
func (m *Manager) GetBreadcrumb(id string) []string {
	return m.store.GetBreadcrumb(id)
}

// GetDepth returns the session's depth in the tree.
func (m *Manager) GetDepth(id string) (int, error) {
	return m.store.GetDepth(id)
}

// HasSession reports whether the id is known.
func (m *Manager) HasSession(id string) bool {
	return m.store.Has(id)
}

// GetSessionCount returns the number of sessions ever created this process.
func (m *Manager) GetSessionCount() int {
	return m.store.Size()
}

// GetStackDepth returns the number of sessions on the active-path stack.
func (m *Manager) GetStackDepth() int {
	return m.store.StackDepth()
}

// GetSessionContext returns the session's context.
func (m *Manager) GetSessionContext(id string) (*Context, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ctx, ok := m.contexts[id]
	if !ok {
		return nil, newError(CodeContextNotFound, id, "session context not found")
	}
	return ctx, nil
}

func (m *Manager) emit(evs []events.Event) {
	if m.bus == nil {
		return
	}
	for _, ev := range evs {
		m.bus.Emit(ev)
	}
}
