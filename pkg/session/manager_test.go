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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-labs/tapestry/pkg/events"
)

type recorder struct {
	events []events.Event
}

func record(bus *events.Bus) *recorder {
	r := &recorder{}
	bus.Subscribe(func(ev events.Event) { r.events = append(r.events, ev) })
	return r
}

func (r *recorder) types() []events.Type {
	out := make([]events.Type, len(r.events))
	for i, ev := range r.events {
		out[i] = ev.Type
	}
	return out
}

func newTestManager() (*Manager, *recorder) {
	bus := events.NewBus()
	return NewManager(bus), record(bus)
}

func sessionCode(t *testing.T, err error) ErrorCode {
	t.Helper()
	var serr *Error
	require.True(t, errors.As(err, &serr), "expected *session.Error, got %v", err)
	return serr.Code
}

func TestRootSessionHappyPath(t *testing.T) {
	m, rec := newTestManager()

	id, err := m.CreateSession(CreateOptions{
		Name: "root",
		Config: Config{
			Interactive: false,
			MaxDepth:    3,
			AutoSwitch:  true,
		},
	})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	require.Equal(t, []events.Type{events.SessionStarted, events.SessionSwitched}, rec.types())
	started := rec.events[0].Payload.(events.SessionStartedPayload)
	assert.Equal(t, id, started.Node.(Node).ID)
	switched := rec.events[1].Payload.(events.SessionSwitchedPayload)
	assert.Equal(t, id, switched.To)
	assert.Empty(t, switched.From)

	assert.Equal(t, id, m.GetActiveSessionID())
	assert.Equal(t, []string{"root"}, m.GetBreadcrumb(id))
	depth, err := m.GetDepth(id)
	require.NoError(t, err)
	assert.Equal(t, 0, depth)
}

func TestDepthLimitedNesting(t *testing.T) {
	m, _ := newTestManager()
	cfg := Config{MaxDepth: 3, AutoSwitch: true}

	root, err := m.CreateSession(CreateOptions{Name: "root", Config: cfg})
	require.NoError(t, err)
	child1, err := m.CreateSession(CreateOptions{Name: "child1", ParentID: root, Config: cfg})
	require.NoError(t, err)
	child2, err := m.CreateSession(CreateOptions{Name: "child2", ParentID: child1, Config: cfg})
	require.NoError(t, err)

	// child3 would sit at depth 3, beyond maxDepth=3.
	_, err = m.CreateSession(CreateOptions{Name: "child3", ParentID: child2, Config: cfg})
	require.Error(t, err)
	assert.Equal(t, CodeMaxDepthExceeded, sessionCode(t, err))

	assert.Equal(t, []string{"root", "child1", "child2"}, m.GetBreadcrumb(child2))
}

func TestMaxDepthOneRejectsChildren(t *testing.T) {
	m, _ := newTestManager()
	cfg := Config{MaxDepth: 1}

	root, err := m.CreateSession(CreateOptions{Name: "root", Config: cfg})
	require.NoError(t, err)

	_, err = m.CreateSession(CreateOptions{Name: "child", ParentID: root, Config: cfg})
	require.Error(t, err)
	assert.Equal(t, CodeMaxDepthExceeded, sessionCode(t, err))
}

func TestCreateSessionUnknownParent(t *testing.T) {
	m, _ := newTestManager()
	_, err := m.CreateSession(CreateOptions{Name: "orphan", ParentID: "ghost"})
	require.Error(t, err)
	assert.Equal(t, CodeParentNotFound, sessionCode(t, err))
}

func TestContextInheritanceThroughManager(t *testing.T) {
	m, _ := newTestManager()

	root, err := m.CreateSession(CreateOptions{Name: "root", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)
	rootCtx, err := m.GetSessionContext(root)
	require.NoError(t, err)
	rootCtx.Set("project", "P")

	child, err := m.CreateSession(CreateOptions{
		Name:       "child",
		ParentID:   root,
		Config:     Config{MaxDepth: 3, InheritContext: true},
		TaskPrompt: "do the thing",
	})
	require.NoError(t, err)
	childCtx, err := m.GetSessionContext(child)
	require.NoError(t, err)

	assert.Equal(t, "P", childCtx.GetString("project"))
	assert.Equal(t, "do the thing", childCtx.GetString(KeyTaskPrompt))

	rootCtx.Set("project", "P2")
	assert.Equal(t, "P", childCtx.GetString("project"))
}

func TestNoInheritanceWhenDisabled(t *testing.T) {
	m, _ := newTestManager()

	root, err := m.CreateSession(CreateOptions{Name: "root", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)
	rootCtx, err := m.GetSessionContext(root)
	require.NoError(t, err)
	rootCtx.Set("project", "P")

	child, err := m.CreateSession(CreateOptions{Name: "child", ParentID: root, Config: Config{MaxDepth: 3}})
	require.NoError(t, err)
	childCtx, err := m.GetSessionContext(child)
	require.NoError(t, err)
	_, ok := childCtx.Get("project")
	assert.False(t, ok)
}

func TestBackToParentRestoresPriorActive(t *testing.T) {
	m, rec := newTestManager()
	cfg := Config{MaxDepth: 3, AutoSwitch: true}

	root, err := m.CreateSession(CreateOptions{Name: "root", Config: cfg})
	require.NoError(t, err)
	child, err := m.CreateSession(CreateOptions{Name: "child", ParentID: root, Config: cfg})
	require.NoError(t, err)
	require.Equal(t, child, m.GetActiveSessionID())

	rec.events = nil
	active := m.BackToParent()
	assert.Equal(t, root, active)
	require.Equal(t, []events.Type{events.SessionSwitched}, rec.types())
	switched := rec.events[0].Payload.(events.SessionSwitchedPayload)
	assert.Equal(t, child, switched.From)
	assert.Equal(t, root, switched.To)
}

func TestBackToParentEmptyStack(t *testing.T) {
	m, rec := newTestManager()
	assert.Equal(t, "", m.BackToParent())
	assert.Empty(t, rec.events)
}

func TestPauseResumeRoundTrip(t *testing.T) {
	m, rec := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)
	rec.events = nil

	require.NoError(t, m.Pause(id))
	require.NoError(t, m.Resume(id))

	assert.Equal(t, []events.Type{events.SessionPaused, events.SessionResumed}, rec.types())
	node, err := m.GetSessionNode(id)
	require.NoError(t, err)
	assert.Equal(t, StatusActive, node.Status)
}

func TestPauseInvalidStates(t *testing.T) {
	m, _ := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)

	require.NoError(t, m.Pause(id))
	err = m.Pause(id)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidState, sessionCode(t, err))

	require.NoError(t, m.Resume(id))
	err = m.Resume(id)
	require.Error(t, err)
	assert.Equal(t, CodeInvalidState, sessionCode(t, err))
}

func TestTerminalStatesAreFinal(t *testing.T) {
	m, _ := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)

	require.NoError(t, m.Complete(id, "done", ""))
	node, err := m.GetSessionNode(id)
	require.NoError(t, err)
	assert.Equal(t, StatusCompleted, node.Status)

	for _, attempt := range []error{
		m.Pause(id),
		m.Resume(id),
		m.Abort(id, "late"),
		m.Complete(id, "", ""),
	} {
		require.Error(t, attempt)
		assert.Equal(t, CodeInvalidState, sessionCode(t, attempt))
	}
}

func TestCompletePopsActiveAndSwitches(t *testing.T) {
	m, rec := newTestManager()
	cfg := Config{MaxDepth: 3, AutoSwitch: true}

	root, err := m.CreateSession(CreateOptions{Name: "root", Config: cfg})
	require.NoError(t, err)
	child, err := m.CreateSession(CreateOptions{Name: "child", ParentID: root, Config: cfg})
	require.NoError(t, err)
	rec.events = nil

	require.NoError(t, m.Complete(child, "ok", "finished"))

	require.Equal(t, []events.Type{events.SessionCompleted, events.SessionSwitched}, rec.types())
	completed := rec.events[0].Payload.(events.SessionCompletedPayload)
	assert.Equal(t, "ok", completed.Result)
	switched := rec.events[1].Payload.(events.SessionSwitchedPayload)
	assert.Equal(t, root, switched.To)
	assert.Equal(t, root, m.GetActiveSessionID())
}

func TestAbortNonActiveLeavesStackAlone(t *testing.T) {
	m, rec := newTestManager()
	cfg := Config{MaxDepth: 3, AutoSwitch: true}

	root, err := m.CreateSession(CreateOptions{Name: "root", Config: cfg})
	require.NoError(t, err)
	child, err := m.CreateSession(CreateOptions{Name: "child", ParentID: root, Config: cfg})
	require.NoError(t, err)
	rec.events = nil

	require.NoError(t, m.Abort(root, "operator stop"))
	assert.Equal(t, []events.Type{events.SessionAborted}, rec.types())
	assert.Equal(t, child, m.GetActiveSessionID())
}

type fakeScope struct {
	messages  []string
	cancelled int
	fail      error
}

func (f *fakeScope) EnqueueUserMessage(text string) error {
	if f.fail != nil {
		return f.fail
	}
	f.messages = append(f.messages, text)
	return nil
}

func (f *fakeScope) CancelCurrentMessage() { f.cancelled++ }

func TestSendUserMessageWithScope(t *testing.T) {
	m, rec := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)

	scope := &fakeScope{}
	require.NoError(t, m.BindScope(id, scope))
	rec.events = nil

	require.NoError(t, m.SendUserMessage(id, "hello"))
	assert.Equal(t, []string{"hello"}, scope.messages)
	// The bound scope owns USER_MESSAGE_TO_SESSION emission.
	assert.Empty(t, rec.types())
}

func TestSendUserMessageWithoutScopeEmitsOnly(t *testing.T) {
	m, rec := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)
	rec.events = nil

	require.NoError(t, m.SendUserMessage(id, "hello"))
	require.Equal(t, []events.Type{events.UserMessageToSession}, rec.types())
	payload := rec.events[0].Payload.(events.UserMessagePayload)
	assert.Equal(t, "hello", payload.Text)
}

func TestSendUserMessageScopeFailureStillEmits(t *testing.T) {
	m, rec := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)

	require.NoError(t, m.BindScope(id, &fakeScope{fail: errors.New("queue closed")}))
	rec.events = nil

	require.NoError(t, m.SendUserMessage(id, "hello"))
	assert.Equal(t, []events.Type{events.UserMessageToSession}, rec.types())
}

func TestSendUserMessageUnknownSession(t *testing.T) {
	m, _ := newTestManager()
	err := m.SendUserMessage("ghost", "hello")
	require.Error(t, err)
	assert.Equal(t, CodeSessionNotFound, sessionCode(t, err))
}

func TestCancelCurrentMessage(t *testing.T) {
	m, _ := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", Config: Config{MaxDepth: 3, AutoSwitch: true}})
	require.NoError(t, err)

	// No scope bound: logged no-op.
	m.CancelCurrentMessage()

	scope := &fakeScope{}
	require.NoError(t, m.BindScope(id, scope))
	m.CancelCurrentMessage()
	assert.Equal(t, 1, scope.cancelled)
}

func TestBindScopeReplacesPrevious(t *testing.T) {
	m, _ := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", Config: Config{MaxDepth: 3}})
	require.NoError(t, err)

	first := &fakeScope{}
	second := &fakeScope{}
	require.NoError(t, m.BindScope(id, first))
	require.NoError(t, m.BindScope(id, second))

	require.NoError(t, m.SendUserMessage(id, "routed"))
	assert.Empty(t, first.messages)
	assert.Equal(t, []string{"routed"}, second.messages)
}

func TestListenerReentrancy(t *testing.T) {
	bus := events.NewBus()
	m := NewManager(bus)

	// A listener calling back into the manager must not deadlock.
	var activeSeen string
	bus.Subscribe(func(ev events.Event) {
		if ev.Type == events.SessionStarted {
			activeSeen = m.GetActiveSessionID()
		}
	})

	id, err := m.CreateSession(CreateOptions{Name: "root", Config: Config{MaxDepth: 3, AutoSwitch: true}})
	require.NoError(t, err)
	require.NotEmpty(t, id)
	// SESSION_STARTED fires after the push when auto-switching.
	assert.Equal(t, id, activeSeen)
}

func TestSessionAccessors(t *testing.T) {
	m, _ := newTestManager()
	id, err := m.CreateSession(CreateOptions{Name: "s", SubagentName: "coder", Config: Config{MaxDepth: 3, AutoSwitch: true}})
	require.NoError(t, err)

	assert.True(t, m.HasSession(id))
	assert.Equal(t, 1, m.GetSessionCount())
	assert.Equal(t, 1, m.GetStackDepth())

	node, err := m.GetSessionNode(id)
	require.NoError(t, err)
	assert.Equal(t, "coder", node.SubagentName)

	tree := m.GetTree()
	assert.Contains(t, tree, id)

	_, err = m.GetSessionContext("ghost")
	require.Error(t, err)
	assert.Equal(t, CodeContextNotFound, sessionCode(t, err))
}
