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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tapestry-labs/tapestry/pkg/events"
	"github.com/tapestry-labs/tapestry/pkg/session"
)

func delegationFixture(t *testing.T) (*session.Manager, *Library, string) {
	t.Helper()
	manager := session.NewManager(events.NewBus())
	parentID, err := manager.CreateSession(session.CreateOptions{
		Name:   "root",
		Config: session.Config{Interactive: true, MaxDepth: 3, AutoSwitch: true},
	})
	require.NoError(t, err)

	lib := &Library{defs: map[string]*Definition{}}
	lib.Put(&Definition{Name: "researcher", SystemPrompt: "research things", MaxDepth: 3})
	return manager, lib, parentID
}

func TestDelegationSpawnsChildSession(t *testing.T) {
	manager, lib, parentID := delegationFixture(t)
	tool := NewDelegationTool(manager, lib, parentID, nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"subagent":    "researcher",
		"task_prompt": "find the docs",
	})
	require.NoError(t, err)
	require.True(t, result.Success)

	childID := result.Metadata["session_id"].(string)
	node, err := manager.GetSessionNode(childID)
	require.NoError(t, err)
	assert.Equal(t, parentID, node.ParentID)
	assert.Equal(t, 1, node.Depth)
	assert.Equal(t, "researcher", node.SubagentName)

	// The task prompt lands in the child's context.
	childCtx, err := manager.GetSessionContext(childID)
	require.NoError(t, err)
	assert.Equal(t, "find the docs", childCtx.GetString(session.KeyTaskPrompt))
}

func TestDelegationUnknownSubagent(t *testing.T) {
	manager, lib, parentID := delegationFixture(t)
	tool := NewDelegationTool(manager, lib, parentID, nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"subagent":    "ghost",
		"task_prompt": "anything",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, "SUBAGENT_NOT_FOUND", result.Error.Code)
	assert.Contains(t, result.Error.Suggestion, "researcher")
}

func TestDelegationRunnerSuccessCompletesChild(t *testing.T) {
	manager, lib, parentID := delegationFixture(t)
	runner := func(ctx context.Context, def *Definition, childID, taskPrompt string) (string, error) {
		return "all done", nil
	}
	tool := NewDelegationTool(manager, lib, parentID, runner)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"subagent":    "researcher",
		"task_prompt": "go",
	})
	require.NoError(t, err)
	require.True(t, result.Success)
	assert.Equal(t, "all done", result.Data)

	childID := result.Metadata["session_id"].(string)
	node, err := manager.GetSessionNode(childID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusCompleted, node.Status)
}

func TestDelegationRunnerFailureAbortsChild(t *testing.T) {
	manager, lib, parentID := delegationFixture(t)
	runner := func(ctx context.Context, def *Definition, childID, taskPrompt string) (string, error) {
		return "", errors.New("child exploded")
	}
	tool := NewDelegationTool(manager, lib, parentID, runner)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"subagent":    "researcher",
		"task_prompt": "go",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, "SUBAGENT_FAILED", result.Error.Code)
	assert.True(t, result.Error.Retryable)

	childID := result.Metadata["session_id"].(string)
	node, err := manager.GetSessionNode(childID)
	require.NoError(t, err)
	assert.Equal(t, session.StatusAborted, node.Status)
}

func TestDelegationDepthLimit(t *testing.T) {
	manager, lib, parentID := delegationFixture(t)
	lib.Put(&Definition{Name: "shallow", SystemPrompt: "x", MaxDepth: 1})
	tool := NewDelegationTool(manager, lib, parentID, nil)

	result, err := tool.Execute(context.Background(), map[string]interface{}{
		"subagent":    "shallow",
		"task_prompt": "too deep",
	})
	require.NoError(t, err)
	require.False(t, result.Success)
	assert.Equal(t, "SPAWN_FAILED", result.Error.Code)
}
