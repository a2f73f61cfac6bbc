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
	"fmt"

	"github.com/tapestry-labs/tapestry/pkg/session"
	"github.com/tapestry-labs/tapestry/pkg/shuttle"
)

// DelegationToolName is the tool a subagent calls to hand a task to a
// nested subagent. Scopes whose config disallows nested tasks filter it out
// of their tool list.
const DelegationToolName = "spawn_subagent"

// ChildRunner drives a freshly created child session to completion and
// returns its result text. When nil, the delegation tool only creates the
// session and reports its id; the host drives it.
type ChildRunner func(ctx context.Context, def *Definition, childID, taskPrompt string) (string, error)

// DelegationTool spawns a nested subagent session under a fixed parent.
type DelegationTool struct {
	manager  *session.Manager
	library  *Library
	parentID string
	runner   ChildRunner
}

// NewDelegationTool creates the delegation tool for one parent session.
func NewDelegationTool(manager *session.Manager, library *Library, parentID string, runner ChildRunner) *DelegationTool {
	return &DelegationTool{
		manager:  manager,
		library:  library,
		parentID: parentID,
		runner:   runner,
	}
}

// Name implements shuttle.Tool.
func (d *DelegationTool) Name() string {
	return DelegationToolName
}

// Description implements shuttle.Tool.
func (d *DelegationTool) Description() string {
	return "Delegate a task to a nested subagent. The subagent runs in its own session and reports back when done."
}

// InputSchema implements shuttle.Tool.
func (d *DelegationTool) InputSchema() *shuttle.JSONSchema {
	return shuttle.NewObjectSchema("delegation request", map[string]*shuttle.JSONSchema{
		"subagent":    shuttle.NewStringSchema("name of the subagent definition to spawn"),
		"task_prompt": shuttle.NewStringSchema("the task for the subagent to perform"),
	}, []string{"subagent", "task_prompt"})
}

// Execute creates the child session (and runs it when a runner is wired).
func (d *DelegationTool) Execute(ctx context.Context, params map[string]interface{}) (*shuttle.Result, error) {
	name, _ := params["subagent"].(string)
	taskPrompt, _ := params["task_prompt"].(string)

	def, ok := d.library.Get(name)
	if !ok {
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:       "SUBAGENT_NOT_FOUND",
				Message:    fmt.Sprintf("no subagent definition named %s", name),
				Suggestion: fmt.Sprintf("known subagents: %v", d.library.Names()),
			},
		}, nil
	}

	cfg := session.DefaultConfig()
	if def.MaxDepth > 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	childID, err := d.manager.CreateSession(session.CreateOptions{
		Name:         def.Name,
		SubagentName: def.Name,
		ParentID:     d.parentID,
		Config:       cfg,
		TaskPrompt:   taskPrompt,
	})
	if err != nil {
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:    "SPAWN_FAILED",
				Message: err.Error(),
			},
		}, nil
	}

	if d.runner == nil {
		return &shuttle.Result{
			Success: true,
			Data:    fmt.Sprintf("spawned subagent session %s", childID),
			Metadata: map[string]interface{}{
				"session_id": childID,
			},
		}, nil
	}

	result, err := d.runner(ctx, def, childID, taskPrompt)
	if err != nil {
		_ = d.manager.Abort(childID, err.Error())
		return &shuttle.Result{
			Success: false,
			Error: &shuttle.Error{
				Code:      "SUBAGENT_FAILED",
				Message:   err.Error(),
				Retryable: true,
			},
			Metadata: map[string]interface{}{
				"session_id": childID,
			},
		}, nil
	}

	_ = d.manager.Complete(childID, result, "delegated task finished")
	return &shuttle.Result{
		Success: true,
		Data:    result,
		Metadata: map[string]interface{}{
			"session_id": childID,
		},
	}, nil
}

var _ shuttle.Tool = (*DelegationTool)(nil)
