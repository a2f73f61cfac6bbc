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

// Package session holds the in-memory session tree, per-session keyed
// contexts, and the manager façade that coordinates them with the event bus
// and any bound interactive scopes.
package session

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Status is a session lifecycle state.
type Status string

const (
	StatusActive    Status = "active"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusAborted   Status = "aborted"
)

// Terminal reports whether the status admits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusAborted
}

// Config is a session's immutable configuration, fixed at creation.
type Config struct {
	Interactive          bool
	MaxDepth             int
	AutoSwitch           bool
	InheritContext       bool
	AllowUserInteraction bool
}

// DefaultConfig returns the standard session configuration.
func DefaultConfig() Config {
	return Config{
		Interactive:          true,
		MaxDepth:             5,
		AutoSwitch:           true,
		InheritContext:       true,
		AllowUserInteraction: true,
	}
}

// Node is one session in the tree. Nodes are owned by the store; callers
// receive copies.
type Node struct {
	ID           string
	Name         string
	SubagentName string
	Depth        int
	Status       Status
	ParentID     string
	Children     []string
	CreatedAt    time.Time
	UpdatedAt    time.Time
	Config       Config
}

// newID builds a debuggable session id from the session name plus a short
// random suffix. Callers must treat ids as opaque.
func newID(name string) string {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	if name == "" {
		name = "session"
	}
	return name + "-" + suffix
}
