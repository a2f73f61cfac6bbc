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
)

// Store is the authoritative in-memory registry of session nodes plus the
// active-path stack. The store exclusively owns node objects; accessors
// return copies.
type Store struct {
	mu    sync.RWMutex
	nodes map[string]*Node
	stack []string
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{nodes: make(map[string]*Node)}
}

// AddNode registers a node. Duplicate ids are rejected.
func (s *Store) AddNode(node Node) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.nodes[node.ID]; exists {
		return newError(CodeDuplicateSession, node.ID, "session already exists")
	}
	n := node
	s.nodes[n.ID] = &n
	return nil
}

// GetNode returns a copy of the node.
func (s *Store) GetNode(id string) (Node, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return Node{}, newError(CodeSessionNotFound, id, "session not found")
	}
	return snapshot(n), nil
}

// LinkChild appends childID to the parent's children list. An empty parentID
// means the child is a root and linking is a no-op. Linking the same pair
// twice is idempotent.
func (s *Store) LinkChild(parentID, childID string) error {
	if parentID == "" {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	parent, ok := s.nodes[parentID]
	if !ok {
		return newError(CodeParentNotFound, parentID, "parent session not found")
	}
	child, ok := s.nodes[childID]
	if !ok {
		return newError(CodeSessionNotFound, childID, "session not found")
	}
	for _, existing := range parent.Children {
		if existing == childID {
			return nil
		}
	}
	parent.Children = append(parent.Children, childID)
	child.ParentID = parentID
	return nil
}

// SetStatus updates a node's status and stamps UpdatedAt.
func (s *Store) SetStatus(id string, status Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return newError(CodeSessionNotFound, id, "session not found")
	}
	n.Status = status
	n.UpdatedAt = time.Now()
	return nil
}

// Push makes id the active session. Unknown ids are rejected.
func (s *Store) Push(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.nodes[id]; !ok {
		return newError(CodeSessionNotFound, id, "session not found")
	}
	s.stack = append(s.stack, id)
	return nil
}

// Pop removes the active session from the stack. Popping an empty stack is a
// no-op returning "".
func (s *Store) Pop() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.stack) == 0 {
		return ""
	}
	id := s.stack[len(s.stack)-1]
	s.stack = s.stack[:len(s.stack)-1]
	return id
}

// GetActive returns the id on top of the stack, or "".
func (s *Store) GetActive() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.stack) == 0 {
		return ""
	}
	return s.stack[len(s.stack)-1]
}

// List returns a copy of the active-path stack, bottom first.
func (s *Store) List() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, len(s.stack))
	copy(out, s.stack)
	return out
}

// GetTree returns copies of every node keyed by id.
func (s *Store) GetTree() map[string]Node {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make(map[string]Node, len(s.nodes))
	for id, n := range s.nodes {
		out[id] = snapshot(n)
	}
	return out
}

// GetBreadcrumb returns session names from the root down to id. For a
// detached node only the names discoverable by walking parents are returned.
func (s *Store) GetBreadcrumb(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var names []string
	for cur := id; cur != ""; {
		n, ok := s.nodes[cur]
		if !ok {
			break
		}
		names = append([]string{n.Name}, names...)
		cur = n.ParentID
	}
	return names
}

// GetChildren returns a copy of the node's child id list.
func (s *Store) GetChildren(id string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return nil, newError(CodeSessionNotFound, id, "session not found")
	}
	out := make([]string, len(n.Children))
	copy(out, n.Children)
	return out, nil
}

// GetParent returns the node's parent id, or "" for a root.
func (s *Store) GetParent(id string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return "", newError(CodeSessionNotFound, id, "session not found")
	}
	return n.ParentID, nil
}

// GetDepth returns the node's depth (0 for a root).
func (s *Store) GetDepth(id string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n, ok := s.nodes[id]
	if !ok {
		return 0, newError(CodeSessionNotFound, id, "session not found")
	}
	return n.Depth, nil
}

// Has reports whether the id is known.
func (s *Store) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.nodes[id]
	return ok
}

// Size returns the number of stored nodes.
func (s *Store) Size() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

// StackDepth returns the number of sessions on the active-path stack.
func (s *Store) StackDepth() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.stack)
}

// Clear wipes all nodes and the stack. Test hook.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nodes = make(map[string]*Node)
	s.stack = nil
}

func snapshot(n *Node) Node {
	out := *n
	out.Children = make([]string, len(n.Children))
	copy(out.Children, n.Children)
	return out
}
