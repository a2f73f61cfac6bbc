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

import "sync"

// KeyTaskPrompt is the context key holding a session's initial task prompt.
const KeyTaskPrompt = "task_prompt"

// Context is per-session keyed state. Values are opaque to the core.
// Inheritance is a one-shot shallow copy at construction; parent and child
// are fully independent afterwards.
type Context struct {
	mu     sync.RWMutex
	values map[string]any
}

// NewContext creates an empty context. When parent is non-nil, every key the
// parent currently holds is copied in.
func NewContext(parent *Context) *Context {
	c := &Context{values: make(map[string]any)}
	if parent != nil {
		parent.mu.RLock()
		for k, v := range parent.values {
			c.values[k] = v
		}
		parent.mu.RUnlock()
	}
	return c
}

// Get returns the value for key and whether it exists.
func (c *Context) Get(key string) (any, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.values[key]
	return v, ok
}

// GetString returns the value for key as a string, or "" when absent or not
// a string.
func (c *Context) GetString(key string) string {
	v, ok := c.Get(key)
	if !ok {
		return ""
	}
	s, _ := v.(string)
	return s
}

// Set stores a value under key, replacing any previous value.
func (c *Context) Set(key string, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.values[key] = value
}

// Keys returns the stored keys in unspecified order.
func (c *Context) Keys() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	keys := make([]string, 0, len(c.values))
	for k := range c.values {
		keys = append(keys, k)
	}
	return keys
}

// Len returns the number of stored keys.
func (c *Context) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.values)
}
