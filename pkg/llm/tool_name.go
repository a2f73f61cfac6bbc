// Copyright 2026 Tapestry Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import "strings"

// SanitizeToolName converts a tool name to provider-compatible format.
// Providers restrict tool names to patterns like ^[a-zA-Z0-9_-]+$; namespaced
// tool names using colons break these, so colons become underscores.
func SanitizeToolName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, ch := range name {
		if ch == ':' {
			b.WriteRune('_')
		} else {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

// BuildToolNameMap creates a mapping from sanitized → original tool names.
func BuildToolNameMap(names []string) map[string]string {
	m := make(map[string]string, len(names))
	for _, name := range names {
		m[SanitizeToolName(name)] = name
	}
	return m
}

// ReverseToolName maps a sanitized tool name back to its original.
// Returns the sanitized name unchanged when no mapping exists.
func ReverseToolName(nameMap map[string]string, sanitizedName string) string {
	if original, exists := nameMap[sanitizedName]; exists {
		return original
	}
	return sanitizedName
}
