// Copyright 2026 Tapestry Labs
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.

package llm

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSanitizeToolName(t *testing.T) {
	assert.Equal(t, "fs_read_file", SanitizeToolName("fs:read_file"))
	assert.Equal(t, "plain", SanitizeToolName("plain"))
	assert.Equal(t, "a_b_c", SanitizeToolName("a:b:c"))
}

func TestToolNameRoundTrip(t *testing.T) {
	m := BuildToolNameMap([]string{"fs:read_file", "plain"})
	assert.Equal(t, "fs:read_file", ReverseToolName(m, "fs_read_file"))
	assert.Equal(t, "plain", ReverseToolName(m, "plain"))
	assert.Equal(t, "unknown", ReverseToolName(m, "unknown"))
}
