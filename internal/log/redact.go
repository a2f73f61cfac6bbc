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

package log

import "regexp"

// Redacted replaces secret-looking values before serialization.
const Redacted = "[REDACTED]"

// secretPattern matches `<key><separator><value>` where the key is one of
// the recognized secret keys and the separator is '=', ':' or whitespace.
// Only the value is replaced, so redaction is idempotent.
var secretPattern = regexp.MustCompile(`(?i)\b(api[_-]?key|token|password|secret)\b(\s*[=:]\s*|\s+)(\S+)`)

// secretKeyPattern matches map keys whose values should be redacted
// wholesale, e.g. {"api_key": "sk-..."}.
var secretKeyPattern = regexp.MustCompile(`(?i)^(api[_-]?key|token|password|secret)$`)

// RedactString rewrites secret values in a free-form string.
func RedactString(s string) string {
	return secretPattern.ReplaceAllString(s, "${1}${2}"+Redacted)
}

// redactEntry rewrites the message and recursively rewrites context and
// metadata values in place.
func redactEntry(entry *Entry) {
	entry.Message = RedactString(entry.Message)
	entry.Context = redactMap(entry.Context)
	entry.Metadata = redactMap(entry.Metadata)
	if entry.Error != nil {
		entry.Error.Message = RedactString(entry.Error.Message)
	}
}

func redactMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		if secretKeyPattern.MatchString(k) {
			out[k] = Redacted
			continue
		}
		out[k] = redactValue(v)
	}
	return out
}

func redactValue(v any) any {
	switch val := v.(type) {
	case string:
		return RedactString(val)
	case map[string]any:
		return redactMap(val)
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = redactValue(item)
		}
		return out
	case []string:
		out := make([]string, len(val))
		for i, item := range val {
			out[i] = RedactString(item)
		}
		return out
	default:
		return v
	}
}
