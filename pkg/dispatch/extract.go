/*
Copyright 2025 Jordi Gil.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package dispatch

import (
	"encoding/json"
	"fmt"

	"github.com/itchyny/gojq"
)

// identityQuery is compiled once: it is used only to round-trip a raw-output
// candidate through gojq's evaluator, which is how this package confirms a
// substring is not just syntactically valid JSON but a value gojq itself can
// operate on (a later phase runner may attach a real filter here).
var identityQuery = mustParseQuery(".")

func mustParseQuery(src string) *gojq.Query {
	q, err := gojq.Parse(src)
	if err != nil {
		panic(fmt.Sprintf("dispatch: invalid built-in gojq query %q: %v", src, err))
	}
	return q
}

// extractJSON returns the structured payload found in raw. It first tries a
// strict decode of the whole string; agents routinely wrap their JSON in
// prose or a fenced code block, so on failure it scans raw for the first
// balanced `{...}` span, decodes each candidate, and confirms it with a
// gojq evaluation before accepting it.
func extractJSON(raw string) (map[string]any, error) {
	var strict map[string]any
	if err := json.Unmarshal([]byte(raw), &strict); err == nil {
		return strict, nil
	}

	for _, candidate := range balancedObjectSpans(raw) {
		var decoded any
		if err := json.Unmarshal([]byte(candidate), &decoded); err != nil {
			continue
		}
		confirmed, ok := runIdentity(decoded)
		if !ok {
			continue
		}
		if m, ok := confirmed.(map[string]any); ok {
			return m, nil
		}
	}

	return nil, fmt.Errorf("dispatch: no well-formed JSON object found in agent output")
}

// runIdentity evaluates identityQuery against v and returns its first
// result, or false if gojq rejects the value or produces nothing.
func runIdentity(v any) (any, bool) {
	iter := identityQuery.Run(v)
	out, ok := iter.Next()
	if !ok {
		return nil, false
	}
	if err, ok := out.(error); ok {
		_ = err
		return nil, false
	}
	return out, true
}

// balancedObjectSpans returns every top-level `{...}` substring of s with
// balanced braces, outermost-first, ignoring braces inside string literals.
func balancedObjectSpans(s string) []string {
	var spans []string
	depth := 0
	start := -1
	inString := false
	escaped := false

	for i, r := range s {
		if inString {
			switch {
			case escaped:
				escaped = false
			case r == '\\':
				escaped = true
			case r == '"':
				inString = false
			}
			continue
		}

		switch r {
		case '"':
			inString = true
		case '{':
			if depth == 0 {
				start = i
			}
			depth++
		case '}':
			if depth > 0 {
				depth--
				if depth == 0 && start >= 0 {
					spans = append(spans, s[start:i+1])
					start = -1
				}
			}
		}
	}
	return spans
}
