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

// Package prompt is the Dispatcher's prompt assembler: a pure function that
// renders a template against named sections under a token budget (spec
// §6.2). It owns no state and talks to nothing external — the Dispatcher's
// callers (phase runners, the Implementation Orchestrator, the Amendment
// Engine's impact analysis) call it once per dispatch.
package prompt

import (
	"fmt"
	"strings"
)

// Priority controls drop order under token-ceiling pressure: optional
// sections are dropped first, then important sections are truncated, and
// required sections are always kept intact (spec §6.2).
type Priority int

const (
	PriorityRequired Priority = iota
	PriorityImportant
	PriorityOptional
)

// Section is one named block of prompt content, substituted into the
// template wherever "{{name}}" appears.
type Section struct {
	Name     string
	Content  string
	Priority Priority
}

// Result is assemblePrompt's return value.
type Result struct {
	Prompt     string
	TokenCount int
	Sections   []string // names of sections present in the final output, in template order
	Truncated  bool
}

// estimateTokens mirrors spec §6.2's estimator exactly: ceil(byteLength/4).
func estimateTokens(s string) int {
	if len(s) == 0 {
		return 0
	}
	return (len(s) + 3) / 4
}

const truncationMarker = "\n\n[... truncated ...]\n\n"

// Assemble renders template, substituting each section's content for its
// "{{name}}" placeholder, then sheds content under tokenCeiling pressure in
// the order optional → important (truncated) → required (never dropped or
// truncated).
func Assemble(template string, sections []Section, tokenCeiling int) Result {
	byName := make(map[string]*Section, len(sections))
	order := make([]string, 0, len(sections))
	for i := range sections {
		sec := &sections[i]
		byName[sec.Name] = sec
		order = append(order, sec.Name)
	}

	// active holds the content currently substituted for each section; nil
	// means "dropped" (placeholder resolves to empty string).
	active := make(map[string]*string, len(sections))
	for _, name := range order {
		content := byName[name].Content
		active[name] = &content
	}

	render := func() string {
		out := template
		for _, name := range order {
			placeholder := "{{" + name + "}}"
			val := ""
			if c := active[name]; c != nil {
				val = *c
			}
			out = strings.ReplaceAll(out, placeholder, val)
		}
		return out
	}

	truncated := false

	withinCeiling := func() bool {
		return tokenCeiling <= 0 || estimateTokens(render()) <= tokenCeiling
	}

	// Drop optional sections entirely, in reverse declaration order (last
	// declared is least important to keep — a reasonable, deterministic
	// tie-break absent an explicit per-section rank).
	for i := len(order) - 1; i >= 0 && !withinCeiling(); i-- {
		name := order[i]
		if byName[name].Priority == PriorityOptional && active[name] != nil {
			active[name] = nil
			truncated = true
		}
	}

	// Truncate important sections, preserving a marker, until within
	// ceiling or nothing left to truncate.
	for !withinCeiling() {
		progressed := false
		for i := len(order) - 1; i >= 0; i-- {
			name := order[i]
			if byName[name].Priority != PriorityImportant {
				continue
			}
			c := active[name]
			if c == nil || *c == "" {
				continue
			}
			half := len(*c) / 2
			newVal := (*c)[:half] + truncationMarker
			if half < len(truncationMarker) || len(newVal) >= len(*c) {
				newVal = truncationMarker
			}
			if len(newVal) >= len(*c) {
				// Already as short as the marker allows.
				continue
			}
			active[name] = &newVal
			truncated = true
			progressed = true
			if withinCeiling() {
				break
			}
		}
		if !progressed {
			break
		}
	}

	finalPrompt := render()
	tokenCount := estimateTokens(finalPrompt)

	present := make([]string, 0, len(order))
	for _, name := range order {
		if active[name] != nil {
			present = append(present, name)
		}
	}

	return Result{
		Prompt:     finalPrompt,
		TokenCount: tokenCount,
		Sections:   present,
		Truncated:  truncated,
	}
}

// MustHaveSections validates that template references every section name
// given, returning an error naming the first missing placeholder — used by
// phase runners at startup to catch a typo in a template before it ever
// reaches a dispatch.
func MustHaveSections(template string, names []string) error {
	for _, name := range names {
		if !strings.Contains(template, "{{"+name+"}}") {
			return fmt.Errorf("prompt: template is missing placeholder {{%s}}", name)
		}
	}
	return nil
}
