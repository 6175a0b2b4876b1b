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

package implorchestrator

import (
	"fmt"
	"strings"

	"github.com/johnplanow/substrate/pkg/dispatch"
	"github.com/johnplanow/substrate/pkg/prompt"
)

const (
	createStoryTemplate = "You are creating an implementation story file.\n\n" +
		"Story key: {{storyKey}}\nEpic: {{epicId}}\n\n" +
		"Story description:\n{{description}}\n\n" +
		"Produce JSON with fields: result, story_file, story_key, story_title."

	devStoryTemplate = "You are implementing story {{storyKey}}.\n\n" +
		"Story file: {{storyFilePath}}\n\n" +
		"Produce JSON with fields: result, ac_met, ac_failures, files_modified, tests."

	codeReviewTemplate = "You are reviewing the implementation of story {{storyKey}}.\n\n" +
		"Story file: {{storyFilePath}}\n\n" +
		"Diff:\n{{diff}}\n\n" +
		"Produce JSON with fields: verdict, issues, issue_list."

	fixTemplate = "Address the following code review issues for story {{storyKey}}.\n\n" +
		"Story file: {{storyFilePath}}\n\n" +
		"Issues:\n{{issues}}\n\n" +
		"Produce JSON with field: result."
)

func createStoryPrompt(story *Story, description string) string {
	sections := []prompt.Section{
		{Name: "storyKey", Content: story.Key, Priority: prompt.PriorityRequired},
		{Name: "epicId", Content: story.EpicID, Priority: prompt.PriorityRequired},
		{Name: "description", Content: description, Priority: prompt.PriorityImportant},
	}
	return prompt.Assemble(createStoryTemplate, sections, 0).Prompt
}

func devStoryPrompt(story *Story) string {
	sections := []prompt.Section{
		{Name: "storyKey", Content: story.Key, Priority: prompt.PriorityRequired},
		{Name: "storyFilePath", Content: story.StoryFilePath, Priority: prompt.PriorityRequired},
	}
	return prompt.Assemble(devStoryTemplate, sections, 0).Prompt
}

// codeReviewPrompt renders the review prompt, substituting a diff-stat +
// file-list summary for the full diff when it exceeds diffSizeCeiling bytes
// (spec §4.6's review input sizing rule).
func codeReviewPrompt(story *Story, d Diff, diffSizeCeiling int) string {
	content := d.Full
	if diffSizeCeiling > 0 && len(d.Full) > diffSizeCeiling {
		content = formatDiffFallback(d)
	}
	if content == "" {
		content = "no diff available"
	}
	sections := []prompt.Section{
		{Name: "storyKey", Content: story.Key, Priority: prompt.PriorityRequired},
		{Name: "storyFilePath", Content: story.StoryFilePath, Priority: prompt.PriorityRequired},
		{Name: "diff", Content: content, Priority: prompt.PriorityImportant},
	}
	return prompt.Assemble(codeReviewTemplate, sections, 0).Prompt
}

func formatDiffFallback(d Diff) string {
	var b strings.Builder
	b.WriteString(d.Stat)
	if len(d.Files) > 0 {
		b.WriteString("\nfiles:\n")
		for _, f := range d.Files {
			fmt.Fprintf(&b, "- %s\n", f)
		}
	}
	return b.String()
}

func fixPrompt(story *Story, issues []dispatch.Issue) string {
	var b strings.Builder
	for _, iss := range issues {
		fmt.Fprintf(&b, "- [%s] %s: %s\n", iss.Severity, iss.File, iss.Desc)
	}
	sections := []prompt.Section{
		{Name: "storyKey", Content: story.Key, Priority: prompt.PriorityRequired},
		{Name: "storyFilePath", Content: story.StoryFilePath, Priority: prompt.PriorityRequired},
		{Name: "issues", Content: b.String(), Priority: prompt.PriorityImportant},
	}
	return prompt.Assemble(fixTemplate, sections, 0).Prompt
}
