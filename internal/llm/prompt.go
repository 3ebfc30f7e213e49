package llm

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
)

// maxTranscriptEventLen bounds each transcript line so one pathological
// tool result cannot eat the whole token budget.
const maxTranscriptEventLen = 2000

// buildAnalysisPrompt renders the session transcript and asks for the
// summary object. The fixed obs_type and concept vocabularies are
// enumerated so the model stays inside them; the parsed result is not
// re-validated against the lists.
func buildAnalysisPrompt(events []eventlog.Record) string {
	var b strings.Builder

	b.WriteString("You are analyzing a coding-assistant session to build long-term memory.\n")
	b.WriteString("Here is the session transcript:\n\n")

	for _, rec := range events {
		line := transcriptLine(rec)
		if line == "" {
			continue
		}
		if len(line) > maxTranscriptEventLen {
			line = line[:maxTranscriptEventLen] + "..."
		}
		b.WriteString(line)
		b.WriteByte('\n')
	}

	b.WriteString("\nRespond with ONLY a JSON object of this exact shape:\n")
	b.WriteString(`{"investigated": "...", "learned": "...", "completed": "...", "next_steps": "...", "observations": [{"type": "...", "title": "...", "insight": "...", "concepts": ["..."], "files": ["..."]}]}`)
	b.WriteString("\n\n")

	types := make([]string, len(eventlog.ObservationTypes))
	for i, t := range eventlog.ObservationTypes {
		types[i] = string(t)
	}
	fmt.Fprintf(&b, "Each observation's \"type\" must be one of: %s.\n", strings.Join(types, ", "))
	fmt.Fprintf(&b, "Each concept tag must be one of: %s.\n", strings.Join(eventlog.Concepts, ", "))
	b.WriteString("List touched file paths in \"files\". Keep every field concise and factual.\n")

	return b.String()
}

// transcriptLine renders one captured event for the prompt. Derived
// records and session markers are skipped.
func transcriptLine(rec eventlog.Record) string {
	switch r := rec.(type) {
	case *eventlog.UserMessage:
		return "USER: " + r.Content
	case *eventlog.AssistantMessage:
		return "ASSISTANT: " + r.Content
	case *eventlog.ToolExecution:
		return fmt.Sprintf("TOOL %s: %s", r.ToolName, r.Result)
	default:
		return ""
	}
}

// buildKeywordPrompt asks for up to maxKeywords ranked search keywords.
func buildKeywordPrompt(text string, maxKeywords int) string {
	return fmt.Sprintf(
		"Extract up to %d search keywords from the following text, ordered by relevance. "+
			"Respond with ONLY a JSON array of lowercase strings.\n\nText: %s",
		maxKeywords, text)
}
