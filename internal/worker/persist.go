package worker

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
	"github.com/fyrsmithlabs/recalld/internal/graph"
	"github.com/fyrsmithlabs/recalld/internal/llm"
)

// SaveAnalysis appends a session summary plus its observations to the
// event log and folds them into the knowledge graph incrementally.
//
// Shared by the worker's queue consumer and the hooks' synchronous
// local-analysis fallback, so both paths persist identical record shapes.
func SaveAnalysis(events *eventlog.Store, g *graph.Store, analysis *llm.SessionAnalysis,
	project, analyzedBy, model string, messageCount int) error {

	if analysis == nil {
		return fmt.Errorf("analysis cannot be nil")
	}

	now := time.Now().UTC()
	summary := &eventlog.SessionSummary{
		Type:         eventlog.KindSessionSummary,
		ID:           uuid.NewString(),
		Project:      project,
		Investigated: analysis.Investigated,
		Learned:      analysis.Learned,
		Completed:    analysis.Completed,
		NextSteps:    analysis.NextSteps,
		MessageCount: messageCount,
		AnalyzedBy:   analyzedBy,
		ModelUsed:    model,
		Timestamp:    now,
	}
	if err := events.Append(summary); err != nil {
		return fmt.Errorf("append summary: %w", err)
	}

	for _, obs := range analysis.Observations {
		rec := &eventlog.Observation{
			Type:      eventlog.KindObservation,
			ID:        uuid.NewString(),
			Project:   project,
			ObsType:   eventlog.ObservationType(obs.Type),
			Title:     obs.Title,
			Insight:   obs.Insight,
			Concepts:  obs.Concepts,
			Files:     obs.Files,
			Timestamp: now,
		}
		if err := events.Append(rec); err != nil {
			return fmt.Errorf("append observation: %w", err)
		}
	}

	if _, _, err := g.IncrementalUpdate(events); err != nil {
		return fmt.Errorf("fold into graph: %w", err)
	}
	return nil
}

// CountMessages counts the conversation messages in a session batch, the
// value recorded as message_count on the summary.
func CountMessages(events []eventlog.Record) int {
	n := 0
	for _, rec := range events {
		switch rec.Kind() {
		case eventlog.KindUserMessage, eventlog.KindAssistantMessage:
			n++
		}
	}
	return n
}

// ProjectOf returns the project tag carried by the batch, taken from the
// first tagged user message.
func ProjectOf(events []eventlog.Record) string {
	for _, rec := range events {
		if m, ok := rec.(*eventlog.UserMessage); ok && m.Project != "" {
			return m.Project
		}
	}
	return ""
}
