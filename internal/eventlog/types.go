// Package eventlog implements the append-only event log, the single
// source of truth for captured conversation events and derived analysis
// records.
package eventlog

import (
	"encoding/json"
	"fmt"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
)

// Kind discriminates record types in the event log.
type Kind string

const (
	KindSessionEvent     Kind = "session_event"
	KindUserMessage      Kind = "user_message"
	KindAssistantMessage Kind = "assistant_message"
	KindToolExecution    Kind = "tool_execution"
	KindSessionSummary   Kind = "session_summary"
	KindObservation      Kind = "observation"

	// KindUnparseable marks lines that failed to decode. It never
	// appears in the file itself, only at the read boundary.
	KindUnparseable Kind = "unparseable"
)

// Session event markers.
const (
	SessionStart = "start"
	SessionEnd   = "end"
)

// maxToolResultLen bounds persisted tool output.
const maxToolResultLen = 500

// ObservationType categorizes an LLM-derived observation.
type ObservationType string

const (
	ObsBugfix    ObservationType = "bugfix"
	ObsFeature   ObservationType = "feature"
	ObsRefactor  ObservationType = "refactor"
	ObsDiscovery ObservationType = "discovery"
	ObsDecision  ObservationType = "decision"
	ObsChange    ObservationType = "change"
)

// ObservationTypes is the fixed obs_type vocabulary, in prompt order.
var ObservationTypes = []ObservationType{
	ObsBugfix, ObsFeature, ObsRefactor, ObsDiscovery, ObsDecision, ObsChange,
}

// Concepts is the fixed concept-tag vocabulary, in prompt order.
//
// The vocabulary constrains the model via the prompt; parsed results are
// not validated against it. Downstream consumers tolerate values outside
// the list.
var Concepts = []string{
	"how-it-works", "why-it-exists", "what-changed",
	"problem-solution", "gotcha", "pattern", "trade-off",
}

// Record is a single event log entry. Implementations are immutable once
// appended.
type Record interface {
	Kind() Kind
}

// SessionEvent marks a session boundary.
type SessionEvent struct {
	Type      Kind      `json:"type"`
	Event     string    `json:"event"`
	Timestamp time.Time `json:"timestamp"`
}

func (SessionEvent) Kind() Kind { return KindSessionEvent }

// UserMessage is a captured user prompt.
type UserMessage struct {
	Type      Kind      `json:"type"`
	ID        string    `json:"id"`
	Project   string    `json:"project,omitempty"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (UserMessage) Kind() Kind { return KindUserMessage }

// AssistantMessage is a captured assistant response.
type AssistantMessage struct {
	Type      Kind      `json:"type"`
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

func (AssistantMessage) Kind() Kind { return KindAssistantMessage }

// ToolExecution records one tool call and a truncated result.
type ToolExecution struct {
	Type      Kind      `json:"type"`
	ID        string    `json:"id"`
	ToolName  string    `json:"tool_name"`
	Result    string    `json:"result"`
	Timestamp time.Time `json:"timestamp"`
}

func (ToolExecution) Kind() Kind { return KindToolExecution }

// SessionSummary is the LLM-derived digest of one session.
type SessionSummary struct {
	Type         Kind      `json:"type"`
	ID           string    `json:"id"`
	Project      string    `json:"project,omitempty"`
	Investigated string    `json:"investigated"`
	Learned      string    `json:"learned"`
	Completed    string    `json:"completed"`
	NextSteps    string    `json:"next_steps"`
	MessageCount int       `json:"message_count"`
	AnalyzedBy   string    `json:"analyzed_by"`
	ModelUsed    string    `json:"model_used"`
	Timestamp    time.Time `json:"timestamp"`
}

func (SessionSummary) Kind() Kind { return KindSessionSummary }

// Observation is an LLM-derived note about a technical event.
type Observation struct {
	Type      Kind            `json:"type"`
	ID        string          `json:"id"`
	Project   string          `json:"project,omitempty"`
	ObsType   ObservationType `json:"obs_type"`
	Title     string          `json:"title"`
	Insight   string          `json:"insight"`
	Concepts  []string        `json:"concepts,omitempty"`
	Files     []string        `json:"files,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
}

func (Observation) Kind() Kind { return KindObservation }

// Unparseable wraps a line that failed to decode or carried an unknown
// type. Kept distinct rather than silently dropped so corruption is
// observable and countable.
type Unparseable struct {
	Line string
	Err  error
}

func (Unparseable) Kind() Kind { return KindUnparseable }

// Constructors stamp IDs and timestamps so callers cannot forget them.

// NewSessionEvent creates a session boundary marker.
func NewSessionEvent(event string) *SessionEvent {
	return &SessionEvent{Type: KindSessionEvent, Event: event, Timestamp: time.Now().UTC()}
}

// NewUserMessage creates a user message record.
func NewUserMessage(project, content string) *UserMessage {
	return &UserMessage{
		Type:      KindUserMessage,
		ID:        uuid.NewString(),
		Project:   project,
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewAssistantMessage creates an assistant message record.
func NewAssistantMessage(content string) *AssistantMessage {
	return &AssistantMessage{
		Type:      KindAssistantMessage,
		ID:        uuid.NewString(),
		Content:   content,
		Timestamp: time.Now().UTC(),
	}
}

// NewToolExecution creates a tool execution record, truncating the result
// to the persisted bound. The cut backs up to a rune boundary so the
// stored string stays valid UTF-8.
func NewToolExecution(toolName, result string) *ToolExecution {
	if len(result) > maxToolResultLen {
		cut := maxToolResultLen
		for cut > 0 && !utf8.RuneStart(result[cut]) {
			cut--
		}
		result = result[:cut]
	}
	return &ToolExecution{
		Type:      KindToolExecution,
		ID:        uuid.NewString(),
		ToolName:  toolName,
		Result:    result,
		Timestamp: time.Now().UTC(),
	}
}

// Decode parses one event log line into its concrete record type.
// Lines that are not valid JSON, lack a type, or carry an unknown type
// decode to *Unparseable.
func Decode(line []byte) Record {
	var envelope struct {
		Type Kind `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return &Unparseable{Line: string(line), Err: err}
	}

	var (
		rec Record
		err error
	)
	switch envelope.Type {
	case KindSessionEvent:
		v := &SessionEvent{}
		err = json.Unmarshal(line, v)
		rec = v
	case KindUserMessage:
		v := &UserMessage{}
		err = json.Unmarshal(line, v)
		rec = v
	case KindAssistantMessage:
		v := &AssistantMessage{}
		err = json.Unmarshal(line, v)
		rec = v
	case KindToolExecution:
		v := &ToolExecution{}
		err = json.Unmarshal(line, v)
		rec = v
	case KindSessionSummary:
		v := &SessionSummary{}
		err = json.Unmarshal(line, v)
		rec = v
	case KindObservation:
		v := &Observation{}
		err = json.Unmarshal(line, v)
		rec = v
	default:
		return &Unparseable{Line: string(line), Err: fmt.Errorf("unknown record type %q", envelope.Type)}
	}
	if err != nil {
		return &Unparseable{Line: string(line), Err: err}
	}
	return rec
}
