package graph

import (
	"fmt"
	"strings"

	"github.com/fyrsmithlabs/recalld/internal/eventlog"
)

// Relation types produced by extraction.
const (
	RelationProduced = "produced" // session -> observation
	RelationTouches  = "touches"  // observation -> file
)

// Entity types produced by extraction.
const (
	EntitySession = "session"
	EntityFile    = "file"
)

// fold accumulates entities and relations extracted from event log
// records. Entities merge by name (observations appended, never deduped);
// relations dedup by (from, relationType, to).
//
// Merge order of observations for a given name follows replay order, which
// is stable for a full rebuild but is not a guaranteed property of the
// final file: consumers must treat merged observation lists as sets.
type fold struct {
	order     []string
	entities  map[string]*Entity
	relOrder  []string
	relations map[string]*Relation

	// lastSession links observations to the summary that produced them.
	// Replay order is the only association available: the worker appends
	// a summary first, then its observations.
	lastSession string
}

func newFold() *fold {
	return &fold{
		entities:  make(map[string]*Entity),
		relations: make(map[string]*Relation),
	}
}

// addEntity merges an entity into the fold by name.
func (f *fold) addEntity(e *Entity) {
	existing, ok := f.entities[e.Name]
	if !ok {
		f.entities[e.Name] = e
		f.order = append(f.order, e.Name)
		return
	}
	existing.Observations = append(existing.Observations, e.Observations...)
	if e.Timestamp.After(existing.Timestamp) {
		existing.Timestamp = e.Timestamp
	}
}

// addRelation dedups a relation into the fold by triple.
func (f *fold) addRelation(r *Relation) {
	key := r.Key()
	if _, ok := f.relations[key]; ok {
		return
	}
	f.relations[key] = r
	f.relOrder = append(f.relOrder, key)
}

// Record folds one event log record. Only summaries and observations
// produce graph data; capture records are ignored.
func (f *fold) Record(rec eventlog.Record) {
	switch r := rec.(type) {
	case *eventlog.SessionSummary:
		f.summary(r)
	case *eventlog.Observation:
		f.observation(r)
	}
}

func (f *fold) summary(s *eventlog.SessionSummary) {
	name := sessionEntityName(s.ID)
	var obs []string
	for _, line := range []struct{ label, text string }{
		{"Investigated", s.Investigated},
		{"Learned", s.Learned},
		{"Completed", s.Completed},
		{"Next steps", s.NextSteps},
	} {
		if strings.TrimSpace(line.text) != "" {
			obs = append(obs, fmt.Sprintf("%s: %s", line.label, line.text))
		}
	}
	f.addEntity(newEntity(name, EntitySession, s.Project, obs, s.Timestamp))
	f.lastSession = name
}

func (f *fold) observation(o *eventlog.Observation) {
	name := o.Title
	if strings.TrimSpace(name) == "" {
		name = "observation_" + idPrefix(o.ID)
	}

	var obs []string
	if strings.TrimSpace(o.Insight) != "" {
		obs = append(obs, o.Insight)
	}
	if len(o.Concepts) > 0 {
		obs = append(obs, "Concepts: "+strings.Join(o.Concepts, ", "))
	}
	f.addEntity(newEntity(name, string(o.ObsType), o.Project, obs, o.Timestamp))

	if f.lastSession != "" {
		f.addRelation(newRelation(f.lastSession, name, RelationProduced, o.Project))
	}

	for _, file := range o.Files {
		if strings.TrimSpace(file) == "" {
			continue
		}
		f.addEntity(newEntity(file, EntityFile, o.Project, []string{name}, o.Timestamp))
		f.addRelation(newRelation(name, file, RelationTouches, o.Project))
	}
}

// Entities returns accumulated entities in first-seen order.
func (f *fold) Entities() []*Entity {
	out := make([]*Entity, 0, len(f.order))
	for _, name := range f.order {
		out = append(out, f.entities[name])
	}
	return out
}

// Relations returns accumulated relations in first-seen order.
func (f *fold) Relations() []*Relation {
	out := make([]*Relation, 0, len(f.relOrder))
	for _, key := range f.relOrder {
		out = append(out, f.relations[key])
	}
	return out
}
