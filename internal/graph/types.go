// Package graph implements the knowledge graph store derived from the
// event log: entity/relation records, the extraction fold, full rebuild
// and incremental update.
package graph

import (
	"encoding/json"
	"fmt"
	"time"
)

// Entity is a named node in the knowledge graph. Name is the natural key;
// re-deriving the same name merges observation lists (append, no dedup)
// rather than overwriting.
type Entity struct {
	Type         string    `json:"type"`
	Name         string    `json:"name"`
	EntityType   string    `json:"entityType"`
	Project      string    `json:"project,omitempty"`
	Observations []string  `json:"observations"`
	Timestamp    time.Time `json:"timestamp"`
}

// Relation is a directed, typed edge between two entities by name,
// deduplicated by the (from, relationType, to) triple.
type Relation struct {
	Type         string `json:"type"`
	From         string `json:"from"`
	To           string `json:"to"`
	RelationType string `json:"relationType"`
	Project      string `json:"project,omitempty"`
}

// Line discriminators for the graph JSONL file.
const (
	lineEntity   = "entity"
	lineRelation = "relation"
)

// Key returns the relation dedup key.
func (r *Relation) Key() string {
	return r.From + "\x00" + r.RelationType + "\x00" + r.To
}

// decodeLine parses one graph file line. Corrupt or unknown lines return
// (nil, nil, nil) and are skipped, matching the event log's tolerance.
func decodeLine(line []byte) (*Entity, *Relation, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(line, &envelope); err != nil {
		return nil, nil, nil
	}
	switch envelope.Type {
	case lineEntity:
		var e Entity
		if err := json.Unmarshal(line, &e); err != nil {
			return nil, nil, nil
		}
		if e.Name == "" {
			return nil, nil, nil
		}
		return &e, nil, nil
	case lineRelation:
		var r Relation
		if err := json.Unmarshal(line, &r); err != nil {
			return nil, nil, nil
		}
		if r.From == "" || r.To == "" {
			return nil, nil, nil
		}
		return nil, &r, nil
	default:
		return nil, nil, nil
	}
}

// newEntity builds an entity line with the discriminator set.
func newEntity(name, entityType, project string, observations []string, ts time.Time) *Entity {
	return &Entity{
		Type:         lineEntity,
		Name:         name,
		EntityType:   entityType,
		Project:      project,
		Observations: observations,
		Timestamp:    ts,
	}
}

// newRelation builds a relation line with the discriminator set.
func newRelation(from, to, relationType, project string) *Relation {
	return &Relation{
		Type:         lineRelation,
		From:         from,
		To:           to,
		RelationType: relationType,
		Project:      project,
	}
}

// idPrefix returns the short identifier prefix embedded in synthesized
// session entity names. It is how incremental update recognizes summaries
// it has already folded.
func idPrefix(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// sessionEntityName synthesizes the entity name for a session summary.
func sessionEntityName(summaryID string) string {
	return fmt.Sprintf("session_%s", idPrefix(summaryID))
}
