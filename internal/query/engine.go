// Package query implements the graph query engine: it scores knowledge
// graph entities against keywords extracted from a prompt and formats a
// bounded, ranked memory context for injection.
//
// Memory injection is a best-effort enhancement. Every failure path ends
// in "return the caller's input unchanged"; nothing here may block or
// corrupt the primary request.
package query

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/recalld/internal/graph"
	"github.com/fyrsmithlabs/recalld/internal/llm"
)

// Scoring weights and recency tiers.
const (
	nameMatchScore = 10
	obsMatchScore  = 2
	recentBonus    = 3 // timestamp within 7 days
	olderBonus     = 1 // timestamp within 30 days, exclusive of the above
	recentWindow   = 7 * 24 * time.Hour
	olderWindow    = 30 * 24 * time.Hour

	maxObsPerEntity = 3
)

// Context block delimiters.
const (
	blockHeader = "=== RECALLED CONTEXT ==="
	blockFooter = "=== END RECALLED CONTEXT ==="
)

// Config tunes one engine instance.
type Config struct {
	TopK         int
	MinScore     int
	MaxRelations int

	// Project restricts results to matching entities when non-empty.
	// Untagged entities always pass (default-permissive).
	Project string

	// UseLLMKeywords enables LLM-backed keyword extraction bounded by
	// KeywordTimeout, with local tokenization as fallback.
	UseLLMKeywords bool
	KeywordTimeout time.Duration
}

// Engine answers relevance queries against the knowledge graph.
type Engine struct {
	graph  *graph.Store
	client *llm.Client
	cfg    Config
	logger *zap.Logger

	now func() time.Time
}

// NewEngine creates a query engine. client may be nil to force local
// keyword extraction.
func NewEngine(g *graph.Store, client *llm.Client, cfg Config, logger *zap.Logger) (*Engine, error) {
	if g == nil {
		return nil, fmt.Errorf("graph store cannot be nil")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 5
	}
	if cfg.MinScore <= 0 {
		cfg.MinScore = 1
	}
	if cfg.MaxRelations <= 0 {
		cfg.MaxRelations = 5
	}
	if cfg.KeywordTimeout <= 0 {
		cfg.KeywordTimeout = 3 * time.Second
	}
	return &Engine{graph: g, client: client, cfg: cfg, logger: logger, now: time.Now}, nil
}

// Result is a bounded, ranked, deduplicated memory context.
type Result struct {
	Entities  []*graph.Entity
	Relations []*graph.Relation
}

// scored pairs an entity with its relevance score.
type scored struct {
	entity *graph.Entity
	score  int
}

// Query scores the graph against input and returns the retained set.
func (e *Engine) Query(ctx context.Context, input string) (*Result, error) {
	entities, relations, err := e.graph.Load()
	if err != nil {
		return nil, err
	}

	keywords := e.keywords(ctx, input)
	if len(keywords) == 0 {
		return &Result{}, nil
	}

	var ranked []scored
	for _, ent := range entities {
		if e.cfg.Project != "" && ent.Project != "" && ent.Project != e.cfg.Project {
			continue
		}
		if s := e.score(ent, keywords); s >= e.cfg.MinScore {
			ranked = append(ranked, scored{entity: ent, score: s})
		}
	}

	sort.SliceStable(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })
	if len(ranked) > e.cfg.TopK {
		ranked = ranked[:e.cfg.TopK]
	}

	result := &Result{}
	retained := make(map[string]bool, len(ranked))
	for _, s := range ranked {
		result.Entities = append(result.Entities, s.entity)
		retained[s.entity.Name] = true
	}

	for _, rel := range relations {
		if len(result.Relations) >= e.cfg.MaxRelations {
			break
		}
		if retained[rel.From] || retained[rel.To] {
			result.Relations = append(result.Relations, rel)
		}
	}

	return result, nil
}

// BuildContext formats the query result as a delimited block. Returns ""
// when nothing scored above threshold or on any internal failure.
func (e *Engine) BuildContext(ctx context.Context, input string) string {
	defer func() {
		// Injection must never take down the caller.
		if r := recover(); r != nil {
			e.logger.Error("query engine panic recovered", zap.Any("panic", r))
		}
	}()

	result, err := e.Query(ctx, input)
	if err != nil {
		e.logger.Warn("memory query failed", zap.Error(err))
		return ""
	}
	if len(result.Entities) == 0 {
		return ""
	}
	return formatBlock(result)
}

// Inject appends the memory context block to input. On empty context or
// any failure the input comes back unchanged.
func (e *Engine) Inject(ctx context.Context, input string) string {
	block := e.BuildContext(ctx, input)
	if block == "" {
		return input
	}
	return input + "\n\n" + block
}

// keywords extracts query keywords, preferring the LLM path when enabled
// and falling back to local tokenization on any failure.
func (e *Engine) keywords(ctx context.Context, input string) []string {
	if e.cfg.UseLLMKeywords && e.client != nil && e.client.Enabled() {
		kwCtx, cancel := context.WithTimeout(ctx, e.cfg.KeywordTimeout)
		defer cancel()

		keywords, err := e.client.ExtractKeywords(kwCtx, input)
		if err == nil && len(keywords) > 0 {
			return keywords
		}
		e.logger.Debug("llm keyword extraction unavailable, using tokenizer", zap.Error(err))
	}
	return tokenize(input)
}

// score computes the relevance of one entity. The recency bonus only
// applies to entities that matched at least one keyword, so fresh but
// irrelevant entities cannot clear the threshold on age alone.
func (e *Engine) score(ent *graph.Entity, keywords []string) int {
	name := strings.ToLower(ent.Name)
	score := 0

	for _, kw := range keywords {
		kw = strings.ToLower(kw)
		if strings.Contains(name, kw) {
			score += nameMatchScore
		}
		for _, obs := range ent.Observations {
			if strings.Contains(strings.ToLower(obs), kw) {
				score += obsMatchScore
				break
			}
		}
	}

	if score > 0 {
		age := e.now().Sub(ent.Timestamp)
		switch {
		case age < recentWindow:
			score += recentBonus
		case age < olderWindow:
			score += olderBonus
		}
	}
	return score
}

// formatBlock renders the retained entities and relations as a marked,
// human-readable context block.
func formatBlock(result *Result) string {
	var b strings.Builder
	b.WriteString(blockHeader)
	b.WriteByte('\n')

	for _, ent := range result.Entities {
		fmt.Fprintf(&b, "* %s (%s)\n", ent.Name, ent.EntityType)
		obs := ent.Observations
		if len(obs) > maxObsPerEntity {
			obs = obs[:maxObsPerEntity]
		}
		for _, o := range obs {
			fmt.Fprintf(&b, "  - %s\n", o)
		}
	}

	if len(result.Relations) > 0 {
		b.WriteString("Relations:\n")
		for _, rel := range result.Relations {
			fmt.Fprintf(&b, "  - %s %s %s\n", rel.From, rel.RelationType, rel.To)
		}
	}

	b.WriteString(blockFooter)
	return b.String()
}
