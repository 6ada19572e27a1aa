package memory

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strings"
	"unicode"

	"github.com/hupe1980/agentweave/core"
)

// ErrNotFound is returned by Delete for unknown memory ids.
var ErrNotFound = errors.New("memory not found")

// Store persists memories per scope.
type Store interface {
	// Search returns up to limit memories of scope matching query, best
	// matches first. An empty query returns the most recent memories.
	Search(ctx context.Context, scope, query string, limit int) ([]core.Memory, error)
	// Add persists mems, assigning ids and timestamps where missing, and
	// returns what was stored.
	Add(ctx context.Context, scope string, mems []core.Memory) ([]core.Memory, error)
	// Delete removes one memory.
	Delete(ctx context.Context, scope, id string) error
}

// Text renders the searchable text of a memory: string content verbatim,
// anything else as JSON.
func Text(m core.Memory) string {
	if s, ok := m.Content.(string); ok {
		return s
	}

	raw, err := json.Marshal(m.Content)
	if err != nil {
		return ""
	}

	return string(raw)
}

// Terms splits a query into lower-cased search terms. Terms shorter than
// three runes are ignored.
func Terms(query string) []string {
	fields := strings.FieldsFunc(strings.ToLower(query), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})

	seen := make(map[string]bool, len(fields))
	out := make([]string, 0, len(fields))

	for _, f := range fields {
		if len([]rune(f)) < 3 || seen[f] {
			continue
		}

		seen[f] = true
		out = append(out, f)
	}

	return out
}

// Rank orders candidates by the number of query terms their text contains,
// then by recency, and applies limit. With no terms every candidate matches.
// Candidates matching no term are dropped.
func Rank(candidates []core.Memory, query string, limit int) []core.Memory {
	terms := Terms(query)

	type scored struct {
		mem   core.Memory
		score int
	}

	hits := make([]scored, 0, len(candidates))

	for _, m := range candidates {
		text := strings.ToLower(Text(m))
		score := 0

		for _, t := range terms {
			if strings.Contains(text, t) {
				score++
			}
		}

		if len(terms) > 0 && score == 0 {
			continue
		}

		hits = append(hits, scored{mem: m, score: score})
	}

	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}

		return hits[i].mem.CreatedAt.After(hits[j].mem.CreatedAt)
	})

	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}

	out := make([]core.Memory, 0, len(hits))
	for _, h := range hits {
		out = append(out, h.mem)
	}

	return out
}
