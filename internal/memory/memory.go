// Package memory stores facts and lessons across runs and retrieves the ones
// relevant to a new task by keyword overlap.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
	"unicode"

	"github.com/google/uuid"

	"github.com/Treytucker05/DrCodePT-Swarm-sub001/internal/config"
)

// Kind tags what a record is.
type Kind string

const (
	KindFact      Kind = "fact"
	KindReflexion Kind = "reflexion"
	KindOutcome   Kind = "outcome"
)

// Record is one remembered item.
type Record struct {
	ID        string    `json:"id"`
	Kind      Kind      `json:"kind"`
	Task      string    `json:"task"`
	Content   string    `json:"content"`
	Tags      []string  `json:"tags,omitempty"`
	Keywords  []string  `json:"keywords"`
	CreatedAt time.Time `json:"created_at"`
}

// Store is implemented by every backend.
type Store interface {
	Add(ctx context.Context, rec Record) error
	Search(ctx context.Context, query string, limit int) ([]Record, error)
	Close() error
}

// prepare fills id, timestamp and keywords.
func prepare(rec Record) Record {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	if len(rec.Keywords) == 0 {
		rec.Keywords = Keywords(rec.Task + " " + rec.Content + " " + strings.Join(rec.Tags, " "))
	}
	return rec
}

var stopwords = func() map[string]bool {
	words := []string{
		"the", "a", "an", "is", "are", "was", "were", "be", "been", "being",
		"have", "has", "had", "do", "does", "did", "will", "would", "could",
		"should", "may", "might", "must", "can", "to", "of", "in", "for", "on",
		"with", "at", "by", "from", "as", "into", "and", "but", "or", "not",
		"this", "that", "these", "those", "it", "its", "i", "me", "my", "we",
		"our", "you", "your", "they", "them", "their", "what", "which", "all",
		"any", "some", "no", "then", "than", "so", "if", "please",
	}
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}()

// Keywords lowercases text, splits on non-alphanumerics and drops stopwords
// and one-letter tokens. The result is sorted and deduplicated.
func Keywords(text string) []string {
	seen := map[string]bool{}
	for _, tok := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '_'
	}) {
		if len(tok) < 2 || stopwords[tok] {
			continue
		}
		seen[tok] = true
	}
	out := make([]string, 0, len(seen))
	for k := range seen {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// rank orders records by keyword overlap with query, newest first on ties,
// dropping records with no overlap.
func rank(query []string, recs []Record, limit int) []Record {
	q := make(map[string]bool, len(query))
	for _, k := range query {
		q[k] = true
	}
	type scored struct {
		rec   Record
		score int
	}
	var hits []scored
	for _, r := range recs {
		s := 0
		for _, k := range r.Keywords {
			if q[k] {
				s++
			}
		}
		if s > 0 {
			hits = append(hits, scored{r, s})
		}
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].score != hits[j].score {
			return hits[i].score > hits[j].score
		}
		return hits[i].rec.CreatedAt.After(hits[j].rec.CreatedAt)
	})
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	out := make([]Record, len(hits))
	for i, h := range hits {
		out[i] = h.rec
	}
	return out
}

// InMemory keeps records in process. Used for tests and --memory=memory.
type InMemory struct {
	mu   sync.RWMutex
	recs []Record
}

func NewInMemory() *InMemory { return &InMemory{} }

func (m *InMemory) Add(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.recs = append(m.recs, prepare(rec))
	return nil
}

func (m *InMemory) Search(_ context.Context, query string, limit int) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return rank(Keywords(query), m.recs, limit), nil
}

func (m *InMemory) Close() error { return nil }

// Nop discards writes and finds nothing.
type Nop struct{}

func (Nop) Add(context.Context, Record) error                     { return nil }
func (Nop) Search(context.Context, string, int) ([]Record, error) { return nil, nil }
func (Nop) Close() error                                          { return nil }

// Open returns the store selected by cfg.
func Open(ctx context.Context, cfg config.MemoryConfig) (Store, error) {
	switch cfg.Backend {
	case config.MemorySQLite:
		return NewSQLiteStore(cfg.Path)
	case config.MemoryRedis:
		return NewRedisStore(ctx, cfg.RedisAddr, cfg.RedisPrefix)
	case config.MemoryInMem:
		return NewInMemory(), nil
	case config.MemoryNone, "":
		return Nop{}, nil
	default:
		return nil, fmt.Errorf("unknown memory backend %q", cfg.Backend)
	}
}

// Format renders records as bullet lines for prompts.
func Format(recs []Record) string {
	var b strings.Builder
	for _, r := range recs {
		fmt.Fprintf(&b, "- [%s] %s\n", r.Kind, r.Content)
	}
	return b.String()
}
