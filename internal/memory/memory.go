// Package memory is the optional long-term store agents record results
// into and executors consult before redoing work. Entries expire after a
// TTL; queries rank entries by token overlap with the query text.
package memory

import (
	"context"
	"crypto/sha256"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode"

	"github.com/patrickmn/go-cache"
)

const (
	DefaultTTL        = 2 * time.Hour
	DefaultMaxResults = 5
)

// Config configures a Store. Zero values select defaults.
type Config struct {
	TTL        time.Duration // Entry lifetime. Default: 2h.
	MaxResults int           // Upper bound on Query results. Default: 5.
}

type entry struct {
	text    string
	addedAt time.Time
}

// Store is a TTL-bounded text store. Safe for concurrent use.
type Store struct {
	cache      *cache.Cache
	maxResults int
}

// New creates an empty store.
func New(cfg Config) *Store {
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	maxResults := cfg.MaxResults
	if maxResults <= 0 {
		maxResults = DefaultMaxResults
	}
	return &Store{
		cache:      cache.New(ttl, ttl/2),
		maxResults: maxResults,
	}
}

// Add stores text. Adding the same text again refreshes its expiry.
func (s *Store) Add(_ context.Context, text string) error {
	if strings.TrimSpace(text) == "" {
		return fmt.Errorf("memory: empty text")
	}
	s.cache.Set(hashKey("t", text), entry{text: text, addedAt: time.Now()}, cache.DefaultExpiration)
	return nil
}

// Remember stores text under an explicit key, replacing any previous value.
func (s *Store) Remember(key, text string) {
	s.cache.Set(hashKey("k", key), entry{text: text, addedAt: time.Now()}, cache.DefaultExpiration)
}

// Recall returns the unexpired text stored under key.
func (s *Store) Recall(key string) (string, bool) {
	v, ok := s.cache.Get(hashKey("k", key))
	if !ok {
		return "", false
	}
	return v.(entry).text, true
}

// Query returns up to n stored texts sharing at least one token with
// text, best match first. Newer entries win ties.
func (s *Store) Query(_ context.Context, text string, n int) ([]string, error) {
	if n <= 0 || n > s.maxResults {
		n = s.maxResults
	}
	want := tokens(text)
	if len(want) == 0 {
		return nil, nil
	}

	type match struct {
		text    string
		score   float64
		addedAt time.Time
	}
	var matches []match
	for _, item := range s.cache.Items() {
		e := item.Object.(entry)
		if score := overlap(want, tokens(e.text)); score > 0 {
			matches = append(matches, match{text: e.text, score: score, addedAt: e.addedAt})
		}
	}
	sort.Slice(matches, func(i, j int) bool {
		if matches[i].score != matches[j].score {
			return matches[i].score > matches[j].score
		}
		return matches[i].addedAt.After(matches[j].addedAt)
	})

	out := make([]string, 0, min(n, len(matches)))
	for i := 0; i < len(matches) && i < n; i++ {
		out = append(out, matches[i].text)
	}
	return out, nil
}

// Len returns the number of unexpired entries.
func (s *Store) Len() int { return s.cache.ItemCount() }

// Flush drops every entry.
func (s *Store) Flush() { s.cache.Flush() }

func hashKey(prefix, s string) string {
	h := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%s:%x", prefix, h[:16])
}

func tokens(s string) map[string]struct{} {
	set := make(map[string]struct{})
	for _, f := range strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	}) {
		set[f] = struct{}{}
	}
	return set
}

// overlap is the Jaccard index of two token sets.
func overlap(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	shared := 0
	for t := range a {
		if _, ok := b[t]; ok {
			shared++
		}
	}
	return float64(shared) / float64(len(a)+len(b)-shared)
}
