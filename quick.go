package main

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"log"
	"strings"
	"sync"
	"time"
)

// TokenSpan is one token of model output: its byte range in the input text
// and whether the model flagged it as an error.
type TokenSpan struct {
	Text  string
	Start int
	End   int
	Error bool
}

// QuickModel is the opaque fast-path inference artifact: text in,
// token-level error spans out. Training is elsewhere.
type QuickModel interface {
	Infer(text string) ([]TokenSpan, error)
}

// QuickEngine is the fast local correction tier. Per-user model overrides,
// a TTL result cache, and a static table decode; it never fails a call.
type QuickEngine struct {
	base  QuickModel
	table map[string]string
	cache Cache
	ttl   time.Duration
	sla   time.Duration

	mu        sync.RWMutex
	overrides map[string]QuickModel

	now func() time.Time
}

func NewQuickEngine(base QuickModel, table map[string]string, cache Cache, ttl, sla time.Duration) *QuickEngine {
	return &QuickEngine{
		base:      base,
		table:     table,
		cache:     cache,
		ttl:       ttl,
		sla:       sla,
		overrides: make(map[string]QuickModel),
		now:       time.Now,
	}
}

// SetUserModel registers a per-user fine-tuned model override.
func (q *QuickEngine) SetUserModel(userID string, m QuickModel) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.overrides[userID] = m
}

func (q *QuickEngine) modelFor(userID string) QuickModel {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if m, ok := q.overrides[userID]; ok {
		return m
	}
	return q.base
}

// Correct runs the quick tier. A cache hit skips inference entirely. Errors
// are logged and yield an empty result, never a failure.
func (q *QuickEngine) Correct(ctx context.Context, userID, text string) []Correction {
	start := q.now()
	key := quickCacheKey(userID, text)

	if cached, ok, err := q.cache.Get(ctx, key); err == nil && ok {
		var out []Correction
		if err := json.Unmarshal([]byte(cached), &out); err == nil {
			return out
		}
	}

	spans, err := q.modelFor(userID).Infer(text)
	if err != nil {
		log.Printf("quick infer error user=%s: %v", userID, err)
		return nil
	}

	corrections := q.decode(text, spans)

	if payload, err := json.Marshal(corrections); err == nil {
		if err := q.cache.Set(ctx, key, string(payload), q.ttl); err != nil {
			log.Printf("quick cache set error: %v", err)
		}
	}

	if elapsed := q.now().Sub(start); elapsed > q.sla {
		log.Printf("quick correction exceeded SLA user=%s elapsed=%s target=%s", userID, elapsed, q.sla)
	}
	return corrections
}

// decode merges contiguous error token spans into word-level candidates and
// maps each through the static correction table. No table entry, no
// correction for that span.
func (q *QuickEngine) decode(text string, spans []TokenSpan) []Correction {
	var out []Correction
	i := 0
	for i < len(spans) {
		if !spans[i].Error {
			i++
			continue
		}
		start := spans[i].Start
		end := spans[i].End
		j := i + 1
		for j < len(spans) && spans[j].Error && contiguous(spans[j-1], spans[j]) {
			end = spans[j].End
			j++
		}
		// Narrow the span past surrounding punctuation before lookup.
		for start < end && strings.IndexByte(".,!?;:\"'()", text[start]) >= 0 {
			start++
		}
		for end > start && strings.IndexByte(".,!?;:\"'()", text[end-1]) >= 0 {
			end--
		}
		candidate := text[start:end]
		if fix, ok := q.table[normalizeWord(candidate)]; ok {
			out = append(out, Correction{
				Original:   candidate,
				Correction: fix,
				Position:   &Position{Start: start, End: end},
				Confidence: 0.8,
				ErrorType:  "spelling",
				Tier:       TierQuick,
			})
		}
		i = j
	}
	return out
}

// contiguous reports whether two flagged tokens abut directly, which merges
// split subword spans back into one word candidate. Spans separated by
// whitespace are distinct words and must stay separate candidates.
func contiguous(a, b TokenSpan) bool {
	return b.Start == a.End
}

func quickCacheKey(userID, text string) string {
	normalized := strings.ToLower(strings.Join(strings.Fields(text), " "))
	sum := sha256.Sum256([]byte(userID + "\x00" + normalized))
	return "quick:" + hex.EncodeToString(sum[:])
}

// DictionaryModel is the shared base model: a lookup over the correction
// table's known misspellings, flagging matching tokens.
type DictionaryModel struct {
	known map[string]string
}

func NewDictionaryModel(table map[string]string) *DictionaryModel {
	return &DictionaryModel{known: table}
}

func (m *DictionaryModel) Infer(text string) ([]TokenSpan, error) {
	var spans []TokenSpan
	i := 0
	for i < len(text) {
		for i < len(text) && isSpace(text[i]) {
			i++
		}
		if i >= len(text) {
			break
		}
		start := i
		for i < len(text) && !isSpace(text[i]) {
			i++
		}
		token := text[start:i]
		_, flagged := m.known[normalizeWord(strings.Trim(token, ".,!?;:\"'()"))]
		spans = append(spans, TokenSpan{Text: token, Start: start, End: i, Error: flagged})
	}
	return spans, nil
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\t' || b == '\n' || b == '\r'
}
