package main

import (
	"context"
	"log"
)

// Router decides which correction tier serves a request and reconciles
// their outputs. Interactive entry points always return a (possibly empty)
// list; only document review surfaces hard failures.
type Router struct {
	quick     *QuickEngine
	deep      *DeepClient
	wordLimit int // auto-route goes deep above this many words (exclusive)
}

func NewRouter(quick *QuickEngine, deep *DeepClient, wordLimit int) *Router {
	return &Router{quick: quick, deep: deep, wordLimit: wordLimit}
}

// QuickOnly runs the fast tier and returns its output as-is.
func (r *Router) QuickOnly(ctx context.Context, userID, text string) []Correction {
	return r.quick.Correct(ctx, userID, text)
}

// DeepOnly runs deep analysis across all chunks, forcing tier=deep on every
// result.
func (r *Router) DeepOnly(ctx context.Context, userID, text string, raiseOnError bool) ([]Correction, error) {
	corrections, err := r.deep.Analyze(ctx, userID, text, raiseOnError)
	if err != nil {
		return nil, err
	}
	for i := range corrections {
		corrections[i].Tier = TierDeep
	}
	return corrections, nil
}

// AutoRoute runs quick first, then invokes deep iff quick found nothing or
// the input exceeds the word limit (exactly at the limit does not trigger).
// Quick confidence values never suppress deep on their own. Deep failures
// degrade to the quick results: interactive requests never error.
func (r *Router) AutoRoute(ctx context.Context, userID, text string) []Correction {
	quickResults := r.quick.Correct(ctx, userID, text)

	if len(quickResults) > 0 && countWords(text) <= r.wordLimit {
		return quickResults
	}

	deepResults, err := r.DeepOnly(ctx, userID, text, false)
	if err != nil {
		log.Printf("auto-route deep failed user=%s, serving quick only: %v", userID, err)
		return quickResults
	}
	return MergeCorrections(quickResults, deepResults)
}

// DocumentReview is the full-document pass: always deep, always hard-fail.
// A long batch action should fail loudly and be retried rather than silently
// under-deliver.
func (r *Router) DocumentReview(ctx context.Context, userID, text string) ([]Correction, error) {
	return r.DeepOnly(ctx, userID, text, true)
}

// MergeCorrections reconciles the two tiers. Results are keyed by
// (start,end); quick entries are indexed first and deep entries with the
// same key overwrite them; quick is a draft, deep is authoritative.
// Corrections without a position have no dedup key and are always kept.
func MergeCorrections(quickResults, deepResults []Correction) []Correction {
	type key struct{ start, end int }

	byPos := make(map[key]Correction)
	var order []key
	var unpositioned []Correction

	index := func(list []Correction) {
		for _, c := range list {
			if c.Position == nil {
				unpositioned = append(unpositioned, c)
				continue
			}
			k := key{c.Position.Start, c.Position.End}
			if _, seen := byPos[k]; !seen {
				order = append(order, k)
			}
			byPos[k] = c
		}
	}
	index(quickResults)
	index(deepResults)

	merged := make([]Correction, 0, len(order)+len(unpositioned))
	for _, k := range order {
		merged = append(merged, byPos[k])
	}
	merged = append(merged, unpositioned...)
	return merged
}
