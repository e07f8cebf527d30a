package main

import (
	"context"
	"log"
	"strings"
)

// Acceptance window for a replace pair to count as a genuine self-correction.
// At or below the floor the words are unrelated; at or above the ceiling the
// edit is negligible noise.
const (
	similarityFloor   = 0.3
	similarityCeiling = 0.95
)

const phoneticSkeletonThreshold = 0.6

// errorLogger is the slice of the aggregator the detector needs.
type errorLogger interface {
	LogError(ctx context.Context, userID, misspelling, correction, errorType, source string) error
}

// Detector infers self-corrections from before/after text snapshots and
// forwards accepted ones into the learning loop.
type Detector struct {
	homophones *HomophoneSet
	logger     errorLogger
}

func NewDetector(homophones *HomophoneSet, logger errorLogger) *Detector {
	return &Detector{homophones: homophones, logger: logger}
}

// classificationRule is one step of the ordered cascade; first match wins.
type classificationRule struct {
	label string
	match func(old, new string) bool
}

func (d *Detector) rules() []classificationRule {
	return []classificationRule{
		{"letter_reversal", isAdjacentSwap},
		{"phonetic", func(a, b string) bool { return skeletonSimilarity(a, b) > phoneticSkeletonThreshold }},
		{"homophone", d.homophones.ArePair},
		{"omission", isSingleOmission},
	}
}

// classify runs the ordered cascade and falls back to plain spelling.
func (d *Detector) classify(old, new string) string {
	for _, rule := range d.rules() {
		if rule.match(old, new) {
			return rule.label
		}
	}
	return "spelling"
}

// DetectSelfCorrections diffs two snapshots of the same document at word
// level. Within each replace block, old and new words are paired
// positionally; leftover words from a length mismatch are treated as plain
// inserts/deletes and do not produce corrections.
func (d *Detector) DetectSelfCorrections(before, after TextSnapshot) []UserCorrection {
	oldWords := strings.Fields(before.Text)
	newWords := strings.Fields(after.Text)

	var out []UserCorrection
	for _, op := range wordOpcodes(oldWords, newWords) {
		if op.Tag != opReplace {
			continue
		}
		oldBlock := oldWords[op.I1:op.I2]
		newBlock := newWords[op.J1:op.J2]
		n := len(oldBlock)
		if len(newBlock) < n {
			n = len(newBlock)
		}
		for i := 0; i < n; i++ {
			oldWord := strings.Trim(oldBlock[i], punctCutset)
			newWord := strings.Trim(newBlock[i], punctCutset)
			if oldWord == "" || newWord == "" {
				continue
			}
			sim := wordSimilarity(oldWord, newWord)
			if sim <= similarityFloor || sim >= similarityCeiling {
				continue
			}
			out = append(out, UserCorrection{
				Original:       oldWord,
				Corrected:      newWord,
				CorrectionType: d.classify(oldWord, newWord),
				Similarity:     sim,
			})
		}
	}
	return out
}

// ProcessSnapshots detects self-corrections and forwards each to the
// aggregator as a self_corrected log entry. A failed log is recorded and
// skipped so one bad write never loses the rest of the batch.
func (d *Detector) ProcessSnapshots(ctx context.Context, userID string, before, after TextSnapshot) []UserCorrection {
	corrections := d.DetectSelfCorrections(before, after)
	for _, c := range corrections {
		if err := d.logger.LogError(ctx, userID, c.Original, c.Corrected, c.CorrectionType, SourceSelfCorrected); err != nil {
			log.Printf("passive learning log failed user=%s word=%s: %v", userID, c.Original, err)
		}
	}
	return corrections
}
