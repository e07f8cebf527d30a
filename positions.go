package main

import "strings"

// punctCutset is what gets stripped from an LLM-reported original before the
// last-resort position search. Models often quote or punctuate the word they
// flag.
const punctCutset = ".,!?;:\"'`()[]{}«»“”‘’"

// recoverPositions fills in character-exact positions for a chunk's
// corrections. The LLM returns bare words, so each original is searched for
// in the chunk text with one monotonically advancing cursor shared across
// the whole ordered list: a repeated word matches successive occurrences,
// and a later correction can never resolve before an earlier match. The
// search ladder per correction is exact match, then case-insensitive, then
// punctuation-stripped. Total failure leaves Position nil; the correction is
// still returned, just not highlightable.
func recoverPositions(text string, corrections []Correction) {
	cursor := 0

	for i := range corrections {
		original := corrections[i].Original
		if original == "" || cursor > len(text) {
			corrections[i].Position = nil
			continue
		}

		start, end := -1, -1

		// 1. Exact case-sensitive.
		if idx := strings.Index(text[cursor:], original); idx >= 0 {
			start = cursor + idx
			end = start + len(original)
		}

		// 2. Case-insensitive.
		if start < 0 {
			if idx := indexFold(text[cursor:], original); idx >= 0 {
				start = cursor + idx
				end = start + len(original)
			}
		}

		// 3. Strip surrounding punctuation/quotes from the LLM's original.
		if start < 0 {
			stripped := strings.Trim(original, punctCutset)
			if stripped != "" && stripped != original {
				if idx := strings.Index(text[cursor:], stripped); idx >= 0 {
					start = cursor + idx
					end = start + len(stripped)
				} else if idx := indexFold(text[cursor:], stripped); idx >= 0 {
					start = cursor + idx
					end = start + len(stripped)
				}
			}
		}

		if start < 0 {
			corrections[i].Position = nil
			continue
		}
		corrections[i].Position = &Position{Start: start, End: end}
		cursor = end
	}
}

// indexFold returns the byte offset of the first case-insensitive match of
// substr in s, or -1. Unlike indexing a ToLower copy, offsets always point
// into s itself: lowering can change byte lengths ('İ' lowers to 3 bytes),
// and a shifted offset would corrupt the position and the shared cursor.
func indexFold(s, substr string) int {
	if substr == "" {
		return 0
	}
	for i := 0; i+len(substr) <= len(s); i++ {
		if strings.EqualFold(s[i:i+len(substr)], substr) {
			return i
		}
	}
	return -1
}

// shiftPositions rebases chunk-relative positions onto the full document.
func shiftPositions(corrections []Correction, offset int) {
	if offset == 0 {
		return
	}
	for i := range corrections {
		if corrections[i].Position != nil {
			corrections[i].Position.Start += offset
			corrections[i].Position.End += offset
		}
	}
}
