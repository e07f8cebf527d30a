package main

import (
	"context"
	"fmt"
	"strings"
	"testing"
)

func newTestRouter(t *testing.T, chat *stubChat) (*Router, *countingModel) {
	t.Helper()
	db := newTestDB(t)
	table, err := LoadCorrectionTable("")
	if err != nil {
		t.Fatalf("LoadCorrectionTable failed: %v", err)
	}
	model := &countingModel{inner: NewDictionaryModel(table)}
	quick := NewQuickEngine(model, table, NewMemoryCache(), 0, 0)
	deep := NewDeepClient(testDeepConfig(), chat, db, &fakeProfiles{}, nil)
	return NewRouter(quick, deep, 20), model
}

func wordsOfText(n int, misspelled bool) string {
	words := make([]string, n)
	for i := range words {
		words[i] = "word"
	}
	if misspelled {
		words[0] = "teh"
	}
	return strings.Join(words, " ")
}

func TestAutoRouteShortTextWithQuickHitsSkipsDeep(t *testing.T) {
	chat := &stubChat{} // any call would error
	router, _ := newTestRouter(t, chat)

	corrections := router.AutoRoute(context.Background(), "u1", wordsOfText(20, true))
	if len(corrections) != 1 {
		t.Fatalf("expected 1 quick correction, got %d", len(corrections))
	}
	if corrections[0].Tier != TierQuick {
		t.Errorf("expected quick tier, got %q", corrections[0].Tier)
	}
	if len(chat.reqs) != 0 {
		t.Errorf("deep tier must not run for a short text with quick findings, got %d calls", len(chat.reqs))
	}
}

func TestAutoRouteLongTextGoesDeep(t *testing.T) {
	chat := &stubChat{replies: []stubReply{contentReply("[]")}}
	router, _ := newTestRouter(t, chat)

	// One word past the limit triggers deep even with quick findings.
	router.AutoRoute(context.Background(), "u1", wordsOfText(21, true))
	if len(chat.reqs) != 1 {
		t.Errorf("expected deep to run for 21 words, got %d calls", len(chat.reqs))
	}
}

func TestAutoRouteCleanTextGoesDeep(t *testing.T) {
	chat := &stubChat{replies: []stubReply{contentReply("[]")}}
	router, _ := newTestRouter(t, chat)

	// No quick findings: deep runs regardless of length.
	router.AutoRoute(context.Background(), "u1", "five clean short words here")
	if len(chat.reqs) != 1 {
		t.Errorf("expected deep to run when quick found nothing, got %d calls", len(chat.reqs))
	}
}

func TestAutoRouteDegradesToQuickOnDeepFailure(t *testing.T) {
	chat := &stubChat{replies: []stubReply{
		{err: fmt.Errorf("%w: 503", ErrLLMStatus)},
	}}
	router, _ := newTestRouter(t, chat)

	corrections := router.AutoRoute(context.Background(), "u1", wordsOfText(21, true))
	if len(corrections) != 1 || corrections[0].Tier != TierQuick {
		t.Errorf("expected quick results on deep failure, got %+v", corrections)
	}
}

func TestDocumentReviewSurfacesFailure(t *testing.T) {
	chat := &stubChat{replies: []stubReply{
		{err: fmt.Errorf("%w: 503", ErrLLMStatus)},
	}}
	router, _ := newTestRouter(t, chat)

	if _, err := router.DocumentReview(context.Background(), "u1", "teh cat"); err == nil {
		t.Fatal("document review must not swallow failures")
	}
}

func TestMergeCorrectionsDeepWins(t *testing.T) {
	quick := []Correction{
		{Original: "teh", Correction: "the", Position: &Position{Start: 0, End: 3}, Tier: TierQuick},
		{Original: "adn", Correction: "and", Position: &Position{Start: 8, End: 11}, Tier: TierQuick},
	}
	deep := []Correction{
		{Original: "teh", Correction: "the", Position: &Position{Start: 0, End: 3}, Tier: TierDeep, Explanation: "transposition"},
	}

	merged := MergeCorrections(quick, deep)
	if len(merged) != 2 {
		t.Fatalf("expected 2 merged corrections, got %d", len(merged))
	}
	if merged[0].Tier != TierDeep {
		t.Errorf("deep must win on identical spans, got tier %q", merged[0].Tier)
	}
	if merged[1].Tier != TierQuick {
		t.Errorf("quick-only span must survive, got tier %q", merged[1].Tier)
	}
}

func TestMergeCorrectionsKeepsUnpositioned(t *testing.T) {
	quick := []Correction{
		{Original: "teh", Position: &Position{Start: 0, End: 3}, Tier: TierQuick},
	}
	deep := []Correction{
		{Original: "overall tone", Tier: TierDeep}, // no position
		{Original: "teh", Position: &Position{Start: 0, End: 3}, Tier: TierDeep},
	}

	merged := MergeCorrections(quick, deep)
	if len(merged) != 2 {
		t.Fatalf("expected 2 corrections, got %d", len(merged))
	}
	last := merged[len(merged)-1]
	if last.Position != nil || last.Original != "overall tone" {
		t.Errorf("unpositioned correction must be kept at the end, got %+v", last)
	}
}

func TestMergeCorrectionsPreservesOrder(t *testing.T) {
	quick := []Correction{
		{Original: "a", Position: &Position{Start: 0, End: 1}},
		{Original: "b", Position: &Position{Start: 5, End: 6}},
	}
	deep := []Correction{
		{Original: "c", Position: &Position{Start: 10, End: 11}},
	}
	merged := MergeCorrections(quick, deep)
	if len(merged) != 3 {
		t.Fatalf("expected 3 corrections, got %d", len(merged))
	}
	for i, want := range []string{"a", "b", "c"} {
		if merged[i].Original != want {
			t.Errorf("position %d: got %q, want %q", i, merged[i].Original, want)
		}
	}
}

func TestDeepOnlyForcesTier(t *testing.T) {
	chat := &stubChat{replies: []stubReply{
		contentReply(`[{"original": "teh", "suggested": "the", "type": "spelling"}]`),
	}}
	router, _ := newTestRouter(t, chat)

	corrections, err := router.DeepOnly(context.Background(), "u1", "teh cat", false)
	if err != nil {
		t.Fatalf("DeepOnly failed: %v", err)
	}
	for _, c := range corrections {
		if c.Tier != TierDeep {
			t.Errorf("expected deep tier on all results, got %q", c.Tier)
		}
	}
}
