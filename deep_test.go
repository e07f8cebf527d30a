package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
)

type stubReply struct {
	msg ChatMessage
	err error
}

// stubChat replays a scripted sequence of responses and records every
// request it receives.
type stubChat struct {
	tools   bool
	replies []stubReply
	reqs    []ChatRequest
}

func (s *stubChat) SupportsTools() bool { return s.tools }

func (s *stubChat) Chat(ctx context.Context, req ChatRequest) (ChatMessage, error) {
	i := len(s.reqs)
	s.reqs = append(s.reqs, req)
	if i >= len(s.replies) {
		return ChatMessage{}, fmt.Errorf("unexpected chat call %d", i)
	}
	return s.replies[i].msg, s.replies[i].err
}

type fakeProfiles struct {
	profile LLMContext
	err     error
}

func (f *fakeProfiles) BuildLLMContext(ctx context.Context, userID string) (LLMContext, error) {
	return f.profile, f.err
}

func testDeepConfig() Config {
	return Config{
		LLMModel:          "test-model",
		LLMMaxTokens:      512,
		LLMTemperature:    0.2,
		ChunkMaxChars:     3000,
		LLMRetryBackoffMS: 1,
		LLMToolMaxRounds:  2,
	}
}

func contentReply(content string) stubReply {
	return stubReply{msg: ChatMessage{Role: "assistant", Content: content}}
}

func TestParseDeepResponse(t *testing.T) {
	raw := `[{"original": "teh", "suggested": "the", "type": "letter_reversal", "confidence": 0.95}]`

	for _, wrapped := range []string{raw, "```json\n" + raw + "\n```", "```\n" + raw + "\n```"} {
		corrections, err := parseDeepResponse(wrapped)
		if err != nil {
			t.Fatalf("parse failed for %q: %v", wrapped, err)
		}
		if len(corrections) != 1 {
			t.Fatalf("expected 1 correction, got %d", len(corrections))
		}
		c := corrections[0]
		if c.Original != "teh" || c.Correction != "the" || c.ErrorType != "letter_reversal" {
			t.Errorf("unexpected correction: %+v", c)
		}
		if c.Tier != TierDeep {
			t.Errorf("expected deep tier, got %q", c.Tier)
		}
	}
}

func TestParseDeepResponseDefaults(t *testing.T) {
	corrections, err := parseDeepResponse(`[{"original": "teh", "suggested": "the"}, {"original": "  "}]`)
	if err != nil {
		t.Fatalf("parse failed: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("blank original should be dropped, got %d corrections", len(corrections))
	}
	if corrections[0].ErrorType != "spelling" {
		t.Errorf("missing type should default to spelling, got %q", corrections[0].ErrorType)
	}
}

func TestParseDeepResponseErrors(t *testing.T) {
	for _, bad := range []string{"", "```json\n```", "I found no errors!", `{"not": "an array"}`} {
		if _, err := parseDeepResponse(bad); !errors.Is(err, ErrLLMParse) {
			t.Errorf("expected ErrLLMParse for %q, got %v", bad, err)
		}
	}
}

func TestCallWithRetryOnConnectionFailure(t *testing.T) {
	chat := &stubChat{replies: []stubReply{
		{err: fmt.Errorf("%w: dial tcp refused", ErrLLMConnection)},
		contentReply("[]"),
	}}
	d := NewDeepClient(testDeepConfig(), chat, nil, &fakeProfiles{}, nil)

	msg, err := d.callWithRetry(context.Background(), ChatRequest{})
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if msg.Content != "[]" {
		t.Errorf("unexpected message: %+v", msg)
	}
	if len(chat.reqs) != 2 {
		t.Errorf("expected 2 attempts, got %d", len(chat.reqs))
	}
}

func TestCallWithRetryGivesUpAfterTwoAttempts(t *testing.T) {
	chat := &stubChat{replies: []stubReply{
		{err: fmt.Errorf("%w: dial tcp refused", ErrLLMConnection)},
		{err: fmt.Errorf("%w: dial tcp refused", ErrLLMConnection)},
	}}
	d := NewDeepClient(testDeepConfig(), chat, nil, &fakeProfiles{}, nil)

	if _, err := d.callWithRetry(context.Background(), ChatRequest{}); !errors.Is(err, ErrLLMConnection) {
		t.Fatalf("expected connection error, got %v", err)
	}
	if len(chat.reqs) != 2 {
		t.Errorf("expected exactly 2 attempts, got %d", len(chat.reqs))
	}
}

func TestCallWithRetrySkipsNonConnectionErrors(t *testing.T) {
	for _, sentinel := range []error{ErrLLMTimeout, ErrLLMStatus, ErrLLMParse} {
		chat := &stubChat{replies: []stubReply{{err: fmt.Errorf("%w: nope", sentinel)}}}
		d := NewDeepClient(testDeepConfig(), chat, nil, &fakeProfiles{}, nil)

		if _, err := d.callWithRetry(context.Background(), ChatRequest{}); !errors.Is(err, sentinel) {
			t.Fatalf("expected %v, got %v", sentinel, err)
		}
		if len(chat.reqs) != 1 {
			t.Errorf("%v must not be retried, got %d attempts", sentinel, len(chat.reqs))
		}
	}
}

func TestConverseToolLoop(t *testing.T) {
	db := newTestDB(t)
	if err := AddDictionaryEntry(db, "u1", "teh", "manual"); err != nil {
		t.Fatalf("seeding dictionary: %v", err)
	}

	chat := &stubChat{tools: true, replies: []stubReply{
		{msg: ChatMessage{Role: "assistant", ToolCalls: []ToolCall{{
			ID:   "c1",
			Type: "function",
			Function: ToolFunction{
				Name:      "check_personal_dictionary",
				Arguments: `{"word": "teh"}`,
			},
		}}}},
		contentReply("[]"),
	}}

	cfg := testDeepConfig()
	cfg.LLMToolsEnabled = true
	d := NewDeepClient(cfg, chat, db, &fakeProfiles{}, NewToolRegistry(db))

	msg, err := d.converse(context.Background(), "u1", "system", "user")
	if err != nil {
		t.Fatalf("converse failed: %v", err)
	}
	if msg.Content != "[]" {
		t.Errorf("unexpected final message: %+v", msg)
	}
	if len(chat.reqs) != 2 {
		t.Fatalf("expected 2 rounds, got %d", len(chat.reqs))
	}
	if len(chat.reqs[0].Tools) == 0 {
		t.Error("first round should offer tools")
	}
	if len(chat.reqs[1].Tools) != 0 {
		t.Error("final round must omit tools")
	}

	var toolMsg *ChatMessage
	for i := range chat.reqs[1].Messages {
		if chat.reqs[1].Messages[i].Role == "tool" {
			toolMsg = &chat.reqs[1].Messages[i]
		}
	}
	if toolMsg == nil {
		t.Fatal("tool result not forwarded to the model")
	}
	if toolMsg.ToolCallID != "c1" {
		t.Errorf("tool result not linked to call: %+v", toolMsg)
	}
	if !strings.Contains(toolMsg.Content, "true") {
		t.Errorf("dictionary hit not reflected in tool result: %q", toolMsg.Content)
	}
}

func TestConverseToolLoopBounded(t *testing.T) {
	db := newTestDB(t)
	toolCall := ChatMessage{Role: "assistant", ToolCalls: []ToolCall{{
		ID: "c1", Type: "function",
		Function: ToolFunction{Name: "get_confusion_pairs", Arguments: `{}`},
	}}}
	chat := &stubChat{tools: true, replies: []stubReply{{msg: toolCall}, {msg: toolCall}}}

	cfg := testDeepConfig()
	cfg.LLMToolsEnabled = true
	d := NewDeepClient(cfg, chat, db, &fakeProfiles{}, NewToolRegistry(db))

	if _, err := d.converse(context.Background(), "u1", "system", "user"); !errors.Is(err, ErrLLMParse) {
		t.Fatalf("expected parse error when the model never answers, got %v", err)
	}
	if len(chat.reqs) != 2 {
		t.Errorf("loop must stop at max rounds, got %d calls", len(chat.reqs))
	}
}

func TestConverseWithoutToolSupport(t *testing.T) {
	chat := &stubChat{tools: false, replies: []stubReply{contentReply("[]")}}
	cfg := testDeepConfig()
	cfg.LLMToolsEnabled = true
	d := NewDeepClient(cfg, chat, nil, &fakeProfiles{}, NewToolRegistry(nil))

	if _, err := d.converse(context.Background(), "u1", "system", "user"); err != nil {
		t.Fatalf("converse failed: %v", err)
	}
	if len(chat.reqs) != 1 {
		t.Fatalf("expected a single round, got %d", len(chat.reqs))
	}
	if len(chat.reqs[0].Tools) != 0 {
		t.Error("tools must not be offered to a provider without tool support")
	}
}

func TestConverseRejectsUnsolicitedToolCalls(t *testing.T) {
	// A provider without tool support must never lead into the tool loop,
	// even if the model hallucinates a tool request.
	chat := &stubChat{tools: false, replies: []stubReply{
		{msg: ChatMessage{Role: "assistant", ToolCalls: []ToolCall{{
			ID:   "c1",
			Type: "function",
			Function: ToolFunction{
				Name:      "check_personal_dictionary",
				Arguments: `{"word": "teh"}`,
			},
		}}}},
	}}
	d := NewDeepClient(testDeepConfig(), chat, nil, &fakeProfiles{}, nil)

	_, err := d.converse(context.Background(), "u1", "system", "user")
	if !errors.Is(err, ErrLLMParse) {
		t.Fatalf("expected ErrLLMParse, got %v", err)
	}
	if len(chat.reqs) != 1 {
		t.Fatalf("expected a single round, got %d", len(chat.reqs))
	}
}

func TestAnalyzeRecoversPositions(t *testing.T) {
	db := newTestDB(t)
	chat := &stubChat{replies: []stubReply{
		contentReply(`[{"original": "teh", "suggested": "the", "type": "spelling", "confidence": 0.9}]`),
	}}
	d := NewDeepClient(testDeepConfig(), chat, db, &fakeProfiles{}, nil)

	corrections, err := d.Analyze(context.Background(), "u1", "teh cat", false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(corrections) != 1 {
		t.Fatalf("expected 1 correction, got %d", len(corrections))
	}
	c := corrections[0]
	if c.Position == nil || c.Position.Start != 0 || c.Position.End != 3 {
		t.Errorf("unexpected position: %+v", c.Position)
	}
	if c.Tier != TierDeep {
		t.Errorf("expected deep tier, got %q", c.Tier)
	}
}

func TestAnalyzeMultiChunkOffsets(t *testing.T) {
	db := newTestDB(t)
	reply := contentReply(`[{"original": "teh", "suggested": "the"}]`)
	chat := &stubChat{replies: []stubReply{reply, reply}}

	cfg := testDeepConfig()
	cfg.ChunkMaxChars = 10 // force "teh cat" and "teh dog" into separate chunks
	d := NewDeepClient(cfg, chat, db, &fakeProfiles{}, nil)

	text := "teh cat\n\nteh dog"
	corrections, err := d.Analyze(context.Background(), "u1", text, false)
	if err != nil {
		t.Fatalf("Analyze failed: %v", err)
	}
	if len(corrections) != 2 {
		t.Fatalf("expected 2 corrections, got %d", len(corrections))
	}
	if s := corrections[0].Position.Start; s != 0 {
		t.Errorf("first chunk position: got %d, want 0", s)
	}
	if s := corrections[1].Position.Start; s != 9 {
		t.Errorf("second chunk position not rebased: got %d, want 9", s)
	}
	if text[corrections[1].Position.Start:corrections[1].Position.End] != "teh" {
		t.Errorf("rebased position does not cover the original word")
	}
}

func TestAnalyzeDegradesOnParseFailure(t *testing.T) {
	db := newTestDB(t)
	chat := &stubChat{replies: []stubReply{contentReply("I could not find anything.")}}
	d := NewDeepClient(testDeepConfig(), chat, db, &fakeProfiles{}, nil)

	corrections, err := d.Analyze(context.Background(), "u1", "teh cat", false)
	if err != nil {
		t.Fatalf("interactive mode must degrade, got %v", err)
	}
	if len(corrections) != 0 {
		t.Errorf("expected no corrections, got %+v", corrections)
	}
}

func TestAnalyzeRaisesInReviewMode(t *testing.T) {
	db := newTestDB(t)
	chat := &stubChat{replies: []stubReply{contentReply("I could not find anything.")}}
	d := NewDeepClient(testDeepConfig(), chat, db, &fakeProfiles{}, nil)

	if _, err := d.Analyze(context.Background(), "u1", "teh cat", true); !errors.Is(err, ErrLLMParse) {
		t.Fatalf("review mode must surface the failure, got %v", err)
	}
}

func TestAnalyzeSurvivesContextBuildFailure(t *testing.T) {
	db := newTestDB(t)
	chat := &stubChat{replies: []stubReply{contentReply("[]")}}
	d := NewDeepClient(testDeepConfig(), chat, db, &fakeProfiles{err: errors.New("redis down")}, nil)

	if _, err := d.Analyze(context.Background(), "u1", "teh cat", false); err != nil {
		t.Fatalf("missing personalization must not fail analysis: %v", err)
	}
}

func TestBuildDeepPromptsIncludesLookups(t *testing.T) {
	profile := LLMContext{
		WritingLevel: "developing",
		TopErrors:    []string{"teh -> the (4x)"},
		ContextNotes: []string{"prefers minimal intervention"},
	}
	pairs := []ConfusionPair{{WordA: "their", WordB: "there", ConfusionCount: 3}}
	system, user := buildDeepPrompts(profile, []string{"kubernetes"}, pairs, "some text")

	for _, want := range []string{"developing", "teh -> the", "kubernetes", "their / there", "minimal intervention"} {
		if !strings.Contains(system, want) {
			t.Errorf("system prompt missing %q", want)
		}
	}
	if !strings.Contains(user, "some text") {
		t.Errorf("user prompt missing the chunk text")
	}
}
