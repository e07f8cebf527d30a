package main

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
)

// LLM failure taxonomy. Only connection-establishment failures are retried.
var (
	ErrLLMConnection = errors.New("llm connection failure")
	ErrLLMTimeout    = errors.New("llm timeout")
	ErrLLMStatus     = errors.New("llm http status error")
	ErrLLMParse      = errors.New("llm parse error")
	ErrLLMConfig     = errors.New("llm configuration error")
)

// Chat wire types, matching the chat-completions shape
// {model, messages[], temperature, max_tokens, tools?} ->
// {choices:[{message:{content?|tool_calls?}}]}.

type ChatMessage struct {
	Role       string     `json:"role"`
	Content    string     `json:"content,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
	Name       string     `json:"name,omitempty"`
}

type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolFunction `json:"function"`
}

type ToolFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

type ToolDef struct {
	Type     string          `json:"type"`
	Function ToolDefFunction `json:"function"`
}

type ToolDefFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

type ChatRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	Tools       []ToolDef     `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// ChatClient abstracts the LLM collaborator.
type ChatClient interface {
	Chat(ctx context.Context, req ChatRequest) (ChatMessage, error)
	SupportsTools() bool
}

// --- OpenAI-compatible provider (hand-rolled, with tool support) ---

type openAIChat struct {
	apiKey  string
	baseURL string
	client  *http.Client
}

func NewOpenAIChat(apiKey, baseURL string, connectTimeout, totalTimeout time.Duration) (*openAIChat, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing OpenAI API key", ErrLLMConfig)
	}
	if baseURL == "" {
		baseURL = "https://api.openai.com"
	}
	transport := &http.Transport{
		// Connect timeout is kept shorter than the request total so a dial
		// failure is distinguishable from a slow response.
		DialContext: (&net.Dialer{Timeout: connectTimeout}).DialContext,
	}
	return &openAIChat{
		apiKey:  apiKey,
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Transport: transport, Timeout: totalTimeout},
	}, nil
}

func (c *openAIChat) SupportsTools() bool { return true }

func (c *openAIChat) Chat(ctx context.Context, req ChatRequest) (ChatMessage, error) {
	bodyBytes, err := json.Marshal(req)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("marshaling request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/v1/chat/completions", bytes.NewReader(bodyBytes))
	if err != nil {
		return ChatMessage{}, fmt.Errorf("creating request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return ChatMessage{}, classifyTransportErr(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return ChatMessage{}, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return ChatMessage{}, fmt.Errorf("%w: status %d: %s", ErrLLMStatus, resp.StatusCode, truncateForLog(string(respBody), 256))
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return ChatMessage{}, fmt.Errorf("%w: %v", ErrLLMParse, err)
	}
	if parsed.Error != nil {
		return ChatMessage{}, fmt.Errorf("%w: %s", ErrLLMStatus, parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return ChatMessage{}, fmt.Errorf("%w: no choices in response", ErrLLMParse)
	}
	return parsed.Choices[0].Message, nil
}

// classifyTransportErr sorts a transport error into the taxonomy: dial
// failures are retryable connection failures, deadline hits are timeouts.
func classifyTransportErr(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrLLMTimeout, err)
	}
	var urlErr *url.Error
	if errors.As(err, &urlErr) && urlErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrLLMTimeout, err)
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrLLMTimeout, err)
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return fmt.Errorf("%w: %v", ErrLLMConnection, err)
	}
	// Connection reset / refused without an OpError wrapper.
	if strings.Contains(err.Error(), "connection refused") || strings.Contains(err.Error(), "no such host") {
		return fmt.Errorf("%w: %v", ErrLLMConnection, err)
	}
	return err
}

// --- Anthropic provider (SDK, content-only) ---

type anthropicChat struct {
	client anthropic.Client
}

func NewAnthropicChat(apiKey string) (*anthropicChat, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing Anthropic API key", ErrLLMConfig)
	}
	return &anthropicChat{client: anthropic.NewClient(option.WithAPIKey(apiKey))}, nil
}

func (c *anthropicChat) SupportsTools() bool { return false }

func (c *anthropicChat) Chat(ctx context.Context, req ChatRequest) (ChatMessage, error) {
	var system []anthropic.TextBlockParam
	var messages []anthropic.MessageParam
	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			system = append(system, anthropic.TextBlockParam{
				Text: m.Content, CacheControl: anthropic.NewCacheControlEphemeralParam(),
			})
		case "assistant":
			messages = append(messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			messages = append(messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}

	message, err := c.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:       anthropic.Model(req.Model),
		MaxTokens:   int64(req.MaxTokens),
		Temperature: anthropic.Float(req.Temperature),
		System:      system,
		Messages:    messages,
	})
	if err != nil {
		return ChatMessage{}, classifyTransportErr(err)
	}

	for _, block := range message.Content {
		if block.Type == "text" {
			return ChatMessage{Role: "assistant", Content: block.Text}, nil
		}
	}
	return ChatMessage{}, fmt.Errorf("%w: no text content in Anthropic response", ErrLLMParse)
}

// --- Deep analysis client ---

type contextProvider interface {
	BuildLLMContext(ctx context.Context, userID string) (LLMContext, error)
}

type DeepClient struct {
	chat     ChatClient
	db       *sql.DB
	profiles contextProvider
	tools    *ToolRegistry

	model         string
	maxTokens     int
	temperature   float64
	chunkMaxChars int
	retryBackoff  time.Duration
	toolsEnabled  bool
	toolMaxRounds int
}

func NewDeepClient(cfg Config, chat ChatClient, db *sql.DB, profiles contextProvider, tools *ToolRegistry) *DeepClient {
	return &DeepClient{
		chat:          chat,
		db:            db,
		profiles:      profiles,
		tools:         tools,
		model:         cfg.LLMModel,
		maxTokens:     cfg.LLMMaxTokens,
		temperature:   cfg.LLMTemperature,
		chunkMaxChars: cfg.ChunkMaxChars,
		retryBackoff:  time.Duration(cfg.LLMRetryBackoffMS) * time.Millisecond,
		toolsEnabled:  cfg.LLMToolsEnabled,
		toolMaxRounds: cfg.LLMToolMaxRounds,
	}
}

// Analyze runs deep analysis over every chunk of text. With raiseOnError
// unset, a failed chunk degrades to zero corrections for that chunk; with it
// set the first failure aborts the whole call (document review mode).
func (d *DeepClient) Analyze(ctx context.Context, userID, text string, raiseOnError bool) ([]Correction, error) {
	chunks := ChunkText(text, d.chunkMaxChars)

	var all []Correction
	offset := 0
	for i, chunk := range chunks {
		offset += len(chunk.Sep)
		if strings.TrimSpace(chunk.Text) == "" {
			offset += len(chunk.Text)
			continue
		}
		corrections, err := d.analyzeChunk(ctx, userID, chunk.Text, raiseOnError)
		if err != nil {
			if raiseOnError {
				return nil, fmt.Errorf("chunk %d: %w", i, err)
			}
			log.Printf("deep analyze chunk=%d user=%s degraded: %v", i, userID, err)
			offset += len(chunk.Text)
			continue
		}
		shiftPositions(corrections, offset)
		all = append(all, corrections...)
		offset += len(chunk.Text)
	}
	return all, nil
}

func (d *DeepClient) analyzeChunk(ctx context.Context, userID, chunkText string, hardFail bool) ([]Correction, error) {
	profile, err := d.profiles.BuildLLMContext(ctx, userID)
	if err != nil {
		// Personalization is an enhancement, not a prerequisite.
		log.Printf("deep context build failed user=%s: %v", userID, err)
		profile = LLMContext{UserID: userID}
	}

	dictWords, pairs := d.resolveStaticLookups(userID, chunkText)
	systemPrompt, userPrompt := buildDeepPrompts(profile, dictWords, pairs, chunkText)

	msg, err := d.converse(ctx, userID, systemPrompt, userPrompt)
	if err != nil {
		return nil, err
	}

	corrections, err := parseDeepResponse(msg.Content)
	if err != nil {
		if hardFail {
			return nil, err
		}
		log.Printf("deep parse error user=%s: %v", userID, err)
		return nil, nil
	}

	recoverPositions(chunkText, corrections)
	return corrections, nil
}

// resolveStaticLookups answers locally what the model would otherwise burn
// tool rounds on: which chunk words are in the personal dictionary, and
// which stored confusion pairs are relevant to this chunk.
func (d *DeepClient) resolveStaticLookups(userID, chunkText string) ([]string, []ConfusionPair) {
	words := make(map[string]bool)
	for _, w := range strings.Fields(chunkText) {
		words[normalizeWord(strings.Trim(w, punctCutset))] = true
	}

	var dictWords []string
	if entries, err := GetDictionary(d.db, userID); err == nil {
		for _, e := range entries {
			if words[e.Word] {
				dictWords = append(dictWords, e.Word)
			}
		}
	} else {
		log.Printf("deep dictionary lookup failed user=%s: %v", userID, err)
	}

	var relevant []ConfusionPair
	if pairs, err := GetConfusionPairs(d.db, userID); err == nil {
		for _, p := range pairs {
			if words[p.WordA] || words[p.WordB] {
				relevant = append(relevant, p)
			}
		}
	} else {
		log.Printf("deep confusion lookup failed user=%s: %v", userID, err)
	}
	return dictWords, relevant
}

// converse drives the bounded tool-calling loop. The final round omits tool
// definitions so the model must emit a terminal content response.
func (d *DeepClient) converse(ctx context.Context, userID, systemPrompt, userPrompt string) (ChatMessage, error) {
	messages := []ChatMessage{
		{Role: "system", Content: systemPrompt},
		{Role: "user", Content: userPrompt},
	}

	useTools := d.toolsEnabled && d.chat.SupportsTools() && d.tools != nil

	rounds := 1
	if useTools {
		rounds = d.toolMaxRounds
	}
	for round := 1; round <= rounds; round++ {
		req := ChatRequest{
			Model:       d.model,
			Messages:    messages,
			Temperature: d.temperature,
			MaxTokens:   d.maxTokens,
		}
		if useTools && round < rounds {
			req.Tools = d.tools.Definitions()
		}

		msg, err := d.callWithRetry(ctx, req)
		if err != nil {
			return ChatMessage{}, err
		}
		if len(msg.ToolCalls) == 0 {
			return msg, nil
		}
		if !useTools {
			// None were offered, so a tool request is a malformed response.
			return ChatMessage{}, fmt.Errorf("%w: model requested tools that were never offered", ErrLLMParse)
		}

		messages = append(messages, msg)
		for _, call := range msg.ToolCalls {
			result := d.tools.Execute(ctx, call.Function.Name, userID, json.RawMessage(call.Function.Arguments))
			messages = append(messages, ChatMessage{
				Role:       "tool",
				ToolCallID: call.ID,
				Name:       call.Function.Name,
				Content:    result,
			})
		}
	}
	return ChatMessage{}, fmt.Errorf("%w: model kept requesting tools after %d rounds", ErrLLMParse, rounds)
}

// callWithRetry makes exactly two attempts, exponential backoff between
// them, and retries only connection-establishment failures. Timeouts and
// HTTP status errors propagate immediately.
func (d *DeepClient) callWithRetry(ctx context.Context, req ChatRequest) (ChatMessage, error) {
	const attempts = 2
	var lastErr error
	backoff := d.retryBackoff
	for attempt := 1; attempt <= attempts; attempt++ {
		msg, err := d.chat.Chat(ctx, req)
		if err == nil {
			return msg, nil
		}
		lastErr = err
		if !errors.Is(err, ErrLLMConnection) || attempt == attempts {
			return ChatMessage{}, err
		}
		log.Printf("deep llm connection failure attempt=%d, retrying in %s: %v", attempt, backoff, err)
		select {
		case <-time.After(backoff):
		case <-ctx.Done():
			return ChatMessage{}, ctx.Err()
		}
		backoff *= 2
	}
	return ChatMessage{}, lastErr
}

func buildDeepPrompts(profile LLMContext, dictWords []string, pairs []ConfusionPair, chunkText string) (string, string) {
	var ctxLines strings.Builder
	if profile.WritingLevel != "" {
		ctxLines.WriteString(fmt.Sprintf("- writing level: %s\n", profile.WritingLevel))
	}
	for _, e := range profile.TopErrors {
		ctxLines.WriteString(fmt.Sprintf("- frequent error: %s\n", e))
	}
	for _, p := range profile.ConfusionPairs {
		ctxLines.WriteString(fmt.Sprintf("- often confuses: %s\n", p))
	}
	for _, n := range profile.ContextNotes {
		ctxLines.WriteString(fmt.Sprintf("- note: %s\n", n))
	}
	contextBlock := "none"
	if ctxLines.Len() > 0 {
		contextBlock = ctxLines.String()
	}

	dictBlock := "none"
	if len(dictWords) > 0 {
		dictBlock = strings.Join(dictWords, ", ")
	}

	var pairLines strings.Builder
	for _, p := range pairs {
		pairLines.WriteString(fmt.Sprintf("- %s / %s (seen %d times)\n", p.WordA, p.WordB, p.ConfusionCount))
	}
	pairBlock := "none"
	if pairLines.Len() > 0 {
		pairBlock = pairLines.String()
	}

	systemPrompt := fmt.Sprintf(`You are a writing-correction assistant. Find spelling, homophone and grammar errors in the user's text.

Writer profile:
%s
Words in this writer's personal dictionary (never flag these):
%s
Known confusion pairs for this writer (watch for these):
%s
For each error, set type to one of: spelling, homophone, grammar, letter_reversal, omission, phonetic.
Only report words that actually appear in the text, verbatim.

Respond with JSON only (no markdown):
[{"original": "teh", "suggested": "the", "type": "spelling", "confidence": 0.95}, ...]`,
		contextBlock, dictBlock, pairBlock)

	userPrompt := "Check this text:\n\n" + chunkText
	return systemPrompt, userPrompt
}

type deepItem struct {
	Original   string  `json:"original"`
	Suggested  string  `json:"suggested"`
	Type       string  `json:"type"`
	Confidence float64 `json:"confidence"`
}

// parseDeepResponse strips optional Markdown code fences and parses the JSON
// array of corrections.
func parseDeepResponse(responseText string) ([]Correction, error) {
	responseText = strings.TrimSpace(responseText)
	responseText = strings.TrimPrefix(responseText, "```json")
	responseText = strings.TrimPrefix(responseText, "```")
	responseText = strings.TrimSuffix(responseText, "```")
	responseText = strings.TrimSpace(responseText)

	if responseText == "" {
		return nil, fmt.Errorf("%w: empty response", ErrLLMParse)
	}

	var items []deepItem
	if err := json.Unmarshal([]byte(responseText), &items); err != nil {
		return nil, fmt.Errorf("%w: %v (response: %s)", ErrLLMParse, err, truncateForLog(responseText, 512))
	}

	corrections := make([]Correction, 0, len(items))
	for _, item := range items {
		if strings.TrimSpace(item.Original) == "" {
			continue
		}
		errType := strings.TrimSpace(item.Type)
		if errType == "" {
			errType = "spelling"
		}
		corrections = append(corrections, Correction{
			Original:   item.Original,
			Correction: item.Suggested,
			Confidence: item.Confidence,
			ErrorType:  errType,
			Tier:       TierDeep,
		})
	}
	return corrections, nil
}

func truncateForLog(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + fmt.Sprintf("... [truncated, total_length=%d]", len(s))
}
