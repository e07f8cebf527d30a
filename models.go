package main

import "time"

// Correction tiers.
const (
	TierQuick = "quick"
	TierDeep  = "deep"
)

// Error-log sources.
const (
	SourceQuick         = "quick"
	SourceLLM           = "llm"
	SourceSelfCorrected = "self_corrected"
)

// Position is a half-open [Start, End) byte-offset range into one specific
// text string. A position computed against one text version is meaningless
// against any other.
type Position struct {
	Start int `json:"start"`
	End   int `json:"end"`
}

type Correction struct {
	Original    string    `json:"original"`
	Correction  string    `json:"correction"`
	Position    *Position `json:"position,omitempty"`
	Confidence  float64   `json:"confidence,omitempty"`
	ErrorType   string    `json:"error_type"`
	Tier        string    `json:"tier"`
	Explanation string    `json:"explanation,omitempty"`
}

// TextSnapshot is an immutable capture of a document's text, created on
// idle/save events by the editor layer.
type TextSnapshot struct {
	Text      string
	Timestamp time.Time
	WordCount int
}

func NewTextSnapshot(text string, at time.Time) TextSnapshot {
	return TextSnapshot{Text: text, Timestamp: at, WordCount: countWords(text)}
}

type ErrorPattern struct {
	ID           int64
	UserID       string
	Misspelling  string
	Correction   string
	ErrorType    string
	Frequency    int
	FirstSeen    time.Time
	LastSeen     time.Time
	Improving    bool
	LanguageCode string
}

type ConfusionPair struct {
	ID             int64
	UserID         string
	WordA          string
	WordB          string
	ConfusionCount int
	LastConfusedAt time.Time
}

type DictionaryEntry struct {
	ID     int64
	UserID string
	Word   string
	Source string // "manual" or "auto"
}

// UserCorrection is a self-correction inferred from a snapshot pair.
type UserCorrection struct {
	Original       string
	Corrected      string
	CorrectionType string
	Similarity     float64
}

type ErrorLog struct {
	ID           int64
	UserID       string
	Misspelling  string
	Correction   string
	ErrorType    string
	Source       string
	LanguageCode string
	CreatedAt    time.Time
}

type UserSettings struct {
	UserID                   string
	CorrectionAggressiveness int // 0-100
	LanguageCode             string
}

type WeeklySnapshot struct {
	ID          int64
	UserID      string
	WeekStart   time.Time
	TotalErrors int
	Accuracy    float64
	TopTypes    string // comma-separated "type:count" pairs
	CreatedAt   time.Time
}

// UserProfile is the full aggregated error profile served from one batched
// pattern fetch plus two small lookups.
type UserProfile struct {
	UserID         string
	TopPatterns    []ErrorPattern
	Mastered       []ErrorPattern
	TypeCounts     map[string]int
	TotalPatterns  int
	ConfusionPairs []ConfusionPair
	Dictionary     []DictionaryEntry
}

// LLMContext is the cached personalization aggregate embedded into deep-tier
// prompts. Invalidated on every new logged error for the user.
type LLMContext struct {
	UserID           string         `json:"user_id"`
	WritingLevel     string         `json:"writing_level"`
	TopErrors        []string       `json:"top_errors"`
	TypeBreakdown    map[string]int `json:"type_breakdown"`
	ConfusionPairs   []string       `json:"confusion_pairs"`
	MasteredWords    []string       `json:"mastered_words"`
	ImprovementTrend string         `json:"improvement_trend"`
	RecentErrors     []string       `json:"recent_errors"`
	StreakDays       int            `json:"streak_days"`
	LifetimeErrors   int            `json:"lifetime_errors"`
	RecentTopics     []string       `json:"recent_topics"`
	Aggressiveness   int            `json:"correction_aggressiveness"`
	ContextNotes     []string       `json:"context_notes"`
	BuiltAt          time.Time      `json:"built_at"`
}

// Writing levels derived from total pattern count.
const (
	LevelNewUser      = "new_user"
	LevelDeveloping   = "developing"
	LevelIntermediate = "intermediate"
	LevelAdvanced     = "advanced"
)

// Improvement classifications from DetectImprovement.
const (
	TrendNewUser       = "new_user"
	TrendImproving     = "improving"
	TrendStable        = "stable"
	TrendNeedsPractice = "needs_practice"
)

// masteredAfter is the staleness horizon: a pattern whose last_seen predates
// it is considered mastered. Derived at read time, never stored.
const masteredAfter = 14 * 24 * time.Hour

func writingLevel(totalPatterns int) string {
	switch {
	case totalPatterns == 0:
		return LevelNewUser
	case totalPatterns < 20:
		return LevelDeveloping
	case totalPatterns < 50:
		return LevelIntermediate
	default:
		return LevelAdvanced
	}
}

func countWords(text string) int {
	inWord := false
	n := 0
	for _, r := range text {
		switch r {
		case ' ', '\t', '\n', '\r', '\v', '\f':
			inWord = false
		default:
			if !inWord {
				n++
			}
			inWord = true
		}
	}
	return n
}
