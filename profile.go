package main

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"
)

const (
	profileTopN          = 10
	recentErrorsForCtx   = 5
	recentTopicsForCtx   = 5
	enrichmentFanoutMax  = 4
	homophoneShareNote   = 0.30
	aggressivenessLowCut = 30
	aggressivenessHiCut  = 70
)

// ProfileService owns the per-user error profile: aggregation, the
// personalization context served to the deep tier, and both caches. It is
// the sole writer of patterns, confusion pairs and the dictionary.
type ProfileService struct {
	db         *sql.DB
	cache      Cache
	homophones *HomophoneSet
	cacheTTL   time.Duration
	language   string
	now        func() time.Time
}

func NewProfileService(db *sql.DB, cache Cache, homophones *HomophoneSet, cacheTTL time.Duration, language string) *ProfileService {
	return &ProfileService{
		db:         db,
		cache:      cache,
		homophones: homophones,
		cacheTTL:   cacheTTL,
		language:   language,
		now:        time.Now,
	}
}

// GetFullProfile serves the aggregated profile from one batched pattern
// query split in memory, plus two small lookups. Cached 10 minutes.
func (s *ProfileService) GetFullProfile(ctx context.Context, userID string) (UserProfile, error) {
	if cached, ok, err := s.cache.Get(ctx, profileKey(userID)); err == nil && ok {
		var p UserProfile
		if err := json.Unmarshal([]byte(cached), &p); err == nil {
			return p, nil
		}
	}

	patterns, err := GetPatternsByUser(s.db, userID)
	if err != nil {
		return UserProfile{}, fmt.Errorf("fetch patterns: %w", err)
	}

	cutoff := s.now().Add(-masteredAfter)
	profile := UserProfile{
		UserID:        userID,
		TypeCounts:    make(map[string]int),
		TotalPatterns: len(patterns),
	}
	for _, p := range patterns {
		profile.TypeCounts[p.ErrorType] += p.Frequency
		if p.LastSeen.Before(cutoff) {
			profile.Mastered = append(profile.Mastered, p)
		}
		if len(profile.TopPatterns) < profileTopN {
			profile.TopPatterns = append(profile.TopPatterns, p)
		}
	}

	if pairs, err := GetConfusionPairs(s.db, userID); err == nil {
		profile.ConfusionPairs = pairs
	} else {
		log.Printf("profile confusion fetch failed user=%s: %v", userID, err)
	}
	if dict, err := GetDictionary(s.db, userID); err == nil {
		profile.Dictionary = dict
	} else {
		log.Printf("profile dictionary fetch failed user=%s: %v", userID, err)
	}

	if payload, err := json.Marshal(profile); err == nil {
		if err := s.cache.Set(ctx, profileKey(userID), string(payload), s.cacheTTL); err != nil {
			log.Printf("profile cache set failed user=%s: %v", userID, err)
		}
	}
	return profile, nil
}

// BuildLLMContext assembles the personalization context for deep prompts:
// the batched pattern fetch plus a bounded concurrent gather of independent
// enrichment reads. Each enrichment source is fault-isolated: a failure
// yields that signal's default without failing the build. Cached 10 minutes.
func (s *ProfileService) BuildLLMContext(ctx context.Context, userID string) (LLMContext, error) {
	if cached, ok, err := s.cache.Get(ctx, llmContextKey(userID)); err == nil && ok {
		var c LLMContext
		if err := json.Unmarshal([]byte(cached), &c); err == nil {
			return c, nil
		}
	}

	patterns, err := GetPatternsByUser(s.db, userID)
	if err != nil {
		return LLMContext{}, fmt.Errorf("fetch patterns: %w", err)
	}

	now := s.now()
	out := LLMContext{
		UserID:        userID,
		WritingLevel:  writingLevel(len(patterns)),
		TypeBreakdown: make(map[string]int),
		BuiltAt:       now,
	}
	cutoff := now.Add(-masteredAfter)
	for _, p := range patterns {
		out.TypeBreakdown[p.ErrorType] += p.Frequency
		if len(out.TopErrors) < profileTopN {
			out.TopErrors = append(out.TopErrors, fmt.Sprintf("%s -> %s (%dx)", p.Misspelling, p.Correction, p.Frequency))
		}
		if p.LastSeen.Before(cutoff) {
			out.MasteredWords = append(out.MasteredWords, p.Misspelling)
		}
	}

	// Independent enrichment reads, gathered concurrently. Each task
	// swallows its own failure into a default so one broken source cannot
	// block or fail the rest.
	settings := UserSettings{UserID: userID, CorrectionAggressiveness: 50, LanguageCode: s.language}

	var g errgroup.Group
	g.SetLimit(enrichmentFanoutMax)

	g.Go(func() error {
		trend, err := s.computeTrend(userID, now)
		if err != nil {
			log.Printf("llm context trend failed user=%s: %v", userID, err)
			trend = TrendStable
		}
		out.ImprovementTrend = trend
		return nil
	})
	g.Go(func() error {
		total, err := GetLifetimeErrorCount(s.db, userID)
		if err != nil {
			log.Printf("llm context lifetime stats failed user=%s: %v", userID, err)
			total = 0
		}
		out.LifetimeErrors = total
		return nil
	})
	g.Go(func() error {
		streak, err := CountDistinctLogDays(s.db, userID, now)
		if err != nil {
			log.Printf("llm context streak failed user=%s: %v", userID, err)
			streak = 0
		}
		out.StreakDays = streak
		return nil
	})
	g.Go(func() error {
		logs, err := GetRecentLogs(s.db, userID, recentErrorsForCtx)
		if err != nil {
			log.Printf("llm context recent errors failed user=%s: %v", userID, err)
			return nil
		}
		var recent []string
		for _, e := range logs {
			recent = append(recent, fmt.Sprintf("%s -> %s", e.Misspelling, e.Correction))
		}
		out.RecentErrors = mergeUnique(nil, recent, recentErrorsForCtx)
		return nil
	})
	g.Go(func() error {
		got, err := GetUserSettings(s.db, userID)
		if err != nil {
			log.Printf("llm context settings failed user=%s: %v", userID, err)
			return nil
		}
		settings = got
		return nil
	})
	g.Go(func() error {
		titles, err := GetRecentDocumentTitles(s.db, userID, recentTopicsForCtx)
		if err != nil {
			log.Printf("llm context topics failed user=%s: %v", userID, err)
			return nil
		}
		out.RecentTopics = titles
		return nil
	})
	g.Go(func() error {
		pairs, err := GetConfusionPairs(s.db, userID)
		if err != nil {
			log.Printf("llm context confusion pairs failed user=%s: %v", userID, err)
			return nil
		}
		for _, p := range pairs {
			out.ConfusionPairs = append(out.ConfusionPairs, p.WordA+" / "+p.WordB)
		}
		return nil
	})
	_ = g.Wait() // tasks swallow their own failures

	out.Aggressiveness = settings.CorrectionAggressiveness
	out.ContextNotes = buildContextNotes(out.TypeBreakdown, settings.CorrectionAggressiveness)

	if payload, err := json.Marshal(out); err == nil {
		if err := s.cache.Set(ctx, llmContextKey(userID), string(payload), s.cacheTTL); err != nil {
			log.Printf("llm context cache set failed user=%s: %v", userID, err)
		}
	}
	return out, nil
}

// buildContextNotes emits natural-language guidance when breakdown shares or
// settings cross fixed thresholds.
func buildContextNotes(breakdown map[string]int, aggressiveness int) []string {
	var notes []string
	total := 0
	for _, n := range breakdown {
		total += n
	}
	if total > 0 {
		homophone := breakdown["homophone"] + breakdown["phonetic"]
		if float64(homophone)/float64(total) > homophoneShareNote {
			notes = append(notes, "This writer's errors are dominated by homophone confusion; double-check sound-alike words.")
		}
	}
	if aggressiveness < aggressivenessLowCut {
		notes = append(notes, "The writer prefers minimal intervention; only flag clear errors.")
	} else if aggressiveness > aggressivenessHiCut {
		notes = append(notes, "The writer wants aggressive correction; flag style issues as well as errors.")
	}
	return notes
}

// LogError is the single write path into the profile: raw log row, pattern
// upsert-increment, confusion-pair upsert for homophone-class errors, then
// cache invalidation. Invalidation happens strictly after the writes so a
// concurrent reader cannot repopulate a stale cache mid-update.
func (s *ProfileService) LogError(ctx context.Context, userID, misspelling, correction, errorType, source string) error {
	now := s.now()

	if err := InsertErrorLog(s.db, ErrorLog{
		UserID:       userID,
		Misspelling:  misspelling,
		Correction:   correction,
		ErrorType:    errorType,
		Source:       source,
		LanguageCode: s.language,
	}); err != nil {
		return fmt.Errorf("insert error log: %w", err)
	}

	if err := UpsertErrorPattern(s.db, userID, misspelling, correction, errorType, s.language, now); err != nil {
		return fmt.Errorf("upsert pattern: %w", err)
	}

	if s.isHomophoneClass(errorType, misspelling, correction) {
		if err := UpsertConfusionPair(s.db, userID, misspelling, correction, now); err != nil {
			return fmt.Errorf("upsert confusion pair: %w", err)
		}
	}

	s.invalidate(ctx, userID)
	return nil
}

func (s *ProfileService) isHomophoneClass(errorType, a, b string) bool {
	if errorType == "homophone" {
		return true
	}
	return s.homophones != nil && s.homophones.ArePair(a, b)
}

func (s *ProfileService) invalidate(ctx context.Context, userID string) {
	if err := s.cache.Delete(ctx, profileKey(userID)); err != nil {
		log.Printf("profile cache invalidate failed user=%s: %v", userID, err)
	}
	if err := s.cache.Delete(ctx, llmContextKey(userID)); err != nil {
		log.Printf("llm context cache invalidate failed user=%s: %v", userID, err)
	}
}

// computeTrend compares error volume in the trailing 14 days against the 14
// days before that.
func (s *ProfileService) computeTrend(userID string, now time.Time) (string, error) {
	recentStart := now.Add(-masteredAfter)
	priorStart := now.Add(-2 * masteredAfter)

	recent, err := CountErrorsBetween(s.db, userID, recentStart, now)
	if err != nil {
		return "", err
	}
	prior, err := CountErrorsBetween(s.db, userID, priorStart, recentStart)
	if err != nil {
		return "", err
	}
	return classifyTrend(recent, prior), nil
}

func classifyTrend(recent, prior int) string {
	switch {
	case recent == 0 && prior == 0:
		return TrendNewUser
	case prior == 0:
		return TrendStable
	case float64(recent) < float64(prior)*0.7:
		return TrendImproving
	case float64(recent) > float64(prior)*1.3:
		return TrendNeedsPractice
	default:
		return TrendStable
	}
}

// DetectImprovement recomputes the user's trend and bulk-flips the improving
// flag: set on patterns stale past the 14-day cutoff, cleared on the rest.
// Caches are invalidated when any flag changed.
func (s *ProfileService) DetectImprovement(ctx context.Context, userID string) (string, bool, error) {
	now := s.now()
	trend, err := s.computeTrend(userID, now)
	if err != nil {
		return "", false, fmt.Errorf("compute trend: %w", err)
	}

	changed, err := SetImprovingByCutoff(s.db, userID, now.Add(-masteredAfter))
	if err != nil {
		return "", false, fmt.Errorf("flip improving flags: %w", err)
	}
	if changed > 0 {
		s.invalidate(ctx, userID)
	}
	return trend, changed > 0, nil
}

// AddToDictionary records a word the user does not want flagged and drops
// the cached profile so the next read sees it.
func (s *ProfileService) AddToDictionary(ctx context.Context, userID, word, source string) error {
	if err := AddDictionaryEntry(s.db, userID, word, source); err != nil {
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func mergeUnique(base, extra []string, limit int) []string {
	seen := make(map[string]bool, len(base))
	for _, s := range base {
		seen[strings.ToLower(s)] = true
	}
	out := base
	for _, s := range extra {
		if len(out) >= limit {
			break
		}
		if seen[strings.ToLower(s)] {
			continue
		}
		seen[strings.ToLower(s)] = true
		out = append(out, s)
	}
	return out
}
