package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

const (
	autoAddMinFrequency   = 3
	retrainUpdateWindow   = 7 * 24 * time.Hour
	retrainUpdateMinCount = 50
	retrainFlagTTL        = 7 * 24 * time.Hour
)

// Scheduler runs the maintenance jobs on cron schedules. Jobs are serialized
// behind one mutex so overlapping fires of different job types cannot write
// to the same rows concurrently. Within a job, a single user's failure is
// logged and skipped so it never takes down the rest of the batch.
type Scheduler struct {
	db       *sql.DB
	cache    Cache
	profiles *ProfileService
	cfg      Config
	cron     *cron.Cron

	mu  sync.Mutex
	now func() time.Time
}

func NewScheduler(db *sql.DB, cache Cache, profiles *ProfileService, cfg Config) *Scheduler {
	return &Scheduler{
		db:       db,
		cache:    cache,
		profiles: profiles,
		cfg:      cfg,
		now:      time.Now,
	}
}

func (s *Scheduler) Start() error {
	s.cron = cron.New()

	type jobSpec struct {
		name     string
		schedule string
		run      func(context.Context) error
	}
	jobs := []jobSpec{
		{"dictionary-auto-add", s.cfg.DictionaryJobSchedule, s.RunDictionaryAutoAdd},
		{"retrain-flag", s.cfg.RetrainJobSchedule, s.RunRetrainCheck},
		{"improvement-detection", s.cfg.ImprovementJobSchedule, s.RunImprovementDetection},
		{"weekly-snapshot", s.cfg.SnapshotJobSchedule, s.RunWeeklySnapshots},
	}
	if s.cfg.RetentionEnabled {
		jobs = append(jobs, jobSpec{"log-retention", s.cfg.RetentionJobSchedule, s.RunRetention})
	}

	for _, j := range jobs {
		j := j
		if _, err := s.cron.AddFunc(j.schedule, func() {
			s.runExclusive(j.name, j.run)
		}); err != nil {
			return fmt.Errorf("schedule %s (%q): %w", j.name, j.schedule, err)
		}
		log.Printf("Scheduled %s at %q", j.name, j.schedule)
	}

	s.cron.Start()
	return nil
}

func (s *Scheduler) Stop() {
	if s.cron != nil {
		ctx := s.cron.Stop()
		<-ctx.Done()
	}
}

func (s *Scheduler) runExclusive(name string, run func(context.Context) error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := s.now()
	if err := run(context.Background()); err != nil {
		log.Printf("Job %s failed: %v", name, err)
		return
	}
	log.Printf("Job %s completed in %v", name, s.now().Sub(start).Round(time.Millisecond))
}

// RunDictionaryAutoAdd promotes stubborn "errors" into the personal
// dictionary: a pattern the user has repeated at least three times without
// ever adopting the correction is treated as deliberate spelling.
func (s *Scheduler) RunDictionaryAutoAdd(ctx context.Context) error {
	users, err := GetActiveUserIDs(s.db)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	added := 0
	for _, userID := range users {
		patterns, err := GetNoChangePatterns(s.db, userID, autoAddMinFrequency)
		if err != nil {
			log.Printf("dictionary auto-add: user %s skipped: %v", userID, err)
			continue
		}
		for _, p := range patterns {
			if err := s.profiles.AddToDictionary(ctx, userID, p.Misspelling, "auto"); err != nil {
				log.Printf("dictionary auto-add: user %s word %q: %v", userID, p.Misspelling, err)
				continue
			}
			added++
		}
	}
	if added > 0 {
		log.Printf("dictionary auto-add: %d words added", added)
	}
	return nil
}

// RunRetrainCheck flags users whose profile churned enough this week that the
// quick tier's personalized model is worth rebuilding. The flag is a cache
// key an offline trainer polls; it expires on its own if nothing consumes it.
func (s *Scheduler) RunRetrainCheck(ctx context.Context) error {
	users, err := GetActiveUserIDs(s.db)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, userID := range users {
		n, err := CountPatternUpdatesSince(s.db, userID, s.now().Add(-retrainUpdateWindow))
		if err != nil {
			log.Printf("retrain check: user %s skipped: %v", userID, err)
			continue
		}
		if n < retrainUpdateMinCount {
			continue
		}
		if err := s.cache.Set(ctx, retrainKey(userID), "1", retrainFlagTTL); err != nil {
			log.Printf("retrain check: flag user %s: %v", userID, err)
			continue
		}
		log.Printf("retrain check: user %s flagged (%d pattern updates)", userID, n)
	}
	return nil
}

func (s *Scheduler) RunImprovementDetection(ctx context.Context) error {
	users, err := GetActiveUserIDs(s.db)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	for _, userID := range users {
		trend, changed, err := s.profiles.DetectImprovement(ctx, userID)
		if err != nil {
			log.Printf("improvement detection: user %s skipped: %v", userID, err)
			continue
		}
		if changed {
			log.Printf("improvement detection: user %s trend=%s", userID, trend)
		}
	}
	return nil
}

// RunWeeklySnapshots records one aggregate row per user for the trailing
// week; the row is upserted so a re-run within the same week is idempotent.
func (s *Scheduler) RunWeeklySnapshots(ctx context.Context) error {
	users, err := GetActiveUserIDs(s.db)
	if err != nil {
		return fmt.Errorf("list users: %w", err)
	}
	now := s.now()
	weekStart := startOfWeek(now)
	for _, userID := range users {
		snap, err := s.buildWeeklySnapshot(userID, weekStart, now)
		if err != nil {
			log.Printf("weekly snapshot: user %s skipped: %v", userID, err)
			continue
		}
		if err := InsertWeeklySnapshot(s.db, snap); err != nil {
			log.Printf("weekly snapshot: user %s save failed: %v", userID, err)
		}
	}
	return nil
}

func (s *Scheduler) buildWeeklySnapshot(userID string, weekStart, now time.Time) (WeeklySnapshot, error) {
	counts, err := GetErrorCountsByTypeBetween(s.db, userID, weekStart, now)
	if err != nil {
		return WeeklySnapshot{}, err
	}
	total := 0
	for _, n := range counts {
		total += n
	}

	patterns, err := GetPatternsByUser(s.db, userID)
	if err != nil {
		return WeeklySnapshot{}, err
	}
	improving := 0
	for _, p := range patterns {
		if p.Improving {
			improving++
		}
	}
	accuracy := 0.0
	if len(patterns) > 0 {
		accuracy = float64(improving) / float64(len(patterns))
	}

	return WeeklySnapshot{
		UserID:      userID,
		WeekStart:   weekStart,
		TotalErrors: total,
		Accuracy:    accuracy,
		TopTypes:    formatTypeCounts(counts),
	}, nil
}

func (s *Scheduler) RunRetention(ctx context.Context) error {
	cutoff := s.now().AddDate(0, 0, -s.cfg.RetentionDays)
	n, err := DeleteLogsOlderThan(s.db, cutoff)
	if err != nil {
		return fmt.Errorf("prune error logs: %w", err)
	}
	if n > 0 {
		log.Printf("retention: pruned %d error logs older than %s", n, cutoff.Format("2006-01-02"))
	}
	return nil
}

// startOfWeek truncates to the preceding Monday at midnight local time.
func startOfWeek(t time.Time) time.Time {
	t = time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	offset := (int(t.Weekday()) + 6) % 7
	return t.AddDate(0, 0, -offset)
}

func formatTypeCounts(counts map[string]int) string {
	type kv struct {
		k string
		n int
	}
	sorted := make([]kv, 0, len(counts))
	for k, n := range counts {
		sorted = append(sorted, kv{k, n})
	}
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].n != sorted[j].n {
			return sorted[i].n > sorted[j].n
		}
		return sorted[i].k < sorted[j].k
	})
	parts := make([]string, len(sorted))
	for i, e := range sorted {
		parts[i] = fmt.Sprintf("%s:%d", e.k, e.n)
	}
	return strings.Join(parts, ",")
}
