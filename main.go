package main

import (
	"database/sql"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"
)

// App bundles the wired engines. The correction surface (Router, Detector,
// Profiles) is what a transport layer talks to; the scheduler runs on its
// own behind it.
type App struct {
	DB        *sql.DB
	Cache     Cache
	Quick     *QuickEngine
	Deep      *DeepClient
	Router    *Router
	Detector  *Detector
	Profiles  *ProfileService
	Scheduler *Scheduler
}

func newApp(cfg Config) (*App, error) {
	db, err := InitDB(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("initialize database: %w", err)
	}

	var cache Cache
	if cfg.RedisAddr != "" {
		cache, err = NewRedisCache(cfg.RedisAddr)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("connect to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Printf("Using redis cache at %s", cfg.RedisAddr)
	} else {
		cache = NewMemoryCache()
		log.Printf("REDIS_ADDR not set, using in-process cache")
	}

	table, err := LoadCorrectionTable(cfg.CorrectionTablePath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load correction table: %w", err)
	}
	homophones, err := LoadHomophones(cfg.HomophonesPath)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("load homophone groups: %w", err)
	}

	profiles := NewProfileService(db, cache, homophones, cfg.ProfileCacheTTL(), cfg.LanguageCode)

	quick := NewQuickEngine(
		NewDictionaryModel(table),
		table,
		cache,
		cfg.QuickCacheTTL(),
		time.Duration(cfg.QuickSLAMillis)*time.Millisecond,
	)

	var chat ChatClient
	switch cfg.LLMProvider {
	case "openai":
		chat, err = NewOpenAIChat(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL,
			time.Duration(cfg.LLMConnectTimeout)*time.Second,
			time.Duration(cfg.LLMTotalTimeout)*time.Second)
	default:
		chat, err = NewAnthropicChat(cfg.AnthropicAPIKey)
	}
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create %s client: %w", cfg.LLMProvider, err)
	}

	deep := NewDeepClient(cfg, chat, db, profiles, NewToolRegistry(db))

	return &App{
		DB:        db,
		Cache:     cache,
		Quick:     quick,
		Deep:      deep,
		Router:    NewRouter(quick, deep, cfg.AutoRouteWordLimit),
		Detector:  NewDetector(homophones, profiles),
		Profiles:  profiles,
		Scheduler: NewScheduler(db, cache, profiles, cfg),
	}, nil
}

func main() {
	cfg := LoadConfig()

	app, err := newApp(cfg)
	if err != nil {
		log.Fatalf("Startup failed: %v", err)
	}
	defer app.DB.Close()

	if err := app.Scheduler.Start(); err != nil {
		log.Fatalf("Failed to start scheduler: %v", err)
	}
	defer app.Scheduler.Stop()

	log.Printf("writecoach started (provider=%s model=%s)", cfg.LLMProvider, cfg.LLMModel)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	log.Printf("Shutting down")
}
