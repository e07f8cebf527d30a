package main

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	LLMProvider     string `yaml:"llm_provider"`
	LLMModel        string `yaml:"llm_model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`

	LLMMaxTokens      int     `yaml:"llm_max_tokens"`
	LLMTemperature    float64 `yaml:"llm_temperature"`
	LLMConnectTimeout int     `yaml:"llm_connect_timeout_seconds"`
	LLMTotalTimeout   int     `yaml:"llm_total_timeout_seconds"`
	LLMRetryBackoffMS int     `yaml:"llm_retry_backoff_ms"`
	LLMToolsEnabled   bool    `yaml:"llm_tools_enabled"`
	LLMToolMaxRounds  int     `yaml:"llm_tool_max_rounds"`

	ChunkMaxChars      int `yaml:"chunk_max_chars"`
	AutoRouteWordLimit int `yaml:"auto_route_word_limit"`

	QuickCacheTTLSeconds int `yaml:"quick_cache_ttl_seconds"`
	QuickSLAMillis       int `yaml:"quick_sla_ms"`

	ProfileCacheTTLMinutes int `yaml:"profile_cache_ttl_minutes"`

	DBPath    string `yaml:"db_path"`
	RedisAddr string `yaml:"redis_addr"`

	DictionaryJobSchedule  string `yaml:"dictionary_job_schedule"`
	RetrainJobSchedule     string `yaml:"retrain_job_schedule"`
	ImprovementJobSchedule string `yaml:"improvement_job_schedule"`
	SnapshotJobSchedule    string `yaml:"snapshot_job_schedule"`
	RetentionJobSchedule   string `yaml:"retention_job_schedule"`
	RetentionEnabled       bool   `yaml:"retention_enabled"`
	RetentionDays          int    `yaml:"retention_days"`

	CorrectionTablePath string `yaml:"correction_table_path"`
	HomophonesPath      string `yaml:"homophones_path"`

	LanguageCode string `yaml:"language_code"`
	Timezone     string `yaml:"timezone"`
}

func LoadConfig() Config {
	var cfg Config

	// Load from config.yaml if it exists
	configPath := "config.yaml"
	if envPath := os.Getenv("CONFIG_PATH"); envPath != "" {
		configPath = envPath
	}
	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			log.Fatalf("Error parsing %s: %v", configPath, err)
		}
		log.Printf("Loaded config from %s", configPath)
	}

	// Env vars override YAML values
	envOverride(&cfg.LLMProvider, "LLM_PROVIDER")
	envOverride(&cfg.LLMModel, "LLM_MODEL")
	envOverride(&cfg.AnthropicAPIKey, "ANTHROPIC_API_KEY")
	envOverride(&cfg.OpenAIAPIKey, "OPENAI_API_KEY")
	envOverride(&cfg.OpenAIBaseURL, "OPENAI_BASE_URL")
	envOverrideInt(&cfg.LLMMaxTokens, "LLM_MAX_TOKENS")
	envOverrideFloat(&cfg.LLMTemperature, "LLM_TEMPERATURE")
	envOverrideInt(&cfg.LLMConnectTimeout, "LLM_CONNECT_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.LLMTotalTimeout, "LLM_TOTAL_TIMEOUT_SECONDS")
	envOverrideInt(&cfg.LLMRetryBackoffMS, "LLM_RETRY_BACKOFF_MS")
	envOverrideBool(&cfg.LLMToolsEnabled, "LLM_TOOLS_ENABLED")
	envOverrideInt(&cfg.LLMToolMaxRounds, "LLM_TOOL_MAX_ROUNDS")
	envOverrideInt(&cfg.ChunkMaxChars, "CHUNK_MAX_CHARS")
	envOverrideInt(&cfg.AutoRouteWordLimit, "AUTO_ROUTE_WORD_LIMIT")
	envOverrideInt(&cfg.QuickCacheTTLSeconds, "QUICK_CACHE_TTL_SECONDS")
	envOverrideInt(&cfg.QuickSLAMillis, "QUICK_SLA_MS")
	envOverrideInt(&cfg.ProfileCacheTTLMinutes, "PROFILE_CACHE_TTL_MINUTES")
	envOverride(&cfg.DBPath, "DB_PATH")
	envOverride(&cfg.RedisAddr, "REDIS_ADDR")
	envOverride(&cfg.DictionaryJobSchedule, "DICTIONARY_JOB_SCHEDULE")
	envOverride(&cfg.RetrainJobSchedule, "RETRAIN_JOB_SCHEDULE")
	envOverride(&cfg.ImprovementJobSchedule, "IMPROVEMENT_JOB_SCHEDULE")
	envOverride(&cfg.SnapshotJobSchedule, "SNAPSHOT_JOB_SCHEDULE")
	envOverride(&cfg.RetentionJobSchedule, "RETENTION_JOB_SCHEDULE")
	envOverrideBool(&cfg.RetentionEnabled, "RETENTION_ENABLED")
	envOverrideInt(&cfg.RetentionDays, "RETENTION_DAYS")
	envOverride(&cfg.CorrectionTablePath, "CORRECTION_TABLE_PATH")
	envOverride(&cfg.HomophonesPath, "HOMOPHONES_PATH")
	envOverride(&cfg.LanguageCode, "LANGUAGE_CODE")
	envOverride(&cfg.Timezone, "TIMEZONE")

	// Defaults
	if cfg.LLMProvider == "" {
		cfg.LLMProvider = "anthropic"
	}
	if cfg.LLMMaxTokens == 0 {
		cfg.LLMMaxTokens = 4096
	}
	if cfg.LLMTemperature == 0 {
		cfg.LLMTemperature = 0.2
	}
	if cfg.LLMConnectTimeout == 0 {
		cfg.LLMConnectTimeout = 10
	}
	if cfg.LLMTotalTimeout == 0 {
		cfg.LLMTotalTimeout = 60
	}
	if cfg.LLMRetryBackoffMS == 0 {
		cfg.LLMRetryBackoffMS = 500
	}
	if cfg.LLMToolMaxRounds == 0 {
		cfg.LLMToolMaxRounds = 3
	}
	if cfg.ChunkMaxChars == 0 {
		cfg.ChunkMaxChars = 3000
	}
	if cfg.AutoRouteWordLimit == 0 {
		cfg.AutoRouteWordLimit = 20
	}
	if cfg.QuickCacheTTLSeconds == 0 {
		cfg.QuickCacheTTLSeconds = 300
	}
	if cfg.QuickSLAMillis == 0 {
		cfg.QuickSLAMillis = 50
	}
	if cfg.ProfileCacheTTLMinutes == 0 {
		cfg.ProfileCacheTTLMinutes = 10
	}
	if cfg.DBPath == "" {
		cfg.DBPath = "./writecoach.db"
	}
	if cfg.DictionaryJobSchedule == "" {
		cfg.DictionaryJobSchedule = "0 3 * * *"
	}
	if cfg.RetrainJobSchedule == "" {
		cfg.RetrainJobSchedule = "30 3 * * *"
	}
	if cfg.ImprovementJobSchedule == "" {
		cfg.ImprovementJobSchedule = "0 4 * * 0"
	}
	if cfg.SnapshotJobSchedule == "" {
		cfg.SnapshotJobSchedule = "30 4 * * 0"
	}
	if cfg.RetentionJobSchedule == "" {
		cfg.RetentionJobSchedule = "0 5 * * *"
	}
	if cfg.RetentionDays == 0 {
		cfg.RetentionDays = 90
	}
	if cfg.LanguageCode == "" {
		cfg.LanguageCode = "en"
	}
	if cfg.Timezone == "" {
		cfg.Timezone = "Local"
	}

	switch cfg.LLMProvider {
	case "anthropic":
		if cfg.AnthropicAPIKey == "" {
			log.Fatalf("anthropic_api_key is required when llm_provider=anthropic")
		}
	case "openai":
		if cfg.OpenAIAPIKey == "" {
			log.Fatalf("openai_api_key is required when llm_provider=openai")
		}
	default:
		log.Fatalf("llm_provider must be 'anthropic' or 'openai', got '%s'", cfg.LLMProvider)
	}

	if !strings.EqualFold(cfg.Timezone, "Local") {
		loc, err := time.LoadLocation(cfg.Timezone)
		if err != nil {
			log.Fatalf("invalid timezone '%s': %v", cfg.Timezone, err)
		}
		time.Local = loc
	}

	if cfg.ChunkMaxChars < 100 {
		log.Fatalf("invalid chunk_max_chars '%d': must be >= 100", cfg.ChunkMaxChars)
	}
	if cfg.LLMToolMaxRounds < 1 {
		log.Fatalf("invalid llm_tool_max_rounds '%d': must be >= 1", cfg.LLMToolMaxRounds)
	}
	if cfg.LLMConnectTimeout >= cfg.LLMTotalTimeout {
		log.Fatalf("llm_connect_timeout_seconds (%d) must be shorter than llm_total_timeout_seconds (%d)",
			cfg.LLMConnectTimeout, cfg.LLMTotalTimeout)
	}
	if cfg.RetentionDays < 1 {
		log.Fatalf("invalid retention_days '%d': must be >= 1", cfg.RetentionDays)
	}

	return cfg
}

func (c Config) QuickCacheTTL() time.Duration {
	return time.Duration(c.QuickCacheTTLSeconds) * time.Second
}

func (c Config) ProfileCacheTTL() time.Duration {
	return time.Duration(c.ProfileCacheTTLMinutes) * time.Minute
}

func envOverride(field *string, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		*field = val
	}
}

func envOverrideInt(field *int, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.Atoi(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideFloat(field *float64, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseFloat(val, 64)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}

func envOverrideBool(field *bool, envKey string) {
	if val := os.Getenv(envKey); val != "" {
		parsed, err := strconv.ParseBool(val)
		if err != nil {
			log.Fatalf("invalid %s '%s': %v", envKey, val, err)
		}
		*field = parsed
	}
}
