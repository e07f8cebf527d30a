package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func setMinimalValidConfigEnv(t *testing.T) {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-test")
	t.Setenv("TIMEZONE", "UTC")
}

func TestLoadConfigFromEnvWithDefaults(t *testing.T) {
	t.Setenv("CONFIG_PATH", filepath.Join(t.TempDir(), "missing-config.yaml"))
	setMinimalValidConfigEnv(t)

	cfg := LoadConfig()

	if cfg.LLMProvider != "openai" {
		t.Fatalf("unexpected provider: %q", cfg.LLMProvider)
	}
	if cfg.DBPath != "./writecoach.db" {
		t.Fatalf("unexpected db path default: %q", cfg.DBPath)
	}
	if cfg.ChunkMaxChars != 3000 {
		t.Fatalf("unexpected chunk limit default: %d", cfg.ChunkMaxChars)
	}
	if cfg.AutoRouteWordLimit != 20 {
		t.Fatalf("unexpected auto-route word limit default: %d", cfg.AutoRouteWordLimit)
	}
	if cfg.QuickCacheTTL() != 5*time.Minute {
		t.Fatalf("unexpected quick cache ttl default: %v", cfg.QuickCacheTTL())
	}
	if cfg.ProfileCacheTTL() != 10*time.Minute {
		t.Fatalf("unexpected profile cache ttl default: %v", cfg.ProfileCacheTTL())
	}
	if cfg.QuickSLAMillis != 50 {
		t.Fatalf("unexpected quick SLA default: %d", cfg.QuickSLAMillis)
	}
	if cfg.LLMConnectTimeout >= cfg.LLMTotalTimeout {
		t.Fatalf("connect timeout default must be shorter than total: %d >= %d",
			cfg.LLMConnectTimeout, cfg.LLMTotalTimeout)
	}
	if cfg.RetentionDays != 90 {
		t.Fatalf("unexpected retention default: %d", cfg.RetentionDays)
	}
	if cfg.LanguageCode != "en" {
		t.Fatalf("unexpected language default: %q", cfg.LanguageCode)
	}
}

func TestLoadConfigYAMLAndEnvOverride(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	content := `
llm_provider: "anthropic"
anthropic_api_key: "yaml-anthropic"
llm_model: "yaml-model"
db_path: "/tmp/yaml.db"
chunk_max_chars: 2000
auto_route_word_limit: 30
timezone: "UTC"
`
	if err := os.WriteFile(cfgPath, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("CONFIG_PATH", cfgPath)
	t.Setenv("LLM_PROVIDER", "openai")
	t.Setenv("OPENAI_API_KEY", "sk-env")
	t.Setenv("DB_PATH", "/tmp/env.db")
	t.Setenv("AUTO_ROUTE_WORD_LIMIT", "25")

	cfg := LoadConfig()

	if cfg.LLMProvider != "openai" {
		t.Fatalf("expected provider from env override, got %q", cfg.LLMProvider)
	}
	if cfg.OpenAIAPIKey != "sk-env" {
		t.Fatal("expected openai key from env override")
	}
	if cfg.DBPath != "/tmp/env.db" {
		t.Fatalf("expected db path from env override, got %q", cfg.DBPath)
	}
	if cfg.LLMModel != "yaml-model" {
		t.Fatalf("expected model from yaml, got %q", cfg.LLMModel)
	}
	if cfg.ChunkMaxChars != 2000 {
		t.Fatalf("expected chunk limit from yaml, got %d", cfg.ChunkMaxChars)
	}
	if cfg.AutoRouteWordLimit != 25 {
		t.Fatalf("expected word limit from env override, got %d", cfg.AutoRouteWordLimit)
	}
}

func TestEnvOverrideHelpers(t *testing.T) {
	t.Setenv("TEST_STR", "value")
	var s string
	envOverride(&s, "TEST_STR")
	if s != "value" {
		t.Fatalf("envOverride: %q", s)
	}
	envOverride(&s, "TEST_STR_UNSET")
	if s != "value" {
		t.Fatalf("unset env must not clobber: %q", s)
	}

	t.Setenv("TEST_INT", "42")
	var n int
	envOverrideInt(&n, "TEST_INT")
	if n != 42 {
		t.Fatalf("envOverrideInt: %d", n)
	}

	t.Setenv("TEST_BOOL", "true")
	var b bool
	envOverrideBool(&b, "TEST_BOOL")
	if !b {
		t.Fatal("envOverrideBool did not apply")
	}

	t.Setenv("TEST_FLOAT", "0.7")
	var f float64
	envOverrideFloat(&f, "TEST_FLOAT")
	if f != 0.7 {
		t.Fatalf("envOverrideFloat: %f", f)
	}
}
