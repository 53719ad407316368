package config

import (
	"errors"
	"os"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "execplane-*.yaml")
	if err != nil {
		t.Fatalf("failed to create temp file: %v", err)
	}
	if _, err := f.WriteString(content); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	f.Close()
	return f.Name()
}

func TestLoad_RequiresDatabaseURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE", "")

	_, err := Load("")
	if err == nil {
		t.Fatal("expected error when DATABASE_URL is missing")
	}
	if err.Error() != "database_url is required (env: DATABASE_URL)" {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestLoad_MemoryStoreNeedsNoDatabase(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE", "memory")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Store != "memory" {
		t.Errorf("expected memory store, got %s", cfg.Store)
	}
}

func TestLoad_DefaultValues(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	checks := []struct {
		name string
		got  any
		want any
	}{
		{"Store", cfg.Store, "postgres"},
		{"HTTPPort", cfg.HTTPPort, 6161},
		{"ControllerURL", cfg.ControllerURL, "http://localhost:6161"},
		{"RateLimit", cfg.RateLimit, 20.0},
		{"RateLimitBurst", cfg.RateLimitBurst, 40},
		{"ExecutionTimeout", cfg.ExecutionTimeout, 30 * time.Minute},
		{"SweepInterval", cfg.SweepInterval, 30 * time.Second},
		{"SweepBatchSize", cfg.SweepBatchSize, 100},
		{"PresenceTTL", cfg.PresenceTTL, 90 * time.Second},
		{"SendTimeout", cfg.SendTimeout, 5 * time.Second},
		{"BreakerThreshold", cfg.BreakerThreshold, 5},
		{"BreakerCooldown", cfg.BreakerCooldown, 30 * time.Second},
		{"DefaultPageSize", cfg.DefaultPageSize, 20},
		{"MaxPageSize", cfg.MaxPageSize, 100},
		{"ArchiveBucket", cfg.ArchiveBucket, "execplane-output"},
		{"AnalyticsRetention", cfg.AnalyticsRetention, 168 * time.Hour},
		{"Retention", cfg.Retention, time.Duration(0)},
		{"RetentionSchedule", cfg.RetentionSchedule, "0 3 * * *"},
		{"OTELEndpoint", cfg.OTELEndpoint, "localhost:4317"},
		{"LogLevel", cfg.LogLevel, "info"},
		{"Runtime", cfg.Runtime, "exec"},
		{"AgentPollWait", cfg.AgentPollWait, 25 * time.Second},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("expected %s %v, got %v", c.name, c.want, c.got)
		}
	}
	if len(cfg.APITokenHashes) != 0 {
		t.Errorf("expected no token hashes, got %v", cfg.APITokenHashes)
	}
}

func TestLoad_EnvVarOverrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://custom/db")
	t.Setenv("PORT", "9999")
	t.Setenv("CONTROLLER_URL", "http://custom:8080/")
	t.Setenv("API_TOKEN_HASHES", "abc, def,,")
	t.Setenv("EXECUTION_TIMEOUT", "10m")
	t.Setenv("RATE_LIMIT", "0")
	t.Setenv("ARCHIVE_USE_SSL", "true")
	t.Setenv("OTEL_EXPORTER_OTLP_ENDPOINT", "otel-collector:4317")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://custom/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 9999 {
		t.Errorf("expected HTTPPort 9999, got %d", cfg.HTTPPort)
	}
	if cfg.ControllerURL != "http://custom:8080" {
		t.Errorf("expected trailing slash trimmed, got %s", cfg.ControllerURL)
	}
	if strings.Join(cfg.APITokenHashes, "|") != "abc|def" {
		t.Errorf("unexpected token hashes %v", cfg.APITokenHashes)
	}
	if cfg.ExecutionTimeout != 10*time.Minute {
		t.Errorf("expected ExecutionTimeout 10m, got %v", cfg.ExecutionTimeout)
	}
	if cfg.RateLimit != 0 {
		t.Errorf("expected rate limit disabled, got %v", cfg.RateLimit)
	}
	if !cfg.ArchiveUseSSL {
		t.Error("expected ArchiveUseSSL true")
	}
	if cfg.OTELEndpoint != "otel-collector:4317" {
		t.Errorf("expected OTELEndpoint otel-collector:4317, got %s", cfg.OTELEndpoint)
	}
}

func TestLoad_ConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://config-file/db"
http_port: 7777
api_token_hashes:
  - one
  - two
retention: 720h
`)
	t.Setenv("DATABASE_URL", "")
	t.Setenv("PORT", "")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.DatabaseURL != "postgres://config-file/db" {
		t.Errorf("expected DatabaseURL from config file, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 7777 {
		t.Errorf("expected HTTPPort 7777, got %d", cfg.HTTPPort)
	}
	if len(cfg.APITokenHashes) != 2 || cfg.APITokenHashes[1] != "two" {
		t.Errorf("unexpected token hashes %v", cfg.APITokenHashes)
	}
	if cfg.Retention != 720*time.Hour {
		t.Errorf("expected Retention 720h, got %v", cfg.Retention)
	}
}

func TestLoad_EnvOverridesConfigFile(t *testing.T) {
	path := writeConfig(t, `
database_url: "postgres://from-file/db"
http_port: 7777
`)
	t.Setenv("DATABASE_URL", "postgres://from-env/db")
	t.Setenv("PORT", "8888")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DatabaseURL != "postgres://from-env/db" {
		t.Errorf("expected DatabaseURL from env, got %s", cfg.DatabaseURL)
	}
	if cfg.HTTPPort != 8888 {
		t.Errorf("expected HTTPPort 8888 from env, got %d", cfg.HTTPPort)
	}
}

func TestLoad_InvalidConfigFile(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost/test")

	if _, err := Load("/nonexistent/path/to/config.yaml"); err == nil {
		t.Error("expected error for nonexistent config file")
	}
}

func TestValidate_AggregatesErrors(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("STORE", "sqlite")
	t.Setenv("SWEEP_INTERVAL", "0s")
	t.Setenv("LOG_LEVEL", "loud")
	t.Setenv("ARCHIVE_ENDPOINT", "minio:9000")

	_, err := Load("")
	var verrs ValidationErrors
	if !errors.As(err, &verrs) {
		t.Fatalf("expected ValidationErrors, got %v", err)
	}

	fields := map[string]bool{}
	for _, e := range verrs {
		fields[e.Field] = true
	}
	for _, want := range []string{"store", "sweep_interval", "log_level", "archive_access_key"} {
		if !fields[want] {
			t.Errorf("expected an error for %s in %v", want, err)
		}
	}
	if !strings.HasPrefix(err.Error(), "4 validation errors:") {
		t.Errorf("unexpected message: %v", err)
	}
}

func TestValidate_PageSizes(t *testing.T) {
	cfg := &Config{
		Store: "memory", HTTPPort: 1, ExecutionTimeout: time.Minute, SweepInterval: time.Second,
		SweepBatchSize: 1, PresenceTTL: time.Second, SendTimeout: time.Second, BreakerCooldown: time.Second,
		DefaultPageSize: 50, MaxPageSize: 10, LogLevel: "info",
	}
	if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), "max_page_size") {
		t.Errorf("expected page size error, got %v", err)
	}
}

func TestLoadAgent(t *testing.T) {
	t.Setenv("CLIENT_ID", "c-42")
	t.Setenv("INTERNAL_SECRET", "s")
	t.Setenv("RUNTIME", "docker")
	t.Setenv("AGENT_CONCURRENCY", "3")

	cfg, err := LoadAgent("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ClientID != "c-42" || cfg.Runtime != "docker" || cfg.AgentConcurrency != 3 {
		t.Errorf("unexpected agent config %+v", cfg)
	}
	if cfg.AgentVersion != "dev" {
		t.Errorf("expected default version dev, got %s", cfg.AgentVersion)
	}
}

func TestLoadAgent_InvalidRuntime(t *testing.T) {
	t.Setenv("CLIENT_ID", "c-42")
	t.Setenv("INTERNAL_SECRET", "s")
	t.Setenv("RUNTIME", "firecracker")

	if _, err := LoadAgent(""); err == nil {
		t.Error("expected error for invalid runtime")
	}
}

func TestLoadAgent_Kubernetes(t *testing.T) {
	t.Setenv("CLIENT_ID", "c-42")
	t.Setenv("INTERNAL_SECRET", "s")
	t.Setenv("RUNTIME", "Kubernetes")
	t.Setenv("K8S_NAMESPACE", "scripts")

	cfg, err := LoadAgent("")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Runtime != "kubernetes" || cfg.K8sNamespace != "scripts" {
		t.Errorf("unexpected agent config %+v", cfg)
	}
	if cfg.K8sCPULimit != "500m" || cfg.K8sMemoryLimit != "256Mi" {
		t.Errorf("expected default limits, got %s/%s", cfg.K8sCPULimit, cfg.K8sMemoryLimit)
	}
}
