// Package config loads controller and agent settings from a YAML file and the environment.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

const defaultConfigFile = "execplane.yaml"

// Config holds all configuration values for the controller and the agent.
type Config struct {
	DatabaseURL string
	// Store is "postgres" or "memory".
	Store string

	HTTPPort      int
	ControllerURL string

	// InternalSecret authenticates agents on /internal routes.
	InternalSecret string
	// APITokenHashes are sha256 hex digests of accepted gateway tokens. Empty accepts any bearer.
	APITokenHashes []string
	RateLimit      float64
	RateLimitBurst int

	ExecutionTimeout time.Duration
	SweepInterval    time.Duration
	SweepBatchSize   int

	PresenceTTL      time.Duration
	SendTimeout      time.Duration
	BreakerThreshold int
	BreakerCooldown  time.Duration

	DefaultPageSize int
	MaxPageSize     int

	CertDirURL          string
	CertDirToken        string
	CertDirTokenURL     string
	CertDirClientID     string
	CertDirClientSecret string

	ArchiveEndpoint  string
	ArchiveAccessKey string
	ArchiveSecretKey string
	ArchiveBucket    string
	ArchiveUseSSL    bool

	RedisURL           string
	AnalyticsRetention time.Duration

	// Retention of terminal executions; zero disables the purge job.
	Retention         time.Duration
	RetentionSchedule string

	OTELEndpoint string
	LogLevel     string

	// Agent settings.
	ClientID         string
	AgentVersion     string
	Runtime          string
	RuntimeWorkDir   string
	AgentConcurrency int
	AgentPollWait    time.Duration
	AgentMaxBackoff  time.Duration

	// Kubernetes runtime settings.
	K8sNamespace      string
	K8sServiceAccount string
	K8sCPULimit       string
	K8sMemoryLimit    string
}

// envKeys maps config keys to the environment variables that override them.
var envKeys = map[string]string{
	"database_url":          "DATABASE_URL",
	"store":                 "STORE",
	"http_port":             "PORT",
	"controller_url":        "CONTROLLER_URL",
	"internal_secret":       "INTERNAL_SECRET",
	"api_token_hashes":      "API_TOKEN_HASHES",
	"rate_limit":            "RATE_LIMIT",
	"rate_limit_burst":      "RATE_LIMIT_BURST",
	"execution_timeout":     "EXECUTION_TIMEOUT",
	"sweep_interval":        "SWEEP_INTERVAL",
	"sweep_batch_size":      "SWEEP_BATCH_SIZE",
	"presence_ttl":          "PRESENCE_TTL",
	"send_timeout":          "SEND_TIMEOUT",
	"breaker_threshold":     "BREAKER_THRESHOLD",
	"breaker_cooldown":      "BREAKER_COOLDOWN",
	"default_page_size":     "DEFAULT_PAGE_SIZE",
	"max_page_size":         "MAX_PAGE_SIZE",
	"certdir_url":           "CERTDIR_URL",
	"certdir_token":         "CERTDIR_TOKEN",
	"certdir_token_url":     "CERTDIR_TOKEN_URL",
	"certdir_client_id":     "CERTDIR_CLIENT_ID",
	"certdir_client_secret": "CERTDIR_CLIENT_SECRET",
	"archive_endpoint":      "ARCHIVE_ENDPOINT",
	"archive_access_key":    "ARCHIVE_ACCESS_KEY",
	"archive_secret_key":    "ARCHIVE_SECRET_KEY",
	"archive_bucket":        "ARCHIVE_BUCKET",
	"archive_use_ssl":       "ARCHIVE_USE_SSL",
	"redis_url":             "REDIS_URL",
	"analytics_retention":   "ANALYTICS_RETENTION",
	"retention":             "RETENTION",
	"retention_schedule":    "RETENTION_SCHEDULE",
	"otel_endpoint":         "OTEL_EXPORTER_OTLP_ENDPOINT",
	"log_level":             "LOG_LEVEL",
	"client_id":             "CLIENT_ID",
	"agent_version":         "AGENT_VERSION",
	"runtime":               "RUNTIME",
	"runtime_workdir":       "RUNTIME_WORKDIR",
	"agent_concurrency":     "AGENT_CONCURRENCY",
	"agent_poll_wait":       "AGENT_POLL_WAIT",
	"agent_max_backoff":     "AGENT_MAX_BACKOFF",
	"k8s_namespace":         "K8S_NAMESPACE",
	"k8s_service_account":   "K8S_SERVICE_ACCOUNT",
	"k8s_cpu_limit":         "K8S_CPU_LIMIT",
	"k8s_memory_limit":      "K8S_MEMORY_LIMIT",
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("store", "postgres")
	v.SetDefault("http_port", 6161)
	v.SetDefault("controller_url", "http://localhost:6161")
	v.SetDefault("rate_limit", 20.0)
	v.SetDefault("rate_limit_burst", 40)
	v.SetDefault("execution_timeout", 30*time.Minute)
	v.SetDefault("sweep_interval", 30*time.Second)
	v.SetDefault("sweep_batch_size", 100)
	v.SetDefault("presence_ttl", 90*time.Second)
	v.SetDefault("send_timeout", 5*time.Second)
	v.SetDefault("breaker_threshold", 5)
	v.SetDefault("breaker_cooldown", 30*time.Second)
	v.SetDefault("default_page_size", 20)
	v.SetDefault("max_page_size", 100)
	v.SetDefault("archive_bucket", "execplane-output")
	v.SetDefault("analytics_retention", 168*time.Hour)
	v.SetDefault("retention", time.Duration(0))
	v.SetDefault("retention_schedule", "0 3 * * *")
	v.SetDefault("otel_endpoint", "localhost:4317")
	v.SetDefault("log_level", "info")
	v.SetDefault("agent_version", "dev")
	v.SetDefault("runtime", "exec")
	v.SetDefault("agent_concurrency", 1)
	v.SetDefault("agent_poll_wait", 25*time.Second)
	v.SetDefault("agent_max_backoff", 30*time.Second)
	v.SetDefault("k8s_namespace", "default")
	v.SetDefault("k8s_cpu_limit", "500m")
	v.SetDefault("k8s_memory_limit", "256Mi")
}

// Load reads controller configuration. Precedence: environment, then the file at path
// (or execplane.yaml in the working directory when present), then defaults.
func Load(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadAgent reads agent configuration with the same precedence as Load.
func LoadAgent(path string) (*Config, error) {
	cfg, err := read(path)
	if err != nil {
		return nil, err
	}
	if err := cfg.ValidateAgent(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func read(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	for key, env := range envKeys {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("bind %s: %w", env, err)
		}
	}

	switch {
	case path != "":
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
	default:
		if _, err := os.Stat(defaultConfigFile); err == nil {
			v.SetConfigFile(defaultConfigFile)
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("failed to read config file %s: %w", defaultConfigFile, err)
			}
		}
	}

	return &Config{
		DatabaseURL:         v.GetString("database_url"),
		Store:               strings.ToLower(v.GetString("store")),
		HTTPPort:            v.GetInt("http_port"),
		ControllerURL:       strings.TrimRight(v.GetString("controller_url"), "/"),
		InternalSecret:      v.GetString("internal_secret"),
		APITokenHashes:      stringList(v, "api_token_hashes"),
		RateLimit:           v.GetFloat64("rate_limit"),
		RateLimitBurst:      v.GetInt("rate_limit_burst"),
		ExecutionTimeout:    v.GetDuration("execution_timeout"),
		SweepInterval:       v.GetDuration("sweep_interval"),
		SweepBatchSize:      v.GetInt("sweep_batch_size"),
		PresenceTTL:         v.GetDuration("presence_ttl"),
		SendTimeout:         v.GetDuration("send_timeout"),
		BreakerThreshold:    v.GetInt("breaker_threshold"),
		BreakerCooldown:     v.GetDuration("breaker_cooldown"),
		DefaultPageSize:     v.GetInt("default_page_size"),
		MaxPageSize:         v.GetInt("max_page_size"),
		CertDirURL:          v.GetString("certdir_url"),
		CertDirToken:        v.GetString("certdir_token"),
		CertDirTokenURL:     v.GetString("certdir_token_url"),
		CertDirClientID:     v.GetString("certdir_client_id"),
		CertDirClientSecret: v.GetString("certdir_client_secret"),
		ArchiveEndpoint:     v.GetString("archive_endpoint"),
		ArchiveAccessKey:    v.GetString("archive_access_key"),
		ArchiveSecretKey:    v.GetString("archive_secret_key"),
		ArchiveBucket:       v.GetString("archive_bucket"),
		ArchiveUseSSL:       v.GetBool("archive_use_ssl"),
		RedisURL:            v.GetString("redis_url"),
		AnalyticsRetention:  v.GetDuration("analytics_retention"),
		Retention:           v.GetDuration("retention"),
		RetentionSchedule:   v.GetString("retention_schedule"),
		OTELEndpoint:        v.GetString("otel_endpoint"),
		LogLevel:            v.GetString("log_level"),
		ClientID:            v.GetString("client_id"),
		AgentVersion:        v.GetString("agent_version"),
		Runtime:             strings.ToLower(v.GetString("runtime")),
		RuntimeWorkDir:      v.GetString("runtime_workdir"),
		AgentConcurrency:    v.GetInt("agent_concurrency"),
		AgentPollWait:       v.GetDuration("agent_poll_wait"),
		AgentMaxBackoff:     v.GetDuration("agent_max_backoff"),
		K8sNamespace:        v.GetString("k8s_namespace"),
		K8sServiceAccount:   v.GetString("k8s_service_account"),
		K8sCPULimit:         v.GetString("k8s_cpu_limit"),
		K8sMemoryLimit:      v.GetString("k8s_memory_limit"),
	}, nil
}

// stringList accepts a YAML list or a comma separated string.
func stringList(v *viper.Viper, key string) []string {
	var raw []string
	if list, ok := v.Get(key).([]any); ok {
		for _, item := range list {
			raw = append(raw, fmt.Sprint(item))
		}
	} else {
		raw = strings.Split(v.GetString(key), ",")
	}

	var out []string
	for _, s := range raw {
		if s = strings.TrimSpace(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// ValidationError is one invalid setting.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s %s", e.Field, e.Message)
}

// ValidationErrors collects every invalid setting found by Validate.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

func (e *ValidationErrors) add(field, format string, args ...any) {
	*e = append(*e, ValidationError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (e ValidationErrors) orNil() error {
	if len(e) == 0 {
		return nil
	}
	return e
}

// Validate checks controller settings.
func (c *Config) Validate() error {
	var errs ValidationErrors

	switch c.Store {
	case "postgres":
		if c.DatabaseURL == "" {
			errs.add("database_url", "is required (env: DATABASE_URL)")
		}
	case "memory":
	default:
		errs.add("store", "must be 'postgres' or 'memory', got %q", c.Store)
	}

	if c.HTTPPort <= 0 || c.HTTPPort > 65535 {
		errs.add("http_port", "must be between 1 and 65535, got %d", c.HTTPPort)
	}
	if c.RateLimit < 0 {
		errs.add("rate_limit", "must not be negative")
	}
	if c.RateLimit > 0 && c.RateLimitBurst <= 0 {
		errs.add("rate_limit_burst", "must be positive when rate_limit is set")
	}

	for _, d := range []struct {
		field string
		value time.Duration
	}{
		{"execution_timeout", c.ExecutionTimeout},
		{"sweep_interval", c.SweepInterval},
		{"presence_ttl", c.PresenceTTL},
		{"send_timeout", c.SendTimeout},
		{"breaker_cooldown", c.BreakerCooldown},
	} {
		if d.value <= 0 {
			errs.add(d.field, "must be positive")
		}
	}

	if c.SweepBatchSize <= 0 {
		errs.add("sweep_batch_size", "must be positive")
	}
	if c.BreakerThreshold < 0 {
		errs.add("breaker_threshold", "must not be negative")
	}
	if c.DefaultPageSize <= 0 || c.MaxPageSize <= 0 {
		errs.add("default_page_size", "and max_page_size must be positive")
	} else if c.DefaultPageSize > c.MaxPageSize {
		errs.add("default_page_size", "must not exceed max_page_size")
	}

	if c.CertDirTokenURL != "" && (c.CertDirClientID == "" || c.CertDirClientSecret == "") {
		errs.add("certdir_client_id", "and certdir_client_secret are required with certdir_token_url")
	}
	if c.ArchiveEndpoint != "" && (c.ArchiveAccessKey == "" || c.ArchiveSecretKey == "") {
		errs.add("archive_access_key", "and archive_secret_key are required with archive_endpoint")
	}
	if c.Retention < 0 {
		errs.add("retention", "must not be negative")
	}

	if _, err := parseLevel(c.LogLevel); err != nil {
		errs.add("log_level", "%v", err)
	}

	return errs.orNil()
}

// ValidateAgent checks agent settings.
func (c *Config) ValidateAgent() error {
	var errs ValidationErrors

	if c.ClientID == "" {
		errs.add("client_id", "is required (env: CLIENT_ID)")
	}
	if c.InternalSecret == "" {
		errs.add("internal_secret", "is required (env: INTERNAL_SECRET)")
	}
	switch c.Runtime {
	case "exec", "docker":
	case "kubernetes":
		if c.K8sNamespace == "" {
			errs.add("k8s_namespace", "is required for the kubernetes runtime")
		}
	default:
		errs.add("runtime", "must be 'exec', 'docker' or 'kubernetes', got %q", c.Runtime)
	}
	if c.AgentConcurrency <= 0 {
		errs.add("agent_concurrency", "must be positive")
	}
	if c.AgentPollWait <= 0 {
		errs.add("agent_poll_wait", "must be positive")
	}
	if c.AgentMaxBackoff <= 0 {
		errs.add("agent_max_backoff", "must be positive")
	}
	if _, err := parseLevel(c.LogLevel); err != nil {
		errs.add("log_level", "%v", err)
	}

	return errs.orNil()
}

func parseLevel(level string) (string, error) {
	switch strings.ToLower(level) {
	case "debug", "info", "warn", "error":
		return strings.ToLower(level), nil
	}
	return "", errors.New("must be one of debug, info, warn, error")
}
