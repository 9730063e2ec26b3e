// Package config loads and validates discipline sync configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/JakeFAU/discipline-sync/internal/parser"
	"github.com/JakeFAU/discipline-sync/internal/portal"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig      `mapstructure:"server"`
	Portal      PortalConfig      `mapstructure:"portal"`
	Credentials CredentialsConfig `mapstructure:"credentials"`
	Sync        SyncConfig        `mapstructure:"sync"`
	HTTP        HTTPConfig        `mapstructure:"http"`
	DB          DBConfig          `mapstructure:"db"`
	Storage     StorageConfig     `mapstructure:"storage"`
	PubSub      PubSubConfig      `mapstructure:"pubsub"`
	Lock        LockConfig        `mapstructure:"lock"`
	Logging     LoggingConfig     `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// PortalConfig describes the academic portal being synchronized.
type PortalConfig struct {
	BaseURL             string           `mapstructure:"base_url"`
	LoginPath           string           `mapstructure:"login_path"`
	DisciplinesPath     string           `mapstructure:"disciplines_path"`
	ClassesPathTemplate string           `mapstructure:"classes_path_template"`
	UserAgent           string           `mapstructure:"user_agent"`
	SessionCookie       string           `mapstructure:"session_cookie"`
	SessionTTLSeconds   int              `mapstructure:"session_ttl_seconds"`
	UsernameField       string           `mapstructure:"username_field"`
	PasswordField       string           `mapstructure:"password_field"`
	Selectors           parser.Selectors `mapstructure:"selectors"`
}

// CredentialsConfig holds the institutional login. Prefer env or .env over YAML.
type CredentialsConfig struct {
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// SyncConfig governs the orchestrator.
type SyncConfig struct {
	Workers            int    `mapstructure:"workers"`
	Schedule           string `mapstructure:"schedule"`
	RunOnStart         bool   `mapstructure:"run_on_start"`
	ArchiveFailedPages bool   `mapstructure:"archive_failed_pages"`
	PersistRetries     int    `mapstructure:"persist_retries"`
}

// HTTPConfig configures portal client timeout, retry, and politeness.
type HTTPConfig struct {
	TimeoutSeconds   int     `mapstructure:"timeout_seconds"`
	MaxRetries       int     `mapstructure:"max_retries"`
	BackoffInitialMs int     `mapstructure:"backoff_initial_ms"`
	BackoffMaxMs     int     `mapstructure:"backoff_max_ms"`
	RateLimitRPS     float64 `mapstructure:"rate_limit_rps"`
	RateLimitBurst   int     `mapstructure:"rate_limit_burst"`
}

// DBConfig controls access to Postgres. An empty DSN selects in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
	Migrate  bool   `mapstructure:"migrate"`
}

// StorageConfig selects the raw page archive backend.
type StorageConfig struct {
	Backend   string `mapstructure:"backend"`
	BaseDir   string `mapstructure:"base_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// PubSubConfig holds metadata for run notifications. Empty topic disables Pub/Sub.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LockConfig configures the distributed single-flight lock. Empty addr keeps it local.
type LockConfig struct {
	RedisAddr  string `mapstructure:"redis_addr"`
	Key        string `mapstructure:"key"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// LoggingConfig toggles zap development features and level.
type LoggingConfig struct {
	Development bool   `mapstructure:"development"`
	Level       string `mapstructure:"level"`
}

// Load builds a Config from .env, disk, and environment.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("DISCIPLINES")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	defaults := parser.DefaultSelectors()

	v.SetDefault("server.port", 8080)
	v.SetDefault("portal.base_url", "")
	v.SetDefault("portal.login_path", "/login")
	v.SetDefault("portal.disciplines_path", "/disciplinas")
	v.SetDefault("portal.classes_path_template", "/disciplinas/{id}/turmas")
	v.SetDefault("portal.user_agent", "discipline-sync/0.1")
	v.SetDefault("portal.session_cookie", "JSESSIONID")
	v.SetDefault("portal.session_ttl_seconds", 1800)
	v.SetDefault("portal.username_field", "username")
	v.SetDefault("portal.password_field", "password")
	v.SetDefault("portal.selectors.list_table", defaults.ListTable)
	v.SetDefault("portal.selectors.list_row", defaults.ListRow)
	v.SetDefault("portal.selectors.list_id", defaults.ListID)
	v.SetDefault("portal.selectors.list_name", defaults.ListName)
	v.SetDefault("portal.selectors.list_link", defaults.ListLink)
	v.SetDefault("portal.selectors.next_page", defaults.NextPage)
	v.SetDefault("portal.selectors.discipline_name", defaults.DisciplineName)
	v.SetDefault("portal.selectors.class_table", defaults.ClassTable)
	v.SetDefault("portal.selectors.class_row", defaults.ClassRow)
	v.SetDefault("portal.selectors.class_number", defaults.ClassNumber)
	v.SetDefault("portal.selectors.class_schedule", defaults.ClassSchedule)
	v.SetDefault("portal.selectors.class_professor", defaults.ClassProfessor)
	v.SetDefault("portal.selectors.class_vacancies", defaults.ClassVacancies)
	v.SetDefault("portal.selectors.class_empty", defaults.ClassEmpty)
	v.SetDefault("portal.selectors.login_form", defaults.LoginForm)
	v.SetDefault("credentials.username", "")
	v.SetDefault("credentials.password", "")
	v.SetDefault("sync.workers", 4)
	v.SetDefault("sync.schedule", "")
	v.SetDefault("sync.run_on_start", false)
	v.SetDefault("sync.archive_failed_pages", false)
	v.SetDefault("sync.persist_retries", 3)
	v.SetDefault("http.timeout_seconds", 15)
	v.SetDefault("http.max_retries", 2)
	v.SetDefault("http.backoff_initial_ms", 250)
	v.SetDefault("http.backoff_max_ms", 2000)
	v.SetDefault("http.rate_limit_rps", 2.0)
	v.SetDefault("http.rate_limit_burst", 1)
	v.SetDefault("db.dsn", "")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("db.min_conns", 0)
	v.SetDefault("db.migrate", false)
	v.SetDefault("storage.backend", "memory")
	v.SetDefault("storage.base_dir", "./archive")
	v.SetDefault("storage.gcs_bucket", "")
	v.SetDefault("storage.prefix", "failed-pages")
	v.SetDefault("pubsub.project_id", "")
	v.SetDefault("pubsub.topic_name", "")
	v.SetDefault("lock.redis_addr", "")
	v.SetDefault("lock.key", "discipline-sync:run")
	v.SetDefault("lock.ttl_seconds", 3600)
	v.SetDefault("logging.development", true)
	v.SetDefault("logging.level", "")
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if !strings.Contains(c.Portal.ClassesPathTemplate, "{id}") {
		return fmt.Errorf("portal.classes_path_template must contain {id}")
	}
	if c.Portal.SessionCookie == "" {
		return fmt.Errorf("portal.session_cookie is required")
	}
	if c.Credentials.Username == "" || c.Credentials.Password == "" {
		return fmt.Errorf("credentials.username and credentials.password are required")
	}
	if c.Sync.Workers <= 0 {
		return fmt.Errorf("sync.workers must be > 0")
	}
	if c.Sync.PersistRetries < 0 {
		return fmt.Errorf("sync.persist_retries must be >= 0")
	}
	if c.HTTP.TimeoutSeconds <= 0 {
		return fmt.Errorf("http.timeout_seconds must be > 0")
	}
	if c.HTTP.MaxRetries < 0 {
		return fmt.Errorf("http.max_retries must be >= 0")
	}
	switch c.Storage.Backend {
	case "memory", "local":
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket must be set when storage.backend is gcs")
		}
	default:
		return fmt.Errorf("storage.backend must be one of memory, local, gcs")
	}
	if c.PubSub.TopicName != "" && c.PubSub.ProjectID == "" {
		return fmt.Errorf("pubsub.project_id must be set when pubsub.topic_name is set")
	}
	if c.Lock.RedisAddr != "" && c.Lock.TTLSeconds <= 0 {
		return fmt.Errorf("lock.ttl_seconds must be > 0 when lock.redis_addr is set")
	}
	return nil
}

// PortalCredentials converts the login section into the immutable portal value.
func (c Config) PortalCredentials() portal.Credentials {
	return portal.NewCredentials(c.Credentials.Username, c.Credentials.Password)
}

// RequestTimeout is the per-request portal timeout.
func (c Config) RequestTimeout() time.Duration {
	return time.Duration(c.HTTP.TimeoutSeconds) * time.Second
}

// RetryPolicy converts the HTTP retry knobs into a portal retry policy.
func (c Config) RetryPolicy() portal.RetryPolicy {
	return portal.RetryPolicy{
		MaxRetries: c.HTTP.MaxRetries,
		Initial:    time.Duration(c.HTTP.BackoffInitialMs) * time.Millisecond,
		Max:        time.Duration(c.HTTP.BackoffMaxMs) * time.Millisecond,
	}
}

// PortalOptions assembles the portal client options.
func (c Config) PortalOptions() portal.Options {
	return portal.Options{
		BaseURL:             c.Portal.BaseURL,
		LoginPath:           c.Portal.LoginPath,
		DisciplinesPath:     c.Portal.DisciplinesPath,
		ClassesPathTemplate: c.Portal.ClassesPathTemplate,
		UserAgent:           c.Portal.UserAgent,
		SessionCookie:       c.Portal.SessionCookie,
		SessionTTL:          time.Duration(c.Portal.SessionTTLSeconds) * time.Second,
		UsernameField:       c.Portal.UsernameField,
		PasswordField:       c.Portal.PasswordField,
		LoginFormSelector:   c.Portal.Selectors.LoginForm,
		Timeout:             c.RequestTimeout(),
		Retry:               c.RetryPolicy(),
		RateLimitRPS:        c.HTTP.RateLimitRPS,
		RateLimitBurst:      c.HTTP.RateLimitBurst,
	}
}

// LockTTL is the expiry of the distributed run lock.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Lock.TTLSeconds) * time.Second
}
