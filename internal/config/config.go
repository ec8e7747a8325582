package config

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig holds runtime startup configuration loaded from YAML.
type AppConfig struct {
	Port           int
	Env            string // "development" | "production"
	AllowedOrigins []string
	JWTSecret      string
	JWTIssuer      string // expected iss claim, unchecked when empty
	Admins         []string // user ids allowed to change settings
	Timezone       string
	Paths          RuntimePathsConfig
	Database       DatabaseRuntimeConfig
	Redis          RedisRuntimeConfig
	DSN            string
	RedisURL       string
	AI             AIConfig
	Extraction     ExtractionConfig
	Quota          QuotaConfig
	Source         SourceConfig
	Archive        ArchiveConfig
	Cache          CacheConfig
	Tasks          TasksConfig

	// RateLimitPerSecond caps requests per client IP. 0 disables it.
	RateLimitPerSecond int
}

type RuntimePathsConfig struct {
	Logs string
}

type DatabaseRuntimeConfig struct {
	Driver    string
	DSN       string
	Host      string
	Port      int
	User      string
	Password  string
	Name      string
	Charset   string
	ParseTime bool
	Loc       string
	Path      string // sqlite file
	Params    map[string]string
}

type RedisRuntimeConfig struct {
	URL      string
	Host     string
	Port     int
	Username string
	Password string
	DB       int
	TLS      bool
}

// ExtractionConfig tunes the AI invocation side of the pipeline.
type ExtractionConfig struct {
	MaxContentChars int
	MaxOutputTokens int
	PrimaryAttempts int
	RepairAttempts  int
	RequestTimeout  time.Duration
	BackoffBase     time.Duration
	BackoffMax      time.Duration
}

type QuotaConfig struct {
	Limit  int
	Window time.Duration
}

// SourceConfig covers outbound fetches for transcripts and web pages.
type SourceConfig struct {
	YouTubeBaseURL     string
	YouTubeOEmbedURL   string
	YouTubeRPS         float64
	YouTubeBurst       int
	TranscriptAttempts int
	UserAgent          string
	FetchTimeout       time.Duration
	MaxBodyBytes       int64
}

// ArchiveConfig is the S3 target for raw model output that failed to parse.
type ArchiveConfig struct {
	Enabled         bool
	Bucket          string
	Region          string
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	PathStyle       bool
	Prefix          string
}

// CacheConfig controls the stale cache purge job. PurgeAfter 0 disables it.
type CacheConfig struct {
	PurgeAfter    time.Duration
	PurgeInterval time.Duration
}

// TasksConfig controls retention of finished background tasks.
type TasksConfig struct {
	Retention       time.Duration
	CleanupInterval time.Duration
}

func Load(configPath string) (*AppConfig, error) {
	path := strings.TrimSpace(configPath)
	if path == "" {
		path = DefaultConfigPath
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config file %q: %w", path, err)
	}
	cfg, err := Parse(content)
	if err != nil {
		return nil, fmt.Errorf("config file %q: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML content into a normalised AppConfig.
func Parse(content []byte) (*AppConfig, error) {
	cfg := defaultAppConfig()
	raw := rawAppConfig{}
	if len(bytes.TrimSpace(content)) > 0 {
		decoder := yaml.NewDecoder(bytes.NewReader(content))
		decoder.KnownFields(true)
		if err := decoder.Decode(&raw); err != nil {
			return nil, fmt.Errorf("parse: %w", err)
		}
	}

	if err := applyRawAppConfig(&cfg, raw); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *AppConfig) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d, expected 1-65535", c.Port)
	}
	switch c.Database.Driver {
	case DriverMySQL:
		if c.Database.Port < 1 || c.Database.Port > 65535 {
			return fmt.Errorf("invalid database.port %d, expected 1-65535", c.Database.Port)
		}
	case DriverSQLite:
	default:
		return fmt.Errorf("invalid database.driver %q, expected mysql or sqlite", c.Database.Driver)
	}
	if c.Redis.Port < 1 || c.Redis.Port > 65535 {
		return fmt.Errorf("invalid redis.port %d, expected 1-65535", c.Redis.Port)
	}
	if c.Redis.DB < 0 {
		return fmt.Errorf("invalid redis.db %d, expected >= 0", c.Redis.DB)
	}
	if c.RateLimitPerSecond < 0 {
		return fmt.Errorf("invalid rate_limit_per_second %d, expected >= 0", c.RateLimitPerSecond)
	}
	if c.Tasks.Retention <= 0 || c.Tasks.CleanupInterval <= 0 {
		return fmt.Errorf("tasks.retention and tasks.cleanup_interval must be positive")
	}
	if c.Quota.Limit < 0 {
		return fmt.Errorf("invalid quota.limit %d, expected >= 0", c.Quota.Limit)
	}
	if c.Extraction.PrimaryAttempts < 1 || c.Extraction.RepairAttempts < 1 {
		return fmt.Errorf("extraction attempts must be >= 1")
	}
	if c.Archive.Enabled && (c.Archive.Bucket == "" || c.Archive.Region == "") {
		return fmt.Errorf("archive.bucket and archive.region are required when archive is enabled")
	}
	for i, p := range c.AI.Providers {
		if p.ID == "" {
			return fmt.Errorf("ai.providers[%d].id is required", i)
		}
		if !IsKnownProviderType(p.Type) {
			return fmt.Errorf("ai.providers[%d].type %q is not supported", i, p.Type)
		}
	}
	return nil
}

func defaultAppConfig() AppConfig {
	cfg := AppConfig{
		Port: defaultPort,
		Env:  defaultEnv,
		Database: DatabaseRuntimeConfig{
			Driver:    defaultDBDriver,
			Host:      defaultDBHost,
			Port:      defaultDBPort,
			User:      defaultDBUser,
			Password:  defaultDBPassword,
			Name:      defaultDBName,
			Charset:   defaultDBCharset,
			ParseTime: true,
			Loc:       defaultDBLoc,
			Path:      defaultSQLitePath,
		},
		Redis: RedisRuntimeConfig{
			Host: defaultRedisHost,
			Port: defaultRedisPort,
			DB:   defaultRedisDB,
		},
		Extraction: ExtractionConfig{
			MaxContentChars: defaultMaxContentChars,
			MaxOutputTokens: defaultMaxOutputTokens,
			PrimaryAttempts: defaultPrimaryAttempts,
			RepairAttempts:  defaultRepairAttempts,
			RequestTimeout:  defaultAIRequestTime,
			BackoffBase:     defaultBackoffBase,
			BackoffMax:      defaultBackoffMax,
		},
		Quota: QuotaConfig{
			Limit:  defaultQuotaLimit,
			Window: defaultQuotaWindow,
		},
		Source: SourceConfig{
			YouTubeBaseURL:     defaultYouTubeBaseURL,
			YouTubeOEmbedURL:   defaultYouTubeOEmbedURL,
			YouTubeRPS:         defaultYouTubeRPS,
			YouTubeBurst:       defaultYouTubeBurst,
			TranscriptAttempts: defaultTranscriptTries,
			UserAgent:          defaultUserAgent,
			FetchTimeout:       defaultFetchTimeout,
			MaxBodyBytes:       defaultMaxBodyBytes,
		},
		Archive: ArchiveConfig{Prefix: defaultArchivePrefix},
		Cache:   CacheConfig{PurgeInterval: defaultPurgeInterval},
		Tasks: TasksConfig{
			Retention:       defaultTaskRetention,
			CleanupInterval: defaultTaskCleanup,
		},
		RateLimitPerSecond: defaultRateLimitRPS,
	}
	cfg.Database = normalizeDatabaseConfig(cfg.Database)
	cfg.Redis = normalizeRedisConfig(cfg.Redis)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()
	return cfg
}

func (c *AppConfig) IsDev() bool {
	return c.Env == "development" || c.Env == "dev"
}

func (c *AppConfig) LogDir() string {
	return ResolveRuntimePath(c.Paths.Logs, "logs")
}
