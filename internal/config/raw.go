package config

import (
	"fmt"
	"strings"
	"time"
)

type rawAppConfig struct {
	Port               int                  `yaml:"port"`
	Env                string               `yaml:"env"`
	AllowedOrigins     []string             `yaml:"allowed_origins"`
	CORSAllowedOrigins []string             `yaml:"cors_allowed_origins"`
	JWTSecret          string               `yaml:"jwt_secret"`
	JWTIssuer          string               `yaml:"jwt_issuer"`
	Admins             []string             `yaml:"admins"`
	Timezone           string               `yaml:"timezone"`
	TZ                 string               `yaml:"tz"`
	Paths              rawPathsConfig       `yaml:"paths"`
	LogDir             string               `yaml:"log_dir"`
	DSN                string               `yaml:"dsn"`
	RedisURL           string               `yaml:"redis_url"`
	Database           rawDatabaseConfig    `yaml:"database"`
	Redis              rawRedisConfig       `yaml:"redis"`
	AI                 rawAIConfig          `yaml:"ai"`
	Extraction         rawExtractionConfig  `yaml:"extraction"`
	Quota              rawQuotaConfig       `yaml:"quota"`
	Source             rawSourceConfig      `yaml:"source"`
	Archive            rawArchiveConfig     `yaml:"archive"`
	Cache              rawCacheConfig       `yaml:"cache"`
	Tasks              rawTasksConfig       `yaml:"tasks"`
	RateLimitPerSecond *int                 `yaml:"rate_limit_per_second"`
}

type rawPathsConfig struct {
	Logs string `yaml:"logs"`
}

type rawDatabaseConfig struct {
	Driver    string            `yaml:"driver"`
	DSN       string            `yaml:"dsn"`
	Host      string            `yaml:"host"`
	Port      int               `yaml:"port"`
	User      string            `yaml:"user"`
	Username  string            `yaml:"username"`
	Password  string            `yaml:"password"`
	Name      string            `yaml:"name"`
	Charset   string            `yaml:"charset"`
	ParseTime *bool             `yaml:"parse_time"`
	Loc       string            `yaml:"loc"`
	Path      string            `yaml:"path"`
	Params    map[string]string `yaml:"params"`
}

type rawRedisConfig struct {
	URL      string `yaml:"url"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	DB       *int   `yaml:"db"`
	TLS      *bool  `yaml:"tls"`
}

type rawAIConfig struct {
	Providers       []AIProvider       `yaml:"providers"`
	ExtractionModel *AIModelAssignment `yaml:"extraction_model"`
	RepairModel     *AIModelAssignment `yaml:"repair_model"`
	Pricing         []ModelPrice       `yaml:"pricing"`
}

type rawExtractionConfig struct {
	MaxContentChars int    `yaml:"max_content_chars"`
	MaxOutputTokens int    `yaml:"max_output_tokens"`
	PrimaryAttempts int    `yaml:"primary_attempts"`
	RepairAttempts  int    `yaml:"repair_attempts"`
	RequestTimeout  string `yaml:"request_timeout"`
	BackoffBase     string `yaml:"backoff_base"`
	BackoffMax      string `yaml:"backoff_max"`
}

type rawQuotaConfig struct {
	Limit  *int   `yaml:"limit"`
	Window string `yaml:"window"`
}

type rawSourceConfig struct {
	YouTubeBaseURL     string  `yaml:"youtube_base_url"`
	YouTubeOEmbedURL   string  `yaml:"youtube_oembed_url"`
	YouTubeRPS         float64 `yaml:"youtube_rps"`
	YouTubeBurst       int     `yaml:"youtube_burst"`
	TranscriptAttempts int     `yaml:"transcript_attempts"`
	UserAgent          string  `yaml:"user_agent"`
	FetchTimeout       string  `yaml:"fetch_timeout"`
	MaxBodyBytes       int64   `yaml:"max_body_bytes"`
}

type rawArchiveConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Bucket          string `yaml:"bucket"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	PathStyle       bool   `yaml:"path_style"`
	Prefix          string `yaml:"prefix"`
}

type rawTasksConfig struct {
	Retention       string `yaml:"retention"`
	CleanupInterval string `yaml:"cleanup_interval"`
}

type rawCacheConfig struct {
	PurgeAfter    string `yaml:"purge_after"`
	PurgeInterval string `yaml:"purge_interval"`
}

func applyRawAppConfig(cfg *AppConfig, raw rawAppConfig) error {
	if raw.Port != 0 {
		cfg.Port = raw.Port
	}
	if v := strings.TrimSpace(raw.Env); v != "" {
		cfg.Env = normalizeEnv(v)
	}
	switch {
	case raw.AllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.AllowedOrigins)
	case raw.CORSAllowedOrigins != nil:
		cfg.AllowedOrigins = normalizeOrigins(raw.CORSAllowedOrigins)
	}
	if v := strings.TrimSpace(raw.JWTSecret); v != "" {
		cfg.JWTSecret = v
	}
	cfg.JWTIssuer = strings.TrimSpace(raw.JWTIssuer)
	for _, id := range raw.Admins {
		if id = strings.TrimSpace(id); id != "" {
			cfg.Admins = append(cfg.Admins, id)
		}
	}
	if v := strings.TrimSpace(raw.Timezone); v != "" {
		cfg.Timezone = v
	} else if v := strings.TrimSpace(raw.TZ); v != "" {
		cfg.Timezone = v
	}
	if v := strings.TrimSpace(raw.Paths.Logs); v != "" {
		cfg.Paths.Logs = v
	} else if v := strings.TrimSpace(raw.LogDir); v != "" {
		cfg.Paths.Logs = v
	}

	cfg.Database = applyRawDatabaseConfig(cfg.Database, raw)
	cfg.Redis = applyRawRedisConfig(cfg.Redis, raw)
	cfg.DSN = cfg.Database.DSNValue()
	cfg.RedisURL = cfg.Redis.URLValue()

	cfg.AI = AIConfig{
		Providers:       NormalizeProviders(raw.AI.Providers),
		ExtractionModel: raw.AI.ExtractionModel,
		RepairModel:     raw.AI.RepairModel,
		Pricing:         raw.AI.Pricing,
	}

	var err error
	if cfg.Extraction, err = applyRawExtractionConfig(cfg.Extraction, raw.Extraction); err != nil {
		return err
	}

	if raw.Quota.Limit != nil {
		cfg.Quota.Limit = *raw.Quota.Limit
	}
	if cfg.Quota.Window, err = parseDuration("quota.window", raw.Quota.Window, cfg.Quota.Window); err != nil {
		return err
	}

	if cfg.Source, err = applyRawSourceConfig(cfg.Source, raw.Source); err != nil {
		return err
	}

	cfg.Archive = applyRawArchiveConfig(cfg.Archive, raw.Archive)

	if cfg.Cache.PurgeAfter, err = parseDuration("cache.purge_after", raw.Cache.PurgeAfter, cfg.Cache.PurgeAfter); err != nil {
		return err
	}
	if cfg.Cache.PurgeInterval, err = parseDuration("cache.purge_interval", raw.Cache.PurgeInterval, cfg.Cache.PurgeInterval); err != nil {
		return err
	}
	if cfg.Tasks.Retention, err = parseDuration("tasks.retention", raw.Tasks.Retention, cfg.Tasks.Retention); err != nil {
		return err
	}
	if cfg.Tasks.CleanupInterval, err = parseDuration("tasks.cleanup_interval", raw.Tasks.CleanupInterval, cfg.Tasks.CleanupInterval); err != nil {
		return err
	}
	if raw.RateLimitPerSecond != nil {
		cfg.RateLimitPerSecond = *raw.RateLimitPerSecond
	}
	return nil
}

func applyRawDatabaseConfig(current DatabaseRuntimeConfig, raw rawAppConfig) DatabaseRuntimeConfig {
	next := current
	db := raw.Database
	if v := strings.ToLower(strings.TrimSpace(db.Driver)); v != "" {
		next.Driver = v
	}
	if v := strings.TrimSpace(db.DSN); v != "" {
		next.DSN = v
	} else if v := strings.TrimSpace(raw.DSN); v != "" {
		next.DSN = v
	}
	if v := strings.TrimSpace(db.Host); v != "" {
		next.Host = v
	}
	if db.Port != 0 {
		next.Port = db.Port
	}
	if v := strings.TrimSpace(db.User); v != "" {
		next.User = v
	} else if v := strings.TrimSpace(db.Username); v != "" {
		next.User = v
	}
	if db.Password != "" {
		next.Password = db.Password
	}
	if v := strings.TrimSpace(db.Name); v != "" {
		next.Name = v
	}
	if v := strings.TrimSpace(db.Charset); v != "" {
		next.Charset = v
	}
	if db.ParseTime != nil {
		next.ParseTime = *db.ParseTime
	}
	if v := strings.TrimSpace(db.Loc); v != "" {
		next.Loc = v
	}
	if v := strings.TrimSpace(db.Path); v != "" {
		next.Path = v
	}
	if db.Params != nil {
		next.Params = db.Params
	}
	return normalizeDatabaseConfig(next)
}

func applyRawRedisConfig(current RedisRuntimeConfig, raw rawAppConfig) RedisRuntimeConfig {
	next := current
	r := raw.Redis
	if v := strings.TrimSpace(r.URL); v != "" {
		next.URL = v
	} else if v := strings.TrimSpace(raw.RedisURL); v != "" {
		next.URL = v
	}
	if v := strings.TrimSpace(r.Host); v != "" {
		next.Host = v
	}
	if r.Port != 0 {
		next.Port = r.Port
	}
	if v := strings.TrimSpace(r.Username); v != "" {
		next.Username = v
	}
	if r.Password != "" {
		next.Password = r.Password
	}
	if r.DB != nil {
		next.DB = *r.DB
	}
	if r.TLS != nil {
		next.TLS = *r.TLS
	}
	return normalizeRedisConfig(next)
}

func applyRawExtractionConfig(current ExtractionConfig, raw rawExtractionConfig) (ExtractionConfig, error) {
	next := current
	if raw.MaxContentChars > 0 {
		next.MaxContentChars = raw.MaxContentChars
	}
	if raw.MaxOutputTokens > 0 {
		next.MaxOutputTokens = raw.MaxOutputTokens
	}
	if raw.PrimaryAttempts != 0 {
		next.PrimaryAttempts = raw.PrimaryAttempts
	}
	if raw.RepairAttempts != 0 {
		next.RepairAttempts = raw.RepairAttempts
	}
	var err error
	if next.RequestTimeout, err = parseDuration("extraction.request_timeout", raw.RequestTimeout, next.RequestTimeout); err != nil {
		return next, err
	}
	if next.BackoffBase, err = parseDuration("extraction.backoff_base", raw.BackoffBase, next.BackoffBase); err != nil {
		return next, err
	}
	if next.BackoffMax, err = parseDuration("extraction.backoff_max", raw.BackoffMax, next.BackoffMax); err != nil {
		return next, err
	}
	return next, nil
}

func applyRawSourceConfig(current SourceConfig, raw rawSourceConfig) (SourceConfig, error) {
	next := current
	if v := strings.TrimRight(strings.TrimSpace(raw.YouTubeBaseURL), "/"); v != "" {
		next.YouTubeBaseURL = v
	}
	if v := strings.TrimSpace(raw.YouTubeOEmbedURL); v != "" {
		next.YouTubeOEmbedURL = v
	}
	if raw.YouTubeRPS > 0 {
		next.YouTubeRPS = raw.YouTubeRPS
	}
	if raw.YouTubeBurst > 0 {
		next.YouTubeBurst = raw.YouTubeBurst
	}
	if raw.TranscriptAttempts > 0 {
		next.TranscriptAttempts = raw.TranscriptAttempts
	}
	if v := strings.TrimSpace(raw.UserAgent); v != "" {
		next.UserAgent = v
	}
	if raw.MaxBodyBytes > 0 {
		next.MaxBodyBytes = raw.MaxBodyBytes
	}
	var err error
	next.FetchTimeout, err = parseDuration("source.fetch_timeout", raw.FetchTimeout, next.FetchTimeout)
	return next, err
}

func applyRawArchiveConfig(current ArchiveConfig, raw rawArchiveConfig) ArchiveConfig {
	next := current
	next.Enabled = raw.Enabled
	next.Bucket = strings.TrimSpace(raw.Bucket)
	next.Region = strings.TrimSpace(raw.Region)
	next.Endpoint = strings.TrimSpace(raw.Endpoint)
	next.AccessKeyID = strings.TrimSpace(raw.AccessKeyID)
	next.SecretAccessKey = strings.TrimSpace(raw.SecretAccessKey)
	next.PathStyle = raw.PathStyle
	if v := strings.Trim(strings.TrimSpace(raw.Prefix), "/"); v != "" {
		next.Prefix = v
	}
	return next
}

func parseDuration(field, raw string, fallback time.Duration) (time.Duration, error) {
	v := strings.TrimSpace(raw)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, raw, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid %s %q: must not be negative", field, raw)
	}
	return d, nil
}
