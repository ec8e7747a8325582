package config

import "time"

const (
	// DefaultConfigPath is used when --config is not provided.
	DefaultConfigPath = "config.yml"
	defaultPort       = 2333
	defaultEnv        = "development"

	DriverMySQL  = "mysql"
	DriverSQLite = "sqlite"

	defaultDBDriver   = DriverMySQL
	defaultDBHost     = "127.0.0.1"
	defaultDBPort     = 3306
	defaultDBUser     = "root"
	defaultDBPassword = "password"
	defaultDBName     = "distill"
	defaultDBCharset  = "utf8mb4"
	defaultDBLoc      = "Local"
	defaultSQLitePath = "distill.db"
	defaultRedisHost  = "localhost"
	defaultRedisPort  = 6379
	defaultRedisDB    = 0

	defaultMaxContentChars = 48000
	defaultMaxOutputTokens = 4096
	defaultPrimaryAttempts = 3
	defaultRepairAttempts  = 2
	defaultAIRequestTime   = 90 * time.Second
	defaultBackoffBase     = 800 * time.Millisecond
	defaultBackoffMax      = 8 * time.Second

	defaultQuotaLimit  = 20
	defaultQuotaWindow = time.Hour

	defaultYouTubeBaseURL   = "https://www.youtube.com"
	defaultYouTubeOEmbedURL = "https://www.youtube.com/oembed"
	defaultYouTubeRPS       = 2.0
	defaultYouTubeBurst     = 4
	defaultTranscriptTries  = 3

	defaultUserAgent    = "Mozilla/5.0 (compatible; distill/1.0; +https://github.com/mx-space/distill)"
	defaultFetchTimeout = 20 * time.Second
	defaultMaxBodyBytes = 5 << 20

	defaultPurgeInterval = 24 * time.Hour
	defaultArchivePrefix = "invalid-output"
	defaultTaskRetention = 24 * time.Hour
	defaultTaskCleanup   = time.Hour
	defaultRateLimitRPS  = 20
)
