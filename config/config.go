package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration loaded from environment.
type Config struct {
	Server     ServerConfig
	Database   DatabaseConfig
	Redis      RedisConfig
	Auth       AuthConfig
	AWS        AWSConfig
	Ingest     IngestConfig
	Playground PlaygroundConfig
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port               string
	ReadTimeout        int
	WriteTimeout       int
	CORSAllowedOrigins string // comma-separated, or "*" for all
	MaxUploadMB        int
}

// DatabaseConfig holds PostgreSQL connection settings and the table names of the three record kinds.
type DatabaseConfig struct {
	URL      string // if set, used as-is (e.g. postgres://localhost:5432/codereplay?sslmode=disable)
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
	SSLMode  string

	PendingTable string
	SummaryTable string
	GroupTable   string
}

// RedisConfig holds Redis connection settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// AuthConfig holds session cookie settings. Secret is shared with the frontend that issues sessions.
type AuthConfig struct {
	Secret       string
	NextAuthURL  string
	SecureCookie bool
}

// AWSConfig holds AWS credentials for the optional artifact mirror.
type AWSConfig struct {
	Region               string
	AccessKeyID          string
	SecretAccessKey      string
	RecordingsBucket     string
	PresignExpireMinutes int
}

// IngestConfig holds upload and background processing settings.
type IngestConfig struct {
	UploadTmpDir     string
	DownloadsDir     string
	FFmpegPath       string
	TranscodeTimeout time.Duration
	Workers          int
	StalePending     time.Duration
	// MetricsPort is where the standalone worker serves /metrics.
	MetricsPort string
}

// PlaygroundConfig points at the remote code execution service.
type PlaygroundConfig struct {
	Server  string
	Timeout time.Duration
}

var identRe = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// DSN returns the PostgreSQL connection string.
// If DatabaseConfig.URL is set (e.g. DATABASE_URL env), it is used as-is; otherwise built from components.
func (c DatabaseConfig) DSN() string {
	if c.URL != "" {
		return c.URL
	}
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.DBName, c.SSLMode,
	)
}

// SecureCookies reports whether the session cookie carries the __Secure- prefix.
func (c AuthConfig) SecureCookies() bool {
	if c.SecureCookie {
		return true
	}
	return c.NextAuthURL != "" && !strings.HasPrefix(c.NextAuthURL, "http://")
}

// S3Enabled reports whether the artifact mirror is configured.
func (c AWSConfig) S3Enabled() bool {
	return c.Region != "" && c.RecordingsBucket != ""
}

// Load reads configuration from environment, with optional .env file.
func Load() (*Config, error) {
	_ = godotenv.Load()      // .env
	_ = godotenv.Load("env") // env (no leading dot)

	cfg := &Config{
		Server: ServerConfig{
			Port:               getEnv("PORT", "8888"),
			ReadTimeout:        getEnvInt("READ_TIMEOUT_SEC", 120),
			WriteTimeout:       getEnvInt("WRITE_TIMEOUT_SEC", 30),
			CORSAllowedOrigins: getEnv("CORS_ALLOWED_ORIGINS", "http://localhost:3000"),
			MaxUploadMB:        getEnvInt("MAX_UPLOAD_MB", 256),
		},
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			Host:         getEnv("DB_HOST", "localhost"),
			Port:         getEnv("DB_PORT", "5432"),
			User:         getEnv("DB_USER", "postgres"),
			Password:     getEnv("DB_PASSWORD", "postgres"),
			DBName:       getEnv("DB_NAME", "codereplay"),
			SSLMode:      getEnv("DB_SSLMODE", "disable"),
			PendingTable: getEnv("PENDING_TABLE", "pending_recordings"),
			SummaryTable: getEnv("SUMMARY_TABLE", "recording_summaries"),
			GroupTable:   getEnv("GROUP_TABLE", "recording_groups"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvInt("REDIS_DB", 0),
		},
		Auth: AuthConfig{
			Secret:       os.Getenv("SECRET"),
			NextAuthURL:  os.Getenv("NEXTAUTH_URL"),
			SecureCookie: getEnvBool("SECURE_COOKIE", false),
		},
		AWS: AWSConfig{
			Region:               getEnv("AWS_REGION", ""),
			AccessKeyID:          getEnv("AWS_ACCESS_KEY_ID", ""),
			SecretAccessKey:      getEnv("AWS_SECRET_ACCESS_KEY", ""),
			RecordingsBucket:     getEnv("AWS_S3_RECORDINGS_BUCKET", ""),
			PresignExpireMinutes: getEnvInt("AWS_PRESIGN_EXPIRE_MINUTES", 15),
		},
		Ingest: IngestConfig{
			UploadTmpDir:     getEnv("UPLOAD_TMP_DIR", os.TempDir()),
			DownloadsDir:     getEnv("DOWNLOADS_DIR", "downloads"),
			FFmpegPath:       getEnv("FFMPEG_PATH", "ffmpeg"),
			TranscodeTimeout: getEnvDuration("TRANSCODE_TIMEOUT_SEC", 5*time.Minute),
			Workers:          getEnvInt("INGEST_WORKERS", 2),
			StalePending:     time.Duration(getEnvInt("STALE_PENDING_MINUTES", 60)) * time.Minute,
			MetricsPort:      getEnv("WORKER_METRICS_PORT", "9091"),
		},
		Playground: PlaygroundConfig{
			Server:  os.Getenv("PLAYGROUND_SERVER"),
			Timeout: getEnvDuration("PLAYGROUND_TIMEOUT_SEC", 30*time.Second),
		},
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	for _, name := range []string{c.Database.PendingTable, c.Database.SummaryTable, c.Database.GroupTable} {
		if !identRe.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	if c.Ingest.Workers <= 0 {
		return fmt.Errorf("INGEST_WORKERS must be positive, got %d", c.Ingest.Workers)
	}
	if c.Server.MaxUploadMB <= 0 {
		return fmt.Errorf("MAX_UPLOAD_MB must be positive, got %d", c.Server.MaxUploadMB)
	}
	return nil
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

// getEnvDuration reads a whole number of seconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return time.Duration(n) * time.Second
		}
	}
	return fallback
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
