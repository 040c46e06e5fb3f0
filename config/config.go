package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

type Config struct {
	Port     string
	Env      string
	LogLevel string
	LogJSON  bool

	MongoURI     string
	DatabaseName string

	JWTSecret string
	JWTIssuer string

	// BlobBackend is "b2" or "s3".
	BlobBackend string

	B2ApplicationKeyID string
	B2ApplicationKey   string
	B2BucketName       string

	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool

	DefaultUserQuota  int64
	MaxFileSize       int64
	UploadConcurrency int
	ReservationTTL    time.Duration

	MetadataCacheTTL    time.Duration
	GrantCacheTTL       time.Duration
	DownloadURLCacheTTL time.Duration
	SignedURLTTL        time.Duration
	ShareCacheMaxTTL    time.Duration
	DefaultShareTTL     time.Duration
	MaxShareTTL         time.Duration

	UpstreamConnectTimeout time.Duration
	UpstreamIdleTimeout    time.Duration

	MailgunAPIKey      string
	MailgunDomain      string
	MailgunBaseURL     string
	FromEmail          string
	NotifyMaxRetries   int
	NotifyRetryBackoff time.Duration

	OrphanSweepInterval time.Duration

	PublicRateLimit float64
	PublicRateBurst int

	AllowedOrigins []string
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("PORT", "8080")
	v.SetDefault("ENV", "development")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOG_JSON", false)

	v.SetDefault("MONGO_URI", "mongodb://localhost:27017")
	v.SetDefault("DATABASE_NAME", "sharedrive")

	v.SetDefault("JWT_ISSUER", "sharedrive")
	v.SetDefault("BLOB_BACKEND", "b2")

	v.SetDefault("S3_REGION", "us-east-1")
	v.SetDefault("S3_USE_PATH_STYLE", false)

	v.SetDefault("DEFAULT_USER_QUOTA", int64(2*1024*1024*1024))
	v.SetDefault("MAX_FILE_SIZE", int64(100*1024*1024))
	v.SetDefault("UPLOAD_CONCURRENCY", 4)
	v.SetDefault("RESERVATION_TTL", "1h")

	v.SetDefault("METADATA_CACHE_TTL", "1h")
	v.SetDefault("GRANT_CACHE_TTL", "10m")
	v.SetDefault("DOWNLOAD_URL_CACHE_TTL", "5m")
	v.SetDefault("SIGNED_URL_TTL", "15m")
	v.SetDefault("SHARE_CACHE_MAX_TTL", "24h")
	v.SetDefault("DEFAULT_SHARE_TTL", "168h")
	v.SetDefault("MAX_SHARE_TTL", "720h")

	v.SetDefault("UPSTREAM_CONNECT_TIMEOUT", "10s")
	v.SetDefault("UPSTREAM_IDLE_TIMEOUT", "30s")

	v.SetDefault("FROM_EMAIL", "noreply@sharedrive.local")
	v.SetDefault("NOTIFY_MAX_RETRIES", 3)
	v.SetDefault("NOTIFY_RETRY_BACKOFF", "2s")

	v.SetDefault("ORPHAN_SWEEP_INTERVAL", "1h")

	v.SetDefault("PUBLIC_RATE_LIMIT", 5.0)
	v.SetDefault("PUBLIC_RATE_BURST", 20)

	v.SetDefault("ALLOWED_ORIGINS", "http://localhost:3000,http://localhost:5173")
}

// LoadConfig reads configuration from the environment. Call LoadEnvFile
// first to pick up a .env file.
func LoadConfig() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)

	cfg := &Config{
		Port:     v.GetString("PORT"),
		Env:      v.GetString("ENV"),
		LogLevel: v.GetString("LOG_LEVEL"),
		LogJSON:  v.GetBool("LOG_JSON"),

		MongoURI:     firstOf(v, "MONGODB_URI", "MONGO_URI"),
		DatabaseName: v.GetString("DATABASE_NAME"),

		JWTSecret: v.GetString("JWT_SECRET"),
		JWTIssuer: v.GetString("JWT_ISSUER"),

		BlobBackend: strings.ToLower(v.GetString("BLOB_BACKEND")),

		B2ApplicationKeyID: firstOf(v, "B2_APPLICATION_KEY_ID", "B2_KEY_ID", "BACKBLAZE_KEY_ID"),
		B2ApplicationKey:   firstOf(v, "B2_APPLICATION_KEY", "B2_APP_KEY", "BACKBLAZE_APP_KEY"),
		B2BucketName:       firstOf(v, "B2_BUCKET_NAME", "B2_BUCKET", "BACKBLAZE_BUCKET"),

		S3Endpoint:     v.GetString("S3_ENDPOINT"),
		S3Region:       v.GetString("S3_REGION"),
		S3Bucket:       v.GetString("S3_BUCKET"),
		S3AccessKey:    v.GetString("S3_ACCESS_KEY"),
		S3SecretKey:    v.GetString("S3_SECRET_KEY"),
		S3UsePathStyle: v.GetBool("S3_USE_PATH_STYLE"),

		DefaultUserQuota:  v.GetInt64("DEFAULT_USER_QUOTA"),
		MaxFileSize:       v.GetInt64("MAX_FILE_SIZE"),
		UploadConcurrency: v.GetInt("UPLOAD_CONCURRENCY"),
		ReservationTTL:    v.GetDuration("RESERVATION_TTL"),

		MetadataCacheTTL:    v.GetDuration("METADATA_CACHE_TTL"),
		GrantCacheTTL:       v.GetDuration("GRANT_CACHE_TTL"),
		DownloadURLCacheTTL: v.GetDuration("DOWNLOAD_URL_CACHE_TTL"),
		SignedURLTTL:        v.GetDuration("SIGNED_URL_TTL"),
		ShareCacheMaxTTL:    v.GetDuration("SHARE_CACHE_MAX_TTL"),
		DefaultShareTTL:     v.GetDuration("DEFAULT_SHARE_TTL"),
		MaxShareTTL:         v.GetDuration("MAX_SHARE_TTL"),

		UpstreamConnectTimeout: v.GetDuration("UPSTREAM_CONNECT_TIMEOUT"),
		UpstreamIdleTimeout:    v.GetDuration("UPSTREAM_IDLE_TIMEOUT"),

		MailgunAPIKey:      v.GetString("MAILGUN_API_KEY"),
		MailgunDomain:      v.GetString("MAILGUN_DOMAIN"),
		MailgunBaseURL:     v.GetString("MAILGUN_BASE_URL"),
		FromEmail:          v.GetString("FROM_EMAIL"),
		NotifyMaxRetries:   v.GetInt("NOTIFY_MAX_RETRIES"),
		NotifyRetryBackoff: v.GetDuration("NOTIFY_RETRY_BACKOFF"),

		OrphanSweepInterval: v.GetDuration("ORPHAN_SWEEP_INTERVAL"),

		PublicRateLimit: v.GetFloat64("PUBLIC_RATE_LIMIT"),
		PublicRateBurst: v.GetInt("PUBLIC_RATE_BURST"),

		AllowedOrigins: parseStringSlice(v.GetString("ALLOWED_ORIGINS")),
	}

	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// firstOf returns the first non-empty value among alias keys.
func firstOf(v *viper.Viper, keys ...string) string {
	for _, key := range keys {
		if value := v.GetString(key); value != "" {
			return value
		}
	}
	return ""
}

func validateConfig(cfg *Config) error {
	var missingVars []string
	required := map[string]string{
		"MONGO_URI":     cfg.MongoURI,
		"DATABASE_NAME": cfg.DatabaseName,
		"JWT_SECRET":    cfg.JWTSecret,
	}
	switch cfg.BlobBackend {
	case "b2":
		required["B2_APPLICATION_KEY_ID"] = cfg.B2ApplicationKeyID
		required["B2_APPLICATION_KEY"] = cfg.B2ApplicationKey
		required["B2_BUCKET_NAME"] = cfg.B2BucketName
	case "s3":
		required["S3_BUCKET"] = cfg.S3Bucket
		required["S3_REGION"] = cfg.S3Region
	default:
		return fmt.Errorf("unsupported BLOB_BACKEND %q (want b2 or s3)", cfg.BlobBackend)
	}
	for key, value := range required {
		if value == "" {
			missingVars = append(missingVars, key)
		}
	}
	if len(missingVars) > 0 {
		return fmt.Errorf("missing required environment variables: %v", missingVars)
	}

	var errs []error
	if cfg.MaxFileSize <= 0 {
		errs = append(errs, errors.New("MAX_FILE_SIZE must be positive"))
	}
	if cfg.DefaultUserQuota < 0 {
		errs = append(errs, errors.New("DEFAULT_USER_QUOTA cannot be negative"))
	}
	if cfg.UploadConcurrency < 1 {
		errs = append(errs, errors.New("UPLOAD_CONCURRENCY must be at least 1"))
	}
	if cfg.ReservationTTL <= 0 {
		errs = append(errs, errors.New("RESERVATION_TTL must be positive"))
	}
	if cfg.SignedURLTTL <= 0 || cfg.DownloadURLCacheTTL >= cfg.SignedURLTTL {
		errs = append(errs, errors.New("DOWNLOAD_URL_CACHE_TTL must be shorter than SIGNED_URL_TTL"))
	}
	if cfg.DefaultShareTTL <= 0 || cfg.DefaultShareTTL > cfg.MaxShareTTL {
		errs = append(errs, errors.New("DEFAULT_SHARE_TTL must be positive and no longer than MAX_SHARE_TTL"))
	}
	if cfg.UpstreamConnectTimeout <= 0 || cfg.UpstreamIdleTimeout <= 0 {
		errs = append(errs, errors.New("upstream timeouts must be positive"))
	}
	if cfg.NotifyMaxRetries < 0 {
		errs = append(errs, errors.New("NOTIFY_MAX_RETRIES cannot be negative"))
	}
	if cfg.PublicRateLimit <= 0 || cfg.PublicRateBurst < 1 {
		errs = append(errs, errors.New("PUBLIC_RATE_LIMIT and PUBLIC_RATE_BURST must be positive"))
	}
	return errors.Join(errs...)
}

// Log writes a masked summary of the configuration.
func (c *Config) Log(logger *slog.Logger) {
	logger.Info("configuration loaded",
		"port", c.Port,
		"env", c.Env,
		"database", c.DatabaseName,
		"mongo_uri", maskConnectionString(c.MongoURI),
		"jwt_secret", maskSecret(c.JWTSecret),
		"blob_backend", c.BlobBackend,
		"b2_key_id", maskSecret(c.B2ApplicationKeyID),
		"b2_bucket", c.B2BucketName,
		"s3_endpoint", c.S3Endpoint,
		"s3_bucket", c.S3Bucket,
		"s3_access_key", maskSecret(c.S3AccessKey),
		"default_quota", humanize.IBytes(uint64(c.DefaultUserQuota)),
		"max_file_size", humanize.IBytes(uint64(c.MaxFileSize)),
		"signed_url_ttl", c.SignedURLTTL,
		"upstream_idle_timeout", c.UpstreamIdleTimeout,
		"mailgun_api_key", maskSecret(c.MailgunAPIKey),
		"allowed_origins", c.AllowedOrigins,
		"orphan_sweep_interval", c.OrphanSweepInterval,
	)
}

func maskSecret(secret string) string {
	if secret == "" {
		return "[NOT SET]"
	}
	if len(secret) <= 8 {
		return "[HIDDEN]"
	}
	return secret[:4] + "***" + secret[len(secret)-4:]
}

func maskConnectionString(uri string) string {
	if uri == "" {
		return "[NOT SET]"
	}
	if strings.Contains(uri, "@") {
		parts := strings.Split(uri, "@")
		if len(parts) >= 2 {
			scheme := ""
			if i := strings.Index(parts[0], "://"); i >= 0 {
				scheme = parts[0][:i+3]
			}
			return scheme + "[CREDENTIALS_HIDDEN]@" + parts[len(parts)-1]
		}
	}
	return uri
}

func parseStringSlice(s string) []string {
	if s == "" {
		return []string{}
	}

	parts := strings.Split(s, ",")
	result := []string{}
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

// LoadEnvFile loads the first .env file found in the working directory or
// its parents. It returns the path loaded, or "" when none was found.
func LoadEnvFile() (string, error) {
	pwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("could not get working directory: %w", err)
	}

	envPaths := []string{
		filepath.Join(pwd, ".env"),
		filepath.Join(filepath.Dir(pwd), ".env"),
		filepath.Join(filepath.Dir(filepath.Dir(pwd)), ".env"),
	}
	for _, envPath := range envPaths {
		if _, err := os.Stat(envPath); err != nil {
			continue
		}
		if err := godotenv.Load(envPath); err != nil {
			return "", fmt.Errorf("failed to load %s: %w", envPath, err)
		}
		return envPath, nil
	}
	return "", nil
}
