package infra

import (
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v6"
	"github.com/joho/godotenv"
)

// Config represents application configuration loaded from environment variables.
type Config struct {
	AppEnv    string        `env:"APP_ENV" envDefault:"development"`
	Port      string        `env:"PORT" envDefault:"8080"`
	JWTSecret string        `env:"JWT_SECRET"`
	TokenTTL  time.Duration `env:"TOKEN_TTL" envDefault:"24h"`
	LogLevel  string        `env:"LOG_LEVEL"`

	KVBackend     string `env:"KV_BACKEND" envDefault:"memory"`
	KVPrefix      string `env:"KV_PREFIX" envDefault:"grafo"`
	DatabaseURL   string `env:"DATABASE_URL"`
	DBMaxConns    int32  `env:"DB_MAX_CONNS" envDefault:"10"`
	DBMinConns    int32  `env:"DB_MIN_CONNS" envDefault:"1"`
	RedisAddr     string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string `env:"REDIS_PASSWORD"`
	RedisDB       int    `env:"REDIS_DB" envDefault:"0"`
	RedisTLS      bool   `env:"REDIS_TLS" envDefault:"false"`

	BlobBackend     string        `env:"BLOB_BACKEND" envDefault:"filesystem"`
	StoragePath     string        `env:"STORAGE_PATH" envDefault:"./storage"`
	StorageBaseURL  string        `env:"STORAGE_BASE_URL"`
	S3Bucket        string        `env:"S3_BUCKET"`
	S3Region        string        `env:"S3_REGION" envDefault:"us-east-1"`
	S3Endpoint      string        `env:"S3_ENDPOINT"`
	S3AccessKey     string        `env:"S3_ACCESS_KEY"`
	S3SecretKey     string        `env:"S3_SECRET_KEY"`
	S3PublicBaseURL string        `env:"S3_PUBLIC_BASE_URL"`
	S3PresignTTL    time.Duration `env:"S3_PRESIGN_TTL" envDefault:"168h"`

	TextProvider     string        `env:"TEXT_PROVIDER" envDefault:"gemini"`
	GeminiAPIKey     string        `env:"GEMINI_API_KEY"`
	GeminiBaseURL    string        `env:"GEMINI_BASE_URL" envDefault:"https://generativelanguage.googleapis.com/v1beta"`
	GeminiTextModel  string        `env:"GEMINI_TEXT_MODEL" envDefault:"gemini-2.0-flash"`
	GeminiImageModel string        `env:"GEMINI_IMAGE_MODEL" envDefault:"gemini-2.0-flash-preview-image-generation"`
	OpenAIAPIKey     string        `env:"OPENAI_API_KEY"`
	OpenAIBaseURL    string        `env:"OPENAI_BASE_URL" envDefault:"https://api.openai.com/v1"`
	OpenAIModel      string        `env:"OPENAI_MODEL" envDefault:"gpt-4o-mini"`
	GatewayTimeout   time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"60s"`
	PipelineTimeout  time.Duration `env:"PIPELINE_TIMEOUT" envDefault:"3m"`
	PromptTemplate   string        `env:"PROMPT_TEMPLATE" envDefault:"default"`

	MaxUploadBytes    int64    `env:"MAX_UPLOAD_BYTES" envDefault:"10485760"`
	MaxImagePixels    int64    `env:"MAX_IMAGE_PIXELS" envDefault:"40000000"`
	AllowedMIMETypes  []string `env:"ALLOWED_MIME_TYPES" envSeparator:"," envDefault:"image/jpeg,image/png,image/webp"`
	HistoryMaxEntries int      `env:"HISTORY_MAX_ENTRIES" envDefault:"50"`

	RateLimitWindow        time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"15m"`
	RateLimitMax           int           `env:"RATE_LIMIT_MAX" envDefault:"100"`
	ProcessRateLimitWindow time.Duration `env:"PROCESS_RATE_LIMIT_WINDOW" envDefault:"15m"`
	ProcessRateLimitMax    int           `env:"PROCESS_RATE_LIMIT_MAX" envDefault:"10"`

	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
	DefaultLocale      string   `env:"DEFAULT_LOCALE" envDefault:"en"`
	GeoIPDBPath        string   `env:"GEOIP_DB_PATH"`
	FirebaseProjectID  string   `env:"FIREBASE_PROJECT_ID"`
	FirebaseJWKSURL    string   `env:"FIREBASE_JWKS_URL" envDefault:"https://www.googleapis.com/service_accounts/v1/jwk/securetoken@system.gserviceaccount.com"`
	AMQPURL            string   `env:"AMQP_URL"`

	HTTPReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT" envDefault:"15s"`
	HTTPWriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT" envDefault:"5m"`
	HTTPIdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT" envDefault:"60s"`
}

// LoadConfig reads an optional .env file, parses the environment and applies
// derived defaults.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	// env treats a set-but-empty variable as a value; keep the port usable.
	if strings.TrimSpace(cfg.Port) == "" {
		cfg.Port = "8080"
	}
	if strings.TrimSpace(cfg.StorageBaseURL) == "" {
		cfg.StorageBaseURL = "http://localhost:" + cfg.Port + "/static"
	}
	cfg.StorageBaseURL = strings.TrimRight(cfg.StorageBaseURL, "/")
	cfg.AllowedMIMETypes = normalizeList(cfg.AllowedMIMETypes)
	cfg.CORSAllowedOrigins = normalizeList(cfg.CORSAllowedOrigins)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch c.KVBackend {
	case "memory", "redis":
	case "postgres":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL is required when KV_BACKEND=postgres")
		}
	default:
		return fmt.Errorf("KV_BACKEND %q is not supported", c.KVBackend)
	}
	switch c.BlobBackend {
	case "filesystem":
	case "s3":
		if c.S3Bucket == "" {
			return fmt.Errorf("S3_BUCKET is required when BLOB_BACKEND=s3")
		}
	default:
		return fmt.Errorf("BLOB_BACKEND %q is not supported", c.BlobBackend)
	}
	switch c.TextProvider {
	case "gemini", "openai":
	default:
		return fmt.Errorf("TEXT_PROVIDER %q is not supported", c.TextProvider)
	}
	if _, err := ParseLevel(c.AppEnv, c.LogLevel); err != nil {
		return err
	}
	if c.DBMaxConns <= 0 || c.DBMinConns < 0 || c.DBMinConns > c.DBMaxConns {
		return fmt.Errorf("DB_MIN_CONNS and DB_MAX_CONNS must satisfy 0 <= min <= max, max > 0")
	}
	if c.MaxUploadBytes <= 0 {
		return fmt.Errorf("MAX_UPLOAD_BYTES must be positive")
	}
	if c.MaxImagePixels <= 0 {
		return fmt.Errorf("MAX_IMAGE_PIXELS must be positive")
	}
	if c.HistoryMaxEntries <= 0 {
		return fmt.Errorf("HISTORY_MAX_ENTRIES must be positive")
	}
	if c.GatewayTimeout <= 0 || c.PipelineTimeout <= 0 {
		return fmt.Errorf("GATEWAY_TIMEOUT and PIPELINE_TIMEOUT must be positive")
	}
	return nil
}

func normalizeList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, strings.ToLower(v))
		}
	}
	return out
}
