package config

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config aggregates application settings sourced from environment variables.
type Config struct {
	API        APIConfig        `mapstructure:"api"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Redis      RedisConfig      `mapstructure:"redis"`
	MinIO      MinIOConfig      `mapstructure:"minio"`
	Auth       AuthConfig       `mapstructure:"auth"`
	AI         AIConfig         `mapstructure:"ai"`
	Clamd      ClamdConfig      `mapstructure:"clamd"`
	Milestones MilestonesConfig `mapstructure:"milestones"`
	Worker     WorkerConfig     `mapstructure:"worker"`
}

// APIConfig contains HTTP server settings.
type APIConfig struct {
	Port           int    `mapstructure:"port"`
	CORSOrigins    string `mapstructure:"cors_origins"`
	MaxUploadBytes int64  `mapstructure:"max_upload_bytes"`
}

// AllowedOrigins splits the comma separated CORS_ORIGIN value.
func (a APIConfig) AllowedOrigins() []string {
	parts := strings.Split(a.CORSOrigins, ",")
	origins := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			origins = append(origins, p)
		}
	}
	return origins
}

// DatabaseConfig contains connection options for PostgreSQL.
type DatabaseConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Name     string `mapstructure:"name"`
	User     string `mapstructure:"user"`
	Password string `mapstructure:"password"`
	SSLMode  string `mapstructure:"sslmode"`
}

// RedisConfig 包含 Redis 连接配置。
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
}

// Addr 返回 host:port 形式的地址。
func (r RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Port)
}

// MinIOConfig contains connection options for MinIO/S3-compatible storage.
type MinIOConfig struct {
	Endpoint         string `mapstructure:"endpoint"`
	PublicEndpoint   string `mapstructure:"public_endpoint"`
	AccessKeyID      string `mapstructure:"access_key_id"`
	SecretAccessKey  string `mapstructure:"secret_access_key"`
	UseSSL           bool   `mapstructure:"use_ssl"`
	Bucket           string `mapstructure:"bucket"`
	Region           string `mapstructure:"region"`
	BucketLookup     string `mapstructure:"bucket_lookup"`
	AutoCreateBucket bool   `mapstructure:"auto_create_bucket"`
}

// AuthConfig 描述 JWT 密钥位置、有效期与登录限流。
type AuthConfig struct {
	PrivateKeyPath         string        `mapstructure:"private_key_path"`
	PublicKeyPath          string        `mapstructure:"public_key_path"`
	AccessTokenTTL         time.Duration `mapstructure:"access_token_ttl"`
	RefreshTokenTTL        time.Duration `mapstructure:"refresh_token_ttl"`
	SignInRateLimitPerHour int           `mapstructure:"sign_in_rate_limit_per_hour"`
}

// AIConfig 描述生成式模型调用参数。
type AIConfig struct {
	GeminiAPIKey     string        `mapstructure:"gemini_api_key"`
	Model            string        `mapstructure:"model"`
	Timeout          time.Duration `mapstructure:"timeout"`
	RateLimitPerHour int           `mapstructure:"rate_limit_per_hour"`
}

// ClamdConfig 为空地址时跳过病毒扫描。
type ClamdConfig struct {
	Addr string `mapstructure:"addr"`
}

// MilestonesConfig holds milestone workflow policy.
type MilestonesConfig struct {
	AllowResubmitAfterReject bool `mapstructure:"allow_resubmit_after_reject"`
}

// WorkerConfig contains asynq server settings.
type WorkerConfig struct {
	Concurrency int `mapstructure:"concurrency"`
	MetricsPort int `mapstructure:"metrics_port"`
}

// DSN builds a lib/pq compatible connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host,
		d.Port,
		d.User,
		d.Password,
		d.Name,
		d.SSLMode,
	)
}

// Load reads configuration solely from environment variables (with optional defaults).
func Load() (*Config, error) {
	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	if err := bindEnv(v); err != nil {
		return nil, fmt.Errorf("bind env: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// MustLoad wraps Load and panics on failure.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.cors_origins", "http://localhost:3000")
	v.SetDefault("api.max_upload_bytes", 20<<20)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "freelancehub")
	v.SetDefault("database.user", "freelancehub")
	v.SetDefault("database.password", "freelancehub")
	v.SetDefault("database.sslmode", "disable")
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("minio.endpoint", "localhost:9000")
	v.SetDefault("minio.public_endpoint", "http://localhost:9000")
	v.SetDefault("minio.use_ssl", false)
	v.SetDefault("minio.bucket", "submissions")
	v.SetDefault("minio.bucket_lookup", "auto")
	v.SetDefault("minio.auto_create_bucket", true)
	v.SetDefault("auth.access_token_ttl", 15*time.Minute)
	v.SetDefault("auth.refresh_token_ttl", 7*24*time.Hour)
	v.SetDefault("auth.sign_in_rate_limit_per_hour", 20)
	v.SetDefault("ai.model", "gemini-2.0-flash")
	v.SetDefault("ai.timeout", 30*time.Second)
	v.SetDefault("ai.rate_limit_per_hour", 30)
	v.SetDefault("milestones.allow_resubmit_after_reject", true)
	v.SetDefault("worker.concurrency", 10)
	v.SetDefault("worker.metrics_port", 9091)
}

func bindEnv(v *viper.Viper) error {
	mappings := map[string]string{
		"api.port":                               "API_PORT",
		"api.cors_origins":                       "CORS_ORIGIN",
		"api.max_upload_bytes":                   "MAX_UPLOAD_BYTES",
		"database.host":                          "DATABASE_HOST",
		"database.port":                          "DATABASE_PORT",
		"database.name":                          "POSTGRES_DB",
		"database.user":                          "POSTGRES_USER",
		"database.password":                      "POSTGRES_PASSWORD",
		"database.sslmode":                       "DATABASE_SSLMODE",
		"redis.host":                             "REDIS_HOST",
		"redis.port":                             "REDIS_PORT",
		"redis.password":                         "REDIS_PASSWORD",
		"minio.endpoint":                         "MINIO_ENDPOINT",
		"minio.public_endpoint":                  "MINIO_PUBLIC_ENDPOINT",
		"minio.access_key_id":                    "MINIO_ACCESS_KEY_ID",
		"minio.secret_access_key":                "MINIO_SECRET_ACCESS_KEY",
		"minio.use_ssl":                          "MINIO_USE_SSL",
		"minio.bucket":                           "MINIO_BUCKET",
		"minio.region":                           "MINIO_REGION",
		"minio.bucket_lookup":                    "MINIO_BUCKET_LOOKUP",
		"minio.auto_create_bucket":               "MINIO_AUTO_CREATE_BUCKET",
		"auth.private_key_path":                  "JWT_PRIVATE_KEY_PATH",
		"auth.public_key_path":                   "JWT_PUBLIC_KEY_PATH",
		"auth.access_token_ttl":                  "ACCESS_TOKEN_TTL",
		"auth.refresh_token_ttl":                 "REFRESH_TOKEN_TTL",
		"auth.sign_in_rate_limit_per_hour":       "SIGN_IN_RATE_LIMIT_PER_HOUR",
		"ai.gemini_api_key":                      "GEMINI_API_KEY",
		"ai.model":                               "GEMINI_MODEL",
		"ai.timeout":                             "AI_TIMEOUT",
		"ai.rate_limit_per_hour":                 "AI_RATE_LIMIT_PER_HOUR",
		"clamd.addr":                             "CLAMD_ADDR",
		"milestones.allow_resubmit_after_reject": "MILESTONES_ALLOW_RESUBMIT_AFTER_REJECT",
		"worker.concurrency":                     "WORKER_CONCURRENCY",
		"worker.metrics_port":                    "WORKER_METRICS_PORT",
	}

	for key, env := range mappings {
		if err := v.BindEnv(key, env); err != nil {
			return fmt.Errorf("bind %s to %s: %w", key, env, err)
		}
	}

	return nil
}

func validate(cfg Config) error {
	if cfg.API.Port <= 0 {
		return errors.New("api port must be positive")
	}
	if cfg.API.MaxUploadBytes <= 0 {
		return errors.New("max upload bytes must be positive")
	}
	if cfg.Database.Host == "" {
		return errors.New("database host is required")
	}
	if cfg.Database.Port <= 0 {
		return errors.New("database port must be positive")
	}
	if cfg.Database.Name == "" {
		return errors.New("database name is required")
	}
	if cfg.Database.User == "" {
		return errors.New("database user is required")
	}
	if cfg.Database.Password == "" {
		return errors.New("database password is required")
	}
	if cfg.Database.SSLMode == "" {
		return errors.New("database sslmode is required")
	}
	if cfg.Redis.Host == "" {
		return errors.New("redis host is required")
	}
	if cfg.Redis.Port <= 0 {
		return errors.New("redis port must be positive")
	}
	if cfg.MinIO.Endpoint == "" {
		return errors.New("minio endpoint is required")
	}
	if cfg.MinIO.PublicEndpoint == "" {
		return errors.New("minio public endpoint is required")
	}
	if cfg.MinIO.AccessKeyID == "" {
		return errors.New("minio access key id is required")
	}
	if cfg.MinIO.SecretAccessKey == "" {
		return errors.New("minio secret access key is required")
	}
	if cfg.MinIO.Bucket == "" {
		return errors.New("minio bucket is required")
	}
	if cfg.Auth.PrivateKeyPath == "" || cfg.Auth.PublicKeyPath == "" {
		return errors.New("jwt key paths are required")
	}
	if cfg.Auth.AccessTokenTTL <= 0 || cfg.Auth.RefreshTokenTTL <= 0 {
		return errors.New("token ttl must be positive")
	}
	if cfg.Auth.SignInRateLimitPerHour <= 0 {
		return errors.New("sign in rate limit must be positive")
	}
	if cfg.AI.GeminiAPIKey == "" {
		return errors.New("gemini api key is required")
	}
	if cfg.AI.Model == "" {
		return errors.New("gemini model is required")
	}
	if cfg.AI.Timeout <= 0 {
		return errors.New("ai timeout must be positive")
	}
	if cfg.AI.RateLimitPerHour <= 0 {
		return errors.New("ai rate limit must be positive")
	}
	if cfg.Worker.Concurrency <= 0 {
		return errors.New("worker concurrency must be positive")
	}
	return nil
}
