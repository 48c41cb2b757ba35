package config

import (
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
)

// readSecret reads a Docker secret from a file path specified by an env var
// with _FILE suffix. If FOO is already set directly, the file is skipped.
// If FOO_FILE is set, reads the file content and sets FOO.
func readSecret(envKey string) {
	if os.Getenv(envKey) != "" {
		return
	}
	fileKey := envKey + "_FILE"
	filePath := os.Getenv(fileKey)
	if filePath == "" {
		return
	}
	data, err := os.ReadFile(filePath)
	if err != nil {
		return
	}
	val := strings.TrimSpace(string(data))
	os.Setenv(envKey, val)
}

type Config struct {
	Server  ServerConfig
	Redis   RedisConfig
	Suno    SunoConfig
	Webhook WebhookConfig
	Jobs    JobsConfig
	Groq    GroqConfig
	R2      R2Config
}

type ServerConfig struct {
	Port     string
	Env      string
	LogLevel string
	LogFile  string
}

// IsProduction reports whether the service runs with production safeguards.
func (s ServerConfig) IsProduction() bool {
	return strings.EqualFold(s.Env, "production")
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type SunoConfig struct {
	APIKey      string
	BaseURL     string
	CallbackURL string
	Timeout     int // seconds
}

type WebhookConfig struct {
	Secret string
	URL    string
}

type JobsConfig struct {
	GenerateConcurrency int
	DefaultConcurrency  int
	BatchChildWait      int // seconds
	ProbeCron           string
	Retention           int // hours
	SyncWait            int // seconds
}

// BatchChildWaitDuration is how long a batch run waits for one child.
func (j JobsConfig) BatchChildWaitDuration() time.Duration {
	return time.Duration(j.BatchChildWait) * time.Second
}

// SyncWaitDuration bounds a synchronous trigger-and-wait call.
func (j JobsConfig) SyncWaitDuration() time.Duration {
	return time.Duration(j.SyncWait) * time.Second
}

// RetentionDuration is how long run records and task results are kept.
func (j JobsConfig) RetentionDuration() time.Duration {
	return time.Duration(j.Retention) * time.Hour
}

type GroqConfig struct {
	APIKey  string
	BaseURL string
	Model   string
}

type R2Config struct {
	AccountID       string
	AccessKeyID     string
	SecretAccessKey string
	BucketName      string
	PublicURL       string
}

// IsConfigured reports whether every credential needed for R2 is present.
func (r R2Config) IsConfigured() bool {
	return r.AccountID != "" && r.AccessKeyID != "" && r.SecretAccessKey != "" && r.BucketName != ""
}

func Load() (*Config, error) {
	// .env is optional; real environment variables win.
	_ = godotenv.Load()

	// Read Docker Swarm secrets from _FILE env vars before Viper binds
	readSecret("REDIS_PASSWORD")
	readSecret("SUNO_API_KEY")
	readSecret("TRIGGER_WEBHOOK_SECRET")
	readSecret("GROQ_API_KEY")
	readSecret("R2_ACCOUNT_ID")
	readSecret("R2_ACCESS_KEY_ID")
	readSecret("R2_SECRET_ACCESS_KEY")

	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.AutomaticEnv()

	_ = v.BindEnv("server.port", "SERVER_PORT")
	_ = v.BindEnv("server.env", "SERVER_ENV")
	_ = v.BindEnv("server.log_level", "LOG_LEVEL")
	_ = v.BindEnv("server.log_file", "LOG_FILE")
	_ = v.BindEnv("redis.addr", "REDIS_ADDR")
	_ = v.BindEnv("redis.password", "REDIS_PASSWORD")
	_ = v.BindEnv("redis.db", "REDIS_DB")
	_ = v.BindEnv("suno.api_key", "SUNO_API_KEY")
	_ = v.BindEnv("suno.base_url", "SUNO_BASE_URL")
	_ = v.BindEnv("suno.callback_url", "SUNO_CALLBACK_URL")
	_ = v.BindEnv("suno.timeout", "SUNO_TIMEOUT")
	_ = v.BindEnv("webhook.secret", "TRIGGER_WEBHOOK_SECRET")
	_ = v.BindEnv("webhook.url", "JOB_WEBHOOK_URL")
	_ = v.BindEnv("jobs.generate_concurrency", "JOBS_GENERATE_CONCURRENCY")
	_ = v.BindEnv("jobs.default_concurrency", "JOBS_DEFAULT_CONCURRENCY")
	_ = v.BindEnv("jobs.batch_child_wait", "JOBS_BATCH_CHILD_WAIT")
	_ = v.BindEnv("jobs.probe_cron", "JOBS_PROBE_CRON")
	_ = v.BindEnv("jobs.retention", "JOBS_RETENTION")
	_ = v.BindEnv("jobs.sync_wait", "JOBS_SYNC_WAIT")
	_ = v.BindEnv("groq.api_key", "GROQ_API_KEY")
	_ = v.BindEnv("groq.base_url", "GROQ_BASE_URL")
	_ = v.BindEnv("groq.model", "GROQ_MODEL")
	_ = v.BindEnv("r2.account_id", "R2_ACCOUNT_ID")
	_ = v.BindEnv("r2.access_key_id", "R2_ACCESS_KEY_ID")
	_ = v.BindEnv("r2.secret_access_key", "R2_SECRET_ACCESS_KEY")
	_ = v.BindEnv("r2.bucket_name", "R2_BUCKET_NAME")
	_ = v.BindEnv("r2.public_url", "R2_PUBLIC_URL")

	// Defaults
	v.SetDefault("server.port", "8000")
	v.SetDefault("server.env", "development")
	v.SetDefault("server.log_level", "info")
	v.SetDefault("server.log_file", "")
	v.SetDefault("redis.addr", "localhost:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Suno defaults
	v.SetDefault("suno.base_url", "https://api.sunoapi.org/api/v1")
	v.SetDefault("suno.timeout", 30)

	// Job runtime defaults
	v.SetDefault("jobs.generate_concurrency", 5)
	v.SetDefault("jobs.default_concurrency", 10)
	v.SetDefault("jobs.batch_child_wait", 600)
	v.SetDefault("jobs.probe_cron", "0 */4 * * *")
	v.SetDefault("jobs.retention", 24)
	v.SetDefault("jobs.sync_wait", 960)

	// Groq defaults
	v.SetDefault("groq.base_url", "https://api.groq.com/openai/v1")
	v.SetDefault("groq.model", "llama-3.3-70b-versatile")

	// Try to read config file (optional)
	_ = v.ReadInConfig()

	cfg := &Config{
		Server: ServerConfig{
			Port:     v.GetString("server.port"),
			Env:      v.GetString("server.env"),
			LogLevel: v.GetString("server.log_level"),
			LogFile:  v.GetString("server.log_file"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("redis.addr"),
			Password: v.GetString("redis.password"),
			DB:       v.GetInt("redis.db"),
		},
		Suno: SunoConfig{
			APIKey:      v.GetString("suno.api_key"),
			BaseURL:     strings.TrimRight(v.GetString("suno.base_url"), "/"),
			CallbackURL: v.GetString("suno.callback_url"),
			Timeout:     v.GetInt("suno.timeout"),
		},
		Webhook: WebhookConfig{
			Secret: v.GetString("webhook.secret"),
			URL:    v.GetString("webhook.url"),
		},
		Jobs: JobsConfig{
			GenerateConcurrency: v.GetInt("jobs.generate_concurrency"),
			DefaultConcurrency:  v.GetInt("jobs.default_concurrency"),
			BatchChildWait:      v.GetInt("jobs.batch_child_wait"),
			ProbeCron:           v.GetString("jobs.probe_cron"),
			Retention:           v.GetInt("jobs.retention"),
			SyncWait:            v.GetInt("jobs.sync_wait"),
		},
		Groq: GroqConfig{
			APIKey:  v.GetString("groq.api_key"),
			BaseURL: v.GetString("groq.base_url"),
			Model:   v.GetString("groq.model"),
		},
		R2: R2Config{
			AccountID:       v.GetString("r2.account_id"),
			AccessKeyID:     v.GetString("r2.access_key_id"),
			SecretAccessKey: v.GetString("r2.secret_access_key"),
			BucketName:      v.GetString("r2.bucket_name"),
			PublicURL:       v.GetString("r2.public_url"),
		},
	}

	return cfg, nil
}
