package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"time"

	"github.com/dunamismax/linework/internal/pipeline"
	"github.com/hibiken/asynq"
)

type Config struct {
	API       APIConfig
	Queue     QueueConfig
	Worker    WorkerConfig
	Storage   StorageConfig
	Database  DatabaseConfig
	Pipeline  PipelineConfig
	RateLimit RateLimitConfig
	Webhook   WebhookConfig
	Tracing   TracingConfig
}

type APIConfig struct {
	Addr           string
	MaxUploadBytes int64
	RequestTimeout time.Duration
	// AsyncJobs enables /v1/jobs. It needs both Redis and MinIO.
	AsyncJobs bool
}

type QueueConfig struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	Name          string
	MaxRetry      int
	TaskTimeout   time.Duration
}

func (q QueueConfig) RedisClientOpt() asynq.RedisClientOpt {
	return asynq.RedisClientOpt{
		Addr:     q.RedisAddr,
		Password: q.RedisPassword,
		DB:       q.RedisDB,
	}
}

type WorkerConfig struct {
	Concurrency   int
	MaxActiveJobs int
	MetricsAddr   string
}

type StorageConfig struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
}

type DatabaseConfig struct {
	// DSN selects the Postgres job store. Empty keeps jobs in memory.
	DSN string
}

type PipelineConfig struct {
	VectorizerBinary string
	Shapes           int
	TempRoot         string
	MaxConcurrency   int
}

func (p PipelineConfig) Options() pipeline.Options {
	return pipeline.Options{
		Vectorizer: pipeline.VectorizerConfig{
			Binary:   p.VectorizerBinary,
			Shapes:   p.Shapes,
			TempRoot: p.TempRoot,
		},
		MaxConcurrency: p.MaxConcurrency,
	}
}

type RateLimitConfig struct {
	Enabled       bool
	Capacity      int
	Window        time.Duration
	UserIDHeader  string
	KeyPrefix     string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

type WebhookConfig struct {
	SigningSecret  string
	Timeout        time.Duration
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

type TracingConfig struct {
	Exporter     string
	OTLPEndpoint string
	OTLPInsecure bool
	SampleRatio  float64
}

func Load() Config {
	defaultWorkerSlots := max(1, runtime.NumCPU()/2)
	redisAddr := env("REDIS_ADDR", "localhost:6379")
	redisPassword := env("REDIS_PASSWORD", "")
	redisDB := envInt("REDIS_DB", 0)

	return Config{
		API: APIConfig{
			Addr:           env("LINEWORK_API_ADDR", ":8080"),
			MaxUploadBytes: int64(envInt("LINEWORK_MAX_UPLOAD_BYTES", 32<<20)),
			RequestTimeout: envDuration("LINEWORK_REQUEST_TIMEOUT", 2*time.Minute),
			AsyncJobs:      envBool("LINEWORK_ASYNC_JOBS", false),
		},
		Queue: QueueConfig{
			RedisAddr:     redisAddr,
			RedisPassword: redisPassword,
			RedisDB:       redisDB,
			Name:          env("ASYNC_QUEUE", "default"),
			MaxRetry:      envInt("LINEWORK_TASK_MAX_RETRY", 3),
			TaskTimeout:   envDuration("LINEWORK_TASK_TIMEOUT", 10*time.Minute),
		},
		Worker: WorkerConfig{
			Concurrency:   envInt("WORKER_CONCURRENCY", max(2, runtime.NumCPU())),
			MaxActiveJobs: envInt("WORKER_MAX_ACTIVE_JOBS", defaultWorkerSlots),
			MetricsAddr:   env("WORKER_METRICS_ADDR", ":9091"),
		},
		Storage: StorageConfig{
			Endpoint:  env("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: env("MINIO_ACCESS_KEY", "minioadmin"),
			SecretKey: env("MINIO_SECRET_KEY", "minioadmin"),
			Bucket:    env("MINIO_BUCKET", "linework-jobs"),
			UseSSL:    envBool("MINIO_USE_SSL", false),
		},
		Database: DatabaseConfig{
			DSN: env("POSTGRES_DSN", ""),
		},
		Pipeline: PipelineConfig{
			VectorizerBinary: env("LINEWORK_PRIMITIVE_BIN", "primitive"),
			Shapes:           envInt("LINEWORK_PRIMITIVE_SHAPES", 200),
			TempRoot:         ResolveTempRoot(),
			MaxConcurrency:   envInt("LINEWORK_MAX_CONCURRENCY", 0),
		},
		RateLimit: RateLimitConfig{
			Enabled:       envBool("RATE_LIMIT_ENABLED", false),
			Capacity:      envInt("RATE_LIMIT_CAPACITY", 60),
			Window:        envDuration("RATE_LIMIT_WINDOW", time.Minute),
			UserIDHeader:  env("RATE_LIMIT_USER_HEADER", "X-User-ID"),
			KeyPrefix:     env("RATE_LIMIT_KEY_PREFIX", "linework:ratelimit"),
			RedisAddr:     env("RATE_LIMIT_REDIS_ADDR", redisAddr),
			RedisPassword: env("RATE_LIMIT_REDIS_PASSWORD", redisPassword),
			RedisDB:       envInt("RATE_LIMIT_REDIS_DB", redisDB),
		},
		Webhook: WebhookConfig{
			SigningSecret:  env("WEBHOOK_SIGNING_SECRET", ""),
			Timeout:        envDuration("WEBHOOK_TIMEOUT", 10*time.Second),
			MaxAttempts:    envInt("WEBHOOK_MAX_ATTEMPTS", 3),
			InitialBackoff: envDuration("WEBHOOK_INITIAL_BACKOFF", time.Second),
			MaxBackoff:     envDuration("WEBHOOK_MAX_BACKOFF", 10*time.Second),
		},
		Tracing: TracingConfig{
			Exporter:     env("OTEL_TRACES_EXPORTER", "none"),
			OTLPEndpoint: env("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
			OTLPInsecure: envBool("OTEL_EXPORTER_OTLP_INSECURE", true),
			SampleRatio:  envFloat("OTEL_TRACES_SAMPLE_RATIO", 1),
		},
	}
}

// ResolveTempRoot picks the directory for vectorizer scratch files. LINEWORK_TMP_DIR wins;
// serverless hosts only allow writes under the system temp dir.
func ResolveTempRoot() string {
	if dir := env("LINEWORK_TMP_DIR", ""); dir != "" {
		return dir
	}
	if isLambdaLike() {
		return filepath.Join(os.TempDir(), "images")
	}
	cwd, err := os.Getwd()
	if err != nil {
		return filepath.Join(os.TempDir(), "images")
	}
	return filepath.Join(cwd, "dist", "tmp", "images")
}

func isLambdaLike() bool {
	if runtime.GOOS != "linux" {
		return false
	}
	if os.Getenv("NOW_REGION") != "dev1" && os.Getenv("AWS_LAMBDA_FUNCTION_NAME") != "" {
		return true
	}
	return os.Getenv("LAMBDA_TASK_ROOT") != "" && os.Getenv("AWS_EXECUTION_ENV") != ""
}

func env(key, fallback string) string {
	value, ok := os.LookupEnv(key)
	if !ok || value == "" {
		return fallback
	}
	return value
}

func envInt(key string, fallback int) int {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envFloat(key string, fallback float64) float64 {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return fallback
	}
	return parsed
}

func envBool(key string, fallback bool) bool {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func envDuration(key string, fallback time.Duration) time.Duration {
	value := env(key, "")
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
