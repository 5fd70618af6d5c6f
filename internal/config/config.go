// Package config parses the coordinator's flags and environment variables.
// Every setting has a flag and a matching environment variable fallback, so
// the binary runs the same whether invoked directly or from a container
// orchestrator that only sets env vars.
package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds every knob the coordinator needs to start.
type Config struct {
	// HTTPAddr is the address the REST + websocket server listens on.
	HTTPAddr string
	// MetricsAddr is the address the /metrics endpoint listens on; empty disables it.
	MetricsAddr string

	// DatabaseURL is a postgres:// connection string.
	DatabaseURL string

	// StoragePath configures the blob backend; for the S3-compatible
	// backend this is interpreted as "<endpoint>/<bucket>".
	StoragePath string
	S3AccessKey string
	S3SecretKey string
	S3UseSSL    bool

	// SecretKey signs media URLs. The admin token check does not use it.
	SecretKey string

	// WorkerTimeout is how long a silent attempt may go before the sweeper
	// reclaims it.
	WorkerTimeout time.Duration
	// MediaSignatureMaxAge bounds how old a signed media URL may be.
	MediaSignatureMaxAge time.Duration
	// TaskAttemptLimit is the default remaining_attempts for new tasks.
	TaskAttemptLimit int
	// UserTokenTTL is how long a login token remains valid.
	UserTokenTTL time.Duration

	// MetricsUsername/Password gate the /metrics endpoint with HTTP Basic Auth.
	MetricsUsername string
	MetricsPassword string

	// ApiToken is the single admin bearer token used for worker management.
	ApiToken string

	LogLevel  string
	LogPretty bool
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

// Load parses flags, falling back to the matching environment variable for
// any flag not given explicitly, into a Config.
func Load(args []string) (*Config, error) {
	fs := flag.NewFlagSet("coordinator", flag.ContinueOnError)

	httpAddr := fs.String("http-addr", getenv("HTTP_ADDR", ":8000"), "HTTP listen address")
	metricsAddr := fs.String("metrics-addr", getenv("METRICS_ADDR", ""), "Prometheus metrics listen address; empty disables it")
	databaseURL := fs.String("database-url", os.Getenv("DATABASE_URL"), "PostgreSQL connection string")
	storagePath := fs.String("storage-path", os.Getenv("STORAGE_PATH"), "blob store location, host:port/bucket for the S3-compatible backend")
	s3AccessKey := fs.String("s3-access-key", os.Getenv("S3_ACCESS_KEY"), "S3 access key")
	s3SecretKey := fs.String("s3-secret-key", os.Getenv("S3_SECRET_KEY"), "S3 secret key")
	s3UseSSL := fs.Bool("s3-use-ssl", getenv("S3_USE_SSL", "false") == "true", "use TLS for the S3-compatible endpoint")
	secretKey := fs.String("secret-key", os.Getenv("SECRET_KEY"), "server secret used to sign media URLs")
	workerTimeout := fs.Int("worker-timeout", getenvInt("WORKER_TIMEOUT", 60), "seconds before a silent attempt is reclaimed")
	mediaSigMaxAge := fs.Int("media-signature-max-age", getenvInt("MEDIA_SIGNATURE_MAX_AGE", 3600), "max age in seconds of a signed media URL")
	taskAttemptLimit := fs.Int("task-attempt-limit", getenvInt("TASK_ATTEMPT_LIMIT", 5), "default remaining attempts for a new task")
	userTokenTTLDays := fs.Int("user-token-ttl-days", getenvInt("USER_TOKEN_TTL_DAYS", 7), "days a login token stays valid")
	metricsUsername := fs.String("metrics-username", os.Getenv("METRICS_USERNAME"), "basic auth username for /metrics")
	metricsPassword := fs.String("metrics-password", os.Getenv("METRICS_PASSWORD"), "basic auth password for /metrics")
	apiToken := fs.String("api-token", os.Getenv("API_TOKEN"), "admin bearer token for worker management")
	logLevel := fs.String("log-level", getenv("LOG_LEVEL", "info"), "log level (debug, info, warn, error)")
	logPretty := fs.Bool("log-pretty", getenv("LOG_PRETTY", "false") == "true", "human-readable console logging instead of JSON")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}

	if *databaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	if *secretKey == "" {
		return nil, fmt.Errorf("SECRET_KEY is required")
	}

	return &Config{
		HTTPAddr:              *httpAddr,
		MetricsAddr:           *metricsAddr,
		DatabaseURL:           *databaseURL,
		StoragePath:           *storagePath,
		S3AccessKey:           *s3AccessKey,
		S3SecretKey:           *s3SecretKey,
		S3UseSSL:              *s3UseSSL,
		SecretKey:             *secretKey,
		WorkerTimeout:         time.Duration(*workerTimeout) * time.Second,
		MediaSignatureMaxAge:  time.Duration(*mediaSigMaxAge) * time.Second,
		TaskAttemptLimit:      *taskAttemptLimit,
		UserTokenTTL:          time.Duration(*userTokenTTLDays) * 24 * time.Hour,
		MetricsUsername:       *metricsUsername,
		MetricsPassword:       *metricsPassword,
		ApiToken:              *apiToken,
		LogLevel:              *logLevel,
		LogPretty:             *logPretty,
	}, nil
}
