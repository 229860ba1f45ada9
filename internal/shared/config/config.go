package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration.
type Config struct {
	Port            string
	CORSAllowOrigin []string
	Env             string
	LogLevel        string

	MetadataStoreType string
	DatabaseURL       string
	MongoURI          string
	MongoDatabase     string
	MongoCollection   string

	ObjectStoreType   string
	LocalStoreDir     string
	PublicBaseURL     string
	BlobSigningSecret string
	AWSRegion         string
	S3Bucket          string
	S3Prefix          string
	S3Endpoint        string
	SSEKMSKeyID       string
	MinioEndpoint     string
	MinioAccessKey    string
	MinioSecretKey    string
	MinioBucket       string
	MinioUseSSL       bool

	JWTSecret     string
	RedisAddr     string
	RedisPassword string

	MaxFileSizeBytes int64
	BlobTimeout      time.Duration
	MetadataTimeout  time.Duration

	OrphanSink     string
	OrphanQueueURL string
	KafkaBrokers   []string
	OrphanTopic    string
}

const (
	defaultMaxFileSize     = 10 << 20
	defaultBlobTimeout     = 30 * time.Second
	defaultMetadataTimeout = 5 * time.Second
	devJWTSecret           = "docvault-dev-secret-change-me-before-deploy"
	devBlobSigningSecret   = "docvault-dev-blob-signing-secret"
)

// Load reads configuration from environment variables with sensible defaults.
func Load() Config {
	// Best-effort load of local env files for dev convenience.
	loadEnvFiles(".env", "cmd/.env")

	env := normalizeEnv(getEnv("ENV", "dev"))
	dbURL := os.Getenv("DATABASE_URL")
	jwtSecret := os.Getenv("JWT_SECRET")
	signingSecret := os.Getenv("BLOB_SIGNING_SECRET")

	if env == "production" {
		if jwtSecret == "" {
			log.Printf("JWT_SECRET is required in production")
		}
		if dbURL == "" && os.Getenv("MONGODB_URI") == "" {
			log.Printf("DATABASE_URL or MONGODB_URI is required in production")
		}
	} else {
		if jwtSecret == "" {
			jwtSecret = devJWTSecret
		}
		if signingSecret == "" {
			signingSecret = devBlobSigningSecret
		}
	}

	port := getEnv("PORT", "8080")

	return Config{
		Port:            port,
		CORSAllowOrigin: splitAndTrim(getEnv("CORS_ALLOW_ORIGINS", "http://localhost:5173")),
		Env:             env,
		LogLevel:        getEnv("LOG_LEVEL", "info"),

		MetadataStoreType: normalizeMetadataStore(getEnv("METADATA_STORE", ""), dbURL),
		DatabaseURL:       dbURL,
		MongoURI:          getEnv("MONGODB_URI", ""),
		MongoDatabase:     getEnv("MONGODB_DATABASE", "docvault"),
		MongoCollection:   getEnv("MONGODB_COLLECTION", "documents"),

		ObjectStoreType:   normalizeStoreType(getEnv("OBJECT_STORE", "local")),
		LocalStoreDir:     getEnv("LOCAL_STORE_DIR", "./data"),
		PublicBaseURL:     strings.TrimRight(getEnv("PUBLIC_BASE_URL", "http://localhost:"+strings.TrimPrefix(port, ":")), "/"),
		BlobSigningSecret: signingSecret,
		AWSRegion:         getEnv("AWS_REGION", ""),
		S3Bucket:          getEnv("S3_BUCKET", ""),
		S3Prefix:          getEnv("S3_PREFIX", ""),
		S3Endpoint:        getEnv("S3_ENDPOINT", ""),
		SSEKMSKeyID:       getEnv("SSE_KMS_KEY_ID", ""),
		MinioEndpoint:     getEnv("MINIO_ENDPOINT", ""),
		MinioAccessKey:    getEnv("MINIO_ACCESS_KEY", ""),
		MinioSecretKey:    getEnv("MINIO_SECRET_KEY", ""),
		MinioBucket:       getEnv("MINIO_BUCKET", "documents"),
		MinioUseSSL:       getEnvBool("MINIO_USE_SSL", false),

		JWTSecret:     jwtSecret,
		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),

		MaxFileSizeBytes: getEnvInt64("MAX_FILE_SIZE", defaultMaxFileSize),
		BlobTimeout:      getEnvDuration("BLOB_TIMEOUT", defaultBlobTimeout),
		MetadataTimeout:  getEnvDuration("METADATA_TIMEOUT", defaultMetadataTimeout),

		OrphanSink:     normalizeOrphanSink(getEnv("ORPHAN_SINK", "log")),
		OrphanQueueURL: getEnv("ORPHAN_SQS_QUEUE_URL", ""),
		KafkaBrokers:   splitAndTrim(getEnv("KAFKA_BROKERS", "")),
		OrphanTopic:    getEnv("ORPHAN_KAFKA_TOPIC", "docvault.orphans"),
	}
}

func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

func getEnvBool(key string, def bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		log.Printf("config: %s invalid bool %q, using %t", key, raw, def)
		return def
	}
	return val
}

func getEnvInt64(key string, def int64) int64 {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid size %q, using %d", key, raw, def)
		return def
	}
	return val
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	val, err := time.ParseDuration(raw)
	if err != nil || val <= 0 {
		log.Printf("config: %s invalid duration %q, using %s", key, raw, def)
		return def
	}
	return val
}

func splitAndTrim(raw string) []string {
	parts := strings.Split(raw, ",")
	var out []string
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func normalizeEnv(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "production", "prod":
		return "production"
	case "staging":
		return "staging"
	case "local":
		return "local"
	case "development", "dev":
		return "dev"
	default:
		return "dev"
	}
}

func normalizeStoreType(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "s3":
		return "s3"
	case "minio":
		return "minio"
	default:
		return "local"
	}
}

// normalizeMetadataStore picks postgres when only DATABASE_URL is set so
// existing deployments keep working without METADATA_STORE.
func normalizeMetadataStore(raw, dbURL string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "postgres", "pg":
		return "postgres"
	case "mongo", "mongodb":
		return "mongo"
	case "memory":
		return "memory"
	}
	if strings.TrimSpace(dbURL) != "" {
		return "postgres"
	}
	return "memory"
}

func normalizeOrphanSink(raw string) string {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "sqs":
		return "sqs"
	case "kafka":
		return "kafka"
	default:
		return "log"
	}
}
