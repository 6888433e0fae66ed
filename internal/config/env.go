package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type Config struct {
	Port        string   `yaml:"port"`
	Debug       bool     `yaml:"debug"`
	CORSOrigins []string `yaml:"cors_origins"`
	LogLevel    string   `yaml:"log_level"`
	LogFormat   string   `yaml:"log_format"`

	// Blob storage
	StorageBackend     string   `yaml:"storage_backend"` // disk | s3 | oss
	UploadDir          string   `yaml:"upload_dir"`
	AwsAccessKey       string   `yaml:"aws_access_key"`
	AwsSecretKey       string   `yaml:"aws_secret_key"`
	AwsRegion          string   `yaml:"aws_region"`
	BucketName         string   `yaml:"bucket_name"`
	OSSRegion          string   `yaml:"oss_region"`
	OSSAccessKeyID     string   `yaml:"oss_access_key_id"`
	OSSAccessKeySecret string   `yaml:"oss_access_key_secret"`
	OSSBucket          string   `yaml:"oss_bucket"`
	MaxFileSize        int64    `yaml:"max_file_size"`
	AllowedExtensions  []string `yaml:"allowed_extensions"`

	// Vector index
	IndexBackend   string `yaml:"index_backend"` // memory | pgvector | milvus
	DatabaseURL    string `yaml:"database_url"`
	SslCertPath    string `yaml:"ssl_cert_path"`
	MilvusEndpoint string `yaml:"milvus_endpoint"`
	MilvusAPIKey   string `yaml:"milvus_api_key"`
	CollectionName string `yaml:"collection_name"`

	// Models
	EmbedProvider  string  `yaml:"embed_provider"` // gemini | openai | fake
	GenProvider    string  `yaml:"gen_provider"`   // gemini | openai | fake
	AIAPIKey       string  `yaml:"gemini_api_key"`
	OpenAIAPIKey   string  `yaml:"openai_api_key"`
	OpenAIBaseURL  string  `yaml:"openai_base_url"`
	EmbedModel     string  `yaml:"embed_model"`
	EmbedDim       int     `yaml:"embed_dim"`
	EmbedBatchSize int     `yaml:"embed_batch_size"`
	EmbedRPS       float64 `yaml:"embed_rps"`
	GenModel       string  `yaml:"gen_model"`
	GenMaxTokens   int     `yaml:"gen_max_tokens"`
	GenTemperature float64 `yaml:"gen_temperature"`
	HistoryWindow  int     `yaml:"history_window"`
	// MaxContextTokens bounds the excerpt block sent to the model; 0 disables the budget.
	MaxContextTokens int `yaml:"max_context_tokens"`

	// Ingestion
	ChunkSize       int           `yaml:"chunk_size"`
	ChunkOverlap    int           `yaml:"chunk_overlap"`
	UpsertBatchSize int           `yaml:"upsert_batch_size"`
	QueueBackend    string        `yaml:"queue_backend"` // memory | sqlite | rocketmq
	QueuePath       string        `yaml:"queue_path"`
	QueueCapacity   int           `yaml:"queue_capacity"`
	RocketMQServer  string        `yaml:"rocketmq_name_server"`
	Workers         int           `yaml:"workers"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBaseDelay  time.Duration `yaml:"retry_base_delay"`
	ProviderTimeout time.Duration `yaml:"provider_timeout"`
	JobTimeout      time.Duration `yaml:"job_timeout"`

	// Retrieval
	ChatResultLimit   int     `yaml:"chat_result_limit"`
	ChatMinScore      float64 `yaml:"chat_min_score"`
	SearchResultLimit int     `yaml:"search_result_limit"`
	SearchMinScore    float64 `yaml:"search_min_score"`
}

// Default returns the configuration used when nothing is overridden.
func Default() *Config {
	return &Config{
		Port:              "8080",
		CORSOrigins:       []string{"http://localhost:3000", "http://127.0.0.1:3000"},
		LogLevel:          "info",
		LogFormat:         "text",
		StorageBackend:    "disk",
		UploadDir:         "uploads",
		AwsRegion:         "us-east-2",
		BucketName:        "documind-docs",
		MaxFileSize:       50 << 20,
		AllowedExtensions: []string{".pdf"},
		IndexBackend:      "memory",
		CollectionName:    "documind",
		EmbedProvider:     "gemini",
		GenProvider:       "gemini",
		EmbedModel:        "text-embedding-004",
		EmbedDim:          768,
		EmbedBatchSize:    32,
		GenModel:          "gemini-1.5-flash",
		GenMaxTokens:      4000,
		GenTemperature:    0.1,
		HistoryWindow:     10,
		MaxContextTokens:  6000,
		ChunkSize:         1000,
		ChunkOverlap:      200,
		UpsertBatchSize:   100,
		QueueBackend:      "memory",
		QueuePath:         "documind-jobs.db",
		QueueCapacity:     64,
		Workers:           2,
		MaxRetries:        3,
		RetryBaseDelay:    60 * time.Second,
		ProviderTimeout:   60 * time.Second,
		JobTimeout:        30 * time.Minute,
		ChatResultLimit:   5,
		ChatMinScore:      0.5,
		SearchResultLimit: 10,
		SearchMinScore:    0.6,
	}
}

// LoadConfig loads defaults, then the optional YAML file named by CONFIG_FILE,
// then environment variables (including a .env file).
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := Default()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnv("PORT", c.Port)
	c.Debug = getEnvBool("DEBUG", c.Debug)
	c.CORSOrigins = getEnvList("CORS_ORIGINS", c.CORSOrigins)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
	c.LogFormat = getEnv("LOG_FORMAT", c.LogFormat)

	c.StorageBackend = getEnv("STORAGE_BACKEND", c.StorageBackend)
	c.UploadDir = getEnv("UPLOAD_DIR", c.UploadDir)
	c.AwsAccessKey = getEnv("AWS_ACCESS_KEY", c.AwsAccessKey)
	c.AwsSecretKey = getEnv("AWS_SECRET_KEY", c.AwsSecretKey)
	c.AwsRegion = getEnv("AWS_REGION", c.AwsRegion)
	c.BucketName = getEnv("BUCKET_NAME", c.BucketName)
	c.OSSRegion = getEnv("OSS_REGION", c.OSSRegion)
	c.OSSAccessKeyID = getEnv("OSS_ACCESS_KEY_ID", c.OSSAccessKeyID)
	c.OSSAccessKeySecret = getEnv("OSS_ACCESS_KEY_SECRET", c.OSSAccessKeySecret)
	c.OSSBucket = getEnv("OSS_BUCKET", c.OSSBucket)
	c.MaxFileSize = int64(getEnvInt("MAX_FILE_SIZE", int(c.MaxFileSize)))
	c.AllowedExtensions = getEnvList("ALLOWED_EXTENSIONS", c.AllowedExtensions)

	c.IndexBackend = getEnv("INDEX_BACKEND", c.IndexBackend)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.SslCertPath = getEnv("SSL_CERT_PATH", c.SslCertPath)
	c.MilvusEndpoint = getEnv("MILVUS_ENDPOINT", c.MilvusEndpoint)
	c.MilvusAPIKey = getEnv("MILVUS_API_KEY", c.MilvusAPIKey)
	c.CollectionName = getEnv("COLLECTION_NAME", c.CollectionName)

	c.EmbedProvider = getEnv("EMBED_PROVIDER", c.EmbedProvider)
	c.GenProvider = getEnv("GEN_PROVIDER", c.GenProvider)
	c.AIAPIKey = getEnv("GEMINI_API_KEY", c.AIAPIKey)
	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.EmbedModel = getEnv("EMBED_MODEL", c.EmbedModel)
	c.EmbedDim = getEnvInt("EMBED_DIM", c.EmbedDim)
	c.EmbedBatchSize = getEnvInt("EMBED_BATCH_SIZE", c.EmbedBatchSize)
	c.EmbedRPS = getEnvFloat("EMBED_RPS", c.EmbedRPS)
	c.GenModel = getEnv("GEN_MODEL", c.GenModel)
	c.GenMaxTokens = getEnvInt("GEN_MAX_TOKENS", c.GenMaxTokens)
	c.GenTemperature = getEnvFloat("GEN_TEMPERATURE", c.GenTemperature)
	c.HistoryWindow = getEnvInt("HISTORY_WINDOW", c.HistoryWindow)
	c.MaxContextTokens = getEnvInt("MAX_CONTEXT_TOKENS", c.MaxContextTokens)

	c.ChunkSize = getEnvInt("CHUNK_SIZE", c.ChunkSize)
	c.ChunkOverlap = getEnvInt("CHUNK_OVERLAP", c.ChunkOverlap)
	c.UpsertBatchSize = getEnvInt("UPSERT_BATCH_SIZE", c.UpsertBatchSize)
	c.QueueBackend = getEnv("QUEUE_BACKEND", c.QueueBackend)
	c.QueuePath = getEnv("QUEUE_PATH", c.QueuePath)
	c.QueueCapacity = getEnvInt("QUEUE_CAPACITY", c.QueueCapacity)
	c.RocketMQServer = getEnv("ROCKETMQ_NAME_SERVER", c.RocketMQServer)
	c.Workers = getEnvInt("WORKERS", c.Workers)
	c.MaxRetries = getEnvInt("MAX_RETRIES", c.MaxRetries)
	c.RetryBaseDelay = getEnvDuration("RETRY_BASE_DELAY", c.RetryBaseDelay)
	c.ProviderTimeout = getEnvDuration("PROVIDER_TIMEOUT", c.ProviderTimeout)
	c.JobTimeout = getEnvDuration("JOB_TIMEOUT", c.JobTimeout)

	c.ChatResultLimit = getEnvInt("CHAT_RESULT_LIMIT", c.ChatResultLimit)
	c.ChatMinScore = getEnvFloat("CHAT_MIN_SCORE", c.ChatMinScore)
	c.SearchResultLimit = getEnvInt("SEARCH_RESULT_LIMIT", c.SearchResultLimit)
	c.SearchMinScore = getEnvFloat("SEARCH_MIN_SCORE", c.SearchMinScore)
}

// Validate checks that the selected backends have what they need.
func (c *Config) Validate() error {
	switch c.StorageBackend {
	case "disk":
		if c.UploadDir == "" {
			return fmt.Errorf("UPLOAD_DIR not set")
		}
	case "s3":
		if c.AwsAccessKey == "" || c.AwsSecretKey == "" {
			return fmt.Errorf("AWS credentials not set")
		}
		if c.BucketName == "" {
			return fmt.Errorf("BUCKET_NAME not set")
		}
	case "oss":
		if c.OSSRegion == "" || c.OSSBucket == "" {
			return fmt.Errorf("OSS_REGION and OSS_BUCKET must be set")
		}
	default:
		return fmt.Errorf("unknown STORAGE_BACKEND %q", c.StorageBackend)
	}

	switch c.IndexBackend {
	case "memory":
	case "pgvector":
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL not set")
		}
	case "milvus":
		if c.MilvusEndpoint == "" {
			return fmt.Errorf("MILVUS_ENDPOINT not set")
		}
	default:
		return fmt.Errorf("unknown INDEX_BACKEND %q", c.IndexBackend)
	}

	switch c.QueueBackend {
	case "memory", "sqlite":
	case "rocketmq":
		if c.RocketMQServer == "" {
			return fmt.Errorf("ROCKETMQ_NAME_SERVER not set")
		}
	default:
		return fmt.Errorf("unknown QUEUE_BACKEND %q", c.QueueBackend)
	}

	for _, p := range []string{c.EmbedProvider, c.GenProvider} {
		switch p {
		case "gemini", "openai", "fake":
		default:
			return fmt.Errorf("unknown model provider %q", p)
		}
	}

	if c.EmbedDim <= 0 {
		return fmt.Errorf("EMBED_DIM must be positive, got %d", c.EmbedDim)
	}
	if c.ChunkSize <= 0 {
		return fmt.Errorf("CHUNK_SIZE must be positive, got %d", c.ChunkSize)
	}
	if c.ChunkOverlap < 0 || c.ChunkOverlap >= c.ChunkSize {
		return fmt.Errorf("CHUNK_OVERLAP must be in [0, CHUNK_SIZE), got %d", c.ChunkOverlap)
	}
	if c.Workers <= 0 {
		return fmt.Errorf("WORKERS must be positive, got %d", c.Workers)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("MAX_RETRIES must not be negative, got %d", c.MaxRetries)
	}
	return nil
}

// Helper to read environment variables with a default fallback
func getEnv(key, fallback string) string {
	if value, exists := os.LookupEnv(key); exists {
		return value
	}
	return fallback
}

func getEnvInt(key string, def int) int {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		slog.Warn("config value is not an int, using default", "key", key, "value", v, "default", def)
		return def
	}
	return n
}

func getEnvFloat(key string, def float64) float64 {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		slog.Warn("config value is not a number, using default", "key", key, "value", v, "default", def)
		return def
	}
	return f
}

func getEnvBool(key string, def bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		slog.Warn("config value is not a bool, using default", "key", key, "value", v, "default", def)
		return def
	}
	return b
}

func getEnvDuration(key string, def time.Duration) time.Duration {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// plain integers are read as seconds
		if n, nerr := strconv.Atoi(v); nerr == nil {
			return time.Duration(n) * time.Second
		}
		slog.Warn("config value is not a duration, using default", "key", key, "value", v, "default", def)
		return def
	}
	return d
}

// getEnvList reads a comma separated list.
func getEnvList(key string, def []string) []string {
	v := getEnv(key, "")
	if v == "" {
		return def
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
