// Package config loads lexclass settings from defaults, an optional YAML
// file and LEXCLASS_* environment variables, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/dgallion1/lexclass/internal/chunker"
	"github.com/dgallion1/lexclass/internal/classifier"
	"github.com/dgallion1/lexclass/internal/embedding"
	"github.com/dgallion1/lexclass/internal/index"
	"github.com/dgallion1/lexclass/internal/parser"
)

// DefaultFile is read when Load is given no path and the file exists.
const DefaultFile = "config.yaml"

type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Index     IndexConfig     `yaml:"index"`
	Search    SearchConfig    `yaml:"search"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	OCR       OCRConfig       `yaml:"ocr"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	Redis     RedisConfig     `yaml:"redis"`
	Milvus    MilvusConfig    `yaml:"milvus"`
}

type ServerConfig struct {
	Port string `yaml:"port" validate:"required,numeric"`
	// APIKey guards /api routes. Empty disables auth.
	APIKey         string        `yaml:"api_key"`
	MaxUploadBytes int64         `yaml:"max_upload_bytes" validate:"gt=0"`
	JobTTL         time.Duration `yaml:"job_ttl"`
	QueueSize      int           `yaml:"queue_size" validate:"gte=0"`
}

type DataConfig struct {
	DataDir      string `yaml:"data_dir" validate:"required"`
	BuildWorkers int    `yaml:"build_workers" validate:"gte=0"`
}

type IndexConfig struct {
	IndexFile string `yaml:"index_file" validate:"required"`
	MetaFile  string `yaml:"meta_file" validate:"required"`
	Backend   string `yaml:"backend" validate:"oneof=flat milvus"`
}

type SearchConfig struct {
	KNeighbors    int     `yaml:"k_neighbors" validate:"gt=0"`
	VoteThreshold float64 `yaml:"vote_threshold"`
	VotePolicy    string  `yaml:"vote_policy" validate:"oneof=hard soft"`
}

type ChunkingConfig struct {
	WindowSize int `yaml:"window_size"`
	Overlap    int `yaml:"overlap"`
	MinLen     int `yaml:"min_len"`
}

type OCRConfig struct {
	PageLimit int    `yaml:"page_limit" validate:"gte=0"`
	MinText   int    `yaml:"min_text" validate:"gte=0"`
	Pdftotext bool   `yaml:"pdftotext"`
	Enabled   bool   `yaml:"enabled"`
	Language  string `yaml:"language"`
}

type EmbeddingConfig struct {
	Provider  string `yaml:"provider" validate:"oneof=openai hash"`
	APIKey    string `yaml:"api_key"`
	BaseURL   string `yaml:"base_url" validate:"omitempty,url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension" validate:"gte=0"`
	BatchSize int    `yaml:"batch_size" validate:"gte=0"`
}

type RedisConfig struct {
	// Addr enables the embedding cache when set.
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db" validate:"gte=0"`
	TTL      time.Duration `yaml:"ttl"`
}

type MilvusConfig struct {
	Address     string `yaml:"address"`
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	Database    string `yaml:"database"`
	Prefix      string `yaml:"collection_prefix" validate:"omitempty,alphanum"`
	PointerFile string `yaml:"pointer_file"`
}

// Default returns the settings used when nothing overrides them.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Port:           "8090",
			MaxUploadBytes: 52428800, // 50MB
			JobTTL:         time.Hour,
			QueueSize:      4,
		},
		Data: DataConfig{DataDir: "./data"},
		Index: IndexConfig{
			IndexFile: "knn_index.bin",
			MetaFile:  "knn_metadata.json",
			Backend:   "flat",
		},
		Search: SearchConfig{
			KNeighbors:    5,
			VoteThreshold: classifier.VoteThreshold,
			VotePolicy:    string(classifier.HardCutoff),
		},
		Chunking: ChunkingConfig{WindowSize: 1000, Overlap: 200, MinLen: chunker.DefaultMinLen},
		OCR: OCRConfig{
			PageLimit: 6,
			MinText:   100,
			Pdftotext: true,
			Enabled:   true,
			Language:  "pol",
		},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
		},
		Redis: RedisConfig{TTL: 24 * time.Hour},
		Milvus: MilvusConfig{
			Prefix:      "lexclass",
			PointerFile: "milvus_collection.json",
		},
	}
}

// Load builds the configuration. A .env file in the working directory is
// loaded first without overriding variables already set. path names a YAML
// file; when empty, DefaultFile is used if present. Environment variables
// win over the file.
func Load(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := Default()

	explicit := path != ""
	if !explicit {
		path = DefaultFile
	}
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse %s: %w", path, err)
		}
	case explicit || !errors.Is(err, os.ErrNotExist):
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	applyEnv(&cfg)
	cfg.clamp()
	return cfg, nil
}

func applyEnv(cfg *Config) {
	cfg.Server.Port = envOr("LEXCLASS_PORT", cfg.Server.Port)
	cfg.Server.APIKey = envOr("LEXCLASS_API_KEY", cfg.Server.APIKey)
	cfg.Server.MaxUploadBytes = envInt64("LEXCLASS_MAX_UPLOAD_BYTES", cfg.Server.MaxUploadBytes)
	cfg.Server.JobTTL = envDuration("LEXCLASS_JOB_TTL", cfg.Server.JobTTL)
	cfg.Server.QueueSize = envInt("LEXCLASS_QUEUE_SIZE", cfg.Server.QueueSize)

	cfg.Data.DataDir = envOr("LEXCLASS_DATA_DIR", cfg.Data.DataDir)
	cfg.Data.BuildWorkers = envInt("LEXCLASS_BUILD_WORKERS", cfg.Data.BuildWorkers)

	cfg.Index.IndexFile = envOr("LEXCLASS_INDEX_FILE", cfg.Index.IndexFile)
	cfg.Index.MetaFile = envOr("LEXCLASS_META_FILE", cfg.Index.MetaFile)
	cfg.Index.Backend = envOr("LEXCLASS_INDEX_BACKEND", cfg.Index.Backend)

	cfg.Search.KNeighbors = envInt("LEXCLASS_K_NEIGHBORS", cfg.Search.KNeighbors)
	cfg.Search.VoteThreshold = envFloat("LEXCLASS_VOTE_THRESHOLD", cfg.Search.VoteThreshold)
	cfg.Search.VotePolicy = envOr("LEXCLASS_VOTE_POLICY", cfg.Search.VotePolicy)

	cfg.Chunking.WindowSize = envInt("LEXCLASS_WINDOW_SIZE", cfg.Chunking.WindowSize)
	cfg.Chunking.Overlap = envInt("LEXCLASS_OVERLAP", cfg.Chunking.Overlap)
	cfg.Chunking.MinLen = envInt("LEXCLASS_MIN_LEN", cfg.Chunking.MinLen)

	cfg.OCR.PageLimit = envInt("LEXCLASS_PAGE_LIMIT", cfg.OCR.PageLimit)
	cfg.OCR.MinText = envInt("LEXCLASS_MIN_TEXT", cfg.OCR.MinText)
	cfg.OCR.Pdftotext = envBool("LEXCLASS_PDF_FALLBACK_PDFTOTEXT", cfg.OCR.Pdftotext)
	cfg.OCR.Enabled = envBool("LEXCLASS_OCR", cfg.OCR.Enabled)
	cfg.OCR.Language = envOr("LEXCLASS_OCR_LANGUAGE", cfg.OCR.Language)

	cfg.Embedding.Provider = envOr("LEXCLASS_EMBEDDING_PROVIDER", cfg.Embedding.Provider)
	cfg.Embedding.APIKey = envOr("OPENAI_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.APIKey = envOr("LEXCLASS_EMBEDDING_API_KEY", cfg.Embedding.APIKey)
	cfg.Embedding.BaseURL = envOr("LEXCLASS_EMBEDDING_BASE_URL", cfg.Embedding.BaseURL)
	cfg.Embedding.Model = envOr("LEXCLASS_EMBEDDING_MODEL", cfg.Embedding.Model)
	cfg.Embedding.Dimension = envInt("LEXCLASS_EMBEDDING_DIMENSION", cfg.Embedding.Dimension)
	cfg.Embedding.BatchSize = envInt("LEXCLASS_EMBEDDING_BATCH_SIZE", cfg.Embedding.BatchSize)

	cfg.Redis.Addr = envOr("LEXCLASS_REDIS_ADDR", cfg.Redis.Addr)
	cfg.Redis.Password = envOr("LEXCLASS_REDIS_PASSWORD", cfg.Redis.Password)
	cfg.Redis.DB = envInt("LEXCLASS_REDIS_DB", cfg.Redis.DB)
	cfg.Redis.TTL = envDuration("LEXCLASS_CACHE_TTL", cfg.Redis.TTL)

	cfg.Milvus.Address = envOr("LEXCLASS_MILVUS_ADDRESS", cfg.Milvus.Address)
	cfg.Milvus.Username = envOr("LEXCLASS_MILVUS_USERNAME", cfg.Milvus.Username)
	cfg.Milvus.Password = envOr("LEXCLASS_MILVUS_PASSWORD", cfg.Milvus.Password)
	cfg.Milvus.Database = envOr("LEXCLASS_MILVUS_DATABASE", cfg.Milvus.Database)
	cfg.Milvus.Prefix = envOr("LEXCLASS_MILVUS_PREFIX", cfg.Milvus.Prefix)
	cfg.Milvus.PointerFile = envOr("LEXCLASS_MILVUS_POINTER_FILE", cfg.Milvus.PointerFile)
}

// clamp restores defaults for operational knobs left at nonsensical values.
// Values that change classification results are left for Validate.
func (c *Config) clamp() {
	d := Default()
	if c.Server.MaxUploadBytes <= 0 {
		c.Server.MaxUploadBytes = d.Server.MaxUploadBytes
	}
	if c.Server.JobTTL <= 0 {
		c.Server.JobTTL = d.Server.JobTTL
	}
	if c.Server.QueueSize <= 0 {
		c.Server.QueueSize = d.Server.QueueSize
	}
	if c.Data.BuildWorkers < 0 {
		c.Data.BuildWorkers = 0
	}
	if c.Redis.TTL <= 0 {
		c.Redis.TTL = d.Redis.TTL
	}
	if c.OCR.Language == "" {
		c.OCR.Language = d.OCR.Language
	}
}

var validate = validator.New()

// Validate checks field constraints and the rules that span fields.
// Contradictory chunking or voting values wrap
// chunker.ErrInvalidConfiguration.
func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if err := c.ChunkerConfig().Validate(); err != nil {
		return err
	}
	if err := c.ClassifierConfig().Validate(); err != nil {
		return err
	}
	if c.Index.Backend == "milvus" && c.Milvus.Address == "" {
		return errors.New("LEXCLASS_MILVUS_ADDRESS is required for the milvus backend")
	}
	if c.Embedding.Provider == "openai" {
		if c.Embedding.Model == "" {
			return errors.New("embedding model is required")
		}
		if c.Embedding.APIKey == "" && c.Embedding.BaseURL == "" {
			return errors.New("OPENAI_API_KEY or LEXCLASS_EMBEDDING_BASE_URL is required")
		}
	}
	return nil
}

func (c Config) ChunkerConfig() chunker.Config {
	return chunker.Config{
		WindowSize: c.Chunking.WindowSize,
		Overlap:    c.Chunking.Overlap,
		MinLen:     c.Chunking.MinLen,
	}
}

func (c Config) ClassifierConfig() classifier.Config {
	return classifier.Config{
		K:         c.Search.KNeighbors,
		Threshold: c.Search.VoteThreshold,
		Policy:    classifier.Policy(c.Search.VotePolicy),
	}
}

func (c Config) ParserOptions() parser.Options {
	return parser.Options{
		PageLimit:   c.OCR.PageLimit,
		MinText:     c.OCR.MinText,
		Pdftotext:   c.OCR.Pdftotext,
		OCR:         c.OCR.Enabled,
		OCRLanguage: c.OCR.Language,
	}
}

func (c Config) IndexFiles() index.Files {
	return index.Files{IndexPath: c.Index.IndexFile, MetaPath: c.Index.MetaFile}
}

func (c Config) OpenAIConfig() embedding.OpenAIConfig {
	return embedding.OpenAIConfig{
		APIKey:    c.Embedding.APIKey,
		BaseURL:   c.Embedding.BaseURL,
		Model:     c.Embedding.Model,
		Dimension: c.Embedding.Dimension,
		BatchSize: c.Embedding.BatchSize,
	}
}

func (c Config) MilvusConnection() index.MilvusConfig {
	return index.MilvusConfig{
		Address:  c.Milvus.Address,
		Username: c.Milvus.Username,
		Password: c.Milvus.Password,
		Database: c.Milvus.Database,
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envInt64(key string, fallback int64) int64 {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
