package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"agrirag/internal/domain"
	"agrirag/internal/logging"
	"agrirag/internal/normalizer"
)

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	Addr             string   `yaml:"addr"`
	UploadDir        string   `yaml:"upload_dir"`
	MaxUploadMB      int      `yaml:"max_upload_mb"`
	QueryTimeoutSecs int      `yaml:"query_timeout_secs"`
	CORSOrigins      []string `yaml:"cors_origins"`
}

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL       string `yaml:"base_url"`
	APIKeyEnv     string `yaml:"api_key_env"`
	Model         string `yaml:"model"`
	TimeoutSecs   int    `yaml:"timeout_secs"`
	BatchSize     int    `yaml:"batch_size"`
	AllowEmptyKey bool   `yaml:"allow_empty_key,omitempty"`
}

// HashingEmbedderConfig configures the credential-free hashing embedder.
type HashingEmbedderConfig struct {
	Dimension int `yaml:"dimension"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type    string                 `yaml:"type"`
	OpenAI  *OpenAIEmbedderConfig  `yaml:"openai,omitempty"`
	Hashing *HashingEmbedderConfig `yaml:"hashing,omitempty"`
}

// OpenAIGeneratorConfig holds configuration for the chat-completions client.
type OpenAIGeneratorConfig struct {
	BaseURL       string  `yaml:"base_url"`
	APIKeyEnv     string  `yaml:"api_key_env"`
	Model         string  `yaml:"model"`
	Temperature   float64 `yaml:"temperature"`
	TimeoutSecs   int     `yaml:"timeout_secs"`
	AllowEmptyKey bool    `yaml:"allow_empty_key,omitempty"`
}

// GeneratorConfig selects the answer-generation implementation.
type GeneratorConfig struct {
	Type   string                 `yaml:"type"`
	OpenAI *OpenAIGeneratorConfig `yaml:"openai,omitempty"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type            string        `yaml:"type"`
	PersistDir      string        `yaml:"persist_dir"`
	LockTimeoutSecs int           `yaml:"lock_timeout_secs"`
	Qdrant          *QdrantConfig `yaml:"qdrant,omitempty"`
	Milvus          *MilvusConfig `yaml:"milvus,omitempty"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url"`
	APIKeyEnv   string `yaml:"api_key_env"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// MilvusConfig contains connection details for a Milvus vector store.
type MilvusConfig struct {
	Address     string `yaml:"address"`
	Username    string `yaml:"username"`
	PasswordEnv string `yaml:"password_env"`
	Database    string `yaml:"database"`
	Collection  string `yaml:"collection"`
	TimeoutSecs int    `yaml:"timeout_secs"`
}

// IngestConfig tunes the ingestion pipeline.
type IngestConfig struct {
	Workers        int `yaml:"workers"`
	EmbedBatchSize int `yaml:"embed_batch_size"`
}

// RetrievalConfig tunes the answerer.
type RetrievalConfig struct {
	TopK int `yaml:"top_k"`
	// System and Prompt override the answering instructions and the stuffed
	// prompt template ({{context}}, {{question}}).
	System string `yaml:"system,omitempty"`
	Prompt string `yaml:"prompt,omitempty"`
}

// RedisConfig locates the Redis server backing the answer cache.
type RedisConfig struct {
	Addr        string `yaml:"addr"`
	PasswordEnv string `yaml:"password_env"`
	DB          int    `yaml:"db"`
}

// CacheConfig configures the answer cache.
type CacheConfig struct {
	Enabled   bool        `yaml:"enabled"`
	Redis     RedisConfig `yaml:"redis"`
	TTLSecs   int         `yaml:"ttl_secs"`
	KeyPrefix string      `yaml:"key_prefix"`
}

// MetricsConfig toggles the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig       `yaml:"server"`
	Log         logging.Config     `yaml:"log"`
	Embedder    EmbedderConfig     `yaml:"embedder"`
	Generator   GeneratorConfig    `yaml:"generator"`
	VectorStore VectorStoreConfig  `yaml:"vector_store"`
	Normalizer  *normalizer.Policy `yaml:"normalizer,omitempty"`
	Ingest      IngestConfig       `yaml:"ingest"`
	Retrieval   RetrievalConfig    `yaml:"retrieval"`
	Cache       CacheConfig        `yaml:"cache"`
	Metrics     MetricsConfig      `yaml:"metrics"`
}

// LoadEnv loads a .env file from the working directory if there is one.
// Variables already set in the environment win.
func LoadEnv() {
	_ = godotenv.Load()
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return defaultConfig(), nil
		}
		return nil, err
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, domain.Wrap(domain.ErrConfiguration, "parsing "+path, err)
	}
	applyConfigDefaults(&cfg)
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/agrirag/config.yaml.
// If neither exists, it writes defaults to ~/.config/agrirag/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "agrirag", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "openai"},
		Generator:   GeneratorConfig{Type: "openai"},
		VectorStore: VectorStoreConfig{Type: "sqlite"},
	}
	applyConfigDefaults(cfg)
	return cfg
}

func applyConfigDefaults(cfg *AppConfig) {
	s := &cfg.Server
	if s.Addr == "" {
		s.Addr = ":8000"
	}
	if s.MaxUploadMB == 0 {
		s.MaxUploadMB = 50
	}
	if s.QueryTimeoutSecs == 0 {
		s.QueryTimeoutSecs = 60
	}
	if len(s.CORSOrigins) == 0 {
		s.CORSOrigins = []string{"*"}
	}

	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Log.File != "" {
		if cfg.Log.MaxSizeMB == 0 {
			cfg.Log.MaxSizeMB = 100
		}
		if cfg.Log.MaxBackups == 0 {
			cfg.Log.MaxBackups = 3
		}
		if cfg.Log.MaxAgeDays == 0 {
			cfg.Log.MaxAgeDays = 28
		}
	}

	if cfg.Embedder.Type == "" {
		cfg.Embedder.Type = "openai"
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
	}
	if cfg.Embedder.Type == "hashing" {
		if cfg.Embedder.Hashing == nil {
			cfg.Embedder.Hashing = &HashingEmbedderConfig{}
		}
		if cfg.Embedder.Hashing.Dimension == 0 {
			cfg.Embedder.Hashing.Dimension = 512
		}
	}

	if cfg.Generator.Type == "" {
		cfg.Generator.Type = "openai"
	}
	if cfg.Generator.Type == "openai" {
		if cfg.Generator.OpenAI == nil {
			cfg.Generator.OpenAI = &OpenAIGeneratorConfig{}
		}
		o := cfg.Generator.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-3.5-turbo"
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 60
		}
	}

	vs := &cfg.VectorStore
	if vs.Type == "" {
		vs.Type = "sqlite"
	}
	if vs.PersistDir == "" {
		vs.PersistDir = "agrirag_db"
	}
	if vs.LockTimeoutSecs == 0 {
		vs.LockTimeoutSecs = 30
	}
	if vs.Type == "qdrant" {
		if vs.Qdrant == nil {
			vs.Qdrant = &QdrantConfig{}
		}
		if vs.Qdrant.URL == "" {
			vs.Qdrant.URL = "http://localhost:6333"
		}
		if vs.Qdrant.Collection == "" {
			vs.Qdrant.Collection = "agri_prices"
		}
		if vs.Qdrant.TimeoutSecs == 0 {
			vs.Qdrant.TimeoutSecs = 15
		}
	}
	if vs.Type == "milvus" {
		if vs.Milvus == nil {
			vs.Milvus = &MilvusConfig{}
		}
		if vs.Milvus.Address == "" {
			vs.Milvus.Address = "localhost:19530"
		}
		if vs.Milvus.Collection == "" {
			vs.Milvus.Collection = "agri_prices"
		}
		if vs.Milvus.TimeoutSecs == 0 {
			vs.Milvus.TimeoutSecs = 10
		}
	}

	if cfg.Normalizer == nil {
		p := normalizer.DefaultPolicy()
		cfg.Normalizer = &p
	} else if cfg.Normalizer.Separator == "" {
		cfg.Normalizer.Separator = normalizer.DefaultSeparator
	}

	if cfg.Ingest.Workers == 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.EmbedBatchSize == 0 {
		cfg.Ingest.EmbedBatchSize = 64
	}
	if cfg.Retrieval.TopK == 0 {
		cfg.Retrieval.TopK = 5
	}

	if cfg.Cache.Redis.Addr == "" {
		cfg.Cache.Redis.Addr = "localhost:6379"
	}
	if cfg.Cache.TTLSecs == 0 {
		cfg.Cache.TTLSecs = 3600
	}
	if cfg.Cache.KeyPrefix == "" {
		cfg.Cache.KeyPrefix = "agrirag:answer:"
	}
	if cfg.Metrics.Path == "" {
		cfg.Metrics.Path = "/metrics"
	}
}

// Validate reports unknown component types and out-of-range numbers.
func (c *AppConfig) Validate() error {
	var problems []string
	switch c.Embedder.Type {
	case "openai", "hashing":
	default:
		problems = append(problems, fmt.Sprintf("unknown embedder type %q", c.Embedder.Type))
	}
	switch c.Generator.Type {
	case "openai":
	default:
		problems = append(problems, fmt.Sprintf("unknown generator type %q", c.Generator.Type))
	}
	switch c.VectorStore.Type {
	case "memory", "sqlite", "qdrant", "milvus":
	default:
		problems = append(problems, fmt.Sprintf("unknown vector store type %q", c.VectorStore.Type))
	}
	if c.Ingest.Workers < 0 || c.Ingest.EmbedBatchSize < 0 {
		problems = append(problems, "ingest workers and embed_batch_size must not be negative")
	}
	if c.Retrieval.TopK < 0 {
		problems = append(problems, "retrieval top_k must not be negative")
	}
	if c.Server.QueryTimeoutSecs < 0 || c.Server.MaxUploadMB < 0 {
		problems = append(problems, "server timeouts and limits must not be negative")
	}
	if c.Retrieval.Prompt != "" && !strings.Contains(c.Retrieval.Prompt, "{{question}}") {
		problems = append(problems, "retrieval prompt must contain {{question}}")
	}
	if _, err := logging.ParseLevel(c.Log.Level); err != nil {
		problems = append(problems, err.Error())
	}
	if c.Normalizer != nil {
		if err := c.Normalizer.Validate(); err != nil {
			problems = append(problems, err.Error())
		}
	}
	if len(problems) > 0 {
		return domain.Configurationf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}
