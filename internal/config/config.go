package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// ServerConfig configures the HTTP boundary.
type ServerConfig struct {
	Addr               string   `yaml:"addr" toml:"addr"`
	AllowedOrigins     []string `yaml:"allowed_origins" toml:"allowed_origins"`
	MaxUploadBytes     int64    `yaml:"max_upload_bytes" toml:"max_upload_bytes"`
	RequestTimeoutSecs int      `yaml:"request_timeout_secs" toml:"request_timeout_secs"`
	TempDir            string   `yaml:"temp_dir" toml:"temp_dir"`
}

// LogConfig configures the leveled logger.
type LogConfig struct {
	Level string `yaml:"level" toml:"level"`
}

// OpenAIConfig holds connection details for an OpenAI-compatible endpoint.
// It is shared by the embedder and the synthesizer.
type OpenAIConfig struct {
	BaseURL           string  `yaml:"base_url" toml:"base_url"`
	APIKeyEnv         string  `yaml:"api_key_env" toml:"api_key_env"`
	Model             string  `yaml:"model" toml:"model"`
	TimeoutSecs       int     `yaml:"timeout_secs" toml:"timeout_secs"`
	Dimensions        int     `yaml:"dimensions,omitempty" toml:"dimensions,omitempty"`
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty" toml:"requests_per_second,omitempty"`
	MaxRetries        int     `yaml:"max_retries,omitempty" toml:"max_retries,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type        string        `yaml:"type" toml:"type"`
	Dimension   int           `yaml:"dimension" toml:"dimension"`
	BatchSize   int           `yaml:"batch_size" toml:"batch_size"`
	Concurrency int           `yaml:"concurrency" toml:"concurrency"`
	CacheSize   int           `yaml:"cache_size" toml:"cache_size"`
	OpenAI      *OpenAIConfig `yaml:"openai,omitempty" toml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into units.
type ChunkerConfig struct {
	Type              string `yaml:"type" toml:"type"`
	SentencesPerChunk int    `yaml:"sentences_per_chunk" toml:"sentences_per_chunk"`
	OverlapSentences  int    `yaml:"overlap_sentences" toml:"overlap_sentences"`
	ChunkSize         int    `yaml:"chunk_size" toml:"chunk_size"`
	Overlap           int    `yaml:"overlap" toml:"overlap"`
}

// VectorStoreConfig selects and configures the vector store implementation.
type VectorStoreConfig struct {
	Type           string        `yaml:"type" toml:"type"`
	Collection     string        `yaml:"collection" toml:"collection"`
	Dedup          bool          `yaml:"dedup" toml:"dedup"`
	BatchSize      int           `yaml:"batch_size" toml:"batch_size"`
	IsolateByModel bool          `yaml:"isolate_by_model" toml:"isolate_by_model"`
	SQLite         *SQLiteConfig `yaml:"sqlite,omitempty" toml:"sqlite,omitempty"`
	Qdrant         *QdrantConfig `yaml:"qdrant,omitempty" toml:"qdrant,omitempty"`
	Chroma         *ChromaConfig `yaml:"chroma,omitempty" toml:"chroma,omitempty"`
	Milvus         *MilvusConfig `yaml:"milvus,omitempty" toml:"milvus,omitempty"`
}

// SQLiteConfig points at the database file.
type SQLiteConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// QdrantConfig contains connection details for a Qdrant vector store.
type QdrantConfig struct {
	URL         string `yaml:"url" toml:"url"`
	APIKey      string `yaml:"api_key" toml:"api_key"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

// ChromaConfig contains connection details for a Chroma server.
type ChromaConfig struct {
	Host        string `yaml:"host" toml:"host"`
	Port        int    `yaml:"port" toml:"port"`
	TimeoutSecs int    `yaml:"timeout_secs" toml:"timeout_secs"`
}

// MilvusConfig contains connection details for a Milvus server.
type MilvusConfig struct {
	Host string `yaml:"host" toml:"host"`
	Port int    `yaml:"port" toml:"port"`
}

// SynthesizerConfig selects how answers are produced from matches.
type SynthesizerConfig struct {
	Type         string        `yaml:"type" toml:"type"`
	MaxSentences int           `yaml:"max_sentences" toml:"max_sentences"`
	OpenAI       *OpenAIConfig `yaml:"openai,omitempty" toml:"openai,omitempty"`
}

// QueryConfig controls retrieval defaults.
type QueryConfig struct {
	DefaultTopK int    `yaml:"default_top_k" toml:"default_top_k"`
	MaxTopK     int    `yaml:"max_top_k" toml:"max_top_k"`
	IndexPolicy string `yaml:"index_policy" toml:"index_policy"`
}

// WatchConfig configures drop-folder ingestion.
type WatchConfig struct {
	Dir        string `yaml:"dir" toml:"dir"`
	DebounceMs int    `yaml:"debounce_ms" toml:"debounce_ms"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Server      ServerConfig      `yaml:"server" toml:"server"`
	Log         LogConfig         `yaml:"log" toml:"log"`
	Embedder    EmbedderConfig    `yaml:"embedder" toml:"embedder"`
	Chunker     ChunkerConfig     `yaml:"chunker" toml:"chunker"`
	VectorStore VectorStoreConfig `yaml:"vector_store" toml:"vector_store"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer" toml:"synthesizer"`
	Query       QueryConfig       `yaml:"query" toml:"query"`
	Watch       WatchConfig       `yaml:"watch" toml:"watch"`
}

const (
	IndexPolicyReload = "reload"
	IndexPolicyCached = "cached"
)

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// Files ending in .toml are parsed as TOML, everything else as YAML.
// Environment overrides are applied last.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
	} else {
		if err := unmarshal(path, data, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}
	applyEnv(cfg)
	applyConfigDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml, ./config.toml, then ~/.config/ragapi/config.yaml.
// If none exists, it writes defaults to ~/.config/ragapi/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	for _, p := range []string{"config.yaml", "config.toml"} {
		if _, err := os.Stat(p); err == nil {
			cfg, err := Load(p)
			return cfg, p, err
		}
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	if err := Save(userPath, defaultConfig()); err != nil {
		return nil, "", err
	}
	cfg, err := Load(userPath)
	return cfg, userPath, err
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	var (
		data []byte
		err  error
	)
	if isTOML(path) {
		data, err = toml.Marshal(cfg)
	} else {
		data, err = yaml.Marshal(cfg)
	}
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

// Validate rejects unknown adapter names and nonsensical sizes.
func (c *AppConfig) Validate() error {
	var problems []string
	check := func(field, value string, allowed ...string) {
		for _, a := range allowed {
			if value == a {
				return
			}
		}
		problems = append(problems, fmt.Sprintf("%s: unknown value %q (want one of %s)", field, value, strings.Join(allowed, ", ")))
	}
	check("embedder.type", c.Embedder.Type, "hashing", "openai")
	check("chunker.type", c.Chunker.Type, "sentence", "fixed")
	check("vector_store.type", c.VectorStore.Type, "memory", "sqlite", "qdrant", "chroma", "milvus")
	check("synthesizer.type", c.Synthesizer.Type, "extractive", "concat", "openai", "none")
	check("query.index_policy", c.Query.IndexPolicy, IndexPolicyReload, IndexPolicyCached)

	if c.Chunker.Type == "fixed" && c.Chunker.Overlap >= c.Chunker.ChunkSize {
		problems = append(problems, "chunker.overlap must be smaller than chunker.chunk_size")
	}
	if c.Chunker.Type == "sentence" && c.Chunker.OverlapSentences >= c.Chunker.SentencesPerChunk {
		problems = append(problems, "chunker.overlap_sentences must be smaller than chunker.sentences_per_chunk")
	}
	if c.Query.DefaultTopK > c.Query.MaxTopK {
		problems = append(problems, "query.default_top_k must not exceed query.max_top_k")
	}
	if c.Server.MaxUploadBytes <= 0 {
		problems = append(problems, "server.max_upload_bytes must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("invalid config: %s", strings.Join(problems, "; "))
	}
	return nil
}

func unmarshal(path string, data []byte, cfg *AppConfig) error {
	if isTOML(path) {
		return toml.Unmarshal(data, cfg)
	}
	return yaml.Unmarshal(data, cfg)
}

func isTOML(path string) bool {
	return strings.EqualFold(filepath.Ext(path), ".toml")
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragapi", "config.yaml"), nil
}

// Default returns the built-in configuration without reading any file or
// environment variable.
func Default() *AppConfig {
	cfg := defaultConfig()
	applyConfigDefaults(cfg)
	return cfg
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Server: ServerConfig{
			Addr:               ":8001",
			AllowedOrigins:     []string{"*"},
			MaxUploadBytes:     32 << 20,
			RequestTimeoutSecs: 120,
		},
		Log:         LogConfig{Level: "info"},
		Embedder:    EmbedderConfig{Type: "hashing", Dimension: 1024, BatchSize: 32, Concurrency: 4, CacheSize: 256},
		Chunker:     ChunkerConfig{Type: "sentence", SentencesPerChunk: 5, OverlapSentences: 1, ChunkSize: 1000, Overlap: 200},
		VectorStore: VectorStoreConfig{Type: "memory", Collection: "knowledge_base", Dedup: true, BatchSize: 64},
		Synthesizer: SynthesizerConfig{Type: "extractive", MaxSentences: 3},
		Query:       QueryConfig{DefaultTopK: 2, MaxTopK: 50, IndexPolicy: IndexPolicyReload},
		Watch:       WatchConfig{DebounceMs: 500},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Chunker.SentencesPerChunk == 0 {
		cfg.Chunker.SentencesPerChunk = 5
	}
	if cfg.Chunker.ChunkSize == 0 {
		cfg.Chunker.ChunkSize = 1000
	}
	if cfg.Embedder.BatchSize <= 0 {
		cfg.Embedder.BatchSize = 32
	}
	if cfg.Embedder.Concurrency <= 0 {
		cfg.Embedder.Concurrency = 1
	}
	if cfg.Embedder.Dimension <= 0 {
		cfg.Embedder.Dimension = 1024
	}
	if cfg.VectorStore.BatchSize <= 0 {
		cfg.VectorStore.BatchSize = 64
	}
	if cfg.VectorStore.Collection == "" {
		cfg.VectorStore.Collection = "knowledge_base"
	}
	if cfg.Query.DefaultTopK <= 0 {
		cfg.Query.DefaultTopK = 2
	}
	if cfg.Query.MaxTopK <= 0 {
		cfg.Query.MaxTopK = 50
	}
	if cfg.Watch.DebounceMs <= 0 {
		cfg.Watch.DebounceMs = 500
	}
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Embedder.OpenAI, "text-embedding-3-small", 30)
	}
	if cfg.Synthesizer.Type == "openai" {
		if cfg.Synthesizer.OpenAI == nil {
			cfg.Synthesizer.OpenAI = &OpenAIConfig{}
		}
		openAIDefaults(cfg.Synthesizer.OpenAI, "gpt-4o-mini", 120)
	}
	switch cfg.VectorStore.Type {
	case "sqlite":
		if cfg.VectorStore.SQLite == nil {
			cfg.VectorStore.SQLite = &SQLiteConfig{}
		}
		if cfg.VectorStore.SQLite.Path == "" {
			cfg.VectorStore.SQLite.Path = "ragapi.db"
		}
	case "qdrant":
		if cfg.VectorStore.Qdrant == nil {
			cfg.VectorStore.Qdrant = &QdrantConfig{}
		}
		if cfg.VectorStore.Qdrant.URL == "" {
			cfg.VectorStore.Qdrant.URL = "http://localhost:6333"
		}
	case "chroma":
		if cfg.VectorStore.Chroma == nil {
			cfg.VectorStore.Chroma = &ChromaConfig{}
		}
		if cfg.VectorStore.Chroma.Host == "" {
			cfg.VectorStore.Chroma.Host = "localhost"
		}
		if cfg.VectorStore.Chroma.Port == 0 {
			cfg.VectorStore.Chroma.Port = 8000
		}
	case "milvus":
		if cfg.VectorStore.Milvus == nil {
			cfg.VectorStore.Milvus = &MilvusConfig{}
		}
		if cfg.VectorStore.Milvus.Host == "" {
			cfg.VectorStore.Milvus.Host = "localhost"
		}
		if cfg.VectorStore.Milvus.Port == 0 {
			cfg.VectorStore.Milvus.Port = 19530
		}
	}
}

func openAIDefaults(c *OpenAIConfig, model string, timeoutSecs int) {
	if c.BaseURL == "" {
		c.BaseURL = "https://api.openai.com/v1"
	}
	if c.APIKeyEnv == "" {
		c.APIKeyEnv = "OPENAI_API_KEY"
	}
	if c.Model == "" {
		c.Model = model
	}
	if c.TimeoutSecs == 0 {
		c.TimeoutSecs = timeoutSecs
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 5
	}
}
