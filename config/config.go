package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"teachings/teachings"
)

const (
	BackendSQLite   = "sqlite"
	BackendPinecone = "pinecone"
	BackendPgvector = "pgvector"
)

type (
	Config struct {
		LogMode string `yaml:"log_mode"`
		Port    int    `yaml:"port"`

		OpenAI   OpenAI   `yaml:"openai"`
		Index    Index    `yaml:"index"`
		Redis    Redis    `yaml:"redis"`
		Videos   Videos   `yaml:"videos"`
		Ingest   Ingest   `yaml:"ingest"`
		Retrieve Retrieve `yaml:"retrieve"`
	}

	OpenAI struct {
		APIKey         string `yaml:"api_key"`
		BaseURL        string `yaml:"base_url"`
		EmbeddingModel string `yaml:"embedding_model"`
		ChatModel      string `yaml:"chat_model"`
		Speaker        string `yaml:"speaker"`
		// Dimensions of the embedding model, used to create pgvector tables.
		Dimensions int           `yaml:"dimensions"`
		Timeout    time.Duration `yaml:"timeout"`
	}

	Index struct {
		Backend           string `yaml:"backend"`
		SQLitePath        string `yaml:"sqlite_path"`
		DatabaseURL       string `yaml:"database_url"`
		PineconeAPIKey    string `yaml:"pinecone_api_key"`
		PineconeHost      string `yaml:"pinecone_host"`
		PineconeNamespace string `yaml:"pinecone_namespace"`
	}

	Redis struct {
		Addr string        `yaml:"addr"`
		TTL  time.Duration `yaml:"ttl"`
	}

	Videos struct {
		MappingFile string `yaml:"mapping_file"`
		Bucket      string `yaml:"bucket"`
		Prefix      string `yaml:"prefix"`
	}

	Ingest struct {
		Dir              string                `yaml:"dir"`
		Chunk            teachings.ChunkConfig `yaml:"chunk"`
		Workers          int                   `yaml:"workers"`
		BatchSize        int                   `yaml:"batch_size"`
		BatchMaxChars    int                   `yaml:"batch_max_chars"`
		Attempts         int                   `yaml:"attempts"`
		RequestsPerSec   float64               `yaml:"requests_per_second"`
		MinSentenceChars int                   `yaml:"min_sentence_chars"`
	}

	Retrieve = teachings.RetrieveOptions
)

func Default() Config {
	ic := teachings.DefaultIngestConfig()
	return Config{
		LogMode: "dev",
		Port:    5001,
		OpenAI: OpenAI{
			EmbeddingModel: "text-embedding-3-small",
			ChatModel:      "gpt-3.5-turbo",
			Speaker:        "Henry",
			Dimensions:     1536,
			Timeout:        180 * time.Second,
		},
		Index: Index{
			Backend:    BackendSQLite,
			SQLitePath: "teachings.db",
		},
		Redis: Redis{TTL: 30 * 24 * time.Hour},
		Videos: Videos{
			MappingFile: "video_mapping.json",
			Prefix:      "videos/",
		},
		Ingest: Ingest{
			Dir:              "Transcripts",
			Chunk:            ic.Chunk,
			Workers:          ic.Workers,
			BatchSize:        ic.BatchSize,
			BatchMaxChars:    ic.BatchMaxChars,
			Attempts:         ic.Attempts,
			MinSentenceChars: ic.MinSentenceChars,
		},
		Retrieve: teachings.DefaultRetrieveOptions(),
	}
}

// Load reads .env when present, then the YAML file at path when path is not
// empty, then environment overrides, and validates the result.
func Load(path string) (Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Default()
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("reading config: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("decoding config %s: %w", path, err)
		}
	}
	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.LogMode = getEnv("LOG_MODE", c.LogMode)
	c.Port = getEnvInt("PORT", c.Port)

	c.OpenAI.APIKey = getEnv("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.OpenAI.EmbeddingModel = getEnv("OPENAI_EMBEDDING_MODEL", c.OpenAI.EmbeddingModel)
	c.OpenAI.ChatModel = getEnv("OPENAI_CHAT_MODEL", c.OpenAI.ChatModel)
	if secs := getEnvInt("OPENAI_TIMEOUT_SECONDS", 0); secs > 0 {
		c.OpenAI.Timeout = time.Duration(secs) * time.Second
	}

	c.Index.Backend = strings.ToLower(getEnv("INDEX_BACKEND", c.Index.Backend))
	c.Index.SQLitePath = getEnv("SQLITE_PATH", c.Index.SQLitePath)
	c.Index.DatabaseURL = getEnv("DATABASE_URL", c.Index.DatabaseURL)
	c.Index.PineconeAPIKey = getEnv("PINECONE_API_KEY", c.Index.PineconeAPIKey)
	c.Index.PineconeHost = getEnv("PINECONE_INDEX_HOST", c.Index.PineconeHost)
	c.Index.PineconeNamespace = getEnv("PINECONE_NAMESPACE", c.Index.PineconeNamespace)

	c.Redis.Addr = getEnv("REDIS_ADDR", c.Redis.Addr)

	c.Videos.MappingFile = getEnv("VIDEO_MAPPING_FILE", c.Videos.MappingFile)
	c.Videos.Bucket = getEnv("VIDEO_BUCKET", c.Videos.Bucket)
	c.Videos.Prefix = getEnv("VIDEO_PREFIX", c.Videos.Prefix)

	c.Ingest.Dir = getEnv("TRANSCRIPTS_DIR", c.Ingest.Dir)
}

func (c Config) Validate() error {
	switch c.Index.Backend {
	case BackendSQLite:
		if c.Index.SQLitePath == "" {
			return fmt.Errorf("sqlite backend needs sqlite_path")
		}
	case BackendPinecone:
		if c.Index.PineconeAPIKey == "" || c.Index.PineconeHost == "" {
			return fmt.Errorf("pinecone backend needs PINECONE_API_KEY and PINECONE_INDEX_HOST")
		}
	case BackendPgvector:
		if c.Index.DatabaseURL == "" {
			return fmt.Errorf("pgvector backend needs DATABASE_URL")
		}
		if c.OpenAI.Dimensions < 1 {
			return fmt.Errorf("pgvector backend needs openai.dimensions")
		}
	default:
		return fmt.Errorf("unknown index backend %q", c.Index.Backend)
	}
	if err := c.Ingest.Chunk.Validate(); err != nil {
		return err
	}
	if err := c.Retrieve.Validate(); err != nil {
		return fmt.Errorf("retrieve: %w", err)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port out of range: %d", c.Port)
	}
	return nil
}

// IngestConfig is the ingestion configuration with reset taken from the
// caller.
func (c Config) IngestConfig(reset bool) teachings.IngestConfig {
	return teachings.IngestConfig{
		Chunk:            c.Ingest.Chunk,
		Reset:            reset,
		Workers:          c.Ingest.Workers,
		BatchSize:        c.Ingest.BatchSize,
		BatchMaxChars:    c.Ingest.BatchMaxChars,
		Attempts:         c.Ingest.Attempts,
		MinSentenceChars: c.Ingest.MinSentenceChars,
	}
}

func getEnv(key, defaultVal string) string {
	if val := strings.TrimSpace(os.Getenv(key)); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
