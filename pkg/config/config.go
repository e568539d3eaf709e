// Package config loads application settings from environment variables,
// with an optional .env file.
package config

import (
	"fmt"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// placeholderKey is the sample value shipped in .env templates; it is
// treated the same as no key at all.
const placeholderKey = "your_openai_api_key_here"

// Config is the full application configuration.
type Config struct {
	// API
	APIHost string
	APIPort int

	// Vector database
	DBPath      string
	Collection  string
	QdrantHost  string
	QdrantPort  int
	PostgresDSN string
	Dimension   int

	// Crawling
	BaseURL       string
	MaxCrawlDepth int
	MaxPages      int

	// Chunking
	ChunkSize    int
	ChunkOverlap int

	// Embeddings / generation
	OpenAIAPIKey   string
	EmbeddingModel string
	UseOllama      bool
	OllamaURL      string
	OllamaModel    string
	LLMModel       string
	MaxTokens      int
	Temperature    float32
	TopK           int

	// Answer cache
	RedisAddr string
}

// Load reads configuration from the environment. A .env file in the
// working directory is applied first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		APIHost:        getEnv("API_HOST", "0.0.0.0"),
		APIPort:        getEnvInt("API_PORT", 8000),
		DBPath:         getEnv("DB_PATH", "./data/db"),
		Collection:     getEnv("COLLECTION_NAME", "support_docs"),
		QdrantHost:     getEnv("QDRANT_HOST", ""),
		QdrantPort:     getEnvInt("QDRANT_PORT", 6334),
		PostgresDSN:    getEnv("POSTGRES_DSN", ""),
		Dimension:      getEnvInt("EMBEDDING_DIMENSION", 1536),
		BaseURL:        getEnv("BASE_URL", ""),
		MaxCrawlDepth:  getEnvInt("MAX_CRAWL_DEPTH", 3),
		MaxPages:       getEnvInt("MAX_PAGES", 50),
		ChunkSize:      getEnvInt("CHUNK_SIZE", 1000),
		ChunkOverlap:   getEnvInt("CHUNK_OVERLAP", 200),
		OpenAIAPIKey:   getEnv("OPENAI_API_KEY", ""),
		EmbeddingModel: getEnv("EMBEDDING_MODEL", ""),
		UseOllama:      getEnvBool("USE_OLLAMA", true),
		OllamaURL:      getEnv("OLLAMA_URL", "http://localhost:11434"),
		OllamaModel:    getEnv("OLLAMA_MODEL", "llama3.2"),
		LLMModel:       getEnv("LLM_MODEL", ""),
		MaxTokens:      getEnvInt("MAX_TOKENS", 500),
		Temperature:    getEnvFloat("TEMPERATURE", 0.7),
		TopK:           getEnvInt("TOP_K_RESULTS", 3),
		RedisAddr:      getEnv("REDIS_ADDR", ""),
	}

	if cfg.ChunkOverlap >= cfg.ChunkSize {
		return nil, fmt.Errorf("CHUNK_OVERLAP (%d) must be smaller than CHUNK_SIZE (%d)",
			cfg.ChunkOverlap, cfg.ChunkSize)
	}
	return cfg, nil
}

// HasOpenAIKey reports whether a usable OpenAI credential is
// configured. The remote backends are selected only when this is true
// and USE_OLLAMA is off.
func (c *Config) HasOpenAIKey() bool {
	return c.OpenAIAPIKey != "" && c.OpenAIAPIKey != placeholderKey
}

// UseRemoteBackends reports whether the OpenAI backends should serve
// embedding and generation.
func (c *Config) UseRemoteBackends() bool {
	return !c.UseOllama && c.HasOpenAIKey()
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float32) float32 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
