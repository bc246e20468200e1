// Package config loads process settings from an optional YAML file with
// environment variable overrides. API keys are only ever read from the
// environment so they never end up in checked-in config files.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Settings holds every knob the engine and its collaborators read.
type Settings struct {
	GovAPIKey       string `yaml:"-"`
	OpenAIAPIKey    string `yaml:"-"`
	AnthropicAPIKey string `yaml:"-"`
	GoogleAPIKey    string `yaml:"-"`

	Provider string `yaml:"provider"`
	Model    string `yaml:"model"`
	APIMode  string `yaml:"api_mode"` // responses | chat_completions

	OpenAIBaseURL    string `yaml:"openai_base_url"`
	AnthropicBaseURL string `yaml:"anthropic_base_url"`
	OllamaHost       string `yaml:"ollama_host"`

	EmbeddingProvider string `yaml:"embedding_provider"`
	EmbeddingModel    string `yaml:"embedding_model"`
	EmbeddingBaseURL  string `yaml:"embedding_base_url"`
	EmbeddingDim      int    `yaml:"embedding_dim"` // pgvector column width

	RegulationsBaseURL     string `yaml:"regulations_base_url"`
	GovInfoBaseURL         string `yaml:"govinfo_base_url"`
	CongressBaseURL        string `yaml:"congress_base_url"`
	FederalRegisterBaseURL string `yaml:"federal_register_base_url"`
	USASpendingBaseURL     string `yaml:"usaspending_base_url"`
	FiscalDataBaseURL      string `yaml:"fiscal_data_base_url"`
	DataGovBaseURL         string `yaml:"datagov_base_url"`
	DOJBaseURL             string `yaml:"doj_base_url"`
	SearchGovBaseURL       string `yaml:"searchgov_base_url"`

	SearchGovAffiliate string `yaml:"searchgov_affiliate"`
	SearchGovAccessKey string `yaml:"-"`

	CacheTTL       time.Duration `yaml:"cache_ttl"`
	MaxRetries     int           `yaml:"max_retries"`
	InitialBackoff time.Duration `yaml:"initial_backoff"`

	VectorBackend string `yaml:"vector_backend"` // postgres | sqlite
	PostgresURL   string `yaml:"postgres_url"`
	SQLitePath    string `yaml:"sqlite_path"`

	RAGChunkSize    int `yaml:"rag_chunk_size"`
	RAGChunkOverlap int `yaml:"rag_chunk_overlap"`
	RAGMaxChunks    int `yaml:"rag_max_chunks"`
	RAGTopK         int `yaml:"rag_top_k"`

	AutoMemorySearch bool `yaml:"auto_memory_search"`

	FetchAllowedDomains   []string `yaml:"fetch_allowed_domains"`
	AllowLocalFetch       bool     `yaml:"allow_local_fetch"`
	FetchMaxResponseBytes int64    `yaml:"fetch_max_response_bytes"`
}

// Default returns settings matching the documented defaults. Load starts
// from these before applying file and environment overrides.
func Default() Settings {
	return Settings{
		Provider: "openai",
		Model:    "gpt-5.2",
		APIMode:  "responses",

		OpenAIBaseURL:    "https://api.openai.com/v1",
		AnthropicBaseURL: "https://api.anthropic.com/v1",
		OllamaHost:       "http://localhost:11434",

		EmbeddingProvider: "openai",
		EmbeddingModel:    "text-embedding-3-small",
		EmbeddingDim:      1536,

		RegulationsBaseURL:     "https://api.regulations.gov/v4",
		GovInfoBaseURL:         "https://api.govinfo.gov",
		CongressBaseURL:        "https://api.congress.gov/v3",
		FederalRegisterBaseURL: "https://www.federalregister.gov/api/v1",
		USASpendingBaseURL:     "https://api.usaspending.gov/api/v2",
		FiscalDataBaseURL:      "https://api.fiscaldata.treasury.gov/services/api/fiscal_service",
		DataGovBaseURL:         "https://api.gsa.gov/technology/datagov/v3/action",
		DOJBaseURL:             "https://www.justice.gov/api/v1",
		SearchGovBaseURL:       "https://api.gsa.gov/technology/searchgov/v2",

		CacheTTL:       10 * time.Minute,
		MaxRetries:     3,
		InitialBackoff: time.Second,

		VectorBackend: "sqlite",
		SQLitePath:    "./policyradar.db",

		RAGChunkSize:    1200,
		RAGChunkOverlap: 200,
		RAGMaxChunks:    500,
		RAGTopK:         5,

		AutoMemorySearch: true,

		FetchAllowedDomains:   []string{"*.gov", "*.mil"},
		FetchMaxResponseBytes: 10_000_000,
	}
}

// Load reads settings from path (if non-empty) on top of defaults, then
// applies environment overrides. A missing file is not an error when path
// is empty; an explicit path that cannot be read is.
func Load(path string) (Settings, error) {
	s := Default()

	if path != "" {
		data, err := os.ReadFile(path) // #nosec G304
		if err != nil {
			return s, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &s); err != nil {
			return s, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	s.applyEnv()
	return s, nil
}

func (s *Settings) applyEnv() {
	s.GovAPIKey = envOr("GOV_API_KEY", s.GovAPIKey)
	s.OpenAIAPIKey = envOr("OPENAI_API_KEY", s.OpenAIAPIKey)
	s.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", s.AnthropicAPIKey)
	s.GoogleAPIKey = envOr("GOOGLE_API_KEY", s.GoogleAPIKey)
	s.SearchGovAffiliate = envOr("SEARCHGOV_AFFILIATE", s.SearchGovAffiliate)
	s.SearchGovAccessKey = envOr("SEARCHGOV_ACCESS_KEY", s.SearchGovAccessKey)

	s.Provider = envOr("LLM_PROVIDER", s.Provider)
	s.Model = envOr("LLM_MODEL", s.Model)
	s.APIMode = envOr("API_MODE", s.APIMode)
	s.OllamaHost = envOr("OLLAMA_HOST", s.OllamaHost)

	s.EmbeddingProvider = envOr("EMBEDDING_PROVIDER", s.EmbeddingProvider)
	s.EmbeddingModel = envOr("EMBEDDING_MODEL", s.EmbeddingModel)
	s.EmbeddingBaseURL = envOr("EMBEDDING_BASE_URL", s.EmbeddingBaseURL)
	if v, ok := envInt("EMBEDDING_DIM"); ok {
		s.EmbeddingDim = v
	}

	s.VectorBackend = envOr("VECTOR_BACKEND", s.VectorBackend)
	s.PostgresURL = envOr("POSTGRES_URL", s.PostgresURL)
	s.SQLitePath = envOr("SQLITE_PATH", s.SQLitePath)

	if v, ok := envInt("RAG_CHUNK_SIZE"); ok {
		s.RAGChunkSize = v
	}
	if v, ok := envInt("RAG_CHUNK_OVERLAP"); ok {
		s.RAGChunkOverlap = v
	}
	if v, ok := envInt("RAG_MAX_CHUNKS"); ok {
		s.RAGMaxChunks = v
	}
	if v, ok := envInt("RAG_TOP_K"); ok {
		s.RAGTopK = v
	}
	if v, ok := envBool("AUTO_MEMORY_SEARCH"); ok {
		s.AutoMemorySearch = v
	}
	if v, ok := envBool("ALLOW_LOCAL_FETCH"); ok {
		s.AllowLocalFetch = v
	}
	if raw := os.Getenv("FETCH_ALLOWED_DOMAINS"); raw != "" {
		var domains []string
		for _, part := range strings.Split(raw, ",") {
			if part = strings.TrimSpace(part); part != "" {
				domains = append(domains, part)
			}
		}
		s.FetchAllowedDomains = domains
	}
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func envInt(name string) (int, bool) {
	v := os.Getenv(name)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func envBool(name string) (bool, bool) {
	v := os.Getenv(name)
	if v == "" {
		return false, false
	}
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true, true
	default:
		return false, true
	}
}
