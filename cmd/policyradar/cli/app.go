package cli

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/policyradar/policyradar/internal/config"
	"github.com/policyradar/policyradar/internal/fetch"
	"github.com/policyradar/policyradar/internal/memory"
	"github.com/policyradar/policyradar/internal/observe"
	"github.com/policyradar/policyradar/internal/provider"
	"github.com/policyradar/policyradar/internal/sources"
	"github.com/policyradar/policyradar/internal/store"
	"github.com/policyradar/policyradar/internal/tools"
)

// app bundles everything a command needs. Close releases the store and
// memory handles.
type app struct {
	cfg     config.Settings
	obs     *observe.Observer
	history store.History
	memory  *memory.Store
	embCfg  memory.EmbeddingConfig
	deps    tools.Deps
}

func (a *app) Close() {
	if a.memory != nil {
		a.memory.Close()
	}
	if a.history != nil {
		a.history.Close()
	}
	a.obs.Close()
}

func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".policyradar"
	}
	return filepath.Join(home, ".policyradar")
}

func buildApp(ctx context.Context, cfg config.Settings, obs *observe.Observer) (*app, error) {
	history, err := store.NewSQLiteHistory(filepath.Join(dataDir(), "history.db"))
	if err != nil {
		return nil, fmt.Errorf("failed to open session history: %w", err)
	}

	memStore, embCfg, err := buildMemory(ctx, cfg, obs)
	if err != nil {
		history.Close()
		return nil, err
	}

	client := sources.NewClient(cfg, obs)
	fetcher := fetch.New(obs, fetch.Options{
		AllowedDomains: cfg.FetchAllowedDomains,
		AllowLocal:     cfg.AllowLocalFetch,
		MaxBytes:       cfg.FetchMaxResponseBytes,
		MaxRetries:     cfg.MaxRetries,
		InitialBackoff: cfg.InitialBackoff,
	})

	deps := tools.Deps{
		Regulations:     sources.NewRegulations(client, cfg.RegulationsBaseURL, cfg.GovAPIKey),
		GovInfo:         sources.NewGovInfo(client, cfg.GovInfoBaseURL, cfg.GovAPIKey),
		FederalRegister: sources.NewFederalRegister(client, cfg.FederalRegisterBaseURL),
		Congress:        sources.NewCongress(client, cfg.CongressBaseURL, cfg.GovAPIKey),
		USASpending:     sources.NewUSASpending(client, cfg.USASpendingBaseURL),
		FiscalData:      sources.NewFiscalData(client, cfg.FiscalDataBaseURL),
		DataGov:         sources.NewDataGov(client, cfg.DataGovBaseURL, cfg.GovAPIKey),
		DOJ:             sources.NewDOJ(client, cfg.DOJBaseURL),
		SearchGov:       sources.NewSearchGov(client, cfg.SearchGovBaseURL, cfg.SearchGovAffiliate, cfg.SearchGovAccessKey),
		Fetcher:         fetcher,
		Memory:          memStore,
	}

	return &app{
		cfg:     cfg,
		obs:     obs,
		history: history,
		memory:  memStore,
		embCfg:  embCfg,
		deps:    deps,
	}, nil
}

// buildMemory wires the session PDF memory. A missing vector backend is
// not fatal: the engine degrades to running without memory.
func buildMemory(ctx context.Context, cfg config.Settings, obs *observe.Observer) (*memory.Store, memory.EmbeddingConfig, error) {
	embCfg := memory.EmbeddingConfig{
		Provider:  cfg.EmbeddingProvider,
		Model:     cfg.EmbeddingModel,
		BaseURL:   cfg.EmbeddingBaseURL,
		Dimension: cfg.EmbeddingDim,
	}
	switch cfg.EmbeddingProvider {
	case "openai", "":
		embCfg.APIKey = cfg.OpenAIAPIKey
	case "gemini":
		embCfg.APIKey = cfg.GoogleAPIKey
	}

	var index memory.VectorIndex
	var err error
	switch cfg.VectorBackend {
	case "postgres":
		index, err = memory.NewPostgresIndex(ctx, cfg.PostgresURL, cfg.EmbeddingDim)
	default:
		path := cfg.SQLitePath
		if path == "" {
			path = filepath.Join(dataDir(), "memory.db")
		}
		index, err = memory.NewSQLiteIndex(path)
	}
	if err != nil {
		obs.Log().Warn().Str("error", err.Error()).Msg("PDF memory disabled: vector index unavailable")
		return nil, embCfg, nil
	}

	memStore := memory.NewStore(index, obs, memory.Options{
		ChunkSize:    cfg.RAGChunkSize,
		ChunkOverlap: cfg.RAGChunkOverlap,
		MaxChunks:    cfg.RAGMaxChunks,
		TopK:         cfg.RAGTopK,
		MaxRetries:   cfg.MaxRetries,
	})
	return memStore, embCfg, nil
}

// configuredSources reports which source keys have what they need to
// serve requests. Keyless APIs are always on.
func configuredSources(cfg config.Settings) []string {
	keys := []string{
		tools.SourceFederalRegister,
		tools.SourceUSASpending,
		tools.SourceFiscalData,
		tools.SourceDOJ,
	}
	if cfg.GovAPIKey != "" {
		keys = append(keys,
			tools.SourceRegulations,
			tools.SourceGovInfo,
			tools.SourceCongress,
			tools.SourceDataGov,
		)
	}
	if cfg.SearchGovAffiliate != "" && cfg.SearchGovAccessKey != "" {
		keys = append(keys, tools.SourceSearchGov)
	}
	return keys
}

// backendOptions maps settings onto the provider factory inputs.
func backendOptions(cfg config.Settings) provider.Options {
	apiMode := cfg.APIMode
	if apiMode == "chat_completions" {
		apiMode = "chat"
	}
	opts := provider.Options{
		Provider: cfg.Provider,
		Model:    cfg.Model,
		APIMode:  apiMode,
	}
	switch cfg.Provider {
	case "openai", "custom", "":
		opts.APIKey = cfg.OpenAIAPIKey
		opts.BaseURL = cfg.OpenAIBaseURL
	case "anthropic":
		opts.APIKey = cfg.AnthropicAPIKey
		opts.BaseURL = cfg.AnthropicBaseURL
	case "gemini":
		opts.APIKey = cfg.GoogleAPIKey
	case "ollama":
		opts.BaseURL = cfg.OllamaHost
	}
	return opts
}
