package memory

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"os"

	"github.com/google/generative-ai-go/genai"
	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
	"google.golang.org/api/option"
)

// EmbeddingConfig selects the embedding provider and model for one
// indexing or query call.
type EmbeddingConfig struct {
	Provider  string // openai | gemini | ollama
	Model     string
	APIKey    string
	BaseURL   string
	Dimension int
}

// Key identifies the pipeline an embedding was produced by. Vectors from
// different pipelines are not comparable, so the key partitions both the
// cached embedder instances and the stored vectors: two configs that
// differ in provider, model, base URL, or dimension never share chunks.
func (c EmbeddingConfig) Key() string {
	base := c.BaseURL
	if base == "" {
		base = "default"
	}
	return fmt.Sprintf("%s/%s/%s/%d", c.Provider, c.Model, base, c.Dimension)
}

// Embedder turns a batch of texts into vectors.
type Embedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// NewEmbedder builds the embedder for the configured provider.
func NewEmbedder(cfg EmbeddingConfig) (Embedder, error) {
	switch cfg.Provider {
	case "openai", "":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("openai embedding requires an API key")
		}
		conf := openai.DefaultConfig(cfg.APIKey)
		if cfg.BaseURL != "" {
			conf.BaseURL = cfg.BaseURL
		}
		model := cfg.Model
		if model == "" {
			model = "text-embedding-3-small"
		}
		return &openaiEmbedder{client: openai.NewClientWithConfig(conf), model: model}, nil
	case "gemini":
		if cfg.APIKey == "" {
			return nil, fmt.Errorf("gemini embedding requires an API key")
		}
		client, err := genai.NewClient(context.Background(), option.WithAPIKey(cfg.APIKey))
		if err != nil {
			return nil, err
		}
		model := cfg.Model
		if model == "" {
			model = "text-embedding-004"
		}
		return &geminiEmbedder{client: client, model: model}, nil
	case "ollama":
		baseURL := cfg.BaseURL
		if baseURL == "" {
			baseURL = "http://localhost:11434"
			if envURL := os.Getenv("OLLAMA_HOST"); envURL != "" {
				baseURL = envURL
			}
		}
		uri, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("invalid ollama base URL: %s", baseURL)
		}
		model := cfg.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		return &ollamaEmbedder{client: api.NewClient(uri, http.DefaultClient), model: model}, nil
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", cfg.Provider)
	}
}

type openaiEmbedder struct {
	client *openai.Client
	model  string
}

func (e *openaiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.model),
	})
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, len(resp.Data))
	for i, item := range resp.Data {
		vectors[i] = item.Embedding
	}
	return vectors, nil
}

type geminiEmbedder struct {
	client *genai.Client
	model  string
}

func (e *geminiEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	model := e.client.EmbeddingModel(e.model)
	batch := model.NewBatch()
	for _, text := range texts {
		batch.AddContent(genai.Text(text))
	}
	resp, err := model.BatchEmbedContents(ctx, batch)
	if err != nil {
		return nil, err
	}
	vectors := make([][]float32, 0, len(resp.Embeddings))
	for _, emb := range resp.Embeddings {
		vectors = append(vectors, emb.Values)
	}
	return vectors, nil
}

type ollamaEmbedder struct {
	client *api.Client
	model  string
}

// Ollama's embeddings endpoint takes one prompt at a time, so the batch
// is submitted sequentially.
func (e *ollamaEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	vectors := make([][]float32, 0, len(texts))
	for _, text := range texts {
		resp, err := e.client.Embeddings(ctx, &api.EmbeddingRequest{
			Model:  e.model,
			Prompt: text,
		})
		if err != nil {
			return nil, err
		}
		vec := make([]float32, len(resp.Embedding))
		for i, v := range resp.Embedding {
			vec[i] = float32(v)
		}
		vectors = append(vectors, vec)
	}
	return vectors, nil
}
