package embedder

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"

	"github.com/doujins-org/embedeval/internal/normalize"
)

type OpenAICompatibleConfig struct {
	BaseURL    string
	APIKey     string
	Model      string // model name recorded alongside stored vectors
	Dimensions int    // optional; 0 means provider default
	Timeout    time.Duration
	// ModelAliases maps Model to the provider's own model id when they differ.
	ModelAliases map[string]string
}

type OpenAICompatibleEmbedder struct {
	client     *openai.Client
	model      string
	remote     string
	dimensions int
}

var _ Embedder = (*OpenAICompatibleEmbedder)(nil)

func NewOpenAICompatible(cfg OpenAICompatibleConfig) (*OpenAICompatibleEmbedder, error) {
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("model is required")
	}
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, fmt.Errorf("base URL is required")
	}
	if cfg.Dimensions < 0 {
		return nil, fmt.Errorf("dimensions must be >= 0")
	}
	openaiCfg := openai.DefaultConfig(cfg.APIKey)
	openaiCfg.BaseURL = cfg.BaseURL
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	openaiCfg.HTTPClient = &http.Client{Timeout: timeout}

	remote := cfg.Model
	if alias, ok := cfg.ModelAliases[cfg.Model]; ok && strings.TrimSpace(alias) != "" {
		remote = alias
	}
	return &OpenAICompatibleEmbedder{
		client:     openai.NewClientWithConfig(openaiCfg),
		model:      cfg.Model,
		remote:     remote,
		dimensions: cfg.Dimensions,
	}, nil
}

func (e *OpenAICompatibleEmbedder) Model() string { return e.model }
func (e *OpenAICompatibleEmbedder) Dimensions() int {
	return e.dimensions
}

func (e *OpenAICompatibleEmbedder) EmbedText(ctx context.Context, text string) ([]float32, error) {
	vecs, err := e.EmbedTexts(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	if len(vecs) != 1 {
		return nil, fmt.Errorf("expected 1 embedding, got %d", len(vecs))
	}
	return vecs[0], nil
}

// EmbedTexts embeds texts in one request. Results follow input order even if
// the provider reorders them.
func (e *OpenAICompatibleEmbedder) EmbedTexts(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	req := openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(e.remote),
	}
	if e.dimensions > 0 {
		req.Dimensions = e.dimensions
	}

	resp, err := e.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	out := make([][]float32, len(texts))
	for _, row := range resp.Data {
		if row.Index < 0 || row.Index >= len(texts) || out[row.Index] != nil {
			return nil, fmt.Errorf("embedding index %d out of range or repeated", row.Index)
		}
		vec := make([]float32, len(row.Embedding))
		for j, v := range row.Embedding {
			vec[j] = float32(v)
		}
		if e.dimensions > 0 && len(vec) != e.dimensions {
			return nil, fmt.Errorf("embedding %d has %d dims, want %d", row.Index, len(vec), e.dimensions)
		}
		if normalize.Norm(vec) == 0 {
			return nil, fmt.Errorf("embedding %d: %w", row.Index, normalize.ErrZeroNorm)
		}
		normalize.L2NormalizeInPlace(vec)
		out[row.Index] = vec
	}
	return out, nil
}
