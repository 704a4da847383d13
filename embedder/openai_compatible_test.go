package embedder

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type embeddingRow struct {
	Object    string    `json:"object"`
	Embedding []float32 `json:"embedding"`
	Index     int       `json:"index"`
}

func fakeProvider(t *testing.T, gotModel *string, rows []embeddingRow) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			Model string `json:"model"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		*gotModel = req.Model
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{
			"object": "list",
			"model":  req.Model,
			"data":   rows,
		})
	}))
}

func TestEmbedTexts_OrdersAndNormalizes(t *testing.T) {
	var model string
	srv := fakeProvider(t, &model, []embeddingRow{
		{Object: "embedding", Embedding: []float32{0, 2}, Index: 1},
		{Object: "embedding", Embedding: []float32{3, 4}, Index: 0},
	})
	defer srv.Close()

	e, err := NewOpenAICompatible(OpenAICompatibleConfig{
		BaseURL:      srv.URL,
		Model:        "jtrans",
		ModelAliases: map[string]string{"jtrans": "org/jTrans-finetune"},
	})
	require.NoError(t, err)
	assert.Equal(t, "jtrans", e.Model())

	vecs, err := e.EmbedTexts(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "org/jTrans-finetune", model)
	require.Len(t, vecs, 2)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vecs[0], 1e-6)
	assert.InDeltaSlice(t, []float32{0, 1}, vecs[1], 1e-6)
}

func TestEmbedTexts_RejectsZeroVector(t *testing.T) {
	var model string
	srv := fakeProvider(t, &model, []embeddingRow{{Object: "embedding", Embedding: []float32{0, 0}, Index: 0}})
	defer srv.Close()

	e, err := NewOpenAICompatible(OpenAICompatibleConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = e.EmbedText(context.Background(), "a")
	assert.Error(t, err)
}

func TestEmbedTexts_CountMismatch(t *testing.T) {
	var model string
	srv := fakeProvider(t, &model, []embeddingRow{{Object: "embedding", Embedding: []float32{1, 0}, Index: 0}})
	defer srv.Close()

	e, err := NewOpenAICompatible(OpenAICompatibleConfig{BaseURL: srv.URL, Model: "m"})
	require.NoError(t, err)
	_, err = e.EmbedTexts(context.Background(), []string{"a", "b"})
	assert.Error(t, err)
}

func TestNewOpenAICompatible_Validation(t *testing.T) {
	_, err := NewOpenAICompatible(OpenAICompatibleConfig{BaseURL: "http://x"})
	assert.Error(t, err)
	_, err = NewOpenAICompatible(OpenAICompatibleConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewOpenAICompatible(OpenAICompatibleConfig{BaseURL: "http://x", Model: "m", Dimensions: -1})
	assert.Error(t, err)
}
