package embedder

import "context"

// Embedder turns documents (e.g. decompiled function bodies) into vectors.
// Returned vectors are unit length.
type Embedder interface {
	Model() string
	Dimensions() int
	EmbedText(ctx context.Context, text string) ([]float32, error)
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}
