// internal/ai/embeddings.go
package ai

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/sashabaranov/go-openai"
)

// ErrEmbeddingsUnavailable is returned when no provider credential is configured.
var ErrEmbeddingsUnavailable = errors.New("embeddings unavailable without provider credentials")

// GenerateEmbeddings creates vector embeddings for multiple texts
func (ai *AIService) GenerateEmbeddings(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, fmt.Errorf("no texts provided for embedding")
	}
	if ai.client == nil {
		return nil, ErrEmbeddingsUnavailable
	}

	ctx, cancel := context.WithTimeout(ctx, ai.timeout)
	defer cancel()

	req := openai.EmbeddingRequest{
		Input: texts,
		Model: ai.embeddingModel,
	}

	resp, err := ai.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}

	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: got %d, expected %d", len(resp.Data), len(texts))
	}

	embeddings := make([][]float32, len(resp.Data))
	for i, data := range resp.Data {
		embeddings[i] = data.Embedding
	}

	return embeddings, nil
}

func (ai *AIService) GenerateEmbedding(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := ai.GenerateEmbeddings(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// CalculateCosineSimilarity calculates similarity between two embeddings
func CalculateCosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}

	var dotProduct, normA, normB float64
	for i := 0; i < len(a); i++ {
		dotProduct += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}

	if normA == 0 || normB == 0 {
		return 0
	}

	return dotProduct / (math.Sqrt(normA) * math.Sqrt(normB))
}
