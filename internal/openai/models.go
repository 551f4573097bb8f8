package openai

import (
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// Native output sizes of the embedding models we know about.
var modelDimensions = map[openai.EmbeddingModel]int{
	openai.SmallEmbedding3: 1536,
	openai.LargeEmbedding3: 3072,
	openai.AdaEmbeddingV2:  1536,
}

// EmbeddingModelName accepts both "text-embedding-3-small" and the
// provider-qualified "openai/text-embedding-3-small".
func EmbeddingModelName(model string) openai.EmbeddingModel {
	model = strings.TrimSpace(model)
	model = strings.TrimPrefix(model, "openai/")
	if model == "" {
		return DefaultEmbeddingModel
	}
	return openai.EmbeddingModel(model)
}

// DimensionsFor returns the vector size expected from model. Unknown models
// fall back to the configured size.
func DimensionsFor(model openai.EmbeddingModel, fallback int) int {
	if d, ok := modelDimensions[model]; ok {
		return d
	}
	if fallback > 0 {
		return fallback
	}
	return DefaultEmbeddingDimensions
}
