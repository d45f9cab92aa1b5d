package embedding

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
)

const localDimensions = 256

// LocalProvider is a deterministic feature-hashing embedder. It needs no
// network and always produces the same vector for the same text, which makes
// it the fallback when the real embedding backend is down and the default for
// tests. Vectors are L2-normalized so cosine similarity degenerates to a dot
// product.
type LocalProvider struct{}

// NewLocalProvider creates a local hashing embedder.
func NewLocalProvider() *LocalProvider { return &LocalProvider{} }

func (p *LocalProvider) Name() string    { return "local" }
func (p *LocalProvider) Dimensions() int { return localDimensions }

// Embed hashes word unigrams and bigrams into a fixed-width bucket vector.
func (p *LocalProvider) Embed(_ context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		vectors[i] = hashText(text)
	}
	return vectors, nil
}

func hashText(text string) []float32 {
	vec := make([]float32, localDimensions)
	tokens := tokenize(text)

	for _, tok := range tokens {
		addFeature(vec, tok)
	}
	for i := 0; i+1 < len(tokens); i++ {
		addFeature(vec, tokens[i]+" "+tokens[i+1])
	}

	normalize(vec)
	return vec
}

func addFeature(vec []float32, feature string) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()
	bucket := sum % localDimensions
	// The high bit picks the sign so colliding features can cancel rather
	// than always accumulate.
	if sum>>63 == 0 {
		vec[bucket]++
	} else {
		vec[bucket]--
	}
}

func tokenize(text string) []string {
	fields := strings.Fields(strings.ToLower(text))
	tokens := make([]string, 0, len(fields))
	for _, f := range fields {
		f = strings.Trim(f, ".,;:!?\"'()[]{}")
		if f != "" {
			tokens = append(tokens, f)
		}
	}
	return tokens
}

func normalize(vec []float32) {
	var sum float64
	for _, v := range vec {
		sum += float64(v) * float64(v)
	}
	if sum == 0 {
		return
	}
	mag := float32(math.Sqrt(sum))
	for i := range vec {
		vec[i] /= mag
	}
}
