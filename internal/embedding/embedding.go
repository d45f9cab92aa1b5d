// Package embedding defines the text embedding provider interface used by
// memory retrieval and dream-cycle mining.
package embedding

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the embedding backend could not be reached.
var ErrUnavailable = errors.New("embedding provider unavailable")

// Provider converts text into dense vectors.
type Provider interface {
	// Embed returns one vector per input text, in input order.
	Embed(ctx context.Context, texts []string) ([][]float32, error)
	// Dimensions reports the vector width this provider produces.
	Dimensions() int
	// Name returns the provider identifier.
	Name() string
}
