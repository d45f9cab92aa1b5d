package embedding

import (
	"context"
	"math"
	"testing"
)

func TestLocalProviderDeterministic(t *testing.T) {
	p := NewLocalProvider()
	ctx := context.Background()

	first, err := p.Embed(ctx, []string{"the quick brown fox"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	second, err := p.Embed(ctx, []string{"the quick brown fox"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	for i := range first[0] {
		if first[0][i] != second[0][i] {
			t.Fatalf("vectors differ at index %d: %v vs %v", i, first[0][i], second[0][i])
		}
	}
}

func TestLocalProviderNormalized(t *testing.T) {
	p := NewLocalProvider()

	vecs, err := p.Embed(context.Background(), []string{"hello there old friend"})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vecs[0]) != p.Dimensions() {
		t.Fatalf("expected %d dimensions, got %d", p.Dimensions(), len(vecs[0]))
	}

	var sum float64
	for _, v := range vecs[0] {
		sum += float64(v) * float64(v)
	}
	if math.Abs(sum-1.0) > 1e-5 {
		t.Errorf("expected unit magnitude, got %f", math.Sqrt(sum))
	}
}

func TestLocalProviderSimilarTextsCloser(t *testing.T) {
	p := NewLocalProvider()
	ctx := context.Background()

	vecs, err := p.Embed(ctx, []string{
		"we talked about the garden and the roses",
		"the garden roses we talked about",
		"quarterly revenue projections for the fiscal year",
	})
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	near := dot(vecs[0], vecs[1])
	far := dot(vecs[0], vecs[2])
	if near <= far {
		t.Errorf("expected overlapping texts closer than unrelated: near=%f far=%f", near, far)
	}
}

func TestLocalProviderEmptyInput(t *testing.T) {
	p := NewLocalProvider()

	vecs, err := p.Embed(context.Background(), nil)
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if vecs != nil {
		t.Errorf("expected nil for empty input, got %v", vecs)
	}
}

func dot(a, b []float32) float64 {
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}
