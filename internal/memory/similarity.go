package memory

import "math"

// dotProduct computes the dot product of two vectors.
// Returns 0 if vectors have different lengths.
func dotProduct(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var sum float32
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum
}

// magnitude computes the L2 norm of a vector.
func magnitude(v []float32) float64 {
	return math.Sqrt(float64(dotProduct(v, v)))
}

// CosineSimilarity computes cosine similarity between two vectors.
// Returns 0 if either vector has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	magA, magB := magnitude(a), magnitude(b)
	if magA == 0 || magB == 0 {
		return 0
	}
	return float64(dotProduct(a, b)) / (magA * magB)
}
