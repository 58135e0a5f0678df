package embedding

import "math"

// CosineSimilarity returns dot(a,b)/(|a||b|). Empty, mismatched or zero
// vectors yield ErrDegenerateVector rather than a non-finite result.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) == 0 || len(a) != len(b) {
		return 0, ErrDegenerateVector
	}
	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, ErrDegenerateVector
	}
	return dot / denom, nil
}
