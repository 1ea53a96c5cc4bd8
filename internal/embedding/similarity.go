package embedding

import (
	"fmt"
	"math"
)

// DimensionMismatchError is returned when two vectors differ in length.
type DimensionMismatchError struct {
	Left, Right int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("vector dimension mismatch: %d != %d", e.Left, e.Right)
}

// CosineSimilarity returns the cosine of the angle between a and b. It is 0
// when either vector has zero norm.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Left: len(a), Right: len(b)}
	}

	var dot, normA, normB float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		normA += x * x
		normB += y * y
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}
