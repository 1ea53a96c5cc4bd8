package indexer

import (
	"math"
	"sort"
	"time"
)

// BackfillStats summarises an IndexAll run.
type BackfillStats struct {
	// Total is the number of active documents considered.
	Total int `json:"total"`
	// Indexed is the number of documents embedded and stored.
	Indexed int `json:"indexed"`
	// Skipped is the number of documents already present in the index.
	Skipped int `json:"skipped"`
	// Empty is the number of documents with no text to embed.
	Empty int `json:"empty"`
	// Failed is the number of documents that errored.
	Failed int `json:"failed"`
	// InputChars describes the length of the embedded inputs.
	InputChars LengthStats `json:"input_chars"`
	// Duration is the wall time of the run.
	Duration time.Duration `json:"duration_ns"`
}

// LengthStats contains min, max, mean and 95th percentile of a set of lengths.
type LengthStats struct {
	Min  int     `json:"min"`
	Max  int     `json:"max"`
	Mean float64 `json:"mean"`
	P95  int     `json:"p95"`
}

func computeLengthStats(lengths []int) LengthStats {
	if len(lengths) == 0 {
		return LengthStats{}
	}

	sorted := make([]int, len(lengths))
	copy(sorted, lengths)
	sort.Ints(sorted)

	sum := 0
	for _, n := range sorted {
		sum += n
	}
	mean := float64(sum) / float64(len(sorted))

	p95Index := int(math.Ceil(float64(len(sorted))*0.95)) - 1
	if p95Index < 0 {
		p95Index = 0
	}

	return LengthStats{
		Min:  sorted[0],
		Max:  sorted[len(sorted)-1],
		Mean: math.Round(mean*100) / 100,
		P95:  sorted[p95Index],
	}
}
