// Package sentiment aggregates per-item sentiment scores into the summary
// statistics attached to a cached payload's api_metadata.
package sentiment

import (
	"encoding/json"

	"gonum.org/v1/gonum/stat"
)

// Summary describes the distribution of scores in one payload.
type Summary struct {
	Count  int     `json:"count"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
}

// Summarize computes summary statistics over scores. An empty slice
// yields the zero Summary.
func Summarize(scores []float64) Summary {
	if len(scores) == 0 {
		return Summary{}
	}

	s := Summary{
		Count: len(scores),
		Mean:  stat.Mean(scores, nil),
		Min:   scores[0],
		Max:   scores[0],
	}
	for _, v := range scores[1:] {
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
	}
	// Sample stddev is undefined for a single observation.
	if len(scores) > 1 {
		s.StdDev = stat.StdDev(scores, nil)
	}
	return s
}

// scoredItem is the part of a provider payload item we aggregate over.
type scoredItem struct {
	Score *float64 `json:"score"`
}

// ExtractScores pulls the per-item scores out of a provider payload of the
// form {"items": [{"score": ...}, ...]}. Payloads without scored items
// yield nil, which Summarize treats as empty.
func ExtractScores(payload json.RawMessage) []float64 {
	var envelope struct {
		Items []scoredItem `json:"items"`
	}
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return nil
	}

	var scores []float64
	for _, item := range envelope.Items {
		if item.Score != nil {
			scores = append(scores, *item.Score)
		}
	}
	return scores
}
