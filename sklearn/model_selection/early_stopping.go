package model_selection

import (
	"math"
)

// EarlyStopping handles early stopping logic
type EarlyStopping struct {
	Rounds          int     // Number of rounds without improvement to stop
	Tol             float64 // Minimum improvement that resets the counter
	BestScore       float64 // Best validation score so far
	BestIteration   int     // Iteration with best score
	RoundsNoImprove int     // Current rounds without improvement
	Minimize        bool    // Whether to minimize the metric
	Enabled         bool    // Whether early stopping is enabled
}

// NewEarlyStopping creates a handler that minimises a loss. rounds <= 0
// disables it.
func NewEarlyStopping(rounds int, tol float64) *EarlyStopping {
	if rounds <= 0 {
		return &EarlyStopping{Enabled: false, BestIteration: -1}
	}
	return &EarlyStopping{
		Rounds:        rounds,
		Tol:           tol,
		BestScore:     math.Inf(1),
		BestIteration: -1,
		Minimize:      true,
		Enabled:       true,
	}
}

// Update records the score of iteration and reports whether training should stop.
func (es *EarlyStopping) Update(iteration int, score float64) bool {
	if !es.Enabled {
		return false
	}

	var improved bool
	if es.Minimize {
		improved = score < es.BestScore-es.Tol
	} else {
		improved = score > es.BestScore+es.Tol
	}
	// 最初の反復は常に基準になる
	if es.BestIteration < 0 {
		improved = true
	}

	if improved {
		es.BestScore = score
		es.BestIteration = iteration
		es.RoundsNoImprove = 0
	} else {
		es.RoundsNoImprove++
	}
	return es.RoundsNoImprove >= es.Rounds
}
