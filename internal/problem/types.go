package problem

import (
	"encoding/json"
	"errors"
)

// Difficulty bands for coding problems.
const (
	DifficultyEasy   = "easy"
	DifficultyMedium = "medium"
	DifficultyHard   = "hard"
)

// ErrNoProblemFound signals an empty pool for the requested difficulty.
// It is a typed condition, not an exceptional failure: callers are expected
// to compensate (e.g. re-queue the paired players).
var ErrNoProblemFound = errors.New("no problem found")

// Problem is a durable coding problem eligible for matches.
type Problem struct {
	ID                string
	Title             string
	Difficulty        string
	Verified          bool
	FunctionSignature json.RawMessage
}
