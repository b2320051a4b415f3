package match

import (
	"encoding/json"
	"errors"
	"time"
)

// Match lifecycle states in the ephemeral store.
const (
	StatusOngoing  = "ongoing"
	StatusFinished = "finished"
)

// End reasons reported by the execution service.
const (
	EndReasonCompleted = "completed"
	EndReasonTimeout   = "timeout"
	EndReasonForfeit   = "forfeit"
)

// ErrMatchNotFound signals a missing ephemeral match record. Finalize
// treats it as "already finalized or never existed" and no-ops.
var ErrMatchNotFound = errors.New("match not found")

// QueueEntry is one waiting player in the rating-sorted structure.
type QueueEntry struct {
	UserID string
	Rating int
}

// RatingChange carries a pre-computed per-player rating outcome supplied by
// the execution service (difficulty adjustments included).
type RatingChange struct {
	Old   int `json:"old"`
	New   int `json:"new"`
	Delta int `json:"delta"`
}

// Submission reference kinds. Source variants of the execution service emit
// either bare token strings or full result objects; both are normalized into
// SubmissionRef at ingress.
const (
	RefKindToken  = "token"
	RefKindDetail = "detail"
)

// TestResult is one test-case outcome within a submission.
type TestResult struct {
	Name      string `json:"name"`
	Passed    bool   `json:"passed"`
	RuntimeMS int    `json:"runtime_ms"`
}

// SubmissionDetail is a fully described code submission.
type SubmissionDetail struct {
	UserID       string       `json:"user_id"`
	Language     string       `json:"language"`
	SourceCode   string       `json:"source_code"`
	Passed       bool         `json:"passed"`
	TestResults  []TestResult `json:"test_results,omitempty"`
	RuntimeMS    int          `json:"runtime_ms"`
	MemoryKB     int          `json:"memory_kb"`
	ComplexityOK bool         `json:"complexity_ok"`
	SubmittedAt  time.Time    `json:"submitted_at"`
}

// SubmissionRef is the tagged-variant submission reference used throughout
// the pipeline.
type SubmissionRef struct {
	Kind   string            `json:"kind"`
	Token  string            `json:"token,omitempty"`
	Detail *SubmissionDetail `json:"detail,omitempty"`
}

// NormalizeSubmissionRef converts a raw event payload (either a JSON string
// token or a full submission object) into the tagged form. Malformed
// payloads degrade to a token ref holding the raw bytes.
func NormalizeSubmissionRef(raw json.RawMessage) SubmissionRef {
	var token string
	if err := json.Unmarshal(raw, &token); err == nil {
		return SubmissionRef{Kind: RefKindToken, Token: token}
	}

	var detail SubmissionDetail
	if err := json.Unmarshal(raw, &detail); err == nil {
		return SubmissionRef{Kind: RefKindDetail, Detail: &detail}
	}

	return SubmissionRef{Kind: RefKindToken, Token: string(raw)}
}

// MatchState is the ephemeral per-match document assembled from the cache.
type MatchState struct {
	MatchID       string
	RoomID        string
	ProblemID     string
	Status        string
	Players       []string
	StartedAt     time.Time
	EndedAt       *time.Time
	WinnerID      string
	IsDraw        bool
	EndReason     string
	Submissions   []SubmissionRef
	PlayersCode   map[string]map[string]string // user -> language -> code
	LinesWritten  map[string]int
	RatingChanges map[string]RatingChange // nil unless supplied upstream
}

// Reservation lets a reconnecting client discover the match it was paired
// into.
type Reservation struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	MatchID   string `json:"match_id"`
	RoomID    string `json:"room_id"`
	ProblemID string `json:"problem_id"`
}
