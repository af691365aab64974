package core

import "time"

// SessionStatus is the externally visible state of a review session.
type SessionStatus string

const (
	StatusRunning  SessionStatus = "running"
	StatusAnswered SessionStatus = "answered"
	StatusFailed   SessionStatus = "failed"
	StatusAborted  SessionStatus = "aborted"
)

// Iteration is one reasoning/code/observation triple within a session
// transcript. The terminal iteration is the one whose code invoked the
// answer primitive.
type Iteration struct {
	Index      int    `json:"index"`
	Max        int    `json:"max"`
	Reasoning  string `json:"reasoning"`
	Code       string `json:"code"`
	Output     string `json:"output,omitempty"`
	Error      string `json:"error,omitempty"`
	DurationMS int64  `json:"durationMs"`
}

// ReviewSession holds the state of one (pr, question) interaction. The
// transcript is append-only and owned by a single logical caller; there is no
// concurrent mutation within a session.
type ReviewSession struct {
	ReviewID        string
	PR              *PRInfo
	Transcript      []Iteration
	IterationBudget int
	Status          SessionStatus
	TokensUsed      int64
	CreatedAt       time.Time
}

// NewReviewSession creates a session in the running state.
func NewReviewSession(reviewID string, pr *PRInfo, budget int) *ReviewSession {
	return &ReviewSession{
		ReviewID:        reviewID,
		PR:              pr,
		IterationBudget: budget,
		Status:          StatusRunning,
		CreatedAt:       time.Now(),
	}
}

// Append records one completed iteration. Indices are assigned here so the
// transcript is strictly increasing without gaps.
func (s *ReviewSession) Append(it Iteration) Iteration {
	it.Index = len(s.Transcript) + 1
	it.Max = s.IterationBudget
	s.Transcript = append(s.Transcript, it)
	return it
}
