package domain

import "time"

// VideoStatus enumerates the job lifecycle states. QUEUED and
// IN_PROGRESS are active; COMPLETED and FAILED are terminal and
// immutable once reached.
type VideoStatus string

const (
	VideoStatusQueued     VideoStatus = "QUEUED"
	VideoStatusInProgress VideoStatus = "IN_PROGRESS"
	VideoStatusCompleted  VideoStatus = "COMPLETED"
	VideoStatusFailed     VideoStatus = "FAILED"
)

// Terminal reports whether the status permits no further transitions.
func (s VideoStatus) Terminal() bool {
	return s == VideoStatusCompleted || s == VideoStatusFailed
}

// Video tracks one generation job from submission to terminal state.
type Video struct {
	ID              string
	UserID          string
	ProviderJobID   string
	Status          VideoStatus
	CreditsCost     int
	Prompt          string
	Model           string
	Size            string
	DurationSeconds int
	Progress        int
	VideoKey        string
	ThumbKey        string
	ErrorMessage    string
	RemixedFrom     string
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

// TerminalUpdate describes a transition into COMPLETED or FAILED.
type TerminalUpdate struct {
	Status       VideoStatus
	VideoKey     string
	ThumbKey     string
	ErrorMessage string
	CompletedAt  time.Time
}
