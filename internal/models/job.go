package models

import "time"

// JobStatus is the lifecycle state of an extraction job.
type JobStatus string

const (
	StatusSubmitted  JobStatus = "SUBMITTED"
	StatusInProgress JobStatus = "IN_PROGRESS"
	StatusSucceeded  JobStatus = "SUCCEEDED"
	StatusFailed     JobStatus = "FAILED"
)

// rank orders the statuses so that transitions only move forward.
func (s JobStatus) rank() int {
	switch s {
	case StatusSubmitted:
		return 1
	case StatusInProgress:
		return 2
	case StatusSucceeded, StatusFailed:
		return 3
	default:
		return 0
	}
}

// Valid reports whether s is one of the known statuses.
func (s JobStatus) Valid() bool { return s.rank() > 0 }

// IsTerminal reports whether no further transitions are permitted from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	if s.IsTerminal() || !next.Valid() {
		return false
	}
	return next.rank() > s.rank()
}

// Job is the Firestore record tracking one extraction request from submission
// to its terminal outcome. The document ID is the JobID.
type Job struct {
	JobID          string    `firestore:"jobId" json:"jobId"`
	Status         JobStatus `firestore:"status" json:"status"`
	SourceRef      string    `firestore:"sourceRef" json:"sourceRef"`
	CallbackTarget string    `firestore:"callbackTarget,omitempty" json:"callbackTarget,omitempty"`
	IdempotencyKey string    `firestore:"idempotencyKey,omitempty" json:"idempotencyKey,omitempty"`
	ExternalJobRef string    `firestore:"externalJobRef,omitempty" json:"externalJobRef,omitempty"`
	ExtractedText  string    `firestore:"extractedText,omitempty" json:"extractedText,omitempty"`
	ErrorDetail    string    `firestore:"errorDetail,omitempty" json:"errorDetail,omitempty"`
	OutputURI      string    `firestore:"outputUri,omitempty" json:"outputUri,omitempty"`
	PageCount      int       `firestore:"pageCount,omitempty" json:"pageCount,omitempty"`
	CreatedAt      time.Time `firestore:"createdAt" json:"createdAt"`
	UpdatedAt      time.Time `firestore:"updatedAt" json:"updatedAt"`
}

// Outcome is the payload written alongside a terminal status.
type Outcome struct {
	ExtractedText string
	ErrorDetail   string
	OutputURI     string
	PageCount     int
}

// NextUpdateTime returns a timestamp for a state transition that never moves
// backwards relative to the record's current UpdatedAt.
func (j *Job) NextUpdateTime(now time.Time) time.Time {
	if now.Before(j.UpdatedAt) {
		return j.UpdatedAt
	}
	return now
}
