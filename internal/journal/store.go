package journal

import (
	"time"
)

// FailureKind distinguishes what a failure record refers to
type FailureKind string

const (
	KindObject    FailureKind = "object"
	KindContainer FailureKind = "container"
)

// Failure represents one recorded delete failure
type Failure struct {
	Kind       FailureKind `json:"kind"`
	Container  string      `json:"container"`
	Key        string      `json:"key,omitempty"`
	Message    string      `json:"message"`
	RecordedAt time.Time   `json:"recorded_at"`
}

// Run represents one recorded deletion run
type Run struct {
	ID         int64     `json:"id"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Objects    int64     `json:"objects"`
	Containers int64     `json:"containers"`
	Succeeded  bool      `json:"succeeded"`
}

// Store defines the interface for run journal persistence
type Store interface {
	// RecordFailure persists one delete failure for post-run inspection
	RecordFailure(failure Failure) error

	// FinishRun closes out the current run with its final counts
	FinishRun(objects, containers int64, succeeded bool) error

	// ListFailures returns the failures recorded for the current run
	ListFailures() ([]Failure, error)

	// Cleanup
	Close() error
}
