package queue

import (
	"strings"
	"time"
)

// Status represents the lifecycle of an identity-run item.
type Status string

const (
	StatusPending      Status = "pending"
	StatusPreflighting Status = "preflighting"
	StatusTraining     Status = "training"
	StatusGenerating   Status = "generating"
	StatusScoring      Status = "scoring"
	StatusCompleted    Status = "completed"
	StatusFailed       Status = "failed"
	// StatusReview marks runs that finished with a negative verdict or
	// unusable inputs: threshold not met, missing data. Distinct from failed
	// so operators can tell "the model is bad" from "the run broke".
	StatusReview Status = "review"
)

var allStatuses = []Status{
	StatusPending,
	StatusPreflighting,
	StatusTraining,
	StatusGenerating,
	StatusScoring,
	StatusCompleted,
	StatusFailed,
	StatusReview,
}

var processingStatuses = map[Status]struct{}{
	StatusPreflighting: {},
	StatusTraining:     {},
	StatusGenerating:   {},
	StatusScoring:      {},
}

// Item represents an identity validation run persisted in SQLite.
type Item struct {
	ID              int64
	IdentityID      int
	IdentityIndex   int
	RequestID       string
	Status          Status
	ProgressStage   string
	ProgressPercent float64
	ProgressMessage string
	FailureReason   string
	ResultJSON      string
	CheckpointPath  string
	GeneratedDir    string
	ImageCount      int
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// SetFailed moves the item into the failed state with the given reason.
func (i *Item) SetFailed(reason string) {
	i.Status = StatusFailed
	i.FailureReason = strings.TrimSpace(reason)
}

// SetReview moves the item into the review state with the given reason.
func (i *Item) SetReview(reason string) {
	i.Status = StatusReview
	i.FailureReason = strings.TrimSpace(reason)
}

// Terminal reports whether the item has reached a final status.
func (i *Item) Terminal() bool {
	switch i.Status {
	case StatusCompleted, StatusFailed, StatusReview:
		return true
	default:
		return false
	}
}

// AllStatuses returns the ordered list of known statuses.
func AllStatuses() []Status {
	cp := make([]Status, len(allStatuses))
	copy(cp, allStatuses)
	return cp
}

// ParseStatus converts a string into a known Status.
func ParseStatus(value string) (Status, bool) {
	normalized := Status(strings.ToLower(strings.TrimSpace(value)))
	if normalized == "" {
		return "", false
	}
	for _, status := range allStatuses {
		if status == normalized {
			return status, true
		}
	}
	return "", false
}

// IsProcessing reports whether the status denotes in-flight work.
func IsProcessing(status Status) bool {
	_, ok := processingStatuses[status]
	return ok
}

// HealthSummary describes aggregated item counts per key lifecycle states.
type HealthSummary struct {
	Total      int
	Pending    int
	Processing int
	Completed  int
	Failed     int
	Review     int
}
