package domain

import "time"

// BatchStatus represents the aggregate outcome of a bulk send.
type BatchStatus string

const (
	BatchStatusProcessing     BatchStatus = "PROCESSING"
	BatchStatusCompleted      BatchStatus = "COMPLETED"
	BatchStatusPartialFailure BatchStatus = "PARTIAL_FAILURE"
)

func (s BatchStatus) String() string { return string(s) }

func (s BatchStatus) IsValid() bool {
	switch s {
	case BatchStatusProcessing, BatchStatusCompleted, BatchStatusPartialFailure:
		return true
	}
	return false
}

// Batch groups messages submitted through a single bulk send call.
// Individual message failures mark the batch PARTIAL_FAILURE; they
// never abort the remaining messages.
type Batch struct {
	ID         string
	TotalCount int
	Status     BatchStatus
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
