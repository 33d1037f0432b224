package domain

import "time"

// DisputeStatus tracks a dispute through AI review.
type DisputeStatus string

const (
	DisputeStatusPending    DisputeStatus = "pending"
	DisputeStatusReviewing  DisputeStatus = "reviewing"
	DisputeStatusUpheld     DisputeStatus = "upheld"
	DisputeStatusOverturned DisputeStatus = "overturned"
	DisputeStatusEscalated  DisputeStatus = "escalated"
)

// AIReview captures the dispute agent's decision for the audit trail.
type AIReview struct {
	Decision   string  `json:"decision"`
	Reasoning  string  `json:"reasoning"`
	Confidence float64 `json:"confidence"`
	Reviewer   string  `json:"reviewer"`
}

// Dispute contests a Resolution inside its dispute window.
//
// NewResult is present if and only if Status is overturned.
type Dispute struct {
	ID           string
	ResolutionID string
	Disputer     string
	Reason       string
	EvidenceURLs []string
	Status       DisputeStatus
	NewResult    ResolutionResult // empty unless overturned
	Review       *AIReview
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
