package domain

import "time"

// ProposalStatus tracks a proposal through the generation pipeline.
type ProposalStatus string

const (
	ProposalStatusSubmitted     ProposalStatus = "submitted"
	ProposalStatusProcessing    ProposalStatus = "processing"
	ProposalStatusPendingReview ProposalStatus = "pending_review"
	ProposalStatusNeedsHuman    ProposalStatus = "needs_human"
	ProposalStatusApproved      ProposalStatus = "approved"
	ProposalStatusRejected      ProposalStatus = "rejected"
	ProposalStatusPublished     ProposalStatus = "published"
	ProposalStatusFailed        ProposalStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s ProposalStatus) Terminal() bool {
	switch s {
	case ProposalStatusPublished, ProposalStatusRejected, ProposalStatusFailed:
		return true
	}
	return false
}

// Proposal is a user- or system-submitted text seeking to become a market.
type Proposal struct {
	ID           string
	Text         string
	TextHash     string // sha256 over the normalized text, duplicate guard
	CategoryHint string
	Submitter    string // principal address or IP identifier
	Status       ProposalStatus
	ReviewReason string // set when safety flags the text or on admin approve/reject
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
