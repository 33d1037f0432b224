package domain

import "time"

// MarketStatus represents the lifecycle state of a generated market.
type MarketStatus string

const (
	MarketStatusDraft         MarketStatus = "draft"
	MarketStatusPendingReview MarketStatus = "pending_review"
	MarketStatusActive        MarketStatus = "active"
	MarketStatusResolving     MarketStatus = "resolving"
	MarketStatusResolved      MarketStatus = "resolved"
	MarketStatusFinalized     MarketStatus = "finalized"
	MarketStatusDisputed      MarketStatus = "disputed"
	MarketStatusFailed        MarketStatus = "failed"
)

// ResolutionSource is a named source a resolver may consult, together with
// how and under what condition it counts.
type ResolutionSource struct {
	Name      string `json:"name"`
	URL       string `json:"url"`
	Method    string `json:"method"`
	Condition string `json:"condition"`
}

// ResolutionRules pin down exactly how a market resolves.
type ResolutionRules struct {
	ExactQuestion  string             `json:"exact_question"`
	MustMeetAll    []string           `json:"must_meet_all"`
	MustNotCount   []string           `json:"must_not_count"`
	AllowedSources []ResolutionSource `json:"allowed_sources"`
	Expiry         time.Time          `json:"expiry"`
}

// Market is AI-generated market content, on-chain once published.
//
// MarketAddress is set exactly once, at the draft→active transition, and is
// immutable thereafter.
type Market struct {
	ID            string
	ProposalID    string // empty for markets generated from crawled news
	CandidateID   string
	Title         string
	Description   string
	Category      string
	Rules         ResolutionRules
	Confidence    float64
	Status        MarketStatus
	MarketAddress string
	TxSignature   string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
