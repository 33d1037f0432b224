package domain

import "time"

// Candidate is a raw extracted event considered for market generation. It is
// created by the extraction stage and consumed exactly once by the generator;
// once consumed it is immutable.
type Candidate struct {
	ID            string
	NewsRef       string // source news reference, empty for direct proposals
	ProposalID    string // originating proposal, empty for crawled news
	Entities      []string
	EventType     string
	MarketWorthy  bool
	Confidence    float64
	ConsumedAt    *time.Time
	CreatedAt     time.Time
}
