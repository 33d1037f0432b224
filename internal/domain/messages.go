package domain

// Queue message bodies. All broker payloads are JSON.

// NewsRawMessage enters the pipeline on news.raw, either from the crawler or
// from a direct proposal submission.
type NewsRawMessage struct {
	ProposalID    string `json:"proposal_id,omitempty"`
	NewsRef       string `json:"news_ref,omitempty"`
	Text          string `json:"text"`
	CategoryHint  string `json:"category_hint,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// CandidateMessage moves an extracted candidate to the generator stage. The
// source text travels with the message so the generator never reads the
// proposal store.
type CandidateMessage struct {
	CandidateID   string `json:"candidate_id"`
	ProposalID    string `json:"proposal_id,omitempty"`
	Text          string `json:"text,omitempty"`
	CategoryHint  string `json:"category_hint,omitempty"`
	CorrelationID string `json:"correlation_id"`
}

// DraftMessage moves a drafted market to the validator stage, carrying the
// draft content the validator assesses.
type DraftMessage struct {
	MarketID      string          `json:"market_id"`
	ProposalID    string          `json:"proposal_id,omitempty"`
	Title         string          `json:"title"`
	Description   string          `json:"description,omitempty"`
	Category      string          `json:"category,omitempty"`
	Rules         ResolutionRules `json:"rules"`
	CorrelationID string          `json:"correlation_id"`
}

// Publish message kinds.
const (
	PublishKindCreate           = "create"
	PublishKindResolutionUpdate = "resolution_update"
)

// PublishMessage instructs the publisher stage. Kind "create" publishes a new
// market on chain; kind "resolution_update" propagates an overturned result
// to the chain collaborator.
type PublishMessage struct {
	Kind          string           `json:"kind"`
	MarketID      string           `json:"market_id"`
	NewResult     ResolutionResult `json:"new_result,omitempty"`
	CorrelationID string           `json:"correlation_id"`
}

// ResolveMessage asks the resolver stage to determine a market's outcome
// against its resolution rules.
type ResolveMessage struct {
	MarketID      string          `json:"market_id"`
	Title         string          `json:"title"`
	Rules         ResolutionRules `json:"rules"`
	CorrelationID string          `json:"correlation_id"`
}

// DisputeMessage moves an opened dispute to the dispute-agent stage with
// enough context to adjudicate without store access.
type DisputeMessage struct {
	DisputeID     string           `json:"dispute_id"`
	ResolutionID  string           `json:"resolution_id"`
	MarketID      string           `json:"market_id"`
	Reason        string           `json:"reason"`
	EvidenceURLs  []string         `json:"evidence_urls,omitempty"`
	FinalResult   ResolutionResult `json:"final_result"`
	Source        string           `json:"source,omitempty"`
	CorrelationID string           `json:"correlation_id"`
}

// ConfigRefreshMessage tells long-running workers to reload configuration.
type ConfigRefreshMessage struct {
	Scope string `json:"scope,omitempty"`
}
