// Package agent defines the contracts between pipeline workers and the
// AI models backing them. The inference itself lives outside this module;
// every contract here carries the model's version and request id so the
// lifecycle API can bind decisions to the audit trail.
package agent

import (
	"context"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// Extraction is the extractor model's classification of one raw event.
type Extraction struct {
	Entities     []string `json:"entities"`
	EventType    string   `json:"event_type"`
	MarketWorthy bool     `json:"market_worthy"`
	Confidence   float64  `json:"confidence"`
	LLMRequestID string   `json:"llm_request_id"`
}

// Draft is the generator model's market content for one candidate.
type Draft struct {
	Title        string                 `json:"title"`
	Description  string                 `json:"description"`
	Category     string                 `json:"category"`
	Rules        domain.ResolutionRules `json:"rules"`
	Confidence   float64                `json:"confidence"`
	LLMRequestID string                 `json:"llm_request_id"`
}

// ValidationDecision is the validator model's verdict on a draft.
type ValidationDecision string

const (
	ValidationApprove  ValidationDecision = "approve"
	ValidationReject   ValidationDecision = "reject"
	ValidationEscalate ValidationDecision = "escalate"
)

// Validation is the validator model's assessment.
type Validation struct {
	Decision     ValidationDecision `json:"decision"`
	Reasoning    string             `json:"reasoning"`
	Confidence   float64            `json:"confidence"`
	LLMRequestID string             `json:"llm_request_id"`
}

// Outcome is the resolver model's determination from allowed sources.
type Outcome struct {
	FinalResult      domain.ResolutionResult `json:"final_result"`
	Source           string                  `json:"source"`
	EvidenceRaw      []byte                  `json:"evidence_raw"`
	CriteriaMet      map[string]bool         `json:"criteria_met"`
	CriteriaExcluded map[string]bool         `json:"criteria_excluded"`
	LLMRequestID     string                  `json:"llm_request_id"`
}

// DisputeDecision is the dispute agent's adjudication.
type DisputeDecision struct {
	Decision     domain.DisputeStatus    `json:"decision"` // upheld, overturned or escalated
	NewResult    domain.ResolutionResult `json:"new_result,omitempty"`
	Reasoning    string                  `json:"reasoning"`
	Confidence   float64                 `json:"confidence"`
	LLMRequestID string                  `json:"llm_request_id"`
}

// Agent is the full model contract consumed by the pipeline workers.
type Agent interface {
	Extract(ctx context.Context, text, categoryHint string) (Extraction, error)
	Generate(ctx context.Context, c domain.Candidate, text string) (Draft, error)
	Validate(ctx context.Context, m domain.Market) (Validation, error)
	Resolve(ctx context.Context, m domain.Market) (Outcome, error)
	ReviewDispute(ctx context.Context, d domain.Dispute, r domain.Resolution) (DisputeDecision, error)
}
