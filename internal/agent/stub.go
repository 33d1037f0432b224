package agent

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// Stub is a deterministic Agent used in development and tests. Decisions are
// derived from the input text so runs are reproducible.
type Stub struct {
	// Worthy controls the extraction verdict; ConfidenceValue feeds every
	// stage's confidence.
	Worthy          bool
	ConfidenceValue float64
}

// NewStub returns a Stub that considers everything market-worthy at the
// given confidence.
func NewStub(confidence float64) *Stub {
	return &Stub{Worthy: true, ConfidenceValue: confidence}
}

func stubRequestID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
	}
	return "stub-" + hex.EncodeToString(h.Sum(nil))[:16]
}

func (s *Stub) Extract(ctx context.Context, text, categoryHint string) (Extraction, error) {
	return Extraction{
		Entities:     []string{"stub"},
		EventType:    "other",
		MarketWorthy: s.Worthy,
		Confidence:   s.ConfidenceValue,
		LLMRequestID: stubRequestID("extract", text),
	}, nil
}

func (s *Stub) Generate(ctx context.Context, c domain.Candidate, text string) (Draft, error) {
	return Draft{
		Title:       text,
		Description: fmt.Sprintf("Resolves YES if the event occurs: %s", text),
		Category:    "other",
		Rules: domain.ResolutionRules{
			ExactQuestion: text,
			MustMeetAll:   []string{"the event occurred as stated"},
			MustNotCount:  []string{"rumors without confirmation"},
			Expiry:        time.Now().UTC().Add(30 * 24 * time.Hour),
		},
		Confidence:   s.ConfidenceValue,
		LLMRequestID: stubRequestID("generate", c.ID),
	}, nil
}

func (s *Stub) Validate(ctx context.Context, m domain.Market) (Validation, error) {
	return Validation{
		Decision:     ValidationApprove,
		Reasoning:    "stub approval",
		Confidence:   s.ConfidenceValue,
		LLMRequestID: stubRequestID("validate", m.ID),
	}, nil
}

func (s *Stub) Resolve(ctx context.Context, m domain.Market) (Outcome, error) {
	return Outcome{
		FinalResult:      domain.ResultYes,
		Source:           "https://example.com/evidence",
		EvidenceRaw:      []byte(`{"stub":true}`),
		CriteriaMet:      map[string]bool{"the event occurred as stated": true},
		CriteriaExcluded: map[string]bool{"rumors without confirmation": false},
		LLMRequestID:     stubRequestID("resolve", m.ID),
	}, nil
}

func (s *Stub) ReviewDispute(ctx context.Context, d domain.Dispute, r domain.Resolution) (DisputeDecision, error) {
	return DisputeDecision{
		Decision:     domain.DisputeStatusUpheld,
		Reasoning:    "stub review: original resolution stands",
		Confidence:   s.ConfidenceValue,
		LLMRequestID: stubRequestID("dispute", d.ID),
	}, nil
}

// Compile-time interface check.
var _ Agent = (*Stub)(nil)
