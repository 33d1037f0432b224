package domain

import "time"

// DisputeWindow is the fixed period after resolution during which a result
// may be contested.
const DisputeWindow = 24 * time.Hour

// ResolutionResult is the binary outcome of a market.
type ResolutionResult string

const (
	ResultYes ResolutionResult = "YES"
	ResultNo  ResolutionResult = "NO"
)

// Valid reports whether r is one of the two recognized outcomes.
func (r ResolutionResult) Valid() bool {
	return r == ResultYes || r == ResultNo
}

// ResolutionStatus tracks a resolution from creation to finality.
type ResolutionStatus string

const (
	ResolutionStatusResolved  ResolutionStatus = "resolved"
	ResolutionStatusFinalized ResolutionStatus = "finalized"
)

// Resolution records one outcome determination for a market. A market has at
// most one non-superseded resolution in flight.
type Resolution struct {
	ID               string
	MarketID         string
	FinalResult      ResolutionResult
	Source           string // URL actually used
	EvidenceHash     string // 64-char hex digest binding the raw evidence
	CriteriaMet      map[string]bool
	CriteriaExcluded map[string]bool
	Status           ResolutionStatus
	DisputeWindowEnd time.Time // ResolvedAt + DisputeWindow, never rewritten
	ResolvedBy       string
	ResolvedAt       time.Time
	UpdatedAt        time.Time
}
