package safety

import (
	"context"
	"fmt"
	"sync"

	"github.com/quorumlabs/marketforge/internal/domain"
)

// RiskLevel grades classifier output.
type RiskLevel string

const (
	RiskNone     RiskLevel = "none"
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Recommendation is the classifier's verdict.
type Recommendation string

const (
	RecommendAllow  Recommendation = "allow"
	RecommendReview Recommendation = "review"
	RecommendReject Recommendation = "reject"
)

// Classification is the secondary classifier's result contract.
type Classification struct {
	IsSafe         bool           `json:"is_safe"`
	RiskLevel      RiskLevel      `json:"risk_level"`
	DetectedIssues []string       `json:"detected_issues"`
	Recommendation Recommendation `json:"recommendation"`
}

// Classifier scores content that already passed the pre-filter. The LLM-backed
// implementation lives outside this module; tests use fakes.
type Classifier interface {
	Classify(ctx context.Context, field, content string) (Classification, error)
}

// Verdict is the filter's combined decision for one field.
type Verdict struct {
	// Blocked means the content must be rejected outright.
	Blocked bool
	// NeedsReview forces the needs_human path regardless of confidence.
	NeedsReview bool
	// Field is the offending field name, set when Blocked.
	Field string
	// Category and Pattern identify the matching pre-filter rule, empty when
	// the classifier (not the pre-filter) decided.
	Category Category
	Pattern  string
	// Issues carries classifier detail for the audit log.
	Issues []string
}

// Filter is the two-tier content-safety check. The regex pre-filter always
// runs; the classifier runs only when configured and only for content the
// pre-filter passed.
type Filter struct {
	mu         sync.RWMutex
	rules      []compiledRule
	version    string
	classifier Classifier // nil disables the second tier
}

// NewFilter compiles the rule table. classifier may be nil.
func NewFilter(table RuleTable, classifier Classifier) (*Filter, error) {
	compiled, err := table.compile()
	if err != nil {
		return nil, err
	}
	return &Filter{rules: compiled, version: table.Version, classifier: classifier}, nil
}

// Reload swaps in a new rule table. In-flight checks finish against the old
// table; a table that fails to compile leaves the current one in place.
func (f *Filter) Reload(table RuleTable) error {
	compiled, err := table.compile()
	if err != nil {
		return err
	}
	f.mu.Lock()
	f.rules = compiled
	f.version = table.Version
	f.mu.Unlock()
	return nil
}

// Version returns the loaded rule-table version.
func (f *Filter) Version() string {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.version
}

// Check screens one free-text field. A pre-filter match short-circuits with a
// blocking verdict and never invokes the classifier; classifier errors fail
// closed into NeedsReview rather than letting unscored content through.
func (f *Filter) Check(ctx context.Context, field, content string) (Verdict, error) {
	f.mu.RLock()
	rules := f.rules
	f.mu.RUnlock()

	for _, cr := range rules {
		if cr.re.MatchString(content) {
			return Verdict{
				Blocked:  true,
				Field:    field,
				Category: cr.rule.Category,
				Pattern:  cr.rule.Pattern,
			}, nil
		}
	}

	if f.classifier == nil {
		return Verdict{}, nil
	}

	cls, err := f.classifier.Classify(ctx, field, content)
	if err != nil {
		return Verdict{NeedsReview: true, Field: field}, fmt.Errorf("safety: classify %s: %w", field, err)
	}

	switch cls.Recommendation {
	case RecommendReject:
		return Verdict{Blocked: true, Field: field, Issues: cls.DetectedIssues}, nil
	case RecommendReview:
		return Verdict{NeedsReview: true, Field: field, Issues: cls.DetectedIssues}, nil
	}
	return Verdict{Issues: cls.DetectedIssues}, nil
}

// CheckAll screens several fields in order and returns the first blocking or
// review verdict. The error, if any, accompanies a usable verdict.
func (f *Filter) CheckAll(ctx context.Context, fields map[string]string, order []string) (Verdict, error) {
	var review Verdict
	for _, name := range order {
		content, ok := fields[name]
		if !ok {
			continue
		}
		v, err := f.Check(ctx, name, content)
		if v.Blocked {
			return v, err
		}
		if v.NeedsReview && !review.NeedsReview {
			review = v
		}
		if err != nil {
			return review, err
		}
	}
	return review, nil
}

// BlockedError converts a blocking verdict into the domain error carried to
// the API boundary.
func (v Verdict) BlockedError() error {
	if !v.Blocked {
		return nil
	}
	return fmt.Errorf("field %s: %w", v.Field, domain.ErrUnsafeContent)
}
