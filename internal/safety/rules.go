// Package safety implements the two-tier content-safety filter: a
// conservative regex pre-filter over a versioned rule table, and a secondary
// classifier contract for content that passes the pre-filter.
package safety

import (
	"fmt"
	"regexp"

	"github.com/BurntSushi/toml"
)

// Category groups rules by the kind of abuse they detect.
type Category string

const (
	CategoryInjection Category = "prompt_injection"
	CategoryForbidden Category = "forbidden_topic"
)

// Severity orders rules; kept in the table for audit detail and hot updates,
// any match blocks regardless of severity.
type Severity string

const (
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rule is one row of the safety rule table.
type Rule struct {
	Pattern  string   `toml:"pattern"`
	Category Category `toml:"category"`
	Severity Severity `toml:"severity"`
}

// RuleTable is a versioned set of rules loaded at startup, enabling rule
// updates without redeploying filter logic.
type RuleTable struct {
	Version string `toml:"version"`
	Rules   []Rule `toml:"rules"`
}

// defaultRules is the built-in table. Patterns are deliberately broad: the
// pre-filter gates unauthenticated public input and must favor false
// positives.
var defaultRules = RuleTable{
	Version: "2026-08",
	Rules: []Rule{
		// Instruction-override language.
		{Pattern: `(?i)ignore\s+(all\s+|any\s+)?(previous|prior|above|earlier)\s+(instructions?|prompts?|rules?|context)`, Category: CategoryInjection, Severity: SeverityCritical},
		{Pattern: `(?i)disregard\s+(all\s+|any\s+)?(previous|prior|above|your)\s+(instructions?|prompts?|rules?|guidelines?)`, Category: CategoryInjection, Severity: SeverityCritical},
		{Pattern: `(?i)forget\s+(everything|all|what)\s+(you|above|before)`, Category: CategoryInjection, Severity: SeverityHigh},
		{Pattern: `(?i)override\s+(the\s+)?(system|safety|previous)\s+(prompt|instructions?|rules?)`, Category: CategoryInjection, Severity: SeverityCritical},
		// Role-reassignment language.
		{Pattern: `(?i)you\s+are\s+(now|no\s+longer)\s+`, Category: CategoryInjection, Severity: SeverityHigh},
		{Pattern: `(?i)(act|behave|respond)\s+as\s+(if\s+you\s+(are|were)|an?\s+unrestricted)`, Category: CategoryInjection, Severity: SeverityHigh},
		{Pattern: `(?i)pretend\s+(to\s+be|you\s+are|that\s+you)`, Category: CategoryInjection, Severity: SeverityMedium},
		{Pattern: `(?i)jailbreak|DAN\s+mode|developer\s+mode\s+enabled`, Category: CategoryInjection, Severity: SeverityCritical},
		// System-prompt markers.
		{Pattern: `(?i)(^|\W)(system|assistant)\s*:`, Category: CategoryInjection, Severity: SeverityMedium},
		{Pattern: `(?i)<\s*/?\s*(system|instructions?|prompt)\s*>`, Category: CategoryInjection, Severity: SeverityHigh},
		{Pattern: `\[INST\]|\[/INST\]|<\|im_start\|>|<\|im_end\|>`, Category: CategoryInjection, Severity: SeverityHigh},
		{Pattern: `(?i)(reveal|print|repeat|show)\s+(your|the)\s+(system\s+)?(prompt|instructions)`, Category: CategoryInjection, Severity: SeverityHigh},
		// Violence and harm.
		{Pattern: `(?i)(how\s+to\s+|instructions?\s+for\s+)?(kill|murder|assassinat\w*)\s+(a\s+|the\s+)?(person|people|someone|him|her|them)`, Category: CategoryForbidden, Severity: SeverityCritical},
		{Pattern: `(?i)(build|make|construct)\s+(a\s+)?(bomb|explosive|weapon)`, Category: CategoryForbidden, Severity: SeverityCritical},
		{Pattern: `(?i)mass\s+(shooting|casualt\w+)|terror\s+attack`, Category: CategoryForbidden, Severity: SeverityCritical},
		// Self-harm.
		{Pattern: `(?i)(commit|committing)\s+suicide|(kill|harm|hurt)\s+(myself|yourself)`, Category: CategoryForbidden, Severity: SeverityCritical},
		{Pattern: `(?i)self[- ]harm`, Category: CategoryForbidden, Severity: SeverityCritical},
		// Illegal content.
		{Pattern: `(?i)(buy|sell|synthesi[sz]e|manufactur\w+)\s+(illegal\s+)?(drugs?|narcotics|fentanyl|meth)`, Category: CategoryForbidden, Severity: SeverityHigh},
		{Pattern: `(?i)(launder|laundering)\s+money|human\s+trafficking`, Category: CategoryForbidden, Severity: SeverityCritical},
		// Exploitation.
		{Pattern: `(?i)child\s+(abuse|porn\w*|exploitation)|csam`, Category: CategoryForbidden, Severity: SeverityCritical},
		{Pattern: `(?i)(sexual\w*)\s+(minor|child|underage)`, Category: CategoryForbidden, Severity: SeverityCritical},
	},
}

// DefaultRules returns the built-in rule table.
func DefaultRules() RuleTable {
	return defaultRules
}

// LoadRules reads a rule table from a TOML file, for operators overriding the
// built-in set.
func LoadRules(path string) (RuleTable, error) {
	var table RuleTable
	if _, err := toml.DecodeFile(path, &table); err != nil {
		return RuleTable{}, fmt.Errorf("safety: load rules %s: %w", path, err)
	}
	if len(table.Rules) == 0 {
		return RuleTable{}, fmt.Errorf("safety: rule table %s is empty", path)
	}
	return table, nil
}

// compiledRule pairs a rule with its compiled pattern.
type compiledRule struct {
	rule Rule
	re   *regexp.Regexp
}

// compile compiles every rule in the table, failing on the first bad pattern.
func (t RuleTable) compile() ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(t.Rules))
	for _, r := range t.Rules {
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("safety: compile rule %q: %w", r.Pattern, err)
		}
		out = append(out, compiledRule{rule: r, re: re})
	}
	return out, nil
}
