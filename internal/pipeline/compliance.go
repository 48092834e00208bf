package pipeline

import (
	"fmt"
	"regexp"
	"strings"
)

// Sensitive-data categories.
const (
	CategoryIdentifier  = "identifier"
	CategoryCreditCard  = "credit_card"
	CategoryContactInfo = "contact_info"
	CategoryFinancial   = "financial"
	CategoryHealth      = "health"
	CategoryPrivileged  = "privileged"
)

// compliancePattern pairs a detection regex with its category and default
// action.
type compliancePattern struct {
	category string
	action   ComplianceAction
	regex    *regexp.Regexp
}

// Detection patterns, more specific first. Health terms are flagged for
// the audit trail but left intact; everything else is redacted unless the
// category is configured to block.
var compliancePatterns = []compliancePattern{
	{
		category: CategoryPrivileged,
		action:   ActionBlock,
		regex:    regexp.MustCompile(`(?i)attorney[- ]client privileged?|legally privileged|privileged (?:and|&) confidential`),
	},
	{
		category: CategoryIdentifier,
		action:   ActionRedact,
		regex:    regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`),
	},
	{
		category: CategoryCreditCard,
		action:   ActionRedact,
		regex:    regexp.MustCompile(`\b(?:\d{4}[ -]){3}\d{4}\b|\b\d{15,16}\b`),
	},
	{
		category: CategoryContactInfo,
		action:   ActionRedact,
		regex:    regexp.MustCompile(`\b[a-zA-Z0-9._%+-]+@[a-zA-Z0-9.-]+\.[a-zA-Z]{2,}\b|\b\(?\d{3}\)?[-. ]\d{3}[-. ]\d{4}\b`),
	},
	{
		category: CategoryFinancial,
		action:   ActionRedact,
		regex:    regexp.MustCompile(`(?i)\b(?:account|acct)\s*(?:number|no\.?|#)?\s*[:#]?\s*\d{6,}\b`),
	},
	{
		category: CategoryHealth,
		action:   ActionFlag,
		regex:    regexp.MustCompile(`(?i)\b(?:diagnos(?:is|ed)|prescription|medical record|chemotherapy|hiv|psychiatric)\b`),
	},
}

// ComplianceConfig configures the compliance filter.
type ComplianceConfig struct {
	// RedactionEnabled turns span redaction on. When false, redactable
	// categories are downgraded to flag. Block categories always block.
	RedactionEnabled bool

	// BlockCategories lists categories with no safe sanitized form.
	// A match in any of them vetoes synthesis for the whole run.
	BlockCategories []string
}

// ComplianceFilter scans reconstructed context and extracted insights for
// sensitive personal data before any text reaches the synthesizer.
type ComplianceFilter struct {
	redact          bool
	blockCategories map[string]bool
}

// NewComplianceFilter creates a ComplianceFilter.
func NewComplianceFilter(cfg ComplianceConfig) *ComplianceFilter {
	block := make(map[string]bool, len(cfg.BlockCategories))
	for _, c := range cfg.BlockCategories {
		block[strings.ToLower(strings.TrimSpace(c))] = true
	}
	return &ComplianceFilter{
		redact:          cfg.RedactionEnabled,
		blockCategories: block,
	}
}

// Check scans contexts and insights, returning sanitized copies, the
// findings, and a verdict. Inputs are never mutated.
//
// Verdict block means a non-redactable category matched; the caller must
// skip synthesis entirely and return a refusal, never partial content.
func (f *ComplianceFilter) Check(contexts []ThreadContext, insights []Insight) ([]ThreadContext, []Insight, []ComplianceFinding, Verdict) {
	var findings []ComplianceFinding
	verdict := VerdictPass

	sanitizedContexts := make([]ThreadContext, len(contexts))
	for i, tc := range contexts {
		chunks := make([]RetrievalChunk, len(tc.Chunks))
		for j, c := range tc.Chunks {
			location := fmt.Sprintf("thread/%s/chunk/%s", tc.ThreadID, c.ID)
			sanitized, found, blocked := f.scan(c.Text, location)
			findings = append(findings, found...)
			if blocked {
				verdict = VerdictBlock
			}
			c.Text = sanitized
			chunks[j] = c
		}
		sanitizedContexts[i] = ThreadContext{ThreadID: tc.ThreadID, Chunks: chunks}
	}

	sanitizedInsights := make([]Insight, len(insights))
	for i, ins := range insights {
		location := fmt.Sprintf("insight/%d", i)
		sanitized, found, blocked := f.scan(ins.Statement, location)
		findings = append(findings, found...)
		if blocked {
			verdict = VerdictBlock
		}
		ins.Statement = sanitized
		sanitizedInsights[i] = ins
	}

	return sanitizedContexts, sanitizedInsights, findings, verdict
}

// scan applies every pattern to text, collecting findings and returning
// the sanitized form.
func (f *ComplianceFilter) scan(text, location string) (string, []ComplianceFinding, bool) {
	var findings []ComplianceFinding
	blocked := false

	for _, p := range compliancePatterns {
		if !p.regex.MatchString(text) {
			continue
		}

		action := p.action
		if f.blockCategories[p.category] {
			action = ActionBlock
		} else if action == ActionBlock {
			// Category not configured to block in this deployment.
			action = ActionRedact
		}
		if action == ActionRedact && !f.redact {
			action = ActionFlag
		}

		findings = append(findings, ComplianceFinding{
			Location: location,
			Category: p.category,
			Action:   action,
		})

		switch action {
		case ActionBlock:
			blocked = true
		case ActionRedact:
			marker := "[REDACTED-" + strings.ToUpper(p.category) + "]"
			text = p.regex.ReplaceAllString(text, marker)
		}
	}

	return text, findings, blocked
}
