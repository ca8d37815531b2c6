package casestate

import (
	"math"
	"strings"

	"github.com/linesmerrill/casecraft-api/models"
)

// Wizard sections tracked for completion, in step order
const (
	SectionJurisdiction = iota
	SectionCaseType
	SectionRole
	SectionCharges
	SectionCaseDetails
	SectionResult
	SectionGamePlan
	SectionVerdict
	sectionCount
)

var sectionNames = [sectionCount]string{
	"jurisdiction", "case_type", "role", "charges", "case_details", "result", "game_plan", "verdict",
}

// Completion is the derived per-section readiness of a case
type Completion struct {
	Sections           [sectionCount]bool `json:"-"`
	CaseDetailsPercent *float64           `json:"caseDetailsPercent"`
}

// ComputeCompletion derives section completion from a case record. It has no side effects.
func ComputeCompletion(c models.Case) Completion {
	var out Completion

	if j := c.Jurisdiction; j != nil {
		out.Sections[SectionJurisdiction] = strings.TrimSpace(j.Country) != "" &&
			strings.TrimSpace(j.State) != "" &&
			strings.TrimSpace(j.Court) != ""
	}
	out.Sections[SectionCaseType] = c.CaseType != nil && *c.CaseType != ""
	out.Sections[SectionRole] = c.Role != nil && *c.Role != ""
	out.Sections[SectionCharges] = len(c.Charges) > 0

	if raw, ok := c.CaseDetails[models.CaseDetailsCompletionField]; ok && raw != nil {
		out.Sections[SectionCaseDetails] = true
		if pct, ok := toFloat(raw); ok {
			out.CaseDetailsPercent = &pct
		}
	}

	out.Sections[SectionResult] = c.Result != nil
	out.Sections[SectionGamePlan] = c.GamePlan != nil
	out.Sections[SectionVerdict] = len(c.Verdict) > 0
	return out
}

// Complete reports whether section i is complete
func (c Completion) Complete(i int) bool {
	if i < 0 || i >= sectionCount {
		return false
	}
	return c.Sections[i]
}

// Percent is the rounded share of complete sections
func (c Completion) Percent() int {
	done := 0
	for _, ok := range c.Sections {
		if ok {
			done++
		}
	}
	return int(math.Round(float64(done) * 100 / sectionCount))
}

// Map returns section completion keyed by section name
func (c Completion) Map() map[string]bool {
	m := make(map[string]bool, sectionCount)
	for i, name := range sectionNames {
		m[name] = c.Sections[i]
	}
	return m
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}
