package prediction

import (
	"strings"

	"github.com/linesmerrill/casecraft-api/models"
)

// BuildRequest projects a case onto the request shape the prediction service expects.
// Anything the case does not have yet is sent as null.
func BuildRequest(cs models.Case) models.PredictionRequest {
	info := cs.Section(models.SectionCaseInformation)
	req := models.PredictionRequest{
		CaseType:              cs.CaseType,
		Role:                  cs.Role,
		CaseNumber:            stringField(info, "caseNumber"),
		CaseTitle:             stringField(info, "caseName"),
		CaseDescription:       stringField(info, "caseDescription"),
		CaseSummary:           stringField(info, "summary"),
		Charges:               cs.Charges,
		EvidenceSummary:       stringField(cs.Section(models.SectionEvidence), "summary"),
		LegalPrecedentSummary: stringField(cs.Section(models.SectionLegalPrecedents), "summary"),
		KeyWitnessesSummary:   stringField(cs.Section(models.SectionKeyWitnesses), "summary"),
		PoliceReportSummary:   stringField(cs.Section(models.SectionPoliceReport), "summary"),
		WeaknessesSummary:     stringField(cs.Section(models.SectionChallenges), "summary"),
	}
	if j := cs.Jurisdiction; j != nil {
		req.Country = nonEmpty(j.Country)
		req.StateProvince = nonEmpty(j.State)
		req.City = nonEmpty(j.City)
		req.Court = nonEmpty(j.Court)
	}
	return req
}

func stringField(section map[string]interface{}, key string) *string {
	if section == nil {
		return nil
	}
	s, _ := section[key].(string)
	return nonEmpty(s)
}

func nonEmpty(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
