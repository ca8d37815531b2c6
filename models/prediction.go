package models

import "encoding/json"

// PredictionRequest is the fixed request shape sent to the prediction service.
// Every key is always present; unknown values are sent as null.
type PredictionRequest struct {
	Country               *string  `json:"country"`
	StateProvince         *string  `json:"state_province"`
	City                  *string  `json:"city"`
	Court                 *string  `json:"court"`
	CaseType              *string  `json:"case_type"`
	Role                  *string  `json:"role"`
	CaseNumber            *string  `json:"case_number"`
	CaseTitle             *string  `json:"case_title"`
	CaseDescription       *string  `json:"case_description"`
	CaseSummary           *string  `json:"case_summary"`
	Charges               []Charge `json:"charges"`
	EvidenceSummary       *string  `json:"evidence_summary"`
	LegalPrecedentSummary *string  `json:"legal_precedent_summary"`
	KeyWitnessesSummary   *string  `json:"key_witnesses_summary"`
	PoliceReportSummary   *string  `json:"police_report_summary"`
	WeaknessesSummary     *string  `json:"weaknesses_summary"`
}

// Stream event types emitted by the prediction service and relayed to callers
const (
	EventTypeComplete = "complete"
	EventTypeError    = "error"
)

// StreamEvent is a single decoded frame. Raw holds the exact bytes received so the
// frame can be forwarded verbatim.
type StreamEvent struct {
	Type     string                 `json:"type"`
	Message  string                 `json:"message,omitempty"`
	Result   map[string]interface{} `json:"result,omitempty"`
	GamePlan map[string]interface{} `json:"game_plan,omitempty"`
	Raw      json.RawMessage        `json:"-"`
}

// Payload returns the final result carried by a complete event
func (e StreamEvent) Payload() map[string]interface{} {
	if e.Result != nil {
		return e.Result
	}
	return e.GamePlan
}
