package models

import "time"

// Case section keys stored inside Case.CaseDetails
const (
	SectionCaseInformation     = "case_information"
	SectionEvidence            = "evidence_and_supporting_materials"
	SectionLegalPrecedents     = "relevant_legal_precedents"
	SectionKeyWitnesses        = "key_witness_and_testimony"
	SectionPoliceReport        = "police_report"
	SectionChallenges          = "potential_challenges_and_weaknesses"
	CaseDetailsCompletionField = "_completion_status"
)

// VerdictPending is the verdict status every charge starts in
const VerdictPending = "pending"

// DefaultDefendantPlea is applied to charges submitted without a plea
const DefaultDefendantPlea = "not-guilty"

// Case holds the structure for the cases collection in mongo
type Case struct {
	ID           string                 `json:"id" bson:"_id"`
	OwnerID      *string                `json:"owner_id" bson:"owner_id"`
	Jurisdiction *Jurisdiction          `json:"jurisdiction" bson:"jurisdiction"`
	CaseType     *string                `json:"case_type" bson:"case_type"`
	Role         *string                `json:"role" bson:"role"`
	Charges      []Charge               `json:"charges" bson:"charges"`
	CaseDetails  map[string]interface{} `json:"case_details" bson:"case_details"`
	Judge        map[string]interface{} `json:"judge" bson:"judge"`
	Jury         map[string]interface{} `json:"jury" bson:"jury"`
	Verdict      map[string]string      `json:"verdict" bson:"verdict"`
	Result       map[string]interface{} `json:"result" bson:"result"`
	GamePlan     map[string]interface{} `json:"game_plan" bson:"game_plan"`
	Version      int64                  `json:"version" bson:"version"`
	CreatedAt    time.Time              `json:"created_at" bson:"created_at"`
	UpdatedAt    time.Time              `json:"updated_at" bson:"updated_at"`
}

// Jurisdiction is where the case is heard
type Jurisdiction struct {
	Country string `json:"country" bson:"country" validate:"max=128"`
	State   string `json:"state" bson:"state" validate:"max=128"`
	City    string `json:"city" bson:"city" validate:"max=128"`
	Court   string `json:"court" bson:"court" validate:"max=256"`
}

// Charge is a single count brought in the case
type Charge struct {
	ID                string `json:"id" bson:"id" validate:"max=64"`
	StatuteNumber     string `json:"statuteNumber" bson:"statuteNumber" validate:"max=128"`
	ChargeDescription string `json:"chargeDescription" bson:"chargeDescription" validate:"max=2000"`
	EssentialFacts    string `json:"essentialFacts" bson:"essentialFacts" validate:"max=10000"`
	DefendantPlea     string `json:"defendantPlea" bson:"defendantPlea" validate:"max=64"`
}

// IsOwnedBy reports whether the case belongs to userID
func (c Case) IsOwnedBy(userID string) bool {
	return c.OwnerID != nil && userID != "" && *c.OwnerID == userID
}

// Section returns the named case_details section, or nil when absent or not an object
func (c Case) Section(name string) map[string]interface{} {
	if c.CaseDetails == nil {
		return nil
	}
	s, _ := c.CaseDetails[name].(map[string]interface{})
	return s
}
