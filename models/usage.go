package models

import "time"

// UserUsage holds one user's metered consumption for a single UTC date
type UserUsage struct {
	UserID        string    `json:"user_id" bson:"user_id"`
	Date          string    `json:"date" bson:"date"`
	CasesCreated  int       `json:"cases_created" bson:"cases_created"`
	AnalysesUsed  int       `json:"analyses_used" bson:"analyses_used"`
	GamePlansUsed int       `json:"game_plans_used" bson:"game_plans_used"`
	UpdatedAt     time.Time `json:"updated_at" bson:"updated_at"`
}

// AnonymousUsage counts cases created and analyses run from one hashed IP on a
// single UTC date
type AnonymousUsage struct {
	IPHash       string    `json:"ip_hash" bson:"ip_hash"`
	Date         string    `json:"date" bson:"date"`
	Count        int       `json:"count" bson:"count"`
	AnalysesUsed int       `json:"analyses_used" bson:"analyses_used"`
	UpdatedAt    time.Time `json:"updated_at" bson:"updated_at"`
}

// UsageResponse is returned by the usage endpoint
type UsageResponse struct {
	CasesRemaining     int  `json:"casesRemaining"`
	AnalysesRemaining  int  `json:"analysesRemaining"`
	GamePlansRemaining int  `json:"gamePlansRemaining"`
	CasesLimit         int  `json:"casesLimit"`
	AnalysesLimit      int  `json:"analysesLimit"`
	GamePlansLimit     int  `json:"gamePlansLimit"`
	Anonymous          bool `json:"anonymous"`
}
