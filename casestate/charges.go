package casestate

import (
	"fmt"
	"time"

	"github.com/linesmerrill/casecraft-api/models"
)

// NormalizeCharges fills in missing charge ids and pleas. Ids combine the creation
// time in milliseconds with the charge's position.
func NormalizeCharges(charges []models.Charge, now time.Time) []models.Charge {
	out := make([]models.Charge, len(charges))
	stamp := now.UnixMilli()
	for i, c := range charges {
		if c.ID == "" {
			c.ID = fmt.Sprintf("%d-%d", stamp, i)
		}
		if c.DefendantPlea == "" {
			c.DefendantPlea = models.DefaultDefendantPlea
		}
		out[i] = c
	}
	return out
}

// duplicateChargeID returns the first id used by more than one charge
func duplicateChargeID(charges []models.Charge) (string, bool) {
	seen := make(map[string]struct{}, len(charges))
	for _, c := range charges {
		if _, ok := seen[c.ID]; ok {
			return c.ID, true
		}
		seen[c.ID] = struct{}{}
	}
	return "", false
}

// InitialVerdict maps every charge to a pending verdict.
// TODO: keep existing verdicts for charge ids that survive a charges replacement once
// the wizard can show carried-over verdicts.
func InitialVerdict(charges []models.Charge) map[string]string {
	verdict := make(map[string]string, len(charges))
	for _, c := range charges {
		verdict[c.ID] = models.VerdictPending
	}
	return verdict
}
