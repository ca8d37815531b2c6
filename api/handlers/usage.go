package handlers

import (
	"net/http"

	"github.com/linesmerrill/casecraft-api/api"
	"github.com/linesmerrill/casecraft-api/identity"
	"github.com/linesmerrill/casecraft-api/ledger"
)

// Usage exported for testing purposes
type Usage struct {
	Ledger *ledger.Ledger
}

// UsageHandler returns what the caller has left today
func (u Usage) UsageHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	usage, err := u.Ledger.GetUsage(ctx, identity.FromContext(ctx))
	if err != nil {
		writeError(w, "failed to get usage", err)
		return
	}
	writeJSON(w, http.StatusOK, usage)
}
