package handlers

import (
	"net/http"

	"github.com/gorilla/mux"

	"github.com/linesmerrill/casecraft-api/api"
	"github.com/linesmerrill/casecraft-api/casestate"
	"github.com/linesmerrill/casecraft-api/identity"
)

// Case exported for testing purposes
type Case struct {
	Engine *casestate.Engine
}

type createCaseResponse struct {
	ID string `json:"id"`
}

type claimResponse struct {
	Claimed bool `json:"claimed"`
}

type ownershipResponse struct {
	IsOwner bool `json:"isOwner"`
}

type completionResponse struct {
	Sections           map[string]bool `json:"sections"`
	Percent            int             `json:"percent"`
	CaseDetailsPercent *float64        `json:"caseDetailsPercent"`
}

// CreateCaseHandler creates a quick or detailed case for the caller
func (c Case) CreateCaseHandler(w http.ResponseWriter, r *http.Request) {
	var req casestate.CreateRequest
	if !decodeBody(w, r, &req) {
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	cs, err := c.Engine.Create(ctx, identity.FromContext(ctx), req)
	if err != nil {
		writeError(w, "failed to create case", err)
		return
	}
	writeJSON(w, http.StatusCreated, createCaseResponse{ID: cs.ID})
}

// ListCasesHandler returns the caller's cases, newest first
func (c Case) ListCasesHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	cases, err := c.Engine.ListOwned(ctx, identity.FromContext(ctx))
	if err != nil {
		writeError(w, "failed to list cases", err)
		return
	}
	writeJSON(w, http.StatusOK, cases)
}

// CaseByIDHandler returns a case the caller may access
func (c Case) CaseByIDHandler(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["case_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	cs, err := c.Engine.Authorize(ctx, caseID, identity.FromContext(ctx))
	if err != nil {
		writeError(w, "failed to get case", err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// UpdateCaseHandler applies a partial update and returns the updated case
func (c Case) UpdateCaseHandler(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["case_id"]

	var patch casestate.Patch
	if !decodeBody(w, r, &patch) {
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := c.Engine.Authorize(ctx, caseID, identity.FromContext(ctx)); err != nil {
		writeError(w, "failed to update case", err)
		return
	}
	cs, err := c.Engine.Update(ctx, caseID, patch)
	if err != nil {
		writeError(w, "failed to update case", err)
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// DeleteCaseHandler deletes one of the caller's cases
func (c Case) DeleteCaseHandler(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["case_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	deleted, err := c.Engine.Delete(ctx, identity.FromContext(ctx), caseID)
	if err != nil {
		writeError(w, "failed to delete case", err)
		return
	}
	if !deleted {
		writeError(w, "failed to delete case", casestate.ErrNotFound)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// ClaimCaseHandler makes the signed-in caller the owner of an unowned case. Claiming a
// case someone already owns succeeds without changing anything.
func (c Case) ClaimCaseHandler(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["case_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	claimed, err := c.Engine.ClaimOwnership(ctx, caseID, identity.FromContext(ctx))
	if err != nil {
		writeError(w, "failed to claim case", err)
		return
	}
	writeJSON(w, http.StatusOK, claimResponse{Claimed: claimed})
}

// CaseOwnershipHandler reports whether the caller owns the case
func (c Case) CaseOwnershipHandler(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["case_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	isOwner, err := c.Engine.CheckOwnership(ctx, caseID, identity.FromContext(ctx))
	if err != nil {
		writeError(w, "failed to check ownership", err)
		return
	}
	writeJSON(w, http.StatusOK, ownershipResponse{IsOwner: isOwner})
}

// CaseCompletionHandler returns per-section wizard completion
func (c Case) CaseCompletionHandler(w http.ResponseWriter, r *http.Request) {
	caseID := mux.Vars(r)["case_id"]

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	cs, err := c.Engine.Authorize(ctx, caseID, identity.FromContext(ctx))
	if err != nil {
		writeError(w, "failed to get case", err)
		return
	}
	completion := casestate.ComputeCompletion(*cs)
	writeJSON(w, http.StatusOK, completionResponse{
		Sections:           completion.Map(),
		Percent:            completion.Percent(),
		CaseDetailsPercent: completion.CaseDetailsPercent,
	})
}
