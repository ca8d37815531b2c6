package handlers

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/linesmerrill/casecraft-api/api"
	"github.com/linesmerrill/casecraft-api/casestate"
	"github.com/linesmerrill/casecraft-api/config"
	"github.com/linesmerrill/casecraft-api/identity"
	"github.com/linesmerrill/casecraft-api/ledger"
	"github.com/linesmerrill/casecraft-api/orchestrator"
	"github.com/linesmerrill/casecraft-api/prediction"
)

// Analysis exported for testing purposes
type Analysis struct {
	Engine       *casestate.Engine
	Ledger       *ledger.Ledger
	Orchestrator *orchestrator.Orchestrator
}

// AnalyzeHandler streams an outcome prediction for the case and saves it to result
func (a Analysis) AnalyzeHandler(w http.ResponseWriter, r *http.Request) {
	a.stream(w, r, prediction.KindAnalysis)
}

// GamePlanHandler streams a game plan for the case and saves it to game_plan
func (a Analysis) GamePlanHandler(w http.ResponseWriter, r *http.Request) {
	a.stream(w, r, prediction.KindGamePlan)
}

// stream runs the access and quota checks as a normal JSON request, then switches the
// response to an event stream for the run itself
func (a Analysis) stream(w http.ResponseWriter, r *http.Request, kind prediction.Kind) {
	caseID := mux.Vars(r)["case_id"]
	who := identity.FromContext(r.Context())

	if kind == prediction.KindGamePlan && !who.Authenticated() {
		writeError(w, "sign in to generate a game plan", casestate.ErrUnauthenticated)
		return
	}

	ctx, cancel := api.WithQueryTimeout(r.Context())
	defer cancel()

	if _, err := a.Engine.Authorize(ctx, caseID, who); err != nil {
		writeError(w, "failed to get case", err)
		return
	}
	if who.Authenticated() {
		action := ledger.ActionAnalyze
		if kind == prediction.KindGamePlan {
			action = ledger.ActionGamePlan
		}
		if _, err := a.Ledger.CheckAndConsume(ctx, who.UserID, action); err != nil {
			writeError(w, "usage limit reached", err)
			return
		}
	} else if _, err := a.Ledger.CheckAndConsumeAnonymousAnalysis(ctx, who.IP); err != nil {
		writeError(w, "usage limit reached", err)
		return
	}

	sink, err := newSSEWriter(w)
	if err != nil {
		config.ErrorStatus("streaming not supported", http.StatusInternalServerError, w, err)
		return
	}

	outcome := a.Orchestrator.Run(r.Context(), caseID, kind, sink)
	if outcome.State == orchestrator.StatePersistFailed {
		zap.S().Errorw("streamed result was not saved",
			"caseID", caseID,
			"kind", kind,
			"error", outcome.Err)
	}
}
