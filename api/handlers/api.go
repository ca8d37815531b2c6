package handlers

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/linesmerrill/casecraft-api/api"
	"github.com/linesmerrill/casecraft-api/casestate"
	"github.com/linesmerrill/casecraft-api/config"
	"github.com/linesmerrill/casecraft-api/databases"
	"github.com/linesmerrill/casecraft-api/databases/memory"
	"github.com/linesmerrill/casecraft-api/ledger"
	"github.com/linesmerrill/casecraft-api/orchestrator"
	"github.com/linesmerrill/casecraft-api/prediction"
)

// MemoryURI selects the in-process store instead of mongo
const MemoryURI = "memory://"

// requestTimeout bounds every non-streaming request
const requestTimeout = 30 * time.Second

// App stores the router and the wired services, so they can be reused
type App struct {
	Router       *mux.Router
	Config       config.Config
	Engine       *casestate.Engine
	Ledger       *ledger.Ledger
	Orchestrator *orchestrator.Orchestrator
	Auth         *api.Authenticator
	Locks        databases.SchedulerLockDatabase
	client       databases.ClientHelper
}

// New creates a new mux router and all the routes
func (a *App) New() *mux.Router {
	if a.Auth == nil {
		a.Auth = api.NewAuthenticator(a.Config.JWTSecret)
	}

	c := Case{Engine: a.Engine}
	an := Analysis{Engine: a.Engine, Ledger: a.Ledger, Orchestrator: a.Orchestrator}
	u := Usage{Ledger: a.Ledger}
	d := Documents{
		Engine:       a.Engine,
		CloudName:    a.Config.CloudinaryCloudName,
		APIKey:       a.Config.CloudinaryAPIKey,
		APISecret:    a.Config.CloudinaryAPISecret,
		UploadPreset: a.Config.CloudinaryUploadPreset,
	}
	timeout := api.TimeoutMiddleware(requestTimeout)

	r := mux.NewRouter()
	r.Use(api.MetricsMiddleware)

	// healthchex
	r.HandleFunc("/health", healthCheckHandler).Methods("GET")
	r.Handle("/metrics", promhttp.Handler()).Methods("GET")

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.Use(a.Auth.Middleware)

	apiV1.Handle("/cases", timeout(http.HandlerFunc(c.CreateCaseHandler))).Methods("POST")
	apiV1.Handle("/cases", timeout(http.HandlerFunc(c.ListCasesHandler))).Methods("GET")
	apiV1.Handle("/cases/{case_id}", timeout(http.HandlerFunc(c.CaseByIDHandler))).Methods("GET")
	apiV1.Handle("/cases/{case_id}", timeout(http.HandlerFunc(c.UpdateCaseHandler))).Methods("PATCH")
	apiV1.Handle("/cases/{case_id}", timeout(http.HandlerFunc(c.DeleteCaseHandler))).Methods("DELETE")
	apiV1.Handle("/cases/{case_id}/claim", timeout(http.HandlerFunc(c.ClaimCaseHandler))).Methods("POST")
	apiV1.Handle("/cases/{case_id}/ownership", timeout(http.HandlerFunc(c.CaseOwnershipHandler))).Methods("GET")
	apiV1.Handle("/cases/{case_id}/completion", timeout(http.HandlerFunc(c.CaseCompletionHandler))).Methods("GET")
	apiV1.Handle("/cases/{case_id}/documents/signature", timeout(http.HandlerFunc(d.SignatureHandler))).Methods("POST")

	// event streams run as long as the prediction service keeps sending
	apiV1.Handle("/cases/{case_id}/analyze", http.HandlerFunc(an.AnalyzeHandler)).Methods("POST")
	apiV1.Handle("/cases/{case_id}/game-plan", http.HandlerFunc(an.GamePlanHandler)).Methods("POST")

	apiV1.Handle("/usage", timeout(http.HandlerFunc(u.UsageHandler))).Methods("GET")

	return r
}

// Initialize is invoked by main to connect with the database, wire the services and
// create a router
func (a *App) Initialize(ctx context.Context) error {
	var (
		cases     databases.CaseDatabase
		userUsage databases.UserUsageDatabase
		anonUsage databases.AnonymousUsageDatabase
	)

	if strings.HasPrefix(a.Config.URL, MemoryURI) {
		store := memory.New()
		cases, userUsage, anonUsage = store.Cases(), store.UserUsage(), store.AnonymousUsage()
		a.Locks = store.SchedulerLocks()
		zap.S().Warnw("using the in-process store, data is lost on restart")
	} else {
		client, err := databases.NewClient(ctx, &a.Config)
		if err != nil {
			// if we fail to connect to the database, then kill the pod
			zap.S().Errorw("failed to connect to database", "error", err)
			return err
		}
		a.client = client
		db := databases.NewDatabase(&a.Config, client)
		cases = databases.NewCaseDatabase(db)
		userUsage = databases.NewUserUsageDatabase(db)
		anonUsage = databases.NewAnonymousUsageDatabase(db)
		a.Locks = databases.NewSchedulerLockDatabase(db)
		zap.S().Info("casecraft-api has connected to the database")

		if err := ensureIndexes(ctx, cases, userUsage, anonUsage); err != nil {
			zap.S().Warnw("failed to create indexes", "error", err)
		}
	}

	a.Ledger = ledger.New(userUsage, anonUsage, ledger.LimitsFromConfig(&a.Config))
	a.Engine = casestate.NewEngine(cases, a.Ledger)
	a.Orchestrator = orchestrator.New(a.Engine, prediction.NewClient(&a.Config))

	// initialize api router
	a.initializeRoutes()
	return nil
}

// Close disconnects from the database
func (a *App) Close(ctx context.Context) error {
	if a.client == nil {
		return nil
	}
	return a.client.Disconnect(ctx)
}

func (a *App) initializeRoutes() {
	a.Router = a.New()
}

type indexer interface {
	EnsureIndexes(ctx context.Context) error
}

func ensureIndexes(ctx context.Context, dbs ...indexer) error {
	for _, db := range dbs {
		if err := db.EnsureIndexes(ctx); err != nil {
			return fmt.Errorf("ensure indexes: %w", err)
		}
	}
	return nil
}
