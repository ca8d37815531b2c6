// Package orchestrator runs an analysis or game plan for a case: it relays the
// prediction service's frames to the caller and saves the final result once the
// stream has ended cleanly.
package orchestrator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/linesmerrill/casecraft-api/casestate"
	"github.com/linesmerrill/casecraft-api/models"
	"github.com/linesmerrill/casecraft-api/prediction"
)

// DefaultPersistTimeout bounds the write of a finished run's result
const DefaultPersistTimeout = 10 * time.Second

// State is where a run is in its lifecycle
type State int

// Run states. Everything after StateStreaming is terminal.
const (
	StateIdle State = iota
	StateRequested
	StateStreaming
	StatePersisted
	StateCompletedWithoutResult
	StatePersistFailed
	StateErrored
	StateAborted
)

var stateNames = map[State]string{
	StateIdle:                   "idle",
	StateRequested:              "requested",
	StateStreaming:              "streaming",
	StatePersisted:              "persisted",
	StateCompletedWithoutResult: "completed_without_result",
	StatePersistFailed:          "persist_failed",
	StateErrored:                "errored",
	StateAborted:                "aborted",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether the run has finished
func (s State) Terminal() bool {
	return s > StateStreaming
}

// ErrNoResult is the outcome of a stream that closed without a complete frame
var ErrNoResult = errors.New("prediction ended without a result")

var (
	runsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "casecraft_orchestrator_runs_total",
		Help: "Analysis and game plan runs by terminal state",
	}, []string{"kind", "state"})

	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "casecraft_orchestrator_run_duration_seconds",
		Help:    "Wall time of analysis and game plan runs",
		Buckets: prometheus.ExponentialBuckets(0.5, 2, 10),
	}, []string{"kind"})
)

// EventSink receives relayed frames in order. A Send error means the caller is gone.
type EventSink interface {
	Send(frame json.RawMessage) error
}

// CaseStore is the part of the case engine a run needs
type CaseStore interface {
	Get(ctx context.Context, caseID string) (*models.Case, error)
	Update(ctx context.Context, caseID string, patch casestate.Patch) (*models.Case, error)
}

// Outcome is how a run ended
type Outcome struct {
	State  State
	Frames int
	Err    error
}

// Orchestrator runs analyses and game plans
type Orchestrator struct {
	Cases          CaseStore
	Predictor      prediction.Streamer
	PersistTimeout time.Duration
}

// New creates an Orchestrator
func New(cases CaseStore, predictor prediction.Streamer) *Orchestrator {
	return &Orchestrator{
		Cases:          cases,
		Predictor:      predictor,
		PersistTimeout: DefaultPersistTimeout,
	}
}

// run is the state of one invocation
type run struct {
	o      *Orchestrator
	caseID string
	kind   prediction.Kind
	sink   EventSink
	state  State
	frames int
	result map[string]interface{}
}

// Run executes one run for caseID and blocks until it reaches a terminal state.
// The caller always receives a terminal frame unless it disconnected.
func (o *Orchestrator) Run(ctx context.Context, caseID string, kind prediction.Kind, sink EventSink) Outcome {
	started := time.Now()
	r := &run{o: o, caseID: caseID, kind: kind, sink: sink, state: StateIdle}
	err := r.execute(ctx)

	runsTotal.WithLabelValues(string(kind), r.state.String()).Inc()
	runDuration.WithLabelValues(string(kind)).Observe(time.Since(started).Seconds())
	zap.S().Infow("prediction run finished",
		"caseID", caseID,
		"kind", kind,
		"state", r.state.String(),
		"frames", r.frames,
		"duration", time.Since(started),
		"error", err)

	return Outcome{State: r.state, Frames: r.frames, Err: err}
}

func (r *run) execute(ctx context.Context) error {
	r.state = StateRequested
	cs, err := r.o.Cases.Get(ctx, r.caseID)
	if err != nil {
		return r.fail(ctx, err, "case could not be loaded")
	}

	stream, err := r.o.Predictor.Open(ctx, r.kind, prediction.BuildRequest(*cs))
	if err != nil {
		return r.fail(ctx, err, "prediction service is unavailable, please try again")
	}
	defer stream.Close()

	r.state = StateStreaming
	for {
		ev, err := stream.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return r.fail(ctx, err, "prediction stream was interrupted")
		}

		if err := r.sink.Send(ev.Raw); err != nil {
			r.state = StateAborted
			return fmt.Errorf("caller went away: %w", err)
		}
		r.frames++

		switch ev.Type {
		case models.EventTypeComplete:
			if payload := ev.Payload(); payload != nil {
				r.result = payload
			}
		case models.EventTypeError:
			// after a complete frame, errors are trailing notices and the result still stands
			if r.result == nil {
				r.state = StateErrored
				return fmt.Errorf("prediction service reported: %s", ev.Message)
			}
			zap.S().Warnw("prediction service reported an error after its result",
				"caseID", r.caseID,
				"kind", r.kind,
				"message", ev.Message)
		}
	}

	if ctx.Err() != nil {
		r.state = StateAborted
		return ctx.Err()
	}
	if r.result == nil {
		r.state = StateCompletedWithoutResult
		r.sendError(ErrNoResult.Error())
		return ErrNoResult
	}
	return r.persist(ctx)
}

// persist saves the captured result. The caller may already have gone, but the
// stream ended cleanly so the write is detached from its cancellation.
func (r *run) persist(ctx context.Context) error {
	field := casestate.FieldResult
	if r.kind == prediction.KindGamePlan {
		field = casestate.FieldGamePlan
	}

	timeout := r.o.PersistTimeout
	if timeout <= 0 {
		timeout = DefaultPersistTimeout
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if _, err := r.o.Cases.Update(wctx, r.caseID, casestate.Patch{Field: field, Value: r.result}); err != nil {
		r.state = StatePersistFailed
		zap.S().Errorw("failed to save prediction result",
			"caseID", r.caseID,
			"field", field,
			"error", err)
		return fmt.Errorf("failed to save %s: %w", field, err)
	}
	r.state = StatePersisted
	return nil
}

// fail ends the run in StateErrored with a terminal error frame, or in StateAborted
// when the caller's context is already done
func (r *run) fail(ctx context.Context, err error, message string) error {
	if ctx.Err() != nil {
		r.state = StateAborted
		return ctx.Err()
	}
	r.state = StateErrored
	r.sendError(message)
	return err
}

func (r *run) sendError(message string) {
	frame, err := ErrorFrame(message)
	if err != nil {
		return
	}
	if err := r.sink.Send(frame); err == nil {
		r.frames++
	}
}

// ErrorFrame encodes a terminal error frame
func ErrorFrame(message string) (json.RawMessage, error) {
	return json.Marshal(models.StreamEvent{Type: models.EventTypeError, Message: message})
}
