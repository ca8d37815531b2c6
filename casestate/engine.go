// Package casestate reads and writes case records. It owns the case_details merge,
// the charge/verdict coupling and the one-way ownership claim.
package casestate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.uber.org/zap"

	"github.com/linesmerrill/casecraft-api/databases"
	"github.com/linesmerrill/casecraft-api/identity"
	"github.com/linesmerrill/casecraft-api/models"
)

// Case kinds accepted by Create
const (
	KindQuick    = "quick"
	KindDetailed = "detailed"
)

// trackedDetailSections is how many wizard sections the case_details completion is scored over
const trackedDetailSections = 6

const maxMergeAttempts = 3

// Fields the generic update may write
const (
	FieldCaseDetails  = "case_details"
	FieldJudge        = "judge"
	FieldJury         = "jury"
	FieldVerdict      = "verdict"
	FieldResult       = "result"
	FieldGamePlan     = "game_plan"
	FieldJurisdiction = "jurisdiction"
	FieldCaseType     = "case_type"
	FieldRole         = "role"
	FieldCharges      = "charges"
)

var validate = validator.New()

// CreateRequest is the input to Create
type CreateRequest struct {
	Kind            string `json:"kind" validate:"required,oneof=quick detailed"`
	CaseName        string `json:"caseName" validate:"required_if=Kind detailed,max=512"`
	CaseDescription string `json:"caseDescription" validate:"required_if=Kind detailed,max=20000"`
}

// Patch is a partial update. Any subset of the fields may be set.
type Patch struct {
	Field        string               `json:"field,omitempty" validate:"omitempty,oneof=case_details judge jury verdict result game_plan jurisdiction case_type role charges"`
	Value        interface{}          `json:"value,omitempty"`
	CaseType     *string              `json:"case_type,omitempty" validate:"omitempty,max=64"`
	Role         *string              `json:"role,omitempty" validate:"omitempty,max=64"`
	Jurisdiction *models.Jurisdiction `json:"jurisdiction,omitempty"`
	Charges      []models.Charge      `json:"charges,omitempty" validate:"omitempty,dive"`
}

func (p Patch) empty() bool {
	return p.Field == "" && p.CaseType == nil && p.Role == nil && p.Jurisdiction == nil && p.Charges == nil
}

// QuotaGate meters case creation. Check runs before the insert, Record after it succeeds.
type QuotaGate interface {
	CheckCaseCreation(ctx context.Context, who identity.Identity) error
	RecordCaseCreation(ctx context.Context, who identity.Identity) error
}

// Engine is the single point of truth for case reads and partial writes
type Engine struct {
	DB    databases.CaseDatabase
	Quota QuotaGate
	Now   func() time.Time
	NewID func() string
}

// NewEngine creates an Engine backed by db and metered by quota
func NewEngine(db databases.CaseDatabase, quota QuotaGate) *Engine {
	return &Engine{
		DB:    db,
		Quota: quota,
		Now:   time.Now,
		NewID: uuid.NewString,
	}
}

// Create inserts a new case for who. Quick cases start empty; detailed cases start
// with their basic information filled in.
func (e *Engine) Create(ctx context.Context, who identity.Identity, req CreateRequest) (*models.Case, error) {
	if err := validate.Struct(req); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	if e.Quota != nil {
		if err := e.Quota.CheckCaseCreation(ctx, who); err != nil {
			return nil, err
		}
	}

	now := e.Now().UTC()
	cs := models.Case{
		ID:        e.NewID(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if who.Authenticated() {
		owner := who.UserID
		cs.OwnerID = &owner
	}
	if req.Kind == KindDetailed {
		cs.CaseDetails = map[string]interface{}{
			models.SectionCaseInformation: map[string]interface{}{
				"caseName":        req.CaseName,
				"caseDescription": req.CaseDescription,
			},
			models.CaseDetailsCompletionField: math.Round(100.0 / trackedDetailSections),
		}
	}

	if _, err := e.DB.InsertOne(ctx, cs); err != nil {
		return nil, fmt.Errorf("failed to insert case: %w", err)
	}

	if e.Quota != nil {
		if err := e.Quota.RecordCaseCreation(ctx, who); err != nil {
			zap.S().Errorw("failed to record case creation usage",
				"caseID", cs.ID,
				"userID", who.UserID,
				"error", err)
		}
	}
	return &cs, nil
}

// Get returns a case without any access check
func (e *Engine) Get(ctx context.Context, caseID string) (*models.Case, error) {
	cs, err := e.DB.FindByID(ctx, caseID)
	if errors.Is(err, databases.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return cs, nil
}

// Authorize returns the case when who may read and write it. Unowned cases are open
// to everyone; owned cases only to their owner. Anonymous callers cannot tell a missing
// case from someone else's.
func (e *Engine) Authorize(ctx context.Context, caseID string, who identity.Identity) (*models.Case, error) {
	cs, err := e.Get(ctx, caseID)
	if errors.Is(err, ErrNotFound) && !who.Authenticated() {
		return nil, ErrUnauthorized
	}
	if err != nil {
		return nil, err
	}
	if cs.OwnerID == nil || cs.IsOwnedBy(who.UserID) {
		return cs, nil
	}
	return nil, ErrUnauthorized
}

// ListOwned returns the caller's cases, newest first
func (e *Engine) ListOwned(ctx context.Context, who identity.Identity) ([]models.Case, error) {
	if !who.Authenticated() {
		return nil, ErrUnauthenticated
	}
	cases, err := e.DB.FindByOwner(ctx, who.UserID)
	if err != nil {
		return nil, err
	}
	if cases == nil {
		cases = []models.Case{}
	}
	return cases, nil
}

// Delete removes the case when who owns it. Deleting another user's case affects nothing.
func (e *Engine) Delete(ctx context.Context, who identity.Identity, caseID string) (bool, error) {
	if !who.Authenticated() {
		return false, ErrUnauthenticated
	}
	n, err := e.DB.DeleteOwned(ctx, caseID, who.UserID)
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// Update applies patch to the case and returns the updated record
func (e *Engine) Update(ctx context.Context, caseID string, patch Patch) (*models.Case, error) {
	if patch.empty() {
		return nil, fmt.Errorf("%w: no fields to update", ErrValidation)
	}
	if err := validate.Struct(patch); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	set, details, err := e.buildSet(patch)
	if err != nil {
		return nil, err
	}

	if details == nil {
		cs, err := e.DB.UpdateFields(ctx, caseID, set)
		if errors.Is(err, databases.ErrNotFound) {
			return nil, ErrNotFound
		}
		return cs, err
	}
	return e.mergeDetails(ctx, caseID, details, set)
}

// mergeDetails reads the current case_details, merges incoming into it and writes the
// result guarded by the version it read, retrying when another writer got in first
func (e *Engine) mergeDetails(ctx context.Context, caseID string, incoming map[string]interface{}, set bson.M) (*models.Case, error) {
	for attempt := 1; attempt <= maxMergeAttempts; attempt++ {
		current, err := e.Get(ctx, caseID)
		if err != nil {
			return nil, err
		}
		set[FieldCaseDetails] = MergeDocuments(current.CaseDetails, incoming)

		cs, err := e.DB.UpdateFieldsAtVersion(ctx, caseID, current.Version, set)
		if errors.Is(err, databases.ErrVersionConflict) {
			zap.S().Debugw("case_details merge lost a race, retrying",
				"caseID", caseID,
				"attempt", attempt)
			continue
		}
		if errors.Is(err, databases.ErrNotFound) {
			return nil, ErrNotFound
		}
		return cs, err
	}
	return nil, ErrConflict
}

// buildSet turns a patch into the fields to write. The incoming case_details object,
// when present, is returned separately because it has to be merged first.
func (e *Engine) buildSet(p Patch) (bson.M, map[string]interface{}, error) {
	set := bson.M{}
	var details map[string]interface{}
	var charges []models.Charge
	chargesSet := false

	switch p.Field {
	case "":
	case FieldCaseDetails:
		obj, ok := p.Value.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("%w: case_details must be an object", ErrValidation)
		}
		details = obj
	case FieldJudge, FieldJury, FieldResult, FieldGamePlan:
		if p.Value == nil {
			set[p.Field] = nil
			break
		}
		obj, ok := p.Value.(map[string]interface{})
		if !ok {
			return nil, nil, fmt.Errorf("%w: %s must be an object", ErrValidation, p.Field)
		}
		set[p.Field] = obj
	case FieldVerdict:
		var verdict map[string]string
		if err := convert(p.Value, &verdict); err != nil {
			return nil, nil, fmt.Errorf("%w: verdict: %v", ErrValidation, err)
		}
		set[FieldVerdict] = verdict
	case FieldJurisdiction:
		var j *models.Jurisdiction
		if err := convert(p.Value, &j); err != nil {
			return nil, nil, fmt.Errorf("%w: jurisdiction: %v", ErrValidation, err)
		}
		if j != nil {
			if err := validate.Struct(j); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
		set[FieldJurisdiction] = j
	case FieldCaseType, FieldRole:
		var s *string
		if err := convert(p.Value, &s); err != nil {
			return nil, nil, fmt.Errorf("%w: %s: %v", ErrValidation, p.Field, err)
		}
		set[p.Field] = s
	case FieldCharges:
		if err := convert(p.Value, &charges); err != nil {
			return nil, nil, fmt.Errorf("%w: charges: %v", ErrValidation, err)
		}
		for _, c := range charges {
			if err := validate.Struct(c); err != nil {
				return nil, nil, fmt.Errorf("%w: %v", ErrValidation, err)
			}
		}
		chargesSet = true
	}

	if p.CaseType != nil {
		set[FieldCaseType] = *p.CaseType
	}
	if p.Role != nil {
		set[FieldRole] = *p.Role
	}
	if p.Jurisdiction != nil {
		set[FieldJurisdiction] = p.Jurisdiction
	}
	if p.Charges != nil {
		charges = p.Charges
		chargesSet = true
	}

	if chargesSet {
		charges = NormalizeCharges(charges, e.Now())
		if id, dup := duplicateChargeID(charges); dup {
			return nil, nil, fmt.Errorf("%w: charge id %q is used more than once", ErrValidation, id)
		}
		set[FieldCharges] = charges
		set[FieldVerdict] = InitialVerdict(charges)
	}
	return set, details, nil
}

// ClaimOwnership makes who the owner of an unowned case. A case that already has an
// owner keeps it and the call is a silent no-op. The check and the write are one
// conditional update in the store.
func (e *Engine) ClaimOwnership(ctx context.Context, caseID string, who identity.Identity) (bool, error) {
	if !who.Authenticated() {
		return false, ErrUnauthenticated
	}
	claimed, err := e.DB.ClaimOwner(ctx, caseID, who.UserID)
	if err != nil {
		return false, fmt.Errorf("failed to claim case: %w", err)
	}
	if claimed {
		zap.S().Infow("case claimed",
			"caseID", caseID,
			"userID", who.UserID)
	}
	return claimed, nil
}

// CheckOwnership reports whether who owns the case
func (e *Engine) CheckOwnership(ctx context.Context, caseID string, who identity.Identity) (bool, error) {
	if !who.Authenticated() {
		return false, ErrUnauthenticated
	}
	cs, err := e.Get(ctx, caseID)
	if err != nil {
		return false, err
	}
	return cs.IsOwnedBy(who.UserID), nil
}

// convert re-decodes a loosely-typed JSON value into target
func convert(value interface{}, target interface{}) error {
	b, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, target)
}
