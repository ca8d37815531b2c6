// Package ledger meters case creation, analyses and game plans per identity per UTC day.
//
// Rows are keyed by (user, date) or (hashed ip, date); a new date simply starts a new
// row, so limits reset at midnight UTC without any job touching the counters.
//
// The check and the increment are separate storage calls. Two requests from the same
// identity racing each other can both pass the check and overshoot the limit by one.
package ledger

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/crypto/blake2b"

	"github.com/linesmerrill/casecraft-api/config"
	"github.com/linesmerrill/casecraft-api/databases"
	"github.com/linesmerrill/casecraft-api/identity"
	"github.com/linesmerrill/casecraft-api/models"
)

// DateLayout is the format of the date key on usage rows
const DateLayout = "2006-01-02"

// Action is a metered action. Its value is the counter field on the user usage row.
type Action string

// Metered actions
const (
	ActionCreateCase Action = "cases_created"
	ActionAnalyze    Action = "analyses_used"
	ActionGamePlan   Action = "game_plans_used"
)

// ErrQuotaExceeded is matched by every QuotaError
var ErrQuotaExceeded = errors.New("daily limit reached")

var quotaDenials = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "casecraft_quota_denials_total",
	Help: "Requests refused because a daily limit was reached",
}, []string{"action", "scope"})

// QuotaError reports a refused action together with when the limit resets
type QuotaError struct {
	Action    Action
	Limit     int
	Anonymous bool
	ResetAt   time.Time
	now       time.Time
}

func (e *QuotaError) Error() string {
	wait := e.ResetAt.Sub(e.now).Round(time.Minute)
	if e.Anonymous {
		return fmt.Sprintf("you have reached the limit of %d free %s per day; sign in for more or try again after midnight UTC (in %s)",
			e.Limit, e.Action.noun(), wait)
	}
	return fmt.Sprintf("daily limit of %d %s reached; resets at midnight UTC (in %s)", e.Limit, e.Action.noun(), wait)
}

// Unwrap lets errors.Is match ErrQuotaExceeded
func (e *QuotaError) Unwrap() error { return ErrQuotaExceeded }

func (a Action) noun() string {
	switch a {
	case ActionCreateCase:
		return "cases"
	case ActionAnalyze:
		return "analyses"
	case ActionGamePlan:
		return "game plans"
	}
	return string(a)
}

// Limits are the daily allowances
type Limits struct {
	AnonymousCases    int
	AnonymousAnalyses int
	Cases             int
	Analyses          int
	GamePlans         int
}

// LimitsFromConfig reads the daily allowances from conf
func LimitsFromConfig(conf *config.Config) Limits {
	return Limits{
		AnonymousCases:    conf.AnonymousDailyLimit,
		AnonymousAnalyses: conf.AnonymousAnalyses,
		Cases:             conf.UserCasesLimit,
		Analyses:          conf.UserAnalysesLimit,
		GamePlans:         conf.UserGamePlansLimit,
	}
}

func (l Limits) forAction(a Action) int {
	switch a {
	case ActionCreateCase:
		return l.Cases
	case ActionAnalyze:
		return l.Analyses
	case ActionGamePlan:
		return l.GamePlans
	}
	return 0
}

// Ledger reads and increments the usage counters
type Ledger struct {
	Users     databases.UserUsageDatabase
	Anonymous databases.AnonymousUsageDatabase
	Limits    Limits
	Now       func() time.Time
}

// New creates a Ledger over the given usage stores
func New(users databases.UserUsageDatabase, anonymous databases.AnonymousUsageDatabase, limits Limits) *Ledger {
	return &Ledger{
		Users:     users,
		Anonymous: anonymous,
		Limits:    limits,
		Now:       time.Now,
	}
}

// HashIP returns the hex blake2b-256 digest of ip. Raw addresses are never stored.
func HashIP(ip string) string {
	sum := blake2b.Sum256([]byte(ip))
	return hex.EncodeToString(sum[:])
}

func (l *Ledger) now() time.Time { return l.Now().UTC() }

func (l *Ledger) today() string { return l.now().Format(DateLayout) }

func (l *Ledger) nextReset() time.Time {
	y, m, d := l.now().Date()
	return time.Date(y, m, d+1, 0, 0, 0, 0, time.UTC)
}

func (l *Ledger) quotaError(action Action, limit int, anonymous bool) *QuotaError {
	scope := "user"
	if anonymous {
		scope = "anonymous"
	}
	quotaDenials.WithLabelValues(string(action), scope).Inc()
	return &QuotaError{
		Action:    action,
		Limit:     limit,
		Anonymous: anonymous,
		ResetAt:   l.nextReset(),
		now:       l.now(),
	}
}

func (l *Ledger) anonymousUsage(ctx context.Context, ip string) (*models.AnonymousUsage, error) {
	row, err := l.Anonymous.FindOne(ctx, HashIP(ip), l.today())
	if errors.Is(err, databases.ErrNotFound) {
		return &models.AnonymousUsage{Date: l.today()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read anonymous usage: %w", err)
	}
	return row, nil
}

func (l *Ledger) userUsage(ctx context.Context, userID string) (*models.UserUsage, error) {
	row, err := l.Users.FindOne(ctx, userID, l.today())
	if errors.Is(err, databases.ErrNotFound) {
		return &models.UserUsage{UserID: userID, Date: l.today()}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read user usage: %w", err)
	}
	return row, nil
}

// CheckAnonymousLimit reports whether ip may still create a case today
func (l *Ledger) CheckAnonymousLimit(ctx context.Context, ip string) (bool, error) {
	row, err := l.anonymousUsage(ctx, ip)
	if err != nil {
		return false, err
	}
	return row.Count < l.Limits.AnonymousCases, nil
}

// IncrementAnonymousCount records one case created from ip today
func (l *Ledger) IncrementAnonymousCount(ctx context.Context, ip string) error {
	if err := l.Anonymous.Increment(ctx, HashIP(ip), l.today()); err != nil {
		return fmt.Errorf("failed to increment anonymous usage: %w", err)
	}
	return nil
}

// CheckAndConsumeAnonymousAnalysis meters an analysis run by a signed-out caller
// against ip. A refusal returns false with a *QuotaError.
func (l *Ledger) CheckAndConsumeAnonymousAnalysis(ctx context.Context, ip string) (bool, error) {
	row, err := l.anonymousUsage(ctx, ip)
	if err != nil {
		return false, err
	}
	if row.AnalysesUsed >= l.Limits.AnonymousAnalyses {
		return false, l.quotaError(ActionAnalyze, l.Limits.AnonymousAnalyses, true)
	}
	if err := l.Anonymous.IncrementAnalyses(ctx, HashIP(ip), l.today()); err != nil {
		return false, fmt.Errorf("failed to increment anonymous analyses: %w", err)
	}
	return true, nil
}

// Check returns a QuotaError when userID has used up today's allowance for action
func (l *Ledger) Check(ctx context.Context, userID string, action Action) error {
	row, err := l.userUsage(ctx, userID)
	if err != nil {
		return err
	}
	limit := l.Limits.forAction(action)
	if used(row, action) >= limit {
		return l.quotaError(action, limit, false)
	}
	return nil
}

// Consume adds one use of action to userID's row for today
func (l *Ledger) Consume(ctx context.Context, userID string, action Action) error {
	if err := l.Users.Increment(ctx, userID, l.today(), string(action)); err != nil {
		return fmt.Errorf("failed to increment %s: %w", action, err)
	}
	return nil
}

// CheckAndConsume checks the allowance and, when there is room, uses one unit of it.
// A refusal returns false with a *QuotaError.
func (l *Ledger) CheckAndConsume(ctx context.Context, userID string, action Action) (bool, error) {
	if err := l.Check(ctx, userID, action); err != nil {
		return false, err
	}
	if err := l.Consume(ctx, userID, action); err != nil {
		return false, err
	}
	return true, nil
}

// GetUsage returns what who has left today. Anonymous callers cannot run game plans,
// so their game plan figures are zero.
func (l *Ledger) GetUsage(ctx context.Context, who identity.Identity) (*models.UsageResponse, error) {
	if !who.Authenticated() {
		row, err := l.anonymousUsage(ctx, who.IP)
		if err != nil {
			return nil, err
		}
		return &models.UsageResponse{
			CasesRemaining:    remaining(l.Limits.AnonymousCases, row.Count),
			AnalysesRemaining: remaining(l.Limits.AnonymousAnalyses, row.AnalysesUsed),
			CasesLimit:        l.Limits.AnonymousCases,
			AnalysesLimit:     l.Limits.AnonymousAnalyses,
			Anonymous:         true,
		}, nil
	}

	row, err := l.userUsage(ctx, who.UserID)
	if err != nil {
		return nil, err
	}
	return &models.UsageResponse{
		CasesRemaining:     remaining(l.Limits.Cases, row.CasesCreated),
		AnalysesRemaining:  remaining(l.Limits.Analyses, row.AnalysesUsed),
		GamePlansRemaining: remaining(l.Limits.GamePlans, row.GamePlansUsed),
		CasesLimit:         l.Limits.Cases,
		AnalysesLimit:      l.Limits.Analyses,
		GamePlansLimit:     l.Limits.GamePlans,
	}, nil
}

// CheckCaseCreation refuses a case creation when who is out of allowance
func (l *Ledger) CheckCaseCreation(ctx context.Context, who identity.Identity) error {
	if who.Authenticated() {
		return l.Check(ctx, who.UserID, ActionCreateCase)
	}
	ok, err := l.CheckAnonymousLimit(ctx, who.IP)
	if err != nil {
		return err
	}
	if !ok {
		return l.quotaError(ActionCreateCase, l.Limits.AnonymousCases, true)
	}
	return nil
}

// RecordCaseCreation counts a created case against who
func (l *Ledger) RecordCaseCreation(ctx context.Context, who identity.Identity) error {
	if who.Authenticated() {
		return l.Consume(ctx, who.UserID, ActionCreateCase)
	}
	return l.IncrementAnonymousCount(ctx, who.IP)
}

// Purge deletes usage rows dated more than retentionDays before today
func (l *Ledger) Purge(ctx context.Context, retentionDays int) (int64, error) {
	cutoff := l.now().AddDate(0, 0, -retentionDays).Format(DateLayout)

	users, err := l.Users.DeleteBefore(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to purge user usage: %w", err)
	}
	anon, err := l.Anonymous.DeleteBefore(ctx, cutoff)
	if err != nil {
		return users, fmt.Errorf("failed to purge anonymous usage: %w", err)
	}
	zap.S().Infow("purged usage rows",
		"before", cutoff,
		"userRows", users,
		"anonymousRows", anon)
	return users + anon, nil
}

func used(row *models.UserUsage, action Action) int {
	switch action {
	case ActionCreateCase:
		return row.CasesCreated
	case ActionAnalyze:
		return row.AnalysesUsed
	case ActionGamePlan:
		return row.GamePlansUsed
	}
	return 0
}

func remaining(limit, used int) int {
	if used >= limit {
		return 0
	}
	return limit - used
}
