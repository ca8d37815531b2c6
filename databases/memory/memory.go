// Package memory keeps cases and usage counters in process. Documents go through the
// bson codec on every read and write so stored values look the way mongo returns them.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"

	"go.mongodb.org/mongo-driver/bson"

	"github.com/linesmerrill/casecraft-api/databases"
	"github.com/linesmerrill/casecraft-api/models"
)

// Store is an in-process replacement for the mongo-backed databases
type Store struct {
	mu        sync.Mutex
	cases     map[string][]byte
	userUsage map[string]*models.UserUsage
	anonUsage map[string]*models.AnonymousUsage
	locks     map[string]lock
	now       func() time.Time
}

type lock struct {
	holder    string
	expiresAt time.Time
}

// New creates an empty store
func New() *Store {
	return &Store{
		cases:     make(map[string][]byte),
		userUsage: make(map[string]*models.UserUsage),
		anonUsage: make(map[string]*models.AnonymousUsage),
		locks:     make(map[string]lock),
		now:       time.Now,
	}
}

// Cases returns the store as a CaseDatabase
func (s *Store) Cases() databases.CaseDatabase { return caseStore{s} }

// UserUsage returns the store as a UserUsageDatabase
func (s *Store) UserUsage() databases.UserUsageDatabase { return userUsageStore{s} }

// AnonymousUsage returns the store as an AnonymousUsageDatabase
func (s *Store) AnonymousUsage() databases.AnonymousUsageDatabase { return anonUsageStore{s} }

// SchedulerLocks returns the store as a SchedulerLockDatabase
func (s *Store) SchedulerLocks() databases.SchedulerLockDatabase { return lockStore{s} }

type caseStore struct{ s *Store }

func (c caseStore) decode(raw []byte) (*models.Case, error) {
	cs := &models.Case{}
	if err := bson.Unmarshal(raw, cs); err != nil {
		return nil, err
	}
	databases.NormalizeCase(cs)
	return cs, nil
}

func (c caseStore) FindByID(ctx context.Context, id string) (*models.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	raw, ok := c.s.cases[id]
	c.s.mu.Unlock()
	if !ok {
		return nil, databases.ErrNotFound
	}
	return c.decode(raw)
}

func (c caseStore) FindByOwner(ctx context.Context, ownerID string) ([]models.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	raws := make([][]byte, 0, len(c.s.cases))
	for _, raw := range c.s.cases {
		raws = append(raws, raw)
	}
	c.s.mu.Unlock()

	var out []models.Case
	for _, raw := range raws {
		cs, err := c.decode(raw)
		if err != nil {
			return nil, err
		}
		if cs.IsOwnedBy(ownerID) {
			out = append(out, *cs)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (c caseStore) InsertOne(ctx context.Context, cs models.Case) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	raw, err := bson.Marshal(cs)
	if err != nil {
		return "", err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()
	if _, exists := c.s.cases[cs.ID]; exists {
		return "", errors.New("duplicate key: " + cs.ID)
	}
	c.s.cases[cs.ID] = raw
	return cs.ID, nil
}

func (c caseStore) UpdateFields(ctx context.Context, id string, set bson.M) (*models.Case, error) {
	return c.update(ctx, id, nil, set)
}

func (c caseStore) UpdateFieldsAtVersion(ctx context.Context, id string, version int64, set bson.M) (*models.Case, error) {
	return c.update(ctx, id, &version, set)
}

func (c caseStore) update(ctx context.Context, id string, version *int64, set bson.M) (*models.Case, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	raw, ok := c.s.cases[id]
	if !ok {
		if version != nil {
			return nil, databases.ErrVersionConflict
		}
		return nil, databases.ErrNotFound
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return nil, err
	}
	current, _ := doc["version"].(int64)
	if version != nil && current != *version {
		return nil, databases.ErrVersionConflict
	}
	for k, v := range set {
		doc[k] = v
	}
	doc["version"] = current + 1
	doc["updated_at"] = c.s.now().UTC()

	updated, err := bson.Marshal(doc)
	if err != nil {
		return nil, err
	}
	c.s.cases[id] = updated
	return c.decode(updated)
}

func (c caseStore) ClaimOwner(ctx context.Context, id, userID string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	raw, ok := c.s.cases[id]
	if !ok {
		return false, nil
	}
	doc := bson.M{}
	if err := bson.Unmarshal(raw, &doc); err != nil {
		return false, err
	}
	if doc["owner_id"] != nil {
		return false, nil
	}
	current, _ := doc["version"].(int64)
	doc["owner_id"] = userID
	doc["version"] = current + 1
	doc["updated_at"] = c.s.now().UTC()

	updated, err := bson.Marshal(doc)
	if err != nil {
		return false, err
	}
	c.s.cases[id] = updated
	return true, nil
}

func (c caseStore) DeleteOwned(ctx context.Context, id, ownerID string) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	c.s.mu.Lock()
	defer c.s.mu.Unlock()

	raw, ok := c.s.cases[id]
	if !ok {
		return 0, nil
	}
	cs, err := c.decode(raw)
	if err != nil {
		return 0, err
	}
	if !cs.IsOwnedBy(ownerID) {
		return 0, nil
	}
	delete(c.s.cases, id)
	return 1, nil
}

func (c caseStore) EnsureIndexes(ctx context.Context) error { return nil }

type userUsageStore struct{ s *Store }

func (u userUsageStore) FindOne(ctx context.Context, userID, date string) (*models.UserUsage, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	row, ok := u.s.userUsage[userID+"|"+date]
	if !ok {
		return nil, databases.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (u userUsageStore) Increment(ctx context.Context, userID, date, field string) error {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	key := userID + "|" + date
	row, ok := u.s.userUsage[key]
	if !ok {
		row = &models.UserUsage{UserID: userID, Date: date}
		u.s.userUsage[key] = row
	}
	switch field {
	case "cases_created":
		row.CasesCreated++
	case "analyses_used":
		row.AnalysesUsed++
	case "game_plans_used":
		row.GamePlansUsed++
	default:
		return errors.New("unknown usage field: " + field)
	}
	row.UpdatedAt = u.s.now().UTC()
	return nil
}

func (u userUsageStore) DeleteBefore(ctx context.Context, date string) (int64, error) {
	u.s.mu.Lock()
	defer u.s.mu.Unlock()
	var n int64
	for k, row := range u.s.userUsage {
		if row.Date < date {
			delete(u.s.userUsage, k)
			n++
		}
	}
	return n, nil
}

func (u userUsageStore) EnsureIndexes(ctx context.Context) error { return nil }

type anonUsageStore struct{ s *Store }

func (a anonUsageStore) FindOne(ctx context.Context, ipHash, date string) (*models.AnonymousUsage, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	row, ok := a.s.anonUsage[ipHash+"|"+date]
	if !ok {
		return nil, databases.ErrNotFound
	}
	cp := *row
	return &cp, nil
}

func (a anonUsageStore) Increment(ctx context.Context, ipHash, date string) error {
	a.row(ipHash, date, func(row *models.AnonymousUsage) { row.Count++ })
	return nil
}

func (a anonUsageStore) IncrementAnalyses(ctx context.Context, ipHash, date string) error {
	a.row(ipHash, date, func(row *models.AnonymousUsage) { row.AnalysesUsed++ })
	return nil
}

func (a anonUsageStore) row(ipHash, date string, update func(*models.AnonymousUsage)) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	key := ipHash + "|" + date
	row, ok := a.s.anonUsage[key]
	if !ok {
		row = &models.AnonymousUsage{IPHash: ipHash, Date: date}
		a.s.anonUsage[key] = row
	}
	update(row)
	row.UpdatedAt = a.s.now().UTC()
}

func (a anonUsageStore) DeleteBefore(ctx context.Context, date string) (int64, error) {
	a.s.mu.Lock()
	defer a.s.mu.Unlock()
	var n int64
	for k, row := range a.s.anonUsage {
		if row.Date < date {
			delete(a.s.anonUsage, k)
			n++
		}
	}
	return n, nil
}

func (a anonUsageStore) EnsureIndexes(ctx context.Context) error { return nil }

type lockStore struct{ s *Store }

func (l lockStore) TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	now := l.s.now()
	if cur, ok := l.s.locks[name]; ok && cur.holder != holder && now.Before(cur.expiresAt) {
		return false, nil
	}
	l.s.locks[name] = lock{holder: holder, expiresAt: now.Add(ttl)}
	return true, nil
}

func (l lockStore) ReleaseLock(ctx context.Context, name, holder string) error {
	l.s.mu.Lock()
	defer l.s.mu.Unlock()
	if cur, ok := l.s.locks[name]; ok && cur.holder == holder {
		delete(l.s.locks, name)
	}
	return nil
}
