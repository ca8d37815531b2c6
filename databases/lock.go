package databases

// go generate: mockery --name SchedulerLockDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const schedulerLockName = "scheduler_locks"

// SchedulerLockDatabase hands out short-lived named locks so a periodic job runs on
// one instance at a time
type SchedulerLockDatabase interface {
	// TryAcquireLock takes the lock for holder. It succeeds when the lock is free,
	// expired or already held by holder.
	TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error)
	ReleaseLock(ctx context.Context, name, holder string) error
}

type schedulerLockDatabase struct {
	db  DatabaseHelper
	now func() time.Time
}

// NewSchedulerLockDatabase initializes a new instance of scheduler lock database with the provided db connection
func NewSchedulerLockDatabase(db DatabaseHelper) SchedulerLockDatabase {
	return &schedulerLockDatabase{db: db, now: time.Now}
}

func (s *schedulerLockDatabase) TryAcquireLock(ctx context.Context, name, holder string, ttl time.Duration) (bool, error) {
	now := s.now().UTC()
	_, err := s.db.Collection(schedulerLockName).UpdateOne(ctx,
		bson.M{
			"_id": name,
			"$or": bson.A{
				bson.M{"expires_at": bson.M{"$lt": now}},
				bson.M{"holder": holder},
			},
		},
		bson.M{"$set": bson.M{"holder": holder, "expires_at": now.Add(ttl)}},
		options.Update().SetUpsert(true),
	)
	if mongo.IsDuplicateKeyError(err) {
		// the upsert collided with a live lock held by someone else
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *schedulerLockDatabase) ReleaseLock(ctx context.Context, name, holder string) error {
	_, err := s.db.Collection(schedulerLockName).DeleteOne(ctx, bson.M{"_id": name, "holder": holder})
	return err
}
