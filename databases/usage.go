package databases

// go generate: mockery --name UserUsageDatabase
// go generate: mockery --name AnonymousUsageDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/casecraft-api/models"
)

const (
	userUsageName      = "user_usage"
	anonymousUsageName = "anonymous_usage"
)

// UserUsageDatabase contains the methods to use with the per-user daily usage database
type UserUsageDatabase interface {
	FindOne(ctx context.Context, userID, date string) (*models.UserUsage, error)
	// Increment adds one to field on the (userID, date) row, creating the row if needed.
	Increment(ctx context.Context, userID, date, field string) error
	DeleteBefore(ctx context.Context, date string) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

// AnonymousUsageDatabase contains the methods to use with the per-IP daily usage database
type AnonymousUsageDatabase interface {
	FindOne(ctx context.Context, ipHash, date string) (*models.AnonymousUsage, error)
	Increment(ctx context.Context, ipHash, date string) error
	// IncrementAnalyses counts one analysis run from ipHash, creating the row if needed.
	IncrementAnalyses(ctx context.Context, ipHash, date string) error
	DeleteBefore(ctx context.Context, date string) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type userUsageDatabase struct {
	db  DatabaseHelper
	now func() time.Time
}

type anonymousUsageDatabase struct {
	db  DatabaseHelper
	now func() time.Time
}

// NewUserUsageDatabase initializes a new instance of user usage database with the provided db connection
func NewUserUsageDatabase(db DatabaseHelper) UserUsageDatabase {
	return &userUsageDatabase{db: db, now: time.Now}
}

// NewAnonymousUsageDatabase initializes a new instance of anonymous usage database with the provided db connection
func NewAnonymousUsageDatabase(db DatabaseHelper) AnonymousUsageDatabase {
	return &anonymousUsageDatabase{db: db, now: time.Now}
}

func (u *userUsageDatabase) FindOne(ctx context.Context, userID, date string) (*models.UserUsage, error) {
	usage := &models.UserUsage{}
	err := u.db.Collection(userUsageName).FindOne(ctx, bson.M{"user_id": userID, "date": date}).Decode(usage)
	if err != nil {
		return nil, translate(err)
	}
	return usage, nil
}

func (u *userUsageDatabase) Increment(ctx context.Context, userID, date, field string) error {
	_, err := u.db.Collection(userUsageName).UpdateOne(ctx,
		bson.M{"user_id": userID, "date": date},
		bson.M{
			"$inc": bson.M{field: 1},
			"$set": bson.M{"updated_at": u.now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (u *userUsageDatabase) DeleteBefore(ctx context.Context, date string) (int64, error) {
	return u.db.Collection(userUsageName).DeleteMany(ctx, bson.M{"date": bson.M{"$lt": date}})
}

func (u *userUsageDatabase) EnsureIndexes(ctx context.Context) error {
	return u.db.Collection(userUsageName).CreateIndexes(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "user_id", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
}

func (a *anonymousUsageDatabase) FindOne(ctx context.Context, ipHash, date string) (*models.AnonymousUsage, error) {
	usage := &models.AnonymousUsage{}
	err := a.db.Collection(anonymousUsageName).FindOne(ctx, bson.M{"ip_hash": ipHash, "date": date}).Decode(usage)
	if err != nil {
		return nil, translate(err)
	}
	return usage, nil
}

func (a *anonymousUsageDatabase) Increment(ctx context.Context, ipHash, date string) error {
	return a.inc(ctx, ipHash, date, "count")
}

func (a *anonymousUsageDatabase) IncrementAnalyses(ctx context.Context, ipHash, date string) error {
	return a.inc(ctx, ipHash, date, "analyses_used")
}

func (a *anonymousUsageDatabase) inc(ctx context.Context, ipHash, date, field string) error {
	_, err := a.db.Collection(anonymousUsageName).UpdateOne(ctx,
		bson.M{"ip_hash": ipHash, "date": date},
		bson.M{
			"$inc": bson.M{field: 1},
			"$set": bson.M{"updated_at": a.now().UTC()},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

func (a *anonymousUsageDatabase) DeleteBefore(ctx context.Context, date string) (int64, error) {
	return a.db.Collection(anonymousUsageName).DeleteMany(ctx, bson.M{"date": bson.M{"$lt": date}})
}

func (a *anonymousUsageDatabase) EnsureIndexes(ctx context.Context) error {
	return a.db.Collection(anonymousUsageName).CreateIndexes(ctx, []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "ip_hash", Value: 1}, {Key: "date", Value: 1}},
			Options: options.Index().SetUnique(true),
		},
	})
}
