package databases_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/casecraft-api/databases"
	mocksdb "github.com/linesmerrill/casecraft-api/databases/mocks"
)

func TestSchedulerLockDatabase_TryAcquireLock(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}

	var filter bson.M
	conn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		Return(&mongo.UpdateResult{UpsertedCount: 1}, nil).
		Run(func(args mock.Arguments) {
			filter = args.Get(1).(bson.M)
		})
	db.On("Collection", "scheduler_locks").Return(conn)

	ok, err := databases.NewSchedulerLockDatabase(db).TryAcquireLock(context.Background(), "usage_retention", "web.1", time.Minute)

	assert.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "usage_retention", filter["_id"])
}

func TestSchedulerLockDatabase_TryAcquireLockHeldElsewhere(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}

	dup := mongo.WriteException{WriteErrors: []mongo.WriteError{{Code: 11000, Message: "E11000 duplicate key error"}}}
	conn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, dup)
	db.On("Collection", "scheduler_locks").Return(conn)

	ok, err := databases.NewSchedulerLockDatabase(db).TryAcquireLock(context.Background(), "usage_retention", "web.2", time.Minute)

	assert.NoError(t, err)
	assert.False(t, ok)
}

func TestSchedulerLockDatabase_TryAcquireLockFailure(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}

	conn.On("UpdateOne", mock.Anything, mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("no reachable servers"))
	db.On("Collection", "scheduler_locks").Return(conn)

	ok, err := databases.NewSchedulerLockDatabase(db).TryAcquireLock(context.Background(), "usage_retention", "web.1", time.Minute)

	assert.Error(t, err)
	assert.False(t, ok)
}

func TestSchedulerLockDatabase_ReleaseLock(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}

	conn.On("DeleteOne", mock.Anything, bson.M{"_id": "usage_retention", "holder": "web.1"}).Return(int64(1), nil)
	db.On("Collection", "scheduler_locks").Return(conn)

	err := databases.NewSchedulerLockDatabase(db).ReleaseLock(context.Background(), "usage_retention", "web.1")

	assert.NoError(t, err)
	conn.AssertExpectations(t)
}
