package databases_test

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/linesmerrill/casecraft-api/databases"
	mocksdb "github.com/linesmerrill/casecraft-api/databases/mocks"
	"github.com/linesmerrill/casecraft-api/models"
)

func TestCaseDatabase_FindByIDNotFound(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}
	singleResultHelper := &mocksdb.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	conn.On("FindOne", mock.Anything, bson.M{"_id": "missing"}).Return(singleResultHelper)
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)
	cs, err := caseDatabase.FindByID(context.Background(), "missing")

	assert.Nil(t, cs)
	assert.ErrorIs(t, err, databases.ErrNotFound)
}

func TestCaseDatabase_FindByIDNormalizesDetails(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}
	singleResultHelper := &mocksdb.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(0).(*models.Case)
		arg.ID = "c1"
		arg.CaseDetails = map[string]interface{}{
			"case_information": primitive.M{"caseName": "Doe v. Roe"},
			"police_report":    primitive.D{{Key: "files", Value: primitive.A{"a.pdf"}}},
		}
	})
	conn.On("FindOne", mock.Anything, bson.M{"_id": "c1"}).Return(singleResultHelper)
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)
	cs, err := caseDatabase.FindByID(context.Background(), "c1")

	assert.NoError(t, err)
	info, ok := cs.CaseDetails["case_information"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, "Doe v. Roe", info["caseName"])
	report, ok := cs.CaseDetails["police_report"].(map[string]interface{})
	assert.True(t, ok)
	assert.Equal(t, []interface{}{"a.pdf"}, report["files"])
}

func TestCaseDatabase_FindByOwner(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}
	cursor := &mocksdb.CursorHelper{}

	cursor.On("All", mock.Anything, mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		arg := args.Get(1).(*[]models.Case)
		*arg = []models.Case{{ID: "c2"}, {ID: "c1"}}
	})
	cursor.On("Close", mock.Anything).Return(nil)
	conn.On("Find", mock.Anything, bson.M{"owner_id": "u1"}, mock.Anything).Return(cursor, nil)
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)
	cases, err := caseDatabase.FindByOwner(context.Background(), "u1")

	assert.NoError(t, err)
	assert.Len(t, cases, 2)
	assert.Equal(t, "c2", cases[0].ID)
	cursor.AssertCalled(t, "Close", mock.Anything)
}

func TestCaseDatabase_FindByOwnerError(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}

	conn.On("Find", mock.Anything, mock.Anything, mock.Anything).Return(nil, errors.New("mocked-error"))
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)
	cases, err := caseDatabase.FindByOwner(context.Background(), "u1")

	assert.Nil(t, cases)
	assert.EqualError(t, err, "mocked-error")
}

func TestCaseDatabase_InsertOne(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}

	conn.On("InsertOne", mock.Anything, mock.AnythingOfType("models.Case")).Return("c1", nil)
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)
	id, err := caseDatabase.InsertOne(context.Background(), models.Case{ID: "c1"})

	assert.NoError(t, err)
	assert.Equal(t, "c1", id)
}

func TestCaseDatabase_UpdateFieldsSetsVersionAndTimestamp(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}
	singleResultHelper := &mocksdb.SingleResultHelper{}

	var captured bson.M
	singleResultHelper.On("Decode", mock.Anything).Return(nil)
	conn.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": "c1"}, mock.Anything, mock.Anything).
		Return(singleResultHelper).
		Run(func(args mock.Arguments) {
			captured = args.Get(2).(bson.M)
		})
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)
	_, err := caseDatabase.UpdateFields(context.Background(), "c1", bson.M{"role": "defendant"})

	assert.NoError(t, err)
	set := captured["$set"].(bson.M)
	assert.Equal(t, "defendant", set["role"])
	assert.Contains(t, set, "updated_at")
	assert.Equal(t, bson.M{"version": 1}, captured["$inc"])
}

func TestCaseDatabase_UpdateFieldsAtVersionConflict(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}
	singleResultHelper := &mocksdb.SingleResultHelper{}

	singleResultHelper.On("Decode", mock.Anything).Return(mongo.ErrNoDocuments)
	conn.On("FindOneAndUpdate", mock.Anything, bson.M{"_id": "c1", "version": int64(4)}, mock.Anything, mock.Anything).
		Return(singleResultHelper)
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)
	_, err := caseDatabase.UpdateFieldsAtVersion(context.Background(), "c1", 4, bson.M{"case_details": bson.M{}})

	assert.ErrorIs(t, err, databases.ErrVersionConflict)
}

func TestCaseDatabase_ClaimOwnerUsesNullOwnerFilter(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}

	conn.On("UpdateOne", mock.Anything, bson.M{"_id": "c1", "owner_id": nil}, mock.Anything).
		Return(&mongo.UpdateResult{MatchedCount: 1, ModifiedCount: 1}, nil).Once()
	conn.On("UpdateOne", mock.Anything, bson.M{"_id": "c1", "owner_id": nil}, mock.Anything).
		Return(&mongo.UpdateResult{}, nil).Once()
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)

	claimed, err := caseDatabase.ClaimOwner(context.Background(), "c1", "u1")
	assert.NoError(t, err)
	assert.True(t, claimed)

	claimed, err = caseDatabase.ClaimOwner(context.Background(), "c1", "u2")
	assert.NoError(t, err)
	assert.False(t, claimed)
}

func TestCaseDatabase_DeleteOwned(t *testing.T) {
	db := &mocksdb.DatabaseHelper{}
	conn := &mocksdb.CollectionHelper{}

	conn.On("DeleteOne", mock.Anything, bson.M{"_id": "c1", "owner_id": "u2"}).Return(int64(0), nil)
	db.On("Collection", "cases").Return(conn)

	caseDatabase := databases.NewCaseDatabase(db)
	n, err := caseDatabase.DeleteOwned(context.Background(), "c1", "u2")

	assert.NoError(t, err)
	assert.Equal(t, int64(0), n)
}

func TestCaseDatabase_Interface(t *testing.T) {
	var _ databases.CaseDatabase = databases.NewCaseDatabase(nil)
}
