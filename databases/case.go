package databases

// go generate: mockery --name CaseDatabase

import (
	"context"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/linesmerrill/casecraft-api/models"
)

const caseName = "cases"

// CaseDatabase contains the methods to use with the case database
type CaseDatabase interface {
	FindByID(ctx context.Context, id string) (*models.Case, error)
	FindByOwner(ctx context.Context, ownerID string) ([]models.Case, error)
	InsertOne(ctx context.Context, c models.Case) (string, error)
	// UpdateFields applies set to the case and returns the updated document.
	UpdateFields(ctx context.Context, id string, set bson.M) (*models.Case, error)
	// UpdateFieldsAtVersion is UpdateFields guarded by the version the caller last read.
	UpdateFieldsAtVersion(ctx context.Context, id string, version int64, set bson.M) (*models.Case, error)
	// ClaimOwner sets owner_id only when it is currently null and reports whether it did.
	ClaimOwner(ctx context.Context, id, userID string) (bool, error)
	DeleteOwned(ctx context.Context, id, ownerID string) (int64, error)
	EnsureIndexes(ctx context.Context) error
}

type caseDatabase struct {
	db  DatabaseHelper
	now func() time.Time
}

// NewCaseDatabase initializes a new instance of case database with the provided db connection
func NewCaseDatabase(db DatabaseHelper) CaseDatabase {
	return &caseDatabase{
		db:  db,
		now: time.Now,
	}
}

func (c *caseDatabase) FindByID(ctx context.Context, id string) (*models.Case, error) {
	cs := &models.Case{}
	err := c.db.Collection(caseName).FindOne(ctx, bson.M{"_id": id}).Decode(cs)
	if err != nil {
		return nil, translate(err)
	}
	NormalizeCase(cs)
	return cs, nil
}

func (c *caseDatabase) FindByOwner(ctx context.Context, ownerID string) ([]models.Case, error) {
	opts := options.Find().SetSort(bson.D{{Key: "created_at", Value: -1}})
	cursor, err := c.db.Collection(caseName).Find(ctx, bson.M{"owner_id": ownerID}, opts)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var cases []models.Case
	if err := cursor.All(ctx, &cases); err != nil {
		return nil, err
	}
	for i := range cases {
		NormalizeCase(&cases[i])
	}
	return cases, nil
}

func (c *caseDatabase) InsertOne(ctx context.Context, cs models.Case) (string, error) {
	_, err := c.db.Collection(caseName).InsertOne(ctx, cs)
	if err != nil {
		return "", err
	}
	return cs.ID, nil
}

func (c *caseDatabase) UpdateFields(ctx context.Context, id string, set bson.M) (*models.Case, error) {
	return c.findAndUpdate(ctx, bson.M{"_id": id}, set)
}

func (c *caseDatabase) UpdateFieldsAtVersion(ctx context.Context, id string, version int64, set bson.M) (*models.Case, error) {
	cs, err := c.findAndUpdate(ctx, bson.M{"_id": id, "version": version}, set)
	if err == ErrNotFound {
		// the caller has already seen the document, so a miss here means it moved on
		return nil, ErrVersionConflict
	}
	return cs, err
}

func (c *caseDatabase) findAndUpdate(ctx context.Context, filter bson.M, set bson.M) (*models.Case, error) {
	fields := bson.M{"updated_at": c.now().UTC()}
	for k, v := range set {
		fields[k] = v
	}
	update := bson.M{
		"$set": fields,
		"$inc": bson.M{"version": 1},
	}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	cs := &models.Case{}
	err := c.db.Collection(caseName).FindOneAndUpdate(ctx, filter, update, opts).Decode(cs)
	if err != nil {
		return nil, translate(err)
	}
	NormalizeCase(cs)
	return cs, nil
}

func (c *caseDatabase) ClaimOwner(ctx context.Context, id, userID string) (bool, error) {
	res, err := c.db.Collection(caseName).UpdateOne(ctx,
		bson.M{"_id": id, "owner_id": nil},
		bson.M{
			"$set": bson.M{"owner_id": userID, "updated_at": c.now().UTC()},
			"$inc": bson.M{"version": 1},
		},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (c *caseDatabase) DeleteOwned(ctx context.Context, id, ownerID string) (int64, error) {
	return c.db.Collection(caseName).DeleteOne(ctx, bson.M{"_id": id, "owner_id": ownerID})
}

func (c *caseDatabase) EnsureIndexes(ctx context.Context) error {
	return c.db.Collection(caseName).CreateIndexes(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "owner_id", Value: 1}, {Key: "created_at", Value: -1}}},
	})
}

// NormalizeCase converts the loosely-typed fields of a decoded case into plain maps and slices
func NormalizeCase(cs *models.Case) {
	cs.CaseDetails = normalizeMap(cs.CaseDetails)
	cs.Judge = normalizeMap(cs.Judge)
	cs.Jury = normalizeMap(cs.Jury)
	cs.Result = normalizeMap(cs.Result)
	cs.GamePlan = normalizeMap(cs.GamePlan)
}
