package records

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"gachavault/internal/core"
)

const recordsCollection = "gacha_records"

// recordDocument is the MongoDB projection of a record. The _id packs the
// primary key so duplicate draws are rejected by the unique index on it.
type recordDocument struct {
	DocID     string `bson:"_id"`
	Facet     string `bson:"facet"`
	UID       string `bson:"uid"`
	ID        string `bson:"id"`
	GachaType string `bson:"gacha_type"`
	GachaID   string `bson:"gacha_id,omitempty"`
	ItemID    string `bson:"item_id"`
	Count     string `bson:"count"`
	Time      string `bson:"time"`
	Name      string `bson:"name"`
	Lang      string `bson:"lang"`
	ItemType  string `bson:"item_type"`
	RankType  string `bson:"rank_type"`
}

func docID(facet core.Facet, uid, id string) string {
	return fmt.Sprintf("%s|%s|%s", facet, uid, id)
}

// MongoDBStore implements core.RecordStore on MongoDB.
type MongoDBStore struct {
	collection *mongo.Collection
}

// NewMongoDBStore sets up the collection and its lookup index.
func NewMongoDBStore(db *mongo.Database) (*MongoDBStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}

	collection := db.Collection(recordsCollection)
	_, err := collection.Indexes().CreateOne(context.Background(), mongo.IndexModel{
		Keys: bson.D{{Key: "facet", Value: 1}, {Key: "uid", Value: 1}, {Key: "gacha_type", Value: 1}, {Key: "id", Value: 1}},
	})
	if err != nil {
		return nil, fmt.Errorf("create gacha_records index: %w", err)
	}

	return &MongoDBStore{collection: collection}, nil
}

// Save inserts records unordered, counting only the ones not already
// present.
func (s *MongoDBStore) Save(ctx context.Context, facet core.Facet, records []core.Record) (int64, error) {
	if len(records) == 0 {
		return 0, nil
	}

	docs := make([]any, len(records))
	for i, r := range records {
		docs[i] = recordDocument{
			DocID:     docID(facet, r.UID, r.ID),
			Facet:     string(facet),
			UID:       r.UID,
			ID:        r.ID,
			GachaType: r.GachaType,
			GachaID:   r.GachaID,
			ItemID:    r.ItemID,
			Count:     r.Count,
			Time:      r.Time,
			Name:      r.Name,
			Lang:      r.Lang,
			ItemType:  r.ItemType,
			RankType:  r.RankType,
		}
	}

	result, err := s.collection.InsertMany(ctx, docs, options.InsertMany().SetOrdered(false))
	if err != nil {
		// InsertedIDs lists every attempted document, not just the ones
		// that landed, so the insert count has to come from the write
		// errors instead.
		var bwe mongo.BulkWriteException
		if !errors.As(err, &bwe) || bwe.WriteConcernError != nil {
			return 0, fmt.Errorf("insert gacha records: %w", err)
		}
		for _, we := range bwe.WriteErrors {
			if !mongo.IsDuplicateKeyError(we) {
				return 0, fmt.Errorf("insert gacha records: %w", err)
			}
		}
		return int64(len(docs) - len(bwe.WriteErrors)), nil
	}
	return int64(len(result.InsertedIDs)), nil
}

// Find returns an account's records ordered by id ascending.
func (s *MongoDBStore) Find(ctx context.Context, facet core.Facet, uid string, filter core.FindFilter) ([]core.Record, error) {
	query := bson.M{"facet": string(facet), "uid": uid}
	if filter.GachaType != "" {
		query["gacha_type"] = filter.GachaType
	}

	opts := options.Find().SetSort(bson.D{{Key: "id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.collection.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("query gacha records: %w", err)
	}
	defer cursor.Close(ctx)

	var docs []recordDocument
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("decode gacha records: %w", err)
	}

	result := make([]core.Record, len(docs))
	for i, d := range docs {
		result[i] = core.Record{
			UID:       d.UID,
			ID:        d.ID,
			GachaType: d.GachaType,
			GachaID:   d.GachaID,
			ItemID:    d.ItemID,
			Count:     d.Count,
			Time:      d.Time,
			Name:      d.Name,
			Lang:      d.Lang,
			ItemType:  d.ItemType,
			RankType:  d.RankType,
		}
	}
	return result, nil
}

// DeleteNewerThan removes records of one gacha type with id > endID.
func (s *MongoDBStore) DeleteNewerThan(ctx context.Context, facet core.Facet, uid, gachaType, endID string) (int64, error) {
	result, err := s.collection.DeleteMany(ctx, bson.M{
		"facet":      string(facet),
		"uid":        uid,
		"gacha_type": gachaType,
		"id":         bson.M{"$gt": endID},
	})
	if err != nil {
		return 0, fmt.Errorf("delete gacha records: %w", err)
	}
	return result.DeletedCount, nil
}

// Close is a no-op; the client belongs to the storage layer.
func (s *MongoDBStore) Close() error {
	return nil
}
