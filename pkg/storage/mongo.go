package storage

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/adfharrison1/go-odm/pkg/domain"
)

const mongoSeqID = "cas"

type mongoEntry struct {
	Key   string `bson:"_id"`
	Value []byte `bson:"v"`
	CAS   int64  `bson:"c"`
}

// ConnectMongo connects to uri and pings the deployment
func ConnectMongo(ctx context.Context, uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		client.Disconnect(context.Background())
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}
	return client, nil
}

// MongoStore keeps one document {_id: key, v: value, c: cas} per entry.
// Conditional writes filter on c, so the server decides conflicts.
type MongoStore struct {
	client *mongo.Client
	coll   *mongo.Collection
	seq    *mongo.Collection
}

// NewMongoStore stores entries in db.collection and CAS counters in
// db.collection_seq.
func NewMongoStore(client *mongo.Client, db, collection string) *MongoStore {
	d := client.Database(db)
	return &MongoStore{
		client: client,
		coll:   d.Collection(collection),
		seq:    d.Collection(collection + "_seq"),
	}
}

func (s *MongoStore) nextCAS(ctx context.Context) (domain.CAS, error) {
	var out struct {
		V int64 `bson:"v"`
	}
	err := s.seq.FindOneAndUpdate(ctx,
		bson.M{"_id": mongoSeqID},
		bson.M{"$inc": bson.M{"v": int64(1)}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After),
	).Decode(&out)
	return domain.CAS(out.V), err
}

func (s *MongoStore) Get(ctx context.Context, key string) ([]byte, domain.CAS, error) {
	if err := checkContext(ctx, "get", key); err != nil {
		return nil, 0, err
	}
	var e mongoEntry
	err := s.coll.FindOne(ctx, bson.M{"_id": key}).Decode(&e)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, 0, domain.ErrKeyNotFound
	}
	if err != nil {
		return nil, 0, unavailable("get", key, err)
	}
	return e.Value, domain.CAS(e.CAS), nil
}

func (s *MongoStore) Set(ctx context.Context, key string, value []byte, opts domain.WriteOptions) (domain.CAS, error) {
	if err := checkContext(ctx, "set", key); err != nil {
		return 0, err
	}
	next, err := s.nextCAS(ctx)
	if err != nil {
		return 0, unavailable("set", key, err)
	}
	if value == nil {
		value = []byte{}
	}

	switch {
	case opts.Insert:
		_, err = s.coll.InsertOne(ctx, mongoEntry{Key: key, Value: value, CAS: int64(next)})
		if mongo.IsDuplicateKeyError(err) {
			return 0, domain.ErrCASMismatch
		}
	case opts.CAS != 0:
		var res *mongo.UpdateResult
		res, err = s.coll.UpdateOne(ctx,
			bson.M{"_id": key, "c": int64(opts.CAS)},
			bson.M{"$set": bson.M{"v": value, "c": int64(next)}})
		if err == nil && res.MatchedCount == 0 {
			return 0, domain.ErrCASMismatch
		}
	default:
		_, err = s.coll.UpdateOne(ctx,
			bson.M{"_id": key},
			bson.M{"$set": bson.M{"v": value, "c": int64(next)}},
			options.Update().SetUpsert(true))
	}
	if err != nil {
		return 0, unavailable("set", key, err)
	}
	return next, nil
}

func (s *MongoStore) Remove(ctx context.Context, key string, opts domain.WriteOptions) error {
	if err := checkContext(ctx, "remove", key); err != nil {
		return err
	}
	filter := bson.M{"_id": key}
	if opts.CAS != 0 {
		filter["c"] = int64(opts.CAS)
	}
	res, err := s.coll.DeleteOne(ctx, filter)
	if err != nil {
		return unavailable("remove", key, err)
	}
	if res.DeletedCount > 0 {
		return nil
	}
	if opts.CAS == 0 {
		return domain.ErrKeyNotFound
	}

	n, err := s.coll.CountDocuments(ctx, bson.M{"_id": key})
	if err != nil {
		return unavailable("remove", key, err)
	}
	if n == 0 {
		return domain.ErrKeyNotFound
	}
	return domain.ErrCASMismatch
}

// Keys lists the keys starting with prefix in _id order
func (s *MongoStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	if err := checkContext(ctx, "keys", prefix); err != nil {
		return nil, err
	}
	cur, err := s.coll.Find(ctx,
		bson.M{"_id": bson.M{"$regex": "^" + regexp.QuoteMeta(prefix)}},
		options.Find().SetProjection(bson.M{"_id": 1}).SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, unavailable("keys", prefix, err)
	}
	defer cur.Close(ctx)

	var out []string
	for cur.Next(ctx) {
		var e struct {
			Key string `bson:"_id"`
		}
		if err := cur.Decode(&e); err != nil {
			return nil, unavailable("keys", prefix, err)
		}
		out = append(out, e.Key)
	}
	return out, unavailable("keys", prefix, cur.Err())
}

func (s *MongoStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}
