// Package mongostore implements the document store on MongoDB. Each
// collection holds one document per key with the key as _id.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/alim08/stockcache/pkg/metrics"
	"github.com/alim08/stockcache/pkg/store"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
)

const backendName = "mongo"

type Store struct {
	db *mongo.Database
}

var _ store.Store = (*Store)(nil)

// Connect dials uri with the stable v1 server API and pings the primary.
func Connect(ctx context.Context, uri, database string) (*Store, error) {
	opts := options.Client().
		ApplyURI(uri).
		SetServerAPIOptions(options.ServerAPI(options.ServerAPIVersion1)).
		SetConnectTimeout(10 * time.Second)

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		return nil, fmt.Errorf("connect mongo: %w", err)
	}
	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, fmt.Errorf("ping mongo: %w", err)
	}
	return New(client.Database(database)), nil
}

// New wraps an existing database handle.
func New(db *mongo.Database) *Store {
	return &Store{db: db}
}

func withMetrics(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	metrics.StoreOperationDuration.WithLabelValues(backendName, operation, metrics.Status(err)).Observe(time.Since(start).Seconds())
	if err != nil && !errors.Is(err, store.ErrNotFound) && !errors.Is(err, store.ErrExists) {
		metrics.StoreErrors.WithLabelValues(backendName, operation).Inc()
	}
	return err
}

func byID(key string) bson.D {
	return bson.D{{Key: "_id", Value: key}}
}

func (s *Store) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var out []byte
	err := withMetrics("find_one", func() error {
		var doc bson.D
		err := s.db.Collection(collection).FindOne(ctx, byID(key)).Decode(&doc)
		if errors.Is(err, mongo.ErrNoDocuments) {
			return store.ErrNotFound
		}
		if err != nil {
			return err
		}
		out, err = toJSON(doc)
		return err
	})
	return out, err
}

func (s *Store) Upsert(ctx context.Context, collection, key string, doc []byte) error {
	return withMetrics("replace_one", func() error {
		var body bson.D
		if err := bson.UnmarshalExtJSON(doc, false, &body); err != nil {
			return fmt.Errorf("convert %s/%s: %w", collection, key, err)
		}
		replacement := append(byID(key), withoutID(body)...)
		_, err := s.db.Collection(collection).ReplaceOne(ctx, byID(key), replacement, options.Replace().SetUpsert(true))
		return err
	})
}

func (s *Store) Insert(ctx context.Context, collection, key string, doc []byte) error {
	return withMetrics("insert_one", func() error {
		var body bson.D
		if err := bson.UnmarshalExtJSON(doc, false, &body); err != nil {
			return fmt.Errorf("convert %s/%s: %w", collection, key, err)
		}
		_, err := s.db.Collection(collection).InsertOne(ctx, append(byID(key), withoutID(body)...))
		if mongo.IsDuplicateKeyError(err) {
			return store.ErrExists
		}
		return err
	})
}

func (s *Store) Delete(ctx context.Context, collection, key string) error {
	return withMetrics("delete_one", func() error {
		res, err := s.db.Collection(collection).DeleteOne(ctx, byID(key))
		if err != nil {
			return err
		}
		if res.DeletedCount == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// List returns the collection's documents ordered by key.
func (s *Store) List(ctx context.Context, collection string) ([][]byte, error) {
	var docs [][]byte
	err := withMetrics("find", func() error {
		cur, err := s.db.Collection(collection).Find(ctx, bson.D{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
		if err != nil {
			return err
		}
		defer cur.Close(ctx)

		for cur.Next(ctx) {
			var doc bson.D
			if err := cur.Decode(&doc); err != nil {
				return err
			}
			b, err := toJSON(doc)
			if err != nil {
				return err
			}
			docs = append(docs, b)
		}
		return cur.Err()
	})
	return docs, err
}

func (s *Store) Ping(ctx context.Context) error {
	return withMetrics("ping", func() error {
		return s.db.Client().Ping(ctx, readpref.Primary())
	})
}

func (s *Store) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.db.Client().Disconnect(ctx)
}

func withoutID(doc bson.D) bson.D {
	out := make(bson.D, 0, len(doc))
	for _, e := range doc {
		if e.Key != "_id" {
			out = append(out, e)
		}
	}
	return out
}

// toJSON renders a stored document as relaxed extended JSON without _id,
// which for the string, number and array fields used here is plain JSON.
func toJSON(doc bson.D) ([]byte, error) {
	return bson.MarshalExtJSON(withoutID(doc), false, false)
}
