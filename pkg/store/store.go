// Package store defines the document store the cache cores persist into.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a key or document is absent.
	ErrNotFound = errors.New("document not found")
	// ErrExists is returned by Insert when the key is already taken.
	ErrExists = errors.New("document already exists")
)

// Collection names.
const (
	CollectionQuotes    = "stocks"
	CollectionCharts    = "charts"
	CollectionWatchlist = "watchlists"
)

// Store is a JSON document store addressed by collection and string key.
// Upsert is atomic per key; the last writer wins. Insert only writes when
// the key is absent, so of two racing inserts exactly one succeeds.
type Store interface {
	Get(ctx context.Context, collection, key string) ([]byte, error)
	Upsert(ctx context.Context, collection, key string, doc []byte) error
	Insert(ctx context.Context, collection, key string, doc []byte) error
	Delete(ctx context.Context, collection, key string) error
	List(ctx context.Context, collection string) ([][]byte, error)
	Ping(ctx context.Context) error
	Close() error
}

// GetJSON loads a document into v. It returns ErrNotFound when absent.
func GetJSON(ctx context.Context, s Store, collection, key string, v interface{}) error {
	doc, err := s.Get(ctx, collection, key)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(doc, v); err != nil {
		return fmt.Errorf("decode %s/%s: %w", collection, key, err)
	}
	return nil
}

// PutJSON marshals v and upserts it under key.
func PutJSON(ctx context.Context, s Store, collection, key string, v interface{}) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	return s.Upsert(ctx, collection, key, doc)
}

// InsertJSON marshals v and inserts it under key. It returns ErrExists when
// the key is taken.
func InsertJSON(ctx context.Context, s Store, collection, key string, v interface{}) error {
	doc, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("encode %s/%s: %w", collection, key, err)
	}
	return s.Insert(ctx, collection, key, doc)
}
