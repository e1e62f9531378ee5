// Package database is the PostgreSQL document store. Every collection lives
// in one documents table keyed by (collection, doc_key) with a JSONB body.
package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/alim08/stockcache/pkg/logger"
	"github.com/alim08/stockcache/pkg/metrics"
	"github.com/alim08/stockcache/pkg/store"
	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const backendName = "postgres"

// DB is a pooled connection that implements store.Store.
type DB struct {
	*sql.DB
	config *Config
}

var _ store.Store = (*DB)(nil)

// Config holds connection and pool settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// NewConfig reads DB_* environment variables.
func NewConfig() *Config {
	return &Config{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            getEnvIntOrDefault("DB_PORT", 5432),
		User:            getEnvOrDefault("DB_USER", "postgres"),
		Password:        getEnvOrDefault("DB_PASSWORD", ""),
		Database:        getEnvOrDefault("DB_NAME", "stockcache"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 10),
		MaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
		ConnectTimeout:  getEnvDurationOrDefault("DB_CONNECT_TIMEOUT", 5*time.Second),
	}
}

// DSN renders the lib/pq connection string.
func (c *Config) DSN() string {
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode)
}

// New opens the pool and waits for the server to answer.
func New(config *Config) (*DB, error) {
	sqlDB, err := sql.Open("postgres", config.DSN())
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	db := Wrap(sqlDB, config)

	ctx, cancel := context.WithTimeout(context.Background(), config.ConnectTimeout)
	defer cancel()
	if err := db.Ping(ctx); err != nil {
		sqlDB.Close()
		return nil, err
	}

	logger.Log.Info("postgres document store connected",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))
	return db, nil
}

// Wrap applies the pool settings to an open handle.
func Wrap(sqlDB *sql.DB, config *Config) *DB {
	sqlDB.SetMaxOpenConns(config.MaxOpenConns)
	sqlDB.SetMaxIdleConns(config.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(config.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(config.ConnMaxIdleTime)
	return &DB{DB: sqlDB, config: config}
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

const (
	getDocumentSQL = `SELECT body FROM documents WHERE collection = $1 AND doc_key = $2`

	upsertDocumentSQL = `INSERT INTO documents (collection, doc_key, body) VALUES ($1, $2, $3)
		ON CONFLICT (collection, doc_key) DO UPDATE SET body = EXCLUDED.body`

	insertDocumentSQL = `INSERT INTO documents (collection, doc_key, body) VALUES ($1, $2, $3)
		ON CONFLICT (collection, doc_key) DO NOTHING`

	deleteDocumentSQL = `DELETE FROM documents WHERE collection = $1 AND doc_key = $2`

	listDocumentsSQL = `SELECT body FROM documents WHERE collection = $1 ORDER BY doc_key`
)

func (db *DB) Get(ctx context.Context, collection, key string) ([]byte, error) {
	var body []byte
	err := withMetrics("get", func() error {
		err := db.QueryRowContext(ctx, getDocumentSQL, collection, key).Scan(&body)
		if errors.Is(err, sql.ErrNoRows) {
			return store.ErrNotFound
		}
		return err
	})
	return body, err
}

func (db *DB) Upsert(ctx context.Context, collection, key string, doc []byte) error {
	return withMetrics("upsert", func() error {
		_, err := db.ExecContext(ctx, upsertDocumentSQL, collection, key, string(doc))
		return err
	})
}

// Insert relies on the primary key: a conflicting row leaves zero rows
// affected.
func (db *DB) Insert(ctx context.Context, collection, key string, doc []byte) error {
	return withMetrics("insert", func() error {
		n, err := db.exec(ctx, insertDocumentSQL, collection, key, string(doc))
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrExists
		}
		return nil
	})
}

func (db *DB) Delete(ctx context.Context, collection, key string) error {
	return withMetrics("delete", func() error {
		n, err := db.exec(ctx, deleteDocumentSQL, collection, key)
		if err != nil {
			return err
		}
		if n == 0 {
			return store.ErrNotFound
		}
		return nil
	})
}

// List returns a collection's bodies ordered by key.
func (db *DB) List(ctx context.Context, collection string) ([][]byte, error) {
	var docs [][]byte
	err := withMetrics("list", func() error {
		rows, err := db.QueryContext(ctx, listDocumentsSQL, collection)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var body []byte
			if err := rows.Scan(&body); err != nil {
				return err
			}
			docs = append(docs, body)
		}
		return rows.Err()
	})
	return docs, err
}

func (db *DB) exec(ctx context.Context, query string, args ...interface{}) (int64, error) {
	res, err := db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (db *DB) Ping(ctx context.Context) error {
	err := withMetrics("ping", func() error {
		return db.PingContext(ctx)
	})
	if err != nil {
		return fmt.Errorf("postgres ping: %w", err)
	}
	return nil
}

func (db *DB) Close() error {
	logger.Log.Info("closing postgres document store")
	return db.DB.Close()
}

// Transaction runs fn in a transaction, committing on success and rolling
// back on error or panic.
func (db *DB) Transaction(ctx context.Context, fn func(*sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		} else if err != nil {
			_ = tx.Rollback()
		} else {
			err = tx.Commit()
		}
	}()

	return fn(tx)
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
