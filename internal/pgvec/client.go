// Package pgvec provides a thin client for vector collections stored in
// Postgres with the pgvector extension. Each collection is a table in a
// dedicated schema with an id, a fixed-dimension vector and a jsonb metadata
// column, queried by cosine distance.
package pgvec

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	pgxvector "github.com/pgvector/pgvector-go/pgx"
	"go.uber.org/zap"
)

// Schema is the Postgres schema holding all collection tables.
const Schema = "vecs"

// Sentinel errors.
var (
	// ErrCollectionNotFound is returned when a collection table does not exist.
	ErrCollectionNotFound = errors.New("collection not found")

	// ErrInvalidName indicates a collection name the client refuses to use as
	// an identifier.
	ErrInvalidName = errors.New("invalid collection name")
)

// tableNamePattern guards identifiers interpolated into DDL. Data values are
// always bound as parameters; table names cannot be, so they are validated.
var tableNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

func validateName(name string) error {
	if !tableNamePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// Client manages a connection pool and collection lifecycle.
type Client struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// Connect creates a pool for the given connection URL, registers the pgvector
// types on every connection and ensures the extension and schema exist.
func Connect(ctx context.Context, connURL string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	cfg, err := pgxpool.ParseConfig(connURL)
	if err != nil {
		return nil, fmt.Errorf("parsing connection url: %w", err)
	}
	cfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		return pgxvector.RegisterTypes(ctx, conn)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("creating pool: %w", err)
	}

	if _, err := pool.Exec(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring vector extension: %w", err)
	}
	if _, err := pool.Exec(ctx, fmt.Sprintf("CREATE SCHEMA IF NOT EXISTS %s", Schema)); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensuring schema: %w", err)
	}

	logger.Info("pgvector client connected", zap.String("schema", Schema))
	return &Client{pool: pool, logger: logger}, nil
}

// GetOrCreateCollection ensures the collection table exists and returns a
// handle to it. Dimensions fix the vector column width at creation time.
func (c *Client) GetOrCreateCollection(ctx context.Context, name string, dimensions int) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	if dimensions <= 0 {
		return nil, fmt.Errorf("%w: dimensions must be positive", ErrInvalidName)
	}

	ddl := fmt.Sprintf(
		`CREATE TABLE IF NOT EXISTS %s.%s (
			id text PRIMARY KEY,
			vec vector(%d) NOT NULL,
			metadata jsonb NOT NULL DEFAULT '{}'
		)`, Schema, name, dimensions)
	if _, err := c.pool.Exec(ctx, ddl); err != nil {
		return nil, fmt.Errorf("creating collection %s: %w", name, err)
	}

	return &Collection{pool: c.pool, name: name}, nil
}

// GetCollection returns a handle to an existing collection, or
// ErrCollectionNotFound when its table is absent.
func (c *Client) GetCollection(ctx context.Context, name string) (*Collection, error) {
	if err := validateName(name); err != nil {
		return nil, err
	}
	var exists bool
	err := c.pool.QueryRow(ctx,
		`SELECT EXISTS (
			SELECT 1 FROM information_schema.tables
			WHERE table_schema = $1 AND table_name = $2
		)`, Schema, name).Scan(&exists)
	if err != nil {
		return nil, fmt.Errorf("checking collection %s: %w", name, err)
	}
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrCollectionNotFound, name)
	}
	return &Collection{pool: c.pool, name: name}, nil
}

// ListCollections returns the names of all collection tables in the schema.
func (c *Client) ListCollections(ctx context.Context) ([]string, error) {
	rows, err := c.pool.Query(ctx,
		`SELECT table_name FROM information_schema.tables
		 WHERE table_schema = $1 ORDER BY table_name`, Schema)
	if err != nil {
		return nil, fmt.Errorf("listing collections: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning collection name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

// DropCollection removes a collection table. Returns ErrCollectionNotFound
// when it does not exist.
func (c *Client) DropCollection(ctx context.Context, name string) error {
	if _, err := c.GetCollection(ctx, name); err != nil {
		return err
	}
	if _, err := c.pool.Exec(ctx, fmt.Sprintf("DROP TABLE %s.%s", Schema, name)); err != nil {
		return fmt.Errorf("dropping collection %s: %w", name, err)
	}
	c.logger.Info("dropped collection", zap.String("collection", name))
	return nil
}

// Ping checks database connectivity.
func (c *Client) Ping(ctx context.Context) error {
	return c.pool.Ping(ctx)
}

// Close releases the connection pool.
func (c *Client) Close() {
	c.pool.Close()
}
