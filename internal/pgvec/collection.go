package pgvec

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pgvector/pgvector-go"
)

// Record is one row of a collection.
type Record struct {
	ID        string
	Embedding []float32
	Metadata  map[string]interface{}
}

// Match is one similarity-search result. Distance is the cosine distance
// reported by the <=> operator; lower means more similar.
type Match struct {
	ID       string
	Metadata map[string]interface{}
	Distance float32
}

// Collection is a handle to one collection table. Handles are cheap and
// stateless; all calls go straight to the pool.
type Collection struct {
	pool *pgxpool.Pool
	name string
}

// Name returns the collection name.
func (c *Collection) Name() string {
	return c.name
}

// Upsert writes records in a single batch, replacing vector and metadata for
// existing IDs.
func (c *Collection) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}

	sql := fmt.Sprintf(
		`INSERT INTO %s.%s (id, vec, metadata) VALUES ($1, $2, $3)
		 ON CONFLICT (id) DO UPDATE SET vec = EXCLUDED.vec, metadata = EXCLUDED.metadata`,
		Schema, c.name)

	batch := &pgx.Batch{}
	for _, r := range records {
		batch.Queue(sql, r.ID, pgvector.NewVector(r.Embedding), r.Metadata)
	}

	results := c.pool.SendBatch(ctx, batch)
	defer results.Close()
	for range records {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("upserting into %s: %w", c.name, err)
		}
	}
	return nil
}

// Query returns the limit nearest records by cosine distance, optionally
// restricted by a metadata filter.
func (c *Collection) Query(ctx context.Context, embedding []float32, limit int, filter map[string]interface{}) ([]Match, error) {
	where, args, err := buildFilter(filter, 2)
	if err != nil {
		return nil, err
	}

	sql := fmt.Sprintf(
		`SELECT id, metadata, vec <=> $1 AS distance FROM %s.%s%s
		 ORDER BY distance LIMIT %d`,
		Schema, c.name, where, limit)

	queryArgs := append([]interface{}{pgvector.NewVector(embedding)}, args...)
	rows, err := c.pool.Query(ctx, sql, queryArgs...)
	if err != nil {
		return nil, fmt.Errorf("querying %s: %w", c.name, err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var m Match
		if err := rows.Scan(&m.ID, &m.Metadata, &m.Distance); err != nil {
			return nil, fmt.Errorf("scanning match: %w", err)
		}
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// Delete removes records by ID set and/or metadata filter. Both may be given;
// they combine with AND.
func (c *Collection) Delete(ctx context.Context, ids []string, filter map[string]interface{}) error {
	conds := ""
	var args []interface{}
	next := 1

	if len(ids) > 0 {
		conds = fmt.Sprintf("id = ANY($%d)", next)
		args = append(args, ids)
		next++
	}
	if len(filter) > 0 {
		where, filterArgs, err := buildFilter(filter, next)
		if err != nil {
			return err
		}
		clause := where[len(" WHERE "):]
		if conds != "" {
			conds += " AND " + clause
		} else {
			conds = clause
		}
		args = append(args, filterArgs...)
	}
	if conds == "" {
		return fmt.Errorf("delete requires ids or filter")
	}

	sql := fmt.Sprintf("DELETE FROM %s.%s WHERE %s", Schema, c.name, conds)
	if _, err := c.pool.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("deleting from %s: %w", c.name, err)
	}
	return nil
}

// Count returns the number of records.
func (c *Collection) Count(ctx context.Context) (int, error) {
	var n int
	sql := fmt.Sprintf("SELECT count(*) FROM %s.%s", Schema, c.name)
	if err := c.pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting %s: %w", c.name, err)
	}
	return n, nil
}
