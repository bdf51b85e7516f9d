// Package duck provides the DuckDB-backed durable status store.
package duck

import (
	"context"
	"database/sql"
	"encoding/json"
	_ "embed"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "github.com/duckdb/duckdb-go/v2"

	"github.com/shayanmanesh/create/internal/store"
	"github.com/shayanmanesh/create/pkg/creation"
)

//go:embed schema.sql
var schemaDDL string

// SchemaDDL returns the DDL used to initialize the jobs database.
func SchemaDDL() string { return schemaDDL }

// Store persists job snapshots in a DuckDB database file.
type Store struct {
	db        *sql.DB
	retention time.Duration
}

// Open opens (or creates) the database at path and applies the schema.
// An empty path opens an in-memory database.
func Open(path string, retention time.Duration) (*Store, error) {
	db, err := sql.Open("duckdb", path)
	if err != nil {
		return nil, fmt.Errorf("open duckdb: %w", err)
	}
	if _, err := db.Exec(schemaDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	if retention <= 0 {
		retention = time.Hour
	}
	return &Store{db: db, retention: retention}, nil
}

// Create inserts a new snapshot at version 1.
func (s *Store) Create(ctx context.Context, job creation.Job) error {
	links, err := marshalLinks(job.ShareLinks)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, owner, creation_type, input_type, status, price_charged,
			surge_active, created_at, started_at, completed_at, result_reference,
			share_links, failure_reason, attempt, version)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)`,
		job.ID, job.Owner, job.CreationType, string(job.InputType), string(job.Status),
		job.PriceCharged, job.SurgeActive, job.CreatedAt, nullTime(job.StartedAt),
		nullTime(job.CompletedAt), nullString(job.ResultReference), links,
		nullString(string(job.FailureReason)), job.Attempt)
	if err != nil {
		if isDuplicateKey(err) {
			return store.ErrExists
		}
		return fmt.Errorf("insert job: %w", err)
	}
	return nil
}

// Get returns the current snapshot for id.
func (s *Store) Get(ctx context.Context, id string) (creation.Job, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, owner, creation_type, input_type, status, price_charged,
			surge_active, created_at, started_at, completed_at, result_reference,
			share_links, failure_reason, attempt, version
		FROM jobs WHERE id = ?`, id)
	return scanJob(row)
}

// CompareAndSet updates the row only when the stored version matches expected.
func (s *Store) CompareAndSet(ctx context.Context, id string, expected uint64, job creation.Job) error {
	links, err := marshalLinks(job.ShareLinks)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, started_at = ?, completed_at = ?,
			result_reference = ?, share_links = ?, failure_reason = ?, attempt = ?,
			version = version + 1
		WHERE id = ? AND version = ?`,
		string(job.Status), nullTime(job.StartedAt), nullTime(job.CompletedAt),
		nullString(job.ResultReference), links, nullString(string(job.FailureReason)),
		job.Attempt, id, expected)
	if err != nil {
		return fmt.Errorf("update job: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if affected == 1 {
		return nil
	}
	if _, err := s.Get(ctx, id); errors.Is(err, store.ErrNotFound) {
		return store.ErrNotFound
	}
	return store.ErrConflict
}

// ListByOwner returns the owner's snapshots, newest first.
func (s *Store) ListByOwner(ctx context.Context, owner string, offset, limit int) ([]creation.Job, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, owner, creation_type, input_type, status, price_charged,
			surge_active, created_at, started_at, completed_at, result_reference,
			share_links, failure_reason, attempt, version
		FROM jobs WHERE owner = ?
		ORDER BY created_at DESC
		LIMIT ? OFFSET ?`, owner, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()
	var jobs []creation.Job
	for rows.Next() {
		job, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

// EvictExpired deletes terminal rows whose completion is older than the
// retention window.
func (s *Store) EvictExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM jobs
		WHERE status IN (?, ?) AND completed_at IS NOT NULL AND completed_at < ?`,
		string(creation.StatusCompleted), string(creation.StatusFailed),
		now.Add(-s.retention))
	if err != nil {
		return 0, fmt.Errorf("evict jobs: %w", err)
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// StartJanitor runs retention eviction on the given interval until the
// context is canceled. Transient errors are reported through onError and
// never stop the loop.
func (s *Store) StartJanitor(ctx context.Context, every time.Duration, onError func(error)) {
	if every <= 0 {
		return
	}
	ticker := time.NewTicker(every)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := s.EvictExpired(ctx, time.Now()); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (creation.Job, error) {
	var (
		job                    creation.Job
		inputType, status      string
		startedAt, completedAt sql.NullTime
		resultRef, reason      sql.NullString
		links                  any
	)
	err := row.Scan(&job.ID, &job.Owner, &job.CreationType, &inputType, &status,
		&job.PriceCharged, &job.SurgeActive, &job.CreatedAt, &startedAt, &completedAt,
		&resultRef, &links, &reason, &job.Attempt, &job.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return creation.Job{}, store.ErrNotFound
	}
	if err != nil {
		return creation.Job{}, fmt.Errorf("scan job: %w", err)
	}
	job.InputType = creation.InputType(inputType)
	job.Status = creation.Status(status)
	job.StartedAt = startedAt.Time
	job.CompletedAt = completedAt.Time
	job.ResultReference = resultRef.String
	job.FailureReason = creation.FailureReason(reason.String)
	// The duckdb driver returns JSON columns either as text or as an
	// already-decoded value; normalize both to raw JSON before decoding.
	var rawLinks []byte
	switch v := links.(type) {
	case nil:
	case string:
		rawLinks = []byte(v)
	case []byte:
		rawLinks = v
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return creation.Job{}, fmt.Errorf("decode share links: %w", err)
		}
		rawLinks = data
	}
	if len(rawLinks) > 0 {
		if err := json.Unmarshal(rawLinks, &job.ShareLinks); err != nil {
			return creation.Job{}, fmt.Errorf("decode share links: %w", err)
		}
	}
	return job, nil
}

func marshalLinks(links map[string]string) (any, error) {
	if len(links) == 0 {
		return nil, nil
	}
	data, err := json.Marshal(links)
	if err != nil {
		return nil, fmt.Errorf("encode share links: %w", err)
	}
	return string(data), nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t
}

func nullString(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func isDuplicateKey(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate key") ||
		strings.Contains(msg, "primary key") ||
		strings.Contains(msg, "unique constraint")
}
