package repository

import (
	"context"
	"database/sql"
	"fmt"
	"paint-server/internal/models"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// SQLiteRepository implements AccessRepository using SQLite
type SQLiteRepository struct {
	db *sql.DB
}

// NewSQLiteRepository creates a new SQLite repository
func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	repo := &SQLiteRepository{db: db}
	if err := repo.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return repo, nil
}

// Close closes the database connection
func (r *SQLiteRepository) Close() error {
	return r.db.Close()
}

// initSchema initializes the database schema
func (r *SQLiteRepository) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS access_log (
		id TEXT PRIMARY KEY,
		request_id TEXT NOT NULL,
		method TEXT NOT NULL,
		path TEXT NOT NULL,
		status INTEGER NOT NULL,
		bytes INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		remote_addr TEXT,
		user_agent TEXT,
		created_at INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_access_log_created_at ON access_log(created_at);
	CREATE INDEX IF NOT EXISTS idx_access_log_status ON access_log(status);
	`

	_, err := r.db.Exec(schema)
	return err
}

// InsertRecords writes a batch of access records in one transaction
func (r *SQLiteRepository) InsertRecords(ctx context.Context, records []*models.AccessRecord) error {
	if len(records) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO access_log (id, request_id, method, path, status, bytes, duration_ms, remote_addr, user_agent, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	for _, rec := range records {
		if rec.CreatedAt.IsZero() {
			rec.CreatedAt = time.Now()
		}
		_, err := stmt.ExecContext(ctx,
			rec.ID,
			rec.RequestID,
			rec.Method,
			rec.Path,
			rec.Status,
			rec.Bytes,
			rec.DurationMs,
			rec.RemoteAddr,
			rec.UserAgent,
			rec.CreatedAt.UnixMilli(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert access record %s: %w", rec.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit access records: %w", err)
	}

	return nil
}

// ListRecent returns the newest access records first
func (r *SQLiteRepository) ListRecent(ctx context.Context, limit int) ([]*models.AccessRecord, error) {
	query := `
		SELECT id, request_id, method, path, status, bytes, duration_ms, remote_addr, user_agent, created_at
		FROM access_log
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?
	`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list access records: %w", err)
	}
	defer rows.Close()

	var records []*models.AccessRecord
	for rows.Next() {
		var rec models.AccessRecord
		var remoteAddr, userAgent sql.NullString
		var createdAt int64

		if err := rows.Scan(
			&rec.ID,
			&rec.RequestID,
			&rec.Method,
			&rec.Path,
			&rec.Status,
			&rec.Bytes,
			&rec.DurationMs,
			&remoteAddr,
			&userAgent,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan access record: %w", err)
		}

		rec.RemoteAddr = remoteAddr.String
		rec.UserAgent = userAgent.String
		rec.CreatedAt = time.UnixMilli(createdAt)
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate access records: %w", err)
	}

	return records, nil
}

// CountByStatus returns how many requests ended with each status code
func (r *SQLiteRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT status, COUNT(*)
		FROM access_log
		GROUP BY status
		ORDER BY status
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to count access records: %w", err)
	}
	defer rows.Close()

	var counts []models.StatusCount
	for rows.Next() {
		var c models.StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, fmt.Errorf("failed to scan status count: %w", err)
		}
		counts = append(counts, c)
	}

	return counts, rows.Err()
}
