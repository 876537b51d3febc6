package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"sitemapaudit/internal/models"
	"sitemapaudit/internal/storage"
)

// MemoryDSN keeps history in a private in-memory database for the life of the process.
const MemoryDSN = ":memory:"

// SQLiteStore implements the storage.HistoryStore interface for SQLite.
type SQLiteStore struct {
	db *sql.DB
}

var _ storage.HistoryStore = (*SQLiteStore)(nil)

// New opens the database and runs migrations. An empty dataSourceName
// selects MemoryDSN.
func New(ctx context.Context, dataSourceName string) (*SQLiteStore, error) {
	if dataSourceName == "" {
		dataSourceName = MemoryDSN
	}
	sep := "?"
	if strings.Contains(dataSourceName, "?") {
		sep = "&"
	}
	db, err := sql.Open("sqlite", dataSourceName+sep+"_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("unable to open sqlite database: %w", err)
	}
	// An in-memory database lives in a single connection.
	db.SetMaxOpenConns(1)
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}
	store := &SQLiteStore{db: db}
	if err := store.migrate(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return store, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error { return s.db.Close() }

// migrate ensures the database schema is created.
func (s *SQLiteStore) migrate(ctx context.Context) error {
	schema := `
CREATE TABLE IF NOT EXISTS audit_history (
	run_id       TEXT PRIMARY KEY,
	sitemap_url  TEXT NOT NULL,
	recorded_at  INTEGER NOT NULL,
	health_score REAL NOT NULL,
	metrics      TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_history_recorded_at ON audit_history (recorded_at);
CREATE INDEX IF NOT EXISTS idx_audit_history_sitemap_url ON audit_history (sitemap_url, recorded_at);
`
	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// AppendHistory saves a history entry. Appending the same run twice returns storage.ErrDuplicateKey.
func (s *SQLiteStore) AppendHistory(ctx context.Context, entry *models.HistoryEntry) error {
	metrics, err := json.Marshal(entry.Metrics)
	if err != nil {
		return fmt.Errorf("failed to encode metrics: %w", err)
	}
	query := `
INSERT INTO audit_history (run_id, sitemap_url, recorded_at, health_score, metrics)
VALUES (?, ?, ?, ?, ?)
ON CONFLICT(run_id) DO NOTHING`
	res, err := s.db.ExecContext(ctx, query, entry.RunID, entry.SitemapURL, entry.Timestamp.UTC().UnixNano(), entry.HealthScore, string(metrics))
	if err != nil {
		return fmt.Errorf("failed to insert history entry: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return storage.ErrDuplicateKey
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (models.HistoryEntry, error) {
	var (
		e          models.HistoryEntry
		recordedAt int64
		metrics    string
	)
	if err := row.Scan(&e.RunID, &e.SitemapURL, &recordedAt, &e.HealthScore, &metrics); err != nil {
		return e, err
	}
	e.Timestamp = time.Unix(0, recordedAt).UTC()
	if err := json.Unmarshal([]byte(metrics), &e.Metrics); err != nil {
		return e, fmt.Errorf("failed to decode metrics for run %s: %w", e.RunID, err)
	}
	return e, nil
}

// GetHistoryByRunID retrieves the history entry recorded for a run.
func (s *SQLiteStore) GetHistoryByRunID(ctx context.Context, runID string) (*models.HistoryEntry, error) {
	query := `SELECT run_id, sitemap_url, recorded_at, health_score, metrics FROM audit_history WHERE run_id = ?`
	e, err := scanEntry(s.db.QueryRowContext(ctx, query, runID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get history entry: %w", err)
	}
	return &e, nil
}

// ListHistory retrieves history entries, oldest first.
func (s *SQLiteStore) ListHistory(ctx context.Context, params storage.ListHistoryParams) ([]models.HistoryEntry, error) {
	var args []any
	qb := strings.Builder{}
	qb.WriteString("SELECT run_id, sitemap_url, recorded_at, health_score, metrics FROM audit_history WHERE 1=1")
	if params.SitemapURL != "" {
		args = append(args, params.SitemapURL)
		qb.WriteString(" AND sitemap_url = ?")
	}
	if params.Since != nil {
		args = append(args, params.Since.UTC().UnixNano())
		qb.WriteString(" AND recorded_at >= ?")
	}
	qb.WriteString(" ORDER BY recorded_at, run_id")
	if params.Limit > 0 {
		args = append(args, params.Limit)
		qb.WriteString(" LIMIT ?")
	}

	rows, err := s.db.QueryContext(ctx, qb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list history: %w", err)
	}
	defer rows.Close()
	entries := []models.HistoryEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan history row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// PruneHistory deletes entries recorded before the cutoff.
func (s *SQLiteStore) PruneHistory(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM audit_history WHERE recorded_at < ?`, before.UTC().UnixNano())
	if err != nil {
		return 0, fmt.Errorf("failed to prune history: %w", err)
	}
	return res.RowsAffected()
}
