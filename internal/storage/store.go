package storage

import (
	"context"
	"errors"
	"time"

	"sitemapaudit/internal/models"
)

var (
	// ErrDuplicateKey is returned when a history entry for the same run already exists
	ErrDuplicateKey = errors.New("duplicate")
	// ErrNotFound is returned when a requested resource is not found
	ErrNotFound = errors.New("not found")
)

// ListHistoryParams contains parameters for listing history entries.
// Zero values mean no filter; Limit <= 0 means no limit.
type ListHistoryParams struct {
	SitemapURL string
	Since      *time.Time
	Limit      int
}

// HistoryStore defines the storage operations on audit history
type HistoryStore interface {
	AppendHistory(ctx context.Context, entry *models.HistoryEntry) error
	GetHistoryByRunID(ctx context.Context, runID string) (*models.HistoryEntry, error)
	ListHistory(ctx context.Context, params ListHistoryParams) ([]models.HistoryEntry, error)
	// PruneHistory deletes entries recorded before the cutoff and returns how many were removed.
	PruneHistory(ctx context.Context, before time.Time) (int64, error)
	Close() error
}
