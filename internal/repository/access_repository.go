package repository

import (
	"context"
	"paint-server/internal/models"
)

// AccessRepository defines the interface for access log persistence
type AccessRepository interface {
	InsertRecords(ctx context.Context, records []*models.AccessRecord) error
	ListRecent(ctx context.Context, limit int) ([]*models.AccessRecord, error)
	CountByStatus(ctx context.Context) ([]models.StatusCount, error)
	Close() error
}
