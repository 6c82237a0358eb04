package service

import (
	"context"
	"errors"
	"paint-server/internal/metrics"
	"paint-server/internal/models"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// mockRepository is a mock implementation of AccessRepository
type mockRepository struct {
	mu          sync.Mutex
	records     []*models.AccessRecord
	batches     []int
	insertError error
}

func (m *mockRepository) InsertRecords(ctx context.Context, records []*models.AccessRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.insertError != nil {
		return m.insertError
	}
	m.records = append(m.records, records...)
	m.batches = append(m.batches, len(records))
	return nil
}

func (m *mockRepository) ListRecent(ctx context.Context, limit int) ([]*models.AccessRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.records, nil
}

func (m *mockRepository) CountByStatus(ctx context.Context) ([]models.StatusCount, error) {
	return nil, nil
}

func (m *mockRepository) Close() error {
	return nil
}

func (m *mockRepository) stored() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}

func runService(t *testing.T, s *AccessLogService) (context.CancelFunc, <-chan error) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- s.Run(ctx)
	}()
	return cancel, done
}

func TestAccessLogService_Record_AssignsID(t *testing.T) {
	s := NewAccessLogService(&mockRepository{}, metrics.NewMetrics(), 4, 2, time.Hour)

	rec := &models.AccessRecord{Method: "GET", Path: "/", Status: 200}
	require.True(t, s.Record(rec))

	assert.NotEmpty(t, rec.ID)
	assert.False(t, rec.CreatedAt.IsZero())
}

func TestAccessLogService_Record_DropsWhenFull(t *testing.T) {
	m := metrics.NewMetrics()
	s := NewAccessLogService(&mockRepository{}, m, 1, 10, time.Hour)

	assert.True(t, s.Record(&models.AccessRecord{Path: "/a"}))
	assert.False(t, s.Record(&models.AccessRecord{Path: "/b"}))

	assert.Equal(t, int64(1), m.GetSnapshot()["dropped_logs"])
}

func TestAccessLogService_Run_FlushesFullBatch(t *testing.T) {
	repo := &mockRepository{}
	s := NewAccessLogService(repo, metrics.NewMetrics(), 10, 2, time.Hour)
	cancel, done := runService(t, s)
	defer cancel()

	s.Record(&models.AccessRecord{Path: "/a"})
	s.Record(&models.AccessRecord{Path: "/b"})

	assert.Eventually(t, func() bool { return repo.stored() == 2 }, time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}

func TestAccessLogService_Run_FlushesOnTicker(t *testing.T) {
	repo := &mockRepository{}
	s := NewAccessLogService(repo, metrics.NewMetrics(), 10, 100, 20*time.Millisecond)
	cancel, done := runService(t, s)

	s.Record(&models.AccessRecord{Path: "/sketch.js"})

	assert.Eventually(t, func() bool { return repo.stored() == 1 }, time.Second, 10*time.Millisecond)

	cancel()
	<-done
}

func TestAccessLogService_Run_FlushesOnShutdown(t *testing.T) {
	repo := &mockRepository{}
	s := NewAccessLogService(repo, metrics.NewMetrics(), 10, 4, time.Hour)

	for i := 0; i < 6; i++ {
		s.Record(&models.AccessRecord{Path: "/"})
	}

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := s.Run(ctx)

	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 6, repo.stored())
	assert.Equal(t, []int{4, 2}, repo.batches)
}

func TestAccessLogService_Run_InsertErrorDoesNotStop(t *testing.T) {
	repo := &mockRepository{insertError: errors.New("disk full")}
	s := NewAccessLogService(repo, metrics.NewMetrics(), 10, 1, time.Hour)
	cancel, done := runService(t, s)

	s.Record(&models.AccessRecord{Path: "/"})
	s.Record(&models.AccessRecord{Path: "/"})

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
	assert.Equal(t, 0, repo.stored())
}
