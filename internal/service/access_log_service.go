package service

import (
	"context"
	"paint-server/internal/metrics"
	"paint-server/internal/models"
	"paint-server/internal/repository"
	"time"

	"github.com/containerd/log"
	"github.com/google/uuid"
	"github.com/samber/lo"
)

const (
	DefaultBufferSize    = 1024
	DefaultBatchSize     = 100
	DefaultFlushInterval = time.Second
)

// AccessLogService buffers access records and writes them to the
// repository in batches from a single goroutine.
type AccessLogService struct {
	repo          repository.AccessRepository
	metrics       *metrics.Metrics
	records       chan *models.AccessRecord
	batchSize     int
	flushInterval time.Duration
}

// NewAccessLogService creates a new access log service
func NewAccessLogService(repo repository.AccessRepository, metrics *metrics.Metrics, bufferSize, batchSize int, flushInterval time.Duration) *AccessLogService {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if flushInterval <= 0 {
		flushInterval = DefaultFlushInterval
	}
	return &AccessLogService{
		repo:          repo,
		metrics:       metrics,
		records:       make(chan *models.AccessRecord, bufferSize),
		batchSize:     batchSize,
		flushInterval: flushInterval,
	}
}

// Record queues rec without blocking. It returns false when the buffer is
// full and the record was dropped.
func (s *AccessLogService) Record(rec *models.AccessRecord) bool {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}

	select {
	case s.records <- rec:
		return true
	default:
		s.metrics.IncrementDroppedLogs()
		return false
	}
}

// Run writes queued records until ctx is done, then flushes whatever is
// still buffered.
func (s *AccessLogService) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.flushInterval)
	defer ticker.Stop()

	pending := make([]*models.AccessRecord, 0, s.batchSize)

	for {
		select {
		case <-ctx.Done():
			pending = s.drain(pending)
			// ctx is already cancelled, the final write gets its own deadline
			flushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			s.flush(flushCtx, pending)
			cancel()
			return ctx.Err()
		case rec := <-s.records:
			pending = append(pending, rec)
			if len(pending) >= s.batchSize {
				s.flush(ctx, pending)
				pending = pending[:0]
			}
		case <-ticker.C:
			s.flush(ctx, pending)
			pending = pending[:0]
		}
	}
}

func (s *AccessLogService) drain(pending []*models.AccessRecord) []*models.AccessRecord {
	for {
		select {
		case rec := <-s.records:
			pending = append(pending, rec)
		default:
			return pending
		}
	}
}

func (s *AccessLogService) flush(ctx context.Context, pending []*models.AccessRecord) {
	for _, batch := range lo.Chunk(pending, s.batchSize) {
		if err := s.repo.InsertRecords(ctx, batch); err != nil {
			log.G(ctx).WithError(err).WithField("records", len(batch)).Error("failed to write access records")
		}
	}
}
