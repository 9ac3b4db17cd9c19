package ingest

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"bricktrack/go-sync-server/internal/model"
)

// Storage is what the sync service needs from the placement store:
// committed-state reads for classification and the atomic batch commit.
type Storage interface {
	StateReader

	// CommitBatch applies the partition in one transaction and returns
	// exact insert/update counts. On error nothing is persisted.
	CommitBatch(ctx context.Context, masonID string, p model.Partition) (inserted, updated int, err error)
}

// Service runs the classify-then-commit sequence for incoming batches.
//
// Classification reads state that the commit later depends on, so the two
// steps run under one mutex. The store is a single-writer SQLite handle;
// serializing whole syncs costs no real parallelism and closes the
// cross-mason check-then-act race.
type Service struct {
	storage Storage
	logger  *slog.Logger

	mu sync.Mutex
}

// NewService constructs the sync service.
func NewService(storage Storage, logger *slog.Logger) *Service {
	return &Service{storage: storage, logger: logger}
}

// Sync normalizes, classifies, and commits one batch from one mason.
// Rejected events are excluded silently and reported in the result; an
// error means the whole batch was rolled back and may be resubmitted.
func (s *Service) Sync(ctx context.Context, masonID string, events []model.PlacementEvent) (model.SyncResult, error) {
	if masonID == "" {
		return model.SyncResult{}, fmt.Errorf("mason id is required")
	}
	if len(events) == 0 {
		// Degenerate input: no-op success, no transaction opened.
		return model.SyncResult{}, nil
	}

	logger := s.logger.With("mason", masonID, "sync", uuid.NewString()[:8])
	logger.Info("sync started", "submitted", len(events))

	result := model.SyncResult{}
	normalized := make([]model.NormalizedEvent, 0, len(events))
	for _, ev := range events {
		n, err := model.Normalize(ev)
		if err != nil {
			logger.Warn("rejected placement",
				"brick", ev.BrickNumber, "reason", string(model.RejectInvalidEvent), "error", err)
			result.Dispositions = append(result.Dispositions, model.Disposition{
				EventID:     fmt.Sprintf("%s-%d", ev.BuildSessionID, ev.EventSeq),
				BrickNumber: ev.BrickNumber,
				Outcome:     model.OutcomeRejected,
				Reason:      model.RejectInvalidEvent,
			})
			result.Rejected++
			continue
		}
		normalized = append(normalized, n)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	classifier := NewClassifier(s.storage, logger)
	partition, dispositions, err := classifier.Classify(ctx, masonID, normalized)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("classify batch: %w", err)
	}

	result.Dispositions = append(result.Dispositions, dispositions...)
	for _, d := range dispositions {
		if d.Outcome == model.OutcomeRejected {
			result.Rejected++
		}
	}

	if partition.Empty() {
		logger.Info("sync complete, nothing accepted", "submitted", len(events), "rejected", result.Rejected)
		return result, nil
	}

	inserted, updated, err := s.storage.CommitBatch(ctx, masonID, partition)
	if err != nil {
		return model.SyncResult{}, fmt.Errorf("commit batch: %w", err)
	}

	result.Inserted = inserted
	result.Updated = updated
	logger.Info("sync complete",
		"submitted", len(events), "inserted", inserted, "updated", updated, "rejected", result.Rejected)
	return result, nil
}
