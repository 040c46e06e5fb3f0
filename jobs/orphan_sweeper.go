package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"sharedrive/metrics"
	"sharedrive/models"
	"sharedrive/services"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const defaultSweepBatch = 100

// OrphanSweeper retries deletion of blobs whose metadata is already gone and
// brings the owners' usage back in line once the bytes are really freed.
type OrphanSweeper struct {
	store    services.Store
	blobs    services.BlobStore
	ledger   *services.QuotaLedger
	interval time.Duration
	batch    int64
	logger   *slog.Logger
	metrics  *metrics.Metrics
	now      func() time.Time
}

type SweepResult struct {
	Deleted int
	Failed  int
}

func NewOrphanSweeper(store services.Store, blobs services.BlobStore, ledger *services.QuotaLedger, interval time.Duration, logger *slog.Logger, m *metrics.Metrics) *OrphanSweeper {
	return &OrphanSweeper{
		store:    store,
		blobs:    blobs,
		ledger:   ledger,
		interval: interval,
		batch:    defaultSweepBatch,
		logger:   logger.With("job", "orphan_sweeper"),
		metrics:  m,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Run sweeps once immediately and then on every tick until ctx is done.
func (s *OrphanSweeper) Run(ctx context.Context) {
	s.logger.Info("starting orphan sweeper", "interval", s.interval)
	s.sweep(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("orphan sweeper stopped")
			return
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *OrphanSweeper) sweep(ctx context.Context) {
	runCtx, cancel := context.WithTimeout(ctx, 30*time.Minute)
	defer cancel()

	res, err := s.RunOnce(runCtx)
	if err != nil {
		s.logger.Error("orphan sweep failed", "error", err)
		return
	}
	if res.Deleted > 0 || res.Failed > 0 {
		s.logger.Info("orphan sweep finished", "deleted", res.Deleted, "failed", res.Failed)
	}
}

// RunOnce processes one batch of orphaned blobs.
func (s *OrphanSweeper) RunOnce(ctx context.Context) (SweepResult, error) {
	var res SweepResult

	orphans, err := s.store.ListOrphans(ctx, s.batch)
	if err != nil {
		return res, err
	}

	owners := map[primitive.ObjectID]bool{}
	for _, o := range orphans {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		if err := s.blobs.Delete(ctx, o.BlobID, o.BlobName); err != nil {
			res.Failed++
			s.metrics.OrphanSweep("failed")
			s.logger.Warn("orphaned blob still not deletable", "blob", o.BlobName, "attempts", o.Attempts+1, "error", err)
			if err := s.store.MarkOrphanAttempt(ctx, o.ID, s.now()); err != nil {
				s.logger.Error("failed to record sweep attempt", "orphan_id", o.ID.Hex(), "error", err)
			}
			continue
		}

		if err := s.store.DeleteOrphan(ctx, o.ID); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Error("failed to remove orphan record", "orphan_id", o.ID.Hex(), "error", err)
		}
		res.Deleted++
		s.metrics.OrphanSweep("deleted")
		owners[o.OwnerID] = true
	}

	for owner := range owners {
		if _, err := s.ledger.Reconcile(ctx, owner); err != nil && !errors.Is(err, models.ErrNotFound) {
			s.logger.Warn("failed to reconcile usage after sweep", "user_id", owner.Hex(), "error", err)
		}
	}
	return res, nil
}
