package services

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sharedrive/metrics"
	"sharedrive/models"

	"github.com/dustin/go-humanize"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// QuotaLedger tracks stored bytes per user against the user's quota.
// Admission is batch-atomic: a reservation for the whole batch is recorded
// in the same transaction that checks capacity, so concurrent batches for
// one user cannot both fit into the same free space.
type QuotaLedger struct {
	store          Store
	reservationTTL time.Duration
	logger         *slog.Logger
	metrics        *metrics.Metrics
	now            func() time.Time
}

func NewQuotaLedger(store Store, reservationTTL time.Duration, logger *slog.Logger, m *metrics.Metrics) *QuotaLedger {
	return &QuotaLedger{
		store:          store,
		reservationTTL: reservationTTL,
		logger:         logger,
		metrics:        m,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Admission is capacity reserved for one upload batch. Commit moves bytes
// from the reservation into the user's usage; Release returns whatever was
// not committed.
type Admission struct {
	ledger        *QuotaLedger
	UserID        primitive.ObjectID
	ReservationID primitive.ObjectID

	mu        sync.Mutex
	remaining int64
	released  bool
}

func (a *Admission) Remaining() int64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.remaining
}

// Admit reserves bytes for userID or fails with *models.QuotaExceededError
// reporting the requested and available byte counts.
func (l *QuotaLedger) Admit(ctx context.Context, userID primitive.ObjectID, bytes int64) (*Admission, error) {
	if bytes < 0 {
		return nil, fmt.Errorf("negative admission size: %w", models.ErrInvalidInput)
	}

	var res *models.QuotaReservation
	err := l.store.WithTransaction(ctx, func(ctx context.Context) error {
		user, err := l.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		now := l.now()
		reserved, err := l.store.SumActiveReservations(ctx, userID, now)
		if err != nil {
			return err
		}

		available := max(user.Quota-user.Used-reserved, 0)
		if bytes > available {
			return &models.QuotaExceededError{Requested: bytes, Available: available}
		}

		r := &models.QuotaReservation{
			UserID:    userID,
			Bytes:     bytes,
			ExpiresAt: now.Add(l.reservationTTL),
			CreatedAt: now,
		}
		if err := l.store.InsertReservation(ctx, r); err != nil {
			return err
		}
		res = r
		return nil
	})
	if err != nil {
		l.metrics.QuotaDecision(false)
		return nil, err
	}

	l.metrics.QuotaDecision(true)
	l.logger.Debug("quota admitted", "user_id", userID.Hex(), "bytes", bytes)
	return &Admission{
		ledger:        l,
		UserID:        userID,
		ReservationID: res.ID,
		remaining:     bytes,
	}, nil
}

// Commit records size stored bytes against the admission. within runs in
// the same transaction, so the file record and the usage change land
// together. Call it only after the blob write succeeded.
func (a *Admission) Commit(ctx context.Context, size int64, within func(ctx context.Context) error) error {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return fmt.Errorf("admission already released: %w", models.ErrInvalidState)
	}
	if size < 0 || size > a.remaining {
		a.mu.Unlock()
		return fmt.Errorf("commit of %d bytes exceeds admitted %d: %w", size, a.remaining, models.ErrInvalidState)
	}
	a.remaining -= size
	a.mu.Unlock()

	err := a.ledger.store.WithTransaction(ctx, func(ctx context.Context) error {
		if within != nil {
			if err := within(ctx); err != nil {
				return err
			}
		}
		if err := a.ledger.store.IncUsed(ctx, a.UserID, size); err != nil {
			return err
		}
		return a.ledger.store.ShrinkReservation(ctx, a.ReservationID, size)
	})
	if err != nil {
		a.mu.Lock()
		a.remaining += size
		a.mu.Unlock()
		return err
	}
	a.ledger.metrics.Uploaded(size)
	return nil
}

// Release drops the uncommitted part of the reservation. It is safe to call
// more than once.
func (a *Admission) Release(ctx context.Context) {
	a.mu.Lock()
	if a.released {
		a.mu.Unlock()
		return
	}
	a.released = true
	a.mu.Unlock()

	if err := a.ledger.store.DeleteReservation(ctx, a.ReservationID); err != nil {
		// The TTL index reclaims it eventually.
		a.ledger.logger.Warn("failed to release quota reservation",
			"reservation_id", a.ReservationID.Hex(), "error", err)
	}
}

// Commit applies a signed usage delta. Use it inside the transaction that
// removed or added the underlying file record.
func (l *QuotaLedger) Commit(ctx context.Context, userID primitive.ObjectID, delta int64) error {
	if err := l.store.IncUsed(ctx, userID, delta); err != nil {
		return fmt.Errorf("failed to apply usage delta: %w", err)
	}
	return nil
}

// Reconcile recomputes usage as the sum of the user's stored file sizes and
// persists it if it drifted.
func (l *QuotaLedger) Reconcile(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	var actual int64
	err := l.store.WithTransaction(ctx, func(ctx context.Context) error {
		user, err := l.store.GetUser(ctx, userID)
		if err != nil {
			return err
		}
		sum, err := l.store.SumFileSizes(ctx, userID)
		if err != nil {
			return err
		}
		actual = sum
		if user.Used == sum {
			return nil
		}
		l.logger.Warn("reconciling quota usage", "user_id", userID.Hex(), "recorded", user.Used, "actual", sum)
		return l.store.UpdateUsed(ctx, userID, sum)
	})
	if err != nil {
		return 0, err
	}
	return actual, nil
}

// Status reconciles usage and reports the user's quota position.
func (l *QuotaLedger) Status(ctx context.Context, userID primitive.ObjectID) (*models.QuotaStatus, error) {
	if _, err := l.Reconcile(ctx, userID); err != nil {
		return nil, err
	}
	user, err := l.store.GetUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	reserved, err := l.store.SumActiveReservations(ctx, userID, l.now())
	if err != nil {
		return nil, err
	}

	available := max(user.Quota-user.Used-reserved, 0)
	return &models.QuotaStatus{
		Quota:          user.Quota,
		Used:           user.Used,
		Reserved:       reserved,
		Available:      available,
		QuotaHuman:     humanize.IBytes(uint64(max(user.Quota, 0))),
		UsedHuman:      humanize.IBytes(uint64(max(user.Used, 0))),
		AvailableHuman: humanize.IBytes(uint64(available)),
	}, nil
}
