package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"sharedrive/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestAdmitReportsRequestedAndAvailable(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u@example.com", 1_000_000)
	require.NoError(t, f.store.IncUsed(f.ctx, u.ID, 900_000))

	_, err := f.ledger.Admit(f.ctx, u.ID, 150_000)
	var exceeded *models.QuotaExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, int64(150_000), exceeded.Requested)
	assert.Equal(t, int64(100_000), exceeded.Available)

	a, err := f.ledger.Admit(f.ctx, u.ID, 100_000)
	require.NoError(t, err)
	a.Release(f.ctx)
}

func TestReservationsHoldCapacity(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u@example.com", 100)

	first, err := f.ledger.Admit(f.ctx, u.ID, 60)
	require.NoError(t, err)

	_, err = f.ledger.Admit(f.ctx, u.ID, 60)
	var exceeded *models.QuotaExceededError
	require.True(t, errors.As(err, &exceeded))
	assert.Equal(t, int64(40), exceeded.Available)

	first.Release(f.ctx)
	first.Release(f.ctx)

	second, err := f.ledger.Admit(f.ctx, u.ID, 60)
	require.NoError(t, err)
	second.Release(f.ctx)
}

func TestConcurrentAdmissionsNeverOvercommit(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u@example.com", 1000)

	var wg sync.WaitGroup
	var mu sync.Mutex
	admitted := 0
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			a, err := f.ledger.Admit(context.Background(), u.ID, 200)
			if err != nil {
				return
			}
			assert.NoError(t, a.Commit(context.Background(), 200, nil))
			mu.Lock()
			admitted++
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 5, admitted)
	assert.Equal(t, int64(1000), f.used(t, u.ID))
}

func TestCommitMovesBytesIntoUsage(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u@example.com", 1000)

	a, err := f.ledger.Admit(f.ctx, u.ID, 300)
	require.NoError(t, err)
	require.NoError(t, a.Commit(f.ctx, 120, nil))
	assert.Equal(t, int64(180), a.Remaining())

	err = a.Commit(f.ctx, 500, nil)
	assert.ErrorIs(t, err, models.ErrInvalidState)

	status, err := f.ledger.Status(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(180), status.Reserved)

	a.Release(f.ctx)
	assert.ErrorIs(t, a.Commit(f.ctx, 10, nil), models.ErrInvalidState)
}

func TestCommitRollsBackWithFailedRecord(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u@example.com", 1000)

	a, err := f.ledger.Admit(f.ctx, u.ID, 300)
	require.NoError(t, err)
	defer a.Release(f.ctx)

	boom := errors.New("insert failed")
	err = a.Commit(f.ctx, 300, func(ctx context.Context) error { return boom })
	require.ErrorIs(t, err, boom)

	assert.Zero(t, f.used(t, u.ID))
	assert.Equal(t, int64(300), a.Remaining())
}

func TestStatusReconcilesDrift(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u@example.com", 10_000)
	f.upload(t, u.ID, nil, "a.txt", make([]byte, 300))
	require.NoError(t, f.store.UpdateUsed(f.ctx, u.ID, 9_999))

	status, err := f.ledger.Status(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(300), status.Used)
	assert.Equal(t, int64(9_700), status.Available)
	assert.Equal(t, "9.8 KiB", status.QuotaHuman)
}

func TestAdmitUnknownUser(t *testing.T) {
	f := newFixture(t)
	_, err := f.ledger.Admit(f.ctx, primitive.NewObjectID(), 10)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
