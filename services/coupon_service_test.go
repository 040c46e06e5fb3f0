package services_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"sharedrive/models"
	"sharedrive/services"
	"sharedrive/store"
	"sharedrive/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedeemCreditsOncePerUser(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u@example.com", 1000)
	_, err := f.coupons.CreateCoupon(f.ctx, services.CreateCouponRequest{Code: "welcome", CreditBytes: 500, MaxUses: 10})
	require.NoError(t, err)

	r, err := f.coupons.Redeem(f.ctx, u.ID, " Welcome ")
	require.NoError(t, err)
	assert.Equal(t, int64(500), r.CreditedBytes)

	_, err = f.coupons.Redeem(f.ctx, u.ID, "WELCOME")
	assert.ErrorIs(t, err, models.ErrCouponAlreadyRedeemed)

	got, err := f.store.GetUser(f.ctx, u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1500), got.Quota)
}

func TestRedeemRespectsCap(t *testing.T) {
	f := newFixture(t)
	_, err := f.coupons.CreateCoupon(f.ctx, services.CreateCouponRequest{Code: "TWO", CreditBytes: 1, MaxUses: 2})
	require.NoError(t, err)

	for i, email := range []string{"a@example.com", "b@example.com", "c@example.com"} {
		u := f.user(t, email, 0)
		_, err := f.coupons.Redeem(f.ctx, u.ID, "two")
		if i < 2 {
			require.NoError(t, err)
			continue
		}
		assert.ErrorIs(t, err, models.ErrCouponInvalid)
		got, err := f.store.GetUser(f.ctx, u.ID)
		require.NoError(t, err)
		assert.Zero(t, got.Quota)
	}
}

func TestRedeemRejectsExpiredAndUnknown(t *testing.T) {
	f := newFixture(t)
	u := f.user(t, "u@example.com", 0)
	past := time.Now().Add(-time.Hour)
	_, err := f.coupons.CreateCoupon(f.ctx, services.CreateCouponRequest{Code: "OLD", CreditBytes: 1, MaxUses: 1, ExpiresAt: &past})
	require.NoError(t, err)

	_, err = f.coupons.Redeem(f.ctx, u.ID, "OLD")
	assert.ErrorIs(t, err, models.ErrCouponInvalid)
	_, err = f.coupons.Redeem(f.ctx, u.ID, "MISSING")
	assert.ErrorIs(t, err, models.ErrCouponInvalid)
	_, err = f.coupons.Redeem(f.ctx, u.ID, "  ")
	assert.ErrorIs(t, err, models.ErrCouponInvalid)
}

func TestCreateCouponValidates(t *testing.T) {
	f := newFixture(t)
	_, err := f.coupons.CreateCoupon(f.ctx, services.CreateCouponRequest{Code: "X", CreditBytes: 0, MaxUses: 1})
	assert.ErrorIs(t, err, models.ErrInvalidInput)

	_, err = f.coupons.CreateCoupon(f.ctx, services.CreateCouponRequest{Code: "X", CreditBytes: 1, MaxUses: 1})
	require.NoError(t, err)
	_, err = f.coupons.CreateCoupon(f.ctx, services.CreateCouponRequest{Code: "x", CreditBytes: 1, MaxUses: 1})
	assert.ErrorIs(t, err, models.ErrInvalidState)
}

type unreachableCouponStore struct {
	*store.MemoryStore
}

func (unreachableCouponStore) GetCouponByCode(context.Context, string) (*models.Coupon, error) {
	return nil, errors.New("connection reset by peer")
}

func TestRedeemReportsStoreFailures(t *testing.T) {
	st := store.NewMemoryStore()
	u := st.AddUser(models.User{Email: "u@example.com", Quota: 10})
	svc := services.NewCouponService(unreachableCouponStore{st}, utils.DiscardLogger())

	_, err := svc.Redeem(context.Background(), u.ID, "WELCOME")
	require.Error(t, err)
	assert.NotErrorIs(t, err, models.ErrCouponInvalid)
	assert.NotErrorIs(t, err, models.ErrInvalidState)
	assert.Contains(t, err.Error(), "connection reset by peer")

	got, err := st.GetUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(10), got.Quota)
}
