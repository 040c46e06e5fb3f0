package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"sharedrive/models"

	"github.com/dustin/go-humanize"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type CouponService struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewCouponService(store Store, logger *slog.Logger) *CouponService {
	return &CouponService{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

func normalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}

type CreateCouponRequest struct {
	Code        string
	CreditBytes int64
	MaxUses     int64
	ExpiresAt   *time.Time
}

func (s *CouponService) CreateCoupon(ctx context.Context, req CreateCouponRequest) (*models.Coupon, error) {
	code := normalizeCouponCode(req.Code)
	if code == "" || req.CreditBytes <= 0 || req.MaxUses <= 0 {
		return nil, fmt.Errorf("coupon needs a code, positive credit and positive max uses: %w", models.ErrInvalidInput)
	}

	coupon := &models.Coupon{
		Code:        code,
		CreditBytes: req.CreditBytes,
		MaxUses:     req.MaxUses,
		ExpiresAt:   req.ExpiresAt,
		CreatedAt:   s.now(),
	}
	if err := s.store.InsertCoupon(ctx, coupon); err != nil {
		return nil, err
	}
	s.logger.Info("coupon created", "code", code, "credit", humanize.IBytes(uint64(req.CreditBytes)), "max_uses", req.MaxUses)
	return coupon, nil
}

// Redeem credits the coupon's bytes to the user's quota. Each user redeems a
// coupon at most once and total redemptions never exceed the coupon's cap.
func (s *CouponService) Redeem(ctx context.Context, userID primitive.ObjectID, code string) (*models.CouponRedemption, error) {
	code = normalizeCouponCode(code)
	if code == "" {
		return nil, models.ErrCouponInvalid
	}

	var redemption *models.CouponRedemption
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		coupon, err := s.store.GetCouponByCode(ctx, code)
		if errors.Is(err, models.ErrNotFound) {
			return models.ErrCouponInvalid
		}
		if err != nil {
			return fmt.Errorf("failed to load coupon: %w", err)
		}
		now := s.now()
		if !coupon.Redeemable(now) {
			return models.ErrCouponInvalid
		}

		redeemed, err := s.store.HasRedemption(ctx, coupon.ID, userID)
		if err != nil {
			return err
		}
		if redeemed {
			return models.ErrCouponAlreadyRedeemed
		}

		if err := s.store.IncrementCouponUses(ctx, coupon.ID); err != nil {
			return err
		}
		if err := s.store.CreditQuota(ctx, userID, coupon.CreditBytes); err != nil {
			return err
		}

		r := &models.CouponRedemption{
			CouponID:      coupon.ID,
			UserID:        userID,
			CreditedBytes: coupon.CreditBytes,
			RedeemedAt:    now,
		}
		if err := s.store.InsertRedemption(ctx, r); err != nil {
			return err
		}
		redemption = r
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("coupon redeemed", "code", code, "user_id", userID.Hex(),
		"credit", humanize.IBytes(uint64(redemption.CreditedBytes)))
	return redemption, nil
}
