package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type Coupon struct {
	ID          primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Code        string             `bson:"code" json:"code"`
	CreditBytes int64              `bson:"credit_bytes" json:"credit_bytes"`
	MaxUses     int64              `bson:"max_uses" json:"max_uses"`
	Uses        int64              `bson:"uses" json:"uses"`
	ExpiresAt   *time.Time         `bson:"expires_at,omitempty" json:"expires_at,omitempty"`
	CreatedAt   time.Time          `bson:"created_at" json:"created_at"`
}

func (c *Coupon) Redeemable(now time.Time) bool {
	if c.ExpiresAt != nil && !now.Before(*c.ExpiresAt) {
		return false
	}
	return c.Uses < c.MaxUses
}

type CouponRedemption struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	CouponID      primitive.ObjectID `bson:"coupon_id" json:"coupon_id"`
	UserID        primitive.ObjectID `bson:"user_id" json:"user_id"`
	CreditedBytes int64              `bson:"credited_bytes" json:"credited_bytes"`
	RedeemedAt    time.Time          `bson:"redeemed_at" json:"redeemed_at"`
}
