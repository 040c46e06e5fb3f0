package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// QuotaReservation holds admitted but not yet stored bytes for an upload batch.
type QuotaReservation struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Bytes     int64              `bson:"bytes" json:"bytes"`
	ExpiresAt time.Time          `bson:"expires_at" json:"expires_at"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}

type QuotaStatus struct {
	Quota          int64  `json:"quota"`
	Used           int64  `json:"used"`
	Reserved       int64  `json:"reserved"`
	Available      int64  `json:"available"`
	QuotaHuman     string `json:"quota_human"`
	UsedHuman      string `json:"used_human"`
	AvailableHuman string `json:"available_human"`
}
