package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type NotificationLog struct {
	ID        primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	UserID    primitive.ObjectID `bson:"user_id" json:"user_id"`
	Type      string             `bson:"type" json:"type"` // "folder_shared"
	Title     string             `bson:"title" json:"title"`
	Message   string             `bson:"message" json:"message"`
	ItemID    primitive.ObjectID `bson:"item_id" json:"item_id"`
	ItemType  string             `bson:"item_type" json:"item_type"`
	Delivered bool               `bson:"delivered" json:"delivered"`
	Attempts  int                `bson:"attempts" json:"attempts"`
	LastError string             `bson:"last_error,omitempty" json:"last_error,omitempty"`
	CreatedAt time.Time          `bson:"created_at" json:"created_at"`
}
