package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// ShareDescriptor is what an anonymous holder of a public token may learn
// about the shared file.
type ShareDescriptor struct {
	FileID       primitive.ObjectID `bson:"file_id" json:"file_id"`
	FileName     string             `bson:"file_name" json:"file_name"`
	MimeType     string             `bson:"mime_type" json:"mime_type"`
	Size         int64              `bson:"size" json:"size"`
	OwnerID      primitive.ObjectID `bson:"owner_id" json:"-"`
	HasThumbnail bool               `bson:"has_thumbnail" json:"has_thumbnail"`
	ExpiresAt    time.Time          `bson:"expires_at" json:"expires_at"`
}

type ShareLink struct {
	FileID    primitive.ObjectID `json:"file_id"`
	Token     string             `json:"token"`
	ExpiresAt time.Time          `json:"expires_at"`
}
