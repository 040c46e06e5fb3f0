package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// BlobObject identifies a stored object in the blob store.
type BlobObject struct {
	BlobID string
	Name   string
	URL    string
	Size   int64
}

// OrphanedBlob is a blob whose metadata is gone but whose deletion failed.
type OrphanedBlob struct {
	ID            primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	BlobID        string             `bson:"blob_id" json:"blob_id"`
	BlobName      string             `bson:"blob_name" json:"blob_name"`
	OwnerID       primitive.ObjectID `bson:"owner_id" json:"owner_id"`
	Reason        string             `bson:"reason" json:"reason"`
	Attempts      int                `bson:"attempts" json:"attempts"`
	CreatedAt     time.Time          `bson:"created_at" json:"created_at"`
	LastAttemptAt *time.Time         `bson:"last_attempt_at,omitempty" json:"last_attempt_at,omitempty"`
}
