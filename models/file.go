package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type File struct {
	ID                primitive.ObjectID  `bson:"_id,omitempty" json:"id"`
	Name              string              `bson:"name" json:"name"`
	OwnerID           primitive.ObjectID  `bson:"owner_id" json:"owner_id"`
	FolderID          *primitive.ObjectID `bson:"folder_id,omitempty" json:"folder_id,omitempty"`
	Size              int64               `bson:"size" json:"size"`
	MimeType          string              `bson:"mime_type" json:"mime_type"`
	BlobID            string              `bson:"blob_id" json:"-"`
	BlobName          string              `bson:"blob_name" json:"-"`
	ThumbnailBlobID   string              `bson:"thumbnail_blob_id,omitempty" json:"-"`
	ThumbnailBlobName string              `bson:"thumbnail_blob_name,omitempty" json:"-"`
	DownloadCount     int64               `bson:"download_count" json:"download_count"`
	IsPublic          bool                `bson:"is_public" json:"is_public"`
	PublicShareToken  string              `bson:"public_share_token,omitempty" json:"-"`
	ShareExpiresAt    *time.Time          `bson:"share_expires_at,omitempty" json:"share_expires_at,omitempty"`
	CreatedAt         time.Time           `bson:"created_at" json:"created_at"`
	UpdatedAt         time.Time           `bson:"updated_at" json:"updated_at"`
}

func (f *File) HasThumbnail() bool {
	return f.ThumbnailBlobName != ""
}

// ShareActive reports whether the public link resolves at now.
func (f *File) ShareActive(now time.Time) bool {
	if !f.IsPublic || f.PublicShareToken == "" {
		return false
	}
	return f.ShareExpiresAt == nil || now.Before(*f.ShareExpiresAt)
}
