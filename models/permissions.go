package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Grant gives a user access to one folder and the files directly inside it.
// It is not inherited by child folders. Unique per (folder, user).
type Grant struct {
	ID         primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	FolderID   primitive.ObjectID `bson:"folder_id" json:"folder_id"`
	UserID     primitive.ObjectID `bson:"user_id" json:"user_id"`
	Permission PermissionType     `bson:"permission_type" json:"permission_type"`
	GrantedBy  primitive.ObjectID `bson:"granted_by" json:"granted_by"`
	GrantedAt  time.Time          `bson:"granted_at" json:"granted_at"`
}
