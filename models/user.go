package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type User struct {
	ID    primitive.ObjectID `bson:"_id,omitempty" json:"id"`
	Email string             `bson:"email" json:"email"`
	Name  string             `bson:"name" json:"name"`
	Role  string             `bson:"role" json:"role"`
	Quota int64              `bson:"quota" json:"quota"`
	Used  int64              `bson:"used" json:"used"`
	// QuotaVersion is bumped by every reservation so concurrent admissions
	// for the same user conflict inside the store transaction.
	QuotaVersion int64     `bson:"quota_version" json:"-"`
	CreatedAt    time.Time `bson:"created_at" json:"created_at"`
	UpdatedAt    time.Time `bson:"updated_at" json:"updated_at"`
}
