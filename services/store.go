package services

import (
	"context"
	"io"
	"time"

	"sharedrive/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Store is the authoritative metadata store. Lookups of missing documents
// return an error wrapping models.ErrNotFound.
type Store interface {
	// WithTransaction runs fn so that every store call made with the
	// context it receives commits or aborts together.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error

	GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	EnsureUser(ctx context.Context, user *models.User) (*models.User, error)
	IncUsed(ctx context.Context, userID primitive.ObjectID, delta int64) error
	UpdateUsed(ctx context.Context, userID primitive.ObjectID, used int64) error
	CreditQuota(ctx context.Context, userID primitive.ObjectID, bytes int64) error

	GetFolder(ctx context.Context, id primitive.ObjectID) (*models.Folder, error)
	InsertFolder(ctx context.Context, folder *models.Folder) error
	DeleteFolder(ctx context.Context, id primitive.ObjectID) error
	TouchFolder(ctx context.Context, id primitive.ObjectID) error
	UpdateFolderParent(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error
	CountFolderChildren(ctx context.Context, id primitive.ObjectID) (folders int64, files int64, err error)
	ListChildFolders(ctx context.Context, parentID primitive.ObjectID) ([]models.Folder, error)
	ListRootFolders(ctx context.Context, ownerID primitive.ObjectID) ([]models.Folder, error)

	GetFile(ctx context.Context, id primitive.ObjectID) (*models.File, error)
	InsertFile(ctx context.Context, file *models.File) error
	DeleteFile(ctx context.Context, id primitive.ObjectID) error
	UpdateFileFolder(ctx context.Context, id primitive.ObjectID, folderID *primitive.ObjectID) error
	IncrementDownloads(ctx context.Context, id primitive.ObjectID) error
	SetFileShare(ctx context.Context, id primitive.ObjectID, token string, expiresAt time.Time) error
	ClearFileShare(ctx context.Context, id primitive.ObjectID) error
	GetPublicFileByToken(ctx context.Context, token string) (*models.File, error)
	ListFolderFiles(ctx context.Context, folderID primitive.ObjectID) ([]models.File, error)
	ListRootFiles(ctx context.Context, ownerID primitive.ObjectID) ([]models.File, error)
	SumFileSizes(ctx context.Context, ownerID primitive.ObjectID) (int64, error)

	GetGrant(ctx context.Context, folderID, userID primitive.ObjectID) (*models.Grant, error)
	UpsertGrant(ctx context.Context, grant *models.Grant) error
	DeleteGrant(ctx context.Context, folderID, userID primitive.ObjectID) error
	DeleteFolderGrants(ctx context.Context, folderID primitive.ObjectID) error
	ListGrants(ctx context.Context, folderID primitive.ObjectID) ([]models.Grant, error)
	ListUserGrants(ctx context.Context, userID primitive.ObjectID) ([]models.Grant, error)

	InsertReservation(ctx context.Context, res *models.QuotaReservation) error
	ShrinkReservation(ctx context.Context, id primitive.ObjectID, bytes int64) error
	DeleteReservation(ctx context.Context, id primitive.ObjectID) error
	SumActiveReservations(ctx context.Context, userID primitive.ObjectID, now time.Time) (int64, error)

	InsertCoupon(ctx context.Context, coupon *models.Coupon) error
	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	IncrementCouponUses(ctx context.Context, id primitive.ObjectID) error
	HasRedemption(ctx context.Context, couponID, userID primitive.ObjectID) (bool, error)
	InsertRedemption(ctx context.Context, redemption *models.CouponRedemption) error

	RecordOrphan(ctx context.Context, orphan *models.OrphanedBlob) error
	ListOrphans(ctx context.Context, limit int64) ([]models.OrphanedBlob, error)
	MarkOrphanAttempt(ctx context.Context, id primitive.ObjectID, at time.Time) error
	DeleteOrphan(ctx context.Context, id primitive.ObjectID) error

	LogNotification(ctx context.Context, entry *models.NotificationLog) error
}

// BlobStore persists file bytes. SignURL always returns a freshly signed
// retrieval URL valid for ttl.
type BlobStore interface {
	Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (*models.BlobObject, error)
	SignURL(ctx context.Context, name string, ttl time.Duration) (string, error)
	Delete(ctx context.Context, blobID, name string) error
}

// CacheBackend is a best-effort TTL key/value store. A miss is reported as
// (nil, false, nil); errors mean the backend itself failed.
type CacheBackend interface {
	Get(key string) ([]byte, bool, error)
	Set(key string, value []byte, ttl time.Duration) error
	Delete(keys ...string) error
	DeletePrefix(prefix string) error
}
