package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"sharedrive/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// MongoStore is the authoritative store backed by MongoDB. Multi-document
// operations rely on replica-set transactions.
type MongoStore struct {
	client        *mongo.Client
	users         *mongo.Collection
	folders       *mongo.Collection
	files         *mongo.Collection
	grants        *mongo.Collection
	reservations  *mongo.Collection
	coupons       *mongo.Collection
	redemptions   *mongo.Collection
	orphans       *mongo.Collection
	notifications *mongo.Collection
}

func NewMongoStore(db *mongo.Database) *MongoStore {
	return &MongoStore{
		client:        db.Client(),
		users:         db.Collection("users"),
		folders:       db.Collection("folders"),
		files:         db.Collection("files"),
		grants:        db.Collection("permissions"),
		reservations:  db.Collection("quota_reservations"),
		coupons:       db.Collection("coupons"),
		redemptions:   db.Collection("coupon_redemptions"),
		orphans:       db.Collection("orphaned_blobs"),
		notifications: db.Collection("notification_logs"),
	}
}

// EnsureIndexes creates the unique and TTL indexes the store relies on.
func (s *MongoStore) EnsureIndexes(ctx context.Context) error {
	asc := func(keys ...string) bson.D {
		d := bson.D{}
		for _, k := range keys {
			d = append(d, bson.E{Key: k, Value: 1})
		}
		return d
	}

	indexes := map[*mongo.Collection][]mongo.IndexModel{
		s.users: {
			{Keys: asc("email"), Options: options.Index().SetUnique(true)},
		},
		s.folders: {
			{Keys: asc("parent_id")},
			{Keys: asc("owner_id", "parent_id")},
		},
		s.files: {
			{Keys: asc("folder_id")},
			{Keys: asc("owner_id", "folder_id")},
			{
				Keys: asc("public_share_token"),
				Options: options.Index().SetUnique(true).
					SetPartialFilterExpression(bson.M{"public_share_token": bson.M{"$type": "string"}}),
			},
		},
		s.grants: {
			{Keys: asc("folder_id", "user_id"), Options: options.Index().SetUnique(true)},
			{Keys: asc("user_id")},
		},
		s.reservations: {
			{Keys: asc("expires_at"), Options: options.Index().SetExpireAfterSeconds(0)},
			{Keys: asc("user_id")},
		},
		s.coupons: {
			{Keys: asc("code"), Options: options.Index().SetUnique(true)},
		},
		s.redemptions: {
			{Keys: asc("coupon_id", "user_id"), Options: options.Index().SetUnique(true)},
		},
		s.orphans: {
			{Keys: asc("created_at")},
		},
	}

	for coll, idx := range indexes {
		if _, err := coll.Indexes().CreateMany(ctx, idx); err != nil {
			return fmt.Errorf("failed to create indexes on %s: %w", coll.Name(), err)
		}
	}
	return nil
}

func (s *MongoStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mongo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	session, err := s.client.StartSession()
	if err != nil {
		return fmt.Errorf("failed to start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

func lookupErr(err error, what string) error {
	if errors.Is(err, mongo.ErrNoDocuments) {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return fmt.Errorf("failed to load %s: %w", what, err)
}

func matched(res *mongo.UpdateResult, err error, what string) error {
	if err != nil {
		return fmt.Errorf("failed to update %s: %w", what, err)
	}
	if res.MatchedCount == 0 {
		return fmt.Errorf("%s: %w", what, models.ErrNotFound)
	}
	return nil
}

func findAll[T any](ctx context.Context, coll *mongo.Collection, filter interface{}, opts ...*options.FindOptions) ([]T, error) {
	cursor, err := coll.Find(ctx, filter, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to query %s: %w", coll.Name(), err)
	}
	defer cursor.Close(ctx)

	out := []T{}
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", coll.Name(), err)
	}
	return out, nil
}

func sumField(ctx context.Context, coll *mongo.Collection, match bson.D, field string) (int64, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: match}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "total", Value: bson.D{{Key: "$sum", Value: "$" + field}}},
		}}},
	}
	cursor, err := coll.Aggregate(ctx, pipeline)
	if err != nil {
		return 0, fmt.Errorf("failed to aggregate %s: %w", coll.Name(), err)
	}
	defer cursor.Close(ctx)

	var rows []struct {
		Total int64 `bson:"total"`
	}
	if err := cursor.All(ctx, &rows); err != nil {
		return 0, fmt.Errorf("failed to decode %s aggregate: %w", coll.Name(), err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Total, nil
}

// Users

func (s *MongoStore) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	var user models.User
	if err := s.users.FindOne(ctx, bson.M{"_id": id}).Decode(&user); err != nil {
		return nil, lookupErr(err, "user")
	}
	return &user, nil
}

func (s *MongoStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	filter := bson.M{"email": strings.ToLower(strings.TrimSpace(email))}
	if err := s.users.FindOne(ctx, filter).Decode(&user); err != nil {
		return nil, lookupErr(err, "user")
	}
	return &user, nil
}

func (s *MongoStore) EnsureUser(ctx context.Context, user *models.User) (*models.User, error) {
	now := time.Now().UTC()
	update := bson.M{
		"$set": bson.M{
			"email":      strings.ToLower(user.Email),
			"name":       user.Name,
			"role":       user.Role,
			"updated_at": now,
		},
		"$setOnInsert": bson.M{
			"quota":         user.Quota,
			"used":          int64(0),
			"quota_version": int64(0),
			"created_at":    now,
		},
	}
	opts := options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)

	var stored models.User
	if err := s.users.FindOneAndUpdate(ctx, bson.M{"_id": user.ID}, update, opts).Decode(&stored); err != nil {
		return nil, fmt.Errorf("failed to upsert user: %w", err)
	}
	return &stored, nil
}

func (s *MongoStore) IncUsed(ctx context.Context, userID primitive.ObjectID, delta int64) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{"used": delta},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	return matched(res, err, "user")
}

func (s *MongoStore) UpdateUsed(ctx context.Context, userID primitive.ObjectID, used int64) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$set": bson.M{"used": used, "updated_at": time.Now().UTC()},
	})
	return matched(res, err, "user")
}

func (s *MongoStore) CreditQuota(ctx context.Context, userID primitive.ObjectID, bytes int64) error {
	res, err := s.users.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{
		"$inc": bson.M{"quota": bytes, "quota_version": 1},
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	return matched(res, err, "user")
}

// Folders

func (s *MongoStore) GetFolder(ctx context.Context, id primitive.ObjectID) (*models.Folder, error) {
	var folder models.Folder
	if err := s.folders.FindOne(ctx, bson.M{"_id": id}).Decode(&folder); err != nil {
		return nil, lookupErr(err, "folder")
	}
	return &folder, nil
}

func (s *MongoStore) InsertFolder(ctx context.Context, folder *models.Folder) error {
	if folder.ID.IsZero() {
		folder.ID = primitive.NewObjectID()
	}
	if _, err := s.folders.InsertOne(ctx, folder); err != nil {
		return fmt.Errorf("failed to insert folder: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteFolder(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.folders.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete folder: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("folder: %w", models.ErrNotFound)
	}
	return nil
}

// TouchFolder writes the folder document so that a transaction adding
// children conflicts with one deleting the folder.
func (s *MongoStore) TouchFolder(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.folders.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{"updated_at": time.Now().UTC()},
	})
	return matched(res, err, "folder")
}

func (s *MongoStore) UpdateFolderParent(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error {
	update := bson.M{"$set": bson.M{"parent_id": parentID, "updated_at": time.Now().UTC()}}
	if parentID == nil {
		update = bson.M{
			"$unset": bson.M{"parent_id": ""},
			"$set":   bson.M{"updated_at": time.Now().UTC()},
		}
	}
	res, err := s.folders.UpdateOne(ctx, bson.M{"_id": id}, update)
	return matched(res, err, "folder")
}

func (s *MongoStore) CountFolderChildren(ctx context.Context, id primitive.ObjectID) (int64, int64, error) {
	folders, err := s.folders.CountDocuments(ctx, bson.M{"parent_id": id})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count child folders: %w", err)
	}
	files, err := s.files.CountDocuments(ctx, bson.M{"folder_id": id})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to count folder files: %w", err)
	}
	return folders, files, nil
}

func (s *MongoStore) ListChildFolders(ctx context.Context, parentID primitive.ObjectID) ([]models.Folder, error) {
	return findAll[models.Folder](ctx, s.folders, bson.M{"parent_id": parentID},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

func (s *MongoStore) ListRootFolders(ctx context.Context, ownerID primitive.ObjectID) ([]models.Folder, error) {
	return findAll[models.Folder](ctx, s.folders, bson.M{"owner_id": ownerID, "parent_id": nil},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

// Files

func (s *MongoStore) GetFile(ctx context.Context, id primitive.ObjectID) (*models.File, error) {
	var file models.File
	if err := s.files.FindOne(ctx, bson.M{"_id": id}).Decode(&file); err != nil {
		return nil, lookupErr(err, "file")
	}
	return &file, nil
}

func (s *MongoStore) InsertFile(ctx context.Context, file *models.File) error {
	if file.ID.IsZero() {
		file.ID = primitive.NewObjectID()
	}
	if _, err := s.files.InsertOne(ctx, file); err != nil {
		return fmt.Errorf("failed to insert file: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteFile(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.files.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return fmt.Errorf("failed to delete file: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("file: %w", models.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) UpdateFileFolder(ctx context.Context, id primitive.ObjectID, folderID *primitive.ObjectID) error {
	update := bson.M{"$set": bson.M{"folder_id": folderID, "updated_at": time.Now().UTC()}}
	if folderID == nil {
		update = bson.M{
			"$unset": bson.M{"folder_id": ""},
			"$set":   bson.M{"updated_at": time.Now().UTC()},
		}
	}
	res, err := s.files.UpdateOne(ctx, bson.M{"_id": id}, update)
	return matched(res, err, "file")
}

func (s *MongoStore) IncrementDownloads(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.files.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"download_count": 1}})
	return matched(res, err, "file")
}

func (s *MongoStore) SetFileShare(ctx context.Context, id primitive.ObjectID, token string, expiresAt time.Time) error {
	res, err := s.files.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{
		"is_public":          true,
		"public_share_token": token,
		"share_expires_at":   expiresAt,
		"updated_at":         time.Now().UTC(),
	}})
	return matched(res, err, "file")
}

func (s *MongoStore) ClearFileShare(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.files.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"is_public": false, "updated_at": time.Now().UTC()},
		"$unset": bson.M{"public_share_token": "", "share_expires_at": ""},
	})
	return matched(res, err, "file")
}

func (s *MongoStore) GetPublicFileByToken(ctx context.Context, token string) (*models.File, error) {
	var file models.File
	filter := bson.M{"public_share_token": token, "is_public": true}
	if err := s.files.FindOne(ctx, filter).Decode(&file); err != nil {
		return nil, lookupErr(err, "shared file")
	}
	return &file, nil
}

func (s *MongoStore) ListFolderFiles(ctx context.Context, folderID primitive.ObjectID) ([]models.File, error) {
	return findAll[models.File](ctx, s.files, bson.M{"folder_id": folderID},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

func (s *MongoStore) ListRootFiles(ctx context.Context, ownerID primitive.ObjectID) ([]models.File, error) {
	return findAll[models.File](ctx, s.files, bson.M{"owner_id": ownerID, "folder_id": nil},
		options.Find().SetSort(bson.D{{Key: "name", Value: 1}}))
}

func (s *MongoStore) SumFileSizes(ctx context.Context, ownerID primitive.ObjectID) (int64, error) {
	return sumField(ctx, s.files, bson.D{{Key: "owner_id", Value: ownerID}}, "size")
}

// Grants

func (s *MongoStore) GetGrant(ctx context.Context, folderID, userID primitive.ObjectID) (*models.Grant, error) {
	var grant models.Grant
	filter := bson.M{"folder_id": folderID, "user_id": userID}
	if err := s.grants.FindOne(ctx, filter).Decode(&grant); err != nil {
		return nil, lookupErr(err, "grant")
	}
	return &grant, nil
}

func (s *MongoStore) UpsertGrant(ctx context.Context, grant *models.Grant) error {
	if grant.ID.IsZero() {
		grant.ID = primitive.NewObjectID()
	}
	filter := bson.M{"folder_id": grant.FolderID, "user_id": grant.UserID}
	update := bson.M{
		"$set": bson.M{
			"permission_type": grant.Permission,
			"granted_by":      grant.GrantedBy,
			"granted_at":      grant.GrantedAt,
		},
		"$setOnInsert": bson.M{"_id": grant.ID},
	}
	if _, err := s.grants.UpdateOne(ctx, filter, update, options.Update().SetUpsert(true)); err != nil {
		return fmt.Errorf("failed to upsert grant: %w", err)
	}
	return nil
}

func (s *MongoStore) DeleteGrant(ctx context.Context, folderID, userID primitive.ObjectID) error {
	res, err := s.grants.DeleteOne(ctx, bson.M{"folder_id": folderID, "user_id": userID})
	if err != nil {
		return fmt.Errorf("failed to delete grant: %w", err)
	}
	if res.DeletedCount == 0 {
		return fmt.Errorf("grant: %w", models.ErrNotFound)
	}
	return nil
}

func (s *MongoStore) DeleteFolderGrants(ctx context.Context, folderID primitive.ObjectID) error {
	if _, err := s.grants.DeleteMany(ctx, bson.M{"folder_id": folderID}); err != nil {
		return fmt.Errorf("failed to delete folder grants: %w", err)
	}
	return nil
}

func (s *MongoStore) ListGrants(ctx context.Context, folderID primitive.ObjectID) ([]models.Grant, error) {
	return findAll[models.Grant](ctx, s.grants, bson.M{"folder_id": folderID})
}

func (s *MongoStore) ListUserGrants(ctx context.Context, userID primitive.ObjectID) ([]models.Grant, error) {
	return findAll[models.Grant](ctx, s.grants, bson.M{"user_id": userID})
}

// Quota reservations

func (s *MongoStore) InsertReservation(ctx context.Context, res *models.QuotaReservation) error {
	if res.ID.IsZero() {
		res.ID = primitive.NewObjectID()
	}
	if _, err := s.reservations.InsertOne(ctx, res); err != nil {
		return fmt.Errorf("failed to insert reservation: %w", err)
	}
	// Write the user document so concurrent admissions conflict.
	upd, err := s.users.UpdateOne(ctx, bson.M{"_id": res.UserID}, bson.M{"$inc": bson.M{"quota_version": 1}})
	return matched(upd, err, "user")
}

func (s *MongoStore) ShrinkReservation(ctx context.Context, id primitive.ObjectID, bytes int64) error {
	res, err := s.reservations.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$inc": bson.M{"bytes": -bytes}})
	return matched(res, err, "reservation")
}

func (s *MongoStore) DeleteReservation(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.reservations.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete reservation: %w", err)
	}
	return nil
}

func (s *MongoStore) SumActiveReservations(ctx context.Context, userID primitive.ObjectID, now time.Time) (int64, error) {
	return sumField(ctx, s.reservations, bson.D{
		{Key: "user_id", Value: userID},
		{Key: "expires_at", Value: bson.M{"$gt": now}},
	}, "bytes")
}

// Coupons

func (s *MongoStore) InsertCoupon(ctx context.Context, coupon *models.Coupon) error {
	if coupon.ID.IsZero() {
		coupon.ID = primitive.NewObjectID()
	}
	if _, err := s.coupons.InsertOne(ctx, coupon); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return fmt.Errorf("coupon code already exists: %w", models.ErrInvalidState)
		}
		return fmt.Errorf("failed to insert coupon: %w", err)
	}
	return nil
}

func (s *MongoStore) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var coupon models.Coupon
	if err := s.coupons.FindOne(ctx, bson.M{"code": code}).Decode(&coupon); err != nil {
		return nil, lookupErr(err, "coupon")
	}
	return &coupon, nil
}

// IncrementCouponUses bumps the use counter only while it is below the cap.
func (s *MongoStore) IncrementCouponUses(ctx context.Context, id primitive.ObjectID) error {
	filter := bson.M{
		"_id":   id,
		"$expr": bson.M{"$lt": bson.A{"$uses", "$max_uses"}},
	}
	res, err := s.coupons.UpdateOne(ctx, filter, bson.M{"$inc": bson.M{"uses": 1}})
	if err != nil {
		return fmt.Errorf("failed to update coupon: %w", err)
	}
	if res.MatchedCount == 0 {
		return models.ErrCouponInvalid
	}
	return nil
}

func (s *MongoStore) HasRedemption(ctx context.Context, couponID, userID primitive.ObjectID) (bool, error) {
	n, err := s.redemptions.CountDocuments(ctx, bson.M{"coupon_id": couponID, "user_id": userID})
	if err != nil {
		return false, fmt.Errorf("failed to count redemptions: %w", err)
	}
	return n > 0, nil
}

func (s *MongoStore) InsertRedemption(ctx context.Context, redemption *models.CouponRedemption) error {
	if redemption.ID.IsZero() {
		redemption.ID = primitive.NewObjectID()
	}
	if _, err := s.redemptions.InsertOne(ctx, redemption); err != nil {
		if mongo.IsDuplicateKeyError(err) {
			return models.ErrCouponAlreadyRedeemed
		}
		return fmt.Errorf("failed to insert redemption: %w", err)
	}
	return nil
}

// Orphaned blobs

func (s *MongoStore) RecordOrphan(ctx context.Context, orphan *models.OrphanedBlob) error {
	if orphan.ID.IsZero() {
		orphan.ID = primitive.NewObjectID()
	}
	if _, err := s.orphans.InsertOne(ctx, orphan); err != nil {
		return fmt.Errorf("failed to record orphaned blob: %w", err)
	}
	return nil
}

func (s *MongoStore) ListOrphans(ctx context.Context, limit int64) ([]models.OrphanedBlob, error) {
	return findAll[models.OrphanedBlob](ctx, s.orphans, bson.M{},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}).SetLimit(limit))
}

func (s *MongoStore) MarkOrphanAttempt(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	res, err := s.orphans.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$inc": bson.M{"attempts": 1},
		"$set": bson.M{"last_attempt_at": at},
	})
	return matched(res, err, "orphaned blob")
}

func (s *MongoStore) DeleteOrphan(ctx context.Context, id primitive.ObjectID) error {
	if _, err := s.orphans.DeleteOne(ctx, bson.M{"_id": id}); err != nil {
		return fmt.Errorf("failed to delete orphaned blob record: %w", err)
	}
	return nil
}

func (s *MongoStore) LogNotification(ctx context.Context, entry *models.NotificationLog) error {
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	if _, err := s.notifications.InsertOne(ctx, entry); err != nil {
		return fmt.Errorf("failed to log notification: %w", err)
	}
	return nil
}
