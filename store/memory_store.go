package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"sharedrive/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type txKey struct{}

type grantKey struct {
	folderID primitive.ObjectID
	userID   primitive.ObjectID
}

type memoryState struct {
	users         map[primitive.ObjectID]models.User
	folders       map[primitive.ObjectID]models.Folder
	files         map[primitive.ObjectID]models.File
	grants        map[grantKey]models.Grant
	reservations  map[primitive.ObjectID]models.QuotaReservation
	coupons       map[primitive.ObjectID]models.Coupon
	redemptions   map[primitive.ObjectID]models.CouponRedemption
	orphans       map[primitive.ObjectID]models.OrphanedBlob
	notifications []models.NotificationLog
}

func newMemoryState() memoryState {
	return memoryState{
		users:        map[primitive.ObjectID]models.User{},
		folders:      map[primitive.ObjectID]models.Folder{},
		files:        map[primitive.ObjectID]models.File{},
		grants:       map[grantKey]models.Grant{},
		reservations: map[primitive.ObjectID]models.QuotaReservation{},
		coupons:      map[primitive.ObjectID]models.Coupon{},
		redemptions:  map[primitive.ObjectID]models.CouponRedemption{},
		orphans:      map[primitive.ObjectID]models.OrphanedBlob{},
	}
}

func cloneMap[K comparable, V any](m map[K]V) map[K]V {
	out := make(map[K]V, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func (st memoryState) clone() memoryState {
	return memoryState{
		users:         cloneMap(st.users),
		folders:       cloneMap(st.folders),
		files:         cloneMap(st.files),
		grants:        cloneMap(st.grants),
		reservations:  cloneMap(st.reservations),
		coupons:       cloneMap(st.coupons),
		redemptions:   cloneMap(st.redemptions),
		orphans:       cloneMap(st.orphans),
		notifications: append([]models.NotificationLog(nil), st.notifications...),
	}
}

// MemoryStore keeps all documents in process memory. Every operation and
// every transaction is serialized on one lock, and a transaction whose
// callback fails is rolled back to the state it started from.
type MemoryStore struct {
	mu    sync.Mutex
	state memoryState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemoryState()}
}

func (s *MemoryStore) lock(ctx context.Context) func() {
	if ctx.Value(txKey{}) != nil {
		return func() {}
	}
	s.mu.Lock()
	return s.mu.Unlock
}

func (s *MemoryStore) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if ctx.Value(txKey{}) != nil {
		return fn(ctx)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(context.WithValue(ctx, txKey{}, true)); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, models.ErrNotFound)
}

// Users

// AddUser seeds a user document, filling timestamps when missing.
func (s *MemoryStore) AddUser(user models.User) *models.User {
	defer s.lock(context.Background())()
	if user.ID.IsZero() {
		user.ID = primitive.NewObjectID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	user.Email = strings.ToLower(user.Email)
	s.state.users[user.ID] = user
	return &user
}

func (s *MemoryStore) GetUser(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	defer s.lock(ctx)()
	user, ok := s.state.users[id]
	if !ok {
		return nil, notFound("user")
	}
	return &user, nil
}

func (s *MemoryStore) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	defer s.lock(ctx)()
	email = strings.ToLower(strings.TrimSpace(email))
	for _, user := range s.state.users {
		if user.Email == email {
			return &user, nil
		}
	}
	return nil, notFound("user")
}

func (s *MemoryStore) EnsureUser(ctx context.Context, user *models.User) (*models.User, error) {
	defer s.lock(ctx)()
	now := time.Now().UTC()
	stored, ok := s.state.users[user.ID]
	if !ok {
		stored = models.User{ID: user.ID, Quota: user.Quota, CreatedAt: now}
	}
	stored.Email = strings.ToLower(user.Email)
	stored.Name = user.Name
	stored.Role = user.Role
	stored.UpdatedAt = now
	s.state.users[user.ID] = stored
	return &stored, nil
}

func (s *MemoryStore) updateUser(id primitive.ObjectID, fn func(u *models.User)) error {
	user, ok := s.state.users[id]
	if !ok {
		return notFound("user")
	}
	fn(&user)
	user.UpdatedAt = time.Now().UTC()
	s.state.users[id] = user
	return nil
}

func (s *MemoryStore) IncUsed(ctx context.Context, userID primitive.ObjectID, delta int64) error {
	defer s.lock(ctx)()
	return s.updateUser(userID, func(u *models.User) { u.Used += delta })
}

func (s *MemoryStore) UpdateUsed(ctx context.Context, userID primitive.ObjectID, used int64) error {
	defer s.lock(ctx)()
	return s.updateUser(userID, func(u *models.User) { u.Used = used })
}

func (s *MemoryStore) CreditQuota(ctx context.Context, userID primitive.ObjectID, bytes int64) error {
	defer s.lock(ctx)()
	return s.updateUser(userID, func(u *models.User) {
		u.Quota += bytes
		u.QuotaVersion++
	})
}

// Folders

func (s *MemoryStore) GetFolder(ctx context.Context, id primitive.ObjectID) (*models.Folder, error) {
	defer s.lock(ctx)()
	folder, ok := s.state.folders[id]
	if !ok {
		return nil, notFound("folder")
	}
	return &folder, nil
}

func (s *MemoryStore) InsertFolder(ctx context.Context, folder *models.Folder) error {
	defer s.lock(ctx)()
	if folder.ID.IsZero() {
		folder.ID = primitive.NewObjectID()
	}
	s.state.folders[folder.ID] = *folder
	return nil
}

func (s *MemoryStore) DeleteFolder(ctx context.Context, id primitive.ObjectID) error {
	defer s.lock(ctx)()
	if _, ok := s.state.folders[id]; !ok {
		return notFound("folder")
	}
	delete(s.state.folders, id)
	return nil
}

func (s *MemoryStore) TouchFolder(ctx context.Context, id primitive.ObjectID) error {
	defer s.lock(ctx)()
	folder, ok := s.state.folders[id]
	if !ok {
		return notFound("folder")
	}
	folder.UpdatedAt = time.Now().UTC()
	s.state.folders[id] = folder
	return nil
}

func (s *MemoryStore) UpdateFolderParent(ctx context.Context, id primitive.ObjectID, parentID *primitive.ObjectID) error {
	defer s.lock(ctx)()
	folder, ok := s.state.folders[id]
	if !ok {
		return notFound("folder")
	}
	folder.ParentID = parentID
	folder.UpdatedAt = time.Now().UTC()
	s.state.folders[id] = folder
	return nil
}

func (s *MemoryStore) CountFolderChildren(ctx context.Context, id primitive.ObjectID) (int64, int64, error) {
	defer s.lock(ctx)()
	var folders, files int64
	for _, f := range s.state.folders {
		if f.ParentID != nil && *f.ParentID == id {
			folders++
		}
	}
	for _, f := range s.state.files {
		if f.FolderID != nil && *f.FolderID == id {
			files++
		}
	}
	return folders, files, nil
}

func sortFolders(folders []models.Folder) []models.Folder {
	sort.Slice(folders, func(i, j int) bool { return folders[i].Name < folders[j].Name })
	return folders
}

func sortFiles(files []models.File) []models.File {
	sort.Slice(files, func(i, j int) bool { return files[i].Name < files[j].Name })
	return files
}

func (s *MemoryStore) ListChildFolders(ctx context.Context, parentID primitive.ObjectID) ([]models.Folder, error) {
	defer s.lock(ctx)()
	out := []models.Folder{}
	for _, f := range s.state.folders {
		if f.ParentID != nil && *f.ParentID == parentID {
			out = append(out, f)
		}
	}
	return sortFolders(out), nil
}

func (s *MemoryStore) ListRootFolders(ctx context.Context, ownerID primitive.ObjectID) ([]models.Folder, error) {
	defer s.lock(ctx)()
	out := []models.Folder{}
	for _, f := range s.state.folders {
		if f.ParentID == nil && f.OwnerID == ownerID {
			out = append(out, f)
		}
	}
	return sortFolders(out), nil
}

// Files

func (s *MemoryStore) GetFile(ctx context.Context, id primitive.ObjectID) (*models.File, error) {
	defer s.lock(ctx)()
	file, ok := s.state.files[id]
	if !ok {
		return nil, notFound("file")
	}
	return &file, nil
}

func (s *MemoryStore) InsertFile(ctx context.Context, file *models.File) error {
	defer s.lock(ctx)()
	if file.ID.IsZero() {
		file.ID = primitive.NewObjectID()
	}
	s.state.files[file.ID] = *file
	return nil
}

func (s *MemoryStore) DeleteFile(ctx context.Context, id primitive.ObjectID) error {
	defer s.lock(ctx)()
	if _, ok := s.state.files[id]; !ok {
		return notFound("file")
	}
	delete(s.state.files, id)
	return nil
}

func (s *MemoryStore) updateFile(id primitive.ObjectID, fn func(f *models.File)) error {
	file, ok := s.state.files[id]
	if !ok {
		return notFound("file")
	}
	fn(&file)
	s.state.files[id] = file
	return nil
}

func (s *MemoryStore) UpdateFileFolder(ctx context.Context, id primitive.ObjectID, folderID *primitive.ObjectID) error {
	defer s.lock(ctx)()
	return s.updateFile(id, func(f *models.File) {
		f.FolderID = folderID
		f.UpdatedAt = time.Now().UTC()
	})
}

func (s *MemoryStore) IncrementDownloads(ctx context.Context, id primitive.ObjectID) error {
	defer s.lock(ctx)()
	return s.updateFile(id, func(f *models.File) { f.DownloadCount++ })
}

func (s *MemoryStore) SetFileShare(ctx context.Context, id primitive.ObjectID, token string, expiresAt time.Time) error {
	defer s.lock(ctx)()
	return s.updateFile(id, func(f *models.File) {
		f.IsPublic = true
		f.PublicShareToken = token
		f.ShareExpiresAt = &expiresAt
		f.UpdatedAt = time.Now().UTC()
	})
}

func (s *MemoryStore) ClearFileShare(ctx context.Context, id primitive.ObjectID) error {
	defer s.lock(ctx)()
	return s.updateFile(id, func(f *models.File) {
		f.IsPublic = false
		f.PublicShareToken = ""
		f.ShareExpiresAt = nil
		f.UpdatedAt = time.Now().UTC()
	})
}

func (s *MemoryStore) GetPublicFileByToken(ctx context.Context, token string) (*models.File, error) {
	defer s.lock(ctx)()
	for _, f := range s.state.files {
		if f.IsPublic && f.PublicShareToken == token {
			return &f, nil
		}
	}
	return nil, notFound("shared file")
}

func (s *MemoryStore) ListFolderFiles(ctx context.Context, folderID primitive.ObjectID) ([]models.File, error) {
	defer s.lock(ctx)()
	out := []models.File{}
	for _, f := range s.state.files {
		if f.FolderID != nil && *f.FolderID == folderID {
			out = append(out, f)
		}
	}
	return sortFiles(out), nil
}

func (s *MemoryStore) ListRootFiles(ctx context.Context, ownerID primitive.ObjectID) ([]models.File, error) {
	defer s.lock(ctx)()
	out := []models.File{}
	for _, f := range s.state.files {
		if f.FolderID == nil && f.OwnerID == ownerID {
			out = append(out, f)
		}
	}
	return sortFiles(out), nil
}

func (s *MemoryStore) SumFileSizes(ctx context.Context, ownerID primitive.ObjectID) (int64, error) {
	defer s.lock(ctx)()
	var total int64
	for _, f := range s.state.files {
		if f.OwnerID == ownerID {
			total += f.Size
		}
	}
	return total, nil
}

// Grants

func (s *MemoryStore) GetGrant(ctx context.Context, folderID, userID primitive.ObjectID) (*models.Grant, error) {
	defer s.lock(ctx)()
	grant, ok := s.state.grants[grantKey{folderID, userID}]
	if !ok {
		return nil, notFound("grant")
	}
	return &grant, nil
}

func (s *MemoryStore) UpsertGrant(ctx context.Context, grant *models.Grant) error {
	defer s.lock(ctx)()
	key := grantKey{grant.FolderID, grant.UserID}
	if existing, ok := s.state.grants[key]; ok {
		grant.ID = existing.ID
	} else if grant.ID.IsZero() {
		grant.ID = primitive.NewObjectID()
	}
	s.state.grants[key] = *grant
	return nil
}

func (s *MemoryStore) DeleteGrant(ctx context.Context, folderID, userID primitive.ObjectID) error {
	defer s.lock(ctx)()
	key := grantKey{folderID, userID}
	if _, ok := s.state.grants[key]; !ok {
		return notFound("grant")
	}
	delete(s.state.grants, key)
	return nil
}

func (s *MemoryStore) DeleteFolderGrants(ctx context.Context, folderID primitive.ObjectID) error {
	defer s.lock(ctx)()
	for key := range s.state.grants {
		if key.folderID == folderID {
			delete(s.state.grants, key)
		}
	}
	return nil
}

func (s *MemoryStore) ListGrants(ctx context.Context, folderID primitive.ObjectID) ([]models.Grant, error) {
	defer s.lock(ctx)()
	out := []models.Grant{}
	for key, g := range s.state.grants {
		if key.folderID == folderID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

func (s *MemoryStore) ListUserGrants(ctx context.Context, userID primitive.ObjectID) ([]models.Grant, error) {
	defer s.lock(ctx)()
	out := []models.Grant{}
	for key, g := range s.state.grants {
		if key.userID == userID {
			out = append(out, g)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GrantedAt.Before(out[j].GrantedAt) })
	return out, nil
}

// Quota reservations

func (s *MemoryStore) InsertReservation(ctx context.Context, res *models.QuotaReservation) error {
	defer s.lock(ctx)()
	if res.ID.IsZero() {
		res.ID = primitive.NewObjectID()
	}
	if err := s.updateUser(res.UserID, func(u *models.User) { u.QuotaVersion++ }); err != nil {
		return err
	}
	s.state.reservations[res.ID] = *res
	return nil
}

func (s *MemoryStore) ShrinkReservation(ctx context.Context, id primitive.ObjectID, bytes int64) error {
	defer s.lock(ctx)()
	res, ok := s.state.reservations[id]
	if !ok {
		return notFound("reservation")
	}
	res.Bytes -= bytes
	s.state.reservations[id] = res
	return nil
}

func (s *MemoryStore) DeleteReservation(ctx context.Context, id primitive.ObjectID) error {
	defer s.lock(ctx)()
	delete(s.state.reservations, id)
	return nil
}

// SumActiveReservations also drops expired reservations, standing in for the
// TTL index of the Mongo store.
func (s *MemoryStore) SumActiveReservations(ctx context.Context, userID primitive.ObjectID, now time.Time) (int64, error) {
	defer s.lock(ctx)()
	var total int64
	for id, res := range s.state.reservations {
		if !res.ExpiresAt.After(now) {
			delete(s.state.reservations, id)
			continue
		}
		if res.UserID == userID {
			total += res.Bytes
		}
	}
	return total, nil
}

// Coupons

func (s *MemoryStore) InsertCoupon(ctx context.Context, coupon *models.Coupon) error {
	defer s.lock(ctx)()
	for _, c := range s.state.coupons {
		if c.Code == coupon.Code {
			return fmt.Errorf("coupon code already exists: %w", models.ErrInvalidState)
		}
	}
	if coupon.ID.IsZero() {
		coupon.ID = primitive.NewObjectID()
	}
	s.state.coupons[coupon.ID] = *coupon
	return nil
}

func (s *MemoryStore) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	defer s.lock(ctx)()
	for _, c := range s.state.coupons {
		if c.Code == code {
			return &c, nil
		}
	}
	return nil, notFound("coupon")
}

func (s *MemoryStore) IncrementCouponUses(ctx context.Context, id primitive.ObjectID) error {
	defer s.lock(ctx)()
	c, ok := s.state.coupons[id]
	if !ok || c.Uses >= c.MaxUses {
		return models.ErrCouponInvalid
	}
	c.Uses++
	s.state.coupons[id] = c
	return nil
}

func (s *MemoryStore) HasRedemption(ctx context.Context, couponID, userID primitive.ObjectID) (bool, error) {
	defer s.lock(ctx)()
	for _, r := range s.state.redemptions {
		if r.CouponID == couponID && r.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) InsertRedemption(ctx context.Context, redemption *models.CouponRedemption) error {
	defer s.lock(ctx)()
	for _, r := range s.state.redemptions {
		if r.CouponID == redemption.CouponID && r.UserID == redemption.UserID {
			return models.ErrCouponAlreadyRedeemed
		}
	}
	if redemption.ID.IsZero() {
		redemption.ID = primitive.NewObjectID()
	}
	s.state.redemptions[redemption.ID] = *redemption
	return nil
}

// Orphaned blobs

func (s *MemoryStore) RecordOrphan(ctx context.Context, orphan *models.OrphanedBlob) error {
	defer s.lock(ctx)()
	if orphan.ID.IsZero() {
		orphan.ID = primitive.NewObjectID()
	}
	s.state.orphans[orphan.ID] = *orphan
	return nil
}

func (s *MemoryStore) ListOrphans(ctx context.Context, limit int64) ([]models.OrphanedBlob, error) {
	defer s.lock(ctx)()
	out := []models.OrphanedBlob{}
	for _, o := range s.state.orphans {
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && int64(len(out)) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) MarkOrphanAttempt(ctx context.Context, id primitive.ObjectID, at time.Time) error {
	defer s.lock(ctx)()
	o, ok := s.state.orphans[id]
	if !ok {
		return notFound("orphaned blob")
	}
	o.Attempts++
	o.LastAttemptAt = &at
	s.state.orphans[id] = o
	return nil
}

func (s *MemoryStore) DeleteOrphan(ctx context.Context, id primitive.ObjectID) error {
	defer s.lock(ctx)()
	delete(s.state.orphans, id)
	return nil
}

func (s *MemoryStore) LogNotification(ctx context.Context, entry *models.NotificationLog) error {
	defer s.lock(ctx)()
	if entry.ID.IsZero() {
		entry.ID = primitive.NewObjectID()
	}
	s.state.notifications = append(s.state.notifications, *entry)
	return nil
}

// Notifications returns a copy of every logged notification.
func (s *MemoryStore) Notifications() []models.NotificationLog {
	defer s.lock(context.Background())()
	return append([]models.NotificationLog(nil), s.state.notifications...)
}
