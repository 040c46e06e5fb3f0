package services_test

import (
	"bytes"
	"context"
	"io"
	"sync"
	"testing"
	"time"

	"sharedrive/models"
	"sharedrive/services"
	"sharedrive/store"
	"sharedrive/testutil"
	"sharedrive/utils"

	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type sharedEvent struct {
	granteeID primitive.ObjectID
	granterID primitive.ObjectID
	folderID  primitive.ObjectID
}

type recordingNotifier struct {
	mu     sync.Mutex
	events []sharedEvent
	done   chan struct{}
}

func newRecordingNotifier() *recordingNotifier {
	return &recordingNotifier{done: make(chan struct{}, 16)}
}

func (n *recordingNotifier) NotifyFolderShared(_ context.Context, granteeID, granterID primitive.ObjectID, folder *models.Folder) error {
	n.mu.Lock()
	n.events = append(n.events, sharedEvent{granteeID: granteeID, granterID: granterID, folderID: folder.ID})
	n.mu.Unlock()
	n.done <- struct{}{}
	return nil
}

func (n *recordingNotifier) wait(t *testing.T) sharedEvent {
	t.Helper()
	select {
	case <-n.done:
	case <-time.After(2 * time.Second):
		t.Fatal("notification was not sent")
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.events[len(n.events)-1]
}

type fixture struct {
	ctx      context.Context
	store    *store.MemoryStore
	blobs    *testutil.BlobStore
	cache    *services.MetadataCache
	notifier *recordingNotifier

	permissions *services.PermissionService
	ledger      *services.QuotaLedger
	files       *services.FileService
	folders     *services.FolderService
	shares      *services.ShareService
	coupons     *services.CouponService
}

func newBadger(t *testing.T) *services.BadgerCache {
	t.Helper()
	c, err := services.NewBadgerCache(utils.DiscardLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func testCacheConfig() services.CacheConfig {
	return services.CacheConfig{
		MetadataTTL:    time.Hour,
		GrantTTL:       10 * time.Minute,
		DownloadURLTTL: 5 * time.Minute,
		ShareMaxTTL:    24 * time.Hour,
	}
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := utils.DiscardLogger()

	f := &fixture{
		ctx:      context.Background(),
		store:    store.NewMemoryStore(),
		blobs:    testutil.NewBlobStore(t),
		notifier: newRecordingNotifier(),
	}
	f.cache = services.NewMetadataCache(newBadger(t), testCacheConfig(), logger, nil)
	f.permissions = services.NewPermissionService(f.store, f.cache, f.notifier, logger)
	f.ledger = services.NewQuotaLedger(f.store, time.Hour, logger, nil)
	f.files = services.NewFileService(f.store, f.blobs, f.cache, f.permissions, f.ledger, services.NewImageThumbnailer(), services.FileConfig{
		MaxFileSize:       1 << 20,
		UploadConcurrency: 2,
		SignedURLTTL:      15 * time.Minute,
	}, logger)
	f.folders = services.NewFolderService(f.store, f.cache, f.permissions, logger)
	f.shares = services.NewShareService(f.store, f.cache, f.permissions, services.ShareConfig{
		DefaultTTL: 24 * time.Hour,
		MaxTTL:     7 * 24 * time.Hour,
	}, logger)
	f.coupons = services.NewCouponService(f.store, logger)
	return f
}

func (f *fixture) user(t *testing.T, email string, quota int64) *models.User {
	t.Helper()
	return f.store.AddUser(models.User{Email: email, Quota: quota})
}

func (f *fixture) folder(t *testing.T, owner primitive.ObjectID, name string, parent *primitive.ObjectID) *models.Folder {
	t.Helper()
	folder, err := f.folders.CreateFolder(f.ctx, owner, name, parent)
	require.NoError(t, err)
	return folder
}

func (f *fixture) grant(t *testing.T, owner, grantee primitive.ObjectID, folderID primitive.ObjectID, p models.PermissionType) {
	t.Helper()
	_, err := f.permissions.GrantAccess(f.ctx, owner, services.GrantRequest{FolderID: folderID, GranteeID: grantee, Permission: p})
	require.NoError(t, err)
	f.notifier.wait(t)
}

func item(name, contentType string, data []byte) services.UploadItem {
	return services.UploadItem{
		Name:        name,
		Size:        int64(len(data)),
		ContentType: contentType,
		Open: func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(data)), nil
		},
	}
}

func (f *fixture) upload(t *testing.T, caller primitive.ObjectID, folderID *primitive.ObjectID, name string, data []byte) *models.File {
	t.Helper()
	res, err := f.files.UploadFiles(f.ctx, caller, folderID, []services.UploadItem{item(name, "text/plain", data)})
	require.NoError(t, err)
	require.Empty(t, res.Failed)
	require.Len(t, res.Files, 1)
	return &res.Files[0]
}

func (f *fixture) used(t *testing.T, userID primitive.ObjectID) int64 {
	t.Helper()
	u, err := f.store.GetUser(f.ctx, userID)
	require.NoError(t, err)
	return u.Used
}
