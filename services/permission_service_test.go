package services_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"sharedrive/models"
	"sharedrive/services"
	"sharedrive/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestOwnerHasOwnerAccess(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	folder := f.folder(t, alice.ID, "docs", nil)

	level, _, err := f.permissions.ResolveFolder(f.ctx, alice.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccessOwner, level)
}

func TestGrantsAreNotInherited(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	bob := f.user(t, "bob@example.com", 1<<20)

	parent := f.folder(t, alice.ID, "parent", nil)
	child := f.folder(t, alice.ID, "child", &parent.ID)
	f.grant(t, alice.ID, bob.ID, parent.ID, models.PermissionEdit)

	level, _, err := f.permissions.ResolveFolder(f.ctx, bob.ID, parent.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccessEdit, level)

	level, _, err = f.permissions.ResolveFolder(f.ctx, bob.ID, child.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccessNone, level)

	_, _, err = f.permissions.RequireFolder(f.ctx, bob.ID, child.ID, models.AccessView)
	assert.ErrorIs(t, err, models.ErrNotFoundOrDenied)
}

func TestFileAccessFollowsContainingFolder(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	bob := f.user(t, "bob@example.com", 1<<20)
	carol := f.user(t, "carol@example.com", 1<<20)

	folder := f.folder(t, alice.ID, "shared", nil)
	f.grant(t, alice.ID, bob.ID, folder.ID, models.PermissionCreate)
	f.grant(t, alice.ID, carol.ID, folder.ID, models.PermissionView)

	// bob uploads into alice's folder and owns what he uploaded
	file := f.upload(t, bob.ID, &folder.ID, "notes.txt", []byte("hello"))
	assert.Equal(t, bob.ID, file.OwnerID)

	cases := []struct {
		name   string
		caller primitive.ObjectID
		want   models.AccessLevel
	}{
		{"uploader", bob.ID, models.AccessOwner},
		{"folder owner", alice.ID, models.AccessOwner},
		{"view grantee", carol.ID, models.AccessView},
		{"stranger", primitive.NewObjectID(), models.AccessNone},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			level, _, err := f.permissions.ResolveFile(f.ctx, tc.caller, file.ID)
			require.NoError(t, err)
			assert.Equal(t, tc.want, level)
		})
	}
}

func TestRootFilesAreOwnerOnly(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	bob := f.user(t, "bob@example.com", 1<<20)
	file := f.upload(t, alice.ID, nil, "a.txt", []byte("a"))

	level, _, err := f.permissions.ResolveFile(f.ctx, bob.ID, file.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccessNone, level)
}

func TestMissingAndDeniedAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	bob := f.user(t, "bob@example.com", 1<<20)
	folder := f.folder(t, alice.ID, "private", nil)

	_, _, denied := f.permissions.RequireFolder(f.ctx, bob.ID, folder.ID, models.AccessView)
	_, _, missing := f.permissions.RequireFolder(f.ctx, bob.ID, primitive.NewObjectID(), models.AccessView)

	for _, err := range []error{denied, missing} {
		assert.ErrorIs(t, err, models.ErrNotFoundOrDenied)
		assert.False(t, errors.Is(err, models.ErrNotFound))
	}
}

func TestGrantAccess(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	bob := f.user(t, "bob@example.com", 1<<20)
	folder := f.folder(t, alice.ID, "team", nil)

	t.Run("by email notifies grantee", func(t *testing.T) {
		g, err := f.permissions.GrantAccess(f.ctx, alice.ID, services.GrantRequest{
			FolderID: folder.ID, Email: "BOB@example.com", Permission: models.PermissionView,
		})
		require.NoError(t, err)
		assert.Equal(t, bob.ID, g.UserID)

		ev := f.notifier.wait(t)
		assert.Equal(t, bob.ID, ev.granteeID)
		assert.Equal(t, alice.ID, ev.granterID)
		assert.Equal(t, folder.ID, ev.folderID)
	})

	t.Run("regrant replaces level", func(t *testing.T) {
		f.grant(t, alice.ID, bob.ID, folder.ID, models.PermissionEdit)
		level, _, err := f.permissions.ResolveFolder(f.ctx, bob.ID, folder.ID)
		require.NoError(t, err)
		assert.Equal(t, models.AccessEdit, level)

		grants, err := f.permissions.ListGrants(f.ctx, alice.ID, folder.ID)
		require.NoError(t, err)
		assert.Len(t, grants, 1)
	})

	t.Run("owner cannot grant to self", func(t *testing.T) {
		_, err := f.permissions.GrantAccess(f.ctx, alice.ID, services.GrantRequest{
			FolderID: folder.ID, GranteeID: alice.ID, Permission: models.PermissionView,
		})
		assert.ErrorIs(t, err, models.ErrSelfGrant)
	})

	t.Run("only the owner grants", func(t *testing.T) {
		_, err := f.permissions.GrantAccess(f.ctx, bob.ID, services.GrantRequest{
			FolderID: folder.ID, GranteeID: primitive.NewObjectID(), Permission: models.PermissionView,
		})
		assert.ErrorIs(t, err, models.ErrNotFoundOrDenied)

		_, err = f.permissions.ListGrants(f.ctx, bob.ID, folder.ID)
		assert.ErrorIs(t, err, models.ErrNotFoundOrDenied)
	})

	t.Run("unknown grantee", func(t *testing.T) {
		_, err := f.permissions.GrantAccess(f.ctx, alice.ID, services.GrantRequest{
			FolderID: folder.ID, Email: "nobody@example.com", Permission: models.PermissionView,
		})
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("invalid permission", func(t *testing.T) {
		_, err := f.permissions.GrantAccess(f.ctx, alice.ID, services.GrantRequest{
			FolderID: folder.ID, GranteeID: bob.ID, Permission: "owner",
		})
		assert.ErrorIs(t, err, models.ErrInvalidInput)
	})
}

func TestRevokeTakesEffectImmediately(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	bob := f.user(t, "bob@example.com", 1<<20)
	folder := f.folder(t, alice.ID, "team", nil)
	f.grant(t, alice.ID, bob.ID, folder.ID, models.PermissionView)

	// warm the grant cache
	level, _, err := f.permissions.ResolveFolder(f.ctx, bob.ID, folder.ID)
	require.NoError(t, err)
	require.Equal(t, models.AccessView, level)

	require.NoError(t, f.permissions.RevokeAccess(f.ctx, alice.ID, folder.ID, bob.ID))

	level, _, err = f.permissions.ResolveFolder(f.ctx, bob.ID, folder.ID)
	require.NoError(t, err)
	assert.Equal(t, models.AccessNone, level)

	assert.ErrorIs(t, f.permissions.RevokeAccess(f.ctx, bob.ID, folder.ID, bob.ID), models.ErrNotFoundOrDenied)
}

type blockingNotifier struct {
	release   chan struct{}
	delivered atomic.Int32
}

func (n *blockingNotifier) NotifyFolderShared(ctx context.Context, _, _ primitive.ObjectID, _ *models.Folder) error {
	select {
	case <-n.release:
		n.delivered.Add(1)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func TestDrainWaitsForNotifications(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	bob := f.user(t, "bob@example.com", 1<<20)
	folder := f.folder(t, alice.ID, "team", nil)

	notifier := &blockingNotifier{release: make(chan struct{})}
	permissions := services.NewPermissionService(f.store, f.cache, notifier, utils.DiscardLogger())

	_, err := permissions.GrantAccess(f.ctx, alice.ID, services.GrantRequest{
		FolderID: folder.ID, GranteeID: bob.ID, Permission: models.PermissionView,
	})
	require.NoError(t, err)

	short, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, permissions.Drain(short), context.DeadlineExceeded)

	close(notifier.release)
	require.NoError(t, permissions.Drain(context.Background()))
	assert.Equal(t, int32(1), notifier.delivered.Load())
}
