package services_test

import (
	"testing"
	"time"

	"sharedrive/models"
	"sharedrive/services"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestShareTokensAreUnguessable(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := services.NewShareToken()
		require.NoError(t, err)
		assert.Len(t, tok, 43)
		assert.False(t, seen[tok])
		seen[tok] = true
	}
}

func TestPublishAndResolve(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	file := f.upload(t, alice.ID, nil, "report.txt", []byte("quarterly"))

	link, err := f.shares.Publish(f.ctx, alice.ID, file.ID, 0)
	require.NoError(t, err)
	assert.WithinDuration(t, time.Now().Add(24*time.Hour), link.ExpiresAt, time.Minute)

	desc, err := f.shares.Resolve(f.ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, file.ID, desc.FileID)
	assert.Equal(t, "report.txt", desc.FileName)
	assert.Equal(t, int64(9), desc.Size)

	got, err := f.shares.ResolveFile(f.ctx, link.Token)
	require.NoError(t, err)
	assert.Equal(t, file.BlobName, got.BlobName)
}

func TestPublishRequiresEdit(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	bob := f.user(t, "bob@example.com", 1<<20)
	folder := f.folder(t, alice.ID, "team", nil)
	file := f.upload(t, alice.ID, &folder.ID, "a.txt", []byte("a"))
	f.grant(t, alice.ID, bob.ID, folder.ID, models.PermissionView)

	_, err := f.shares.Publish(f.ctx, bob.ID, file.ID, time.Hour)
	assert.ErrorIs(t, err, models.ErrNotFoundOrDenied)

	f.grant(t, alice.ID, bob.ID, folder.ID, models.PermissionEdit)
	_, err = f.shares.Publish(f.ctx, bob.ID, file.ID, time.Hour)
	assert.NoError(t, err)
}

func TestPublishRejectsExcessiveLifetime(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	file := f.upload(t, alice.ID, nil, "a.txt", []byte("a"))

	_, err := f.shares.Publish(f.ctx, alice.ID, file.ID, 30*24*time.Hour)
	assert.ErrorIs(t, err, models.ErrInvalidInput)
}

func TestRevokeIsImmediate(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	file := f.upload(t, alice.ID, nil, "a.txt", []byte("a"))

	link, err := f.shares.Publish(f.ctx, alice.ID, file.ID, time.Hour)
	require.NoError(t, err)
	_, err = f.shares.Resolve(f.ctx, link.Token)
	require.NoError(t, err)

	require.NoError(t, f.shares.Revoke(f.ctx, alice.ID, file.ID))

	_, err = f.shares.Resolve(f.ctx, link.Token)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.shares.ResolveFile(f.ctx, link.Token)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestRepublishRotatesToken(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	file := f.upload(t, alice.ID, nil, "a.txt", []byte("a"))

	first, err := f.shares.Publish(f.ctx, alice.ID, file.ID, time.Hour)
	require.NoError(t, err)
	_, err = f.shares.Resolve(f.ctx, first.Token)
	require.NoError(t, err)

	second, err := f.shares.Publish(f.ctx, alice.ID, file.ID, time.Hour)
	require.NoError(t, err)
	assert.NotEqual(t, first.Token, second.Token)

	_, err = f.shares.ResolveFile(f.ctx, first.Token)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.shares.ResolveFile(f.ctx, second.Token)
	assert.NoError(t, err)
}

func TestExpiredShareDoesNotResolve(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	file := f.upload(t, alice.ID, nil, "a.txt", []byte("a"))

	link, err := f.shares.Publish(f.ctx, alice.ID, file.ID, 50*time.Millisecond)
	require.NoError(t, err)

	assert.Eventually(t, func() bool {
		_, err := f.shares.Resolve(f.ctx, link.Token)
		return err != nil
	}, 2*time.Second, 20*time.Millisecond)

	_, err = f.shares.Resolve(f.ctx, link.Token)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUnknownTokenIsNotFound(t *testing.T) {
	f := newFixture(t)
	for _, tok := range []string{"", "does-not-exist"} {
		_, err := f.shares.Resolve(f.ctx, tok)
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
}

func TestDeletedFileShareDisappears(t *testing.T) {
	f := newFixture(t)
	alice := f.user(t, "alice@example.com", 1<<20)
	file := f.upload(t, alice.ID, nil, "a.txt", []byte("a"))

	link, err := f.shares.Publish(f.ctx, alice.ID, file.ID, time.Hour)
	require.NoError(t, err)
	_, err = f.shares.Resolve(f.ctx, link.Token)
	require.NoError(t, err)

	require.NoError(t, f.files.DeleteFile(f.ctx, alice.ID, file.ID))

	_, err = f.shares.ResolveFile(f.ctx, link.Token)
	assert.ErrorIs(t, err, models.ErrNotFound)
}
