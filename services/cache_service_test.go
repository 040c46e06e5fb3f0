package services_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"sharedrive/models"
	"sharedrive/services"
	"sharedrive/utils"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type failingBackend struct{}

func (failingBackend) Get(string) ([]byte, bool, error) { return nil, false, models.ErrCacheUnavailable }

func (failingBackend) Set(string, []byte, time.Duration) error { return models.ErrCacheUnavailable }

func (failingBackend) Delete(...string) error { return models.ErrCacheUnavailable }

func (failingBackend) DeletePrefix(string) error { return models.ErrCacheUnavailable }

// gatedBackend holds the first Set until release is closed.
type gatedBackend struct {
	*services.BadgerCache
	once    sync.Once
	entered chan struct{}
	release chan struct{}
}

func newGatedBackend(t *testing.T) *gatedBackend {
	return &gatedBackend{
		BadgerCache: newBadger(t),
		entered:     make(chan struct{}),
		release:     make(chan struct{}),
	}
}

func (g *gatedBackend) Set(key string, value []byte, ttl time.Duration) error {
	first := false
	g.once.Do(func() { first = true })
	if first {
		close(g.entered)
		<-g.release
	}
	return g.BadgerCache.Set(key, value, ttl)
}

func countingLoader(n *int, file *models.File) func(context.Context) (*models.File, error) {
	return func(context.Context) (*models.File, error) {
		*n++
		return file, nil
	}
}

func TestGetOrLoadCachesValues(t *testing.T) {
	cache := services.NewMetadataCache(newBadger(t), testCacheConfig(), utils.DiscardLogger(), nil)
	ctx := context.Background()
	file := &models.File{ID: primitive.NewObjectID(), Name: "a.txt", Size: 3}

	loads := 0
	for i := 0; i < 3; i++ {
		got, err := services.GetOrLoad(ctx, cache, services.FileKey(file.ID), time.Hour, countingLoader(&loads, file))
		require.NoError(t, err)
		assert.Equal(t, "a.txt", got.Name)
		assert.Equal(t, file.ID, got.ID)
	}
	assert.Equal(t, 1, loads)
}

func TestGetOrLoadDoesNotCacheErrors(t *testing.T) {
	cache := services.NewMetadataCache(newBadger(t), testCacheConfig(), utils.DiscardLogger(), nil)
	ctx := context.Background()

	calls := 0
	load := func(context.Context) (*models.File, error) {
		calls++
		return nil, models.ErrNotFound
	}
	for i := 0; i < 2; i++ {
		_, err := services.GetOrLoad(ctx, cache, "file:missing", time.Hour, load)
		assert.ErrorIs(t, err, models.ErrNotFound)
	}
	assert.Equal(t, 2, calls)
}

func TestFailingBackendFallsThrough(t *testing.T) {
	cache := services.NewMetadataCache(failingBackend{}, testCacheConfig(), utils.DiscardLogger(), nil)
	ctx := context.Background()
	file := &models.File{ID: primitive.NewObjectID(), Name: "a.txt"}

	loads := 0
	for i := 0; i < 2; i++ {
		got, err := services.GetOrLoad(ctx, cache, services.FileKey(file.ID), time.Hour, countingLoader(&loads, file))
		require.NoError(t, err)
		assert.Equal(t, file.ID, got.ID)
	}
	assert.Equal(t, 2, loads)
	assert.NotPanics(t, func() { cache.Invalidate(services.FileKey(file.ID)) })
}

func TestNilBackendDisablesCaching(t *testing.T) {
	cache := services.NewMetadataCache(nil, testCacheConfig(), utils.DiscardLogger(), nil)
	file := &models.File{ID: primitive.NewObjectID()}

	loads := 0
	for i := 0; i < 2; i++ {
		_, err := services.GetOrLoad(context.Background(), cache, services.FileKey(file.ID), time.Hour, countingLoader(&loads, file))
		require.NoError(t, err)
	}
	assert.Equal(t, 2, loads)
}

func TestInvalidateFileGroup(t *testing.T) {
	cache := services.NewMetadataCache(newBadger(t), testCacheConfig(), utils.DiscardLogger(), nil)
	ctx := context.Background()
	file := &models.File{ID: primitive.NewObjectID(), Name: "a.txt"}
	other := &models.File{ID: primitive.NewObjectID(), Name: "b.txt"}

	urlLoads := 0
	loadURL := func(context.Context) (string, error) {
		urlLoads++
		return "https://blob.example/signed", nil
	}

	fileLoads, otherLoads := 0, 0
	warm := func() {
		_, err := services.GetOrLoad(ctx, cache, services.FileKey(file.ID), time.Hour, countingLoader(&fileLoads, file))
		require.NoError(t, err)
		_, err = services.GetOrLoad(ctx, cache, services.FileURLKey(file.ID, "download"), time.Minute, loadURL)
		require.NoError(t, err)
		_, err = services.GetOrLoad(ctx, cache, services.FileKey(other.ID), time.Hour, countingLoader(&otherLoads, other))
		require.NoError(t, err)
	}

	warm()
	warm()
	assert.Equal(t, 1, fileLoads)
	assert.Equal(t, 1, urlLoads)

	cache.InvalidateFileGroup(file.ID)
	warm()
	assert.Equal(t, 2, fileLoads)
	assert.Equal(t, 2, urlLoads)
	assert.Equal(t, 1, otherLoads)
}

func TestInvalidationDuringLoadSkipsPopulate(t *testing.T) {
	cache := services.NewMetadataCache(newBadger(t), testCacheConfig(), utils.DiscardLogger(), nil)
	ctx := context.Background()
	file := &models.File{ID: primitive.NewObjectID(), Name: "stale"}
	key := services.FileKey(file.ID)

	loads := 0
	_, err := services.GetOrLoad(ctx, cache, key, time.Hour, func(context.Context) (*models.File, error) {
		loads++
		// a writer invalidates while this read is in flight
		cache.Invalidate(key)
		return file, nil
	})
	require.NoError(t, err)

	_, err = services.GetOrLoad(ctx, cache, key, time.Hour, countingLoader(&loads, file))
	require.NoError(t, err)
	assert.Equal(t, 2, loads)
}

func TestInvalidateFolderGrants(t *testing.T) {
	cache := services.NewMetadataCache(newBadger(t), testCacheConfig(), utils.DiscardLogger(), nil)
	ctx := context.Background()
	folderID := primitive.NewObjectID()
	users := []primitive.ObjectID{primitive.NewObjectID(), primitive.NewObjectID()}

	loads := 0
	load := func(context.Context) (*models.Grant, error) {
		loads++
		return &models.Grant{Permission: models.PermissionView}, nil
	}
	for round := 0; round < 2; round++ {
		for _, u := range users {
			_, err := services.GetOrLoad(ctx, cache, services.GrantKey(folderID, u), time.Hour, load)
			require.NoError(t, err)
		}
		if round == 0 {
			assert.Equal(t, 2, loads)
			cache.InvalidateFolderGrants(folderID)
		}
	}
	assert.Equal(t, 4, loads)
}

func TestBadgerCacheExpiry(t *testing.T) {
	c := newBadger(t)
	require.NoError(t, c.Set("k", []byte("v"), 2*time.Second))

	v, ok, err := c.Get("k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "v", string(v))

	assert.Eventually(t, func() bool {
		_, ok, err := c.Get("k")
		return err == nil && !ok
	}, 5*time.Second, 100*time.Millisecond)

	_, ok, err = c.Get("never-set")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.False(t, errors.Is(c.Delete("never-set"), models.ErrCacheUnavailable))
}

func TestInvalidateDuringCacheWriteLeavesNoEntry(t *testing.T) {
	backend := newGatedBackend(t)
	cache := services.NewMetadataCache(backend, testCacheConfig(), utils.DiscardLogger(), nil)
	ctx := context.Background()
	file := &models.File{ID: primitive.NewObjectID(), Name: "shared.txt", IsPublic: true}
	key := services.FileKey(file.ID)

	loaded := make(chan error, 1)
	go func() {
		_, err := services.GetOrLoad(ctx, cache, key, time.Hour, func(context.Context) (*models.File, error) {
			return file, nil
		})
		loaded <- err
	}()
	<-backend.entered

	invalidated := make(chan struct{})
	go func() {
		cache.Invalidate(key)
		close(invalidated)
	}()
	select {
	case <-invalidated:
		t.Fatal("invalidation finished while a cache write was still in flight")
	case <-time.After(50 * time.Millisecond):
	}

	close(backend.release)
	require.NoError(t, <-loaded)
	<-invalidated

	_, ok, err := backend.Get(key)
	require.NoError(t, err)
	assert.False(t, ok, "entry written before invalidation must not survive it")
}

func TestSharedLoadSurvivesFirstCallerCancel(t *testing.T) {
	cache := services.NewMetadataCache(newBadger(t), testCacheConfig(), utils.DiscardLogger(), nil)
	file := &models.File{ID: primitive.NewObjectID(), Name: "a.txt"}
	key := services.FileKey(file.ID)

	started := make(chan struct{})
	release := make(chan struct{})
	var startOnce sync.Once
	load := func(ctx context.Context) (*models.File, error) {
		startOnce.Do(func() { close(started) })
		select {
		case <-release:
			return file, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	first, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := services.GetOrLoad(first, cache, key, time.Hour, load)
		firstErr <- err
	}()
	<-started

	type result struct {
		file *models.File
		err  error
	}
	second := make(chan result, 1)
	go func() {
		f, err := services.GetOrLoad(context.Background(), cache, key, time.Hour, load)
		second <- result{f, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-firstErr, context.Canceled)

	close(release)
	got := <-second
	require.NoError(t, got.err)
	assert.Equal(t, "a.txt", got.file.Name)
}
