// Package testutil provides an in-memory blob store whose signed URLs are
// served by a local HTTP server, with hooks for injecting failures.
package testutil

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"sharedrive/models"
)

type object struct {
	data        []byte
	contentType string
}

// BlobStore implements the blob store contract in memory.
type BlobStore struct {
	mu      sync.Mutex
	objects map[string]object
	server  *httptest.Server

	putErr    error
	deleteErr error
	signErr   error

	stallAfter    int
	truncateAfter int

	signed  int
	deleted []string
}

// NewBlobStore starts the backing server and stops it when the test ends.
func NewBlobStore(t testing.TB) *BlobStore {
	t.Helper()
	b := &BlobStore{
		objects:       map[string]object{},
		stallAfter:    -1,
		truncateAfter: -1,
	}
	b.server = httptest.NewServer(http.HandlerFunc(b.serve))
	t.Cleanup(b.server.Close)
	return b
}

func (b *BlobStore) Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (*models.BlobObject, error) {
	b.mu.Lock()
	putErr := b.putErr
	b.mu.Unlock()
	if putErr != nil {
		return nil, putErr
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = object{data: data, contentType: contentType}
	return &models.BlobObject{
		BlobID: "id-" + name,
		Name:   name,
		URL:    b.server.URL + "/blob/" + url.PathEscape(name),
		Size:   int64(len(data)),
	}, nil
}

func (b *BlobStore) SignURL(_ context.Context, name string, ttl time.Duration) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.signErr != nil {
		return "", b.signErr
	}
	b.signed++
	exp := time.Now().Add(ttl).Unix()
	return fmt.Sprintf("%s/blob/%s?exp=%d&sig=%d", b.server.URL, url.PathEscape(name), exp, b.signed), nil
}

func (b *BlobStore) Delete(_ context.Context, _ string, name string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.deleteErr != nil {
		return b.deleteErr
	}
	delete(b.objects, name)
	b.deleted = append(b.deleted, name)
	return nil
}

func (b *BlobStore) serve(w http.ResponseWriter, r *http.Request) {
	name, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/blob/"))
	if err != nil {
		http.Error(w, "bad name", http.StatusBadRequest)
		return
	}
	if exp, err := strconv.ParseInt(r.URL.Query().Get("exp"), 10, 64); err != nil || time.Now().Unix() > exp {
		http.Error(w, "signature expired", http.StatusForbidden)
		return
	}

	b.mu.Lock()
	obj, ok := b.objects[name]
	stallAfter, truncateAfter := b.stallAfter, b.truncateAfter
	b.mu.Unlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", obj.contentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(obj.data)))
	w.WriteHeader(http.StatusOK)

	switch {
	case stallAfter >= 0:
		_, _ = w.Write(obj.data[:min(stallAfter, len(obj.data))])
		http.NewResponseController(w).Flush()
		<-r.Context().Done()
	case truncateAfter >= 0:
		_, _ = w.Write(obj.data[:min(truncateAfter, len(obj.data))])
	default:
		_, _ = io.Copy(w, bytes.NewReader(obj.data))
	}
}

// FailPut makes every Put return err until cleared with nil.
func (b *BlobStore) FailPut(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.putErr = err
}

// FailDelete makes every Delete return err until cleared with nil.
func (b *BlobStore) FailDelete(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.deleteErr = err
}

// FailSign makes every SignURL return err until cleared with nil.
func (b *BlobStore) FailSign(err error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.signErr = err
}

// StallAfter makes downloads send n bytes and then hang until the client
// disconnects. A negative n restores normal serving.
func (b *BlobStore) StallAfter(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stallAfter = n
}

// TruncateAfter makes downloads advertise the full length but close the
// connection after n bytes. A negative n restores normal serving.
func (b *BlobStore) TruncateAfter(n int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.truncateAfter = n
}

// Seed stores data under name directly, bypassing Put.
func (b *BlobStore) Seed(name, contentType string, data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[name] = object{data: data, contentType: contentType}
}

func (b *BlobStore) Has(name string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[name]
	return ok
}

func (b *BlobStore) Data(name string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.objects[name].data
}

func (b *BlobStore) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.objects)
}

// Names lists stored blob names.
func (b *BlobStore) Names() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	names := make([]string, 0, len(b.objects))
	for name := range b.objects {
		names = append(names, name)
	}
	return names
}

// SignCount reports how many URLs have been signed.
func (b *BlobStore) SignCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.signed
}

// ErrInjected is a convenient failure for the Fail* hooks.
var ErrInjected = errors.New("injected blob store failure")
