package services

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"time"

	"sharedrive/models"

	"github.com/kurin/blazer/b2"
)

// B2Service stores blobs in a private Backblaze B2 bucket. Objects are
// addressed by name; the name doubles as the blob ID.
type B2Service struct {
	client     *b2.Client
	bucketName string
	bucket     *b2.Bucket
	logger     *slog.Logger
}

func NewB2Service(ctx context.Context, keyID, applicationKey, bucketName string, logger *slog.Logger) (*B2Service, error) {
	client, err := b2.NewClient(ctx, keyID, applicationKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create B2 client: %w", err)
	}

	bucket, err := client.Bucket(ctx, bucketName)
	if err != nil {
		return nil, fmt.Errorf("failed to get bucket %s: %w", bucketName, err)
	}

	return &B2Service{
		client:     client,
		bucketName: bucketName,
		bucket:     bucket,
		logger:     logger,
	}, nil
}

func (s *B2Service) Put(ctx context.Context, name, contentType string, r io.Reader, size int64) (*models.BlobObject, error) {
	obj := s.bucket.Object(name)
	writer := obj.NewWriter(ctx, b2.WithAttrsOption(&b2.Attrs{ContentType: contentType}))

	// Stream straight through to B2 while hashing for the log line.
	hasher := sha1.New()
	written, err := io.Copy(io.MultiWriter(writer, hasher), r)
	if err != nil {
		writer.Close()
		return nil, fmt.Errorf("failed to upload %s to B2: %w", name, err)
	}
	if err := writer.Close(); err != nil {
		return nil, fmt.Errorf("failed to close B2 writer: %w", err)
	}

	s.logger.Debug("blob stored", "backend", "b2", "name", name, "bytes", written, "sha1", hex.EncodeToString(hasher.Sum(nil)))
	return &models.BlobObject{
		BlobID: name,
		Name:   name,
		URL:    obj.URL(),
		Size:   written,
	}, nil
}

// SignURL returns a fresh authorized download URL for a private object.
func (s *B2Service) SignURL(ctx context.Context, name string, ttl time.Duration) (string, error) {
	u, err := s.bucket.Object(name).AuthURL(ctx, ttl, "")
	if err != nil {
		return "", fmt.Errorf("failed to generate signed URL: %w", err)
	}
	return u.String(), nil
}

func (s *B2Service) Delete(ctx context.Context, blobID, name string) error {
	if err := s.bucket.Object(name).Delete(ctx); err != nil {
		if b2.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to delete %s from B2: %w", name, err)
	}
	return nil
}
