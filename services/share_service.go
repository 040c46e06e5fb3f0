package services

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sharedrive/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const shareTokenBytes = 32

// NewShareToken returns 256 bits from crypto/rand, base64url encoded.
func NewShareToken() (string, error) {
	b := make([]byte, shareTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate share token: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(b), nil
}

type ShareConfig struct {
	DefaultTTL time.Duration
	MaxTTL     time.Duration
}

// ShareService publishes files under anonymous, time-bounded tokens and
// resolves those tokens.
type ShareService struct {
	store       Store
	cache       *MetadataCache
	permissions *PermissionService
	cfg         ShareConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewShareService(store Store, cache *MetadataCache, permissions *PermissionService, cfg ShareConfig, logger *slog.Logger) *ShareService {
	return &ShareService{
		store:       store,
		cache:       cache,
		permissions: permissions,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

func descriptorFor(file *models.File) *models.ShareDescriptor {
	d := &models.ShareDescriptor{
		FileID:       file.ID,
		FileName:     file.Name,
		MimeType:     file.MimeType,
		Size:         file.Size,
		OwnerID:      file.OwnerID,
		HasThumbnail: file.HasThumbnail(),
	}
	if file.ShareExpiresAt != nil {
		d.ExpiresAt = *file.ShareExpiresAt
	}
	return d
}

// Resolve maps a token to its share descriptor. Revoked, expired and unknown
// tokens all report models.ErrNotFound.
func (s *ShareService) Resolve(ctx context.Context, token string) (*models.ShareDescriptor, error) {
	if token == "" {
		return nil, fmt.Errorf("share: %w", models.ErrNotFound)
	}

	desc, err := GetOrLoadWithTTL(ctx, s.cache, ShareKey(token), func(ctx context.Context) (*models.ShareDescriptor, time.Duration, error) {
		file, err := s.store.GetPublicFileByToken(ctx, token)
		if err != nil {
			return nil, 0, err
		}
		now := s.now()
		if !file.ShareActive(now) || file.ShareExpiresAt == nil {
			return nil, 0, fmt.Errorf("share expired: %w", models.ErrNotFound)
		}
		ttl := min(file.ShareExpiresAt.Sub(now), s.cache.Config().ShareMaxTTL)
		return descriptorFor(file), ttl, nil
	})
	if err != nil {
		return nil, err
	}

	if !s.now().Before(desc.ExpiresAt) {
		s.cache.Invalidate(ShareKey(token))
		return nil, fmt.Errorf("share expired: %w", models.ErrNotFound)
	}
	return desc, nil
}

// ResolveFile resolves a token to the shared file record, re-checking the
// record itself so a stale descriptor cannot outlive a revocation.
func (s *ShareService) ResolveFile(ctx context.Context, token string) (*models.File, error) {
	desc, err := s.Resolve(ctx, token)
	if err != nil {
		return nil, err
	}
	file, err := s.permissions.File(ctx, desc.FileID)
	if err != nil {
		return nil, err
	}
	if file.PublicShareToken != token || !file.ShareActive(s.now()) {
		s.cache.Invalidate(ShareKey(token))
		return nil, fmt.Errorf("share: %w", models.ErrNotFound)
	}
	return file, nil
}

// Publish makes a file public under a new token. Publishing an already
// public file rotates its token.
func (s *ShareService) Publish(ctx context.Context, caller, fileID primitive.ObjectID, ttl time.Duration) (*models.ShareLink, error) {
	if ttl <= 0 {
		ttl = s.cfg.DefaultTTL
	}
	if ttl > s.cfg.MaxTTL {
		return nil, fmt.Errorf("share lifetime %s exceeds maximum %s: %w", ttl, s.cfg.MaxTTL, models.ErrInvalidInput)
	}

	file, _, err := s.permissions.RequireFile(ctx, caller, fileID, models.AccessEdit)
	if err != nil {
		return nil, err
	}

	token, err := NewShareToken()
	if err != nil {
		return nil, err
	}
	expiresAt := s.now().Add(ttl)

	if err := s.store.SetFileShare(ctx, fileID, token, expiresAt); err != nil {
		return nil, err
	}

	keys := []string{}
	if file.PublicShareToken != "" {
		keys = append(keys, ShareKey(file.PublicShareToken))
	}
	s.cache.Invalidate(keys...)
	s.cache.InvalidateFileGroup(fileID)

	s.logger.Info("file published", "file_id", fileID.Hex(), "expires_at", expiresAt)
	return &models.ShareLink{FileID: fileID, Token: token, ExpiresAt: expiresAt}, nil
}

// Revoke clears the public flag and token. The cached descriptor and file
// record are gone before Revoke returns.
func (s *ShareService) Revoke(ctx context.Context, caller, fileID primitive.ObjectID) error {
	file, _, err := s.permissions.RequireFile(ctx, caller, fileID, models.AccessEdit)
	if err != nil {
		return err
	}

	// The cached record may predate a rotation; read the current token.
	current, err := s.store.GetFile(ctx, fileID)
	if err != nil && !errors.Is(err, models.ErrNotFound) {
		return err
	}

	if err := s.store.ClearFileShare(ctx, fileID); err != nil {
		return err
	}

	keys := []string{}
	for _, tok := range []string{file.PublicShareToken, tokenOf(current)} {
		if tok != "" {
			keys = append(keys, ShareKey(tok))
		}
	}
	s.cache.Invalidate(keys...)
	s.cache.InvalidateFileGroup(fileID)

	s.logger.Info("public share revoked", "file_id", fileID.Hex())
	return nil
}

func tokenOf(f *models.File) string {
	if f == nil {
		return ""
	}
	return f.PublicShareToken
}
