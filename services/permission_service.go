package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"sharedrive/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Notifier is told about new grants. Delivery happens off the request path.
type Notifier interface {
	NotifyFolderShared(ctx context.Context, granteeID, granterID primitive.ObjectID, folder *models.Folder) error
}

// PermissionService resolves a caller's effective access on folders and
// files. It is the only place ownership and grants are interpreted.
type PermissionService struct {
	store    Store
	cache    *MetadataCache
	notifier Notifier
	logger   *slog.Logger
	// pending counts notifications still being delivered.
	pending sync.WaitGroup
}

func NewPermissionService(store Store, cache *MetadataCache, notifier Notifier, logger *slog.Logger) *PermissionService {
	return &PermissionService{
		store:    store,
		cache:    cache,
		notifier: notifier,
		logger:   logger,
	}
}

// File returns the file record through the metadata cache.
func (s *PermissionService) File(ctx context.Context, id primitive.ObjectID) (*models.File, error) {
	return GetOrLoad(ctx, s.cache, FileKey(id), s.cache.Config().MetadataTTL, func(ctx context.Context) (*models.File, error) {
		return s.store.GetFile(ctx, id)
	})
}

// Folder returns the folder record through the metadata cache.
func (s *PermissionService) Folder(ctx context.Context, id primitive.ObjectID) (*models.Folder, error) {
	return GetOrLoad(ctx, s.cache, FolderKey(id), s.cache.Config().MetadataTTL, func(ctx context.Context) (*models.Folder, error) {
		return s.store.GetFolder(ctx, id)
	})
}

func (s *PermissionService) grant(ctx context.Context, folderID, userID primitive.ObjectID) (*models.Grant, error) {
	return GetOrLoad(ctx, s.cache, GrantKey(folderID, userID), s.cache.Config().GrantTTL, func(ctx context.Context) (*models.Grant, error) {
		return s.store.GetGrant(ctx, folderID, userID)
	})
}

// folderAccess applies the grant rule to a loaded folder.
func (s *PermissionService) folderAccess(ctx context.Context, caller primitive.ObjectID, folder *models.Folder) (models.AccessLevel, error) {
	if folder.OwnerID == caller {
		return models.AccessOwner, nil
	}
	g, err := s.grant(ctx, folder.ID, caller)
	if errors.Is(err, models.ErrNotFound) {
		return models.AccessNone, nil
	}
	if err != nil {
		return models.AccessNone, err
	}
	return g.Permission.Level(), nil
}

// ResolveFolder returns the caller's access on a folder: owner, or the level
// of the caller's grant on exactly this folder. Grants on ancestors do not
// apply.
func (s *PermissionService) ResolveFolder(ctx context.Context, caller, folderID primitive.ObjectID) (models.AccessLevel, *models.Folder, error) {
	folder, err := s.Folder(ctx, folderID)
	if err != nil {
		return models.AccessNone, nil, err
	}
	level, err := s.folderAccess(ctx, caller, folder)
	if err != nil {
		return models.AccessNone, nil, err
	}
	return level, folder, nil
}

// ResolveFile returns the caller's access on a file. The uploader owns it;
// everyone else gets the access they hold on the containing folder. A file
// outside any folder is visible to its owner only.
func (s *PermissionService) ResolveFile(ctx context.Context, caller, fileID primitive.ObjectID) (models.AccessLevel, *models.File, error) {
	file, err := s.File(ctx, fileID)
	if err != nil {
		return models.AccessNone, nil, err
	}
	if file.OwnerID == caller {
		return models.AccessOwner, file, nil
	}
	if file.FolderID == nil {
		return models.AccessNone, file, nil
	}

	folder, err := s.Folder(ctx, *file.FolderID)
	if errors.Is(err, models.ErrNotFound) {
		return models.AccessNone, file, nil
	}
	if err != nil {
		return models.AccessNone, nil, err
	}
	level, err := s.folderAccess(ctx, caller, folder)
	if err != nil {
		return models.AccessNone, nil, err
	}
	return level, file, nil
}

// deny collapses lookup failures and insufficient access into one error so
// callers cannot probe for the existence of resources they cannot see.
func (s *PermissionService) deny(kind string, id, caller primitive.ObjectID, required models.AccessLevel, cause error) error {
	if cause != nil && !errors.Is(cause, models.ErrNotFound) {
		s.logger.Error("authorization lookup failed", "kind", kind, "id", id.Hex(), "caller", caller.Hex(), "error", cause)
	} else {
		s.logger.Debug("access denied", "kind", kind, "id", id.Hex(), "caller", caller.Hex(), "required", required.String())
	}
	return fmt.Errorf("%s %s: %w", kind, id.Hex(), models.ErrNotFoundOrDenied)
}

func (s *PermissionService) RequireFolder(ctx context.Context, caller, folderID primitive.ObjectID, required models.AccessLevel) (*models.Folder, models.AccessLevel, error) {
	level, folder, err := s.ResolveFolder(ctx, caller, folderID)
	if err != nil || !level.AtLeast(required) {
		return nil, models.AccessNone, s.deny("folder", folderID, caller, required, err)
	}
	return folder, level, nil
}

func (s *PermissionService) RequireFile(ctx context.Context, caller, fileID primitive.ObjectID, required models.AccessLevel) (*models.File, models.AccessLevel, error) {
	level, file, err := s.ResolveFile(ctx, caller, fileID)
	if err != nil || !level.AtLeast(required) {
		return nil, models.AccessNone, s.deny("file", fileID, caller, required, err)
	}
	return file, level, nil
}

type GrantRequest struct {
	FolderID   primitive.ObjectID
	GranteeID  primitive.ObjectID
	Email      string
	Permission models.PermissionType
}

// GrantAccess creates or replaces the grant of a user on a folder. Only the
// folder owner may grant, and never to themselves.
func (s *PermissionService) GrantAccess(ctx context.Context, caller primitive.ObjectID, req GrantRequest) (*models.Grant, error) {
	if req.Permission.Level() == models.AccessNone {
		return nil, fmt.Errorf("invalid permission type %q: %w", req.Permission, models.ErrInvalidInput)
	}

	var grant *models.Grant
	var folder *models.Folder
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		f, err := s.store.GetFolder(ctx, req.FolderID)
		if err != nil || f.OwnerID != caller {
			return s.deny("folder", req.FolderID, caller, models.AccessOwner, err)
		}

		granteeID := req.GranteeID
		if granteeID.IsZero() {
			user, err := s.store.GetUserByEmail(ctx, req.Email)
			if err != nil {
				return fmt.Errorf("grantee: %w", err)
			}
			granteeID = user.ID
		} else if _, err := s.store.GetUser(ctx, granteeID); err != nil {
			return fmt.Errorf("grantee: %w", err)
		}
		if granteeID == f.OwnerID {
			return models.ErrSelfGrant
		}

		g := &models.Grant{
			FolderID:   f.ID,
			UserID:     granteeID,
			Permission: req.Permission,
			GrantedBy:  caller,
			GrantedAt:  time.Now().UTC(),
		}
		if err := s.store.UpsertGrant(ctx, g); err != nil {
			return err
		}
		grant, folder = g, f
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.cache.Invalidate(GrantKey(grant.FolderID, grant.UserID))
	s.logger.Info("folder access granted",
		"folder_id", grant.FolderID.Hex(), "grantee", grant.UserID.Hex(), "permission", string(grant.Permission))

	if s.notifier != nil {
		s.pending.Add(1)
		go func() {
			defer s.pending.Done()
			nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Minute)
			defer cancel()
			if err := s.notifier.NotifyFolderShared(nctx, grant.UserID, caller, folder); err != nil {
				s.logger.Warn("share notification failed", "grantee", grant.UserID.Hex(), "error", err)
			}
		}()
	}
	return grant, nil
}

// Drain waits for in-flight grant notifications, giving up when ctx ends.
func (s *PermissionService) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.pending.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *PermissionService) RevokeAccess(ctx context.Context, caller, folderID, granteeID primitive.ObjectID) error {
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		f, err := s.store.GetFolder(ctx, folderID)
		if err != nil || f.OwnerID != caller {
			return s.deny("folder", folderID, caller, models.AccessOwner, err)
		}
		return s.store.DeleteGrant(ctx, folderID, granteeID)
	})
	if err != nil {
		return err
	}
	s.cache.Invalidate(GrantKey(folderID, granteeID))
	s.logger.Info("folder access revoked", "folder_id", folderID.Hex(), "grantee", granteeID.Hex())
	return nil
}

func (s *PermissionService) ListGrants(ctx context.Context, caller, folderID primitive.ObjectID) ([]models.Grant, error) {
	if _, _, err := s.RequireFolder(ctx, caller, folderID, models.AccessOwner); err != nil {
		return nil, err
	}
	return s.store.ListGrants(ctx, folderID)
}
