package services

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"sharedrive/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// FolderContents is a folder with the files directly inside it and the child
// folders the caller can see.
type FolderContents struct {
	Folder     models.Folder  `json:"folder"`
	Access     string         `json:"access"`
	Subfolders []models.Folder `json:"subfolders"`
	Files      []models.File  `json:"files"`
}

type SharedFolder struct {
	Folder     models.Folder         `json:"folder"`
	Permission models.PermissionType `json:"permission"`
}

// RootListing is what a user sees at the top level: their own root items and
// the folders shared with them.
type RootListing struct {
	Folders []models.Folder `json:"folders"`
	Files   []models.File   `json:"files"`
	Shared  []SharedFolder  `json:"shared"`
}

type FolderService struct {
	store       Store
	cache       *MetadataCache
	permissions *PermissionService
	logger      *slog.Logger
	now         func() time.Time
}

func NewFolderService(store Store, cache *MetadataCache, permissions *PermissionService, logger *slog.Logger) *FolderService {
	return &FolderService{
		store:       store,
		cache:       cache,
		permissions: permissions,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// CreateFolder creates a folder owned by caller under parentID, or at the
// caller's root when parentID is nil.
func (s *FolderService) CreateFolder(ctx context.Context, caller primitive.ObjectID, name string, parentID *primitive.ObjectID) (*models.Folder, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, fmt.Errorf("folder name is required: %w", models.ErrInvalidInput)
	}
	if parentID != nil {
		if _, _, err := s.permissions.RequireFolder(ctx, caller, *parentID, models.AccessCreate); err != nil {
			return nil, err
		}
	}

	now := s.now()
	folder := &models.Folder{
		Name:      name,
		ParentID:  parentID,
		OwnerID:   caller,
		CreatedAt: now,
		UpdatedAt: now,
	}
	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if parentID != nil {
			if err := s.store.TouchFolder(ctx, *parentID); err != nil {
				return err
			}
		}
		return s.store.InsertFolder(ctx, folder)
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("folder created", "folder_id", folder.ID.Hex(), "owner", caller.Hex())
	return folder, nil
}

func (s *FolderService) GetFolder(ctx context.Context, caller, folderID primitive.ObjectID) (*FolderContents, error) {
	folder, level, err := s.permissions.RequireFolder(ctx, caller, folderID, models.AccessView)
	if err != nil {
		return nil, err
	}

	files, err := s.store.ListFolderFiles(ctx, folderID)
	if err != nil {
		return nil, err
	}
	children, err := s.store.ListChildFolders(ctx, folderID)
	if err != nil {
		return nil, err
	}

	visible := make([]models.Folder, 0, len(children))
	for _, child := range children {
		childLevel, _, err := s.permissions.ResolveFolder(ctx, caller, child.ID)
		if err != nil {
			if errors.Is(err, models.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if childLevel.AtLeast(models.AccessView) {
			visible = append(visible, child)
		}
	}

	return &FolderContents{
		Folder:     *folder,
		Access:     level.String(),
		Subfolders: visible,
		Files:      nonNilFiles(files),
	}, nil
}

func nonNilFiles(files []models.File) []models.File {
	if files == nil {
		return []models.File{}
	}
	return files
}

func (s *FolderService) ListRoot(ctx context.Context, caller primitive.ObjectID) (*RootListing, error) {
	folders, err := s.store.ListRootFolders(ctx, caller)
	if err != nil {
		return nil, err
	}
	files, err := s.store.ListRootFiles(ctx, caller)
	if err != nil {
		return nil, err
	}
	grants, err := s.store.ListUserGrants(ctx, caller)
	if err != nil {
		return nil, err
	}

	shared := make([]SharedFolder, 0, len(grants))
	for _, g := range grants {
		folder, err := s.permissions.Folder(ctx, g.FolderID)
		if errors.Is(err, models.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		shared = append(shared, SharedFolder{Folder: *folder, Permission: g.Permission})
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i].Folder.Name < shared[j].Folder.Name })

	if folders == nil {
		folders = []models.Folder{}
	}
	return &RootListing{Folders: folders, Files: nonNilFiles(files), Shared: shared}, nil
}

// MoveFolder reparents a folder. Only the owner may move it, and the caller
// needs create access on the destination. A folder cannot be moved beneath
// itself.
func (s *FolderService) MoveFolder(ctx context.Context, caller, folderID primitive.ObjectID, dest *primitive.ObjectID) (*models.Folder, error) {
	folder, _, err := s.permissions.RequireFolder(ctx, caller, folderID, models.AccessOwner)
	if err != nil {
		return nil, err
	}
	if dest != nil {
		if *dest == folderID {
			return nil, models.ErrFolderCycle
		}
		if _, _, err := s.permissions.RequireFolder(ctx, caller, *dest, models.AccessCreate); err != nil {
			return nil, err
		}
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if dest != nil {
			if err := s.checkNotAncestor(ctx, folderID, *dest); err != nil {
				return err
			}
			if err := s.store.TouchFolder(ctx, *dest); err != nil {
				return err
			}
		}
		return s.store.UpdateFolderParent(ctx, folderID, dest)
	})
	if err != nil {
		return nil, err
	}
	s.cache.Invalidate(FolderKey(folderID))

	moved := *folder
	moved.ParentID = dest
	moved.UpdatedAt = s.now()
	s.logger.Info("folder moved", "folder_id", folderID.Hex(), "by", caller.Hex())
	return &moved, nil
}

// checkNotAncestor walks up from dest and fails if folderID is on the path.
func (s *FolderService) checkNotAncestor(ctx context.Context, folderID, dest primitive.ObjectID) error {
	seen := map[primitive.ObjectID]bool{}
	cur := &dest
	for cur != nil {
		if *cur == folderID {
			return models.ErrFolderCycle
		}
		if seen[*cur] {
			return fmt.Errorf("folder tree already contains a cycle at %s: %w", cur.Hex(), models.ErrFolderCycle)
		}
		seen[*cur] = true

		f, err := s.store.GetFolder(ctx, *cur)
		if err != nil {
			return err
		}
		cur = f.ParentID
	}
	return nil
}

// DeleteFolder removes an empty folder and its grants. Non-empty folders are
// rejected rather than cascaded.
func (s *FolderService) DeleteFolder(ctx context.Context, caller, folderID primitive.ObjectID) error {
	if _, _, err := s.permissions.RequireFolder(ctx, caller, folderID, models.AccessOwner); err != nil {
		return err
	}

	err := s.store.WithTransaction(ctx, func(ctx context.Context) error {
		folders, files, err := s.store.CountFolderChildren(ctx, folderID)
		if err != nil {
			return err
		}
		if folders > 0 || files > 0 {
			return fmt.Errorf("%d folders and %d files remain: %w", folders, files, models.ErrFolderNotEmpty)
		}
		if err := s.store.DeleteFolderGrants(ctx, folderID); err != nil {
			return err
		}
		return s.store.DeleteFolder(ctx, folderID)
	})
	if err != nil {
		return err
	}

	s.cache.Invalidate(FolderKey(folderID))
	s.cache.InvalidateFolderGrants(folderID)
	s.logger.Info("folder deleted", "folder_id", folderID.Hex(), "by", caller.Hex())
	return nil
}
