package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	"sharedrive/models"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"golang.org/x/sync/errgroup"
)

const urlVariantDownload = "download"

type FileConfig struct {
	MaxFileSize       int64
	UploadConcurrency int
	SignedURLTTL      time.Duration
}

type FileService struct {
	store       Store
	blobs       BlobStore
	cache       *MetadataCache
	permissions *PermissionService
	ledger      *QuotaLedger
	thumbnailer Thumbnailer
	cfg         FileConfig
	logger      *slog.Logger
	now         func() time.Time
}

func NewFileService(store Store, blobs BlobStore, cache *MetadataCache, permissions *PermissionService,
	ledger *QuotaLedger, thumbnailer Thumbnailer, cfg FileConfig, logger *slog.Logger) *FileService {
	if cfg.UploadConcurrency < 1 {
		cfg.UploadConcurrency = 4
	}
	return &FileService{
		store:       store,
		blobs:       blobs,
		cache:       cache,
		permissions: permissions,
		ledger:      ledger,
		thumbnailer: thumbnailer,
		cfg:         cfg,
		logger:      logger,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// UploadItem is one file of an upload batch. Open may be called more than
// once; each call must return the content from the start.
type UploadItem struct {
	Name        string
	Size        int64
	ContentType string
	Open        func() (io.ReadCloser, error)
}

type UploadFailure struct {
	Name  string `json:"name"`
	Error string `json:"error"`
}

type UploadResult struct {
	Files      []models.File   `json:"files"`
	Failed     []UploadFailure `json:"failed"`
	TotalBytes int64           `json:"total_bytes"`
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}

func sanitizeFileName(name string) string {
	name = strings.ReplaceAll(name, "\\", "/")
	name = path.Base(name)
	if name == "." || name == "/" || name == "" {
		return "file"
	}
	return name
}

func (s *FileService) blobName(owner primitive.ObjectID, fileName string) string {
	d := s.now()
	return fmt.Sprintf("users/%s/%d/%02d/%s/%s", owner.Hex(), d.Year(), d.Month(), uuid.New(), sanitizeFileName(fileName))
}

// UploadFiles stores a batch of files owned by caller, in folderID or at the
// caller's root. Capacity for the whole batch is admitted up front; each file
// is then stored independently and reported in the result.
func (s *FileService) UploadFiles(ctx context.Context, caller primitive.ObjectID, folderID *primitive.ObjectID, items []UploadItem) (*UploadResult, error) {
	if len(items) == 0 {
		return nil, fmt.Errorf("no files provided: %w", models.ErrInvalidInput)
	}

	var total int64
	for _, item := range items {
		if item.Size < 0 {
			return nil, fmt.Errorf("file %s has an unknown size: %w", item.Name, models.ErrInvalidInput)
		}
		if s.cfg.MaxFileSize > 0 && item.Size > s.cfg.MaxFileSize {
			return nil, fmt.Errorf("file %s exceeds the per-file limit: %w", item.Name, models.ErrPayloadTooLarge)
		}
		total += item.Size
	}

	if folderID != nil {
		if _, _, err := s.permissions.RequireFolder(ctx, caller, *folderID, models.AccessCreate); err != nil {
			return nil, err
		}
	}

	admission, err := s.ledger.Admit(ctx, caller, total)
	if err != nil {
		return nil, err
	}
	defer admission.Release(context.WithoutCancel(ctx))

	result := &UploadResult{Files: []models.File{}, Failed: []UploadFailure{}}
	var mu sync.Mutex
	var g errgroup.Group
	g.SetLimit(s.cfg.UploadConcurrency)

	for _, item := range items {
		g.Go(func() error {
			file, err := s.uploadOne(ctx, caller, folderID, admission, item)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				s.logger.Warn("file upload failed", "name", item.Name, "owner", caller.Hex(), "error", err)
				result.Failed = append(result.Failed, UploadFailure{Name: item.Name, Error: err.Error()})
				return nil
			}
			result.Files = append(result.Files, *file)
			result.TotalBytes += file.Size
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(result.Files, func(i, j int) bool { return result.Files[i].Name < result.Files[j].Name })
	s.logger.Info("upload batch finished", "owner", caller.Hex(),
		"stored", len(result.Files), "failed", len(result.Failed), "bytes", result.TotalBytes)
	return result, nil
}

func (s *FileService) uploadOne(ctx context.Context, caller primitive.ObjectID, folderID *primitive.ObjectID, admission *Admission, item UploadItem) (*models.File, error) {
	contentType, err := s.detectContentType(item)
	if err != nil {
		return nil, err
	}

	rc, err := item.Open()
	if err != nil {
		return nil, fmt.Errorf("failed to open upload: %w", err)
	}
	defer rc.Close()

	name := s.blobName(caller, item.Name)
	counter := &countingReader{r: io.LimitReader(rc, item.Size+1)}
	blob, err := s.blobs.Put(ctx, name, contentType, counter, item.Size)
	if err != nil {
		return nil, fmt.Errorf("failed to store blob: %w", err)
	}
	if counter.n != item.Size {
		s.discardBlobs(ctx, caller, "upload size mismatch", blob)
		return nil, fmt.Errorf("file %s declared %d bytes but sent %d: %w", item.Name, item.Size, counter.n, models.ErrInvalidInput)
	}

	thumb := s.makeThumbnail(ctx, name, contentType, item)

	now := s.now()
	file := &models.File{
		Name:      sanitizeFileName(item.Name),
		OwnerID:   caller,
		FolderID:  folderID,
		Size:      item.Size,
		MimeType:  contentType,
		BlobID:    blob.BlobID,
		BlobName:  blob.Name,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if thumb != nil {
		file.ThumbnailBlobID = thumb.BlobID
		file.ThumbnailBlobName = thumb.Name
	}

	err = admission.Commit(ctx, item.Size, func(ctx context.Context) error {
		if folderID != nil {
			// Conflicts with a concurrent delete of the target folder.
			if err := s.store.TouchFolder(ctx, *folderID); err != nil {
				return err
			}
		}
		return s.store.InsertFile(ctx, file)
	})
	if err != nil {
		s.discardBlobs(ctx, caller, "metadata insert failed", blob, thumb)
		return nil, fmt.Errorf("failed to record file: %w", err)
	}
	return file, nil
}

// detectContentType trusts a declared type unless it is missing or generic,
// in which case the content is sniffed.
func (s *FileService) detectContentType(item UploadItem) (string, error) {
	if declared := strings.TrimSpace(item.ContentType); declared != "" {
		if mediaType, _, err := mime.ParseMediaType(declared); err == nil && mediaType != "application/octet-stream" {
			return declared, nil
		}
	}

	rc, err := item.Open()
	if err != nil {
		return "", fmt.Errorf("failed to open upload: %w", err)
	}
	defer rc.Close()

	mt, err := mimetype.DetectReader(rc)
	if err != nil {
		return "", fmt.Errorf("failed to detect content type: %w", err)
	}
	return mt.String(), nil
}

func (s *FileService) makeThumbnail(ctx context.Context, blobName, contentType string, item UploadItem) *models.BlobObject {
	if s.thumbnailer == nil {
		return nil
	}
	rc, err := item.Open()
	if err != nil {
		s.logger.Warn("thumbnail skipped", "name", item.Name, "error", err)
		return nil
	}
	defer rc.Close()

	data, err := s.thumbnailer.Generate(ctx, rc, contentType)
	if errors.Is(err, ErrThumbnailUnsupported) {
		return nil
	}
	if err != nil {
		s.logger.Warn("thumbnail generation failed", "name", item.Name, "error", err)
		return nil
	}

	thumb, err := s.blobs.Put(ctx, blobName+".thumb.jpg", "image/jpeg", bytes.NewReader(data), int64(len(data)))
	if err != nil {
		s.logger.Warn("thumbnail upload failed", "name", item.Name, "error", err)
		return nil
	}
	return thumb
}

// discardBlobs removes blobs whose metadata was never recorded. Blobs that
// cannot be removed are recorded for the orphan sweeper.
func (s *FileService) discardBlobs(ctx context.Context, owner primitive.ObjectID, reason string, blobs ...*models.BlobObject) {
	ctx = context.WithoutCancel(ctx)
	for _, b := range blobs {
		if b == nil {
			continue
		}
		if err := s.blobs.Delete(ctx, b.BlobID, b.Name); err != nil {
			s.recordOrphan(ctx, owner, b.BlobID, b.Name, reason+": "+err.Error())
		}
	}
}

func (s *FileService) recordOrphan(ctx context.Context, owner primitive.ObjectID, blobID, blobName, reason string) {
	orphan := &models.OrphanedBlob{
		BlobID:    blobID,
		BlobName:  blobName,
		OwnerID:   owner,
		Reason:    reason,
		CreatedAt: s.now(),
	}
	if err := s.store.RecordOrphan(ctx, orphan); err != nil {
		s.logger.Error("failed to record orphaned blob", "blob", blobName, "error", err)
	}
}

func (s *FileService) GetFile(ctx context.Context, caller, fileID primitive.ObjectID) (*models.File, models.AccessLevel, error) {
	return s.permissions.RequireFile(ctx, caller, fileID, models.AccessView)
}

// DownloadLink returns a signed retrieval URL. The URL is cached for less
// time than it stays valid.
func (s *FileService) DownloadLink(ctx context.Context, caller, fileID primitive.ObjectID) (string, error) {
	file, _, err := s.permissions.RequireFile(ctx, caller, fileID, models.AccessView)
	if err != nil {
		return "", err
	}
	return GetOrLoad(ctx, s.cache, FileURLKey(fileID, urlVariantDownload), s.cache.Config().DownloadURLTTL,
		func(ctx context.Context) (string, error) {
			return s.blobs.SignURL(ctx, file.BlobName, s.cfg.SignedURLTTL)
		})
}

// PrepareDownload authorizes a streamed download and counts it.
func (s *FileService) PrepareDownload(ctx context.Context, caller, fileID primitive.ObjectID) (*models.File, DeliveryPolicy, error) {
	file, _, err := s.permissions.RequireFile(ctx, caller, fileID, models.AccessView)
	if err != nil {
		return nil, DeliveryPolicy{}, err
	}
	s.RecordDownload(ctx, file.ID)
	return file, PolicyForFile(file), nil
}

// RecordDownload increments the download counter. A failure is logged and
// does not block delivery.
func (s *FileService) RecordDownload(ctx context.Context, fileID primitive.ObjectID) {
	if err := s.store.IncrementDownloads(ctx, fileID); err != nil {
		s.logger.Warn("failed to count download", "file_id", fileID.Hex(), "error", err)
	}
}

func (s *FileService) PrepareThumbnail(ctx context.Context, caller, fileID primitive.ObjectID) (*models.File, error) {
	file, _, err := s.permissions.RequireFile(ctx, caller, fileID, models.AccessView)
	if err != nil {
		return nil, err
	}
	if !file.HasThumbnail() {
		return nil, fmt.Errorf("thumbnail: %w", models.ErrNotFound)
	}
	return file, nil
}

// MoveFile moves a file into dest, or to its owner's root when dest is nil.
func (s *FileService) MoveFile(ctx context.Context, caller, fileID primitive.ObjectID, dest *primitive.ObjectID) (*models.File, error) {
	file, _, err := s.permissions.RequireFile(ctx, caller, fileID, models.AccessEdit)
	if err != nil {
		return nil, err
	}
	if dest == nil {
		if file.OwnerID != caller {
			return nil, fmt.Errorf("only the owner may move a file to root: %w", models.ErrNotFoundOrDenied)
		}
	} else if _, _, err := s.permissions.RequireFolder(ctx, caller, *dest, models.AccessCreate); err != nil {
		return nil, err
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if dest != nil {
			if err := s.store.TouchFolder(ctx, *dest); err != nil {
				return err
			}
		}
		return s.store.UpdateFileFolder(ctx, fileID, dest)
	})
	if err != nil {
		return nil, err
	}
	s.cache.InvalidateFileGroup(fileID)

	moved := *file
	moved.FolderID = dest
	moved.UpdatedAt = s.now()
	s.logger.Info("file moved", "file_id", fileID.Hex(), "by", caller.Hex())
	return &moved, nil
}

// DeleteFile removes the blob, then the record. Usage is released only when
// the blob is actually gone; otherwise the blob is recorded as orphaned and
// the sweeper finishes the job.
func (s *FileService) DeleteFile(ctx context.Context, caller, fileID primitive.ObjectID) error {
	file, _, err := s.permissions.RequireFile(ctx, caller, fileID, models.AccessEdit)
	if err != nil {
		return err
	}
	ctx = context.WithoutCancel(ctx)

	s.cache.InvalidateFileGroup(fileID)

	blobErr := s.blobs.Delete(ctx, file.BlobID, file.BlobName)
	if file.HasThumbnail() {
		if err := s.blobs.Delete(ctx, file.ThumbnailBlobID, file.ThumbnailBlobName); err != nil {
			s.recordOrphan(ctx, file.OwnerID, file.ThumbnailBlobID, file.ThumbnailBlobName, "thumbnail delete failed: "+err.Error())
		}
	}

	err = s.store.WithTransaction(ctx, func(ctx context.Context) error {
		if err := s.store.DeleteFile(ctx, fileID); err != nil {
			return err
		}
		if blobErr != nil {
			return s.store.RecordOrphan(ctx, &models.OrphanedBlob{
				BlobID:    file.BlobID,
				BlobName:  file.BlobName,
				OwnerID:   file.OwnerID,
				Reason:    "blob delete failed: " + blobErr.Error(),
				CreatedAt: s.now(),
			})
		}
		return s.ledger.Commit(ctx, file.OwnerID, -file.Size)
	})
	if err != nil {
		return err
	}

	if file.PublicShareToken != "" {
		s.cache.Invalidate(ShareKey(file.PublicShareToken))
	}
	s.cache.InvalidateFileGroup(fileID)

	if blobErr != nil {
		s.logger.Warn("file deleted but blob kept for sweeper", "file_id", fileID.Hex(), "error", blobErr)
	} else {
		s.logger.Info("file deleted", "file_id", fileID.Hex(), "by", caller.Hex(), "bytes", file.Size)
	}
	return nil
}
