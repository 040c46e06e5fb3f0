package controllers

import (
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"

	"sharedrive/services"
	"sharedrive/utils"

	"github.com/gin-gonic/gin"
)

type FileController struct {
	fileService *services.FileService
	proxy       *services.DeliveryProxy
	maxFileSize int64
	logger      *slog.Logger
}

func NewFileController(fileService *services.FileService, proxy *services.DeliveryProxy, maxFileSize int64, logger *slog.Logger) *FileController {
	return &FileController{
		fileService: fileService,
		proxy:       proxy,
		maxFileSize: maxFileSize,
		logger:      logger,
	}
}

type MoveFileRequest struct {
	FolderID string `json:"folder_id"`
}

func uploadItem(fh *multipart.FileHeader) services.UploadItem {
	return services.UploadItem{
		Name:        fh.Filename,
		Size:        fh.Size,
		ContentType: fh.Header.Get("Content-Type"),
		Open: func() (io.ReadCloser, error) {
			return fh.Open()
		},
	}
}

// UploadFiles accepts a multipart form with one or more "files[]" parts and
// an optional "folder_id" value.
func (fc *FileController) UploadFiles(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	form, err := c.MultipartForm()
	if err != nil {
		utils.BadRequestResponse(c, "Invalid multipart form", nil)
		return
	}

	headers := form.File["files[]"]
	if len(headers) == 0 {
		headers = form.File["files"]
	}
	if len(headers) == 0 {
		utils.BadRequestResponse(c, "No files provided", nil)
		return
	}

	folderID, err := optionalID(c.PostForm("folder_id"))
	if err != nil {
		utils.NotFoundResponse(c, "Resource not found")
		return
	}

	items := make([]services.UploadItem, 0, len(headers))
	for _, fh := range headers {
		if err := utils.ValidateFileHeader(fh, fc.maxFileSize); err != nil {
			if fh.Size > fc.maxFileSize {
				utils.PayloadTooLargeResponse(c, err.Error())
				return
			}
			utils.BadRequestResponse(c, "Invalid file", err.Error())
			return
		}
		items = append(items, uploadItem(fh))
	}

	result, err := fc.fileService.UploadFiles(c.Request.Context(), userID, folderID, items)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}

	if len(result.Files) == 0 {
		utils.ErrorResponse(c, http.StatusBadGateway, "No files could be stored", result)
		return
	}
	utils.CreatedResponse(c, "Files uploaded successfully", result)
}

func (fc *FileController) GetFileMetadata(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	fileID, ok := paramID(c, "id")
	if !ok {
		return
	}

	file, level, err := fc.fileService.GetFile(c.Request.Context(), userID, fileID)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "File retrieved", gin.H{
		"file":   file,
		"access": level.String(),
	})
}

// GetDownloadLink returns a short-lived signed URL for direct retrieval.
func (fc *FileController) GetDownloadLink(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	fileID, ok := paramID(c, "id")
	if !ok {
		return
	}

	url, err := fc.fileService.DownloadLink(c.Request.Context(), userID, fileID)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "Download URL generated", gin.H{"download_url": url})
}

func (fc *FileController) DownloadFile(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	fileID, ok := paramID(c, "id")
	if !ok {
		return
	}

	file, policy, err := fc.fileService.PrepareDownload(c.Request.Context(), userID, fileID)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	deliver(c, fc.proxy, fc.logger, file.BlobName, policy)
}

func (fc *FileController) GetThumbnail(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	fileID, ok := paramID(c, "id")
	if !ok {
		return
	}

	file, err := fc.fileService.PrepareThumbnail(c.Request.Context(), userID, fileID)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	deliver(c, fc.proxy, fc.logger, file.ThumbnailBlobName, services.ThumbnailPolicy(file))
}

func (fc *FileController) MoveFile(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	fileID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req MoveFileRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}
	dest, err := optionalID(req.FolderID)
	if err != nil {
		utils.NotFoundResponse(c, "Resource not found")
		return
	}

	file, err := fc.fileService.MoveFile(c.Request.Context(), userID, fileID, dest)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "File moved", file)
}

func (fc *FileController) DeleteFile(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	fileID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := fc.fileService.DeleteFile(c.Request.Context(), userID, fileID); err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "File deleted", nil)
}
