package controllers

import (
	"fmt"
	"log/slog"
	"time"

	"sharedrive/models"
	"sharedrive/services"
	"sharedrive/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type ShareController struct {
	shareService *services.ShareService
	fileService  *services.FileService
	proxy        *services.DeliveryProxy
	validator    *validator.Validate
	logger       *slog.Logger
}

func NewShareController(shareService *services.ShareService, fileService *services.FileService, proxy *services.DeliveryProxy, logger *slog.Logger) *ShareController {
	return &ShareController{
		shareService: shareService,
		fileService:  fileService,
		proxy:        proxy,
		validator:    validator.New(),
		logger:       logger,
	}
}

type PublishRequest struct {
	// ExpiresInHours defaults to the configured share lifetime when zero.
	ExpiresInHours int `json:"expires_in_hours" validate:"omitempty,min=1,max=8760"`
}

type PublicShareResponse struct {
	*models.ShareDescriptor
	DownloadURL  string `json:"download_url"`
	ThumbnailURL string `json:"thumbnail_url,omitempty"`
}

func publicPath(token, suffix string) string {
	return fmt.Sprintf("/api/public/%s%s", token, suffix)
}

func (sc *ShareController) PublishFile(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	fileID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req PublishRequest
	if c.Request.ContentLength != 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			utils.BadRequestResponse(c, "Invalid request body", err.Error())
			return
		}
	}
	if err := sc.validator.Struct(req); err != nil {
		utils.BadRequestResponse(c, "Validation failed", err.Error())
		return
	}

	link, err := sc.shareService.Publish(c.Request.Context(), userID, fileID, time.Duration(req.ExpiresInHours)*time.Hour)
	if err != nil {
		utils.HandleServiceError(c, sc.logger, err)
		return
	}
	utils.CreatedResponse(c, "Public link created", gin.H{
		"file_id":    link.FileID,
		"token":      link.Token,
		"expires_at": link.ExpiresAt,
		"url":        publicPath(link.Token, ""),
	})
}

func (sc *ShareController) RevokeFile(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	fileID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := sc.shareService.Revoke(c.Request.Context(), userID, fileID); err != nil {
		utils.HandleServiceError(c, sc.logger, err)
		return
	}
	utils.SuccessResponse(c, "Public link revoked", nil)
}

// GetPublicShare describes a shared file to an anonymous caller.
func (sc *ShareController) GetPublicShare(c *gin.Context) {
	token := c.Param("token")
	desc, err := sc.shareService.Resolve(c.Request.Context(), token)
	if err != nil {
		utils.HandleServiceError(c, sc.logger, err)
		return
	}

	resp := PublicShareResponse{ShareDescriptor: desc, DownloadURL: publicPath(token, "/download")}
	if desc.HasThumbnail {
		resp.ThumbnailURL = publicPath(token, "/thumbnail")
	}
	utils.SuccessResponse(c, "Shared file", resp)
}

func (sc *ShareController) DownloadPublic(c *gin.Context) {
	file, err := sc.shareService.ResolveFile(c.Request.Context(), c.Param("token"))
	if err != nil {
		utils.HandleServiceError(c, sc.logger, err)
		return
	}
	sc.fileService.RecordDownload(c.Request.Context(), file.ID)
	deliver(c, sc.proxy, sc.logger, file.BlobName, services.PolicyForFile(file))
}

func (sc *ShareController) PublicThumbnail(c *gin.Context) {
	file, err := sc.shareService.ResolveFile(c.Request.Context(), c.Param("token"))
	if err != nil {
		utils.HandleServiceError(c, sc.logger, err)
		return
	}
	if !file.HasThumbnail() {
		utils.NotFoundResponse(c, "Resource not found")
		return
	}
	deliver(c, sc.proxy, sc.logger, file.ThumbnailBlobName, services.ThumbnailPolicy(file))
}
