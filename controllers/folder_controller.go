package controllers

import (
	"log/slog"
	"strings"

	"sharedrive/models"
	"sharedrive/services"
	"sharedrive/utils"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

type FolderController struct {
	folderService     *services.FolderService
	permissionService *services.PermissionService
	validator         *validator.Validate
	logger            *slog.Logger
}

func NewFolderController(folderService *services.FolderService, permissionService *services.PermissionService, logger *slog.Logger) *FolderController {
	return &FolderController{
		folderService:     folderService,
		permissionService: permissionService,
		validator:         validator.New(),
		logger:            logger,
	}
}

type CreateFolderRequest struct {
	Name     string `json:"name" validate:"required,max=255"`
	ParentID string `json:"parent_id"`
}

type MoveFolderRequest struct {
	ParentID string `json:"parent_id"`
}

type GrantAccessRequest struct {
	UserID     string `json:"user_id" validate:"required_without=Email"`
	Email      string `json:"email" validate:"omitempty,email"`
	Permission string `json:"permission" validate:"required,oneof=view create edit"`
}

func (fc *FolderController) CreateFolder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	var req CreateFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}
	if err := fc.validator.Struct(req); err != nil {
		utils.BadRequestResponse(c, "Validation failed", err.Error())
		return
	}
	req.Name = strings.TrimSpace(req.Name)
	if err := utils.ValidateFolderName(req.Name); err != nil {
		utils.BadRequestResponse(c, "Invalid folder name", err.Error())
		return
	}
	parentID, err := optionalID(req.ParentID)
	if err != nil {
		utils.NotFoundResponse(c, "Resource not found")
		return
	}

	folder, err := fc.folderService.CreateFolder(c.Request.Context(), userID, req.Name, parentID)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.CreatedResponse(c, "Folder created", folder)
}

// ListRoot returns the caller's top level together with folders shared with
// them.
func (fc *FolderController) ListRoot(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}

	listing, err := fc.folderService.ListRoot(c.Request.Context(), userID)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "Drive retrieved", listing)
}

func (fc *FolderController) GetFolder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	folderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	contents, err := fc.folderService.GetFolder(c.Request.Context(), userID, folderID)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "Folder retrieved", contents)
}

func (fc *FolderController) MoveFolder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	folderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req MoveFolderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}
	dest, err := optionalID(req.ParentID)
	if err != nil {
		utils.NotFoundResponse(c, "Resource not found")
		return
	}

	folder, err := fc.folderService.MoveFolder(c.Request.Context(), userID, folderID, dest)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "Folder moved", folder)
}

func (fc *FolderController) DeleteFolder(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	folderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	if err := fc.folderService.DeleteFolder(c.Request.Context(), userID, folderID); err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "Folder deleted", nil)
}

func (fc *FolderController) ListPermissions(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	folderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	grants, err := fc.permissionService.ListGrants(c.Request.Context(), userID, folderID)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	if grants == nil {
		grants = []models.Grant{}
	}
	utils.SuccessResponse(c, "Permissions retrieved", grants)
}

// GrantAccess creates or replaces a user's grant on the folder. The grantee
// is named by user ID or by email.
func (fc *FolderController) GrantAccess(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	folderID, ok := paramID(c, "id")
	if !ok {
		return
	}

	var req GrantAccessRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		utils.BadRequestResponse(c, "Invalid request body", err.Error())
		return
	}
	if err := fc.validator.Struct(req); err != nil {
		utils.BadRequestResponse(c, "Validation failed", err.Error())
		return
	}
	permission, err := models.ParsePermissionType(req.Permission)
	if err != nil {
		utils.BadRequestResponse(c, "Invalid permission", err.Error())
		return
	}

	grantReq := services.GrantRequest{
		FolderID:   folderID,
		Email:      strings.ToLower(strings.TrimSpace(req.Email)),
		Permission: permission,
	}
	if req.UserID != "" {
		granteeID, err := primitive.ObjectIDFromHex(req.UserID)
		if err != nil {
			utils.BadRequestResponse(c, "Invalid user ID", nil)
			return
		}
		grantReq.GranteeID = granteeID
	}

	grant, err := fc.permissionService.GrantAccess(c.Request.Context(), userID, grantReq)
	if err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.CreatedResponse(c, "Access granted", grant)
}

func (fc *FolderController) RevokeAccess(c *gin.Context) {
	userID, ok := callerID(c)
	if !ok {
		return
	}
	folderID, ok := paramID(c, "id")
	if !ok {
		return
	}
	granteeID, ok := paramID(c, "userId")
	if !ok {
		return
	}

	if err := fc.permissionService.RevokeAccess(c.Request.Context(), userID, folderID, granteeID); err != nil {
		utils.HandleServiceError(c, fc.logger, err)
		return
	}
	utils.SuccessResponse(c, "Access revoked", nil)
}
