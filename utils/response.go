package utils

import (
	"errors"
	"log/slog"
	"net/http"

	"sharedrive/models"

	"github.com/gin-gonic/gin"
)

type APIResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

func SuccessResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusOK, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func CreatedResponse(c *gin.Context, message string, data interface{}) {
	c.JSON(http.StatusCreated, APIResponse{
		Success: true,
		Message: message,
		Data:    data,
	})
}

func ErrorResponse(c *gin.Context, statusCode int, message string, err interface{}) {
	c.JSON(statusCode, APIResponse{
		Success: false,
		Message: message,
		Error:   err,
	})
}

func BadRequestResponse(c *gin.Context, message string, err interface{}) {
	ErrorResponse(c, http.StatusBadRequest, message, err)
}

func UnauthorizedResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusUnauthorized, message, nil)
}

func NotFoundResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusNotFound, message, nil)
}

func InternalServerErrorResponse(c *gin.Context, message string, err interface{}) {
	ErrorResponse(c, http.StatusInternalServerError, message, err)
}

func PayloadTooLargeResponse(c *gin.Context, message string) {
	ErrorResponse(c, http.StatusRequestEntityTooLarge, message, nil)
}

// ErrorStatus maps a service error to its HTTP status and client message.
// Missing and forbidden resources are indistinguishable to the client.
func ErrorStatus(err error) (int, string) {
	var quotaErr *models.QuotaExceededError
	switch {
	case errors.As(err, &quotaErr):
		return http.StatusInsufficientStorage, quotaErr.Error()
	case errors.Is(err, models.ErrNotFoundOrDenied),
		errors.Is(err, models.ErrNotFound),
		errors.Is(err, models.ErrForbidden):
		return http.StatusNotFound, "Resource not found"
	case errors.Is(err, models.ErrCouponAlreadyRedeemed):
		return http.StatusConflict, "Coupon already redeemed"
	case errors.Is(err, models.ErrCouponInvalid):
		return http.StatusConflict, "Coupon is invalid or expired"
	case errors.Is(err, models.ErrFolderNotEmpty):
		return http.StatusConflict, "Folder is not empty"
	case errors.Is(err, models.ErrFolderCycle):
		return http.StatusConflict, "Folder cannot be moved into its own subtree"
	case errors.Is(err, models.ErrSelfGrant):
		return http.StatusConflict, "Cannot share a folder with its owner"
	case errors.Is(err, models.ErrInvalidState):
		return http.StatusConflict, "Request conflicts with the current state"
	case errors.Is(err, models.ErrInvalidInput):
		return http.StatusBadRequest, "Invalid request"
	case errors.Is(err, models.ErrPayloadTooLarge):
		return http.StatusRequestEntityTooLarge, "File too large"
	case errors.Is(err, models.ErrUpstreamTimeout):
		return http.StatusGatewayTimeout, "Storage backend timed out"
	case errors.Is(err, models.ErrUpstream):
		return http.StatusBadGateway, "Storage backend error"
	default:
		return http.StatusInternalServerError, "Internal server error"
	}
}

// HandleServiceError writes the error response for err. Server-side
// failures are logged; client errors carry the wrapped message.
func HandleServiceError(c *gin.Context, logger *slog.Logger, err error) {
	status, message := ErrorStatus(err)
	var detail interface{}
	switch {
	case status == http.StatusBadRequest, status == http.StatusConflict, status == http.StatusInsufficientStorage:
		detail = err.Error()
	case status >= http.StatusInternalServerError:
		logger.Error("request failed", "path", c.FullPath(), "status", status, "error", err)
	}
	ErrorResponse(c, status, message, detail)
}
