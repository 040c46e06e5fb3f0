package controllers

import (
	"errors"
	"log/slog"
	"net/http"

	"sharedrive/middleware"
	"sharedrive/services"
	"sharedrive/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// callerID returns the authenticated user, writing a 401 when there is none.
func callerID(c *gin.Context) (primitive.ObjectID, bool) {
	id := middleware.CallerID(c)
	if id.IsZero() {
		utils.UnauthorizedResponse(c, "User not authenticated")
		return primitive.NilObjectID, false
	}
	return id, true
}

// paramID parses an ObjectID path parameter. Malformed IDs are reported as
// not found, like any other unreachable resource.
func paramID(c *gin.Context, name string) (primitive.ObjectID, bool) {
	id, err := primitive.ObjectIDFromHex(c.Param(name))
	if err != nil {
		utils.NotFoundResponse(c, "Resource not found")
		return primitive.NilObjectID, false
	}
	return id, true
}

// optionalID parses an optional ObjectID; an empty string means root.
func optionalID(s string) (*primitive.ObjectID, error) {
	if s == "" {
		return nil, nil
	}
	id, err := primitive.ObjectIDFromHex(s)
	if err != nil {
		return nil, err
	}
	return &id, nil
}

// deliver streams a blob. Failures before the first byte become normal error
// responses; after that the connection is aborted so the client sees a
// truncated body instead of a complete-looking one.
func deliver(c *gin.Context, proxy *services.DeliveryProxy, logger *slog.Logger, blobName string, policy services.DeliveryPolicy) {
	_, err := proxy.Stream(c.Request.Context(), c.Writer, blobName, policy)
	if err == nil {
		return
	}

	var derr *services.DeliveryError
	if !errors.As(err, &derr) {
		utils.HandleServiceError(c, logger, err)
		return
	}
	if derr.HeadersSent {
		panic(http.ErrAbortHandler)
	}
	if derr.State == services.StateAborted {
		c.Abort()
		return
	}

	switch derr.Status {
	case http.StatusNotFound:
		utils.NotFoundResponse(c, "File content not found")
	case http.StatusGatewayTimeout:
		utils.ErrorResponse(c, http.StatusGatewayTimeout, "Storage backend timed out", nil)
	default:
		utils.ErrorResponse(c, http.StatusBadGateway, "Storage backend error", nil)
	}
}
