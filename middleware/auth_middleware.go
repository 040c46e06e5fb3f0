package middleware

import (
	"net/http"
	"strings"
	"sync"

	"sharedrive/services"
	"sharedrive/utils"

	"github.com/gin-gonic/gin"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func AuthMiddleware(jwtSecret, issuer string) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractBearerToken(c)
		if token == "" {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Authorization token required", nil)
			c.Abort()
			return
		}

		claims, err := utils.VerifyJWTTokenWithSecret(token, jwtSecret, issuer)
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Invalid or expired token", nil)
			c.Abort()
			return
		}

		userID, err := primitive.ObjectIDFromHex(claims.UserID)
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Invalid user ID in token", nil)
			c.Abort()
			return
		}

		c.Set("userId", userID)
		c.Set("userIdStr", claims.UserID)
		c.Set("email", claims.Email)
		c.Set("name", claims.Name)
		c.Set("role", claims.Role)

		c.Next()
	}
}

func extractBearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	const bearerPrefix = "Bearer "
	if !strings.HasPrefix(authHeader, bearerPrefix) {
		return ""
	}

	return strings.TrimSpace(authHeader[len(bearerPrefix):])
}

// CallerID returns the authenticated user set by AuthMiddleware.
func CallerID(c *gin.Context) primitive.ObjectID {
	if v, ok := c.Get("userId"); ok {
		if id, ok := v.(primitive.ObjectID); ok {
			return id
		}
	}
	return primitive.NilObjectID
}

// EnsureProfile creates the caller's profile the first time this process
// sees them, so quota and grants have a user record to work against.
func EnsureProfile(users *services.UserService) gin.HandlerFunc {
	var seen sync.Map
	return func(c *gin.Context) {
		id := CallerID(c)
		if _, ok := seen.Load(id); ok {
			c.Next()
			return
		}

		_, err := users.EnsureProfile(c.Request.Context(), services.Identity{
			UserID: id,
			Email:  c.GetString("email"),
			Name:   c.GetString("name"),
			Role:   c.GetString("role"),
		})
		if err != nil {
			utils.ErrorResponse(c, http.StatusUnauthorized, "Could not load user profile", nil)
			c.Abort()
			return
		}
		seen.Store(id, struct{}{})
		c.Next()
	}
}

func RequireRole(requiredRole string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, exists := c.Get("role")
		if !exists {
			utils.ErrorResponse(c, http.StatusUnauthorized, "User role not found", nil)
			c.Abort()
			return
		}

		userRole, ok := role.(string)
		if !ok || userRole != requiredRole {
			utils.ErrorResponse(c, http.StatusForbidden, "Insufficient privileges", nil)
			c.Abort()
			return
		}

		c.Next()
	}
}
