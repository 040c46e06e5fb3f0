package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"sharedrive/models"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Identity is what an authenticated request tells us about its caller.
type Identity struct {
	UserID primitive.ObjectID
	Email  string
	Name   string
	Role   string
}

// UserService keeps user profiles in step with the identities presented by
// bearer tokens. Tokens are minted by the identity provider, so a profile is
// created the first time a user shows up.
type UserService struct {
	store        Store
	defaultQuota int64
	logger       *slog.Logger
}

func NewUserService(store Store, defaultQuota int64, logger *slog.Logger) *UserService {
	return &UserService{store: store, defaultQuota: defaultQuota, logger: logger}
}

// EnsureProfile creates the caller's profile with the default quota, or
// refreshes its email, name and role. Quota and usage are never touched on
// an existing profile.
func (s *UserService) EnsureProfile(ctx context.Context, id Identity) (*models.User, error) {
	if id.UserID.IsZero() {
		return nil, fmt.Errorf("identity has no user ID: %w", models.ErrInvalidInput)
	}
	email := strings.TrimSpace(id.Email)
	if email == "" {
		return nil, fmt.Errorf("identity has no email: %w", models.ErrInvalidInput)
	}
	role := id.Role
	if role == "" {
		role = "user"
	}

	user, err := s.store.EnsureUser(ctx, &models.User{
		ID:    id.UserID,
		Email: email,
		Name:  id.Name,
		Role:  role,
		Quota: s.defaultQuota,
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug("user profile ensured", "user_id", user.ID.Hex())
	return user, nil
}

func (s *UserService) GetUserProfile(ctx context.Context, userID primitive.ObjectID) (*models.User, error) {
	return s.store.GetUser(ctx, userID)
}
