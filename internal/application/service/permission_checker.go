package service

import (
	"context"
	"fmt"

	"github.com/garyjia/po-workflow/internal/application/port"
	appwf "github.com/garyjia/po-workflow/internal/application/workflow"
)

type rolePermissionChecker struct {
	users port.UserRepository
}

// NewPermissionChecker resolves permissions from the user's role
func NewPermissionChecker(users port.UserRepository) port.PermissionChecker {
	return &rolePermissionChecker{users: users}
}

func (c *rolePermissionChecker) HasPermission(ctx context.Context, userID string, permission string) (bool, error) {
	user, err := c.users.GetByID(ctx, userID)
	if err != nil {
		return false, fmt.Errorf("failed to load user %s: %w", userID, err)
	}
	if user == nil {
		return false, nil
	}
	return appwf.RoleHasPermission(user.Role, permission), nil
}
