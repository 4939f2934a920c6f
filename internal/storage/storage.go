package storage

import (
	"context"
	"errors"

	"eventbook_auth/internal/models"

	"github.com/gofrs/uuid"
)

const usersTable = "users"

var (
	ErrUserNotFound = errors.New("user not found")
	ErrUserExists   = errors.New("user with this email already exists")
)

// Storage is the credential store. Implementations must enforce email
// uniqueness themselves and report a violation as ErrUserExists.
type Storage interface {
	CreateUser(ctx context.Context, user models.User) (models.User, error)
	GetUserByID(ctx context.Context, userID uuid.UUID) (models.User, error)
	GetUserByEmail(ctx context.Context, email string) (models.User, error)
	ListUsers(ctx context.Context) ([]models.User, error)
	AssignRole(ctx context.Context, userID uuid.UUID, role models.Role) (models.User, error)

	Ping(ctx context.Context) error
	Close() error
}
