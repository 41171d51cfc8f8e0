package domain

import (
	"context"

	"github.com/google/uuid"
)

// UserRepository reads users inside the current transaction and stages
// writes that become visible on commit.
type UserRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByRefreshTokenHash(ctx context.Context, hash string) (*User, error)
	Add(ctx context.Context, u *User) error
	Update(ctx context.Context, u *User) error
	Delete(ctx context.Context, id uuid.UUID) error
}

// RoleRepository manages roles, their permissions and user assignments.
type RoleRepository interface {
	GetByID(ctx context.Context, id uuid.UUID) (*Role, error)
	GetByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]Role, error)
	Add(ctx context.Context, r *Role) error
	Update(ctx context.Context, r *Role) error
	Delete(ctx context.Context, id uuid.UUID) error
	Assign(ctx context.Context, userID, roleID uuid.UUID) error
	ForUser(ctx context.Context, userID uuid.UUID) ([]Role, error)
}

// UnitOfWork composes one transaction with the repositories that run in it.
// Begin, Commit and Rollback follow the transaction state machine; Close
// releases any still-open transaction and is safe to call more than once.
type UnitOfWork interface {
	Begin(ctx context.Context) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Close(ctx context.Context) error
	Users() UserRepository
	Roles() RoleRepository
}

// UnitFactory creates a fresh unit of work per logical operation.
type UnitFactory func() UnitOfWork
