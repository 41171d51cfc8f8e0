package memory

import (
	"context"
	"slices"

	"github.com/google/uuid"

	"authgate.org/internal/domain"
	"authgate.org/internal/uow"
)

// Reads see committed state plus nothing staged; the unit of work owns the
// store for its lifetime so no other writer can interleave.

type userRepo struct {
	s  *Store
	tx *uow.Transaction
}

func (r *userRepo) active() error {
	if r.tx.State() != uow.StateActive {
		return uow.ErrNoTransaction
	}
	return nil
}

func (r *userRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.User, error) {
	if err := r.active(); err != nil {
		return nil, err
	}
	u, ok := r.s.data.users[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	return r.s.withRoles(u), nil
}

func (r *userRepo) GetByEmail(_ context.Context, email string) (*domain.User, error) {
	if err := r.active(); err != nil {
		return nil, err
	}
	u := r.s.userByEmail(email)
	if u == nil {
		return nil, domain.ErrNotFound
	}
	return r.s.withRoles(u), nil
}

func (r *userRepo) GetByRefreshTokenHash(_ context.Context, hash string) (*domain.User, error) {
	if err := r.active(); err != nil {
		return nil, err
	}
	if hash == "" {
		return nil, domain.ErrNotFound
	}
	for _, u := range r.s.data.users {
		if u.RefreshTokenHash == hash {
			return r.s.withRoles(u), nil
		}
	}
	return nil, domain.ErrNotFound
}

func (r *userRepo) Add(_ context.Context, u *domain.User) error {
	c := u.Clone()
	return r.tx.Stage(func(context.Context) error {
		if _, ok := r.s.data.users[c.ID]; ok {
			return domain.ErrConflict
		}
		if r.s.userByEmail(c.Email) != nil {
			return domain.ErrConflict
		}
		if c.RefreshTokenHash != "" && r.refreshInUse(c.ID, c.RefreshTokenHash) {
			return domain.ErrConflict
		}
		c.Roles = nil
		r.s.data.users[c.ID] = c
		return nil
	})
}

func (r *userRepo) Update(_ context.Context, u *domain.User) error {
	c := u.Clone()
	return r.tx.Stage(func(context.Context) error {
		if _, ok := r.s.data.users[c.ID]; !ok {
			return domain.ErrNotFound
		}
		if other := r.s.userByEmail(c.Email); other != nil && other.ID != c.ID {
			return domain.ErrConflict
		}
		if c.RefreshTokenHash != "" && r.refreshInUse(c.ID, c.RefreshTokenHash) {
			return domain.ErrConflict
		}
		c.Roles = nil
		r.s.data.users[c.ID] = c
		return nil
	})
}

func (r *userRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.tx.Stage(func(context.Context) error {
		if _, ok := r.s.data.users[id]; !ok {
			return domain.ErrNotFound
		}
		delete(r.s.data.users, id)
		delete(r.s.data.assignments, id)
		return nil
	})
}

func (r *userRepo) refreshInUse(owner uuid.UUID, hash string) bool {
	for id, u := range r.s.data.users {
		if id != owner && u.RefreshTokenHash == hash {
			return true
		}
	}
	return false
}

type roleRepo struct {
	s  *Store
	tx *uow.Transaction
}

func (r *roleRepo) active() error {
	if r.tx.State() != uow.StateActive {
		return uow.ErrNoTransaction
	}
	return nil
}

func (r *roleRepo) GetByID(_ context.Context, id uuid.UUID) (*domain.Role, error) {
	if err := r.active(); err != nil {
		return nil, err
	}
	role, ok := r.s.data.roles[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	c := role.Clone()
	return &c, nil
}

func (r *roleRepo) GetByName(_ context.Context, name string) (*domain.Role, error) {
	if err := r.active(); err != nil {
		return nil, err
	}
	role := r.s.roleByName(name)
	if role == nil {
		return nil, domain.ErrNotFound
	}
	c := role.Clone()
	return &c, nil
}

func (r *roleRepo) List(context.Context) ([]domain.Role, error) {
	if err := r.active(); err != nil {
		return nil, err
	}
	out := make([]domain.Role, 0, len(r.s.data.roles))
	for _, role := range r.s.data.roles {
		out = append(out, role.Clone())
	}
	slices.SortFunc(out, func(a, b domain.Role) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out, nil
}

func (r *roleRepo) Add(_ context.Context, role *domain.Role) error {
	c := role.Clone()
	return r.tx.Stage(func(context.Context) error {
		if _, ok := r.s.data.roles[c.ID]; ok || r.s.roleByName(c.Name) != nil {
			return domain.ErrConflict
		}
		r.s.data.roles[c.ID] = &c
		return nil
	})
}

func (r *roleRepo) Update(_ context.Context, role *domain.Role) error {
	c := role.Clone()
	return r.tx.Stage(func(context.Context) error {
		if _, ok := r.s.data.roles[c.ID]; !ok {
			return domain.ErrNotFound
		}
		if other := r.s.roleByName(c.Name); other != nil && other.ID != c.ID {
			return domain.ErrConflict
		}
		r.s.data.roles[c.ID] = &c
		return nil
	})
}

func (r *roleRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.tx.Stage(func(context.Context) error {
		if _, ok := r.s.data.roles[id]; !ok {
			return domain.ErrNotFound
		}
		delete(r.s.data.roles, id)
		for userID, roleIDs := range r.s.data.assignments {
			r.s.data.assignments[userID] = slices.DeleteFunc(roleIDs, func(x uuid.UUID) bool { return x == id })
		}
		return nil
	})
}

func (r *roleRepo) Assign(_ context.Context, userID, roleID uuid.UUID) error {
	return r.tx.Stage(func(context.Context) error {
		if _, ok := r.s.data.users[userID]; !ok {
			return domain.ErrNotFound
		}
		if _, ok := r.s.data.roles[roleID]; !ok {
			return domain.ErrNotFound
		}
		if slices.Contains(r.s.data.assignments[userID], roleID) {
			return nil
		}
		r.s.data.assignments[userID] = append(r.s.data.assignments[userID], roleID)
		return nil
	})
}

func (r *roleRepo) ForUser(_ context.Context, userID uuid.UUID) ([]domain.Role, error) {
	if err := r.active(); err != nil {
		return nil, err
	}
	return r.s.rolesFor(userID), nil
}
