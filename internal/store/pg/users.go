package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"authgate.org/internal/domain"
	"authgate.org/internal/uow"
)

const selectUser = `
	select id, email, password_hash, is_locked_out, coalesce(phone_number, ''),
	       coalesce(refresh_token_hash, ''), refresh_token_expiry, created_at, updated_at
	from users`

type userRepo struct {
	sess *session
	tx   *uow.Transaction
}

func (r *userRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return r.one(ctx, selectUser+` where id = $1`, id)
}

// GetByEmail locks the row: callers go on to rotate its refresh token.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	return r.one(ctx, selectUser+` where email = $1 for update`, email)
}

// GetByRefreshTokenHash locks the row so concurrent exchanges of the same
// token serialize and only the first one sees it.
func (r *userRepo) GetByRefreshTokenHash(ctx context.Context, hash string) (*domain.User, error) {
	if hash == "" {
		return nil, domain.ErrNotFound
	}
	return r.one(ctx, selectUser+` where refresh_token_hash = $1 for update`, hash)
}

func (r *userRepo) one(ctx context.Context, query string, arg any) (*domain.User, error) {
	tx, err := r.sess.current()
	if err != nil {
		return nil, err
	}
	var (
		u      domain.User
		expiry sql.NullTime
	)
	err = tx.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Email, &u.PasswordHash, &u.IsLockedOut, &u.PhoneNumber,
		&u.RefreshTokenHash, &expiry, &u.CreatedAt, &u.UpdatedAt,
	)
	if err != nil {
		return nil, mapError(err)
	}
	if expiry.Valid {
		exp := expiry.Time.UTC()
		u.RefreshTokenExpiry = &exp
	}
	roles, err := rolesForUser(ctx, tx, u.ID)
	if err != nil {
		return nil, err
	}
	u.Roles = roles
	return &u, nil
}

func (r *userRepo) Add(_ context.Context, u *domain.User) error {
	c := u.Clone()
	return r.tx.Stage(func(ctx context.Context) error {
		tx, err := r.sess.current()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			insert into users (id, email, password_hash, is_locked_out, phone_number,
			                   refresh_token_hash, refresh_token_expiry, created_at, updated_at)
			values ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		`, c.ID, c.Email, c.PasswordHash, c.IsLockedOut, nullIfEmpty(c.PhoneNumber),
			nullIfEmpty(c.RefreshTokenHash), nullTime(c.RefreshTokenExpiry), c.CreatedAt.UTC(), c.UpdatedAt.UTC())
		return mapError(err)
	})
}

func (r *userRepo) Update(_ context.Context, u *domain.User) error {
	c := u.Clone()
	return r.tx.Stage(func(ctx context.Context) error {
		tx, err := r.sess.current()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `
			update users
			set email = $2, password_hash = $3, is_locked_out = $4, phone_number = $5,
			    refresh_token_hash = $6, refresh_token_expiry = $7, updated_at = $8
			where id = $1
		`, c.ID, c.Email, c.PasswordHash, c.IsLockedOut, nullIfEmpty(c.PhoneNumber),
			nullIfEmpty(c.RefreshTokenHash), nullTime(c.RefreshTokenExpiry), c.UpdatedAt.UTC())
		if err != nil {
			return mapError(err)
		}
		return requireRows(res)
	})
}

func (r *userRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.tx.Stage(func(ctx context.Context) error {
		tx, err := r.sess.current()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `delete from users where id = $1`, id)
		if err != nil {
			return mapError(err)
		}
		return requireRows(res)
	})
}
