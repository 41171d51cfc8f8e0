package pg

import (
	"context"
	"database/sql"

	"github.com/google/uuid"

	"authgate.org/internal/domain"
	"authgate.org/internal/uow"
)

type roleRepo struct {
	sess *session
	tx   *uow.Transaction
}

func (r *roleRepo) GetByID(ctx context.Context, id uuid.UUID) (*domain.Role, error) {
	return r.one(ctx, `select id, name from roles where id = $1`, id)
}

func (r *roleRepo) GetByName(ctx context.Context, name string) (*domain.Role, error) {
	return r.one(ctx, `select id, name from roles where lower(name) = lower($1)`, name)
}

func (r *roleRepo) one(ctx context.Context, query string, arg any) (*domain.Role, error) {
	tx, err := r.sess.current()
	if err != nil {
		return nil, err
	}
	var role domain.Role
	if err := tx.QueryRowContext(ctx, query, arg).Scan(&role.ID, &role.Name); err != nil {
		return nil, mapError(err)
	}
	perms, err := permissionsForRole(ctx, tx, role.ID)
	if err != nil {
		return nil, err
	}
	role.Permissions = perms
	return &role, nil
}

func (r *roleRepo) List(ctx context.Context) ([]domain.Role, error) {
	tx, err := r.sess.current()
	if err != nil {
		return nil, err
	}
	rows, err := tx.QueryContext(ctx, `select id, name from roles order by name`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func (r *roleRepo) ForUser(ctx context.Context, userID uuid.UUID) ([]domain.Role, error) {
	tx, err := r.sess.current()
	if err != nil {
		return nil, err
	}
	return rolesForUser(ctx, tx, userID)
}

func (r *roleRepo) Add(_ context.Context, role *domain.Role) error {
	c := role.Clone()
	return r.tx.Stage(func(ctx context.Context) error {
		tx, err := r.sess.current()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `insert into roles (id, name) values ($1, $2)`, c.ID, c.Name); err != nil {
			return mapError(err)
		}
		return setPermissions(ctx, tx, c)
	})
}

func (r *roleRepo) Update(_ context.Context, role *domain.Role) error {
	c := role.Clone()
	return r.tx.Stage(func(ctx context.Context) error {
		tx, err := r.sess.current()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `update roles set name = $2 where id = $1`, c.ID, c.Name)
		if err != nil {
			return mapError(err)
		}
		if err := requireRows(res); err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `delete from role_permissions where role_id = $1`, c.ID); err != nil {
			return err
		}
		return setPermissions(ctx, tx, c)
	})
}

func (r *roleRepo) Delete(_ context.Context, id uuid.UUID) error {
	return r.tx.Stage(func(ctx context.Context) error {
		tx, err := r.sess.current()
		if err != nil {
			return err
		}
		res, err := tx.ExecContext(ctx, `delete from roles where id = $1`, id)
		if err != nil {
			return mapError(err)
		}
		return requireRows(res)
	})
}

func (r *roleRepo) Assign(_ context.Context, userID, roleID uuid.UUID) error {
	return r.tx.Stage(func(ctx context.Context) error {
		tx, err := r.sess.current()
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx, `
			insert into user_roles (user_id, role_id) values ($1, $2)
			on conflict do nothing
		`, userID, roleID)
		return mapError(err)
	})
}

func setPermissions(ctx context.Context, tx *sql.Tx, role domain.Role) error {
	for _, p := range role.Permissions {
		id := p.ID
		if id == uuid.Nil {
			id = uuid.New()
		}
		if _, err := tx.ExecContext(ctx, `
			insert into permissions (id, name) values ($1, $2)
			on conflict (name) do nothing
		`, id, p.Name); err != nil {
			return mapError(err)
		}
		if _, err := tx.ExecContext(ctx, `
			insert into role_permissions (role_id, permission_id)
			select $1, id from permissions where name = $2
			on conflict do nothing
		`, role.ID, p.Name); err != nil {
			return mapError(err)
		}
	}
	return nil
}

func rolesForUser(ctx context.Context, tx *sql.Tx, userID uuid.UUID) ([]domain.Role, error) {
	rows, err := tx.QueryContext(ctx, `
		select r.id, r.name
		from roles r
		join user_roles ur on ur.role_id = r.id
		where ur.user_id = $1
		order by r.name
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Role
	for rows.Next() {
		var role domain.Role
		if err := rows.Scan(&role.ID, &role.Name); err != nil {
			return nil, err
		}
		out = append(out, role)
	}
	return out, rows.Err()
}

func permissionsForRole(ctx context.Context, tx *sql.Tx, roleID uuid.UUID) ([]domain.Permission, error) {
	rows, err := tx.QueryContext(ctx, `
		select p.id, p.name
		from permissions p
		join role_permissions rp on rp.permission_id = p.id
		where rp.role_id = $1
		order by p.name
	`, roleID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []domain.Permission
	for rows.Next() {
		var p domain.Permission
		if err := rows.Scan(&p.ID, &p.Name); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}
