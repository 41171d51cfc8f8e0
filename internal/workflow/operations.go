package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"authgate.org/internal/domain"
	"authgate.org/internal/password"
	"authgate.org/internal/result"
	"authgate.org/internal/token"
)

type RegisterRequest struct {
	Email           string
	Password        string
	ConfirmPassword string
	// Roles names existing roles to assign; unknown names fail registration.
	Roles []string
}

type LoginRequest struct {
	Email    string
	Password string
}

// LoginResponse is returned by Login and RefreshToken.
type LoginResponse struct {
	Token        string          `json:"token"`
	RefreshToken string          `json:"refreshToken"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	User         domain.UserInfo `json:"user"`
}

// Register creates an account with a hashed password and an initial refresh
// token. A duplicate email is a business failure, also when the race is only
// detected by the unique index at commit.
func (w *Workflow) Register(ctx context.Context, req RegisterRequest) result.Result[domain.UserInfo] {
	email := strings.TrimSpace(req.Email)
	op := operation{
		name:       "register",
		event:      "auth.register",
		onConflict: MsgEmailExists,
		fields:     map[string]any{"email": email},
	}
	return run(ctx, w, op, func(ctx context.Context, unit domain.UnitOfWork) (result.Result[domain.UserInfo], error) {
		if email == "" || req.Password == "" {
			return invalid[domain.UserInfo](MsgCredentials), nil
		}
		if req.Password != req.ConfirmPassword {
			return invalid[domain.UserInfo](MsgPasswordsDiff), nil
		}
		if len(req.Password) > password.MaxBytes {
			return invalid[domain.UserInfo](MsgPasswordLength), nil
		}
		_, err := unit.Users().GetByEmail(ctx, email)
		switch {
		case err == nil:
			return result.Failure[domain.UserInfo](MsgEmailExists, result.WithCode(result.CodeConflict)), nil
		case !errors.Is(err, domain.ErrNotFound):
			return result.Result[domain.UserInfo]{}, fmt.Errorf("lookup email: %w", err)
		}

		roles, failed, err := resolveRoles(ctx, unit.Roles(), req.Roles)
		if err != nil {
			return result.Result[domain.UserInfo]{}, err
		}
		if failed != "" {
			return invalid[domain.UserInfo](failed), nil
		}

		digest, err := w.hasher.Hash(req.Password)
		if errors.Is(err, password.ErrPasswordTooLong) {
			return invalid[domain.UserInfo](MsgPasswordLength), nil
		}
		if err != nil {
			return result.Result[domain.UserInfo]{}, fmt.Errorf("hash password: %w", err)
		}
		now := w.now().UTC()
		u := domain.NewUser(email, digest, now)
		_, refreshHash, err := token.NewRefreshToken()
		if err != nil {
			return result.Result[domain.UserInfo]{}, err
		}
		u.SetRefreshToken(refreshHash, now.Add(RefreshTokenLifetime))
		if err := unit.Users().Add(ctx, u); err != nil {
			return result.Result[domain.UserInfo]{}, fmt.Errorf("add user: %w", err)
		}
		for _, role := range roles {
			if err := unit.Roles().Assign(ctx, u.ID, role.ID); err != nil {
				return result.Result[domain.UserInfo]{}, fmt.Errorf("assign role %s: %w", role.Name, err)
			}
		}
		u.Roles = roles
		op.fields["user_id"] = u.ID.String()
		return result.Success(u.Info(), MsgRegistered), nil
	})
}

// resolveRoles looks up each distinct role name. The second return is a
// failure message for the first unknown name.
func resolveRoles(ctx context.Context, repo domain.RoleRepository, names []string) ([]domain.Role, string, error) {
	seen := make(map[string]bool, len(names))
	var out []domain.Role
	for _, name := range names {
		name = strings.TrimSpace(name)
		key := strings.ToLower(name)
		if name == "" || seen[key] {
			continue
		}
		seen[key] = true
		role, err := repo.GetByName(ctx, name)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "Unknown role: " + name, nil
		}
		if err != nil {
			return nil, "", fmt.Errorf("lookup role %s: %w", name, err)
		}
		out = append(out, *role)
	}
	return out, "", nil
}

// Login verifies credentials, issues an access token and rotates the refresh
// token. Unknown email and wrong password produce the same failure.
func (w *Workflow) Login(ctx context.Context, req LoginRequest) result.Result[LoginResponse] {
	email := strings.TrimSpace(req.Email)
	op := operation{
		name:   "login",
		event:  "auth.login",
		fields: map[string]any{"email": email},
	}
	return run(ctx, w, op, func(ctx context.Context, unit domain.UnitOfWork) (result.Result[LoginResponse], error) {
		if email == "" || req.Password == "" {
			return invalid[LoginResponse](MsgCredentials), nil
		}
		u, err := unit.Users().GetByEmail(ctx, email)
		if errors.Is(err, domain.ErrNotFound) {
			w.verifyDecoy(req.Password)
			return unauthorized[LoginResponse](MsgInvalidLogin), nil
		}
		if err != nil {
			return result.Result[LoginResponse]{}, fmt.Errorf("lookup email: %w", err)
		}
		if !w.hasher.Verify(req.Password, u.PasswordHash) {
			return unauthorized[LoginResponse](MsgInvalidLogin), nil
		}
		if u.IsLockedOut {
			return result.Failure[LoginResponse](MsgLocked, result.WithCode(result.CodeLocked)), nil
		}
		op.fields["user_id"] = u.ID.String()
		resp, err := w.issue(ctx, unit, u)
		if err != nil {
			return result.Result[LoginResponse]{}, err
		}
		return result.Success(resp, MsgLoggedIn), nil
	})
}

// RefreshToken exchanges an unexpired refresh token for a new access token
// and a new refresh token. The presented token stops working once this
// commits.
func (w *Workflow) RefreshToken(ctx context.Context, refreshToken string) result.Result[LoginResponse] {
	op := operation{
		name:   "refresh",
		event:  "auth.refresh",
		fields: map[string]any{},
	}
	return run(ctx, w, op, func(ctx context.Context, unit domain.UnitOfWork) (result.Result[LoginResponse], error) {
		plain := strings.TrimSpace(refreshToken)
		if plain == "" {
			return unauthorized[LoginResponse](MsgInvalidRefresh), nil
		}
		u, err := unit.Users().GetByRefreshTokenHash(ctx, token.HashRefreshToken(plain))
		if errors.Is(err, domain.ErrNotFound) {
			return unauthorized[LoginResponse](MsgInvalidRefresh), nil
		}
		if err != nil {
			return result.Result[LoginResponse]{}, fmt.Errorf("lookup refresh token: %w", err)
		}
		if !u.RefreshTokenActive(w.now()) {
			return unauthorized[LoginResponse](MsgInvalidRefresh), nil
		}
		op.fields["user_id"] = u.ID.String()
		resp, err := w.issue(ctx, unit, u)
		if err != nil {
			return result.Result[LoginResponse]{}, err
		}
		return result.Success(resp, MsgRefreshed), nil
	})
}

// UserInfo returns the profile of the user with the given id.
func (w *Workflow) UserInfo(ctx context.Context, userID string) result.Result[domain.UserInfo] {
	op := operation{name: "userinfo"}
	return run(ctx, w, op, func(ctx context.Context, unit domain.UnitOfWork) (result.Result[domain.UserInfo], error) {
		id, err := uuid.Parse(strings.TrimSpace(userID))
		if err != nil {
			return result.Failure[domain.UserInfo](MsgUserNotFound, result.WithCode(result.CodeNotFound)), nil
		}
		u, err := unit.Users().GetByID(ctx, id)
		if errors.Is(err, domain.ErrNotFound) {
			return result.Failure[domain.UserInfo](MsgUserNotFound, result.WithCode(result.CodeNotFound)), nil
		}
		if err != nil {
			return result.Result[domain.UserInfo]{}, fmt.Errorf("lookup user: %w", err)
		}
		return result.Success(u.Info(), MsgUserInfo), nil
	})
}

// issue signs an access token and stages the rotated refresh token.
func (w *Workflow) issue(ctx context.Context, unit domain.UnitOfWork, u *domain.User) (LoginResponse, error) {
	access, expiresAt, err := w.issuer.GenerateToken(u)
	if err != nil {
		return LoginResponse{}, fmt.Errorf("generate token: %w", err)
	}
	plain, hash, err := token.NewRefreshToken()
	if err != nil {
		return LoginResponse{}, err
	}
	now := w.now().UTC()
	u.SetRefreshToken(hash, now.Add(RefreshTokenLifetime))
	u.UpdatedAt = now
	if err := unit.Users().Update(ctx, u); err != nil {
		return LoginResponse{}, fmt.Errorf("update user: %w", err)
	}
	return LoginResponse{
		Token:        access,
		RefreshToken: plain,
		ExpiresAt:    expiresAt,
		User:         u.Info(),
	}, nil
}

func unauthorized[T any](msg string) result.Result[T] {
	return result.Failure[T](msg, result.WithCode(result.CodeUnauthorized))
}
