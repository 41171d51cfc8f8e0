package domain

import (
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrNotFound = errors.New("domain: not found")
	ErrConflict = errors.New("domain: conflict")
)

// User is a credentialed account. RefreshTokenHash and RefreshTokenExpiry
// are either both set or both empty.
type User struct {
	ID                 uuid.UUID
	Email              string
	PasswordHash       string
	IsLockedOut        bool
	PhoneNumber        string
	RefreshTokenHash   string
	RefreshTokenExpiry *time.Time
	Roles              []Role
	CreatedAt          time.Time
	UpdatedAt          time.Time
}

// NewUser returns a user with a fresh identifier and timestamps.
func NewUser(email, passwordHash string, now time.Time) *User {
	now = now.UTC()
	return &User{
		ID:           uuid.New(),
		Email:        email,
		PasswordHash: passwordHash,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// SetRefreshToken replaces the stored refresh token digest and its expiry.
func (u *User) SetRefreshToken(hash string, expiry time.Time) {
	exp := expiry.UTC()
	u.RefreshTokenHash = hash
	u.RefreshTokenExpiry = &exp
}

// ClearRefreshToken drops the refresh token and its expiry together.
func (u *User) ClearRefreshToken() {
	u.RefreshTokenHash = ""
	u.RefreshTokenExpiry = nil
}

// RefreshTokenActive reports whether a refresh token is set and its expiry
// lies strictly after now.
func (u *User) RefreshTokenActive(now time.Time) bool {
	if u.RefreshTokenHash == "" || u.RefreshTokenExpiry == nil {
		return false
	}
	return u.RefreshTokenExpiry.After(now)
}

// RoleNames lists the names of the user's roles in association order.
func (u *User) RoleNames() []string {
	if len(u.Roles) == 0 {
		return []string{}
	}
	names := make([]string, 0, len(u.Roles))
	for _, r := range u.Roles {
		names = append(names, r.Name)
	}
	return names
}

// Clone returns a deep copy safe to mutate independently.
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}
	c := *u
	if u.RefreshTokenExpiry != nil {
		exp := *u.RefreshTokenExpiry
		c.RefreshTokenExpiry = &exp
	}
	if u.Roles != nil {
		c.Roles = make([]Role, len(u.Roles))
		for i, r := range u.Roles {
			c.Roles[i] = r.Clone()
		}
	}
	return &c
}

// UserInfo is the profile exposed to authenticated callers.
type UserInfo struct {
	ID    string   `json:"id"`
	Email string   `json:"email"`
	Roles []string `json:"roles"`
}

// Info projects the user onto its public profile.
func (u *User) Info() UserInfo {
	return UserInfo{ID: u.ID.String(), Email: u.Email, Roles: u.RoleNames()}
}
