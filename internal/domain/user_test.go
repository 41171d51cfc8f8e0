package domain

import (
	"testing"
	"time"
)

func TestRefreshTokenActiveIsStrict(t *testing.T) {
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	u := NewUser("a@x.com", "hash", now)

	if u.RefreshTokenActive(now) {
		t.Fatalf("user without token must not be active")
	}

	u.SetRefreshToken("digest", now)
	if u.RefreshTokenActive(now) {
		t.Fatalf("expiry equal to now must be rejected")
	}
	if !u.RefreshTokenActive(now.Add(-time.Second)) {
		t.Fatalf("expected token active one second before expiry")
	}

	u.ClearRefreshToken()
	if u.RefreshTokenHash != "" || u.RefreshTokenExpiry != nil {
		t.Fatalf("token and expiry must clear together: %+v", u)
	}
}

func TestCloneIsDeep(t *testing.T) {
	now := time.Now()
	u := NewUser("a@x.com", "hash", now)
	u.SetRefreshToken("digest", now.Add(time.Hour))
	u.Roles = []Role{{Name: "User", Permissions: []Permission{{Name: "read"}}}}

	c := u.Clone()
	*c.RefreshTokenExpiry = now
	c.Roles[0].Permissions[0].Name = "write"
	c.Roles[0].Name = "Admin"

	if !u.RefreshTokenExpiry.After(now) {
		t.Fatalf("expiry shared between clones")
	}
	if u.Roles[0].Name != "User" || u.Roles[0].Permissions[0].Name != "read" {
		t.Fatalf("roles shared between clones: %+v", u.Roles)
	}
}

func TestInfoIncludesID(t *testing.T) {
	u := NewUser("a@x.com", "hash", time.Now())
	info := u.Info()
	if info.ID != u.ID.String() || info.Email != "a@x.com" {
		t.Fatalf("unexpected info: %+v", info)
	}
	if info.Roles == nil || len(info.Roles) != 0 {
		t.Fatalf("expected empty roles slice, got %v", info.Roles)
	}
}
