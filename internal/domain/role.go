package domain

import "github.com/google/uuid"

// Role groups permissions. Roles are stored and associated with users but
// never evaluated for access decisions.
type Role struct {
	ID          uuid.UUID
	Name        string
	Permissions []Permission
}

// Permission is a named capability attached to roles.
type Permission struct {
	ID   uuid.UUID
	Name string
}

func (r Role) Clone() Role {
	c := r
	if r.Permissions != nil {
		c.Permissions = append([]Permission(nil), r.Permissions...)
	}
	return c
}
