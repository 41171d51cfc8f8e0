package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"authgate.org/internal/domain"
	"authgate.org/internal/uow"
)

// Store keeps users and roles in process memory. Transactions are
// serializable: one unit of work holds the store from Begin until it
// commits or rolls back, and a rollback restores the snapshot taken at Begin.
type Store struct {
	sem  chan struct{}
	data *dataset
	log  *logrus.Entry
}

type dataset struct {
	users       map[uuid.UUID]*domain.User
	roles       map[uuid.UUID]*domain.Role
	assignments map[uuid.UUID][]uuid.UUID
}

func newDataset() *dataset {
	return &dataset{
		users:       make(map[uuid.UUID]*domain.User),
		roles:       make(map[uuid.UUID]*domain.Role),
		assignments: make(map[uuid.UUID][]uuid.UUID),
	}
}

func (d *dataset) clone() *dataset {
	c := newDataset()
	for id, u := range d.users {
		c.users[id] = u.Clone()
	}
	for id, r := range d.roles {
		role := r.Clone()
		c.roles[id] = &role
	}
	for id, roleIDs := range d.assignments {
		c.assignments[id] = append([]uuid.UUID(nil), roleIDs...)
	}
	return c
}

func New(log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{sem: make(chan struct{}, 1), data: newDataset(), log: log}
}

// SeedRoles inserts roles by name outside any unit of work, skipping names
// already present.
func (s *Store) SeedRoles(ctx context.Context, names ...string) error {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-s.sem }()
	for _, name := range names {
		if s.roleByName(name) != nil {
			continue
		}
		id := uuid.New()
		s.data.roles[id] = &domain.Role{ID: id, Name: name}
	}
	return nil
}

// NewUnit returns a unit of work bound to this store.
func (s *Store) NewUnit() domain.UnitOfWork {
	tx := uow.NewTransaction(s.begin)
	return uow.NewUnit(tx, &userRepo{s: s, tx: tx}, &roleRepo{s: s, tx: tx}, s.log)
}

type memTx struct {
	s        *Store
	snapshot *dataset
	done     bool
}

func (s *Store) begin(ctx context.Context) (uow.Tx, error) {
	select {
	case s.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memTx{s: s, snapshot: s.data.clone()}, nil
}

func (t *memTx) Commit(context.Context) error {
	if t.done {
		return fmt.Errorf("memory: transaction already finished")
	}
	t.done = true
	t.snapshot = nil
	<-t.s.sem
	return nil
}

func (t *memTx) Rollback(context.Context) error {
	if t.done {
		return nil
	}
	t.done = true
	t.s.data = t.snapshot
	<-t.s.sem
	return nil
}

func (s *Store) userByEmail(email string) *domain.User {
	for _, u := range s.data.users {
		if u.Email == email {
			return u
		}
	}
	return nil
}

func (s *Store) roleByName(name string) *domain.Role {
	for _, r := range s.data.roles {
		if strings.EqualFold(r.Name, name) {
			return r
		}
	}
	return nil
}

func (s *Store) rolesFor(userID uuid.UUID) []domain.Role {
	var out []domain.Role
	for _, id := range s.data.assignments[userID] {
		if r, ok := s.data.roles[id]; ok {
			out = append(out, r.Clone())
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func (s *Store) withRoles(u *domain.User) *domain.User {
	c := u.Clone()
	c.Roles = s.rolesFor(u.ID)
	return c
}
