package uow

import (
	"context"

	"github.com/sirupsen/logrus"

	"authgate.org/internal/domain"
)

var _ domain.UnitOfWork = (*Unit)(nil)

// Unit composes one Transaction with the user and role repositories bound
// to it. Failures are logged and returned unchanged.
type Unit struct {
	tx    *Transaction
	users domain.UserRepository
	roles domain.RoleRepository
	log   *logrus.Entry
}

func NewUnit(tx *Transaction, users domain.UserRepository, roles domain.RoleRepository, log *logrus.Entry) *Unit {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Unit{tx: tx, users: users, roles: roles, log: log.WithField("component", "uow")}
}

func (u *Unit) Users() domain.UserRepository { return u.users }
func (u *Unit) Roles() domain.RoleRepository { return u.roles }
func (u *Unit) Transaction() *Transaction    { return u.tx }

func (u *Unit) Begin(ctx context.Context) error {
	if err := u.tx.Begin(ctx); err != nil {
		u.log.WithError(err).Error("begin transaction failed")
		return err
	}
	return nil
}

func (u *Unit) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		u.log.WithError(err).Error("commit transaction failed")
		return err
	}
	return nil
}

func (u *Unit) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(ctx); err != nil {
		u.log.WithError(err).Error("rollback transaction failed")
		return err
	}
	return nil
}

func (u *Unit) Close(ctx context.Context) error {
	open := u.tx.State() == StateActive || u.tx.State() == StateCommitFailed
	if err := u.tx.Close(ctx); err != nil {
		u.log.WithError(err).Error("release transaction failed")
		return err
	}
	if open {
		u.log.Warn("transaction released on close without explicit commit or rollback")
	}
	return nil
}
