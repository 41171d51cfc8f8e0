// Package workflow implements registration, login, refresh-token exchange and
// profile lookup. Every operation runs in its own unit of work and ends it
// with exactly one commit or rollback before returning.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"authgate.org/internal/audit"
	"authgate.org/internal/domain"
	"authgate.org/internal/obs"
	"authgate.org/internal/result"
)

// RefreshTokenLifetime is how long an issued refresh token stays exchangeable.
const RefreshTokenLifetime = 7 * 24 * time.Hour

const (
	MsgRegistered     = "User registered successfully."
	MsgLoggedIn       = "Login successful."
	MsgRefreshed      = "Token refreshed successfully."
	MsgUserInfo       = "User info retrieved successfully."
	MsgEmailExists    = "Email already exists."
	MsgPasswordsDiff  = "Passwords do not match."
	MsgPasswordLength = "Password must be at most 72 bytes long."
	MsgCredentials    = "Email and password are required."
	MsgInvalidLogin   = "Invalid email or password."
	MsgLocked         = "Your account is locked. Please contact support."
	MsgInvalidRefresh = "Invalid or expired refresh token."
	MsgUserNotFound   = "User not found."
	MsgCommitFailed   = "Commit failed."
	MsgUnexpected     = "An unexpected error occurred."
)

// PasswordHasher hashes and verifies user passwords.
type PasswordHasher interface {
	Hash(plain string) (string, error)
	Verify(plain, digest string) bool
}

// TokenIssuer signs access tokens.
type TokenIssuer interface {
	GenerateToken(u *domain.User) (string, time.Time, error)
}

type Workflow struct {
	units  domain.UnitFactory
	hasher PasswordHasher
	issuer TokenIssuer
	log    *logrus.Entry
	now    func() time.Time

	decoyOnce sync.Once
	decoy     string
}

type Option func(*Workflow)

func WithClock(fn func() time.Time) Option {
	return func(w *Workflow) {
		if fn != nil {
			w.now = fn
		}
	}
}

func WithLogger(log *logrus.Entry) Option {
	return func(w *Workflow) {
		if log != nil {
			w.log = log
		}
	}
}

func New(units domain.UnitFactory, hasher PasswordHasher, issuer TokenIssuer, opts ...Option) *Workflow {
	w := &Workflow{
		units:  units,
		hasher: hasher,
		issuer: issuer,
		log:    obs.Component("workflow"),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// verifyDecoy spends one verification on a fixed digest so an unknown email
// costs the same as a wrong password.
func (w *Workflow) verifyDecoy(plain string) {
	w.decoyOnce.Do(func() {
		digest, err := w.hasher.Hash("authgate decoy credential")
		if err != nil {
			w.log.WithError(err).Warn("prepare decoy digest")
			return
		}
		w.decoy = digest
	})
	if w.decoy != "" {
		w.hasher.Verify(plain, w.decoy)
	}
}

// step is the body of an operation. A non-nil error is an infrastructure
// fault; business failures come back as a failed Result.
type step[T any] func(ctx context.Context, unit domain.UnitOfWork) (result.Result[T], error)

// operation names the metric label, the audit event (empty to skip) and the
// failure reported when commit hits a uniqueness conflict.
type operation struct {
	name       string
	event      string
	onConflict string
	fields     map[string]any
}

func run[T any](ctx context.Context, w *Workflow, op operation, body step[T]) (res result.Result[T]) {
	log := w.log.WithField("op", op.name)
	unit := w.units()
	began := false

	defer func() {
		if err := unit.Close(ctx); err != nil {
			log.WithError(err).Warn("close unit of work")
		}
	}()
	defer func() {
		if p := recover(); p != nil {
			log.WithField("panic", fmt.Sprint(p)).Error("operation panicked")
			if began {
				w.rollback(ctx, unit, log)
			}
			res = result.Failure[T](MsgUnexpected, result.WithCode(result.CodeInternal))
		}
		w.report(ctx, op, res)
	}()

	if err := unit.Begin(ctx); err != nil {
		log.WithError(err).Error("begin transaction")
		return result.Failure[T](MsgUnexpected, result.WithCode(result.CodeInternal))
	}
	began = true

	res, err := body(ctx, unit)
	if err != nil {
		log.WithError(err).Error("operation failed")
		w.rollback(ctx, unit, log)
		return result.Failure[T](MsgUnexpected, result.WithCode(result.CodeInternal))
	}
	if !res.OK() {
		w.rollback(ctx, unit, log)
		return res
	}
	if err := unit.Commit(ctx); err != nil {
		w.rollback(ctx, unit, log)
		if errors.Is(err, domain.ErrConflict) && op.onConflict != "" {
			return result.Failure[T](op.onConflict, result.WithCode(result.CodeConflict))
		}
		log.WithError(err).Error("commit failed")
		return result.Failure[T](MsgCommitFailed, result.WithCode(result.CodeInternal))
	}
	return res
}

func (w *Workflow) rollback(ctx context.Context, unit domain.UnitOfWork, log *logrus.Entry) {
	if err := unit.Rollback(ctx); err != nil {
		log.WithError(err).Error("rollback failed")
	}
}

type finished interface {
	OK() bool
	Code() result.Code
}

func (w *Workflow) report(ctx context.Context, op operation, res finished) {
	outcome := "ok"
	if !res.OK() {
		outcome = string(res.Code())
		if outcome == "" {
			outcome = "failed"
		}
	}
	obs.ObserveAuth(op.name, outcome)
	if op.event == "" {
		return
	}
	fields := make(map[string]any, len(op.fields)+1)
	for k, v := range op.fields {
		fields[k] = v
	}
	fields["outcome"] = outcome
	if err := audit.LogEvent(ctx, op.event, fields); err != nil {
		w.log.WithError(err).Warn("audit event dropped")
	}
}

func invalid[T any](msg string) result.Result[T] {
	return result.Failure[T](msg, result.WithCode(result.CodeValidation))
}
