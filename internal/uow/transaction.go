package uow

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle position of a Transaction.
type State int

const (
	StateIdle State = iota
	StateActive
	StateCommitted
	StateRolledBack
	StateCommitFailed
	StateDisposed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateCommitted:
		return "committed"
	case StateRolledBack:
		return "rolled_back"
	case StateCommitFailed:
		return "commit_failed"
	case StateDisposed:
		return "disposed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

var (
	ErrAlreadyActive = errors.New("uow: a transaction is already in progress")
	ErrDisposed      = errors.New("uow: transaction scope is disposed")
	ErrNoTransaction = errors.New("uow: no transaction in progress")
)

// Tx is the storage transaction driven by a Transaction.
type Tx interface {
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Opener starts a storage transaction.
type Opener func(ctx context.Context) (Tx, error)

// Change is a staged mutation executed inside the storage transaction at
// commit time, in staging order.
type Change func(ctx context.Context) error

// Transaction holds at most one open storage transaction.
//
//	Idle -> Active -> Committed | RolledBack | CommitFailed -> Disposed
//
// A failed commit leaves the transaction in CommitFailed; the caller must
// call Rollback. Close releases whatever is still open.
type Transaction struct {
	mu      sync.Mutex
	open    Opener
	tx      Tx
	state   State
	pending []Change
}

func NewTransaction(open Opener) *Transaction {
	return &Transaction{open: open}
}

func (t *Transaction) State() State {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

// Begin opens a storage transaction. It is allowed from Idle and again after
// a completed commit or rollback.
func (t *Transaction) Begin(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch t.state {
	case StateDisposed:
		return ErrDisposed
	case StateActive, StateCommitFailed:
		return ErrAlreadyActive
	}
	tx, err := t.open(ctx)
	if err != nil {
		return fmt.Errorf("uow: begin: %w", err)
	}
	t.tx = tx
	t.pending = nil
	t.state = StateActive
	return nil
}

// Stage queues a mutation for the next commit.
func (t *Transaction) Stage(change Change) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrNoTransaction
	}
	t.pending = append(t.pending, change)
	return nil
}

// Commit flushes staged changes, finalizes the storage transaction and
// releases it. It never rolls back on its own.
func (t *Transaction) Commit(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive {
		return ErrNoTransaction
	}
	for i, change := range t.pending {
		if err := change(ctx); err != nil {
			t.state = StateCommitFailed
			return fmt.Errorf("uow: flush change %d: %w", i, err)
		}
	}
	if err := t.tx.Commit(ctx); err != nil {
		t.state = StateCommitFailed
		return fmt.Errorf("uow: commit: %w", err)
	}
	t.tx = nil
	t.pending = nil
	t.state = StateCommitted
	return nil
}

// Rollback discards staged changes and releases the storage transaction.
// It is valid while Active or after a failed commit.
func (t *Transaction) Rollback(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state != StateActive && t.state != StateCommitFailed {
		return ErrNoTransaction
	}
	return t.release(ctx, StateRolledBack)
}

// Close releases any still-open storage transaction and disposes the scope.
// Safe to call repeatedly.
func (t *Transaction) Close(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.state == StateDisposed {
		return nil
	}
	if t.tx == nil {
		t.state = StateDisposed
		return nil
	}
	return t.release(ctx, StateDisposed)
}

func (t *Transaction) release(ctx context.Context, next State) error {
	tx := t.tx
	t.tx = nil
	t.pending = nil
	t.state = next
	if err := tx.Rollback(ctx); err != nil {
		return fmt.Errorf("uow: rollback: %w", err)
	}
	return nil
}
