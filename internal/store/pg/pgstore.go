package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/sirupsen/logrus"

	"authgate.org/internal/domain"
	"authgate.org/internal/uow"
)

const (
	pgErrUniqueViolation     = "23505"
	pgErrForeignKeyViolation = "23503"
)

// Store provides units of work over PostgreSQL.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

// Open connects through the pgx stdlib driver with pool defaults sized for
// short authentication transactions.
func Open(dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetConnMaxIdleTime(5 * time.Minute)
	return db, nil
}

func New(db *sql.DB, log *logrus.Entry) *Store {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Store{db: db, log: log}
}

func (s *Store) DB() *sql.DB { return s.db }

// Check pings the database; used by readiness probes.
func (s *Store) Check(ctx context.Context) error {
	if s.db == nil {
		return errors.New("database connection unavailable")
	}
	return s.db.PingContext(ctx)
}

// NewUnit returns a unit of work whose repositories read inside its
// transaction and stage writes until commit.
func (s *Store) NewUnit() domain.UnitOfWork {
	sess := &session{}
	tx := uow.NewTransaction(func(ctx context.Context) (uow.Tx, error) {
		sqlTx, err := s.db.BeginTx(ctx, nil)
		if err != nil {
			return nil, err
		}
		sess.tx = sqlTx
		return &txHandle{sess: sess, tx: sqlTx}, nil
	})
	return uow.NewUnit(tx, &userRepo{sess: sess, tx: tx}, &roleRepo{sess: sess, tx: tx}, s.log)
}

// session points repositories at the currently open transaction.
type session struct {
	tx *sql.Tx
}

func (s *session) current() (*sql.Tx, error) {
	if s.tx == nil {
		return nil, uow.ErrNoTransaction
	}
	return s.tx, nil
}

type txHandle struct {
	sess *session
	tx   *sql.Tx
}

func (h *txHandle) Commit(context.Context) error {
	if err := h.tx.Commit(); err != nil {
		return mapError(err)
	}
	h.sess.tx = nil
	return nil
}

// Rollback tolerates a transaction the server already ended, which is the
// normal state after a failed commit.
func (h *txHandle) Rollback(context.Context) error {
	h.sess.tx = nil
	if err := h.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return err
	}
	return nil
}

func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if pgErr, ok := maybePgError(err); ok {
		switch pgErr.Code {
		case pgErrUniqueViolation:
			return fmt.Errorf("%w: %s", domain.ErrConflict, pgErr.ConstraintName)
		case pgErrForeignKeyViolation:
			return fmt.Errorf("%w: %s", domain.ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}

func maybePgError(err error) (*pgconn.PgError, bool) {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr, true
	}
	return nil, false
}

func nullIfEmpty(s string) sql.NullString {
	s = strings.TrimSpace(s)
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: t.UTC(), Valid: true}
}

func requireRows(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return domain.ErrNotFound
	}
	return nil
}
