package repo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/richardliu001/ledger-service/internal/model"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// ErrDuplicateKey is returned when an insert hits a unique constraint.
var ErrDuplicateKey = errors.New("duplicate key")

// Store owns the gorm handle and the unit-of-work boundary shared by all
// repositories.
type Store struct {
	db          *gorm.DB
	log         *zap.SugaredLogger
	lockTimeout time.Duration
}

type StoreOption func(*Store)

// WithLockTimeout bounds how long a row lock may be waited on inside
// Transaction. Only postgres honours it; the wait then fails with
// ErrPersistenceConflict.
func WithLockTimeout(d time.Duration) StoreOption {
	return func(s *Store) { s.lockTimeout = d }
}

// NewStore constructs store.
func NewStore(db *gorm.DB, logger *zap.SugaredLogger, opts ...StoreOption) *Store {
	s := &Store{db: db, log: logger}
	for _, o := range opts {
		o(s)
	}
	return s
}

// DB returns underlying *gorm.DB
func (s *Store) DB(ctx context.Context) *gorm.DB { return s.db.WithContext(ctx) }

// Transaction runs fn in one database transaction. Balance mutations,
// journal postings, status changes and outbox rows written through tx
// commit or roll back together.
func (s *Store) Transaction(ctx context.Context, fn func(tx *gorm.DB) error) error {
	return classify(s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if stmt := lockTimeoutSQL(tx.Dialector.Name(), s.lockTimeout); stmt != "" {
			if err := tx.Exec(stmt).Error; err != nil {
				return fmt.Errorf("set lock_timeout: %w", err)
			}
		}
		return fn(tx)
	}))
}

// lockTimeoutSQL scopes lock_timeout to the current transaction. SET does
// not take bind parameters, so the value is rendered in milliseconds.
func lockTimeoutSQL(dialect string, d time.Duration) string {
	if dialect != "postgres" || d <= 0 {
		return ""
	}
	ms := d.Milliseconds()
	if ms < 1 {
		ms = 1
	}
	return fmt.Sprintf("SET LOCAL lock_timeout = '%dms'", ms)
}

// Migrate creates or updates the ledger tables and their indexes.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&model.Account{},
		&model.Transaction{},
		&model.LedgerEntry{},
		&model.OutboxEvent{},
	)
}

// classify maps driver errors onto the repository/domain taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrDuplicateKey) || errors.Is(err, model.ErrPersistenceConflict) {
		return err
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return fmt.Errorf("%w: %v", ErrDuplicateKey, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "23505": // unique_violation
			return fmt.Errorf("%w: %s", ErrDuplicateKey, pgErr.ConstraintName)
		case "55P03", "40001", "40P01": // lock_not_available, serialization_failure, deadlock_detected
			return fmt.Errorf("%w: %s", model.ErrPersistenceConflict, pgErr.Message)
		}
	}
	return err
}
