package store

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/jmoiron/sqlx"

	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
)

// PostgresStore runs units of work as database transactions.
type PostgresStore struct {
	db *sqlx.DB
}

// NewPostgresStore creates a store over db.
func NewPostgresStore(db *sqlx.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

type pgTx struct {
	submissions *projects.PostgresRepository
	ledger      *ledger.PostgresRepository
}

func (t pgTx) Submissions() projects.Repository { return t.submissions }
func (t pgTx) Ledger() ledger.Repository        { return t.ledger }

func bind(ext sqlx.ExtContext) pgTx {
	return pgTx{
		submissions: projects.NewPostgresRepository(ext),
		ledger:      ledger.NewPostgresRepository(ext),
	}
}

// RunInTx begins a transaction, runs fn and commits, rolling back on any error.
func (s *PostgresStore) RunInTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(bind(tx)); err != nil {
		return err
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// View runs fn in a read-only repeatable-read transaction, so every read
// sees the same snapshot. The transaction is always rolled back.
func (s *PostgresStore) View(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.db.BeginTxx(ctx, &sql.TxOptions{Isolation: sql.LevelRepeatableRead, ReadOnly: true})
	if err != nil {
		return fmt.Errorf("begin read transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	return fn(bind(tx))
}

// Ping checks the database connection.
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
