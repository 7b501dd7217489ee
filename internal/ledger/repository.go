package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when a submission has no ledger entry.
	ErrNotFound = errors.New("ledger entry not found")
	// ErrDuplicate is returned when a submission already has a ledger entry.
	ErrDuplicate = errors.New("ledger entry already exists for submission")
	// ErrNotPending is returned when issuing or voiding an entry that already
	// left pending.
	ErrNotPending = errors.New("ledger entry is not pending")
	// ErrOutOfRange is returned when a credit amount does not fit its column.
	ErrOutOfRange = errors.New("ledger amount out of range")
)

// Repository is the Credit Ledger contract. There is no operation that moves
// an entry back to pending.
type Repository interface {
	Create(ctx context.Context, entry *Entry) error
	GetBySubmission(ctx context.Context, submissionID uuid.UUID) (*Entry, error)
	Issue(ctx context.Context, submissionID uuid.UUID, amount float64, at time.Time) (*Entry, error)
	Void(ctx context.Context, submissionID uuid.UUID, at time.Time) (*Entry, error)
	List(ctx context.Context, filter ListFilter) ([]Entry, error)
}

const entryColumns = `id, submission_id, submitter_id, organization_name, pending_credit,
	issued_credit, status, issued_at, voided_at, created_at, updated_at`

// PostgresRepository implements Repository over a database handle or an open
// transaction.
type PostgresRepository struct {
	db sqlx.ExtContext
}

// NewPostgresRepository creates a repository bound to db.
func NewPostgresRepository(db sqlx.ExtContext) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, entry *Entry) error {
	query := `
		INSERT INTO credit_ledger_entries (` + entryColumns + `)
		VALUES (
			:id, :submission_id, :submitter_id, :organization_name, :pending_credit,
			:issued_credit, :status, :issued_at, :voided_at, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, entry); err != nil {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) {
			switch pqErr.Code {
			case "23505":
				return ErrDuplicate
			case "22003":
				return ErrOutOfRange
			}
		}
		return fmt.Errorf("insert ledger entry: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetBySubmission(ctx context.Context, submissionID uuid.UUID) (*Entry, error) {
	var entry Entry
	query := `SELECT ` + entryColumns + ` FROM credit_ledger_entries WHERE submission_id = $1`
	if err := sqlx.GetContext(ctx, r.db, &entry, query, submissionID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get ledger entry for %s: %w", submissionID, err)
	}
	return &entry, nil
}

func (r *PostgresRepository) Issue(ctx context.Context, submissionID uuid.UUID, amount float64, at time.Time) (*Entry, error) {
	query := `
		UPDATE credit_ledger_entries
		SET status = 'issued', issued_credit = $2, issued_at = $3, updated_at = $3
		WHERE submission_id = $1 AND status = 'pending'
		RETURNING ` + entryColumns
	return r.settle(ctx, query, submissionID, amount, at)
}

func (r *PostgresRepository) Void(ctx context.Context, submissionID uuid.UUID, at time.Time) (*Entry, error) {
	query := `
		UPDATE credit_ledger_entries
		SET status = 'void', voided_at = $2, updated_at = $2
		WHERE submission_id = $1 AND status = 'pending'
		RETURNING ` + entryColumns
	return r.settle(ctx, query, submissionID, at)
}

// settle runs a pending-guarded update and tells a missing entry apart from
// one that already left pending.
func (r *PostgresRepository) settle(ctx context.Context, query string, submissionID uuid.UUID, args ...any) (*Entry, error) {
	var entry Entry
	err := sqlx.GetContext(ctx, r.db, &entry, query, append([]any{submissionID}, args...)...)
	if err == nil {
		return &entry, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		var pqErr *pq.Error
		if errors.As(err, &pqErr) && pqErr.Code == "22003" {
			return nil, ErrOutOfRange
		}
		return nil, fmt.Errorf("settle ledger entry for %s: %w", submissionID, err)
	}
	if _, getErr := r.GetBySubmission(ctx, submissionID); getErr != nil {
		return nil, getErr
	}
	return nil, ErrNotPending
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Entry, error) {
	var conditions []string
	var args []any

	if filter.Status != nil {
		args = append(args, *filter.Status)
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)))
	}
	if filter.SubmitterID != "" {
		args = append(args, filter.SubmitterID)
		conditions = append(conditions, fmt.Sprintf("submitter_id = $%d", len(args)))
	}

	query := `SELECT ` + entryColumns + ` FROM credit_ledger_entries`
	if len(conditions) > 0 {
		query += " WHERE " + strings.Join(conditions, " AND ")
	}
	query += " ORDER BY created_at, id"
	if filter.Limit > 0 {
		args = append(args, filter.Limit, filter.Offset)
		query += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}

	entries := []Entry{}
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("list ledger entries: %w", err)
	}
	return entries, nil
}
