package projects

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

var (
	// ErrNotFound is returned when no submission has the requested id.
	ErrNotFound = errors.New("submission not found")
	// ErrVersionMismatch is returned when a guarded update finds a newer row.
	ErrVersionMismatch = errors.New("submission version mismatch")
	// ErrDuplicate is returned when a write collides with an existing
	// submission, by id or by the live-project unique index.
	ErrDuplicate = errors.New("submission already exists")
	// ErrOutOfRange is returned when a credit amount does not fit its column.
	ErrOutOfRange = errors.New("submission value out of range")
)

// Repository is the Submission Store contract.
type Repository interface {
	Create(ctx context.Context, sub *Submission) error
	GetByID(ctx context.Context, id uuid.UUID) (*Submission, error)
	// GetForUpdate reads a submission and, where the backend supports it,
	// locks the row until the surrounding transaction ends.
	GetForUpdate(ctx context.Context, id uuid.UUID) (*Submission, error)
	// Update writes sub only if the stored version still equals
	// expectedVersion, and bumps sub.Version on success.
	Update(ctx context.Context, sub *Submission, expectedVersion int64) error
	List(ctx context.Context, filter ListFilter) ([]Submission, int, error)
	ListAll(ctx context.Context) ([]Submission, error)
	// FindDuplicate returns the id of another live submission with the same
	// submitter, organization, project name and type.
	FindDuplicate(ctx context.Context, sub *Submission) (*uuid.UUID, error)

	AppendHistory(ctx context.Context, entry *StatusHistory) error
	ListHistory(ctx context.Context, submissionID uuid.UUID) ([]StatusHistory, error)
}

const submissionColumns = `id, submitter_id, organization_name, project_name, project_type,
	description, location, methodology, proposed_credit, details,
	submission_status, verification_status, reviewer_id, review_comments, review_date,
	verifier_id, verification_date, issued_credit, version, submitted_at, created_at, updated_at`

// PostgresRepository implements Repository over a database handle or an open
// transaction.
type PostgresRepository struct {
	db sqlx.ExtContext
}

// NewPostgresRepository creates a repository bound to db, which may be a
// *sqlx.DB or a *sqlx.Tx.
func NewPostgresRepository(db sqlx.ExtContext) *PostgresRepository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, sub *Submission) error {
	sub.Details = NormalizeDetails(sub.Details)
	query := `
		INSERT INTO submissions (` + submissionColumns + `)
		VALUES (
			:id, :submitter_id, :organization_name, :project_name, :project_type,
			:description, :location, :methodology, :proposed_credit, :details,
			:submission_status, :verification_status, :reviewer_id, :review_comments, :review_date,
			:verifier_id, :verification_date, :issued_credit, :version, :submitted_at, :created_at, :updated_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, sub); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if isOutOfRange(err) {
			return ErrOutOfRange
		}
		return fmt.Errorf("insert submission: %w", err)
	}
	return nil
}

func (r *PostgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return r.get(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1`, id)
}

func (r *PostgresRepository) GetForUpdate(ctx context.Context, id uuid.UUID) (*Submission, error) {
	return r.get(ctx, `SELECT `+submissionColumns+` FROM submissions WHERE id = $1 FOR UPDATE`, id)
}

func (r *PostgresRepository) get(ctx context.Context, query string, id uuid.UUID) (*Submission, error) {
	var sub Submission
	if err := sqlx.GetContext(ctx, r.db, &sub, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get submission %s: %w", id, err)
	}
	return &sub, nil
}

func (r *PostgresRepository) Update(ctx context.Context, sub *Submission, expectedVersion int64) error {
	sub.Details = NormalizeDetails(sub.Details)
	args := map[string]any{
		"id":                  sub.ID,
		"expected_version":    expectedVersion,
		"organization_name":   sub.OrganizationName,
		"project_name":        sub.ProjectName,
		"project_type":        sub.ProjectType,
		"description":         sub.Description,
		"location":            sub.Location,
		"methodology":         sub.Methodology,
		"proposed_credit":     sub.ProposedCredit,
		"details":             sub.Details,
		"submission_status":   sub.SubmissionStatus,
		"verification_status": sub.VerificationStatus,
		"reviewer_id":         sub.ReviewerID,
		"review_comments":     sub.ReviewComments,
		"review_date":         sub.ReviewDate,
		"verifier_id":         sub.VerifierID,
		"verification_date":   sub.VerificationDate,
		"issued_credit":       sub.IssuedCredit,
		"submitted_at":        sub.SubmittedAt,
		"updated_at":          sub.UpdatedAt,
	}
	query := `
		UPDATE submissions SET
			organization_name = :organization_name,
			project_name = :project_name,
			project_type = :project_type,
			description = :description,
			location = :location,
			methodology = :methodology,
			proposed_credit = :proposed_credit,
			details = :details,
			submission_status = :submission_status,
			verification_status = :verification_status,
			reviewer_id = :reviewer_id,
			review_comments = :review_comments,
			review_date = :review_date,
			verifier_id = :verifier_id,
			verification_date = :verification_date,
			issued_credit = :issued_credit,
			submitted_at = :submitted_at,
			updated_at = :updated_at,
			version = version + 1
		WHERE id = :id AND version = :expected_version`

	res, err := sqlx.NamedExecContext(ctx, r.db, query, args)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		if isOutOfRange(err) {
			return ErrOutOfRange
		}
		return fmt.Errorf("update submission %s: %w", sub.ID, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update submission %s rows affected: %w", sub.ID, err)
	}
	if affected == 0 {
		return ErrVersionMismatch
	}
	sub.Version = expectedVersion + 1
	return nil
}

func (r *PostgresRepository) List(ctx context.Context, filter ListFilter) ([]Submission, int, error) {
	filter.Normalize()

	var conditions []string
	var args []any
	argIndex := 1

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("submission_status = $%d", argIndex))
		args = append(args, *filter.Status)
		argIndex++
	}
	if filter.ProjectType != nil {
		conditions = append(conditions, fmt.Sprintf("project_type = $%d", argIndex))
		args = append(args, *filter.ProjectType)
		argIndex++
	}
	if filter.SubmitterID != "" {
		conditions = append(conditions, fmt.Sprintf("submitter_id = $%d", argIndex))
		args = append(args, filter.SubmitterID)
		argIndex++
	}

	where := ""
	if len(conditions) > 0 {
		where = " WHERE " + strings.Join(conditions, " AND ")
	}

	var total int
	if err := sqlx.GetContext(ctx, r.db, &total, "SELECT COUNT(*) FROM submissions"+where, args...); err != nil {
		return nil, 0, fmt.Errorf("count submissions: %w", err)
	}

	query := fmt.Sprintf("SELECT %s FROM submissions%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d",
		submissionColumns, where, argIndex, argIndex+1)
	args = append(args, filter.Limit, filter.Offset())

	subs := []Submission{}
	if err := sqlx.SelectContext(ctx, r.db, &subs, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list submissions: %w", err)
	}
	return subs, total, nil
}

func (r *PostgresRepository) ListAll(ctx context.Context) ([]Submission, error) {
	subs := []Submission{}
	query := `SELECT ` + submissionColumns + ` FROM submissions ORDER BY created_at, id`
	if err := sqlx.SelectContext(ctx, r.db, &subs, query); err != nil {
		return nil, fmt.Errorf("list all submissions: %w", err)
	}
	return subs, nil
}

func (r *PostgresRepository) FindDuplicate(ctx context.Context, sub *Submission) (*uuid.UUID, error) {
	var id uuid.UUID
	query := `
		SELECT id FROM submissions
		WHERE submitter_id = $1
			AND lower(organization_name) = lower($2)
			AND lower(project_name) = lower($3)
			AND project_type = $4
			AND id <> $5
			AND submission_status NOT IN ('draft', 'rejected')
		LIMIT 1`
	err := sqlx.GetContext(ctx, r.db, &id, query,
		sub.SubmitterID, sub.OrganizationName, sub.ProjectName, sub.ProjectType, sub.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find duplicate submission: %w", err)
	}
	return &id, nil
}

func (r *PostgresRepository) AppendHistory(ctx context.Context, entry *StatusHistory) error {
	query := `
		INSERT INTO submission_status_history (
			id, submission_id, action, from_status, to_status, verification_status,
			actor_id, message, version, created_at
		) VALUES (
			:id, :submission_id, :action, :from_status, :to_status, :verification_status,
			:actor_id, :message, :version, :created_at
		)`
	if _, err := sqlx.NamedExecContext(ctx, r.db, query, entry); err != nil {
		return fmt.Errorf("append status history: %w", err)
	}
	return nil
}

func (r *PostgresRepository) ListHistory(ctx context.Context, submissionID uuid.UUID) ([]StatusHistory, error) {
	entries := []StatusHistory{}
	query := `
		SELECT id, submission_id, action, from_status, to_status, verification_status,
			actor_id, message, version, created_at
		FROM submission_status_history
		WHERE submission_id = $1
		ORDER BY version, created_at`
	if err := sqlx.SelectContext(ctx, r.db, &entries, query, submissionID); err != nil {
		return nil, fmt.Errorf("list status history: %w", err)
	}
	return entries, nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}

// isOutOfRange matches numeric_value_out_of_range.
func isOutOfRange(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "22003"
}
