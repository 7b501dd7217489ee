// Package workflow is the verification engine: it moves submissions through
// review, keeps the credit ledger in step and announces committed changes.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/notifications"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
	"carbon-scribe/project-portal/registry-backend/internal/store"
	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
)

// Service is the workflow contract used by the HTTP layer.
type Service interface {
	CreateSubmission(ctx context.Context, caller auth.Caller, req CreateSubmissionRequest) (*SubmissionView, error)
	ApplyVerifierAction(ctx context.Context, caller auth.Caller, cmd VerifierActionCommand) (*Result, error)
	EditSubmission(ctx context.Context, caller auth.Caller, cmd EditCommand) (*Result, error)
	GetSubmission(ctx context.Context, caller auth.Caller, id uuid.UUID) (*SubmissionView, error)
	ListSubmissions(ctx context.Context, caller auth.Caller, filter projects.ListFilter) (*SubmissionPage, error)
	GetHistory(ctx context.Context, caller auth.Caller, id uuid.UUID) ([]projects.StatusHistory, error)
}

// MetricsRecorder receives workflow outcomes.
type MetricsRecorder interface {
	ObserveWorkflowAction(action, outcome string)
	AddCreditsIssued(amount float64)
}

// ViewCache caches submission views between writes. Set must not replace a
// view with one of a lower version.
type ViewCache interface {
	Fetch(ctx context.Context, key string, dest any, load func(ctx context.Context) (any, error)) error
	Set(ctx context.Context, key string, value any) error
	Delete(ctx context.Context, keys ...string) error
}

const (
	outcomeApplied  = "applied"
	outcomeReplayed = "replayed"

	historyCreate = "create"
	historyEdit   = "edit"
	historySubmit = "reapply"
)

type service struct {
	store     store.Store
	publisher notifications.Publisher
	metrics   MetricsRecorder
	cache     ViewCache
	logger    *zap.Logger
	now       func() time.Time
}

// Option configures the engine.
type Option func(*service)

// WithPublisher sets where committed changes are announced.
func WithPublisher(p notifications.Publisher) Option {
	return func(s *service) { s.publisher = p }
}

// WithMetrics records action outcomes.
func WithMetrics(m MetricsRecorder) Option {
	return func(s *service) { s.metrics = m }
}

// WithCache caches submission reads.
func WithCache(c ViewCache) Option {
	return func(s *service) { s.cache = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *service) { s.logger = l }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *service) { s.now = now }
}

// NewService creates the engine over st.
func NewService(st store.Store, opts ...Option) Service {
	s := &service{
		store:     st,
		publisher: notifications.NopPublisher{},
		metrics:   nopMetrics{},
		logger:    zap.NewNop(),
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *service) CreateSubmission(ctx context.Context, caller auth.Caller, req CreateSubmissionRequest) (*SubmissionView, error) {
	if caller.Role == auth.RoleVerifier {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "verifiers cannot submit projects")
	}
	req.OrganizationName = strings.TrimSpace(req.OrganizationName)
	if req.OrganizationName == "" {
		req.OrganizationName = caller.Organization
	}
	req.ProjectName = strings.TrimSpace(req.ProjectName)
	if err := projects.Validate(req); err != nil {
		return nil, err
	}

	now := s.now()
	sub := &projects.Submission{
		ID:                 uuid.New(),
		SubmitterID:        caller.ID,
		OrganizationName:   req.OrganizationName,
		ProjectName:        req.ProjectName,
		ProjectType:        req.ProjectType,
		Description:        req.Description,
		Location:           req.Location,
		Methodology:        req.Methodology,
		ProposedCredit:     req.ProposedCredit,
		Details:            projects.NormalizeDetails(req.Details),
		SubmissionStatus:   projects.StatusSubmitted,
		VerificationStatus: projects.VerificationPending,
		Version:            1,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	if req.Draft {
		sub.SubmissionStatus = projects.StatusDraft
	} else {
		sub.SubmittedAt = &now
	}

	var entry *ledger.Entry
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		if !req.Draft {
			if err := s.checkDuplicate(ctx, tx, sub); err != nil {
				return err
			}
		}
		if err := tx.Submissions().Create(ctx, sub); err != nil {
			return err
		}
		if !req.Draft {
			entry = ledger.NewPendingEntry(sub.ID, sub.SubmitterID, sub.OrganizationName, sub.ProposedCredit, now)
			if err := tx.Ledger().Create(ctx, entry); err != nil {
				return err
			}
		}
		return tx.Submissions().AppendHistory(ctx, historyRow(sub, historyCreate, nil, caller.ID, nil, now))
	})
	if err != nil {
		mapped := mapStoreError("create submission", err)
		s.metrics.ObserveWorkflowAction(historyCreate, appErrors.Code(mapped))
		return nil, mapped
	}

	s.metrics.ObserveWorkflowAction(historyCreate, outcomeApplied)
	s.announce(ctx, notifications.EventSubmissionCreated, sub, entry, caller.ID, nil)
	s.logger.Info("Submission created",
		zap.String("submission_id", sub.ID.String()),
		zap.String("submitter_id", sub.SubmitterID),
		zap.String("status", string(sub.SubmissionStatus)),
		zap.Float64("proposed_credit", sub.ProposedCredit),
	)
	return newView(sub, entry), nil
}

func (s *service) ApplyVerifierAction(ctx context.Context, caller auth.Caller, cmd VerifierActionCommand) (*Result, error) {
	if !cmd.Action.IsValid() {
		return nil, appErrors.Clonef(appErrors.ErrValidation, "unknown action %q", cmd.Action).
			WithDetails(map[string]any{"allowed": Actions})
	}
	if !caller.CanReview() {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only verifiers may review submissions")
	}
	if err := checkIssuedCredit(cmd); err != nil {
		return nil, err
	}

	now := s.now()
	var (
		sub      *projects.Submission
		entry    *ledger.Entry
		replayed bool
		event    notifications.EventType
	)
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		current, err := tx.Submissions().GetForUpdate(ctx, cmd.SubmissionID)
		if err != nil {
			return err
		}
		if err := checkVersion(current, cmd.ExpectedVersion); err != nil {
			return err
		}

		t, legal := lookupTransition(current.SubmissionStatus, cmd.Action)
		if !legal {
			if !isSettled(current, cmd.Action) {
				return invalidTransition(current.SubmissionStatus, cmd.Action)
			}
			if err := checkReplay(current, cmd); err != nil {
				return err
			}
			sub, replayed = current, true
			entry, err = findEntry(ctx, tx, current.ID)
			return err
		}

		next := *current
		applyTransition(&next, t, caller, cmd, now)
		if err := tx.Submissions().Update(ctx, &next, current.Version); err != nil {
			return err
		}

		switch t.Effect.Ledger {
		case LedgerIssue:
			entry, err = tx.Ledger().Issue(ctx, next.ID, *cmd.IssuedCredit, now)
		case LedgerVoid:
			entry, err = tx.Ledger().Void(ctx, next.ID, now)
		default:
			entry, err = findEntry(ctx, tx, next.ID)
		}
		if err != nil {
			return err
		}

		from := current.SubmissionStatus
		if err := tx.Submissions().AppendHistory(ctx, historyRow(&next, string(cmd.Action), &from, caller.ID, cmd.Message, now)); err != nil {
			return err
		}
		sub, event = &next, t.Effect.Event
		return nil
	})
	if err != nil {
		mapped := mapStoreError("apply verifier action", err)
		s.metrics.ObserveWorkflowAction(string(cmd.Action), appErrors.Code(mapped))
		s.logger.Info("Verifier action refused",
			zap.String("submission_id", cmd.SubmissionID.String()),
			zap.String("action", string(cmd.Action)),
			zap.String("verifier_id", caller.ID),
			zap.String("code", appErrors.Code(mapped)),
		)
		return nil, mapped
	}

	if replayed {
		s.metrics.ObserveWorkflowAction(string(cmd.Action), outcomeReplayed)
		s.logger.Info("Verifier action already applied",
			zap.String("submission_id", sub.ID.String()),
			zap.String("action", string(cmd.Action)),
			zap.String("verifier_id", caller.ID),
		)
		return &Result{View: newView(sub, entry), Replayed: true}, nil
	}

	s.metrics.ObserveWorkflowAction(string(cmd.Action), outcomeApplied)
	if cmd.Action == ActionConfirm {
		s.metrics.AddCreditsIssued(*cmd.IssuedCredit)
	}
	if cmd.Action == ActionSendBack && cmd.Message == nil {
		s.logger.Warn("Submission sent back without a message", zap.String("submission_id", sub.ID.String()))
	}
	s.announce(ctx, event, sub, entry, caller.ID, cmd.Message)
	s.logger.Info("Verifier action applied",
		zap.String("submission_id", sub.ID.String()),
		zap.String("action", string(cmd.Action)),
		zap.String("verifier_id", caller.ID),
		zap.String("status", string(sub.SubmissionStatus)),
		zap.Int64("version", sub.Version),
	)
	return &Result{View: newView(sub, entry)}, nil
}

func (s *service) EditSubmission(ctx context.Context, caller auth.Caller, cmd EditCommand) (*Result, error) {
	if cmd.Updates.IsEmpty() && !cmd.SetReapply {
		return nil, appErrors.Clone(appErrors.ErrValidation, "no changes requested")
	}
	cmd.Updates.TrimNames()
	if err := projects.Validate(cmd.Updates); err != nil {
		return nil, err
	}

	now := s.now()
	action := historyEdit
	if cmd.SetReapply {
		action = historySubmit
	}

	var (
		sub   *projects.Submission
		entry *ledger.Entry
		event = notifications.EventSubmissionUpdated
	)
	err := s.store.RunInTx(ctx, func(tx store.Tx) error {
		current, err := tx.Submissions().GetForUpdate(ctx, cmd.SubmissionID)
		if err != nil {
			return err
		}
		if current.SubmitterID != caller.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "only the submitter may edit a submission")
		}
		if !current.SubmissionStatus.IsEditable() {
			return appErrors.Clonef(appErrors.ErrInvalidState, "a submission in %s cannot be edited", current.SubmissionStatus).
				WithDetails(map[string]any{"current_status": current.SubmissionStatus})
		}
		if err := checkVersion(current, cmd.ExpectedVersion); err != nil {
			return err
		}

		from := current.SubmissionStatus
		next := *current
		cmd.Updates.Apply(&next)
		next.UpdatedAt = now

		if cmd.SetReapply {
			next.SubmissionStatus = projects.StatusSubmitted
			next.VerificationStatus = projects.VerificationPending
			next.ClearReview()
			next.SubmittedAt = &now
			event = notifications.EventSubmissionResubmitted

			if from == projects.StatusDraft {
				event = notifications.EventSubmissionSubmitted
				if err := s.checkDuplicate(ctx, tx, &next); err != nil {
					return err
				}
			}
		}

		if err := tx.Submissions().Update(ctx, &next, current.Version); err != nil {
			return err
		}

		entry, err = findEntry(ctx, tx, next.ID)
		if err != nil {
			return err
		}
		if cmd.SetReapply && entry == nil {
			entry = ledger.NewPendingEntry(next.ID, next.SubmitterID, next.OrganizationName, next.ProposedCredit, now)
			if err := tx.Ledger().Create(ctx, entry); err != nil {
				return err
			}
		}

		if err := tx.Submissions().AppendHistory(ctx, historyRow(&next, action, &from, caller.ID, nil, now)); err != nil {
			return err
		}
		sub = &next
		return nil
	})
	if err != nil {
		mapped := mapStoreError("edit submission", err)
		s.metrics.ObserveWorkflowAction(action, appErrors.Code(mapped))
		return nil, mapped
	}

	s.metrics.ObserveWorkflowAction(action, outcomeApplied)
	s.announce(ctx, event, sub, entry, caller.ID, nil)
	s.logger.Info("Submission edited",
		zap.String("submission_id", sub.ID.String()),
		zap.Bool("reapply", cmd.SetReapply),
		zap.String("status", string(sub.SubmissionStatus)),
		zap.Int64("version", sub.Version),
	)
	return &Result{View: newView(sub, entry)}, nil
}

func (s *service) GetSubmission(ctx context.Context, caller auth.Caller, id uuid.UUID) (*SubmissionView, error) {
	view := &SubmissionView{}
	load := func(ctx context.Context) (any, error) {
		var loaded *SubmissionView
		err := s.store.View(ctx, func(tx store.Tx) error {
			sub, err := tx.Submissions().GetByID(ctx, id)
			if err != nil {
				return err
			}
			entry, err := findEntry(ctx, tx, id)
			if err != nil {
				return err
			}
			loaded = newView(sub, entry)
			return nil
		})
		return loaded, err
	}

	var err error
	if s.cache != nil {
		err = s.cache.Fetch(ctx, viewKey(id), view, load)
	} else {
		var v any
		if v, err = load(ctx); err == nil {
			view = v.(*SubmissionView)
		}
	}
	if err != nil {
		return nil, mapStoreError("get submission", err)
	}

	if !caller.CanReview() && view.SubmitterID != caller.ID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "submission belongs to another submitter")
	}
	return view, nil
}

func (s *service) ListSubmissions(ctx context.Context, caller auth.Caller, filter projects.ListFilter) (*SubmissionPage, error) {
	if !caller.CanReview() {
		filter.SubmitterID = caller.ID
	}
	filter.Normalize()

	var (
		items []projects.Submission
		total int
	)
	err := s.store.View(ctx, func(tx store.Tx) error {
		var err error
		items, total, err = tx.Submissions().List(ctx, filter)
		return err
	})
	if err != nil {
		return nil, mapStoreError("list submissions", err)
	}
	return &SubmissionPage{Items: items, Page: filter.Page, Limit: filter.Limit, Total: total}, nil
}

func (s *service) GetHistory(ctx context.Context, caller auth.Caller, id uuid.UUID) ([]projects.StatusHistory, error) {
	var history []projects.StatusHistory
	err := s.store.View(ctx, func(tx store.Tx) error {
		sub, err := tx.Submissions().GetByID(ctx, id)
		if err != nil {
			return err
		}
		if !caller.CanReview() && sub.SubmitterID != caller.ID {
			return appErrors.Clone(appErrors.ErrForbidden, "submission belongs to another submitter")
		}
		history, err = tx.Submissions().ListHistory(ctx, id)
		return err
	})
	if err != nil {
		return nil, mapStoreError("get history", err)
	}
	return history, nil
}

func (s *service) checkDuplicate(ctx context.Context, tx store.Tx, sub *projects.Submission) error {
	if sub.ProjectName == "" {
		return nil
	}
	existing, err := tx.Submissions().FindDuplicate(ctx, sub)
	if err != nil {
		return err
	}
	if existing != nil {
		return appErrors.Clone(appErrors.ErrConflict, "an active submission for this project already exists").
			WithDetails(map[string]any{"existing_id": existing.String()})
	}
	return nil
}

// announce runs after commit. Failures are logged and never undo the change.
// The committed view is written to the cache rather than evicted, so a read
// that loaded the previous version cannot put it back.
func (s *service) announce(ctx context.Context, t notifications.EventType, sub *projects.Submission, entry *ledger.Entry, actorID string, message *string) {
	if s.cache != nil {
		if err := s.cache.Set(ctx, viewKey(sub.ID), newView(sub, entry)); err != nil {
			s.logger.Warn("Failed to refresh cached submission", zap.String("submission_id", sub.ID.String()), zap.Error(err))
			if err := s.cache.Delete(ctx, viewKey(sub.ID)); err != nil {
				s.logger.Warn("Failed to evict cached submission", zap.String("submission_id", sub.ID.String()), zap.Error(err))
			}
		}
	}
	if err := s.publisher.Publish(ctx, notifications.NewEvent(t, sub, actorID, message, s.now())); err != nil {
		s.logger.Warn("Failed to publish submission event",
			zap.String("submission_id", sub.ID.String()),
			zap.String("event", string(t)),
			zap.Error(err),
		)
	}
}

func applyTransition(sub *projects.Submission, t transition, caller auth.Caller, cmd VerifierActionCommand, now time.Time) {
	sub.SubmissionStatus = t.To
	sub.VerificationStatus = t.Effect.Verification
	sub.UpdatedAt = now

	reviewer := caller.ID
	switch cmd.Action {
	case ActionStart:
		sub.ReviewerID = &reviewer
	case ActionConfirm:
		amount := *cmd.IssuedCredit
		sub.VerifierID = &reviewer
		sub.VerificationDate = &now
		sub.IssuedCredit = &amount
		sub.ReviewDate = &now
		if cmd.Message != nil {
			sub.ReviewComments = cmd.Message
		}
	case ActionReject:
		sub.VerifierID = &reviewer
		sub.VerificationDate = &now
		sub.ReviewComments = cmd.Message
		sub.ReviewDate = &now
	case ActionSendBack:
		// The reviewer is released; comments and date tell the submitter what to fix.
		sub.ReviewerID = nil
		sub.ReviewComments = cmd.Message
		sub.ReviewDate = &now
	}
}

func checkIssuedCredit(cmd VerifierActionCommand) error {
	if cmd.IssuedCredit == nil {
		if cmd.Action == ActionConfirm {
			return appErrors.Clone(appErrors.ErrValidation, "confirm requires issuedCredit greater than zero")
		}
		return nil
	}
	if cmd.Action != ActionConfirm {
		return appErrors.Clonef(appErrors.ErrValidation, "issuedCredit is only accepted with confirm, not %s", cmd.Action)
	}
	amount := *cmd.IssuedCredit
	if !projects.ValidCredit(amount) {
		return appErrors.Clonef(appErrors.ErrValidation,
			"issuedCredit must be greater than 0 and below %g with at most %d decimal places",
			float64(projects.MaxCredit), projects.CreditScale).
			WithDetails(map[string]any{"issuedCredit": amount})
	}
	return nil
}

func checkVersion(sub *projects.Submission, expected int64) error {
	if expected == 0 || sub.Version == expected {
		return nil
	}
	return appErrors.Clone(appErrors.ErrConflict, "submission was changed by someone else; reload and retry").
		WithDetails(map[string]any{"current_version": sub.Version, "expected_version": expected})
}

// checkReplay accepts a retry of an action that already took effect. A
// confirm retry must carry the amount that was issued.
func checkReplay(sub *projects.Submission, cmd VerifierActionCommand) error {
	if cmd.Action != ActionConfirm {
		return nil
	}
	if sub.IssuedCredit == nil || *sub.IssuedCredit != *cmd.IssuedCredit {
		issued := any(nil)
		if sub.IssuedCredit != nil {
			issued = *sub.IssuedCredit
		}
		return appErrors.Clone(appErrors.ErrConflict, "submission was already approved with a different issuedCredit").
			WithDetails(map[string]any{"issued_credit": issued, "requested_credit": *cmd.IssuedCredit})
	}
	return nil
}

func invalidTransition(status projects.SubmissionStatus, action Action) error {
	return appErrors.Clonef(appErrors.ErrInvalidTransition, "cannot %s a submission in %s", action, status).
		WithDetails(map[string]any{
			"current_status":  status,
			"action":          action,
			"allowed_actions": AllowedActions(status),
		})
}

func findEntry(ctx context.Context, tx store.Tx, submissionID uuid.UUID) (*ledger.Entry, error) {
	entry, err := tx.Ledger().GetBySubmission(ctx, submissionID)
	if errors.Is(err, ledger.ErrNotFound) {
		return nil, nil
	}
	return entry, err
}

func historyRow(sub *projects.Submission, action string, from *projects.SubmissionStatus, actorID string, message *string, now time.Time) *projects.StatusHistory {
	return &projects.StatusHistory{
		ID:                 uuid.New(),
		SubmissionID:       sub.ID,
		Action:             action,
		FromStatus:         from,
		ToStatus:           sub.SubmissionStatus,
		VerificationStatus: sub.VerificationStatus,
		ActorID:            actorID,
		Message:            message,
		Version:            sub.Version,
		CreatedAt:          now,
	}
}

// mapStoreError turns repository failures into the workflow's error kinds.
func mapStoreError(op string, err error) error {
	var appErr *appErrors.Error
	switch {
	case errors.As(err, &appErr):
		return err
	case errors.Is(err, projects.ErrNotFound):
		return appErrors.Clone(appErrors.ErrNotFound, "submission not found")
	case errors.Is(err, projects.ErrVersionMismatch):
		return appErrors.Clone(appErrors.ErrConflict, "submission was changed by someone else; reload and retry")
	case errors.Is(err, projects.ErrDuplicate), errors.Is(err, ledger.ErrDuplicate):
		return appErrors.Clone(appErrors.ErrConflict, "submission already exists")
	case errors.Is(err, ledger.ErrNotPending):
		return appErrors.Clone(appErrors.ErrConflict, "ledger entry was already settled")
	case errors.Is(err, ledger.ErrNotFound):
		return appErrors.Clone(appErrors.ErrInvalidState, "submission has no ledger entry")
	case errors.Is(err, projects.ErrOutOfRange), errors.Is(err, ledger.ErrOutOfRange):
		return appErrors.Clone(appErrors.ErrValidation, "credit amount is out of range")
	default:
		return appErrors.ErrStorageFailure.WithCause(fmt.Errorf("%s: %w", op, err))
	}
}

func viewKey(id uuid.UUID) string {
	return "submission:" + id.String()
}

type nopMetrics struct{}

func (nopMetrics) ObserveWorkflowAction(string, string) {}
func (nopMetrics) AddCreditsIssued(float64)             {}
