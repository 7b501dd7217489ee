package workflow

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/notifications"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
	"carbon-scribe/project-portal/registry-backend/internal/store"
	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
)

var (
	fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	submitter      = auth.Caller{ID: "sub-1", Role: auth.RoleSubmitter, Organization: "Mangrove Trust"}
	otherSubmitter = auth.Caller{ID: "sub-2", Role: auth.RoleSubmitter, Organization: "Reef Co"}
	verifier       = auth.Caller{ID: "ver-1", Role: auth.RoleVerifier}
	secondVerifier = auth.Caller{ID: "ver-2", Role: auth.RoleVerifier}
)

// MockPublisher is a mock implementation of notifications.Publisher
type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, event notifications.Event) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

func (m *MockPublisher) published() []notifications.EventType {
	var out []notifications.EventType
	for _, call := range m.Calls {
		out = append(out, call.Arguments.Get(1).(notifications.Event).Type)
	}
	return out
}

func newTestService(t *testing.T, st store.Store) (Service, *MockPublisher) {
	t.Helper()
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(nil).Maybe()
	svc := NewService(st, WithPublisher(pub), WithClock(func() time.Time { return fixedNow }))
	return svc, pub
}

func ptr[T any](v T) *T { return &v }

func submitBlue(t *testing.T, svc Service) *SubmissionView {
	t.Helper()
	view, err := svc.CreateSubmission(context.Background(), submitter, CreateSubmissionRequest{
		ProjectType:    projects.ProjectTypeBlue,
		ProposedCredit: 500,
	})
	require.NoError(t, err)
	return view
}

func act(t *testing.T, svc Service, caller auth.Caller, id uuid.UUID, action Action, amount *float64, message *string) *Result {
	t.Helper()
	res, err := svc.ApplyVerifierAction(context.Background(), caller, VerifierActionCommand{
		SubmissionID: id,
		Action:       action,
		IssuedCredit: amount,
		Message:      message,
	})
	require.NoError(t, err)
	return res
}

func ledgerEntry(t *testing.T, st store.Store, id uuid.UUID) *ledger.Entry {
	t.Helper()
	var entry *ledger.Entry
	require.NoError(t, st.View(context.Background(), func(tx store.Tx) error {
		var err error
		entry, err = tx.Ledger().GetBySubmission(context.Background(), id)
		return err
	}))
	return entry
}

func TestBlueCarbonSubmissionIsReviewedAndIssued(t *testing.T) {
	st := store.NewMemoryStore()
	svc, pub := newTestService(t, st)
	ctx := context.Background()

	created := submitBlue(t, svc)
	assert.Equal(t, projects.StatusSubmitted, created.SubmissionStatus)
	assert.Equal(t, projects.VerificationPending, created.VerificationStatus)
	assert.Equal(t, "Mangrove Trust", created.Submitter.Organization)
	require.NotNil(t, created.Ledger)
	assert.Equal(t, ledger.StatusPending, created.Ledger.Status)
	assert.Equal(t, 500.0, created.Ledger.PendingCredit)
	assert.Equal(t, []Action{ActionStart}, created.AllowedActions)

	started := act(t, svc, verifier, created.ID, ActionStart, nil, nil)
	assert.Equal(t, projects.StatusUnderReview, started.View.SubmissionStatus)
	assert.Equal(t, projects.VerificationInProgress, started.View.VerificationStatus)
	require.NotNil(t, started.View.ReviewerID)
	assert.Equal(t, verifier.ID, *started.View.ReviewerID)

	confirmed := act(t, svc, verifier, created.ID, ActionConfirm, ptr(480.0), nil)
	assert.False(t, confirmed.Replayed)
	assert.Equal(t, projects.StatusApproved, confirmed.View.SubmissionStatus)
	assert.Equal(t, projects.VerificationVerified, confirmed.View.VerificationStatus)
	require.NotNil(t, confirmed.View.IssuedCredit)
	assert.Equal(t, 480.0, *confirmed.View.IssuedCredit)
	require.NotNil(t, confirmed.View.VerificationDate)
	assert.Equal(t, fixedNow, *confirmed.View.VerificationDate)
	assert.Empty(t, confirmed.View.AllowedActions)

	entry := ledgerEntry(t, st, created.ID)
	assert.Equal(t, ledger.StatusIssued, entry.Status)
	require.NotNil(t, entry.IssuedCredit)
	assert.Equal(t, 480.0, *entry.IssuedCredit)
	assert.Equal(t, 500.0, entry.PendingCredit)

	history, err := svc.GetHistory(ctx, submitter, created.ID)
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, "create", history[0].Action)
	assert.Equal(t, "start", history[1].Action)
	assert.Equal(t, "confirm", history[2].Action)
	assert.Equal(t, projects.StatusApproved, history[2].ToStatus)

	assert.Equal(t, []notifications.EventType{
		notifications.EventSubmissionCreated,
		notifications.EventReviewStarted,
		notifications.EventSubmissionApproved,
	}, pub.published())
}

func TestConfirmRetryIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	svc, pub := newTestService(t, st)
	ctx := context.Background()

	created := submitBlue(t, svc)
	act(t, svc, verifier, created.ID, ActionStart, nil, nil)
	first := act(t, svc, verifier, created.ID, ActionConfirm, ptr(480.0), nil)

	retry := act(t, svc, verifier, created.ID, ActionConfirm, ptr(480.0), nil)
	assert.True(t, retry.Replayed)
	assert.Equal(t, first.View.Version, retry.View.Version)
	assert.Equal(t, projects.StatusApproved, retry.View.SubmissionStatus)
	assert.Equal(t, ledger.StatusIssued, retry.View.Ledger.Status)

	_, err := svc.ApplyVerifierAction(ctx, verifier, VerifierActionCommand{
		SubmissionID: created.ID, Action: ActionConfirm, IssuedCredit: ptr(300.0),
	})
	assert.ErrorIs(t, err, appErrors.ErrConflict)

	_, err = svc.ApplyVerifierAction(ctx, verifier, VerifierActionCommand{
		SubmissionID: created.ID, Action: ActionConfirm,
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	entry := ledgerEntry(t, st, created.ID)
	assert.Equal(t, 480.0, *entry.IssuedCredit)

	history, err := svc.GetHistory(ctx, verifier, created.ID)
	require.NoError(t, err)
	assert.Len(t, history, 3)

	approved := 0
	for _, typ := range pub.published() {
		if typ == notifications.EventSubmissionApproved {
			approved++
		}
	}
	assert.Equal(t, 1, approved)
}

func TestConfirmOnDraftIsInvalidTransition(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())

	draft, err := svc.CreateSubmission(context.Background(), submitter, CreateSubmissionRequest{
		ProjectType: projects.ProjectTypeGreen, ProposedCredit: 120, Draft: true,
	})
	require.NoError(t, err)
	assert.Nil(t, draft.Ledger)

	_, err = svc.ApplyVerifierAction(context.Background(), verifier, VerifierActionCommand{
		SubmissionID: draft.ID, Action: ActionConfirm, IssuedCredit: ptr(100.0),
	})
	require.ErrorIs(t, err, appErrors.ErrInvalidTransition)
	assert.Equal(t, "cannot confirm a submission in draft", appErrors.FromError(err).Message)
	assert.Equal(t, projects.StatusDraft, appErrors.FromError(err).Details["current_status"])
}

func TestIllegalActionsLeaveSubmissionUntouched(t *testing.T) {
	tests := []struct {
		name    string
		prepare []Action
		action  Action
		amount  *float64
		want    *appErrors.Error
	}{
		{name: "confirm before review", action: ActionConfirm, amount: ptr(10.0), want: appErrors.ErrInvalidTransition},
		{name: "reject before review", action: ActionReject, want: appErrors.ErrInvalidTransition},
		{name: "send back before review", action: ActionSendBack, want: appErrors.ErrInvalidTransition},
		{name: "start after approval", prepare: []Action{ActionStart, ActionConfirm}, action: ActionStart, want: appErrors.ErrInvalidTransition},
		{name: "reject after approval", prepare: []Action{ActionStart, ActionConfirm}, action: ActionReject, want: appErrors.ErrInvalidTransition},
		{name: "confirm after rejection", prepare: []Action{ActionStart, ActionReject}, action: ActionConfirm, amount: ptr(10.0), want: appErrors.ErrInvalidTransition},
		{name: "unknown action", action: Action("approve"), want: appErrors.ErrValidation},
		{name: "amount on start", action: ActionStart, amount: ptr(10.0), want: appErrors.ErrValidation},
		{name: "zero amount", prepare: []Action{ActionStart}, action: ActionConfirm, amount: ptr(0.0), want: appErrors.ErrValidation},
		{name: "NaN amount", prepare: []Action{ActionStart}, action: ActionConfirm, amount: ptr(math.NaN()), want: appErrors.ErrValidation},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := store.NewMemoryStore()
			svc, _ := newTestService(t, st)
			created := submitBlue(t, svc)
			for _, a := range tt.prepare {
				var amount *float64
				if a == ActionConfirm {
					amount = ptr(400.0)
				}
				act(t, svc, verifier, created.ID, a, amount, nil)
			}
			before, err := svc.GetSubmission(context.Background(), verifier, created.ID)
			require.NoError(t, err)

			_, err = svc.ApplyVerifierAction(context.Background(), verifier, VerifierActionCommand{
				SubmissionID: created.ID, Action: tt.action, IssuedCredit: tt.amount,
			})
			assert.ErrorIs(t, err, tt.want)

			after, err := svc.GetSubmission(context.Background(), verifier, created.ID)
			require.NoError(t, err)
			assert.Equal(t, before, after)
		})
	}
}

func TestRejectVoidsLedgerEntry(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st)

	created := submitBlue(t, svc)
	act(t, svc, verifier, created.ID, ActionStart, nil, nil)
	res := act(t, svc, verifier, created.ID, ActionReject, nil, ptr("baseline not additional"))

	assert.Equal(t, projects.StatusRejected, res.View.SubmissionStatus)
	assert.Equal(t, projects.VerificationRejected, res.View.VerificationStatus)
	assert.Equal(t, "baseline not additional", *res.View.ReviewComments)
	assert.Nil(t, res.View.IssuedCredit)
	assert.Equal(t, ledger.StatusVoid, ledgerEntry(t, st, created.ID).Status)

	again := act(t, svc, verifier, created.ID, ActionReject, nil, nil)
	assert.True(t, again.Replayed)
}

func TestSendBackThenReapplyClearsReview(t *testing.T) {
	st := store.NewMemoryStore()
	svc, pub := newTestService(t, st)
	ctx := context.Background()

	created := submitBlue(t, svc)
	act(t, svc, verifier, created.ID, ActionStart, nil, nil)
	sent := act(t, svc, verifier, created.ID, ActionSendBack, nil, ptr("add soil carbon samples"))
	assert.Equal(t, projects.StatusRequiresRevision, sent.View.SubmissionStatus)
	assert.Equal(t, projects.VerificationPending, sent.View.VerificationStatus)
	assert.Equal(t, "add soil carbon samples", *sent.View.ReviewComments)
	assert.Equal(t, fixedNow, *sent.View.ReviewDate)
	assert.Nil(t, sent.View.ReviewerID)

	res, err := svc.EditSubmission(ctx, submitter, EditCommand{
		SubmissionID: created.ID,
		Updates:      projects.SubmissionUpdate{ProposedCredit: ptr(450.0), Location: ptr("Sundarbans")},
		SetReapply:   true,
	})
	require.NoError(t, err)
	assert.Equal(t, projects.StatusSubmitted, res.View.SubmissionStatus)
	assert.Equal(t, projects.VerificationPending, res.View.VerificationStatus)
	assert.Nil(t, res.View.ReviewerID)
	assert.Nil(t, res.View.ReviewComments)
	assert.Nil(t, res.View.ReviewDate)
	assert.Equal(t, 450.0, res.View.ProposedCredit)
	assert.Equal(t, "Sundarbans", res.View.Location)

	entry := ledgerEntry(t, st, created.ID)
	assert.Equal(t, ledger.StatusPending, entry.Status)

	// a second review cycle is possible
	act(t, svc, secondVerifier, created.ID, ActionStart, nil, nil)
	final := act(t, svc, secondVerifier, created.ID, ActionConfirm, ptr(440.0), nil)
	assert.Equal(t, secondVerifier.ID, *final.View.VerifierID)

	assert.Contains(t, pub.published(), notifications.EventSubmissionSentBack)
	assert.Contains(t, pub.published(), notifications.EventSubmissionResubmitted)
}

func TestDraftEditThenSubmitCreatesLedgerEntry(t *testing.T) {
	st := store.NewMemoryStore()
	svc, pub := newTestService(t, st)
	ctx := context.Background()

	draft, err := svc.CreateSubmission(ctx, submitter, CreateSubmissionRequest{
		ProjectName: "Delta Seagrass", ProjectType: projects.ProjectTypeBlue, ProposedCredit: 80, Draft: true,
	})
	require.NoError(t, err)

	edited, err := svc.EditSubmission(ctx, submitter, EditCommand{
		SubmissionID:    draft.ID,
		Updates:         projects.SubmissionUpdate{ProposedCredit: ptr(90.0)},
		ExpectedVersion: draft.Version,
	})
	require.NoError(t, err)
	assert.Equal(t, projects.StatusDraft, edited.View.SubmissionStatus)
	assert.Nil(t, edited.View.Ledger)
	assert.Equal(t, draft.Version+1, edited.View.Version)

	submitted, err := svc.EditSubmission(ctx, submitter, EditCommand{SubmissionID: draft.ID, SetReapply: true})
	require.NoError(t, err)
	assert.Equal(t, projects.StatusSubmitted, submitted.View.SubmissionStatus)
	require.NotNil(t, submitted.View.Ledger)
	assert.Equal(t, 90.0, submitted.View.Ledger.PendingCredit)
	assert.NotNil(t, submitted.View.SubmittedAt)

	assert.Equal(t, []notifications.EventType{
		notifications.EventSubmissionCreated,
		notifications.EventSubmissionUpdated,
		notifications.EventSubmissionSubmitted,
	}, pub.published())
}

func TestConcurrentConfirmWithSameVersionHasOneWinner(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st)

	created := submitBlue(t, svc)
	started := act(t, svc, verifier, created.ID, ActionStart, nil, nil)

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i, caller := range []auth.Caller{verifier, secondVerifier} {
		wg.Add(1)
		go func(i int, caller auth.Caller) {
			defer wg.Done()
			_, errs[i] = svc.ApplyVerifierAction(context.Background(), caller, VerifierActionCommand{
				SubmissionID:    created.ID,
				Action:          ActionConfirm,
				IssuedCredit:    ptr(480.0),
				ExpectedVersion: started.View.Version,
			})
		}(i, caller)
	}
	wg.Wait()

	var ok, conflicts int
	for _, err := range errs {
		switch {
		case err == nil:
			ok++
		case errors.Is(err, appErrors.ErrConflict):
			conflicts++
		}
	}
	assert.Equal(t, 1, ok)
	assert.Equal(t, 1, conflicts)
	assert.Equal(t, 480.0, *ledgerEntry(t, st, created.ID).IssuedCredit)
}

func TestConcurrentConfirmWithDifferentAmountsIssuesOnce(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st)

	created := submitBlue(t, svc)
	act(t, svc, verifier, created.ID, ActionStart, nil, nil)

	var wg sync.WaitGroup
	amounts := []float64{480, 470}
	errs := make([]error, len(amounts))
	for i, amount := range amounts {
		wg.Add(1)
		go func(i int, amount float64) {
			defer wg.Done()
			_, errs[i] = svc.ApplyVerifierAction(context.Background(), verifier, VerifierActionCommand{
				SubmissionID: created.ID, Action: ActionConfirm, IssuedCredit: ptr(amount),
			})
		}(i, amount)
	}
	wg.Wait()

	winner := -1
	for i, err := range errs {
		if err == nil {
			require.Equal(t, -1, winner, "both confirms succeeded")
			winner = i
			continue
		}
		assert.ErrorIs(t, err, appErrors.ErrConflict)
	}
	require.NotEqual(t, -1, winner)
	assert.Equal(t, amounts[winner], *ledgerEntry(t, st, created.ID).IssuedCredit)
}

func TestStaleExpectedVersionIsConflict(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	created := submitBlue(t, svc)
	act(t, svc, verifier, created.ID, ActionStart, nil, nil)

	_, err := svc.ApplyVerifierAction(context.Background(), verifier, VerifierActionCommand{
		SubmissionID: created.ID, Action: ActionSendBack, ExpectedVersion: created.Version,
	})
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, int64(2), appErrors.FromError(err).Details["current_version"])
}

func TestAuthorization(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	created := submitBlue(t, svc)

	_, err := svc.ApplyVerifierAction(ctx, submitter, VerifierActionCommand{SubmissionID: created.ID, Action: ActionStart})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.CreateSubmission(ctx, verifier, CreateSubmissionRequest{
		OrganizationName: "Audit Ltd", ProjectType: projects.ProjectTypeTeal, ProposedCredit: 1,
	})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.GetSubmission(ctx, otherSubmitter, created.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.GetHistory(ctx, otherSubmitter, created.ID)
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.EditSubmission(ctx, otherSubmitter, EditCommand{
		SubmissionID: created.ID, Updates: projects.SubmissionUpdate{Location: ptr("elsewhere")},
	})
	assert.ErrorIs(t, err, appErrors.ErrForbidden)

	_, err = svc.GetSubmission(ctx, verifier, created.ID)
	assert.NoError(t, err)

	_, err = svc.GetSubmission(ctx, verifier, uuid.New())
	assert.ErrorIs(t, err, appErrors.ErrNotFound)

	_, err = svc.ApplyVerifierAction(ctx, verifier, VerifierActionCommand{SubmissionID: uuid.New(), Action: ActionStart})
	assert.ErrorIs(t, err, appErrors.ErrNotFound)
}

func TestEditOutsideEditableStatusIsInvalidState(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	created := submitBlue(t, svc)

	_, err := svc.EditSubmission(ctx, submitter, EditCommand{
		SubmissionID: created.ID, Updates: projects.SubmissionUpdate{Location: ptr("Mekong")},
	})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	act(t, svc, verifier, created.ID, ActionStart, nil, nil)
	_, err = svc.EditSubmission(ctx, submitter, EditCommand{SubmissionID: created.ID, SetReapply: true})
	assert.ErrorIs(t, err, appErrors.ErrInvalidState)

	_, err = svc.EditSubmission(ctx, submitter, EditCommand{SubmissionID: created.ID})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestConfirmRetryWithFractionalAmountIsIdempotent(t *testing.T) {
	st := store.NewMemoryStore()
	svc, _ := newTestService(t, st)
	ctx := context.Background()

	created := submitBlue(t, svc)
	act(t, svc, verifier, created.ID, ActionStart, nil, nil)

	_, err := svc.ApplyVerifierAction(ctx, verifier, VerifierActionCommand{
		SubmissionID: created.ID, Action: ActionConfirm, IssuedCredit: ptr(480.12345),
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Equal(t, ledger.StatusPending, ledgerEntry(t, st, created.ID).Status)

	first := act(t, svc, verifier, created.ID, ActionConfirm, ptr(480.1235), nil)
	assert.Equal(t, 480.1235, *first.View.IssuedCredit)

	retry := act(t, svc, verifier, created.ID, ActionConfirm, ptr(480.1235), nil)
	assert.True(t, retry.Replayed)
	assert.Equal(t, 480.1235, *ledgerEntry(t, st, created.ID).IssuedCredit)
}

func TestCreditAmountsMustFitLedgerColumns(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	for _, amount := range []float64{1e10, 2.5e12, 10.00001, math.Inf(1)} {
		_, err := svc.CreateSubmission(ctx, submitter, CreateSubmissionRequest{
			ProjectType: projects.ProjectTypeBlue, ProposedCredit: amount,
		})
		require.ErrorIs(t, err, appErrors.ErrValidation, "amount %v", amount)
		assert.Contains(t, appErrors.FromError(err).Details, "proposedCredit")
	}

	created := submitBlue(t, svc)
	act(t, svc, verifier, created.ID, ActionStart, nil, nil)
	_, err := svc.ApplyVerifierAction(ctx, verifier, VerifierActionCommand{
		SubmissionID: created.ID, Action: ActionConfirm, IssuedCredit: ptr(1e10),
	})
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestStoreRangeErrorIsValidation(t *testing.T) {
	err := mapStoreError("issue", fmt.Errorf("issue: %w", ledger.ErrOutOfRange))
	assert.ErrorIs(t, err, appErrors.ErrValidation)

	err = mapStoreError("create", projects.ErrOutOfRange)
	assert.ErrorIs(t, err, appErrors.ErrValidation)
}

func TestBlankNamesAreRejectedOnEdit(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	draft, err := svc.CreateSubmission(ctx, submitter, CreateSubmissionRequest{
		ProjectType: projects.ProjectTypeGreen, ProposedCredit: 120, Draft: true,
	})
	require.NoError(t, err)

	_, err = svc.EditSubmission(ctx, submitter, EditCommand{
		SubmissionID: draft.ID,
		Updates:      projects.SubmissionUpdate{OrganizationName: ptr("   ")},
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "organizationName")

	res, err := svc.EditSubmission(ctx, submitter, EditCommand{
		SubmissionID: draft.ID,
		Updates:      projects.SubmissionUpdate{ProjectName: ptr("  Peat Rewetting ")},
	})
	require.NoError(t, err)
	assert.Equal(t, "Peat Rewetting", res.View.ProjectName)
	assert.Equal(t, "Mangrove Trust", res.View.OrganizationName)
}

func TestCreateValidation(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()

	_, err := svc.CreateSubmission(ctx, submitter, CreateSubmissionRequest{ProjectType: "purple", ProposedCredit: 10})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "projectType")

	_, err = svc.CreateSubmission(ctx, submitter, CreateSubmissionRequest{ProjectType: projects.ProjectTypeBlue, ProposedCredit: -1})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "proposedCredit")

	_, err = svc.CreateSubmission(ctx, auth.Caller{ID: "anon", Role: auth.RoleSubmitter}, CreateSubmissionRequest{
		ProjectType: projects.ProjectTypeBlue, ProposedCredit: 10,
	})
	require.ErrorIs(t, err, appErrors.ErrValidation)
	assert.Contains(t, appErrors.FromError(err).Details, "organizationName")
}

func TestDuplicateSubmissionIsConflict(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	req := CreateSubmissionRequest{ProjectName: "Sundarbans Mangroves", ProjectType: projects.ProjectTypeBlue, ProposedCredit: 500}

	first, err := svc.CreateSubmission(ctx, submitter, req)
	require.NoError(t, err)

	req.ProjectName = "sundarbans mangroves"
	_, err = svc.CreateSubmission(ctx, submitter, req)
	require.ErrorIs(t, err, appErrors.ErrConflict)
	assert.Equal(t, first.ID.String(), appErrors.FromError(err).Details["existing_id"])
}

func TestListScopesSubmittersToOwnSubmissions(t *testing.T) {
	svc, _ := newTestService(t, store.NewMemoryStore())
	ctx := context.Background()
	submitBlue(t, svc)
	submitBlue(t, svc)
	_, err := svc.CreateSubmission(ctx, otherSubmitter, CreateSubmissionRequest{
		ProjectType: projects.ProjectTypeGreen, ProposedCredit: 12,
	})
	require.NoError(t, err)

	own, err := svc.ListSubmissions(ctx, submitter, projects.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 2, own.Total)

	all, err := svc.ListSubmissions(ctx, verifier, projects.ListFilter{})
	require.NoError(t, err)
	assert.Equal(t, 3, all.Total)
	assert.Equal(t, projects.DefaultPageSize, all.Limit)

	green := projects.ProjectTypeGreen
	filtered, err := svc.ListSubmissions(ctx, verifier, projects.ListFilter{ProjectType: &green})
	require.NoError(t, err)
	assert.Equal(t, 1, filtered.Total)
}

// faultyStore fails selected ledger writes inside otherwise healthy units of work.
type faultyStore struct {
	*store.MemoryStore
	err error
}

func (f faultyStore) RunInTx(ctx context.Context, fn func(tx store.Tx) error) error {
	return f.MemoryStore.RunInTx(ctx, func(tx store.Tx) error {
		return fn(faultyTx{Tx: tx, err: f.err})
	})
}

type faultyTx struct {
	store.Tx
	err error
}

func (t faultyTx) Ledger() ledger.Repository { return faultyLedger{Repository: t.Tx.Ledger(), err: t.err} }

type faultyLedger struct {
	ledger.Repository
	err error
}

func (l faultyLedger) Create(context.Context, *ledger.Entry) error { return l.err }

func (l faultyLedger) Issue(context.Context, uuid.UUID, float64, time.Time) (*ledger.Entry, error) {
	return nil, l.err
}

func TestLedgerFailureRollsBackSubmission(t *testing.T) {
	mem := store.NewMemoryStore()
	healthy, _ := newTestService(t, mem)
	broken, pub := newTestService(t, faultyStore{MemoryStore: mem, err: errors.New("disk full")})
	ctx := context.Background()

	_, err := broken.CreateSubmission(ctx, submitter, CreateSubmissionRequest{
		ProjectType: projects.ProjectTypeBlue, ProposedCredit: 500,
	})
	require.ErrorIs(t, err, appErrors.ErrStorageFailure)

	page, err := healthy.ListSubmissions(ctx, verifier, projects.ListFilter{})
	require.NoError(t, err)
	assert.Zero(t, page.Total)

	created := submitBlue(t, healthy)
	act(t, healthy, verifier, created.ID, ActionStart, nil, nil)

	_, err = broken.ApplyVerifierAction(ctx, verifier, VerifierActionCommand{
		SubmissionID: created.ID, Action: ActionConfirm, IssuedCredit: ptr(480.0),
	})
	require.ErrorIs(t, err, appErrors.ErrStorageFailure)

	view, err := healthy.GetSubmission(ctx, verifier, created.ID)
	require.NoError(t, err)
	assert.Equal(t, projects.StatusUnderReview, view.SubmissionStatus)
	assert.Nil(t, view.IssuedCredit)
	assert.Equal(t, ledger.StatusPending, view.Ledger.Status)
	assert.Empty(t, pub.published())
}

func TestPublishFailureDoesNotUndoChange(t *testing.T) {
	st := store.NewMemoryStore()
	pub := &MockPublisher{}
	pub.On("Publish", mock.Anything, mock.Anything).Return(errors.New("topic unavailable"))
	svc := NewService(st, WithPublisher(pub))

	created := submitBlue(t, svc)
	res := act(t, svc, verifier, created.ID, ActionStart, nil, nil)
	assert.Equal(t, projects.StatusUnderReview, res.View.SubmissionStatus)
	pub.AssertNumberOfCalls(t, "Publish", 2)
}
