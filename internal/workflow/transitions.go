package workflow

import (
	"fmt"

	"carbon-scribe/project-portal/registry-backend/internal/notifications"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
	"carbon-scribe/project-portal/registry-backend/pkg/workflows"
)

// Action is a verifier command.
type Action string

const (
	ActionStart    Action = "start"
	ActionConfirm  Action = "confirm"
	ActionReject   Action = "reject"
	ActionSendBack Action = "send_back"
)

// Actions lists every verifier action.
var Actions = []Action{ActionStart, ActionConfirm, ActionReject, ActionSendBack}

// IsValid reports whether a is a known action.
func (a Action) IsValid() bool {
	for _, known := range Actions {
		if a == known {
			return true
		}
	}
	return false
}

// LedgerEffect is what a transition does to the submission's ledger entry.
type LedgerEffect int

const (
	LedgerUnchanged LedgerEffect = iota
	LedgerIssue
	LedgerVoid
)

// Effect is the payload of a transition row.
type Effect struct {
	Verification projects.VerificationStatus
	Ledger       LedgerEffect
	Event        notifications.EventType
}

type transition = workflows.Transition[projects.SubmissionStatus, Action, Effect]

// verifierTransitions is the complete table of legal verifier actions. Any
// (status, action) pair absent here is an InvalidTransition.
var verifierTransitions = workflows.MustNewStateMachine(projects.SubmissionStatuses, Actions,
	transition{
		From: projects.StatusSubmitted, Event: ActionStart, To: projects.StatusUnderReview,
		Effect: Effect{Verification: projects.VerificationInProgress, Event: notifications.EventReviewStarted},
	},
	transition{
		From: projects.StatusUnderReview, Event: ActionConfirm, To: projects.StatusApproved,
		Effect: Effect{Verification: projects.VerificationVerified, Ledger: LedgerIssue, Event: notifications.EventSubmissionApproved},
	},
	transition{
		From: projects.StatusUnderReview, Event: ActionReject, To: projects.StatusRejected,
		Effect: Effect{Verification: projects.VerificationRejected, Ledger: LedgerVoid, Event: notifications.EventSubmissionRejected},
	},
	transition{
		From: projects.StatusUnderReview, Event: ActionSendBack, To: projects.StatusRequiresRevision,
		Effect: Effect{Verification: projects.VerificationPending, Event: notifications.EventSubmissionSentBack},
	},
)

// settledBy maps each action to the state it leaves a submission in, which is
// how a retried action is recognised.
var settledBy = buildSettled()

type settledState struct {
	status       projects.SubmissionStatus
	verification projects.VerificationStatus
}

func buildSettled() map[Action]settledState {
	settled := make(map[Action]settledState, len(Actions))
	verifierTransitions.Walk(func(_ projects.SubmissionStatus, a Action, t transition, legal bool) {
		if !legal {
			return
		}
		s := settledState{status: t.To, verification: t.Effect.Verification}
		if prev, dup := settled[a]; dup && prev != s {
			panic(fmt.Sprintf("action %s settles into two different states", a))
		}
		settled[a] = s
	})
	for _, a := range Actions {
		if _, ok := settled[a]; !ok {
			panic(fmt.Sprintf("action %s has no legal transition", a))
		}
	}
	return settled
}

// lookupTransition returns the row for (status, action).
func lookupTransition(status projects.SubmissionStatus, action Action) (transition, bool) {
	return verifierTransitions.Lookup(status, action)
}

// isSettled reports whether sub already reflects a successful action.
func isSettled(sub *projects.Submission, action Action) bool {
	s, ok := settledBy[action]
	return ok && sub.SubmissionStatus == s.status && sub.VerificationStatus == s.verification
}

// AllowedActions returns the verifier actions legal in status.
func AllowedActions(status projects.SubmissionStatus) []Action {
	return verifierTransitions.GetAllowedEvents(status)
}
