package notifications

import (
	"time"

	"github.com/google/uuid"

	"carbon-scribe/project-portal/registry-backend/internal/projects"
)

// EventType names a committed workflow change.
type EventType string

const (
	EventSubmissionCreated     EventType = "submission.created"
	EventSubmissionSubmitted   EventType = "submission.submitted"
	EventSubmissionUpdated     EventType = "submission.updated"
	EventSubmissionResubmitted EventType = "submission.resubmitted"
	EventReviewStarted         EventType = "submission.review_started"
	EventSubmissionApproved    EventType = "submission.approved"
	EventSubmissionRejected    EventType = "submission.rejected"
	EventSubmissionSentBack    EventType = "submission.sent_back"
)

// Event describes a submission change after it has been committed.
type Event struct {
	ID                 uuid.UUID                   `json:"id"`
	Type               EventType                   `json:"type"`
	SubmissionID       uuid.UUID                   `json:"submissionId"`
	SubmitterID        string                      `json:"submitterId"`
	OrganizationName   string                      `json:"organizationName"`
	SubmissionStatus   projects.SubmissionStatus   `json:"submissionStatus"`
	VerificationStatus projects.VerificationStatus `json:"verificationStatus"`
	IssuedCredit       *float64                    `json:"issuedCredit,omitempty"`
	ActorID            string                      `json:"actorId"`
	Message            *string                     `json:"message,omitempty"`
	Version            int64                       `json:"version"`
	OccurredAt         time.Time                   `json:"occurredAt"`
}

// NewEvent snapshots sub into an event of type t.
func NewEvent(t EventType, sub *projects.Submission, actorID string, message *string, at time.Time) Event {
	return Event{
		ID:                 uuid.New(),
		Type:               t,
		SubmissionID:       sub.ID,
		SubmitterID:        sub.SubmitterID,
		OrganizationName:   sub.OrganizationName,
		SubmissionStatus:   sub.SubmissionStatus,
		VerificationStatus: sub.VerificationStatus,
		IssuedCredit:       sub.IssuedCredit,
		ActorID:            actorID,
		Message:            message,
		Version:            sub.Version,
		OccurredAt:         at,
	}
}
