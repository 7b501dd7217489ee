package projects

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
)

// SubmissionStatus is the lifecycle position of a submission.
type SubmissionStatus string

const (
	StatusDraft            SubmissionStatus = "draft"
	StatusSubmitted        SubmissionStatus = "submitted"
	StatusUnderReview      SubmissionStatus = "under_review"
	StatusApproved         SubmissionStatus = "approved"
	StatusRejected         SubmissionStatus = "rejected"
	StatusRequiresRevision SubmissionStatus = "requires_revision"
)

// SubmissionStatuses lists every submission status.
var SubmissionStatuses = []SubmissionStatus{
	StatusDraft,
	StatusSubmitted,
	StatusUnderReview,
	StatusApproved,
	StatusRejected,
	StatusRequiresRevision,
}

// IsValid reports whether s is a known status.
func (s SubmissionStatus) IsValid() bool {
	for _, known := range SubmissionStatuses {
		if s == known {
			return true
		}
	}
	return false
}

// IsEditable reports whether the submitter may change content in status s.
func (s SubmissionStatus) IsEditable() bool {
	return s == StatusDraft || s == StatusRequiresRevision
}

// VerificationStatus tracks the verifier's side of the review.
type VerificationStatus string

const (
	VerificationPending    VerificationStatus = "pending"
	VerificationInProgress VerificationStatus = "in_progress"
	VerificationVerified   VerificationStatus = "verified"
	VerificationRejected   VerificationStatus = "rejected"
)

// ProjectType is the carbon category of a project.
type ProjectType string

const (
	ProjectTypeGreen ProjectType = "green" // forestry and land use
	ProjectTypeBlue  ProjectType = "blue"  // coastal and marine ecosystems
	ProjectTypeTeal  ProjectType = "teal"  // freshwater wetlands
)

// ProjectTypes lists every accepted project type.
var ProjectTypes = []ProjectType{ProjectTypeGreen, ProjectTypeBlue, ProjectTypeTeal}

// IsValid reports whether t is a known project type.
func (t ProjectType) IsValid() bool {
	for _, known := range ProjectTypes {
		if t == known {
			return true
		}
	}
	return false
}

// Submission is one project proposal moving through review.
type Submission struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	SubmitterID        string             `gorm:"not null;index" db:"submitter_id" json:"submitterId"`
	OrganizationName   string             `gorm:"not null" db:"organization_name" json:"organizationName"`
	ProjectName        string             `gorm:"not null" db:"project_name" json:"projectName"`
	ProjectType        ProjectType        `gorm:"type:varchar(16);not null;index" db:"project_type" json:"projectType"`
	Description        string             `gorm:"not null;default:''" db:"description" json:"description"`
	Location           string             `gorm:"not null;default:''" db:"location" json:"location"`
	Methodology        string             `gorm:"not null;default:''" db:"methodology" json:"methodology"`
	ProposedCredit     float64            `gorm:"type:numeric(14,4);not null;check:proposed_credit > 0" db:"proposed_credit" json:"proposedCredit"`
	Details            datatypes.JSON     `gorm:"type:jsonb;not null;default:'{}'" db:"details" json:"details,omitempty"`
	SubmissionStatus   SubmissionStatus   `gorm:"type:varchar(32);not null;index" db:"submission_status" json:"submissionStatus"`
	VerificationStatus VerificationStatus `gorm:"type:varchar(32);not null" db:"verification_status" json:"verificationStatus"`
	ReviewerID         *string            `db:"reviewer_id" json:"reviewerId,omitempty"`
	ReviewComments     *string            `db:"review_comments" json:"reviewComments,omitempty"`
	ReviewDate         *time.Time         `db:"review_date" json:"reviewDate,omitempty"`
	VerifierID         *string            `db:"verifier_id" json:"verifierId,omitempty"`
	VerificationDate   *time.Time         `db:"verification_date" json:"verificationDate,omitempty"`
	IssuedCredit       *float64           `gorm:"type:numeric(14,4)" db:"issued_credit" json:"issuedCredit,omitempty"`
	Version            int64              `gorm:"not null;default:1" db:"version" json:"version"`
	SubmittedAt        *time.Time         `db:"submitted_at" json:"submittedAt,omitempty"`
	CreatedAt          time.Time          `gorm:"not null" db:"created_at" json:"createdAt"`
	UpdatedAt          time.Time          `gorm:"not null" db:"updated_at" json:"updatedAt"`
}

// TableName pins the table name used by migrations.
func (Submission) TableName() string { return "submissions" }

// ClearReview resets reviewer, comments and review date for a new review cycle.
func (s *Submission) ClearReview() {
	s.ReviewerID = nil
	s.ReviewComments = nil
	s.ReviewDate = nil
}

// StatusHistory is an append-only record of a submission change.
type StatusHistory struct {
	ID                 uuid.UUID          `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	SubmissionID       uuid.UUID          `gorm:"type:uuid;not null;index" db:"submission_id" json:"submissionId"`
	Action             string             `gorm:"type:varchar(32);not null" db:"action" json:"action"`
	FromStatus         *SubmissionStatus  `gorm:"type:varchar(32)" db:"from_status" json:"fromStatus,omitempty"`
	ToStatus           SubmissionStatus   `gorm:"type:varchar(32);not null" db:"to_status" json:"toStatus"`
	VerificationStatus VerificationStatus `gorm:"type:varchar(32);not null" db:"verification_status" json:"verificationStatus"`
	ActorID            string             `gorm:"not null" db:"actor_id" json:"actorId"`
	Message            *string            `db:"message" json:"message,omitempty"`
	Version            int64              `gorm:"not null" db:"version" json:"version"`
	CreatedAt          time.Time          `gorm:"not null" db:"created_at" json:"createdAt"`
}

// TableName pins the table name used by migrations.
func (StatusHistory) TableName() string { return "submission_status_history" }

// ListFilter narrows a submission listing.
type ListFilter struct {
	Status      *SubmissionStatus
	ProjectType *ProjectType
	SubmitterID string
	Page        int
	Limit       int
}

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// Normalize clamps paging to sane bounds.
func (f *ListFilter) Normalize() {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageSize
	}
	if f.Limit > MaxPageSize {
		f.Limit = MaxPageSize
	}
}

// Offset returns the row offset of the current page.
func (f ListFilter) Offset() int {
	return (f.Page - 1) * f.Limit
}
