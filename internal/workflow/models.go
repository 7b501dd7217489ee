package workflow

import (
	"github.com/google/uuid"
	"gorm.io/datatypes"

	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
)

// CreateSubmissionRequest is the body of POST /projects.
type CreateSubmissionRequest struct {
	OrganizationName string               `json:"organizationName" validate:"required,max=200"`
	ProjectName      string               `json:"projectName" validate:"max=200"`
	ProjectType      projects.ProjectType `json:"projectType" validate:"required,project_type"`
	ProposedCredit   float64              `json:"proposedCredit" validate:"credit"`
	Description      string               `json:"description" validate:"max=4000"`
	Location         string               `json:"location" validate:"max=500"`
	Methodology      string               `json:"methodology" validate:"max=200"`
	Details          datatypes.JSON       `json:"details"`
	// Draft stores the submission without entering review.
	Draft bool `json:"draft"`
}

// VerifierActionCommand asks the engine to move a submission through review.
type VerifierActionCommand struct {
	SubmissionID uuid.UUID
	Action       Action
	IssuedCredit *float64
	Message      *string
	// ExpectedVersion, when non-zero, must match the stored version.
	ExpectedVersion int64
}

// EditCommand is a submitter edit, optionally re-entering review.
type EditCommand struct {
	SubmissionID    uuid.UUID
	Updates         projects.SubmissionUpdate
	SetReapply      bool
	ExpectedVersion int64
}

// SubmitterIdentity is the submitter as shown to readers of a submission.
type SubmitterIdentity struct {
	ID           string `json:"id"`
	Organization string `json:"organization"`
}

// SubmissionView is a submission with its ledger entry and the verifier
// actions currently legal on it.
type SubmissionView struct {
	projects.Submission
	Submitter      SubmitterIdentity `json:"submitter"`
	Ledger         *ledger.Entry     `json:"ledger,omitempty"`
	AllowedActions []Action          `json:"allowedActions"`
}

func newView(sub *projects.Submission, entry *ledger.Entry) *SubmissionView {
	allowed := AllowedActions(sub.SubmissionStatus)
	if allowed == nil {
		allowed = []Action{}
	}
	return &SubmissionView{
		Submission:     *sub,
		Submitter:      SubmitterIdentity{ID: sub.SubmitterID, Organization: sub.OrganizationName},
		Ledger:         entry,
		AllowedActions: allowed,
	}
}

// CacheVersion orders cached copies of the view.
func (v *SubmissionView) CacheVersion() int64 { return v.Version }

// Result is returned by mutating operations. Replayed is true when the
// command matched an action that had already been applied.
type Result struct {
	View     *SubmissionView `json:"submission"`
	Replayed bool            `json:"replayed"`
}

// SubmissionPage is one page of a submission listing.
type SubmissionPage struct {
	Items []projects.Submission
	Page  int
	Limit int
	Total int
}
