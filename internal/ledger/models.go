package ledger

import (
	"time"

	"github.com/google/uuid"
)

// Status of a credit ledger entry. Entries only ever leave pending.
type Status string

const (
	StatusPending Status = "pending"
	StatusIssued  Status = "issued"
	StatusVoid    Status = "void"
)

// IsValid reports whether s is a known ledger status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusIssued, StatusVoid:
		return true
	}
	return false
}

// Entry tracks proposed versus issued credits for exactly one submission.
type Entry struct {
	ID               uuid.UUID  `gorm:"type:uuid;primaryKey" db:"id" json:"id"`
	SubmissionID     uuid.UUID  `gorm:"type:uuid;not null;uniqueIndex" db:"submission_id" json:"submissionId"`
	SubmitterID      string     `gorm:"not null;index" db:"submitter_id" json:"submitterId"`
	OrganizationName string     `gorm:"not null" db:"organization_name" json:"organizationName"`
	PendingCredit    float64    `gorm:"type:numeric(14,4);not null" db:"pending_credit" json:"pendingCredit"`
	IssuedCredit     *float64   `gorm:"type:numeric(14,4)" db:"issued_credit" json:"issuedCredit,omitempty"`
	Status           Status     `gorm:"type:varchar(16);not null;index" db:"status" json:"status"`
	IssuedAt         *time.Time `db:"issued_at" json:"issuedAt,omitempty"`
	VoidedAt         *time.Time `db:"voided_at" json:"voidedAt,omitempty"`
	CreatedAt        time.Time  `gorm:"not null" db:"created_at" json:"createdAt"`
	UpdatedAt        time.Time  `gorm:"not null" db:"updated_at" json:"updatedAt"`
}

// TableName pins the table name used by migrations.
func (Entry) TableName() string { return "credit_ledger_entries" }

// NewPendingEntry builds the entry created when a submission is submitted.
func NewPendingEntry(submissionID uuid.UUID, submitterID, organization string, proposed float64, now time.Time) *Entry {
	return &Entry{
		ID:               uuid.New(),
		SubmissionID:     submissionID,
		SubmitterID:      submitterID,
		OrganizationName: organization,
		PendingCredit:    proposed,
		Status:           StatusPending,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}

// ListFilter narrows a ledger listing. A zero Limit returns every row.
type ListFilter struct {
	Status      *Status
	SubmitterID string
	Limit       int
	Offset      int
}

// Summary aggregates ledger totals by status.
type Summary struct {
	Entries       int     `json:"entries"`
	PendingCredit float64 `json:"pendingCredit"`
	IssuedCredit  float64 `json:"issuedCredit"`
	VoidCredit    float64 `json:"voidCredit"`
}

// Summarize totals entries.
func Summarize(entries []Entry) Summary {
	var s Summary
	for _, e := range entries {
		s.Entries++
		switch e.Status {
		case StatusPending:
			s.PendingCredit += e.PendingCredit
		case StatusIssued:
			if e.IssuedCredit != nil {
				s.IssuedCredit += *e.IssuedCredit
			}
		case StatusVoid:
			s.VoidCredit += e.PendingCredit
		}
	}
	return s
}
