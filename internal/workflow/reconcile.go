package workflow

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
	"carbon-scribe/project-portal/registry-backend/internal/store"
)

// Drift kinds reported by the reconciler.
const (
	DriftMissingEntry          = "missing_entry"
	DriftOrphanEntry           = "orphan_entry"
	DriftApprovedNotIssued     = "approved_not_issued"
	DriftIssuedAmountMismatch  = "issued_amount_mismatch"
	DriftIssuedWithoutApproval = "issued_without_approval"
	DriftRejectedNotVoid       = "rejected_not_void"
	DriftVoidWithoutRejection  = "void_without_rejection"
)

// DriftKinds lists every kind so gauges reset to zero between runs.
var DriftKinds = []string{
	DriftMissingEntry,
	DriftOrphanEntry,
	DriftApprovedNotIssued,
	DriftIssuedAmountMismatch,
	DriftIssuedWithoutApproval,
	DriftRejectedNotVoid,
	DriftVoidWithoutRejection,
}

// Finding is one disagreement between a submission and its ledger entry.
type Finding struct {
	Kind         string    `json:"kind"`
	SubmissionID uuid.UUID `json:"submissionId"`
	Detail       string    `json:"detail"`
}

// ReconcileMetrics receives reconciliation results.
type ReconcileMetrics interface {
	SetReconcileFindings(counts map[string]int, kinds []string)
	ObserveReconcileRun(err error)
}

// Reconciler compares submissions against the ledger. It reports drift and
// never repairs it.
type Reconciler struct {
	store   store.Store
	logger  *zap.Logger
	metrics ReconcileMetrics
}

// NewReconciler creates a reconciler. metrics may be nil.
func NewReconciler(st store.Store, logger *zap.Logger, metrics ReconcileMetrics) *Reconciler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Reconciler{store: st, logger: logger, metrics: metrics}
}

// Run performs one pass.
func (r *Reconciler) Run(ctx context.Context) ([]Finding, error) {
	var (
		subs    []projects.Submission
		entries []ledger.Entry
	)
	err := r.store.View(ctx, func(tx store.Tx) error {
		var err error
		if subs, err = tx.Submissions().ListAll(ctx); err != nil {
			return err
		}
		entries, err = tx.Ledger().List(ctx, ledger.ListFilter{})
		return err
	})
	if err != nil {
		err = fmt.Errorf("load reconciliation snapshot: %w", err)
		if r.metrics != nil {
			r.metrics.ObserveReconcileRun(err)
		}
		r.logger.Error("Ledger reconciliation failed", zap.Error(err))
		return nil, err
	}

	findings := Reconcile(subs, entries)

	counts := make(map[string]int, len(DriftKinds))
	for _, f := range findings {
		counts[f.Kind]++
		r.logger.Warn("Ledger drift detected",
			zap.String("kind", f.Kind),
			zap.String("submission_id", f.SubmissionID.String()),
			zap.String("detail", f.Detail),
		)
	}
	if r.metrics != nil {
		r.metrics.SetReconcileFindings(counts, DriftKinds)
		r.metrics.ObserveReconcileRun(nil)
	}
	r.logger.Info("Ledger reconciliation finished",
		zap.Int("submissions", len(subs)),
		zap.Int("entries", len(entries)),
		zap.Int("findings", len(findings)),
	)
	return findings, nil
}

// Reconcile is the pure comparison behind Run.
func Reconcile(subs []projects.Submission, entries []ledger.Entry) []Finding {
	bySubmission := make(map[uuid.UUID]ledger.Entry, len(entries))
	for _, e := range entries {
		bySubmission[e.SubmissionID] = e
	}

	var findings []Finding
	add := func(kind string, id uuid.UUID, format string, args ...any) {
		findings = append(findings, Finding{Kind: kind, SubmissionID: id, Detail: fmt.Sprintf(format, args...)})
	}

	seen := make(map[uuid.UUID]struct{}, len(subs))
	for _, sub := range subs {
		seen[sub.ID] = struct{}{}
		entry, ok := bySubmission[sub.ID]
		if !ok {
			if sub.SubmissionStatus != projects.StatusDraft {
				add(DriftMissingEntry, sub.ID, "submission in %s has no ledger entry", sub.SubmissionStatus)
			}
			continue
		}

		switch sub.SubmissionStatus {
		case projects.StatusApproved:
			switch {
			case entry.Status != ledger.StatusIssued:
				add(DriftApprovedNotIssued, sub.ID, "approved submission has %s ledger entry", entry.Status)
			case sub.IssuedCredit == nil || entry.IssuedCredit == nil || *sub.IssuedCredit != *entry.IssuedCredit:
				add(DriftIssuedAmountMismatch, sub.ID, "submission issued %s, ledger issued %s",
					formatCredit(sub.IssuedCredit), formatCredit(entry.IssuedCredit))
			}
		case projects.StatusRejected:
			if entry.Status != ledger.StatusVoid {
				add(DriftRejectedNotVoid, sub.ID, "rejected submission has %s ledger entry", entry.Status)
			}
		default:
			switch entry.Status {
			case ledger.StatusIssued:
				add(DriftIssuedWithoutApproval, sub.ID, "ledger issued credits for a submission in %s", sub.SubmissionStatus)
			case ledger.StatusVoid:
				add(DriftVoidWithoutRejection, sub.ID, "ledger voided a submission in %s", sub.SubmissionStatus)
			}
		}
	}

	for _, e := range entries {
		if _, ok := seen[e.SubmissionID]; !ok {
			add(DriftOrphanEntry, e.SubmissionID, "ledger entry %s has no submission", e.ID)
		}
	}
	return findings
}

func formatCredit(v *float64) string {
	if v == nil {
		return "nothing"
	}
	return fmt.Sprintf("%g", *v)
}
