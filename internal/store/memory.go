package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
)

// MemoryStore keeps everything in process. Units of work are serialized by a
// single lock and rolled back by restoring a snapshot taken before fn runs.
type MemoryStore struct {
	mu    sync.RWMutex
	state *memState
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: newMemState()}
}

type memState struct {
	submissions map[uuid.UUID]projects.Submission
	history     map[uuid.UUID][]projects.StatusHistory
	entries     map[uuid.UUID]ledger.Entry // keyed by submission id
}

func newMemState() *memState {
	return &memState{
		submissions: make(map[uuid.UUID]projects.Submission),
		history:     make(map[uuid.UUID][]projects.StatusHistory),
		entries:     make(map[uuid.UUID]ledger.Entry),
	}
}

func (s *memState) clone() *memState {
	c := newMemState()
	for k, v := range s.submissions {
		c.submissions[k] = v
	}
	for k, v := range s.history {
		c.history[k] = append([]projects.StatusHistory(nil), v...)
	}
	for k, v := range s.entries {
		c.entries[k] = v
	}
	return c
}

type memTx struct {
	state *memState
}

func (t memTx) Submissions() projects.Repository { return memSubmissions{t.state} }
func (t memTx) Ledger() ledger.Repository        { return memLedger{t.state} }

// RunInTx runs fn under the write lock and discards its writes on error.
func (m *MemoryStore) RunInTx(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	snapshot := m.state.clone()
	if err := fn(memTx{state: m.state}); err != nil {
		m.state = snapshot
		return err
	}
	return nil
}

// View runs fn under the read lock.
func (m *MemoryStore) View(ctx context.Context, fn func(tx Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(memTx{state: m.state})
}

// Ping always succeeds.
func (m *MemoryStore) Ping(context.Context) error { return nil }

type memSubmissions struct {
	s *memState
}

func (r memSubmissions) Create(_ context.Context, sub *projects.Submission) error {
	if _, exists := r.s.submissions[sub.ID]; exists {
		return projects.ErrDuplicate
	}
	sub.Details = projects.NormalizeDetails(sub.Details)
	r.s.submissions[sub.ID] = *sub
	return nil
}

func (r memSubmissions) GetByID(_ context.Context, id uuid.UUID) (*projects.Submission, error) {
	sub, ok := r.s.submissions[id]
	if !ok {
		return nil, projects.ErrNotFound
	}
	return &sub, nil
}

func (r memSubmissions) GetForUpdate(ctx context.Context, id uuid.UUID) (*projects.Submission, error) {
	return r.GetByID(ctx, id)
}

func (r memSubmissions) Update(_ context.Context, sub *projects.Submission, expectedVersion int64) error {
	current, ok := r.s.submissions[sub.ID]
	if !ok || current.Version != expectedVersion {
		return projects.ErrVersionMismatch
	}
	updated := *sub
	updated.Details = projects.NormalizeDetails(updated.Details)
	updated.SubmitterID = current.SubmitterID
	updated.CreatedAt = current.CreatedAt
	updated.Version = expectedVersion + 1
	r.s.submissions[sub.ID] = updated
	sub.Version = updated.Version
	return nil
}

func (r memSubmissions) List(_ context.Context, filter projects.ListFilter) ([]projects.Submission, int, error) {
	filter.Normalize()

	matched := []projects.Submission{}
	for _, sub := range r.s.submissions {
		if filter.Status != nil && sub.SubmissionStatus != *filter.Status {
			continue
		}
		if filter.ProjectType != nil && sub.ProjectType != *filter.ProjectType {
			continue
		}
		if filter.SubmitterID != "" && sub.SubmitterID != filter.SubmitterID {
			continue
		}
		matched = append(matched, sub)
	}
	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID.String() < matched[j].ID.String()
	})

	total := len(matched)
	start := filter.Offset()
	if start >= total {
		return []projects.Submission{}, total, nil
	}
	end := start + filter.Limit
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r memSubmissions) ListAll(_ context.Context) ([]projects.Submission, error) {
	all := make([]projects.Submission, 0, len(r.s.submissions))
	for _, sub := range r.s.submissions {
		all = append(all, sub)
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].CreatedAt.Before(all[j].CreatedAt)
		}
		return all[i].ID.String() < all[j].ID.String()
	})
	return all, nil
}

func (r memSubmissions) FindDuplicate(_ context.Context, sub *projects.Submission) (*uuid.UUID, error) {
	for id, other := range r.s.submissions {
		if id == sub.ID || other.SubmitterID != sub.SubmitterID || other.ProjectType != sub.ProjectType {
			continue
		}
		if other.SubmissionStatus == projects.StatusDraft || other.SubmissionStatus == projects.StatusRejected {
			continue
		}
		if strings.EqualFold(other.OrganizationName, sub.OrganizationName) &&
			strings.EqualFold(other.ProjectName, sub.ProjectName) {
			dup := id
			return &dup, nil
		}
	}
	return nil, nil
}

func (r memSubmissions) AppendHistory(_ context.Context, entry *projects.StatusHistory) error {
	r.s.history[entry.SubmissionID] = append(r.s.history[entry.SubmissionID], *entry)
	return nil
}

func (r memSubmissions) ListHistory(_ context.Context, submissionID uuid.UUID) ([]projects.StatusHistory, error) {
	return append([]projects.StatusHistory{}, r.s.history[submissionID]...), nil
}

type memLedger struct {
	s *memState
}

func (r memLedger) Create(_ context.Context, entry *ledger.Entry) error {
	if _, exists := r.s.entries[entry.SubmissionID]; exists {
		return ledger.ErrDuplicate
	}
	r.s.entries[entry.SubmissionID] = *entry
	return nil
}

func (r memLedger) GetBySubmission(_ context.Context, submissionID uuid.UUID) (*ledger.Entry, error) {
	entry, ok := r.s.entries[submissionID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	return &entry, nil
}

func (r memLedger) Issue(_ context.Context, submissionID uuid.UUID, amount float64, at time.Time) (*ledger.Entry, error) {
	return r.settle(submissionID, func(e *ledger.Entry) {
		e.Status = ledger.StatusIssued
		e.IssuedCredit = &amount
		e.IssuedAt = &at
		e.UpdatedAt = at
	})
}

func (r memLedger) Void(_ context.Context, submissionID uuid.UUID, at time.Time) (*ledger.Entry, error) {
	return r.settle(submissionID, func(e *ledger.Entry) {
		e.Status = ledger.StatusVoid
		e.VoidedAt = &at
		e.UpdatedAt = at
	})
}

func (r memLedger) settle(submissionID uuid.UUID, mutate func(e *ledger.Entry)) (*ledger.Entry, error) {
	entry, ok := r.s.entries[submissionID]
	if !ok {
		return nil, ledger.ErrNotFound
	}
	if entry.Status != ledger.StatusPending {
		return nil, ledger.ErrNotPending
	}
	mutate(&entry)
	r.s.entries[submissionID] = entry
	return &entry, nil
}

func (r memLedger) List(_ context.Context, filter ledger.ListFilter) ([]ledger.Entry, error) {
	entries := []ledger.Entry{}
	for _, e := range r.s.entries {
		if filter.Status != nil && e.Status != *filter.Status {
			continue
		}
		if filter.SubmitterID != "" && e.SubmitterID != filter.SubmitterID {
			continue
		}
		entries = append(entries, e)
	}
	sort.Slice(entries, func(i, j int) bool {
		if !entries[i].CreatedAt.Equal(entries[j].CreatedAt) {
			return entries[i].CreatedAt.Before(entries[j].CreatedAt)
		}
		return entries[i].ID.String() < entries[j].ID.String()
	})

	if filter.Limit > 0 {
		if filter.Offset >= len(entries) {
			return []ledger.Entry{}, nil
		}
		end := filter.Offset + filter.Limit
		if end > len(entries) {
			end = len(entries)
		}
		entries = entries[filter.Offset:end]
	}
	return entries, nil
}
