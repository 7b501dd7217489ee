// Package store provides the unit of work shared by the submission store and
// the credit ledger, so that a submission and its ledger entry change together.
package store

import (
	"context"

	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
)

// Tx exposes both repositories bound to one unit of work.
type Tx interface {
	Submissions() projects.Repository
	Ledger() ledger.Repository
}

// Store is handed to the workflow engine at construction.
type Store interface {
	// RunInTx runs fn in a transaction. Nothing fn wrote is visible to anyone
	// if fn returns an error.
	RunInTx(ctx context.Context, fn func(tx Tx) error) error
	// View runs fn against a consistent read-only snapshot of both stores.
	View(ctx context.Context, fn func(tx Tx) error) error
	Ping(ctx context.Context) error
}
