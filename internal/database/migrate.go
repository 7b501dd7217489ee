package database

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
)

// Models are the tables owned by the registry, in creation order.
var Models = []any{
	&projects.Submission{},
	&projects.StatusHistory{},
	&ledger.Entry{},
}

// statements gorm tags cannot express.
var statements = []string{
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_submissions_active_project
		ON submissions (submitter_id, lower(organization_name), lower(project_name), project_type)
		WHERE project_name <> '' AND submission_status NOT IN ('draft', 'rejected')`,
	`CREATE INDEX IF NOT EXISTS idx_status_history_submission_created
		ON submission_status_history (submission_id, created_at)`,
}

// Migrate creates or updates the schema on db's connection pool.
func Migrate(ctx context.Context, db *sqlx.DB, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	gdb, err := gorm.Open(postgres.New(postgres.Config{Conn: db.DB}), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return fmt.Errorf("open gorm: %w", err)
	}
	gdb = gdb.WithContext(ctx)

	if err := gdb.AutoMigrate(Models...); err != nil {
		return fmt.Errorf("failed to migrate database: %w", err)
	}
	for _, stmt := range statements {
		if err := gdb.Exec(stmt).Error; err != nil {
			return fmt.Errorf("failed to apply index: %w", err)
		}
	}

	logger.Info("Database migrated", zap.Int("tables", len(Models)))
	return nil
}
