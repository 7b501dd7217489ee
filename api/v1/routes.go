// Package v1 assembles the version 1 HTTP API.
package v1

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/monitoring"
	"carbon-scribe/project-portal/registry-backend/internal/notifications"
	streaming "carbon-scribe/project-portal/registry-backend/internal/notifications/websocket"
	"carbon-scribe/project-portal/registry-backend/internal/reports"
	"carbon-scribe/project-portal/registry-backend/internal/store"
	"carbon-scribe/project-portal/registry-backend/internal/workflow"
)

// Dependencies are the collaborators the API is built from. Publisher,
// Stream, Cache, Archive and Metrics are optional.
type Dependencies struct {
	Store     store.Store
	Tokens    *auth.TokenManager
	Publisher notifications.Publisher
	Stream    *streaming.Manager
	Cache     workflow.ViewCache
	Archive   reports.Archive
	Metrics   *monitoring.MetricsService
	Logger    *zap.Logger
}

// API holds the v1 services and handlers
type API struct {
	Workflow workflow.Service
	Reports  *reports.Service

	tokens          *auth.TokenManager
	authHandler     *auth.Handler
	workflowHandler *workflow.Handler
	reportsHandler  *reports.Handler
}

// Setup wires services and handlers from deps.
func Setup(deps Dependencies) *API {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	opts := []workflow.Option{workflow.WithLogger(logger)}
	if deps.Publisher != nil {
		opts = append(opts, workflow.WithPublisher(deps.Publisher))
	}
	if deps.Cache != nil {
		opts = append(opts, workflow.WithCache(deps.Cache))
	}
	if deps.Metrics != nil {
		opts = append(opts, workflow.WithMetrics(deps.Metrics))
	}

	workflowService := workflow.NewService(deps.Store, opts...)
	var reportOpts []reports.Option
	if deps.Archive != nil {
		reportOpts = append(reportOpts, reports.WithArchive(deps.Archive))
	}
	reportsService := reports.NewService(deps.Store, logger, reportOpts...)

	return &API{
		Workflow:        workflowService,
		Reports:         reportsService,
		tokens:          deps.Tokens,
		authHandler:     auth.NewHandler(),
		workflowHandler: workflow.NewHandler(workflowService, deps.Stream),
		reportsHandler:  reports.NewHandler(reportsService, logger),
	}
}

// RegisterRoutes registers every v1 route behind the bearer-token gate.
func (a *API) RegisterRoutes(router *gin.RouterGroup) {
	protected := router.Group("", auth.Authenticate(a.tokens))
	a.authHandler.RegisterRoutes(protected)
	a.workflowHandler.RegisterRoutes(protected)
	a.reportsHandler.RegisterRoutes(protected)
}
