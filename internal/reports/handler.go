package reports

import (
	"bytes"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/ledger"
	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
	"carbon-scribe/project-portal/registry-backend/pkg/response"
)

// Handler handles HTTP requests for ledger reports
type Handler struct {
	service *Service
	logger  *zap.Logger
}

// NewHandler creates a new reports handler
func NewHandler(service *Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{service: service, logger: logger}
}

// RegisterRoutes registers report routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	l := rg.Group("/ledger")
	{
		l.GET("", h.ListLedger)
		l.GET("/export", h.ExportLedger)
	}
	rg.GET("/projects/:id/certificate", h.GetCertificate)
}

// ListLedger handles GET /ledger.
func (h *Handler) ListLedger(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		response.Abort(c, appErrors.ErrUnauthorized)
		return
	}

	filter := ledger.ListFilter{}
	if raw := c.Query("status"); raw != "" {
		status := ledger.Status(raw)
		if !status.IsValid() {
			response.Error(c, appErrors.Clonef(appErrors.ErrValidation, "unknown ledger status %q", raw))
			return
		}
		filter.Status = &status
	}
	limit, _ := strconv.Atoi(c.Query("limit"))
	offset, _ := strconv.Atoi(c.Query("offset"))
	if limit < 0 || offset < 0 {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "limit and offset must not be negative"))
		return
	}
	filter.Limit, filter.Offset = limit, offset

	report, err := h.service.ListLedger(c.Request.Context(), caller, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// ExportLedger handles GET /ledger/export?format=csv|xlsx.
func (h *Handler) ExportLedger(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		response.Abort(c, appErrors.ErrUnauthorized)
		return
	}
	format := Format(c.DefaultQuery("format", string(FormatCSV)))

	// Buffer so a failed export still gets a JSON error instead of a torn file.
	var buf bytes.Buffer
	if err := h.service.ExportLedger(c.Request.Context(), caller, format, &buf); err != nil {
		response.Error(c, err)
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf(`attachment; filename="credit-ledger.%s"`, format))
	c.Data(http.StatusOK, format.ContentType(), buf.Bytes())
}

const certificateLinkTTL = 15 * time.Minute

// GetCertificate handles GET /projects/:id/certificate. With ?link=true it
// returns a short-lived download URL instead of the PDF.
func (h *Handler) GetCertificate(c *gin.Context) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		response.Abort(c, appErrors.ErrUnauthorized)
		return
	}
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.Clonef(appErrors.ErrValidation, "invalid submission id %q", c.Param("id")))
		return
	}

	if link, _ := strconv.ParseBool(c.Query("link")); link {
		url, err := h.service.CertificateLink(c.Request.Context(), caller, id, certificateLinkTTL)
		if err != nil {
			response.Error(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{"url": url, "expiresIn": int(certificateLinkTTL.Seconds())})
		return
	}

	pdf, err := h.service.Certificate(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.logger.Debug("Certificate rendered", zap.String("submission_id", id.String()), zap.Int("bytes", len(pdf)))
	c.Header("Content-Disposition", fmt.Sprintf(`inline; filename="certificate-%s.pdf"`, id))
	c.Data(http.StatusOK, "application/pdf", pdf)
}
