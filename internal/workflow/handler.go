package workflow

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	streaming "carbon-scribe/project-portal/registry-backend/internal/notifications/websocket"
	"carbon-scribe/project-portal/registry-backend/internal/projects"
	appErrors "carbon-scribe/project-portal/registry-backend/pkg/errors"
	"carbon-scribe/project-portal/registry-backend/pkg/response"
)

var (
	actionKeys = []string{"action", "issuedCredit", "message", "expectedVersion"}
	editKeys   = []string{"updates", "setReapply", "expectedVersion"}
)

// Handler exposes the workflow over HTTP.
type Handler struct {
	service Service
	stream  *streaming.Manager
}

// NewHandler creates a handler. stream may be nil to disable live updates.
func NewHandler(service Service, stream *streaming.Manager) *Handler {
	return &Handler{service: service, stream: stream}
}

// RegisterRoutes registers the submission routes on an authenticated group.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	p := rg.Group("/projects")
	{
		p.POST("", h.CreateSubmission)
		p.GET("", h.ListSubmissions)
		p.GET("/:id", h.GetSubmission)
		p.PATCH("/:id", h.PatchSubmission)
		p.GET("/:id/history", h.GetHistory)
		if h.stream != nil {
			p.GET("/:id/events", h.StreamEvents)
		}
	}
}

// CreateSubmission handles POST /projects.
func (h *Handler) CreateSubmission(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	var req CreateSubmissionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "malformed request body").WithCause(err))
		return
	}

	view, err := h.service.CreateSubmission(c.Request.Context(), caller, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, view.Version)
	c.Header("Location", "/api/v1/projects/"+view.ID.String())
	c.JSON(http.StatusCreated, view)
}

// ListSubmissions handles GET /projects.
func (h *Handler) ListSubmissions(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}

	filter := projects.ListFilter{
		Page:  queryInt(c, "page"),
		Limit: queryInt(c, "limit"),
	}
	if raw := c.Query("status"); raw != "" {
		status := projects.SubmissionStatus(raw)
		if !status.IsValid() {
			response.Error(c, appErrors.Clonef(appErrors.ErrValidation, "unknown status %q", raw))
			return
		}
		filter.Status = &status
	}
	if raw := c.Query("projectType"); raw != "" {
		pt := projects.ProjectType(raw)
		if !pt.IsValid() {
			response.Error(c, appErrors.Clonef(appErrors.ErrValidation, "unknown projectType %q", raw))
			return
		}
		filter.ProjectType = &pt
	}

	page, err := h.service.ListSubmissions(c.Request.Context(), caller, filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"data":       page.Items,
		"pagination": response.NewPage(page.Page, page.Limit, page.Total),
	})
}

// GetSubmission handles GET /projects/:id.
func (h *Handler) GetSubmission(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := submissionID(c)
	if !ok {
		return
	}

	view, err := h.service.GetSubmission(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	setETag(c, view.Version)
	c.JSON(http.StatusOK, view)
}

// GetHistory handles GET /projects/:id/history.
func (h *Handler) GetHistory(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := submissionID(c)
	if !ok {
		return
	}

	history, err := h.service.GetHistory(c.Request.Context(), caller, id)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"data": history})
}

// PatchSubmission handles PATCH /projects/:id. The body is either a verifier
// action or a submitter edit, never both.
func (h *Handler) PatchSubmission(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := submissionID(c)
	if !ok {
		return
	}

	var body map[string]json.RawMessage
	if err := c.ShouldBindJSON(&body); err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "malformed request body").WithCause(err))
		return
	}

	expected, err := expectedVersion(c.GetHeader("If-Match"), body["expectedVersion"])
	if err != nil {
		response.Error(c, err)
		return
	}

	_, hasAction := body["action"]
	_, hasUpdates := body["updates"]
	_, hasReapply := body["setReapply"]

	var result *Result
	switch {
	case hasAction && (hasUpdates || hasReapply):
		err = appErrors.Clone(appErrors.ErrValidation, "a request cannot combine a verifier action with submitter edits")
	case hasAction:
		var cmd VerifierActionCommand
		if cmd, err = decodeAction(body); err == nil {
			cmd.SubmissionID, cmd.ExpectedVersion = id, expected
			result, err = h.service.ApplyVerifierAction(c.Request.Context(), caller, cmd)
		}
	case hasUpdates || hasReapply:
		var cmd EditCommand
		if cmd, err = decodeEdit(body); err == nil {
			cmd.SubmissionID, cmd.ExpectedVersion = id, expected
			result, err = h.service.EditSubmission(c.Request.Context(), caller, cmd)
		}
	default:
		err = appErrors.Clone(appErrors.ErrValidation, "request must contain either action or updates")
	}
	if err != nil {
		response.Error(c, err)
		return
	}

	setETag(c, result.View.Version)
	c.JSON(http.StatusOK, result)
}

// StreamEvents handles GET /projects/:id/events, upgrading to a websocket
// that receives every committed change of the submission.
func (h *Handler) StreamEvents(c *gin.Context) {
	caller, ok := callerOrAbort(c)
	if !ok {
		return
	}
	id, ok := submissionID(c)
	if !ok {
		return
	}
	if _, err := h.service.GetSubmission(c.Request.Context(), caller, id); err != nil {
		response.Error(c, err)
		return
	}
	if err := h.stream.Serve(c.Writer, c.Request, id, caller.ID); err != nil {
		_ = c.Error(err)
	}
}

func decodeAction(body map[string]json.RawMessage) (VerifierActionCommand, error) {
	var cmd VerifierActionCommand
	if err := onlyKeys(body, actionKeys); err != nil {
		return cmd, err
	}
	if err := decodeField(body, "action", &cmd.Action); err != nil {
		return cmd, err
	}
	if err := decodeField(body, "issuedCredit", &cmd.IssuedCredit); err != nil {
		return cmd, err
	}
	if err := decodeField(body, "message", &cmd.Message); err != nil {
		return cmd, err
	}
	if cmd.Message != nil && strings.TrimSpace(*cmd.Message) == "" {
		cmd.Message = nil
	}
	return cmd, nil
}

func decodeEdit(body map[string]json.RawMessage) (EditCommand, error) {
	var cmd EditCommand
	if err := onlyKeys(body, editKeys); err != nil {
		return cmd, err
	}
	updates, err := projects.DecodeUpdate(body["updates"])
	if err != nil {
		return cmd, err
	}
	cmd.Updates = updates
	if err := decodeField(body, "setReapply", &cmd.SetReapply); err != nil {
		return cmd, err
	}
	return cmd, nil
}

func onlyKeys(body map[string]json.RawMessage, allowed []string) error {
	var unknown []string
	for key := range body {
		found := false
		for _, a := range allowed {
			if key == a {
				found = true
				break
			}
		}
		if !found {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return appErrors.Clonef(appErrors.ErrValidation, "unexpected fields: %s", strings.Join(unknown, ", ")).
		WithDetails(map[string]any{"allowed": allowed})
}

func decodeField(body map[string]json.RawMessage, key string, dest any) error {
	raw, ok := body[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return appErrors.Clonef(appErrors.ErrValidation, "field %q has the wrong type", key).WithCause(err)
	}
	return nil
}

// expectedVersion reads the version precondition from If-Match or the body.
func expectedVersion(ifMatch string, raw json.RawMessage) (int64, error) {
	var fromBody int64
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &fromBody); err != nil || fromBody < 0 {
			return 0, appErrors.Clone(appErrors.ErrValidation, "expectedVersion must be a non-negative integer")
		}
	}

	ifMatch = strings.TrimSpace(ifMatch)
	if ifMatch == "" || ifMatch == "*" {
		return fromBody, nil
	}
	tag := strings.Trim(strings.TrimPrefix(ifMatch, "W/"), `"`)
	fromHeader, err := strconv.ParseInt(tag, 10, 64)
	if err != nil || fromHeader < 0 {
		return 0, appErrors.Clonef(appErrors.ErrValidation, "If-Match %q is not a submission version", ifMatch)
	}
	if fromBody != 0 && fromBody != fromHeader {
		return 0, appErrors.Clone(appErrors.ErrValidation, "If-Match and expectedVersion disagree")
	}
	return fromHeader, nil
}

func setETag(c *gin.Context, version int64) {
	c.Header("ETag", fmt.Sprintf(`"%d"`, version))
}

func callerOrAbort(c *gin.Context) (auth.Caller, bool) {
	caller, ok := auth.CallerFromContext(c)
	if !ok {
		response.Abort(c, appErrors.ErrUnauthorized)
	}
	return caller, ok
}

func submissionID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		response.Error(c, appErrors.Clonef(appErrors.ErrValidation, "invalid submission id %q", c.Param("id")))
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(c *gin.Context, key string) int {
	n, _ := strconv.Atoi(c.Query(key))
	return n
}
