package workflow

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/store"
)

type apiClient struct {
	t      *testing.T
	router *gin.Engine
	tokens *auth.TokenManager
}

func newAPI(t *testing.T) *apiClient {
	t.Helper()
	gin.SetMode(gin.TestMode)

	tokens := auth.NewTokenManager("test-secret", "registry", time.Hour)
	svc, _ := newTestService(t, store.NewMemoryStore())

	r := gin.New()
	api := r.Group("/api/v1", auth.Authenticate(tokens))
	NewHandler(svc, nil).RegisterRoutes(api)
	return &apiClient{t: t, router: r, tokens: tokens}
}

func (a *apiClient) do(caller auth.Caller, method, path string, body any, headers ...string) *httptest.ResponseRecorder {
	a.t.Helper()
	var payload []byte
	switch b := body.(type) {
	case nil:
	case string:
		payload = []byte(b)
	default:
		var err error
		payload, err = json.Marshal(b)
		require.NoError(a.t, err)
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	token, err := a.tokens.Issue(caller)
	require.NoError(a.t, err)
	req.Header.Set("Authorization", "Bearer "+token)
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	rec := httptest.NewRecorder()
	a.router.ServeHTTP(rec, req)
	return rec
}

type errorBody struct {
	Error struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHTTPSubmitReviewAndConfirm(t *testing.T) {
	api := newAPI(t)

	rec := api.do(submitter, http.MethodPost, "/api/v1/projects", map[string]any{
		"projectType": "blue", "proposedCredit": 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, `"1"`, rec.Header().Get("ETag"))
	created := decode[SubmissionView](t, rec)
	assert.Equal(t, "submitted", string(created.SubmissionStatus))
	require.NotNil(t, created.Ledger)
	assert.Equal(t, 500.0, created.Ledger.PendingCredit)

	path := "/api/v1/projects/" + created.ID.String()

	rec = api.do(verifier, http.MethodPatch, path, map[string]any{"action": "start"}, "If-Match", `"1"`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, `"2"`, rec.Header().Get("ETag"))

	rec = api.do(verifier, http.MethodPatch, path, map[string]any{"action": "confirm", "issuedCredit": 480, "expectedVersion": 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	result := decode[Result](t, rec)
	assert.False(t, result.Replayed)
	assert.Equal(t, "approved", string(result.View.SubmissionStatus))
	assert.Equal(t, "verified", string(result.View.VerificationStatus))
	assert.Equal(t, 480.0, *result.View.IssuedCredit)
	assert.Equal(t, "issued", string(result.View.Ledger.Status))

	rec = api.do(verifier, http.MethodPatch, path, map[string]any{"action": "confirm", "issuedCredit": 480})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decode[Result](t, rec).Replayed)

	rec = api.do(submitter, http.MethodGet, path, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	view := decode[SubmissionView](t, rec)
	assert.Equal(t, "issued", string(view.Ledger.Status))
	assert.Equal(t, submitter.ID, view.Submitter.ID)

	rec = api.do(submitter, http.MethodGet, path+"/history", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[map[string][]map[string]any](t, rec)["data"], 3)
}

func TestHTTPPatchErrors(t *testing.T) {
	api := newAPI(t)
	rec := api.do(submitter, http.MethodPost, "/api/v1/projects", map[string]any{
		"projectType": "green", "proposedCredit": 100, "draft": true,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	path := "/api/v1/projects/" + decode[SubmissionView](t, rec).ID.String()

	tests := []struct {
		name    string
		caller  auth.Caller
		body    any
		headers []string
		status  int
		code    string
	}{
		{name: "confirm on draft", caller: verifier, body: map[string]any{"action": "confirm", "issuedCredit": 10}, status: http.StatusConflict, code: "INVALID_TRANSITION"},
		{name: "mixed shapes", caller: verifier, body: map[string]any{"action": "start", "setReapply": true}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "neither shape", caller: submitter, body: map[string]any{"expectedVersion": 1}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "unknown key with action", caller: verifier, body: map[string]any{"action": "start", "status": "approved"}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "status is not editable", caller: submitter, body: map[string]any{"updates": map[string]any{"submissionStatus": "approved"}}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "submitter cannot act", caller: submitter, body: map[string]any{"action": "start"}, status: http.StatusForbidden, code: "FORBIDDEN"},
		{name: "stale if-match", caller: submitter, body: map[string]any{"updates": map[string]any{"location": "Borneo"}}, headers: []string{"If-Match", `"7"`}, status: http.StatusConflict, code: "CONFLICT"},
		{name: "if-match disagrees with body", caller: submitter, body: map[string]any{"setReapply": true, "expectedVersion": 2}, headers: []string{"If-Match", `"1"`}, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
		{name: "malformed json", caller: submitter, body: `{"updates":`, status: http.StatusBadRequest, code: "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(tt.caller, http.MethodPatch, path, tt.body, tt.headers...)
			require.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[errorBody](t, rec).Error.Code)
		})
	}

	rec = api.do(submitter, http.MethodPatch, "/api/v1/projects/not-a-uuid", map[string]any{"action": "start"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHTTPListFiltersAndScopes(t *testing.T) {
	api := newAPI(t)
	for _, pt := range []string{"green", "blue"} {
		rec := api.do(submitter, http.MethodPost, "/api/v1/projects", map[string]any{"projectType": pt, "proposedCredit": 10})
		require.Equal(t, http.StatusCreated, rec.Code)
	}
	rec := api.do(otherSubmitter, http.MethodPost, "/api/v1/projects", map[string]any{"projectType": "teal", "proposedCredit": 10})
	require.Equal(t, http.StatusCreated, rec.Code)

	type listBody struct {
		Data       []SubmissionView `json:"data"`
		Pagination struct {
			Total int `json:"total"`
		} `json:"pagination"`
	}

	rec = api.do(otherSubmitter, http.MethodGet, "/api/v1/projects", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[listBody](t, rec).Pagination.Total)

	rec = api.do(verifier, http.MethodGet, "/api/v1/projects?projectType=blue", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decode[listBody](t, rec).Pagination.Total)

	rec = api.do(verifier, http.MethodGet, "/api/v1/projects?status=archived", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestExpectedVersion(t *testing.T) {
	v, err := expectedVersion(`W/"4"`, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(4), v)

	v, err = expectedVersion("", json.RawMessage("3"))
	require.NoError(t, err)
	assert.Equal(t, int64(3), v)

	v, err = expectedVersion("*", nil)
	require.NoError(t, err)
	assert.Zero(t, v)

	_, err = expectedVersion(`"abc"`, nil)
	assert.Error(t, err)

	_, err = expectedVersion("", json.RawMessage(`"3"`))
	assert.Error(t, err)
}
