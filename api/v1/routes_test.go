package v1

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"carbon-scribe/project-portal/registry-backend/internal/auth"
	"carbon-scribe/project-portal/registry-backend/internal/monitoring"
	"carbon-scribe/project-portal/registry-backend/internal/store"
)

var (
	submitter = auth.Caller{ID: "sub-1", Role: auth.RoleSubmitter, Organization: "Mangrove Trust"}
	verifier  = auth.Caller{ID: "ver-1", Role: auth.RoleVerifier}
)

func newRouter(t *testing.T) (*gin.Engine, *auth.TokenManager) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	tokens := auth.NewTokenManager("test-secret", "registry", time.Hour)

	api := Setup(Dependencies{
		Store:   store.NewMemoryStore(),
		Tokens:  tokens,
		Metrics: monitoring.NewMetricsService(),
	})
	r := gin.New()
	api.RegisterRoutes(r.Group("/api/v1"))
	return r, tokens
}

func call(t *testing.T, r *gin.Engine, tokens *auth.TokenManager, caller auth.Caller, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var payload []byte
	if body != nil {
		var err error
		payload, err = json.Marshal(body)
		require.NoError(t, err)
	}
	req := httptest.NewRequest(method, path, bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	token, err := tokens.Issue(caller)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+token)

	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRoutesRequireToken(t *testing.T) {
	r, _ := newRouter(t)

	for _, path := range []string{"/api/v1/projects", "/api/v1/ledger", "/api/v1/auth/me"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code, path)
	}
}

func TestSubmitConfirmAndCertificate(t *testing.T) {
	r, tokens := newRouter(t)

	rec := call(t, r, tokens, submitter, http.MethodPost, "/api/v1/projects", map[string]any{
		"projectName": "Sundarbans Mangroves", "projectType": "blue", "proposedCredit": 500,
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &created))
	base := "/api/v1/projects/" + created.ID

	rec = call(t, r, tokens, submitter, http.MethodGet, base+"/certificate", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = call(t, r, tokens, verifier, http.MethodPatch, base, map[string]any{"action": "start"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	rec = call(t, r, tokens, verifier, http.MethodPatch, base, map[string]any{"action": "confirm", "issuedCredit": 480})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = call(t, r, tokens, submitter, http.MethodGet, base+"/certificate", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "application/pdf", rec.Header().Get("Content-Type"))

	rec = call(t, r, tokens, submitter, http.MethodGet, "/api/v1/ledger", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var report struct {
		Summary struct {
			IssuedCredit float64 `json:"issuedCredit"`
		} `json:"summary"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &report))
	assert.InDelta(t, 480, report.Summary.IssuedCredit, 1e-9)

	rec = call(t, r, tokens, verifier, http.MethodGet, "/api/v1/ledger/export", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, strings.Count(rec.Body.String(), "\n"))
}
