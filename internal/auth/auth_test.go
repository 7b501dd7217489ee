package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestTokenRoundTrip(t *testing.T) {
	tm := NewTokenManager("secret", "carbon-scribe", time.Hour)

	token, err := tm.Issue(Caller{ID: "verifier-1", Role: RoleVerifier, Organization: "Verra"})
	require.NoError(t, err)

	caller, err := tm.Parse(token)
	require.NoError(t, err)
	assert.Equal(t, Caller{ID: "verifier-1", Role: RoleVerifier, Organization: "Verra"}, caller)
	assert.True(t, caller.CanReview())
}

func TestParseRejectsForeignSignatureAndExpiry(t *testing.T) {
	issuer := NewTokenManager("other-secret", "carbon-scribe", time.Hour)
	token, err := issuer.Issue(Caller{ID: "u1", Role: RoleAdmin})
	require.NoError(t, err)

	_, err = NewTokenManager("secret", "carbon-scribe", time.Hour).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenManager("secret", "carbon-scribe", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err = expired.Issue(Caller{ID: "u1", Role: RoleSubmitter})
	require.NoError(t, err)

	_, err = NewTokenManager("secret", "carbon-scribe", time.Minute).Parse(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestIssueRejectsUnknownRole(t *testing.T) {
	_, err := NewTokenManager("secret", "", time.Hour).Issue(Caller{ID: "u1", Role: "auditor"})
	assert.Error(t, err)

	_, err = NewTokenManager("", "", time.Hour).Issue(Caller{ID: "u1", Role: RoleAdmin})
	assert.ErrorIs(t, err, ErrMissingSecret)
}

func newRouter(tm *TokenManager, roles ...Role) *gin.Engine {
	r := gin.New()
	r.Use(Authenticate(tm))
	if len(roles) > 0 {
		r.Use(RequireRoles(roles...))
	}
	NewHandler().RegisterRoutes(&r.RouterGroup)
	return r
}

func TestAuthenticateMiddleware(t *testing.T) {
	tm := NewTokenManager("secret", "carbon-scribe", time.Hour)
	token, err := tm.Issue(Caller{ID: "sub-1", Role: RoleSubmitter})
	require.NoError(t, err)

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing header", header: "", want: http.StatusUnauthorized},
		{name: "wrong scheme", header: "Basic abc", want: http.StatusUnauthorized},
		{name: "garbage token", header: "Bearer not-a-jwt", want: http.StatusUnauthorized},
		{name: "valid token", header: "Bearer " + token, want: http.StatusOK},
	}

	router := newRouter(tm)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			router.ServeHTTP(rec, req)
			assert.Equal(t, tt.want, rec.Code)
		})
	}
}

func TestRequireRoles(t *testing.T) {
	tm := NewTokenManager("secret", "", time.Hour)
	submitter, err := tm.Issue(Caller{ID: "sub-1", Role: RoleSubmitter})
	require.NoError(t, err)
	verifier, err := tm.Issue(Caller{ID: "ver-1", Role: RoleVerifier})
	require.NoError(t, err)

	router := newRouter(tm, RoleVerifier, RoleAdmin)

	req := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+submitter)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Contains(t, rec.Body.String(), "FORBIDDEN")

	req = httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	req.Header.Set("Authorization", "Bearer "+verifier)
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"canReview":true`)
}
