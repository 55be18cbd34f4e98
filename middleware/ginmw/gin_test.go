package ginmw

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chimerakang/authkit"
	"github.com/chimerakang/authkit/fake"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newGuard(t *testing.T) *authkit.Guard {
	t.Helper()
	g, _ := fake.NewGuard(
		fake.WithUser("reader", authkit.RoleUser, "read"),
		fake.WithUser("root", authkit.RoleSuperadmin),
		fake.WithAPIKey("ak-reader", "reader"),
	)
	t.Cleanup(func() { _ = g.Close() })
	return g
}

// whoami echoes the resolved user from both the gin and request contexts.
func whoami(c *gin.Context) {
	name := ""
	if u := GetUser(c); u != nil {
		name = u.Username
	}
	fromCtx := ""
	if u := authkit.UserFromContext(c.Request.Context()); u != nil {
		fromCtx = u.Username
	}
	c.JSON(http.StatusOK, gin.H{"user": name, "ctx_user": fromCtx})
}

func serve(r *gin.Engine, path string, header http.Header) (*httptest.ResponseRecorder, map[string]any) {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range header {
		req.Header[k] = v
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var body map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &body)
	return w, body
}

func bearer(tok string) http.Header {
	return http.Header{"Authorization": {"Bearer " + tok}}
}

func TestAuthenticate(t *testing.T) {
	g := newGuard(t)
	r := gin.New()
	r.Use(Authenticate(g, WithExcludedPaths("/health")))
	r.GET("/me", whoami)
	r.GET("/health", whoami)

	tests := []struct {
		name   string
		path   string
		header http.Header
		status int
		user   string
		errMsg string
	}{
		{"valid token", "/me", bearer(fake.Token(g, "reader")), http.StatusOK, "reader", ""},
		{"lowercase scheme", "/me", http.Header{"Authorization": {"bearer " + fake.Token(g, "reader")}}, http.StatusOK, "reader", ""},
		{"missing header", "/me", nil, http.StatusUnauthorized, "", "not authenticated"},
		{"wrong scheme", "/me", http.Header{"Authorization": {"Basic abc"}}, http.StatusUnauthorized, "", "not authenticated"},
		{"garbage token", "/me", bearer("not-a-jwt"), http.StatusUnauthorized, "", "could not validate credentials"},
		{"unknown subject", "/me", bearer(fake.Token(g, "ghost")), http.StatusUnauthorized, "", "could not validate credentials"},
		{"excluded path", "/health", nil, http.StatusOK, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, body := serve(r, tt.path, tt.header)
			require.Equal(t, tt.status, w.Code)
			if tt.errMsg != "" {
				assert.Equal(t, tt.errMsg, body["error"])
				assert.Equal(t, "Bearer", w.Header().Get("WWW-Authenticate"))
				return
			}
			assert.Equal(t, tt.user, body["user"])
			assert.Equal(t, tt.user, body["ctx_user"])
		})
	}
}

func TestOptionalAuthenticate(t *testing.T) {
	g := newGuard(t)
	r := gin.New()
	r.GET("/feed", OptionalAuthenticate(g), whoami)

	w, body := serve(r, "/feed", bearer(fake.Token(g, "reader")))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reader", body["user"])

	for _, h := range []http.Header{nil, bearer("garbage"), bearer(fake.Token(g, "ghost"))} {
		w, body = serve(r, "/feed", h)
		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "", body["user"])
	}
}

func TestAPIKey(t *testing.T) {
	g := newGuard(t)
	r := gin.New()
	r.GET("/svc", APIKey(g), whoami)

	w, body := serve(r, "/svc", http.Header{HeaderAPIKey: {"ak-reader"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "reader", body["user"])

	w, body = serve(r, "/svc", http.Header{HeaderAPIKey: {"ak-wrong"}})
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "could not validate API key", body["error"])

	w, body = serve(r, "/svc", nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "not authenticated", body["error"])

	// A bearer token is not an API key.
	w, _ = serve(r, "/svc", bearer(fake.Token(g, "reader")))
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestOptionalAPIKey(t *testing.T) {
	g := newGuard(t)
	r := gin.New()
	r.GET("/svc", OptionalAPIKey(g), whoami)

	_, body := serve(r, "/svc", http.Header{HeaderAPIKey: {"ak-reader"}})
	assert.Equal(t, "reader", body["user"])

	w, body := serve(r, "/svc", http.Header{HeaderAPIKey: {"ak-wrong"}})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "", body["user"])
}

func TestAuthorize(t *testing.T) {
	g := newGuard(t)
	r := gin.New()
	auth := Authenticate(g)
	r.GET("/read", auth, RequirePermissions(g, "read"), whoami)
	r.GET("/write", auth, RequirePermissions(g, "read", "write"), whoami)
	r.GET("/admin", auth, RequireScope(g, authkit.RoleAdmin), whoami)
	r.GET("/root", auth, RequireSuperuser(g), whoami)
	r.GET("/combined", auth, Authorize(g, authkit.Requirement{Permissions: []string{"read"}, Scope: authkit.RoleUser}), whoami)
	r.GET("/anon", Authorize(g, authkit.Requirement{}), whoami)

	reader := bearer(fake.Token(g, "reader"))
	root := bearer(fake.Token(g, "root"))

	w, _ := serve(r, "/read", reader)
	assert.Equal(t, http.StatusOK, w.Code)
	w, _ = serve(r, "/combined", reader)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body := serve(r, "/write", reader)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "insufficient permissions", body["error"])
	assert.Equal(t, map[string]any{"required_permissions": []any{"read", "write"}}, body["details"])

	w, body = serve(r, "/admin", reader)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, map[string]any{"required_scope": "admin"}, body["details"])

	w, body = serve(r, "/root", reader)
	require.Equal(t, http.StatusForbidden, w.Code)
	assert.Equal(t, "not enough privileges", body["error"])

	// Superadmin holds every permission and passes the superuser gate.
	for _, path := range []string{"/read", "/write", "/root"} {
		w, _ = serve(r, path, root)
		assert.Equal(t, http.StatusOK, w.Code, path)
	}

	w, _ = serve(r, "/anon", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		header string
		want   string
	}{
		{"", ""},
		{"Bearer abc", "abc"},
		{"BEARER abc", "abc"},
		{"Bearer", ""},
		{"Token abc", ""},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		if tt.header != "" {
			req.Header.Set("Authorization", tt.header)
		}
		assert.Equal(t, tt.want, extractBearerToken(req), tt.header)
	}
}
