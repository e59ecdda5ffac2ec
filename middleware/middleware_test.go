package middleware

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	tokenauth "github.com/abrahamahn/abe-stack-sub006"
	"github.com/abrahamahn/abe-stack-sub006/session"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func newEngine(t *testing.T) *tokenauth.Engine {
	t.Helper()
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	cfg := tokenauth.DefaultConfig()
	cfg.JWT.PrivateKey = priv
	cfg.JWT.PublicKey = pub
	cfg.Lockout.Enabled = false

	engine, err := tokenauth.New().
		WithConfig(cfg).
		WithTokenStore(session.NewMemoryStore()).
		Build()
	if err != nil {
		t.Fatalf("build engine: %v", err)
	}
	t.Cleanup(engine.Close)
	return engine
}

// accessToken starts a family for userID and returns an access token for it.
func accessToken(t *testing.T, engine *tokenauth.Engine, userID string) (token, familyID string) {
	t.Helper()
	ctx := context.Background()
	issued, err := engine.IssueSession(ctx, userID, "198.51.100.1", "test")
	if err != nil {
		t.Fatalf("issue session: %v", err)
	}
	res, err := engine.Refresh(ctx, issued.Token)
	if err != nil {
		t.Fatalf("refresh: %v", err)
	}
	return res.AccessToken, res.FamilyID
}

func newRouter(guard gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.GET("/me", guard, func(c *gin.Context) {
		id, ok := Identity(c)
		if !ok {
			c.Status(http.StatusInternalServerError)
			return
		}
		fromCtx, ok := IdentityFromContext(c.Request.Context())
		if !ok || fromCtx.UserID != id.UserID {
			c.Status(http.StatusInternalServerError)
			return
		}
		c.String(http.StatusOK, id.UserID)
	})
	return r
}

func get(r http.Handler, authz string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if authz != "" {
		req.Header.Set("Authorization", authz)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestRequireAccess(t *testing.T) {
	engine := newEngine(t)
	token, _ := accessToken(t, engine, "user-1")
	r := newRouter(RequireAccess(engine))

	tests := []struct {
		name   string
		authz  string
		status int
	}{
		{"missing header", "", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + token, http.StatusUnauthorized},
		{"empty bearer", "Bearer ", http.StatusUnauthorized},
		{"garbage token", "Bearer not-a-jwt", http.StatusUnauthorized},
		{"valid", "Bearer " + token, http.StatusOK},
		{"lowercase scheme", "bearer " + token, http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(r, tt.authz)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if tt.status == http.StatusOK && rec.Body.String() != "user-1" {
				t.Fatalf("body = %q", rec.Body.String())
			}
		})
	}
}

func TestStrictRejectsRevokedFamily(t *testing.T) {
	engine := newEngine(t)
	token, familyID := accessToken(t, engine, "user-1")

	jwtOnly := newRouter(RequireJWTOnly(engine))
	strict := newRouter(RequireStrict(engine))

	if rec := get(strict, "Bearer "+token); rec.Code != http.StatusOK {
		t.Fatalf("strict before revoke = %d", rec.Code)
	}

	if _, err := engine.RevokeFamily(context.Background(), familyID, session.ReasonLogout); err != nil {
		t.Fatalf("revoke: %v", err)
	}

	if rec := get(jwtOnly, "Bearer "+token); rec.Code != http.StatusOK {
		t.Fatalf("jwt-only after revoke = %d, want 200", rec.Code)
	}
	if rec := get(strict, "Bearer "+token); rec.Code != http.StatusUnauthorized {
		t.Fatalf("strict after revoke = %d, want 401", rec.Code)
	}
}

func TestGuardNetHTTP(t *testing.T) {
	engine := newEngine(t)
	token, _ := accessToken(t, engine, "user-2")

	h := Guard(engine, tokenauth.ModeStrict)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, ok := IdentityFromContext(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_, _ = w.Write([]byte(id.UserID))
	}))

	if rec := get(h, ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing token = %d", rec.Code)
	}
	rec := get(h, "Bearer "+token)
	if rec.Code != http.StatusOK || rec.Body.String() != "user-2" {
		t.Fatalf("valid token = %d %q", rec.Code, rec.Body.String())
	}
}

func TestNilEngineRejects(t *testing.T) {
	if rec := get(newRouter(RequireAccess(nil)), "Bearer x"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestClientInfo(t *testing.T) {
	r := gin.New()
	r.Use(ClientInfo())
	r.GET("/", func(c *gin.Context) {
		ctx := c.Request.Context()
		c.String(http.StatusOK, tokenauth.ClientIPFromContext(ctx)+"|"+tokenauth.UserAgentFromContext(ctx))
	})

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.10:5555"
	req.Header.Set("User-Agent", "checker/1.0")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "192.0.2.10|checker/1.0" {
		t.Fatalf("client info = %q", got)
	}
}
