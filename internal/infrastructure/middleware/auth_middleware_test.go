package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"meshpad/internal/core/domain"
	"meshpad/internal/core/ports"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap/zaptest"
)

type fakeAuthService struct {
	claims *ports.TokenClaims
	err    error
}

func (f *fakeAuthService) Login(ctx context.Context, username, password string) (string, error) {
	return "", errors.New("not implemented")
}

func (f *fakeAuthService) ValidateToken(token string) (*ports.TokenClaims, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.claims, nil
}

// adminRouter mounts the auth chain under the error renderer, the same
// layering the server uses.
func adminRouter(t *testing.T, auth ports.AuthService) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/admin",
		AuthMiddleware(auth),
		RequireRole(domain.RoleAdmin),
		func(c *gin.Context) {
			c.JSON(http.StatusOK, gin.H{"username": c.GetString(ContextUsername)})
		})
	return router
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	return body.Error
}

func TestAuthMiddleware_MissingHeader(t *testing.T) {
	router := adminRouter(t, &fakeAuthService{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "UNAUTHORIZED" {
		t.Errorf("error code = %q, want UNAUTHORIZED", code)
	}
}

func TestAuthMiddleware_MalformedHeader(t *testing.T) {
	router := adminRouter(t, &fakeAuthService{})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Token abc")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_InvalidToken(t *testing.T) {
	router := adminRouter(t, &fakeAuthService{err: errors.New("invalid token")})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer nope")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}

func TestAuthMiddleware_AdminPasses(t *testing.T) {
	auth := &fakeAuthService{claims: &ports.TokenClaims{Username: "ops", Role: domain.RoleAdmin}}
	router := adminRouter(t, auth)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer good")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", w.Code)
	}
}

func TestRequireRole_RejectsViewer(t *testing.T) {
	auth := &fakeAuthService{claims: &ports.TokenClaims{Username: "guest", Role: domain.RoleViewer}}
	router := adminRouter(t, auth)

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	req.Header.Set("Authorization", "Bearer good")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("expected status 403, got %d", w.Code)
	}
	if code := errorCode(t, w); code != "FORBIDDEN" {
		t.Errorf("error code = %q, want FORBIDDEN", code)
	}
}

func TestRequireRole_WithoutAuthContext(t *testing.T) {
	gin.SetMode(gin.TestMode)
	router := gin.New()
	router.Use(ErrorHandlerMiddleware(zaptest.NewLogger(t).Sugar()))
	router.GET("/admin", RequireRole(domain.RoleAdmin), func(c *gin.Context) {
		c.Status(http.StatusOK)
	})

	w := httptest.NewRecorder()
	req, _ := http.NewRequest(http.MethodGet, "/admin", nil)
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d", w.Code)
	}
}
