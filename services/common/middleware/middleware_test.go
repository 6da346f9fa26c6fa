package middleware_test

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yashrajoria/fitmeals-backend/services/common/auth"
	apperrors "github.com/yashrajoria/fitmeals-backend/services/common/errors"
	"github.com/yashrajoria/fitmeals-backend/services/common/middleware"
)

func identityRouter(verifier *auth.TokenVerifier, trustGateway bool) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(apperrors.ErrorMiddleware())
	r.GET("/me", middleware.Authenticate(verifier, trustGateway), func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"id":    middleware.GetUserID(c),
			"email": middleware.GetEmail(c),
			"admin": middleware.IsAdmin(c),
		})
	})
	r.GET("/admin", middleware.Authenticate(verifier, trustGateway), middleware.AdminOnly(), func(c *gin.Context) {
		c.Status(http.StatusNoContent)
	})
	return r
}

func get(r *gin.Engine, path string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAuthenticate_BearerToken(t *testing.T) {
	v := auth.NewTokenVerifier("secret")
	tok, err := v.IssueToken(auth.Claims{UserID: "u-1", Email: "u1@example.com", Role: "admin"}, time.Hour)
	require.NoError(t, err)
	r := identityRouter(v, false)

	w := get(r, "/me", map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"u-1","email":"u1@example.com","admin":true}`, w.Body.String())

	w = get(r, "/admin", map[string]string{"Authorization": "Bearer " + tok})
	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestAuthenticate_Rejects(t *testing.T) {
	v := auth.NewTokenVerifier("secret")
	expired, err := v.IssueToken(auth.Claims{UserID: "u-1"}, -time.Minute)
	require.NoError(t, err)
	forged, err := auth.NewTokenVerifier("other").IssueToken(auth.Claims{UserID: "u-1"}, time.Hour)
	require.NoError(t, err)
	r := identityRouter(v, false)

	for name, headers := range map[string]map[string]string{
		"missing":          nil,
		"expired":          {"Authorization": "Bearer " + expired},
		"wrong key":        {"Authorization": "Bearer " + forged},
		"untrusted header": {"X-User-ID": "u-1"},
	} {
		t.Run(name, func(t *testing.T) {
			w := get(r, "/me", headers)
			assert.Equal(t, http.StatusUnauthorized, w.Code)
		})
	}
}

func TestAuthenticate_GatewayHeaders(t *testing.T) {
	r := identityRouter(auth.NewTokenVerifier(""), true)

	w := get(r, "/me", map[string]string{"X-User-ID": "u-7", "X-User-Email": "u7@example.com"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"id":"u-7","email":"u7@example.com","admin":false}`, w.Body.String())

	w = get(r, "/admin", map[string]string{"X-User-ID": "u-7"})
	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestRateLimiter(t *testing.T) {
	rl := middleware.NewRateLimiter(1, 2, time.Minute)
	assert.True(t, rl.Allow("a"))
	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	assert.Equal(t, 0, rl.Cleanup(time.Now()))
	assert.Equal(t, 2, rl.Cleanup(time.Now().Add(2*time.Minute)))
	assert.True(t, rl.Allow("a"))
}

func TestRateLimitMiddleware(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.RateLimitMiddleware(middleware.NewRateLimiter(1, 1, time.Minute)))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	assert.Equal(t, http.StatusOK, get(r, "/", nil).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(r, "/", nil).Code)
}

func TestCORS(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, err := middleware.CORS([]string{"https://app.fitmeals.io/"})
	require.NoError(t, err)
	r := gin.New()
	r.Use(h)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(r, "/", map[string]string{"Origin": "https://app.fitmeals.io"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "https://app.fitmeals.io", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = get(r, "/", map[string]string{"Origin": "https://evil.example"})
	assert.Equal(t, http.StatusForbidden, w.Code)

	req := httptest.NewRequest(http.MethodOptions, "/", nil)
	req.Header.Set("Origin", "https://app.fitmeals.io")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	w = httptest.NewRecorder()
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Contains(t, w.Header().Get("Access-Control-Allow-Methods"), "POST")

	assert.Equal(t, http.StatusOK, get(r, "/", nil).Code)
}

func TestCORS_WildcardDropsCredentials(t *testing.T) {
	gin.SetMode(gin.TestMode)
	h, err := middleware.CORS([]string{"*"})
	require.NoError(t, err)
	r := gin.New()
	r.Use(h)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(r, "/", map[string]string{"Origin": "https://anywhere.example"})
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "*", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Credentials"))
}

func TestCORS_RejectsMalformedOrigin(t *testing.T) {
	_, err := middleware.CORS([]string{"app.fitmeals.io"})
	assert.Error(t, err)
}

func TestSecurityHeaders(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(middleware.SecurityHeaders())
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })

	w := get(r, "/", nil)
	assert.Equal(t, "DENY", w.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", w.Header().Get("X-Content-Type-Options"))
}
