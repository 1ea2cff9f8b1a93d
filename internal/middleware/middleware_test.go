package middleware

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/iliyamo/court-reservation/internal/config"
	"github.com/iliyamo/court-reservation/internal/utils"
)

const secret = "test-secret"

func protected() *echo.Echo {
	e := echo.New()
	g := e.Group("/admin", JWTAuth(secret), RequireRole(RoleOwner, RoleAdmin))
	g.GET("/me", func(c echo.Context) error {
		id, ok := UserID(c)
		if !ok {
			return c.NoContent(http.StatusUnauthorized)
		}
		return c.JSON(http.StatusOK, echo.Map{"id": id})
	})
	return e
}

func call(e *echo.Echo, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/admin/me", nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestJWTAuthAndRoles(t *testing.T) {
	e := protected()
	now := time.Now()

	admin, err := utils.NewAccessToken(secret, 42, RoleAdmin, 0, time.Hour, now)
	require.NoError(t, err)
	rec := call(e, admin.Token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":42}`, rec.Body.String())

	customer, err := utils.NewAccessToken(secret, 7, "CUSTOMER", 0, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, call(e, customer.Token).Code)

	forged, err := utils.NewAccessToken("other", 42, RoleAdmin, 0, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(e, forged.Token).Code)

	expired, err := utils.NewAccessToken(secret, 42, RoleAdmin, 0, time.Hour, now.Add(-2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, http.StatusUnauthorized, call(e, expired.Token).Code)

	assert.Equal(t, http.StatusUnauthorized, call(e, "").Code)
}

func TestRateLimitDisabledWithoutRedis(t *testing.T) {
	e := echo.New()
	e.Use(NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil))
	e.GET("/", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) })
	for i := 0; i < 3; i++ {
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		assert.Equal(t, http.StatusNoContent, rec.Code)
	}
}

func TestBuildRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/holds", nil)
	req.Header.Set(echo.HeaderXRealIP, "10.0.0.1")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/holds")

	cfg := config.RateLimitConfig{Prefix: "rl:court", KeyStrategy: "ip_route"}
	assert.Equal(t, "rl:court:ip:10.0.0.1:route:POST /v1/holds", buildRateKey(cfg, c))

	c.Set("user_id", "9")
	cfg.KeyStrategy = "user"
	assert.Equal(t, "rl:court:user:9", buildRateKey(cfg, c))
}

func TestComplexScope(t *testing.T) {
	e := echo.New()
	g := e.Group("/admin", JWTAuth(secret), RequireRole(RoleOwner, RoleAdmin))
	g.GET("/complexes/:id", func(c echo.Context) error {
		var id uint64
		if err := echo.PathParamsBinder(c).Uint64("id", &id).BindError(); err != nil {
			return c.NoContent(http.StatusBadRequest)
		}
		if !CanAccessComplex(c, id) {
			return c.NoContent(http.StatusForbidden)
		}
		return c.NoContent(http.StatusOK)
	})
	get := func(token, path string) int {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		req.Header.Set("Authorization", "Bearer "+token)
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}
	now := time.Now()

	owner, err := utils.NewAccessToken(secret, 8, RoleOwner, 3, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(owner.Token, "/admin/complexes/3"))
	assert.Equal(t, http.StatusForbidden, get(owner.Token, "/admin/complexes/4"))

	unbound, err := utils.NewAccessToken(secret, 9, RoleOwner, 0, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, http.StatusForbidden, get(unbound.Token, "/admin/complexes/3"))

	admin, err := utils.NewAccessToken(secret, 1, RoleAdmin, 0, time.Hour, now)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, get(admin.Token, "/admin/complexes/4"))
}
