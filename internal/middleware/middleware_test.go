package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/iliyamo/fitting-room-service/internal/config"
)

const testSecret = "test-secret"

func signToken(t *testing.T, method jwt.SigningMethod, claims jwt.MapClaims) string {
	t.Helper()
	s, err := jwt.NewWithClaims(method, claims).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func serve(e *echo.Echo, method, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func actorEcho(mw ...echo.MiddlewareFunc) *echo.Echo {
	e := echo.New()
	e.GET("/whoami", func(c echo.Context) error {
		a := Actor(c)
		return c.JSON(http.StatusOK, echo.Map{"id": a.ID, "role": a.Role, "manager": a.IsManager()})
	}, mw...)
	return e
}

func TestJWTAuth(t *testing.T) {
	e := actorEcho(JWTAuth(testSecret))

	rec := serve(e, http.MethodGet, "/whoami", "")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = serve(e, http.MethodGet, "/whoami", "not-a-token")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  float64(7),
		"role": "manager",
		"exp":  time.Now().Add(time.Hour).Unix(),
	})
	rec = serve(e, http.MethodGet, "/whoami", tok)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"7","role":"MANAGER","manager":true}`, rec.Body.String())
}

func TestJWTAuth_RejectsExpiredAndMissingSubject(t *testing.T) {
	e := actorEcho(JWTAuth(testSecret))

	expired := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{
		"sub": "u1", "role": "STAFF", "exp": time.Now().Add(-time.Minute).Unix(),
	})
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/whoami", expired).Code)

	noSub := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"role": "STAFF"})
	assert.Equal(t, http.StatusUnauthorized, serve(e, http.MethodGet, "/whoami", noSub).Code)
}

func TestRequireRole(t *testing.T) {
	e := actorEcho(JWTAuth(testSecret), RequireRole("MANAGER"))

	staff := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "s1", "role": "STAFF"})
	assert.Equal(t, http.StatusForbidden, serve(e, http.MethodGet, "/whoami", staff).Code)

	mgr := signToken(t, jwt.SigningMethodHS256, jwt.MapClaims{"sub": "m1", "role": "MANAGER"})
	assert.Equal(t, http.StatusOK, serve(e, http.MethodGet, "/whoami", mgr).Code)
}

func TestActor_Anonymous(t *testing.T) {
	e := actorEcho()
	rec := serve(e, http.MethodGet, "/whoami", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"id":"","role":"","manager":false}`, rec.Body.String())
}

func TestTokenBucket(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cfg := config.RateLimitConfig{
		Enabled:        true,
		Capacity:       2,
		RefillTokens:   1,
		RefillInterval: time.Hour,
		TTL:            2 * time.Hour,
		KeyStrategy:    "ip",
		Prefix:         "test",
	}
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(cfg, rdb, zap.NewNop()))

	first := serve(e, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusNoContent, first.Code)
	assert.Equal(t, "2", first.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "1", first.Header().Get("X-RateLimit-Remaining"))

	assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/ping", "").Code)

	blocked := serve(e, http.MethodGet, "/ping", "")
	assert.Equal(t, http.StatusTooManyRequests, blocked.Code)
	assert.NotEmpty(t, blocked.Header().Get("Retry-After"))
}

func TestTokenBucket_PassThrough(t *testing.T) {
	e := echo.New()
	e.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1}, nil, nil))
	for i := 0; i < 3; i++ {
		assert.Equal(t, http.StatusNoContent, serve(e, http.MethodGet, "/ping", "").Code)
	}

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	e2 := echo.New()
	e2.GET("/ping", func(c echo.Context) error { return c.NoContent(http.StatusNoContent) },
		NewTokenBucket(config.RateLimitConfig{Enabled: true, Capacity: 1, RefillInterval: time.Second, TTL: time.Minute}, rdb, zap.NewNop()))
	assert.Equal(t, http.StatusNoContent, serve(e2, http.MethodGet, "/ping", "").Code)
}

func TestRateKey(t *testing.T) {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/v1/rooms/3/scan-in", nil)
	req.Header.Set("X-Real-IP", "10.0.0.9")
	c := e.NewContext(req, httptest.NewRecorder())
	c.SetPath("/v1/rooms/:id/scan-in")
	c.SetParamNames("id")
	c.SetParamValues("3")
	c.Set(ctxUserID, "u1")

	assert.Equal(t, "frl:ip:10.0.0.9:user:u1", rateKey("frl", "ip_user", c))
	assert.Equal(t, "frl:room:3", rateKey("frl", "ROOM", c))
	assert.Equal(t, "frl:ip:10.0.0.9:room:3", rateKey("frl", "ip_room", c))

	full := "frl:ip:10.0.0.9:user:u1:route:POST /v1/rooms/:id/scan-in"
	assert.Equal(t, full, rateKey("frl", "", c))
	assert.Equal(t, full, rateKey("frl", "bogus", c))
}

func TestTokenBucketTake_RefillsOverTime(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	b := NewTokenBucketLimiter(config.RateLimitConfig{
		Capacity:       1,
		RefillTokens:   1,
		RefillInterval: time.Second,
		TTL:            time.Minute,
	}, rdb, zap.NewNop())
	clock := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	b.now = func() time.Time { return clock }
	ctx := context.Background()

	d, err := b.Take(ctx, "room:3")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, int64(0), d.Remaining)

	clock = clock.Add(250 * time.Millisecond)
	d, err = b.Take(ctx, "room:3")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.InDelta(t, float64(750*time.Millisecond), float64(d.RetryAfter), float64(time.Millisecond))

	// Another room has its own bucket.
	d, err = b.Take(ctx, "room:4")
	require.NoError(t, err)
	assert.True(t, d.Allowed)

	clock = clock.Add(time.Second)
	d, err = b.Take(ctx, "room:3")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.True(t, mr.Exists("room:3"))
}

func TestRequestLogger(t *testing.T) {
	e := echo.New()
	e.GET("/fail", func(c echo.Context) error {
		return echo.NewHTTPError(http.StatusTeapot, "nope")
	}, RequestLogger(zap.NewNop()))
	rec := serve(e, http.MethodGet, "/fail", "")
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
