package middleware

import (
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/pkg/jwt"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func openDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "auth.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := db.AutoMigrate(&models.APIToken{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func authRouter(db *gorm.DB, verifier *jwt.Verifier) *gin.Engine {
	r := gin.New()
	r.GET("/me", NewAuthenticator(db, verifier).Middleware(), func(c *gin.Context) {
		c.String(http.StatusOK, CurrentUserID(c))
	})
	return r
}

func get(r http.Handler, target, authorization string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	if authorization != "" {
		req.Header.Set("Authorization", authorization)
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func TestAuthAcceptsJWTAndAPITokens(t *testing.T) {
	db := openDB(t)
	verifier, err := jwt.NewVerifier("test-secret", "")
	if err != nil {
		t.Fatalf("verifier: %v", err)
	}
	r := authRouter(db, verifier)

	signed, err := verifier.Issue("user-jwt", time.Hour)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if rec := get(r, "/me", "Bearer "+signed); rec.Code != http.StatusOK || rec.Body.String() != "user-jwt" {
		t.Fatalf("jwt: %d %q", rec.Code, rec.Body.String())
	}
	if rec := get(r, "/me?token="+signed, ""); rec.Code != http.StatusOK {
		t.Fatalf("query token: %d", rec.Code)
	}

	past := time.Now().Add(-time.Hour)
	db.Create(&models.APIToken{UserID: "user-api", Token: "txo-live", Name: "cli"})
	db.Create(&models.APIToken{UserID: "user-old", Token: "txo-expired", ExpiredAt: &past})

	if rec := get(r, "/me", "txo-live"); rec.Code != http.StatusOK || rec.Body.String() != "user-api" {
		t.Fatalf("api token: %d %q", rec.Code, rec.Body.String())
	}
	for _, token := range []string{"txo-expired", "txo-unknown", "garbage", ""} {
		if rec := get(r, "/me", token); rec.Code != http.StatusUnauthorized {
			t.Errorf("token %q: status %d, want 401", token, rec.Code)
		}
	}
}

func TestNormalizeToken(t *testing.T) {
	cases := map[string]string{
		"  Bearer abc ": "abc",
		"bearer xyz":    "xyz",
		"txo123":        "txo123",
		"Bearer":        "Bearer",
		"   ":           "",
	}
	for in, want := range cases {
		if got := NormalizeToken(in); got != want {
			t.Errorf("NormalizeToken(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRateLimitPerIP(t *testing.T) {
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	r := gin.New()
	r.Use(RateLimit(rdb, 2, zap.NewNop()))
	r.GET("/ping", func(c *gin.Context) { c.Status(http.StatusNoContent) })

	fixed := time.Unix(1_800_000_000, 0)
	rateLimitNow = func() time.Time { return fixed }
	t.Cleanup(func() { rateLimitNow = time.Now })

	for i := 0; i < 2; i++ {
		if rec := get(r, "/ping", ""); rec.Code != http.StatusNoContent {
			t.Fatalf("request %d: status %d", i, rec.Code)
		}
	}
	rec := get(r, "/ping", "")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("third request: status %d, want 429", rec.Code)
	}
	if rec.Header().Get("Retry-After") != "1" {
		t.Fatalf("Retry-After = %q", rec.Header().Get("Retry-After"))
	}

	fixed = fixed.Add(time.Second)
	if rec := get(r, "/ping", ""); rec.Code != http.StatusNoContent {
		t.Fatalf("next window: status %d", rec.Code)
	}
}

func TestLoggerSetsRequestID(t *testing.T) {
	r := gin.New()
	r.Use(Logger(zap.NewNop()))
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

	rec := get(r, "/x", "")
	if rec.Header().Get("X-Request-Id") == "" {
		t.Fatal("request id header missing")
	}
}
