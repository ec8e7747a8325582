package middleware

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/mx-space/distill/internal/models"
	"github.com/mx-space/distill/internal/pkg/jwt"
	"github.com/mx-space/distill/internal/pkg/response"
	"gorm.io/gorm"
)

const (
	ContextKeyUserID = "user_id"
	apiTokenPrefix   = "txo"
)

var errNoToken = errors.New("token is required")

// Authenticator maps a bearer credential to a user id. Credentials starting
// with the API token prefix are looked up in api_tokens, everything else is
// verified as a JWT.
type Authenticator struct {
	db       *gorm.DB
	verifier *jwt.Verifier
}

func NewAuthenticator(db *gorm.DB, verifier *jwt.Verifier) *Authenticator {
	return &Authenticator{db: db, verifier: verifier}
}

// Middleware rejects requests without a valid credential.
func (a *Authenticator) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := a.Resolve(c.Request.Context(), extractToken(c))
		if err != nil {
			response.Unauthorized(c)
			return
		}
		c.Set(ContextKeyUserID, userID)
		c.Next()
	}
}

// Resolve returns the user the credential belongs to.
func (a *Authenticator) Resolve(ctx context.Context, rawToken string) (string, error) {
	token := NormalizeToken(rawToken)
	if token == "" {
		return "", errNoToken
	}
	if strings.HasPrefix(token, apiTokenPrefix) {
		return a.lookupAPIToken(ctx, token)
	}
	claims, err := a.verifier.Verify(token)
	if err != nil {
		return "", err
	}
	return claims.User(), nil
}

func (a *Authenticator) lookupAPIToken(ctx context.Context, token string) (string, error) {
	var row models.APIToken
	err := a.db.WithContext(ctx).Select("user_id").
		Where("token = ? AND (expired_at IS NULL OR expired_at > ?)", token, time.Now()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", errors.New("api token not found")
	}
	if err != nil {
		return "", err
	}
	return row.UserID, nil
}

// CurrentUserID extracts the authenticated user ID from context.
func CurrentUserID(c *gin.Context) string {
	v, _ := c.Get(ContextKeyUserID)
	id, _ := v.(string)
	return id
}

func extractToken(c *gin.Context) string {
	if auth := c.GetHeader("Authorization"); auth != "" {
		return auth
	}
	// EventSource cannot set headers.
	return c.Query("token")
}

// NormalizeToken trims spaces and strips an optional Bearer prefix.
func NormalizeToken(raw string) string {
	token := strings.TrimSpace(raw)
	if len(token) > 7 && strings.EqualFold(token[:7], "bearer ") {
		return strings.TrimSpace(token[7:])
	}
	return token
}
