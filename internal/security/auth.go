package security

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/gin-gonic/gin"
	"github.com/strandhq/strand/internal/config"
)

const (
	// ContextKeyUserID is the gin context key for the authenticated user ID.
	ContextKeyUserID = "userID"
	// ContextKeyIsAdmin is the gin context key for admin authorization.
	ContextKeyIsAdmin = "isAdmin"
)

// Identity holds the resolved caller identity from a bearer token.
type Identity struct {
	UserID  string
	IsAdmin bool
}

// TokenResolver resolves bearer tokens to caller identities. It is
// initialized once at startup and shared by all route middleware.
type TokenResolver struct {
	tokens      map[string]Identity
	testingMode bool
}

// NewTokenResolver creates a TokenResolver from the application config.
// AuthTokens is a comma-separated list of token:userId[:admin] entries.
func NewTokenResolver(cfg *config.Config) *TokenResolver {
	tokens := map[string]Identity{}
	for _, entry := range strings.Split(cfg.AuthTokens, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) < 2 {
			log.Warn("Ignoring malformed auth token entry; expected token:userId[:admin]")
			continue
		}
		tokens[parts[0]] = Identity{
			UserID:  parts[1],
			IsAdmin: len(parts) > 2 && parts[2] == "admin",
		}
	}
	return &TokenResolver{
		tokens:      tokens,
		testingMode: cfg.Mode == config.ModeTesting,
	}
}

var errUnknownToken = errors.New("unknown bearer token")

// Resolve maps a raw bearer token (without the "Bearer " prefix) to an
// Identity. userIDHeader is the X-User-ID header, honored only in testing mode.
func (r *TokenResolver) Resolve(_ context.Context, bearerToken, userIDHeader string) (*Identity, error) {
	if r.testingMode {
		if hdr := strings.TrimSpace(userIDHeader); hdr != "" {
			return &Identity{UserID: hdr}, nil
		}
	}
	if id, ok := r.tokens[bearerToken]; ok {
		return &id, nil
	}
	if len(r.tokens) == 0 {
		// No tokens configured: treat the token as the user ID directly.
		// Suitable for single-user deployments behind a trusted proxy.
		return &Identity{UserID: bearerToken}, nil
	}
	return nil, errUnknownToken
}

// GetUserID returns the authenticated user ID from the gin context.
func GetUserID(c *gin.Context) string {
	return c.GetString(ContextKeyUserID)
}

// IsAdmin returns true if the request is from an admin.
func IsAdmin(c *gin.Context) bool {
	v, _ := c.Get(ContextKeyIsAdmin)
	b, _ := v.(bool)
	return b
}

// AuthMiddleware returns a gin middleware that extracts user identity from
// the Authorization header using the provided TokenResolver.
func AuthMiddleware(resolver *TokenResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")
		if auth == "" {
			log.Info("Auth rejected: missing Authorization header", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing Authorization header"})
			return
		}

		token := strings.TrimPrefix(auth, "Bearer ")
		if token == auth {
			log.Info("Auth rejected: invalid Authorization header; expected Bearer token", "method", c.Request.Method, "path", c.Request.URL.Path)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid Authorization header; expected Bearer token"})
			return
		}

		id, err := resolver.Resolve(c.Request.Context(), token, c.GetHeader("X-User-ID"))
		if err != nil {
			log.Info("Auth rejected", "method", c.Request.Method, "path", c.Request.URL.Path, "err", err)
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": err.Error()})
			return
		}

		c.Set(ContextKeyUserID, id.UserID)
		c.Set(ContextKeyIsAdmin, id.IsAdmin)
		c.Next()
	}
}

// RequireAdminRole requires the caller to be an admin.
func RequireAdminRole() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !IsAdmin(c) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}
