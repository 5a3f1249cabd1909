package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"jobtalk/server/common/auth"
	"jobtalk/server/common/transport/httpresp"
)

const (
	ContextUserID      = "auth_user_id"
	ContextUserName    = "auth_user_name"
	ContextUserEmail   = "auth_user_email"
	ContextRole        = "auth_role"
	ContextAccessToken = "auth_access_token"
)

type identityVerifier interface {
	Authenticate(token string) (auth.Identity, error)
}

// BearerToken reads the credential from the Authorization header, falling back to the
// access_token/token query parameters that browser WebSocket clients have to use.
func BearerToken(c *gin.Context) (string, bool) {
	header := strings.TrimSpace(c.GetHeader("Authorization"))
	if strings.HasPrefix(header, "Bearer ") {
		if token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer ")); token != "" {
			return token, true
		}
	}
	token := strings.TrimSpace(c.Query("access_token"))
	if token == "" {
		token = strings.TrimSpace(c.Query("token"))
	}
	return token, token != ""
}

func AuthRequired(verifier identityVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrMissingBearerToken))
			return
		}
		token := strings.TrimPrefix(header, "Bearer ")
		identity, err := verifier.Authenticate(token)
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, httpresp.NewErrorResponse(httpresp.ErrInvalidToken))
			return
		}
		SetIdentity(c, identity)
		c.Set(ContextAccessToken, token)
		c.Next()
	}
}

func SetIdentity(c *gin.Context, identity auth.Identity) {
	c.Set(ContextUserID, identity.UserID)
	c.Set(ContextUserName, identity.Name)
	c.Set(ContextUserEmail, identity.Email)
	c.Set(ContextRole, identity.Role)
}

// IdentityFromContext returns the identity stored by AuthRequired.
func IdentityFromContext(c *gin.Context) (auth.Identity, bool) {
	userID := c.GetString(ContextUserID)
	if userID == "" {
		return auth.Identity{}, false
	}
	return auth.Identity{
		UserID: userID,
		Name:   c.GetString(ContextUserName),
		Email:  c.GetString(ContextUserEmail),
		Role:   c.GetString(ContextRole),
	}, true
}

func RequireRoles(roles ...string) gin.HandlerFunc {
	allowed := map[string]struct{}{}
	for _, role := range roles {
		allowed[strings.TrimSpace(role)] = struct{}{}
	}
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		if role == "" {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrForbidden))
			return
		}
		if _, ok := allowed[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, httpresp.NewErrorResponse(httpresp.ErrInsufficientRole))
			return
		}
		c.Next()
	}
}

// RequestTimeout bounds every request/response call so a slow store surfaces as an
// error instead of a hung client. Not applied to the live channel.
func RequestTimeout(d time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		if d <= 0 {
			c.Next()
			return
		}
		ctx, cancel := context.WithTimeout(c.Request.Context(), d)
		defer cancel()
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
