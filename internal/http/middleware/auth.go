// Package middleware: Bearer authentication
//
// BearerAuth guards the admin and Power Automate routes. A request is let
// through only with a token the TokenValidator accepts; every refusal is the
// same 403 body, whether the header was missing, malformed, expired or
// signed with a revoked key.
package middleware

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/notify-bot/internal/auth"
)

// subjectKey is the gin context key holding the token subject.
const subjectKey = "auth.subject"

// TokenValidator checks a bearer token and returns its subject.
// *auth.TokenService implements it.
type TokenValidator interface {
	Subject(ctx context.Context, token string) (string, bool)
}

// BearerAuth rejects requests without a valid "Authorization: Bearer" token
// with 403 and a body that never tells the reasons apart. On success the
// token subject is stored for SubjectFrom and the rate limiter.
func BearerAuth(v TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := auth.BearerToken(c.GetHeader("Authorization"))
		if !ok {
			forbid(c)
			return
		}
		sub, valid := v.Subject(c.Request.Context(), token)
		if !valid {
			forbid(c)
			return
		}
		c.Set(subjectKey, sub)
		c.Next()
	}
}

// SubjectFrom returns the subject of the validated bearer token.
func SubjectFrom(c *gin.Context) (string, bool) {
	v, ok := c.Get(subjectKey)
	if !ok {
		return "", false
	}
	s, _ := v.(string)
	return s, s != ""
}

func forbid(c *gin.Context) {
	c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
		"status": gin.H{"code": http.StatusForbidden, "message": "Forbidden"},
	})
}
