package session

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	CookieName = "session_id"
	contextKey = "quiz.session"

	LoginRequiredMessage = "Please log in first."
)

// Middleware resolves the caller's token into a Session for later handlers.
// Lookup failures are logged and treated as anonymous.
func Middleware(store Store, logger *zap.Logger) gin.HandlerFunc {
	if logger == nil {
		logger = zap.NewNop()
	}
	return func(c *gin.Context) {
		var sess Session = Anonymous{}
		if token := Token(c); token != "" {
			s, err := store.Get(c.Request.Context(), token)
			if err != nil {
				logger.Warn("session lookup failed", zap.Error(err))
			} else {
				sess = s
			}
		}
		c.Set(contextKey, sess)
		c.Next()
	}
}

// RequireLogin aborts with 401 unless the request carries a logged-in session.
func RequireLogin() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !FromContext(c).Authenticated() {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": LoginRequiredMessage})
			return
		}
		c.Next()
	}
}

func FromContext(c *gin.Context) Session {
	if v, ok := c.Get(contextKey); ok {
		if s, ok := v.(Session); ok {
			return s
		}
	}
	return Anonymous{}
}

// Token reads the session cookie, falling back to a bearer token.
func Token(c *gin.Context) string {
	if cookie, err := c.Cookie(CookieName); err == nil && cookie != "" {
		return cookie
	}
	return bearerToken(c.GetHeader("Authorization"))
}

func bearerToken(header string) string {
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}
