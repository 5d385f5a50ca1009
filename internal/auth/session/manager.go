package session

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/studyowl/creditgate/internal/config"
)

// DefaultCookieName is used when AUTH_COOKIE_NAME is not set.
const DefaultCookieName = "_sid"

// Manager reads and writes the session cookie. Tokens are opaque here;
// validation belongs to the auth service.
type Manager struct {
	cookieName string
	secure     bool
}

func NewManager(cfg config.Config) *Manager {
	name := strings.TrimSpace(cfg.AuthCookieName)
	if name == "" {
		name = DefaultCookieName
	}
	return &Manager{
		cookieName: name,
		secure:     cfg.AuthCookieSecure,
	}
}

func (m *Manager) CookieName() string {
	return m.cookieName
}

// ReadToken extracts the session token from the request, if present.
// A blank cookie counts as absent.
func (m *Manager) ReadToken(c *gin.Context) (string, bool) {
	token, err := c.Cookie(m.cookieName)
	if err != nil || strings.TrimSpace(token) == "" {
		return "", false
	}
	return token, true
}

// Set writes the session cookie with a max age matching the token's
// remaining lifetime. HttpOnly and SameSite=Lax always apply.
func (m *Manager) Set(c *gin.Context, value string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 0 {
		maxAge = 0
	}
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, value, maxAge, "/", "", m.secure, true)
}

// Clear expires the cookie immediately.
func (m *Manager) Clear(c *gin.Context) {
	c.SetSameSite(http.SameSiteLaxMode)
	c.SetCookie(m.cookieName, "", -1, "/", "", m.secure, true)
}
