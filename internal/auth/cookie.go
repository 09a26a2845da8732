package auth

import (
	"net/http"
	"strings"
	"time"
)

// SessionCookieName is the cookie carrying the session token.
const SessionCookieName = "orema_session"

// CookieConfig holds session cookie attributes
type CookieConfig struct {
	Secure bool
	Domain string
	// ClearPrefixes selects the cookies removed by ClearAll.
	ClearPrefixes []string
}

// CookieManager writes and clears the session cookie.
type CookieManager struct {
	cfg CookieConfig
}

// NewCookieManager creates a new CookieManager instance
func NewCookieManager(cfg CookieConfig) *CookieManager {
	return &CookieManager{cfg: cfg}
}

// SetSession stores token in an HttpOnly cookie that expires with the session.
func (m *CookieManager) SetSession(w http.ResponseWriter, token string, expiresAt time.Time) {
	maxAge := int(time.Until(expiresAt).Seconds())
	if maxAge < 1 {
		maxAge = 1
	}
	http.SetCookie(w, &http.Cookie{
		Name:     SessionCookieName,
		Value:    token,
		Path:     "/",
		Domain:   m.cfg.Domain,
		Expires:  expiresAt.UTC(),
		MaxAge:   maxAge,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	})
}

// ReadSession returns the session token, or "" when the cookie is absent.
func (m *CookieManager) ReadSession(r *http.Request) string {
	c, err := r.Cookie(SessionCookieName)
	if err != nil {
		return ""
	}
	return c.Value
}

// ClearSession expires the session cookie.
func (m *CookieManager) ClearSession(w http.ResponseWriter) {
	http.SetCookie(w, m.expired(SessionCookieName))
}

// ClearAll expires the session cookie and every request cookie whose name
// starts with one of the configured prefixes. It returns the names cleared.
func (m *CookieManager) ClearAll(w http.ResponseWriter, r *http.Request) []string {
	cleared := []string{SessionCookieName}
	http.SetCookie(w, m.expired(SessionCookieName))

	seen := map[string]bool{SessionCookieName: true}
	for _, c := range r.Cookies() {
		if seen[c.Name] || !m.matchesPrefix(c.Name) {
			continue
		}
		seen[c.Name] = true
		http.SetCookie(w, m.expired(c.Name))
		cleared = append(cleared, c.Name)
	}
	return cleared
}

func (m *CookieManager) matchesPrefix(name string) bool {
	for _, prefix := range m.cfg.ClearPrefixes {
		if prefix != "" && strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

func (m *CookieManager) expired(name string) *http.Cookie {
	c := &http.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Domain:   m.cfg.Domain,
		Expires:  time.Unix(0, 0).UTC(),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   m.cfg.Secure,
		SameSite: http.SameSiteLaxMode,
	}
	// Browsers ignore Set-Cookie for these prefixes without Secure.
	if strings.HasPrefix(name, "__Secure-") || strings.HasPrefix(name, "__Host-") {
		c.Secure = true
	}
	if strings.HasPrefix(name, "__Host-") {
		c.Domain = ""
	}
	return c
}
