// Package auth guards the control API with a static bearer token or basic credentials.
package auth

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"golang.org/x/crypto/bcrypt"
)

// PrincipalKey holds the authenticated principal in the gin context.
const PrincipalKey = "auth_principal"

var ErrInvalidBasic = errors.New("basic credentials must be in 'user:pass' format")

// Config enables authentication when Token or Basic is set. Both may be set.
type Config struct {
	Token string `json:"-" mapstructure:"token"`
	Basic string `json:"-" mapstructure:"basic"` // user:pass, pass may be a bcrypt hash
}

func (c Config) Enabled() bool { return c.Token != "" || c.Basic != "" }

func (c Config) Validate() error {
	if c.Basic == "" {
		return nil
	}
	if u, _, ok := strings.Cut(c.Basic, ":"); !ok || u == "" {
		return ErrInvalidBasic
	}
	return nil
}

type Middleware struct {
	cfg Config
}

func NewMiddleware(cfg Config) (*Middleware, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Middleware{cfg: cfg}, nil
}

// GinAuth rejects unauthenticated requests with 401 when auth is enabled.
func (m *Middleware) GinAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		if !m.cfg.Enabled() {
			c.Next()
			return
		}
		principal, ok := m.authenticate(c.Request)
		if !ok {
			if m.cfg.Basic != "" {
				c.Header("WWW-Authenticate", `Basic realm="httpit"`)
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "authentication required"})
			return
		}
		c.Set(PrincipalKey, principal)
		c.Next()
	}
}

func (m *Middleware) authenticate(r *http.Request) (string, bool) {
	if m.cfg.Token != "" {
		if tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer "); ok && equal(tok, m.cfg.Token) {
			return "token", true
		}
	}
	if m.cfg.Basic != "" {
		if u, p, ok := r.BasicAuth(); ok && m.basicMatches(u, p) {
			return u, true
		}
	}
	return "", false
}

// basicMatches accepts a plain "user:pass" or a bcrypt hash as the configured password.
func (m *Middleware) basicMatches(user, pass string) bool {
	wantUser, want, _ := strings.Cut(m.cfg.Basic, ":")
	if !equal(user, wantUser) {
		return false
	}
	if isBcrypt(want) {
		return bcrypt.CompareHashAndPassword([]byte(want), []byte(pass)) == nil
	}
	return equal(pass, want)
}

func isBcrypt(s string) bool {
	return strings.HasPrefix(s, "$2a$") || strings.HasPrefix(s, "$2b$") || strings.HasPrefix(s, "$2y$")
}

// HashPassword returns a bcrypt hash usable as the password part of Config.Basic.
func HashPassword(pass string) (string, error) {
	b, err := bcrypt.GenerateFromPassword([]byte(pass), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func equal(a, b string) bool {
	return subtle.ConstantTimeCompare([]byte(a), []byte(b)) == 1
}
