package web

import (
	"crypto/subtle"
	"net/http"
	"strings"
	"sync"
	"time"

	auth "github.com/goliatone/go-dashboard-auth"
	"github.com/goliatone/go-router"
	"github.com/google/uuid"
)

// OperatorCookie carries the key issued to the browser that signed in.
const OperatorCookie = "dashboard_operator"

// operatorGrant binds the one issued key to the identity it was issued for.
// The server holds a single session, so only the caller that established
// it may act with it.
type operatorGrant struct {
	mu       sync.Mutex
	key      string
	identity uuid.UUID
}

func (g *operatorGrant) issue(identity uuid.UUID) string {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.key = uuid.NewString()
	g.identity = identity
	return g.key
}

func (g *operatorGrant) revoke() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.key = ""
	g.identity = uuid.Nil
}

func (g *operatorGrant) matches(key string, identity uuid.UUID) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.key == "" || key == "" || g.identity != identity {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(g.key), []byte(key)) == 1
}

// RequireOperator rejects requests that do not come from the signed in
// operator: either the cookie issued at sign in or the session access
// token as a bearer token.
func (c *Controller) RequireOperator() router.MiddlewareFunc {
	return func(next router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if !c.authorized(ctx) {
				return c.writeError(ctx, errOperatorRequired, http.StatusUnauthorized)
			}
			return next(ctx)
		}
	}
}

func (c *Controller) authorized(ctx router.Context) bool {
	state := c.surface(ctx).State()
	if !state.Authenticated() {
		return false
	}

	if header := ctx.Header("Authorization"); strings.HasPrefix(header, "Bearer ") && state.Session != nil {
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if token != "" && subtle.ConstantTimeCompare([]byte(token), []byte(state.Session.AccessToken)) == 1 {
			return true
		}
	}

	return c.operator.matches(ctx.Cookies(OperatorCookie), state.Identity.ID)
}

func (c *Controller) grantOperator(ctx router.Context, state auth.State) {
	if !state.Authenticated() {
		return
	}
	key := c.operator.issue(state.Identity.ID)
	ctx.Cookie(&router.Cookie{
		Name:     OperatorCookie,
		Value:    key,
		Path:     "/",
		Expires:  time.Now().Add(24 * time.Hour),
		HTTPOnly: true,
		Secure:   c.SecureCookies,
		SameSite: "Strict",
	})
}

func (c *Controller) revokeOperator(ctx router.Context) {
	c.operator.revoke()
	c.deleteCookie(ctx, OperatorCookie)
}

func (c *Controller) deleteCookie(ctx router.Context, name string) {
	ctx.Cookie(&router.Cookie{
		Name:     name,
		Value:    "",
		Path:     "/",
		Expires:  time.Now().Add(-time.Hour * (24 * 365)),
		HTTPOnly: true,
		Secure:   c.SecureCookies,
		SameSite: "Lax",
	})
}
