// Package identity gives each browser a stable anonymous user id, carried in
// a cookie and exposed to handlers through the request context.
package identity

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AnonCookieName is the cookie holding the anonymous user id.
const AnonCookieName = "prosim_anon_id"

const (
	anonPrefix = "anon_"
	cookieTTL  = 30 * 24 * time.Hour
)

type contextKey struct{}

// UserIDFromContext returns the user id attached by Middleware, or "".
func UserIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(contextKey{}).(string)
	return id
}

// WithUserID returns a context carrying userID.
func WithUserID(ctx context.Context, userID string) context.Context {
	return context.WithValue(ctx, contextKey{}, userID)
}

// Issuer hands out and renews anonymous ids.
type Issuer struct {
	secure bool
	newID  func() uuid.UUID
	now    func() time.Time
}

// NewIssuer creates an issuer. Cookies are marked Secure unless isDev.
func NewIssuer(isDev bool) *Issuer {
	return &Issuer{secure: !isDev, newID: uuid.New, now: time.Now}
}

// Middleware is shorthand for NewIssuer(isDev).Middleware.
func Middleware(isDev bool) func(http.Handler) http.Handler {
	return NewIssuer(isDev).Middleware
}

// Middleware attaches the caller's id to the request context. A missing or
// malformed cookie gets a fresh id; a valid one has its expiry extended.
func (i *Issuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := ""
		if c, err := r.Cookie(AnonCookieName); err == nil && validID(c.Value) {
			id = c.Value
		} else {
			id = anonPrefix + i.newID().String()
		}
		http.SetCookie(w, i.cookie(id))
		next.ServeHTTP(w, r.WithContext(WithUserID(r.Context(), id)))
	})
}

func (i *Issuer) cookie(id string) *http.Cookie {
	return &http.Cookie{
		Name:     AnonCookieName,
		Value:    id,
		Path:     "/",
		MaxAge:   int(cookieTTL.Seconds()),
		Expires:  i.now().Add(cookieTTL),
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   i.secure,
	}
}

// validID accepts only ids this package could have issued: the prefix and a
// canonical random (version 4) UUID.
func validID(id string) bool {
	raw, ok := strings.CutPrefix(id, anonPrefix)
	if !ok || len(raw) != 36 {
		return false
	}
	u, err := uuid.Parse(raw)
	return err == nil && u.Version() == 4 && u.String() == raw
}
