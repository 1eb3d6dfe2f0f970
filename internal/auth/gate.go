package auth

import (
	"context"
	"net/http"
	"strings"

	"github.com/julienschmidt/httprouter"

	"github.com/loqui/pulse/internal/channel"
	"github.com/loqui/pulse/internal/metrics"
	"github.com/loqui/pulse/internal/store"
)

type contextKey struct{}

var userKey contextKey

// UserFromContext returns the identity the gate attached to the request.
func UserFromContext(ctx context.Context) (*store.User, bool) {
	user, ok := ctx.Value(userKey).(*store.User)
	return user, ok
}

// UserFinder resolves an identity-provider subject to a local user record.
type UserFinder interface {
	FindUserBySubject(ctx context.Context, subject string) (*store.User, error)
}

// Gate authorizes streaming requests before any stream resources exist. A
// connection may only ever open the authenticated user's own channel.
type Gate struct {
	verifier Verifier
	users    UserFinder
	origin   string
}

func NewGate(verifier Verifier, users UserFinder, origin string) *Gate {
	return &Gate{
		verifier: verifier,
		users:    users,
		origin:   origin,
	}
}

// Protect wraps a stream handler. Rejections are uniform: the response never
// reveals whether the token was missing, invalid or bound to another user.
func (g *Gate) Protect(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, p httprouter.Params) {
		if isPreflight(r) {
			g.preflight(w)
			return
		}

		token := BearerToken(r)
		if token == "" {
			g.reject(w)
			return
		}

		subject, err := g.verifier.Verify(token)
		if err != nil {
			g.reject(w)
			return
		}

		user, err := g.users.FindUserBySubject(r.Context(), subject)
		if err != nil {
			g.reject(w)
			return
		}

		requested := p.ByName("channel")
		if channel.Validate(requested) != nil || requested != channel.ForUser(user.ID) {
			g.reject(w)
			return
		}

		ctx := context.WithValue(r.Context(), userKey, user)
		next(w, r.WithContext(ctx), p)
	}
}

// BearerToken extracts the credential from the Authorization header, falling
// back to the token query parameter for EventSource clients that cannot set
// headers.
func BearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}

	return r.URL.Query().Get("token")
}

// Preflight answers cross-origin probes without touching the identity
// provider. Wire it as the router's global OPTIONS handler.
func (g *Gate) Preflight() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		g.preflight(w)
	})
}

func isPreflight(r *http.Request) bool {
	return r.Header.Get("Access-Control-Request-Method") != "" || r.Method == http.MethodOptions
}

func (g *Gate) reject(w http.ResponseWriter) {
	metrics.AuthRejected.Inc()

	w.Header().Set("Content-Type", "text/plain")
	if g.origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", g.origin)
		w.Header().Set("Access-Control-Allow-Credentials", "true")
	}
	w.WriteHeader(http.StatusForbidden)
	_, _ = w.Write([]byte("Forbidden"))
}

func (g *Gate) preflight(w http.ResponseWriter) {
	if g.origin != "" {
		w.Header().Set("Access-Control-Allow-Origin", g.origin)
	}
	w.Header().Set("Access-Control-Allow-Headers", "authorization, content-type")
	w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
	w.Header().Set("Access-Control-Allow-Credentials", "true")
	w.Header().Set("Access-Control-Max-Age", "86400")
	w.WriteHeader(http.StatusOK)
}
