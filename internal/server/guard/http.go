package guard

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/dmitrijs2005/clinicguard/internal/common"
	"github.com/dmitrijs2005/clinicguard/internal/server/models"
	"github.com/dmitrijs2005/clinicguard/internal/server/reqctx"
)

// StatusFor maps a reason to its HTTP status.
func StatusFor(r Reason) int {
	switch r {
	case ReasonUnauthenticated, ReasonInvalidCredentials:
		return http.StatusUnauthorized
	case ReasonForbidden, ReasonLocked:
		return http.StatusForbidden
	case ReasonValidation:
		return http.StatusBadRequest
	case ReasonRateLimited:
		return http.StatusTooManyRequests
	default:
		return http.StatusInternalServerError
	}
}

// WriteDenied answers with {"error": reason, "message": msg}.
func WriteDenied(w http.ResponseWriter, r Reason, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(StatusFor(r))
	_ = json.NewEncoder(w).Encode(map[string]string{"error": string(r), "message": msg})
}

var messages = map[Reason]string{
	ReasonUnauthenticated:    "authentication required",
	ReasonForbidden:          "you do not have permission to perform this action",
	ReasonLocked:             "account locked, contact an administrator",
	ReasonTransactionError:   "the operation could not be completed",
	ReasonInvalidCredentials: "invalid email or password",
	ReasonValidation:         "invalid input",
	ReasonRateLimited:        "too many attempts, try again later",
}

// Message is the caller-facing text for a reason.
func Message(r Reason) string {
	if m, ok := messages[r]; ok {
		return m
	}
	return string(r)
}

// SessionCookieName carries the access token for browser clients.
const SessionCookieName = "clinic_session"

// requestToken reads the bearer token, falling back to the session cookie.
func requestToken(r *http.Request) string {
	h := r.Header.Get("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "Bearer ") {
		return strings.TrimSpace(h[7:])
	}
	if c, err := r.Cookie(SessionCookieName); err == nil {
		return c.Value
	}
	return ""
}

// wantsJSON decides between a JSON denial and a redirect to the login page.
func wantsJSON(r *http.Request) bool {
	return strings.HasPrefix(r.URL.Path, "/api/") ||
		strings.Contains(r.Header.Get("Accept"), "application/json") ||
		r.Header.Get("Authorization") != ""
}

// Middleware attaches the principal named by the request token and runs the
// session integrity check. Requests without a usable token continue as
// anonymous.
func (g *Guard) Middleware(resolver SessionResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()

			token := requestToken(r)
			if token == "" {
				next.ServeHTTP(w, r)
				return
			}

			p, err := resolver.ParseSession(ctx, token)
			if err != nil {
				if !tokenRejected(err) {
					g.log.Error(ctx, "session lookup failed", "error", err)
					WriteDenied(w, ReasonTransactionError, messages[ReasonTransactionError])
					return
				}
				g.log.Debug(ctx, "ignoring unusable access token", "error", err)
				next.ServeHTTP(w, r)
				return
			}

			d, err := g.CheckSession(ctx, p)
			if err != nil {
				g.log.Error(ctx, "session check failed", "error", err)
				WriteDenied(w, ReasonTransactionError, messages[ReasonTransactionError])
				return
			}
			if !d.Allowed {
				if wantsJSON(r) {
					WriteDenied(w, d.Reason, messages[d.Reason])
				} else {
					http.Redirect(w, r, common.LoginPath, http.StatusSeeOther)
				}
				return
			}

			next.ServeHTTP(w, r.WithContext(reqctx.WithPrincipal(ctx, p)))
		})
	}
}

// RequireRoles admits only principals whose role is in roles.
func (g *Guard) RequireRoles(roles models.RoleSet) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			d := g.Authorize(r.Context(), reqctx.Principal(r.Context()), r.URL.Path, roles)
			if !d.Allowed {
				WriteDenied(w, d.Reason, messages[d.Reason])
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
