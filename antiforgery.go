package accounts

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/alexedwards/scs/v2"
)

// Names under which the anti-forgery token is accepted
const (
	AntiforgeryFormField = "__RequestVerificationToken"
	AntiforgeryHeader    = "RequestVerificationToken"
)

const sessionAntiforgeryKey = "antiforgeryToken"

// Antiforgery issues a per-session token that every state-changing request must echo
// back, either as a form field or a header.
type Antiforgery struct {
	Session *scs.SessionManager
	Logger  *slog.Logger
}

// Token returns the session's token, creating one on first use
func (a *Antiforgery) Token(r *http.Request) (string, error) {
	ctx := r.Context()
	if token := a.Session.GetString(ctx, sessionAntiforgeryKey); token != "" {
		return token, nil
	}
	token, err := GenerateSecureToken()
	if err != nil {
		return "", err
	}
	a.Session.Put(ctx, sessionAntiforgeryKey, token)
	return token, nil
}

// Validate reports whether the request carries the session's token
func (a *Antiforgery) Validate(r *http.Request) bool {
	expected := a.Session.GetString(r.Context(), sessionAntiforgeryKey)
	if expected == "" {
		return false
	}
	submitted := r.Header.Get(AntiforgeryHeader)
	if submitted == "" {
		submitted = r.PostFormValue(AntiforgeryFormField)
	}
	return submitted != "" && subtle.ConstantTimeCompare([]byte(submitted), []byte(expected)) == 1
}

// Protect rejects unsafe requests that fail validation with 400
func (a *Antiforgery) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
			next.ServeHTTP(w, r)
			return
		}
		if !a.Validate(r) {
			logger := a.Logger
			if logger == nil {
				logger = slog.Default()
			}
			logger.Warn("anti-forgery validation failed", "method", r.Method, "path", r.URL.Path)
			http.Error(w, "Bad Request", http.StatusBadRequest)
			return
		}
		next.ServeHTTP(w, r)
	})
}
