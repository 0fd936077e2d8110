package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
)

type userParamNameKey string

type Middleware struct {
	AuthTokenHeaderName string
	AuthTokenCookieName string
	UserParamName       string
	CallbackURLParam    string
	SessionGetter       func(r *http.Request, param string) any
	GetRedirURL         func(r *http.Request) string
	VerifyToken         func(ctx context.Context, tokenString string) (loggedInUserId string, claims *SessionClaims, err error)
	Logger              *slog.Logger
}

/**
 * Ensures that config values have reasonable defaults.
 */
func (a *Middleware) EnsureReasonableDefaults() {
	if a.UserParamName == "" {
		a.UserParamName = sessionUserIDKey
	}
	if a.CallbackURLParam == "" {
		a.CallbackURLParam = "returnUrl"
	}
	if a.AuthTokenHeaderName == "" {
		a.AuthTokenHeaderName = "Authorization"
	}
	if a.AuthTokenCookieName == "" {
		a.AuthTokenCookieName = DefaultAuthTokenCookieName
	}
	if a.Logger == nil {
		a.Logger = slog.Default()
	}
}

// Get the ID of the logged in user from the current request
func (a *Middleware) GetLoggedInUserId(r *http.Request) string {
	a.EnsureReasonableDefaults()
	if v, ok := r.Context().Value(userParamNameKey(a.UserParamName)).(string); ok && v != "" {
		return v
	}
	if userID := a.getSessionUserId(r); userID != "" {
		return userID
	}

	if a.VerifyToken == nil {
		return ""
	}

	// Otherwise check the Auth header, then the auth cookie for non-api calls
	var authTokens []string
	for _, h := range r.Header.Values(a.AuthTokenHeaderName) {
		authTokens = append(authTokens, strings.TrimPrefix(h, "Bearer "))
	}
	for _, cookie := range r.CookiesNamed(a.AuthTokenCookieName) {
		if len(cookie.Value) > 0 {
			authTokens = append(authTokens, cookie.Value)
		}
	}

	for _, authToken := range authTokens {
		loggedInUserId, _, err := a.VerifyToken(r.Context(), authToken)
		if err == nil && loggedInUserId != "" {
			return loggedInUserId
		} else if err != nil {
			a.Logger.Debug("auth token rejected", "error", err)
		}
	}
	return ""
}

/**
 * Fetches the user from the request and loads the user id into the request
 * context for other handlers.
 *
 * Note this does not perform any redirects if a valid user does not exist.
 * To also enforce a user exists, use the EnsureUser handler.
 */
func (a *Middleware) ExtractUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			userParam := a.GetLoggedInUserId(r)
			if userParam == "" {
				next.ServeHTTP(w, r)
				return
			}
			next.ServeHTTP(w, a.setLoggedInUserId(userParam, r))
		},
	)
}

func (a *Middleware) EnsureUser(next http.Handler) http.Handler {
	a.EnsureReasonableDefaults()
	return http.HandlerFunc(
		func(w http.ResponseWriter, r *http.Request) {
			userParam := a.GetLoggedInUserId(r)
			if userParam != "" {
				next.ServeHTTP(w, a.setLoggedInUserId(userParam, r))
				return
			}

			// Redirect to a login if user not logged in
			redirUrl := ""
			if a.GetRedirURL != nil {
				redirUrl = a.GetRedirURL(r)
			}
			if redirUrl == "" {
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}
			encodedUrl := strings.Replace(url.QueryEscape(r.URL.Path), "+", "%20", -1)
			fullRedirUrl := fmt.Sprintf("%s?%s=%s", redirUrl, a.CallbackURLParam, encodedUrl)
			http.Redirect(w, r, fullRedirUrl, http.StatusFound)
		},
	)
}

func (a *Middleware) getSessionUserId(r *http.Request) string {
	if a.SessionGetter == nil {
		return ""
	}
	if out, ok := a.SessionGetter(r, a.UserParamName).(string); ok {
		return out
	}
	return ""
}

// Set the logged in user id into the request's variable set
// This will make it available to all other handlers downstream
func (a *Middleware) setLoggedInUserId(userId string, r *http.Request) *http.Request {
	contextWithUser := context.WithValue(r.Context(), userParamNameKey(a.UserParamName), userId)
	return r.WithContext(contextWithUser)
}
