package accounts

import (
	"net/http"
	"strings"
)

// IsLocalURL reports whether u points back into this site.  Accepted are paths
// starting with a single "/" (not "//" or "/\") and app-relative "~/" paths.
// Absolute, scheme-relative and empty URLs are rejected.
func IsLocalURL(u string) bool {
	if u == "" {
		return false
	}
	if u[0] == '/' {
		if len(u) == 1 {
			return true
		}
		if u[1] == '/' || u[1] == '\\' {
			return false
		}
		return !containsControl(u)
	}
	if len(u) > 1 && u[0] == '~' && u[1] == '/' {
		if len(u) > 2 && (u[2] == '/' || u[2] == '\\') {
			return false
		}
		return !containsControl(u)
	}
	return false
}

// browsers strip tabs and newlines, which turns "/\t/evil" into "//evil"
func containsControl(s string) bool {
	return strings.ContainsFunc(s, func(r rune) bool { return r < 0x20 || r == 0x7f })
}

// redirectToLocal redirects to returnURL when it is local and to "/" otherwise
func redirectToLocal(w http.ResponseWriter, r *http.Request, returnURL string) {
	if !IsLocalURL(returnURL) {
		http.Redirect(w, r, "/", http.StatusFound)
		return
	}
	if strings.HasPrefix(returnURL, "~/") {
		returnURL = returnURL[1:]
	}
	http.Redirect(w, r, returnURL, http.StatusFound)
}
