package accounts

import (
	"bytes"
	"embed"
	"fmt"
	"html/template"
	"log/slog"
	"net/http"
)

//go:embed views/*.html
var viewFS embed.FS

// View names
const (
	ViewHome                       = "home"
	ViewRegister                   = "register"
	ViewLogin                      = "login"
	ViewForgotPassword             = "forgot_password"
	ViewForgotPasswordConfirmation = "forgot_password_confirmation"
	ViewResetPassword              = "reset_password"
	ViewResetPasswordConfirmation  = "reset_password_confirmation"
	ViewConfirmEmail               = "confirm_email"
	ViewError                      = "error"
)

var viewTitles = map[string]string{
	ViewHome:                       "Home",
	ViewRegister:                   "Register",
	ViewLogin:                      "Log in",
	ViewForgotPassword:             "Forgot your password?",
	ViewForgotPasswordConfirmation: "Forgot Password Confirmation",
	ViewResetPassword:              "Reset password",
	ViewResetPasswordConfirmation:  "Reset password confirmation",
	ViewConfirmEmail:               "Confirm Email",
	ViewError:                      "Error",
}

// ViewData is passed to every template
type ViewData struct {
	Title            string
	UserEmail        string
	UserName         string
	AntiforgeryToken string
	ReturnURL        string
	Message          string

	// The submitted form, re-rendered on validation failure
	Form any

	// Field name -> message
	FieldErrors map[string]string

	// Messages not tied to a field, e.g. "DuplicateEmail Email 'x' is already taken."
	Errors []string
}

// Views renders the embedded page templates
type Views struct {
	templates map[string]*template.Template
	Logger    *slog.Logger
}

// LoadViews parses the embedded templates
func LoadViews() (*Views, error) {
	v := &Views{templates: make(map[string]*template.Template)}
	for name := range viewTitles {
		t, err := template.ParseFS(viewFS, "views/layout.html", "views/"+name+".html")
		if err != nil {
			return nil, fmt.Errorf("failed to parse view %s: %w", name, err)
		}
		v.templates[name] = t
	}
	return v, nil
}

// Render writes the named view with the given status
func (v *Views) Render(w http.ResponseWriter, status int, name string, data *ViewData) {
	t, ok := v.templates[name]
	if !ok {
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	if data.Title == "" {
		data.Title = viewTitles[name]
	}

	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, "layout", data); err != nil {
		logger := v.Logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Error("failed to render view", "view", name, "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	buf.WriteTo(w)
}
