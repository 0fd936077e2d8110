package accounts

import (
	"errors"
	"html"
	"log/slog"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/gorilla/schema"
)

// Paths served by the AccountController
const (
	PathHome                       = "/"
	PathRegister                   = "/Account/Register"
	PathLogin                      = "/Account/Login"
	PathLogOff                     = "/Account/LogOff"
	PathForgotPassword             = "/Account/ForgotPassword"
	PathForgotPasswordConfirmation = "/Account/ForgotPasswordConfirmation"
	PathResetPassword              = "/Account/ResetPassword"
	PathResetPasswordConfirmation  = "/Account/ResetPasswordConfirmation"
	PathConfirmEmail               = "/Account/ConfirmEmail"
)

// Subject of the account confirmation email sent after registration
const ConfirmEmailSubject = "Confirm your account"

const invalidLoginMessage = "Invalid login attempt."

// AccountController serves the account pages: register, log in, log off,
// forgot password, reset password and email confirmation.
type AccountController struct {
	Users    *UserManager
	SignIn   *SignInManager
	Recovery *RecoveryFlow

	// Optional.  When set, registration sends an email confirmation link.
	Email EmailSender

	// Absolute base for links placed in emails, without a trailing slash
	BaseURL string

	// Whether failed logins count toward lockout
	LockoutOnFailure bool

	Antiforgery *Antiforgery
	Middleware  *Middleware
	Views       *Views
	Metrics     *Metrics
	Logger      *slog.Logger

	decoder *schema.Decoder
}

func (c *AccountController) EnsureDefaults() *AccountController {
	if c.decoder == nil {
		c.decoder = schema.NewDecoder()
		c.decoder.IgnoreUnknownKeys(true)
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// RegisterRoutes adds the account routes to the router
func (c *AccountController) RegisterRoutes(r *mux.Router) {
	c.EnsureDefaults()
	r.HandleFunc(PathHome, c.Home).Methods(http.MethodGet)
	r.HandleFunc(PathRegister, c.RegisterForm).Methods(http.MethodGet)
	r.HandleFunc(PathRegister, c.Register).Methods(http.MethodPost)
	r.HandleFunc(PathLogin, c.LoginForm).Methods(http.MethodGet)
	r.HandleFunc(PathLogin, c.Login).Methods(http.MethodPost)
	r.Handle(PathLogOff, c.Middleware.EnsureUser(http.HandlerFunc(c.LogOff))).Methods(http.MethodPost)
	r.HandleFunc(PathForgotPassword, c.ForgotPasswordForm).Methods(http.MethodGet)
	r.HandleFunc(PathForgotPassword, c.ForgotPassword).Methods(http.MethodPost)
	r.HandleFunc(PathForgotPasswordConfirmation, c.ForgotPasswordConfirmation).Methods(http.MethodGet)
	r.HandleFunc(PathResetPassword, c.ResetPasswordForm).Methods(http.MethodGet)
	r.HandleFunc(PathResetPassword, c.ResetPassword).Methods(http.MethodPost)
	r.HandleFunc(PathResetPasswordConfirmation, c.ResetPasswordConfirmation).Methods(http.MethodGet)
	r.HandleFunc(PathConfirmEmail, c.ConfirmEmail).Methods(http.MethodGet)
}

// render fills in the per-request parts of the view data and writes the view
func (c *AccountController) render(w http.ResponseWriter, r *http.Request, status int, view string, data *ViewData) {
	if data == nil {
		data = &ViewData{}
	}
	token, err := c.Antiforgery.Token(r)
	if err != nil {
		c.Logger.Error("failed to issue anti-forgery token", "error", err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}
	data.AntiforgeryToken = token
	if userID := c.Middleware.GetLoggedInUserId(r); userID != "" {
		if user, err := c.Users.FindByID(r.Context(), userID); err == nil {
			data.UserEmail = user.Email
			data.UserName = user.DisplayName()
		}
	}
	c.Views.Render(w, status, view, data)
}

func (c *AccountController) serverError(w http.ResponseWriter, r *http.Request, err error) {
	c.Logger.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	c.render(w, r, http.StatusInternalServerError, ViewError, &ViewData{})
}

func (c *AccountController) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	c.render(w, r, http.StatusBadRequest, ViewError, &ViewData{Message: message})
}

// decodeForm binds the posted form into dst.  Binding failures are reported as
// a non-field error so the form is shown again.
func (c *AccountController) decodeForm(r *http.Request, dst any) error {
	c.EnsureDefaults()
	if err := r.ParseForm(); err != nil {
		return err
	}
	return c.decoder.Decode(dst, r.PostForm)
}

func (c *AccountController) Home(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, http.StatusOK, ViewHome, nil)
}

func (c *AccountController) RegisterForm(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, http.StatusOK, ViewRegister, &ViewData{Form: &RegisterForm{}})
}

func (c *AccountController) Register(w http.ResponseWriter, r *http.Request) {
	form := &RegisterForm{}
	if err := c.decodeForm(r, form); err != nil {
		c.render(w, r, http.StatusOK, ViewRegister, &ViewData{Form: form, Errors: []string{"The submitted form is invalid."}})
		return
	}
	if errs := form.Validate(); len(errs) > 0 {
		c.Metrics.registration("invalid")
		c.render(w, r, http.StatusOK, ViewRegister, &ViewData{Form: form, FieldErrors: errs})
		return
	}

	ctx := r.Context()
	user := &User{Email: form.Email, FirstName: form.FirstName, LastName: form.LastName}
	result, err := c.Users.CreateUser(ctx, user, form.Password)
	if err != nil {
		c.serverError(w, r, err)
		return
	}
	if !result.Succeeded {
		c.Metrics.registration("rejected")
		c.render(w, r, http.StatusOK, ViewRegister, &ViewData{Form: form, Errors: result.Messages()})
		return
	}

	if _, err := c.Users.AddToRole(ctx, user, RoleUser); err != nil {
		c.serverError(w, r, err)
		return
	}
	c.Metrics.registration("succeeded")
	c.sendConfirmation(r, user)
	http.Redirect(w, r, PathHome, http.StatusFound)
}

// sendConfirmation emails an account confirmation link.  The account already exists
// at this point, so failures are logged rather than failing the registration.
func (c *AccountController) sendConfirmation(r *http.Request, user *User) {
	if c.Email == nil {
		return
	}
	ctx := r.Context()
	token, err := c.Users.GenerateEmailConfirmationToken(ctx, user)
	if err != nil {
		c.Logger.Error("failed to issue confirmation token", "user_id", user.ID, "error", err)
		return
	}
	q := url.Values{}
	q.Set("userId", user.ID)
	q.Set("code", token)
	link := c.BaseURL + PathConfirmEmail + "?" + q.Encode()
	msg := &Message{
		To:      []string{user.Email},
		Subject: ConfirmEmailSubject,
		Content: `Please confirm your account by clicking here: <a href="` + html.EscapeString(link) + `">link</a>`,
	}
	if err := c.Email.Send(ctx, msg); err != nil {
		c.Metrics.email("failed")
		c.Logger.Error("failed to send confirmation email", "user_id", user.ID, "error", err)
		return
	}
	c.Metrics.email("sent")
}

func (c *AccountController) LoginForm(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, http.StatusOK, ViewLogin, &ViewData{
		Form:      &LoginForm{},
		ReturnURL: r.URL.Query().Get("returnUrl"),
	})
}

func (c *AccountController) Login(w http.ResponseWriter, r *http.Request) {
	returnURL := r.URL.Query().Get("returnUrl")
	form := &LoginForm{}
	if err := c.decodeForm(r, form); err != nil {
		c.render(w, r, http.StatusOK, ViewLogin, &ViewData{Form: form, ReturnURL: returnURL, Errors: []string{invalidLoginMessage}})
		return
	}
	if errs := form.Validate(); len(errs) > 0 {
		c.render(w, r, http.StatusOK, ViewLogin, &ViewData{Form: form, ReturnURL: returnURL, FieldErrors: errs})
		return
	}

	result, err := c.SignIn.PasswordSignIn(w, r, form.Email, form.Password, form.RememberMe, c.LockoutOnFailure)
	if err != nil {
		c.serverError(w, r, err)
		return
	}
	switch {
	case result.Succeeded:
		redirectToLocal(w, r, returnURL)
	case result.IsLockedOut:
		c.render(w, r, http.StatusOK, ViewLogin, &ViewData{Form: form, ReturnURL: returnURL,
			Errors: []string{"User account locked out."}})
	default:
		c.render(w, r, http.StatusOK, ViewLogin, &ViewData{Form: form, ReturnURL: returnURL,
			Errors: []string{invalidLoginMessage}})
	}
}

func (c *AccountController) LogOff(w http.ResponseWriter, r *http.Request) {
	if err := c.SignIn.SignOut(w, r, c.Middleware.GetLoggedInUserId(r)); err != nil {
		c.serverError(w, r, err)
		return
	}
	http.Redirect(w, r, PathHome, http.StatusFound)
}

func (c *AccountController) ForgotPasswordForm(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, http.StatusOK, ViewForgotPassword, &ViewData{Form: &ForgotPasswordForm{}})
}

// ForgotPassword always shows the same confirmation page once the form is valid,
// whether or not the email belongs to an account.
func (c *AccountController) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	form := &ForgotPasswordForm{}
	if err := c.decodeForm(r, form); err != nil {
		c.render(w, r, http.StatusOK, ViewForgotPassword, &ViewData{Form: form, Errors: []string{"The submitted form is invalid."}})
		return
	}
	if errs := form.Validate(); len(errs) > 0 {
		c.render(w, r, http.StatusOK, ViewForgotPassword, &ViewData{Form: form, FieldErrors: errs})
		return
	}

	if _, err := c.Recovery.RequestReset(r.Context(), form.Email); err != nil {
		c.serverError(w, r, err)
		return
	}
	c.render(w, r, http.StatusOK, ViewForgotPasswordConfirmation, nil)
}

func (c *AccountController) ForgotPasswordConfirmation(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, http.StatusOK, ViewForgotPasswordConfirmation, nil)
}

func (c *AccountController) ResetPasswordForm(w http.ResponseWriter, r *http.Request) {
	code := r.URL.Query().Get("code")
	if code == "" {
		c.badRequest(w, r, "A code must be supplied for password reset.")
		return
	}
	c.render(w, r, http.StatusOK, ViewResetPassword, &ViewData{Form: &ResetPasswordForm{Code: code}})
}

func (c *AccountController) ResetPassword(w http.ResponseWriter, r *http.Request) {
	form := &ResetPasswordForm{}
	if err := c.decodeForm(r, form); err != nil {
		c.render(w, r, http.StatusOK, ViewResetPassword, &ViewData{Form: form, Errors: []string{"The submitted form is invalid."}})
		return
	}
	if errs := form.Validate(); len(errs) > 0 {
		c.render(w, r, http.StatusOK, ViewResetPassword, &ViewData{Form: form, FieldErrors: errs})
		return
	}

	outcome, err := c.Recovery.ResetPassword(r.Context(), ResetRequest{
		Email:    form.Email,
		Code:     form.Code,
		Password: form.Password,
	})
	if err != nil {
		c.serverError(w, r, err)
		return
	}
	if outcome.State == RecoveryCompleted {
		http.Redirect(w, r, PathResetPasswordConfirmation, http.StatusFound)
		return
	}
	c.render(w, r, http.StatusOK, ViewResetPassword, &ViewData{Form: form, Errors: outcome.Errors})
}

func (c *AccountController) ResetPasswordConfirmation(w http.ResponseWriter, r *http.Request) {
	c.render(w, r, http.StatusOK, ViewResetPasswordConfirmation, nil)
}

func (c *AccountController) ConfirmEmail(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("userId")
	code := r.URL.Query().Get("code")
	if userID == "" || code == "" {
		c.badRequest(w, r, "")
		return
	}

	ctx := r.Context()
	user, err := c.Users.FindByID(ctx, userID)
	if errors.Is(err, ErrUserNotFound) {
		c.badRequest(w, r, "")
		return
	}
	if err != nil {
		c.serverError(w, r, err)
		return
	}

	result, err := c.Users.ConfirmEmail(ctx, user, code)
	if err != nil {
		c.serverError(w, r, err)
		return
	}
	if !result.Succeeded {
		c.badRequest(w, r, "")
		return
	}
	c.render(w, r, http.StatusOK, ViewConfirmEmail, nil)
}
