package accounts_test

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"regexp"
	"strings"
	"testing"

	acc "github.com/panyam/accounts"
	"github.com/panyam/accounts/stores"
)

const testPassword = "Passw0rd!"

var quietLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// testEnv wraps file system stores in a temporary directory
type testEnv struct {
	TmpDir string
	Users  *stores.FSUserStore
	Tokens *stores.FSTokenStore
	Email  *acc.RecordingEmailSender
	Mgr    *acc.UserManager
}

func setupEnv(t *testing.T) *testEnv {
	tmpDir, err := os.MkdirTemp("", "accounts-test-*")
	if err != nil {
		t.Fatalf("Failed to create temp dir: %v", err)
	}
	t.Cleanup(func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			t.Logf("Warning: failed to cleanup temp dir: %v", err)
		}
	})

	users := stores.NewFSUserStore(tmpDir)
	tokens := stores.NewFSTokenStore(tmpDir)
	mgr := (&acc.UserManager{
		Users:  users,
		Tokens: tokens,
		Hasher: &acc.BcryptHasher{Cost: 4},
		Logger: quietLogger,
	}).EnsureDefaults()
	return &testEnv{
		TmpDir: tmpDir,
		Users:  users,
		Tokens: tokens,
		Email:  &acc.RecordingEmailSender{},
		Mgr:    mgr,
	}
}

// createUser registers a user directly through the manager
func (e *testEnv) createUser(t *testing.T, email string, confirmed bool) *acc.User {
	t.Helper()
	ctx := context.Background()
	user := &acc.User{Email: email}
	result, err := e.Mgr.CreateUser(ctx, user, testPassword)
	if err != nil {
		t.Fatalf("CreateUser failed: %v", err)
	}
	if !result.Succeeded {
		t.Fatalf("CreateUser rejected: %v", result.Messages())
	}
	if confirmed {
		user.EmailConfirmed = true
		if err := e.Users.SaveUser(ctx, user); err != nil {
			t.Fatalf("SaveUser failed: %v", err)
		}
	}
	return user
}

func (e *testEnv) recovery() *acc.RecoveryFlow {
	return &acc.RecoveryFlow{
		Users:     e.Mgr,
		Email:     e.Email,
		ResetLink: acc.ResetLinkFunc("http://accounts.test"),
		Logger:    quietLogger,
	}
}

var (
	codePattern        = regexp.MustCompile(`code=([0-9a-f]+)`)
	userIDPattern      = regexp.MustCompile(`userId=([0-9a-f-]+)`)
	antiforgeryPattern = regexp.MustCompile(`name="__RequestVerificationToken" value="([^"]+)"`)
)

// codeFromEmail pulls the token out of an emailed link
func codeFromEmail(t *testing.T, msg *acc.Message) string {
	t.Helper()
	if msg == nil {
		t.Fatal("expected an email")
	}
	m := codePattern.FindStringSubmatch(msg.Content)
	if m == nil {
		t.Fatalf("no code in email body: %s", msg.Content)
	}
	return m[1]
}

// webApp is a running Accounts handler with a cookie-keeping client
type webApp struct {
	*testEnv
	Accounts *acc.Accounts
	Server   *httptest.Server
	Client   *http.Client
}

func setupWebApp(t *testing.T, configure func(a *acc.Accounts)) *webApp {
	env := setupEnv(t)
	a := &acc.Accounts{
		AppName:               "Test",
		UserStore:             env.Users,
		TokenStore:            env.Tokens,
		EmailSender:           env.Email,
		BaseURL:               "http://accounts.test",
		JWTSecretKey:          "test-secret",
		Users:                 env.Mgr,
		SendConfirmationEmail: true,
		Logger:                quietLogger,
	}
	if configure != nil {
		configure(a)
	}
	handler, err := a.Handler()
	if err != nil {
		t.Fatalf("Failed to build handler: %v", err)
	}
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	jar, _ := cookiejar.New(nil)
	client := &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	return &webApp{testEnv: env, Accounts: a, Server: server, Client: client}
}

// get fetches a page and returns the status and body
func (w *webApp) get(t *testing.T, path string) (*http.Response, string) {
	t.Helper()
	resp, err := w.Client.Get(w.Server.URL + path)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

// antiforgeryToken loads a form page and returns its hidden token
func (w *webApp) antiforgeryToken(t *testing.T, path string) string {
	t.Helper()
	_, body := w.get(t, path)
	m := antiforgeryPattern.FindStringSubmatch(body)
	if m == nil {
		t.Fatalf("no anti-forgery token on %s", path)
	}
	return m[1]
}

// post submits a form, fetching a fresh anti-forgery token first
func (w *webApp) post(t *testing.T, formPath, postPath string, form url.Values) (*http.Response, string) {
	t.Helper()
	form.Set(acc.AntiforgeryFormField, w.antiforgeryToken(t, formPath))
	return w.postRaw(t, postPath, form)
}

// postRaw submits a form as is
func (w *webApp) postRaw(t *testing.T, path string, form url.Values) (*http.Response, string) {
	t.Helper()
	resp, err := w.Client.PostForm(w.Server.URL+path, form)
	if err != nil {
		t.Fatalf("POST %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return resp, string(body)
}

func (w *webApp) register(t *testing.T, email, password string) (*http.Response, string) {
	t.Helper()
	return w.post(t, acc.PathRegister, acc.PathRegister, url.Values{
		"Email":           {email},
		"Password":        {password},
		"ConfirmPassword": {password},
	})
}

func (w *webApp) login(t *testing.T, email, password, returnURL string) (*http.Response, string) {
	t.Helper()
	path := acc.PathLogin
	if returnURL != "" {
		path += "?returnUrl=" + url.QueryEscape(returnURL)
	}
	return w.post(t, acc.PathLogin, path, url.Values{
		"Email":    {email},
		"Password": {password},
	})
}

func (w *webApp) logOff(t *testing.T) *http.Response {
	t.Helper()
	resp, _ := w.post(t, acc.PathLogin, acc.PathLogOff, url.Values{})
	return resp
}

// authToken returns the session JWT cookie the client holds
func (w *webApp) authToken(t *testing.T) string {
	t.Helper()
	serverURL, _ := url.Parse(w.Server.URL)
	for _, c := range w.Client.Jar.Cookies(serverURL) {
		if c.Name == w.Accounts.SignIn.AuthTokenCookieName {
			return c.Value
		}
	}
	t.Fatal("Expected an auth token cookie after sign-in")
	return ""
}

// getWithBearer fetches a page from a fresh client presenting only the bearer token
func (w *webApp) getWithBearer(t *testing.T, path, token string) string {
	t.Helper()
	req, _ := http.NewRequest(http.MethodGet, w.Server.URL+path, nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s failed: %v", path, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	return string(body)
}

func expectStatus(t *testing.T, resp *http.Response, want int) {
	t.Helper()
	if resp.StatusCode != want {
		t.Fatalf("Expected status %d, got %d", want, resp.StatusCode)
	}
}

func expectRedirect(t *testing.T, resp *http.Response, want string) {
	t.Helper()
	expectStatus(t, resp, http.StatusFound)
	if got := resp.Header.Get("Location"); got != want {
		t.Fatalf("Expected redirect to %q, got %q", want, got)
	}
}

func expectContains(t *testing.T, body, want string) {
	t.Helper()
	if !strings.Contains(body, want) {
		t.Errorf("Expected body to contain %q", want)
	}
}

func expectNotContains(t *testing.T, body, unwanted string) {
	t.Helper()
	if strings.Contains(body, unwanted) {
		t.Errorf("Expected body not to contain %q", unwanted)
	}
}
