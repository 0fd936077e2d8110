package senders

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	acc "github.com/panyam/accounts"
)

type capturedRequest struct {
	Path   string
	Auth   string
	Body   map[string]any
	Method string
}

func newSendGridServer(t *testing.T, status int) (*httptest.Server, *capturedRequest) {
	t.Helper()
	captured := &capturedRequest{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured.Path = r.URL.Path
		captured.Auth = r.Header.Get("Authorization")
		captured.Method = r.Method
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &captured.Body)
		w.WriteHeader(status)
	}))
	t.Cleanup(srv.Close)
	return srv, captured
}

func TestSendGridSenderSend(t *testing.T) {
	srv, captured := newSendGridServer(t, http.StatusAccepted)
	sender := NewSendGridSender("SG.key", "Accounts", "noreply@example.com")
	sender.Host = srv.URL

	err := sender.Send(context.Background(), &acc.Message{
		To:      []string{"a@example.com", "b@example.com"},
		Subject: acc.ResetEmailSubject,
		Content: acc.ResetEmailBody("https://example.com/reset"),
	})
	require.NoError(t, err)

	assert.Equal(t, "/v3/mail/send", captured.Path)
	assert.Equal(t, "POST", captured.Method)
	assert.Equal(t, "Bearer SG.key", captured.Auth)
	assert.Equal(t, acc.ResetEmailSubject, captured.Body["subject"])

	personalizations := captured.Body["personalizations"].([]any)
	require.Len(t, personalizations, 1)
	tos := personalizations[0].(map[string]any)["to"].([]any)
	assert.Len(t, tos, 2)

	content := captured.Body["content"].([]any)[0].(map[string]any)
	assert.Equal(t, "text/html", content["type"])
	assert.Contains(t, content["value"], "https://example.com/reset")
}

func TestSendGridSenderRejected(t *testing.T) {
	srv, _ := newSendGridServer(t, http.StatusUnauthorized)
	sender := NewSendGridSender("bad", "", "noreply@example.com")
	sender.Host = srv.URL

	err := sender.Send(context.Background(), &acc.Message{To: []string{"a@example.com"}, Subject: "s", Content: "c"})
	assert.Error(t, err)
}

func TestSendGridSenderNoRecipients(t *testing.T) {
	sender := NewSendGridSender("k", "", "noreply@example.com")
	err := sender.Send(context.Background(), &acc.Message{Subject: "s", Content: "c"})
	assert.Error(t, err)
}
