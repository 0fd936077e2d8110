package accounts_test

import (
	"testing"

	acc "github.com/panyam/accounts"
)

func TestIsLocalURL(t *testing.T) {
	tests := []struct {
		url  string
		want bool
	}{
		{"/", true},
		{"/local/path", true},
		{"/Account/Manage?x=1", true},
		{"~/home", true},
		{"", false},
		{"http://evil.example/x", false},
		{"https://evil.example", false},
		{"//evil.example", false},
		{`/\evil.example`, false},
		{"~//evil.example", false},
		{"/\t/evil.example", false},
		{"javascript:alert(1)", false},
		{"relative/path", false},
	}
	for _, tt := range tests {
		if got := acc.IsLocalURL(tt.url); got != tt.want {
			t.Errorf("IsLocalURL(%q) = %v, want %v", tt.url, got, tt.want)
		}
	}
}

func TestValidEmail(t *testing.T) {
	valid := []string{"alice@example.com", "a.b+c@sub.example.org"}
	invalid := []string{"", "alice", "alice@", "Alice <alice@example.com>", "a b@example.com"}
	for _, e := range valid {
		if !acc.ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = false", e)
		}
	}
	for _, e := range invalid {
		if acc.ValidEmail(e) {
			t.Errorf("ValidEmail(%q) = true", e)
		}
	}
}

func TestIdentityResultMessages(t *testing.T) {
	r := acc.Failed(acc.IdentityError{Code: acc.ErrCodeInvalidToken, Description: "Invalid token."})
	msgs := r.Messages()
	if len(msgs) != 1 || msgs[0] != "InvalidToken Invalid token." {
		t.Errorf("Unexpected messages %v", msgs)
	}
	if !r.HasCode(acc.ErrCodeInvalidToken) || r.HasCode(acc.ErrCodeDuplicateEmail) {
		t.Error("HasCode mismatch")
	}
}
