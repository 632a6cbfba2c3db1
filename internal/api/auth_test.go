package api

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

const testSecret = "0123456789abcdef0123456789abcdef"

func TestNewHMACAuthenticator_RejectsShortSecret(t *testing.T) {
	t.Parallel()

	if _, err := NewHMACAuthenticator([]byte("too short")); err == nil {
		t.Error("NewHMACAuthenticator(short secret) error = nil, want failure")
	}
}

func TestHMACAuthenticator_RoundTrip(t *testing.T) {
	t.Parallel()

	auth, err := NewHMACAuthenticator([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewHMACAuthenticator() unexpected error: %v", err)
	}

	r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
	r.Header.Set("Authorization", "Bearer "+auth.Token("user-42"))

	userID, err := auth.UserID(r)
	if err != nil {
		t.Fatalf("UserID() unexpected error: %v", err)
	}
	if userID != "user-42" {
		t.Errorf("UserID() = %q, want user-42", userID)
	}
}

func TestHMACAuthenticator_Rejections(t *testing.T) {
	t.Parallel()

	auth, err := NewHMACAuthenticator([]byte(testSecret))
	if err != nil {
		t.Fatalf("NewHMACAuthenticator() unexpected error: %v", err)
	}
	other, err := NewHMACAuthenticator([]byte(strings.Repeat("x", 32)))
	if err != nil {
		t.Fatalf("NewHMACAuthenticator() unexpected error: %v", err)
	}

	tests := []struct {
		name   string
		header string
	}{
		{"missing header", ""},
		{"not bearer", "Basic dXNlcjpwdw=="},
		{"empty token", "Bearer "},
		{"no separator", "Bearer user-42"},
		{"empty user", "Bearer ." + auth.Sign("user-42")},
		{"bad signature", "Bearer user-42.not-a-real-signature"},
		{"signature for other user", "Bearer user-42." + auth.Sign("user-43")},
		{"signed with different secret", "Bearer " + other.Token("user-42")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodPost, "/api/chat", nil)
			if tt.header != "" {
				r.Header.Set("Authorization", tt.header)
			}
			if _, err := auth.UserID(r); !errors.Is(err, ErrUnauthenticated) {
				t.Errorf("UserID() error = %v, want ErrUnauthenticated", err)
			}
		})
	}
}
