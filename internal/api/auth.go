package api

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Identity issuance happens outside this service; what arrives here is
// a bearer token of the form "<userID>.<signature>" where the
// signature is an HMAC-SHA256 over the user ID. Verifying the HMAC
// locally means no network call on the hot path and no pipeline work
// for unauthenticated callers.

// ErrUnauthenticated indicates the request carried no valid identity.
var ErrUnauthenticated = errors.New("not authenticated")

// Authenticator resolves a request to a user ID.
type Authenticator interface {
	UserID(r *http.Request) (string, error)
}

// HMACAuthenticator verifies signed bearer tokens with a shared secret.
type HMACAuthenticator struct {
	secret []byte
}

// NewHMACAuthenticator creates an authenticator. The secret must match
// the one the token issuer signs with and be at least 32 bytes.
func NewHMACAuthenticator(secret []byte) (*HMACAuthenticator, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth secret must be at least 32 bytes")
	}
	return &HMACAuthenticator{secret: secret}, nil
}

// UserID extracts and verifies the bearer token from the request.
func (a *HMACAuthenticator) UserID(r *http.Request) (string, error) {
	auth := r.Header.Get("Authorization")
	token, ok := strings.CutPrefix(auth, "Bearer ")
	if !ok || token == "" {
		return "", ErrUnauthenticated
	}

	userID, sig, ok := strings.Cut(token, ".")
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: malformed token", ErrUnauthenticated)
	}

	want := a.Sign(userID)
	if !hmac.Equal([]byte(sig), []byte(want)) {
		return "", fmt.Errorf("%w: bad signature", ErrUnauthenticated)
	}
	return userID, nil
}

// Sign returns the signature part of a token for the given user ID.
// Exposed for token issuance in tooling and tests.
func (a *HMACAuthenticator) Sign(userID string) string {
	mac := hmac.New(sha256.New, a.secret)
	mac.Write([]byte(userID))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

// Token returns a complete bearer token for the given user ID.
func (a *HMACAuthenticator) Token(userID string) string {
	return userID + "." + a.Sign(userID)
}
