// Package token issues and verifies the HMAC-signed bearer tokens clients
// present on login. A token binds a user id to an expiry time; the signature
// covers both, keyed by the gateway's configured secret.
package token

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var (
	// ErrMalformed is returned for tokens that don't parse.
	ErrMalformed = errors.New("token: malformed token")

	// ErrBadSignature is returned when the signature doesn't verify.
	ErrBadSignature = errors.New("token: invalid signature")

	// ErrExpired is returned for structurally valid but expired tokens.
	ErrExpired = errors.New("token: expired")
)

// Signer issues and verifies tokens with a shared secret.
type Signer struct {
	secret []byte
	now    func() time.Time
}

// NewSigner creates a Signer from the configured secret.
func NewSigner(secret string) *Signer {
	return &Signer{secret: []byte(secret), now: time.Now}
}

// Sign issues a token for userID that expires after ttl.
func (s *Signer) Sign(userID string, ttl time.Duration) string {
	expiry := s.now().Add(ttl).Unix()
	payload := fmt.Sprintf("%s|%d", userID, expiry)
	sig := s.sign(payload)
	return base64.RawURLEncoding.EncodeToString([]byte(payload)) + "." + sig
}

// Verify checks the token's signature and expiry and returns the user id.
func (s *Signer) Verify(tok string) (string, error) {
	dot := strings.IndexByte(tok, '.')
	if dot < 0 {
		return "", ErrMalformed
	}
	rawPayload, err := base64.RawURLEncoding.DecodeString(tok[:dot])
	if err != nil {
		return "", ErrMalformed
	}
	payload := string(rawPayload)

	if !hmac.Equal([]byte(s.sign(payload)), []byte(tok[dot+1:])) {
		return "", ErrBadSignature
	}

	sep := strings.LastIndexByte(payload, '|')
	if sep < 1 {
		return "", ErrMalformed
	}
	expiry, err := strconv.ParseInt(payload[sep+1:], 10, 64)
	if err != nil {
		return "", ErrMalformed
	}
	if s.now().Unix() >= expiry {
		return "", ErrExpired
	}
	return payload[:sep], nil
}

func (s *Signer) sign(payload string) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
