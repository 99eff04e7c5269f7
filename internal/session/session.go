// Package session issues and verifies the signed session tokens carried
// by dashboard websocket connections (spec §6: "Dashboard connect URL
// ... Server verifies signature and user existence"). No JWT library
// appears anywhere in the example corpus, so this is a deliberately small
// HMAC-SHA256 scheme built on crypto/hmac rather than a hand-rolled JWT
// parser — see DESIGN.md for the stdlib justification.
package session

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/binary"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Issuer signs and verifies session tokens for one secret key.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

// New creates an Issuer. secret must be non-empty; ttl defaults to 24h.
func New(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue produces a token of the form "<payload>.<signature>", where
// payload base64-encodes userID || unix-expiry and signature is the
// base64 HMAC-SHA256 of payload under the issuer's secret.
func (iss *Issuer) Issue(userID uuid.UUID) string {
	expires := time.Now().Add(iss.ttl).Unix()
	payload := encodePayload(userID, expires)
	sig := iss.sign(payload)
	return payload + "." + sig
}

// Verify checks the token's signature and expiry and returns the
// embedded user ID.
func (iss *Issuer) Verify(token string) (uuid.UUID, error) {
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return uuid.Nil, fmt.Errorf("malformed session token")
	}
	payload, sig := parts[0], parts[1]

	expected := iss.sign(payload)
	if subtle.ConstantTimeCompare([]byte(sig), []byte(expected)) != 1 {
		return uuid.Nil, fmt.Errorf("session token signature mismatch")
	}

	raw, err := base64.RawURLEncoding.DecodeString(payload)
	if err != nil || len(raw) != 24 {
		return uuid.Nil, fmt.Errorf("malformed session token payload")
	}

	var userID uuid.UUID
	copy(userID[:], raw[:16])
	expires := int64(binary.BigEndian.Uint64(raw[16:24]))
	if time.Now().Unix() > expires {
		return uuid.Nil, fmt.Errorf("session token expired")
	}
	return userID, nil
}

func (iss *Issuer) sign(payload string) string {
	mac := hmac.New(sha256.New, iss.secret)
	mac.Write([]byte(payload))
	return base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}

func encodePayload(userID uuid.UUID, expires int64) string {
	raw := make([]byte, 24)
	copy(raw[:16], userID[:])
	binary.BigEndian.PutUint64(raw[16:24], uint64(expires))
	return base64.RawURLEncoding.EncodeToString(raw)
}
