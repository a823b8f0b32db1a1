package sessions

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Signer issues short-lived meeting SDK signatures so clients can join
// through the provider's web SDK without ever seeing the API secret.
type Signer struct {
	key    string
	secret string
	ttl    time.Duration
	now    func() time.Time
}

// NewSigner creates an SDK signature signer. ttl falls back to two hours
// when zero.
func NewSigner(key, secret string, ttl time.Duration) *Signer {
	if ttl <= 0 {
		ttl = 2 * time.Hour
	}
	return &Signer{key: key, secret: secret, ttl: ttl, now: time.Now}
}

// Key returns the public SDK key shipped to clients alongside the signature.
func (s *Signer) Key() string { return s.key }

// Sign produces a signed SDK token for the meeting. Host tokens carry role 1,
// attendee tokens role 0.
func (s *Signer) Sign(meetingNumber int64, host bool) (string, time.Time, error) {
	if s.key == "" || s.secret == "" {
		return "", time.Time{}, fmt.Errorf("sdk credentials not configured")
	}
	role := 0
	if host {
		role = 1
	}
	issuedAt := s.now()
	expiresAt := issuedAt.Add(s.ttl)

	claims := jwt.MapClaims{
		"appKey":   s.key,
		"sdkKey":   s.key,
		"mn":       meetingNumber,
		"role":     role,
		"iat":      issuedAt.Unix(),
		"exp":      expiresAt.Unix(),
		"tokenExp": expiresAt.Unix(),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(s.secret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, expiresAt, nil
}
