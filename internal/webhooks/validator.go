// Package webhooks ingests provider event callbacks: signature verification,
// the URL-validation handshake, and recording completion events.
package webhooks

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// maxSkew bounds how old (or future-dated) a webhook timestamp may be before
// it is treated as a replay.
const maxSkew = 5 * time.Minute

var (
	// ErrSignatureMismatch means the payload signature did not verify.
	ErrSignatureMismatch = errors.New("webhook signature mismatch")
	// ErrStaleTimestamp means the request timestamp fell outside the replay window.
	ErrStaleTimestamp = errors.New("webhook timestamp outside allowed window")
)

// Validator verifies provider webhook signatures.
type Validator struct {
	secret string
	now    func() time.Time
}

// NewValidator creates a webhook validator for the given shared secret.
func NewValidator(secret string) *Validator {
	return &Validator{secret: secret, now: time.Now}
}

// Verify checks the signature header against the HMAC of the timestamped
// body and rejects requests outside the replay window. The signature header
// carries "v0=<hex digest>"; the digest covers "v0:{timestamp}:{body}".
func (v *Validator) Verify(signature, timestamp string, body []byte) error {
	ts, err := strconv.ParseInt(timestamp, 10, 64)
	if err != nil {
		return ErrStaleTimestamp
	}
	age := v.now().Sub(time.Unix(ts, 0))
	if age > maxSkew || age < -maxSkew {
		return ErrStaleTimestamp
	}

	expected := "v0=" + v.digest(fmt.Sprintf("v0:%s:%s", timestamp, body))
	if !hmac.Equal([]byte(signature), []byte(expected)) {
		return ErrSignatureMismatch
	}
	return nil
}

// EncryptToken answers the URL-validation handshake: the HMAC digest of the
// plain token under the shared secret.
func (v *Validator) EncryptToken(plainToken string) string {
	return v.digest(plainToken)
}

func (v *Validator) digest(msg string) string {
	mac := hmac.New(sha256.New, []byte(v.secret))
	mac.Write([]byte(msg))
	return hex.EncodeToString(mac.Sum(nil))
}

// Configured reports whether a shared secret is present. Without one only
// the URL-validation handshake is served.
func (v *Validator) Configured() bool {
	return strings.TrimSpace(v.secret) != ""
}
