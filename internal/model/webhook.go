package model

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"golang.org/x/crypto/bcrypt"
)

// MinWebhookSecretBytes is the minimum amount of random entropy (before
// encoding) a webhook secret must carry, per spec §3.
const MinWebhookSecretBytes = 32

// Webhook is bound to exactly one playbook and authenticates inbound alert
// deliveries. The secret is never stored in the clear: SecretHash holds a
// bcrypt digest and SecretPrefix keeps the first few characters visible so
// operators can recognize which secret is configured without re-reading it.
type Webhook struct {
	ID          string
	PlaybookID  string
	SecretHash  string
	SecretPrefix string
	Enabled     bool

	RateLimitPerMinute int
	BurstLimit         int

	RotationCount     int
	SecretRotatedAt    time.Time
	LifetimeRequests   int64
	LifetimeAccepted   int64
	LifetimeRejected   int64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// GenerateWebhookSecret returns a new random secret of at least
// MinWebhookSecretBytes of entropy, hex-encoded.
func GenerateWebhookSecret() (string, error) {
	buf := make([]byte, MinWebhookSecretBytes)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("model: generating webhook secret: %w", err)
	}
	return hex.EncodeToString(buf), nil
}

// HashSecret bcrypt-hashes a presented secret for storage, and returns the
// visible prefix stored alongside it for operator UX.
func HashSecret(secret string) (hash string, prefix string, err error) {
	if len(secret) < MinWebhookSecretBytes {
		return "", "", fmt.Errorf("model: webhook secret must be at least %d bytes, got %d", MinWebhookSecretBytes, len(secret))
	}
	digest, err := bcrypt.GenerateFromPassword([]byte(secret), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("model: hashing webhook secret: %w", err)
	}
	prefixLen := 8
	if len(secret) < prefixLen {
		prefixLen = len(secret)
	}
	return string(digest), secret[:prefixLen], nil
}

// VerifySecret reports whether presented matches the stored bcrypt hash.
// bcrypt's comparison is constant-time with respect to the digest.
func (w *Webhook) VerifySecret(presented string) bool {
	if w == nil || w.SecretHash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(w.SecretHash), []byte(presented)) == nil
}

// Rotate assigns a freshly hashed secret and bumps the rotation counter,
// immediately invalidating the previous secret (spec §8 round-trip law).
func (w *Webhook) Rotate(newSecret string, now time.Time) error {
	hash, prefix, err := HashSecret(newSecret)
	if err != nil {
		return err
	}
	w.SecretHash = hash
	w.SecretPrefix = prefix
	w.RotationCount++
	w.SecretRotatedAt = now
	w.UpdatedAt = now
	return nil
}
