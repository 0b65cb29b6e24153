package push

import (
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"
)

// authSecretLength is the size of the client auth secret mandated by the
// Web Push encryption scheme (RFC 8291).
const authSecretLength = 16

// ErrBadKeyMaterial marks a subscription whose stored keys cannot be used
// for encryption. It is a permanent condition: no send is attempted and the
// subscription is deactivated.
var ErrBadKeyMaterial = errors.New("bad subscription key material")

// Keys is the client key material a browser hands out with
// PushSubscription.getKey(), base64url encoded as delivered on the wire.
type Keys struct {
	P256dh string `json:"p256dh"`
	Auth   string `json:"auth"`
}

// Subscription is one browser push registration. The endpoint is unique per
// store; ID is the store-assigned identity used for updates.
type Subscription struct {
	ID           string            `json:"id,omitempty"`
	Endpoint     string            `json:"endpoint"`
	Keys         Keys              `json:"keys"`
	Active       bool              `json:"active"`
	FailureCount int               `json:"failure_count"`
	LastSuccess  time.Time         `json:"last_success,omitempty"`
	Metadata     map[string]string `json:"metadata,omitempty"`
	CreatedAt    time.Time         `json:"created_at,omitempty"`
}

// Validate checks the registration wire contract: an endpoint plus decodable
// key material. Key failures wrap ErrBadKeyMaterial.
func (s *Subscription) Validate() error {
	if s.Endpoint == "" {
		return errors.New("subscription endpoint is required")
	}
	if s.Keys.P256dh == "" || s.Keys.Auth == "" {
		return fmt.Errorf("%w: missing p256dh or auth", ErrBadKeyMaterial)
	}
	if _, _, err := s.Keys.Decode(); err != nil {
		return err
	}
	return nil
}

// Decode returns the raw client public key and auth secret, verifying that
// the public key is a valid uncompressed P-256 point and the auth secret has
// the mandated length. All failures wrap ErrBadKeyMaterial.
func (k Keys) Decode() (p256dh, auth []byte, err error) {
	p256dh, err = decodeKey(k.P256dh)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: p256dh: %v", ErrBadKeyMaterial, err)
	}
	if _, err = ecdh.P256().NewPublicKey(p256dh); err != nil {
		return nil, nil, fmt.Errorf("%w: p256dh is not a P-256 point: %v", ErrBadKeyMaterial, err)
	}
	auth, err = decodeKey(k.Auth)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: auth: %v", ErrBadKeyMaterial, err)
	}
	if len(auth) != authSecretLength {
		return nil, nil, fmt.Errorf("%w: auth secret is %d bytes, want %d", ErrBadKeyMaterial, len(auth), authSecretLength)
	}
	return p256dh, auth, nil
}

// decodeKey accepts the base64 variants browsers and proxies produce:
// url-safe or standard alphabet, padded or not.
func decodeKey(value string) ([]byte, error) {
	value = strings.TrimRight(value, "=")
	if b, err := base64.RawURLEncoding.DecodeString(value); err == nil {
		return b, nil
	}
	return base64.RawStdEncoding.DecodeString(value)
}
