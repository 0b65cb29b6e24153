package web

import (
	"crypto/ecdh"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
)

// ValidateKeyPair checks that the configured VAPID keys decode to a matching
// P-256 pair. It runs at startup: a service holding an unusable signing key
// must refuse to start rather than fail every dispatch at send time.
func ValidateKeyPair(publicKey, privateKey string) error {
	privBytes, err := decodeVapidKey(privateKey)
	if err != nil {
		return fmt.Errorf("vapid private key: %w", err)
	}
	pubBytes, err := decodeVapidKey(publicKey)
	if err != nil {
		return fmt.Errorf("vapid public key: %w", err)
	}

	priv, err := ecdh.P256().NewPrivateKey(privBytes)
	if err != nil {
		return fmt.Errorf("vapid private key is not a valid P-256 scalar: %w", err)
	}
	pub, err := ecdh.P256().NewPublicKey(pubBytes)
	if err != nil {
		return fmt.Errorf("vapid public key is not a valid P-256 point: %w", err)
	}
	if !priv.PublicKey().Equal(pub) {
		return errors.New("vapid public key does not match the private key")
	}
	return nil
}

// decodeVapidKey accepts the url-safe unpadded encoding key generators emit
// and tolerates padded or standard-alphabet variants from pasted configs.
func decodeVapidKey(value string) ([]byte, error) {
	value = strings.TrimRight(value, "=")
	b, err := base64.RawURLEncoding.DecodeString(value)
	if err == nil {
		return b, nil
	}
	if std, stdErr := base64.RawStdEncoding.DecodeString(value); stdErr == nil {
		return std, nil
	}
	return nil, err
}
