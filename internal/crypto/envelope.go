package crypto

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
)

// OrgKeySize is the size of an organization's symmetric data key.
const OrgKeySize = 32

// ErrBadSignature is returned when a detached signature does not verify
// against the signer's registered public signing key. Distinct from plain
// authorization failures: it indicates tampering or key compromise.
var ErrBadSignature = errors.New("crypto: signature verification failed")

// GenerateOrgKey returns a fresh random AES-256 organization key.
func GenerateOrgKey() ([]byte, error) {
	key := make([]byte, OrgKeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generating organization key: %w", err)
	}
	return key, nil
}

// WrapOrgKey encrypts the raw organization key bytes for one recipient with
// RSA-OAEP-SHA512 and returns the base64 wrapped value.
func WrapOrgKey(orgKey []byte, recipient *rsa.PublicKey) (string, error) {
	if len(orgKey) != OrgKeySize {
		return "", fmt.Errorf("organization key must be %d bytes, got %d", OrgKeySize, len(orgKey))
	}
	ct, err := rsa.EncryptOAEP(sha512.New(), rand.Reader, recipient, orgKey, nil)
	if err != nil {
		return "", fmt.Errorf("wrapping organization key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(ct), nil
}

// UnwrapOrgKey decrypts a wrapped organization key with the holder's own
// private encryption key.
func UnwrapOrgKey(wrapped string, priv *rsa.PrivateKey) ([]byte, error) {
	ct, err := base64.StdEncoding.DecodeString(wrapped)
	if err != nil {
		return nil, fmt.Errorf("decoding wrapped key: %w", err)
	}
	key, err := rsa.DecryptOAEP(sha512.New(), rand.Reader, priv, ct, nil)
	if err != nil {
		return nil, fmt.Errorf("unwrapping organization key: %w", err)
	}
	if len(key) != OrgKeySize {
		return nil, fmt.Errorf("unwrapped key has unexpected size %d", len(key))
	}
	return key, nil
}

// SignDetached signs the exact bytes of data with the sender's private
// signing key and returns the base64 signature. The server attributes
// provenance from this signature, independent of the HTTP session.
func SignDetached(data string, signKey ed25519.PrivateKey) string {
	sig := ed25519.Sign(signKey, []byte(data))
	return base64.StdEncoding.EncodeToString(sig)
}

// VerifyDetached checks a detached signature over data against the signer's
// public signing key.
func VerifyDetached(data, signature string, pub ed25519.PublicKey) error {
	sig, err := base64.StdEncoding.DecodeString(signature)
	if err != nil {
		return fmt.Errorf("decoding signature: %w", err)
	}
	if !ed25519.Verify(pub, []byte(data), sig) {
		return ErrBadSignature
	}
	return nil
}

// ParsePublicKey decodes a base64 SPKI-encoded RSA public encryption key.
func ParsePublicKey(b64 string) (*rsa.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected public key type %T", pub)
	}
	return rsaPub, nil
}

// ParseSignPublicKey decodes a base64 SPKI-encoded Ed25519 public signing key.
func ParseSignPublicKey(b64 string) (ed25519.PublicKey, error) {
	der, err := base64.StdEncoding.DecodeString(b64)
	if err != nil {
		return nil, fmt.Errorf("decoding signing public key: %w", err)
	}
	pub, err := x509.ParsePKIXPublicKey(der)
	if err != nil {
		return nil, fmt.Errorf("parsing signing public key: %w", err)
	}
	edPub, ok := pub.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("unexpected signing key type %T", pub)
	}
	return edPub, nil
}
