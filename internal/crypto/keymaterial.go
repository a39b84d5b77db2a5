// Package crypto implements the client-side cryptography of Password-Safe:
// per-user key material derived from a password, RSA-OAEP envelope wrapping of
// organization keys, and AES-GCM encryption of secret records. The server only
// ever sees wrapped private keys, wrapped organization keys, ciphertexts and
// detached signatures.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"crypto/sha512"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"

	"golang.org/x/crypto/pbkdf2"
)

const (
	// PBKDF2-HMAC-SHA512 parameters for the local wrapping key.
	kdfIterations = 100_000
	kdfKeyLen     = 32

	// SaltSize is the size of the per-user KDF salt generated at registration.
	SaltSize = 16

	// IVSize is the AES-GCM nonce size. All blobs are base64(iv || ct || tag).
	IVSize = 16

	rsaModulusBits = 2048
)

// ErrAuthentication is returned when a wrapped blob fails to open, which for
// key material means the password (and thus the wrapping key) is wrong.
var ErrAuthentication = errors.New("crypto: authentication failed")

// KeyMaterial is a user's unlocked key set. It exists only client-side, for
// the lifetime of a session.
type KeyMaterial struct {
	EncryptionKey *rsa.PrivateKey
	SigningKey    ed25519.PrivateKey
}

// UserKeys is the storable form of a user's key material: public halves in
// the clear, private halves wrapped under the password-derived key.
type UserKeys struct {
	PublicKey          string `json:"public_key"`
	WrappedPrivateKey  string `json:"private_key"`
	SignPublicKey      string `json:"sign_public_key"`
	WrappedSignPrivKey string `json:"sign_private_key"`
	Salt               string `json:"salt"`
	Verifier           string `json:"verifier"`
}

// DeriveWrappingKey derives the local 256-bit wrapping key from the user's
// password and salt. The key never leaves the client.
func DeriveWrappingKey(password string, salt []byte) []byte {
	return pbkdf2.Key([]byte(password), salt, kdfIterations, kdfKeyLen, sha512.New)
}

// DecodeSalt decodes a stored base64 KDF salt.
func DecodeSalt(salt string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	return raw, nil
}

// Verifier computes the value sent to the server for authentication: the
// SHA-512 hash of the wrapping key, base64-encoded. Hashing the derived key
// rather than the raw password means the server learns neither the password
// nor anything sufficient to unwrap the stored private keys.
func Verifier(wrappingKey []byte) string {
	sum := sha512.Sum512(wrappingKey)
	return base64.StdEncoding.EncodeToString(sum[:])
}

// GenerateUserKeys creates a fresh RSA-OAEP encryption keypair and Ed25519
// signing keypair for a new user, wraps both private keys under a key derived
// from password, and returns the storable bundle together with the unlocked
// material.
func GenerateUserKeys(password string) (*UserKeys, *KeyMaterial, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, nil, fmt.Errorf("generating salt: %w", err)
	}
	wrappingKey := DeriveWrappingKey(password, salt)

	encKey, err := rsa.GenerateKey(rand.Reader, rsaModulusBits)
	if err != nil {
		return nil, nil, fmt.Errorf("generating encryption keypair: %w", err)
	}
	signPub, signPriv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generating signing keypair: %w", err)
	}

	wrappedEnc, err := wrapPrivateKey(encKey, wrappingKey)
	if err != nil {
		return nil, nil, err
	}
	wrappedSign, err := wrapPrivateKey(signPriv, wrappingKey)
	if err != nil {
		return nil, nil, err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&encKey.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("exporting public key: %w", err)
	}
	signPubDER, err := x509.MarshalPKIXPublicKey(signPub)
	if err != nil {
		return nil, nil, fmt.Errorf("exporting signing public key: %w", err)
	}

	keys := &UserKeys{
		PublicKey:          base64.StdEncoding.EncodeToString(pubDER),
		WrappedPrivateKey:  wrappedEnc,
		SignPublicKey:      base64.StdEncoding.EncodeToString(signPubDER),
		WrappedSignPrivKey: wrappedSign,
		Salt:               base64.StdEncoding.EncodeToString(salt),
		Verifier:           Verifier(wrappingKey),
	}
	material := &KeyMaterial{
		EncryptionKey: encKey,
		SigningKey:    signPriv,
	}
	return keys, material, nil
}

// RewrapUserKeys wraps existing key material under a key derived from a new
// password: fresh salt, fresh wrapping key, same keypairs. Password change
// uses this; envelopes and signatures stay valid because the public halves
// do not move.
func RewrapUserKeys(newPassword string, material *KeyMaterial) (*UserKeys, error) {
	salt := make([]byte, SaltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("generating salt: %w", err)
	}
	wrappingKey := DeriveWrappingKey(newPassword, salt)
	defer Zero(wrappingKey)

	wrappedEnc, err := wrapPrivateKey(material.EncryptionKey, wrappingKey)
	if err != nil {
		return nil, err
	}
	wrappedSign, err := wrapPrivateKey(material.SigningKey, wrappingKey)
	if err != nil {
		return nil, err
	}

	pubDER, err := x509.MarshalPKIXPublicKey(&material.EncryptionKey.PublicKey)
	if err != nil {
		return nil, fmt.Errorf("exporting public key: %w", err)
	}
	signPubDER, err := x509.MarshalPKIXPublicKey(material.SigningKey.Public())
	if err != nil {
		return nil, fmt.Errorf("exporting signing public key: %w", err)
	}

	return &UserKeys{
		PublicKey:          base64.StdEncoding.EncodeToString(pubDER),
		WrappedPrivateKey:  wrappedEnc,
		SignPublicKey:      base64.StdEncoding.EncodeToString(signPubDER),
		WrappedSignPrivKey: wrappedSign,
		Salt:               base64.StdEncoding.EncodeToString(salt),
		Verifier:           Verifier(wrappingKey),
	}, nil
}

// Unlock derives the wrapping key from password and the stored salt, then
// unwraps both private keys. A wrong password surfaces as ErrAuthentication
// via the GCM tag check on the first unwrap.
func Unlock(password string, keys *UserKeys) (*KeyMaterial, error) {
	salt, err := base64.StdEncoding.DecodeString(keys.Salt)
	if err != nil {
		return nil, fmt.Errorf("decoding salt: %w", err)
	}
	wrappingKey := DeriveWrappingKey(password, salt)

	encDER, err := unwrapBlob(keys.WrappedPrivateKey, wrappingKey)
	if err != nil {
		return nil, err
	}
	signDER, err := unwrapBlob(keys.WrappedSignPrivKey, wrappingKey)
	if err != nil {
		return nil, err
	}

	encAny, err := x509.ParsePKCS8PrivateKey(encDER)
	if err != nil {
		return nil, fmt.Errorf("parsing private key: %w", err)
	}
	encKey, ok := encAny.(*rsa.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected private key type %T", encAny)
	}

	signAny, err := x509.ParsePKCS8PrivateKey(signDER)
	if err != nil {
		return nil, fmt.Errorf("parsing signing key: %w", err)
	}
	signKey, ok := signAny.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("unexpected signing key type %T", signAny)
	}

	return &KeyMaterial{EncryptionKey: encKey, SigningKey: signKey}, nil
}

// wrapPrivateKey exports key as PKCS#8 and seals it with AES-256-GCM under
// wrappingKey. Layout: base64(iv[16] || ciphertext || tag).
func wrapPrivateKey(key any, wrappingKey []byte) (string, error) {
	der, err := x509.MarshalPKCS8PrivateKey(key)
	if err != nil {
		return "", fmt.Errorf("exporting private key: %w", err)
	}
	return sealBlob(der, wrappingKey)
}

// sealBlob encrypts plaintext with AES-256-GCM under key and returns
// base64(iv || ct || tag) with a fresh random 16-byte IV.
func sealBlob(plaintext, key []byte) (string, error) {
	aead, err := newGCM(key)
	if err != nil {
		return "", err
	}
	iv := make([]byte, IVSize)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("generating iv: %w", err)
	}
	out := aead.Seal(iv, iv, plaintext, nil)
	return base64.StdEncoding.EncodeToString(out), nil
}

// unwrapBlob reverses sealBlob. A tag mismatch maps to ErrAuthentication.
func unwrapBlob(blob string, key []byte) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("decoding blob: %w", err)
	}
	if len(raw) < IVSize {
		return nil, fmt.Errorf("blob too short: %d bytes", len(raw))
	}
	aead, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	plaintext, err := aead.Open(nil, raw[:IVSize], raw[IVSize:], nil)
	if err != nil {
		return nil, ErrAuthentication
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("creating cipher: %w", err)
	}
	aead, err := cipher.NewGCMWithNonceSize(block, IVSize)
	if err != nil {
		return nil, fmt.Errorf("creating GCM: %w", err)
	}
	return aead, nil
}

// Zero overwrites b. Used to drop key material as soon as it is no longer
// needed.
func Zero(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
