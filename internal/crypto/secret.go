package crypto

import (
	"encoding/json"
	"fmt"
)

// Credentials is the plaintext payload of a secret record. Only the client
// ever sees it; the stored form is an AES-GCM blob under the organization key.
type Credentials struct {
	Account  string `json:"account"`
	Password string `json:"password"`
}

// EncryptCredentials serializes c to JSON and seals it with AES-256-GCM under
// the organization key. Returns base64(iv[16] || ciphertext || tag).
func EncryptCredentials(c Credentials, orgKey []byte) (string, error) {
	payload, err := json.Marshal(c)
	if err != nil {
		return "", fmt.Errorf("encoding credentials: %w", err)
	}
	return sealBlob(payload, orgKey)
}

// DecryptCredentials reverses EncryptCredentials. An empty blob (a freshly
// created placeholder record) decodes to zero-value Credentials rather than
// erroring.
func DecryptCredentials(blob string, orgKey []byte) (Credentials, error) {
	if blob == "" {
		return Credentials{}, nil
	}
	payload, err := unwrapBlob(blob, orgKey)
	if err != nil {
		return Credentials{}, err
	}
	var c Credentials
	if err := json.Unmarshal(payload, &c); err != nil {
		return Credentials{}, fmt.Errorf("decoding credentials: %w", err)
	}
	return c, nil
}
