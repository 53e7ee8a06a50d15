package assistant

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// apiKeyCipherEnv holds the AES-256 key protecting stored provider API keys.
// It accepts either 32 raw bytes or their base64 encoding. When it is unset
// the integrations surface is disabled rather than storing keys in the clear.
const apiKeyCipherEnv = "KAI_APIKEY_KEY"

var errInvalidCiphertext = errors.New("invalid key ciphertext")

// tokenCipher seals provider API keys with AES-GCM. Ciphertexts are
// base64(nonce || sealed) so one text column holds everything.
type tokenCipher struct {
	aead cipher.AEAD
}

func newTokenCipherFromEnv() (*tokenCipher, error) {
	raw := strings.TrimSpace(os.Getenv(apiKeyCipherEnv))
	if raw == "" {
		return nil, fmt.Errorf("%s not set", apiKeyCipherEnv)
	}
	key, err := parseCipherKey(raw)
	if err != nil {
		return nil, fmt.Errorf("parse %s: %w", apiKeyCipherEnv, err)
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("gcm: %w", err)
	}
	return &tokenCipher{aead: aead}, nil
}

func parseCipherKey(raw string) ([]byte, error) {
	if len(raw) == 32 {
		return []byte(raw), nil
	}
	key, err := base64.StdEncoding.DecodeString(raw)
	if err != nil {
		return nil, err
	}
	if len(key) != 32 {
		return nil, fmt.Errorf("invalid key length %d, want 32", len(key))
	}
	return key, nil
}

func (c *tokenCipher) Encrypt(plain string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("nonce: %w", err)
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plain), nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func (c *tokenCipher) Decrypt(input string) (string, error) {
	data, err := base64.StdEncoding.DecodeString(input)
	if err != nil {
		return "", errInvalidCiphertext
	}
	ns := c.aead.NonceSize()
	if len(data) < ns {
		return "", errInvalidCiphertext
	}
	plain, err := c.aead.Open(nil, data[:ns], data[ns:], nil)
	if err != nil {
		return "", errInvalidCiphertext
	}
	return string(plain), nil
}
