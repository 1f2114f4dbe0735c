package secrets

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"io"
	"strings"

	"golang.org/x/crypto/hkdf"

	dErrors "ledgerbridge/pkg/domain-errors"
)

// envelopeVersion prefixes every ciphertext so the key derivation or cipher
// can be rotated later without guessing which scheme produced a stored value.
const envelopeVersion = "v1"

const minSecretLen = 16

// Cipher provides authenticated symmetric encryption for token material at
// rest. The envelope is self-contained: "v1:" + base64(nonce || ciphertext),
// with the GCM tag inside the ciphertext, so storage is one opaque string.
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher derives an AES-256-GCM key from the configured secret via
// HKDF-SHA256. It fails closed: a missing or short secret is a config error,
// never a plaintext fallback.
func NewCipher(secret string) (*Cipher, error) {
	if len(secret) < minSecretLen {
		return nil, dErrors.New(dErrors.CodeConfig, "token encryption secret missing or too short")
	}

	key := make([]byte, 32)
	kdf := hkdf.New(sha256.New, []byte(secret), nil, []byte("ledgerbridge/token-cipher/"+envelopeVersion))
	if _, err := io.ReadFull(kdf, key); err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not derive encryption key")
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not initialize cipher")
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "could not initialize GCM")
	}
	return &Cipher{aead: aead}, nil
}

// Encrypt seals the plaintext into a self-contained envelope string.
func (c *Cipher) Encrypt(plaintext string) (string, error) {
	nonce := make([]byte, c.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeInternal, "could not generate nonce")
	}
	sealed := c.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return envelopeVersion + ":" + base64.StdEncoding.EncodeToString(sealed), nil
}

// Decrypt opens an envelope produced by Encrypt. Any tampering with the
// ciphertext fails authentication and returns an error, never garbage.
func (c *Cipher) Decrypt(envelope string) (string, error) {
	version, encoded, found := strings.Cut(envelope, ":")
	if !found || version != envelopeVersion {
		return "", dErrors.New(dErrors.CodeValidation, "unrecognized ciphertext envelope")
	}
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "malformed ciphertext envelope")
	}
	if len(sealed) < c.aead.NonceSize() {
		return "", dErrors.New(dErrors.CodeValidation, "ciphertext envelope too short")
	}
	nonce, ciphertext := sealed[:c.aead.NonceSize()], sealed[c.aead.NonceSize():]
	plaintext, err := c.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", dErrors.Wrap(err, dErrors.CodeValidation, "ciphertext failed authentication")
	}
	return string(plaintext), nil
}
