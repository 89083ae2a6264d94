// Package crypto seals credentials at rest and handles the SSH key material
// the pipeline hands to remote hosts.
// This is part of the Functional Core - all functions are pure with no I/O.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"io"
	"strings"

	"golang.org/x/crypto/ssh"
)

// =============================================================================
// Errors
// =============================================================================

var (
	// ErrKeyTooShort is returned when the encryption key is too short.
	ErrKeyTooShort = errors.New("encryption key must be at least 32 bytes")

	// ErrInvalidCiphertext is returned when a sealed value is truncated or not base64.
	ErrInvalidCiphertext = errors.New("invalid ciphertext")

	// ErrDecryptionFailed is returned on a wrong key or tampered data.
	ErrDecryptionFailed = errors.New("decryption failed: authentication tag mismatch")

	// ErrInvalidSSHKey is returned when the SSH key cannot be parsed.
	ErrInvalidSSHKey = errors.New("invalid SSH private key format")
)

// sealedPrefix marks values produced by Sealer.Seal so that rows written
// before a key was configured can still be read.
const sealedPrefix = "enc:v1:"

// DeriveKey derives a 32-byte AES-256 key from a passphrase using SHA-256.
func DeriveKey(passphrase string) []byte {
	hash := sha256.Sum256([]byte(passphrase))
	return hash[:]
}

// =============================================================================
// AES-256-GCM
// =============================================================================

// Encrypt encrypts plaintext using AES-256-GCM. Only the first 32 bytes of
// key are used. The output is nonce || ciphertext || tag.
func Encrypt(plaintext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt reverses Encrypt.
func Decrypt(ciphertext, key []byte) ([]byte, error) {
	gcm, err := newGCM(key)
	if err != nil {
		return nil, err
	}
	n := gcm.NonceSize()
	if len(ciphertext) < n+gcm.Overhead() {
		return nil, ErrInvalidCiphertext
	}
	plaintext, err := gcm.Open(nil, ciphertext[:n], ciphertext[n:], nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}

func newGCM(key []byte) (cipher.AEAD, error) {
	if len(key) < 32 {
		return nil, ErrKeyTooShort
	}
	block, err := aes.NewCipher(key[:32])
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}

// =============================================================================
// Sealer
// =============================================================================

// Sealer encrypts short text secrets such as repository access tokens for
// storage in text columns. A Sealer with no key is a passthrough.
type Sealer struct {
	key []byte
}

// NewSealer builds a Sealer from a passphrase. An empty passphrase disables
// encryption.
//
// Example:
//
//	s := NewSealer(os.Getenv("MASTER_SECRET"))
//	stored, _ := s.Seal("ghp_abc")   // "enc:v1:..."
//	token, _ := s.Open(stored)       // "ghp_abc"
func NewSealer(passphrase string) *Sealer {
	if passphrase == "" {
		return &Sealer{}
	}
	return &Sealer{key: DeriveKey(passphrase)}
}

// Enabled reports whether values are encrypted.
func (s *Sealer) Enabled() bool {
	return s != nil && len(s.key) > 0
}

// Seal encrypts value. Empty values stay empty.
func (s *Sealer) Seal(value string) (string, error) {
	if !s.Enabled() || value == "" {
		return value, nil
	}
	ct, err := Encrypt([]byte(value), s.key)
	if err != nil {
		return "", err
	}
	return sealedPrefix + base64.StdEncoding.EncodeToString(ct), nil
}

// Open decrypts a value produced by Seal. Values without the sealed prefix
// are returned unchanged.
func (s *Sealer) Open(stored string) (string, error) {
	if !strings.HasPrefix(stored, sealedPrefix) {
		return stored, nil
	}
	if !s.Enabled() {
		return "", ErrKeyTooShort
	}
	ct, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(stored, sealedPrefix))
	if err != nil {
		return "", ErrInvalidCiphertext
	}
	pt, err := Decrypt(ct, s.key)
	if err != nil {
		return "", err
	}
	return string(pt), nil
}

// =============================================================================
// SSH Key Utilities
// =============================================================================

// ParseSSHPrivateKey parses an SSH private key and returns the signer.
func ParseSSHPrivateKey(privateKey []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(privateKey)
	if err != nil {
		return nil, ErrInvalidSSHKey
	}
	return signer, nil
}

// SSHPublicKey returns the authorized_keys line for privateKey, without the
// trailing newline. Provisioned machines are given this key so the same
// private key can configure them afterwards.
func SSHPublicKey(privateKey []byte) (string, error) {
	signer, err := ParseSSHPrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(ssh.MarshalAuthorizedKey(signer.PublicKey()))), nil
}

// SSHFingerprint returns the SHA256 fingerprint of the key's public half.
func SSHFingerprint(privateKey []byte) (string, error) {
	signer, err := ParseSSHPrivateKey(privateKey)
	if err != nil {
		return "", err
	}
	return ssh.FingerprintSHA256(signer.PublicKey()), nil
}
