// Package crypto seals credentials kept in the environment file so the
// account password is never stored in clear text.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"
)

const (
	// KeySize is the AES-256 key length.
	KeySize = 32
	// Prefix marks a sealed value: ENC[v1]:base64(nonce+ciphertext).
	Prefix = "ENC[v1]:"

	nonceSize = 12
)

var (
	ErrInvalidKey        = errors.New("invalid secret key: must decode to 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid sealed value")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrKeyRequired       = errors.New("sealed value requires SECRET_KEY")
)

// Sealer encrypts and decrypts with AES-256-GCM.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a sealer from a base64 encoded 32 byte key.
func NewSealer(keyBase64 string) (*Sealer, error) {
	key, err := base64.StdEncoding.DecodeString(strings.TrimSpace(keyBase64))
	if err != nil || len(key) != KeySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("create cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("create GCM: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal encrypts plaintext and returns it with the version prefix.
func (s *Sealer) Seal(plaintext string) (string, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	out := s.aead.Seal(nonce, nonce, []byte(plaintext), nil)
	return Prefix + base64.StdEncoding.EncodeToString(out), nil
}

// Open decrypts a value produced by Seal.
func (s *Sealer) Open(sealed string) (string, error) {
	if !IsSealed(sealed) {
		return "", ErrInvalidCiphertext
	}
	data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(sealed, Prefix))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidCiphertext, err)
	}
	if len(data) < nonceSize {
		return "", ErrInvalidCiphertext
	}
	plain, err := s.aead.Open(nil, data[:nonceSize], data[nonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plain), nil
}

// IsSealed reports whether v carries the sealed prefix.
func IsSealed(v string) bool {
	return strings.HasPrefix(v, Prefix)
}

// Reveal returns v unchanged when it is plain text and decrypts it with
// keyBase64 when it is sealed.
func Reveal(v, keyBase64 string) (string, error) {
	if !IsSealed(v) {
		return v, nil
	}
	if keyBase64 == "" {
		return "", ErrKeyRequired
	}
	s, err := NewSealer(keyBase64)
	if err != nil {
		return "", err
	}
	return s.Open(v)
}

// GenerateKey returns a new random key, base64 encoded.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
