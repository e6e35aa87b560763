// Package encryption provides symmetric encryption for stored document payloads.
package encryption

import (
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// AlgorithmXChaCha20Poly1305 names the AEAD used for document payloads.
const AlgorithmXChaCha20Poly1305 = "xchacha20-poly1305"

const keyDerivationInfo = "career-copilot document encryption v1"

var (
	// ErrMissingSecret indicates that no encryption secret was configured.
	ErrMissingSecret = errors.New("encryption: secret is required")
	// ErrCiphertextTooShort indicates a payload shorter than nonce plus tag.
	ErrCiphertextTooShort = errors.New("encryption: ciphertext too short")
	// ErrUnsupportedAlgorithm indicates a payload sealed with an unknown algorithm.
	ErrUnsupportedAlgorithm = errors.New("encryption: unsupported algorithm")
)

// Service seals and opens document payloads with a key derived from the configured secret.
type Service struct {
	aead   cipher.AEAD
	random io.Reader
}

// NewService derives the document key through HKDF-SHA256 and prepares the AEAD.
func NewService(secret []byte) (*Service, error) {
	if len(secret) == 0 {
		return nil, ErrMissingSecret
	}
	key := make([]byte, chacha20poly1305.KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, secret, nil, []byte(keyDerivationInfo)), key); err != nil {
		return nil, fmt.Errorf("encryption: derive key: %w", err)
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, fmt.Errorf("encryption: init aead: %w", err)
	}
	return &Service{aead: aead, random: rand.Reader}, nil
}

// Algorithm reports the identifier stored alongside encrypted documents.
func (s *Service) Algorithm() string {
	return AlgorithmXChaCha20Poly1305
}

// Encrypt returns nonce || ciphertext for the plaintext.
func (s *Service) Encrypt(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize(), s.aead.NonceSize()+len(plaintext)+s.aead.Overhead())
	if _, err := io.ReadFull(s.random, nonce); err != nil {
		return nil, fmt.Errorf("encryption: nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Decrypt opens a payload produced by Encrypt.
func (s *Service) Decrypt(payload []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(payload) < nonceSize+s.aead.Overhead() {
		return nil, ErrCiphertextTooShort
	}
	plaintext, err := s.aead.Open(nil, payload[:nonceSize], payload[nonceSize:], nil)
	if err != nil {
		return nil, fmt.Errorf("encryption: open: %w", err)
	}
	return plaintext, nil
}

// DecryptWith opens a payload after checking the stored algorithm identifier.
func (s *Service) DecryptWith(algorithm string, payload []byte) ([]byte, error) {
	if algorithm != "" && algorithm != AlgorithmXChaCha20Poly1305 {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedAlgorithm, algorithm)
	}
	return s.Decrypt(payload)
}

// Hash returns the SHA-256 hex digest used for integrity checks.
func (s *Service) Hash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}
