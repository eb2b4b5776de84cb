package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/crypto/hkdf"
)

// sealInfo binds derived keys to their purpose so the same master material
// cannot decrypt data sealed for another use.
const sealInfo = "seatpool/account-token/v1"

var ErrCiphertextTooShort = errors.New("cryptox: ciphertext too short")

// Sealer encrypts provider tokens at rest using AES-256-GCM.
// Output format: [12-byte nonce][ciphertext][16-byte tag].
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer derives an AES-256 key from master key material with HKDF-SHA256.
func NewSealer(master []byte) (*Sealer, error) {
	if len(master) == 0 {
		return nil, fmt.Errorf("cryptox: empty master key")
	}

	key := make([]byte, 32)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(sealInfo)), key); err != nil {
		return nil, fmt.Errorf("failed to derive sealing key: %w", err)
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}
	return &Sealer{aead: gcm}, nil
}

// LoadSealer reads master key material from path. When path is empty the
// SEATPOOL_MASTER_KEY environment variable is used, and failing that an
// ephemeral key is generated (development only: sealed tokens will not
// survive a restart).
func LoadSealer(path string) (*Sealer, error) {
	var material []byte
	switch {
	case strings.TrimSpace(path) != "":
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read master key file: %w", err)
		}
		material = data
	case os.Getenv("SEATPOOL_MASTER_KEY") != "":
		material = []byte(os.Getenv("SEATPOOL_MASTER_KEY"))
	default:
		material = make([]byte, 32)
		if _, err := rand.Read(material); err != nil {
			return nil, fmt.Errorf("failed to generate ephemeral master key: %w", err)
		}
	}
	return NewSealer(material)
}

// Seal encrypts plaintext with a fresh random nonce.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	nonce := make([]byte, s.aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("failed to generate nonce: %w", err)
	}
	return s.aead.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts data produced by Seal.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	nonceSize := s.aead.NonceSize()
	if len(sealed) < nonceSize {
		return nil, ErrCiphertextTooShort
	}

	nonce, ciphertext := sealed[:nonceSize], sealed[nonceSize:]
	plaintext, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return nil, fmt.Errorf("decryption failed: %w", err)
	}
	return plaintext, nil
}
