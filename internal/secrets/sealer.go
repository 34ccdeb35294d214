// Package secrets seals hotfix blobs with age so that only holders of the
// private key can load them.
package secrets

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"

	"filippo.io/age"
)

var (
	// ErrNoPublicKey is returned when sealing without a recipient.
	ErrNoPublicKey = errors.New("no public key configured for sealing")
	// ErrNoPrivateKey is returned when opening without an identity.
	ErrNoPrivateKey = errors.New("no private key configured for opening")
	// ErrSealFailed is returned when encryption fails.
	ErrSealFailed = errors.New("seal failed")
	// ErrOpenFailed is returned when decryption fails.
	ErrOpenFailed = errors.New("open failed")
	// ErrInvalidKey is returned when a key cannot be parsed.
	ErrInvalidKey = errors.New("invalid key format")
)

// Config holds the age keys. Either may be empty.
type Config struct {
	// AgePublicKey seals blobs at publish time. Format: age1...
	AgePublicKey string
	// AgePrivateKey opens blobs at load time. Format: AGE-SECRET-KEY-1...
	AgePrivateKey string
}

// Sealer encrypts and decrypts blobs with X25519 age keys.
type Sealer struct {
	recipient *age.X25519Recipient
	identity  *age.X25519Identity
	logger    *slog.Logger
}

// NewSealer parses the configured keys.
func NewSealer(cfg Config, logger *slog.Logger) (*Sealer, error) {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Sealer{logger: logger}

	if cfg.AgePublicKey != "" {
		r, err := age.ParseX25519Recipient(cfg.AgePublicKey)
		if err != nil {
			return nil, fmt.Errorf("%w: public key: %v", ErrInvalidKey, err)
		}
		s.recipient = r
	}
	if cfg.AgePrivateKey != "" {
		id, err := age.ParseX25519Identity(cfg.AgePrivateKey)
		if err != nil {
			return nil, fmt.Errorf("%w: private key: %v", ErrInvalidKey, err)
		}
		s.identity = id
	}
	return s, nil
}

// CanSeal reports whether a public key is configured.
func (s *Sealer) CanSeal() bool { return s.recipient != nil }

// CanOpen reports whether a private key is configured.
func (s *Sealer) CanOpen() bool { return s.identity != nil }

// Seal encrypts plaintext for the configured recipient.
func (s *Sealer) Seal(plaintext []byte) ([]byte, error) {
	if s.recipient == nil {
		return nil, ErrNoPublicKey
	}

	var buf bytes.Buffer
	w, err := age.Encrypt(&buf, s.recipient)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}
	if _, err := w.Write(plaintext); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSealFailed, err)
	}
	return buf.Bytes(), nil
}

// Open decrypts a sealed blob.
func (s *Sealer) Open(sealed []byte) ([]byte, error) {
	if s.identity == nil {
		return nil, ErrNoPrivateKey
	}

	r, err := age.Decrypt(bytes.NewReader(sealed), s.identity)
	if err != nil {
		s.logger.Debug("age decrypt failed", "error", err)
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	plaintext, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrOpenFailed, err)
	}
	return plaintext, nil
}

// GenerateKeyPair returns a new age public and private key.
func GenerateKeyPair() (publicKey, privateKey string, err error) {
	id, err := age.GenerateX25519Identity()
	if err != nil {
		return "", "", fmt.Errorf("generating age key pair: %w", err)
	}
	return id.Recipient().String(), id.String(), nil
}
