// Package encryption encrypts sensitive data at rest (remote drive
// credentials) with AES-256-GCM. The cipher key derives from
// CREDENTIALS_ENCRYPTION_KEY via PBKDF2 with a fresh salt per payload, so
// identical plaintexts never produce identical ciphertexts.
package encryption

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"go.uber.org/fx"
	"golang.org/x/crypto/pbkdf2"

	"github.com/veridoc-ai/veridoc/pkg/logger"
)

// Module provides the fx module for the encryption service
var Module = fx.Module("encryption",
	fx.Provide(NewService),
)

// Common errors
var (
	ErrKeyNotConfigured = errors.New("encryption key not configured")
	ErrDecryptionFailed = errors.New("failed to decrypt data")
)

const (
	// payloadPrefix marks AES-GCM payloads. Anything without it is treated
	// as plain JSON written before an encryption key was configured.
	payloadPrefix = "v1:"

	saltSize  = 16
	keySize   = 32 // AES-256
	kdfRounds = 10000
	minKeyLen = 32
)

// Service encrypts and decrypts credential blobs.
type Service struct {
	log *slog.Logger
	key string
}

// NewService creates a new encryption service.
// It reads the encryption key from the CREDENTIALS_ENCRYPTION_KEY environment variable.
func NewService(log *slog.Logger) *Service {
	key := os.Getenv("CREDENTIALS_ENCRYPTION_KEY")
	svc := &Service{
		log: log.With(logger.Scope("encryption")),
		key: key,
	}

	env := os.Getenv("GO_ENV")
	if key == "" {
		if env == "production" {
			svc.log.Error("CREDENTIALS_ENCRYPTION_KEY is required in production")
		} else if env != "test" {
			svc.log.Warn("CREDENTIALS_ENCRYPTION_KEY not set - credentials will NOT be encrypted")
		}
	} else if len(key) < minKeyLen {
		svc.log.Warn("CREDENTIALS_ENCRYPTION_KEY is short for AES-256",
			slog.Int("length", len(key)))
	}

	return svc
}

// IsConfigured returns true if encryption is properly configured
func (s *Service) IsConfigured() bool {
	return len(s.key) >= minKeyLen
}

// Encrypt seals a map of settings with AES-256-GCM and returns
// "v1:" + base64(salt || nonce || ciphertext). Without a key the settings
// are stored as plain JSON.
func (s *Service) Encrypt(settings map[string]interface{}) (string, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return "", fmt.Errorf("failed to marshal settings: %w", err)
	}

	if s.key == "" {
		s.log.Warn("encryption key not set - storing as plain JSON")
		return string(data), nil
	}

	salt := make([]byte, saltSize)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("failed to generate salt: %w", err)
	}

	gcm, err := s.newGCM(salt)
	if err != nil {
		return "", err
	}

	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", fmt.Errorf("failed to generate nonce: %w", err)
	}

	sealed := gcm.Seal(nil, nonce, data, nil)

	payload := make([]byte, 0, len(salt)+len(nonce)+len(sealed))
	payload = append(payload, salt...)
	payload = append(payload, nonce...)
	payload = append(payload, sealed...)

	return payloadPrefix + base64.StdEncoding.EncodeToString(payload), nil
}

// Decrypt opens a payload produced by Encrypt. Payloads without the version
// prefix are parsed as plain JSON so rows written before a key was
// configured remain readable.
func (s *Service) Decrypt(data string) (map[string]interface{}, error) {
	if data == "" {
		return make(map[string]interface{}), nil
	}

	if !strings.HasPrefix(data, payloadPrefix) {
		var settings map[string]interface{}
		if err := json.Unmarshal([]byte(data), &settings); err != nil {
			s.log.Warn("failed to parse unencrypted settings as JSON",
				slog.String("error", err.Error()))
			return make(map[string]interface{}), nil
		}
		return settings, nil
	}

	if s.key == "" {
		return nil, ErrKeyNotConfigured
	}

	raw, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(data, payloadPrefix))
	if err != nil || len(raw) < saltSize {
		return nil, ErrDecryptionFailed
	}
	salt, rest := raw[:saltSize], raw[saltSize:]

	gcm, err := s.newGCM(salt)
	if err != nil {
		return nil, err
	}
	if len(rest) < gcm.NonceSize() {
		return nil, ErrDecryptionFailed
	}
	nonce, sealed := rest[:gcm.NonceSize()], rest[gcm.NonceSize():]

	plain, err := gcm.Open(nil, nonce, sealed, nil)
	if err != nil {
		s.log.Error("failed to decrypt credentials", logger.Error(err))
		return nil, ErrDecryptionFailed
	}

	var settings map[string]interface{}
	if err := json.Unmarshal(plain, &settings); err != nil {
		return nil, fmt.Errorf("failed to unmarshal decrypted settings: %w", err)
	}

	return settings, nil
}

func (s *Service) newGCM(salt []byte) (cipher.AEAD, error) {
	derived := pbkdf2.Key([]byte(s.key), salt, kdfRounds, keySize, sha256.New)

	block, err := aes.NewCipher(derived)
	if err != nil {
		return nil, fmt.Errorf("failed to init cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("failed to init GCM: %w", err)
	}
	return gcm, nil
}

// Decrypter is the read side of the service, for consumers that only open
// stored credentials.
type Decrypter interface {
	Decrypt(data string) (map[string]interface{}, error)
	IsConfigured() bool
}

var _ Decrypter = (*Service)(nil)

// NullService is a no-op encryption service for testing
type NullService struct{}

// NewNullService creates a null encryption service
func NewNullService() *NullService {
	return &NullService{}
}

// Encrypt returns the settings as JSON (no encryption)
func (n *NullService) Encrypt(settings map[string]interface{}) (string, error) {
	data, err := json.Marshal(settings)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// Decrypt parses JSON settings (no decryption)
func (n *NullService) Decrypt(data string) (map[string]interface{}, error) {
	if data == "" {
		return make(map[string]interface{}), nil
	}
	var settings map[string]interface{}
	if err := json.Unmarshal([]byte(data), &settings); err != nil {
		return make(map[string]interface{}), nil
	}
	return settings, nil
}

// IsConfigured always returns false for NullService
func (n *NullService) IsConfigured() bool {
	return false
}

var _ Decrypter = (*NullService)(nil)
