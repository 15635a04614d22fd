// Package cryptox encrypts ad-platform credentials at rest using AES-GCM,
// trimmed from the teacher's crypto package (its RSA envelope/AAD-session
// machinery served a remote key-exchange use case this engine does not
// have; only EncryptForStorage/DecryptFromStorage survive).
package cryptox

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"database/sql/driver"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	storagePrefix    = "ENC:v1:"
	storageDelimiter = ":"
)

// EnvDataEncryptionKey is the environment variable carrying the AES data
// encryption key (base64, hex, or passphrase — normalized via SHA-256).
const EnvDataEncryptionKey = "DATA_ENCRYPTION_KEY"

// Service encrypts/decrypts credential strings for storage.
type Service struct {
	dataKey []byte
}

// NewService loads the data encryption key from the environment.
func NewService() (*Service, error) {
	key, err := loadDataKeyFromEnv()
	if err != nil {
		return nil, fmt.Errorf("failed to load data encryption key: %w", err)
	}
	return &Service{dataKey: key}, nil
}

func loadDataKeyFromEnv() ([]byte, error) {
	keyStr := strings.TrimSpace(os.Getenv(EnvDataEncryptionKey))
	if keyStr == "" {
		return nil, fmt.Errorf("environment variable %s not set", EnvDataEncryptionKey)
	}
	if key, ok := decodePossibleKey(keyStr); ok {
		return key, nil
	}
	sum := sha256.Sum256([]byte(keyStr))
	key := make([]byte, len(sum))
	copy(key, sum[:])
	return key, nil
}

func decodePossibleKey(value string) ([]byte, bool) {
	decoders := []func(string) ([]byte, error){
		base64.StdEncoding.DecodeString,
		base64.RawStdEncoding.DecodeString,
		hex.DecodeString,
	}
	for _, decoder := range decoders {
		if decoded, err := decoder(value); err == nil {
			if key, ok := normalizeAESKey(decoded); ok {
				return key, true
			}
		}
	}
	return nil, false
}

func normalizeAESKey(raw []byte) ([]byte, bool) {
	switch len(raw) {
	case 16, 24, 32:
		return raw, true
	case 0:
		return nil, false
	default:
		sum := sha256.Sum256(raw)
		key := make([]byte, len(sum))
		copy(key, sum[:])
		return key, true
	}
}

// HasDataKey reports whether the service was constructed with a usable key.
func (s *Service) HasDataKey() bool {
	return len(s.dataKey) > 0
}

// EncryptForStorage AES-GCM encrypts plaintext for storage, prefixed so
// DecryptFromStorage/IsEncryptedStorageValue can recognize it later. Values
// already in encrypted form are returned unchanged (idempotent on resave).
func (s *Service) EncryptForStorage(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}
	if !s.HasDataKey() {
		return "", errors.New("cryptox: data encryption key not configured")
	}
	if IsEncryptedStorageValue(plaintext) {
		return plaintext, nil
	}

	block, err := aes.NewCipher(s.dataKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", err
	}
	ciphertext := gcm.Seal(nil, nonce, []byte(plaintext), nil)
	return storagePrefix +
		base64.StdEncoding.EncodeToString(nonce) + storageDelimiter +
		base64.StdEncoding.EncodeToString(ciphertext), nil
}

// DecryptFromStorage reverses EncryptForStorage.
func (s *Service) DecryptFromStorage(value string) (string, error) {
	if value == "" {
		return "", nil
	}
	if !s.HasDataKey() {
		return "", errors.New("cryptox: data encryption key not configured")
	}
	if !IsEncryptedStorageValue(value) {
		return "", errors.New("cryptox: value is not encrypted")
	}

	payload := strings.TrimPrefix(value, storagePrefix)
	parts := strings.SplitN(payload, storageDelimiter, 2)
	if len(parts) != 2 {
		return "", errors.New("cryptox: invalid encrypted data format")
	}
	nonce, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("failed to decode nonce: %w", err)
	}
	ciphertext, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("failed to decode ciphertext: %w", err)
	}

	block, err := aes.NewCipher(s.dataKey)
	if err != nil {
		return "", err
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return "", err
	}
	if len(nonce) != gcm.NonceSize() {
		return "", fmt.Errorf("invalid nonce length: expected %d, got %d", gcm.NonceSize(), len(nonce))
	}
	plaintext, err := gcm.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return "", fmt.Errorf("decryption failed: %w", err)
	}
	return string(plaintext), nil
}

// IsEncryptedStorageValue reports whether value carries the storage prefix.
func IsEncryptedStorageValue(value string) bool {
	return strings.HasPrefix(value, storagePrefix)
}

// GenerateDataKey returns a fresh base64-encoded 32-byte AES key, for
// operators provisioning DATA_ENCRYPTION_KEY.
func GenerateDataKey() (string, error) {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key), nil
}

// ============================================================================
// EncryptedString - GORM custom type for automatic encryption/decryption
// ============================================================================

var globalService *Service

// SetGlobalService sets the service EncryptedString uses for Scan/Value.
func SetGlobalService(s *Service) {
	globalService = s
}

// EncryptedString is a string column type that encrypts on save and
// decrypts on load, used for arm-binding platform credentials.
type EncryptedString string

// Scan implements sql.Scanner, decrypting on read.
func (es *EncryptedString) Scan(value interface{}) error {
	if value == nil {
		*es = ""
		return nil
	}
	var str string
	switch v := value.(type) {
	case string:
		str = v
	case []byte:
		str = string(v)
	default:
		*es = ""
		return nil
	}
	if globalService != nil && str != "" && IsEncryptedStorageValue(str) {
		if decrypted, err := globalService.DecryptFromStorage(str); err == nil {
			*es = EncryptedString(decrypted)
			return nil
		}
	}
	*es = EncryptedString(str)
	return nil
}

// Value implements driver.Valuer, encrypting on write.
func (es EncryptedString) Value() (driver.Value, error) {
	if es == "" {
		return "", nil
	}
	if globalService != nil {
		if encrypted, err := globalService.EncryptForStorage(string(es)); err == nil {
			return encrypted, nil
		}
	}
	return string(es), nil
}

// String returns the plaintext value.
func (es EncryptedString) String() string {
	return string(es)
}
