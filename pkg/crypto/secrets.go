// Package crypto seals credentials kept in the environment with AES-256-GCM.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
)

const (
	// KeySize is the required size for AES-256 keys (32 bytes)
	KeySize = 32
	// NonceSize is the size of GCM nonce (12 bytes)
	NonceSize = 12

	sealedPrefix = "ENC[v"
	maxVersions  = 10
)

var (
	ErrInvalidKey        = errors.New("invalid encryption key: must be 32 bytes")
	ErrInvalidCiphertext = errors.New("invalid ciphertext format")
	ErrDecryptionFailed  = errors.New("decryption failed")
	ErrKeyNotFound       = errors.New("encryption key not found")
)

// Sealed reports whether value looks like ENC[vN]:base64.
func Sealed(value string) bool {
	return strings.HasPrefix(value, sealedPrefix)
}

// Box seals with the newest key and opens with whichever version a value names.
type Box struct {
	keys    map[int]cipher.AEAD
	current int
}

// NewBox builds a Box from raw keys indexed by version.
func NewBox(keys map[int][]byte) (*Box, error) {
	if len(keys) == 0 {
		return nil, ErrKeyNotFound
	}
	b := &Box{keys: make(map[int]cipher.AEAD, len(keys))}
	for v, key := range keys {
		if len(key) != KeySize {
			return nil, fmt.Errorf("key v%d: %w", v, ErrInvalidKey)
		}
		block, err := aes.NewCipher(key)
		if err != nil {
			return nil, fmt.Errorf("create cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return nil, fmt.Errorf("create GCM: %w", err)
		}
		b.keys[v] = gcm
		if v > b.current {
			b.current = v
		}
	}
	return b, nil
}

// BoxFromEnv loads base64 keys from prefix (version 1) and prefix_V2 ...
// prefix_V10.
func BoxFromEnv(prefix string) (*Box, error) {
	keys := make(map[int][]byte)
	for v := 1; v <= maxVersions; v++ {
		name := prefix
		if v > 1 {
			name = fmt.Sprintf("%s_V%d", prefix, v)
		}
		raw := os.Getenv(name)
		if raw == "" {
			continue
		}
		key, err := base64.StdEncoding.DecodeString(raw)
		if err != nil {
			return nil, fmt.Errorf("decode key %s: %w", name, err)
		}
		keys[v] = key
	}
	if len(keys) == 0 {
		return nil, fmt.Errorf("%w: set %s", ErrKeyNotFound, prefix)
	}
	return NewBox(keys)
}

// Version is the key version Seal uses.
func (b *Box) Version() int { return b.current }

// Seal encrypts plaintext as ENC[vN]:base64(nonce+ciphertext).
func (b *Box) Seal(plaintext string) (string, error) {
	gcm := b.keys[b.current]
	nonce := make([]byte, NonceSize)
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := gcm.Seal(nonce, nonce, []byte(plaintext), nil)
	return fmt.Sprintf("ENC[v%d]:%s", b.current, base64.StdEncoding.EncodeToString(sealed)), nil
}

// Open decrypts a sealed value. Values without the ENC prefix are returned
// unchanged.
func (b *Box) Open(value string) (string, error) {
	if !Sealed(value) {
		return value, nil
	}
	var version int
	if _, err := fmt.Sscanf(value, "ENC[v%d]:", &version); err != nil {
		return "", ErrInvalidCiphertext
	}
	sep := strings.Index(value, "]:")
	if sep == -1 {
		return "", ErrInvalidCiphertext
	}
	gcm, ok := b.keys[version]
	if !ok {
		return "", fmt.Errorf("%w: v%d", ErrKeyNotFound, version)
	}

	data, err := base64.StdEncoding.DecodeString(value[sep+2:])
	if err != nil {
		return "", fmt.Errorf("base64 decode: %w", err)
	}
	if len(data) < NonceSize {
		return "", ErrInvalidCiphertext
	}
	plaintext, err := gcm.Open(nil, data[:NonceSize], data[NonceSize:], nil)
	if err != nil {
		return "", ErrDecryptionFailed
	}
	return string(plaintext), nil
}

// GenerateKey returns a random base64-encoded 32-byte key.
func GenerateKey() (string, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return "", fmt.Errorf("generate random key: %w", err)
	}
	return base64.StdEncoding.EncodeToString(key), nil
}
