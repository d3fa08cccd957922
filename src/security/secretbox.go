package security

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strings"

	"golang.org/x/crypto/nacl/secretbox"
)

// EncryptedPrefix marks a credential value stored encrypted.
const EncryptedPrefix = "enc:"

const nonceSize = 24

var ErrInvalidKey = errors.New("credentials key must be 32 bytes, base64 encoded")

func parseKey(encoded string) (*[32]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded))
	if err != nil || len(raw) != 32 {
		return nil, ErrInvalidKey
	}
	var key [32]byte
	copy(key[:], raw)
	return &key, nil
}

// EncryptString seals plain with the key and returns base64(nonce || box).
func EncryptString(plain, encodedKey string) (string, error) {
	key, err := parseKey(encodedKey)
	if err != nil {
		return "", err
	}
	var nonce [nonceSize]byte
	if _, err := io.ReadFull(rand.Reader, nonce[:]); err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	sealed := secretbox.Seal(nonce[:], []byte(plain), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// DecryptString opens a value produced by EncryptString.
func DecryptString(encrypted, encodedKey string) (string, error) {
	key, err := parseKey(encodedKey)
	if err != nil {
		return "", err
	}
	sealed, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encrypted))
	if err != nil {
		return "", fmt.Errorf("decode encrypted value: %w", err)
	}
	if len(sealed) < nonceSize+secretbox.Overhead {
		return "", errors.New("encrypted value too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return "", errors.New("decryption failed, wrong key or corrupted value")
	}
	return string(plain), nil
}

// ResolveSecret decrypts values carrying the enc: prefix and returns others unchanged.
func ResolveSecret(value, encodedKey string) (string, error) {
	if !strings.HasPrefix(value, EncryptedPrefix) {
		return value, nil
	}
	if encodedKey == "" {
		return "", errors.New("encrypted credential found but EXCHANGE_CREDENTIALS_KEY is not set")
	}
	return DecryptString(strings.TrimPrefix(value, EncryptedPrefix), encodedKey)
}

// GenerateKey returns a new random base64 key.
func GenerateKey() (string, error) {
	var key [32]byte
	if _, err := io.ReadFull(rand.Reader, key[:]); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(key[:]), nil
}
