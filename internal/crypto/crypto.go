// Package crypto encrypts OAuth tokens at rest with AES-256-GCM.
//
// Ciphertexts are stored as "iv:authTag:ciphertext", each part standard
// base64, with a 16-byte IV and a 16-byte authentication tag.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"golang.org/x/crypto/scrypt"
)

const (
	ivLength  = 16
	tagLength = 16
	keyLength = 32
	keySalt   = "leadgen-token-encryption"
)

var hexKeyPattern = regexp.MustCompile(`^[a-fA-F0-9]{64}$`)

var (
	ErrMissingKey    = errors.New("encryption key is not set")
	ErrInvalidFormat = errors.New("invalid encrypted text format")
)

// Cipher encrypts and decrypts token strings
type Cipher struct {
	aead cipher.AEAD
}

// NewCipher builds a Cipher from a 64-char hex key or a passphrase.
// Passphrases are stretched to 32 bytes with scrypt.
func NewCipher(secret string) (*Cipher, error) {
	if secret == "" {
		return nil, ErrMissingKey
	}

	key, err := deriveKey(secret)
	if err != nil {
		return nil, err
	}

	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("failed to create block cipher: %w", err)
	}

	aead, err := cipher.NewGCMWithNonceSize(block, ivLength)
	if err != nil {
		return nil, fmt.Errorf("failed to create GCM: %w", err)
	}

	return &Cipher{aead: aead}, nil
}

func deriveKey(secret string) ([]byte, error) {
	if hexKeyPattern.MatchString(secret) {
		return hex.DecodeString(secret)
	}

	key, err := scrypt.Key([]byte(secret), []byte(keySalt), 16384, 8, 1, keyLength)
	if err != nil {
		return nil, fmt.Errorf("failed to derive key: %w", err)
	}
	return key, nil
}

// Encrypt returns the iv:authTag:ciphertext encoding of plainText
func (c *Cipher) Encrypt(plainText string) (string, error) {
	iv := make([]byte, ivLength)
	if _, err := rand.Read(iv); err != nil {
		return "", fmt.Errorf("failed to generate iv: %w", err)
	}

	sealed := c.aead.Seal(nil, iv, []byte(plainText), nil)
	ct, tag := sealed[:len(sealed)-tagLength], sealed[len(sealed)-tagLength:]

	return strings.Join([]string{
		base64.StdEncoding.EncodeToString(iv),
		base64.StdEncoding.EncodeToString(tag),
		base64.StdEncoding.EncodeToString(ct),
	}, ":"), nil
}

// Decrypt reverses Encrypt
func (c *Cipher) Decrypt(encrypted string) (string, error) {
	parts := strings.Split(encrypted, ":")
	if len(parts) != 3 {
		return "", ErrInvalidFormat
	}

	iv, err := base64.StdEncoding.DecodeString(parts[0])
	if err != nil {
		return "", fmt.Errorf("%w: iv: %v", ErrInvalidFormat, err)
	}
	tag, err := base64.StdEncoding.DecodeString(parts[1])
	if err != nil {
		return "", fmt.Errorf("%w: auth tag: %v", ErrInvalidFormat, err)
	}
	ct, err := base64.StdEncoding.DecodeString(parts[2])
	if err != nil {
		return "", fmt.Errorf("%w: ciphertext: %v", ErrInvalidFormat, err)
	}

	if len(iv) != ivLength {
		return "", fmt.Errorf("invalid IV length")
	}
	if len(tag) != tagLength {
		return "", fmt.Errorf("invalid auth tag length")
	}

	plain, err := c.aead.Open(nil, iv, append(ct, tag...), nil)
	if err != nil {
		return "", fmt.Errorf("failed to decrypt: %w", err)
	}
	return string(plain), nil
}

// GenerateKey returns a random 32-byte key as 64 hex characters
func GenerateKey() (string, error) {
	key := make([]byte, keyLength)
	if _, err := rand.Read(key); err != nil {
		return "", err
	}
	return hex.EncodeToString(key), nil
}
