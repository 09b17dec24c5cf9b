package config

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"

	"modelgate/internal/domain"
)

// EncPrefix marks an encrypted config value.
const EncPrefix = "enc:"

const saltLen = 16

// Argon2id parameters for passphrase key derivation.
const (
	kdfTime    = 1
	kdfMemory  = 64 * 1024
	kdfThreads = 4
	kdfKeyLen  = 32
)

var sealEncoding = base64.RawURLEncoding

// secretFields lists the config values that may be stored encrypted,
// keyed by their YAML path.
func secretFields(cfg *Config) map[string]*string {
	return map[string]*string{
		"fallback.api_key": &cfg.Fallback.APIKey,
	}
}

// decryptSecrets replaces every encrypted secret in cfg with its plaintext.
func decryptSecrets(cfg *Config, passphrase string) error {
	for path, field := range secretFields(cfg) {
		sealed, ok := strings.CutPrefix(*field, EncPrefix)
		if !ok {
			continue
		}
		plain, err := DecryptValue(sealed, passphrase)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		*field = plain
	}
	return nil
}

// EncryptValue seals plaintext with AES-256-GCM under a key derived from
// passphrase. The result is base64url(salt | nonce | ciphertext) and does
// not include EncPrefix.
func EncryptValue(plaintext, passphrase string) (string, error) {
	if passphrase == "" {
		return "", fmt.Errorf("%w: empty passphrase", domain.ErrEncryption)
	}
	salt := make([]byte, saltLen)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("%w: salt: %v", domain.ErrEncryption, err)
	}
	aead, err := aeadFor(passphrase, salt)
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrEncryption, err)
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("%w: nonce: %v", domain.ErrEncryption, err)
	}

	out := append(salt, nonce...)
	out = aead.Seal(out, nonce, []byte(plaintext), nil)
	return sealEncoding.EncodeToString(out), nil
}

// DecryptValue opens a value produced by EncryptValue.
func DecryptValue(sealed, passphrase string) (string, error) {
	raw, err := sealEncoding.DecodeString(sealed)
	if err != nil {
		return "", fmt.Errorf("%w: not a sealed value", domain.ErrDecryption)
	}
	if len(raw) < saltLen {
		return "", fmt.Errorf("%w: value too short", domain.ErrDecryption)
	}
	aead, err := aeadFor(passphrase, raw[:saltLen])
	if err != nil {
		return "", fmt.Errorf("%w: %v", domain.ErrDecryption, err)
	}
	body := raw[saltLen:]
	if len(body) < aead.NonceSize()+aead.Overhead() {
		return "", fmt.Errorf("%w: value too short", domain.ErrDecryption)
	}
	plain, err := aead.Open(nil, body[:aead.NonceSize()], body[aead.NonceSize():], nil)
	if err != nil {
		return "", fmt.Errorf("%w: wrong passphrase or corrupted value", domain.ErrDecryption)
	}
	return string(plain), nil
}

func aeadFor(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := argon2.IDKey([]byte(passphrase), salt, kdfTime, kdfMemory, kdfThreads, kdfKeyLen)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCM(block)
}
