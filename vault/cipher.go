// Package vault provides the field cipher used for PII at rest and the key
// vault that guards the master key.
package vault

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"secure-ledger/common"
)

// Mode selects the block cipher construction used by a FieldCipher.
type Mode string

const (
	// ModeGCM is AES-256-GCM with a 128-bit nonce. Tampering is always detected.
	ModeGCM Mode = "aes-256-gcm"
	// ModeCBC is AES-256-CBC with PKCS#7 padding, for stores written by the
	// legacy application. It has no integrity tag.
	ModeCBC Mode = "aes-256-cbc"
)

const (
	// KeySize is the master key length in bytes.
	KeySize = 32
	ivSize  = aes.BlockSize
)

var errTooShort = errors.New("ciphertext too short")

// FieldCipher encrypts individual text fields with the master key. It is safe
// for concurrent use.
type FieldCipher struct {
	block cipher.Block
	aead  cipher.AEAD
	mode  Mode
	rand  io.Reader
}

// NewFieldCipher builds a cipher for key (32 bytes) in the given mode.
func NewFieldCipher(key []byte, mode Mode) (*FieldCipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", KeySize, len(key))
	}
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, err
	}

	c := &FieldCipher{block: block, mode: mode, rand: rand.Reader}
	switch mode {
	case ModeGCM:
		c.aead, err = cipher.NewGCMWithNonceSize(block, ivSize)
		if err != nil {
			return nil, err
		}
	case ModeCBC:
	default:
		return nil, fmt.Errorf("unsupported cipher mode %q", mode)
	}
	return c, nil
}

// Mode reports the construction in use.
func (c *FieldCipher) Mode() Mode {
	return c.mode
}

// Encrypt returns base64(IV || ciphertext). A fresh IV is drawn for every
// call. The empty string is returned unchanged.
func (c *FieldCipher) Encrypt(plaintext string) (string, error) {
	if plaintext == "" {
		return "", nil
	}

	iv := make([]byte, ivSize)
	if _, err := io.ReadFull(c.rand, iv); err != nil {
		return "", fmt.Errorf("could not draw iv: %w", err)
	}

	var out []byte
	if c.mode == ModeGCM {
		out = c.aead.Seal(iv, iv, []byte(plaintext), nil)
	} else {
		padded := pkcs7Pad([]byte(plaintext), aes.BlockSize)
		out = make([]byte, ivSize+len(padded))
		copy(out, iv)
		cipher.NewCBCEncrypter(c.block, iv).CryptBlocks(out[ivSize:], padded)
	}
	return base64.StdEncoding.EncodeToString(out), nil
}

// Decrypt reverses Encrypt. Malformed, truncated or tampered input yields a
// DecryptionError; it never returns substitute data.
func (c *FieldCipher) Decrypt(opaque string) (string, error) {
	if opaque == "" {
		return "", nil
	}

	raw, err := base64.StdEncoding.DecodeString(opaque)
	if err != nil {
		return "", common.NewDecryptionError("ciphertext is not valid base64", err)
	}
	if len(raw) < ivSize {
		return "", common.NewDecryptionError("ciphertext shorter than iv", errTooShort)
	}
	iv, body := raw[:ivSize], raw[ivSize:]

	if c.mode == ModeGCM {
		if len(body) < c.aead.Overhead() {
			return "", common.NewDecryptionError("ciphertext shorter than tag", errTooShort)
		}
		plain, err := c.aead.Open(nil, iv, body, nil)
		if err != nil {
			return "", common.NewDecryptionError("decryption failed (wrong key or tampered data)", err)
		}
		return string(plain), nil
	}

	if len(body) == 0 || len(body)%aes.BlockSize != 0 {
		return "", common.NewDecryptionError("ciphertext is not block aligned", errTooShort)
	}
	plain := make([]byte, len(body))
	cipher.NewCBCDecrypter(c.block, iv).CryptBlocks(plain, body)
	unpadded, err := pkcs7Unpad(plain, aes.BlockSize)
	if err != nil {
		return "", common.NewDecryptionError("decryption failed (wrong key or tampered data)", err)
	}
	return string(unpadded), nil
}

func pkcs7Pad(data []byte, blockSize int) []byte {
	n := blockSize - len(data)%blockSize
	return append(data, bytes.Repeat([]byte{byte(n)}, n)...)
}

func pkcs7Unpad(data []byte, blockSize int) ([]byte, error) {
	if len(data) == 0 || len(data)%blockSize != 0 {
		return nil, errors.New("invalid padded length")
	}
	n := int(data[len(data)-1])
	if n == 0 || n > blockSize {
		return nil, errors.New("invalid padding")
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, errors.New("invalid padding")
		}
	}
	return data[:len(data)-n], nil
}
