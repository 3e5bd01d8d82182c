package vault

import (
	"bytes"
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"
	"os"
	"os/user"
	"strings"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/hkdf"
)

// Protector wraps and unwraps secrets with a key the caller never sees.
type Protector interface {
	Protect(secret []byte) ([]byte, error)
	Unprotect(blob []byte) ([]byte, error)
}

var blobMagic = []byte("SLK1")

var machineIDPaths = []string{"/etc/machine-id", "/var/lib/dbus/machine-id"}

// PlatformProtector binds secrets to the current machine and user: the
// wrapping key is derived from the machine id, hostname, and uid, so a blob
// copied to another host or account cannot be unwrapped.
type PlatformProtector struct {
	material []byte
}

// NewPlatformProtector collects the platform identity. entropy is optional
// operator-supplied material mixed into the derivation.
func NewPlatformProtector(entropy string) (*PlatformProtector, error) {
	u, err := user.Current()
	if err != nil {
		return nil, fmt.Errorf("could not resolve current user: %w", err)
	}
	host, err := os.Hostname()
	if err != nil {
		return nil, fmt.Errorf("could not resolve hostname: %w", err)
	}

	parts := []string{machineID(), host, u.Uid, u.Username}
	return NewProtectorFromMaterial(strings.Join(parts, "\x00"), entropy), nil
}

// NewProtectorFromMaterial derives a protector from explicit identity
// material. Tests use it to simulate a different machine or user.
func NewProtectorFromMaterial(identity, entropy string) *PlatformProtector {
	return &PlatformProtector{material: []byte(identity + "\x00" + entropy)}
}

func machineID() string {
	for _, p := range machineIDPaths {
		if b, err := os.ReadFile(p); err == nil {
			return strings.TrimSpace(string(b))
		}
	}
	return "unknown-machine"
}

func (p *PlatformProtector) wrappingKey(salt []byte) ([]byte, error) {
	key := make([]byte, chacha20poly1305.KeySize)
	r := hkdf.New(sha256.New, p.material, salt, []byte("secure-ledger master key wrap"))
	if _, err := io.ReadFull(r, key); err != nil {
		return nil, err
	}
	return key, nil
}

// Protect returns magic || salt || nonce || sealed(secret).
func (p *PlatformProtector) Protect(secret []byte) ([]byte, error) {
	salt := make([]byte, 16)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return nil, err
	}
	key, err := p.wrappingKey(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, err
	}

	out := make([]byte, 0, len(blobMagic)+len(salt)+len(nonce)+len(secret)+aead.Overhead())
	out = append(out, blobMagic...)
	out = append(out, salt...)
	out = append(out, nonce...)
	return aead.Seal(out, nonce, secret, blobMagic), nil
}

// Unprotect reverses Protect. It fails when the blob was produced under a
// different platform identity or has been modified.
func (p *PlatformProtector) Unprotect(blob []byte) ([]byte, error) {
	header := len(blobMagic) + 16 + chacha20poly1305.NonceSizeX
	if len(blob) < header+chacha20poly1305.Overhead || !bytes.Equal(blob[:len(blobMagic)], blobMagic) {
		return nil, errors.New("key blob is malformed")
	}
	salt := blob[len(blobMagic) : len(blobMagic)+16]
	nonce := blob[len(blobMagic)+16 : header]

	key, err := p.wrappingKey(salt)
	if err != nil {
		return nil, err
	}
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	secret, err := aead.Open(nil, nonce, blob[header:], blobMagic)
	if err != nil {
		return nil, errors.New("key blob cannot be unwrapped in this context")
	}
	return secret, nil
}
