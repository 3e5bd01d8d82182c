package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
	"path/filepath"
	"secure-ledger/common"
	"secure-ledger/logger"

	"github.com/spf13/afero"
	"golang.org/x/crypto/hkdf"
)

// KeyVault owns the key file holding the wrapped master key.
type KeyVault struct {
	fs        afero.Fs
	path      string
	protector Protector
}

func NewKeyVault(fs afero.Fs, path string, protector Protector) *KeyVault {
	return &KeyVault{fs: fs, path: path, protector: protector}
}

// LoadOrCreateMasterKey unwraps the existing master key, or generates and
// stores a new one on first run. Any failure to produce a usable key is a
// KeyUnavailableError.
func (v *KeyVault) LoadOrCreateMasterKey() ([]byte, error) {
	log := logger.Log.WithField("key_file", v.path)

	exists, err := afero.Exists(v.fs, v.path)
	if err != nil {
		return nil, common.NewKeyUnavailableError("could not inspect key file", err)
	}

	if exists {
		blob, err := afero.ReadFile(v.fs, v.path)
		if err != nil {
			return nil, common.NewKeyUnavailableError("could not read key file", err)
		}
		key, err := v.protector.Unprotect(blob)
		if err != nil {
			log.Error("Master key could not be unwrapped")
			return nil, common.NewKeyUnavailableError("master key could not be unwrapped", err)
		}
		if len(key) != KeySize {
			return nil, common.NewKeyUnavailableError("master key has the wrong length", nil)
		}
		log.Info("Master key loaded")
		return key, nil
	}

	key := make([]byte, KeySize)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		return nil, common.NewKeyUnavailableError("could not generate master key", err)
	}
	blob, err := v.protector.Protect(key)
	if err != nil {
		return nil, common.NewKeyUnavailableError("could not wrap master key", err)
	}
	if err := v.writeAtomic(blob); err != nil {
		return nil, common.NewKeyUnavailableError("could not write key file", err)
	}

	log.Warn("No key file found, generated a new master key")
	return key, nil
}

// writeAtomic writes to a temporary file and renames it over the target, so a
// crash leaves either no key file or a complete one.
func (v *KeyVault) writeAtomic(blob []byte) error {
	if dir := filepath.Dir(v.path); dir != "." {
		if err := v.fs.MkdirAll(dir, 0o700); err != nil {
			return err
		}
	}
	tmp := v.path + ".tmp"
	if err := afero.WriteFile(v.fs, tmp, blob, 0o600); err != nil {
		return err
	}
	if err := v.fs.Rename(tmp, v.path); err != nil {
		_ = v.fs.Remove(tmp)
		return fmt.Errorf("rename key file: %w", err)
	}
	return nil
}

// DeriveKey derives an independent 32-byte key for purpose from the master
// key, so the master key itself is only ever used by the field cipher.
func DeriveKey(master []byte, purpose string) ([]byte, error) {
	if len(master) != KeySize {
		return nil, common.NewKeyUnavailableError("master key has the wrong length", nil)
	}
	key := make([]byte, KeySize)
	if _, err := io.ReadFull(hkdf.New(sha256.New, master, nil, []byte(purpose)), key); err != nil {
		return nil, common.NewKeyUnavailableError("could not derive "+purpose+" key", err)
	}
	return key, nil
}
