package crypto

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/ethereum/go-ethereum/accounts/keystore"
	"github.com/ethereum/go-ethereum/common"
)

// KeystoreParams selects the scrypt cost used when encrypting new keystores.
type KeystoreParams struct {
	N int
	P int
}

var (
	// StandardKeystore matches the cost used by geth for account keys.
	StandardKeystore = KeystoreParams{N: keystore.StandardScryptN, P: keystore.StandardScryptP}
	// LightKeystore is cheap enough for tests and throwaway operator keys.
	LightKeystore = KeystoreParams{N: keystore.LightScryptN, P: keystore.LightScryptP}
)

// SaveToKeystore writes key to an Ethereum v3 keystore file at path using the
// standard scrypt cost.
func SaveToKeystore(path string, key *PrivateKey, passphrase string) error {
	return SaveToKeystoreWithParams(path, key, passphrase, StandardKeystore)
}

// SaveToKeystoreWithParams writes key to an Ethereum v3 keystore file at path.
// The parent directory is created with 0700 permissions and the file is
// replaced atomically.
func SaveToKeystoreWithParams(path string, key *PrivateKey, passphrase string, params KeystoreParams) error {
	if key == nil {
		return errors.New("crypto: nil private key")
	}
	if path == "" {
		return errors.New("crypto: empty keystore path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	tmpDir, err := os.MkdirTemp(dir, "keystore-")
	if err != nil {
		return err
	}
	defer os.RemoveAll(tmpDir)

	ks := keystore.NewKeyStore(tmpDir, params.N, params.P)
	if _, err := ks.ImportECDSA(key.PrivateKey, passphrase); err != nil {
		return err
	}

	entries, err := os.ReadDir(tmpDir)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return errors.New("crypto: failed to create keystore file")
	}

	src := filepath.Join(tmpDir, entries[0].Name())
	if err := os.Remove(path); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	if err := os.Rename(src, path); err != nil {
		return err
	}
	return os.Chmod(path, 0o600)
}

// LoadFromKeystore decrypts an Ethereum v3 keystore file using the supplied passphrase.
func LoadFromKeystore(path, passphrase string) (*PrivateKey, error) {
	if path == "" {
		return nil, errors.New("crypto: empty keystore path")
	}

	keyJSON, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	decrypted, err := keystore.DecryptKey(keyJSON, passphrase)
	if err != nil {
		return nil, err
	}

	return &PrivateKey{PrivateKey: decrypted.PrivateKey}, nil
}

// KeystoreAddress reads the account address recorded in a keystore file
// without decrypting it.
func KeystoreAddress(path string) (Address, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Address{}, err
	}
	var header struct {
		Address string `json:"address"`
	}
	if err := json.Unmarshal(data, &header); err != nil {
		return Address{}, fmt.Errorf("crypto: parse keystore %s: %w", path, err)
	}
	if !common.IsHexAddress(header.Address) {
		return Address{}, fmt.Errorf("crypto: keystore %s has no valid address", path)
	}
	return FromRaw(common.HexToAddress(header.Address)), nil
}
