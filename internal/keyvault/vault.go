package keyvault

import "github.com/dmitrijs2005/walletkeeper/internal/common"

// Vault holds the derived master key for the lifetime of the process.
// It is safe for concurrent use; the key is never mutated after NewVault.
type Vault struct {
	masterKey []byte
}

// NewVault derives the master key from secret.
func NewVault(secret string) (*Vault, error) {
	key, err := DeriveMasterKey([]byte(secret))
	if err != nil {
		return nil, err
	}
	return &Vault{masterKey: key}, nil
}

// NewVaultWithKey wraps an already derived 32-byte key.
func NewVaultWithKey(key []byte) *Vault {
	k := make([]byte, len(key))
	copy(k, key)
	return &Vault{masterKey: k}
}

// Seal encrypts a private key into its storage form.
func (v *Vault) Seal(privateKey []byte) (string, error) {
	m, err := Encrypt(privateKey, v.masterKey)
	if err != nil {
		return "", err
	}
	return m.String(), nil
}

// Open decrypts a blob produced by Seal.
func (v *Vault) Open(blob string) ([]byte, error) {
	m, err := ParseMaterial(blob)
	if err != nil {
		return nil, err
	}
	return Decrypt(m, v.masterKey)
}

// Wipe zeroes the master key. The vault is unusable afterwards.
func (v *Vault) Wipe() {
	common.WipeByteArray(v.masterKey)
}

// GoString keeps the master key out of %#v output.
func (v *Vault) GoString() string { return "keyvault.Vault{masterKey: <redacted>}" }

// String keeps the master key out of %v output.
func (v *Vault) String() string { return "keyvault.Vault{<redacted>}" }
