// Package keyvault generates custodial wallet key pairs and protects their
// private keys with AES-256-GCM under a process-wide master key.
//
// The package has no storage or network dependencies. Raw private keys leave
// it only as return values of Decrypt/Open and ExportPortable; callers wipe
// them with common.WipeByteArray once the signing call returns.
package keyvault

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/walletkeeper/internal/common"
	"github.com/mr-tron/base58"
	"golang.org/x/crypto/scrypt"
)

const (
	// IVSize is the GCM nonce length. A fresh IV is drawn for every Encrypt call.
	IVSize = 16
	// TagSize is the GCM authentication tag length.
	TagSize = 16
	// MasterKeySize selects AES-256.
	MasterKeySize = 32
	// PrivateKeySize is the ed25519 secret key length (seed followed by public key).
	PrivateKeySize = ed25519.PrivateKeySize
)

// masterKeySalt is fixed for the application: the master key must be
// reproducible from the configured secret on every start.
var masterKeySalt = []byte("walletkeeper/master-key/v1")

// scrypt cost parameters.
const (
	scryptN = 1 << 14
	scryptR = 8
	scryptP = 1
)

// EncryptedKeyMaterial is the authenticated ciphertext of a private key.
type EncryptedKeyMaterial struct {
	IV         []byte
	Tag        []byte
	Ciphertext []byte
}

// String encodes the material as base64(iv || tag || ciphertext).
func (m *EncryptedKeyMaterial) String() string {
	buf := make([]byte, 0, len(m.IV)+len(m.Tag)+len(m.Ciphertext))
	buf = append(buf, m.IV...)
	buf = append(buf, m.Tag...)
	buf = append(buf, m.Ciphertext...)
	return base64.StdEncoding.EncodeToString(buf)
}

// ParseMaterial decodes the output of EncryptedKeyMaterial.String.
func ParseMaterial(blob string) (*EncryptedKeyMaterial, error) {
	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", common.ErrDecode, err)
	}
	if len(raw) <= IVSize+TagSize {
		return nil, fmt.Errorf("%w: blob too short (%d bytes)", common.ErrDecode, len(raw))
	}
	return &EncryptedKeyMaterial{
		IV:         raw[:IVSize],
		Tag:        raw[IVSize : IVSize+TagSize],
		Ciphertext: raw[IVSize+TagSize:],
	}, nil
}

// DeriveMasterKey stretches the configured secret into an AES-256 key.
// It is slow on purpose and is called once at startup.
func DeriveMasterKey(secret []byte) ([]byte, error) {
	if len(secret) == 0 {
		return nil, errors.New("empty master secret")
	}
	return scrypt.Key(secret, masterKeySalt, scryptN, scryptR, scryptP, MasterKeySize)
}

// GenerateKeyPair creates a new ed25519 wallet. The address is the base58
// public key; privateKey is the 64-byte secret.
func GenerateKeyPair() (address string, privateKey []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return "", nil, err
	}
	return base58.Encode(pub), []byte(priv), nil
}

// AddressOf returns the base58 address of a 64-byte private key.
func AddressOf(privateKey []byte) (string, error) {
	if len(privateKey) != PrivateKeySize {
		return "", fmt.Errorf("%w: private key must be %d bytes", common.ErrDecode, PrivateKeySize)
	}
	pub := ed25519.PrivateKey(privateKey).Public().(ed25519.PublicKey)
	return base58.Encode(pub), nil
}

// IsValidAddress reports whether addr decodes to a 32-byte public key.
func IsValidAddress(addr string) bool {
	decoded, err := base58.Decode(addr)
	return err == nil && len(decoded) == ed25519.PublicKeySize
}

// ExportPortable encodes a private key in the base58 form wallets import.
// The caller must have re-authenticated the owner.
func ExportPortable(privateKey []byte) string {
	return base58.Encode(privateKey)
}

func newGCM(masterKey []byte) (cipher.AEAD, error) {
	if len(masterKey) != MasterKeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d", MasterKeySize, len(masterKey))
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, err
	}
	return cipher.NewGCMWithNonceSize(block, IVSize)
}

// Encrypt seals raw under masterKey with a fresh random IV.
func Encrypt(raw, masterKey []byte) (*EncryptedKeyMaterial, error) {
	aesgcm, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}

	iv := common.GenerateRandByteArray(IVSize)

	// Seal appends the tag to the ciphertext.
	sealed := aesgcm.Seal(nil, iv, raw, nil)
	split := len(sealed) - TagSize

	return &EncryptedKeyMaterial{
		IV:         iv,
		Tag:        sealed[split:],
		Ciphertext: sealed[:split],
	}, nil
}

// Decrypt opens m under masterKey. A tag mismatch yields common.ErrIntegrity
// and a structurally invalid m yields common.ErrDecode; in both cases no
// plaintext is returned.
func Decrypt(m *EncryptedKeyMaterial, masterKey []byte) ([]byte, error) {
	if m == nil || len(m.IV) != IVSize || len(m.Tag) != TagSize || len(m.Ciphertext) == 0 {
		return nil, common.ErrDecode
	}
	aesgcm, err := newGCM(masterKey)
	if err != nil {
		return nil, err
	}

	sealed := make([]byte, 0, len(m.Ciphertext)+TagSize)
	sealed = append(sealed, m.Ciphertext...)
	sealed = append(sealed, m.Tag...)

	plaintext, err := aesgcm.Open(nil, m.IV, sealed, nil)
	if err != nil {
		return nil, common.ErrIntegrity
	}
	return plaintext, nil
}
