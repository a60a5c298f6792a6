// Validator BLS key lifecycle: load a persisted key, or derive one
// deterministically from the validator's identity so restarts keep the
// same key without any key file present.
package bls

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

// keySeedLabel prefixes identity-derived key seeds; bumping the version
// rotates every derived key.
const keySeedLabel = "VALIDATOR_CORE_BLS_KEY_V1"

// KeyManager holds one validator's BLS key pair and the path it
// persists to (empty path means in-memory only).
type KeyManager struct {
	keyPath    string
	privateKey *PrivateKey
	publicKey  *PublicKey
}

// NewKeyManager constructs a manager bound to keyPath without loading
// or generating anything yet.
func NewKeyManager(keyPath string) *KeyManager {
	return &KeyManager{keyPath: keyPath}
}

// LoadKey reads and parses the hex-encoded private key at the manager's
// path.
func (km *KeyManager) LoadKey() error {
	if km.keyPath == "" {
		return fmt.Errorf("no key path specified")
	}
	data, err := os.ReadFile(km.keyPath)
	if err != nil {
		return fmt.Errorf("read key file: %w", err)
	}
	keyBytes, err := hex.DecodeString(string(data))
	if err != nil {
		return fmt.Errorf("decode key hex: %w", err)
	}
	km.privateKey, err = PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return fmt.Errorf("parse private key: %w", err)
	}
	km.publicKey = km.privateKey.PublicKey()
	return nil
}

// GenerateFromValidatorID derives the key pair deterministically from
// (validatorID, chainID), so the same identity yields the same key on
// every start.
func (km *KeyManager) GenerateFromValidatorID(validatorID, chainID string) error {
	seed := sha256.Sum256([]byte(fmt.Sprintf("%s:%s:%s", keySeedLabel, validatorID, chainID)))
	priv, pub, err := GenerateKeyPairFromSeed(seed[:])
	if err != nil {
		return fmt.Errorf("generate from seed: %w", err)
	}
	km.privateKey, km.publicKey = priv, pub
	return nil
}

// SaveKey writes the private key hex-encoded to the manager's path with
// owner-only permissions.
func (km *KeyManager) SaveKey() error {
	if km.keyPath == "" {
		return fmt.Errorf("no key path specified")
	}
	if km.privateKey == nil {
		return fmt.Errorf("no private key to save")
	}
	if err := os.MkdirAll(filepath.Dir(km.keyPath), 0700); err != nil {
		return fmt.Errorf("create key directory: %w", err)
	}
	keyHex := hex.EncodeToString(km.privateKey.Bytes())
	if err := os.WriteFile(km.keyPath, []byte(keyHex), 0600); err != nil {
		return fmt.Errorf("write key file: %w", err)
	}
	return nil
}

// GetPrivateKey returns the loaded or generated private key, nil before
// either happened.
func (km *KeyManager) GetPrivateKey() *PrivateKey {
	return km.privateKey
}

// GetPublicKey returns the matching public key, nil before load/generate.
func (km *KeyManager) GetPublicKey() *PublicKey {
	return km.publicKey
}

// GetPublicKeyBytes returns the compressed public key, nil before
// load/generate.
func (km *KeyManager) GetPublicKeyBytes() []byte {
	if km.publicKey == nil {
		return nil
	}
	return km.publicKey.Bytes()
}

// Sign signs message with the managed key.
func (km *KeyManager) Sign(message []byte) (*Signature, error) {
	if km.privateKey == nil {
		return nil, fmt.Errorf("no private key loaded")
	}
	return km.privateKey.Sign(message), nil
}

// SignWithDomain signs message under a message-class domain.
func (km *KeyManager) SignWithDomain(message []byte, domain string) (*Signature, error) {
	if km.privateKey == nil {
		return nil, fmt.Errorf("no private key loaded")
	}
	return km.privateKey.SignWithDomain(message, domain), nil
}

// InitializeValidatorBLSKey builds a validator's key manager for
// startup: load the key at keyPath when one exists there, otherwise
// derive deterministically from (validatorID, chainID), saving the
// result when keyPath is set.
func InitializeValidatorBLSKey(validatorID, chainID, keyPath string) (*KeyManager, error) {
	km := NewKeyManager(keyPath)

	if keyPath != "" {
		if _, err := os.Stat(keyPath); err == nil {
			if err := km.LoadKey(); err != nil {
				return nil, fmt.Errorf("load BLS key: %w", err)
			}
			return km, nil
		}
	}

	if err := km.GenerateFromValidatorID(validatorID, chainID); err != nil {
		return nil, fmt.Errorf("generate BLS key: %w", err)
	}
	if keyPath != "" {
		if err := km.SaveKey(); err != nil {
			return nil, fmt.Errorf("save BLS key: %w", err)
		}
	}
	return km, nil
}
