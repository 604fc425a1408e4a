// Package security computes SecurityAccess keys from ECU seeds.
package security

import (
	"crypto/aes"
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/chmike/cmac-go"
	"golang.org/x/crypto/hkdf"
)

// KeyAlgorithm turns a seed received for level into the key to send back.
// Implementations are vendor specific.
type KeyAlgorithm interface {
	ComputeKey(seed []byte, level byte) ([]byte, error)
}

// KeyFunc adapts a plain function to KeyAlgorithm.
type KeyFunc func(seed []byte, level byte) ([]byte, error)

func (f KeyFunc) ComputeKey(seed []byte, level byte) ([]byte, error) {
	return f(seed, level)
}

var ErrEmptySeed = errors.New("security: empty seed")

// XORAlgorithm inverts the seed bit pattern with Mask. It is the example
// algorithm shipped with bench setups, not a secure one.
type XORAlgorithm struct {
	Mask byte
}

func (x XORAlgorithm) ComputeKey(seed []byte, _ byte) ([]byte, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	key := make([]byte, len(seed))
	for i, b := range seed {
		key[i] = b ^ x.Mask
	}
	return key, nil
}

// CMACAlgorithm computes AES-CMAC(secret[level], level || seed) and
// truncates the tag to KeyLength bytes.
type CMACAlgorithm struct {
	secrets   map[byte][]byte
	keyLength int
}

func NewCMACAlgorithm(secrets map[byte][]byte, keyLength int) (*CMACAlgorithm, error) {
	if keyLength <= 0 || keyLength > aes.BlockSize {
		return nil, fmt.Errorf("security: key length %d out of range 1..%d", keyLength, aes.BlockSize)
	}
	if len(secrets) == 0 {
		return nil, errors.New("security: no level secrets configured")
	}
	copied := make(map[byte][]byte, len(secrets))
	for level, secret := range secrets {
		switch len(secret) {
		case 16, 24, 32:
		default:
			return nil, fmt.Errorf("security: level %d secret has %d bytes, want 16, 24 or 32", level, len(secret))
		}
		copied[level] = append([]byte(nil), secret...)
	}
	return &CMACAlgorithm{secrets: copied, keyLength: keyLength}, nil
}

// NewCMACFromMaster derives one AES-128 secret per level from master with
// DeriveSecret.
func NewCMACFromMaster(master []byte, levels []byte, keyLength int) (*CMACAlgorithm, error) {
	secrets := make(map[byte][]byte, len(levels))
	for _, level := range levels {
		s, err := DeriveSecret(master, level, 16)
		if err != nil {
			return nil, err
		}
		secrets[level] = s
	}
	return NewCMACAlgorithm(secrets, keyLength)
}

func (c *CMACAlgorithm) ComputeKey(seed []byte, level byte) ([]byte, error) {
	if len(seed) == 0 {
		return nil, ErrEmptySeed
	}
	secret, ok := c.secrets[level]
	if !ok {
		return nil, fmt.Errorf("security: no secret for level %d", level)
	}
	tag, err := aesCMAC(secret, []byte{level}, seed)
	if err != nil {
		return nil, err
	}
	return tag[:c.keyLength], nil
}

func aesCMAC(key []byte, parts ...[]byte) ([]byte, error) {
	mac, err := cmac.New(aes.NewCipher, key)
	if err != nil {
		return nil, fmt.Errorf("security: cmac: %w", err)
	}
	for _, p := range parts {
		mac.Write(p)
	}
	return mac.Sum(nil), nil
}

// DeriveSecret expands master into a level specific secret of length bytes
// using HKDF-SHA256.
func DeriveSecret(master []byte, level byte, length int) ([]byte, error) {
	if len(master) == 0 {
		return nil, errors.New("security: empty master secret")
	}
	return hkdfSHA256(master, nil, []byte(fmt.Sprintf("uds-security-access-level-%02x", level)), length)
}

func hkdfSHA256(ikm, salt, info []byte, length int) ([]byte, error) {
	out := make([]byte, length)
	if _, err := io.ReadFull(hkdf.New(sha256.New, ikm, salt, info), out); err != nil {
		return nil, fmt.Errorf("security: hkdf: %w", err)
	}
	return out, nil
}
