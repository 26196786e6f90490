// Package crypto holds key management for the factory authority: secp256k1
// keys, 20-byte hex addresses and the v3 keystore used by the daemon.
package crypto

import (
	"crypto/ecdsa"
	"crypto/rand"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
)

// Address is a 20-byte account or asset identifier rendered as 0x-prefixed
// checksummed hex.
type Address [20]byte

// NewAddress copies b into an Address. b must be exactly 20 bytes.
func NewAddress(b []byte) (Address, error) {
	var addr Address
	if len(b) != len(addr) {
		return Address{}, fmt.Errorf("crypto: address must be %d bytes, got %d", len(addr), len(b))
	}
	copy(addr[:], b)
	return addr, nil
}

// ParseAddress decodes a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	if !common.IsHexAddress(s) {
		return Address{}, fmt.Errorf("crypto: invalid address %q", s)
	}
	return Address(common.HexToAddress(s)), nil
}

func (a Address) String() string {
	return common.Address(a).Hex()
}

func (a Address) Bytes() []byte {
	return append([]byte(nil), a[:]...)
}

type PrivateKey struct {
	*ecdsa.PrivateKey
}

type PublicKey struct {
	*ecdsa.PublicKey
}

func GeneratePrivateKey() (*PrivateKey, error) {
	key, err := ecdsa.GenerateKey(ethcrypto.S256(), rand.Reader)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}

// Bytes returns the byte representation of the private key.
func (k *PrivateKey) Bytes() []byte {
	return ethcrypto.FromECDSA(k.PrivateKey)
}

func (k *PrivateKey) PubKey() *PublicKey {
	return &PublicKey{&k.PrivateKey.PublicKey}
}

// Address derives the 20-byte address of the key's public half.
func (k *PublicKey) Address() Address {
	return Address(ethcrypto.PubkeyToAddress(*k.PublicKey))
}

func PrivateKeyFromBytes(b []byte) (*PrivateKey, error) {
	key, err := ethcrypto.ToECDSA(b)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key}, nil
}
