// Package registry is the single source of truth for underlying asset
// metadata. Assets are registered on first wrap and immutable afterwards.
package registry

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidAsset     = errors.New("registry: invalid asset")
	ErrAssetNotFound    = errors.New("registry: asset not found")
	ErrMetadataConflict = errors.New("registry: metadata conflict")
)

var assetPrefix = []byte("registry/asset/")

type registryState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

// UnderlyingAsset describes a registered yield-bearing underlying token.
type UnderlyingAsset struct {
	ID       [20]byte
	Name     string
	Symbol   string
	Decimals uint8
}

type storedAsset struct {
	Name     string
	Symbol   string
	Decimals uint8
}

// Registry manages persistence and retrieval of underlying assets.
type Registry struct {
	st registryState
}

// NewRegistry creates a registry backed by the provided state store.
func NewRegistry(st registryState) *Registry {
	return &Registry{st: st}
}

// Validate reports whether registering the metadata would succeed, without
// writing anything. Callers composing multi-step operations use it to
// reject conflicts before any mutation.
func (r *Registry) Validate(id [20]byte, name, symbol string, decimals uint8) error {
	if r == nil || r.st == nil {
		return errors.New("registry: state not configured")
	}
	_, _, err := r.check(id, name, symbol, decimals)
	return err
}

// Register records the metadata of an underlying asset. Re-registering the
// same id with identical metadata is a no-op; conflicting metadata fails
// with ErrMetadataConflict so a registered asset can never change shape.
func (r *Registry) Register(id [20]byte, name, symbol string, decimals uint8) error {
	if r == nil || r.st == nil {
		return errors.New("registry: state not configured")
	}
	name = strings.TrimSpace(name)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	found, _, err := r.check(id, name, symbol, decimals)
	if err != nil || found {
		return err
	}
	return r.st.KVPut(assetKey(id), &storedAsset{Name: name, Symbol: symbol, Decimals: decimals})
}

// check normalises the metadata and reports whether the id is already
// registered, failing on invalid input or a conflict with the stored form.
func (r *Registry) check(id [20]byte, name, symbol string, decimals uint8) (bool, *storedAsset, error) {
	name = strings.TrimSpace(name)
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if name == "" || symbol == "" {
		return false, nil, fmt.Errorf("%w: name and symbol required", ErrInvalidAsset)
	}
	existing := new(storedAsset)
	found, err := r.st.KVGet(assetKey(id), existing)
	if err != nil {
		return false, nil, err
	}
	if found && (existing.Name != name || existing.Symbol != symbol || existing.Decimals != decimals) {
		return true, existing, fmt.Errorf("%w: %s", ErrMetadataConflict, symbol)
	}
	return found, existing, nil
}

// Get retrieves a registered asset by id.
func (r *Registry) Get(id [20]byte) (*UnderlyingAsset, error) {
	if r == nil || r.st == nil {
		return nil, errors.New("registry: state not configured")
	}
	stored := new(storedAsset)
	found, err := r.st.KVGet(assetKey(id), stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrAssetNotFound
	}
	return &UnderlyingAsset{ID: id, Name: stored.Name, Symbol: stored.Symbol, Decimals: stored.Decimals}, nil
}

// Exists reports whether the asset id has been registered.
func (r *Registry) Exists(id [20]byte) (bool, error) {
	if r == nil || r.st == nil {
		return false, errors.New("registry: state not configured")
	}
	return r.st.KVGet(assetKey(id), nil)
}

func assetKey(id [20]byte) []byte {
	buf := make([]byte, len(assetPrefix)+len(id))
	copy(buf, assetPrefix)
	copy(buf[len(assetPrefix):], id[:])
	return buf
}
