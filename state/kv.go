package state

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"github.com/ethereum/go-ethereum/rlp"

	"syforge/storage"
)

// schemaVersion is prepended to every stored record so future layout
// changes can migrate values in place.
const schemaVersion byte = 1

var errBadSchema = errors.New("state: unsupported record schema version")

// KV layers RLP value encoding and append-only list indexes on top of a
// storage.Database. All token, maturity and balance records are persisted
// through it. A single RWMutex keeps readers on a consistent snapshot while
// the factory serialises mutations.
type KV struct {
	mu sync.RWMutex
	db storage.Database
}

// NewKV constructs a store bound to the provided database backend.
func NewKV(db storage.Database) *KV {
	return &KV{db: db}
}

// KVPut stores the provided value under the supplied key using RLP encoding.
func (s *KV) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Put(key, withSchema(encoded))
}

// KVGet retrieves the value stored under the supplied key and decodes it
// into the provided destination. The boolean reports whether the key
// existed in state.
func (s *KV) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("state: key must not be empty")
	}
	s.mu.RLock()
	data, err := s.db.Get(key)
	s.mu.RUnlock()
	if errors.Is(err, storage.ErrKeyNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	payload, err := stripSchema(data)
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(payload, out); err != nil {
		return false, err
	}
	return true, nil
}

// KVAppend appends the provided value to the byte-slice list stored under
// the supplied key. Duplicate values are ignored so index replays stay
// deterministic.
func (s *KV) KVAppend(key []byte, value []byte) error {
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	var list [][]byte
	data, err := s.db.Get(key)
	switch {
	case errors.Is(err, storage.ErrKeyNotFound):
	case err != nil:
		return err
	default:
		payload, err := stripSchema(data)
		if err != nil {
			return err
		}
		if err := rlp.DecodeBytes(payload, &list); err != nil {
			return err
		}
	}
	for _, existing := range list {
		if bytes.Equal(existing, value) {
			return nil
		}
	}
	list = append(list, append([]byte(nil), value...))
	encoded, err := rlp.EncodeToBytes(list)
	if err != nil {
		return err
	}
	return s.db.Put(key, withSchema(encoded))
}

// KVGetList retrieves the list stored under the provided key and decodes it
// into the supplied destination slice pointer. A missing key yields an
// empty slice rather than nil.
func (s *KV) KVGetList(key []byte, out interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("state: key must not be empty")
	}
	s.mu.RLock()
	data, err := s.db.Get(key)
	s.mu.RUnlock()
	if errors.Is(err, storage.ErrKeyNotFound) {
		val := reflect.ValueOf(out)
		if val.Kind() != reflect.Ptr || val.IsNil() {
			return fmt.Errorf("state: destination must be a non-nil pointer")
		}
		elem := val.Elem()
		if elem.Kind() != reflect.Slice {
			return fmt.Errorf("state: destination must point to a slice")
		}
		elem.Set(reflect.MakeSlice(elem.Type(), 0, 0))
		return nil
	}
	if err != nil {
		return err
	}
	payload, err := stripSchema(data)
	if err != nil {
		return err
	}
	return rlp.DecodeBytes(payload, out)
}

func withSchema(encoded []byte) []byte {
	buf := make([]byte, len(encoded)+1)
	buf[0] = schemaVersion
	copy(buf[1:], encoded)
	return buf
}

func stripSchema(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, errBadSchema
	}
	if data[0] != schemaVersion {
		return nil, fmt.Errorf("%w: %d", errBadSchema, data[0])
	}
	return data[1:], nil
}
