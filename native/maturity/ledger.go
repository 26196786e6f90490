package maturity

import (
	"encoding/binary"
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"syforge/core/events"
)

var (
	ErrMaturityTooSoon       = errors.New("maturity: maturity too soon")
	ErrMaturityTooFar        = errors.New("maturity: maturity too far")
	ErrMaturityAlreadyExists = errors.New("maturity: maturity already exists")
	ErrMaturityNotFound      = errors.New("maturity: entry not found")
	ErrTokenNotFound         = errors.New("maturity: token not found")
	ErrInvalidRate           = errors.New("maturity: invalid yield rate")
	ErrInvalidBlockTime      = errors.New("maturity: invalid block time")
)

var (
	entryPrefix    = []byte("maturity/entry/")
	tokenRefPrefix = []byte("maturity/token/")
	indexPrefix    = []byte("maturity/index/")
)

type ledgerState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVAppend(key []byte, value []byte) error
	KVGetList(key []byte, out interface{}) error
}

type storedEntry struct {
	UnderlyingID [20]byte
	Maturity     uint64
	YieldRateBps uint32
	BlockTime    uint64
	SYToken      [32]byte
	PTToken      [32]byte
	YTToken      [32]byte
	CreatedAt    uint64
}

type storedTokenRef struct {
	UnderlyingID [20]byte
	Maturity     uint64
	Kind         uint8
}

// Ledger creates and resolves maturity entries against the state store.
type Ledger struct {
	st      ledgerState
	emitter events.Emitter
}

// NewLedger constructs a ledger backed by the provided state store.
func NewLedger(st ledgerState) *Ledger {
	return &Ledger{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a
// no-op implementation.
func (l *Ledger) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		l.emitter = events.NoopEmitter{}
		return
	}
	l.emitter = emitter
}

// CreateMaturity provisions the SY/PT/YT triple for an (underlying,
// maturity) pair. The pair is an idempotency key: a second creation fails
// with ErrMaturityAlreadyExists. Token ids are derived from the pair via
// keccak256 so replays allocate identical identities.
func (l *Ledger) CreateMaturity(underlyingID [20]byte, maturityTs int64, yieldRateBps uint32, blockTime int64, now int64) (*Entry, error) {
	if l == nil || l.st == nil {
		return nil, errors.New("maturity: state not configured")
	}
	if yieldRateBps == 0 || yieldRateBps > 100_000 {
		return nil, fmt.Errorf("%w: %d bps", ErrInvalidRate, yieldRateBps)
	}
	if blockTime <= 0 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidBlockTime, blockTime)
	}
	horizon := maturityTs - now
	if horizon < MinHorizon {
		return nil, fmt.Errorf("%w: %d seconds", ErrMaturityTooSoon, horizon)
	}
	if horizon > MaxHorizon {
		return nil, fmt.Errorf("%w: %d seconds", ErrMaturityTooFar, horizon)
	}

	key := entryKey(underlyingID, maturityTs)
	exists, err := l.st.KVGet(key, new(storedEntry))
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, ErrMaturityAlreadyExists
	}

	entry := &Entry{
		UnderlyingID: underlyingID,
		Maturity:     maturityTs,
		YieldRateBps: yieldRateBps,
		BlockTime:    blockTime,
		SYToken:      deriveTokenID(underlyingID, maturityTs, KindSY),
		PTToken:      deriveTokenID(underlyingID, maturityTs, KindPT),
		YTToken:      deriveTokenID(underlyingID, maturityTs, KindYT),
		CreatedAt:    now,
	}
	if err := l.st.KVPut(key, toStoredEntry(entry)); err != nil {
		return nil, err
	}
	for _, kind := range []TokenKind{KindSY, KindPT, KindYT} {
		token := entry.TokenOfKind(kind)
		ref := &storedTokenRef{UnderlyingID: underlyingID, Maturity: uint64(maturityTs), Kind: uint8(kind)}
		if err := l.st.KVPut(tokenRefKey(token), ref); err != nil {
			return nil, err
		}
	}
	if err := l.st.KVAppend(indexKey(underlyingID), maturityIndexValue(maturityTs)); err != nil {
		return nil, err
	}

	l.emit(events.MaturityCreated{
		UnderlyingID: underlyingID,
		Maturity:     maturityTs,
		YieldRateBps: yieldRateBps,
		SYToken:      entry.SYToken,
		PTToken:      entry.PTToken,
		YTToken:      entry.YTToken,
		CreatedAt:    now,
	})
	return entry.Clone(), nil
}

// GetByMaturity resolves the entry for an (underlying, maturity) pair.
func (l *Ledger) GetByMaturity(underlyingID [20]byte, maturityTs int64) (*Entry, error) {
	if l == nil || l.st == nil {
		return nil, errors.New("maturity: state not configured")
	}
	stored := new(storedEntry)
	found, err := l.st.KVGet(entryKey(underlyingID, maturityTs), stored)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, ErrMaturityNotFound
	}
	return fromStoredEntry(stored), nil
}

// GetByToken resolves the entry owning the provided token id, along with
// which of the triple the token is.
func (l *Ledger) GetByToken(token [32]byte) (*Entry, TokenKind, error) {
	if l == nil || l.st == nil {
		return nil, 0, errors.New("maturity: state not configured")
	}
	ref := new(storedTokenRef)
	found, err := l.st.KVGet(tokenRefKey(token), ref)
	if err != nil {
		return nil, 0, err
	}
	if !found {
		return nil, 0, ErrTokenNotFound
	}
	kind := TokenKind(ref.Kind)
	if !kind.Valid() {
		return nil, 0, fmt.Errorf("maturity: corrupt token ref kind %d", ref.Kind)
	}
	entry, err := l.GetByMaturity(ref.UnderlyingID, int64(ref.Maturity))
	if err != nil {
		return nil, 0, err
	}
	return entry, kind, nil
}

// List returns every maturity entry recorded for the underlying, in
// insertion order.
func (l *Ledger) List(underlyingID [20]byte) ([]*Entry, error) {
	if l == nil || l.st == nil {
		return nil, errors.New("maturity: state not configured")
	}
	var raw [][]byte
	if err := l.st.KVGetList(indexKey(underlyingID), &raw); err != nil {
		return nil, err
	}
	entries := make([]*Entry, 0, len(raw))
	for _, encoded := range raw {
		if len(encoded) != 8 {
			continue
		}
		maturityTs := int64(binary.BigEndian.Uint64(encoded))
		entry, err := l.GetByMaturity(underlyingID, maturityTs)
		if err != nil {
			return nil, err
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

func (l *Ledger) emit(event events.Event) {
	if l == nil || l.emitter == nil {
		return
	}
	l.emitter.Emit(event)
}

func deriveTokenID(underlyingID [20]byte, maturityTs int64, kind TokenKind) [32]byte {
	buf := make([]byte, 0, len(underlyingID)+9)
	buf = append(buf, underlyingID[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(maturityTs))
	buf = append(buf, byte(kind))
	var id [32]byte
	copy(id[:], ethcrypto.Keccak256(buf))
	return id
}

func entryKey(underlyingID [20]byte, maturityTs int64) []byte {
	buf := make([]byte, 0, len(entryPrefix)+len(underlyingID)+8)
	buf = append(buf, entryPrefix...)
	buf = append(buf, underlyingID[:]...)
	return binary.BigEndian.AppendUint64(buf, uint64(maturityTs))
}

func tokenRefKey(token [32]byte) []byte {
	buf := make([]byte, 0, len(tokenRefPrefix)+len(token))
	buf = append(buf, tokenRefPrefix...)
	return append(buf, token[:]...)
}

func indexKey(underlyingID [20]byte) []byte {
	buf := make([]byte, 0, len(indexPrefix)+len(underlyingID))
	buf = append(buf, indexPrefix...)
	return append(buf, underlyingID[:]...)
}

func maturityIndexValue(maturityTs int64) []byte {
	return binary.BigEndian.AppendUint64(nil, uint64(maturityTs))
}

func toStoredEntry(e *Entry) *storedEntry {
	return &storedEntry{
		UnderlyingID: e.UnderlyingID,
		Maturity:     uint64(e.Maturity),
		YieldRateBps: e.YieldRateBps,
		BlockTime:    uint64(e.BlockTime),
		SYToken:      e.SYToken,
		PTToken:      e.PTToken,
		YTToken:      e.YTToken,
		CreatedAt:    uint64(e.CreatedAt),
	}
}

func fromStoredEntry(s *storedEntry) *Entry {
	return &Entry{
		UnderlyingID: s.UnderlyingID,
		Maturity:     int64(s.Maturity),
		YieldRateBps: s.YieldRateBps,
		BlockTime:    int64(s.BlockTime),
		SYToken:      s.SYToken,
		PTToken:      s.PTToken,
		YTToken:      s.YTToken,
		CreatedAt:    int64(s.CreatedAt),
	}
}
