// Package maturity owns the per (underlying, maturity) records binding an
// SY/PT/YT token triple to its yield-rate configuration.
package maturity

import (
	"fmt"
	"math/big"
	"time"

	"syforge/native/fixedmath"
)

// Horizon bounds enforced at creation, in seconds.
const (
	// MinHorizon is the shortest allowed distance to maturity (one day).
	MinHorizon = 24 * 60 * 60
	// MaxHorizon is the longest allowed distance to maturity (a hundred
	// 365.25 day years).
	MaxHorizon = 100 * 31_557_600
)

// secondsPerYear uses the 365.25 day convention the rate maths were
// calibrated against.
const secondsPerYear = 31_557_600

// TokenKind distinguishes the three tokens owned by a maturity entry.
type TokenKind uint8

const (
	KindSY TokenKind = iota + 1
	KindPT
	KindYT
)

// Valid reports whether the kind is within the supported range.
func (k TokenKind) Valid() bool {
	switch k {
	case KindSY, KindPT, KindYT:
		return true
	default:
		return false
	}
}

func (k TokenKind) String() string {
	switch k {
	case KindSY:
		return "SY"
	case KindPT:
		return "PT"
	case KindYT:
		return "YT"
	default:
		return fmt.Sprintf("TokenKind(%d)", uint8(k))
	}
}

// Entry is the immutable record of one maturity. Matured-ness is always
// derived from the timestamp, never cached, so it can never go stale.
type Entry struct {
	UnderlyingID [20]byte
	Maturity     int64
	YieldRateBps uint32
	BlockTime    int64
	SYToken      [32]byte
	PTToken      [32]byte
	YTToken      [32]byte
	CreatedAt    int64
}

// Clone returns a copy callers can hold without aliasing stored state.
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	clone := *e
	return &clone
}

// HasMatured reports whether the entry has reached maturity at the provided
// instant. The boundary is inclusive: now == maturity counts as matured.
func (e *Entry) HasMatured(now int64) bool {
	if e == nil {
		return false
	}
	return now >= e.Maturity
}

// TokenOfKind returns the token id for the requested kind.
func (e *Entry) TokenOfKind(kind TokenKind) [32]byte {
	switch kind {
	case KindSY:
		return e.SYToken
	case KindPT:
		return e.PTToken
	case KindYT:
		return e.YTToken
	default:
		return [32]byte{}
	}
}

// PeriodsPerYear derives how many accrual periods (blocks) fit in a year
// for this entry's block time.
func (e *Entry) PeriodsPerYear() uint64 {
	if e == nil || e.BlockTime <= 0 {
		return 0
	}
	return uint64(secondsPerYear / e.BlockTime)
}

// APY returns the wad-scaled annualised yield implied by the per-block
// rate, mirroring the calculator surfaced in the UI.
func (e *Entry) APY() (*big.Int, error) {
	rate, err := fixedmath.RateFromBasisPoints(e.YieldRateBps)
	if err != nil {
		return nil, err
	}
	return fixedmath.APY(rate, e.PeriodsPerYear())
}

// SymbolFor derives the display symbol of one of the entry's tokens from
// the underlying symbol, e.g. "PT-STCORE-2026-12-31".
func (e *Entry) SymbolFor(kind TokenKind, underlyingSymbol string) string {
	day := time.Unix(e.Maturity, 0).UTC().Format("2006-01-02")
	return fmt.Sprintf("%s-%s-%s", kind, underlyingSymbol, day)
}
