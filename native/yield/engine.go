// Package yield owns per-account balances for the SY/PT/YT tokens and the
// yield accrual state of YT positions.
//
// Accrual model: a YT position carries the yield settled so far plus the
// timestamp accrual was last settled at. Pending yield is the compound
// growth of the current balance over whole elapsed blocks since that
// timestamp, clamped at the maturity instant. Every balance mutation
// settles pending yield first so a mint or burn never retroactively
// changes what an earlier balance already earned. All divisions floor.
package yield

import (
	"errors"
	"fmt"
	"math/big"

	"syforge/core/events"
	"syforge/native/fixedmath"
	"syforge/native/maturity"
)

var (
	ErrInvalidAmount       = errors.New("yield: amount must be greater than zero")
	ErrInsufficientBalance = errors.New("yield: insufficient balance")
	ErrNothingToClaim      = errors.New("yield: nothing to claim")
	ErrYTExpired           = errors.New("yield: yt token has expired")
)

var errNilState = errors.New("yield: state not configured")

var (
	balancePrefix = []byte("yield/balance/")
	supplyPrefix  = []byte("yield/supply/")
	accruedPrefix = []byte("yield/accrued/")
)

type engineState interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
}

type storedBalance struct {
	Amount      *big.Int
	LastAccrual uint64
	Accrued     *big.Int
}

type storedSupply struct {
	Total *big.Int
}

type storedAudit struct {
	Total *big.Int
}

// Engine mutates balance and accrual state. It is not concurrency safe on
// its own; the factory serialises mutations to preserve the globally
// ordered ledger semantics.
type Engine struct {
	st      engineState
	emitter events.Emitter
}

// NewEngine constructs an engine backed by the provided state store.
func NewEngine(st engineState) *Engine {
	return &Engine{st: st, emitter: events.NoopEmitter{}}
}

// SetEmitter configures the event emitter. Passing nil resets it to a
// no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// Mint credits amount of the entry's kind token to the account. YT
// positions settle pending accrual before the balance changes.
func (e *Engine) Mint(entry *maturity.Entry, kind maturity.TokenKind, account [20]byte, amount *big.Int, now int64) error {
	if e == nil || e.st == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token := entry.TokenOfKind(kind)
	record, err := e.loadBalance(token, account, now)
	if err != nil {
		return err
	}
	if kind == maturity.KindYT {
		if err := settle(entry, record, now); err != nil {
			return err
		}
	}
	record.Amount = new(big.Int).Add(record.Amount, amount)
	if err := e.st.KVPut(balanceKey(token, account), record); err != nil {
		return err
	}
	total, err := e.adjustSupply(token, amount)
	if err != nil {
		return err
	}
	e.emit(events.TokenSupply{Token: token, Total: total, Delta: amount, Reason: events.SupplyReasonMint})
	return nil
}

// Burn debits amount of the entry's kind token from the account. Burning
// more than the balance fails with ErrInsufficientBalance; balances never
// clamp to zero.
func (e *Engine) Burn(entry *maturity.Entry, kind maturity.TokenKind, account [20]byte, amount *big.Int, now int64) error {
	if e == nil || e.st == nil {
		return errNilState
	}
	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	token := entry.TokenOfKind(kind)
	record, err := e.loadBalance(token, account, now)
	if err != nil {
		return err
	}
	if kind == maturity.KindYT {
		if err := settle(entry, record, now); err != nil {
			return err
		}
	}
	if record.Amount.Cmp(amount) < 0 {
		return fmt.Errorf("%w: %s token", ErrInsufficientBalance, kind)
	}
	record.Amount = new(big.Int).Sub(record.Amount, amount)
	if err := e.st.KVPut(balanceKey(token, account), record); err != nil {
		return err
	}
	total, err := e.adjustSupply(token, new(big.Int).Neg(amount))
	if err != nil {
		return err
	}
	e.emit(events.TokenSupply{Token: token, Total: total, Delta: new(big.Int).Neg(amount), Reason: events.SupplyReasonBurn})
	return nil
}

// BalanceOf returns the account's balance of the token.
func (e *Engine) BalanceOf(token [32]byte, account [20]byte) (*big.Int, error) {
	if e == nil || e.st == nil {
		return nil, errNilState
	}
	stored := new(storedBalance)
	found, err := e.st.KVGet(balanceKey(token, account), stored)
	if err != nil {
		return nil, err
	}
	if !found || stored.Amount == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(stored.Amount), nil
}

// TotalSupply returns the token's total supply.
func (e *Engine) TotalSupply(token [32]byte) (*big.Int, error) {
	if e == nil || e.st == nil {
		return nil, errNilState
	}
	stored := new(storedSupply)
	found, err := e.st.KVGet(supplyKey(token), stored)
	if err != nil {
		return nil, err
	}
	if !found || stored.Total == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(stored.Total), nil
}

// TotalYieldAccrued returns the audited sum of yield ever paid out against
// the SY token.
func (e *Engine) TotalYieldAccrued(syToken [32]byte) (*big.Int, error) {
	if e == nil || e.st == nil {
		return nil, errNilState
	}
	stored := new(storedAudit)
	found, err := e.st.KVGet(accruedKey(syToken), stored)
	if err != nil {
		return nil, err
	}
	if !found || stored.Total == nil {
		return big.NewInt(0), nil
	}
	return new(big.Int).Set(stored.Total), nil
}

// ComputeClaimableYield returns the yield the account could claim at the
// provided instant without mutating state. The value is monotone
// non-decreasing while the entry is active and frozen once matured.
func (e *Engine) ComputeClaimableYield(entry *maturity.Entry, account [20]byte, now int64) (*big.Int, error) {
	if e == nil || e.st == nil {
		return nil, errNilState
	}
	record := new(storedBalance)
	found, err := e.st.KVGet(balanceKey(entry.YTToken, account), record)
	if err != nil {
		return nil, err
	}
	if !found {
		return big.NewInt(0), nil
	}
	normalizeBalance(record)
	pending, err := pendingYield(entry, record, now)
	if err != nil {
		return nil, err
	}
	return pending.Add(pending, record.Accrued), nil
}

// ClaimYield settles and pays out the account's claimable yield. Claims
// are only accepted strictly before maturity: once the YT has expired the
// operation fails with ErrYTExpired, mirroring the on-chain guard. The
// claimed amount is added to the SY token's audit total.
func (e *Engine) ClaimYield(entry *maturity.Entry, account [20]byte, now int64) (*big.Int, error) {
	if e == nil || e.st == nil {
		return nil, errNilState
	}
	if entry.HasMatured(now) {
		return nil, ErrYTExpired
	}
	record, err := e.loadBalance(entry.YTToken, account, now)
	if err != nil {
		return nil, err
	}
	if err := settle(entry, record, now); err != nil {
		return nil, err
	}
	claimed := record.Accrued
	if claimed.Sign() == 0 {
		return nil, ErrNothingToClaim
	}
	record.Accrued = big.NewInt(0)
	if err := e.st.KVPut(balanceKey(entry.YTToken, account), record); err != nil {
		return nil, err
	}
	audit := new(storedAudit)
	if _, err := e.st.KVGet(accruedKey(entry.SYToken), audit); err != nil {
		return nil, err
	}
	if audit.Total == nil {
		audit.Total = big.NewInt(0)
	}
	audit.Total = new(big.Int).Add(audit.Total, claimed)
	if err := e.st.KVPut(accruedKey(entry.SYToken), audit); err != nil {
		return nil, err
	}
	return claimed, nil
}

func (e *Engine) loadBalance(token [32]byte, account [20]byte, now int64) (*storedBalance, error) {
	record := new(storedBalance)
	found, err := e.st.KVGet(balanceKey(token, account), record)
	if err != nil {
		return nil, err
	}
	if !found {
		return &storedBalance{Amount: big.NewInt(0), LastAccrual: uint64(now), Accrued: big.NewInt(0)}, nil
	}
	normalizeBalance(record)
	return record, nil
}

func (e *Engine) adjustSupply(token [32]byte, delta *big.Int) (*big.Int, error) {
	stored := new(storedSupply)
	if _, err := e.st.KVGet(supplyKey(token), stored); err != nil {
		return nil, err
	}
	if stored.Total == nil {
		stored.Total = big.NewInt(0)
	}
	total := new(big.Int).Add(stored.Total, delta)
	if total.Sign() < 0 {
		return nil, fmt.Errorf("yield: supply underflow")
	}
	stored.Total = total
	if err := e.st.KVPut(supplyKey(token), stored); err != nil {
		return nil, err
	}
	return new(big.Int).Set(total), nil
}

func (e *Engine) emit(event events.Event) {
	if e == nil || e.emitter == nil {
		return
	}
	e.emitter.Emit(event)
}

// settle folds pending yield into the record. The accrual timestamp only
// advances by whole consumed blocks, so frequent sub-block mutations never
// drop accrual time. Safe to call at or after maturity: elapsed periods
// clamp at the maturity instant so no further yield appears.
func settle(entry *maturity.Entry, record *storedBalance, now int64) error {
	periods := elapsedPeriods(entry, int64(record.LastAccrual), now)
	if periods == 0 {
		return nil
	}
	if record.Amount != nil && record.Amount.Sign() > 0 {
		rate, err := fixedmath.RateFromBasisPoints(entry.YieldRateBps)
		if err != nil {
			return err
		}
		pending, err := fixedmath.GrowthYield(record.Amount, rate, periods)
		if err != nil {
			return err
		}
		if pending.Sign() > 0 {
			record.Accrued = new(big.Int).Add(record.Accrued, pending)
		}
	}
	record.LastAccrual += periods * uint64(entry.BlockTime)
	return nil
}

func pendingYield(entry *maturity.Entry, record *storedBalance, now int64) (*big.Int, error) {
	if record.Amount == nil || record.Amount.Sign() == 0 {
		return big.NewInt(0), nil
	}
	periods := elapsedPeriods(entry, int64(record.LastAccrual), now)
	if periods == 0 {
		return big.NewInt(0), nil
	}
	rate, err := fixedmath.RateFromBasisPoints(entry.YieldRateBps)
	if err != nil {
		return nil, err
	}
	return fixedmath.GrowthYield(record.Amount, rate, periods)
}

// elapsedPeriods counts whole blocks between the last settlement and now,
// clamped to the maturity instant. Yield accrues strictly before maturity.
func elapsedPeriods(entry *maturity.Entry, since, now int64) uint64 {
	if entry.BlockTime <= 0 {
		return 0
	}
	if now > entry.Maturity {
		now = entry.Maturity
	}
	if now <= since {
		return 0
	}
	return uint64((now - since) / entry.BlockTime)
}

func normalizeBalance(record *storedBalance) {
	if record.Amount == nil {
		record.Amount = big.NewInt(0)
	}
	if record.Accrued == nil {
		record.Accrued = big.NewInt(0)
	}
}

func balanceKey(token [32]byte, account [20]byte) []byte {
	buf := make([]byte, 0, len(balancePrefix)+len(token)+len(account))
	buf = append(buf, balancePrefix...)
	buf = append(buf, token[:]...)
	return append(buf, account[:]...)
}

func supplyKey(token [32]byte) []byte {
	buf := make([]byte, 0, len(supplyPrefix)+len(token))
	buf = append(buf, supplyPrefix...)
	return append(buf, token[:]...)
}

func accruedKey(token [32]byte) []byte {
	buf := make([]byte, 0, len(accruedPrefix)+len(token))
	buf = append(buf, accruedPrefix...)
	return append(buf, token[:]...)
}
