// Package tokenfactory exposes the public operation surface of the
// protocol: maturity creation, wrapping, splitting, merging, principal
// redemption and yield claims. Every operation validates completely before
// applying any mutation, so a rejected call never leaves partial state.
package tokenfactory

import (
	"fmt"
	"math/big"
	"sync"
	"time"

	"syforge/core/events"
	"syforge/native/maturity"
	"syforge/native/registry"
	"syforge/native/yield"
	"syforge/observability"
)

// TransferLedger is the external collaborator moving underlying tokens in
// and out of the protocol. Calls run to completion before the matching
// mint or burn is applied; a failure aborts the whole operation.
type TransferLedger interface {
	TransferIn(account [20]byte, underlying [20]byte, amount *big.Int) error
	TransferOut(account [20]byte, underlying [20]byte, amount *big.Int) error
}

// Factory composes the registry, maturity ledger and accounting engine
// behind the protocol state machine. Mutating operations hold the write
// lock across all of their discrete state writes and queries take the read
// lock, so a read never observes a half-applied mutation.
type Factory struct {
	mu sync.RWMutex

	authority  [20]byte
	registry   *registry.Registry
	maturities *maturity.Ledger
	engine     *yield.Engine
	transfers  TransferLedger
	emitter    events.Emitter
	metrics    *observability.FactoryMetrics
}

// NewFactory wires the factory with its collaborators. The authority is
// the only caller allowed to create maturities.
func NewFactory(authority [20]byte, reg *registry.Registry, ledger *maturity.Ledger, engine *yield.Engine, transfers TransferLedger) *Factory {
	return &Factory{
		authority:  authority,
		registry:   reg,
		maturities: ledger,
		engine:     engine,
		transfers:  transfers,
		emitter:    events.NoopEmitter{},
	}
}

// SetEmitter configures the event emitter for operation events and
// propagates it to the maturity ledger and accounting engine so the whole
// event stream lands in one place. Passing nil resets to a no-op.
func (f *Factory) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	f.emitter = emitter
	if f.maturities != nil {
		f.maturities.SetEmitter(emitter)
	}
	if f.engine != nil {
		f.engine.SetEmitter(emitter)
	}
}

// SetMetrics wires prometheus operation metrics. Optional.
func (f *Factory) SetMetrics(metrics *observability.FactoryMetrics) {
	f.metrics = metrics
}

// CreateMaturity provisions the SY/PT/YT triple for an (underlying,
// maturity) pair, registering the underlying metadata when unseen. Only
// the factory authority may call it.
func (f *Factory) CreateMaturity(caller [20]byte, underlyingID [20]byte, name, symbol string, decimals uint8, maturityTs int64, yieldRateBps uint32, blockTime int64, now int64) (entry *maturity.Entry, err error) {
	defer f.observe("createMaturity", time.Now(), &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	if caller != f.authority {
		return nil, ErrUnauthorized
	}
	// Validate the registration before creating the entry so a metadata
	// conflict cannot leave a maturity behind, and create the entry before
	// registering so a rejected maturity cannot leave a registration.
	if err := f.registry.Validate(underlyingID, name, symbol, decimals); err != nil {
		return nil, err
	}
	entry, err = f.maturities.CreateMaturity(underlyingID, maturityTs, yieldRateBps, blockTime, now)
	if err != nil {
		return nil, err
	}
	if err := f.registry.Register(underlyingID, name, symbol, decimals); err != nil {
		return nil, err
	}
	return entry, nil
}

// Wrap deposits amount of the underlying and mints SY 1:1 for the maturity
// identified by maturityTs. The transfer-in is confirmed before any mint.
// Wrapping into a matured series is rejected: the resulting SY could never
// be split and would strand the deposit.
func (f *Factory) Wrap(account [20]byte, underlyingID [20]byte, maturityTs int64, amount *big.Int, now int64) (err error) {
	defer f.observe("wrap", time.Now(), &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, err := f.validateWrap(account, underlyingID, maturityTs, amount, now)
	if err != nil {
		return err
	}
	if err := f.transfers.TransferIn(account, underlyingID, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := f.engine.Mint(entry, maturity.KindSY, account, amount, now); err != nil {
		return err
	}
	f.emit(events.Wrapped{
		Account:      account,
		UnderlyingID: underlyingID,
		SYToken:      entry.SYToken,
		Amount:       amount,
		Timestamp:    now,
	})
	return nil
}

// WrapAndSplit composes wrap and split into one atomic step: the wrapped
// SY amount is immediately split into equal PT and YT.
func (f *Factory) WrapAndSplit(account [20]byte, underlyingID [20]byte, maturityTs int64, amount *big.Int, now int64) (err error) {
	defer f.observe("wrapAndSplit", time.Now(), &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, err := f.validateWrap(account, underlyingID, maturityTs, amount, now)
	if err != nil {
		return err
	}
	if err := f.transfers.TransferIn(account, underlyingID, amount); err != nil {
		return fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := f.engine.Mint(entry, maturity.KindSY, account, amount, now); err != nil {
		return err
	}
	f.emit(events.Wrapped{
		Account:      account,
		UnderlyingID: underlyingID,
		SYToken:      entry.SYToken,
		Amount:       amount,
		Timestamp:    now,
	})
	return f.applySplit(entry, account, amount, now)
}

// Split burns SY and mints the PT/YT pair 1:1:1. Matured SY can no longer
// be split.
func (f *Factory) Split(account [20]byte, syToken [32]byte, amount *big.Int, now int64) (err error) {
	defer f.observe("split", time.Now(), &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	entry, err := f.resolveToken(syToken, maturity.KindSY)
	if err != nil {
		return err
	}
	if entry.HasMatured(now) {
		return ErrSYTokenMatured
	}
	balance, err := f.engine.BalanceOf(entry.SYToken, account)
	if err != nil {
		return err
	}
	if balance.Cmp(amount) < 0 {
		return ErrInsufficientSY
	}
	return f.applySplit(entry, account, amount, now)
}

// Merge burns an equal PT/YT pair and mints SY back, inverting Split.
// Merging stays available after maturity.
func (f *Factory) Merge(account [20]byte, syToken [32]byte, amount *big.Int, now int64) (err error) {
	defer f.observe("merge", time.Now(), &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	if amount == nil || amount.Sign() <= 0 {
		return ErrInvalidAmount
	}
	entry, err := f.resolveToken(syToken, maturity.KindSY)
	if err != nil {
		return err
	}
	ptBalance, err := f.engine.BalanceOf(entry.PTToken, account)
	if err != nil {
		return err
	}
	if ptBalance.Cmp(amount) < 0 {
		return ErrInsufficientPT
	}
	ytBalance, err := f.engine.BalanceOf(entry.YTToken, account)
	if err != nil {
		return err
	}
	if ytBalance.Cmp(amount) < 0 {
		return ErrInsufficientYT
	}

	if err := f.engine.Burn(entry, maturity.KindPT, account, amount, now); err != nil {
		return err
	}
	if err := f.engine.Burn(entry, maturity.KindYT, account, amount, now); err != nil {
		return err
	}
	if err := f.engine.Mint(entry, maturity.KindSY, account, amount, now); err != nil {
		return err
	}
	f.emit(events.Merged{
		Account:   account,
		SYToken:   entry.SYToken,
		PTToken:   entry.PTToken,
		YTToken:   entry.YTToken,
		Amount:    amount,
		Timestamp: now,
	})
	return nil
}

// RedeemPT burns the caller's entire PT balance after maturity and
// releases the equivalent underlying 1:1. The transfer-out is confirmed
// before the burn is applied.
func (f *Factory) RedeemPT(account [20]byte, ptToken [32]byte, now int64) (redeemed *big.Int, err error) {
	defer f.observe("redeemPT", time.Now(), &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, err := f.resolveToken(ptToken, maturity.KindPT)
	if err != nil {
		return nil, err
	}
	if !entry.HasMatured(now) {
		return nil, ErrPTNotMatured
	}
	balance, err := f.engine.BalanceOf(entry.PTToken, account)
	if err != nil {
		return nil, err
	}
	if balance.Sign() == 0 {
		return nil, ErrNoPTToRedeem
	}
	if f.transfers == nil {
		return nil, ErrLedgerNotConfigured
	}
	if err := f.transfers.TransferOut(account, entry.UnderlyingID, balance); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	if err := f.engine.Burn(entry, maturity.KindPT, account, balance, now); err != nil {
		return nil, err
	}
	f.emit(events.PTRedeemed{
		Account:      account,
		PTToken:      entry.PTToken,
		UnderlyingID: entry.UnderlyingID,
		Amount:       balance,
		Timestamp:    now,
	})
	return balance, nil
}

// ClaimYT pays out the yield accrued by the caller's YT position and
// releases it as underlying. Claims are accepted strictly before maturity.
func (f *Factory) ClaimYT(account [20]byte, ytToken [32]byte, now int64) (claimed *big.Int, err error) {
	defer f.observe("claimYT", time.Now(), &err)
	f.mu.Lock()
	defer f.mu.Unlock()

	entry, err := f.resolveToken(ytToken, maturity.KindYT)
	if err != nil {
		return nil, err
	}
	if entry.HasMatured(now) {
		return nil, yield.ErrYTExpired
	}
	claimable, err := f.engine.ComputeClaimableYield(entry, account, now)
	if err != nil {
		return nil, err
	}
	if claimable.Sign() == 0 {
		return nil, yield.ErrNothingToClaim
	}
	if f.transfers == nil {
		return nil, ErrLedgerNotConfigured
	}
	if err := f.transfers.TransferOut(account, entry.UnderlyingID, claimable); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTransferFailed, err)
	}
	claimed, err = f.engine.ClaimYield(entry, account, now)
	if err != nil {
		return nil, err
	}
	f.emit(events.YieldClaimed{
		Account:      account,
		YTToken:      entry.YTToken,
		UnderlyingID: entry.UnderlyingID,
		Amount:       claimed,
		Timestamp:    now,
	})
	return claimed, nil
}

func (f *Factory) validateWrap(account [20]byte, underlyingID [20]byte, maturityTs int64, amount *big.Int, now int64) (*maturity.Entry, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, ErrInvalidAmount
	}
	registered, err := f.registry.Exists(underlyingID)
	if err != nil {
		return nil, err
	}
	if !registered {
		return nil, ErrInvalidUnderlying
	}
	if f.transfers == nil {
		return nil, ErrLedgerNotConfigured
	}
	entry, err := f.maturities.GetByMaturity(underlyingID, maturityTs)
	if err != nil {
		return nil, err
	}
	if entry.HasMatured(now) {
		return nil, ErrSYTokenMatured
	}
	return entry, nil
}

// applySplit assumes the SY balance check already passed.
func (f *Factory) applySplit(entry *maturity.Entry, account [20]byte, amount *big.Int, now int64) error {
	if err := f.engine.Burn(entry, maturity.KindSY, account, amount, now); err != nil {
		return err
	}
	if err := f.engine.Mint(entry, maturity.KindPT, account, amount, now); err != nil {
		return err
	}
	if err := f.engine.Mint(entry, maturity.KindYT, account, amount, now); err != nil {
		return err
	}
	f.emit(events.Split{
		Account:   account,
		SYToken:   entry.SYToken,
		PTToken:   entry.PTToken,
		YTToken:   entry.YTToken,
		Amount:    amount,
		Timestamp: now,
	})
	return nil
}

func (f *Factory) resolveToken(token [32]byte, want maturity.TokenKind) (*maturity.Entry, error) {
	entry, kind, err := f.maturities.GetByToken(token)
	if err != nil {
		return nil, err
	}
	if kind != want {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrWrongTokenKind, kind, want)
	}
	return entry, nil
}

func (f *Factory) emit(event events.Event) {
	if f == nil || f.emitter == nil {
		return
	}
	f.emitter.Emit(event)
}

func (f *Factory) observe(operation string, start time.Time, err *error) {
	if f == nil || f.metrics == nil {
		return
	}
	f.metrics.ObserveOperation(operation, start, *err)
}
