package tokenfactory

import (
	"math/big"

	"syforge/native/maturity"
	"syforge/native/registry"
)

// TokenInfo describes a protocol token: the maturity entry it belongs to,
// its kind within the triple and its display symbol.
type TokenInfo struct {
	Token  [32]byte
	Kind   maturity.TokenKind
	Symbol string
	Entry  *maturity.Entry
}

// ClaimableYield reports the yield the account could claim on the YT token
// right now, without mutating any state. Accrual is frozen once the
// maturity passes, so the figure stops growing at that instant.
func (f *Factory) ClaimableYield(account [20]byte, ytToken [32]byte, now int64) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, err := f.resolveToken(ytToken, maturity.KindYT)
	if err != nil {
		return nil, err
	}
	return f.engine.ComputeClaimableYield(entry, account, now)
}

// BalanceOf reports the account balance of any SY, PT or YT token.
func (f *Factory) BalanceOf(token [32]byte, account [20]byte) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, _, err := f.maturities.GetByToken(token); err != nil {
		return nil, err
	}
	return f.engine.BalanceOf(token, account)
}

// TotalSupply reports the outstanding supply of any SY, PT or YT token.
func (f *Factory) TotalSupply(token [32]byte) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if _, _, err := f.maturities.GetByToken(token); err != nil {
		return nil, err
	}
	return f.engine.TotalSupply(token)
}

// TotalYieldAccrued reports the cumulative yield ever paid out for the
// maturity owning the given token.
func (f *Factory) TotalYieldAccrued(token [32]byte) (*big.Int, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, _, err := f.maturities.GetByToken(token)
	if err != nil {
		return nil, err
	}
	return f.engine.TotalYieldAccrued(entry.SYToken)
}

// Maturities lists every maturity created for the underlying, oldest first.
func (f *Factory) Maturities(underlyingID [20]byte) ([]*maturity.Entry, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maturities.List(underlyingID)
}

// Underlying resolves the registered metadata of an underlying asset.
func (f *Factory) Underlying(underlyingID [20]byte) (*registry.UnderlyingAsset, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.registry.Get(underlyingID)
}

// TokenInfoOf resolves a token id to its maturity entry, kind and symbol.
func (f *Factory) TokenInfoOf(token [32]byte) (*TokenInfo, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	entry, kind, err := f.maturities.GetByToken(token)
	if err != nil {
		return nil, err
	}
	asset, err := f.registry.Get(entry.UnderlyingID)
	if err != nil {
		return nil, err
	}
	return &TokenInfo{
		Token:  token,
		Kind:   kind,
		Symbol: entry.SymbolFor(kind, asset.Symbol),
		Entry:  entry,
	}, nil
}
