package rpc

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"

	"syforge/crypto"
	"syforge/native/maturity"
)

type tokenAccountParams struct {
	Token   string `json:"token"`
	Account string `json:"account"`
}

type tokenParams struct {
	Token string `json:"token"`
}

type custodyParams struct {
	Account    string `json:"account"`
	Underlying string `json:"underlying"`
	Amount     string `json:"amount,omitempty"`
}

type createMaturityParams struct {
	Underlying   string `json:"underlying"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Decimals     uint8  `json:"decimals"`
	Maturity     int64  `json:"maturity"`
	YieldRateBps uint32 `json:"yieldRateBps"`
	BlockTime    int64  `json:"blockTime"`
}

type wrapParams struct {
	Account    string `json:"account"`
	Underlying string `json:"underlying"`
	Maturity   int64  `json:"maturity"`
	Amount     string `json:"amount"`
}

type tokenAmountParams struct {
	Account string `json:"account"`
	Token   string `json:"token"`
	Amount  string `json:"amount"`
}

type maturityResult struct {
	Underlying   string `json:"underlying"`
	Maturity     int64  `json:"maturity"`
	YieldRateBps uint32 `json:"yieldRateBps"`
	BlockTime    int64  `json:"blockTime"`
	SYToken      string `json:"syToken"`
	PTToken      string `json:"ptToken"`
	YTToken      string `json:"ytToken"`
	CreatedAt    int64  `json:"createdAt"`
	APY          string `json:"apy,omitempty"`
}

func (s *Server) handleGetBalance(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenAccountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, account, err := parseTokenAccount(p.Token, p.Account)
	if err != nil {
		return nil, invalidParams(err)
	}
	balance, err := s.factory.BalanceOf(token, account)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"balance": balance.String()}, nil
}

func (s *Server) handleGetTotalSupply(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, err := parseToken(p.Token)
	if err != nil {
		return nil, invalidParams(err)
	}
	supply, err := s.factory.TotalSupply(token)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"totalSupply": supply.String()}, nil
}

func (s *Server) handleGetClaimableYield(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenAccountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, account, err := parseTokenAccount(p.Token, p.Account)
	if err != nil {
		return nil, invalidParams(err)
	}
	claimable, err := s.factory.ClaimableYield(account, token, s.now())
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"claimable": claimable.String()}, nil
}

func (s *Server) handleGetYieldAccrued(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, err := parseToken(p.Token)
	if err != nil {
		return nil, invalidParams(err)
	}
	total, err := s.factory.TotalYieldAccrued(token)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"totalYieldAccrued": total.String()}, nil
}

func (s *Server) handleListMaturities(params []json.RawMessage) (interface{}, *rpcError) {
	var p custodyParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	underlying, err := crypto.ParseAddress(p.Underlying)
	if err != nil {
		return nil, invalidParams(err)
	}
	entries, err := s.factory.Maturities(underlying)
	if err != nil {
		return nil, serverError(err)
	}
	results := make([]maturityResult, 0, len(entries))
	for _, entry := range entries {
		results = append(results, maturityToResult(entry))
	}
	return map[string]interface{}{"maturities": results}, nil
}

func (s *Server) handleGetTokenInfo(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, err := parseToken(p.Token)
	if err != nil {
		return nil, invalidParams(err)
	}
	info, err := s.factory.TokenInfoOf(token)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]interface{}{
		"token":    p.Token,
		"kind":     info.Kind.String(),
		"symbol":   info.Symbol,
		"maturity": maturityToResult(info.Entry),
	}, nil
}

func (s *Server) handleGetCustodyBalance(params []json.RawMessage) (interface{}, *rpcError) {
	var p custodyParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	account, underlying, err := parseAccountUnderlying(p.Account, p.Underlying)
	if err != nil {
		return nil, invalidParams(err)
	}
	balance, err := s.custody.BalanceOf(account, underlying)
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"balance": balance.String()}, nil
}

func (s *Server) handleCreateMaturity(params []json.RawMessage) (interface{}, *rpcError) {
	var p createMaturityParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	underlying, err := crypto.ParseAddress(p.Underlying)
	if err != nil {
		return nil, invalidParams(err)
	}
	entry, err := s.factory.CreateMaturity(s.authority, underlying, p.Name, p.Symbol, p.Decimals, p.Maturity, p.YieldRateBps, p.BlockTime, s.now())
	if err != nil {
		return nil, serverError(err)
	}
	return maturityToResult(entry), nil
}

func (s *Server) handleDeposit(params []json.RawMessage) (interface{}, *rpcError) {
	var p custodyParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	account, underlying, err := parseAccountUnderlying(p.Account, p.Underlying)
	if err != nil {
		return nil, invalidParams(err)
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := s.custody.Deposit(account, underlying, amount); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleWrap(params []json.RawMessage) (interface{}, *rpcError) {
	return s.runWrap(params, s.factory.Wrap)
}

func (s *Server) handleWrapAndSplit(params []json.RawMessage) (interface{}, *rpcError) {
	return s.runWrap(params, s.factory.WrapAndSplit)
}

func (s *Server) runWrap(params []json.RawMessage, op func([20]byte, [20]byte, int64, *big.Int, int64) error) (interface{}, *rpcError) {
	var p wrapParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	account, underlying, err := parseAccountUnderlying(p.Account, p.Underlying)
	if err != nil {
		return nil, invalidParams(err)
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := op(account, underlying, p.Maturity, amount, s.now()); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleSplit(params []json.RawMessage) (interface{}, *rpcError) {
	return s.runPair(params, s.factory.Split)
}

func (s *Server) handleMerge(params []json.RawMessage) (interface{}, *rpcError) {
	return s.runPair(params, s.factory.Merge)
}

func (s *Server) runPair(params []json.RawMessage, op func([20]byte, [32]byte, *big.Int, int64) error) (interface{}, *rpcError) {
	var p tokenAmountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, account, err := parseTokenAccount(p.Token, p.Account)
	if err != nil {
		return nil, invalidParams(err)
	}
	amount, err := parseAmount(p.Amount)
	if err != nil {
		return nil, invalidParams(err)
	}
	if err := op(account, token, amount, s.now()); err != nil {
		return nil, serverError(err)
	}
	return map[string]bool{"ok": true}, nil
}

func (s *Server) handleRedeemPT(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenAccountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, account, err := parseTokenAccount(p.Token, p.Account)
	if err != nil {
		return nil, invalidParams(err)
	}
	redeemed, err := s.factory.RedeemPT(account, token, s.now())
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"redeemed": redeemed.String()}, nil
}

func (s *Server) handleClaimYT(params []json.RawMessage) (interface{}, *rpcError) {
	var p tokenAccountParams
	if rpcErr := decodeParams(params, &p); rpcErr != nil {
		return nil, rpcErr
	}
	token, account, err := parseTokenAccount(p.Token, p.Account)
	if err != nil {
		return nil, invalidParams(err)
	}
	claimed, err := s.factory.ClaimYT(account, token, s.now())
	if err != nil {
		return nil, serverError(err)
	}
	return map[string]string{"claimed": claimed.String()}, nil
}

func maturityToResult(entry *maturity.Entry) maturityResult {
	result := maturityResult{
		Underlying:   crypto.Address(entry.UnderlyingID).String(),
		Maturity:     entry.Maturity,
		YieldRateBps: entry.YieldRateBps,
		BlockTime:    entry.BlockTime,
		SYToken:      tokenHex(entry.SYToken),
		PTToken:      tokenHex(entry.PTToken),
		YTToken:      tokenHex(entry.YTToken),
		CreatedAt:    entry.CreatedAt,
	}
	if apy, err := entry.APY(); err == nil {
		result.APY = apy.String()
	}
	return result
}

func parseTokenAccount(tokenStr, accountStr string) ([32]byte, [20]byte, error) {
	token, err := parseToken(tokenStr)
	if err != nil {
		return [32]byte{}, [20]byte{}, err
	}
	account, err := crypto.ParseAddress(accountStr)
	if err != nil {
		return [32]byte{}, [20]byte{}, err
	}
	return token, account, nil
}

func parseAccountUnderlying(accountStr, underlyingStr string) ([20]byte, [20]byte, error) {
	account, err := crypto.ParseAddress(accountStr)
	if err != nil {
		return [20]byte{}, [20]byte{}, err
	}
	underlying, err := crypto.ParseAddress(underlyingStr)
	if err != nil {
		return [20]byte{}, [20]byte{}, err
	}
	return account, underlying, nil
}

func parseToken(s string) ([32]byte, error) {
	var token [32]byte
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil {
		return token, fmt.Errorf("invalid token id %q: %w", s, err)
	}
	if len(raw) != len(token) {
		return token, fmt.Errorf("token id must be %d bytes, got %d", len(token), len(raw))
	}
	copy(token[:], raw)
	return token, nil
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", s)
	}
	return amount, nil
}

func tokenHex(token [32]byte) string {
	return "0x" + hex.EncodeToString(token[:])
}
