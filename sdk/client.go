// Package sdk is a Go client for the syforged JSON-RPC surface. Read
// methods need no credentials; mutating methods carry the bearer token the
// daemon was started with.
package sdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Client talks to a syforged endpoint.
type Client struct {
	endpoint   string
	token      string
	httpClient *http.Client
	nextID     atomic.Int64
}

// Option customises client construction.
type Option func(*Client)

// WithHTTPClient overrides the HTTP client used for requests.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithToken sets the bearer token sent on mutating methods.
func WithToken(token string) Option {
	return func(c *Client) {
		c.token = strings.TrimSpace(token)
	}
}

// New creates a client for the given endpoint URL.
func New(endpoint string, opts ...Option) (*Client, error) {
	endpoint = strings.TrimSpace(endpoint)
	if endpoint == "" {
		return nil, errors.New("sdk: endpoint required")
	}
	client := &Client{
		endpoint:   endpoint,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
	for _, opt := range opts {
		opt(client)
	}
	return client, nil
}

// Maturity mirrors the daemon's maturity payload.
type Maturity struct {
	Underlying   string `json:"underlying"`
	Maturity     int64  `json:"maturity"`
	YieldRateBps uint32 `json:"yieldRateBps"`
	BlockTime    int64  `json:"blockTime"`
	SYToken      string `json:"syToken"`
	PTToken      string `json:"ptToken"`
	YTToken      string `json:"ytToken"`
	CreatedAt    int64  `json:"createdAt"`
	APY          string `json:"apy"`
}

// TokenInfo mirrors the daemon's token info payload.
type TokenInfo struct {
	Token    string   `json:"token"`
	Kind     string   `json:"kind"`
	Symbol   string   `json:"symbol"`
	Maturity Maturity `json:"maturity"`
}

// CreateMaturityRequest carries the parameters of a createMaturity call.
type CreateMaturityRequest struct {
	Underlying   string `json:"underlying"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Decimals     uint8  `json:"decimals"`
	Maturity     int64  `json:"maturity"`
	YieldRateBps uint32 `json:"yieldRateBps"`
	BlockTime    int64  `json:"blockTime"`
}

// RPCError is a JSON-RPC error returned by the daemon.
type RPCError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("sdk: rpc error %d: %s", e.Code, e.Message)
}

func (c *Client) Balance(ctx context.Context, token, account string) (*big.Int, error) {
	var result struct {
		Balance string `json:"balance"`
	}
	params := map[string]string{"token": token, "account": account}
	if err := c.call(ctx, "syf_getBalance", params, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.Balance)
}

func (c *Client) TotalSupply(ctx context.Context, token string) (*big.Int, error) {
	var result struct {
		TotalSupply string `json:"totalSupply"`
	}
	if err := c.call(ctx, "syf_getTotalSupply", map[string]string{"token": token}, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.TotalSupply)
}

func (c *Client) ClaimableYield(ctx context.Context, ytToken, account string) (*big.Int, error) {
	var result struct {
		Claimable string `json:"claimable"`
	}
	params := map[string]string{"token": ytToken, "account": account}
	if err := c.call(ctx, "syf_getClaimableYield", params, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.Claimable)
}

func (c *Client) CustodyBalance(ctx context.Context, account, underlying string) (*big.Int, error) {
	var result struct {
		Balance string `json:"balance"`
	}
	params := map[string]string{"account": account, "underlying": underlying}
	if err := c.call(ctx, "syf_getCustodyBalance", params, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.Balance)
}

func (c *Client) Maturities(ctx context.Context, underlying string) ([]Maturity, error) {
	var result struct {
		Maturities []Maturity `json:"maturities"`
	}
	if err := c.call(ctx, "syf_listMaturities", map[string]string{"underlying": underlying}, &result); err != nil {
		return nil, err
	}
	return result.Maturities, nil
}

func (c *Client) TokenInfo(ctx context.Context, token string) (*TokenInfo, error) {
	info := new(TokenInfo)
	if err := c.call(ctx, "syf_getTokenInfo", map[string]string{"token": token}, info); err != nil {
		return nil, err
	}
	return info, nil
}

func (c *Client) CreateMaturity(ctx context.Context, req CreateMaturityRequest) (*Maturity, error) {
	entry := new(Maturity)
	if err := c.call(ctx, "syf_createMaturity", req, entry); err != nil {
		return nil, err
	}
	return entry, nil
}

func (c *Client) Deposit(ctx context.Context, account, underlying string, amount *big.Int) error {
	params := map[string]string{"account": account, "underlying": underlying, "amount": amount.String()}
	return c.call(ctx, "syf_deposit", params, nil)
}

func (c *Client) Wrap(ctx context.Context, account, underlying string, maturityTs int64, amount *big.Int) error {
	return c.call(ctx, "syf_wrap", wrapPayload(account, underlying, maturityTs, amount), nil)
}

func (c *Client) WrapAndSplit(ctx context.Context, account, underlying string, maturityTs int64, amount *big.Int) error {
	return c.call(ctx, "syf_wrapAndSplit", wrapPayload(account, underlying, maturityTs, amount), nil)
}

func (c *Client) Split(ctx context.Context, account, syToken string, amount *big.Int) error {
	params := map[string]string{"account": account, "token": syToken, "amount": amount.String()}
	return c.call(ctx, "syf_split", params, nil)
}

func (c *Client) Merge(ctx context.Context, account, syToken string, amount *big.Int) error {
	params := map[string]string{"account": account, "token": syToken, "amount": amount.String()}
	return c.call(ctx, "syf_merge", params, nil)
}

func (c *Client) RedeemPT(ctx context.Context, account, ptToken string) (*big.Int, error) {
	var result struct {
		Redeemed string `json:"redeemed"`
	}
	params := map[string]string{"account": account, "token": ptToken}
	if err := c.call(ctx, "syf_redeemPT", params, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.Redeemed)
}

func (c *Client) ClaimYT(ctx context.Context, account, ytToken string) (*big.Int, error) {
	var result struct {
		Claimed string `json:"claimed"`
	}
	params := map[string]string{"account": account, "token": ytToken}
	if err := c.call(ctx, "syf_claimYT", params, &result); err != nil {
		return nil, err
	}
	return parseAmount(result.Claimed)
}

func wrapPayload(account, underlying string, maturityTs int64, amount *big.Int) map[string]interface{} {
	return map[string]interface{}{
		"account":    account,
		"underlying": underlying,
		"maturity":   maturityTs,
		"amount":     amount.String(),
	}
}

func (c *Client) call(ctx context.Context, rpcMethod string, params interface{}, out interface{}) error {
	payload := struct {
		JSONRPC string        `json:"jsonrpc"`
		ID      int64         `json:"id"`
		Method  string        `json:"method"`
		Params  []interface{} `json:"params"`
	}{
		JSONRPC: "2.0",
		ID:      c.nextID.Add(1),
		Method:  rpcMethod,
		Params:  []interface{}{params},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("sdk: marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("sdk: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("sdk: %s: %w", rpcMethod, err)
	}
	defer resp.Body.Close()

	var envelope struct {
		Result json.RawMessage `json:"result"`
		Error  *RPCError       `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return fmt.Errorf("sdk: decode response: %w", err)
	}
	if envelope.Error != nil {
		return envelope.Error
	}
	if out == nil {
		return nil
	}
	return json.Unmarshal(envelope.Result, out)
}

func parseAmount(s string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(s), 10)
	if !ok {
		return nil, fmt.Errorf("sdk: invalid amount %q", s)
	}
	return amount, nil
}
