// Package rpc serves the daemon's JSON-RPC 2.0 surface: read queries are
// open, mutating methods require the configured bearer token and execute
// as the factory authority.
package rpc

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"syforge/native/custody"
	"syforge/native/tokenfactory"
)

const (
	jsonRPCVersion  = "2.0"
	maxRequestBytes = 1 << 20 // 1 MiB
)

const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeUnauthorized   = -32001
	codeServerError    = -32000
)

// Server dispatches JSON-RPC requests onto the token factory.
type Server struct {
	factory   *tokenfactory.Factory
	custody   *custody.Ledger
	authority [20]byte
	authToken string
	now       func() int64
}

// NewServer wires the RPC surface. An empty token disables all mutating
// methods.
func NewServer(factory *tokenfactory.Factory, custodyLedger *custody.Ledger, authority [20]byte, authToken string) *Server {
	return &Server{
		factory:   factory,
		custody:   custodyLedger,
		authority: authority,
		authToken: strings.TrimSpace(authToken),
		now:       func() int64 { return time.Now().Unix() },
	}
}

// SetClock overrides the timestamp source. Tests use it for deterministic
// maturity boundaries.
func (s *Server) SetClock(now func() int64) {
	if now != nil {
		s.now = now
	}
}

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      json.RawMessage   `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBytes))
	if err != nil {
		writeResponse(w, errorResponse(nil, codeParseError, "failed to read request body"))
		return
	}
	var req rpcRequest
	if err := json.Unmarshal(body, &req); err != nil {
		writeResponse(w, errorResponse(nil, codeParseError, "invalid JSON"))
		return
	}
	if req.JSONRPC != jsonRPCVersion || strings.TrimSpace(req.Method) == "" {
		writeResponse(w, errorResponse(req.ID, codeInvalidRequest, "invalid request"))
		return
	}

	handler, ok := s.methods()[req.Method]
	if !ok {
		writeResponse(w, errorResponse(req.ID, codeMethodNotFound, "method not found"))
		return
	}
	if handler.mutating && !s.authorized(r) {
		writeResponse(w, errorResponse(req.ID, codeUnauthorized, "unauthorized"))
		return
	}

	result, rpcErr := handler.fn(req.Params)
	if rpcErr != nil {
		writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Error: rpcErr})
		return
	}
	writeResponse(w, rpcResponse{JSONRPC: jsonRPCVersion, ID: req.ID, Result: result})
}

type method struct {
	mutating bool
	fn       func([]json.RawMessage) (interface{}, *rpcError)
}

func (s *Server) methods() map[string]method {
	return map[string]method{
		"syf_getBalance":        {fn: s.handleGetBalance},
		"syf_getTotalSupply":    {fn: s.handleGetTotalSupply},
		"syf_getClaimableYield": {fn: s.handleGetClaimableYield},
		"syf_getYieldAccrued":   {fn: s.handleGetYieldAccrued},
		"syf_listMaturities":    {fn: s.handleListMaturities},
		"syf_getTokenInfo":      {fn: s.handleGetTokenInfo},
		"syf_getCustodyBalance": {fn: s.handleGetCustodyBalance},

		"syf_createMaturity": {mutating: true, fn: s.handleCreateMaturity},
		"syf_deposit":        {mutating: true, fn: s.handleDeposit},
		"syf_wrap":           {mutating: true, fn: s.handleWrap},
		"syf_wrapAndSplit":   {mutating: true, fn: s.handleWrapAndSplit},
		"syf_split":          {mutating: true, fn: s.handleSplit},
		"syf_merge":          {mutating: true, fn: s.handleMerge},
		"syf_redeemPT":       {mutating: true, fn: s.handleRedeemPT},
		"syf_claimYT":        {mutating: true, fn: s.handleClaimYT},
	}
}

func (s *Server) authorized(r *http.Request) bool {
	if s.authToken == "" {
		return false
	}
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	const prefix = "Bearer "
	if !strings.HasPrefix(header, prefix) {
		return false
	}
	token := strings.TrimSpace(strings.TrimPrefix(header, prefix))
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.authToken)) == 1
}

func decodeParams(params []json.RawMessage, out interface{}) *rpcError {
	if len(params) != 1 {
		return &rpcError{Code: codeInvalidParams, Message: "expected a single params object"}
	}
	if err := json.Unmarshal(params[0], out); err != nil {
		return &rpcError{Code: codeInvalidParams, Message: "malformed params: " + err.Error()}
	}
	return nil
}

func serverError(err error) *rpcError {
	return &rpcError{Code: codeServerError, Message: err.Error()}
}

func invalidParams(err error) *rpcError {
	return &rpcError{Code: codeInvalidParams, Message: err.Error()}
}

var errUnknown = errors.New("rpc: internal error")

func errorResponse(id json.RawMessage, code int, message string) rpcResponse {
	return rpcResponse{JSONRPC: jsonRPCVersion, ID: id, Error: &rpcError{Code: code, Message: message}}
}

func writeResponse(w http.ResponseWriter, resp rpcResponse) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, errUnknown.Error(), http.StatusInternalServerError)
	}
}
