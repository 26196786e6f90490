package events

import (
	"math/big"

	"syforge/core/types"
)

const (
	// TypeTokenSupply is emitted whenever a token supply changes.
	TypeTokenSupply = "token.supply"

	// SupplyReasonMint identifies mint driven supply increases.
	SupplyReasonMint = "mint"
	// SupplyReasonBurn identifies burn driven supply decreases.
	SupplyReasonBurn = "burn"
)

// TokenSupply captures a supply delta for one of the SY/PT/YT tokens.
type TokenSupply struct {
	Token  [32]byte
	Total  *big.Int
	Delta  *big.Int
	Reason string
}

// EventType satisfies the events.Event interface.
func (TokenSupply) EventType() string { return TypeTokenSupply }

// Event renders the supply change for downstream consumers.
func (e TokenSupply) Event() *types.Event {
	attrs := map[string]string{
		"token": hexToken(e.Token),
		"total": formatAmount(e.Total),
	}
	if e.Delta != nil {
		attrs["delta"] = e.Delta.String()
	}
	if e.Reason != "" {
		attrs["reason"] = e.Reason
	}
	return &types.Event{Type: TypeTokenSupply, Attributes: attrs}
}
