package events

import (
	"encoding/hex"
	"math/big"
	"strconv"
	"strings"

	"syforge/core/types"
)

const (
	// TypeMaturityCreated is emitted when a new SY/PT/YT triple is
	// provisioned for an (underlying, maturity) pair.
	TypeMaturityCreated = "tokenize.maturity.created"
	// TypeWrapped is emitted when an underlying deposit mints SY.
	TypeWrapped = "tokenize.wrapped"
	// TypeSplit is emitted when SY is split into the PT/YT pair.
	TypeSplit = "tokenize.split"
	// TypeMerged is emitted when a PT/YT pair is merged back into SY.
	TypeMerged = "tokenize.merged"
	// TypePTRedeemed is emitted when matured PT is redeemed for underlying.
	TypePTRedeemed = "tokenize.pt.redeemed"
	// TypeYieldClaimed is emitted when YT yield is claimed and paid out.
	TypeYieldClaimed = "tokenize.yield.claimed"
)

// MaturityCreated captures the token identities allocated for a maturity.
type MaturityCreated struct {
	UnderlyingID [20]byte
	Maturity     int64
	YieldRateBps uint32
	SYToken      [32]byte
	PTToken      [32]byte
	YTToken      [32]byte
	CreatedAt    int64
}

// EventType satisfies the events.Event interface.
func (MaturityCreated) EventType() string { return TypeMaturityCreated }

// Event converts the structured payload into a broadcastable event.
func (e MaturityCreated) Event() *types.Event {
	return &types.Event{
		Type: TypeMaturityCreated,
		Attributes: map[string]string{
			"underlying":   hexAddr(e.UnderlyingID),
			"maturity":     strconv.FormatInt(e.Maturity, 10),
			"yieldRateBps": strconv.FormatUint(uint64(e.YieldRateBps), 10),
			"syToken":      hexToken(e.SYToken),
			"ptToken":      hexToken(e.PTToken),
			"ytToken":      hexToken(e.YTToken),
			"createdAt":    strconv.FormatInt(e.CreatedAt, 10),
		},
	}
}

// Wrapped records an SY mint backed by an underlying transfer-in.
type Wrapped struct {
	Account      [20]byte
	UnderlyingID [20]byte
	SYToken      [32]byte
	Amount       *big.Int
	Timestamp    int64
}

// EventType satisfies the events.Event interface.
func (Wrapped) EventType() string { return TypeWrapped }

// Event converts the structured payload into a broadcastable event.
func (e Wrapped) Event() *types.Event {
	return &types.Event{
		Type: TypeWrapped,
		Attributes: map[string]string{
			"account":    hexAddr(e.Account),
			"underlying": hexAddr(e.UnderlyingID),
			"syToken":    hexToken(e.SYToken),
			"amount":     formatAmount(e.Amount),
			"timestamp":  strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// Split records an SY burn matched by 1:1 PT and YT mints.
type Split struct {
	Account   [20]byte
	SYToken   [32]byte
	PTToken   [32]byte
	YTToken   [32]byte
	Amount    *big.Int
	Timestamp int64
}

// EventType satisfies the events.Event interface.
func (Split) EventType() string { return TypeSplit }

// Event converts the structured payload into a broadcastable event.
func (e Split) Event() *types.Event {
	return &types.Event{
		Type: TypeSplit,
		Attributes: map[string]string{
			"account":   hexAddr(e.Account),
			"syToken":   hexToken(e.SYToken),
			"ptToken":   hexToken(e.PTToken),
			"ytToken":   hexToken(e.YTToken),
			"amount":    formatAmount(e.Amount),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// Merged records a PT/YT burn pair matched by an SY mint.
type Merged struct {
	Account   [20]byte
	SYToken   [32]byte
	PTToken   [32]byte
	YTToken   [32]byte
	Amount    *big.Int
	Timestamp int64
}

// EventType satisfies the events.Event interface.
func (Merged) EventType() string { return TypeMerged }

// Event converts the structured payload into a broadcastable event.
func (e Merged) Event() *types.Event {
	return &types.Event{
		Type: TypeMerged,
		Attributes: map[string]string{
			"account":   hexAddr(e.Account),
			"syToken":   hexToken(e.SYToken),
			"ptToken":   hexToken(e.PTToken),
			"ytToken":   hexToken(e.YTToken),
			"amount":    formatAmount(e.Amount),
			"timestamp": strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// PTRedeemed records a post-maturity principal redemption.
type PTRedeemed struct {
	Account      [20]byte
	PTToken      [32]byte
	UnderlyingID [20]byte
	Amount       *big.Int
	Timestamp    int64
}

// EventType satisfies the events.Event interface.
func (PTRedeemed) EventType() string { return TypePTRedeemed }

// Event converts the structured payload into a broadcastable event.
func (e PTRedeemed) Event() *types.Event {
	return &types.Event{
		Type: TypePTRedeemed,
		Attributes: map[string]string{
			"account":    hexAddr(e.Account),
			"ptToken":    hexToken(e.PTToken),
			"underlying": hexAddr(e.UnderlyingID),
			"amount":     formatAmount(e.Amount),
			"timestamp":  strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

// YieldClaimed records a YT yield payout.
type YieldClaimed struct {
	Account      [20]byte
	YTToken      [32]byte
	UnderlyingID [20]byte
	Amount       *big.Int
	Timestamp    int64
}

// EventType satisfies the events.Event interface.
func (YieldClaimed) EventType() string { return TypeYieldClaimed }

// Event converts the structured payload into a broadcastable event.
func (e YieldClaimed) Event() *types.Event {
	return &types.Event{
		Type: TypeYieldClaimed,
		Attributes: map[string]string{
			"account":    hexAddr(e.Account),
			"ytToken":    hexToken(e.YTToken),
			"underlying": hexAddr(e.UnderlyingID),
			"amount":     formatAmount(e.Amount),
			"timestamp":  strconv.FormatInt(e.Timestamp, 10),
		},
	}
}

func hexAddr(addr [20]byte) string {
	return "0x" + strings.ToLower(hex.EncodeToString(addr[:]))
}

func hexToken(id [32]byte) string {
	return "0x" + strings.ToLower(hex.EncodeToString(id[:]))
}

func formatAmount(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}
