// Package order defines the order model, its status state machine, the
// execution result record, and the idempotent executor that talks to the
// remote gateway.
package order

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

// AssetClass partitions the trading universe; each class is routed to its
// own execution track.
type AssetClass string

const (
	AssetCrypto    AssetClass = "CRYPTO"
	AssetForex     AssetClass = "FOREX"
	AssetStock     AssetClass = "STOCK"
	AssetCommodity AssetClass = "COMMODITY"
	AssetIndex     AssetClass = "INDEX"
)

// ParseAssetClass maps a string onto the closed AssetClass set.
func ParseAssetClass(s string) (AssetClass, error) {
	switch AssetClass(strings.ToUpper(s)) {
	case AssetCrypto, AssetForex, AssetStock, AssetCommodity, AssetIndex:
		return AssetClass(strings.ToUpper(s)), nil
	}
	return "", fmt.Errorf("%w: unknown asset class %q", ErrValidation, s)
}

// Kind is the order pricing mode.
type Kind string

const (
	KindMarket Kind = "MARKET"
	KindLimit  Kind = "LIMIT"
	KindStop   Kind = "STOP"
)

// Side is the order direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Order is a trade intent. It is owned by the caller until handed to a
// track, mutated in place under the status state machine, and immutable once
// a terminal status is reached.
type Order struct {
	ID         string            `json:"id"`
	Asset      AssetClass        `json:"asset"`
	Symbol     string            `json:"symbol"`
	Kind       Kind              `json:"kind"`
	Side       Side              `json:"side"`
	Quantity   float64           `json:"quantity"`
	Price      float64           `json:"price,omitempty"` // required for non-market kinds
	StopLoss   float64           `json:"sl,omitempty"`
	TakeProfit float64           `json:"tp,omitempty"`
	Status     Status            `json:"status"`
	CreatedAt  time.Time         `json:"created_at"`
	UpdatedAt  time.Time         `json:"updated_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// New validates the intent and returns a PENDING order with a fresh id.
// Invalid intents are rejected here, before any I/O ("parse, don't validate").
func New(asset AssetClass, symbol string, kind Kind, side Side, quantity, price float64) (*Order, error) {
	if _, err := ParseAssetClass(string(asset)); err != nil {
		return nil, err
	}
	switch kind {
	case KindMarket, KindLimit, KindStop:
	default:
		return nil, fmt.Errorf("%w: unknown order kind %q", ErrValidation, kind)
	}
	switch side {
	case SideBuy, SideSell:
	default:
		return nil, fmt.Errorf("%w: unknown side %q", ErrValidation, side)
	}
	if symbol == "" {
		return nil, fmt.Errorf("%w: symbol is required", ErrValidation)
	}
	if quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity must be positive, got %v", ErrValidation, quantity)
	}
	if kind != KindMarket && price <= 0 {
		return nil, fmt.Errorf("%w: %s order requires a positive price, got %v", ErrValidation, kind, price)
	}

	now := time.Now()
	return &Order{
		ID:        uuid.NewString(),
		Asset:     asset,
		Symbol:    symbol,
		Kind:      kind,
		Side:      side,
		Quantity:  quantity,
		Price:     price,
		Status:    StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

// Notional returns the order's notional value at the given reference price.
// For priced orders the order's own price wins.
func (o *Order) Notional(refPrice float64) float64 {
	p := o.Price
	if p <= 0 {
		p = refPrice
	}
	return o.Quantity * p
}
