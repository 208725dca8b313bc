package models

import (
	"fmt"
	"time"
)

// Broker wire constants. The gateway encodes order and position attributes
// as small integers.
const (
	OrderTypeLimit  = 1
	OrderTypeMarket = 2
	OrderTypeStop   = 4

	OrderSideBuy  = 0
	OrderSideSell = 1

	OrderStatusOpen = 1

	PositionTypeLong  = 1
	PositionTypeShort = 2
)

// ExitSide returns the wire side that closes a position opened with side.
func ExitSide(side int) int {
	return 1 - side
}

// WireSide maps a trading signal to its wire order side.
func WireSide(sig Signal) int {
	if sig == SignalSell {
		return OrderSideSell
	}
	return OrderSideBuy
}

// BrokerOrder is an open order as returned by the order search endpoint.
type BrokerOrder struct {
	ID         int64   `json:"id"`
	ContractID string  `json:"contractId"`
	Type       int     `json:"type"`
	Side       int     `json:"side"`
	Size       int     `json:"size"`
	Status     int     `json:"status"`
	LimitPrice float64 `json:"limitPrice,omitempty"`
	StopPrice  float64 `json:"stopPrice,omitempty"`
}

// BrokerPosition is an open position as returned by the position search
// endpoint. Type is 1 for LONG, 2 for SHORT.
type BrokerPosition struct {
	ContractID        string    `json:"contractId"`
	Type              int       `json:"type"`
	Size              int       `json:"size"`
	AveragePrice      float64   `json:"averagePrice"`
	CreationTimestamp time.Time `json:"creationTimestamp"`
}

// Side returns the position direction, or "" for an unknown type code.
func (p BrokerPosition) Side() PositionSide {
	switch p.Type {
	case PositionTypeLong:
		return SideLong
	case PositionTypeShort:
		return SideShort
	}
	return ""
}

// BrokerTrade is a fill as returned by the trade search endpoint.
// ProfitAndLoss is nil for opening fills.
type BrokerTrade struct {
	ID                int64     `json:"id"`
	OrderID           int64     `json:"orderId"`
	ContractID        string    `json:"contractId"`
	Price             float64   `json:"price"`
	Size              int       `json:"size"`
	ProfitAndLoss     *float64  `json:"profitAndLoss"`
	Voided            bool      `json:"voided"`
	CreationTimestamp time.Time `json:"creationTimestamp"`
}

// PnL returns the realized profit of the fill, zero when absent.
func (t BrokerTrade) PnL() float64 {
	if t.ProfitAndLoss == nil {
		return 0
	}
	return *t.ProfitAndLoss
}

// OrderResult is the response to an order placement call. FillPrice is only
// present on market orders the gateway filled synchronously.
type OrderResult struct {
	OrderID   int64    `json:"orderId"`
	Success   bool     `json:"success"`
	FillPrice *float64 `json:"fillPrice,omitempty"`
}

// APIError is a structured error response from the broker gateway.
type APIError struct {
	ErrorCode    int    `json:"errorCode"`
	ErrorMessage string `json:"errorMessage"`
}

// Error makes APIError implement the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("API Error: code=%d, msg=%s", e.ErrorCode, e.ErrorMessage)
}
