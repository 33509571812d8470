package model

import "time"

// Side is the order direction sent to the venue.
type Side string

const (
	Buy  Side = "Buy"
	Sell Side = "Sell"
)

// Order is the venue acknowledgement of a market order.
type Order struct {
	OrderID   string    `json:"order_id"`
	Symbol    string    `json:"symbol"`
	Side      Side      `json:"side"`
	Qty       float64   `json:"qty"`   // base units (exit) or quote value (entry)
	Price     float64   `json:"price"` // fill price, 0 when the venue did not report one
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
}

// Wallet is the tradable balance reported by the venue.
type Wallet struct {
	TotalAvailableBalance float64 `json:"total_available_balance"`
}
