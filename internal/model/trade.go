package model

import "time"

// DataSource names the venue a trade ran against.
type DataSource string

const (
	SourceBybit DataSource = "bybit"
	SourcePaper DataSource = "paper"
)

// TradeRecord is the durable mirror of one trade. Exit fields stay nil until
// the trade finishes.
type TradeRecord struct {
	ID                 string     `json:"id"`
	Symbol             string     `json:"symbol"`
	Interval           string     `json:"interval"`
	Orientation        string     `json:"orientation"`
	TradingStrategy    string     `json:"trading_strategy"`
	ResolutionStrategy string     `json:"resolution_strategy"`
	DataSource         string     `json:"data_source"`
	EnteredAt          time.Time  `json:"entered_at"`
	ExitedAt           *time.Time `json:"exited_at,omitempty"`
	BarsInTrade        *int       `json:"bars_in_trade,omitempty"`
	EntryPrice         float64    `json:"entry_price"`
	ExitPrice          *float64   `json:"exit_price,omitempty"`
	Quantity           float64    `json:"quantity"`
	DollarValue        float64    `json:"dollar_value"`
	EntryFee           float64    `json:"entry_fee"`
	ExitFee            *float64   `json:"exit_fee,omitempty"`
	Comments           *string    `json:"comments,omitempty"`
}

// TradeFinish carries the exit fields written once a trade closes.
type TradeFinish struct {
	ID          string    `json:"id"`
	ExitedAt    time.Time `json:"exited_at"`
	BarsInTrade int       `json:"bars_in_trade"`
	ExitPrice   float64   `json:"exit_price"`
}

// TradeStatus is the controller lifecycle state.
type TradeStatus int

const (
	TradeCreated TradeStatus = iota
	TradeEntered
	TradeExited
)

func (s TradeStatus) String() string {
	switch s {
	case TradeCreated:
		return "created"
	case TradeEntered:
		return "entered"
	case TradeExited:
		return "exited"
	default:
		return "unknown"
	}
}
