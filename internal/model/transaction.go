package model

import "time"

// Transaction is one card purchase from a client's statement.
type Transaction struct {
	ClientCode string    `json:"client_code"`
	Name       string    `json:"name,omitempty"`
	Status     string    `json:"status,omitempty"`
	Date       time.Time `json:"date"`
	Category   string    `json:"category"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
}

// Transfer is one inbound or outbound money movement.
type Transfer struct {
	ClientCode string    `json:"client_code"`
	Date       time.Time `json:"date"`
	Type       string    `json:"type"`
	Direction  string    `json:"direction"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency,omitempty"`
}

// TransferIn and TransferOut are the recognised transfer directions.
const (
	TransferIn  = "in"
	TransferOut = "out"
)

// ClientProfile is the optional static client information (clients.csv).
type ClientProfile struct {
	ClientCode        string   `json:"client_code"`
	Name              string   `json:"name,omitempty"`
	Status            string   `json:"status,omitempty"`
	Age               int      `json:"age,omitempty"`
	City              string   `json:"city,omitempty"`
	AvgMonthlyBalance *float64 `json:"avg_monthly_balance_kzt,omitempty"`
}
