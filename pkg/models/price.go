package models

// PriceTick is one price observation for an instrument.
type PriceTick struct {
	Symbol    string   `json:"symbol"`
	Price     float64  `json:"price"`
	Timestamp int64    `json:"timestamp"` // exchange event time, unix millis
	Change24h *float64 `json:"change24h,omitempty"`
	Volume24h *float64 `json:"volume24h,omitempty"` // quote currency
	// Placeholder marks a synthesized record returned for a symbol with no stored data.
	Placeholder bool `json:"placeholder,omitempty"`
}

// Float returns a pointer to v, for the optional PriceTick fields.
func Float(v float64) *float64 { return &v }
