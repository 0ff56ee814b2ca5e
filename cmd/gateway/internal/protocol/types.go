package protocol

import "encoding/json"

const (
	TypeInitialPrices = "initial_prices"
	TypePriceUpdate   = "price_update"
)

// Envelope is every message sent to a subscriber.
type Envelope struct {
	Type string      `json:"type"` // "initial_prices", "price_update"
	Data interface{} `json:"data"`
}

func Encode(msgType string, data interface{}) ([]byte, error) {
	return json.Marshal(Envelope{Type: msgType, Data: data})
}
