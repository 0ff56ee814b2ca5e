package connector

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

var ErrMalformedFrame = errors.New("malformed frame")

// tickerFrame is a Binance 24hr ticker event. Binance uses both cases of the
// same letter for different fields, so every such pair is declared to stop
// encoding/json's case-insensitive matching from crossing them.
type tickerFrame struct {
	EventType      string              `json:"e"`
	EventTime      int64               `json:"E"`
	Symbol         string              `json:"s"`
	PriceChange    decimal.NullDecimal `json:"p"`
	PriceChangePct decimal.NullDecimal `json:"P"`
	LastPrice      decimal.NullDecimal `json:"c"`
	CloseTime      int64               `json:"C"`
	QuoteVolume    decimal.NullDecimal `json:"q"`
	LastQty        decimal.NullDecimal `json:"Q"`

	// combined stream wrapper: {"stream":"btcusdt@ticker","data":{...}}
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}

// DecodeFrame turns one upstream frame into a tick. ok is false for
// well-formed frames that are not price tickers; err is set only for frames
// that cannot be parsed at all.
func DecodeFrame(frame []byte) (tick models.PriceTick, ok bool, err error) {
	var f tickerFrame
	if err := json.Unmarshal(frame, &f); err != nil {
		return models.PriceTick{}, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	if f.Symbol == "" && len(f.Data) > 0 && f.Stream != "" {
		data := f.Data
		f = tickerFrame{}
		if err := json.Unmarshal(data, &f); err != nil {
			return models.PriceTick{}, false, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
		}
	}

	if f.Symbol == "" || !f.LastPrice.Valid {
		return models.PriceTick{}, false, nil
	}

	tick = models.PriceTick{
		Symbol:    f.Symbol,
		Price:     f.LastPrice.Decimal.InexactFloat64(),
		Timestamp: f.EventTime,
	}
	if f.PriceChangePct.Valid {
		tick.Change24h = models.Float(f.PriceChangePct.Decimal.InexactFloat64())
	}
	if f.QuoteVolume.Valid {
		tick.Volume24h = models.Float(f.QuoteVolume.Decimal.InexactFloat64())
	}
	return tick, true, nil
}
