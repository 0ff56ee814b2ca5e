// Package simulator is an offline stand-in for the exchange ticker stream.
package simulator

import (
	"encoding/json"
	"strings"

	"github.com/shopspring/decimal"
)

// DefaultBasePrices seeds the random walk; other symbols start at 100.
var DefaultBasePrices = map[string]float64{
	"BTCUSDT": 64000,
	"ETHUSDT": 3100,
	"SOLUSDT": 150,
	"BNBUSDT": 580,
}

var (
	maxStep     = decimal.NewFromFloat(0.002)
	hundred     = decimal.NewFromInt(100)
	defaultBase = decimal.NewFromInt(100)
)

// tickerFrame mirrors the exchange's 24hr ticker event.
type tickerFrame struct {
	EventType      string `json:"e"`
	EventTime      int64  `json:"E"`
	Symbol         string `json:"s"`
	PriceChange    string `json:"p"`
	PriceChangePct string `json:"P"`
	LastPrice      string `json:"c"`
	OpenPrice      string `json:"o"`
	QuoteVolume    string `json:"q"`
}

type symbolState struct {
	open   decimal.Decimal
	last   decimal.Decimal
	volume decimal.Decimal
}

// TickerGenerator walks prices for a fixed symbol set. Not safe for
// concurrent use; each stream owns one.
type TickerGenerator struct {
	symbols    []string
	state      map[string]*symbolState
	rand       Rand
	clock      Clock
	staleRatio float64
}

func NewTickerGenerator(symbols []string, basePrices map[string]float64, rnd Rand, clock Clock, staleRatio float64) *TickerGenerator {
	g := &TickerGenerator{
		symbols:    make([]string, len(symbols)),
		state:      make(map[string]*symbolState, len(symbols)),
		rand:       rnd,
		clock:      clock,
		staleRatio: staleRatio,
	}
	for i, sym := range symbols {
		sym = strings.ToUpper(sym)
		g.symbols[i] = sym
		base := defaultBase
		if p, ok := basePrices[sym]; ok {
			base = decimal.NewFromFloat(p)
		}
		g.state[sym] = &symbolState{open: base, last: base, volume: decimal.Zero}
	}
	return g
}

// Next advances a random symbol one step and returns its frame. With
// probability staleRatio the event time is pushed back into the past.
func (g *TickerGenerator) Next() []byte {
	if len(g.symbols) == 0 {
		return nil
	}
	sym := g.symbols[g.rand.Intn(len(g.symbols))]
	st := g.state[sym]

	// step in [-maxStep, +maxStep) of the last price
	step := decimal.NewFromFloat(g.rand.Float64()*2 - 1).Mul(maxStep)
	st.last = st.last.Add(st.last.Mul(step)).Round(2)

	qty := decimal.NewFromFloat(g.rand.Float64()).Round(4)
	st.volume = st.volume.Add(st.last.Mul(qty)).Round(2)

	eventTime := g.clock.Now().UnixMilli()
	if g.rand.Float64() < g.staleRatio {
		eventTime -= int64(1000 + g.rand.Intn(5000))
	}

	change := st.last.Sub(st.open)
	frame := tickerFrame{
		EventType:      "24hrTicker",
		EventTime:      eventTime,
		Symbol:         sym,
		PriceChange:    change.StringFixed(2),
		PriceChangePct: change.Div(st.open).Mul(hundred).StringFixed(3),
		LastPrice:      st.last.StringFixed(2),
		OpenPrice:      st.open.StringFixed(2),
		QuoteVolume:    st.volume.StringFixed(2),
	}
	payload, _ := json.Marshal(frame) // only strings and ints
	return payload
}
