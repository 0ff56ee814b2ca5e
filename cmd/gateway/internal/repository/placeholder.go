package repository

import (
	"hash/fnv"

	"github.com/shubham-shewale/telcrypto-backend/pkg/models"
)

// MissingPolicy decides what GetLatest returns for a symbol with no stored tick.
type MissingPolicy string

const (
	// MissingSynthesize returns a Placeholder record for the symbol.
	MissingSynthesize MissingPolicy = "synthesize"
	// MissingOmit leaves the symbol out of the result.
	MissingOmit MissingPolicy = "omit"
)

// Placeholder builds the synthetic record returned under MissingSynthesize.
// Values depend only on the symbol, and the zero timestamp sorts before any
// real tick.
func Placeholder(symbol string) models.PriceTick {
	h := fnv.New32a()
	h.Write([]byte(symbol))
	sum := h.Sum32()

	return models.PriceTick{
		Symbol:      symbol,
		Price:       100 + float64(sum%100000)/100,
		Timestamp:   0,
		Change24h:   models.Float(float64(int((sum>>8)%1000)-500) / 100),
		Volume24h:   models.Float(1_000_000),
		Placeholder: true,
	}
}
