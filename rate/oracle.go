// Package rate provides the fee-and-rate oracle interface consumed by the
// swap nursery. Concrete pricing and fee-estimation heuristics live outside
// this core; the nursery treats Oracle as a black box.
package rate

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
)

// Pair identifies the two currencies a swap moves between, e.g. "LTC/BTC".
type Pair string

// OrderSide distinguishes which leg of a pair a quote prices.
type OrderSide uint8

const (
	OrderSideBuy OrderSide = iota
	OrderSideSell
)

// Quote is the pricing quote for one side of a swap pair at the moment a
// swap is created. Rate expresses onchain-units per invoice-unit.
type Quote struct {
	Rate           float64
	BaseFee        btcutil.Amount
	PercentageFee  float64 // e.g. 0.005 for 0.5%
	ZeroConfMaxAmt btcutil.Amount
}

// minFeeRateSatPerVByte is the floor below which a claim/refund transaction
// risks never confirming, regardless of what the estimator reports.
const minFeeRateSatPerVByte = 2

// Oracle supplies swap pricing and fee-rate information. Implementations are
// expected to be cheap and non-blocking from the nursery's perspective; any
// network I/O they perform is the oracle's concern, not the nursery's.
type Oracle interface {
	// Quote returns the current pricing quote for the given pair/side.
	Quote(pair Pair, side OrderSide) (Quote, error)

	// FeePerVByte returns the current recommended fee rate in sat/vB for
	// the given confirmation target. Implementations must never return a
	// value below minFeeRateSatPerVByte; FloorFeeRate enforces this for
	// callers that can't guarantee it themselves.
	FeePerVByte(confTarget uint32) (btcutil.Amount, error)
}

// FloorFeeRate clamps a fee rate to the 2 sat/vB minimum. A legacy
// `estimatefee` fallback path for backends without estimatesmartfee support
// is intentionally left to the caller's Capabilities check rather than
// handled here.
func FloorFeeRate(rate btcutil.Amount) btcutil.Amount {
	if rate < minFeeRateSatPerVByte {
		return minFeeRateSatPerVByte
	}
	return rate
}

// StaticOracle is a fixed-value Oracle implementation, useful for tests and
// for deployments that price swaps from a config file rather than a live
// market-data feed.
type StaticOracle struct {
	Quotes    map[Pair]map[OrderSide]Quote
	FeeRate   btcutil.Amount
}

// NewStaticOracle returns a StaticOracle that always reports feeRate,
// floored to the minimum.
func NewStaticOracle(feeRate btcutil.Amount) *StaticOracle {
	return &StaticOracle{
		Quotes:  make(map[Pair]map[OrderSide]Quote),
		FeeRate: FloorFeeRate(feeRate),
	}
}

// SetQuote registers the quote returned for a given pair/side.
func (s *StaticOracle) SetQuote(pair Pair, side OrderSide, quote Quote) {
	if s.Quotes[pair] == nil {
		s.Quotes[pair] = make(map[OrderSide]Quote)
	}
	s.Quotes[pair][side] = quote
}

func (s *StaticOracle) Quote(pair Pair, side OrderSide) (Quote, error) {
	sides, ok := s.Quotes[pair]
	if !ok {
		return Quote{}, fmt.Errorf("no quote configured for pair %s", pair)
	}
	quote, ok := sides[side]
	if !ok {
		return Quote{}, fmt.Errorf("no quote configured for pair %s side %v", pair, side)
	}
	return quote, nil
}

func (s *StaticOracle) FeePerVByte(uint32) (btcutil.Amount, error) {
	return s.FeeRate, nil
}
