// Package types provides the shared value types for the opening-range
// breakout decision core and its surrounding services.
package types

import "time"

// Direction is the side of a working order or position.
type Direction string

const (
	Buy  Direction = "BUY"
	Sell Direction = "SELL"
)

// OrderReference tags a working order with the price-placement slot that
// created it. The wire id (1-4) is what a brokerage adapter must echo back
// inside the deal reference it assigns to an order placed on our behalf.
type OrderReference string

const (
	OverLong     OrderReference = "OVER_LONG"
	BetweenLong  OrderReference = "BETWEEN_LONG"
	BetweenShort OrderReference = "BETWEEN_SHORT"
	UnderShort   OrderReference = "UNDER_SHORT"
)

// referenceIDs is the stable small-integer id used in the deal-reference
// wire encoding "<id>MYREF<epic>". Order matters: index+1 is the id.
var referenceIDs = [...]OrderReference{OverLong, BetweenLong, BetweenShort, UnderShort}

// ReferenceID returns the wire id (1-4) for a reference.
func (r OrderReference) ReferenceID() int {
	for i, candidate := range referenceIDs {
		if candidate == r {
			return i + 1
		}
	}
	return 0
}

// ReferenceFromID is the inverse of ReferenceID. ok is false for any id
// outside 1-4, which callers should treat as an unrecognized/manual trade.
func ReferenceFromID(id int) (ref OrderReference, ok bool) {
	if id < 1 || id > len(referenceIDs) {
		return "", false
	}
	return referenceIDs[id-1], true
}

// ParseOrderReference mirrors the original's strict FromStr: any string that
// is not one of the four known tags is reported as unrecognized rather than
// guessed at, so that manual trades on the same account are left alone.
func ParseOrderReference(s string) (ref OrderReference, ok bool) {
	switch OrderReference(s) {
	case OverLong, BetweenLong, BetweenShort, UnderShort:
		return OrderReference(s), true
	default:
		return "", false
	}
}

// Price is a bid/ask pair, the unit the core trades in throughout.
type Price struct {
	Bid float64
	Ask float64
}

// OhlcBar is one opening-range bar, each corner carrying its own bid/ask.
type OhlcBar struct {
	Open  Price
	High  Price
	Low   Price
	Close Price
}

// OpeningRange is the price band formed by the first N one-minute bars
// after market open. High/Low are never recomputed independently of each
// other: High{Ask,Bid} come from the single bar with the highest ask, and
// Low{Ask,Bid} from the single bar with the lowest ask, so the bid/ask pair
// on each side always belongs together.
type OpeningRange struct {
	HighAsk float64
	HighBid float64
	LowAsk  float64
	LowBid  float64
}

// MidHigh is the midpoint of the high side of the range.
func (r OpeningRange) MidHigh() float64 { return (r.HighBid + r.HighAsk) / 2 }

// MidLow is the midpoint of the low side of the range.
func (r OpeningRange) MidLow() float64 { return (r.LowBid + r.LowAsk) / 2 }

// RangeSize is the distance between the two midpoints; this is the figure
// the strategy's stop distance and band-width checks are derived from.
func (r OpeningRange) RangeSize() float64 { return r.MidHigh() - r.MidLow() }

// Spread is the observed spread at the low side of the range, added/
// subtracted from working-order prices so orders don't sit exactly on the
// line (trades were observed clustering just outside it).
func (r OpeningRange) Spread() float64 { return r.LowAsk - r.LowBid }

// Strategy constants. These are fixed for this release; RiskRewardRatio
// and OpeningRangeMultiplier are not meant to become per-instrument knobs
// without revisiting the price-placement predicates that assume them.
const (
	RiskRewardRatio        = 2.0
	OpeningRangeMultiplier = 3.0
	StrategyVersion        = 1
)

// directionChangeBufferMultiplier scales the price-placement buffer when
// the previous order on this instrument closed on the opposite side. The
// original had a 2x variant commented out; only the 1x path ever ran, so
// that's what ships here. Kept as a named constant rather than a literal
// so re-enabling the wider buffer is a one-line change.
const directionChangeBufferMultiplier = 1.0

// DirectionChangeBufferMultiplier exposes the constant above to package
// decider without duplicating it.
func DirectionChangeBufferMultiplier() float64 { return directionChangeBufferMultiplier }

// MarketInfo is the immutable per-instrument configuration the decision
// machines are built around.
type MarketInfo struct {
	Epic              string
	BarsInOpeningRange int
	MinStop           float64
	MaxStopMultiplier float64
	Expiry            string
	Currency          string
	LotSize           float64
	UtcOpenTime       time.Time
	UtcCloseTime      time.Time
}

// IsInsideTradingHours reports whether now sits strictly between the end
// of the opening-range window and 15 minutes before close.
func (m MarketInfo) IsInsideTradingHours(now time.Time) bool {
	windowStart := m.UtcOpenTime.Add(time.Duration(m.BarsInOpeningRange) * time.Minute)
	windowEnd := m.UtcCloseTime.Add(-15 * time.Minute)
	return now.After(windowStart) && now.Before(windowEnd)
}

// StopDistance derives the stop distance used for both the stop and the
// 2R target from the opening range's size. No tick-size rounding is
// applied — see DESIGN.md's Open Question note on fractional-stop rounding.
func (m MarketInfo) StopDistance(openingRangeSize float64) float64 {
	return openingRangeSize / OpeningRangeMultiplier
}

// TradeResult is published once, on position exit, for every order that
// ever reached PositionOpened.
type TradeResult struct {
	Size             float64
	WantedEntryLevel float64
	ActualEntryLevel float64
	EntryTime        time.Time
	ExitTime         time.Time
	ExitLevel        float64
	Reference        OrderReference
	Epic             string
	OpeningRangeSize float64
	StrategyVersion  int
	OneR             float64
}
