// Package cache normalizes broker stream updates — which arrive as partial,
// possibly out-of-order field updates — into the canonical decider.Event
// the decision machines consume. Grounded on original_source/bfg-ig/src/lib.rs.
package cache

import (
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/decider"
)

// MarketState mirrors the broker's tradeable/closed/offline status tag.
type MarketState string

const (
	MarketStateTradeable MarketState = "TRADEABLE"
	MarketStateEdited    MarketState = "EDITED"
	MarketStateOffline   MarketState = "OFFLINE"
	MarketStateClosed    MarketState = "CLOSED"
)

// MarketUpdate is one partial broker market-data message. Every field but
// Epic is optional: the broker sends whichever fields changed.
type MarketUpdate struct {
	Epic        string
	Bid         *float64
	Offer       *float64
	MarketDelay *int
	MarketState *MarketState
	// UpdateTime is a London-local "HH:MM:SS" string, matching the IG-style
	// streaming API the original adapter was built for.
	UpdateTime *string
}

// MarketCache merges successive MarketUpdates for one epic and emits a
// decider.MarketEvent only once bid, ask, delay and state are all known
// and the market is actually tradeable.
type MarketCache struct {
	Epic        string
	Bid         *float64
	Ask         *float64
	MarketDelay *int
	MarketState *MarketState
	UpdateTime  *time.Time

	logger *zap.Logger
}

// NewMarketCache builds an empty cache for one epic.
func NewMarketCache(epic string, logger *zap.Logger) *MarketCache {
	return &MarketCache{Epic: epic, logger: logger.Named("market_cache")}
}

// Update folds in a partial update and returns the canonical Market event
// if (and only if) the cache is now fully populated and tradeable.
func (c *MarketCache) Update(update MarketUpdate) (decider.Event, bool) {
	c.Epic = update.Epic
	if update.UpdateTime != nil {
		utc, err := utcTimeForLondonUpdate(*update.UpdateTime, time.Now().UTC())
		if err != nil {
			c.logger.Warn("failed to resolve London update time", zap.String("raw", *update.UpdateTime), zap.Error(err))
		} else {
			c.UpdateTime = &utc
		}
	}
	if update.MarketState != nil {
		c.MarketState = update.MarketState
	}
	if update.MarketDelay != nil {
		c.MarketDelay = update.MarketDelay
	}
	if update.Bid != nil {
		c.Bid = update.Bid
	}
	if update.Offer != nil {
		c.Ask = update.Offer
	}
	return c.currentEvent()
}

func (c *MarketCache) currentEvent() (decider.Event, bool) {
	if c.Bid == nil || c.Ask == nil || c.MarketDelay == nil || c.MarketState == nil || c.UpdateTime == nil {
		return nil, false
	}
	if *c.MarketDelay != 0 || *c.MarketState != MarketStateTradeable {
		return nil, false
	}
	return decider.MarketEvent{
		Epic:       c.Epic,
		UpdateTime: *c.UpdateTime,
		Bid:        *c.Bid,
		Ask:        *c.Ask,
	}, true
}

// londonLocation loads Europe/London from the system time-zone database on
// every call. If that fails, utcTimeForLondonUpdate returns the error and
// Update logs it and keeps the previous update time, so Update stays total
// even where the tzdata isn't available; no UTC fallback is applied.
var londonLocation = func() (*time.Location, error) {
	return time.LoadLocation("Europe/London")
}

// utcTimeForLondonUpdate resolves a broker "HH:MM:SS" string — which the
// original stream always sends in London local time, GMT or BST depending
// on the date — against today's calendar date, then converts to UTC. "now"
// is passed in rather than read internally so this stays straightforward
// to unit test across both sides of a DST transition.
func utcTimeForLondonUpdate(raw string, now time.Time) (time.Time, error) {
	loc, err := londonLocation()
	if err != nil {
		return time.Time{}, err
	}
	parsed, err := time.Parse("15:04:05", raw)
	if err != nil {
		return time.Time{}, err
	}
	londonNow := now.In(loc)
	local := time.Date(londonNow.Year(), londonNow.Month(), londonNow.Day(),
		parsed.Hour(), parsed.Minute(), parsed.Second(), 0, loc)
	return local.UTC(), nil
}
