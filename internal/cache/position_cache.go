package cache

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/decider"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// PositionStatus is the open-position lifecycle stage a broker update
// reports.
type PositionStatus string

const (
	PositionOpen    PositionStatus = "OPEN"
	PositionUpdated PositionStatus = "UPDATED"
	PositionDeleted PositionStatus = "DELETED"
)

// OpenPositionUpdate is one broker open-position message.
type OpenPositionUpdate struct {
	Epic          string
	Level         float64
	Status        PositionStatus
	DealStatus    DealStatus
	DealReference string
}

// OpenPositionCache tracks the latest open-position update per
// OrderReference and translates it into a decider.OrderNotification.
// Mirrors TradeConfirmationCache's manual-trade-safe reference filtering.
type OpenPositionCache struct {
	positions map[types.OrderReference]OpenPositionUpdate
	logger    *zap.Logger
}

// NewOpenPositionCache builds an empty cache.
func NewOpenPositionCache(logger *zap.Logger) *OpenPositionCache {
	return &OpenPositionCache{
		positions: make(map[types.OrderReference]OpenPositionUpdate),
		logger:    logger.Named("position_cache"),
	}
}

// Update folds in a position update and returns the derived core event, if any.
func (c *OpenPositionCache) Update(update OpenPositionUpdate) (string, decider.Event, bool) {
	reference, ok := types.ParseOrderReference(update.DealReference)
	if !ok {
		c.logger.Debug("dropping position update with unknown deal reference", zap.String("deal_reference", update.DealReference))
		return "", nil, false
	}
	c.positions[reference] = update
	return c.currentEvent(reference)
}

func (c *OpenPositionCache) currentEvent(reference types.OrderReference) (string, decider.Event, bool) {
	position, ok := c.positions[reference]
	if !ok {
		return "", nil, false
	}
	switch {
	case position.Status == PositionOpen && position.DealStatus == DealAccepted:
		return position.Epic, decider.OrderNotification{
			Order:     decider.PositionEntry{EntryLevel: position.Level},
			Reference: reference,
		}, true
	case position.Status == PositionDeleted && position.DealStatus == DealAccepted:
		return position.Epic, decider.OrderNotification{
			Order:     decider.PositionExit{ExitLevel: position.Level},
			Reference: reference,
		}, true
	default:
		return "", nil, false
	}
}
