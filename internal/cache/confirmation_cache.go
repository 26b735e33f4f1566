package cache

import (
	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/decider"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// DealStatus is the broker's accept/reject verdict on a confirmation.
type DealStatus string

const (
	DealAccepted DealStatus = "ACCEPTED"
	DealRejected DealStatus = "REJECTED"
)

// ConfirmStatus is the lifecycle stage a confirmation update describes.
type ConfirmStatus string

const (
	ConfirmAmended        ConfirmStatus = "AMENDED"
	ConfirmClosed         ConfirmStatus = "CLOSED"
	ConfirmDeleted        ConfirmStatus = "DELETED"
	ConfirmOpen           ConfirmStatus = "OPEN"
	ConfirmPartiallyClose ConfirmStatus = "PARTIALLY_CLOSED"
)

// TradeConfirmationUpdate is one broker deal-confirmation message.
type TradeConfirmationUpdate struct {
	Epic          string
	Level         *float64
	Status        *ConfirmStatus
	DealStatus    DealStatus
	DealID        string
	DealReference string
	Reason        string
}

// TradeConfirmationCache tracks the latest confirmation per OrderReference
// and translates it into a decider.OrderNotification. Confirmations whose
// deal reference does not parse as one of the four known tags are dropped
// silently — this is what lets a human place manual trades on the same
// account without upsetting the machines.
type TradeConfirmationCache struct {
	confirms map[types.OrderReference]TradeConfirmationUpdate
	logger   *zap.Logger
}

// NewTradeConfirmationCache builds an empty cache.
func NewTradeConfirmationCache(logger *zap.Logger) *TradeConfirmationCache {
	return &TradeConfirmationCache{
		confirms: make(map[types.OrderReference]TradeConfirmationUpdate),
		logger:   logger.Named("confirmation_cache"),
	}
}

// Update folds in a confirmation and returns the derived core event, if any.
func (c *TradeConfirmationCache) Update(update TradeConfirmationUpdate) (string, decider.Event, bool) {
	reference, ok := types.ParseOrderReference(update.DealReference)
	if !ok {
		c.logger.Debug("dropping confirmation with unknown deal reference", zap.String("deal_reference", update.DealReference))
		return "", nil, false
	}
	c.confirms[reference] = update
	return c.currentEvent(reference)
}

func (c *TradeConfirmationCache) currentEvent(reference types.OrderReference) (string, decider.Event, bool) {
	confirmation, ok := c.confirms[reference]
	if !ok {
		return "", nil, false
	}
	switch {
	case confirmation.DealStatus == DealAccepted && confirmation.Status != nil && *confirmation.Status == ConfirmOpen && confirmation.Level != nil:
		return confirmation.Epic, decider.OrderNotification{
			Order:     decider.ConfirmationOpenAccepted{Level: *confirmation.Level, DealID: confirmation.DealID},
			Reference: reference,
		}, true
	case confirmation.DealStatus == DealAccepted && confirmation.Status != nil && *confirmation.Status == ConfirmAmended:
		return confirmation.Epic, decider.OrderNotification{Order: decider.ConfirmationAmendedAccepted{}, Reference: reference}, true
	case confirmation.DealStatus == DealRejected:
		return confirmation.Epic, decider.OrderNotification{Order: decider.ConfirmationRejection{}, Reference: reference}, true
	case confirmation.DealStatus == DealAccepted && confirmation.Status != nil && *confirmation.Status == ConfirmDeleted:
		return confirmation.Epic, decider.OrderNotification{Order: decider.ConfirmationDeleteAccepted{}, Reference: reference}, true
	default:
		return "", nil, false
	}
}

// DealID returns the broker deal id tracked for a reference, if known.
func (c *TradeConfirmationCache) DealID(reference types.OrderReference) (string, bool) {
	confirmation, ok := c.confirms[reference]
	if !ok {
		return "", false
	}
	return confirmation.DealID, true
}
