package cache_test

import (
	"testing"

	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/cache"
	"github.com/atlas-desktop/orb-trader/internal/decider"
)

func f(v float64) *float64  { return &v }
func i(v int) *int          { return &v }
func s(v cache.MarketState) *cache.MarketState { return &v }

// Seed scenario 6: partial updates gate the event, a completing update
// with a tradeable market emits exactly one Market event.
func TestMarketCache_GatesUntilFullyPopulatedAndTradeable(t *testing.T) {
	mc := cache.NewMarketCache("E", zap.NewNop())

	if _, ok := mc.Update(cache.MarketUpdate{Epic: "E", Bid: f(1.1)}); ok {
		t.Fatalf("expected no event from a partial update")
	}

	tradeable := cache.MarketStateTradeable
	event, ok := mc.Update(cache.MarketUpdate{
		Epic:        "E",
		Offer:       f(1.2),
		MarketDelay: i(0),
		MarketState: &tradeable,
		UpdateTime:  strp("12:00:00"),
	})
	if !ok {
		t.Fatalf("expected an event once all fields are present and tradeable")
	}
	m, ok := event.(decider.MarketEvent)
	if !ok || m.Bid != 1.1 || m.Ask != 1.2 {
		t.Fatalf("unexpected market event: %#v", event)
	}
}

func TestMarketCache_NonTradeableStateSuppressesEvent(t *testing.T) {
	mc := cache.NewMarketCache("E", zap.NewNop())
	closedState := cache.MarketStateClosed
	_, ok := mc.Update(cache.MarketUpdate{
		Epic:        "E",
		Bid:         f(1.1),
		Offer:       f(1.2),
		MarketDelay: i(0),
		MarketState: &closedState,
		UpdateTime:  strp("12:00:00"),
	})
	if ok {
		t.Fatalf("expected no event while market is closed")
	}
}

func TestTradeConfirmationCache_UnknownReferenceDropped(t *testing.T) {
	tc := cache.NewTradeConfirmationCache(zap.NewNop())
	_, _, ok := tc.Update(cache.TradeConfirmationUpdate{
		Epic:          "E",
		DealStatus:    cache.DealAccepted,
		DealReference: "SOMEONE_TYPED_THIS_BY_HAND",
	})
	if ok {
		t.Fatalf("expected manual-trade reference to be dropped silently")
	}
}

func TestTradeConfirmationCache_OpenAccepted(t *testing.T) {
	tc := cache.NewTradeConfirmationCache(zap.NewNop())
	open := cache.ConfirmOpen
	epic, evt, ok := tc.Update(cache.TradeConfirmationUpdate{
		Epic:          "E",
		Level:         f(102),
		Status:        &open,
		DealStatus:    cache.DealAccepted,
		DealID:        "D1",
		DealReference: "OVER_LONG",
	})
	if !ok || epic != "E" {
		t.Fatalf("expected an event for E, got ok=%v epic=%s", ok, epic)
	}
	n, ok := evt.(decider.OrderNotification)
	if !ok {
		t.Fatalf("expected OrderNotification, got %#v", evt)
	}
	open2, ok := n.Order.(decider.ConfirmationOpenAccepted)
	if !ok || open2.Level != 102 || open2.DealID != "D1" {
		t.Fatalf("unexpected order event: %#v", n.Order)
	}
}

func TestOpenPositionCache_EntryAndExit(t *testing.T) {
	pc := cache.NewOpenPositionCache(zap.NewNop())
	_, evt, ok := pc.Update(cache.OpenPositionUpdate{
		Epic:          "E",
		Level:         102,
		Status:        cache.PositionOpen,
		DealStatus:    cache.DealAccepted,
		DealReference: "OVER_LONG",
	})
	if !ok {
		t.Fatalf("expected a PositionEntry event")
	}
	if n, ok := evt.(decider.OrderNotification); !ok {
		t.Fatalf("expected OrderNotification, got %#v", evt)
	} else if _, ok := n.Order.(decider.PositionEntry); !ok {
		t.Fatalf("expected PositionEntry, got %#v", n.Order)
	}

	_, evt, ok = pc.Update(cache.OpenPositionUpdate{
		Epic:          "E",
		Level:         112,
		Status:        cache.PositionDeleted,
		DealStatus:    cache.DealAccepted,
		DealReference: "OVER_LONG",
	})
	if !ok {
		t.Fatalf("expected a PositionExit event")
	}
	n, ok := evt.(decider.OrderNotification)
	if !ok {
		t.Fatalf("expected OrderNotification, got %#v", evt)
	}
	exit, ok := n.Order.(decider.PositionExit)
	if !ok || exit.ExitLevel != 112 {
		t.Fatalf("unexpected exit event: %#v", n.Order)
	}
}

func strp(v string) *string { return &v }
