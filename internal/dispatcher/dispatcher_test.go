package dispatcher_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/broker"
	"github.com/atlas-desktop/orb-trader/internal/dispatcher"
	"github.com/atlas-desktop/orb-trader/internal/view"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// fakeSink captures every result Write is called with, instead of
// touching disk.
type fakeSink struct {
	mu      sync.Mutex
	results []types.TradeResult
}

func (s *fakeSink) Write(result types.TradeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results = append(s.results, result)
	return nil
}

func (s *fakeSink) len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.results)
}

// seedMarket opens today (by the London calendar): the market cache dates
// every tick's time of day with today's London date, so only a session on
// that date can see the pushed ticks inside trading hours.
func seedMarket() types.MarketInfo {
	london, err := time.LoadLocation("Europe/London")
	if err != nil {
		panic(err)
	}
	today := time.Now().In(london)
	return types.MarketInfo{
		Epic:              "CS.D.EURUSD.CFD.IP",
		BarsInOpeningRange: 3,
		MinStop:           1.0,
		MaxStopMultiplier: 5.0,
		LotSize:           1,
		UtcOpenTime:       time.Date(today.Year(), today.Month(), today.Day(), 8, 0, 0, 0, time.UTC),
		UtcCloseTime:      time.Date(today.Year(), today.Month(), today.Day(), 16, 0, 0, 0, time.UTC),
	}
}

func seedBars() []types.OhlcBar {
	return []types.OhlcBar{{
		High: types.Price{Ask: 110, Bid: 109.9},
		Low:  types.Price{Ask: 100, Bid: 99.9},
	}}
}

// waitForSnapshot polls the bus until key is populated or the deadline
// passes, failing the test on timeout.
func waitForSnapshot(t *testing.T, bus *view.Bus, key string) view.Update {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if u, ok := bus.Snapshot(key); ok {
			return u
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for snapshot %q", key)
	return nil
}

// TestDispatcher_OverLongRoundTrip drives the Paper brokerage through the
// full OverLong seed scenario: opening range established from one fixture
// bar, a tick over the high side triggers the working order, a crossing
// tick fills it, and a simulated position close publishes the finished
// trade.
func TestDispatcher_OverLongRoundTrip(t *testing.T) {
	market := seedMarket()
	logger := zap.NewNop()

	paper := broker.NewPaper(logger, broker.DefaultPaperConfig(), map[string][]types.OhlcBar{
		market.Epic: seedBars(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	bus := view.NewBus(ctx)
	defer bus.Close()

	sink := &fakeSink{}
	disp := dispatcher.New(logger, paper, bus, sink, []types.MarketInfo{market})

	go paper.Run(ctx)
	go disp.Run(ctx)

	// First tick: inside trading hours, establishes the opening range from
	// the fixture bar (range size 10, inside the [3,15] band) and parks the
	// system in DecideOrderPlacement.
	paper.PushTick(market.Epic, 105, 105.1, market.UtcOpenTime.Add(4*time.Minute))

	systemAtRange := waitForSystemState(t, bus, market.Epic, "DecideOrderPlacement")
	if systemAtRange.OpeningRangeHighAsk == nil || *systemAtRange.OpeningRangeHighAsk != 110 {
		t.Fatalf("expected opening range high ask 110, got %#v", systemAtRange.OpeningRangeHighAsk)
	}

	// Second tick: mid price 113.55 clears MidHigh (109.95) plus the 3.333
	// stop-distance buffer (113.283), placing the OverLong working order.
	paper.PushTick(market.Epic, 113.5, 113.6, market.UtcOpenTime.Add(5*time.Minute))

	waitForSystemState(t, bus, market.Epic, "ManageOrders")

	// Third tick crosses the working order's 110.1 entry price, filling it.
	paper.PushTick(market.Epic, 110.05, 110.15, market.UtcOpenTime.Add(6*time.Minute))

	waitForOrderState(t, bus, market.Epic, "PositionOpened")

	// Simulate the stop or target being hit.
	paper.PushPositionClose(market.Epic, types.OverLong, 120.0)

	result := waitForSnapshot(t, bus, "trade_result:"+market.Epic).(view.TradeResultView)
	if result.Reference != string(types.OverLong) {
		t.Fatalf("expected OverLong result, got %q", result.Reference)
	}
	if result.ActualEntryLevel != 110.15 {
		t.Fatalf("expected entry level 110.15, got %v", result.ActualEntryLevel)
	}
	if result.ExitLevel != 120.0 {
		t.Fatalf("expected exit level 120, got %v", result.ExitLevel)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) && sink.len() < 1 {
		time.Sleep(time.Millisecond)
	}
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.results) != 1 {
		t.Fatalf("expected exactly one written result, got %d", len(sink.results))
	}
	if sink.results[0].Epic != market.Epic {
		t.Fatalf("expected epic %q, got %q", market.Epic, sink.results[0].Epic)
	}

	finalState := waitForSystemState(t, bus, market.Epic, "DecideOrderPlacement")
	if len(finalState.Orders) != 0 {
		t.Fatalf("expected the order book reset after exit, got %#v", finalState.Orders)
	}
}

func waitForSystemState(t *testing.T, bus *view.Bus, epic, state string) view.SystemView {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if u, ok := bus.Snapshot("system:" + epic); ok {
			sv := u.(view.SystemView)
			if sv.State == state {
				return sv
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for system %q to reach state %q", epic, state)
	return view.SystemView{}
}

func waitForOrderState(t *testing.T, bus *view.Bus, epic, state string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if u, ok := bus.Snapshot("system:" + epic); ok {
			sv := u.(view.SystemView)
			for _, order := range sv.Orders {
				if order.State == state {
					return
				}
			}
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("timed out waiting for an order in state %q", state)
}
