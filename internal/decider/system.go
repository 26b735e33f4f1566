package decider

import (
	"sort"
	"time"

	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// SystemState names a state in the per-instrument daily lifecycle.
type SystemState string

const (
	Setup                SystemState = "Setup"
	AwaitData            SystemState = "AwaitData"
	DecideOrderPlacement SystemState = "DecideOrderPlacement"
	ManageOrders         SystemState = "ManageOrders"
	SystemError          SystemState = "Error"
)

// OrderView is a read-only snapshot of one order's position in the book.
type OrderView struct {
	Reference types.OrderReference
	State     WorkingOrderState
}

// OrderBook holds at most one WorkingOrder per OrderReference, matching
// SPEC_FULL.md §4.3 and grounded on bfg-core/src/decider/system.rs's
// OrderManager. Mutated in place via remove-modify-insert semantics; the
// dispatcher steps every epic's System on its one goroutine, which makes
// that safe without locking.
type OrderBook struct {
	orders map[types.OrderReference]WorkingOrder
}

// NewOrderBook returns an empty book.
func NewOrderBook() *OrderBook {
	return &OrderBook{orders: make(map[types.OrderReference]WorkingOrder)}
}

// Create registers a new order awaiting its open confirmation.
func (b *OrderBook) Create(reference types.OrderReference, marketInfo types.MarketInfo, openingRange types.OpeningRange) {
	b.orders[reference] = NewWorkingOrder(marketInfo, openingRange, reference)
}

// StepOne routes an event that concerns exactly one order.
func (b *OrderBook) StepOne(reference types.OrderReference, event Event) []Command {
	order, ok := b.orders[reference]
	if !ok {
		return nil
	}
	next, commands := order.Step(event)
	b.orders[reference] = next
	return commands
}

// StepAll routes an event (a market tick) to every order currently
// resting in the book. The key set is snapshotted first so step functions
// are free to be called without iterator-invalidation concerns.
func (b *OrderBook) StepAll(event Event) []Command {
	keys := make([]types.OrderReference, 0, len(b.orders))
	for k := range b.orders {
		keys = append(keys, k)
	}
	var commands []Command
	for _, k := range keys {
		commands = append(commands, b.StepOne(k, event)...)
	}
	return commands
}

// DealID looks up the broker deal id for a reference, if the order ever
// got an open confirmation.
func (b *OrderBook) DealID(reference types.OrderReference) (string, bool) {
	order, ok := b.orders[reference]
	if !ok || order.DealID == "" {
		return "", false
	}
	return order.DealID, true
}

// View returns a stable-order snapshot of every order currently tracked.
func (b *OrderBook) View() []OrderView {
	views := make([]OrderView, 0, len(b.orders))
	for ref, order := range b.orders {
		views = append(views, OrderView{Reference: ref, State: order.State})
	}
	sort.Slice(views, func(i, j int) bool {
		return views[i].Reference.ReferenceID() < views[j].Reference.ReferenceID()
	})
	return views
}

// reset clears the book, matching the original's "reset all orders" on
// re-entry to DecideOrderPlacement from ManageOrders.
func (b *OrderBook) reset() {
	b.orders = make(map[types.OrderReference]WorkingOrder)
}

// System is the per-instrument state machine described in SPEC_FULL.md
// §4.2, grounded 1:1 on bfg-core/src/decider/system.rs.
type System struct {
	State        SystemState
	MarketInfo   types.MarketInfo
	OpeningRange types.OpeningRange
	Orders       *OrderBook

	// LastPositionReference remembers the reference of the most recently
	// completed or cancelled order, for the direction-change buffer in the
	// price-placement predicates below. Empty string means none yet.
	LastPositionReference types.OrderReference
}

// NewSystem builds a System in its starting Setup state.
func NewSystem(marketInfo types.MarketInfo) *System {
	return &System{
		State:      Setup,
		MarketInfo: marketInfo,
		Orders:     NewOrderBook(),
	}
}

// Step advances the System by one event. Unrecognized (state, event) pairs
// are a no-op, except for ErrorEvent which is handled from every non-Error
// state.
func (s *System) Step(event Event) []Command {
	if errEvt, ok := event.(ErrorEvent); ok && s.State != SystemError {
		s.State = SystemError
		return []Command{FatalFailureCommand{Reason: errEvt.Reason}}
	}

	switch s.State {
	case Setup:
		return s.stepSetup(event)
	case AwaitData:
		return s.stepAwaitData(event)
	case DecideOrderPlacement:
		return s.stepDecideOrderPlacement(event)
	case ManageOrders:
		return s.stepManageOrders(event)
	default:
		return nil
	}
}

func (s *System) stepSetup(event Event) []Command {
	m, ok := event.(MarketEvent)
	if !ok || !s.MarketInfo.IsInsideTradingHours(m.UpdateTime) {
		return nil
	}
	s.State = AwaitData
	return []Command{fetchDataCommand(s.MarketInfo)}
}

func (s *System) stepAwaitData(event Event) []Command {
	d, ok := event.(DataEvent)
	if !ok || len(d.Prices) == 0 {
		return nil
	}
	openingRange := createOpeningRangeFromBars(d.Prices)
	rangeSize := openingRange.RangeSize()
	lower := s.MarketInfo.MinStop * types.OpeningRangeMultiplier
	upper := s.MarketInfo.MinStop * s.MarketInfo.MaxStopMultiplier * types.OpeningRangeMultiplier
	if rangeSize >= lower && rangeSize <= upper {
		s.State = DecideOrderPlacement
		s.OpeningRange = openingRange
		s.Orders.reset()
		return nil
	}
	s.State = SystemError
	return nil
}

func (s *System) stepDecideOrderPlacement(event Event) []Command {
	m, ok := event.(MarketEvent)
	if !ok {
		return nil
	}
	if !s.MarketInfo.IsInsideTradingHours(m.UpdateTime) {
		s.State = Setup
		return nil
	}

	stopDistance := s.MarketInfo.StopDistance(s.OpeningRange.RangeSize())
	targetDistance := stopDistance * types.RiskRewardRatio

	switch {
	case isPriceOver(stopDistance, s.OpeningRange, m.Bid, m.Ask, s.LastPositionReference):
		cmd := CreateWorkingOrderCommand{
			Direction:      types.Buy,
			Price:          s.OpeningRange.HighAsk + s.OpeningRange.Spread(),
			Reference:      types.OverLong,
			MarketInfo:     s.MarketInfo,
			TargetDistance: targetDistance,
			StopDistance:   stopDistance,
		}
		s.Orders.Create(types.OverLong, s.MarketInfo, s.OpeningRange)
		s.State = ManageOrders
		return []Command{cmd}

	case isPriceBetween(stopDistance, s.OpeningRange, m.Bid, m.Ask, s.LastPositionReference):
		cmds := []Command{
			CreateWorkingOrderCommand{
				Direction:      types.Buy,
				Price:          s.OpeningRange.LowAsk + s.OpeningRange.Spread(),
				Reference:      types.BetweenLong,
				MarketInfo:     s.MarketInfo,
				TargetDistance: targetDistance,
				StopDistance:   stopDistance,
			},
			CreateWorkingOrderCommand{
				Direction:      types.Sell,
				Price:          s.OpeningRange.HighBid - s.OpeningRange.Spread(),
				Reference:      types.BetweenShort,
				MarketInfo:     s.MarketInfo,
				TargetDistance: targetDistance,
				StopDistance:   stopDistance,
			},
		}
		s.Orders.Create(types.BetweenLong, s.MarketInfo, s.OpeningRange)
		s.Orders.Create(types.BetweenShort, s.MarketInfo, s.OpeningRange)
		s.State = ManageOrders
		return cmds

	case isPriceUnder(stopDistance, s.OpeningRange, m.Bid, m.Ask, s.LastPositionReference):
		cmd := CreateWorkingOrderCommand{
			Direction:      types.Sell,
			Price:          s.OpeningRange.LowBid - s.OpeningRange.Spread(),
			Reference:      types.UnderShort,
			MarketInfo:     s.MarketInfo,
			TargetDistance: targetDistance,
			StopDistance:   stopDistance,
		}
		s.Orders.Create(types.UnderShort, s.MarketInfo, s.OpeningRange)
		s.State = ManageOrders
		return []Command{cmd}

	default:
		return nil
	}
}

func (s *System) stepManageOrders(event Event) []Command {
	switch e := event.(type) {
	case MarketEvent:
		if !s.MarketInfo.IsInsideTradingHours(e.UpdateTime) {
			s.State = Setup
			return nil
		}
		return s.Orders.StepAll(e)
	case OrderNotification:
		return s.Orders.StepOne(e.Reference, e)
	case WOCancelEvent:
		s.LastPositionReference = e.Reference
		s.State = DecideOrderPlacement
		s.Orders.reset()
		return nil
	case PositionExitEvent:
		s.LastPositionReference = e.Reference
		s.State = DecideOrderPlacement
		s.Orders.reset()
		return nil
	default:
		return nil
	}
}

func fetchDataCommand(marketInfo types.MarketInfo) Command {
	return FetchDataCommand{
		Epic:     marketInfo.Epic,
		Start:    marketInfo.UtcOpenTime,
		Duration: time.Duration(marketInfo.BarsInOpeningRange-1) * time.Minute,
	}
}

// createOpeningRangeFromBars assumes bars is non-empty; callers must check
// that first (the AwaitData guard above does).
func createOpeningRangeFromBars(bars []types.OhlcBar) types.OpeningRange {
	highestAsk, highestBid := 0.0, 0.0
	lowestAsk, lowestBid := 1_000_000.0, 1_000_000.0
	for _, bar := range bars {
		if bar.High.Ask > highestAsk {
			highestAsk = bar.High.Ask
			highestBid = bar.High.Bid
		}
		if bar.Low.Ask < lowestAsk {
			lowestAsk = bar.Low.Ask
			lowestBid = bar.Low.Bid
		}
	}
	return types.OpeningRange{
		HighAsk: highestAsk,
		HighBid: highestBid,
		LowAsk:  lowestAsk,
		LowBid:  lowestBid,
	}
}

func isPriceOver(stopDistance float64, rng types.OpeningRange, bid, ask float64, lastRef types.OrderReference) bool {
	level := (bid + ask) / 2
	buffer := stopDistance
	if lastRef == types.BetweenShort || lastRef == types.UnderShort {
		buffer = stopDistance * types.DirectionChangeBufferMultiplier()
	}
	return level > rng.MidHigh()+buffer
}

func isPriceBetween(stopDistance float64, rng types.OpeningRange, bid, ask float64, lastRef types.OrderReference) bool {
	level := (bid + ask) / 2
	longBuffer := stopDistance
	shortBuffer := stopDistance
	if lastRef == types.BetweenLong || lastRef == types.OverLong {
		shortBuffer = types.DirectionChangeBufferMultiplier() * stopDistance
	}
	if lastRef == types.BetweenShort || lastRef == types.UnderShort {
		longBuffer = types.DirectionChangeBufferMultiplier() * stopDistance
	}
	return level < rng.MidHigh()-shortBuffer && level > rng.MidLow()+longBuffer
}

func isPriceUnder(stopDistance float64, rng types.OpeningRange, bid, ask float64, lastRef types.OrderReference) bool {
	level := (bid + ask) / 2
	buffer := stopDistance
	if lastRef == types.BetweenLong || lastRef == types.OverLong {
		buffer = stopDistance * types.DirectionChangeBufferMultiplier()
	}
	return level < rng.MidLow()-buffer
}
