package broker

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// PaperConfig tunes the simulator's fill behaviour.
type PaperConfig struct {
	// RejectionRate is the fraction (0-1) of OpenWorkingOrder calls that are
	// answered with ConfirmationRejection instead of ConfirmationOpenAccepted.
	RejectionRate float64
	// Slippage is added to (buy) or subtracted from (sell) the triggering
	// tick price when an order fills, mirroring the base-slippage term of
	// the teacher's slippage model.
	Slippage float64
}

// DefaultPaperConfig mirrors a friction-free simulator: no injected
// rejections, no slippage.
func DefaultPaperConfig() PaperConfig {
	return PaperConfig{RejectionRate: 0, Slippage: 0}
}

type restingOrder struct {
	epic      string
	dealID    string
	reference types.OrderReference
	direction types.Direction
	price     float64
}

// Paper is an in-process Brokerage that simulates working-order fills
// against ticks pushed into it by PushTick, instead of a live feed. It is
// what every test in this repository, and any local run without live
// credentials, trades against. Grounded on the teacher's PaperTrading
// execution branch and slippage model, adapted to drive resting working
// orders rather than immediate market fills.
type Paper struct {
	logger *zap.Logger
	config PaperConfig
	rng    *rand.Rand

	mu      sync.Mutex
	resting map[string]restingOrder // dealID -> order
	nextID  int

	events chan StreamEvent
	bars   map[string][]types.OhlcBar
}

// NewPaper builds a Paper adapter. fixtureBars supplies canned FetchData
// responses keyed by epic; a real deployment without live credentials
// would load these from a CSV or vendor API instead.
func NewPaper(logger *zap.Logger, config PaperConfig, fixtureBars map[string][]types.OhlcBar) *Paper {
	return &Paper{
		logger:  logger.Named("paper_broker"),
		config:  config,
		rng:     rand.New(rand.NewSource(1)),
		resting: make(map[string]restingOrder),
		events:  make(chan StreamEvent, 256),
		bars:    fixtureBars,
	}
}

func (p *Paper) Events() <-chan StreamEvent { return p.events }

// Run blocks until ctx is cancelled; the paper adapter has no background
// connection of its own to maintain.
func (p *Paper) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (p *Paper) FetchData(_ context.Context, epic string, _ time.Time, _ time.Duration) ([]types.OhlcBar, error) {
	return p.bars[epic], nil
}

func (p *Paper) OpenWorkingOrder(_ context.Context, direction types.Direction, price float64, reference types.OrderReference, marketInfo types.MarketInfo, _, _ float64) error {
	p.mu.Lock()
	p.nextID++
	dealID := fmt.Sprintf("PAPER-%d", p.nextID)
	dealReference := EncodeDealReference(reference, marketInfo.Epic)
	reject := p.rng.Float64() < p.config.RejectionRate
	if !reject {
		p.resting[dealID] = restingOrder{
			epic:      marketInfo.Epic,
			dealID:    dealID,
			reference: reference,
			direction: direction,
			price:     price,
		}
	}
	p.mu.Unlock()

	status := "OPEN"
	confirmation := TradeConfirmationPayload{
		Epic:          marketInfo.Epic,
		Level:         &price,
		Status:        &status,
		DealStatus:    "ACCEPTED",
		DealID:        dealID,
		DealReference: dealReference,
	}
	if reject {
		confirmation.DealStatus = "REJECTED"
		confirmation.Reason = "PAPER_SIMULATED_REJECTION"
	}
	p.emit(TradeConfirmationStreamEvent{Update: confirmation})
	return nil
}

func (p *Paper) DeleteWorkingOrder(_ context.Context, dealID string) error {
	p.mu.Lock()
	order, ok := p.resting[dealID]
	if ok {
		delete(p.resting, dealID)
	}
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("paper broker: unknown deal id %q", dealID)
	}
	deleted := "DELETED"
	p.emit(TradeConfirmationStreamEvent{Update: TradeConfirmationPayload{
		Epic:          order.epic,
		Status:        &deleted,
		DealStatus:    "ACCEPTED",
		DealID:        dealID,
		DealReference: EncodeDealReference(order.reference, order.epic),
	}})
	return nil
}

// EditPosition succeeds only for a deal id that is still resting in the
// book and returns an error for any other; a filled order leaves the book,
// so editing an open position fails. The paper broker does not simulate
// trailing-stop management since the strategy never arms one.
func (p *Paper) EditPosition(_ context.Context, dealID string, _, _, _ float64) error {
	p.mu.Lock()
	_, ok := p.resting[dealID]
	p.mu.Unlock()
	if !ok {
		return fmt.Errorf("paper broker: unknown deal id %q", dealID)
	}
	return nil
}

// PushTick feeds a synthetic market tick and checks it against resting
// orders, firing PositionEntry for whichever order it triggers. It also
// forwards the tick itself as a MarketStreamEvent so the per-epic cache
// chain sees it exactly like a live feed would.
func (p *Paper) PushTick(epic string, bid, ask float64, at time.Time) {
	tradeable := "TRADEABLE"
	delay := 0
	stamp := at.UTC().Format("15:04:05")
	if london, err := time.LoadLocation("Europe/London"); err == nil {
		stamp = at.In(london).Format("15:04:05")
	}
	p.emit(MarketStreamEvent{Update: MarketUpdatePayload{
		Epic:        epic,
		Bid:         &bid,
		Offer:       &ask,
		MarketDelay: &delay,
		MarketState: &tradeable,
		UpdateTime:  &stamp,
	}})

	p.mu.Lock()
	var triggered []restingOrder
	for dealID, order := range p.resting {
		if order.epic != epic {
			continue
		}
		if p.crosses(order, bid, ask) {
			triggered = append(triggered, order)
			delete(p.resting, dealID)
		}
	}
	p.mu.Unlock()

	for _, order := range triggered {
		fillLevel := p.fillLevel(order, bid, ask)
		p.emit(OpenPositionStreamEvent{Update: OpenPositionPayload{
			Epic:          order.epic,
			Level:         fillLevel,
			Status:        "OPEN",
			DealStatus:    "ACCEPTED",
			DealReference: EncodeDealReference(order.reference, order.epic),
		}})
	}
}

// PushPositionClose simulates the brokerage reporting a resting position
// closed, whether by stop, target, or manual close. Test-only: the live
// feed reports this over its own stream, not through PushTick.
func (p *Paper) PushPositionClose(epic string, reference types.OrderReference, exitLevel float64) {
	p.emit(OpenPositionStreamEvent{Update: OpenPositionPayload{
		Epic:          epic,
		Level:         exitLevel,
		Status:        "DELETED",
		DealStatus:    "ACCEPTED",
		DealReference: EncodeDealReference(reference, epic),
	}})
}

// crosses reports whether a tick would have triggered a resting order: a
// buy order fills once ask reaches its level, a sell order once bid falls
// to it.
func (p *Paper) crosses(order restingOrder, bid, ask float64) bool {
	if order.direction == types.Buy {
		return ask >= order.price
	}
	return bid <= order.price
}

func (p *Paper) fillLevel(order restingOrder, bid, ask float64) float64 {
	if order.direction == types.Buy {
		return ask + p.config.Slippage
	}
	return bid - p.config.Slippage
}

func (p *Paper) emit(event StreamEvent) {
	select {
	case p.events <- event:
	default:
		p.logger.Warn("paper broker event channel full, dropping event")
	}
}
