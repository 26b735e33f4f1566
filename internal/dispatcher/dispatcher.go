// Package dispatcher owns one (System, MarketCache, TradeConfirmationCache,
// OpenPositionCache) bundle per epic, drains the broker's event stream
// through them, and executes the commands the decision machines produce.
// Grounded 1:1 on original_source/bfg-ig/src/lib.rs's spawn_bfg and
// systems_manager.rs's SystemsManager.
package dispatcher

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/broker"
	"github.com/atlas-desktop/orb-trader/internal/cache"
	"github.com/atlas-desktop/orb-trader/internal/decider"
	"github.com/atlas-desktop/orb-trader/internal/view"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// ResultsSink persists a finished trade. Implemented by internal/results.
type ResultsSink interface {
	Write(result types.TradeResult) error
}

type epicState struct {
	epic          string
	system        *decider.System
	marketCache   *cache.MarketCache
	confirmCache  *cache.TradeConfirmationCache
	positionCache *cache.OpenPositionCache
}

// accountCache folds in whichever account fields were most recently
// reported; every field is optional, matching the broker's partial-update
// style. Grounded on original_source/bfg-ig/src/lib.rs's AccountCache.
type accountCache struct {
	account         string
	pnl             *float64
	deposit         *float64
	availableCash   *float64
	funds           *float64
	margin          *float64
	availableToDeal *float64
	equity          *float64
	equityUsed      *float64
}

func (a *accountCache) update(u broker.AccountUpdatePayload) {
	a.account = u.Account
	if u.Pnl != nil {
		a.pnl = u.Pnl
	}
	if u.Deposit != nil {
		a.deposit = u.Deposit
	}
	if u.AvailableCash != nil {
		a.availableCash = u.AvailableCash
	}
	if u.Funds != nil {
		a.funds = u.Funds
	}
	if u.Margin != nil {
		a.margin = u.Margin
	}
	if u.AvailableToDeal != nil {
		a.availableToDeal = u.AvailableToDeal
	}
	if u.Equity != nil {
		a.equity = u.Equity
	}
	if u.EquityUsed != nil {
		a.equityUsed = u.EquityUsed
	}
}

func (a *accountCache) view() view.AccountView {
	return view.AccountView{
		Account:         a.account,
		Pnl:             decimalPtr(a.pnl),
		Deposit:         decimalPtr(a.deposit),
		AvailableCash:   decimalPtr(a.availableCash),
		Funds:           decimalPtr(a.funds),
		Margin:          decimalPtr(a.margin),
		AvailableToDeal: decimalPtr(a.availableToDeal),
		Equity:          decimalPtr(a.equity),
		EquityUsed:      decimalPtr(a.equityUsed),
	}
}

// decimalPtr converts an optional float64 field off the wire into the
// decimal.Decimal the view layer renders.
func decimalPtr(f *float64) *decimal.Decimal {
	if f == nil {
		return nil
	}
	d := decimal.NewFromFloat(*f)
	return &d
}

// Dispatcher drains a Brokerage's event stream, fans updates through the
// per-epic caches into the decider, executes the resulting commands, and
// publishes read-only view snapshots as it goes.
type Dispatcher struct {
	logger  *zap.Logger
	broker  broker.Brokerage
	bus     *view.Bus
	results ResultsSink

	epics   map[string]*epicState
	account accountCache
}

// New builds a Dispatcher with one epicState per supplied MarketInfo.
func New(logger *zap.Logger, brokerage broker.Brokerage, bus *view.Bus, results ResultsSink, markets []types.MarketInfo) *Dispatcher {
	epics := make(map[string]*epicState, len(markets))
	for _, m := range markets {
		epics[m.Epic] = &epicState{
			epic:          m.Epic,
			system:        decider.NewSystem(m),
			marketCache:   cache.NewMarketCache(m.Epic, logger),
			confirmCache:  cache.NewTradeConfirmationCache(logger),
			positionCache: cache.NewOpenPositionCache(logger),
		}
	}
	return &Dispatcher{
		logger:  logger.Named("dispatcher"),
		broker:  brokerage,
		bus:     bus,
		results: results,
		epics:   epics,
	}
}

// Run drains the brokerage's event channel until ctx is cancelled or the
// channel closes.
func (d *Dispatcher) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case streamEvent, ok := <-d.broker.Events():
			if !ok {
				return nil
			}
			d.handleStreamEvent(ctx, streamEvent)
		}
	}
}

type queueItem struct {
	epic  string
	event decider.Event
}

func (d *Dispatcher) handleStreamEvent(ctx context.Context, streamEvent broker.StreamEvent) {
	switch e := streamEvent.(type) {
	case broker.MarketStreamEvent:
		d.handleMarket(ctx, e.Update)
	case broker.TradeConfirmationStreamEvent:
		d.handleConfirmation(ctx, e.Update)
	case broker.OpenPositionStreamEvent:
		d.handlePosition(ctx, e.Update)
	case broker.AccountStreamEvent:
		d.account.update(e.Update)
		d.bus.Publish(d.account.view())
	case broker.ConnectionStreamEvent:
		d.bus.Publish(view.ConnectionView{StreamStatus: e.Status})
	case broker.AtrStreamEvent:
		d.logger.Debug("atr refresh requested by broker stream, handled by atrsched instead", zap.String("epic", e.Epic))
	case broker.QuitSystemStreamEvent:
		d.logger.Warn("quit system requested", zap.String("epic", e.Epic))
	case broker.WorkingOrderStreamEvent:
		d.logger.Debug("ignoring raw working order stream event", zap.String("deal_reference", e.DealReference))
	default:
		d.logger.Debug("unrecognized stream event", zap.Any("event", streamEvent))
	}
}

func (d *Dispatcher) handleMarket(ctx context.Context, update broker.MarketUpdatePayload) {
	es, ok := d.epics[update.Epic]
	if !ok {
		d.logger.Error("market update for unknown epic", zap.String("epic", update.Epic))
		return
	}

	var marketState *cache.MarketState
	if update.MarketState != nil {
		ms := cache.MarketState(*update.MarketState)
		marketState = &ms
	}
	event, ok := es.marketCache.Update(cache.MarketUpdate{
		Epic:        update.Epic,
		Bid:         update.Bid,
		Offer:       update.Offer,
		MarketDelay: update.MarketDelay,
		MarketState: marketState,
		UpdateTime:  update.UpdateTime,
	})

	d.bus.Publish(view.MarketView{
		Epic:        es.marketCache.Epic,
		Bid:         es.marketCache.Bid,
		Ask:         es.marketCache.Ask,
		MarketDelay: es.marketCache.MarketDelay,
		MarketState: marketStatePtr(es.marketCache.MarketState),
		UpdateTime:  updateTimePtr(es.marketCache.UpdateTime),
	})

	if ok {
		d.drain(ctx, queueItem{epic: update.Epic, event: event})
	}
}

func marketStatePtr(ms *cache.MarketState) *string {
	if ms == nil {
		return nil
	}
	s := string(*ms)
	return &s
}

func updateTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func (d *Dispatcher) handleConfirmation(ctx context.Context, update broker.TradeConfirmationPayload) {
	es, ok := d.epics[update.Epic]
	if !ok {
		d.logger.Error("confirmation for unknown epic", zap.String("epic", update.Epic))
		return
	}
	var status *cache.ConfirmStatus
	if update.Status != nil {
		cs := cache.ConfirmStatus(*update.Status)
		status = &cs
	}
	epic, event, ok := es.confirmCache.Update(cache.TradeConfirmationUpdate{
		Epic:          update.Epic,
		Level:         update.Level,
		Status:        status,
		DealStatus:    cache.DealStatus(update.DealStatus),
		DealID:        update.DealID,
		DealReference: coreReference(update.DealReference),
		Reason:        update.Reason,
	})
	if ok {
		d.drain(ctx, queueItem{epic: epic, event: event})
	}
}

func (d *Dispatcher) handlePosition(ctx context.Context, update broker.OpenPositionPayload) {
	es, ok := d.epics[update.Epic]
	if !ok {
		d.logger.Error("position update for unknown epic", zap.String("epic", update.Epic))
		return
	}
	epic, event, ok := es.positionCache.Update(cache.OpenPositionUpdate{
		Epic:          update.Epic,
		Level:         update.Level,
		Status:        cache.PositionStatus(update.Status),
		DealStatus:    cache.DealStatus(update.DealStatus),
		DealReference: coreReference(update.DealReference),
	})
	if ok {
		d.drain(ctx, queueItem{epic: epic, event: event})
	}
}

// coreReference turns a wire deal reference ("<id>MYREF<epic>") into the
// bare OrderReference tag the caches parse. Anything that does not decode
// is passed through unchanged, so the caches drop it as a manual trade.
func coreReference(wire string) string {
	if reference, ok := broker.DecodeDealReference(wire); ok {
		return string(reference)
	}
	return wire
}

// drain runs the FIFO drain loop seeded with one core event, executing
// every command it produces (which may enqueue further events) until the
// queue empties. Matches SPEC_FULL.md §4.5 exactly.
func (d *Dispatcher) drain(ctx context.Context, seed queueItem) {
	queue := []queueItem{seed}
	queueDepth.WithLabelValues(seed.epic).Set(float64(len(queue)))

	for len(queue) > 0 {
		item := queue[0]
		queue = queue[1:]

		es, ok := d.epics[item.epic]
		if !ok {
			d.logger.Warn("unable to update system for unknown epic", zap.String("epic", item.epic))
			continue
		}

		eventsTotal.WithLabelValues(item.epic, eventKind(item.event)).Inc()
		commands := es.system.Step(item.event)

		for _, command := range commands {
			commandsTotal.WithLabelValues(item.epic, commandKind(command)).Inc()
			queue = append(queue, d.execute(ctx, item.epic, es, command)...)
			d.publishSystemView(item.epic, es)
		}

		// A step that produced zero commands still publishes once, so a
		// silent state transition (e.g. AwaitData accepting the opening
		// range) still reaches the view layer.
		if len(commands) == 0 {
			d.publishSystemView(item.epic, es)
		}
		workingOrders.WithLabelValues(item.epic).Set(float64(len(es.system.Orders.View())))
	}
}

func (d *Dispatcher) execute(ctx context.Context, epic string, es *epicState, command decider.Command) []queueItem {
	switch c := command.(type) {
	case decider.FetchDataCommand:
		bars, err := d.broker.FetchData(ctx, c.Epic, c.Start, c.Duration)
		if err != nil {
			d.logger.Error("fetch data failed", zap.String("epic", epic), zap.Error(err))
			return []queueItem{{epic: epic, event: decider.ErrorEvent{Reason: err.Error()}}}
		}
		return []queueItem{{epic: epic, event: decider.DataEvent{Prices: bars}}}

	case decider.CreateWorkingOrderCommand:
		err := d.broker.OpenWorkingOrder(ctx, c.Direction, c.Price, c.Reference, c.MarketInfo, c.TargetDistance, c.StopDistance)
		if err != nil {
			d.logger.Error("open working order failed", zap.String("epic", epic), zap.Error(err))
			return []queueItem{{epic: epic, event: decider.ErrorEvent{Reason: err.Error()}}}
		}
		return nil

	case decider.UpdatePositionCommand:
		err := d.broker.EditPosition(ctx, c.DealID, c.StopLevel, c.TrailingStopDistance, c.TargetLevel)
		if err != nil {
			// The position may already have closed by the time this lands;
			// that's not fatal, just log and move on.
			d.logger.Warn("update position failed, ignoring", zap.String("epic", epic), zap.Error(err))
		}
		return nil

	case decider.CancelWorkingOrderCommand:
		dealID, ok := es.confirmCache.DealID(c.ReferenceToCancel)
		if !ok {
			d.logger.Debug("unable to find deal id for reference", zap.String("epic", epic), zap.Any("reference", c.ReferenceToCancel))
			return nil
		}
		if err := d.broker.DeleteWorkingOrder(ctx, dealID); err != nil {
			d.logger.Error("cancel working order failed", zap.String("epic", epic), zap.Error(err))
			return []queueItem{{epic: epic, event: decider.ErrorEvent{Reason: err.Error()}}}
		}
		return nil

	case decider.PublishTradeResultsCommand:
		if err := d.results.Write(c.Result); err != nil {
			d.logger.Error("failed to write trade result", zap.String("epic", epic), zap.Error(err))
		}
		d.bus.Publish(view.TradeResultView{
			WantedEntryLevel: c.Result.WantedEntryLevel,
			ActualEntryLevel: c.Result.ActualEntryLevel,
			EntryTime:        c.Result.EntryTime.String(),
			ExitTime:         c.Result.ExitTime.String(),
			ExitLevel:        c.Result.ExitLevel,
			Reference:        string(c.Result.Reference),
			Epic:             c.Result.Epic,
		})
		return []queueItem{{epic: epic, event: decider.PositionExitEvent{Reference: c.Result.Reference}}}

	case decider.RestartCommand:
		return []queueItem{{epic: epic, event: decider.WOCancelEvent{Reference: c.Reference}}}

	case decider.FatalFailureCommand:
		fatalTotal.WithLabelValues(epic).Inc()
		d.logger.Error("fatal failure", zap.String("epic", epic), zap.String("reason", c.Reason))
		return nil

	default:
		d.logger.Warn("unrecognized command", zap.String("epic", epic), zap.Any("command", command))
		return nil
	}
}

func (d *Dispatcher) publishSystemView(epic string, es *epicState) {
	orders := es.system.Orders.View()
	orderViews := make([]view.OrderView, 0, len(orders))
	for _, o := range orders {
		orderViews = append(orderViews, view.OrderView{Reference: string(o.Reference), State: string(o.State)})
	}

	systemView := view.SystemView{
		State:  string(es.system.State),
		Epic:   epic,
		Orders: orderViews,
	}
	if es.system.State == decider.DecideOrderPlacement || es.system.State == decider.ManageOrders {
		rng := es.system.OpeningRange
		systemView.OpeningRangeHighAsk = &rng.HighAsk
		systemView.OpeningRangeHighBid = &rng.HighBid
		systemView.OpeningRangeLowAsk = &rng.LowAsk
		systemView.OpeningRangeLowBid = &rng.LowBid
	}
	d.bus.Publish(systemView)
}

func eventKind(event decider.Event) string {
	switch event.(type) {
	case decider.MarketEvent:
		return "Market"
	case decider.DataEvent:
		return "Data"
	case decider.OrderNotification:
		return "OrderNotification"
	case decider.PositionExitEvent:
		return "PositionExit"
	case decider.WOCancelEvent:
		return "WOCancel"
	case decider.ErrorEvent:
		return "Error"
	default:
		return fmt.Sprintf("%T", event)
	}
}

func commandKind(command decider.Command) string {
	switch command.(type) {
	case decider.FetchDataCommand:
		return "FetchData"
	case decider.CreateWorkingOrderCommand:
		return "CreateWorkingOrder"
	case decider.CancelWorkingOrderCommand:
		return "CancelWorkingOrder"
	case decider.UpdatePositionCommand:
		return "UpdatePosition"
	case decider.PublishTradeResultsCommand:
		return "PublishTradeResults"
	case decider.RestartCommand:
		return "Restart"
	case decider.FatalFailureCommand:
		return "FatalFailure"
	default:
		return fmt.Sprintf("%T", command)
	}
}
