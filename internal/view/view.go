// Package view defines the read-only snapshot types the dispatcher
// publishes after each step, and a small pub/sub bus (adapted from the
// teacher's internal/events event bus: a buffered channel plus a fixed
// worker pool) that fans them out to the API layer's websocket hub.
package view

import (
	"context"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Update is the closed set of snapshots the dispatcher ever publishes.
type Update interface {
	isUpdate()
}

type MarketView struct {
	Epic        string
	Bid         *float64
	Ask         *float64
	MarketDelay *int
	MarketState *string
	UpdateTime  *string
}

type OrderView struct {
	Reference string
	State     string
}

type SystemView struct {
	State               string
	Epic                string
	OpeningRangeHighAsk *float64
	OpeningRangeHighBid *float64
	OpeningRangeLowAsk  *float64
	OpeningRangeLowBid  *float64
	Orders              []OrderView
}

// AccountView reports money fields as decimal.Decimal rather than float64:
// this is the layer that renders to the UI and to logs, where binary
// float rounding in a displayed P&L figure is the kind of thing a trader
// notices.
type AccountView struct {
	Account         string
	Pnl             *decimal.Decimal
	Deposit         *decimal.Decimal
	AvailableCash   *decimal.Decimal
	Funds           *decimal.Decimal
	Margin          *decimal.Decimal
	AvailableToDeal *decimal.Decimal
	Equity          *decimal.Decimal
	EquityUsed      *decimal.Decimal
}

type TradeResultView struct {
	WantedEntryLevel float64
	ActualEntryLevel float64
	EntryTime        string
	ExitTime         string
	ExitLevel        float64
	Reference        string
	Epic             string
}

type ConnectionView struct {
	StreamStatus string
}

// AtrView carries the ATR gauge value as a decimal.Decimal, matching the
// same rounding-fidelity reasoning as AccountView.
type AtrView struct {
	Epic string
	Atr  decimal.Decimal
}

func (MarketView) isUpdate()      {}
func (SystemView) isUpdate()      {}
func (AccountView) isUpdate()     {}
func (TradeResultView) isUpdate() {}
func (ConnectionView) isUpdate()  {}
func (AtrView) isUpdate()         {}

// Handler receives every published Update routed to its subscription.
type Handler func(update Update)

// Subscription is the handle returned by Subscribe/SubscribeAll, used to
// Unsubscribe later.
type Subscription struct {
	id      string
	handler Handler
}

// Bus fans published updates out to subscribers on a fixed worker pool,
// matching the teacher's event bus sizing defaults.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[string]*Subscription

	snapshotMu sync.RWMutex
	snapshots  map[string]Update // keyed by snapshotKey(update)

	updates chan Update
	wg      sync.WaitGroup
	cancel  context.CancelFunc
}

// DefaultBufferSize mirrors a sane fraction of the teacher's 100K default,
// scaled down since this bus carries per-epic snapshots, not tick data.
const DefaultBufferSize = 4096

// DefaultWorkers is the fan-out worker pool size.
const DefaultWorkers = 4

// NewBus starts the worker pool; call Close to stop it.
func NewBus(ctx context.Context) *Bus {
	ctx, cancel := context.WithCancel(ctx)
	b := &Bus{
		subscribers: make(map[string]*Subscription),
		snapshots:   make(map[string]Update),
		updates:     make(chan Update, DefaultBufferSize),
		cancel:      cancel,
	}
	for i := 0; i < DefaultWorkers; i++ {
		b.wg.Add(1)
		go b.worker(ctx)
	}
	return b
}

func (b *Bus) worker(ctx context.Context) {
	defer b.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-b.updates:
			b.dispatch(update)
		}
	}
}

func (b *Bus) dispatch(update Update) {
	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.subscribers))
	for _, sub := range b.subscribers {
		handlers = append(handlers, sub.handler)
	}
	b.mu.RUnlock()
	for _, handler := range handlers {
		handler(update)
	}
}

// Subscribe registers a handler invoked for every published Update.
func (b *Bus) Subscribe(handler Handler) *Subscription {
	sub := &Subscription{id: uuid.NewString(), handler: handler}
	b.mu.Lock()
	b.subscribers[sub.id] = sub
	b.mu.Unlock()
	return sub
}

// Unsubscribe removes a subscription.
func (b *Bus) Unsubscribe(sub *Subscription) {
	b.mu.Lock()
	delete(b.subscribers, sub.id)
	b.mu.Unlock()
}

// Publish enqueues an update for delivery; it never blocks the caller
// beyond the channel's buffer, matching the dispatcher's requirement that
// view publication never slow down the drain loop. It also records the
// update as the latest snapshot under its key, for synchronous REST reads.
func (b *Bus) Publish(update Update) {
	b.snapshotMu.Lock()
	b.snapshots[snapshotKey(update)] = update
	b.snapshotMu.Unlock()

	select {
	case b.updates <- update:
	default:
		// Buffer full: drop rather than block the drain loop. A slow UI
		// consumer should never back-pressure trading decisions.
	}
}

// snapshotKey derives the snapshot map key for an update. Per-epic views
// key on "<kind>:<epic>"; the epic-less views use a fixed singleton key.
func snapshotKey(update Update) string {
	switch u := update.(type) {
	case MarketView:
		return "market:" + u.Epic
	case SystemView:
		return "system:" + u.Epic
	case TradeResultView:
		return "trade_result:" + u.Epic
	case AtrView:
		return "atr:" + u.Epic
	case AccountView:
		return "account"
	case ConnectionView:
		return "connection"
	default:
		return ""
	}
}

// Snapshot returns the most recently published update for key, if any.
// Keys follow snapshotKey: "market:<epic>", "system:<epic>",
// "trade_result:<epic>", "atr:<epic>", "account", "connection".
func (b *Bus) Snapshot(key string) (Update, bool) {
	b.snapshotMu.RLock()
	defer b.snapshotMu.RUnlock()
	u, ok := b.snapshots[key]
	return u, ok
}

// SnapshotsWithPrefix returns every stored snapshot whose key has the
// given prefix, e.g. "system:" to list every tracked instrument's state.
func (b *Bus) SnapshotsWithPrefix(prefix string) []Update {
	b.snapshotMu.RLock()
	defer b.snapshotMu.RUnlock()
	out := make([]Update, 0, len(b.snapshots))
	for k, u := range b.snapshots {
		if strings.HasPrefix(k, prefix) {
			out = append(out, u)
		}
	}
	return out
}

// Close stops the worker pool and waits for in-flight dispatches to drain.
func (b *Bus) Close() {
	b.cancel()
	b.wg.Wait()
}
