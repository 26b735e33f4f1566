package broker

import (
	"context"
	"time"

	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// Brokerage is the abstract port the dispatcher issues commands against.
// Implementations: Paper (in-process simulator) and Live (resty + gorilla
// websocket adapter). Both are safe for concurrent use; the dispatcher and
// the ATR scheduler call them from different goroutines.
type Brokerage interface {
	FetchData(ctx context.Context, epic string, start time.Time, duration time.Duration) ([]types.OhlcBar, error)
	OpenWorkingOrder(ctx context.Context, direction types.Direction, price float64, reference types.OrderReference, marketInfo types.MarketInfo, targetDistance, stopDistance float64) error
	DeleteWorkingOrder(ctx context.Context, dealID string) error
	EditPosition(ctx context.Context, dealID string, stopLevel, trailingStopDistance, targetLevel float64) error

	// Events returns the adapter's inbound stream. Live closes it when the
	// ctx passed to Run is cancelled; Paper never closes it.
	Events() <-chan StreamEvent
	// Run starts the adapter's background work (connecting, polling,
	// simulating) and blocks until ctx is cancelled.
	Run(ctx context.Context) error
}

// StreamEvent is the closed set of inbound broker notifications, matching
// SPEC_FULL.md §6's inbound stream event list.
type StreamEvent interface {
	isStreamEvent()
}

type MarketStreamEvent struct{ Update MarketUpdatePayload }
type TradeConfirmationStreamEvent struct{ Update TradeConfirmationPayload }
type OpenPositionStreamEvent struct{ Update OpenPositionPayload }
type WorkingOrderStreamEvent struct{ DealReference string }
type AccountStreamEvent struct{ Update AccountUpdatePayload }
type ConnectionStreamEvent struct{ Status string }
type AtrStreamEvent struct{ Epic string }
type QuitSystemStreamEvent struct{ Epic string }

func (MarketStreamEvent) isStreamEvent()            {}
func (TradeConfirmationStreamEvent) isStreamEvent() {}
func (OpenPositionStreamEvent) isStreamEvent()      {}
func (WorkingOrderStreamEvent) isStreamEvent()      {}
func (AccountStreamEvent) isStreamEvent()           {}
func (ConnectionStreamEvent) isStreamEvent()        {}
func (AtrStreamEvent) isStreamEvent()               {}
func (QuitSystemStreamEvent) isStreamEvent()        {}

// MarketUpdatePayload, TradeConfirmationPayload, OpenPositionPayload and
// AccountUpdatePayload are the wire shapes an adapter decodes into before
// handing them to the internal/cache layer. Field names mirror the
// broker-agnostic subset of SPEC_FULL.md §6.
type MarketUpdatePayload struct {
	Epic        string
	Bid         *float64
	Offer       *float64
	MarketDelay *int
	MarketState *string
	UpdateTime  *string
}

type TradeConfirmationPayload struct {
	Epic          string
	Level         *float64
	Status        *string
	DealStatus    string
	DealID        string
	DealReference string
	Reason        string
}

type OpenPositionPayload struct {
	Epic          string
	Level         float64
	Status        string
	DealStatus    string
	DealReference string
}

type AccountUpdatePayload struct {
	Account         string
	Pnl             *float64
	Deposit         *float64
	AvailableCash   *float64
	Funds           *float64
	Margin          *float64
	AvailableToDeal *float64
	Equity          *float64
	EquityUsed      *float64
}
