// Package decider holds the two-level opening-range breakout decision
// machine: System sequences an instrument's trading day, WorkingOrder
// tracks a single order from submission through exit. Both are pure —
// step(state, event) -> (state, []Command) — and never perform I/O; the
// dispatcher package is the only thing that talks to a broker.
package decider

import (
	"time"

	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// OrderEvent is the closed set of broker-confirmation notifications a
// WorkingOrder reacts to.
type OrderEvent interface {
	isOrderEvent()
}

type ConfirmationOpenAccepted struct {
	Level  float64
	DealID string
}

type ConfirmationDeleteAccepted struct{}

type ConfirmationAmendedAccepted struct{}

type ConfirmationRejection struct{}

type PositionEntry struct {
	EntryLevel float64
}

type PositionExit struct {
	ExitLevel float64
}

func (ConfirmationOpenAccepted) isOrderEvent()    {}
func (ConfirmationDeleteAccepted) isOrderEvent()  {}
func (ConfirmationAmendedAccepted) isOrderEvent() {}
func (ConfirmationRejection) isOrderEvent()       {}
func (PositionEntry) isOrderEvent()               {}
func (PositionExit) isOrderEvent()                {}

// Event is the closed set of inputs the System and WorkingOrder machines
// consume.
type Event interface {
	isEvent()
}

// MarketEvent carries a fully-resolved tick: both caches and the core agree
// this only exists once bid/ask/delay/state have all been observed.
type MarketEvent struct {
	Epic       string
	UpdateTime time.Time
	Bid        float64
	Ask        float64
}

// DataEvent answers a FetchDataCommand with the opening-range bars.
type DataEvent struct {
	Prices []types.OhlcBar
}

// OrderNotification routes a broker confirmation to the one WorkingOrder
// it concerns.
type OrderNotification struct {
	Order     OrderEvent
	Reference types.OrderReference
}

// PositionExitEvent is synthesized by the dispatcher once a
// PublishTradeResultsCommand has been executed, driving the System back to
// DecideOrderPlacement.
type PositionExitEvent struct {
	Reference types.OrderReference
}

// WOCancelEvent is synthesized by the dispatcher from a RestartCommand.
type WOCancelEvent struct {
	Reference types.OrderReference
}

// ErrorEvent is fatal: it drives the instrument's System into its Error
// terminal state.
type ErrorEvent struct {
	Reason string
}

func (MarketEvent) isEvent()       {}
func (DataEvent) isEvent()         {}
func (OrderNotification) isEvent() {}
func (PositionExitEvent) isEvent() {}
func (WOCancelEvent) isEvent()     {}
func (ErrorEvent) isEvent()        {}

// Command is the closed set of outputs a machine step can produce. The
// dispatcher is the only thing that executes these.
type Command interface {
	isCommand()
}

type FetchDataCommand struct {
	Epic     string
	Start    time.Time
	Duration time.Duration
}

type CreateWorkingOrderCommand struct {
	Direction      types.Direction
	Price          float64
	Reference      types.OrderReference
	MarketInfo     types.MarketInfo
	TargetDistance float64
	StopDistance   float64
}

type CancelWorkingOrderCommand struct {
	Epic              string
	ReferenceToCancel types.OrderReference
}

type UpdatePositionCommand struct {
	Epic                 string
	DealID               string
	StopLevel            float64
	TrailingStopDistance float64
	TargetLevel          float64
	Reference            types.OrderReference
}

type PublishTradeResultsCommand struct {
	Result types.TradeResult
}

// RestartCommand asks the dispatcher to cancel the rejected order's
// OrderBook entry and push the System back toward DecideOrderPlacement.
type RestartCommand struct {
	Reference types.OrderReference
}

type FatalFailureCommand struct {
	Reason string
}

func (FetchDataCommand) isCommand()          {}
func (CreateWorkingOrderCommand) isCommand() {}
func (CancelWorkingOrderCommand) isCommand() {}
func (UpdatePositionCommand) isCommand()     {}
func (PublishTradeResultsCommand) isCommand() {}
func (RestartCommand) isCommand()            {}
func (FatalFailureCommand) isCommand()       {}
