package decider_test

import (
	"testing"
	"time"

	"github.com/atlas-desktop/orb-trader/internal/decider"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

func baseMarketInfo() types.MarketInfo {
	return types.MarketInfo{
		Epic:              "CS.D.TEST.TODAY.IP",
		BarsInOpeningRange: 1,
		MinStop:           1.0,
		MaxStopMultiplier: 10.0,
		LotSize:           1,
		UtcOpenTime:       time.Date(2026, 7, 30, 7, 0, 0, 0, time.UTC),
		UtcCloseTime:      time.Date(2026, 7, 30, 12, 0, 0, 0, time.UTC),
	}
}

func baseOpeningRange() types.OpeningRange {
	return types.OpeningRange{HighAsk: 100, HighBid: 98, LowAsk: 70, LowBid: 68}
}

func TestWorkingOrder_OpenAcceptedThenFilled(t *testing.T) {
	wo := decider.NewWorkingOrder(baseMarketInfo(), baseOpeningRange(), types.OverLong)

	wo, cmds := wo.Step(decider.OrderNotification{
		Order:     decider.ConfirmationOpenAccepted{Level: 102, DealID: "D1"},
		Reference: types.OverLong,
	})
	if wo.State != decider.OpenAccepted {
		t.Fatalf("expected OpenAccepted, got %s", wo.State)
	}
	if len(cmds) != 0 {
		t.Fatalf("expected no commands, got %v", cmds)
	}

	wo, cmds = wo.Step(decider.OrderNotification{
		Order:     decider.PositionEntry{EntryLevel: 102},
		Reference: types.OverLong,
	})
	if wo.State != decider.PositionOpened {
		t.Fatalf("expected PositionOpened, got %s", wo.State)
	}
	if len(cmds) != 0 {
		t.Fatalf("OverLong fill should not cancel anything, got %v", cmds)
	}
}

func TestWorkingOrder_BetweenLongFillCancelsBetweenShort(t *testing.T) {
	wo := decider.NewWorkingOrder(baseMarketInfo(), baseOpeningRange(), types.BetweenLong)
	wo, _ = wo.Step(decider.OrderNotification{
		Order:     decider.ConfirmationOpenAccepted{Level: 71, DealID: "D2"},
		Reference: types.BetweenLong,
	})
	_, cmds := wo.Step(decider.OrderNotification{
		Order:     decider.PositionEntry{EntryLevel: 71},
		Reference: types.BetweenLong,
	})
	if len(cmds) != 1 {
		t.Fatalf("expected exactly one cancel command, got %v", cmds)
	}
	cancel, ok := cmds[0].(decider.CancelWorkingOrderCommand)
	if !ok || cancel.ReferenceToCancel != types.BetweenShort {
		t.Fatalf("expected cancel of BetweenShort, got %#v", cmds[0])
	}
}

func TestWorkingOrder_OpenRejectionOnBetweenLongCancelsOtherSideAndRestarts(t *testing.T) {
	wo := decider.NewWorkingOrder(baseMarketInfo(), baseOpeningRange(), types.BetweenLong)
	_, cmds := wo.Step(decider.OrderNotification{
		Order:     decider.ConfirmationRejection{},
		Reference: types.BetweenLong,
	})
	if len(cmds) != 2 {
		t.Fatalf("expected cancel + restart, got %v", cmds)
	}
	cancel, ok := cmds[0].(decider.CancelWorkingOrderCommand)
	if !ok || cancel.ReferenceToCancel != types.BetweenShort {
		t.Fatalf("expected cancel of BetweenShort first, got %#v", cmds[0])
	}
	restart, ok := cmds[1].(decider.RestartCommand)
	if !ok || restart.Reference != types.BetweenLong {
		t.Fatalf("expected restart of BetweenLong, got %#v", cmds[1])
	}
}

func TestWorkingOrder_ExitPublishesResultExactlyOnce(t *testing.T) {
	wo := decider.NewWorkingOrder(baseMarketInfo(), baseOpeningRange(), types.OverLong)
	wo, _ = wo.Step(decider.OrderNotification{Order: decider.ConfirmationOpenAccepted{Level: 102, DealID: "D1"}, Reference: types.OverLong})
	wo, _ = wo.Step(decider.OrderNotification{Order: decider.PositionEntry{EntryLevel: 102}, Reference: types.OverLong})

	wo, cmds := wo.Step(decider.OrderNotification{Order: decider.PositionExit{ExitLevel: 112}, Reference: types.OverLong})
	if wo.State != decider.PositionExited {
		t.Fatalf("expected PositionExited, got %s", wo.State)
	}
	if len(cmds) != 1 {
		t.Fatalf("expected exactly one PublishTradeResults command, got %v", cmds)
	}
	publish, ok := cmds[0].(decider.PublishTradeResultsCommand)
	if !ok {
		t.Fatalf("expected PublishTradeResultsCommand, got %#v", cmds[0])
	}
	if publish.Result.OneR != baseOpeningRange().RangeSize()/types.OpeningRangeMultiplier {
		t.Fatalf("unexpected one_r: %v", publish.Result.OneR)
	}

	// Once exited the order no longer reacts to further events (P3: total, no panic).
	wo2, cmds2 := wo.Step(decider.OrderNotification{Order: decider.PositionExit{ExitLevel: 999}, Reference: types.OverLong})
	if wo2.State != decider.PositionExited || len(cmds2) != 0 {
		t.Fatalf("expected no-op after terminal state, got state=%s cmds=%v", wo2.State, cmds2)
	}
}

func TestWorkingOrder_UnrecognizedEventIsNoOp(t *testing.T) {
	wo := decider.NewWorkingOrder(baseMarketInfo(), baseOpeningRange(), types.OverLong)
	next, cmds := wo.Step(decider.MarketEvent{Bid: 1, Ask: 2})
	if next.State != decider.AwaitingOpen || len(cmds) != 0 {
		t.Fatalf("expected no-op on unrelated event, got state=%s cmds=%v", next.State, cmds)
	}
}
