// Package atrsched periodically refreshes a view-only 5-period Wilder ATR
// per instrument. Grounded on original_source/bfg-ig/src/lib.rs's
// calculate_atr and its AtrEvent scheduling (schedule_atr_update).
package atrsched

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/atlas-desktop/orb-trader/internal/broker"
	"github.com/atlas-desktop/orb-trader/internal/view"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

// Period is the Wilder smoothing window. Fixed; the original never made
// this configurable.
const Period = 5

const (
	refreshInterval = 30 * time.Minute
	lookback        = 15 * time.Minute
	startOffset     = 15 * time.Minute
	endMargin       = 5 * time.Minute
)

// Scheduler ticks one AtrRefresh per instrument on its own goroutine,
// started by Run and stopped when ctx is cancelled.
type Scheduler struct {
	logger  *zap.Logger
	broker  broker.Brokerage
	bus     *view.Bus
	markets []types.MarketInfo
}

// New builds a Scheduler over the given instruments.
func New(logger *zap.Logger, brokerage broker.Brokerage, bus *view.Bus, markets []types.MarketInfo) *Scheduler {
	return &Scheduler{logger: logger.Named("atrsched"), broker: brokerage, bus: bus, markets: markets}
}

// Run starts one ticking goroutine per instrument and blocks until ctx is
// cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, market := range s.markets {
		go s.runOne(ctx, market, time.Now)
	}
	<-ctx.Done()
	return ctx.Err()
}

// runOne drives a single instrument's schedule. nowFn is injected so tests
// can control elapsed time without sleeping.
func (s *Scheduler) runOne(ctx context.Context, market types.MarketInfo, nowFn func() time.Time) {
	start := market.UtcOpenTime.Add(startOffset)
	end := market.UtcCloseTime.Add(-endMargin)
	if nowFn().After(end) {
		s.logger.Info("market already past close, skipping atr schedule", zap.String("epic", market.Epic))
		return
	}

	initialDelay := start.Sub(nowFn())
	if initialDelay < 0 {
		initialDelay = 0
	}

	timer := time.NewTimer(initialDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if nowFn().After(end) {
			return
		}

		s.tick(ctx, market, nowFn())
		timer.Reset(refreshInterval)
	}
}

func (s *Scheduler) tick(ctx context.Context, market types.MarketInfo, now time.Time) {
	start := now.Add(-lookback)
	bars, err := s.broker.FetchData(ctx, market.Epic, start, lookback)
	if err != nil {
		s.logger.Warn("atr fetch data failed", zap.String("epic", market.Epic), zap.Error(err))
		return
	}
	if len(bars) < Period {
		s.logger.Warn("fewer bars than the atr period, computing a best-effort value",
			zap.String("epic", market.Epic), zap.Int("bars", len(bars)))
	}

	atr := Calculate(bars)
	atrGauge.WithLabelValues(market.Epic).Set(atr)
	s.bus.Publish(view.AtrView{Epic: market.Epic, Atr: decimal.NewFromFloat(atr)})
}

// Calculate computes the 5-period Wilder ATR over a bar series's ask-side
// high/low/close, per SPEC_FULL.md §4.6. Returns 0 for an empty series.
func Calculate(bars []types.OhlcBar) float64 {
	if len(bars) == 0 {
		return 0
	}

	trueRanges := make([]float64, len(bars))
	trueRanges[0] = bars[0].High.Ask - bars[0].Low.Ask
	for i := 1; i < len(bars); i++ {
		high, low := bars[i].High.Ask, bars[i].Low.Ask
		prevClose := bars[i-1].Close.Ask
		trueRanges[i] = max3(high-low, abs(high-prevClose), abs(low-prevClose))
	}

	seed := Period
	if seed > len(trueRanges) {
		seed = len(trueRanges)
	}

	var atr float64
	for i := 0; i < seed; i++ {
		atr += trueRanges[i]
	}
	atr /= float64(seed)

	for i := seed; i < len(trueRanges); i++ {
		atr = (atr*float64(Period-1) + trueRanges[i]) / float64(Period)
	}
	return atr
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func max3(a, b, c float64) float64 {
	m := a
	if b > m {
		m = b
	}
	if c > m {
		m = c
	}
	return m
}
