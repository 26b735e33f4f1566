package atrsched_test

import (
	"math"
	"testing"

	"github.com/atlas-desktop/orb-trader/internal/atrsched"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

func askBar(high, low, close float64) types.OhlcBar {
	return types.OhlcBar{
		High:  types.Price{Ask: high},
		Low:   types.Price{Ask: low},
		Close: types.Price{Ask: close},
	}
}

func TestCalculate_Empty(t *testing.T) {
	if got := atrsched.Calculate(nil); got != 0 {
		t.Fatalf("expected 0 for an empty series, got %v", got)
	}
}

func TestCalculate_SeedIsMeanOfFirstPeriodTrueRanges(t *testing.T) {
	bars := []types.OhlcBar{
		askBar(110, 100, 105),
		askBar(112, 104, 108),
		askBar(109, 103, 106),
		askBar(111, 105, 107),
		askBar(113, 106, 110),
	}
	want := (10.0 + 8.0 + 6.0 + 6.0 + 7.0) / 5
	got := atrsched.Calculate(bars)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected seed atr %v, got %v", want, got)
	}
}

func TestCalculate_SmoothsSubsequentBars(t *testing.T) {
	bars := []types.OhlcBar{
		askBar(110, 100, 105),
		askBar(112, 104, 108),
		askBar(109, 103, 106),
		askBar(111, 105, 107),
		askBar(113, 106, 110),
		askBar(120, 108, 118),
	}
	seed := atrsched.Calculate(bars[:5])
	trueRange6 := math.Max(120-108, math.Max(math.Abs(120-110), math.Abs(108-110)))
	want := (seed*float64(atrsched.Period-1) + trueRange6) / float64(atrsched.Period)
	got := atrsched.Calculate(bars)
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected smoothed atr %v, got %v", want, got)
	}
}

func TestCalculate_ShortSeriesIsBestEffort(t *testing.T) {
	bars := []types.OhlcBar{askBar(110, 100, 105), askBar(112, 104, 108)}
	got := atrsched.Calculate(bars)
	want := ((110 - 100) + math.Max(112-104, math.Abs(112-105))) / 2
	if math.Abs(got-want) > 1e-9 {
		t.Fatalf("expected best-effort atr %v, got %v", want, got)
	}
}
