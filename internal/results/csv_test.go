package results_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/atlas-desktop/orb-trader/internal/results"
	"github.com/atlas-desktop/orb-trader/pkg/types"
)

func TestCsvSink_HeaderWrittenExactlyOnce(t *testing.T) {
	dir := t.TempDir()
	sink, err := results.NewCsvSink(dir)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	tr := types.TradeResult{
		Epic:             "CS.D.EURUSD.CFD.IP",
		Size:             1,
		Reference:        types.OverLong,
		WantedEntryLevel: 1.2345,
		ActualEntryLevel: 1.2346,
		EntryTime:        time.Date(2026, 7, 30, 9, 0, 0, 0, time.UTC),
		ExitTime:         time.Date(2026, 7, 30, 9, 30, 0, 0, time.UTC),
		ExitLevel:        1.2400,
		OpeningRangeSize: 30,
		StrategyVersion:  types.StrategyVersion,
		OneR:             10,
	}

	if err := sink.Write(tr); err != nil {
		t.Fatalf("unexpected error on first write: %v", err)
	}
	if err := sink.Write(tr); err != nil {
		t.Fatalf("unexpected error on second write: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("unexpected error reading dir: %v", err)
	}
	if len(entries) != 1 {
		t.Fatalf("expected exactly one daily file, got %d", len(entries))
	}

	content, err := os.ReadFile(filepath.Join(dir, entries[0].Name()))
	if err != nil {
		t.Fatalf("unexpected error reading file: %v", err)
	}
	lines := strings.Split(strings.TrimRight(string(content), "\r\n"), "\r\n")
	if len(lines) != 3 {
		t.Fatalf("expected header + 2 rows, got %d lines: %q", len(lines), lines)
	}
	if !strings.HasPrefix(lines[0], "epic,size,reference,wanted_entry_level") {
		t.Fatalf("unexpected header: %q", lines[0])
	}
	if strings.Count(string(content), "epic,size,reference") != 1 {
		t.Fatalf("expected header written exactly once, got content: %q", content)
	}
}
