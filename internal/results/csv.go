// Package results persists finished trades to a daily CSV file. Grounded
// on original_source/bfg-ig/src/file_writer.rs's write_results_to_file:
// one file per UTC calendar day, header written only the first time a
// day's file is created, rows appended after.
package results

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/atlas-desktop/orb-trader/pkg/types"
)

var header = []string{
	"epic", "size", "reference", "wanted_entry_level", "entry_time",
	"actual_entry_level", "exit_time", "exit_level", "opening_range_size",
	"strategy_version", "one_r",
}

// CsvSink appends TradeResults to "<dir>/<YYYY-MM-DD>.csv", one file per
// UTC day. Safe for concurrent use; the dispatcher writes every epic's
// results to one shared sink.
type CsvSink struct {
	dir string
	mu  sync.Mutex
}

// NewCsvSink ensures dir exists and returns a sink rooted there.
func NewCsvSink(dir string) (*CsvSink, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("results: create directory: %w", err)
	}
	return &CsvSink{dir: dir}, nil
}

// Write appends one row, creating today's file (with header) if it
// doesn't exist yet.
func (s *CsvSink) Write(result types.TradeResult) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	path := filepath.Join(s.dir, time.Now().UTC().Format("2006-01-02")+".csv")
	writeHeader := false
	if _, err := os.Stat(path); os.IsNotExist(err) {
		writeHeader = true
	}

	file, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("results: open %s: %w", path, err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	writer.UseCRLF = true
	if writeHeader {
		if err := writer.Write(header); err != nil {
			return fmt.Errorf("results: write header: %w", err)
		}
	}
	if err := writer.Write(row(result)); err != nil {
		return fmt.Errorf("results: write row: %w", err)
	}
	writer.Flush()
	return writer.Error()
}

func row(result types.TradeResult) []string {
	return []string{
		result.Epic,
		fmt.Sprintf("%v", result.Size),
		string(result.Reference),
		fmt.Sprintf("%.1f", result.WantedEntryLevel),
		result.EntryTime.String(),
		fmt.Sprintf("%.1f", result.ActualEntryLevel),
		result.ExitTime.String(),
		fmt.Sprintf("%.1f", result.ExitLevel),
		fmt.Sprintf("%v", result.OpeningRangeSize),
		fmt.Sprintf("%v", result.StrategyVersion),
		fmt.Sprintf("%v", result.OneR),
	}
}
