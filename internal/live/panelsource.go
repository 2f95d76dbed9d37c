package live

import (
	"fmt"
	"os"

	"github.com/aristath/rstarengine/internal/panel"
	"github.com/vmihailenco/msgpack/v5"
)

// panelDump mirrors cmd/backtest's on-disk panel encoding: a monthly
// index plus every named raw/ret column, aligned the way
// internal/panel.New expects.
type panelDump struct {
	Months  []int
	Columns map[string][]float64
}

// FilePanelSource reads a msgpack-encoded panel dump from disk and hands
// it to the engine as-is, deciding the next month to step at as one past
// the last month the dump carries data for. Refreshing the dump itself
// (pulling the latest vendor data into it) is the surrounding
// deployment's job — building that from live DataSources is explicitly
// out of scope here, the same boundary cmd/backtest draws.
type FilePanelSource struct {
	path string
}

// NewFilePanelSource wraps path as a PanelSource.
func NewFilePanelSource(path string) *FilePanelSource {
	return &FilePanelSource{path: path}
}

// Latest loads the panel dump at path and returns it alongside the next
// decision month: one past the last month present in the dump, since
// Step(t, ...) reads the panel only as of t-1.
func (s *FilePanelSource) Latest() (*panel.Panel, int, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return nil, 0, fmt.Errorf("live: read panel dump: %w", err)
	}
	var dump panelDump
	if err := msgpack.Unmarshal(data, &dump); err != nil {
		return nil, 0, fmt.Errorf("live: decode panel dump: %w", err)
	}
	raw, err := panel.New(dump.Months, dump.Columns)
	if err != nil {
		return nil, 0, fmt.Errorf("live: build panel: %w", err)
	}
	months := raw.Months()
	if len(months) == 0 {
		return nil, 0, fmt.Errorf("live: panel dump has no months")
	}
	lastMonth := months[0]
	for _, m := range months {
		if m > lastMonth {
			lastMonth = m
		}
	}
	return raw, lastMonth + 1, nil
}
