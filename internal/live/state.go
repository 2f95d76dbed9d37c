package live

import (
	"fmt"
	"os"

	"github.com/aristath/rstarengine/internal/config"
	"github.com/aristath/rstarengine/internal/engine"
	"github.com/vmihailenco/msgpack/v5"
)

// stateDump is the on-disk msgpack encoding of a FileState's persisted
// fields, mirroring cmd/backtest's panelDump convention for this
// package's own wire format.
type stateDump struct {
	Weights      map[config.Instrument]float64
	Drawdown     float64
	RealisedVol  float64
	ICScores     map[config.Instrument]float64
}

// FileState persists a live deployment's step-to-step state (the
// previous allocation plus the realised drawdown/vol/IC inputs §4.12's
// step signature takes externally) to a single msgpack file between
// process restarts, since a live deployment has no in-process equity
// history to derive them from the way the Backtest Harness does.
type FileState struct {
	path string
}

// NewFileState wraps path as a State backed by a msgpack file.
func NewFileState(path string) *FileState {
	return &FileState{path: path}
}

// Load reads the persisted state, or returns zeroed defaults (flat
// weights, zero drawdown/vol/IC) when path does not yet exist — the
// first invocation on a fresh deployment.
func (s *FileState) Load() (map[config.Instrument]float64, float64, float64, map[config.Instrument]float64, error) {
	data, err := os.ReadFile(s.path)
	if os.IsNotExist(err) {
		weights := map[config.Instrument]float64{}
		ic := map[config.Instrument]float64{}
		for _, inst := range config.Instruments {
			weights[inst] = 0
			ic[inst] = 0
		}
		return weights, 0, 0, ic, nil
	}
	if err != nil {
		return nil, 0, 0, nil, fmt.Errorf("live: read state file: %w", err)
	}
	var dump stateDump
	if err := msgpack.Unmarshal(data, &dump); err != nil {
		return nil, 0, 0, nil, fmt.Errorf("live: decode state file: %w", err)
	}
	return dump.Weights, dump.Drawdown, dump.RealisedVol, dump.ICScores, nil
}

// Save writes result's allocation plus the caller-supplied drawdown/vol/
// IC inputs for the next invocation to load.
func (s *FileState) Save(result *engine.StepResult, drawdown, realisedVolAnnual float64, icScores map[config.Instrument]float64) error {
	dump := stateDump{
		Weights:     result.Weights,
		Drawdown:    drawdown,
		RealisedVol: realisedVolAnnual,
		ICScores:    icScores,
	}
	data, err := msgpack.Marshal(dump)
	if err != nil {
		return fmt.Errorf("live: encode state file: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("live: write state file: %w", err)
	}
	return nil
}
