// Package control manages the global pause switch. State lives in a small
// JSON file so a pause survives restarts and can be inspected by hand.
package control

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// PauseState is the persisted pause record.
type PauseState struct {
	Paused    bool      `json:"paused"`
	PausedAt  time.Time `json:"paused_at,omitempty"`
	PausedBy  string    `json:"paused_by,omitempty"`
	Reason    string    `json:"reason,omitempty"`
	ResumedAt time.Time `json:"resumed_at,omitempty"`
	ResumedBy string    `json:"resumed_by,omitempty"`
}

// PauseGate exposes and persists the global pause switch. Scheduler jobs
// consult it before each pass.
type PauseGate struct {
	path   string
	logger *slog.Logger

	mu    sync.RWMutex
	state PauseState
}

// NewPauseGate loads (or initializes) the pause state at path.
func NewPauseGate(path string) (*PauseGate, error) {
	g := &PauseGate{
		path:   path,
		logger: slog.Default().With("component", "pause-gate"),
	}
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		// First run, start unpaused.
	case err != nil:
		return nil, fmt.Errorf("failed to read pause state: %w", err)
	default:
		if err := json.Unmarshal(data, &g.state); err != nil {
			// A corrupt state file must not block startup; log and reset.
			g.logger.Warn("Pause state file is corrupt, resetting",
				slog.String("path", path),
				slog.String("error", err.Error()))
			g.state = PauseState{}
		}
	}
	return g, nil
}

// Paused reports whether the system is paused.
func (g *PauseGate) Paused() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state.Paused
}

// State returns a copy of the current pause record.
func (g *PauseGate) State() PauseState {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.state
}

// Pause sets the pause flag and persists it.
func (g *PauseGate) Pause(by, reason string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = PauseState{
		Paused:   true,
		PausedAt: time.Now(),
		PausedBy: by,
		Reason:   reason,
	}
	if err := g.persist(); err != nil {
		return err
	}
	g.logger.Info("System paused",
		slog.String("by", by),
		slog.String("reason", reason))
	return nil
}

// Resume clears the pause flag and persists who lifted it.
func (g *PauseGate) Resume(by string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.state = PauseState{
		Paused:    false,
		ResumedAt: time.Now(),
		ResumedBy: by,
	}
	if err := g.persist(); err != nil {
		return err
	}
	g.logger.Info("System resumed", slog.String("by", by))
	return nil
}

// persist writes the state atomically via rename. Caller holds g.mu.
func (g *PauseGate) persist() error {
	data, err := json.MarshalIndent(g.state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode pause state: %w", err)
	}
	tmp := g.path + ".tmp"
	if err := os.MkdirAll(filepath.Dir(g.path), 0o755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write pause state: %w", err)
	}
	if err := os.Rename(tmp, g.path); err != nil {
		return fmt.Errorf("failed to replace pause state: %w", err)
	}
	return nil
}
