package scheduler

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipnext/ticketflow/pkg/control"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/timeutil"
)

type fakeConfig struct {
	ints  map[string]int
	bools map[string]bool
	lists map[string][]int
}

func (f *fakeConfig) GetInt(ctx context.Context, key string) (int, error) { return f.ints[key], nil }
func (f *fakeConfig) GetBool(ctx context.Context, key string) (bool, error) {
	return f.bools[key], nil
}
func (f *fakeConfig) GetIntList(ctx context.Context, key string) ([]int, error) {
	return f.lists[key], nil
}

func defaultConfig() *fakeConfig {
	return &fakeConfig{
		ints: map[string]int{
			settings.KeyWeekdayStartHour: 8,
			settings.KeyWeekdayEndHour:   23,
			settings.KeyWeekendStartHour: 9,
			settings.KeyWeekendEndHour:   21,
		},
		bools: map[string]bool{settings.KeyWhatsAppEnabled: true},
		lists: map[string][]int{settings.KeyAssignmentResetHours: {8, 16}},
	}
}

func newTestScheduler(t *testing.T, cfg *fakeConfig) *Scheduler {
	t.Helper()
	gate, err := control.NewPauseGate(filepath.Join(t.TempDir(), "pause.json"))
	require.NoError(t, err)
	return New(Jobs{}, cfg, gate, timeutil.RealClock{}, slog.Default())
}

// mondayAt returns Monday 2025-03-17 at the given clock time.
func mondayAt(hour, minute int) time.Time {
	return time.Date(2025, 3, 17, hour, minute, 0, 0, timeutil.Location())
}

func TestWorkingHoursGate(t *testing.T) {
	s := newTestScheduler(t, defaultConfig())
	ctx := context.Background()

	assert.True(t, s.gateWorkingHours(ctx, mondayAt(8, 0)))
	assert.True(t, s.gateWorkingHours(ctx, mondayAt(22, 59)))
	assert.False(t, s.gateWorkingHours(ctx, mondayAt(7, 59)))
	assert.False(t, s.gateWorkingHours(ctx, mondayAt(23, 0)))

	saturday := time.Date(2025, 3, 15, 8, 30, 0, 0, timeutil.Location())
	assert.False(t, s.gateWorkingHours(ctx, saturday), "weekend window starts later")
	assert.True(t, s.gateWorkingHours(ctx, saturday.Add(time.Hour)))
}

func TestPauseGates(t *testing.T) {
	cfg := defaultConfig()
	s := newTestScheduler(t, cfg)
	ctx := context.Background()

	assert.True(t, s.gateUnpaused(ctx, mondayAt(10, 0)))

	require.NoError(t, s.gate.Pause("admin", "mantenimiento"))
	assert.False(t, s.gateUnpaused(ctx, mondayAt(10, 0)))

	require.NoError(t, s.gate.Resume("admin"))
	cfg.bools[settings.KeySystemPaused] = true
	assert.False(t, s.gateUnpaused(ctx, mondayAt(10, 0)), "config flag also pauses")
}

func TestWhatsAppGate(t *testing.T) {
	cfg := defaultConfig()
	s := newTestScheduler(t, cfg)
	ctx := context.Background()

	assert.True(t, s.gateWhatsApp(ctx, mondayAt(10, 0)))
	cfg.bools[settings.KeyWhatsAppEnabled] = false
	assert.False(t, s.gateWhatsApp(ctx, mondayAt(10, 0)))
}

func TestWeekdayGate(t *testing.T) {
	s := newTestScheduler(t, defaultConfig())
	ctx := context.Background()

	assert.True(t, s.gateWeekday(ctx, mondayAt(10, 0)))
	saturday := time.Date(2025, 3, 15, 10, 0, 0, 0, timeutil.Location())
	assert.False(t, s.gateWeekday(ctx, saturday))
}

func TestResetHourGate(t *testing.T) {
	s := newTestScheduler(t, defaultConfig())
	ctx := context.Background()

	assert.True(t, s.gateResetHour(ctx, mondayAt(8, 0)))
	assert.True(t, s.gateResetHour(ctx, mondayAt(16, 2)))
	assert.False(t, s.gateResetHour(ctx, mondayAt(16, 3)), "past the boundary band")
	assert.False(t, s.gateResetHour(ctx, mondayAt(12, 0)), "not a reset hour")
}

func TestStartStop(t *testing.T) {
	s := newTestScheduler(t, defaultConfig())
	lockPath := filepath.Join(t.TempDir(), "scheduler.pid")

	require.NoError(t, s.Start(context.Background(), lockPath))
	assert.ErrorIs(t, s.Start(context.Background(), lockPath), ErrAlreadyStarted)

	s.Stop()
	s.Stop() // second Stop is a no-op

	// Lock released, a fresh scheduler can start again.
	s2 := newTestScheduler(t, defaultConfig())
	require.NoError(t, s2.Start(context.Background(), lockPath))
	s2.Stop()
}

func TestTickSkipsGatedJob(t *testing.T) {
	calls := 0
	s := newTestScheduler(t, defaultConfig())
	spec := jobSpec{
		name:     "test",
		interval: time.Minute,
		gate:     func(ctx context.Context, now time.Time) bool { return false },
		run:      func(ctx context.Context) error { calls++; return nil },
	}
	s.tick(context.Background(), spec)
	assert.Equal(t, 0, calls)

	spec.gate = nil
	s.tick(context.Background(), spec)
	assert.Equal(t, 1, calls)
}
