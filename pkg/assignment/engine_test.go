package assignment

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/timeutil"
)

type fakeStore struct {
	operators []models.OperatorConfig
	schedules map[int64][]models.OperatorSchedule
	counters  map[int64]models.AssignmentCounter
	commits   []int64
}

func (f *fakeStore) ListOperators(ctx context.Context) ([]models.OperatorConfig, error) {
	return f.operators, nil
}

func (f *fakeStore) ListSchedules(ctx context.Context, personID int64, scheduleType string) ([]models.OperatorSchedule, error) {
	return f.schedules[personID], nil
}

func (f *fakeStore) GetCounters(ctx context.Context, personIDs []int64) (map[int64]models.AssignmentCounter, error) {
	out := make(map[int64]models.AssignmentCounter)
	for _, id := range personIDs {
		out[id] = f.counters[id]
	}
	return out, nil
}

func (f *fakeStore) IncrementCounter(ctx context.Context, personID int64) error {
	f.commits = append(f.commits, personID)
	c := f.counters[personID]
	c.TicketCount++
	f.counters[personID] = c
	return nil
}

type fakeConfig struct {
	ints  map[string]int
	lists map[string][]int64
}

func (f *fakeConfig) GetInt(ctx context.Context, key string) (int, error) {
	return f.ints[key], nil
}

func (f *fakeConfig) GetInt64List(ctx context.Context, key string) ([]int64, error) {
	return f.lists[key], nil
}

func operator(id int64) models.OperatorConfig {
	return models.OperatorConfig{PersonID: id, Name: "Op", IsActive: true, NotificationsEnabled: true}
}

func defaultConfig() *fakeConfig {
	return &fakeConfig{
		ints: map[string]int{
			settings.KeyWeekendGuardOperator: 10,
			settings.KeyWeekendStartHour:     9,
			settings.KeyWeekendEndHour:       21,
		},
		lists: map[string][]int64{
			settings.KeyAfternoonShiftIDs: {27, 38},
			settings.KeyDayShiftIDs:       {10, 37},
		},
	}
}

func at(day, hour int) time.Time {
	// 2025-03-17 is a Monday.
	return time.Date(2025, 3, 16+day, hour, 30, 0, 0, timeutil.Location())
}

func newTestEngine(store *fakeStore, cfg *fakeConfig) *Engine {
	return NewEngine(store, cfg, slog.Default())
}

func TestWeekendGuardAssignment(t *testing.T) {
	store := &fakeStore{counters: map[int64]models.AssignmentCounter{}}
	engine := newTestEngine(store, defaultConfig())
	saturday := time.Date(2025, 3, 15, 12, 0, 0, 0, timeutil.Location())

	got, err := engine.NextAssignee(context.Background(), saturday, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)

	// Outside guard hours the guard still receives the ticket.
	lateNight := time.Date(2025, 3, 15, 23, 0, 0, 0, timeutil.Location())
	got, err = engine.NextAssignee(context.Background(), lateNight, "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
}

func TestTagOverride(t *testing.T) {
	store := &fakeStore{
		operators: []models.OperatorConfig{operator(10), operator(27), operator(37), operator(38)},
		counters: map[int64]models.AssignmentCounter{
			27: {PersonID: 27, TicketCount: 5},
			38: {PersonID: 38, TicketCount: 2},
		},
	}
	engine := newTestEngine(store, defaultConfig())
	monday := at(1, 10)

	t.Run("afternoon tag picks least loaded of list", func(t *testing.T) {
		got, err := engine.NextAssignee(context.Background(), monday, "cliente sin señal [TT]")
		require.NoError(t, err)
		assert.Equal(t, int64(38), got)
	})

	t.Run("day tag uses its own list", func(t *testing.T) {
		got, err := engine.NextAssignee(context.Background(), monday, "[TD] visita técnica")
		require.NoError(t, err)
		// 10 and 37 both have zero counters; smallest id wins.
		assert.Equal(t, int64(10), got)
	})

	t.Run("paused listed operators are skipped", func(t *testing.T) {
		store.operators[1].IsPaused = true // 27
		defer func() { store.operators[1].IsPaused = false }()

		got, err := engine.NextAssignee(context.Background(), monday, "[TT]")
		require.NoError(t, err)
		assert.Equal(t, int64(38), got)
	})
}

func TestScheduleBranch(t *testing.T) {
	store := &fakeStore{
		operators: []models.OperatorConfig{operator(10), operator(27)},
		schedules: map[int64][]models.OperatorSchedule{
			27: {{PersonID: 27, DayOfWeek: 1, StartTime: "08:00", EndTime: "16:00", ScheduleType: models.ScheduleAssignment}},
		},
		counters: map[int64]models.AssignmentCounter{
			10: {PersonID: 10, TicketCount: 0},
			27: {PersonID: 27, TicketCount: 9},
		},
	}
	engine := newTestEngine(store, defaultConfig())

	// Monday 10:30 — only 27 is on schedule, so it wins despite the higher
	// counter.
	got, err := engine.NextAssignee(context.Background(), at(1, 10), "")
	require.NoError(t, err)
	assert.Equal(t, int64(27), got)

	// Monday 17:30 — nobody on schedule, fall back to all eligible with the
	// least-loaded rule.
	got, err = engine.NextAssignee(context.Background(), at(1, 17), "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
}

func TestAllPausedFallsBackToFirstConfigured(t *testing.T) {
	ops := []models.OperatorConfig{operator(10), operator(27)}
	ops[0].IsPaused = true
	ops[1].AssignmentPaused = true
	store := &fakeStore{operators: ops, counters: map[int64]models.AssignmentCounter{}}
	engine := newTestEngine(store, defaultConfig())

	got, err := engine.NextAssignee(context.Background(), at(1, 10), "")
	require.NoError(t, err)
	assert.Equal(t, int64(10), got)
}

func TestNoOperatorsConfigured(t *testing.T) {
	store := &fakeStore{counters: map[int64]models.AssignmentCounter{}}
	engine := newTestEngine(store, defaultConfig())

	_, err := engine.NextAssignee(context.Background(), at(1, 10), "")
	assert.ErrorIs(t, err, ErrNoOperators)
}

func TestCommitIncrementsCounter(t *testing.T) {
	store := &fakeStore{
		operators: []models.OperatorConfig{operator(10)},
		counters:  map[int64]models.AssignmentCounter{},
	}
	engine := newTestEngine(store, defaultConfig())

	require.NoError(t, engine.Commit(context.Background(), 10))
	assert.Equal(t, []int64{10}, store.commits)
	assert.Equal(t, 1, store.counters[10].TicketCount)
}

func TestScheduleContains(t *testing.T) {
	schedules := []models.OperatorSchedule{
		{DayOfWeek: 1, StartTime: "08:00", EndTime: "16:00"},
	}

	assert.True(t, ScheduleContains(schedules, at(1, 8)))
	assert.True(t, ScheduleContains(schedules, at(1, 15)))
	assert.False(t, ScheduleContains(schedules, at(1, 16)))
	assert.False(t, ScheduleContains(schedules, at(2, 10)))
}
