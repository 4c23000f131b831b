// Package assignment selects the operator for a new or unassigned ticket.
//
// Selection precedence: weekend guard operator, then shift-tag override
// ([TT]/[TD] in the ticket note), then operators whose assignment schedule
// covers now, then any assignable operator. Within a candidate set the
// operator with the fewest assigned tickets wins; ties go to the smallest
// person id.
package assignment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/timeutil"
)

// Shift tags recognized in ticket notes.
const (
	TagAfternoon = "[TT]"
	TagDay       = "[TD]"
)

// ErrNoOperators indicates no operator is configured at all.
var ErrNoOperators = errors.New("no operators configured")

// Store is the persistence surface the engine needs.
type Store interface {
	ListOperators(ctx context.Context) ([]models.OperatorConfig, error)
	ListSchedules(ctx context.Context, personID int64, scheduleType string) ([]models.OperatorSchedule, error)
	GetCounters(ctx context.Context, personIDs []int64) (map[int64]models.AssignmentCounter, error)
	IncrementCounter(ctx context.Context, personID int64) error
}

// Config is the runtime-configuration surface the engine needs.
// *settings.Store satisfies it.
type Config interface {
	GetInt(ctx context.Context, key string) (int, error)
	GetInt64List(ctx context.Context, key string) ([]int64, error)
}

// Engine selects assignees.
type Engine struct {
	store  Store
	config Config
	logger *slog.Logger
}

// NewEngine creates an Engine.
func NewEngine(store Store, config Config, logger *slog.Logger) *Engine {
	return &Engine{
		store:  store,
		config: config,
		logger: logger.With("component", "assignment"),
	}
}

// NextAssignee returns the operator that should receive a ticket created at
// now whose note is note. It does not mutate counters; call Commit once the
// remote assignment succeeded.
func (e *Engine) NextAssignee(ctx context.Context, now time.Time, note string) (int64, error) {
	if timeutil.IsWeekend(now) {
		return e.weekendAssignee(ctx, now)
	}

	operators, err := e.store.ListOperators(ctx)
	if err != nil {
		return 0, err
	}
	if len(operators) == 0 {
		return 0, ErrNoOperators
	}

	if personID, ok, err := e.tagAssignee(ctx, operators, note); err != nil {
		return 0, err
	} else if ok {
		return personID, nil
	}

	eligible := filterEligible(operators)
	if len(eligible) == 0 {
		// Everyone paused. Hand the ticket to the first configured
		// operator rather than leaving it unassigned.
		first := operators[0].PersonID
		e.logger.Warn("All operators paused, assigning to first configured",
			slog.Int64("person_id", first))
		return first, nil
	}

	onSchedule, err := e.filterOnSchedule(ctx, eligible, now)
	if err != nil {
		return 0, err
	}
	candidates := onSchedule
	if len(candidates) == 0 {
		e.logger.Debug("No operator on assignment schedule, using fallback set")
		candidates = eligible
	}

	return e.leastLoaded(ctx, candidates)
}

// Commit records that personID received a ticket: increments their counter
// and stamps last_assigned. Call only after the remote assignment succeeded
// so a failed mirror leaves fairness untouched.
func (e *Engine) Commit(ctx context.Context, personID int64) error {
	return e.store.IncrementCounter(ctx, personID)
}

func (e *Engine) weekendAssignee(ctx context.Context, now time.Time) (int64, error) {
	guard, err := e.config.GetInt(ctx, settings.KeyWeekendGuardOperator)
	if err != nil {
		return 0, fmt.Errorf("failed to resolve weekend guard: %w", err)
	}
	start, err := e.config.GetInt(ctx, settings.KeyWeekendStartHour)
	if err != nil {
		return 0, err
	}
	end, err := e.config.GetInt(ctx, settings.KeyWeekendEndHour)
	if err != nil {
		return 0, err
	}
	if !timeutil.WithinHours(now, start, end) {
		e.logger.Info("Weekend assignment outside guard hours",
			slog.Int64("person_id", int64(guard)),
			slog.Int("hour", now.Hour()))
	}
	return int64(guard), nil
}

// tagAssignee handles the [TT]/[TD] note override. Returns ok=false when the
// note carries no recognized tag.
func (e *Engine) tagAssignee(ctx context.Context, operators []models.OperatorConfig, note string) (int64, bool, error) {
	var key string
	switch {
	case strings.Contains(note, TagAfternoon):
		key = settings.KeyAfternoonShiftIDs
	case strings.Contains(note, TagDay):
		key = settings.KeyDayShiftIDs
	default:
		return 0, false, nil
	}

	ids, err := e.config.GetInt64List(ctx, key)
	if err != nil {
		return 0, false, fmt.Errorf("failed to resolve shift list: %w", err)
	}
	byID := make(map[int64]models.OperatorConfig, len(operators))
	for _, op := range operators {
		byID[op.PersonID] = op
	}
	var candidates []models.OperatorConfig
	for _, id := range ids {
		if op, ok := byID[id]; ok && op.Eligible() {
			candidates = append(candidates, op)
		}
	}
	if len(candidates) == 0 {
		// Tagged but the whole shift list is paused; fall through to the
		// schedule branch.
		e.logger.Warn("Shift tag matched but no listed operator is eligible",
			slog.String("key", key))
		return 0, false, nil
	}
	personID, err := e.leastLoaded(ctx, candidates)
	if err != nil {
		return 0, false, err
	}
	return personID, true, nil
}

func (e *Engine) filterOnSchedule(ctx context.Context, operators []models.OperatorConfig, now time.Time) ([]models.OperatorConfig, error) {
	var out []models.OperatorConfig
	for _, op := range operators {
		schedules, err := e.store.ListSchedules(ctx, op.PersonID, models.ScheduleAssignment)
		if err != nil {
			return nil, err
		}
		if ScheduleContains(schedules, now) {
			out = append(out, op)
		}
	}
	return out, nil
}

// leastLoaded picks the candidate with the smallest counter, ties broken by
// smallest person id.
func (e *Engine) leastLoaded(ctx context.Context, candidates []models.OperatorConfig) (int64, error) {
	ids := make([]int64, len(candidates))
	for i, op := range candidates {
		ids[i] = op.PersonID
	}
	counters, err := e.store.GetCounters(ctx, ids)
	if err != nil {
		return 0, err
	}

	sort.Slice(ids, func(i, j int) bool {
		ci, cj := counters[ids[i]].TicketCount, counters[ids[j]].TicketCount
		if ci != cj {
			return ci < cj
		}
		return ids[i] < ids[j]
	})
	return ids[0], nil
}

func filterEligible(operators []models.OperatorConfig) []models.OperatorConfig {
	var out []models.OperatorConfig
	for _, op := range operators {
		if op.Eligible() {
			out = append(out, op)
		}
	}
	return out
}

// ScheduleContains reports whether any schedule row covers now. Intervals
// are [start, end) on the row's weekday.
func ScheduleContains(schedules []models.OperatorSchedule, now time.Time) bool {
	day := int(now.In(timeutil.Location()).Weekday())
	minutes := timeutil.MinutesOfDay(now)
	for _, s := range schedules {
		if s.DayOfWeek != day {
			continue
		}
		start, err := timeutil.ParseHHMM(s.StartTime)
		if err != nil {
			continue
		}
		end, err := timeutil.ParseHHMM(s.EndTime)
		if err != nil {
			continue
		}
		if minutes >= start && minutes < end {
			return true
		}
	}
	return false
}
