// Package shift handles the end-of-shift lifecycle: a summary of open
// tickets shortly before an operator's shift ends, and automatic
// unassignment of tickets still held well after the shift ended.
package shift

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/splynx"
	"github.com/ipnext/ticketflow/pkg/timeutil"
	"github.com/ipnext/ticketflow/pkg/whatsapp"
)

// Auto-unassignment fires inside this window after shift end, giving the
// operator an hour of grace to wrap up.
const (
	unassignAfterMinutes  = 60
	unassignBeforeMinutes = 90
)

// The summary fires within this tolerance of the computed notification time;
// the job runs hourly so the window only needs to absorb tick jitter.
const summaryToleranceMinutes = 2

// Store is the persistence surface the worker needs.
type Store interface {
	ListOperators(ctx context.Context) ([]models.OperatorConfig, error)
	ListSchedules(ctx context.Context, personID int64, scheduleType string) ([]models.OperatorSchedule, error)
	ListOpenIncidents(ctx context.Context) ([]models.Incident, error)
	SetIncidentAssignee(ctx context.Context, id int64, personID sql.NullInt64) error
	RecordReassignment(ctx context.Context, rec *models.ReassignmentHistory) error
}

// Remote is the ticketing-platform surface the worker needs.
type Remote interface {
	ListAssigned(ctx context.Context) ([]splynx.Ticket, error)
	UpdateAssignment(ctx context.Context, id string, adminID int64) error
}

// Config is the runtime-configuration surface the worker needs.
type Config interface {
	GetInt(ctx context.Context, key string) (int, error)
	GetBool(ctx context.Context, key string) (bool, error)
}

// Worker runs the two shift-lifecycle actions.
type Worker struct {
	store    Store
	remote   Remote
	config   Config
	notifier *whatsapp.Service
	clock    timeutil.Clock
	logger   *slog.Logger
}

// NewWorker creates a Worker. notifier may be nil.
func NewWorker(store Store, remote Remote, config Config, notifier *whatsapp.Service, clock timeutil.Clock, logger *slog.Logger) *Worker {
	return &Worker{
		store:    store,
		remote:   remote,
		config:   config,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With("component", "shift"),
	}
}

// SendEndOfShiftSummaries notifies operators whose shift ends soon about
// their open tickets. Weekday-only; weekends run on the guard scheme.
func (w *Worker) SendEndOfShiftSummaries(ctx context.Context) error {
	now := w.clock.Now()
	if timeutil.IsWeekend(now) {
		return nil
	}
	leadMinutes, err := w.config.GetInt(ctx, settings.KeyEndOfShiftMinutes)
	if err != nil {
		return err
	}
	enabled, err := w.config.GetBool(ctx, settings.KeyWhatsAppEnabled)
	if err != nil || !enabled {
		return err
	}

	operators, err := w.store.ListOperators(ctx)
	if err != nil {
		return err
	}

	var assigned []splynx.Ticket
	assignedLoaded := false
	for _, op := range operators {
		if !op.Notifiable() {
			continue
		}
		schedules, err := w.store.ListSchedules(ctx, op.PersonID, models.ScheduleWork)
		if err != nil {
			return err
		}
		shiftEnd, due := summaryDue(schedules, now, leadMinutes)
		if !due {
			continue
		}

		if !assignedLoaded {
			assigned, err = w.remote.ListAssigned(ctx)
			if err != nil {
				return err
			}
			assignedLoaded = true
		}

		var open []whatsapp.AlertInput
		for _, t := range assigned {
			if t.AssignTo.Int64() == op.PersonID {
				// The list payload carries no customer name; the subject
				// is the most recognizable label.
				open = append(open, whatsapp.AlertInput{
					TicketID:     t.ID.String(),
					Subject:      t.Subject,
					CustomerName: t.Subject,
				})
			}
		}
		msg := whatsapp.BuildShiftSummaryMessage(whatsapp.ShiftSummaryInput{
			OperatorName: op.Name,
			ShiftEnd:     shiftEnd,
			OpenTickets:  open,
		})
		w.notifier.Notify(ctx, op.WhatsAppNumber.String, msg)
	}
	return nil
}

// summaryDue reports whether now falls within the summary window of any of
// the operator's work shifts today, and returns that shift's end time.
// Overnight shifts (ending by early morning) are skipped.
func summaryDue(schedules []models.OperatorSchedule, now time.Time, leadMinutes int) (time.Time, bool) {
	day := int(now.In(timeutil.Location()).Weekday())
	nowMinutes := timeutil.MinutesOfDay(now)

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
		// Skip the overnight pattern (00:00-08:00); its "end" is a handoff,
		// not a shift close.
		if start == 0 && end <= 8*60 {
			continue
		}
		notifyAt := end - leadMinutes
		if nowMinutes < notifyAt-summaryToleranceMinutes || nowMinutes > notifyAt+summaryToleranceMinutes {
			continue
		}
		// Only notify operators actually inside the shift.
		if nowMinutes < start || nowMinutes >= end {
			continue
		}
		loc := timeutil.Location()
		lt := now.In(loc)
		shiftEnd := time.Date(lt.Year(), lt.Month(), lt.Day(), end/60, end%60, 0, 0, loc)
		return shiftEnd, true
	}
	return time.Time{}, false
}

// AutoUnassignAfterShift releases tickets still held 60-90 minutes after the
// assignee's shift ended, so the next assignment pass can redistribute them.
func (w *Worker) AutoUnassignAfterShift(ctx context.Context) error {
	now := w.clock.Now()
	if timeutil.IsWeekend(now) {
		return nil
	}

	incidents, err := w.store.ListOpenIncidents(ctx)
	if err != nil {
		return err
	}
	schedulesByOp := make(map[int64][]models.OperatorSchedule)

	for idx := range incidents {
		inc := &incidents[idx]
		if !inc.AssignedTo.Valid || !inc.ExternalTicketID.Valid {
			continue
		}
		personID := inc.AssignedTo.Int64
		schedules, ok := schedulesByOp[personID]
		if !ok {
			schedules, err = w.store.ListSchedules(ctx, personID, models.ScheduleWork)
			if err != nil {
				return err
			}
			schedulesByOp[personID] = schedules
		}

		endHHMM, due := unassignDue(schedules, now)
		if !due {
			continue
		}

		if err := w.remote.UpdateAssignment(ctx, inc.ExternalTicketID.String, 0); err != nil {
			w.logger.Error("Failed to unassign ticket after shift",
				slog.String("ticket_id", inc.ExternalTicketID.String),
				slog.String("error", err.Error()))
			continue
		}
		if err := w.store.SetIncidentAssignee(ctx, inc.ID, sql.NullInt64{}); err != nil {
			return err
		}
		if err := w.store.RecordReassignment(ctx, &models.ReassignmentHistory{
			TicketID:     inc.ExternalTicketID.String,
			FromPersonID: sql.NullInt64{Int64: personID, Valid: true},
			Reason:       sql.NullString{String: "fin de turno", Valid: true},
			Type:         models.ReassignAfterShiftPrefix + endHHMM,
		}); err != nil {
			w.logger.Error("Failed to record post-shift unassignment",
				slog.String("ticket_id", inc.ExternalTicketID.String),
				slog.String("error", err.Error()))
		}
		w.logger.Info("Released ticket after shift end",
			slog.String("ticket_id", inc.ExternalTicketID.String),
			slog.Int64("person_id", personID))
	}
	return nil
}

// unassignDue reports whether now is 60-90 minutes past the end of any of
// the operator's work shifts today, returning the shift-end label.
func unassignDue(schedules []models.OperatorSchedule, now time.Time) (string, bool) {
	day := int(now.In(timeutil.Location()).Weekday())
	nowMinutes := timeutil.MinutesOfDay(now)

	for _, s := range schedules {
		if s.DayOfWeek != day {
			continue
		}
		end, err := timeutil.ParseHHMM(s.EndTime)
		if err != nil {
			continue
		}
		since := nowMinutes - end
		if since >= unassignAfterMinutes && since <= unassignBeforeMinutes {
			return fmt.Sprintf("%02d:%02d", end/60, end%60), true
		}
	}
	return "", false
}
