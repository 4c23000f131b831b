// Package sync reconciles local incidents against the remote ticketing
// platform: assignment drift, SLA bookkeeping, and closure through the
// reopen window.
//
// Closure runs a small state machine per incident. Seeing closed="1"
// remotely does not close the incident immediately: if the CRM never sent a
// closure webhook the close is suspect, so the incident enters a waiting
// state (remote_closed_at set) and, once the window expires without a CRM
// closure record, the remote ticket is reopened instead.
package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/repository"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/splynx"
	"github.com/ipnext/ticketflow/pkg/timeutil"
	"github.com/ipnext/ticketflow/pkg/whatsapp"
)

// remote status id that maps to the SUCCESS label on closure.
const statusIDSuccess = "3"

// Store is the persistence surface the worker needs.
type Store interface {
	ListOpenIncidents(ctx context.Context) ([]models.Incident, error)
	ListWaitingToCloseIncidents(ctx context.Context) ([]models.Incident, error)
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	FindCloseWebhookByTicketNumber(ctx context.Context, ticketNumber int64) (*models.CloseTicketWebhook, error)
	RecordReassignment(ctx context.Context, rec *models.ReassignmentHistory) error
	GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error)
	GetIncidentByExternalID(ctx context.Context, externalID string) (*models.Incident, error)
	CreateIncident(ctx context.Context, inc *models.Incident) error
}

// Remote is the ticketing-platform surface the worker needs.
type Remote interface {
	GetTicket(ctx context.Context, id string) (*splynx.Ticket, error)
	ReopenTicket(ctx context.Context, id string) error
	ListOpenTickets(ctx context.Context) ([]splynx.Ticket, error)
}

// Config is the runtime-configuration surface the worker needs.
type Config interface {
	GetInt(ctx context.Context, key string) (int, error)
	GetBool(ctx context.Context, key string) (bool, error)
}

// Worker reconciles incidents with the remote platform.
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
		logger:   logger.With("component", "sync"),
	}
}

// Sync runs one full reconciliation pass over every open mirrored incident.
// A failing incident is skipped; the next pass retries.
func (w *Worker) Sync(ctx context.Context) error {
	incidents, err := w.store.ListOpenIncidents(ctx)
	if err != nil {
		return err
	}
	now := w.clock.Now()

	for idx := range incidents {
		inc := &incidents[idx]
		if !inc.ExternalTicketID.Valid {
			continue
		}
		if err := w.syncOne(ctx, inc, now); err != nil {
			w.logger.Warn("Sync pass skipped incident",
				slog.Int64("incident_id", inc.ID),
				slog.String("ticket_id", inc.ExternalTicketID.String),
				slog.String("error", err.Error()))
		}
	}
	return nil
}

func (w *Worker) syncOne(ctx context.Context, inc *models.Incident, now time.Time) error {
	ticket, err := w.remote.GetTicket(ctx, inc.ExternalTicketID.String)
	if err != nil {
		if errors.Is(err, splynx.ErrNotFound) {
			return fmt.Errorf("remote ticket missing: %w", err)
		}
		return err
	}

	dirty := w.applyReassignment(ctx, inc, ticket)
	dirty = w.applySLA(ctx, inc, ticket, now) || dirty

	closedDirty, err := w.applyClosure(ctx, inc, ticket, now)
	if err != nil {
		return err
	}
	dirty = closedDirty || dirty

	if !dirty {
		return nil
	}
	return w.store.UpdateIncident(ctx, inc)
}

// applyReassignment detects assignment drift and records it. Returns whether
// the incident changed.
func (w *Worker) applyReassignment(ctx context.Context, inc *models.Incident, ticket *splynx.Ticket) bool {
	remoteAssignee := ticket.AssignTo.Int64()
	localAssignee := inc.AssignedTo.Int64
	if remoteAssignee == localAssignee {
		return false
	}

	sent := w.notifyReassignment(ctx, inc, localAssignee, remoteAssignee)
	rec := &models.ReassignmentHistory{
		TicketID:         inc.ExternalTicketID.String,
		FromPersonID:     sql.NullInt64{Int64: localAssignee, Valid: localAssignee != 0},
		ToPersonID:       sql.NullInt64{Int64: remoteAssignee, Valid: remoteAssignee != 0},
		Reason:           sql.NullString{String: "asignación detectada en la plataforma", Valid: true},
		Type:             models.ReassignSplynxSync,
		NotificationSent: sent,
	}
	if err := w.store.RecordReassignment(ctx, rec); err != nil {
		w.logger.Error("Failed to record detected reassignment",
			slog.String("ticket_id", inc.ExternalTicketID.String),
			slog.String("error", err.Error()))
	}

	inc.AssignedTo = sql.NullInt64{Int64: remoteAssignee, Valid: remoteAssignee != 0}
	return true
}

func (w *Worker) notifyReassignment(ctx context.Context, inc *models.Incident, from, to int64) bool {
	enabled, err := w.config.GetBool(ctx, settings.KeyWhatsAppEnabled)
	if err != nil || !enabled {
		return false
	}

	input := whatsapp.AlertInput{
		TicketID:     inc.ExternalTicketID.String,
		CustomerName: inc.DisplayName,
		Subject:      inc.Subject,
	}

	var fromName string
	if from != 0 {
		if prev, err := w.store.GetOperator(ctx, from); err == nil {
			fromName = prev.Name
			if prev.Notifiable() {
				var toName string
				if to != 0 {
					if next, err := w.store.GetOperator(ctx, to); err == nil {
						toName = next.Name
					}
				}
				w.notifier.Notify(ctx, prev.WhatsAppNumber.String,
					whatsapp.BuildRemovedMessage(input, toName))
			}
		}
	}

	if to == 0 {
		return false
	}
	op, err := w.store.GetOperator(ctx, to)
	if err != nil || !op.Notifiable() {
		return false
	}
	var msg string
	if from == 0 {
		msg = whatsapp.BuildAssignmentMessage(input)
	} else {
		msg = whatsapp.BuildReassignmentMessage(input, fromName)
	}
	return w.notifier.Notify(ctx, op.WhatsAppNumber.String, msg)
}

// applySLA refreshes last_update and the monotonic threshold flag. Returns
// whether the incident changed.
func (w *Worker) applySLA(ctx context.Context, inc *models.Incident, ticket *splynx.Ticket, now time.Time) bool {
	lastUpdate, err := timeutil.ParseSplynx(ticket.UpdatedAt)
	if err != nil {
		lastUpdate, err = timeutil.ParseSplynx(ticket.CreatedAt)
		if err != nil {
			return false
		}
	}
	// Remote clocks occasionally run ahead; a future last_update would
	// suppress alerting forever.
	lastUpdate = timeutil.ClampFuture(lastUpdate, now)

	dirty := false
	if !inc.LastUpdate.Valid || !inc.LastUpdate.Time.Equal(lastUpdate) {
		inc.LastUpdate = sql.NullTime{Time: lastUpdate, Valid: true}
		dirty = true
	}

	minutes := timeutil.MinutesSince(lastUpdate, now)
	if !inc.ResponseTimeMinutes.Valid || inc.ResponseTimeMinutes.Int64 != minutes {
		inc.ResponseTimeMinutes = sql.NullInt64{Int64: minutes, Valid: true}
		dirty = true
	}

	if !inc.IsClosed && !inc.ExceededThreshold {
		threshold, err := w.config.GetInt(ctx, settings.KeyAlertThresholdMinutes)
		if err == nil && minutes > int64(threshold) {
			inc.ExceededThreshold = true
			dirty = true
		}
	}
	return dirty
}

// applyClosure runs the reopen-window state machine. Returns whether the
// incident changed.
func (w *Worker) applyClosure(ctx context.Context, inc *models.Incident, ticket *splynx.Ticket, now time.Time) (bool, error) {
	if !ticket.IsClosed() {
		// Remote reopened while we were waiting; abandon the window.
		if inc.RemoteClosedAt.Valid {
			inc.RemoteClosedAt = sql.NullTime{}
			return true, nil
		}
		return false, nil
	}

	// Closed remotely. A matching CRM closure record makes it authoritative.
	if inc.TicketNumber.Valid {
		if _, err := w.store.FindCloseWebhookByTicketNumber(ctx, inc.TicketNumber.Int64); err == nil {
			w.finalizeClosure(inc, ticket, now)
			return true, nil
		} else if !errors.Is(err, repository.ErrNotFound) {
			return false, err
		}
	}

	if !inc.RemoteClosedAt.Valid {
		inc.RemoteClosedAt = sql.NullTime{Time: now, Valid: true}
		w.logger.Info("Remote closure without CRM record, starting reopen window",
			slog.String("ticket_id", inc.ExternalTicketID.String))
		return true, nil
	}

	window, err := w.config.GetInt(ctx, settings.KeyReopenWindowMinutes)
	if err != nil {
		return false, err
	}
	if now.Sub(inc.RemoteClosedAt.Time) < time.Duration(window)*time.Minute {
		// Window still running, wait for the CRM record.
		return false, nil
	}

	// Window expired with no CRM closure: the remote close was premature.
	if err := w.remote.ReopenTicket(ctx, inc.ExternalTicketID.String); err != nil {
		return false, fmt.Errorf("failed to reopen ticket: %w", err)
	}
	inc.Recreado++
	inc.RemoteClosedAt = sql.NullTime{}
	w.logger.Info("Reopened prematurely closed ticket",
		slog.String("ticket_id", inc.ExternalTicketID.String),
		slog.Int("recreado", inc.Recreado))
	w.notifyReopen(ctx, inc)
	return true, nil
}

func (w *Worker) notifyReopen(ctx context.Context, inc *models.Incident) {
	enabled, err := w.config.GetBool(ctx, settings.KeyWhatsAppEnabled)
	if err != nil || !enabled || !inc.AssignedTo.Valid {
		return
	}
	op, err := w.store.GetOperator(ctx, inc.AssignedTo.Int64)
	if err != nil || !op.Notifiable() {
		return
	}
	w.notifier.Notify(ctx, op.WhatsAppNumber.String, whatsapp.BuildReopenMessage(whatsapp.AlertInput{
		TicketID:     inc.ExternalTicketID.String,
		CustomerName: inc.DisplayName,
		Subject:      inc.Subject,
	}))
}

// finalizeClosure marks the incident closed and computes resolution time.
// exceeded_threshold is preserved so SLA reporting stays truthful.
func (w *Worker) finalizeClosure(inc *models.Incident, ticket *splynx.Ticket, now time.Time) {
	closedAt := now
	if t, err := timeutil.ParseSplynx(ticket.UpdatedAt); err == nil {
		closedAt = t
	}
	inc.IsClosed = true
	inc.ClosedAt = sql.NullTime{Time: closedAt, Valid: true}
	inc.RemoteClosedAt = sql.NullTime{}
	if ticket.StatusID.String() == statusIDSuccess {
		inc.Status = models.StatusSuccess
	} else {
		inc.Status = models.StatusClosed
	}
	if created, err := timeutil.ParseAny(inc.CreatedAtRaw); err == nil {
		inc.ResolutionTimeMinutes = sql.NullInt64{
			Int64: timeutil.MinutesSince(created, closedAt),
			Valid: true,
		}
	}
}

// CheckReopenWindows runs only the closure state machine over incidents
// whose window is open. It runs more often than the full sync so a CRM
// closure arriving inside the window closes promptly.
func (w *Worker) CheckReopenWindows(ctx context.Context) error {
	incidents, err := w.store.ListWaitingToCloseIncidents(ctx)
	if err != nil {
		return err
	}
	now := w.clock.Now()

	for idx := range incidents {
		inc := &incidents[idx]
		if !inc.ExternalTicketID.Valid {
			continue
		}
		ticket, err := w.remote.GetTicket(ctx, inc.ExternalTicketID.String)
		if err != nil {
			w.logger.Warn("Reopen check skipped incident",
				slog.Int64("incident_id", inc.ID),
				slog.String("error", err.Error()))
			continue
		}
		dirty, err := w.applyClosure(ctx, inc, ticket, now)
		if err != nil {
			w.logger.Warn("Reopen check failed",
				slog.Int64("incident_id", inc.ID),
				slog.String("error", err.Error()))
			continue
		}
		if dirty {
			if err := w.store.UpdateIncident(ctx, inc); err != nil {
				w.logger.Error("Failed to persist reopen check result",
					slog.Int64("incident_id", inc.ID),
					slog.String("error", err.Error()))
			}
		}
	}
	return nil
}

// ImportExisting seeds local incidents from open remote tickets that have no
// local counterpart, so tickets created directly in the platform still get
// SLA tracking. Duplicates are skipped via the creation-timestamp key.
func (w *Worker) ImportExisting(ctx context.Context) (int, error) {
	tickets, err := w.remote.ListOpenTickets(ctx)
	if err != nil {
		return 0, err
	}

	imported := 0
	for _, t := range tickets {
		id := t.ID.String()
		if id == "" {
			continue
		}
		if _, err := w.store.GetIncidentByExternalID(ctx, id); err == nil {
			continue
		} else if !errors.Is(err, repository.ErrNotFound) {
			return imported, err
		}

		assignee := t.AssignTo.Int64()
		now := w.clock.Now()
		inc := &models.Incident{
			CustomerRef:      t.CustomerID.String(),
			DisplayName:      "Cliente",
			Subject:          t.Subject,
			CreatedAtRaw:     t.CreatedAt,
			ExternalTicketID: sql.NullString{String: id, Valid: true},
			Status:           models.StatusOpen,
			Priority:         priorityOrDefault(t.Priority),
			IsCreatedRemote:  true,
			AssignedTo:       sql.NullInt64{Int64: assignee, Valid: assignee != 0},
			CreatedAt:        now,
			UpdatedAt:        now,
		}
		if lastUpdate, err := timeutil.ParseSplynx(t.UpdatedAt); err == nil {
			inc.LastUpdate = sql.NullTime{Time: lastUpdate, Valid: true}
		}

		switch err := w.store.CreateIncident(ctx, inc); {
		case err == nil:
			imported++
		case errors.Is(err, repository.ErrDuplicate):
			// Same creation timestamp already tracked.
		default:
			w.logger.Error("Failed to import remote ticket",
				slog.String("ticket_id", id),
				slog.String("error", err.Error()))
		}
	}
	return imported, nil
}

// priorityOrDefault normalizes the remote priority. Older API versions send
// numeric ids instead of labels.
func priorityOrDefault(p string) string {
	switch p {
	case models.PriorityLow, models.PriorityMedium, models.PriorityHigh, models.PriorityUrgent:
		return p
	case "1":
		return models.PriorityLow
	case "2":
		return models.PriorityMedium
	case "3":
		return models.PriorityHigh
	case "4":
		return models.PriorityUrgent
	}
	return models.PriorityMedium
}
