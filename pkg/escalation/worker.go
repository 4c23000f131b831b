// Package escalation sends grouped overdue alerts and pre-alerts to
// operators over WhatsApp. Alerts are computed from the remote ticket list
// so tickets created directly in the platform are covered; anti-spam state
// (alert timestamps, counters) lives on the local incident row.
package escalation

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"sort"
	"time"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/repository"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/splynx"
	"github.com/ipnext/ticketflow/pkg/timeutil"
	"github.com/ipnext/ticketflow/pkg/whatsapp"
)

// statusIDOuthouse marks tickets parked on field work; they alert on a
// longer leash.
const statusIDOuthouse = "6"

// Store is the persistence surface the worker needs.
type Store interface {
	GetIncidentByExternalID(ctx context.Context, externalID string) (*models.Incident, error)
	CreateIncident(ctx context.Context, inc *models.Incident) error
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error)
}

// Remote is the ticketing-platform surface the worker needs.
type Remote interface {
	ListAssigned(ctx context.Context) ([]splynx.Ticket, error)
}

// Config is the runtime-configuration surface the worker needs.
type Config interface {
	GetInt(ctx context.Context, key string) (int, error)
	GetBool(ctx context.Context, key string) (bool, error)
}

// Worker evaluates overdue tickets and delivers alerts.
type Worker struct {
	store    Store
	remote   Remote
	config   Config
	notifier *whatsapp.Service
	clock    timeutil.Clock
	logger   *slog.Logger
}

// NewWorker creates a Worker. notifier may be nil, which disables delivery.
func NewWorker(store Store, remote Remote, config Config, notifier *whatsapp.Service, clock timeutil.Clock, logger *slog.Logger) *Worker {
	return &Worker{
		store:    store,
		remote:   remote,
		config:   config,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With("component", "escalation"),
	}
}

type thresholds struct {
	alert          int64
	update         int64
	renotification int64
	outhouse       int64
	preAlert       int64
}

func (w *Worker) loadThresholds(ctx context.Context) (thresholds, error) {
	var t thresholds
	for _, item := range []struct {
		key string
		dst *int64
	}{
		{settings.KeyAlertThresholdMinutes, &t.alert},
		{settings.KeyUpdateThresholdMinutes, &t.update},
		{settings.KeyRenotificationMinutes, &t.renotification},
		{settings.KeyOuthouseNoAlertMinutes, &t.outhouse},
		{settings.KeyPreAlertMinutes, &t.preAlert},
	} {
		n, err := w.config.GetInt(ctx, item.key)
		if err != nil {
			return t, err
		}
		*item.dst = int64(n)
	}
	return t, nil
}

type bucketItem struct {
	ticket   splynx.Ticket
	incident *models.Incident
	minutes  int64
}

// AlertOverdue runs one grouped-alert pass.
func (w *Worker) AlertOverdue(ctx context.Context) error {
	enabled, err := w.config.GetBool(ctx, settings.KeyWhatsAppEnabled)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	th, err := w.loadThresholds(ctx)
	if err != nil {
		return err
	}
	tickets, err := w.remote.ListAssigned(ctx)
	if err != nil {
		return err
	}
	now := w.clock.Now()

	buckets := make(map[int64][]bucketItem)
	for _, t := range tickets {
		item, include := w.evaluate(ctx, t, now, th)
		if !include {
			continue
		}
		assignee := t.AssignTo.Int64()
		buckets[assignee] = append(buckets[assignee], item)
	}

	for assignee, items := range buckets {
		w.deliverBucket(ctx, assignee, items, now, false)
	}
	return nil
}

// evaluate decides whether one ticket belongs in an alert bucket and loads
// (or creates) its incident row.
func (w *Worker) evaluate(ctx context.Context, t splynx.Ticket, now time.Time, th thresholds) (bucketItem, bool) {
	created, err := timeutil.ParseSplynx(t.CreatedAt)
	if err != nil {
		return bucketItem{}, false
	}
	updated, err := timeutil.ParseSplynx(t.UpdatedAt)
	if err != nil {
		updated = created
	}
	updated = timeutil.ClampFuture(updated, now)

	minutesSinceCreation := ticketAge(created, updated, now)
	minutesSinceUpdate := timeutil.MinutesSince(updated, now)

	if minutesSinceCreation < th.alert {
		return bucketItem{}, false
	}
	if t.StatusID.String() == statusIDOuthouse && minutesSinceUpdate < th.outhouse {
		return bucketItem{}, false
	}
	if minutesSinceUpdate < th.update {
		return bucketItem{}, false
	}

	inc, err := w.ensureIncident(ctx, t, minutesSinceCreation)
	if err != nil {
		w.logger.Error("Failed to ensure incident for alert",
			slog.String("ticket_id", t.ID.String()),
			slog.String("error", err.Error()))
		return bucketItem{}, false
	}
	if inc.LastAlertSentAt.Valid &&
		timeutil.MinutesSince(inc.LastAlertSentAt.Time, now) < th.renotification {
		return bucketItem{}, false
	}
	return bucketItem{ticket: t, incident: inc, minutes: minutesSinceCreation}, true
}

// ticketAge returns the minutes a ticket has gone unattended. A ticket with
// remote activity ages up to its last update; one that was never touched
// (updated_at still equal to created_at) has been unattended since creation.
func ticketAge(created, updated, now time.Time) int64 {
	if updated.After(created) {
		return timeutil.MinutesSince(created, updated)
	}
	return timeutil.MinutesSince(created, now)
}

// ensureIncident loads the local row for a remote ticket, creating a minimal
// metric record when the ticket was never ingested locally.
func (w *Worker) ensureIncident(ctx context.Context, t splynx.Ticket, minutes int64) (*models.Incident, error) {
	inc, err := w.store.GetIncidentByExternalID(ctx, t.ID.String())
	if err == nil {
		return inc, nil
	}
	if !errors.Is(err, repository.ErrNotFound) {
		return nil, err
	}

	assignee := t.AssignTo.Int64()
	now := w.clock.Now()
	inc = &models.Incident{
		CustomerRef:         t.CustomerID.String(),
		DisplayName:         "Cliente",
		Subject:             t.Subject,
		CreatedAtRaw:        t.CreatedAt,
		ExternalTicketID:    sql.NullString{String: t.ID.String(), Valid: true},
		Status:              models.StatusOpen,
		Priority:            models.PriorityMedium,
		IsCreatedRemote:     true,
		AssignedTo:          sql.NullInt64{Int64: assignee, Valid: assignee != 0},
		ResponseTimeMinutes: sql.NullInt64{Int64: minutes, Valid: true},
		CreatedAt:           now,
		UpdatedAt:           now,
	}
	if err := w.store.CreateIncident(ctx, inc); err != nil && !errors.Is(err, repository.ErrDuplicate) {
		return nil, err
	}
	return inc, nil
}

// deliverBucket sends one grouped message to an operator and stamps the
// anti-spam fields on success.
func (w *Worker) deliverBucket(ctx context.Context, assignee int64, items []bucketItem, now time.Time, pre bool) {
	if assignee == 0 {
		return
	}
	op, err := w.store.GetOperator(ctx, assignee)
	if err != nil {
		w.logger.Warn("Overdue tickets assigned to unknown operator",
			slog.Int64("person_id", assignee),
			slog.Int("tickets", len(items)))
		return
	}
	if !op.Notifiable() {
		return
	}

	sort.Slice(items, func(i, j int) bool { return items[i].minutes > items[j].minutes })
	alerts := make([]whatsapp.AlertInput, len(items))
	for i, item := range items {
		alerts[i] = whatsapp.AlertInput{
			TicketID:     item.ticket.ID.String(),
			CustomerName: item.incident.DisplayName,
			Subject:      item.ticket.Subject,
			MinutesOpen:  item.minutes,
			AlertCount:   item.incident.AlertCount,
		}
	}

	var msg string
	if pre {
		var minutesLeft int64
		if th, err := w.config.GetInt(ctx, settings.KeyPreAlertMinutes); err == nil {
			minutesLeft = int64(th)
		}
		msg = whatsapp.BuildPreAlertGroupMessage(op.Name, alerts, minutesLeft)
	} else {
		msg = whatsapp.BuildGroupedAlertMessage(op.Name, alerts)
	}

	if !w.notifier.Notify(ctx, op.WhatsAppNumber.String, msg) {
		return
	}

	for _, item := range items {
		inc := item.incident
		if pre {
			inc.PreAlertSentAt = sql.NullTime{Time: now, Valid: true}
		} else {
			inc.LastAlertSentAt = sql.NullTime{Time: now, Valid: true}
			if !inc.FirstAlertSentAt.Valid {
				inc.FirstAlertSentAt = sql.NullTime{Time: now, Valid: true}
			}
			inc.AlertCount++
			inc.ExceededThreshold = true
		}
		if err := w.store.UpdateIncident(ctx, inc); err != nil {
			w.logger.Error("Failed to stamp alert on incident",
				slog.Int64("incident_id", inc.ID),
				slog.String("error", err.Error()))
		}
	}
}

// PreAlert runs one pre-alert pass: tickets approaching the threshold get a
// heads-up before they become overdue. pre_alert_sent_at makes it one-shot.
func (w *Worker) PreAlert(ctx context.Context) error {
	enabled, err := w.config.GetBool(ctx, settings.KeyWhatsAppEnabled)
	if err != nil {
		return err
	}
	if !enabled {
		return nil
	}
	th, err := w.loadThresholds(ctx)
	if err != nil {
		return err
	}
	tickets, err := w.remote.ListAssigned(ctx)
	if err != nil {
		return err
	}
	now := w.clock.Now()

	buckets := make(map[int64][]bucketItem)
	for _, t := range tickets {
		created, err := timeutil.ParseSplynx(t.CreatedAt)
		if err != nil {
			continue
		}
		updated, err := timeutil.ParseSplynx(t.UpdatedAt)
		if err != nil {
			updated = created
		}
		updated = timeutil.ClampFuture(updated, now)
		minutes := ticketAge(created, updated, now)
		if minutes < th.alert-th.preAlert || minutes >= th.alert {
			continue
		}

		inc, err := w.ensureIncident(ctx, t, minutes)
		if err != nil {
			continue
		}
		if inc.PreAlertSentAt.Valid {
			continue
		}
		assignee := t.AssignTo.Int64()
		buckets[assignee] = append(buckets[assignee], bucketItem{ticket: t, incident: inc, minutes: minutes})
	}

	for assignee, items := range buckets {
		w.deliverBucket(ctx, assignee, items, now, true)
	}
	return nil
}
