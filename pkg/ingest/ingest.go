// Package ingest turns raw webhook payloads into incidents and mirrors
// pending incidents into the remote ticketing platform.
package ingest

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ipnext/ticketflow/pkg/assignment"
	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/repository"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/splynx"
	"github.com/ipnext/ticketflow/pkg/timeutil"
	"github.com/ipnext/ticketflow/pkg/whatsapp"
)

// Store is the persistence surface the ingester needs.
type Store interface {
	ListUnprocessedNewTicketWebhooks(ctx context.Context) ([]models.NewTicketWebhook, error)
	MarkNewTicketWebhookProcessed(ctx context.Context, id int64) error
	CreateIncident(ctx context.Context, inc *models.Incident) error
	ListUnmirroredIncidents(ctx context.Context) ([]models.Incident, error)
	UpdateIncident(ctx context.Context, inc *models.Incident) error
	RecordReassignment(ctx context.Context, rec *models.ReassignmentHistory) error
	GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error)
}

// TicketCreator is the remote surface needed to mirror incidents.
type TicketCreator interface {
	CreateTicket(ctx context.Context, in splynx.CreateTicketInput) (string, error)
}

// Config is the runtime-configuration surface the ingester needs.
type Config interface {
	Get(ctx context.Context, key string) (string, error)
	GetBool(ctx context.Context, key string) (bool, error)
}

// Ingester materializes webhooks and mirrors incidents.
type Ingester struct {
	store    Store
	remote   TicketCreator
	engine   *assignment.Engine
	config   Config
	notifier *whatsapp.Service
	clock    timeutil.Clock
	logger   *slog.Logger
}

// NewIngester creates an Ingester. notifier may be nil.
func NewIngester(store Store, remote TicketCreator, engine *assignment.Engine, config Config, notifier *whatsapp.Service, clock timeutil.Clock, logger *slog.Logger) *Ingester {
	return &Ingester{
		store:    store,
		remote:   remote,
		engine:   engine,
		config:   config,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With("component", "ingest"),
	}
}

// MaterializeWebhooks walks unprocessed new-ticket webhooks oldest-first and
// creates incidents for those whose contact reason is allowed. Duplicate
// creation timestamps are a no-op; the webhook is marked processed either
// way so replays never loop.
func (i *Ingester) MaterializeWebhooks(ctx context.Context) (int, error) {
	allowed, err := i.config.Get(ctx, settings.KeyAllowedMotivo)
	if err != nil {
		return 0, err
	}
	allowed = strings.ToLower(strings.TrimSpace(allowed))

	hooks, err := i.store.ListUnprocessedNewTicketWebhooks(ctx)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, wh := range hooks {
		reason := strings.ToLower(strings.TrimSpace(wh.ContactReason.String))
		if reason != allowed {
			i.logger.Debug("Skipping webhook, contact reason not allowed",
				slog.Int64("webhook_id", wh.ID),
				slog.String("reason", wh.ContactReason.String))
			if err := i.store.MarkNewTicketWebhookProcessed(ctx, wh.ID); err != nil {
				return created, err
			}
			continue
		}

		inc := projectIncident(wh)
		switch err := i.store.CreateIncident(ctx, inc); {
		case err == nil:
			created++
		case errors.Is(err, repository.ErrDuplicate):
			i.logger.Info("Webhook already materialized",
				slog.Int64("webhook_id", wh.ID),
				slog.String("created_at_raw", inc.CreatedAtRaw))
		default:
			// Leave the webhook unprocessed so the next pass retries.
			i.logger.Error("Failed to materialize webhook",
				slog.Int64("webhook_id", wh.ID),
				slog.String("error", err.Error()))
			continue
		}

		if err := i.store.MarkNewTicketWebhookProcessed(ctx, wh.ID); err != nil {
			return created, err
		}
	}
	return created, nil
}

// projectIncident maps a raw webhook row onto a pending incident.
func projectIncident(wh models.NewTicketWebhook) *models.Incident {
	displayName := wh.UserName.String
	if displayName == "" {
		displayName = wh.CompanyName.String
	}
	if displayName == "" {
		displayName = "Cliente"
	}
	subject := wh.ContactReason.String
	if subject == "" {
		subject = "Sin motivo"
	}
	now := time.Now()
	return &models.Incident{
		CustomerRef:  wh.CustomerRef,
		DisplayName:  displayName,
		Subject:      subject,
		CreatedAtRaw: wh.CreatedAtRaw.String,
		Status:       models.StatusPending,
		Priority:     models.PriorityMedium,
		TicketNumber: sql.NullInt64{Int64: wh.TicketNumber, Valid: wh.TicketNumber != 0},
		LastUpdate:   sql.NullTime{Time: wh.ReceivedAt, Valid: true},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// MirrorPending creates remote tickets for incidents not yet mirrored,
// assigning each via the engine and recording the auto-assignment. A failed
// remote create leaves the incident pending for the next pass.
func (i *Ingester) MirrorPending(ctx context.Context) (int, error) {
	incidents, err := i.store.ListUnmirroredIncidents(ctx)
	if err != nil {
		return 0, err
	}
	now := i.clock.Now()

	mirrored := 0
	for idx := range incidents {
		inc := &incidents[idx]
		assignee, err := i.engine.NextAssignee(ctx, now, inc.Subject)
		if err != nil {
			i.logger.Error("Failed to select assignee",
				slog.Int64("incident_id", inc.ID),
				slog.String("error", err.Error()))
			continue
		}

		createdAt := ""
		if t, err := timeutil.ParseCRM(inc.CreatedAtRaw); err == nil {
			createdAt = timeutil.FormatSplynx(t)
		}
		remoteID, err := i.remote.CreateTicket(ctx, splynx.CreateTicketInput{
			CustomerID: inc.CustomerRef,
			Subject:    inc.Subject,
			Note: fmt.Sprintf("Ticket creado automaticamente por Api Splynx, con fecha original de %s",
				inc.CreatedAtRaw),
			Priority:  inc.Priority,
			AssignTo:  assignee,
			CreatedAt: createdAt,
		})
		if err != nil {
			i.logger.Error("Failed to create remote ticket",
				slog.Int64("incident_id", inc.ID),
				slog.String("error", err.Error()))
			continue
		}

		inc.ExternalTicketID = sql.NullString{String: remoteID, Valid: true}
		inc.IsCreatedRemote = true
		inc.Status = models.StatusOpen
		inc.AssignedTo = sql.NullInt64{Int64: assignee, Valid: true}
		if err := i.store.UpdateIncident(ctx, inc); err != nil {
			return mirrored, fmt.Errorf("failed to persist mirrored incident %d: %w", inc.ID, err)
		}

		if err := i.engine.Commit(ctx, assignee); err != nil {
			i.logger.Error("Failed to commit assignment counter",
				slog.Int64("person_id", assignee),
				slog.String("error", err.Error()))
		}

		sent := i.notifyAssignment(ctx, inc, assignee)
		if err := i.store.RecordReassignment(ctx, &models.ReassignmentHistory{
			TicketID:         remoteID,
			ToPersonID:       sql.NullInt64{Int64: assignee, Valid: true},
			Reason:           sql.NullString{String: "nuevo ticket", Valid: true},
			Type:             models.ReassignAuto,
			NotificationSent: sent,
		}); err != nil {
			i.logger.Error("Failed to record auto assignment",
				slog.String("ticket_id", remoteID),
				slog.String("error", err.Error()))
		}
		mirrored++
	}
	return mirrored, nil
}

func (i *Ingester) notifyAssignment(ctx context.Context, inc *models.Incident, assignee int64) bool {
	enabled, err := i.config.GetBool(ctx, settings.KeyWhatsAppEnabled)
	if err != nil || !enabled {
		return false
	}
	op, err := i.store.GetOperator(ctx, assignee)
	if err != nil || !op.Notifiable() {
		return false
	}
	msg := whatsapp.BuildAssignmentMessage(whatsapp.AlertInput{
		TicketID:     inc.ExternalTicketID.String,
		TicketNumber: inc.TicketNumber.Int64,
		CustomerName: inc.DisplayName,
		Subject:      inc.Subject,
	})
	return i.notifier.Notify(ctx, op.WhatsAppNumber.String, msg)
}
