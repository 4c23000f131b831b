package assignment

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/repository"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/splynx"
	"github.com/ipnext/ticketflow/pkg/timeutil"
	"github.com/ipnext/ticketflow/pkg/whatsapp"
)

// DistributorStore extends Store with the bookkeeping the unassigned-ticket
// job needs.
type DistributorStore interface {
	Store
	GetIncidentByExternalID(ctx context.Context, externalID string) (*models.Incident, error)
	SetIncidentAssignee(ctx context.Context, id int64, personID sql.NullInt64) error
	RecordReassignment(ctx context.Context, rec *models.ReassignmentHistory) error
	GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error)
}

// DistributorRemote is the ticketing-platform surface of the job.
type DistributorRemote interface {
	ListUnassigned(ctx context.Context) ([]splynx.Ticket, error)
	UpdateAssignment(ctx context.Context, id string, adminID int64) error
}

// DistributorConfig extends Config with the notification switch.
type DistributorConfig interface {
	Config
	GetBool(ctx context.Context, key string) (bool, error)
}

// Distributor assigns tickets that sit unassigned in the remote platform,
// typically ones created there by hand.
type Distributor struct {
	store    DistributorStore
	remote   DistributorRemote
	engine   *Engine
	config   DistributorConfig
	notifier *whatsapp.Service
	clock    timeutil.Clock
	logger   *slog.Logger
}

// NewDistributor creates a Distributor. notifier may be nil.
func NewDistributor(store DistributorStore, remote DistributorRemote, engine *Engine, config DistributorConfig, notifier *whatsapp.Service, clock timeutil.Clock, logger *slog.Logger) *Distributor {
	return &Distributor{
		store:    store,
		remote:   remote,
		engine:   engine,
		config:   config,
		notifier: notifier,
		clock:    clock,
		logger:   logger.With("component", "distributor"),
	}
}

// AssignUnassigned walks the remote unassigned list and assigns each ticket
// via the engine. The counter is committed only after the remote assignment
// succeeded, so a platform error never skews fairness.
func (d *Distributor) AssignUnassigned(ctx context.Context) (int, error) {
	tickets, err := d.remote.ListUnassigned(ctx)
	if err != nil {
		return 0, err
	}
	now := d.clock.Now()

	assigned := 0
	for _, t := range tickets {
		id := t.ID.String()
		if id == "" {
			continue
		}
		assignee, err := d.engine.NextAssignee(ctx, now, t.Subject)
		if err != nil {
			d.logger.Error("Failed to select assignee for unassigned ticket",
				slog.String("ticket_id", id),
				slog.String("error", err.Error()))
			continue
		}
		if err := d.remote.UpdateAssignment(ctx, id, assignee); err != nil {
			d.logger.Error("Failed to assign remote ticket",
				slog.String("ticket_id", id),
				slog.Int64("person_id", assignee),
				slog.String("error", err.Error()))
			continue
		}
		if err := d.engine.Commit(ctx, assignee); err != nil {
			d.logger.Error("Failed to commit assignment counter",
				slog.Int64("person_id", assignee),
				slog.String("error", err.Error()))
		}

		// Mirror the assignment locally when the ticket is tracked.
		if inc, err := d.store.GetIncidentByExternalID(ctx, id); err == nil {
			if err := d.store.SetIncidentAssignee(ctx, inc.ID, sql.NullInt64{Int64: assignee, Valid: true}); err != nil {
				d.logger.Error("Failed to mirror assignment locally",
					slog.Int64("incident_id", inc.ID),
					slog.String("error", err.Error()))
			}
		} else if !errors.Is(err, repository.ErrNotFound) {
			return assigned, err
		}

		sent := d.notify(ctx, t, assignee)
		if err := d.store.RecordReassignment(ctx, &models.ReassignmentHistory{
			TicketID:         id,
			ToPersonID:       sql.NullInt64{Int64: assignee, Valid: true},
			Reason:           sql.NullString{String: "ticket sin asignar", Valid: true},
			Type:             models.ReassignAuto,
			NotificationSent: sent,
		}); err != nil {
			d.logger.Error("Failed to record assignment",
				slog.String("ticket_id", id),
				slog.String("error", err.Error()))
		}
		assigned++
	}
	return assigned, nil
}

func (d *Distributor) notify(ctx context.Context, t splynx.Ticket, assignee int64) bool {
	enabled, err := d.config.GetBool(ctx, settings.KeyWhatsAppEnabled)
	if err != nil || !enabled {
		return false
	}
	op, err := d.store.GetOperator(ctx, assignee)
	if err != nil || !op.Notifiable() {
		return false
	}
	msg := whatsapp.BuildAssignmentMessage(whatsapp.AlertInput{
		TicketID:     t.ID.String(),
		CustomerName: t.Subject,
		Subject:      t.Subject,
	})
	return d.notifier.Notify(ctx, op.WhatsAppNumber.String, msg)
}
