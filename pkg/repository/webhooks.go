package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ipnext/ticketflow/pkg/models"
)

// SaveNewTicketWebhook stores a raw new-ticket payload.
func (r *Repository) SaveNewTicketWebhook(ctx context.Context, wh *models.NewTicketWebhook) error {
	rows, err := r.db.NamedQueryContext(ctx, `
		INSERT INTO webhook_new_ticket (
			numero_ticket, nombre_empresa, fecha_creado, departamento,
			canal_entrada, motivo_contacto, numero_cliente, numero_whatsapp,
			nombre_usuario, received_at
		) VALUES (
			:numero_ticket, :nombre_empresa, :fecha_creado, :departamento,
			:canal_entrada, :motivo_contacto, :numero_cliente, :numero_whatsapp,
			:nombre_usuario, :received_at
		) RETURNING id`, wh)
	if err != nil {
		return fmt.Errorf("failed to save new-ticket webhook: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&wh.ID); err != nil {
			return fmt.Errorf("failed to read webhook id: %w", err)
		}
	}
	return rows.Err()
}

// SaveCloseTicketWebhook stores a raw closure payload.
func (r *Repository) SaveCloseTicketWebhook(ctx context.Context, wh *models.CloseTicketWebhook) error {
	rows, err := r.db.NamedQueryContext(ctx, `
		INSERT INTO webhook_close_ticket (
			numero_ticket, nombre_empresa, fecha_creado, fecha_cerrado,
			asignado, descripcion_cierre, motivo, tiempo_vida_ticket,
			tiempo_trabajo_real, tiempo_reaccion, departamento, canal_entrada,
			motivo_contacto, numero_cliente, numero_whatsapp, nombre_usuario,
			received_at
		) VALUES (
			:numero_ticket, :nombre_empresa, :fecha_creado, :fecha_cerrado,
			:asignado, :descripcion_cierre, :motivo, :tiempo_vida_ticket,
			:tiempo_trabajo_real, :tiempo_reaccion, :departamento, :canal_entrada,
			:motivo_contacto, :numero_cliente, :numero_whatsapp, :nombre_usuario,
			:received_at
		) RETURNING id`, wh)
	if err != nil {
		return fmt.Errorf("failed to save close-ticket webhook: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&wh.ID); err != nil {
			return fmt.Errorf("failed to read webhook id: %w", err)
		}
	}
	return rows.Err()
}

// SaveSplynxEventWebhook stores a raw Splynx push payload.
func (r *Repository) SaveSplynxEventWebhook(ctx context.Context, wh *models.SplynxEventWebhook) error {
	rows, err := r.db.NamedQueryContext(ctx, `
		INSERT INTO webhook_splynx_event (event_type, ticket_id, payload, received_at)
		VALUES (:event_type, :ticket_id, :payload, :received_at)
		RETURNING id`, wh)
	if err != nil {
		return fmt.Errorf("failed to save splynx event webhook: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&wh.ID); err != nil {
			return fmt.Errorf("failed to read webhook id: %w", err)
		}
	}
	return rows.Err()
}

// ListUnprocessedNewTicketWebhooks returns pending new-ticket payloads oldest
// first.
func (r *Repository) ListUnprocessedNewTicketWebhooks(ctx context.Context) ([]models.NewTicketWebhook, error) {
	var hooks []models.NewTicketWebhook
	err := r.db.SelectContext(ctx, &hooks, `
		SELECT * FROM webhook_new_ticket
		WHERE processed = FALSE
		ORDER BY received_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unprocessed webhooks: %w", err)
	}
	return hooks, nil
}

// MarkNewTicketWebhookProcessed flags one staged payload as consumed.
func (r *Repository) MarkNewTicketWebhookProcessed(ctx context.Context, id int64) error {
	_, err := r.db.ExecContext(ctx,
		`UPDATE webhook_new_ticket SET processed = TRUE, processed_at = $1 WHERE id = $2`,
		time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to mark webhook %d processed: %w", id, err)
	}
	return nil
}

// FindCloseWebhookByTicketNumber returns the most recent closure payload for
// a CRM ticket number, or ErrNotFound.
func (r *Repository) FindCloseWebhookByTicketNumber(ctx context.Context, ticketNumber int64) (*models.CloseTicketWebhook, error) {
	var wh models.CloseTicketWebhook
	err := r.db.GetContext(ctx, &wh, `
		SELECT * FROM webhook_close_ticket
		WHERE numero_ticket = $1
		ORDER BY received_at DESC
		LIMIT 1`, ticketNumber)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find close webhook for ticket %d: %w", ticketNumber, err)
	}
	return &wh, nil
}
