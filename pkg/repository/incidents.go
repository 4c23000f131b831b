package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ipnext/ticketflow/pkg/models"
)

// CreateIncident inserts a new incident. A conflict on created_at_raw means
// the same CRM event was already materialized; the caller gets ErrDuplicate
// and must treat it as success.
func (r *Repository) CreateIncident(ctx context.Context, inc *models.Incident) error {
	query := `
		INSERT INTO incidents (
			customer_ref, display_name, subject, created_at_raw,
			external_ticket_id, status, priority, is_created_remote,
			assigned_to, ticket_number, last_update, created_at, updated_at
		) VALUES (
			:customer_ref, :display_name, :subject, :created_at_raw,
			:external_ticket_id, :status, :priority, :is_created_remote,
			:assigned_to, :ticket_number, :last_update, :created_at, :updated_at
		) RETURNING id`

	rows, err := r.db.NamedQueryContext(ctx, query, inc)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to create incident: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&inc.ID); err != nil {
			return fmt.Errorf("failed to read incident id: %w", err)
		}
	}
	return rows.Err()
}

// GetIncident loads one incident by local id.
func (r *Repository) GetIncident(ctx context.Context, id int64) (*models.Incident, error) {
	var inc models.Incident
	err := r.db.GetContext(ctx, &inc, `SELECT * FROM incidents WHERE id = $1`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident %d: %w", id, err)
	}
	return &inc, nil
}

// GetIncidentByExternalID loads one incident by its Splynx ticket id.
func (r *Repository) GetIncidentByExternalID(ctx context.Context, externalID string) (*models.Incident, error) {
	var inc models.Incident
	err := r.db.GetContext(ctx, &inc,
		`SELECT * FROM incidents WHERE external_ticket_id = $1`, externalID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get incident by external id %s: %w", externalID, err)
	}
	return &inc, nil
}

// ListOpenIncidents returns incidents that are mirrored remotely and not yet
// closed, ordered oldest first.
func (r *Repository) ListOpenIncidents(ctx context.Context) ([]models.Incident, error) {
	var incidents []models.Incident
	err := r.db.SelectContext(ctx, &incidents, `
		SELECT * FROM incidents
		WHERE is_closed = FALSE AND is_created_remote = TRUE
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list open incidents: %w", err)
	}
	return incidents, nil
}

// ListUnmirroredIncidents returns incidents not yet created in Splynx.
func (r *Repository) ListUnmirroredIncidents(ctx context.Context) ([]models.Incident, error) {
	var incidents []models.Incident
	err := r.db.SelectContext(ctx, &incidents, `
		SELECT * FROM incidents
		WHERE is_created_remote = FALSE AND is_closed = FALSE
		ORDER BY created_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list unmirrored incidents: %w", err)
	}
	return incidents, nil
}

// ListWaitingToCloseIncidents returns open incidents whose reopen window is
// running (remote closure observed, local closure pending).
func (r *Repository) ListWaitingToCloseIncidents(ctx context.Context) ([]models.Incident, error) {
	var incidents []models.Incident
	err := r.db.SelectContext(ctx, &incidents, `
		SELECT * FROM incidents
		WHERE is_closed = FALSE AND remote_closed_at IS NOT NULL
		ORDER BY remote_closed_at ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list waiting-to-close incidents: %w", err)
	}
	return incidents, nil
}

// ListOpenIncidentsAssignedTo returns open incidents held by one operator.
func (r *Repository) ListOpenIncidentsAssignedTo(ctx context.Context, personID int64) ([]models.Incident, error) {
	var incidents []models.Incident
	err := r.db.SelectContext(ctx, &incidents, `
		SELECT * FROM incidents
		WHERE is_closed = FALSE AND assigned_to = $1
		ORDER BY created_at ASC`, personID)
	if err != nil {
		return nil, fmt.Errorf("failed to list incidents for operator %d: %w", personID, err)
	}
	return incidents, nil
}

// ListPendingAuditIncidents returns incidents flagged for quality review that
// no reviewer has resolved yet.
func (r *Repository) ListPendingAuditIncidents(ctx context.Context) ([]models.Incident, error) {
	var incidents []models.Incident
	err := r.db.SelectContext(ctx, &incidents, `
		SELECT * FROM incidents
		WHERE audit_requested = TRUE AND audit_status = $1
		ORDER BY audit_requested_at ASC`, models.AuditPending)
	if err != nil {
		return nil, fmt.Errorf("failed to list pending audit incidents: %w", err)
	}
	return incidents, nil
}

// UpdateIncident writes back every mutable field of inc.
func (r *Repository) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	inc.UpdatedAt = time.Now()
	result, err := r.db.NamedExecContext(ctx, `
		UPDATE incidents SET
			external_ticket_id = :external_ticket_id,
			status = :status,
			priority = :priority,
			is_created_remote = :is_created_remote,
			assigned_to = :assigned_to,
			ticket_number = :ticket_number,
			is_closed = :is_closed,
			closed_at = :closed_at,
			last_update = :last_update,
			remote_closed_at = :remote_closed_at,
			recreado = :recreado,
			exceeded_threshold = :exceeded_threshold,
			response_time_minutes = :response_time_minutes,
			resolution_time_minutes = :resolution_time_minutes,
			first_alert_sent_at = :first_alert_sent_at,
			last_alert_sent_at = :last_alert_sent_at,
			pre_alert_sent_at = :pre_alert_sent_at,
			alert_count = :alert_count,
			audit_requested = :audit_requested,
			audit_status = :audit_status,
			audit_requested_at = :audit_requested_at,
			audit_requested_by = :audit_requested_by,
			audit_reviewed_at = :audit_reviewed_at,
			audit_reviewed_by = :audit_reviewed_by,
			audit_notified = :audit_notified,
			updated_at = :updated_at
		WHERE id = :id`, inc)
	if err != nil {
		return fmt.Errorf("failed to update incident %d: %w", inc.ID, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm incident update: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// SetIncidentAssignee updates only the assignee column. History recording is
// the caller's responsibility so the reassignment type can carry context.
func (r *Repository) SetIncidentAssignee(ctx context.Context, id int64, personID sql.NullInt64) error {
	result, err := r.db.ExecContext(ctx,
		`UPDATE incidents SET assigned_to = $1, updated_at = $2 WHERE id = $3`,
		personID, time.Now(), id)
	if err != nil {
		return fmt.Errorf("failed to reassign incident %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to confirm reassignment: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
