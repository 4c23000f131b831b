package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/ipnext/ticketflow/pkg/models"
)

// RecordReassignment appends one reassignment record.
func (r *Repository) RecordReassignment(ctx context.Context, rec *models.ReassignmentHistory) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	rows, err := r.db.NamedQueryContext(ctx, `
		INSERT INTO reassignment_history (
			ticket_id, from_person_id, to_person_id, reason, type,
			created_by, notification_sent, created_at
		) VALUES (
			:ticket_id, :from_person_id, :to_person_id, :reason, :type,
			:created_by, :notification_sent, :created_at
		) RETURNING id`, rec)
	if err != nil {
		return fmt.Errorf("failed to record reassignment: %w", err)
	}
	defer rows.Close()
	if rows.Next() {
		if err := rows.Scan(&rec.ID); err != nil {
			return fmt.Errorf("failed to read reassignment id: %w", err)
		}
	}
	return rows.Err()
}

// ListReassignments returns the most recent reassignment records, optionally
// filtered by ticket id.
func (r *Repository) ListReassignments(ctx context.Context, ticketID string, limit int) ([]models.ReassignmentHistory, error) {
	if limit <= 0 {
		limit = 100
	}
	var records []models.ReassignmentHistory
	var err error
	if ticketID != "" {
		err = r.db.SelectContext(ctx, &records, `
			SELECT * FROM reassignment_history
			WHERE ticket_id = $1
			ORDER BY created_at DESC
			LIMIT $2`, ticketID, limit)
	} else {
		err = r.db.SelectContext(ctx, &records, `
			SELECT * FROM reassignment_history
			ORDER BY created_at DESC
			LIMIT $1`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list reassignments: %w", err)
	}
	return records, nil
}

// RecordAudit appends one admin-action audit record.
func (r *Repository) RecordAudit(ctx context.Context, entry *models.AuditEntry) error {
	if entry.PerformedAt.IsZero() {
		entry.PerformedAt = time.Now()
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO audit_log (
			action, entity_type, entity_id, old_value, new_value,
			performed_by, ip_address, notes, performed_at
		) VALUES (
			:action, :entity_type, :entity_id, :old_value, :new_value,
			:performed_by, :ip_address, :notes, :performed_at
		)`, entry)
	if err != nil {
		return fmt.Errorf("failed to record audit entry: %w", err)
	}
	return nil
}

// ListAudit returns the most recent audit records.
func (r *Repository) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	if limit <= 0 {
		limit = 100
	}
	var entries []models.AuditEntry
	err := r.db.SelectContext(ctx, &entries, `
		SELECT * FROM audit_log
		ORDER BY performed_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list audit entries: %w", err)
	}
	return entries, nil
}
