package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/ipnext/ticketflow/pkg/models"
)

// ListOperators returns every configured operator ordered by name.
func (r *Repository) ListOperators(ctx context.Context) ([]models.OperatorConfig, error) {
	var ops []models.OperatorConfig
	err := r.db.SelectContext(ctx, &ops, `SELECT * FROM operator_config ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("failed to list operators: %w", err)
	}
	return ops, nil
}

// GetOperator loads one operator by person id.
func (r *Repository) GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error) {
	var op models.OperatorConfig
	err := r.db.GetContext(ctx, &op,
		`SELECT * FROM operator_config WHERE person_id = $1`, personID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get operator %d: %w", personID, err)
	}
	return &op, nil
}

// UpsertOperator creates or updates an operator's configuration row.
func (r *Repository) UpsertOperator(ctx context.Context, op *models.OperatorConfig) error {
	op.UpdatedAt = time.Now()
	if op.CreatedAt.IsZero() {
		op.CreatedAt = op.UpdatedAt
	}
	_, err := r.db.NamedExecContext(ctx, `
		INSERT INTO operator_config (
			person_id, name, whatsapp_number, is_active, is_paused,
			assignment_paused, notifications_enabled, paused_at, paused_by,
			pause_reason, created_at, updated_at
		) VALUES (
			:person_id, :name, :whatsapp_number, :is_active, :is_paused,
			:assignment_paused, :notifications_enabled, :paused_at, :paused_by,
			:pause_reason, :created_at, :updated_at
		)
		ON CONFLICT (person_id) DO UPDATE SET
			name = EXCLUDED.name,
			whatsapp_number = EXCLUDED.whatsapp_number,
			is_active = EXCLUDED.is_active,
			is_paused = EXCLUDED.is_paused,
			assignment_paused = EXCLUDED.assignment_paused,
			notifications_enabled = EXCLUDED.notifications_enabled,
			paused_at = EXCLUDED.paused_at,
			paused_by = EXCLUDED.paused_by,
			pause_reason = EXCLUDED.pause_reason,
			updated_at = EXCLUDED.updated_at`, op)
	if err != nil {
		return fmt.Errorf("failed to upsert operator %d: %w", op.PersonID, err)
	}
	return nil
}

// ListSchedules returns an operator's weekly windows of one type.
func (r *Repository) ListSchedules(ctx context.Context, personID int64, scheduleType string) ([]models.OperatorSchedule, error) {
	var schedules []models.OperatorSchedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT * FROM operator_schedule
		WHERE person_id = $1 AND schedule_type = $2
		ORDER BY day_of_week, start_time`, personID, scheduleType)
	if err != nil {
		return nil, fmt.Errorf("failed to list schedules for operator %d: %w", personID, err)
	}
	return schedules, nil
}

// ListAllSchedules returns every schedule row of one type, for bulk shift
// evaluation.
func (r *Repository) ListAllSchedules(ctx context.Context, scheduleType string) ([]models.OperatorSchedule, error) {
	var schedules []models.OperatorSchedule
	err := r.db.SelectContext(ctx, &schedules, `
		SELECT * FROM operator_schedule
		WHERE schedule_type = $1
		ORDER BY person_id, day_of_week, start_time`, scheduleType)
	if err != nil {
		return nil, fmt.Errorf("failed to list %s schedules: %w", scheduleType, err)
	}
	return schedules, nil
}

// ReplaceSchedules swaps an operator's full weekly schedule of one type in a
// single transaction.
func (r *Repository) ReplaceSchedules(ctx context.Context, personID int64, scheduleType string, schedules []models.OperatorSchedule) error {
	return r.WithTx(ctx, func(tx *sqlx.Tx) error {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM operator_schedule WHERE person_id = $1 AND schedule_type = $2`,
			personID, scheduleType); err != nil {
			return fmt.Errorf("failed to clear schedules: %w", err)
		}
		for _, s := range schedules {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO operator_schedule (person_id, day_of_week, start_time, end_time, schedule_type, created_at)
				VALUES ($1, $2, $3, $4, $5, $6)`,
				personID, s.DayOfWeek, s.StartTime, s.EndTime, scheduleType, time.Now()); err != nil {
				return fmt.Errorf("failed to insert schedule: %w", err)
			}
		}
		return nil
	})
}

// GetCounters returns the assignment counters for the given operators,
// creating zero rows for any that are missing.
func (r *Repository) GetCounters(ctx context.Context, personIDs []int64) (map[int64]models.AssignmentCounter, error) {
	counters := make(map[int64]models.AssignmentCounter, len(personIDs))
	for _, id := range personIDs {
		counters[id] = models.AssignmentCounter{PersonID: id}
	}
	if len(personIDs) == 0 {
		return counters, nil
	}

	query, args, err := sqlx.In(
		`SELECT * FROM assignment_counter WHERE person_id IN (?)`, personIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to build counter query: %w", err)
	}
	var rows []models.AssignmentCounter
	if err := r.db.SelectContext(ctx, &rows, r.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to load counters: %w", err)
	}
	for _, c := range rows {
		counters[c.PersonID] = c
	}
	return counters, nil
}

// IncrementCounter bumps one operator's ticket count, creating the row on
// first assignment.
func (r *Repository) IncrementCounter(ctx context.Context, personID int64) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO assignment_counter (person_id, ticket_count, last_assigned)
		VALUES ($1, 1, $2)
		ON CONFLICT (person_id) DO UPDATE SET
			ticket_count = assignment_counter.ticket_count + 1,
			last_assigned = EXCLUDED.last_assigned`,
		personID, time.Now())
	if err != nil {
		return fmt.Errorf("failed to increment counter for operator %d: %w", personID, err)
	}
	return nil
}

// ResetCounters zeroes every assignment counter. Runs at shift boundaries.
func (r *Repository) ResetCounters(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `UPDATE assignment_counter SET ticket_count = 0`)
	if err != nil {
		return fmt.Errorf("failed to reset counters: %w", err)
	}
	return nil
}
