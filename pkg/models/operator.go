package models

import (
	"database/sql"
	"time"
)

// OperatorConfig holds per-operator assignment and notification settings.
// An operator is eligible for new assignments only when active and not
// paused (fully or assignment-only).
type OperatorConfig struct {
	ID                   int64          `db:"id"`
	PersonID             int64          `db:"person_id"`
	Name                 string         `db:"name"`
	WhatsAppNumber       sql.NullString `db:"whatsapp_number"`
	IsActive             bool           `db:"is_active"`
	IsPaused             bool           `db:"is_paused"`
	AssignmentPaused     bool           `db:"assignment_paused"`
	NotificationsEnabled bool           `db:"notifications_enabled"`
	PausedAt             sql.NullTime   `db:"paused_at"`
	PausedBy             sql.NullString `db:"paused_by"`
	PauseReason          sql.NullString `db:"pause_reason"`
	CreatedAt            time.Time      `db:"created_at"`
	UpdatedAt            time.Time      `db:"updated_at"`
}

// Eligible reports whether the operator may receive new assignments.
func (o OperatorConfig) Eligible() bool {
	return o.IsActive && !o.IsPaused && !o.AssignmentPaused
}

// Notifiable reports whether the operator receives alert messages.
func (o OperatorConfig) Notifiable() bool {
	return !o.IsPaused && o.NotificationsEnabled
}

// Schedule types. "work" drives shift summaries and auto-unassignment,
// "assignment" drives the assignment engine, "alert" gates escalations.
const (
	ScheduleWork       = "work"
	ScheduleAssignment = "assignment"
	ScheduleAlert      = "alert"
)

// OperatorSchedule is one weekly time window for an operator. Intervals are
// [start, end) and never cross midnight; overnight shifts are stored split.
type OperatorSchedule struct {
	ID           int64     `db:"id"`
	PersonID     int64     `db:"person_id"`
	DayOfWeek    int       `db:"day_of_week"` // 0=Sunday .. 6=Saturday
	StartTime    string    `db:"start_time"`  // "HH:MM"
	EndTime      string    `db:"end_time"`    // "HH:MM"
	ScheduleType string    `db:"schedule_type"`
	CreatedAt    time.Time `db:"created_at"`
}

// AssignmentCounter backs least-loaded round-robin selection. Counters are
// reset in bulk at the configured shift-change hours.
type AssignmentCounter struct {
	PersonID     int64        `db:"person_id"`
	TicketCount  int          `db:"ticket_count"`
	LastAssigned sql.NullTime `db:"last_assigned"`
}
