package models

import (
	"database/sql"
	"time"
)

// Reassignment types recorded in the history log.
const (
	ReassignAuto             = "auto_assignment"
	ReassignSplynxSync       = "splynx_sync"
	ReassignManual           = "manual"
	ReassignEndOfShift       = "end_of_shift"
	ReassignAudit            = "audit"
	ReassignReopen           = "reopen_reassignment"
	ReassignAfterShiftPrefix = "auto_unassign_after_shift_end_" // + "HH:MM"
)

// ReassignmentHistory is an append-only record of every assignment change.
type ReassignmentHistory struct {
	ID               int64          `db:"id"`
	TicketID         string         `db:"ticket_id"`
	FromPersonID     sql.NullInt64  `db:"from_person_id"`
	ToPersonID       sql.NullInt64  `db:"to_person_id"`
	Reason           sql.NullString `db:"reason"`
	Type             string         `db:"type"`
	CreatedBy        sql.NullString `db:"created_by"`
	NotificationSent bool           `db:"notification_sent"`
	CreatedAt        time.Time      `db:"created_at"`
}

// AuditEntry is an append-only admin-action record.
type AuditEntry struct {
	ID          int64          `db:"id"`
	Action      string         `db:"action"`
	EntityType  string         `db:"entity_type"`
	EntityID    sql.NullString `db:"entity_id"`
	OldValue    sql.NullString `db:"old_value"` // JSON
	NewValue    sql.NullString `db:"new_value"` // JSON
	PerformedBy sql.NullString `db:"performed_by"`
	IPAddress   sql.NullString `db:"ip_address"`
	Notes       sql.NullString `db:"notes"`
	PerformedAt time.Time      `db:"performed_at"`
}

// ConfigEntry is one row of the runtime configuration table. ValueType
// drives parsing in pkg/settings.
type ConfigEntry struct {
	ID          int64          `db:"id"`
	Key         string         `db:"key"`
	Value       string         `db:"value"`
	ValueType   string         `db:"value_type"` // int | bool | string | json
	Category    sql.NullString `db:"category"`
	Description sql.NullString `db:"description"`
	UpdatedBy   sql.NullString `db:"updated_by"`
	UpdatedAt   time.Time      `db:"updated_at"`
}
