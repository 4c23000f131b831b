// Package models defines the persistent entities of the ticket pipeline.
package models

import (
	"database/sql"
	"time"
)

// Priority levels accepted by the remote ticketing platform.
const (
	PriorityLow    = "low"
	PriorityMedium = "medium"
	PriorityHigh   = "high"
	PriorityUrgent = "urgent"
)

// Incident status labels.
const (
	StatusPending = "PENDING"
	StatusOpen    = "OPEN"
	StatusClosed  = "CLOSED"
	StatusSuccess = "SUCCESS"
)

// Audit review states for incidents flagged for quality review.
const (
	AuditPending  = "pending"
	AuditApproved = "approved"
	AuditRejected = "rejected"
)

// Incident is the canonical local representation of a support ticket.
//
// CreatedAtRaw carries the originating CRM timestamp verbatim and is unique:
// it is the idempotency key for webhook ingestion. ExternalTicketID is
// assigned once the ticket is mirrored into Splynx.
type Incident struct {
	ID               int64          `db:"id"`
	CustomerRef      string         `db:"customer_ref"`
	DisplayName      string         `db:"display_name"`
	Subject          string         `db:"subject"`
	CreatedAtRaw     string         `db:"created_at_raw"`
	ExternalTicketID sql.NullString `db:"external_ticket_id"`
	Status           string         `db:"status"`
	Priority         string         `db:"priority"`
	IsCreatedRemote  bool           `db:"is_created_remote"`
	AssignedTo       sql.NullInt64  `db:"assigned_to"`
	TicketNumber     sql.NullInt64  `db:"ticket_number"`
	IsClosed         bool           `db:"is_closed"`
	ClosedAt         sql.NullTime   `db:"closed_at"`
	LastUpdate       sql.NullTime   `db:"last_update"`
	// RemoteClosedAt marks the start of the reopen window: the first sync
	// pass that saw closed="1" without a matching CRM closure record.
	RemoteClosedAt sql.NullTime `db:"remote_closed_at"`
	Recreado       int          `db:"recreado"`

	// SLA tracking. ExceededThreshold is monotonic while the incident is
	// open and preserved through closure for reporting.
	ExceededThreshold     bool          `db:"exceeded_threshold"`
	ResponseTimeMinutes   sql.NullInt64 `db:"response_time_minutes"`
	ResolutionTimeMinutes sql.NullInt64 `db:"resolution_time_minutes"`
	FirstAlertSentAt      sql.NullTime  `db:"first_alert_sent_at"`
	LastAlertSentAt       sql.NullTime  `db:"last_alert_sent_at"`
	PreAlertSentAt        sql.NullTime  `db:"pre_alert_sent_at"`
	AlertCount            int           `db:"alert_count"`

	// Audit-request workflow.
	AuditRequested   bool           `db:"audit_requested"`
	AuditStatus      sql.NullString `db:"audit_status"`
	AuditRequestedAt sql.NullTime   `db:"audit_requested_at"`
	AuditRequestedBy sql.NullString `db:"audit_requested_by"`
	AuditReviewedAt  sql.NullTime   `db:"audit_reviewed_at"`
	AuditReviewedBy  sql.NullString `db:"audit_reviewed_by"`
	AuditNotified    bool           `db:"audit_notified"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}
