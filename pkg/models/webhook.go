package models

import (
	"database/sql"
	"time"
)

// NewTicketWebhook is a raw new-ticket payload from the upstream CRM,
// captured verbatim and materialized into an Incident by a later pass.
type NewTicketWebhook struct {
	ID             int64          `db:"id"`
	TicketNumber   int64          `db:"numero_ticket"`
	CompanyName    sql.NullString `db:"nombre_empresa"`
	CreatedAtRaw   sql.NullString `db:"fecha_creado"`
	Department     sql.NullString `db:"departamento"`
	Channel        sql.NullString `db:"canal_entrada"`
	ContactReason  sql.NullString `db:"motivo_contacto"`
	CustomerRef    string         `db:"numero_cliente"`
	WhatsAppNumber sql.NullString `db:"numero_whatsapp"`
	UserName       sql.NullString `db:"nombre_usuario"`
	Processed      bool           `db:"processed"`
	ProcessedAt    sql.NullTime   `db:"processed_at"`
	ReceivedAt     time.Time      `db:"received_at"`
}

// CloseTicketWebhook is a raw closure payload from the upstream CRM. Its
// presence for a ticket number lets the reopen checker close an incident
// immediately instead of reopening it in Splynx.
type CloseTicketWebhook struct {
	ID             int64          `db:"id"`
	TicketNumber   int64          `db:"numero_ticket"`
	CompanyName    sql.NullString `db:"nombre_empresa"`
	CreatedAtRaw   sql.NullString `db:"fecha_creado"`
	ClosedAtRaw    sql.NullString `db:"fecha_cerrado"`
	AssignedName   sql.NullString `db:"asignado"`
	CloseNote      sql.NullString `db:"descripcion_cierre"`
	Reason         sql.NullString `db:"motivo"`
	TicketLifetime sql.NullString `db:"tiempo_vida_ticket"`
	RealWorkTime   sql.NullString `db:"tiempo_trabajo_real"`
	ReactionTime   sql.NullString `db:"tiempo_reaccion"`
	Department     sql.NullString `db:"departamento"`
	Channel        sql.NullString `db:"canal_entrada"`
	ContactReason  sql.NullString `db:"motivo_contacto"`
	CustomerRef    sql.NullString `db:"numero_cliente"`
	WhatsAppNumber sql.NullString `db:"numero_whatsapp"`
	UserName       sql.NullString `db:"nombre_usuario"`
	Processed      bool           `db:"processed"`
	ProcessedAt    sql.NullTime   `db:"processed_at"`
	ReceivedAt     time.Time      `db:"received_at"`
}

// SplynxEventWebhook stores an arbitrary Splynx push payload for async
// processing.
type SplynxEventWebhook struct {
	ID         int64          `db:"id"`
	EventType  string         `db:"event_type"`
	TicketID   sql.NullString `db:"ticket_id"`
	Payload    string         `db:"payload"`
	Processed  bool           `db:"processed"`
	ReceivedAt time.Time      `db:"received_at"`
}
