package whatsapp

import (
	"fmt"
	"strings"
	"time"
)

// AlertInput carries the data for an unattended-ticket alert.
type AlertInput struct {
	TicketID     string
	TicketNumber int64
	CustomerName string
	Subject      string
	MinutesOpen  int64
	AlertCount   int
}

// BuildAlertMessage renders a single unattended-ticket alert.
func BuildAlertMessage(in AlertInput) string {
	var b strings.Builder
	if in.AlertCount > 0 {
		fmt.Fprintf(&b, "⚠️ *RECORDATORIO #%d - Ticket sin atender*\n\n", in.AlertCount+1)
	} else {
		b.WriteString("⚠️ *Ticket sin atender*\n\n")
	}
	fmt.Fprintf(&b, "🎫 Ticket: *%s*\n", in.TicketID)
	if in.TicketNumber != 0 {
		fmt.Fprintf(&b, "🔢 Nro: %d\n", in.TicketNumber)
	}
	fmt.Fprintf(&b, "👤 Cliente: %s\n", in.CustomerName)
	fmt.Fprintf(&b, "📋 Motivo: %s\n", in.Subject)
	fmt.Fprintf(&b, "⏱️ Sin respuesta hace *%d minutos*\n\n", in.MinutesOpen)
	b.WriteString("Por favor, atendé el ticket o pedí reasignación.")
	return b.String()
}

// BuildGroupedAlertMessage renders one message covering several tickets held
// by the same operator, to avoid flooding their chat.
func BuildGroupedAlertMessage(operatorName string, alerts []AlertInput) string {
	if len(alerts) == 1 {
		return BuildAlertMessage(alerts[0])
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⚠️ *%s: tenés %d tickets sin atender*\n\n", operatorName, len(alerts))
	for _, a := range alerts {
		fmt.Fprintf(&b, "• Ticket *%s* — %s (%d min)\n", a.TicketID, a.CustomerName, a.MinutesOpen)
	}
	b.WriteString("\nPor favor, revisá la cola cuanto antes.")
	return b.String()
}

// BuildPreAlertMessage warns the operator shortly before a ticket breaches
// the response threshold.
func BuildPreAlertMessage(in AlertInput, minutesLeft int64) string {
	var b strings.Builder
	b.WriteString("⏳ *Aviso previo*\n\n")
	fmt.Fprintf(&b, "El ticket *%s* de %s vence en *%d minutos*.\n", in.TicketID, in.CustomerName, minutesLeft)
	b.WriteString("Respondé antes de que quede fuera de plazo.")
	return b.String()
}

// BuildPreAlertGroupMessage renders one pre-alert covering several tickets
// nearing the threshold for the same operator.
func BuildPreAlertGroupMessage(operatorName string, alerts []AlertInput, minutesLeft int64) string {
	if len(alerts) == 1 {
		return BuildPreAlertMessage(alerts[0], minutesLeft)
	}
	var b strings.Builder
	fmt.Fprintf(&b, "⏳ *%s: %d tickets por vencer en %d minutos*\n\n", operatorName, len(alerts), minutesLeft)
	for _, a := range alerts {
		fmt.Fprintf(&b, "• Ticket *%s* — %s\n", a.TicketID, a.CustomerName)
	}
	b.WriteString("\nRespondelos antes de que queden fuera de plazo.")
	return b.String()
}

// BuildRemovedMessage notifies the previous operator that a ticket left
// their queue.
func BuildRemovedMessage(in AlertInput, toName string) string {
	var b strings.Builder
	b.WriteString("➖ *Ticket retirado de tu cola*\n\n")
	fmt.Fprintf(&b, "🎫 Ticket: *%s* — %s\n", in.TicketID, in.CustomerName)
	if toName != "" {
		fmt.Fprintf(&b, "Ahora asignado a: %s\n", toName)
	}
	return b.String()
}

// BuildAssignmentMessage notifies an operator of a new ticket.
func BuildAssignmentMessage(in AlertInput) string {
	var b strings.Builder
	b.WriteString("🆕 *Nuevo ticket asignado*\n\n")
	fmt.Fprintf(&b, "🎫 Ticket: *%s*\n", in.TicketID)
	fmt.Fprintf(&b, "👤 Cliente: %s\n", in.CustomerName)
	fmt.Fprintf(&b, "📋 Motivo: %s\n", in.Subject)
	return b.String()
}

// BuildReassignmentMessage notifies the receiving operator of a transfer.
func BuildReassignmentMessage(in AlertInput, fromName string) string {
	var b strings.Builder
	b.WriteString("🔄 *Ticket reasignado*\n\n")
	fmt.Fprintf(&b, "🎫 Ticket: *%s*\n", in.TicketID)
	fmt.Fprintf(&b, "👤 Cliente: %s\n", in.CustomerName)
	if fromName != "" {
		fmt.Fprintf(&b, "↩️ Antes asignado a: %s\n", fromName)
	}
	b.WriteString("Ahora está a tu cargo.")
	return b.String()
}

// ShiftSummaryInput carries the data for an end-of-shift summary.
type ShiftSummaryInput struct {
	OperatorName string
	ShiftEnd     time.Time
	OpenTickets  []AlertInput
}

// BuildShiftSummaryMessage renders the pre-shift-end summary of open
// tickets.
func BuildShiftSummaryMessage(in ShiftSummaryInput) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🕐 *Fin de turno %s*\n\n", in.ShiftEnd.Format("15:04"))
	if len(in.OpenTickets) == 0 {
		fmt.Fprintf(&b, "%s, no tenés tickets abiertos. ¡Buen trabajo! ✅", in.OperatorName)
		return b.String()
	}
	fmt.Fprintf(&b, "%s, tenés *%d tickets abiertos* antes de terminar:\n\n", in.OperatorName, len(in.OpenTickets))
	for _, a := range in.OpenTickets {
		fmt.Fprintf(&b, "• Ticket *%s* — %s\n", a.TicketID, a.CustomerName)
	}
	b.WriteString("\nCerralos o quedarán liberados al terminar el turno.")
	return b.String()
}

// BuildReopenMessage notifies that a prematurely closed ticket was reopened.
func BuildReopenMessage(in AlertInput) string {
	var b strings.Builder
	b.WriteString("♻️ *Ticket reabierto*\n\n")
	fmt.Fprintf(&b, "El ticket *%s* de %s fue cerrado en la plataforma sin registro de cierre y se reabrió automáticamente.\n", in.TicketID, in.CustomerName)
	b.WriteString("Verificá el estado con el cliente.")
	return b.String()
}
