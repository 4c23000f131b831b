package api

import (
	"bytes"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ipnext/ticketflow/pkg/models"
)

// intish accepts a JSON number or a numeric string; the CRM is inconsistent
// about how it sends numero_ticket.
type intish int64

func (n *intish) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "" || s == "null" {
		*n = 0
		return nil
	}
	v, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil {
		return fmt.Errorf("not an integer: %q", s)
	}
	*n = intish(v)
	return nil
}

type newTicketRequest struct {
	NumeroTicket   intish `json:"numero_ticket"`
	NombreEmpresa  string `json:"nombre_empresa"`
	FechaCreado    string `json:"fecha_creado"`
	Departamento   string `json:"departamento"`
	CanalEntrada   string `json:"canal_entrada"`
	MotivoContacto string `json:"motivo_contacto"`
	NumeroCliente  string `json:"numero_cliente"`
	NumeroWhatsApp string `json:"numero_whatsapp"`
	NombreUsuario  string `json:"nombre_usuario"`
}

type closeTicketRequest struct {
	NumeroTicket      intish `json:"numero_ticket"`
	NombreEmpresa     string `json:"nombre_empresa"`
	FechaCreado       string `json:"fecha_creado"`
	FechaCerrado      string `json:"fecha_cerrado"`
	Asignado          string `json:"asignado"`
	DescripcionCierre string `json:"descripcion_cierre"`
	Motivo            string `json:"motivo"`
	TiempoVidaTicket  string `json:"tiempo_vida_ticket"`
	TiempoTrabajoReal string `json:"tiempo_trabajo_real"`
	TiempoReaccion    string `json:"tiempo_reaccion"`
	Departamento      string `json:"departamento"`
	CanalEntrada      string `json:"canal_entrada"`
	MotivoContacto    string `json:"motivo_contacto"`
	NumeroCliente     string `json:"numero_cliente"`
	NumeroWhatsApp    string `json:"numero_whatsapp"`
	NombreUsuario     string `json:"nombre_usuario"`
}

func nullString(s string) sql.NullString {
	s = strings.TrimSpace(s)
	return sql.NullString{String: s, Valid: s != ""}
}

// newTicketHook handles POST /api/hooks/nuevo-ticket. The payload is stored
// verbatim; materialization into an incident happens asynchronously.
func (s *Server) newTicketHook(c *gin.Context) {
	var req newTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
		return
	}
	if req.NumeroTicket == 0 || strings.TrimSpace(req.NumeroCliente) == "" {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid payload",
			"details": "numero_ticket and numero_cliente are required",
		})
		return
	}

	wh := &models.NewTicketWebhook{
		TicketNumber:   int64(req.NumeroTicket),
		CompanyName:    nullString(req.NombreEmpresa),
		CreatedAtRaw:   nullString(req.FechaCreado),
		Department:     nullString(req.Departamento),
		Channel:        nullString(req.CanalEntrada),
		ContactReason:  nullString(req.MotivoContacto),
		CustomerRef:    strings.TrimSpace(req.NumeroCliente),
		WhatsAppNumber: nullString(req.NumeroWhatsApp),
		UserName:       nullString(req.NombreUsuario),
		ReceivedAt:     time.Now(),
	}
	if err := s.store.SaveNewTicketWebhook(c.Request.Context(), wh); err != nil {
		s.logger.Error("Failed to persist new-ticket webhook", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist webhook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": wh.ID})
}

// closeTicketHook handles POST /api/hooks/cierre-ticket.
func (s *Server) closeTicketHook(c *gin.Context) {
	var req closeTicketRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
		return
	}
	if req.NumeroTicket == 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid payload",
			"details": "numero_ticket is required",
		})
		return
	}

	wh := &models.CloseTicketWebhook{
		TicketNumber:   int64(req.NumeroTicket),
		CompanyName:    nullString(req.NombreEmpresa),
		CreatedAtRaw:   nullString(req.FechaCreado),
		ClosedAtRaw:    nullString(req.FechaCerrado),
		AssignedName:   nullString(req.Asignado),
		CloseNote:      nullString(req.DescripcionCierre),
		Reason:         nullString(req.Motivo),
		TicketLifetime: nullString(req.TiempoVidaTicket),
		RealWorkTime:   nullString(req.TiempoTrabajoReal),
		ReactionTime:   nullString(req.TiempoReaccion),
		Department:     nullString(req.Departamento),
		Channel:        nullString(req.CanalEntrada),
		ContactReason:  nullString(req.MotivoContacto),
		CustomerRef:    nullString(req.NumeroCliente),
		WhatsAppNumber: nullString(req.NumeroWhatsApp),
		UserName:       nullString(req.NombreUsuario),
		ReceivedAt:     time.Now(),
	}
	if err := s.store.SaveCloseTicketWebhook(c.Request.Context(), wh); err != nil {
		s.logger.Error("Failed to persist close-ticket webhook", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist webhook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": wh.ID})
}

// splynxEventHook handles POST /api/hooks/splynx/ticket-update. The payload
// shape varies per Splynx event type, so it is stored as raw JSON with a
// best-effort extraction of the event type and ticket id.
func (s *Server) splynxEventHook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, 1<<20))
	if err != nil || len(bytes.TrimSpace(body)) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": "empty body"})
		return
	}

	var probe struct {
		Type     string          `json:"type"`
		TicketID json.RawMessage `json:"ticket_id"`
	}
	if err := json.Unmarshal(body, &probe); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": "body is not JSON"})
		return
	}

	eventType := probe.Type
	if eventType == "" {
		eventType = "ticket-update"
	}
	wh := &models.SplynxEventWebhook{
		EventType:  eventType,
		TicketID:   nullString(strings.Trim(string(probe.TicketID), `"`)),
		Payload:    string(body),
		ReceivedAt: time.Now(),
	}
	if err := s.store.SaveSplynxEventWebhook(c.Request.Context(), wh); err != nil {
		s.logger.Error("Failed to persist splynx event", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to persist webhook"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "id": wh.ID})
}
