package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/repository"
)

// listOperators handles GET /api/admin/operators.
func (s *Server) listOperators(c *gin.Context) {
	ops, err := s.store.ListOperators(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"operators": ops, "count": len(ops)})
}

// patchOperatorRequest carries a partial update; nil fields are untouched.
type patchOperatorRequest struct {
	Name                 *string `json:"name"`
	WhatsAppNumber       *string `json:"whatsapp_number"`
	IsActive             *bool   `json:"is_active"`
	IsPaused             *bool   `json:"is_paused"`
	AssignmentPaused     *bool   `json:"assignment_paused"`
	NotificationsEnabled *bool   `json:"notifications_enabled"`
	PauseReason          *string `json:"pause_reason"`
	PerformedBy          string  `json:"performed_by"`
}

// patchOperator handles PATCH /api/admin/operators/:person_id/config.
func (s *Server) patchOperator(c *gin.Context) {
	personID, err := strconv.ParseInt(c.Param("person_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
		return
	}
	var req patchOperatorRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	op, err := s.store.GetOperator(ctx, personID)
	switch {
	case errors.Is(err, repository.ErrNotFound):
		// First touch creates the row; the CRM does not push operator
		// rosters, admins do.
		op = &models.OperatorConfig{
			PersonID: personID,
			IsActive: true,
		}
	case err != nil:
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	before, _ := json.Marshal(op)

	if req.Name != nil {
		op.Name = *req.Name
	}
	if req.WhatsAppNumber != nil {
		op.WhatsAppNumber = nullString(*req.WhatsAppNumber)
	}
	if req.IsActive != nil {
		op.IsActive = *req.IsActive
	}
	if req.AssignmentPaused != nil {
		op.AssignmentPaused = *req.AssignmentPaused
	}
	if req.NotificationsEnabled != nil {
		op.NotificationsEnabled = *req.NotificationsEnabled
	}
	if req.IsPaused != nil {
		op.IsPaused = *req.IsPaused
		if op.IsPaused {
			op.PausedAt = sql.NullTime{Time: time.Now(), Valid: true}
			op.PausedBy = nullString(req.PerformedBy)
			if req.PauseReason != nil {
				op.PauseReason = nullString(*req.PauseReason)
			}
		} else {
			op.PausedAt.Valid = false
			op.PausedBy.Valid = false
			op.PauseReason.Valid = false
		}
	}

	if err := s.store.UpsertOperator(ctx, op); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	after, _ := json.Marshal(op)
	s.audit(ctx, c, "update_operator", "operator_config",
		strconv.FormatInt(personID, 10), string(before), string(after), req.PerformedBy)

	c.JSON(http.StatusOK, gin.H{"success": true, "operator": op})
}

// listOperatorSchedules handles GET /api/admin/operators/:person_id/schedules.
func (s *Server) listOperatorSchedules(c *gin.Context) {
	personID, err := strconv.ParseInt(c.Param("person_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
		return
	}
	scheduleType := c.DefaultQuery("type", models.ScheduleWork)
	schedules, err := s.store.ListSchedules(c.Request.Context(), personID, scheduleType)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"schedules": schedules})
}

type scheduleWindow struct {
	DayOfWeek int    `json:"day_of_week" binding:"min=0,max=6"`
	StartTime string `json:"start_time" binding:"required"`
	EndTime   string `json:"end_time" binding:"required"`
}

type replaceSchedulesRequest struct {
	ScheduleType string           `json:"schedule_type" binding:"required,oneof=work assignment alert"`
	Windows      []scheduleWindow `json:"windows"`
	PerformedBy  string           `json:"performed_by"`
}

// replaceOperatorSchedules handles PUT /api/admin/operators/:person_id/schedules,
// swapping the operator's full weekly schedule of one type.
func (s *Server) replaceOperatorSchedules(c *gin.Context) {
	personID, err := strconv.ParseInt(c.Param("person_id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid person_id"})
		return
	}
	var req replaceSchedulesRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
		return
	}

	schedules := make([]models.OperatorSchedule, 0, len(req.Windows))
	for _, w := range req.Windows {
		schedules = append(schedules, models.OperatorSchedule{
			PersonID:     personID,
			DayOfWeek:    w.DayOfWeek,
			StartTime:    w.StartTime,
			EndTime:      w.EndTime,
			ScheduleType: req.ScheduleType,
		})
	}
	ctx := c.Request.Context()
	if err := s.store.ReplaceSchedules(ctx, personID, req.ScheduleType, schedules); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	after, _ := json.Marshal(schedules)
	s.audit(ctx, c, "replace_schedules", "operator_schedule",
		strconv.FormatInt(personID, 10), "", string(after), req.PerformedBy)

	c.JSON(http.StatusOK, gin.H{"success": true, "count": len(schedules)})
}

// listConfig handles GET /api/admin/config.
func (s *Server) listConfig(c *gin.Context) {
	entries, err := s.config.List(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"config": entries})
}

type putConfigRequest struct {
	Value       string `json:"value" binding:"required"`
	ValueType   string `json:"value_type" binding:"omitempty,oneof=int bool string json"`
	Category    string `json:"category"`
	PerformedBy string `json:"performed_by"`
}

// putConfig handles PUT /api/admin/config/:key. Workers pick the new value
// up on their next read because the settings cache is dropped.
func (s *Server) putConfig(c *gin.Context) {
	key := c.Param("key")
	var req putConfigRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid payload", "details": err.Error()})
		return
	}

	ctx := c.Request.Context()
	if err := s.config.Set(ctx, key, req.Value, req.ValueType, req.Category, req.PerformedBy); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.config.Invalidate()
	s.audit(ctx, c, "update_config", "system_config", key, "", req.Value, req.PerformedBy)

	c.JSON(http.StatusOK, gin.H{"success": true, "key": key, "value": req.Value})
}

// listAudit handles GET /api/admin/audit.
func (s *Server) listAudit(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	entries, err := s.store.ListAudit(c.Request.Context(), limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"audit": entries, "count": len(entries)})
}

// listAuditRequests handles GET /api/admin/audit-requests, the queue of
// incidents waiting for a quality review.
func (s *Server) listAuditRequests(c *gin.Context) {
	incidents, err := s.store.ListPendingAuditIncidents(c.Request.Context())
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"incidents": incidents, "count": len(incidents)})
}

// listReassignments handles GET /api/admin/reassignment-history.
func (s *Server) listReassignments(c *gin.Context) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "100"))
	ticketID := c.Query("ticket_id")
	records, err := s.store.ListReassignments(c.Request.Context(), ticketID, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"history": records, "count": len(records)})
}

type resetCountersRequest struct {
	PerformedBy string `json:"performed_by"`
}

// resetCounters handles POST /api/admin/assignment/reset, zeroing every
// assignment counter outside the scheduled boundaries.
func (s *Server) resetCounters(c *gin.Context) {
	var req resetCountersRequest
	_ = c.ShouldBindJSON(&req)

	ctx := c.Request.Context()
	if err := s.store.ResetCounters(ctx); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	s.audit(ctx, c, "reset_counters", "assignment_counter", "", "", "", req.PerformedBy)
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// audit appends an admin-action audit row. Failures are logged, never
// surfaced; the mutation already happened.
func (s *Server) audit(ctx context.Context, c *gin.Context, action, entityType, entityID, oldValue, newValue, performedBy string) {
	entry := &models.AuditEntry{
		Action:      action,
		EntityType:  entityType,
		EntityID:    nullString(entityID),
		OldValue:    nullString(oldValue),
		NewValue:    nullString(newValue),
		PerformedBy: nullString(performedBy),
		IPAddress:   nullString(c.ClientIP()),
		PerformedAt: time.Now(),
	}
	if err := s.store.RecordAudit(ctx, entry); err != nil {
		s.logger.Error("Failed to record audit entry",
			slog.String("action", action),
			slog.String("error", err.Error()))
	}
}
