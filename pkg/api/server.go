// Package api exposes the HTTP surface: inbound CRM/Splynx webhooks, manual
// job triggers, the global pause switch and a small admin surface for
// operators, schedules and runtime configuration.
package api

import (
	"context"
	"database/sql"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/ipnext/ticketflow/pkg/control"
	"github.com/ipnext/ticketflow/pkg/database"
	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/settings"
)

// triggerTimeout bounds a manually fired job; scheduler-driven runs carry
// their own context.
const triggerTimeout = 5 * time.Minute

// Store is the persistence surface the handlers need, satisfied by
// *repository.Repository.
type Store interface {
	SaveNewTicketWebhook(ctx context.Context, wh *models.NewTicketWebhook) error
	SaveCloseTicketWebhook(ctx context.Context, wh *models.CloseTicketWebhook) error
	SaveSplynxEventWebhook(ctx context.Context, wh *models.SplynxEventWebhook) error

	ListOperators(ctx context.Context) ([]models.OperatorConfig, error)
	GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error)
	UpsertOperator(ctx context.Context, op *models.OperatorConfig) error
	ListSchedules(ctx context.Context, personID int64, scheduleType string) ([]models.OperatorSchedule, error)
	ReplaceSchedules(ctx context.Context, personID int64, scheduleType string, schedules []models.OperatorSchedule) error

	ListPendingAuditIncidents(ctx context.Context) ([]models.Incident, error)
	ListReassignments(ctx context.Context, ticketID string, limit int) ([]models.ReassignmentHistory, error)
	RecordAudit(ctx context.Context, entry *models.AuditEntry) error
	ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error)
	ResetCounters(ctx context.Context) error
}

// ConfigStore is the runtime-configuration surface, satisfied by
// *settings.Store.
type ConfigStore interface {
	List(ctx context.Context) ([]models.ConfigEntry, error)
	Set(ctx context.Context, key, value, valueType, category, updatedBy string) error
	GetBool(ctx context.Context, key string) (bool, error)
	Invalidate()
}

// Triggers holds the worker entry points behind the /api/tickets endpoints.
// Nil entries answer 503.
type Triggers struct {
	ProcessWebhooks  func(ctx context.Context) error
	AssignUnassigned func(ctx context.Context) error
	AlertOverdue     func(ctx context.Context) error
	EndOfShift       func(ctx context.Context) error
	AutoUnassign     func(ctx context.Context) error
	SyncStatus       func(ctx context.Context) error
	ImportExisting   func(ctx context.Context) error
}

// Server carries the handler dependencies.
type Server struct {
	store    Store
	config   ConfigStore
	gate     *control.PauseGate
	triggers Triggers
	healthDB *sql.DB
	logger   *slog.Logger
}

// NewServer creates the API server. healthDB may be nil (health then reports
// only process liveness).
func NewServer(store Store, config ConfigStore, gate *control.PauseGate, triggers Triggers, healthDB *sql.DB, logger *slog.Logger) *Server {
	return &Server{
		store:    store,
		config:   config,
		gate:     gate,
		triggers: triggers,
		healthDB: healthDB,
		logger:   logger.With("component", "api"),
	}
}

// Router builds the gin engine with every route registered.
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), requestID(), s.requestLogger())

	r.GET("/api/health", s.health)

	hooks := r.Group("/api/hooks")
	{
		hooks.POST("/nuevo-ticket", s.newTicketHook)
		hooks.POST("/cierre-ticket", s.closeTicketHook)
		hooks.POST("/splynx/ticket-update", s.splynxEventHook)
	}

	tickets := r.Group("/api/tickets")
	{
		tickets.POST("/process_webhooks", s.gatedTrigger("process_webhooks", s.triggers.ProcessWebhooks))
		tickets.POST("/assign_unassigned", s.gatedTrigger("assign_unassigned", s.triggers.AssignUnassigned))
		tickets.POST("/alert_overdue", s.trigger("alert_overdue", s.triggers.AlertOverdue))
		tickets.POST("/end_of_shift_notifications", s.trigger("end_of_shift_notifications", s.triggers.EndOfShift))
		tickets.POST("/auto_unassign_after_shift", s.trigger("auto_unassign_after_shift", s.triggers.AutoUnassign))
		tickets.POST("/sync_status", s.trigger("sync_status", s.triggers.SyncStatus))
		tickets.POST("/import_existing", s.trigger("import_existing", s.triggers.ImportExisting))
	}

	system := r.Group("/api/system")
	{
		system.GET("/status", s.systemStatus)
		system.POST("/pause", s.systemPause)
		system.POST("/resume", s.systemResume)
	}

	admin := r.Group("/api/admin")
	{
		admin.GET("/operators", s.listOperators)
		admin.PATCH("/operators/:person_id/config", s.patchOperator)
		admin.GET("/operators/:person_id/schedules", s.listOperatorSchedules)
		admin.PUT("/operators/:person_id/schedules", s.replaceOperatorSchedules)
		admin.GET("/config", s.listConfig)
		admin.PUT("/config/:key", s.putConfig)
		admin.GET("/audit", s.listAudit)
		admin.GET("/audit-requests", s.listAuditRequests)
		admin.GET("/reassignment-history", s.listReassignments)
		admin.POST("/assignment/reset", s.resetCounters)
	}

	return r
}

// requestID tags every request so webhook deliveries can be correlated with
// worker log lines. An upstream-provided id wins.
func requestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader("X-Request-ID")
		if id == "" {
			id = uuid.NewString()
		}
		c.Set("request_id", id)
		c.Writer.Header().Set("X-Request-ID", id)
		c.Next()
	}
}

// requestLogger logs every request at debug, errors at warn.
func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		attrs := []any{
			slog.String("method", c.Request.Method),
			slog.String("path", c.Request.URL.Path),
			slog.Int("status", c.Writer.Status()),
			slog.String("request_id", c.GetString("request_id")),
			slog.Duration("took", time.Since(start)),
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			s.logger.Warn("Request failed", attrs...)
			return
		}
		s.logger.Debug("Request handled", attrs...)
	}
}

// health answers GET /api/health with a database snapshot when available.
func (s *Server) health(c *gin.Context) {
	if s.healthDB == nil {
		c.JSON(http.StatusOK, gin.H{"status": "healthy"})
		return
	}

	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	dbHealth, err := database.Health(ctx, s.healthDB)
	if err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"status":   "unhealthy",
			"database": dbHealth,
			"error":    err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"status":   "healthy",
		"database": dbHealth,
	})
}

// paused reports whether the system pause is active, via either the state
// file or the SYSTEM_PAUSED config flag.
func (s *Server) paused(ctx context.Context) bool {
	if s.gate.Paused() {
		return true
	}
	flagged, err := s.config.GetBool(ctx, settings.KeySystemPaused)
	return err == nil && flagged
}

// gatedTrigger is trigger for the jobs that create incidents or issue
// assignments; while the system is paused those must not run, manually
// triggered or not.
func (s *Server) gatedTrigger(name string, run func(ctx context.Context) error) gin.HandlerFunc {
	inner := s.trigger(name, run)
	return func(c *gin.Context) {
		if s.paused(c.Request.Context()) {
			c.JSON(http.StatusConflict, gin.H{"error": "system paused"})
			return
		}
		inner(c)
	}
}

// trigger fires a worker entry point in the background and answers
// immediately; the scheduler and operators share these endpoints.
func (s *Server) trigger(name string, run func(ctx context.Context) error) gin.HandlerFunc {
	return func(c *gin.Context) {
		if run == nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"error": "job not available"})
			return
		}
		go func() {
			ctx, cancel := context.WithTimeout(context.Background(), triggerTimeout)
			defer cancel()
			if err := run(ctx); err != nil {
				s.logger.Error("Triggered job failed",
					slog.String("job", name),
					slog.String("error", err.Error()))
			}
		}()
		c.JSON(http.StatusOK, gin.H{"success": true})
	}
}
