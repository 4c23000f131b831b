package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipnext/ticketflow/pkg/control"
	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/repository"
	"github.com/ipnext/ticketflow/pkg/settings"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeStore struct {
	newHooks      []*models.NewTicketWebhook
	closeHooks    []*models.CloseTicketWebhook
	splynxHooks   []*models.SplynxEventWebhook
	operators     map[int64]*models.OperatorConfig
	schedules     map[int64][]models.OperatorSchedule
	audit         []*models.AuditEntry
	auditRequests []models.Incident
	history       []models.ReassignmentHistory
	resets        int
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		operators: make(map[int64]*models.OperatorConfig),
		schedules: make(map[int64][]models.OperatorSchedule),
	}
}

func (f *fakeStore) SaveNewTicketWebhook(ctx context.Context, wh *models.NewTicketWebhook) error {
	wh.ID = int64(len(f.newHooks) + 1)
	f.newHooks = append(f.newHooks, wh)
	return nil
}

func (f *fakeStore) SaveCloseTicketWebhook(ctx context.Context, wh *models.CloseTicketWebhook) error {
	wh.ID = int64(len(f.closeHooks) + 1)
	f.closeHooks = append(f.closeHooks, wh)
	return nil
}

func (f *fakeStore) SaveSplynxEventWebhook(ctx context.Context, wh *models.SplynxEventWebhook) error {
	wh.ID = int64(len(f.splynxHooks) + 1)
	f.splynxHooks = append(f.splynxHooks, wh)
	return nil
}

func (f *fakeStore) ListOperators(ctx context.Context) ([]models.OperatorConfig, error) {
	var out []models.OperatorConfig
	for _, op := range f.operators {
		out = append(out, *op)
	}
	return out, nil
}

func (f *fakeStore) GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error) {
	if op, ok := f.operators[personID]; ok {
		cp := *op
		return &cp, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) UpsertOperator(ctx context.Context, op *models.OperatorConfig) error {
	cp := *op
	f.operators[op.PersonID] = &cp
	return nil
}

func (f *fakeStore) ListSchedules(ctx context.Context, personID int64, scheduleType string) ([]models.OperatorSchedule, error) {
	return f.schedules[personID], nil
}

func (f *fakeStore) ReplaceSchedules(ctx context.Context, personID int64, scheduleType string, schedules []models.OperatorSchedule) error {
	f.schedules[personID] = schedules
	return nil
}

func (f *fakeStore) ListPendingAuditIncidents(ctx context.Context) ([]models.Incident, error) {
	return f.auditRequests, nil
}

func (f *fakeStore) ListReassignments(ctx context.Context, ticketID string, limit int) ([]models.ReassignmentHistory, error) {
	return f.history, nil
}

func (f *fakeStore) RecordAudit(ctx context.Context, entry *models.AuditEntry) error {
	f.audit = append(f.audit, entry)
	return nil
}

func (f *fakeStore) ListAudit(ctx context.Context, limit int) ([]models.AuditEntry, error) {
	out := make([]models.AuditEntry, len(f.audit))
	for i, e := range f.audit {
		out[i] = *e
	}
	return out, nil
}

func (f *fakeStore) ResetCounters(ctx context.Context) error {
	f.resets++
	return nil
}

type fakeConfigStore struct {
	entries     []models.ConfigEntry
	set         map[string]string
	bools       map[string]bool
	invalidated int
}

func (f *fakeConfigStore) List(ctx context.Context) ([]models.ConfigEntry, error) {
	return f.entries, nil
}

func (f *fakeConfigStore) Set(ctx context.Context, key, value, valueType, category, updatedBy string) error {
	if f.set == nil {
		f.set = make(map[string]string)
	}
	f.set[key] = value
	return nil
}

func (f *fakeConfigStore) GetBool(ctx context.Context, key string) (bool, error) {
	return f.bools[key], nil
}

func (f *fakeConfigStore) Invalidate() { f.invalidated++ }

type testHarness struct {
	store  *fakeStore
	config *fakeConfigStore
	gate   *control.PauseGate
	router *gin.Engine
}

func newHarness(t *testing.T, triggers Triggers) *testHarness {
	t.Helper()
	gate, err := control.NewPauseGate(filepath.Join(t.TempDir(), "pause.json"))
	require.NoError(t, err)
	store := newFakeStore()
	config := &fakeConfigStore{}
	srv := NewServer(store, config, gate, triggers, nil, slog.Default())
	return &testHarness{store: store, config: config, gate: gate, router: srv.Router()}
}

func (h *testHarness) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	w := httptest.NewRecorder()
	h.router.ServeHTTP(w, req)
	return w
}

func TestNewTicketHook(t *testing.T) {
	h := newHarness(t, Triggers{})

	t.Run("persists a valid payload", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/hooks/nuevo-ticket", `{
			"numero_ticket": 778,
			"numero_cliente": "C-1001",
			"nombre_empresa": "Empresa SA",
			"fecha_creado": "17-03-2025 10:00:00",
			"motivo_contacto": "General Soporte"
		}`)
		require.Equal(t, http.StatusOK, w.Code)

		var resp map[string]any
		require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
		assert.Equal(t, true, resp["ok"])
		assert.EqualValues(t, 1, resp["id"])
		assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

		require.Len(t, h.store.newHooks, 1)
		saved := h.store.newHooks[0]
		assert.Equal(t, int64(778), saved.TicketNumber)
		assert.Equal(t, "C-1001", saved.CustomerRef)
		assert.Equal(t, "General Soporte", saved.ContactReason.String)
	})

	t.Run("accepts numero_ticket as a string", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/hooks/nuevo-ticket",
			`{"numero_ticket": "779", "numero_cliente": "C-2"}`)
		assert.Equal(t, http.StatusOK, w.Code)
	})

	t.Run("rejects a non-numeric ticket number", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/hooks/nuevo-ticket",
			`{"numero_ticket": "abc", "numero_cliente": "C-2"}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("rejects a missing customer reference", func(t *testing.T) {
		w := h.do(t, http.MethodPost, "/api/hooks/nuevo-ticket", `{"numero_ticket": 780}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestCloseTicketHook(t *testing.T) {
	h := newHarness(t, Triggers{})

	w := h.do(t, http.MethodPost, "/api/hooks/cierre-ticket", `{
		"numero_ticket": 778,
		"fecha_cerrado": "17-03-2025 15:30:00",
		"descripcion_cierre": "Resuelto"
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, h.store.closeHooks, 1)
	assert.Equal(t, "17-03-2025 15:30:00", h.store.closeHooks[0].ClosedAtRaw.String)

	w = h.do(t, http.MethodPost, "/api/hooks/cierre-ticket", `{"motivo": "sin numero"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestSplynxEventHook(t *testing.T) {
	h := newHarness(t, Triggers{})

	w := h.do(t, http.MethodPost, "/api/hooks/splynx/ticket-update",
		`{"type": "ticket_status_changed", "ticket_id": 778, "status_id": "3"}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, h.store.splynxHooks, 1)
	saved := h.store.splynxHooks[0]
	assert.Equal(t, "ticket_status_changed", saved.EventType)
	assert.Equal(t, "778", saved.TicketID.String)
	assert.Contains(t, saved.Payload, "status_id")

	w = h.do(t, http.MethodPost, "/api/hooks/splynx/ticket-update", `not json`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestTriggerEndpoints(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 1)
	h := newHarness(t, Triggers{
		SyncStatus: func(ctx context.Context) error {
			calls.Add(1)
			done <- struct{}{}
			return nil
		},
	})

	w := h.do(t, http.MethodPost, "/api/tickets/sync_status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"success": true}`, w.Body.String())

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job never ran")
	}
	assert.EqualValues(t, 1, calls.Load())

	// Unwired job answers 503.
	w = h.do(t, http.MethodPost, "/api/tickets/import_existing", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestGatedTriggersHonorPause(t *testing.T) {
	var calls atomic.Int32
	done := make(chan struct{}, 2)
	run := func(ctx context.Context) error {
		calls.Add(1)
		done <- struct{}{}
		return nil
	}
	h := newHarness(t, Triggers{ProcessWebhooks: run, AssignUnassigned: run})

	require.NoError(t, h.gate.Pause("admin", "mantenimiento"))
	w := h.do(t, http.MethodPost, "/api/tickets/assign_unassigned", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	w = h.do(t, http.MethodPost, "/api/tickets/process_webhooks", "")
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.EqualValues(t, 0, calls.Load())

	// The config flag pauses independently of the state file.
	require.NoError(t, h.gate.Resume("admin"))
	h.config.bools = map[string]bool{settings.KeySystemPaused: true}
	w = h.do(t, http.MethodPost, "/api/tickets/assign_unassigned", "")
	assert.Equal(t, http.StatusConflict, w.Code)

	h.config.bools = nil
	w = h.do(t, http.MethodPost, "/api/tickets/assign_unassigned", "")
	require.Equal(t, http.StatusOK, w.Code)
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("triggered job never ran after resume")
	}
	assert.EqualValues(t, 1, calls.Load())
}

func TestSystemPauseResume(t *testing.T) {
	h := newHarness(t, Triggers{})

	w := h.do(t, http.MethodGet, "/api/system/status", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"paused":false`)

	w = h.do(t, http.MethodPost, "/api/system/pause", `{"by": "ana", "reason": "mantenimiento"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.True(t, h.gate.Paused())
	assert.Equal(t, "ana", h.gate.State().PausedBy)

	w = h.do(t, http.MethodPost, "/api/system/resume", `{"by": "ana"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.False(t, h.gate.Paused())
}

func TestPatchOperator(t *testing.T) {
	h := newHarness(t, Triggers{})

	t.Run("creates an unknown operator on first patch", func(t *testing.T) {
		w := h.do(t, http.MethodPatch, "/api/admin/operators/27/config", `{
			"name": "Ana",
			"whatsapp_number": "549115555",
			"performed_by": "admin"
		}`)
		require.Equal(t, http.StatusOK, w.Code)

		op := h.store.operators[27]
		require.NotNil(t, op)
		assert.Equal(t, "Ana", op.Name)
		assert.True(t, op.IsActive)
		require.Len(t, h.store.audit, 1)
		assert.Equal(t, "update_operator", h.store.audit[0].Action)
	})

	t.Run("pause stamps metadata, resume clears it", func(t *testing.T) {
		w := h.do(t, http.MethodPatch, "/api/admin/operators/27/config",
			`{"is_paused": true, "pause_reason": "vacaciones", "performed_by": "admin"}`)
		require.Equal(t, http.StatusOK, w.Code)
		op := h.store.operators[27]
		assert.True(t, op.IsPaused)
		assert.True(t, op.PausedAt.Valid)
		assert.Equal(t, "vacaciones", op.PauseReason.String)

		w = h.do(t, http.MethodPatch, "/api/admin/operators/27/config", `{"is_paused": false}`)
		require.Equal(t, http.StatusOK, w.Code)
		op = h.store.operators[27]
		assert.False(t, op.IsPaused)
		assert.False(t, op.PausedAt.Valid)
	})

	t.Run("invalid person id", func(t *testing.T) {
		w := h.do(t, http.MethodPatch, "/api/admin/operators/abc/config", `{}`)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}

func TestReplaceSchedules(t *testing.T) {
	h := newHarness(t, Triggers{})

	w := h.do(t, http.MethodPut, "/api/admin/operators/27/schedules", `{
		"schedule_type": "work",
		"windows": [
			{"day_of_week": 1, "start_time": "08:00", "end_time": "16:00"},
			{"day_of_week": 2, "start_time": "08:00", "end_time": "16:00"}
		],
		"performed_by": "admin"
	}`)
	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, h.store.schedules[27], 2)
	assert.Equal(t, models.ScheduleWork, h.store.schedules[27][0].ScheduleType)

	w = h.do(t, http.MethodPut, "/api/admin/operators/27/schedules",
		`{"schedule_type": "siesta", "windows": []}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "unknown schedule type")
}

func TestPutConfig(t *testing.T) {
	h := newHarness(t, Triggers{})

	w := h.do(t, http.MethodPut, "/api/admin/config/TICKET_ALERT_THRESHOLD_MINUTES",
		`{"value": "45", "performed_by": "admin"}`)
	require.Equal(t, http.StatusOK, w.Code)

	assert.Equal(t, "45", h.config.set["TICKET_ALERT_THRESHOLD_MINUTES"])
	assert.Equal(t, 1, h.config.invalidated)
	require.Len(t, h.store.audit, 1)
	assert.Equal(t, "update_config", h.store.audit[0].Action)
	assert.Equal(t, "TICKET_ALERT_THRESHOLD_MINUTES", h.store.audit[0].EntityID.String)

	w = h.do(t, http.MethodPut, "/api/admin/config/SOME_KEY", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code, "value is required")
}

func TestListAuditRequests(t *testing.T) {
	h := newHarness(t, Triggers{})
	h.store.auditRequests = []models.Incident{{ID: 5, AuditRequested: true}}

	w := h.do(t, http.MethodGet, "/api/admin/audit-requests", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"count":1`)
}

func TestResetCountersEndpoint(t *testing.T) {
	h := newHarness(t, Triggers{})

	w := h.do(t, http.MethodPost, "/api/admin/assignment/reset", `{"performed_by": "admin"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, h.store.resets)
	require.Len(t, h.store.audit, 1)
	assert.Equal(t, "reset_counters", h.store.audit[0].Action)
}
