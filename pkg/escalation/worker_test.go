package escalation

import (
	"context"
	"database/sql"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/repository"
	"github.com/ipnext/ticketflow/pkg/settings"
	"github.com/ipnext/ticketflow/pkg/splynx"
	"github.com/ipnext/ticketflow/pkg/timeutil"
	"github.com/ipnext/ticketflow/pkg/whatsapp"
)

type fakeStore struct {
	incidents map[string]*models.Incident
	created   []*models.Incident
	updated   []*models.Incident
	operators map[int64]*models.OperatorConfig
}

func (f *fakeStore) GetIncidentByExternalID(ctx context.Context, id string) (*models.Incident, error) {
	if inc, ok := f.incidents[id]; ok {
		return inc, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeStore) CreateIncident(ctx context.Context, inc *models.Incident) error {
	f.created = append(f.created, inc)
	f.incidents[inc.ExternalTicketID.String] = inc
	return nil
}

func (f *fakeStore) UpdateIncident(ctx context.Context, inc *models.Incident) error {
	f.updated = append(f.updated, inc)
	return nil
}

func (f *fakeStore) GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error) {
	if op, ok := f.operators[personID]; ok {
		return op, nil
	}
	return nil, repository.ErrNotFound
}

type fakeRemote struct {
	assigned []splynx.Ticket
}

func (f *fakeRemote) ListAssigned(ctx context.Context) ([]splynx.Ticket, error) {
	return f.assigned, nil
}

type fakeConfig struct {
	ints  map[string]int
	bools map[string]bool
}

func (f *fakeConfig) GetInt(ctx context.Context, key string) (int, error)   { return f.ints[key], nil }
func (f *fakeConfig) GetBool(ctx context.Context, key string) (bool, error) { return f.bools[key], nil }

type fakeSender struct {
	sent []struct{ number, text string }
	fail bool
}

func (f *fakeSender) SendText(ctx context.Context, number, text string) error {
	if f.fail {
		return assert.AnError
	}
	f.sent = append(f.sent, struct{ number, text string }{number, text})
	return nil
}

var testNow = time.Date(2025, 3, 17, 12, 0, 0, 0, timeutil.Location())

func defaultTestConfig() *fakeConfig {
	return &fakeConfig{
		ints: map[string]int{
			settings.KeyAlertThresholdMinutes:  60,
			settings.KeyUpdateThresholdMinutes: 60,
			settings.KeyRenotificationMinutes:  60,
			settings.KeyOuthouseNoAlertMinutes: 120,
			settings.KeyPreAlertMinutes:        15,
		},
		bools: map[string]bool{settings.KeyWhatsAppEnabled: true},
	}
}

func notifiableOperator(id int64, number string) *models.OperatorConfig {
	return &models.OperatorConfig{
		PersonID:             id,
		Name:                 "Ana",
		WhatsAppNumber:       sql.NullString{String: number, Valid: true},
		IsActive:             true,
		NotificationsEnabled: true,
	}
}

// splynxAt formats an offset from testNow in the remote timestamp format.
func splynxAt(minutesAgo int64) string {
	return timeutil.FormatSplynx(testNow.Add(-time.Duration(minutesAgo) * time.Minute))
}

func overdueTicket(id string, assignee string, createdAgo, updatedAgo int64) splynx.Ticket {
	return splynx.Ticket{
		ID:        splynx.FlexString(id),
		AssignTo:  splynx.FlexString(assignee),
		Subject:   "Sin internet",
		CreatedAt: splynxAt(createdAgo),
		UpdatedAt: splynxAt(updatedAgo),
	}
}

func newTestWorker(store *fakeStore, remote *fakeRemote, cfg *fakeConfig, sender *fakeSender) *Worker {
	return NewWorker(store, remote, cfg, whatsapp.NewServiceWithSender(sender),
		timeutil.FixedClock{T: testNow}, slog.Default())
}

func TestAlertOverdueGroupsPerOperator(t *testing.T) {
	store := &fakeStore{
		incidents: map[string]*models.Incident{},
		operators: map[int64]*models.OperatorConfig{27: notifiableOperator(27, "549115555")},
	}
	remote := &fakeRemote{assigned: []splynx.Ticket{
		overdueTicket("1", "27", 300, 120),
		overdueTicket("2", "27", 200, 90),
	}}
	sender := &fakeSender{}

	require.NoError(t, newTestWorker(store, remote, defaultTestConfig(), sender).AlertOverdue(context.Background()))

	// One grouped message, not two.
	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, "2 tickets sin atender")

	// Both incidents created as metric records and stamped.
	require.Len(t, store.created, 2)
	require.Len(t, store.updated, 2)
	for _, inc := range store.updated {
		assert.True(t, inc.LastAlertSentAt.Valid)
		assert.True(t, inc.FirstAlertSentAt.Valid)
		assert.Equal(t, 1, inc.AlertCount)
		assert.True(t, inc.ExceededThreshold)
	}
}

func TestAlertOverdueUntouchedTicketsAgeFromCreation(t *testing.T) {
	// Tickets nobody ever touched keep updated_at == created_at; they must
	// age against now, or the most-neglected tickets would never alert.
	store := &fakeStore{
		incidents: map[string]*models.Incident{},
		operators: map[int64]*models.OperatorConfig{27: notifiableOperator(27, "549115555")},
	}
	remote := &fakeRemote{assigned: []splynx.Ticket{
		overdueTicket("1", "27", 70, 70),
		overdueTicket("2", "27", 80, 80),
		overdueTicket("3", "27", 90, 90),
	}}
	sender := &fakeSender{}
	worker := newTestWorker(store, remote, defaultTestConfig(), sender)

	require.NoError(t, worker.AlertOverdue(context.Background()))

	require.Len(t, sender.sent, 1)
	assert.Contains(t, sender.sent[0].text, "3 tickets sin atender")
	require.Len(t, store.updated, 3)
	for _, inc := range store.updated {
		assert.True(t, inc.LastAlertSentAt.Valid)
		assert.Equal(t, 1, inc.AlertCount)
	}

	// An immediate second pass stays inside the renotification window.
	require.NoError(t, worker.AlertOverdue(context.Background()))
	assert.Len(t, sender.sent, 1)
}

func TestAlertOverdueSuppression(t *testing.T) {
	run := func(t *testing.T, tickets []splynx.Ticket, incidents map[string]*models.Incident, cfg *fakeConfig) *fakeSender {
		t.Helper()
		if incidents == nil {
			incidents = map[string]*models.Incident{}
		}
		store := &fakeStore{
			incidents: incidents,
			operators: map[int64]*models.OperatorConfig{27: notifiableOperator(27, "549115555")},
		}
		sender := &fakeSender{}
		require.NoError(t, newTestWorker(store, &fakeRemote{assigned: tickets}, cfg, sender).AlertOverdue(context.Background()))
		return sender
	}

	t.Run("recent remote activity suppresses", func(t *testing.T) {
		sender := run(t, []splynx.Ticket{overdueTicket("1", "27", 300, 10)}, nil, defaultTestConfig())
		assert.Empty(t, sender.sent)
	})

	t.Run("young ticket suppresses", func(t *testing.T) {
		sender := run(t, []splynx.Ticket{overdueTicket("1", "27", 30, 70)}, nil, defaultTestConfig())
		assert.Empty(t, sender.sent)
	})

	t.Run("outhouse status extends the leash", func(t *testing.T) {
		ticket := overdueTicket("1", "27", 300, 90)
		ticket.StatusID = statusIDOuthouse
		sender := run(t, []splynx.Ticket{ticket}, nil, defaultTestConfig())
		assert.Empty(t, sender.sent)

		// Beyond the outhouse window the alert fires again.
		stale := overdueTicket("2", "27", 400, 150)
		stale.StatusID = statusIDOuthouse
		sender = run(t, []splynx.Ticket{stale}, nil, defaultTestConfig())
		assert.Len(t, sender.sent, 1)
	})

	t.Run("renotification interval suppresses repeats", func(t *testing.T) {
		incidents := map[string]*models.Incident{
			"1": {
				ExternalTicketID: sql.NullString{String: "1", Valid: true},
				LastAlertSentAt:  sql.NullTime{Time: testNow.Add(-30 * time.Minute), Valid: true},
			},
		}
		sender := run(t, []splynx.Ticket{overdueTicket("1", "27", 300, 120)}, incidents, defaultTestConfig())
		assert.Empty(t, sender.sent)
	})

	t.Run("global switch disables the pass", func(t *testing.T) {
		cfg := defaultTestConfig()
		cfg.bools[settings.KeyWhatsAppEnabled] = false
		sender := run(t, []splynx.Ticket{overdueTicket("1", "27", 300, 120)}, nil, cfg)
		assert.Empty(t, sender.sent)
	})

	t.Run("operator with notifications off is skipped", func(t *testing.T) {
		store := &fakeStore{
			incidents: map[string]*models.Incident{},
			operators: map[int64]*models.OperatorConfig{27: {PersonID: 27, IsActive: true}},
		}
		sender := &fakeSender{}
		remote := &fakeRemote{assigned: []splynx.Ticket{overdueTicket("1", "27", 300, 120)}}
		require.NoError(t, newTestWorker(store, remote, defaultTestConfig(), sender).AlertOverdue(context.Background()))
		assert.Empty(t, sender.sent)
	})
}

func TestAlertOverdueFailedSendLeavesStateUntouched(t *testing.T) {
	store := &fakeStore{
		incidents: map[string]*models.Incident{},
		operators: map[int64]*models.OperatorConfig{27: notifiableOperator(27, "549115555")},
	}
	remote := &fakeRemote{assigned: []splynx.Ticket{overdueTicket("1", "27", 300, 120)}}
	sender := &fakeSender{fail: true}

	require.NoError(t, newTestWorker(store, remote, defaultTestConfig(), sender).AlertOverdue(context.Background()))
	assert.Empty(t, store.updated)
}

func TestPreAlert(t *testing.T) {
	t.Run("fires inside the pre-alert band once", func(t *testing.T) {
		// Created 50 min before last update: inside [45, 60).
		ticket := overdueTicket("1", "27", 55, 5)
		store := &fakeStore{
			incidents: map[string]*models.Incident{},
			operators: map[int64]*models.OperatorConfig{27: notifiableOperator(27, "549115555")},
		}
		sender := &fakeSender{}
		worker := newTestWorker(store, &fakeRemote{assigned: []splynx.Ticket{ticket}}, defaultTestConfig(), sender)

		require.NoError(t, worker.PreAlert(context.Background()))
		require.Len(t, sender.sent, 1)
		assert.Contains(t, sender.sent[0].text, "Aviso previo")
		require.Len(t, store.updated, 1)
		assert.True(t, store.updated[0].PreAlertSentAt.Valid)

		// Second pass is a no-op thanks to pre_alert_sent_at.
		require.NoError(t, worker.PreAlert(context.Background()))
		assert.Len(t, sender.sent, 1)
	})

	t.Run("already overdue ticket is excluded", func(t *testing.T) {
		store := &fakeStore{
			incidents: map[string]*models.Incident{},
			operators: map[int64]*models.OperatorConfig{27: notifiableOperator(27, "549115555")},
		}
		sender := &fakeSender{}
		remote := &fakeRemote{assigned: []splynx.Ticket{overdueTicket("1", "27", 300, 120)}}

		require.NoError(t, newTestWorker(store, remote, defaultTestConfig(), sender).PreAlert(context.Background()))
		assert.Empty(t, sender.sent)
	})
}
