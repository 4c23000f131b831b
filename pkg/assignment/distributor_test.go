package assignment

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ipnext/ticketflow/pkg/models"
	"github.com/ipnext/ticketflow/pkg/repository"
	"github.com/ipnext/ticketflow/pkg/splynx"
	"github.com/ipnext/ticketflow/pkg/timeutil"
)

type fakeDistStore struct {
	fakeStore
	byExtID  map[string]*models.Incident
	mirrored []int64
	history  []*models.ReassignmentHistory
}

func (f *fakeDistStore) GetIncidentByExternalID(ctx context.Context, id string) (*models.Incident, error) {
	if inc, ok := f.byExtID[id]; ok {
		return inc, nil
	}
	return nil, repository.ErrNotFound
}

func (f *fakeDistStore) SetIncidentAssignee(ctx context.Context, id int64, personID sql.NullInt64) error {
	f.mirrored = append(f.mirrored, id)
	return nil
}

func (f *fakeDistStore) RecordReassignment(ctx context.Context, rec *models.ReassignmentHistory) error {
	f.history = append(f.history, rec)
	return nil
}

func (f *fakeDistStore) GetOperator(ctx context.Context, personID int64) (*models.OperatorConfig, error) {
	for _, op := range f.operators {
		if op.PersonID == personID {
			return &op, nil
		}
	}
	return nil, repository.ErrNotFound
}

type fakeDistRemote struct {
	unassigned []splynx.Ticket
	updates    map[string]int64
	failIDs    map[string]bool
}

func (f *fakeDistRemote) ListUnassigned(ctx context.Context) ([]splynx.Ticket, error) {
	return f.unassigned, nil
}

func (f *fakeDistRemote) UpdateAssignment(ctx context.Context, id string, adminID int64) error {
	if f.failIDs[id] {
		return errors.New("remote rejected assignment")
	}
	if f.updates == nil {
		f.updates = make(map[string]int64)
	}
	f.updates[id] = adminID
	return nil
}

type fakeDistConfig struct {
	fakeConfig
	bools map[string]bool
}

func (f *fakeDistConfig) GetBool(ctx context.Context, key string) (bool, error) {
	return f.bools[key], nil
}

func TestAssignUnassigned(t *testing.T) {
	monday := time.Date(2025, 3, 17, 10, 0, 0, 0, timeutil.Location())

	newDistributor := func(store *fakeDistStore, remote *fakeDistRemote) *Distributor {
		cfg := &fakeDistConfig{fakeConfig: *defaultConfig(), bools: map[string]bool{}}
		engine := NewEngine(&store.fakeStore, cfg, slog.Default())
		return NewDistributor(store, remote, engine, cfg, nil,
			timeutil.FixedClock{T: monday}, slog.Default())
	}

	t.Run("assigns and commits per success", func(t *testing.T) {
		store := &fakeDistStore{
			fakeStore: fakeStore{
				operators: []models.OperatorConfig{operator(10), operator(27)},
				counters: map[int64]models.AssignmentCounter{
					10: {PersonID: 10, TicketCount: 1},
				},
			},
			byExtID: map[string]*models.Incident{
				"778": {ID: 5, ExternalTicketID: sql.NullString{String: "778", Valid: true}},
			},
		}
		remote := &fakeDistRemote{unassigned: []splynx.Ticket{
			{ID: "778", Subject: "Sin internet"},
			{ID: "779", Subject: "Router"},
		}}

		assigned, err := newDistributor(store, remote).AssignUnassigned(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 2, assigned)

		// First ticket goes to 27 (zero counter), second to 10 after the
		// commit balances them.
		assert.Equal(t, int64(27), remote.updates["778"])
		assert.Equal(t, int64(10), remote.updates["779"])

		// Tracked incident mirrored locally; untracked one not.
		assert.Equal(t, []int64{5}, store.mirrored)
		require.Len(t, store.history, 2)
		assert.Equal(t, models.ReassignAuto, store.history[0].Type)
	})

	t.Run("remote failure skips commit", func(t *testing.T) {
		store := &fakeDistStore{
			fakeStore: fakeStore{
				operators: []models.OperatorConfig{operator(27)},
				counters:  map[int64]models.AssignmentCounter{},
			},
			byExtID: map[string]*models.Incident{},
		}
		remote := &fakeDistRemote{
			unassigned: []splynx.Ticket{{ID: "778"}},
			failIDs:    map[string]bool{"778": true},
		}

		assigned, err := newDistributor(store, remote).AssignUnassigned(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 0, assigned)
		assert.Equal(t, 0, store.counters[27].TicketCount)
		assert.Empty(t, store.history)
	})
}
