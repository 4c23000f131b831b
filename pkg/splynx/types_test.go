package splynx

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTicketAssigneeFieldVariants(t *testing.T) {
	t.Run("assign_to", func(t *testing.T) {
		var tk Ticket
		require.NoError(t, json.Unmarshal([]byte(`{"id":"500","assign_to":27}`), &tk))
		assert.Equal(t, int64(27), tk.AssignTo.Int64())
	})

	t.Run("assigned_to", func(t *testing.T) {
		var tk Ticket
		require.NoError(t, json.Unmarshal([]byte(`{"id":"500","assigned_to":27,"subject":"Sin internet"}`), &tk))
		assert.Equal(t, int64(27), tk.AssignTo.Int64())
		assert.Equal(t, "Sin internet", tk.Subject)
	})

	t.Run("assign_to wins when both present", func(t *testing.T) {
		var tk Ticket
		require.NoError(t, json.Unmarshal([]byte(`{"id":"500","assign_to":"14","assigned_to":27}`), &tk))
		assert.Equal(t, int64(14), tk.AssignTo.Int64())
	})

	t.Run("neither leaves assignee empty", func(t *testing.T) {
		var tk Ticket
		require.NoError(t, json.Unmarshal([]byte(`{"id":"500"}`), &tk))
		assert.Equal(t, int64(0), tk.AssignTo.Int64())
	})
}
