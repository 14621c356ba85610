package conflict

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altitudeinfosys/expandnote/internal/config"
)

func mustMap(t *testing.T, raw json.RawMessage) map[string]interface{} {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	return m
}

func TestMergeDisjointEditsAreClean(t *testing.T) {
	base := json.RawMessage(`{"id":"n1","title":"Groceries","content":"milk","favorite":false,"updated_at":100}`)
	local := json.RawMessage(`{"id":"n1","title":"Groceries","content":"milk, eggs","favorite":false,"updated_at":110}`)
	remote := json.RawMessage(`{"id":"n1","title":"Groceries","content":"milk","favorite":true,"updated_at":120,"sync_version":5}`)

	result, err := Merge(base, local, remote)
	require.NoError(t, err)
	assert.True(t, result.Clean)

	merged := mustMap(t, result.Merged)
	assert.Equal(t, "milk, eggs", merged["content"], "local content edit kept")
	assert.Equal(t, true, merged["favorite"], "remote favorite edit kept")
	assert.Equal(t, float64(120), merged["updated_at"], "updated_at is max of both")
}

func TestMergeSameFieldDifferentValuesConflicts(t *testing.T) {
	base := json.RawMessage(`{"id":"n1","content":"milk","updated_at":100}`)
	local := json.RawMessage(`{"id":"n1","content":"milk, eggs","updated_at":110}`)
	remote := json.RawMessage(`{"id":"n1","content":"milk, bread","updated_at":120}`)

	result, err := Merge(base, local, remote)
	require.NoError(t, err)
	assert.False(t, result.Clean)
	assert.Equal(t, []string{"content"}, result.Conflicting)
}

func TestMergeSameFieldSameValueIsClean(t *testing.T) {
	base := json.RawMessage(`{"id":"n1","content":"milk","updated_at":100}`)
	local := json.RawMessage(`{"id":"n1","content":"milk, eggs","updated_at":110}`)
	remote := json.RawMessage(`{"id":"n1","content":"milk, eggs","updated_at":120}`)

	result, err := Merge(base, local, remote)
	require.NoError(t, err)
	assert.True(t, result.Clean, "converging edits are not a conflict")
}

func TestMergeNeverTouchesIdentityFields(t *testing.T) {
	base := json.RawMessage(`{"id":"n1","sync_version":1,"content":"a"}`)
	local := json.RawMessage(`{"id":"hacked","sync_version":99,"content":"b"}`)
	remote := json.RawMessage(`{"id":"n1","sync_version":5,"content":"a"}`)

	result, err := Merge(base, local, remote)
	require.NoError(t, err)
	merged := mustMap(t, result.Merged)
	assert.Equal(t, "n1", merged["id"])
	assert.Equal(t, float64(5), merged["sync_version"], "server bookkeeping wins")
}

func TestMergeEmptyBaseTreatsAllLocalFieldsAsEdits(t *testing.T) {
	local := json.RawMessage(`{"id":"n1","content":"offline draft"}`)
	remote := json.RawMessage(`{"id":"n1","content":"server draft","sync_version":2}`)

	result, err := Merge(nil, local, remote)
	require.NoError(t, err)
	assert.False(t, result.Clean)
}

func TestResolverManualParks(t *testing.T) {
	r := NewResolver(config.StrategyManual)
	outcome := r.Resolve(
		json.RawMessage(`{"updated_at":200}`),
		json.RawMessage(`{"updated_at":100}`),
	)
	assert.Equal(t, OutcomeManual, outcome)
}

func TestResolverLastWriteWins(t *testing.T) {
	r := NewResolver(config.StrategyLastWriteWins)

	assert.Equal(t, OutcomeLocalWins, r.Resolve(
		json.RawMessage(`{"updated_at":200}`),
		json.RawMessage(`{"updated_at":100}`),
	))
	assert.Equal(t, OutcomeRemoteWins, r.Resolve(
		json.RawMessage(`{"updated_at":100}`),
		json.RawMessage(`{"updated_at":200}`),
	))
	// Remote wins ties: it is already durable
	assert.Equal(t, OutcomeRemoteWins, r.Resolve(
		json.RawMessage(`{"updated_at":100}`),
		json.RawMessage(`{"updated_at":100}`),
	))
}
