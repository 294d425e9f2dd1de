package health

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"grimm.is/curfew/internal/state"
)

func TestWorst(t *testing.T) {
	assert.Equal(t, StatusOK, Worst(nil))
	assert.Equal(t, StatusOK, Worst([]Check{{Status: StatusOK}}))
	assert.Equal(t, StatusWarn, Worst([]Check{{Status: StatusOK}, {Status: StatusWarn}}))
	assert.Equal(t, StatusFail, Worst([]Check{{Status: StatusWarn}, {Status: StatusFail}}))
}

func TestCheckStore(t *testing.T) {
	assert.Equal(t, StatusFail, CheckStore(nil).Status)

	store, err := state.Open(state.Options{Path: ":memory:"})
	require.NoError(t, err)
	defer store.Close()
	assert.Equal(t, StatusOK, CheckStore(store).Status)
}
