package discovery

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/harborlight-collective/grantscout/internal/model"
)

func seedRun(store *fakeStore, id string, status model.RunStatus) {
	store.runs[id] = &model.DiscoveryRun{
		ID:        id,
		Trigger:   model.TriggerScheduled,
		Status:    status,
		StartedAt: time.Now().UTC(),
	}
}

func TestRequestCancelNoActiveRun(t *testing.T) {
	store := newFakeStore()
	seedRun(store, "done", model.RunCompleted)

	_, err := RequestCancel(context.Background(), store)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoActiveRun)
}

func TestRequestCancelRunningRun(t *testing.T) {
	store := newFakeStore()
	seedRun(store, "active", model.RunRunning)

	res, err := RequestCancel(context.Background(), store)
	require.NoError(t, err)
	assert.Equal(t, "active", res.RunID)
	assert.False(t, res.Forced)
	assert.Equal(t, model.RunCancelling, store.runs["active"].Status)
}

func TestRequestCancelEscalatesToForced(t *testing.T) {
	store := newFakeStore()
	seedRun(store, "stuck", model.RunRunning)

	first, err := RequestCancel(context.Background(), store)
	require.NoError(t, err)
	assert.False(t, first.Forced)

	// The orchestrator never picked up the signal; a second request
	// forces the terminal state.
	second, err := RequestCancel(context.Background(), store)
	require.NoError(t, err)
	assert.True(t, second.Forced)
	assert.Equal(t, model.RunCancelled, store.runs["stuck"].Status)

	_, err = RequestCancel(context.Background(), store)
	assert.ErrorIs(t, err, ErrNoActiveRun)
}
