package saga

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestTrackerAdmitsUnknownWorkflows(t *testing.T) {
	tr := NewTracker(time.Hour)
	require.NoError(t, tr.Admit("W1", EventInitiation))
	require.NoError(t, tr.Admit("W1", EventPaymentOutcome))
	require.NoError(t, tr.Admit("W1", EventShippingOutcome))
}

func TestTrackerRejectsDuplicates(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Commit("W1", StateShippingRequested, "", false)

	require.ErrorIs(t, tr.Admit("W1", EventInitiation), ErrInvalidTransition)
	require.ErrorIs(t, tr.Admit("W1", EventPaymentOutcome), ErrInvalidTransition)
	require.NoError(t, tr.Admit("W1", EventShippingOutcome))

	tr.Commit("W1", StateCompleted, "", false)
	require.ErrorIs(t, tr.Admit("W1", EventShippingOutcome), ErrInvalidTransition)
}

func TestTrackerAdmitsOutcomesAheadOfTheirCommit(t *testing.T) {
	tr := NewTracker(time.Hour)

	tr.Commit("W1", StateInitiated, "", false)
	require.NoError(t, tr.Admit("W1", EventPaymentOutcome))
	require.ErrorIs(t, tr.Admit("W1", EventInitiation), ErrInvalidTransition)

	tr.Commit("W2", StatePaymentRequested, "", false)
	require.NoError(t, tr.Admit("W2", EventShippingOutcome))
	require.NoError(t, tr.Admit("W2", EventPaymentOutcome))
}

func TestTrackerCommitNeverMovesBackwards(t *testing.T) {
	tr := NewTracker(time.Hour)
	tr.Commit("W1", StateShippingRequested, "", true)
	rec := tr.Commit("W1", StatePaymentRequested, "", false)

	require.Equal(t, StateShippingRequested, rec.State)
	require.True(t, rec.Degraded)

	rec = tr.Commit("W1", StateFailed, ReasonShippingFailed, false)
	require.Equal(t, StateFailed, rec.State)
	require.True(t, rec.State.Terminal())
	require.Equal(t, ReasonShippingFailed, rec.Reason)
	require.True(t, rec.Degraded)
}

func TestTrackerEvictsStaleRecords(t *testing.T) {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	tr := NewTracker(time.Hour)
	tr.now = func() time.Time { return now }

	tr.Commit("old", StateCompleted, "", false)
	now = now.Add(45 * time.Minute)
	tr.Commit("fresh", StateInitiated, "", false)
	now = now.Add(30 * time.Minute)

	removed, err := tr.Evict(context.Background())
	require.NoError(t, err)
	require.Equal(t, 1, removed)

	_, ok := tr.Get("old")
	require.False(t, ok)
	_, ok = tr.Get("fresh")
	require.True(t, ok)
}
