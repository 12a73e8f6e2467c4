package api

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/funding-ledger/store/sqlite"
)

func completedRuns(t *testing.T, store *sqlite.Store) int {
	t.Helper()
	runs, err := store.GetReconciliationRuns(context.Background(), sqlite.RunCompleted, 0)
	require.NoError(t, err)
	return len(runs)
}

func TestScheduler_RunsOnStartAndOnEveryTick(t *testing.T) {
	// GIVEN: A scheduler with a short interval over a clean ledger
	// WHEN: It is started and left running for a few ticks
	// THEN: Completed runs are recorded, and none are added after Stop

	s := newTestServer(t)
	s.seedGuest(10)

	rs := NewReconciliationScheduler(s.ledger, s.store, zerolog.Nop())
	rs.CheckInterval = 10 * time.Millisecond
	rs.Start()
	rs.Start() // second start is a no-op

	require.Eventually(t, func() bool { return completedRuns(t, s.store) >= 2 },
		2*time.Second, 5*time.Millisecond, "the immediate run and at least one tick")
	rs.Stop()

	after := completedRuns(t, s.store)
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, completedRuns(t, s.store))

	runs, err := s.store.GetReconciliationRuns(context.Background(), sqlite.RunCompleted, 1)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, 1, runs[0].Checked)
	assert.NotNil(t, runs[0].CompletedAt)

	rs.Stop() // stopping twice is safe
}

func TestScheduler_DisabledDoesNotRun(t *testing.T) {
	s := newTestServer(t)

	rs := NewReconciliationScheduler(s.ledger, s.store, zerolog.Nop())
	rs.CheckInterval = 10 * time.Millisecond
	rs.Enabled = false
	rs.Start()
	time.Sleep(30 * time.Millisecond)
	rs.Stop()

	runs, err := s.store.GetReconciliationRuns(context.Background(), "", 0)
	require.NoError(t, err)
	assert.Empty(t, runs)
}
