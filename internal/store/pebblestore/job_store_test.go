package pebblestore

import (
	"context"
	"testing"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/internal/store/storetest"
	"github.com/RezaEskandarii/jobcore/types/config"
	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPebbleJobStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock store.Clock) store.JobStore {
		s, err := NewPebbleJobStore(config.PebbleConfig{Dir: "jobs"}, WithFS(vfs.NewMem()), WithClock(clock))
		require.NoError(t, err)
		return s
	})
}

func TestPebbleJobStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.PebbleConfig{Dir: t.TempDir()}

	s, err := NewPebbleJobStore(cfg)
	require.NoError(t, err)
	id, err := s.Create(ctx, []byte("durable"))
	require.NoError(t, err)
	job, err := s.TryClaim(ctx, id, "w", 0)
	require.NoError(t, err)
	l, _ := job.Lease()
	require.NoError(t, s.Complete(ctx, l, nil))
	require.NoError(t, s.Close())

	reopened, err := NewPebbleJobStore(cfg)
	require.NoError(t, err)
	defer reopened.Close()

	job, err = reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, state.StatusCompleted, job.Status)
	assert.NotNil(t, job.Result)
	assert.Equal(t, []byte("durable"), job.Payload)
}

func TestPebbleJobStore_UnknownStatus(t *testing.T) {
	ctx := context.Background()
	s, err := NewPebbleJobStore(config.PebbleConfig{Dir: "jobs"}, WithFS(vfs.NewMem()))
	require.NoError(t, err)
	defer s.Close()

	id, err := s.Create(ctx, []byte("p"))
	require.NoError(t, err)
	require.NoError(t, s.db.Set(jobKey(id), []byte(`{"id":"`+id.String()+`","status":"LOST"}`), pebble.Sync))

	_, err = s.Get(ctx, id)
	assert.ErrorIs(t, err, custom_errors.ErrStorage)
}
