//go:build cgo

package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/internal/store/sqlstore"
	"github.com/RezaEskandarii/jobcore/internal/store/storetest"
	"github.com/RezaEskandarii/jobcore/types/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSQLiteJobStore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T, clock store.Clock) store.JobStore {
		cfg := config.SQLiteConfig{
			Path:  filepath.Join(t.TempDir(), "jobs.db"),
			Table: config.DefaultTableName,
		}
		s, err := NewSQLiteJobStore(context.Background(), cfg, sqlstore.WithClock(clock))
		require.NoError(t, err)
		return s
	})
}

func TestSQLiteJobStore_SurvivesReopen(t *testing.T) {
	ctx := context.Background()
	cfg := config.SQLiteConfig{Path: filepath.Join(t.TempDir(), "jobs.db"), Table: "jobs"}

	s, err := NewSQLiteJobStore(ctx, cfg)
	require.NoError(t, err)
	id, err := s.Create(ctx, []byte("durable"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	reopened, err := NewSQLiteJobStore(ctx, cfg)
	require.NoError(t, err)
	defer reopened.Close()

	job, err := reopened.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("durable"), job.Payload)
}
