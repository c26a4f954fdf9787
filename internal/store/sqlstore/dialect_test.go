package sqlstore

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDialect_Rebind(t *testing.T) {
	tests := []struct {
		name     string
		dialect  Dialect
		query    string
		expected string
	}{
		{"postgres numbers placeholders", Postgres, "UPDATE t SET a = ? WHERE id = ? AND b < ?", "UPDATE t SET a = $1 WHERE id = $2 AND b < $3"},
		{"postgres without placeholders", Postgres, "SELECT 1", "SELECT 1"},
		{"sqlite keeps question marks", SQLite, "SELECT * FROM t WHERE id = ?", "SELECT * FROM t WHERE id = ?"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.dialect.Rebind(tt.query))
		})
	}
}

func TestDialect_Schema(t *testing.T) {
	pg := Postgres.Schema("jobcore.jobs")
	require.Len(t, pg, 3)
	assert.Contains(t, pg[0], "CREATE TABLE IF NOT EXISTS jobcore.jobs")
	assert.Contains(t, pg[0], "payload          BYTEA NOT NULL")
	assert.Contains(t, pg[0], "lease_expires_at TIMESTAMPTZ")
	assert.Contains(t, pg[1], "jobcore_jobs_status_lease_idx")

	lite := SQLite.Schema("jobs")
	assert.Contains(t, lite[0], "payload          BLOB NOT NULL")
	assert.Contains(t, lite[0], "created_at       TIMESTAMP NOT NULL")
}

func TestNew_RejectsInvalidTableName(t *testing.T) {
	_, err := New(nil, Postgres, "jobs; DROP TABLE users")
	assert.Error(t, err)

	_, err = New(nil, Postgres, "public.jobs")
	assert.NoError(t, err)
}

func TestNullTime_Scan(t *testing.T) {
	want := time.Date(2025, 3, 1, 12, 0, 30, 500_000_000, time.UTC)

	tests := []struct {
		name  string
		value any
		valid bool
	}{
		{"nil", nil, false},
		{"time value", want.In(time.FixedZone("x", 3600)), true},
		{"sqlite text", "2025-03-01 12:00:30.5+00:00", true},
		{"rfc3339 bytes", []byte("2025-03-01T12:00:30.5Z"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var n nullTime
			require.NoError(t, n.Scan(tt.value))
			assert.Equal(t, tt.valid, n.Valid)
			if tt.valid {
				assert.True(t, want.Equal(n.Time))
				assert.Equal(t, time.UTC, n.Time.Location())
			}
		})
	}

	var n nullTime
	assert.Error(t, n.Scan("yesterday"))
	assert.Error(t, n.Scan(42))
}
