package sqlstore

import (
	"fmt"
	"strconv"
	"strings"
)

// Dialect captures what differs between the SQL backends. Queries are written
// with '?' placeholders and rebound per dialect.
type Dialect struct {
	Name     string
	numbered bool
	blobType string
	timeType string
}

var (
	Postgres = Dialect{Name: "postgres", numbered: true, blobType: "BYTEA", timeType: "TIMESTAMPTZ"}
	SQLite   = Dialect{Name: "sqlite3", blobType: "BLOB", timeType: "TIMESTAMP"}
)

// Rebind rewrites '?' placeholders into the dialect's native form.
func (d Dialect) Rebind(query string) string {
	if !d.numbered {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Schema returns the statements that create the jobs table and its indexes.
func (d Dialect) Schema(table string) []string {
	index := strings.ReplaceAll(table, ".", "_")
	return []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id               TEXT PRIMARY KEY,
	payload          %s NOT NULL,
	status           TEXT NOT NULL,
	attempt_count    INTEGER NOT NULL DEFAULT 0,
	lease_owner      TEXT,
	lease_expires_at %s,
	result           %s,
	error            TEXT,
	created_at       %s NOT NULL,
	updated_at       %s NOT NULL
)`, table, d.blobType, d.timeType, d.blobType, d.timeType, d.timeType),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_lease_idx ON %s (status, lease_expires_at)`, index, table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS %s_status_updated_idx ON %s (status, updated_at)`, index, table),
	}
}
