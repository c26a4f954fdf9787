package sqlstore

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/types"
)

const jobColumns = `id, payload, status, attempt_count, lease_owner, lease_expires_at, result, error, created_at, updated_at`

var timeLayouts = []string{
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02T15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	time.RFC3339Nano,
}

// nullTime scans timestamps that arrive either as time.Time or as text, which
// happens with sqlite when the column type is not visible to the driver
// (for example in RETURNING clauses).
type nullTime struct {
	Time  time.Time
	Valid bool
}

func (n *nullTime) Scan(value any) error {
	switch v := value.(type) {
	case nil:
		n.Time, n.Valid = time.Time{}, false
		return nil
	case time.Time:
		n.Time, n.Valid = v.UTC(), true
		return nil
	case []byte:
		return n.parse(string(v))
	case string:
		return n.parse(v)
	default:
		return fmt.Errorf("cannot scan %T into timestamp", value)
	}
}

func (n *nullTime) parse(s string) error {
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			n.Time, n.Valid = t.UTC(), true
			return nil
		}
	}
	return fmt.Errorf("cannot parse timestamp %q", s)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*types.Job, error) {
	var (
		job       types.Job
		id        string
		status    string
		owner     sql.NullString
		errMsg    sql.NullString
		expiresAt nullTime
		createdAt nullTime
		updatedAt nullTime
	)
	err := row.Scan(&id, &job.Payload, &status, &job.AttemptCount, &owner,
		&expiresAt, &job.Result, &errMsg, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	job.ID = types.JobID(id)
	if job.Status, err = state.Parse(status); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	job.LeaseOwner = owner.String
	job.Error = errMsg.String
	job.CreatedAt = createdAt.Time
	job.UpdatedAt = updatedAt.Time
	if expiresAt.Valid {
		t := expiresAt.Time
		job.LeaseExpiresAt = &t
	}
	if job.Payload == nil {
		job.Payload = []byte{}
	}
	return &job, nil
}
