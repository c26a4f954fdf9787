package queue

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/RezaEskandarii/jobcore/types"
	"github.com/lib/pq"
)

var _ Queue = (*PostgresQueue)(nil)

// Listener is the part of *pq.Listener the queue uses.
type Listener interface {
	Listen(channel string) error
	NotificationChannel() <-chan *pq.Notification
	Close() error
}

// NewPostgresListener opens a LISTEN connection that reconnects on its own.
func NewPostgresListener(connectionURL string, logger *slog.Logger) *pq.Listener {
	return pq.NewListener(connectionURL, 10*time.Second, time.Minute, func(ev pq.ListenerEventType, err error) {
		if err != nil {
			logger.Warn("postgres listener event", "event", ev, "error", err)
		}
	})
}

type PostgresQueueConfig struct {
	Channel      string
	Table        string
	PollInterval time.Duration
	PollBatch    int
}

// PostgresQueue announces ids with NOTIFY and hands out ids received through
// LISTEN. Notifications are not durable, so the queue also polls the jobs
// table for PENDING rows whenever it has nothing buffered.
type PostgresQueue struct {
	db       *sql.DB
	listener Listener
	cfg      PostgresQueueConfig
	pollSQL  string
	ticker   *time.Ticker

	mu     sync.Mutex
	buffer []types.JobID

	closeOnce sync.Once
	done      chan struct{}
}

func NewPostgresQueue(db *sql.DB, listener Listener, cfg PostgresQueueConfig) (*PostgresQueue, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.PollBatch <= 0 {
		cfg.PollBatch = 100
	}
	if err := listener.Listen(cfg.Channel); err != nil {
		return nil, fmt.Errorf("listen %s: %w", cfg.Channel, err)
	}

	return &PostgresQueue{
		db:       db,
		listener: listener,
		cfg:      cfg,
		pollSQL:  fmt.Sprintf(`SELECT id FROM %s WHERE status = 'PENDING' ORDER BY updated_at LIMIT $1`, cfg.Table),
		ticker: time.NewTicker(cfg.PollInterval),
		done:   make(chan struct{}),
	}, nil
}

func (q *PostgresQueue) Enqueue(ctx context.Context, id types.JobID) error {
	select {
	case <-q.done:
		return ErrQueueClosed
	default:
	}

	if _, err := q.db.ExecContext(ctx, "SELECT pg_notify($1, $2)", q.cfg.Channel, id.String()); err != nil {
		return fmt.Errorf("notify: %w", err)
	}
	return nil
}

func (q *PostgresQueue) Dequeue(ctx context.Context) (types.JobID, error) {
	for {
		select {
		case <-q.done:
			return "", ErrQueueClosed
		default:
		}
		if id, ok := q.pop(); ok {
			return id, nil
		}

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-q.done:
			return "", ErrQueueClosed
		case n, ok := <-q.listener.NotificationChannel():
			if !ok {
				return "", ErrQueueClosed
			}
			if n != nil {
				return types.JobID(n.Extra), nil
			}
			// nil after a reconnect: notifications may have been missed
			if err := q.poll(ctx); err != nil {
				return "", err
			}
		case <-q.ticker.C:
			if err := q.poll(ctx); err != nil {
				return "", err
			}
		}
	}
}

func (q *PostgresQueue) pop() (types.JobID, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buffer) == 0 {
		return "", false
	}
	id := q.buffer[0]
	q.buffer = q.buffer[1:]
	return id, true
}

// poll refills the buffer from PENDING rows, only when it is empty.
func (q *PostgresQueue) poll(ctx context.Context) error {
	q.mu.Lock()
	empty := len(q.buffer) == 0
	q.mu.Unlock()
	if !empty {
		return nil
	}

	rows, err := q.db.QueryContext(ctx, q.pollSQL, q.cfg.PollBatch)
	if err != nil {
		return fmt.Errorf("poll pending jobs: %w", err)
	}
	defer rows.Close()

	var ids []types.JobID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return fmt.Errorf("poll pending jobs: %w", err)
		}
		ids = append(ids, types.JobID(id))
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("poll pending jobs: %w", err)
	}

	q.mu.Lock()
	q.buffer = append(q.buffer, ids...)
	q.mu.Unlock()
	return nil
}

func (q *PostgresQueue) Close() error {
	var err error
	q.closeOnce.Do(func() {
		close(q.done)
		q.ticker.Stop()
		err = q.listener.Close()
	})
	return err
}
