// Package redisstore keeps jobs as Redis hashes. Every transition runs as a
// Lua script, so the check and the write happen atomically on the server.
//
// Keys, all under the configured prefix:
//
//	<prefix>:job:<id>  hash with the job fields, times in unix milliseconds
//	<prefix>:claims    sorted set of CLAIMED ids scored by lease expiry
//	<prefix>:pending   sorted set of PENDING ids scored by last update
package redisstore

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/redis/go-redis/v9"
)

var _ store.JobStore = (*JobStore)(nil)

// script results that are not a job
const (
	codeNotFound = 0
	codeRejected = -1
)

var tryClaimScript = redis.NewScript(`
local status = redis.call('HGET', KEYS[1], 'status')
if not status then return 0 end
if status == 'CLAIMED' then
	if tonumber(redis.call('HGET', KEYS[1], 'lease_expires_at')) >= tonumber(ARGV[2]) then return -1 end
	redis.call('HINCRBY', KEYS[1], 'attempt_count', 1)
elseif status ~= 'PENDING' then
	return -1
end
redis.call('HSET', KEYS[1], 'status', 'CLAIMED', 'lease_owner', ARGV[1], 'lease_expires_at', ARGV[3], 'updated_at', ARGV[2])
redis.call('ZREM', KEYS[3], ARGV[4])
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return redis.call('HGETALL', KEYS[1])
`)

var finalizeScript = redis.NewScript(`
local job = redis.call('HMGET', KEYS[1], 'status', 'lease_owner', 'attempt_count')
if not job[1] then return 0 end
if job[1] ~= 'CLAIMED' or job[2] ~= ARGV[1] or job[3] ~= ARGV[2] then return -1 end
redis.call('HSET', KEYS[1], 'status', ARGV[3], ARGV[4], ARGV[5], 'updated_at', ARGV[6])
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_expires_at')
redis.call('ZREM', KEYS[2], ARGV[7])
return 1
`)

var reclaimScript = redis.NewScript(`
local job = redis.call('HMGET', KEYS[1], 'status', 'lease_expires_at', 'attempt_count')
if not job[1] then return 0 end
if job[1] ~= 'CLAIMED' or tonumber(job[2]) >= tonumber(ARGV[1]) then return -1 end
local attempts = tonumber(job[3]) + 1
redis.call('HDEL', KEYS[1], 'lease_owner', 'lease_expires_at')
redis.call('ZREM', KEYS[2], ARGV[4])
if attempts >= tonumber(ARGV[2]) then
	redis.call('HSET', KEYS[1], 'status', 'FAILED', 'attempt_count', attempts, 'error', ARGV[3], 'updated_at', ARGV[1])
	return 'FAILED'
end
redis.call('HSET', KEYS[1], 'status', 'PENDING', 'attempt_count', attempts, 'updated_at', ARGV[1])
redis.call('ZADD', KEYS[3], ARGV[1], ARGV[4])
return 'PENDING'
`)

type Option func(*JobStore)

func WithClock(clock store.Clock) Option {
	return func(s *JobStore) { s.now = clock }
}

// JobStore is backed by Redis. The caller owns the client lifecycle.
type JobStore struct {
	client redis.UniversalClient
	prefix string
	now    store.Clock
}

func NewRedisJobStore(client redis.UniversalClient, prefix string, opts ...Option) *JobStore {
	s := &JobStore{client: client, prefix: prefix, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *JobStore) jobKey(id types.JobID) string { return s.prefix + ":job:" + id.String() }
func (s *JobStore) claimsKey() string            { return s.prefix + ":claims" }
func (s *JobStore) pendingKey() string           { return s.prefix + ":pending" }

func (s *JobStore) keys(id types.JobID) []string {
	return []string{s.jobKey(id), s.claimsKey(), s.pendingKey()}
}

func millis(t time.Time) string {
	return strconv.FormatInt(t.UnixMilli(), 10)
}

func (s *JobStore) Create(ctx context.Context, payload []byte) (types.JobID, error) {
	id := types.NewJobID()
	now := s.now()

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, s.jobKey(id), map[string]any{
		"id":            id.String(),
		"payload":       string(payload),
		"status":        state.StatusPending.String(),
		"attempt_count": "0",
		"created_at":    millis(now),
		"updated_at":    millis(now),
	})
	pipe.ZAdd(ctx, s.pendingKey(), redis.Z{Score: float64(now.UnixMilli()), Member: id.String()})
	if _, err := pipe.Exec(ctx); err != nil {
		return "", custom_errors.NewStorageError("create", err)
	}
	return id, nil
}

func (s *JobStore) Get(ctx context.Context, id types.JobID) (*types.Job, error) {
	vals, err := s.client.HGetAll(ctx, s.jobKey(id)).Result()
	if err != nil {
		return nil, custom_errors.NewStorageError("get", err)
	}
	if len(vals) == 0 {
		return nil, custom_errors.NotFound(id.String())
	}
	return mapToJob(vals)
}

func (s *JobStore) TryClaim(ctx context.Context, id types.JobID, workerID string, leaseDuration time.Duration) (*types.Job, error) {
	now := s.now()
	res, err := tryClaimScript.Run(ctx, s.client, s.keys(id),
		workerID, millis(now), millis(now.Add(leaseDuration)), id.String()).Result()
	if err != nil {
		return nil, custom_errors.NewStorageError("try claim", err)
	}

	switch v := res.(type) {
	case []any:
		return mapToJob(pairsToMap(v))
	case int64:
		if v == codeNotFound {
			return nil, custom_errors.NotFound(id.String())
		}
		return nil, custom_errors.ClaimConflict(id.String())
	default:
		return nil, custom_errors.NewStorageError("try claim", fmt.Errorf("unexpected script result %T", res))
	}
}

func (s *JobStore) Complete(ctx context.Context, lease types.Lease, result []byte) error {
	return s.finalize(ctx, "complete", lease, state.StatusCompleted, "result", string(store.FinalizeResult(result)))
}

func (s *JobStore) Fail(ctx context.Context, lease types.Lease, message string) error {
	return s.finalize(ctx, "fail", lease, state.StatusFailed, "error", store.FailureMessage(message))
}

func (s *JobStore) finalize(ctx context.Context, op string, lease types.Lease, status state.JobStatus, field, value string) error {
	code, err := finalizeScript.Run(ctx, s.client, []string{s.jobKey(lease.JobID), s.claimsKey()},
		lease.Owner, strconv.Itoa(lease.Attempt), status.String(), field, value,
		millis(s.now()), lease.JobID.String()).Int64()
	if err != nil {
		return custom_errors.NewStorageError(op, err)
	}
	switch code {
	case codeNotFound:
		return custom_errors.NotFound(lease.JobID.String())
	case codeRejected:
		return custom_errors.InvalidTransition(lease.JobID.String(), "lease is no longer held")
	}
	return nil
}

func (s *JobStore) ListExpiredClaims(ctx context.Context, now time.Time) ([]types.JobID, error) {
	members, err := s.client.ZRangeByScore(ctx, s.claimsKey(), &redis.ZRangeBy{
		Min: "-inf",
		Max: "(" + millis(now),
	}).Result()
	if err != nil {
		return nil, custom_errors.NewStorageError("list expired claims", err)
	}
	return toIDs(members), nil
}

func (s *JobStore) Reclaim(ctx context.Context, id types.JobID, now time.Time, maxAttempts int) (state.JobStatus, error) {
	res, err := reclaimScript.Run(ctx, s.client, s.keys(id),
		millis(now), strconv.Itoa(maxAttempts), custom_errors.ErrExhaustedRetries.Error(), id.String()).Result()
	if err != nil {
		return "", custom_errors.NewStorageError("reclaim", err)
	}

	switch v := res.(type) {
	case string:
		return state.JobStatus(v), nil
	case int64:
		if v == codeNotFound {
			return "", custom_errors.NotFound(id.String())
		}
		return "", custom_errors.InvalidTransition(id.String(), "not an expired claim")
	default:
		return "", custom_errors.NewStorageError("reclaim", fmt.Errorf("unexpected script result %T", res))
	}
}

func (s *JobStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]types.JobID, error) {
	members, err := s.client.ZRangeByScore(ctx, s.pendingKey(), &redis.ZRangeBy{
		Min:   "-inf",
		Max:   "(" + millis(olderThan),
		Count: int64(limit),
	}).Result()
	if err != nil {
		return nil, custom_errors.NewStorageError("list stale pending", err)
	}
	return toIDs(members), nil
}

func (s *JobStore) Close() error {
	return nil
}

func toIDs(members []string) []types.JobID {
	ids := make([]types.JobID, 0, len(members))
	for _, m := range members {
		ids = append(ids, types.JobID(m))
	}
	return ids
}

func pairsToMap(pairs []any) map[string]string {
	m := make(map[string]string, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		k, _ := pairs[i].(string)
		v, _ := pairs[i+1].(string)
		m[k] = v
	}
	return m
}

func mapToJob(m map[string]string) (*types.Job, error) {
	attempts, err := strconv.Atoi(m["attempt_count"])
	if err != nil {
		return nil, custom_errors.NewStorageError("decode", fmt.Errorf("attempt_count: %w", err))
	}
	created, err := parseMillis(m["created_at"])
	if err != nil {
		return nil, err
	}
	updated, err := parseMillis(m["updated_at"])
	if err != nil {
		return nil, err
	}
	status, err := state.Parse(m["status"])
	if err != nil {
		return nil, custom_errors.NewStorageError("decode", err)
	}

	job := &types.Job{
		ID:           types.JobID(m["id"]),
		Payload:      []byte(m["payload"]),
		Status:       status,
		AttemptCount: attempts,
		LeaseOwner:   m["lease_owner"],
		Error:        m["error"],
		CreatedAt:    created,
		UpdatedAt:    updated,
	}
	if result, ok := m["result"]; ok {
		job.Result = []byte(result)
	}
	if raw, ok := m["lease_expires_at"]; ok {
		expires, err := parseMillis(raw)
		if err != nil {
			return nil, err
		}
		job.LeaseExpiresAt = &expires
	}
	return job, nil
}

func parseMillis(raw string) (time.Time, error) {
	ms, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return time.Time{}, custom_errors.NewStorageError("decode", fmt.Errorf("timestamp %q: %w", raw, err))
	}
	return time.UnixMilli(ms).UTC(), nil
}
