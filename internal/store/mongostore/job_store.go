// Package mongostore keeps jobs as MongoDB documents. Transitions are single
// conditional updates, so the document-level atomicity of MongoDB is enough.
package mongostore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/RezaEskandarii/jobcore/custom_errors"
	"github.com/RezaEskandarii/jobcore/internal/state"
	"github.com/RezaEskandarii/jobcore/internal/store"
	"github.com/RezaEskandarii/jobcore/types"
	"github.com/RezaEskandarii/jobcore/types/config"
	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
)

var _ store.JobStore = (*JobStore)(nil)

type Option func(*JobStore)

func WithClock(clock store.Clock) Option {
	return func(s *JobStore) { s.now = clock }
}

type JobStore struct {
	client *mongo.Client
	col    *mongo.Collection
	now    store.Clock
}

type jobModel struct {
	ID             string     `bson:"_id"`
	Payload        []byte     `bson:"payload"`
	Status         string     `bson:"status"`
	AttemptCount   int        `bson:"attempt_count"`
	LeaseOwner     string     `bson:"lease_owner,omitempty"`
	LeaseExpiresAt *time.Time `bson:"lease_expires_at,omitempty"`
	Result         []byte     `bson:"result"`
	Error          string     `bson:"error,omitempty"`
	CreatedAt      time.Time  `bson:"created_at"`
	UpdatedAt      time.Time  `bson:"updated_at"`
}

// NewMongoJobStore connects, creates the indexes and returns a store that
// owns the client.
func NewMongoJobStore(ctx context.Context, cfg config.MongoConfig, opts ...Option) (*JobStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(cfg.URI))
	if err != nil {
		return nil, fmt.Errorf("mongo connect: %w", err)
	}
	if err := client.Ping(ctx, nil); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, fmt.Errorf("mongo ping: %w", err)
	}

	s := &JobStore{
		client: client,
		col:    client.Database(cfg.Database).Collection(cfg.Collection),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.Migrate(ctx); err != nil {
		_ = client.Disconnect(context.WithoutCancel(ctx))
		return nil, err
	}
	return s, nil
}

func (s *JobStore) Migrate(ctx context.Context) error {
	_, err := s.col.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "lease_expires_at", Value: 1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	if err != nil {
		return custom_errors.NewStorageError("migrate", err)
	}
	return nil
}

func (s *JobStore) Create(ctx context.Context, payload []byte) (types.JobID, error) {
	if payload == nil {
		payload = []byte{}
	}
	now := s.now().UTC()
	m := jobModel{
		ID:        types.NewJobID().String(),
		Payload:   payload,
		Status:    state.StatusPending.String(),
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.col.InsertOne(ctx, m); err != nil {
		return "", custom_errors.NewStorageError("create", err)
	}
	return types.JobID(m.ID), nil
}

func (s *JobStore) Get(ctx context.Context, id types.JobID) (*types.Job, error) {
	var m jobModel
	err := s.col.FindOne(ctx, bson.M{"_id": id.String()}).Decode(&m)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, custom_errors.NotFound(id.String())
	}
	if err != nil {
		return nil, custom_errors.NewStorageError("get", err)
	}
	return fromModel(&m)
}

func (s *JobStore) TryClaim(ctx context.Context, id types.JobID, workerID string, leaseDuration time.Duration) (*types.Job, error) {
	now := s.now().UTC()
	filter := bson.M{
		"_id": id.String(),
		"$or": bson.A{
			bson.M{"status": state.StatusPending.String()},
			bson.M{"status": state.StatusClaimed.String(), "lease_expires_at": bson.M{"$lt": now}},
		},
	}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{
			"attempt_count": bson.M{"$add": bson.A{
				"$attempt_count",
				bson.M{"$cond": bson.A{bson.M{"$eq": bson.A{"$status", state.StatusClaimed.String()}}, 1, 0}},
			}},
			"status":           state.StatusClaimed.String(),
			"lease_owner":      bson.M{"$literal": workerID},
			"lease_expires_at": now.Add(leaseDuration),
			"updated_at":       now,
		}}},
	}

	var m jobModel
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if err == nil {
		return fromModel(&m)
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return nil, custom_errors.NewStorageError("try claim", err)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	return nil, custom_errors.ClaimConflict(id.String())
}

func (s *JobStore) Complete(ctx context.Context, lease types.Lease, result []byte) error {
	return s.finalize(ctx, "complete", lease, bson.M{
		"status": state.StatusCompleted.String(),
		"result": store.FinalizeResult(result),
	})
}

func (s *JobStore) Fail(ctx context.Context, lease types.Lease, message string) error {
	return s.finalize(ctx, "fail", lease, bson.M{
		"status": state.StatusFailed.String(),
		"error":  store.FailureMessage(message),
	})
}

func (s *JobStore) finalize(ctx context.Context, op string, lease types.Lease, set bson.M) error {
	set["updated_at"] = s.now().UTC()
	filter := bson.M{
		"_id":           lease.JobID.String(),
		"status":        state.StatusClaimed.String(),
		"lease_owner":   lease.Owner,
		"attempt_count": lease.Attempt,
	}
	update := bson.M{
		"$set":   set,
		"$unset": bson.M{"lease_owner": "", "lease_expires_at": ""},
	}

	res, err := s.col.UpdateOne(ctx, filter, update)
	if err != nil {
		return custom_errors.NewStorageError(op, err)
	}
	if res.MatchedCount > 0 {
		return nil
	}

	if _, err := s.Get(ctx, lease.JobID); err != nil {
		return err
	}
	return custom_errors.InvalidTransition(lease.JobID.String(), "lease is no longer held")
}

func (s *JobStore) ListExpiredClaims(ctx context.Context, now time.Time) ([]types.JobID, error) {
	filter := bson.M{"status": state.StatusClaimed.String(), "lease_expires_at": bson.M{"$lt": now.UTC()}}
	ids, err := s.findIDs(ctx, filter, options.Find().SetSort(bson.D{{Key: "lease_expires_at", Value: 1}}))
	if err != nil {
		return nil, custom_errors.NewStorageError("list expired claims", err)
	}
	return ids, nil
}

func (s *JobStore) Reclaim(ctx context.Context, id types.JobID, now time.Time, maxAttempts int) (state.JobStatus, error) {
	now = now.UTC()
	filter := bson.M{
		"_id":              id.String(),
		"status":           state.StatusClaimed.String(),
		"lease_expires_at": bson.M{"$lt": now},
	}
	exhausted := bson.M{"$gte": bson.A{"$attempt_count", maxAttempts}}
	update := mongo.Pipeline{
		{{Key: "$set", Value: bson.M{"attempt_count": bson.M{"$add": bson.A{"$attempt_count", 1}}}}},
		{{Key: "$set", Value: bson.M{
			"status": bson.M{"$cond": bson.A{exhausted, state.StatusFailed.String(), state.StatusPending.String()}},
			"error":  bson.M{"$cond": bson.A{exhausted, custom_errors.ErrExhaustedRetries.Error(), "$$REMOVE"}},
			"updated_at": now,
		}}},
		{{Key: "$unset", Value: bson.A{"lease_owner", "lease_expires_at"}}},
	}

	var m jobModel
	err := s.col.FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&m)
	if err == nil {
		return state.JobStatus(m.Status), nil
	}
	if !errors.Is(err, mongo.ErrNoDocuments) {
		return "", custom_errors.NewStorageError("reclaim", err)
	}

	if _, err := s.Get(ctx, id); err != nil {
		return "", err
	}
	return "", custom_errors.InvalidTransition(id.String(), "not an expired claim")
}

func (s *JobStore) ListStalePending(ctx context.Context, olderThan time.Time, limit int) ([]types.JobID, error) {
	filter := bson.M{"status": state.StatusPending.String(), "updated_at": bson.M{"$lt": olderThan.UTC()}}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(int64(limit))
	}
	ids, err := s.findIDs(ctx, filter, opts)
	if err != nil {
		return nil, custom_errors.NewStorageError("list stale pending", err)
	}
	return ids, nil
}

func (s *JobStore) findIDs(ctx context.Context, filter bson.M, opts *options.FindOptionsBuilder) ([]types.JobID, error) {
	cursor, err := s.col.Find(ctx, filter, opts.SetProjection(bson.M{"_id": 1}))
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var docs []struct {
		ID string `bson:"_id"`
	}
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, err
	}
	ids := make([]types.JobID, 0, len(docs))
	for _, d := range docs {
		ids = append(ids, types.JobID(d.ID))
	}
	return ids, nil
}

func (s *JobStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

func fromModel(m *jobModel) (*types.Job, error) {
	status, err := state.Parse(m.Status)
	if err != nil {
		return nil, custom_errors.NewStorageError("decode "+m.ID, err)
	}
	job := &types.Job{
		ID:           types.JobID(m.ID),
		Payload:      m.Payload,
		Status:       status,
		AttemptCount: m.AttemptCount,
		LeaseOwner:   m.LeaseOwner,
		Result:       m.Result,
		Error:        m.Error,
		CreatedAt:    m.CreatedAt.UTC(),
		UpdatedAt:    m.UpdatedAt.UTC(),
	}
	if m.LeaseExpiresAt != nil {
		t := m.LeaseExpiresAt.UTC()
		job.LeaseExpiresAt = &t
	}
	if job.Payload == nil {
		job.Payload = []byte{}
	}
	if job.Status == state.StatusCompleted && job.Result == nil {
		job.Result = []byte{}
	}
	return job, nil
}
