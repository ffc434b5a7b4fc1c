package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/v2/bson"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"
	"go.mongodb.org/mongo-driver/v2/mongo/readpref"
)

type threadDoc struct {
	ThreadID  string    `bson:"_id"`
	Version   int64     `bson:"version"`
	Status    string    `bson:"status"`
	Data      string    `bson:"data"`
	CreatedAt time.Time `bson:"created_at"`
	UpdatedAt time.Time `bson:"updated_at"`
}

func (d threadDoc) toRecord() *ThreadRecord {
	return &ThreadRecord{
		ThreadID:  d.ThreadID,
		Version:   d.Version,
		Status:    ThreadStatus(d.Status),
		Data:      json.RawMessage(d.Data),
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type preferenceDoc struct {
	Namespace string    `bson:"_id"`
	Content   string    `bson:"content"`
	Version   int64     `bson:"version"`
	UpdatedAt time.Time `bson:"updated_at"`
}

// MongoStateStore 基于 MongoDB 的 StateStore.
// 线程写入以 {_id, version} 作为过滤条件，匹配 0 条即视为版本冲突.
type MongoStateStore struct {
	client  *mongo.Client
	threads *mongo.Collection
	prefs   *mongo.Collection
}

// NewMongoStateStore connects to MongoDB and prepares the collections.
func NewMongoStateStore(config StoreConfig) (*MongoStateStore, error) {
	client, err := mongo.Connect(options.Client().ApplyURI(config.Mongo.URI))
	if err != nil {
		return nil, fmt.Errorf("failed to connect to MongoDB: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to ping MongoDB: %w", err)
	}

	db := client.Database(config.Mongo.Database)
	s := &MongoStateStore{
		client:  client,
		threads: db.Collection(collectionName(config.KeyPrefix, "threads")),
		prefs:   db.Collection(collectionName(config.KeyPrefix, "preferences")),
	}

	_, err = s.threads.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "updated_at", Value: -1}}},
		{Keys: bson.D{{Key: "status", Value: 1}, {Key: "updated_at", Value: 1}}},
	})
	if err != nil {
		_ = client.Disconnect(ctx)
		return nil, fmt.Errorf("failed to create thread indexes: %w", err)
	}
	return s, nil
}

// collectionName 把 "hitlflow:" 之类的前缀转换为集合名前缀.
func collectionName(prefix, name string) string {
	clean := make([]rune, 0, len(prefix))
	for _, r := range prefix {
		if r == ':' {
			r = '_'
		}
		clean = append(clean, r)
	}
	return string(clean) + name
}

// Close closes the store
func (s *MongoStateStore) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.client.Disconnect(ctx)
}

// Ping checks if the store is healthy
func (s *MongoStateStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx, readpref.Primary())
}

func (s *MongoStateStore) GetThread(ctx context.Context, threadID string) (*ThreadRecord, error) {
	var doc threadDoc
	err := s.threads.FindOne(ctx, bson.D{{Key: "_id", Value: threadID}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return doc.toRecord(), nil
}

func (s *MongoStateStore) PutThread(ctx context.Context, rec *ThreadRecord, expectedVersion int64) (int64, error) {
	if err := validateRecord(rec, expectedVersion); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	next := expectedVersion + 1

	if expectedVersion == 0 {
		_, err := s.threads.InsertOne(ctx, threadDoc{
			ThreadID:  rec.ThreadID,
			Version:   next,
			Status:    string(rec.Status),
			Data:      string(rec.Data),
			CreatedAt: now,
			UpdatedAt: now,
		})
		if mongo.IsDuplicateKeyError(err) {
			return 0, ErrVersionConflict
		}
		if err != nil {
			return 0, fmt.Errorf("failed to insert thread: %w", err)
		}
		return next, nil
	}

	res, err := s.threads.UpdateOne(ctx,
		bson.D{{Key: "_id", Value: rec.ThreadID}, {Key: "version", Value: expectedVersion}},
		bson.D{{Key: "$set", Value: bson.D{
			{Key: "version", Value: next},
			{Key: "status", Value: string(rec.Status)},
			{Key: "data", Value: string(rec.Data)},
			{Key: "updated_at", Value: now},
		}}},
	)
	if err != nil {
		return 0, fmt.Errorf("failed to update thread: %w", err)
	}
	if res.MatchedCount == 0 {
		return 0, ErrVersionConflict
	}
	return next, nil
}

func (s *MongoStateStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]*ThreadRecord, error) {
	query := bson.D{}
	if filter.Status != "" {
		query = append(query, bson.E{Key: "status", Value: string(filter.Status)})
	}
	opts := options.Find().SetSort(bson.D{{Key: "updated_at", Value: -1}, {Key: "_id", Value: 1}})
	if filter.Limit > 0 {
		opts.SetLimit(int64(filter.Limit))
	}

	cursor, err := s.threads.Find(ctx, query, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	var docs []threadDoc
	if err := cursor.All(ctx, &docs); err != nil {
		return nil, fmt.Errorf("failed to decode threads: %w", err)
	}
	out := make([]*ThreadRecord, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toRecord())
	}
	return out, nil
}

func (s *MongoStateStore) DeleteThread(ctx context.Context, threadID string) error {
	_, err := s.threads.DeleteOne(ctx, bson.D{{Key: "_id", Value: threadID}})
	return err
}

func (s *MongoStateStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res, err := s.threads.DeleteMany(ctx, bson.D{
		{Key: "status", Value: string(ThreadStatusCompleted)},
		{Key: "updated_at", Value: bson.D{{Key: "$lt", Value: cutoff}}},
	})
	if err != nil {
		return 0, err
	}
	return int(res.DeletedCount), nil
}

func (s *MongoStateStore) GetMemory(ctx context.Context, namespace string) (string, bool, error) {
	var doc preferenceDoc
	err := s.prefs.FindOne(ctx, bson.D{{Key: "_id", Value: namespace}}).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get memory: %w", err)
	}
	return doc.Content, true, nil
}

func (s *MongoStateStore) PutMemory(ctx context.Context, namespace, content string) error {
	if namespace == "" {
		return ErrInvalidInput
	}
	_, err := s.UpdateMemory(ctx, namespace, func(string, bool) (string, error) {
		return content, nil
	})
	return err
}

func (s *MongoStateStore) UpdateMemory(ctx context.Context, namespace string, fn MemoryUpdateFunc) (string, error) {
	if namespace == "" || fn == nil {
		return "", ErrInvalidInput
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var doc preferenceDoc
		err := s.prefs.FindOne(ctx, bson.D{{Key: "_id", Value: namespace}}).Decode(&doc)
		exists := true
		if errors.Is(err, mongo.ErrNoDocuments) {
			exists = false
		} else if err != nil {
			return "", fmt.Errorf("failed to get memory: %w", err)
		}

		next, err := fn(doc.Content, exists)
		if err != nil {
			return "", err
		}
		now := time.Now().UTC()

		if !exists {
			_, err := s.prefs.InsertOne(ctx, preferenceDoc{Namespace: namespace, Content: next, Version: 1, UpdatedAt: now})
			if mongo.IsDuplicateKeyError(err) {
				continue
			}
			if err != nil {
				return "", fmt.Errorf("failed to insert memory: %w", err)
			}
			return next, nil
		}

		res, err := s.prefs.UpdateOne(ctx,
			bson.D{{Key: "_id", Value: namespace}, {Key: "version", Value: doc.Version}},
			bson.D{{Key: "$set", Value: bson.D{
				{Key: "content", Value: next},
				{Key: "version", Value: doc.Version + 1},
				{Key: "updated_at", Value: now},
			}}},
		)
		if err != nil {
			return "", fmt.Errorf("failed to update memory: %w", err)
		}
		if res.MatchedCount == 1 {
			return next, nil
		}
	}
	return "", fmt.Errorf("update memory %s: %w", namespace, ErrVersionConflict)
}

// Ensure MongoStateStore implements StateStore.
var _ StateStore = (*MongoStateStore)(nil)
