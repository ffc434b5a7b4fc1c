// Package persistence provides the durable state store behind the workflow engine:
// per-thread execution snapshots guarded by an optimistic version, and namespaced
// preference memory with atomic read-modify-write.
//
// Supported backends:
// - Memory: For development and testing (default)
// - File: For single-node deployments
// - Redis: For distributed deployments (WATCH/MULTI compare-and-set)
// - SQL: PostgreSQL / MySQL / SQLite through GORM (version column)
// - Mongo: MongoDB collections (version filter)
package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

// Common errors
var (
	ErrNotFound        = errors.New("not found")
	ErrVersionConflict = errors.New("version conflict")
	ErrStoreClosed     = errors.New("store is closed")
	ErrInvalidInput    = errors.New("invalid input")
)

// StoreType represents the type of storage backend
type StoreType string

const (
	StoreTypeMemory StoreType = "memory"
	StoreTypeFile   StoreType = "file"
	StoreTypeRedis  StoreType = "redis"
	StoreTypeSQL    StoreType = "sql"
	StoreTypeMongo  StoreType = "mongo"
)

// ThreadStatus 线程在存储中的粗粒度状态，用于列表与清理，不需要解码快照.
type ThreadStatus string

const (
	ThreadStatusInterrupted ThreadStatus = "interrupted"
	ThreadStatusCompleted   ThreadStatus = "completed"
)

// ThreadRecord 是一个线程的持久化快照.
//
// Data 由工作流引擎编码（执行状态 + 检查点），存储层不解释其内容.
// Version 从 1 开始，每次成功写入加一.
type ThreadRecord struct {
	ThreadID  string          `json:"thread_id"`
	Version   int64           `json:"version"`
	Status    ThreadStatus    `json:"status"`
	Data      json.RawMessage `json:"data"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// clone returns a deep copy so callers never share Data with the store.
func (r *ThreadRecord) clone() *ThreadRecord {
	cp := *r
	cp.Data = append(json.RawMessage(nil), r.Data...)
	return &cp
}

// ThreadFilter defines filter criteria for listing threads
type ThreadFilter struct {
	Status ThreadStatus
	Limit  int
}

// MemoryUpdateFunc 计算命名空间的新内容. exists 为 false 表示命名空间尚未创建.
// 返回错误时不写入任何内容.
type MemoryUpdateFunc func(current string, exists bool) (string, error)

// Store is the base interface for all persistent stores
type Store interface {
	// Close closes the store and releases resources
	Close() error

	// Ping checks if the store is healthy
	Ping(ctx context.Context) error
}

// ThreadStore persists per-thread snapshots.
type ThreadStore interface {
	Store

	// GetThread returns ErrNotFound when the thread has never been written.
	GetThread(ctx context.Context, threadID string) (*ThreadRecord, error)

	// PutThread writes rec if the stored version equals expectedVersion
	// (0 = the thread must not exist yet) and returns the new version.
	// A mismatch returns ErrVersionConflict and writes nothing.
	PutThread(ctx context.Context, rec *ThreadRecord, expectedVersion int64) (int64, error)

	// ListThreads returns threads ordered by most recent update.
	ListThreads(ctx context.Context, filter ThreadFilter) ([]*ThreadRecord, error)

	// DeleteThread removes a thread; missing threads are not an error.
	DeleteThread(ctx context.Context, threadID string) error

	// Cleanup removes completed threads not updated within olderThan.
	Cleanup(ctx context.Context, olderThan time.Duration) (int, error)
}

// PreferenceStore persists namespaced preference memory.
type PreferenceStore interface {
	Store

	// GetMemory returns the namespace content and whether it exists.
	GetMemory(ctx context.Context, namespace string) (string, bool, error)

	// PutMemory overwrites the namespace content.
	PutMemory(ctx context.Context, namespace, content string) error

	// UpdateMemory atomically applies fn to the namespace. Concurrent updates
	// of the same namespace are serialized; none is lost.
	UpdateMemory(ctx context.Context, namespace string, fn MemoryUpdateFunc) (string, error)
}

// StateStore is the full store consumed by the workflow engine.
type StateStore interface {
	ThreadStore
	PreferenceStore
}

// maxCASAttempts bounds optimistic retry loops in UpdateMemory.
const maxCASAttempts = 32

func validateRecord(rec *ThreadRecord, expectedVersion int64) error {
	if rec == nil || rec.ThreadID == "" || expectedVersion < 0 {
		return ErrInvalidInput
	}
	return nil
}
