package persistence

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/BaSui01/hitlflow/internal/database"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// threadRow 对应 hitl_threads 表.
type threadRow struct {
	ThreadID  string    `gorm:"column:thread_id;primaryKey;size:191"`
	Version   int64     `gorm:"column:version;not null"`
	Status    string    `gorm:"column:status;size:32;not null;index:idx_hitl_threads_status"`
	Data      string    `gorm:"column:data;type:text;not null"`
	CreatedAt time.Time `gorm:"column:created_at;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null;index:idx_hitl_threads_updated_at"`
}

func (threadRow) TableName() string { return "hitl_threads" }

func (r threadRow) toRecord() *ThreadRecord {
	return &ThreadRecord{
		ThreadID:  r.ThreadID,
		Version:   r.Version,
		Status:    ThreadStatus(r.Status),
		Data:      json.RawMessage(r.Data),
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
}

// preferenceRow 对应 hitl_preferences 表.
type preferenceRow struct {
	Namespace string    `gorm:"column:namespace;primaryKey;size:191"`
	Content   string    `gorm:"column:content;type:text;not null"`
	Version   int64     `gorm:"column:version;not null"`
	UpdatedAt time.Time `gorm:"column:updated_at;not null"`
}

func (preferenceRow) TableName() string { return "hitl_preferences" }

// SQLStateStore 基于 GORM 的 StateStore，支持 PostgreSQL / MySQL / SQLite.
// 并发控制依赖 version 列：UPDATE ... WHERE version = ? 影响 0 行即冲突.
type SQLStateStore struct {
	pool *database.PoolManager
}

// NewSQLStateStore wraps a pool; autoMigrate creates the tables for dev setups.
func NewSQLStateStore(pool *database.PoolManager, autoMigrate bool) (*SQLStateStore, error) {
	if pool == nil {
		return nil, ErrInvalidInput
	}
	if autoMigrate {
		if err := pool.DB().AutoMigrate(&threadRow{}, &preferenceRow{}); err != nil {
			return nil, fmt.Errorf("failed to migrate state tables: %w", err)
		}
	}
	return &SQLStateStore{pool: pool}, nil
}

func (s *SQLStateStore) db(ctx context.Context) *gorm.DB {
	return s.pool.DB().WithContext(ctx)
}

// Close closes the store
func (s *SQLStateStore) Close() error {
	return s.pool.Close()
}

// Ping checks if the store is healthy
func (s *SQLStateStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Stats 返回底层连接池统计，服务进程据此上报连接数指标
func (s *SQLStateStore) Stats() sql.DBStats {
	return s.pool.Stats()
}

func (s *SQLStateStore) GetThread(ctx context.Context, threadID string) (*ThreadRecord, error) {
	var row threadRow
	err := s.db(ctx).Where("thread_id = ?", threadID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get thread: %w", err)
	}
	return row.toRecord(), nil
}

func (s *SQLStateStore) PutThread(ctx context.Context, rec *ThreadRecord, expectedVersion int64) (int64, error) {
	if err := validateRecord(rec, expectedVersion); err != nil {
		return 0, err
	}
	now := time.Now().UTC()
	next := expectedVersion + 1

	err := s.pool.WithTransactionRetry(ctx, 3, func(tx *gorm.DB) error {
		if expectedVersion == 0 {
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&threadRow{
				ThreadID:  rec.ThreadID,
				Version:   next,
				Status:    string(rec.Status),
				Data:      string(rec.Data),
				CreatedAt: now,
				UpdatedAt: now,
			})
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 0 {
				return ErrVersionConflict
			}
			return nil
		}

		res := tx.Model(&threadRow{}).
			Where("thread_id = ? AND version = ?", rec.ThreadID, expectedVersion).
			Updates(map[string]any{
				"version":    next,
				"status":     string(rec.Status),
				"data":       string(rec.Data),
				"updated_at": now,
			})
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrVersionConflict
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return next, nil
}

func (s *SQLStateStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]*ThreadRecord, error) {
	q := s.db(ctx).Order("updated_at DESC").Order("thread_id ASC")
	if filter.Status != "" {
		q = q.Where("status = ?", string(filter.Status))
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	var rows []threadRow
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to list threads: %w", err)
	}
	out := make([]*ThreadRecord, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toRecord())
	}
	return out, nil
}

func (s *SQLStateStore) DeleteThread(ctx context.Context, threadID string) error {
	return s.db(ctx).Where("thread_id = ?", threadID).Delete(&threadRow{}).Error
}

func (s *SQLStateStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	res := s.db(ctx).
		Where("status = ? AND updated_at < ?", string(ThreadStatusCompleted), cutoff).
		Delete(&threadRow{})
	return int(res.RowsAffected), res.Error
}

func (s *SQLStateStore) GetMemory(ctx context.Context, namespace string) (string, bool, error) {
	var row preferenceRow
	err := s.db(ctx).Where("namespace = ?", namespace).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to get memory: %w", err)
	}
	return row.Content, true, nil
}

func (s *SQLStateStore) PutMemory(ctx context.Context, namespace, content string) error {
	if namespace == "" {
		return ErrInvalidInput
	}
	_, err := s.UpdateMemory(ctx, namespace, func(string, bool) (string, error) {
		return content, nil
	})
	return err
}

// UpdateMemory 乐观重试：读取版本，计算新值，按版本条件写回.
func (s *SQLStateStore) UpdateMemory(ctx context.Context, namespace string, fn MemoryUpdateFunc) (string, error) {
	if namespace == "" || fn == nil {
		return "", ErrInvalidInput
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		var row preferenceRow
		err := s.db(ctx).Where("namespace = ?", namespace).Take(&row).Error
		exists := true
		if errors.Is(err, gorm.ErrRecordNotFound) {
			exists = false
		} else if err != nil {
			return "", fmt.Errorf("failed to get memory: %w", err)
		}

		next, err := fn(row.Content, exists)
		if err != nil {
			return "", err
		}

		now := time.Now().UTC()
		var res *gorm.DB
		if !exists {
			res = s.db(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(&preferenceRow{
				Namespace: namespace,
				Content:   next,
				Version:   1,
				UpdatedAt: now,
			})
		} else {
			res = s.db(ctx).Model(&preferenceRow{}).
				Where("namespace = ? AND version = ?", namespace, row.Version).
				Updates(map[string]any{
					"content":    next,
					"version":    row.Version + 1,
					"updated_at": now,
				})
		}
		if res.Error != nil {
			return "", fmt.Errorf("failed to write memory: %w", res.Error)
		}
		if res.RowsAffected == 1 {
			return next, nil
		}
	}
	return "", fmt.Errorf("update memory %s: %w", namespace, ErrVersionConflict)
}

// Ensure SQLStateStore implements StateStore.
var _ StateStore = (*SQLStateStore)(nil)
