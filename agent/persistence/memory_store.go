package persistence

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStateStore 是内存实现，用于开发与测试.
// 线程与命名空间各自加锁，不同线程的写入互不阻塞.
type MemoryStateStore struct {
	mu      sync.RWMutex
	threads map[string]*ThreadRecord
	prefs   map[string]string
	nsLocks map[string]*sync.Mutex
	closed  bool

	// hooks 在提交到内存之前调用，失败则不提交（文件存储用它落盘）
	hooks writeHooks
}

type writeHooks struct {
	putThread    func(rec *ThreadRecord) error
	deleteThread func(threadID string) error
	putMemory    func(namespace, content string) error
}

// NewMemoryStateStore creates an empty in-memory store.
func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{
		threads: make(map[string]*ThreadRecord),
		prefs:   make(map[string]string),
		nsLocks: make(map[string]*sync.Mutex),
	}
}

func (s *MemoryStateStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func (s *MemoryStateStore) Ping(ctx context.Context) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrStoreClosed
	}
	return nil
}

func (s *MemoryStateStore) GetThread(ctx context.Context, threadID string) (*ThreadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}
	rec, ok := s.threads[threadID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.clone(), nil
}

func (s *MemoryStateStore) PutThread(ctx context.Context, rec *ThreadRecord, expectedVersion int64) (int64, error) {
	if err := validateRecord(rec, expectedVersion); err != nil {
		return 0, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	now := time.Now()
	current, exists := s.threads[rec.ThreadID]
	switch {
	case !exists && expectedVersion != 0:
		return 0, ErrVersionConflict
	case exists && current.Version != expectedVersion:
		return 0, ErrVersionConflict
	}

	next := rec.clone()
	next.Version = expectedVersion + 1
	next.UpdatedAt = now
	if exists {
		next.CreatedAt = current.CreatedAt
	} else {
		next.CreatedAt = now
	}
	if s.hooks.putThread != nil {
		if err := s.hooks.putThread(next); err != nil {
			return 0, err
		}
	}
	s.threads[rec.ThreadID] = next
	return next.Version, nil
}

func (s *MemoryStateStore) ListThreads(ctx context.Context, filter ThreadFilter) ([]*ThreadRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrStoreClosed
	}

	var out []*ThreadRecord
	for _, rec := range s.threads {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec.clone())
	}
	sortThreads(out)
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

func (s *MemoryStateStore) DeleteThread(ctx context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.hooks.deleteThread != nil {
		if err := s.hooks.deleteThread(threadID); err != nil {
			return err
		}
	}
	delete(s.threads, threadID)
	return nil
}

func (s *MemoryStateStore) Cleanup(ctx context.Context, olderThan time.Duration) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return 0, ErrStoreClosed
	}

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, rec := range s.threads {
		if rec.Status == ThreadStatusCompleted && rec.UpdatedAt.Before(cutoff) {
			if s.hooks.deleteThread != nil {
				if err := s.hooks.deleteThread(id); err != nil {
					return removed, err
				}
			}
			delete(s.threads, id)
			removed++
		}
	}
	return removed, nil
}

func (s *MemoryStateStore) GetMemory(ctx context.Context, namespace string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return "", false, ErrStoreClosed
	}
	content, ok := s.prefs[namespace]
	return content, ok, nil
}

func (s *MemoryStateStore) PutMemory(ctx context.Context, namespace, content string) error {
	if namespace == "" {
		return ErrInvalidInput
	}
	lock := s.namespaceLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrStoreClosed
	}
	if s.hooks.putMemory != nil {
		if err := s.hooks.putMemory(namespace, content); err != nil {
			return err
		}
	}
	s.prefs[namespace] = content
	return nil
}

func (s *MemoryStateStore) UpdateMemory(ctx context.Context, namespace string, fn MemoryUpdateFunc) (string, error) {
	if namespace == "" || fn == nil {
		return "", ErrInvalidInput
	}
	// 命名空间锁覆盖整个读-改-写，fn 可以是慢调用而不阻塞其他命名空间
	lock := s.namespaceLock(namespace)
	lock.Lock()
	defer lock.Unlock()

	current, exists, err := s.GetMemory(ctx, namespace)
	if err != nil {
		return "", err
	}
	next, err := fn(current, exists)
	if err != nil {
		return "", err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return "", ErrStoreClosed
	}
	if s.hooks.putMemory != nil {
		if err := s.hooks.putMemory(namespace, next); err != nil {
			return "", err
		}
	}
	s.prefs[namespace] = next
	return next, nil
}

func (s *MemoryStateStore) namespaceLock(namespace string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.nsLocks[namespace]
	if !ok {
		l = &sync.Mutex{}
		s.nsLocks[namespace] = l
	}
	return l
}

func sortThreads(list []*ThreadRecord) {
	sort.Slice(list, func(i, j int) bool {
		if list[i].UpdatedAt.Equal(list[j].UpdatedAt) {
			return list[i].ThreadID < list[j].ThreadID
		}
		return list[i].UpdatedAt.After(list[j].UpdatedAt)
	})
}

// Ensure MemoryStateStore implements StateStore.
var _ StateStore = (*MemoryStateStore)(nil)
