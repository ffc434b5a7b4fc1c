package hitl

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// EventType 中断事件类型.
type EventType string

const (
	EventRaised   EventType = "interrupt.raised"
	EventResolved EventType = "interrupt.resolved"
)

// Event 是广播给订阅者的中断事件.
type Event struct {
	Type      EventType  `json:"type"`
	Interrupt *Interrupt `json:"interrupt"`
}

// InterruptStore 定义了中断索引的存储接口.
type InterruptStore interface {
	Save(ctx context.Context, interrupt *Interrupt) error
	Load(ctx context.Context, interruptID string) (*Interrupt, error)
	List(ctx context.Context, threadID string, status InterruptStatus) ([]*Interrupt, error)
	Delete(ctx context.Context, interruptID string) error
}

// InterruptHandler 处理中断事件.
type InterruptHandler func(ctx context.Context, event Event) error

// InterruptManager 维护待审核中断索引并广播中断事件.
//
// 线程检查点才是挂起状态的权威来源，这里的索引只保存本进程可见的挂起中断，
// 启动时由 Restore 从检查点重建，已处理的中断会从索引中删除.
type InterruptManager struct {
	store    InterruptStore
	logger   *zap.Logger
	handlers []InterruptHandler
	subs     map[int]chan Event
	nextSub  int
	mu       sync.RWMutex
}

// NewInterruptManager 创建中断管理器，store 为 nil 时使用内存索引.
func NewInterruptManager(store InterruptStore, logger *zap.Logger) *InterruptManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if store == nil {
		store = NewInMemoryInterruptStore()
	}
	return &InterruptManager{
		store:  store,
		logger: logger.With(zap.String("component", "interrupt_manager")),
		subs:   make(map[int]chan Event),
	}
}

// RegisterHandler 注册事件处理器，处理器在独立 goroutine 中执行.
func (m *InterruptManager) RegisterHandler(handler InterruptHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers = append(m.handlers, handler)
}

// Subscribe 订阅中断事件. 缓冲区满时事件被丢弃，返回的函数用于取消订阅.
func (m *InterruptManager) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 16
	}
	ch := make(chan Event, buffer)

	m.mu.Lock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = ch
	m.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			m.mu.Lock()
			delete(m.subs, id)
			m.mu.Unlock()
			close(ch)
		})
	}
}

// Raise 记录一批新挂起的中断并通知订阅者.
func (m *InterruptManager) Raise(ctx context.Context, interrupts []*Interrupt) error {
	for _, in := range interrupts {
		m.logger.Info("interrupt raised",
			zap.String("id", in.ID),
			zap.String("thread_id", in.ThreadID),
			zap.String("action", in.ActionRequest.Action),
		)
		if err := m.store.Save(ctx, in); err != nil {
			return fmt.Errorf("failed to save interrupt: %w", err)
		}
		m.publish(ctx, Event{Type: EventRaised, Interrupt: in})
	}
	return nil
}

// Restore 用检查点中的挂起中断重建索引，不广播事件.
func (m *InterruptManager) Restore(ctx context.Context, interrupts []*Interrupt) error {
	for _, in := range interrupts {
		if err := m.store.Save(ctx, in); err != nil {
			return fmt.Errorf("failed to restore interrupt: %w", err)
		}
	}
	m.logger.Info("interrupt index restored", zap.Int("pending", len(interrupts)))
	return nil
}

// Resolve 把已消费的中断移出索引并通知订阅者.
func (m *InterruptManager) Resolve(ctx context.Context, interrupts []*Interrupt) error {
	for _, in := range interrupts {
		if err := m.store.Delete(ctx, in.ID); err != nil {
			return fmt.Errorf("failed to delete interrupt: %w", err)
		}
		m.logger.Info("interrupt resolved",
			zap.String("id", in.ID),
			zap.String("thread_id", in.ThreadID),
		)
		m.publish(ctx, Event{Type: EventResolved, Interrupt: in})
	}
	return nil
}

// Pending 返回线程（为空时为全部线程）的待审核中断，按创建时间排序.
func (m *InterruptManager) Pending(ctx context.Context, threadID string) ([]*Interrupt, error) {
	list, err := m.store.List(ctx, threadID, InterruptStatusPending)
	if err != nil {
		return nil, err
	}
	sort.Slice(list, func(i, j int) bool { return list[i].CreatedAt.Before(list[j].CreatedAt) })
	return list, nil
}

// Get loads a single interrupt by id.
func (m *InterruptManager) Get(ctx context.Context, interruptID string) (*Interrupt, error) {
	return m.store.Load(ctx, interruptID)
}

func (m *InterruptManager) publish(ctx context.Context, event Event) {
	m.mu.RLock()
	handlers := append([]InterruptHandler(nil), m.handlers...)
	for _, ch := range m.subs {
		select {
		case ch <- event:
		default:
			m.logger.Warn("subscriber buffer full, dropping event",
				zap.String("interrupt_id", event.Interrupt.ID))
		}
	}
	m.mu.RUnlock()

	for _, handler := range handlers {
		go func(h InterruptHandler) {
			if err := h(ctx, event); err != nil {
				m.logger.Error("handler error", zap.Error(err))
			}
		}(handler)
	}
}

// InMemoryInterruptStore 在内存中保存中断索引.
type InMemoryInterruptStore struct {
	interrupts map[string]*Interrupt
	mu         sync.RWMutex
}

// NewInMemoryInterruptStore 创建内存中断索引.
func NewInMemoryInterruptStore() *InMemoryInterruptStore {
	return &InMemoryInterruptStore{
		interrupts: make(map[string]*Interrupt),
	}
}

func (s *InMemoryInterruptStore) Save(ctx context.Context, interrupt *Interrupt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *interrupt
	s.interrupts[interrupt.ID] = &cp
	return nil
}

func (s *InMemoryInterruptStore) Load(ctx context.Context, interruptID string) (*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	interrupt, ok := s.interrupts[interruptID]
	if !ok {
		return nil, fmt.Errorf("interrupt not found: %s", interruptID)
	}
	cp := *interrupt
	return &cp, nil
}

func (s *InMemoryInterruptStore) List(ctx context.Context, threadID string, status InterruptStatus) ([]*Interrupt, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []*Interrupt
	for _, interrupt := range s.interrupts {
		if (threadID == "" || interrupt.ThreadID == threadID) &&
			(status == "" || interrupt.Status == status) {
			cp := *interrupt
			results = append(results, &cp)
		}
	}
	return results, nil
}

// Delete 删除中断，不存在时不报错.
func (s *InMemoryInterruptStore) Delete(ctx context.Context, interruptID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.interrupts, interruptID)
	return nil
}

// Ensure InMemoryInterruptStore implements InterruptStore.
var _ InterruptStore = (*InMemoryInterruptStore)(nil)
