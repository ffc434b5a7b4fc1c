package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// Action 是封闭动作集合中的动作名.
type Action = string

const (
	ActionWriteEmail      Action = "write_email"
	ActionSearchEmails    Action = "search_emails"
	ActionScheduleMeeting Action = "schedule_meeting"
	ActionCheckCalendar   Action = "check_calendar_availability"
	ActionSearchEvents    Action = "search_events"
	ActionUpdateEvent     Action = "update_event"
	ActionQuestion        Action = "Question"
	ActionDone            Action = "Done"
)

// Risk 动作风险等级.
type Risk int

const (
	// RiskAuto 自动执行，不需要审核.
	RiskAuto Risk = iota
	// RiskReview 执行前需要人工审核.
	RiskReview
	// RiskCompletion 表示工作流完成，不执行.
	RiskCompletion
)

func (r Risk) String() string {
	switch r {
	case RiskAuto:
		return "auto"
	case RiskReview:
		return "review"
	case RiskCompletion:
		return "completion"
	default:
		return "unknown"
	}
}

// riskTable is the static classification of every known action.
var riskTable = map[Action]Risk{
	ActionWriteEmail:      RiskReview,
	ActionScheduleMeeting: RiskReview,
	ActionQuestion:        RiskReview,
	ActionSearchEmails:    RiskAuto,
	ActionCheckCalendar:   RiskAuto,
	ActionSearchEvents:    RiskAuto,
	ActionUpdateEvent:     RiskAuto,
	ActionDone:            RiskCompletion,
}

// actionOrder 是对外列出 schema 时的固定顺序.
var actionOrder = []Action{
	ActionWriteEmail,
	ActionSearchEmails,
	ActionScheduleMeeting,
	ActionCheckCalendar,
	ActionSearchEvents,
	ActionUpdateEvent,
	ActionQuestion,
	ActionDone,
}

// Classify returns the static risk of name, or UNKNOWN_TOOL.
func Classify(name string) (Risk, error) {
	r, ok := riskTable[name]
	if !ok {
		return 0, types.NewUnknownToolError(name)
	}
	return r, nil
}

// HandlerFunc 工具处理函数，返回写入工具消息的文本.
type HandlerFunc func(ctx context.Context, args json.RawMessage) (string, error)

// RateLimitConfig defines a per-tool rate limit.
type RateLimitConfig struct {
	MaxCalls int           // Maximum calls
	Window   time.Duration // Time window
}

// Metadata 描述一个已注册工具.
type Metadata struct {
	Schema         types.ToolSchema
	RequiresReview bool
	Policy         hitl.ReviewPolicy
	Timeout        time.Duration
	RateLimit      *RateLimitConfig
}

// ExecuteHook is invoked after every handler run.
type ExecuteHook func(name string, duration time.Duration, err error)

type entry struct {
	fn      HandlerFunc
	meta    Metadata
	limiter *rate.Limiter
}

// Registry 是封闭动作集合的工具注册中心.
type Registry struct {
	mu      sync.RWMutex
	entries map[string]*entry
	hooks   []ExecuteHook
	logger  *zap.Logger
}

// NewRegistry 创建空的工具注册中心.
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger.With(zap.String("component", "tool_registry")),
	}
}

// Register 注册工具. 名字必须属于封闭动作集合，且 RequiresReview 必须与静态风险表一致.
func (r *Registry) Register(name string, fn HandlerFunc, meta Metadata) error {
	risk, err := Classify(name)
	if err != nil {
		return err
	}
	if meta.RequiresReview != (risk == RiskReview) {
		return fmt.Errorf("tool %s: requiresReview=%v contradicts static risk %s", name, meta.RequiresReview, risk)
	}
	if meta.Schema.Name == "" {
		meta.Schema.Name = name
	}
	if meta.Schema.Name != name {
		return fmt.Errorf("tool name mismatch: schema.Name=%s, register name=%s", meta.Schema.Name, name)
	}
	if meta.Timeout == 0 {
		meta.Timeout = 30 * time.Second
	}
	if fn == nil {
		return fmt.Errorf("tool %s: nil handler", name)
	}

	e := &entry{fn: fn, meta: meta}
	if rl := meta.RateLimit; rl != nil && rl.MaxCalls > 0 && rl.Window > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(float64(rl.MaxCalls)/rl.Window.Seconds()), rl.MaxCalls)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.entries[name]; exists {
		return fmt.Errorf("tool %s already registered", name)
	}
	r.entries[name] = e

	r.logger.Info("tool registered",
		zap.String("name", name),
		zap.Bool("requires_review", meta.RequiresReview),
		zap.Duration("timeout", meta.Timeout))
	return nil
}

// OnExecute adds a hook called after each execution.
func (r *Registry) OnExecute(hook ExecuteHook) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.hooks = append(r.hooks, hook)
}

func (r *Registry) get(name string) (*entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	if !ok {
		return nil, types.NewUnknownToolError(name)
	}
	return e, nil
}

// Has reports whether name is registered.
func (r *Registry) Has(name string) bool {
	_, err := r.get(name)
	return err == nil
}

// RequiresReview 返回工具是否需要人工审核.
func (r *Registry) RequiresReview(name string) (bool, error) {
	e, err := r.get(name)
	if err != nil {
		return false, err
	}
	return e.meta.RequiresReview, nil
}

// Policy 返回工具的审核策略.
func (r *Registry) Policy(name string) (hitl.ReviewPolicy, error) {
	e, err := r.get(name)
	if err != nil {
		return hitl.ReviewPolicy{}, err
	}
	return e.meta.Policy, nil
}

// IsCompletion reports whether name signals workflow completion.
func IsCompletion(name string) bool {
	return riskTable[name] == RiskCompletion
}

// Schemas 按固定顺序返回已注册工具的 schema.
func (r *Registry) Schemas() []types.ToolSchema {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]types.ToolSchema, 0, len(r.entries))
	for _, name := range actionOrder {
		if e, ok := r.entries[name]; ok {
			out = append(out, e.meta.Schema)
		}
	}
	return out
}

// Execute 执行工具并返回结果文本.
// 未注册名字返回 UNKNOWN_TOOL；处理函数错误以 TOOL_EXECUTION 包装返回.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) (string, error) {
	e, err := r.get(name)
	if err != nil {
		return "", err
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			return "", types.WrapError(err, types.ErrRateLimited, fmt.Sprintf("tool %s rate limited", name)).WithRetryable(true)
		}
	}

	if len(args) == 0 {
		args = json.RawMessage(`{}`)
	}

	execCtx, cancel := context.WithTimeout(ctx, e.meta.Timeout)
	defer cancel()

	start := time.Now()
	out, err := e.fn(execCtx, args)
	duration := time.Since(start)

	r.mu.RLock()
	hooks := append([]ExecuteHook(nil), r.hooks...)
	r.mu.RUnlock()
	for _, h := range hooks {
		h(name, duration, err)
	}

	if err != nil {
		r.logger.Error("tool execution failed",
			zap.String("name", name),
			zap.Error(err),
			zap.Duration("duration", duration))
		if _, ok := types.AsError(err); ok {
			return "", err
		}
		return "", types.WrapError(err, types.ErrToolExecution, fmt.Sprintf("tool %s failed", name))
	}

	r.logger.Debug("tool executed",
		zap.String("name", name),
		zap.Duration("duration", duration))
	return out, nil
}
