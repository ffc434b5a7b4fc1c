package metrics

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var collectorNamespaceSeq uint64

func nextTestNamespace() string {
	seq := atomic.AddUint64(&collectorNamespaceSeq, 1)
	return fmt.Sprintf("test_%d", seq)
}

func newTestCollector(t *testing.T) (*Collector, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	return NewCollectorWithRegistry(nextTestNamespace(), reg, zap.NewNop()), reg
}

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector(t *testing.T) {
	collector := NewCollector(nextTestNamespace(), nil)

	assert.NotNil(t, collector)
	assert.NotNil(t, collector.httpRequestsTotal)
	assert.NotNil(t, collector.invocationsTotal)
	assert.NotNil(t, collector.memoryRevisions)
	assert.NotNil(t, collector.conversationTokens)
}

func TestCollector_NilIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordHTTPRequest("GET", "/", 200, time.Millisecond, 0, 0)
		c.RecordLLMRequest("openai", "gpt-4.1", "ok", time.Millisecond, 1, 1)
		c.RecordInvocation("start", "completed", time.Millisecond)
		c.RecordTransition("triage", "act")
		c.RecordInterrupt("write_email")
		c.RecordVerdict("write_email", "accept")
		c.RecordToolExecution("search_emails", time.Millisecond, nil)
		c.RecordMemoryRevision("triage_preferences", "ok")
		c.ObserveConversationTokens(10)
		c.AddPendingMemoryUpdates(1)
		c.RecordDBConnections("sqlite", 1, 1)
		c.RecordDBQuery("sqlite", "select", time.Millisecond)
	})
}

func TestCollector_RecordHTTPRequest(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordHTTPRequest("GET", "/api/v1/threads", 200, 100*time.Millisecond, 1024, 2048)
	collector.RecordHTTPRequest("GET", "/api/v1/threads", 201, 50*time.Millisecond, 512, 1024)
	collector.RecordHTTPRequest("POST", "/api/v1/threads", 503, 50*time.Millisecond, 512, 1024)

	assert.Equal(t, 2.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/api/v1/threads", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("POST", "/api/v1/threads", "5xx")))
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordLLMRequest("openai", "gpt-4.1", "ok", 500*time.Millisecond, 100, 50)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.llmRequestsTotal.WithLabelValues("openai", "gpt-4.1", "ok")))
	assert.Equal(t, 100.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4.1", "prompt")))
	assert.Equal(t, 50.0, testutil.ToFloat64(collector.llmTokensUsed.WithLabelValues("openai", "gpt-4.1", "completion")))
}

func TestCollector_WorkflowMetrics(t *testing.T) {
	collector, reg := newTestCollector(t)

	collector.RecordInvocation("start", "interrupted", 20*time.Millisecond)
	collector.RecordInvocation("resume", "completed", 10*time.Millisecond)
	collector.RecordTransition("triage", "act")
	collector.RecordTransition("act", "action_review")
	collector.RecordInterrupt("write_email")
	collector.RecordVerdict("write_email", "edit")
	collector.RecordToolExecution("write_email", time.Millisecond, nil)
	collector.RecordToolExecution("search_emails", time.Millisecond, errors.New("boom"))
	collector.RecordMemoryRevision("cal_preferences", "ok")
	collector.RecordMemoryRevision("cal_preferences", "failed")
	collector.ObserveConversationTokens(512)
	collector.AddPendingMemoryUpdates(2)
	collector.AddPendingMemoryUpdates(-1)

	assert.Equal(t, 1.0, testutil.ToFloat64(collector.invocationsTotal.WithLabelValues("start", "interrupted")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.nodeTransitions.WithLabelValues("act", "action_review")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.interruptsRaised.WithLabelValues("write_email")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.verdictsTotal.WithLabelValues("write_email", "edit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.toolExecutions.WithLabelValues("search_emails", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.memoryRevisions.WithLabelValues("cal_preferences", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(collector.pendingMemoryWrites))
	assert.Equal(t, 1, testutil.CollectAndCount(collector.conversationTokens))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}

func TestCollector_DatabaseMetrics(t *testing.T) {
	collector, _ := newTestCollector(t)

	collector.RecordDBQuery("postgres", "SELECT", 20*time.Millisecond)
	collector.RecordDBConnections("postgres", 10, 5)

	assert.Equal(t, 1, testutil.CollectAndCount(collector.dbQueryDuration))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.dbConnectionsOpen.WithLabelValues("postgres")))
	assert.Equal(t, 5.0, testutil.ToFloat64(collector.dbConnectionsIdle.WithLabelValues("postgres")))
}

func TestCollector_ConcurrentRecording(t *testing.T) {
	collector, _ := newTestCollector(t)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			collector.RecordHTTPRequest("GET", "/test", 200, 100*time.Millisecond, 1024, 2048)
			collector.RecordTransition("act", "end")
			collector.RecordMemoryRevision("triage_preferences", "ok")
		}()
	}
	wg.Wait()

	assert.Equal(t, 10.0, testutil.ToFloat64(collector.httpRequestsTotal.WithLabelValues("GET", "/test", "2xx")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.nodeTransitions.WithLabelValues("act", "end")))
	assert.Equal(t, 10.0, testutil.ToFloat64(collector.memoryRevisions.WithLabelValues("triage_preferences", "ok")))
}

func TestCollector_DuplicateNamespacePanics(t *testing.T) {
	reg := prometheus.NewRegistry()
	ns := nextTestNamespace()
	NewCollectorWithRegistry(ns, reg, nil)
	assert.Panics(t, func() { NewCollectorWithRegistry(ns, reg, nil) })
}
