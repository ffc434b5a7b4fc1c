package workflow

import "time"

// maxHistory 每个线程保留的节点执行记录上限，超过时丢弃最早的记录
const maxHistory = 128

// NodeRecord records one completed node step of a thread.
type NodeRecord struct {
	Node      Node          `json:"node"`
	Next      Node          `json:"next"`
	StartTime time.Time     `json:"start_time"`
	Duration  time.Duration `json:"duration"`
	// Suspended 表示该步骤以挂起结束（Next 为等待恢复的节点）
	Suspended bool `json:"suspended,omitempty"`
}

// executionHistory 收集一次调用中的节点记录，提交时并入线程快照.
type executionHistory struct {
	records []NodeRecord
}

func newExecutionHistory(prior []NodeRecord) *executionHistory {
	return &executionHistory{records: append([]NodeRecord(nil), prior...)}
}

// record appends a finished step.
func (h *executionHistory) record(node, next Node, start time.Time, suspended bool) {
	h.records = append(h.records, NodeRecord{
		Node:      node,
		Next:      next,
		StartTime: start,
		Duration:  time.Since(start),
		Suspended: suspended,
	})
	if over := len(h.records) - maxHistory; over > 0 {
		h.records = append([]NodeRecord(nil), h.records[over:]...)
	}
}

func (h *executionHistory) list() []NodeRecord {
	return h.records
}
