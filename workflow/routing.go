package workflow

import (
	"github.com/BaSui01/hitlflow/agent/hitl"
	"github.com/BaSui01/hitlflow/agent/ports"
	"github.com/BaSui01/hitlflow/tools"
	"github.com/BaSui01/hitlflow/types"
)

// transitions 是状态机允许的全部迁移.
var transitions = map[Node][]Node{
	NodeTriage:       {NodeEnd, NodeNotifyReview, NodeAct},
	NodeNotifyReview: {NodeAct, NodeEnd},
	NodeAct:          {NodeActionReview, NodeEnd},
	NodeActionReview: {NodeAct, NodeEnd},
}

// CanTransition reports whether the state machine has an edge from -> to.
func CanTransition(from, to Node) bool {
	for _, n := range transitions[from] {
		if n == to {
			return true
		}
	}
	return false
}

// routeAfterTriage 按分类结果选择下一个节点. 非法分类返回 INVALID_CLASSIFICATION.
func routeAfterTriage(c ports.Classification) (Node, error) {
	switch c {
	case ports.ClassificationRespond:
		return NodeAct, nil
	case ports.ClassificationNotify:
		return NodeNotifyReview, nil
	case ports.ClassificationIgnore:
		return NodeEnd, nil
	default:
		return "", types.NewInvalidClassificationError(string(c))
	}
}

// routeAfterNotify: respond 进入 Act，ignore 结束.
func routeAfterNotify(v hitl.VerdictType) Node {
	if v == hitl.VerdictRespond {
		return NodeAct
	}
	return NodeEnd
}

// routeAfterAct: 没有工具调用或任一调用为 Done 时结束，否则进入动作审核.
func routeAfterAct(msg types.Message) Node {
	if !msg.HasToolCalls() {
		return NodeEnd
	}
	for _, tc := range msg.ToolCalls {
		if tools.IsCompletion(tc.Name) {
			return NodeEnd
		}
	}
	return NodeActionReview
}

// routeAfterActionReview: 终止标记置位时结束，否则回到 Act.
func routeAfterActionReview(s *State) Node {
	if s.TerminationFlag {
		return NodeEnd
	}
	return NodeAct
}
