package pipeline

import (
	"mouthsync/internal/diag"
)

// State: 单个输入的编排状态。
type State int

const (
	StateInit State = iota
	StateProbing
	StateBatching
	StateAssembling
	StateMuxing
	StateCleaningUp
	StateDone
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateProbing:
		return "probing"
	case StateBatching:
		return "batching"
	case StateAssembling:
		return "assembling"
	case StateMuxing:
		return "muxing"
	case StateCleaningUp:
		return "cleaning_up"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal 报告是否为终态。
func (s State) Terminal() bool { return s == StateDone || s == StateFailed }

// next: 成功路径上的唯一后继。
var next = map[State]State{
	StateInit:       StateProbing,
	StateProbing:    StateBatching,
	StateBatching:   StateAssembling,
	StateAssembling: StateMuxing,
	StateMuxing:     StateCleaningUp,
	StateCleaningUp: StateDone,
}

// machine 记录状态迁移；非法迁移被忽略并返回 false。
type machine struct {
	input   string
	cur     State
	started bool
	hook    func(input string, from, to State)
	logger  *diag.Logger
}

func newMachine(input string, hook func(string, State, State), logger *diag.Logger) *machine {
	return &machine{input: input, cur: StateInit, hook: hook, logger: logger}
}

func (m *machine) state() State { return m.cur }

// enter 记录进入初始状态（仅一次，不触发回调）。
func (m *machine) enter() {
	if m.started {
		return
	}
	m.started = true
	m.logger.DebugStart("orchestrator", "state", m.input, "", map[string]string{"to": StateInit.String()})
}

// advance 迁移到成功路径上的下一状态。
func (m *machine) advance() bool {
	to, ok := next[m.cur]
	if !ok {
		return false
	}
	m.move(to)
	return true
}

// fail 从任意非终态迁移到 Failed。
func (m *machine) fail() bool {
	if m.cur.Terminal() {
		return false
	}
	m.move(StateFailed)
	return true
}

func (m *machine) move(to State) {
	from := m.cur
	m.cur = to
	m.logger.DebugStart("orchestrator", "state", m.input, "", map[string]string{"from": from.String(), "to": to.String()})
	if m.hook != nil {
		m.hook(m.input, from, to)
	}
}
