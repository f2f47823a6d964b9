package coordinator

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/taoyao-code/fieldsync/internal/protocol/payload"
	"github.com/taoyao-code/fieldsync/internal/radio"
)

// Status 节点状态
type Status uint8

const (
	StatusUnknown Status = iota
	StatusUpdating
	StatusRecording
	StatusStopping
	StatusIdle
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusUnknown:
		return "unknown"
	case StatusUpdating:
		return "updating"
	case StatusRecording:
		return "recording"
	case StatusStopping:
		return "stopping"
	case StatusIdle:
		return "idle"
	case StatusError:
		return "error"
	default:
		return fmt.Sprintf("status(%d)", uint8(s))
	}
}

func (s Status) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

func (s *Status) UnmarshalText(b []byte) error {
	for _, v := range AllStatuses {
		if v.String() == string(b) {
			*s = v
			return nil
		}
	}
	return fmt.Errorf("unknown node status %q", b)
}

// AllStatuses 全部状态（指标初始化用）
var AllStatuses = []Status{StatusUnknown, StatusUpdating, StatusRecording, StatusStopping, StatusIdle, StatusError}

// NodeSpec 名册中的一个节点
type NodeSpec struct {
	Index   int
	Name    string
	Address radio.Address
}

// Node 协调器侧的节点状态。只由控制循环修改，外部拿到的都是副本。
type Node struct {
	Index            int                          `json:"index"`
	Name             string                       `json:"name"`
	Address          radio.Address                `json:"address"`
	Status           Status                       `json:"status"`
	LastVerifiedSkew time.Duration                `json:"last_verified_skew"`
	LatestReadings   [payload.ReadingCount]uint32 `json:"latest_readings"`
	LastSyncedEpoch  uint32                       `json:"last_synced_epoch"`
	Attempts         int                          `json:"attempts"`
	LastError        string                       `json:"last_error,omitempty"`
	Pending          bool                         `json:"pending"`
	Phase            string                       `json:"phase,omitempty"`
	UpdatedAt        time.Time                    `json:"updated_at"`
}

type entry struct {
	node    Node
	pending bool
	hs      *Handshake
}

// Table 节点表
type Table struct {
	mu      sync.RWMutex
	entries []*entry
	byIndex map[int]*entry
	byAddr  map[radio.Address]*entry
}

// NewTable 按名册构造；索引或地址重复时报错
func NewTable(specs []NodeSpec) (*Table, error) {
	t := &Table{
		byIndex: make(map[int]*entry, len(specs)),
		byAddr:  make(map[radio.Address]*entry, len(specs)),
	}
	for _, s := range specs {
		if _, dup := t.byIndex[s.Index]; dup {
			return nil, fmt.Errorf("duplicate node index %d", s.Index)
		}
		if _, dup := t.byAddr[s.Address]; dup {
			return nil, fmt.Errorf("duplicate node address %s", s.Address)
		}
		name := s.Name
		if name == "" {
			name = fmt.Sprintf("%d", s.Index)
		}
		e := &entry{node: Node{Index: s.Index, Name: name, Address: s.Address}}
		t.entries = append(t.entries, e)
		t.byIndex[s.Index] = e
		t.byAddr[s.Address] = e
	}
	sort.Slice(t.entries, func(i, j int) bool { return t.entries[i].node.Index < t.entries[j].node.Index })
	return t, nil
}

// DefaultRoster 十个节点，地址 0x00E0..0x00E9
func DefaultRoster() []NodeSpec {
	specs := make([]NodeSpec, 10)
	for i := range specs {
		specs[i] = NodeSpec{Index: i, Name: fmt.Sprintf("%d", i), Address: radio.Address(0x00E0 + i)}
	}
	return specs
}

func (e *entry) snapshot() Node {
	n := e.node
	n.Pending = e.pending
	if e.hs != nil {
		n.Phase = e.hs.Phase().String()
	}
	return n
}

// Snapshot 全部节点副本，按索引排序
func (t *Table) Snapshot() []Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Node, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e.snapshot())
	}
	return out
}

// Get 按索引取副本
func (t *Table) Get(index int) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byIndex[index]
	if !ok {
		return Node{}, false
	}
	return e.snapshot(), true
}

// Lookup 按地址取副本
func (t *Table) Lookup(addr radio.Address) (Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	e, ok := t.byAddr[addr]
	if !ok {
		return Node{}, false
	}
	return e.snapshot(), true
}

// Len 节点数
func (t *Table) Len() int { return len(t.entries) }

// reserve 标记节点有排队的指令
func (t *Table) reserve(index int) (Node, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byIndex[index]
	if !ok {
		return Node{}, fmt.Errorf("%w: index %d", ErrUnknownNode, index)
	}
	if e.pending {
		return Node{}, fmt.Errorf("%w: %s", ErrCommandInFlight, e.node.Address)
	}
	e.pending = true
	return e.snapshot(), nil
}

func (t *Table) release(addr radio.Address) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byAddr[addr]; ok {
		e.pending = false
		e.hs = nil
	}
}

// attach 握手对象在执行期间由节点表项持有
func (t *Table) attach(addr radio.Address, h *Handshake) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if e, ok := t.byAddr[addr]; ok {
		e.hs = h
	}
}

// update 在写锁内修改节点并返回副本
func (t *Table) update(addr radio.Address, now time.Time, fn func(n *Node)) Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byAddr[addr]
	if !ok {
		return Node{}
	}
	fn(&e.node)
	e.node.UpdatedAt = now
	return e.snapshot()
}

// Restore 用外部镜像恢复状态（重启后从 redis 装载）
func (t *Table) Restore(n Node) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.byAddr[n.Address]
	if !ok {
		return false
	}
	e.node.Status = n.Status
	if n.Status == StatusUpdating || n.Status == StatusStopping {
		// 中断的握手结果未知
		e.node.Status = StatusUnknown
	}
	e.node.LastVerifiedSkew = n.LastVerifiedSkew
	e.node.LatestReadings = n.LatestReadings
	e.node.LastSyncedEpoch = n.LastSyncedEpoch
	e.node.Attempts = n.Attempts
	e.node.LastError = n.LastError
	e.node.UpdatedAt = n.UpdatedAt
	return true
}
