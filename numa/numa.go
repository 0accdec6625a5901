// Package numa implements the topology detection and vCPU/memory
// placement from spec.md §4.10's "NUMA placement": nodes are detected
// once, vCPU binding pins a thread to a CPU within a node, and
// allocation prefers the requested node but falls back to the
// least-loaded node that can satisfy the request.
package numa

import (
	"runtime"
	"sync"

	"github.com/pbnjay/memory"
	"golang.org/x/sys/unix"

	"github.com/dbtcore/rt/internal/rtlog"
	"github.com/dbtcore/rt/rterr"
)

// Node is one NUMA node: a set of CPUs and a memory capacity, fixed
// after detection per spec.md's "NUMA Topology" type.
type Node struct {
	ID       int
	CPUs     []int
	Capacity uint64 // bytes

	used uint64
}

// Topology is the detected, immutable set of nodes.
type Topology struct {
	Nodes []Node
}

// Detect builds a Topology. On Linux with /sys/devices/system/node
// present, a real implementation would parse it; this reference core
// takes the portable route spec.md explicitly allows ("best-effort on
// non-Linux"): treat every logical CPU as belonging to a single node
// sized from github.com/pbnjay/memory's total system memory, unless the
// caller already knows the real topology and supplies nodeCPUs
// (cpu-index lists per node) directly.
func Detect(nodeCPUs [][]int) Topology {
	if len(nodeCPUs) == 0 {
		nodeCPUs = [][]int{allCPUs()}
	}
	total := memory.TotalMemory()
	perNode := total
	if n := len(nodeCPUs); n > 0 {
		perNode = total / uint64(n)
	}
	nodes := make([]Node, len(nodeCPUs))
	for i, cpus := range nodeCPUs {
		nodes[i] = Node{ID: i, CPUs: cpus, Capacity: perNode}
	}
	return Topology{Nodes: nodes}
}

func allCPUs() []int {
	n := runtime.NumCPU()
	out := make([]int, n)
	for i := range out {
		out[i] = i
	}
	return out
}

// Placement binds vCPUs to nodes and tracks per-node allocation load for
// the least-loaded fallback.
type Placement struct {
	mu       sync.Mutex
	topo     Topology
	vcpuNode map[int]int // vCPU index -> node ID
}

// NewPlacement constructs a Placement over topo.
func NewPlacement(topo Topology) *Placement {
	return &Placement{topo: topo, vcpuNode: make(map[int]int)}
}

// BindVCPU pins vcpu's host thread to one CPU in preferredNode (the
// first CPU in that node's list) via unix.SchedSetaffinity, per spec.md
// §4.10: "binding a vCPU to a node pins the vCPU thread to one CPU in
// that node". Grounded on the teacher's Linux poller setup
// (eventloop/poller_linux.go) for the pattern of an OS-specific syscall
// wrapped behind a portable Go API; like that file, failures here are
// non-fatal (best-effort, per spec.md) and only logged.
func (p *Placement) BindVCPU(vcpu int, preferredNode int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if preferredNode < 0 || preferredNode >= len(p.topo.Nodes) {
		return rterr.New(rterr.KindInvalidAddress, "numa", nil)
	}
	node := p.topo.Nodes[preferredNode]
	if len(node.CPUs) == 0 {
		return rterr.New(rterr.KindInvalidAddress, "numa", nil)
	}

	var set unix.CPUSet
	set.Zero()
	set.Set(node.CPUs[0])
	if err := unix.SchedSetaffinity(threadID(vcpu), &set); err != nil {
		rtlog.Default().Warning().
			Str("component", "numa").
			Int("vcpu", vcpu).
			Int("node", preferredNode).
			Log("best-effort vCPU affinity pin failed")
	}

	p.vcpuNode[vcpu] = preferredNode
	return nil
}

// threadID resolves the OS thread id SchedSetaffinity should target. 0
// means "calling thread", which is correct when BindVCPU runs on the
// vCPU's own host thread (the expected call site); a production engine
// locked to a specific OS thread via runtime.LockOSThread before calling
// this.
func threadID(vcpu int) int {
	return 0
}

// NodeForVCPU returns the node a vCPU was last bound to.
func (p *Placement) NodeForVCPU(vcpu int) (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n, ok := p.vcpuNode[vcpu]
	return n, ok
}

// Allocate reserves size bytes, preferring preferredNode; if that node
// lacks capacity, it falls back to the least-loaded node that can
// satisfy the request, per spec.md §4.10. Returns the node ID the
// allocation was placed on.
func (p *Placement) Allocate(preferredNode int, size uint64) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if preferredNode >= 0 && preferredNode < len(p.topo.Nodes) {
		n := &p.topo.Nodes[preferredNode]
		if n.Capacity-n.used >= size {
			n.used += size
			return n.ID, nil
		}
	}

	best := -1
	var bestLoad uint64
	for i := range p.topo.Nodes {
		n := &p.topo.Nodes[i]
		if n.Capacity-n.used < size {
			continue
		}
		load := n.used
		if best == -1 || load < bestLoad {
			best, bestLoad = i, load
		}
	}
	if best == -1 {
		return -1, rterr.New(rterr.KindOutOfHeapMemory, "numa", nil)
	}
	p.topo.Nodes[best].used += size
	return best, nil
}

// Release gives back size bytes of a prior Allocate on nodeID.
func (p *Placement) Release(nodeID int, size uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if nodeID < 0 || nodeID >= len(p.topo.Nodes) {
		return
	}
	n := &p.topo.Nodes[nodeID]
	if size > n.used {
		size = n.used
	}
	n.used -= size
}

// Load returns nodeID's current allocation load in bytes.
func (p *Placement) Load(nodeID int) uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	if nodeID < 0 || nodeID >= len(p.topo.Nodes) {
		return 0
	}
	return p.topo.Nodes[nodeID].used
}
