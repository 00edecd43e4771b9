package runtime

import (
	"fmt"
	"sync"
)

// dagNode tracks one node's residual predecessor set and declared
// successor list. Grounded on the Rust original's plan/dag.rs::DAGNode:
// removeFromAndTakeServiceName decrements the residual set and only
// yields the node once the set empties — a join node runs exactly once,
// after all predecessors complete.
type dagNode struct {
	nodeName    string
	from        []string // residual predecessor set, mutated as predecessors complete
	to          []string
	serviceName string
	config      any
	consumed    bool
}

func (n *dagNode) haveFrom(name string) bool {
	for _, f := range n.from {
		if f == name {
			return true
		}
	}
	return false
}

func (n *dagNode) haveTo(name string) bool {
	for _, t := range n.to {
		if t == name {
			return true
		}
	}
	return false
}

// removeFrom removes pred from the residual predecessor set and reports
// whether the set is now empty (join satisfied).
func (n *dagNode) removeFrom(pred string) (joinSatisfied bool) {
	for i, f := range n.from {
		if f == pred {
			n.from = append(n.from[:i], n.from[i+1:]...)
			break
		}
	}
	return len(n.from) == 0
}

// DAG is the strict-acyclic-join Plan variant (spec §4.1 "DAG variant").
type DAG struct {
	mu            sync.Mutex
	startNodeName string
	endNodeName   string
	nodes         map[string]*dagNode
	checked       bool
}

// NewDAG returns an empty DAG builder.
func NewDAG() *DAG {
	return &DAG{nodes: make(map[string]*dagNode)}
}

// Node declares a node with its bound service name and opaque config,
// without yet wiring any edges.
func (d *DAG) Node(nodeName, serviceName string, config any) *DAG {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.node(nodeName).serviceName = serviceName
	d.nodes[nodeName].config = config
	return d
}

func (d *DAG) node(name string) *dagNode {
	n, ok := d.nodes[name]
	if !ok {
		n = &dagNode{nodeName: name}
		d.nodes[name] = n
	}
	return n
}

// Edge wires from -> to, auto-tracking start (first Edge's from) and end
// (most recent Edge's to) the same way the Rust builder does.
func (d *DAG) Edge(from, to string) *DAG {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.startNodeName == "" {
		d.startNodeName = from
	}
	d.endNodeName = to
	fn := d.node(from)
	if !fn.haveTo(to) {
		fn.to = append(fn.to, to)
	}
	tn := d.node(to)
	if !tn.haveFrom(from) {
		tn.from = append(tn.from, from)
	}
	return d
}

// SetStartNodeName overrides the auto-tracked start node.
func (d *DAG) SetStartNodeName(name string) *DAG {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.startNodeName = name
	return d
}

// SetEndNodeName overrides the auto-tracked end node.
func (d *DAG) SetEndNodeName(name string) *DAG {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.endNodeName = name
	return d
}

// Check validates the plan per spec §4.1's contract: start/end exist,
// every node has a service, predecessor/successor relations mirror each
// other, start has no predecessors, end has no successors.
func (d *DAG) Check() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.nodes[d.startNodeName]; !ok {
		return fmt.Errorf("runtime: DAG.Check: start node[%s] not found", d.startNodeName)
	}
	if _, ok := d.nodes[d.endNodeName]; !ok {
		return fmt.Errorf("runtime: DAG.Check: end node[%s] not found", d.endNodeName)
	}
	for name, n := range d.nodes {
		if n.serviceName == "" {
			return fmt.Errorf("runtime: DAG.Check: node[%s].service is empty", name)
		}
		if name == d.startNodeName {
			if len(n.from) != 0 {
				return fmt.Errorf("runtime: DAG.Check: start node[%s] must have no predecessors", name)
			}
		} else if len(n.from) == 0 {
			return fmt.Errorf("runtime: DAG.Check: non-start node[%s] must have >=1 predecessor", name)
		} else {
			for _, p := range n.from {
				pn, ok := d.nodes[p]
				if !ok {
					return fmt.Errorf("runtime: DAG.Check: node[%s] <- node[%s]: predecessor not declared", name, p)
				}
				if !pn.haveTo(name) {
					return fmt.Errorf("runtime: DAG.Check: node[%s] <- node[%s]: edge not mirrored", name, p)
				}
			}
		}
		if name == d.endNodeName {
			if len(n.to) != 0 {
				return fmt.Errorf("runtime: DAG.Check: end node[%s] must have no successors", name)
			}
		} else if len(n.to) == 0 {
			return fmt.Errorf("runtime: DAG.Check: non-end node[%s] must have >=1 successor", name)
		} else {
			for _, s := range n.to {
				sn, ok := d.nodes[s]
				if !ok {
					return fmt.Errorf("runtime: DAG.Check: node[%s] -> node[%s]: successor not declared", name, s)
				}
				if !sn.haveFrom(name) {
					return fmt.Errorf("runtime: DAG.Check: node[%s] -> node[%s]: edge not mirrored", name, s)
				}
			}
		}
	}
	d.checked = true
	return nil
}

// StartNodeName implements Plan.
func (d *DAG) StartNodeName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.startNodeName
}

// EndNodeName implements Plan.
func (d *DAG) EndNodeName() string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.endNodeName
}

// Get implements Plan. The DAG variant consumes a node's ServiceEntity
// exactly once per run: a second Get on the same node returns ok=false.
func (d *DAG) Get(name string) (ServiceEntity, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	n, ok := d.nodes[name]
	if !ok || n.consumed {
		return ServiceEntity{}, false
	}
	n.consumed = true
	return NewServiceEntity(name, n.serviceName, n.config), true
}

// Next implements Plan.
func (d *DAG) Next(name string) (PlanResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if name == d.endNodeName {
		return PlanResult{End: true}, nil
	}
	n, ok := d.nodes[name]
	if !ok {
		return PlanResult{}, newError(KindNodeEntityNotFound, name, fmt.Errorf("node not found"))
	}

	var next []ServiceEntity
	for _, succ := range n.to {
		sn, ok := d.nodes[succ]
		if !ok {
			return PlanResult{}, newError(KindNodeEntityNotFound, succ, fmt.Errorf("successor not found"))
		}
		if sn.removeFrom(name) {
			next = append(next, NewServiceEntity(succ, sn.serviceName, sn.config))
		}
	}
	if len(next) == 0 {
		return PlanResult{Wait: true}, nil
	}
	return PlanResult{Nodes: next}, nil
}

// SetSuccessors is not supported by the DAG variant: join sets are fixed
// at Check() time.
func (d *DAG) SetSuccessors(name string, successors []string) error {
	return fmt.Errorf("runtime: DAG.SetSuccessors: DAG plan does not support runtime successor rewriting (node %s)", name)
}
