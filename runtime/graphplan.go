package runtime

import (
	"fmt"
	"sync"
)

// graphNode tracks a node's declared join set, the predecessors observed
// so far this round, and its (possibly runtime-rewritten) successor
// list. Grounded on the Rust original's back/graph_plan.rs::GraphNode:
// overNodes accumulates completed predecessors and is cleared once the
// join condition is satisfied, so a node downstream of a rewritten
// conditional edge can still be visited more than once across branches.
type graphNode struct {
	nodeName    string
	joinOn      []string // declared predecessors required before this node runs
	overNodes   map[string]bool
	vacuousOver map[string]bool // subset of overNodes arrived via skipCascade, not a real dispatch
	successors  []string
	serviceName string
	config      any
}

func (n *graphNode) haveJoinOn(name string) bool {
	for _, j := range n.joinOn {
		if j == name {
			return true
		}
	}
	return false
}

func (n *graphNode) haveSuccessor(name string) bool {
	for _, s := range n.successors {
		if s == name {
			return true
		}
	}
	return false
}

// arrive records that pred completed (really, or vacuously via a
// skipCascade) and reports whether every declared predecessor has now
// been observed (joinSatisfied), and, if so, whether every one of them
// arrived vacuously (allVacuous) — meaning n itself never received any
// real data and is, in turn, fully dead. Satisfying the join clears the
// bookkeeping, so a later re-entry starts a fresh round.
func (n *graphNode) arrive(pred string, vacuous bool) (joinSatisfied, allVacuous bool) {
	if n.overNodes == nil {
		n.overNodes = make(map[string]bool)
		n.vacuousOver = make(map[string]bool)
	}
	n.overNodes[pred] = true
	if vacuous {
		n.vacuousOver[pred] = true
	} else {
		delete(n.vacuousOver, pred)
	}
	for _, j := range n.joinOn {
		if !n.overNodes[j] {
			return false, false
		}
	}
	allVacuous = true
	for _, j := range n.joinOn {
		if !n.vacuousOver[j] {
			allVacuous = false
			break
		}
	}
	n.overNodes = make(map[string]bool)
	n.vacuousOver = make(map[string]bool)
	return true, allVacuous
}

// Graph is the Plan variant with runtime-rewritable successor lists,
// used by conditional routing services such as flow_select (spec §4.1
// "Graph variant").
type Graph struct {
	mu            sync.Mutex
	startNodeName string
	endNodeName   string
	nodes         map[string]*graphNode

	liveBranches int  // pending branch completions not yet resolved to End or dead Wait
	reachedEnd   bool

	// pendingDispatch holds ServiceEntities unlocked by a skipNode cascade
	// (a SetSuccessors prune reaching a join's last missing predecessor)
	// since SetSuccessors, unlike Next, has no return channel of its own.
	// The next Next() call, for whichever node, drains and includes them.
	pendingDispatch []ServiceEntity
}

// NewGraph returns an empty Graph builder. liveBranches starts at 1,
// representing the implicit start-node dispatch the Engine performs
// before any Next() call.
func NewGraph() *Graph {
	return &Graph{nodes: make(map[string]*graphNode), liveBranches: 1}
}

func (g *Graph) node(name string) *graphNode {
	n, ok := g.nodes[name]
	if !ok {
		n = &graphNode{nodeName: name}
		g.nodes[name] = n
	}
	return n
}

// Node declares a node's bound service and config.
func (g *Graph) Node(nodeName, serviceName string, config any) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := g.node(nodeName)
	n.serviceName = serviceName
	n.config = config
	return g
}

// Edge wires from -> to, auto-tracking start/end the same way DAG does.
func (g *Graph) Edge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.startNodeName == "" {
		g.startNodeName = from
	}
	g.endNodeName = to
	fn := g.node(from)
	if !fn.haveSuccessor(to) {
		fn.successors = append(fn.successors, to)
	}
	tn := g.node(to)
	if !tn.haveJoinOn(from) {
		tn.joinOn = append(tn.joinOn, from)
	}
	return g
}

// SetStartNodeName overrides the auto-tracked start node.
func (g *Graph) SetStartNodeName(name string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.startNodeName = name
	return g
}

// SetEndNodeName overrides the auto-tracked end node.
func (g *Graph) SetEndNodeName(name string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.endNodeName = name
	return g
}

// Check validates the plan per spec §4.1's contract, identical in shape
// to DAG.Check but against the Graph's joinOn/successors bookkeeping.
func (g *Graph) Check() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if _, ok := g.nodes[g.startNodeName]; !ok {
		return fmt.Errorf("runtime: Graph.Check: start node[%s] not found", g.startNodeName)
	}
	if _, ok := g.nodes[g.endNodeName]; !ok {
		return fmt.Errorf("runtime: Graph.Check: end node[%s] not found", g.endNodeName)
	}
	for name, n := range g.nodes {
		if n.serviceName == "" {
			return fmt.Errorf("runtime: Graph.Check: node[%s].service is empty", name)
		}
		if name == g.startNodeName {
			if len(n.joinOn) != 0 {
				return fmt.Errorf("runtime: Graph.Check: start node[%s] must have no predecessors", name)
			}
		} else if len(n.joinOn) == 0 {
			return fmt.Errorf("runtime: Graph.Check: non-start node[%s] must have >=1 predecessor", name)
		} else {
			for _, p := range n.joinOn {
				pn, ok := g.nodes[p]
				if !ok {
					return fmt.Errorf("runtime: Graph.Check: node[%s] <- node[%s]: predecessor not declared", name, p)
				}
				if !pn.haveSuccessor(name) {
					return fmt.Errorf("runtime: Graph.Check: node[%s] <- node[%s]: edge not mirrored", name, p)
				}
			}
		}
		if name == g.endNodeName {
			if len(n.successors) != 0 {
				return fmt.Errorf("runtime: Graph.Check: end node[%s] must have no successors", name)
			}
		} else if len(n.successors) == 0 {
			return fmt.Errorf("runtime: Graph.Check: non-end node[%s] must have >=1 successor", name)
		} else {
			for _, s := range n.successors {
				sn, ok := g.nodes[s]
				if !ok {
					return fmt.Errorf("runtime: Graph.Check: node[%s] -> node[%s]: successor not declared", name, s)
				}
				if !sn.haveJoinOn(name) {
					return fmt.Errorf("runtime: Graph.Check: node[%s] -> node[%s]: edge not mirrored", name, s)
				}
			}
		}
	}
	return nil
}

// StartNodeName implements Plan.
func (g *Graph) StartNodeName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.startNodeName
}

// EndNodeName implements Plan.
func (g *Graph) EndNodeName() string {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.endNodeName
}

// Get implements Plan. Unlike DAG, the Graph variant does not consume a
// node's entity on first Get — a node may be visited more than once
// across conditional branches.
func (g *Graph) Get(name string) (ServiceEntity, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	if !ok {
		return ServiceEntity{}, false
	}
	return NewServiceEntity(name, n.serviceName, n.config), true
}

// Next implements Plan. It also maintains the live-branch counter used
// for deadlock detection (spec §8 invariant 6): when the counter reaches
// zero without End ever having been reached, the branch resolving Next
// gets ErrDeadlockedPlan back instead of Wait.
func (g *Graph) Next(name string) (PlanResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.liveBranches--

	if name == g.endNodeName {
		g.reachedEnd = true
		return PlanResult{End: true}, nil
	}
	n, ok := g.nodes[name]
	if !ok {
		return PlanResult{}, newError(KindNodeEntityNotFound, name, fmt.Errorf("node not found"))
	}

	var next []ServiceEntity
	for _, succ := range n.successors {
		sn, ok := g.nodes[succ]
		if !ok {
			return PlanResult{}, newError(KindNodeEntityNotFound, succ, fmt.Errorf("successor not found"))
		}
		if satisfied, _ := sn.arrive(name, false); satisfied {
			next = append(next, NewServiceEntity(succ, sn.serviceName, sn.config))
		}
	}
	if len(g.pendingDispatch) > 0 {
		next = append(next, g.pendingDispatch...)
		g.pendingDispatch = nil
	}
	g.liveBranches += len(next)

	if len(next) == 0 {
		if g.liveBranches <= 0 && !g.reachedEnd {
			return PlanResult{}, newError(KindDeadlockedPlan, name, fmt.Errorf("all branches quiesced without reaching end node %q", g.endNodeName))
		}
		return PlanResult{Wait: true}, nil
	}
	return PlanResult{Nodes: next}, nil
}

// SetSuccessors rewrites name's successor list — the mechanism
// flow_select uses to implement conditional routing. Callers must invoke
// this before the node's own Next() is resolved by base_hook (spec §9:
// "base_hook must fetch successors after the service returns").
//
// A successor dropped by this rewrite will never be dispatched, so it
// can never contribute a real arrival to any join further downstream.
// SetSuccessors runs skipCascade on each dropped successor, which feeds
// that successor's own successors a vacuous arrival credited to it,
// cascading forward until every affected join either still waits on a
// live predecessor or becomes satisfied — in which case it's queued on
// pendingDispatch for the next Next() call to pick up.
func (g *Graph) SetSuccessors(name string, successors []string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	n, ok := g.nodes[name]
	if !ok {
		return newError(KindNodeEntityNotFound, name, fmt.Errorf("node not found"))
	}
	newSet := make(map[string]bool, len(successors))
	for _, s := range successors {
		newSet[s] = true
	}
	var dropped []string
	for _, s := range n.successors {
		if !newSet[s] {
			dropped = append(dropped, s)
		}
	}
	n.successors = append([]string(nil), successors...)

	visited := make(map[string]bool)
	for _, d := range dropped {
		g.skipCascade(d, visited)
	}
	return nil
}

// skipCascade marks skipped as never going to really run, and feeds a
// vacuous arrival (credited as coming from skipped) into each of
// skipped's own successors. A successor whose join becomes satisfied
// this way is queued onto pendingDispatch for genuine dispatch UNLESS
// every one of its declared predecessors arrived vacuously too — in
// that case the successor is itself fully dead (it would run with no
// real input at all), and the cascade continues forward into its
// successors instead of dispatching it. The end node is always queued
// rather than cascaded past, since a run must still resolve to Success
// even when every branch feeding it was pruned.
func (g *Graph) skipCascade(skipped string, visited map[string]bool) {
	if visited[skipped] {
		return
	}
	visited[skipped] = true
	sn, ok := g.nodes[skipped]
	if !ok {
		return
	}
	for _, succ := range sn.successors {
		tn, ok := g.nodes[succ]
		if !ok {
			continue
		}
		satisfied, allVacuous := tn.arrive(skipped, true)
		if !satisfied {
			continue
		}
		if succ == g.endNodeName || !allVacuous {
			g.pendingDispatch = append(g.pendingDispatch, NewServiceEntity(succ, tn.serviceName, tn.config))
			continue
		}
		g.skipCascade(succ, visited)
	}
}
