package runtime

// PlanResult is the outcome of asking a Plan what runs next after a node
// completes.
type PlanResult struct {
	// Nodes, when non-nil, is the set of ServiceEntities now runnable.
	// An empty-but-non-nil slice is equivalent to Wait.
	Nodes []ServiceEntity
	// End reports that name was the end node: the run should transition
	// to Success.
	End bool
	// Wait reports that no successor is ready yet — a valid, non-error
	// state; another branch is still pending.
	Wait bool
}

// Plan is a directed graph of nodes. Two variants are provided: DAG
// (strict acyclic join, §4.1 "DAG variant") and Graph (count-tracked
// joins with runtime successor rewriting, §4.1 "Graph variant").
//
// All Plan state is owned exclusively by one Context; mutation is
// serialized through Plan's own mutex so that a conditional node's
// SetSuccessors call is safe under parallel fan-out (spec §5).
type Plan interface {
	StartNodeName() string
	EndNodeName() string

	// Get returns a fresh ServiceEntity for name with the service handle
	// unresolved, or ok=false if name was never declared, or if the DAG
	// variant already consumed it for this dispatch.
	Get(name string) (se ServiceEntity, ok bool)

	// Next advances the plan past name and reports what becomes
	// runnable. If name == EndNodeName(), returns PlanResult{End: true}.
	Next(name string) (PlanResult, error)

	// SetSuccessors rewrites name's successor list; only the Graph
	// variant implements this meaningfully (used by flow_select). DAG
	// returns an error — its join sets are fixed at check() time.
	SetSuccessors(name string, successors []string) error

	// Check validates the plan's invariants (spec §4.1's validation
	// contract) and must be called, and return nil, before the plan is
	// usable by an Engine.
	Check() error
}
