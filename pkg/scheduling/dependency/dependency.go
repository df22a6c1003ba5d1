package dependency

import (
	"fmt"

	"github.com/sasha-s/go-deadlock"

	"github.com/vnykmshr/powerpool/internal/atomicflag"
	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

// Status is the release state of a registered node.
type Status int32

const (
	// Normal nodes wait for at least one prerequisite.
	Normal Status = iota

	// Solved nodes had every prerequisite succeed and were released.
	Solved

	// Failed nodes will never run because a prerequisite failed, was
	// canceled, or the node itself was withdrawn.
	Failed
)

// String returns the status name.
func (s Status) String() string {
	switch s {
	case Normal:
		return "normal"
	case Solved:
		return "solved"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Outcome is what the owner of the controller knows about an ID that may
// already have finished before a dependent registered on it.
type Outcome int

const (
	// Unresolved IDs are unknown or still running.
	Unresolved Outcome = iota

	// Succeeded IDs finished successfully.
	Succeeded

	// Unsucceeded IDs finished in any other way.
	Unsucceeded
)

// Config wires a Controller to the scheduler that owns the work.
type Config[K comparable] struct {
	// Lookup reports the outcome of IDs that completed before Register saw
	// them. It is called with the graph lock held and must not call back
	// into the Controller. Nil treats every ID as unresolved.
	Lookup func(id K) Outcome

	// OnRelease is called, outside the graph lock, once for every node whose
	// last prerequisite succeeded.
	OnRelease func(id K)

	// OnFail is called, outside the graph lock, once for every node failed by
	// the unsuccessful completion of cause.
	OnFail func(id K, cause K)

	// Format renders IDs in cycle errors. Nil uses fmt's %v.
	Format func(id K) string
}

type node[K comparable] struct {
	status    atomicflag.Flag[Status]
	remaining map[K]struct{}
}

// Controller gates work on the completion of other work.
//
// Nodes are keyed by ID; edges run from a prerequisite to the nodes that
// wait for it. Registration rejects cycles before mutating the graph. A node
// leaves the graph exactly once, either released (Solved) or failed, decided
// by a compare-and-set on its status.
type Controller[K comparable] struct {
	cfg Config[K]

	mu       deadlock.Mutex
	nodes    map[K]*node[K]
	children map[K]map[K]struct{}
}

// New creates an empty Controller.
func New[K comparable](cfg Config[K]) *Controller[K] {
	return &Controller[K]{
		cfg:      cfg,
		nodes:    make(map[K]*node[K]),
		children: make(map[K]map[K]struct{}),
	}
}

// Register records that id may only run after every ID in prerequisites
// succeeded.
//
// It returns Solved when nothing is left to wait for, Failed when a
// prerequisite already finished unsuccessfully (id is not inserted), and
// Normal when id was parked. A registration that would close a cycle returns
// a *errors.CycleError and leaves the graph unchanged.
func (c *Controller[K]) Register(id K, prerequisites []K) (Status, error) {
	if len(prerequisites) == 0 {
		return Solved, nil
	}

	targets := make(map[K]struct{}, len(prerequisites))
	for _, p := range prerequisites {
		targets[p] = struct{}{}
	}

	c.mu.Lock()
	if _, exists := c.nodes[id]; exists {
		c.mu.Unlock()
		return Normal, fmt.Errorf("dependency: %s already registered: %w", c.format(id), gferrors.ErrDuplicateWorkID)
	}

	if path := c.findPath(id, targets); path != nil {
		c.mu.Unlock()
		return Normal, &gferrors.CycleError{Graph: "dependency", Path: path}
	}

	remaining := make(map[K]struct{}, len(targets))
	for p := range targets {
		switch c.lookup(p) {
		case Succeeded:
		case Unsucceeded:
			c.mu.Unlock()
			return Failed, nil
		default:
			remaining[p] = struct{}{}
		}
	}

	if len(remaining) == 0 {
		c.mu.Unlock()
		return Solved, nil
	}

	c.nodes[id] = &node[K]{remaining: remaining}
	for p := range remaining {
		kids, ok := c.children[p]
		if !ok {
			kids = make(map[K]struct{})
			c.children[p] = kids
		}
		kids[id] = struct{}{}
	}
	c.mu.Unlock()
	return Normal, nil
}

// findPath returns the node path from id to itself through one of targets,
// or nil when adding edges targets -> id keeps the graph acyclic.
func (c *Controller[K]) findPath(id K, targets map[K]struct{}) []string {
	if _, self := targets[id]; self {
		return []string{c.format(id), c.format(id)}
	}

	parent := map[K]K{}
	visited := map[K]struct{}{id: {}}
	stack := []K{id}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		for child := range c.children[cur] {
			if _, seen := visited[child]; seen {
				continue
			}
			visited[child] = struct{}{}
			parent[child] = cur
			if _, hit := targets[child]; hit {
				return c.buildPath(id, child, parent)
			}
			stack = append(stack, child)
		}
	}
	return nil
}

func (c *Controller[K]) buildPath(id, hit K, parent map[K]K) []string {
	// Walk back from hit to id, then close the loop with the new edge hit -> id.
	rev := []K{hit}
	for cur := hit; cur != id; {
		cur = parent[cur]
		rev = append(rev, cur)
	}
	path := make([]string, 0, len(rev)+1)
	for i := len(rev) - 1; i >= 0; i-- {
		path = append(path, c.format(rev[i]))
	}
	return append(path, c.format(id))
}

// Complete reports that id finished. On success its direct dependents lose
// one prerequisite and those left with none are released. Otherwise every
// registered descendant of id is failed, each exactly once.
func (c *Controller[K]) Complete(id K, succeeded bool) {
	var released, failed []K

	c.mu.Lock()
	kids := c.children[id]
	delete(c.children, id)

	if succeeded {
		for k := range kids {
			n, ok := c.nodes[k]
			if !ok {
				continue
			}
			delete(n.remaining, id)
			if len(n.remaining) == 0 && n.status.CompareAndSet(Normal, Solved) {
				delete(c.nodes, k)
				released = append(released, k)
			}
		}
	} else {
		queue := make([]K, 0, len(kids))
		for k := range kids {
			queue = append(queue, k)
		}
		for len(queue) > 0 {
			k := queue[0]
			queue = queue[1:]
			n, ok := c.nodes[k]
			if !ok || !n.status.CompareAndSet(Normal, Failed) {
				continue
			}
			delete(c.nodes, k)
			c.detach(k, n)
			failed = append(failed, k)
			for grand := range c.children[k] {
				queue = append(queue, grand)
			}
			delete(c.children, k)
		}
	}
	c.mu.Unlock()

	if c.cfg.OnRelease != nil {
		for _, k := range released {
			c.cfg.OnRelease(k)
		}
	}
	if c.cfg.OnFail != nil {
		for _, k := range failed {
			c.cfg.OnFail(k, id)
		}
	}
}

// Withdraw removes a parked node that has not been released yet, for
// example because its work was canceled while waiting. It reports whether
// the caller won the node; a node that is being released concurrently is
// not withdrawn. The caller is expected to Complete(id, false) afterwards so
// that dependents are failed.
func (c *Controller[K]) Withdraw(id K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, ok := c.nodes[id]
	if !ok || !n.status.CompareAndSet(Normal, Failed) {
		return false
	}
	delete(c.nodes, id)
	c.detach(id, n)
	return true
}

// detach drops the edges from id's unresolved prerequisites to id.
func (c *Controller[K]) detach(id K, n *node[K]) {
	for p := range n.remaining {
		if kids, ok := c.children[p]; ok {
			delete(kids, id)
			if len(kids) == 0 {
				delete(c.children, p)
			}
		}
	}
}

// Pending returns the IDs currently parked.
func (c *Controller[K]) Pending() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]K, 0, len(c.nodes))
	for id := range c.nodes {
		out = append(out, id)
	}
	return out
}

// IsPending reports whether id is parked.
func (c *Controller[K]) IsPending(id K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.nodes[id]
	return ok
}

// Remaining returns the unsatisfied prerequisites of a parked id.
func (c *Controller[K]) Remaining(id K) []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	n, ok := c.nodes[id]
	if !ok {
		return nil
	}
	out := make([]K, 0, len(n.remaining))
	for p := range n.remaining {
		out = append(out, p)
	}
	return out
}

// Len returns the number of parked nodes.
func (c *Controller[K]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.nodes)
}

func (c *Controller[K]) lookup(id K) Outcome {
	if c.cfg.Lookup == nil {
		return Unresolved
	}
	return c.cfg.Lookup(id)
}

func (c *Controller[K]) format(id K) string {
	if c.cfg.Format != nil {
		return c.cfg.Format(id)
	}
	return fmt.Sprintf("%v", id)
}
