package powerpool

import (
	"context"
	"sort"
	"sync"

	gferrors "github.com/vnykmshr/powerpool/pkg/common/errors"
)

// groupTable keeps group membership and the parent -> child relation
// between groups. The relation is kept acyclic.
type groupTable struct {
	mu       sync.RWMutex
	members  map[string]map[WorkID]struct{}
	children map[string]map[string]struct{}
}

func newGroupTable() *groupTable {
	return &groupTable{
		members:  make(map[string]map[WorkID]struct{}),
		children: make(map[string]map[string]struct{}),
	}
}

func (t *groupTable) addMember(group string, id WorkID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	m, ok := t.members[group]
	if !ok {
		m = make(map[WorkID]struct{})
		t.members[group] = m
	}
	m[id] = struct{}{}
}

func (t *groupTable) removeMember(group string, id WorkID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if m, ok := t.members[group]; ok {
		delete(m, id)
		if len(m) == 0 {
			delete(t.members, group)
		}
	}
}

func (t *groupTable) forget(id WorkID) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for g, m := range t.members {
		delete(m, id)
		if len(m) == 0 {
			delete(t.members, g)
		}
	}
}

func (t *groupTable) addChild(parent, child string) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if path := t.pathLocked(child, parent); path != nil {
		return &gferrors.CycleError{Graph: "group", Path: append([]string{parent}, path...)}
	}
	kids, ok := t.children[parent]
	if !ok {
		kids = make(map[string]struct{})
		t.children[parent] = kids
	}
	kids[child] = struct{}{}
	return nil
}

// pathLocked returns a path from -> ... -> to along child edges, or nil.
func (t *groupTable) pathLocked(from, to string) []string {
	if from == to {
		return []string{from}
	}
	parent := map[string]string{}
	visited := map[string]struct{}{from: {}}
	queue := []string{from}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for next := range t.children[cur] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			parent[next] = cur
			if next == to {
				path := []string{to}
				for n := to; n != from; {
					n = parent[n]
					path = append([]string{n}, path...)
				}
				return path
			}
			queue = append(queue, next)
		}
	}
	return nil
}

func (t *groupTable) removeChild(parent, child string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	kids, ok := t.children[parent]
	if !ok {
		return false
	}
	if _, ok := kids[child]; !ok {
		return false
	}
	delete(kids, child)
	if len(kids) == 0 {
		delete(t.children, parent)
	}
	return true
}

func (t *groupTable) childrenOf(group string) []string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]string, 0, len(t.children[group]))
	for c := range t.children[group] {
		out = append(out, c)
	}
	sort.Strings(out)
	return out
}

// membersOf returns the members of group and, with deep, of every
// descendant group.
func (t *groupTable) membersOf(group string, deep bool) []WorkID {
	t.mu.RLock()
	defer t.mu.RUnlock()

	groups := []string{group}
	if deep {
		seen := map[string]struct{}{group: {}}
		for i := 0; i < len(groups); i++ {
			for c := range t.children[groups[i]] {
				if _, ok := seen[c]; !ok {
					seen[c] = struct{}{}
					groups = append(groups, c)
				}
			}
		}
	}

	var out []WorkID
	seen := map[WorkID]struct{}{}
	for _, g := range groups {
		for id := range t.members[g] {
			if _, ok := seen[id]; !ok {
				seen[id] = struct{}{}
				out = append(out, id)
			}
		}
	}
	return out
}

// Group is a named set of works. Bulk operations apply to the members of
// the group and of its descendant groups.
type Group struct {
	pool *Pool
	name string
}

// Group returns the group with the given name. Groups exist implicitly.
func (p *Pool) Group(name string) *Group {
	return &Group{pool: p, name: name}
}

// Name returns the group name.
func (g *Group) Name() string {
	return g.name
}

// Submit adds a work to the group.
func (g *Group) Submit(ctx context.Context, fn WorkFunc, opts ...WorkOption) (WorkID, error) {
	var opt WorkOption
	if len(opts) > 0 {
		opt = opts[len(opts)-1]
	}
	opt.Group = g.name
	return g.pool.SubmitContext(ctx, fn, opt)
}

// Members returns the works of this group alone. Final works stay members
// only when their result is stored.
func (g *Group) Members() []WorkID {
	return g.pool.groups.membersOf(g.name, false)
}

// AllMembers returns the works of this group and its descendants.
func (g *Group) AllMembers() []WorkID {
	return g.pool.groups.membersOf(g.name, true)
}

func (g *Group) live() []WorkID {
	var out []WorkID
	for _, id := range g.AllMembers() {
		if _, ok := g.pool.liveItem(id); ok {
			out = append(out, id)
		}
	}
	return out
}

// Wait blocks until every live member finished.
func (g *Group) Wait(ctx context.Context) error {
	return g.pool.WaitMany(ctx, g.live())
}

// Stop stops every live member and returns those that could not be stopped.
func (g *Group) Stop(force bool) []WorkID {
	return g.pool.StopMany(g.live(), force)
}

// Pause pauses every live member and returns those that were not paused.
func (g *Group) Pause() []WorkID {
	return g.pool.PauseMany(g.live())
}

// Resume resumes every live member and returns those that were not paused.
func (g *Group) Resume() []WorkID {
	return g.pool.ResumeMany(g.live())
}

// Cancel cancels every member that has not started and returns the
// members that could not be canceled.
func (g *Group) Cancel() []WorkID {
	return g.pool.CancelMany(g.live())
}

// Fetch returns the stored results of the members.
func (g *Group) Fetch() []ExecuteResult {
	var out []ExecuteResult
	for _, id := range g.AllMembers() {
		if res, err := g.pool.Fetch(id); err == nil {
			out = append(out, res)
		}
	}
	return out
}

// AddChild makes child a descendant of this group. It fails with a
// *errors.CycleError when g is already a descendant of child.
func (g *Group) AddChild(child string) error {
	return g.pool.groups.addChild(g.name, child)
}

// RemoveChild drops the relation to child.
func (g *Group) RemoveChild(child string) bool {
	return g.pool.groups.removeChild(g.name, child)
}

// Children returns the direct child groups, sorted.
func (g *Group) Children() []string {
	return g.pool.groups.childrenOf(g.name)
}
