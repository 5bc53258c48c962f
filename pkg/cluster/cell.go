// Copyright 2019 Intel Corporation. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package cluster

import (
	"context"
	"math"
	"sort"

	"github.com/cellsched/scheduler/pkg/clockutil"
	"github.com/cellsched/scheduler/pkg/log"
)

var cellLog = log.NewLogger("cluster")

// PlacementDelta is one application's placement transition for a cycle.
type PlacementDelta struct {
	AppName string
	Before  string
	After   string
}

// Cell is the root Bucket plus the allocations, identity groups and
// application index that make it a schedulable unit (spec.md §3).
type Cell struct {
	*Bucket

	clock clockutil.Clock
	seq   int64

	allocOrder  []string
	allocations map[string]*Allocation

	identityGroups map[string]*IdentityGroup

	apps map[string]*Application

	// orphaned holds apps whose host Server was removed from the tree
	// (rather than merely marked down) while they were still retained;
	// the tree traversal in processRetention can no longer reach them.
	orphaned map[string]*Application

	nextEventAt float64
}

// NewCell creates an empty Cell named name, using clk for all "now"
// reads.
func NewCell(name string, clk clockutil.Clock) *Cell {
	root := NewBucket(name, 0)
	root.SetLevel("cell")
	return &Cell{
		Bucket:         root,
		clock:          clk,
		allocations:    make(map[string]*Allocation),
		identityGroups: make(map[string]*IdentityGroup),
		apps:           make(map[string]*Application),
		orphaned:       make(map[string]*Application),
		nextEventAt:    math.Inf(1),
	}
}

func (c *Cell) now() float64 { return clockutil.Seconds(c.clock) }

func (c *Cell) nextSeq() int64 {
	c.seq++
	return c.seq
}

// Allocation returns the Allocation for label, creating it (and
// recording it in label-addition order) if it doesn't exist yet.
func (c *Cell) Allocation(label string) *Allocation {
	if a, ok := c.allocations[label]; ok {
		return a
	}
	a := NewAllocation(nil)
	a.SetLabel(label)
	c.allocations[label] = a
	c.allocOrder = append(c.allocOrder, label)
	return a
}

// ConfigureIdentityGroup creates the named identity group with size n, or
// adjusts it to n if it already exists.
func (c *Cell) ConfigureIdentityGroup(name string, n int) *IdentityGroup {
	if g, ok := c.identityGroups[name]; ok {
		g.Adjust(n)
		return g
	}
	g := NewIdentityGroup(name, n)
	c.identityGroups[name] = g
	return g
}

// AddApp adds app to the allocation for label, assigning it the
// application's cell-wide insertion sequence and propagating the
// allocation's label and trait demand onto the app (spec.md §4.1's
// "label matches the app's allocation label").
func (c *Cell) AddApp(label string, app *Application) error {
	if existing, ok := c.apps[app.Name]; ok && existing != app {
		return invariantErrorf("cluster: application name %q already in use", app.Name)
	}

	alloc := c.Allocation(label)
	app.Label = label
	app.TraitDemand = alloc.traitDemand

	if app.IdentityGroup != "" {
		if g, ok := c.identityGroups[app.IdentityGroup]; ok {
			app.identityGroupRef = g
		}
	}

	if err := alloc.Add(app, c.nextSeq()); err != nil {
		return err
	}
	c.apps[app.Name] = app
	return nil
}

// RemoveApp removes the named application outright: releases its
// identity, frees its server (if any, with no retention grace — this is
// an explicit removal, not a host failure), and drops it from its
// allocation and the cell's index.
func (c *Cell) RemoveApp(name string) error {
	app, ok := c.apps[name]
	if !ok {
		return invariantErrorf("cluster: no such application %q", name)
	}

	if app.Server != "" {
		if srv := c.findServer(app.Server); srv != nil {
			srv.Remove(name)
		}
	}
	app.ReleaseIdentity()

	for _, label := range c.allocOrder {
		c.allocations[label].Remove(name)
	}
	delete(c.apps, name)
	delete(c.orphaned, name)
	return nil
}

// App looks up a previously added application by name.
func (c *Cell) App(name string) (*Application, bool) {
	app, ok := c.apps[name]
	return app, ok
}

// RemoveNode removes the named node from the tree. If it is a Server
// with apps still on it, those apps enter data retention exactly as if
// the server had gone down (spec.md §4.8): their placement_expiry is
// armed, and Application.Server keeps reporting the removed server's
// name until the grace period elapses, even though the node itself is
// gone.
func (c *Cell) RemoveNode(name string) error {
	node := findNode(c.Bucket, name)
	if node == nil {
		return invariantErrorf("cluster: no such node %q", name)
	}

	if srv, ok := node.(*Server); ok {
		now := c.now()
		for _, app := range srv.Apps() {
			if !app.RetentionArmed {
				app.RetentionArmed = true
				app.PlacementExpiry = now + app.DataRetentionTimeout
			}
			c.orphaned[app.Name] = app
		}
	}

	parent := node.Parent()
	if parent == nil {
		return invariantErrorf("cluster: cannot remove the cell root")
	}
	return parent.RemoveNode(name)
}

func (c *Cell) findServer(name string) *Server {
	if n := findNode(c.Bucket, name); n != nil {
		if srv, ok := n.(*Server); ok {
			return srv
		}
	}
	return nil
}

func findNode(root Node, name string) Node {
	var found Node
	_ = root.DepthFirst(func(n Node) error {
		if found == nil && n.Name() == name {
			found = n
		}
		return nil
	})
	return found
}

// NextEventAt returns the earliest placement_expiry among applications
// still within their data retention window, or +Inf if none.
func (c *Cell) NextEventAt() float64 { return c.nextEventAt }

// Placements returns the current app-name -> server-name mapping for
// every placed application.
func (c *Cell) Placements() map[string]string {
	out := make(map[string]string)
	for name, app := range c.apps {
		if app.Server != "" {
			out[name] = app.Server
		}
	}
	return out
}

// Pending returns the names of applications with no current server.
func (c *Cell) Pending() []string {
	var out []string
	for name, app := range c.apps {
		if app.Server == "" {
			out = append(out, name)
		}
	}
	return out
}

// Evicted returns the names of applications currently flagged evicted.
func (c *Cell) Evicted() []string {
	var out []string
	for name, app := range c.apps {
		if app.Evicted {
			out = append(out, name)
		}
	}
	return out
}

// processRetention arms and, once expired, resolves data retention for
// every application on a currently-down server, plus any application
// orphaned by an outright node removal (spec.md §4.8).
func (c *Cell) processRetention(now float64) {
	_ = c.Bucket.DepthFirst(func(n Node) error {
		srv, ok := n.(*Server)
		if !ok || srv.State() != StateDown {
			return nil
		}
		for name, app := range copyAppMap(srv.Apps()) {
			if !app.RetentionArmed {
				app.RetentionArmed = true
				app.PlacementExpiry = now + app.DataRetentionTimeout
			}
			if now >= app.PlacementExpiry {
				srv.Remove(name)
				app.RetentionArmed = false
				app.PlacementExpiry = 0
				if app.ScheduleOnce {
					app.Evicted = true
				}
			}
		}
		return nil
	})

	for name, app := range copyAppMap(c.orphaned) {
		if now >= app.PlacementExpiry {
			app.setServer("")
			app.RetentionArmed = false
			app.PlacementExpiry = 0
			if app.ScheduleOnce {
				app.Evicted = true
			}
			delete(c.orphaned, name)
		}
	}
}

func copyAppMap(in map[string]*Application) map[string]*Application {
	out := make(map[string]*Application, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// reconcileIdentities forces apps whose held identity has fallen out of
// range of its group's current (shrunk) size back to pending, per
// spec.md §4.9.
func (c *Cell) reconcileIdentities() {
	for _, app := range c.apps {
		if app.identityOutOfRange() {
			if app.Server != "" {
				if srv := c.findServer(app.Server); srv != nil {
					srv.Remove(app.Name)
				}
			}
			app.identity = nil
		}
	}
}

// stillValid reports whether app's current placement remains legitimate
// without re-running the full candidate search: the server must still
// exist and not be down (a frozen server keeps its apps). Capacity and trait/label fitness cannot change for an
// already-seated app short of a capacity/identity reconfiguration this
// package doesn't support at runtime, so they are not rechecked here;
// affinity limits are deliberately not rechecked either, since the
// occupant is itself the one already counted toward any cap covering it.
func (c *Cell) stillValid(app *Application) bool {
	srv := c.findServer(app.Server)
	return srv != nil && srv.State() != StateDown
}

// allCellEntries merges every labeled allocation's utilization queue
// into one globally ordered sequence (spec.md §4.6's "merge across
// labels"), each computed against the Cell's total capacity as
// parent_available.
func (c *Cell) allCellEntries() []QueueEntry {
	capacity := c.Bucket.TotalCapacity()
	var all []QueueEntry
	for _, label := range c.allocOrder {
		all = append(all, c.allocations[label].UtilizationQueue(capacity)...)
	}
	sort.SliceStable(all, func(i, j int) bool {
		x, y := all[i], all[j]
		if x.Priority != y.Priority {
			return x.Priority > y.Priority
		}
		if x.Utilization != y.Utilization {
			return x.Utilization < y.Utilization
		}
		return x.Seq < y.Seq
	})
	return all
}

// Schedule runs exactly one scheduling cycle (spec.md §4.6): retention
// bookkeeping, a global merged placement queue, top-down placement with
// eviction on failure, and a placement delta covering every known
// application (including no-op entries; callers filter as they like).
//
// ctx is observed only between cycles by callers that run many cycles in
// a loop; spec.md §5 states there are no suspension points within one
// cycle, so ctx.Done() is never polled mid-cycle here.
func (c *Cell) Schedule(ctx context.Context) []PlacementDelta {
	select {
	case <-ctx.Done():
	default:
	}

	now := c.now()
	before := c.Placements()

	c.reconcileIdentities()
	c.processRetention(now)

	queue := c.allCellEntries()

	for i, entry := range queue {
		app := entry.App

		if app.ScheduleOnce && app.Evicted {
			continue
		}
		if app.RetentionArmed {
			// Still within its grace period on a down/removed host.
			continue
		}
		if app.IdentityGroup != "" && app.identity == nil {
			if !app.AcquireIdentity() {
				continue
			}
		}

		if app.Server != "" {
			if c.stillValid(app) {
				continue
			}
			if srv := c.findServer(app.Server); srv != nil {
				srv.Remove(app.Name)
			}
		}

		if c.Bucket.Put(app) {
			app.Evicted = false
			continue
		}

		if !c.tryEvictFor(queue, i, app) {
			cellLog.Debug("application %q could not be placed this cycle", app.Name)
		}
	}

	c.recomputeNextEventAt()

	delta := make([]PlacementDelta, 0, len(c.apps))
	for name, app := range c.apps {
		delta = append(delta, PlacementDelta{AppName: name, Before: before[name], After: app.Server})
	}
	return delta
}

// tryEvictFor implements spec.md §4.7: walk the merged queue from the
// tail, tentatively freeing each strictly-lower-priority application
// occupying a server compatible with app's traits and label, and retry
// placing app after each removal; removals accumulate until app fits or
// the candidates run out. Every removed application is then put back on
// its exact prior host where it still fits; one that no longer fits is
// left unplaced and flagged evicted (it gets its own turn later in this
// same queue).
func (c *Cell) tryEvictFor(queue []QueueEntry, idx int, app *Application) bool {
	var victims []*Application
	var hosts []*Server
	placed := false
	for j := len(queue) - 1; j > idx && !placed; j-- {
		victim := queue[j].App
		if victim.Priority >= app.Priority {
			continue
		}
		if victim.Server == "" {
			continue
		}
		srv := c.findServer(victim.Server)
		if srv == nil {
			continue
		}
		if !srv.Traits().Satisfies(app.TraitDemand) || srv.Label() != app.Label {
			continue
		}

		srv.Remove(victim.Name)
		victims, hosts = append(victims, victim), append(hosts, srv)
		placed = c.Bucket.Put(app)
	}
	for k := len(victims) - 1; k >= 0; k-- {
		if !hosts[k].Put(victims[k]) {
			victims[k].Evicted = true
		}
	}
	if placed {
		app.Evicted = false
	}
	return placed
}

func (c *Cell) recomputeNextEventAt() {
	earliest := math.Inf(1)
	for _, app := range c.apps {
		if app.RetentionArmed && app.PlacementExpiry < earliest {
			earliest = app.PlacementExpiry
		}
	}
	c.nextEventAt = earliest
}
