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
	"github.com/cellsched/scheduler/pkg/resource"
	"github.com/cellsched/scheduler/pkg/trait"
)

// Bucket is an inner topology node (datacenter, rack, ...) aggregating
// its children's capacity, traits and validity.
type Bucket struct {
	node

	level    string
	children []Node
	byName   map[string]Node

	traits        *trait.Set
	freeCapacity  resource.Vector
	totalCapacity resource.Vector
	validUntil    float64

	affinityCounters map[string]int
	strategies       map[string]Strategy // per-affinity placement strategy
	cursor           map[string]int      // per-affinity rotation cursor / pack "current"
}

// NewBucket creates an empty Bucket with the given intrinsic traits.
// Default placement strategy for every affinity is Spread, per spec.md
// §4.4.
func NewBucket(name string, traits trait.Mask) *Bucket {
	b := &Bucket{
		level:            "",
		byName:           make(map[string]Node),
		traits:           trait.NewSet(traits),
		affinityCounters: make(map[string]int),
		strategies:       make(map[string]Strategy),
		cursor:           make(map[string]int),
	}
	b.self = b
	b.name = name
	return b
}

// SetLevel sets the level tag (e.g. "rack", "cell") affinity_limits key
// against.
func (b *Bucket) SetLevel(level string) { b.level = level }

// Level returns the bucket's level tag.
func (b *Bucket) Level() string { return b.level }

// SetAffinityStrategy sets the placement strategy used among this
// bucket's children for the given affinity. Strategy defaults to Spread
// when unset.
func (b *Bucket) SetAffinityStrategy(affinity string, s Strategy) {
	b.strategies[affinity] = s
}

func (b *Bucket) strategyFor(affinity string) Strategy {
	if s, ok := b.strategies[affinity]; ok {
		return s
	}
	return SpreadStrategy
}

// AddNode links child under b, recomputes b's (and its ancestors') free
// capacity, valid_until and effective traits, and returns an error if a
// sibling with the same name already exists.
func (b *Bucket) AddNode(child Node) error {
	if _, exists := b.byName[child.Name()]; exists {
		return invariantErrorf("cluster: node %q already has a child named %q", b.name, child.Name())
	}

	switch c := child.(type) {
	case *Bucket:
		c.linkUnder(b)
	case *Server:
		c.linkUnder(b)
	default:
		return invariantErrorf("cluster: unsupported node type for %q", child.Name())
	}

	b.children = append(b.children, child)
	b.byName[child.Name()] = child

	recomputeUpward(b)
	return nil
}

// RemoveNode unlinks the named child and recomputes aggregated state
// upward. Removing a nonexistent child is an invariant violation.
func (b *Bucket) RemoveNode(name string) error {
	child, ok := b.byName[name]
	if !ok {
		return invariantErrorf("cluster: node %q has no child named %q", b.name, name)
	}

	delete(b.byName, name)
	for i, c := range b.children {
		if c.Name() == name {
			b.children = append(b.children[:i], b.children[i+1:]...)
			break
		}
	}
	b.traits.Remove(name)

	recomputeUpward(b)
	return nil
}

// Children returns b's direct children in insertion order.
func (b *Bucket) Children() []Node { return b.children }

// Members returns every Server in b's subtree, keyed by name.
func (b *Bucket) Members() map[string]*Server {
	out := make(map[string]*Server)
	_ = b.DepthFirst(func(n Node) error {
		if srv, ok := n.(*Server); ok {
			out[srv.Name()] = srv
		}
		return nil
	})
	return out
}

// Size returns the sum of total capacity of every Server in b's subtree
// whose label equals label exactly (label == "" counts only unlabeled
// servers).
func (b *Bucket) Size(label string) resource.Vector {
	total := resource.Zero()
	_ = b.DepthFirst(func(n Node) error {
		if srv, ok := n.(*Server); ok {
			total = total.Add(srv.size(label))
		}
		return nil
	})
	return total
}

func (b *Bucket) recomputeFromChildren() {
	if len(b.children) == 0 {
		b.freeCapacity = resource.Zero()
		b.totalCapacity = resource.Zero()
		b.validUntil = 0
		return
	}

	free := b.children[0].FreeCapacity()
	total := totalCapacityOf(b.children[0])
	until := b.children[0].ValidUntil()
	for _, c := range b.children[1:] {
		free = free.Max(c.FreeCapacity())
		total = total.Max(totalCapacityOf(c))
		if v := c.ValidUntil(); v > until {
			until = v
		}
	}
	b.freeCapacity = free
	b.totalCapacity = total
	b.validUntil = until

	for _, c := range b.children {
		b.traits.Add(c.Name(), c.Traits().Traits())
	}
}

func (b *Bucket) adjustAffinity(affinity string, delta int) {
	b.affinityCounters[affinity] += delta
	if b.parent != nil {
		b.parent.adjustAffinity(affinity, delta)
	}
}

// FreeCapacity implements Node.
func (b *Bucket) FreeCapacity() resource.Vector { return b.freeCapacity }

// TotalCapacity returns the componentwise max of its children's total
// capacity — the same "any app that fits in any child fits here" upper
// bound FreeCapacity uses, applied to the fixed rather than the
// currently-available vector.
func (b *Bucket) TotalCapacity() resource.Vector { return b.totalCapacity }

func totalCapacityOf(n Node) resource.Vector {
	switch v := n.(type) {
	case *Bucket:
		return v.TotalCapacity()
	case *Server:
		return v.TotalCapacity()
	default:
		return resource.Zero()
	}
}

// ValidUntil implements Node.
func (b *Bucket) ValidUntil() float64 { return b.validUntil }

// Traits implements Node.
func (b *Bucket) Traits() *trait.Set { return b.traits }

// AffinityCounter implements Node.
func (b *Bucket) AffinityCounter(affinity string) int { return b.affinityCounters[affinity] }

// Label always returns "": the Bucket itself carries no label of its
// own, only Servers do (spec.md §3). Buckets are transparent to label filtering: candidacy is decided
// per-Server during descent, see candidateChildren in strategy.go.
func (b *Bucket) Label() string { return "" }

// Put attempts to place app somewhere in b's subtree using the
// strategy registered for app.Affinity, honoring trait/label filtering
// and affinity limits (spec.md §4.1, §4.2, §4.5).
func (b *Bucket) Put(app *Application) bool {
	if len(b.children) == 0 {
		return false
	}

	candidates := candidateChildren(b.children, app)
	if len(candidates) == 0 {
		return false
	}

	strategy := b.strategyFor(app.Affinity)
	cursor := b.cursor[app.Affinity]
	order := rotateFiltered(b.children, cursor, candidates)

	for _, child := range order {
		if !affinityLimitsOK(child, app) {
			continue
		}
		if child.Put(app) {
			placedIdx := indexOfChild(b.children, child)
			b.cursor[app.Affinity] = strategy.NextCursor(len(b.children), cursor, placedIdx)
			return true
		}
	}
	return false
}

// Remove implements Node: removes name from wherever it is in b's
// subtree.
func (b *Bucket) Remove(name string) bool {
	for _, c := range b.children {
		if c.Remove(name) {
			return true
		}
	}
	return false
}

// DepthFirst implements Node.
func (b *Bucket) DepthFirst(fn func(Node) error) error {
	if err := fn(b); err != nil {
		return err
	}
	for _, c := range b.children {
		if err := c.DepthFirst(fn); err != nil {
			return err
		}
	}
	return nil
}

func checkLimit(n Node, app *Application) bool {
	cap, ok := app.AffinityLimits[n.Level()]
	if !ok {
		return true
	}
	return n.AffinityCounter(app.Affinity) < cap
}

// affinityLimitsOK reports whether placing app at or under n would keep
// every affinity_limits cap satisfied at n itself and every ancestor of
// n, checked before descent so spread strategies can skip saturated
// branches (spec.md §4.5).
func affinityLimitsOK(n Node, app *Application) bool {
	if len(app.AffinityLimits) == 0 {
		return true
	}
	if !checkLimit(n, app) {
		return false
	}
	for b := n.Parent(); b != nil; b = b.Parent() {
		if !checkLimit(b, app) {
			return false
		}
	}
	return true
}
