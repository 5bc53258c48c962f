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

// Package cluster implements the scheduler core: the Node tree (Bucket
// and Server), Allocations and their utilization queues, Applications,
// IdentityGroups, and the Cell that ties them together and drives one
// schedule() cycle.
package cluster

import (
	"github.com/cellsched/scheduler/pkg/resource"
	"github.com/cellsched/scheduler/pkg/trait"
)

//
// Nodes form the physical topology tree rooted at the Cell. A Bucket is
// an inner node (datacenter, rack, ...); a Server is a leaf (a physical
// host). They share the common capability set below but differ in how
// capacity, traits and affinity are aggregated versus enforced, so each
// embeds the shared "node" struct and is reached back out to through the
// "self" upcast the way the teacher's topology-aware policy nodes are.
//

// Node is the capability set every tree node (Bucket or Server)
// implements, per spec.md §9's "polymorphism over Node variants" note.
type Node interface {
	// Name returns this node's name, unique among its siblings.
	Name() string
	// Parent returns the parent Bucket, or nil at the root.
	Parent() *Bucket
	// FreeCapacity returns the currently available resource vector.
	FreeCapacity() resource.Vector
	// ValidUntil returns the time this node remains usable; for a Bucket,
	// the latest valid_until among its children.
	ValidUntil() float64
	// Traits returns the effective trait set of this node's subtree.
	Traits() *trait.Set
	// AffinityCounter returns the number of placed applications with the
	// given affinity anywhere in this node's subtree.
	AffinityCounter(affinity string) int
	// Label returns a Server's label ("" if unlabeled). A Bucket always
	// returns "".
	Label() string
	// Level returns the affinity_limits key this node is addressed by
	// ("server" for every Server, a configured tag for a Bucket).
	Level() string
	// Put attempts to place app somewhere in this node's subtree,
	// returning true on success.
	Put(app *Application) bool
	// Remove removes the named application from this node's subtree,
	// returning true if it was found and removed.
	Remove(name string) bool
	// DepthFirst walks this node's subtree, calling fn at each node,
	// stopping early if fn returns an error.
	DepthFirst(fn func(Node) error) error
}

// node carries the state and behavior common to Bucket and Server.
type node struct {
	self   Node // upcast back to the concrete Bucket/Server
	name   string
	parent *Bucket
}

func (n *node) Name() string      { return n.name }
func (n *node) Parent() *Bucket   { return n.parent }

// linkUnder attaches n under parent, recording the back-pointer. It does
// not, by itself, trigger capacity recomputation — callers (Bucket.AddNode)
// do that after the child's own state is fully initialized.
func (n *node) linkUnder(parent *Bucket) {
	n.parent = parent
}

// recomputeUpward walks from b (inclusive) up to the root, recomputing
// each ancestor's aggregated free capacity, valid_until and trait set
// from its children. It is bottom-up (starts at the node that changed)
// and idempotent: running it twice in a row is a no-op the second time.
func recomputeUpward(b *Bucket) {
	for cur := b; cur != nil; cur = cur.parent {
		cur.recomputeFromChildren()
	}
}
