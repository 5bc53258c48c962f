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
	"github.com/hashicorp/go-set/v3"
)

// IdentityGroup is a named pool of bounded integer identities, at most
// one of which is held by any one Application (spec.md §3, §4.9).
type IdentityGroup struct {
	name      string
	count     int
	available *set.Set[int]
}

// NewIdentityGroup creates a group with ids {0, ..., n-1} all available.
func NewIdentityGroup(name string, n int) *IdentityGroup {
	g := &IdentityGroup{name: name, count: n, available: set.New[int](n)}
	for i := 0; i < n; i++ {
		g.available.Insert(i)
	}
	return g
}

// Name returns the group's name.
func (g *IdentityGroup) Name() string { return g.name }

// Count returns the group's current size.
func (g *IdentityGroup) Count() int { return g.count }

// Available returns the set of currently unheld ids.
func (g *IdentityGroup) Available() *set.Set[int] { return g.available }

// Acquire removes and returns the smallest available id, or nil if none
// remain.
func (g *IdentityGroup) Acquire() *int {
	if g.available.Empty() {
		return nil
	}
	ids := g.available.Slice()
	min := ids[0]
	for _, id := range ids[1:] {
		if id < min {
			min = id
		}
	}
	g.available.Remove(min)
	return &min
}

// Release returns id to the available pool, provided it is still within
// the group's current count (spec.md §3: ids >= the current count, from
// a group that has since shrunk, are not re-added).
func (g *IdentityGroup) Release(id int) {
	if id < g.count {
		g.available.Insert(id)
	}
}

// Adjust resizes the group to n. Growing adds the new ids {count, ...,
// n-1} to the available pool; shrinking removes any available id >= n.
// Ids already held by an application that are >= n are left alone here —
// the scheduling driver evicts apps whose held identity has fallen out
// of range at the next cycle (spec.md §4.9).
func (g *IdentityGroup) Adjust(n int) {
	if n > g.count {
		for i := g.count; i < n; i++ {
			g.available.Insert(i)
		}
	} else if n < g.count {
		for _, id := range g.available.Slice() {
			if id >= n {
				g.available.Remove(id)
			}
		}
	}
	g.count = n
}
