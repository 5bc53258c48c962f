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

// Strategy picks among a Bucket's candidate children for a given
// affinity, per spec.md §4.4. Implementations are pure functions of the
// current rotation cursor; all per-affinity state lives on the Bucket,
// not the Strategy itself, so a single Strategy value is shared by every
// Bucket that selects it.
type Strategy interface {
	// Name identifies the strategy, e.g. for logging or a registry
	// lookup by configuration.
	Name() string
	// NextCursor computes the cursor to remember for the next call,
	// given how many children there were, the cursor used this time, and
	// the index (within children) of the child that actually accepted
	// the placement.
	NextCursor(numChildren, cursor, placedIdx int) int
}

type spreadStrategy struct{}

// SpreadStrategy round-robins across children: every successful
// placement advances to the next child, distributing identical
// workloads across fault domains. It is the default strategy.
var SpreadStrategy Strategy = spreadStrategy{}

func (spreadStrategy) Name() string { return "spread" }

func (spreadStrategy) NextCursor(numChildren, _, placedIdx int) int {
	return (placedIdx + 1) % numChildren
}

type packStrategy struct{}

// PackStrategy always prefers the child it preferred last time, only
// moving on once that child can no longer host, favoring density over
// spread.
var PackStrategy Strategy = packStrategy{}

func (packStrategy) Name() string { return "pack" }

func (packStrategy) NextCursor(_, _, placedIdx int) int {
	return placedIdx
}

var strategyRegistry = map[string]Strategy{
	"spread": SpreadStrategy,
	"pack":   PackStrategy,
}

// LookupStrategy resolves a strategy by name ("spread" or "pack"), for
// collaborators that configure affinity strategies from text.
func LookupStrategy(name string) (Strategy, bool) {
	s, ok := strategyRegistry[name]
	return s, ok
}

// rotateFiltered returns children starting from cursor (wrapping),
// restricted to those present in candidates, preserving their rotated
// relative order.
func rotateFiltered(children []Node, cursor int, candidates map[Node]bool) []Node {
	n := len(children)
	if n == 0 {
		return nil
	}
	out := make([]Node, 0, len(candidates))
	for i := 0; i < n; i++ {
		child := children[(cursor+i)%n]
		if candidates[child] {
			out = append(out, child)
		}
	}
	return out
}

func indexOfChild(children []Node, target Node) int {
	for i, c := range children {
		if c == target {
			return i
		}
	}
	return -1
}

// candidateChildren filters children to those whose subtree both
// contains a Server matching app's label/trait demand and whose
// aggregated free capacity could fit it (spec.md §4.2).
func candidateChildren(children []Node, app *Application) map[Node]bool {
	out := make(map[Node]bool)
	for _, c := range children {
		if !c.FreeCapacity().Fits(app.Demand) {
			continue
		}
		if subtreeHasEligibleServer(c, app) {
			out[c] = true
		}
	}
	return out
}

func subtreeHasEligibleServer(n Node, app *Application) bool {
	found := false
	_ = n.DepthFirst(func(m Node) error {
		if srv, ok := m.(*Server); ok {
			if srv.label == app.Label && srv.traits.Satisfies(app.TraitDemand) {
				found = true
			}
		}
		return nil
	})
	return found
}
