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

// Package trait implements the bitmask trait sets the Node tree uses to
// express and satisfy capability/constraint demands.
package trait

// Mask is a bitmask of trait ids. Trait ids are supplied by the caller;
// this package has no registry of its own (spec.md §9's "global state"
// design note: the trait registry is test-scaffold-only).
type Mask uint64

// Set is a bitmask plus the named contributions that produced it. The
// effective mask is always the OR of all current contributions.
type Set struct {
	own           Mask // intrinsic mask, not attributed to any contribution
	traits        Mask // effective mask: own | OR(contributions)
	contributions map[string]Mask
}

// NewSet creates a Set with an initial mask attributed to no named
// contribution (used for a node or allocation's own intrinsic traits).
func NewSet(initial Mask) *Set {
	return &Set{
		own:           initial,
		traits:        initial,
		contributions: make(map[string]Mask),
	}
}

// Has reports whether every bit in want is present in the effective mask.
func (s *Set) Has(want Mask) bool {
	if s == nil {
		return want == 0
	}
	return s.traits&want == want
}

// Satisfies reports whether the set satisfies demand: every bit set in
// demand must also be set in s (D & ~S == 0).
func (s *Set) Satisfies(demand Mask) bool {
	if s == nil {
		return demand == 0
	}
	return demand & ^s.traits == 0
}

// Traits returns the current effective mask.
func (s *Set) Traits() Mask {
	if s == nil {
		return 0
	}
	return s.traits
}

// Add records a named contribution and recomputes the effective mask. A
// second Add under the same name replaces the prior contribution.
func (s *Set) Add(name string, mask Mask) {
	s.contributions[name] = mask
	s.recompute()
}

// Remove withdraws a named contribution and recomputes the effective
// mask. Removing an unknown name is a no-op.
func (s *Set) Remove(name string) {
	delete(s.contributions, name)
	s.recompute()
}

func (s *Set) recompute() {
	mask := s.own
	for _, m := range s.contributions {
		mask |= m
	}
	s.traits = mask
}
