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

// State is a Server's availability state.
type State int

const (
	// StateUp means the server accepts new placements.
	StateUp State = iota
	// StateDown means the server is unavailable; existing apps remain
	// until their retention expires (spec.md §4.8).
	StateDown
	// StateFrozen means the server keeps its current apps but accepts no
	// new placements, like StateDown but without triggering retention.
	StateFrozen
)

// Server is a leaf topology node: a physical host.
type Server struct {
	node

	totalCapacity resource.Vector
	freeCapacity  resource.Vector
	traits        *trait.Set
	label         string
	state         State
	validUntil    float64

	apps             map[string]*Application
	affinityCounters map[string]int
}

// NewServer creates a Server with the given total capacity, traits and
// label ("" for unlabeled).
func NewServer(name string, capacity resource.Vector, traits trait.Mask, label string, validUntil float64) *Server {
	s := &Server{
		totalCapacity:    capacity.Clone(),
		freeCapacity:     capacity.Clone(),
		traits:           trait.NewSet(traits),
		label:            label,
		state:            StateUp,
		validUntil:       validUntil,
		apps:             make(map[string]*Application),
		affinityCounters: make(map[string]int),
	}
	s.self = s
	s.name = name
	return s
}

// State returns the server's current availability state.
func (s *Server) State() State { return s.state }

// SetState transitions the server's availability state. Transitioning
// to StateDown is the trigger for data retention handling (spec.md
// §4.8); the Cell's scheduling driver is responsible for stamping
// placement_expiry on the server's apps when it observes this
// transition during a cycle.
func (s *Server) SetState(st State) { s.state = st }

// TotalCapacity returns the server's fixed total capacity.
func (s *Server) TotalCapacity() resource.Vector { return s.totalCapacity }

// FreeCapacity implements Node.
func (s *Server) FreeCapacity() resource.Vector { return s.freeCapacity }

// ValidUntil implements Node.
func (s *Server) ValidUntil() float64 { return s.validUntil }

// Traits implements Node.
func (s *Server) Traits() *trait.Set { return s.traits }

// Label implements Node.
func (s *Server) Label() string { return s.label }

// Level implements the affinity_limits lookup key for a Server: every
// server acts as the leaf "server" level.
func (s *Server) Level() string { return "server" }

// AffinityCounter implements Node.
func (s *Server) AffinityCounter(affinity string) int { return s.affinityCounters[affinity] }

// Apps returns the applications currently placed on s, keyed by name.
func (s *Server) Apps() map[string]*Application { return s.apps }

// size mirrors the Python size()/members() helpers used by bucket-level
// aggregate tests; for a single Server it is simply its total capacity.
func (s *Server) size(label string) resource.Vector {
	if s.label != label {
		return resource.Zero()
	}
	return s.totalCapacity
}

// Put implements Node: it is the single point of enforcement described
// in spec.md §4.1 — up, trait-satisfying, label-matching, capacity-fitting
// and affinity-limit-respecting at every ancestor.
func (s *Server) Put(app *Application) bool {
	if s.state != StateUp {
		return false
	}
	if !s.traits.Satisfies(app.TraitDemand) {
		return false
	}
	if app.Label != s.label {
		return false
	}
	if !s.freeCapacity.Fits(app.Demand) {
		return false
	}
	if !affinityLimitsOK(s, app) {
		return false
	}

	s.freeCapacity = s.freeCapacity.Sub(app.Demand)
	s.apps[app.Name] = app
	app.setServer(s.name)
	s.adjustAffinity(app.Affinity, 1)
	if s.parent != nil {
		recomputeUpward(s.parent)
	}
	return true
}

// Remove implements Node.
func (s *Server) Remove(name string) bool {
	app, ok := s.apps[name]
	if !ok {
		return false
	}
	delete(s.apps, name)
	s.freeCapacity = s.freeCapacity.Add(app.Demand)
	app.setServer("")
	s.adjustAffinity(app.Affinity, -1)
	if s.parent != nil {
		recomputeUpward(s.parent)
	}
	return true
}

func (s *Server) adjustAffinity(affinity string, delta int) {
	s.affinityCounters[affinity] += delta
	if s.parent != nil {
		s.parent.adjustAffinity(affinity, delta)
	}
}

// DepthFirst implements Node.
func (s *Server) DepthFirst(fn func(Node) error) error {
	return fn(s)
}
