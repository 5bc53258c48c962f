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

// Application is a workload with resource demand and placement
// constraints, per spec.md §3.
type Application struct {
	Name                 string
	Priority             int
	Demand               resource.Vector
	Affinity             string
	AffinityLimits       map[string]int
	Label                string
	TraitDemand          trait.Mask
	IdentityGroup        string
	ScheduleOnce         bool
	DataRetentionTimeout float64

	Server          string
	Evicted         bool
	RetentionArmed  bool    // true while placement_expiry below is an active countdown
	PlacementExpiry float64 // absolute time; valid only while RetentionArmed

	identity        *int
	identityGroupRef *IdentityGroup

	seq int64 // cell-wide monotonically increasing insertion sequence
}

// NewApplication creates an unplaced Application.
func NewApplication(name string, priority int, demand resource.Vector, affinity string) *Application {
	return &Application{
		Name:     name,
		Priority: priority,
		Demand:   demand,
		Affinity: affinity,
	}
}

func (a *Application) setServer(name string) {
	a.Server = name
	if name != "" {
		a.RetentionArmed = false
		a.PlacementExpiry = 0
	}
}

// Running reports whether the application currently holds a server.
func (a *Application) Running() bool { return a.Server != "" }

// Identity returns the application's acquired identity, or (-1, false)
// if it has none.
func (a *Application) Identity() (int, bool) {
	if a.identity == nil {
		return -1, false
	}
	return *a.identity, true
}

// AcquireIdentity asks the application's identity group for an id, if it
// doesn't already hold one. Returns false if the app has no identity
// group, or the group has no id available.
func (a *Application) AcquireIdentity() bool {
	if a.identity != nil {
		return true
	}
	if a.identityGroupRef == nil {
		return false
	}
	id := a.identityGroupRef.Acquire()
	if id == nil {
		return false
	}
	a.identity = id
	return true
}

// ReleaseIdentity returns the application's identity to its group, if
// any.
func (a *Application) ReleaseIdentity() {
	if a.identity != nil && a.identityGroupRef != nil {
		a.identityGroupRef.Release(*a.identity)
	}
	a.identity = nil
}

// needsIdentity reports whether a belongs to an identity group but has
// not yet acquired an id (and so cannot be placed this cycle).
func (a *Application) needsIdentity() bool {
	return a.IdentityGroup != "" && a.identity == nil
}

// identityOutOfRange reports whether a's held identity is no longer
// valid for its group's current size (spec.md §4.9: shrinking a group
// makes high ids unavailable going forward and evicts current holders
// at the next cycle).
func (a *Application) identityOutOfRange() bool {
	if a.identity == nil || a.identityGroupRef == nil {
		return false
	}
	return *a.identity >= a.identityGroupRef.Count()
}
