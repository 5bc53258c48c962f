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

package scheduler

import (
	"fmt"
	"os"

	"github.com/hashicorp/go-multierror"
	"gopkg.in/yaml.v3"

	"github.com/cellsched/scheduler/pkg/cluster"
	"github.com/cellsched/scheduler/pkg/clockutil"
	"github.com/cellsched/scheduler/pkg/resource"
	"github.com/cellsched/scheduler/pkg/trait"
)

// nodeFixture is one entry of a topology.yaml document: either a bucket
// (with children) or a server (a leaf).
type nodeFixture struct {
	Name       string        `yaml:"name"`
	Type       string        `yaml:"type"` // "bucket" or "server"
	Level      string        `yaml:"level"`
	Traits     uint64        `yaml:"traits"`
	Label      string        `yaml:"label"`
	Capacity   []float64     `yaml:"capacity"`
	ValidUntil float64       `yaml:"valid_until"`
	Children   []nodeFixture `yaml:"children"`
}

// topologyFixture is the root of a topology.yaml document.
type topologyFixture struct {
	Name       string        `yaml:"name"`
	Dimensions int           `yaml:"dimensions"`
	Children   []nodeFixture `yaml:"children"`
}

// LoadTopology reads a topology fixture and builds a fresh Cell from it,
// using clk for every "now" read. It fixes the process-wide resource
// dimension count from the fixture's "dimensions" field on first load.
func LoadTopology(path string, clk clockutil.Clock) (*cluster.Cell, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scheduler: reading topology %s: %w", path, err)
	}

	var doc topologyFixture
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("scheduler: parsing topology %s: %w", path, err)
	}

	if doc.Dimensions > 0 && resource.Dimensions() == 0 {
		if err := resource.SetDimensions(doc.Dimensions); err != nil {
			return nil, fmt.Errorf("scheduler: topology %s: %w", path, err)
		}
	}

	name := doc.Name
	if name == "" {
		name = "cell"
	}
	cell := cluster.NewCell(name, clk)

	var errs *multierror.Error
	for _, child := range doc.Children {
		node, err := buildNode(child)
		if err != nil {
			errs = multierror.Append(errs, err)
			continue
		}
		if err := cell.AddNode(node); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("scheduler: attaching %q: %w", child.Name, err))
		}
	}
	return cell, errs.ErrorOrNil()
}

func buildNode(f nodeFixture) (cluster.Node, error) {
	switch f.Type {
	case "server":
		if len(f.Capacity) == 0 {
			return nil, fmt.Errorf("scheduler: server %q has no capacity", f.Name)
		}
		srv := cluster.NewServer(f.Name, resource.New(f.Capacity...), trait.Mask(f.Traits), f.Label, f.ValidUntil)
		return srv, nil
	case "bucket", "":
		b := cluster.NewBucket(f.Name, trait.Mask(f.Traits))
		if f.Level != "" {
			b.SetLevel(f.Level)
		}
		var errs *multierror.Error
		for _, child := range f.Children {
			node, err := buildNode(child)
			if err != nil {
				errs = multierror.Append(errs, err)
				continue
			}
			if err := b.AddNode(node); err != nil {
				errs = multierror.Append(errs, fmt.Errorf("scheduler: attaching %q under %q: %w", child.Name, f.Name, err))
			}
		}
		return b, errs.ErrorOrNil()
	default:
		return nil, fmt.Errorf("scheduler: node %q has unknown type %q", f.Name, f.Type)
	}
}

// appFixture is one entry of an applications.yaml document.
type appFixture struct {
	Name                 string         `yaml:"name"`
	Label                string         `yaml:"label"`
	Priority             int            `yaml:"priority"`
	Demand               []float64      `yaml:"demand"`
	Affinity             string         `yaml:"affinity"`
	AffinityLimits       map[string]int `yaml:"affinity_limits"`
	TraitDemand          uint64         `yaml:"trait_demand"`
	IdentityGroup        string         `yaml:"identity_group"`
	ScheduleOnce         bool           `yaml:"schedule_once"`
	DataRetentionTimeout float64        `yaml:"data_retention_timeout"`
}

// identityGroupFixture configures one of the Cell's identity groups.
type identityGroupFixture struct {
	Name  string `yaml:"name"`
	Count int    `yaml:"count"`
}

// allocationFixture reserves capacity and a trait demand for one label.
type allocationFixture struct {
	Label          string    `yaml:"label"`
	Reserved       []float64 `yaml:"reserved"`
	MaxUtilization *float64  `yaml:"max_utilization"`
	TraitDemand    uint64    `yaml:"trait_demand"`
}

// applicationsFixture is the root of an applications.yaml document.
type applicationsFixture struct {
	IdentityGroups []identityGroupFixture `yaml:"identity_groups"`
	Allocations    []allocationFixture    `yaml:"allocations"`
	Apps           []appFixture           `yaml:"apps"`
}

// LoadApplications reads an applications fixture and adds its identity
// groups, allocation reservations, and applications to cell.
func LoadApplications(path string, cell *cluster.Cell) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("scheduler: reading applications %s: %w", path, err)
	}

	var doc applicationsFixture
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("scheduler: parsing applications %s: %w", path, err)
	}

	for _, g := range doc.IdentityGroups {
		cell.ConfigureIdentityGroup(g.Name, g.Count)
	}

	for _, a := range doc.Allocations {
		alloc := cell.Allocation(a.Label)
		if len(a.Reserved) > 0 {
			alloc.Update(resource.New(a.Reserved...))
		}
		if a.MaxUtilization != nil {
			alloc.SetMaxUtilization(a.MaxUtilization)
		}
		if a.TraitDemand != 0 {
			alloc.SetTraitDemand(trait.Mask(a.TraitDemand))
		}
	}

	var errs *multierror.Error
	for _, f := range doc.Apps {
		if len(f.Demand) == 0 {
			errs = multierror.Append(errs, fmt.Errorf("scheduler: application %q has no demand", f.Name))
			continue
		}
		app := cluster.NewApplication(f.Name, f.Priority, resource.New(f.Demand...), f.Affinity)
		app.AffinityLimits = f.AffinityLimits
		app.TraitDemand = trait.Mask(f.TraitDemand)
		app.IdentityGroup = f.IdentityGroup
		app.ScheduleOnce = f.ScheduleOnce
		app.DataRetentionTimeout = f.DataRetentionTimeout
		if err := cell.AddApp(f.Label, app); err != nil {
			errs = multierror.Append(errs, fmt.Errorf("scheduler: application %q: %w", f.Name, err))
		}
	}
	return errs.ErrorOrNil()
}
