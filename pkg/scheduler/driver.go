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

// Package scheduler drives a cluster.Cell through repeated scheduling
// cycles and exposes the result as Prometheus metrics, the same division
// of labor the teacher draws between a policy's decision logic and the
// metrics collectors that observe it from the outside.
package scheduler

import (
	"context"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/samber/lo"

	"github.com/cellsched/scheduler/pkg/cluster"
	"github.com/cellsched/scheduler/pkg/log"
)

var driverLog = log.NewLogger("scheduler")

// Driver runs a cluster.Cell's scheduling cycles and accumulates the
// counters and gauges cmd/schedulerctl's -metrics flag dumps.
type Driver struct {
	cell *cluster.Cell

	mu              sync.Mutex
	pendingByLabel  map[string]float64
	freeCapacity    []float64
	evictedTotal    float64
	placementsTotal map[string]float64
	cycles          int

	lastEvicted map[string]bool
}

// NewDriver creates a Driver wrapping cell. cell must already have its
// topology, allocations and identity groups configured.
func NewDriver(cell *cluster.Cell) *Driver {
	return &Driver{
		cell:            cell,
		pendingByLabel:  make(map[string]float64),
		placementsTotal: make(map[string]float64),
		lastEvicted:     make(map[string]bool),
	}
}

// RunCycle runs exactly one scheduling cycle and folds its result into
// the driver's metrics, returning the same placement delta
// cluster.Cell.Schedule produced.
func (d *Driver) RunCycle(ctx context.Context) []cluster.PlacementDelta {
	delta := d.cell.Schedule(ctx)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.cycles++
	d.recordTransitions(delta)
	d.recomputePending()
	d.recomputeFreeCapacity()

	if pending := len(d.cell.Pending()); pending > 0 {
		driverLog.Debug("scheduler: cycle %d finished with %d application(s) pending", d.cycles, pending)
	}

	return delta
}

// recordTransitions classifies each delta entry into the
// cellsched_placements_total result label, and bumps
// cellsched_evicted_apps_total for applications whose evicted flag is
// newly set this cycle (spec.md §6's "evicted" being an edge, not a
// level).
func (d *Driver) recordTransitions(delta []cluster.PlacementDelta) {
	stillEvicted := make(map[string]bool, len(delta))
	for _, entry := range delta {
		app, ok := d.cell.App(entry.AppName)
		if !ok {
			continue
		}

		if app.Evicted {
			stillEvicted[entry.AppName] = true
			if !d.lastEvicted[entry.AppName] {
				d.evictedTotal++
			}
		}

		switch {
		case entry.After != "" && entry.Before != entry.After:
			d.placementsTotal["placed"]++
		case entry.After == "" && entry.Before != "" && app.Evicted:
			d.placementsTotal["evicted"]++
		case entry.After == "" && app.RetentionArmed:
			d.placementsTotal["retained"]++
		}
	}
	d.lastEvicted = stillEvicted
}

// recomputePending groups the cell's pending applications by allocation
// label, the per-label allocation grouping cellsched_pending_apps reports.
func (d *Driver) recomputePending() {
	for k := range d.pendingByLabel {
		delete(d.pendingByLabel, k)
	}

	pending := lo.FilterMap(d.cell.Pending(), func(name string, _ int) (*cluster.Application, bool) {
		return d.cell.App(name)
	})
	for label, apps := range lo.GroupBy(pending, func(app *cluster.Application) string { return app.Label }) {
		d.pendingByLabel[label] = float64(len(apps))
	}
}

func (d *Driver) recomputeFreeCapacity() {
	free := d.cell.FreeCapacity()
	d.freeCapacity = append(d.freeCapacity[:0], free...)
}

// Cell returns the underlying Cell, for callers that need direct access
// (fixture loading, inspection).
func (d *Driver) Cell() *cluster.Cell { return d.cell }

var (
	pendingAppsDesc = prometheus.NewDesc(
		"cellsched_pending_apps",
		"Applications with no server after the last scheduling cycle, by allocation label.",
		[]string{"label"}, nil,
	)
	evictedAppsTotalDesc = prometheus.NewDesc(
		"cellsched_evicted_apps_total",
		"Cumulative count of applications whose evicted flag was newly set.",
		nil, nil,
	)
	placementsTotalDesc = prometheus.NewDesc(
		"cellsched_placements_total",
		"Cumulative count of placement transitions, by result.",
		[]string{"result"}, nil,
	)
	freeCapacityDesc = prometheus.NewDesc(
		"cellsched_free_capacity",
		"Free capacity at the Cell root, by resource dimension.",
		[]string{"dimension"}, nil,
	)
)

// Describe implements prometheus.Collector.
func (d *Driver) Describe(ch chan<- *prometheus.Desc) {
	ch <- pendingAppsDesc
	ch <- evictedAppsTotalDesc
	ch <- placementsTotalDesc
	ch <- freeCapacityDesc
}

// Collect implements prometheus.Collector.
func (d *Driver) Collect(ch chan<- prometheus.Metric) {
	d.mu.Lock()
	defer d.mu.Unlock()

	for label, count := range d.pendingByLabel {
		ch <- prometheus.MustNewConstMetric(pendingAppsDesc, prometheus.GaugeValue, count, label)
	}
	ch <- prometheus.MustNewConstMetric(evictedAppsTotalDesc, prometheus.CounterValue, d.evictedTotal)
	for result, count := range d.placementsTotal {
		ch <- prometheus.MustNewConstMetric(placementsTotalDesc, prometheus.CounterValue, count, result)
	}
	for i, v := range d.freeCapacity {
		ch <- prometheus.MustNewConstMetric(freeCapacityDesc, prometheus.GaugeValue, v, dimensionLabel(i))
	}
}

func dimensionLabel(i int) string {
	const digits = "0123456789"
	if i < len(digits) {
		return string(digits[i])
	}
	return "dim"
}
