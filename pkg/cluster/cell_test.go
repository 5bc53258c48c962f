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

package cluster_test

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellsched/scheduler/pkg/cluster"
	"github.com/cellsched/scheduler/pkg/clockutil"
)

// appList ports the test helper app_list: count apps named
// "<name>-<idx>", sharing affinity and priority/demand.
func appList(count int, name string, priority int, demand [2]float64) []*cluster.Application {
	out := make([]*cluster.Application, count)
	for i := 0; i < count; i++ {
		out[i] = newApp(fmt.Sprintf("%s-%d", name, i), priority, demand, name)
	}
	return out
}

func addApps(t *testing.T, cell *cluster.Cell, label string, apps []*cluster.Application) {
	t.Helper()
	for _, app := range apps {
		require.NoError(t, cell.AddApp(label, app))
	}
}

// TestCellScheduleEmpty ports CellTest.test_emtpy: scheduling a cell that
// contains an empty bucket alongside a populated one must not panic or
// error with no applications to place.
func TestCellScheduleEmpty(t *testing.T) {
	cell := cluster.NewCell("top", clockutil.NewFakeClock(0))

	empty := cluster.NewBucket("empty", 0)
	require.NoError(t, cell.AddNode(empty))

	bucket := cluster.NewBucket("bucket", 0)
	srvA := cluster.NewServer("a", vec(10, 10), 0, "", 500)
	require.NoError(t, bucket.AddNode(srvA))
	require.NoError(t, cell.AddNode(bucket))

	assert.NotPanics(t, func() { cell.Schedule(context.Background()) })
}

// TestCellLabels ports CellTest.test_labels: apps in the unlabeled
// allocation only land on unlabeled servers, apps in the "xx" allocation
// only on "xx"-labeled ones, and placement still follows priority order
// across both allocations merged together.
func TestCellLabels(t *testing.T) {
	cell := cluster.NewCell("top", clockutil.NewFakeClock(0))
	left := cluster.NewBucket("left", 0)
	right := cluster.NewBucket("right", 0)
	srvA := cluster.NewServer("a_xx", vec(10, 10), 0, "xx", 500)
	srvB := cluster.NewServer("b", vec(10, 10), 0, "", 500)
	srvY := cluster.NewServer("y_xx", vec(10, 10), 0, "xx", 500)
	srvZ := cluster.NewServer("z", vec(10, 10), 0, "", 500)

	require.NoError(t, cell.AddNode(left))
	require.NoError(t, cell.AddNode(right))
	require.NoError(t, left.AddNode(srvA))
	require.NoError(t, left.AddNode(srvB))
	require.NoError(t, right.AddNode(srvY))
	require.NoError(t, right.AddNode(srvZ))

	app1 := newApp("app1", 4, [2]float64{1, 1}, "app")
	app2 := newApp("app2", 3, [2]float64{2, 2}, "app")
	app3 := newApp("app_xx_3", 2, [2]float64{3, 3}, "app")
	app4 := newApp("app_xx_4", 1, [2]float64{4, 4}, "app")
	require.NoError(t, cell.AddApp("", app1))
	require.NoError(t, cell.AddApp("", app2))
	require.NoError(t, cell.AddApp("xx", app3))
	require.NoError(t, cell.AddApp("xx", app4))

	cell.Schedule(context.Background())

	assert.Equal(t, "b", app1.Server)
	assert.Equal(t, "z", app2.Server)
	assert.Equal(t, "a_xx", app3.Server)
	assert.Equal(t, "y_xx", app4.Server)
}

// TestCellSchedulePreemption ports CellTest.test_simple: four
// same-affinity apps fill four servers exactly, then progressively
// higher-priority wide apps force eviction cascades.
func TestCellSchedulePreemption(t *testing.T) {
	cell := cluster.NewCell("top", clockutil.NewFakeClock(0))
	left := cluster.NewBucket("left", 0)
	right := cluster.NewBucket("right", 0)
	srvA := cluster.NewServer("a", vec(10, 10), 0, "", 500)
	srvB := cluster.NewServer("b", vec(10, 10), 0, "", 500)
	srvY := cluster.NewServer("y", vec(10, 10), 0, "", 500)
	srvZ := cluster.NewServer("z", vec(10, 10), 0, "", 500)

	require.NoError(t, cell.AddNode(left))
	require.NoError(t, cell.AddNode(right))
	require.NoError(t, left.AddNode(srvA))
	require.NoError(t, left.AddNode(srvB))
	require.NoError(t, right.AddNode(srvY))
	require.NoError(t, right.AddNode(srvZ))

	app1 := newApp("app1", 4, [2]float64{1, 1}, "app")
	app2 := newApp("app2", 3, [2]float64{2, 2}, "app")
	app3 := newApp("app3", 2, [2]float64{3, 3}, "app")
	app4 := newApp("app4", 1, [2]float64{4, 4}, "app")
	require.NoError(t, cell.AddApp("", app1))
	require.NoError(t, cell.AddApp("", app2))
	require.NoError(t, cell.AddApp("", app3))
	require.NoError(t, cell.AddApp("", app4))

	cell.Schedule(context.Background())

	assert.Equal(t, "a", app1.Server)
	assert.Equal(t, "y", app2.Server)
	assert.Equal(t, "b", app3.Server)
	assert.Equal(t, "z", app4.Server)

	prio50 := newApp("prio50", 50, [2]float64{10, 10}, "app")
	require.NoError(t, cell.AddApp("", prio50))
	cell.Schedule(context.Background())

	// The queue is ordered by priority: prio50, app1, app2, app3, app4.
	// No single server has 10 free, so app4 (lowest priority) is evicted
	// first; evicting it alone frees enough for prio50, and app4 is
	// rescheduled onto the next available server.
	assert.Equal(t, "z", prio50.Server)
	assert.Equal(t, "a", app4.Server)

	prio51 := newApp("prio51", 51, [2]float64{10, 10}, "app")
	require.NoError(t, cell.AddApp("", prio51))
	cell.Schedule(context.Background())

	// app4 is now colocated with app1 on 'a'. app4 is evicted first again,
	// then app3, at which point there is enough room for prio51.
	assert.Equal(t, "b", prio51.Server)
	assert.Equal(t, "z", prio50.Server)
	assert.Equal(t, "a", app4.Server)

	prio49a := newApp("prio49_1", 49, [2]float64{10, 10}, "app")
	prio49b := newApp("prio49_2", 49, [2]float64{9, 9}, "app")
	require.NoError(t, cell.AddApp("", prio49a))
	require.NoError(t, cell.AddApp("", prio49b))
	cell.Schedule(context.Background())

	// 50/51 are not disturbed; they sit at the head of the queue.
	assert.Equal(t, "b", prio51.Server)
	assert.Equal(t, "z", prio50.Server)
	assert.ElementsMatch(t, []string{"a", "y"}, []string{prio49a.Server, prio49b.Server})

	// Only capacity left for the smallest [1, 1] app.
	assert.NotEmpty(t, app1.Server)
	assert.Empty(t, app2.Server)
	assert.Empty(t, app3.Server)
	assert.Empty(t, app4.Server)
}

// TestCellAffinityLimits ports CellTest.test_affinity_limits: a per-level
// affinity cap restricts how many same-affinity apps may land under one
// server/rack/cell, independent of raw capacity.
func TestCellAffinityLimits(t *testing.T) {
	build := func() (*cluster.Cell, []*cluster.Application) {
		cell := cluster.NewCell("top", clockutil.NewFakeClock(0))
		left := cluster.NewBucket("left", 0)
		right := cluster.NewBucket("right", 0)
		left.SetLevel("rack")
		right.SetLevel("rack")
		srvA := cluster.NewServer("a", vec(10, 10), 0, "", 500)
		srvB := cluster.NewServer("b", vec(10, 10), 0, "", 500)
		srvY := cluster.NewServer("y", vec(10, 10), 0, "", 500)
		srvZ := cluster.NewServer("z", vec(10, 10), 0, "", 500)
		require.NoError(t, cell.AddNode(left))
		require.NoError(t, cell.AddNode(right))
		require.NoError(t, left.AddNode(srvA))
		require.NoError(t, left.AddNode(srvB))
		require.NoError(t, right.AddNode(srvY))
		require.NoError(t, right.AddNode(srvZ))
		return cell, appList(10, "app", 50, [2]float64{1, 1})
	}

	t.Run("server level cap of 1", func(t *testing.T) {
		cell, apps := build()
		for _, app := range apps {
			app.AffinityLimits = map[string]int{"server": 1}
		}
		addApps(t, cell, "", apps[:5])
		cell.Schedule(context.Background())

		assert.NotEmpty(t, apps[0].Server)
		assert.NotEmpty(t, apps[1].Server)
		assert.NotEmpty(t, apps[2].Server)
		assert.NotEmpty(t, apps[3].Server)
		assert.Empty(t, apps[4].Server)
	})

	t.Run("server and rack caps of 1", func(t *testing.T) {
		cell, apps := build()
		for _, app := range apps {
			app.AffinityLimits = map[string]int{"server": 1, "rack": 1}
		}
		addApps(t, cell, "", apps[:4])
		cell.Schedule(context.Background())

		assert.NotEmpty(t, apps[0].Server)
		assert.NotEmpty(t, apps[1].Server)
		assert.Empty(t, apps[2].Server)
		assert.Empty(t, apps[3].Server)
	})

	t.Run("server 1, rack 2, cell 3", func(t *testing.T) {
		cell, apps := build()
		for _, app := range apps {
			app.AffinityLimits = map[string]int{"server": 1, "rack": 2, "cell": 3}
		}
		addApps(t, cell, "", apps[:4])
		cell.Schedule(context.Background())

		assert.NotEmpty(t, apps[0].Server)
		assert.NotEmpty(t, apps[1].Server)
		assert.NotEmpty(t, apps[2].Server)
		assert.Empty(t, apps[3].Server)
	})
}

// TestCellDataRetention ports CellTest.test_data_retention: an app on a
// server marked down keeps reporting that server until its
// data-retention timeout elapses, while a zero-timeout app migrates
// immediately; next_event_at tracks the earliest pending expiry.
func TestCellDataRetention(t *testing.T) {
	clk := clockutil.NewFakeClock(100)
	cell := cluster.NewCell("top", clk)
	left := cluster.NewBucket("left", 0)
	right := cluster.NewBucket("right", 0)
	left.SetLevel("rack")
	right.SetLevel("rack")
	srvA := cluster.NewServer("a", vec(10, 10), 0, "", 500)
	srvB := cluster.NewServer("b", vec(10, 10), 0, "", 500)
	srvY := cluster.NewServer("y", vec(10, 10), 0, "", 500)
	srvZ := cluster.NewServer("z", vec(10, 10), 0, "", 500)
	require.NoError(t, cell.AddNode(left))
	require.NoError(t, cell.AddNode(right))
	require.NoError(t, left.AddNode(srvA))
	require.NoError(t, left.AddNode(srvB))
	require.NoError(t, right.AddNode(srvY))
	require.NoError(t, right.AddNode(srvZ))

	stickyApps := appList(10, "sticky", 50, [2]float64{1, 1})
	for _, app := range stickyApps {
		app.AffinityLimits = map[string]int{"server": 1, "rack": 1}
		app.DataRetentionTimeout = 30
	}
	unsticky := newApp("unsticky", 10, [2]float64{1, 1}, "unsticky")
	unsticky.DataRetentionTimeout = 0

	require.NoError(t, cell.AddApp("", stickyApps[0]))
	require.NoError(t, cell.AddApp("", unsticky))
	cell.Schedule(context.Background())

	// Both apps have different affinities, so they land on the same node.
	assert.Equal(t, "a", stickyApps[0].Server)
	assert.Equal(t, "a", unsticky.Server)

	// Mark srv_a down: the zero-timeout app migrates right away, the
	// sticky app stays put within its grace window.
	srvA.SetState(cluster.StateDown)
	cell.Schedule(context.Background())
	assert.Equal(t, "a", stickyApps[0].Server)
	assert.Equal(t, "y", unsticky.Server)
	assert.InDelta(t, 130, cell.NextEventAt(), 1e-9)

	clockutil.SetSeconds(clk, 110)
	cell.Schedule(context.Background())
	assert.Equal(t, "a", stickyApps[0].Server)
	assert.Equal(t, "y", unsticky.Server)
	assert.InDelta(t, 130, cell.NextEventAt(), 1e-9)

	clockutil.SetSeconds(clk, 130)
	cell.Schedule(context.Background())
	assert.Equal(t, "y", stickyApps[0].Server)
	assert.Equal(t, "y", unsticky.Server)
	assert.True(t, math.IsInf(cell.NextEventAt(), 1))

	// Flip which server is down.
	srvA.SetState(cluster.StateUp)
	srvY.SetState(cluster.StateDown)
	cell.Schedule(context.Background())
	assert.Equal(t, "y", stickyApps[0].Server)
	assert.NotEqual(t, "y", unsticky.Server)
	assert.InDelta(t, 160, cell.NextEventAt(), 1e-9)

	// A second sticky app can't join the (y, z) rack (limit 1), so it
	// lands on the other rack; a third is left pending.
	clockutil.SetSeconds(clk, 135)
	require.NoError(t, cell.AddApp("", stickyApps[1]))
	require.NoError(t, cell.AddApp("", stickyApps[2]))
	cell.Schedule(context.Background())

	assert.Equal(t, "y", stickyApps[0].Server)
	assert.Contains(t, []string{"a", "b"}, stickyApps[1].Server)
	assert.Empty(t, stickyApps[2].Server)

	srvY.SetState(cluster.StateUp)
	cell.Schedule(context.Background())
	assert.Equal(t, "y", stickyApps[0].Server)
	assert.Contains(t, []string{"a", "b"}, stickyApps[1].Server)
	assert.Empty(t, stickyApps[2].Server)
}

// TestCellIdentityGroup ports CellTest.test_identity: identity-group apps only
// place once they hold an id, ids are reclaimed on removal, and shrinking
// a group evicts apps whose held id has fallen out of range.
func TestCellIdentityGroup(t *testing.T) {
	clk := clockutil.NewFakeClock(0)
	cell := cluster.NewCell("top", clk)
	for i := 0; i < 10; i++ {
		srv := cluster.NewServer(strconv.Itoa(i), vec(10, 10), 0, "", 1000)
		require.NoError(t, cell.AddNode(srv))
	}

	cell.ConfigureIdentityGroup("ident1", 3)
	apps := appList(10, "app", 50, [2]float64{1, 1})
	for _, app := range apps {
		app.IdentityGroup = "ident1"
	}
	addApps(t, cell, "", apps)

	require.True(t, apps[0].AcquireIdentity())

	cell.Schedule(context.Background())

	id0, ok0 := apps[0].Identity()
	require.True(t, ok0)
	assert.Equal(t, 0, id0)
	id1, ok1 := apps[1].Identity()
	require.True(t, ok1)
	assert.Equal(t, 1, id1)
	id2, ok2 := apps[2].Identity()
	require.True(t, ok2)
	assert.Equal(t, 2, id2)
	for i := 3; i < 10; i++ {
		_, ok := apps[i].Identity()
		assert.False(t, ok)
	}

	// Removing app-2 releases its identity for the next pending app.
	require.NoError(t, cell.RemoveApp("app-2"))
	cell.Schedule(context.Background())
	id3, ok3 := apps[3].Identity()
	require.True(t, ok3)
	assert.Equal(t, 2, id3)

	// Growing the group to 5 lets 5 apps hold an identity and a server.
	cell.ConfigureIdentityGroup("ident1", 5)
	cell.Schedule(context.Background())
	placed := 0
	for _, app := range apps {
		if app.Server != "" {
			placed++
		}
	}
	assert.Equal(t, 5, placed)

	// Shrinking back to 3 evicts the apps whose ids are now out of range.
	cell.ConfigureIdentityGroup("ident1", 3)
	cell.Schedule(context.Background())
	placed = 0
	for _, app := range apps {
		if app.Server != "" {
			placed++
		}
	}
	assert.Equal(t, 3, placed)
}

// TestCellScheduleOnce ports CellTest.test_schedule_once: a schedule_once
// app that loses its host (down state, or the node removed outright)
// does not get rescheduled — it is marked evicted and stays pending.
func TestCellScheduleOnce(t *testing.T) {
	clk := clockutil.NewFakeClock(0)
	cell := cluster.NewCell("top", clk)
	for i := 0; i < 10; i++ {
		srv := cluster.NewServer(strconv.Itoa(i), vec(10, 10), 0, "", 1000)
		require.NoError(t, cell.AddNode(srv))
	}

	apps := appList(2, "app", 50, [2]float64{6, 6})
	for _, app := range apps {
		app.ScheduleOnce = true
	}
	addApps(t, cell, "", apps)

	cell.Schedule(context.Background())
	assert.NotEqual(t, apps[0].Server, apps[1].Server)
	assert.False(t, apps[0].Evicted)
	assert.False(t, apps[1].Evicted)

	downServer := findServerInCell(t, cell, apps[0].Server)
	downServer.SetState(cluster.StateDown)
	require.NoError(t, cell.RemoveNode(apps[1].Server))

	// Apps held in retention until their data-retention timeout (default
	// zero) elapses immediately next cycle.
	cell.Schedule(context.Background())
	assert.Empty(t, apps[0].Server)
	assert.True(t, apps[0].Evicted)
	assert.Empty(t, apps[1].Server)
	assert.True(t, apps[1].Evicted)
}

// TestCellScheduleOnceEviction ports
// CellTest.test_schedule_once_eviction: when a higher-priority app forces
// an eviction cascade, only the app that actually vacates a server is
// marked evicted; a too-small candidate is tried and restored untouched.
func TestCellScheduleOnceEviction(t *testing.T) {
	clk := clockutil.NewFakeClock(0)
	cell := cluster.NewCell("top", clk)
	for i := 0; i < 10; i++ {
		srv := cluster.NewServer(strconv.Itoa(i), vec(10, 10), 0, "", 1000)
		require.NoError(t, cell.AddNode(srv))
	}

	smallApps := appList(10, "small", 50, [2]float64{1, 1})
	for _, app := range smallApps {
		app.ScheduleOnce = true
	}
	addApps(t, cell, "", smallApps)

	largeApps := appList(10, "large", 60, [2]float64{8, 8})
	for _, app := range largeApps {
		app.ScheduleOnce = true
	}
	addApps(t, cell, "", largeApps)

	delta := cell.Schedule(context.Background())
	placedCount := 0
	for _, d := range delta {
		if d.After != "" {
			placedCount++
		}
	}
	assert.Equal(t, 20, placedCount)

	mediumApps := appList(1, "medium", 70, [2]float64{5, 5})
	addApps(t, cell, "", mediumApps)
	cell.Schedule(context.Background())

	assert.Equal(t, 0, countEvicted(smallApps))
	assert.Equal(t, 10, countPlaced(smallApps))
	assert.Equal(t, 1, countEvicted(largeApps))
	assert.Equal(t, 9, countPlaced(largeApps))

	require.NoError(t, cell.RemoveApp(mediumApps[0].Name))
	cell.Schedule(context.Background())

	assert.Equal(t, 0, countEvicted(smallApps))
	assert.Equal(t, 10, countPlaced(smallApps))
	assert.Equal(t, 1, countEvicted(largeApps))
	assert.Equal(t, 9, countPlaced(largeApps))
}

func countEvicted(apps []*cluster.Application) int {
	n := 0
	for _, app := range apps {
		if app.Evicted {
			n++
		}
	}
	return n
}

func countPlaced(apps []*cluster.Application) int {
	n := 0
	for _, app := range apps {
		if app.Server != "" {
			n++
		}
	}
	return n
}

func findServerInCell(t *testing.T, cell *cluster.Cell, name string) *cluster.Server {
	t.Helper()
	var found *cluster.Server
	require.NoError(t, cell.DepthFirst(func(n cluster.Node) error {
		if srv, ok := n.(*cluster.Server); ok && srv.Name() == name {
			found = srv
		}
		return nil
	}))
	require.NotNil(t, found)
	return found
}
