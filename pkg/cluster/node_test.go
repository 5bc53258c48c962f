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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cellsched/scheduler/pkg/cluster"
)

func newApp(name string, priority int, demand [2]float64, affinity string) *cluster.Application {
	return cluster.NewApplication(name, priority, vec(demand[0], demand[1]), affinity)
}

// TestBucketPlacementStrategies ports NodeTest.test_bucket_placement:
// two buckets of two servers each; with the default spread strategy a
// run of four same-affinity apps lands one per server, and overriding
// one bucket to pack for a second affinity piles two of that affinity's
// four apps onto the same server in that bucket.
func TestBucketPlacementStrategies(t *testing.T) {
	top := cluster.NewBucket("top", 0)
	aBucket := cluster.NewBucket("a_bucket", 0)
	bBucket := cluster.NewBucket("b_bucket", 0)

	a1 := cluster.NewServer("a1", vec(10, 10), 0, "", 500)
	a2 := cluster.NewServer("a2", vec(10, 10), 0, "", 500)
	b1 := cluster.NewServer("b1", vec(10, 10), 0, "", 500)
	b2 := cluster.NewServer("b2", vec(10, 10), 0, "", 500)

	require.NoError(t, aBucket.AddNode(a1))
	require.NoError(t, aBucket.AddNode(a2))
	require.NoError(t, bBucket.AddNode(b1))
	require.NoError(t, bBucket.AddNode(b2))
	require.NoError(t, top.AddNode(aBucket))
	require.NoError(t, top.AddNode(bBucket))

	var spread []string
	for i := 0; i < 4; i++ {
		app := newApp("app1", 50, [2]float64{1, 1}, "app1")
		require.True(t, top.Put(app))
		spread = append(spread, app.Server)
	}
	assert.Equal(t, []string{"a1", "b1", "a2", "b2"}, spread)

	aBucket.SetAffinityStrategy("app2", cluster.PackStrategy)

	var packed []string
	for i := 0; i < 4; i++ {
		app := newApp("app2", 50, [2]float64{1, 1}, "app2")
		require.True(t, top.Put(app))
		packed = append(packed, app.Server)
	}
	assert.Equal(t, []string{"a1", "b1", "a1", "b2"}, packed)
}

// TestBucketAffinityLimits ports the affinity_limits tier used across
// NodeTest: a cap at the rack level restricts how many same-affinity
// apps may land under one rack, regardless of per-server headroom.
func TestBucketAffinityLimits(t *testing.T) {
	root := cluster.NewBucket("cell", 0)
	rack := cluster.NewBucket("rack", 0)
	rack.SetLevel("rack")
	s1 := cluster.NewServer("s1", vec(10, 10), 0, "", 1000)
	s2 := cluster.NewServer("s2", vec(10, 10), 0, "", 1000)
	require.NoError(t, rack.AddNode(s1))
	require.NoError(t, rack.AddNode(s2))
	require.NoError(t, root.AddNode(rack))

	app1 := newApp("app1", 50, [2]float64{1, 1}, "sticky")
	app1.AffinityLimits = map[string]int{"rack": 1}
	app2 := newApp("app2", 50, [2]float64{1, 1}, "sticky")
	app2.AffinityLimits = map[string]int{"rack": 1}

	require.True(t, root.Put(app1))
	assert.False(t, root.Put(app2), "second sticky app should be blocked by the rack-level cap")
}

// TestServerLabelExactMatch exercises spec.md's exact-match label rule:
// an unlabeled demand ("") only matches unlabeled servers, and a
// labeled demand only matches that exact label.
func TestServerLabelExactMatch(t *testing.T) {
	srv := cluster.NewServer("srv", vec(10, 10), 0, "gpu", 1000)

	unlabeled := newApp("unlabeled", 50, [2]float64{1, 1}, "")
	assert.False(t, srv.Put(unlabeled))

	wrongLabel := newApp("wrong", 50, [2]float64{1, 1}, "")
	wrongLabel.Label = "other"
	assert.False(t, srv.Put(wrongLabel))

	right := newApp("right", 50, [2]float64{1, 1}, "")
	right.Label = "gpu"
	assert.True(t, srv.Put(right))
}

// TestBucketCapacityRecomputation ports the free-capacity/valid_until
// aggregation checks scattered across NodeTest: a Bucket's free
// capacity is the componentwise max of its children's, and removing a
// node updates it immediately.
func TestBucketCapacityRecomputation(t *testing.T) {
	root := cluster.NewBucket("rack", 0)
	n1 := cluster.NewServer("n1", vec(4, 8), 0, "", 100)
	n2 := cluster.NewServer("n2", vec(8, 4), 0, "", 200)
	require.NoError(t, root.AddNode(n1))
	require.NoError(t, root.AddNode(n2))

	assert.Equal(t, vec(8, 8), root.FreeCapacity())
	assert.Equal(t, float64(200), root.ValidUntil())

	require.NoError(t, root.RemoveNode("n2"))
	assert.Equal(t, vec(4, 8), root.FreeCapacity())
	assert.Equal(t, float64(100), root.ValidUntil())
}

// TestBucketTraitInheritance ports TraitSetTest.test_traits by way of a
// Bucket aggregating the trait contributions of its children.
func TestBucketTraitInheritance(t *testing.T) {
	root := cluster.NewBucket("rack", 0)
	gpuServer := cluster.NewServer("gpu", vec(4, 4), 1, "", 100)
	plainServer := cluster.NewServer("plain", vec(4, 4), 0, "", 100)

	require.NoError(t, root.AddNode(gpuServer))
	assert.True(t, root.Traits().Has(1))

	require.NoError(t, root.AddNode(plainServer))
	assert.True(t, root.Traits().Has(1), "still true: gpu server still contributes it")

	require.NoError(t, root.RemoveNode("gpu"))
	assert.False(t, root.Traits().Has(1))
}
