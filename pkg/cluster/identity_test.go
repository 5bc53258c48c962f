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

// TestIdentityGroupBasic ports IdentityGroupTest.test_basic.
func TestIdentityGroupBasic(t *testing.T) {
	g := cluster.NewIdentityGroup("ident1", 3)

	id := g.Acquire()
	require.NotNil(t, id)
	assert.Equal(t, 0, *id)

	id = g.Acquire()
	require.NotNil(t, id)
	assert.Equal(t, 1, *id)

	id = g.Acquire()
	require.NotNil(t, id)
	assert.Equal(t, 2, *id)

	assert.Nil(t, g.Acquire())

	g.Release(1)
	id = g.Acquire()
	require.NotNil(t, id)
	assert.Equal(t, 1, *id)
}

// TestIdentityGroupAdjust ports IdentityGroupTest.test_adjust: starting
// from a group of size 5 with ids {1, 3} available (0, 2, 4 held),
// growing to 7 adds the new ids 5 and 6 to the available set without
// disturbing 1 and 3.
func TestIdentityGroupAdjust(t *testing.T) {
	g := cluster.NewIdentityGroup("ident1", 5)
	for i := 0; i < 5; i++ {
		require.NotNil(t, g.Acquire())
	}
	g.Release(1)
	g.Release(3)
	assert.ElementsMatch(t, []int{1, 3}, g.Available().Slice())

	g.Adjust(7)
	assert.ElementsMatch(t, []int{1, 3, 5, 6}, g.Available().Slice())
}
