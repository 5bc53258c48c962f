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

// Package resource implements the fixed-dimension nonnegative resource
// vectors the scheduler core uses for all capacity arithmetic.
package resource

import (
	"fmt"
	"math"
)

// dimensions is fixed the first time a Vector is created and never
// changes afterward: the dimension count is a process-wide constant, not
// something cycles or cells may vary.
var dimensions = -1

// SetDimensions pins the vector width once, before any Vector is
// created. Calling it after dimensions have been established is a
// configuration error.
func SetDimensions(n int) error {
	if n <= 0 {
		return fmt.Errorf("resource: dimension count must be positive, got %d", n)
	}
	if dimensions != -1 && dimensions != n {
		return fmt.Errorf("resource: dimension count already fixed at %d, cannot change to %d", dimensions, n)
	}
	dimensions = n
	return nil
}

// Dimensions returns the fixed vector width, or 0 if it has not been
// established yet.
func Dimensions() int {
	if dimensions == -1 {
		return 0
	}
	return dimensions
}

// ResetForTesting clears the fixed dimension count so a test can pin a
// fresh width, mirroring the original test suite's per-class
// "DIMENSION_COUNT = 2" setUp. Not for use outside tests.
func ResetForTesting() {
	dimensions = -1
}

// Vector is a fixed-width, componentwise nonnegative resource amount.
type Vector []float64

// New constructs a Vector, fixing the process-wide dimension count on
// the first call.
func New(values ...float64) Vector {
	if dimensions == -1 {
		if err := SetDimensions(len(values)); err != nil {
			panic(err)
		}
	}
	if len(values) != dimensions {
		panic(fmt.Sprintf("resource: expected %d dimensions, got %d", dimensions, len(values)))
	}
	for _, v := range values {
		if v < 0 {
			panic(fmt.Sprintf("resource: negative component %v", v))
		}
	}
	out := make(Vector, len(values))
	copy(out, values)
	return out
}

// Zero returns the zero vector at the fixed dimension count.
func Zero() Vector {
	if dimensions == -1 {
		panic("resource: dimension count not established yet")
	}
	return make(Vector, dimensions)
}

// Add returns v + other, componentwise.
func (v Vector) Add(other Vector) Vector {
	out := make(Vector, len(v))
	for i := range v {
		out[i] = v[i] + other[i]
	}
	return out
}

// Sub returns v - other, componentwise. Components may go negative;
// callers that require nonnegativity check separately (see Fits).
func (v Vector) Sub(other Vector) Vector {
	out := make(Vector, len(v))
	for i := range v {
		out[i] = v[i] - other[i]
	}
	return out
}

// Max returns the componentwise maximum of v and other.
func (v Vector) Max(other Vector) Vector {
	out := make(Vector, len(v))
	for i := range v {
		out[i] = math.Max(v[i], other[i])
	}
	return out
}

// Fits reports whether demand fits within v (v acting as free capacity):
// every component of demand must be <= the corresponding component of v.
func (v Vector) Fits(demand Vector) bool {
	for i := range v {
		if demand[i] > v[i] {
			return false
		}
	}
	return true
}

// IsZero reports whether every component is zero.
func (v Vector) IsZero() bool {
	for _, c := range v {
		if c != 0 {
			return false
		}
	}
	return true
}

// Clone returns an independent copy of v.
func (v Vector) Clone() Vector {
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

func (v Vector) String() string {
	return fmt.Sprintf("%v", []float64(v))
}
