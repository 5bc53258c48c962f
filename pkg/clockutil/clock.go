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

// Package clockutil re-exports the clock abstraction the scheduler core
// uses for every "now" read, so that retention and next-event
// calculations can be driven by a fake clock in tests.
package clockutil

import (
	"time"

	"k8s.io/utils/clock"
	clocktesting "k8s.io/utils/clock/testing"
)

func timeFromSeconds(seconds float64) time.Time {
	return time.Unix(0, int64(seconds*float64(time.Second)))
}

// SecondsSince returns t2-t1 expressed as seconds, the unit the
// scheduler core's retention arithmetic (placement_expiry,
// data_retention_timeout, next_event_at) is expressed in.
func SecondsSince(t time.Time, since time.Time) float64 {
	return t.Sub(since).Seconds()
}

// Seconds returns now, expressed as seconds since the Unix epoch.
func Seconds(c Clock) float64 {
	return float64(c.Now().UnixNano()) / float64(time.Second)
}

// Clock is the single source of "now" the core reads from. It is
// injected at Cell construction; spec.md §9 requires no process-wide
// singleton.
type Clock = clock.Clock

// FakeClock is a controllable clock for tests, grounded on
// k8s.io/utils/clock/testing.FakeClock's use in the karpenter example
// repo's provisioning tests.
type FakeClock = clocktesting.FakeClock

// RealClock is the production clock, backed by time.Now.
var RealClock Clock = clock.RealClock{}

// NewFakeClock returns a FakeClock pinned at t, expressed as seconds
// since the Unix epoch for parity with the scheduler core's tests, which
// exercise retention math in plain seconds (mirroring the original
// implementation's mock.patch('time.time', ...) scaffolding).
func NewFakeClock(seconds float64) *FakeClock {
	return clocktesting.NewFakeClock(timeFromSeconds(seconds))
}

// SetSeconds moves a FakeClock to the given time, expressed as seconds
// since the Unix epoch.
func SetSeconds(c *FakeClock, seconds float64) {
	c.SetTime(timeFromSeconds(seconds))
}
