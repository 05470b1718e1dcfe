/*
Copyright 2019 The Ceph-CSI Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package xsync provides the two small synchronization primitives the child
// process needs beyond sync.Mutex/sync.RWMutex: an uncontended lock that
// turns an unexpected concurrent access into a panic instead of a stall, and
// a one-shot, level-triggered terminate notification.
package xsync

import (
	"sync/atomic"
)

// UncontendedMutex guards a value that, in practice, is only ever touched by
// one goroutine at a time (the decoder and the limiter, per the design:
// access is serialized by construction upstream). It is no larger than
// sync.Mutex (a single atomic.Bool) and never blocks - instead of queueing a second
// locker behind the first, it panics, turning a concurrency bug into an
// immediate, loud failure rather than a silent stall or a data race.
type UncontendedMutex struct {
	locked atomic.Bool
}

// Lock acquires the lock, panicking if it is already held.
func (m *UncontendedMutex) Lock() {
	if m.locked.Swap(true) {
		panic("xsync: unexpected lock contention")
	}
}

// Unlock releases the lock.
func (m *UncontendedMutex) Unlock() {
	m.locked.Store(false)
}
