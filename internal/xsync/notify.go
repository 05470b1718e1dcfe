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

package xsync

import (
	"sync"
	"sync/atomic"
)

// Notify is a one-shot, level-triggered boolean: readable by any number of
// goroutines, writable exactly once in practice (additional Set calls are
// harmless no-ops). Every blocking loop in the child checks HasNotified
// between poll quanta so that shutdown is cooperative rather than forced.
// Done additionally exposes a channel for callers (e.g. the process entry
// point) that need to react to shutdown immediately rather than on the next
// poll tick.
type Notify struct {
	notified atomic.Bool

	once sync.Once
	done chan struct{}
}

func (n *Notify) initDone() chan struct{} {
	n.once.Do(func() {
		n.done = make(chan struct{})
	})

	return n.done
}

// HasNotified reports whether Set has been called.
func (n *Notify) HasNotified() bool {
	return n.notified.Load()
}

// Set sets the notification and closes Done's channel. Safe to call more
// than once or concurrently.
func (n *Notify) Set() {
	if n.notified.CompareAndSwap(false, true) {
		close(n.initDone())

		return
	}

	n.initDone()
}

// Done returns a channel that is closed once Set has been called.
func (n *Notify) Done() <-chan struct{} {
	return n.initDone()
}
