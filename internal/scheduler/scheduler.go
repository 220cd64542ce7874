/*
Copyright 2025.

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

// Package scheduler drives the per-pool poll cadence as a single
// manager.Runnable, independent of the controller-runtime watch queue.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/go-logr/logr"
	"sigs.k8s.io/controller-runtime/pkg/log"

	"github.com/opentools-mf/azdo-runner-operator/internal/registry"
)

// minFloor is the lowest poll interval the scheduler will sleep to,
// matching the CRD's own validation minimum on pollIntervalSeconds.
const minFloor = 5 * time.Second

// unhandledErrorBackoff is how long the scheduler waits after a poll
// function returns an error before resuming its normal cadence.
const unhandledErrorBackoff = 10 * time.Second

// PollFunc runs one reconcile pass for a single pool.
type PollFunc func(ctx context.Context, namespace, name string) error

// Scheduler pumps every registered pool on its own interval from a
// single loop. Within one tick, due pools are polled by at most
// Concurrency goroutines at a time, and the tick waits for all of them.
type Scheduler struct {
	Registry *registry.Registry
	Poll     PollFunc

	// Concurrency bounds how many due pools are polled at once within a
	// single tick. Below 1 it behaves as 1 (strictly sequential), which
	// is also the default New returns; cmd/main.go raises it from the
	// --poll-queue-concurrency flag.
	Concurrency int

	// now is overridable in tests; defaults to time.Now.
	now func() time.Time
}

// New wires a Scheduler around a Registry and the reconcile entry point
// it should invoke for each due pool.
func New(reg *registry.Registry, poll PollFunc) *Scheduler {
	return &Scheduler{Registry: reg, Poll: poll, Concurrency: 1, now: time.Now}
}

// Start implements manager.Runnable. It runs until ctx is canceled,
// finishing whatever pool is in flight before returning.
func (s *Scheduler) Start(ctx context.Context) error {
	logger := log.FromContext(ctx).WithName("poll-scheduler")
	now := s.now
	if now == nil {
		now = time.Now
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		sleep, err := s.tick(ctx, now, logger)
		if err != nil {
			logger.Error(err, "unhandled error in poll tick; backing off")
			sleep = unhandledErrorBackoff
		}

		timer := time.NewTimer(sleep)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil
		case <-timer.C:
		}
	}
}

func (s *Scheduler) tick(ctx context.Context, now func() time.Time, logger logr.Logger) (time.Duration, error) {
	entries := s.Registry.Snapshot()

	concurrency := s.Concurrency
	if concurrency < 1 {
		concurrency = 1
	}
	sem := make(chan struct{}, concurrency)
	var wg sync.WaitGroup

	var mu sync.Mutex
	soonestFloor := minFloor
	nextDeadline := time.Duration(-1)
	observe := func(remaining time.Duration) {
		mu.Lock()
		defer mu.Unlock()
		if nextDeadline < 0 || remaining < nextDeadline {
			nextDeadline = remaining
		}
	}

	for _, e := range entries {
		interval := time.Duration(e.PollIntervalSeconds) * time.Second
		if interval < soonestFloor {
			interval = soonestFloor
		}

		due := e.LastPolled.IsZero() || now().Sub(e.LastPolled) >= interval
		if !due {
			observe(interval - now().Sub(e.LastPolled))
			continue
		}

		sem <- struct{}{}
		wg.Add(1)
		go func(e registry.Entry, interval time.Duration) {
			defer wg.Done()
			defer func() { <-sem }()

			if err := s.Poll(ctx, e.Namespace, e.Name); err != nil {
				logger.Error(err, "poll failed", "namespace", e.Namespace, "name", e.Name)
			}
			s.Registry.MarkPolled(e.Namespace, e.Name, now())
			observe(interval)
		}(e, interval)
	}

	wg.Wait()

	if nextDeadline < 0 {
		nextDeadline = soonestFloor
	}
	if nextDeadline < soonestFloor {
		nextDeadline = soonestFloor
	}
	return nextDeadline, nil
}
