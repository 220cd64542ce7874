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

// Package registry tracks the set of RunnerPools the poll scheduler is
// responsible for driving, independent of the controller-runtime watch
// cache, so the scheduler can pace polls without re-listing the API
// server on every tick.
package registry

import (
	"sync"
	"time"

	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
)

// Entry is one pool's registration: its namespace/name identity, the
// planner spec derived from its current RunnerPoolSpec, the PAT used to
// talk to Azure DevOps, and the poll cadence and last-poll bookkeeping
// the scheduler consumes.
type Entry struct {
	Namespace           string
	Name                string
	Spec                planner.PoolSpec
	PAT                 string
	AzURL               string
	PollIntervalSeconds int
	LastPolled          time.Time

	// PoolID is the resolved Azure DevOps pool id, set once the first
	// successful poll resolves it. Zero means not yet resolved.
	PoolID int
}

// Key is the registry's map key: namespace/name.
type Key struct {
	Namespace string
	Name      string
}

// Registry is a thread-safe map of pool identity to Entry. Reads and
// writes for a given key are linearizable.
type Registry struct {
	mu      sync.RWMutex
	entries map[Key]Entry
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{entries: make(map[Key]Entry)}
}

// Upsert replaces the entry for (namespace, name), resetting LastPolled
// to the zero time so the scheduler's next tick treats it as due
// immediately.
func (r *Registry) Upsert(namespace, name string, spec planner.PoolSpec, pat, azURL string, pollIntervalSeconds int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[Key{Namespace: namespace, Name: name}] = Entry{
		Namespace:           namespace,
		Name:                name,
		Spec:                spec,
		PAT:                 pat,
		AzURL:               azURL,
		PollIntervalSeconds: pollIntervalSeconds,
		LastPolled:          time.Time{},
	}
}

// Remove drops the entry for (namespace, name), if present.
func (r *Registry) Remove(namespace, name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.entries, Key{Namespace: namespace, Name: name})
}

// MarkPolled updates LastPolled for (namespace, name) to now, if the
// entry is still present. It is a no-op if the pool was removed
// concurrently.
func (r *Registry) MarkPolled(namespace, name string, now time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Key{Namespace: namespace, Name: name}
	if e, ok := r.entries[key]; ok {
		e.LastPolled = now
		r.entries[key] = e
	}
}

// SetPoolID records the resolved Azure DevOps pool id for (namespace,
// name), if the entry is still present.
func (r *Registry) SetPoolID(namespace, name string, poolID int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := Key{Namespace: namespace, Name: name}
	if e, ok := r.entries[key]; ok {
		e.PoolID = poolID
		r.entries[key] = e
	}
}

// Snapshot returns a point-in-time copy of every registered entry.
func (r *Registry) Snapshot() []Entry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	return out
}
