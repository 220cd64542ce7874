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

// Package errs defines the sentinel error kinds shared across the
// reconciliation engine, so callers can classify a failure with
// errors.Is regardless of which component produced it.
package errs

import "errors"

var (
	// ErrTransient marks a failure expected to clear on its own: network
	// errors, 5xx responses, Kubernetes resourceVersion conflicts.
	ErrTransient = errors.New("transient failure")

	// ErrPermanent marks a failure that will not clear without operator
	// intervention (4xx other than 404/409).
	ErrPermanent = errors.New("permanent failure")

	// ErrPoolNotFound is returned when no Azure DevOps pool matches the
	// configured name.
	ErrPoolNotFound = errors.New("pool not found")

	// ErrNoSlotAvailable is returned when every agent-index slot below
	// maxAgents is already in use.
	ErrNoSlotAvailable = errors.New("no slot available")

	// ErrConfiguration marks a misconfiguration that keeps the pool from
	// connecting at all, e.g. a PAT secret missing the "token" key.
	ErrConfiguration = errors.New("configuration error")
)
