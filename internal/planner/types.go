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

// Package planner implements the reconciliation decision logic for a
// RunnerPool: given a point-in-time snapshot of Azure DevOps and
// Kubernetes state, it produces the ordered list of actions needed to
// converge on the desired pool shape. It has no I/O, no clock, and no
// randomness: every input it needs is passed in, which is what makes it
// exhaustively testable.
package planner

import "time"

// PodPhase mirrors the small subset of corev1.PodPhase the planner cares
// about.
type PodPhase string

const (
	PodPending   PodPhase = "Pending"
	PodRunning   PodPhase = "Running"
	PodSucceeded PodPhase = "Succeeded"
	PodFailed    PodPhase = "Failed"
)

// AgentStatus is the normalized status of an Azure DevOps agent.
type AgentStatus string

const (
	AgentOnline  AgentStatus = "Online"
	AgentOffline AgentStatus = "Offline"
)

// Pod is the planner's view of a Kubernetes pod belonging to a pool.
type Pod struct {
	Name      string
	Phase     PodPhase
	Labels    map[string]string
	CreatedAt time.Time
}

// Agent is the planner's view of an Azure DevOps agent.
type Agent struct {
	ID         int
	Name       string
	Status     AgentStatus
	LastActive *time.Time
}

// JobRequest is the planner's view of an Azure DevOps job request.
// Result is nil while the job is queued; a non-nil value other than
// "inProgress" means the job has finished (succeeded, failed, canceled).
type JobRequest struct {
	RequestID int
	AgentID   *int
	Result    *string
	Demands   []string
}

// Snapshot is the immutable input to a single planning pass.
type Snapshot struct {
	Now        time.Time
	QueuedJobs int
	Jobs       []JobRequest
	Agents     []Agent
	Pods       []Pod
}

// PoolSpec is the subset of RunnerPool.Spec the planner's algorithm
// depends on. It is deliberately decoupled from the CRD type so the
// planner package never imports api/v1 or any Kubernetes package.
type PoolSpec struct {
	PoolName          string
	MaxAgents         int
	MinAgents         int
	TTLIdleSeconds    int
	CapabilityAware   bool
	CapabilityImages  map[string]string
}

// EffectiveMinAgents is min(MinAgents, MaxAgents), the steady-state
// target for always-on pods (Stage E).
func (s PoolSpec) EffectiveMinAgents() int {
	if s.MinAgents > s.MaxAgents {
		return s.MaxAgents
	}
	return s.MinAgents
}
