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

// Package status writes observed Azure DevOps and pod state back onto
// the RunnerPool status subresource.
package status

import (
	"context"
	"fmt"
	"sort"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
)

// MaxConflictRetries bounds how many times Write retries a status update
// after a resourceVersion conflict. It is a var, not a const, so
// cmd/main.go can override it from the --max-status-conflict-retries
// flag before the manager starts.
var MaxConflictRetries = 3

// Report carries one tick's observed state into the status subresource.
type Report struct {
	Connected        bool
	OrganizationName string
	QueuedJobs       int
	RunningAgents    int
	MaxAgents        int
	Agents           []opentoolsmfv1.AgentSummary
	Err              error
}

// Writer persists Reports onto a RunnerPool's status.
type Writer struct {
	client client.Client
}

// New wires a Writer around an existing Kubernetes client.
func New(c client.Client) *Writer {
	return &Writer{client: c}
}

// Write performs a conflict-tolerant read-modify-write of key's status.
// On a version conflict it refetches and retries up to three times, then
// gives up silently — the next poll tick will overwrite stale status
// anyway.
func (w *Writer) Write(ctx context.Context, key client.ObjectKey, now metav1.Time, report Report) error {
	for attempt := 0; attempt <= MaxConflictRetries; attempt++ {
		var pool opentoolsmfv1.RunnerPool
		if err := w.client.Get(ctx, key, &pool); err != nil {
			if apierrors.IsNotFound(err) {
				return nil
			}
			return fmt.Errorf("status: get %s: %w", key, err)
		}

		applyReport(&pool, now, report)

		err := w.client.Status().Update(ctx, &pool)
		if err == nil {
			return nil
		}
		if !apierrors.IsConflict(err) {
			return fmt.Errorf("status: update %s: %w", key, err)
		}
	}
	return nil
}

func applyReport(pool *opentoolsmfv1.RunnerPool, now metav1.Time, report Report) {
	pool.Status.LastPolled = now.Time
	pool.Status.OrganizationName = report.OrganizationName
	pool.Status.QueuedJobs = report.QueuedJobs
	pool.Status.RunningAgents = report.RunningAgents
	pool.Status.AgentsSummary = fmt.Sprintf("%d/%d", report.RunningAgents, report.MaxAgents)

	agents := append([]opentoolsmfv1.AgentSummary(nil), report.Agents...)
	sort.Slice(agents, func(i, j int) bool { return agents[i].Name < agents[j].Name })
	pool.Status.Agents = agents

	condition := metav1.Condition{
		Type:               "Ready",
		ObservedGeneration: pool.Generation,
		LastTransitionTime: now,
	}

	switch {
	case report.Err != nil:
		pool.Status.ConnectionStatus = "Disconnected"
		pool.Status.LastError = report.Err.Error()
		condition.Status = metav1.ConditionFalse
		condition.Reason = "ReconcileError"
		condition.Message = report.Err.Error()
	case report.Connected:
		pool.Status.ConnectionStatus = "Connected"
		pool.Status.LastError = ""
		condition.Status = metav1.ConditionTrue
		condition.Reason = "Polled"
		condition.Message = "successfully polled Azure DevOps and reconciled pods"
	default:
		pool.Status.ConnectionStatus = "Disconnected"
		condition.Status = metav1.ConditionFalse
		condition.Reason = "Disconnected"
		condition.Message = "unable to reach Azure DevOps"
	}

	setCondition(&pool.Status.Conditions, condition)
}

func setCondition(conditions *[]metav1.Condition, next metav1.Condition) {
	for i, c := range *conditions {
		if c.Type != next.Type {
			continue
		}
		if c.Status == next.Status {
			next.LastTransitionTime = c.LastTransitionTime
		}
		(*conditions)[i] = next
		return
	}
	*conditions = append(*conditions, next)
}
