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

// Package executor turns a planner.Action list into real Azure DevOps
// and Kubernetes API calls, one action at a time and in order.
package executor

import (
	"context"
	"fmt"

	"sigs.k8s.io/controller-runtime/pkg/log"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
	"github.com/opentools-mf/azdo-runner-operator/internal/azdo"
	"github.com/opentools-mf/azdo-runner-operator/internal/kubernetes"
	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
)

// Refresher produces an up-to-date snapshot on demand. The executor
// calls it once per Apply so destructive actions are checked against
// state no older than the start of this tick's execution phase, rather
// than the (now potentially stale) snapshot the plan was computed from.
type Refresher func(ctx context.Context) (planner.Snapshot, error)

// Executor applies a plan against one RunnerPool.
type Executor struct {
	Gateway    *azdo.Gateway
	PodService *kubernetes.PodService
	PoolID     int
}

// New wires an Executor around the gateways it drives.
func New(gateway *azdo.Gateway, podService *kubernetes.PodService, poolID int) *Executor {
	return &Executor{Gateway: gateway, PodService: podService, PoolID: poolID}
}

// Apply runs actions in order against runnerPool. Destructive actions
// (DeletePod, DeregisterAgent) are re-checked against a freshly fetched
// snapshot immediately before being applied; if Busy or InGrace now
// holds, the action is skipped rather than executed stale. A single
// action's failure is logged and does not abort the remaining actions.
func (e *Executor) Apply(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool, actions []planner.Action, refresh Refresher) {
	logger := log.FromContext(ctx)
	if len(actions) == 0 {
		return
	}

	fresh, err := refresh(ctx)
	freshOK := err == nil
	if err != nil {
		logger.Error(err, "failed to refresh snapshot before applying actions; destructive actions will be skipped this tick")
	}

	for _, action := range actions {
		switch action.Kind {
		case planner.ActionDeregisterAgent:
			if !freshOK {
				continue
			}
			if e.staleDestructive(fresh, action.AgentName) {
				logger.V(1).Info("skipping deregister: pod became busy or is still in grace", "agent", action.AgentName)
				continue
			}
			if err := e.Gateway.UnregisterAgent(ctx, e.PoolID, action.AgentName); err != nil {
				logger.Error(err, "failed to deregister agent", "agent", action.AgentName)
			}

		case planner.ActionDeletePod:
			if !freshOK {
				continue
			}
			if e.staleDestructive(fresh, action.PodName) {
				logger.V(1).Info("skipping delete: pod became busy or is still in grace", "pod", action.PodName)
				continue
			}
			if err := e.PodService.DeletePod(ctx, runnerPool.Namespace, action.PodName); err != nil {
				logger.Error(err, "failed to delete pod", "pod", action.PodName)
			}

		case planner.ActionRelabelPod:
			if err := e.PodService.UpdatePodLabels(ctx, runnerPool.Namespace, action.PodName, action.Labels); err != nil {
				logger.Error(err, "failed to relabel pod", "pod", action.PodName)
			}

		case planner.ActionCreatePod:
			extraLabels := map[string]string{}
			if action.JobRequestID != "" {
				extraLabels["job-request-id"] = action.JobRequestID
			}
			if _, err := e.PodService.CreatePod(ctx, runnerPool, action.Index, action.IsMinAgent, action.Capability, extraLabels); err != nil {
				logger.Error(err, "failed to create pod", "index", action.Index)
			}

		default:
			logger.Error(fmt.Errorf("unknown action kind %q", action.Kind), "skipping unrecognized action")
		}
	}
}

// staleDestructive reports whether a destructive action against name
// should now be skipped: either the pod it targets is Busy in the fresh
// snapshot, or it is still within its registration grace period. A
// target not found in the fresh snapshot (already gone) is never
// treated as stale — there's nothing left to protect.
func (e *Executor) staleDestructive(fresh planner.Snapshot, name string) bool {
	for _, pod := range fresh.Pods {
		if pod.Name != name {
			continue
		}
		if planner.IsBusy(fresh, pod) {
			return true
		}
		if planner.IsInGrace(fresh.Now, pod, planner.RegistrationGracePeriod) {
			return true
		}
		return false
	}
	return false
}
