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

// Package sweeper runs a fast, TTL-and-grace-ignoring cleanup pass over
// pods that will never become usable agents: pods stuck pulling a bad
// image, crash-looping before the agent ever registers, or stuck in
// Pending long enough that something is clearly wrong.
package sweeper

import (
	"context"
	"time"

	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/log"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
	"github.com/opentools-mf/azdo-runner-operator/internal/azdo"
	"github.com/opentools-mf/azdo-runner-operator/internal/kubernetes"
	"github.com/opentools-mf/azdo-runner-operator/internal/registry"
)

// defaultInterval is the sweep cadence used when Sweeper.Interval is
// left at its zero value.
const defaultInterval = 10 * time.Second

const pendingStuckDuration = 15 * time.Minute

// badWaitingReasons are container waiting reasons that mean the pod will
// never progress, regardless of how much longer it waits.
var badWaitingReasons = map[string]bool{
	"ImagePullBackOff":  true,
	"ErrImagePull":      true,
	"CrashLoopBackOff":  true,
	"InvalidImageName":  true,
	"ImageInspectError": true,
}

// GatewayFactory builds an azdo.Gateway for one pool's (azURL, pat).
type GatewayFactory func(azURL, pat string) (*azdo.Gateway, error)

// Sweeper is a manager.Runnable that periodically cleans up pods which
// ignore TTL and grace because they can never become usable.
type Sweeper struct {
	Registry   *registry.Registry
	PodService *kubernetes.PodService
	NewGateway GatewayFactory

	// Interval is the sweep cadence. Zero falls back to defaultInterval;
	// cmd/main.go sets this from the --error-sweep-interval flag.
	Interval time.Duration
}

// New wires a Sweeper around its collaborators, defaulting Interval to
// defaultInterval.
func New(reg *registry.Registry, podService *kubernetes.PodService, newGateway GatewayFactory) *Sweeper {
	return &Sweeper{Registry: reg, PodService: podService, NewGateway: newGateway, Interval: defaultInterval}
}

// Start implements manager.Runnable.
func (s *Sweeper) Start(ctx context.Context) error {
	interval := s.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.sweepAll(ctx)
		}
	}
}

func (s *Sweeper) sweepAll(ctx context.Context) {
	logger := log.FromContext(ctx).WithName("error-sweeper")
	for _, e := range s.Registry.Snapshot() {
		pool := &opentoolsmfv1.RunnerPool{
			ObjectMeta: metav1.ObjectMeta{Namespace: e.Namespace, Name: e.Name},
		}
		pods, err := s.PodService.ListAll(ctx, pool)
		if err != nil {
			logger.Error(err, "failed to list pods for sweep", "namespace", e.Namespace, "name", e.Name)
			continue
		}

		var gateway *azdo.Gateway
		for _, pod := range pods {
			if !shouldSweep(pod) {
				continue
			}
			logger.Info("sweeping stuck pod", "namespace", e.Namespace, "pod", pod.Name, "reason", stuckReason(pod))

			if gateway == nil {
				gateway, err = s.NewGateway(e.AzURL, e.PAT)
				if err != nil {
					logger.Error(err, "failed to build azdo gateway for sweep", "namespace", e.Namespace, "name", e.Name)
					gateway = nil
				}
			}
			if gateway != nil && e.PoolID != 0 {
				if err := gateway.UnregisterAgent(ctx, e.PoolID, pod.Name); err != nil {
					logger.Error(err, "failed to deregister agent before sweep delete", "pod", pod.Name)
				}
			}

			if err := s.PodService.DeletePod(ctx, pod.Namespace, pod.Name); err != nil {
				logger.Error(err, "failed to delete stuck pod", "pod", pod.Name)
			}
		}
		if gateway != nil {
			gateway.Close()
		}
	}
}

// shouldSweep implements the engine's "Error phase" condition as
// corev1.PodFailed, since the Kubernetes API has no literal Error
// PodPhase; a failed pod is exactly the terminal-and-broken state that
// condition describes.
func shouldSweep(pod corev1.Pod) bool {
	if pod.Status.Phase == corev1.PodFailed {
		return true
	}
	if hasBadReason(pod) {
		return true
	}
	if pod.Status.Phase == corev1.PodPending && pendingTooLong(pod) {
		return true
	}
	return false
}

func stuckReason(pod corev1.Pod) string {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && badWaitingReasons[cs.State.Waiting.Reason] {
			return cs.State.Waiting.Reason
		}
	}
	if pod.Status.Phase == corev1.PodPending {
		return "PendingTooLong"
	}
	return string(pod.Status.Phase)
}

func hasBadReason(pod corev1.Pod) bool {
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && badWaitingReasons[cs.State.Waiting.Reason] {
			return true
		}
	}
	return false
}

func pendingTooLong(pod corev1.Pod) bool {
	start := pod.CreationTimestamp.Time
	if pod.Status.StartTime != nil {
		start = pod.Status.StartTime.Time
	}
	if start.IsZero() {
		return false
	}
	if time.Since(start) <= pendingStuckDuration {
		return false
	}
	for _, cs := range pod.Status.ContainerStatuses {
		if cs.State.Waiting != nil && cs.State.Waiting.Reason == "ContainerCreating" {
			return true
		}
	}
	return false
}
