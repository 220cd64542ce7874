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

package controller

import (
	"time"

	corev1 "k8s.io/api/core/v1"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
)

func toPoolSpec(rp *opentoolsmfv1.RunnerPool) planner.PoolSpec {
	return planner.PoolSpec{
		PoolName:         rp.Spec.Pool,
		MaxAgents:        rp.Spec.MaxAgents,
		MinAgents:        rp.Spec.MinAgents,
		TTLIdleSeconds:   rp.Spec.TtlIdleSeconds,
		CapabilityAware:  rp.Spec.CapabilityAware,
		CapabilityImages: rp.Spec.Capabilities,
	}
}

func toPlannerPod(pod corev1.Pod) planner.Pod {
	phase := planner.PodPending
	switch pod.Status.Phase {
	case corev1.PodRunning:
		phase = planner.PodRunning
	case corev1.PodSucceeded:
		phase = planner.PodSucceeded
	case corev1.PodFailed:
		phase = planner.PodFailed
	}
	return planner.Pod{
		Name:      pod.Name,
		Phase:     phase,
		Labels:    pod.Labels,
		CreatedAt: pod.CreationTimestamp.Time,
	}
}

func toPlannerPods(pods []corev1.Pod) []planner.Pod {
	out := make([]planner.Pod, 0, len(pods))
	for _, p := range pods {
		out = append(out, toPlannerPod(p))
	}
	return out
}

func buildSnapshot(now time.Time, pods []corev1.Pod, agents []planner.Agent, jobs []planner.JobRequest) planner.Snapshot {
	return planner.Snapshot{
		Now:        now,
		QueuedJobs: countQueued(jobs),
		Jobs:       jobs,
		Agents:     agents,
		Pods:       toPlannerPods(pods),
	}
}

func countQueued(jobs []planner.JobRequest) int {
	n := 0
	for _, j := range jobs {
		if j.Result == nil {
			n++
		}
	}
	return n
}

func runningAgentSummaries(pods []corev1.Pod) []opentoolsmfv1.AgentSummary {
	out := make([]opentoolsmfv1.AgentSummary, 0, len(pods))
	for _, p := range pods {
		if p.Status.Phase != corev1.PodRunning && p.Status.Phase != corev1.PodPending {
			continue
		}
		out = append(out, opentoolsmfv1.AgentSummary{Name: p.Name, Status: string(p.Status.Phase)})
	}
	return out
}

func countRunning(pods []corev1.Pod) int {
	n := 0
	for _, p := range pods {
		if p.Status.Phase == corev1.PodRunning || p.Status.Phase == corev1.PodPending {
			n++
		}
	}
	return n
}
