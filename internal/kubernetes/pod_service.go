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

// Package kubernetes provides services for managing Kubernetes resources
// This file handles Pod operations for the Azure DevOps runner agents
package kubernetes

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
	"github.com/opentools-mf/azdo-runner-operator/internal/errs"
	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
)

const (
	labelApp        = "app"
	labelRunnerPool = "runner-pool"
	labelManagedBy  = "managed-by"
	labelMinAgent   = "min-agent"
	labelCapability = "capability"
	labelJobRequest = "job-request-id"

	appName    = "azdo-runner"
	managedBy  = "azdo-runner-operator"
	baseImage  = "base"
)

// PodService handles all pod-related operations for runner agents.
// Each Azure DevOps agent runs in a separate Kubernetes pod.
type PodService struct {
	client client.Client
}

// NewPodService wires a PodService around an existing Kubernetes client.
func NewPodService(c client.Client) *PodService {
	return &PodService{client: c}
}

// CreatePod builds and creates a runner agent pod for the given index.
// extraLabels are merged on top of the standard label set (notably used
// to stamp job-request-id at creation time for Stage H scale-up).
func (s *PodService) CreatePod(
	ctx context.Context,
	runnerPool *opentoolsmfv1.RunnerPool,
	index int,
	isMinAgent bool,
	capability string,
	extraLabels map[string]string,
) (*corev1.Pod, error) {
	pod := s.buildPodSpec(runnerPool, index, isMinAgent, capability, extraLabels)
	if err := controllerutil.SetControllerReference(runnerPool, pod, s.client.Scheme()); err != nil {
		return nil, fmt.Errorf("kubernetes: set owner reference on pod %s: %w", pod.Name, err)
	}
	if err := s.client.Create(ctx, pod); err != nil {
		return nil, fmt.Errorf("kubernetes: create pod %s: %w", pod.Name, err)
	}
	return pod, nil
}

// DeletePod deletes a runner agent pod. A 404 is treated as success.
func (s *PodService) DeletePod(ctx context.Context, namespace, name string) error {
	pod := &corev1.Pod{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	if err := s.client.Delete(ctx, pod); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("kubernetes: delete pod %s/%s: %w", namespace, name, err)
	}
	return nil
}

// ListAll returns every pod labelled as belonging to runnerPool.
func (s *PodService) ListAll(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool) ([]corev1.Pod, error) {
	var podList corev1.PodList
	err := s.client.List(ctx, &podList,
		client.InNamespace(runnerPool.Namespace),
		client.MatchingLabels{labelRunnerPool: runnerPool.Name},
	)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: list pods for pool %s: %w", runnerPool.Name, err)
	}
	return podList.Items, nil
}

// ListActive returns pods in phase Running or Pending.
func (s *PodService) ListActive(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool) ([]corev1.Pod, error) {
	pods, err := s.ListAll(ctx, runnerPool)
	if err != nil {
		return nil, err
	}
	active := make([]corev1.Pod, 0, len(pods))
	for _, p := range pods {
		if p.Status.Phase == corev1.PodRunning || p.Status.Phase == corev1.PodPending {
			active = append(active, p)
		}
	}
	return active, nil
}

// ListMinAgents returns pods labelled min-agent=true.
func (s *PodService) ListMinAgents(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool) ([]corev1.Pod, error) {
	var podList corev1.PodList
	err := s.client.List(ctx, &podList,
		client.InNamespace(runnerPool.Namespace),
		client.MatchingLabels{labelRunnerPool: runnerPool.Name, labelMinAgent: "true"},
	)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: list min-agent pods for pool %s: %w", runnerPool.Name, err)
	}
	return podList.Items, nil
}

// NextAvailableAgentIndex scans existing operator-managed pods and
// returns the smallest unused non-negative index below maxAgents.
func (s *PodService) NextAvailableAgentIndex(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool) (int, error) {
	pods, err := s.ListAll(ctx, runnerPool)
	if err != nil {
		return 0, err
	}
	used := map[int]bool{}
	tokenCount := 0
	for _, p := range pods {
		if idx, ok := planner.ParseAgentIndex(runnerPool.Name, p.Name); ok {
			used[idx] = true
		} else if planner.IsManagedName(runnerPool.Name, p.Name) {
			tokenCount++
		}
	}
	maxAgents := runnerPool.Spec.MaxAgents
	if len(used)+tokenCount >= maxAgents {
		return 0, fmt.Errorf("kubernetes: pool %s: %w", runnerPool.Name, errs.ErrNoSlotAvailable)
	}
	for i := 0; i < maxAgents; i++ {
		if !used[i] {
			return i, nil
		}
	}
	return 0, fmt.Errorf("kubernetes: pool %s: %w", runnerPool.Name, errs.ErrNoSlotAvailable)
}

// UpdatePodLabels merge-patches labels on name. An empty value removes
// the key, used to clear job-request-id.
func (s *PodService) UpdatePodLabels(ctx context.Context, namespace, name string, patch map[string]string) error {
	var pod corev1.Pod
	if err := s.client.Get(ctx, client.ObjectKey{Namespace: namespace, Name: name}, &pod); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("kubernetes: get pod %s/%s: %w", namespace, name, err)
	}
	original := pod.DeepCopy()
	if pod.Labels == nil {
		pod.Labels = map[string]string{}
	}
	for k, v := range patch {
		if v == "" {
			delete(pod.Labels, k)
		} else {
			pod.Labels[k] = v
		}
	}
	if err := s.client.Patch(ctx, &pod, client.MergeFrom(original)); err != nil {
		return fmt.Errorf("kubernetes: patch labels on pod %s/%s: %w", namespace, name, err)
	}
	return nil
}

func (s *PodService) buildPodSpec(
	runnerPool *opentoolsmfv1.RunnerPool,
	index int,
	isMinAgent bool,
	capability string,
	extraLabels map[string]string,
) *corev1.Pod {
	name := planner.ManagedPodName(runnerPool.Name, index)
	if capability == "" {
		capability = baseImage
	}

	labels := map[string]string{
		labelApp:        appName,
		labelRunnerPool: runnerPool.Name,
		labelManagedBy:  managedBy,
		labelMinAgent:   strconv.FormatBool(isMinAgent),
		labelCapability: capability,
	}
	for k, v := range extraLabels {
		if v == "" {
			continue
		}
		labels[k] = v
	}

	image := runnerPool.Spec.Image
	if override, ok := runnerPool.Spec.Capabilities[capability]; ok && override != "" {
		image = override
	}

	pullPolicy := corev1.PullPolicy(runnerPool.Spec.ImagePullPolicy)
	if pullPolicy == "" {
		pullPolicy = corev1.PullIfNotPresent
	}

	env := []corev1.EnvVar{
		{Name: "AZP_URL", Value: runnerPool.Spec.AzURL},
		{Name: "AZP_POOL", Value: runnerPool.Spec.Pool},
		{Name: "AZP_TOKEN", ValueFrom: &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: runnerPool.Spec.PATSecretName},
				Key:                  "token",
			},
		}},
		{Name: "AZP_AGENT_NAME", Value: name},
		{Name: "AZP_CAPABILITY", Value: capability},
	}
	env = append(env, buildExtraEnv(runnerPool.Spec.ExtraEnv)...)

	var args []string
	if runnerPool.Spec.TtlIdleSeconds == 0 {
		args = []string{"--once"}
	}

	volumes, mounts := buildVolumes(runnerPool, index)

	container := corev1.Container{
		Name:            "agent",
		Image:           image,
		ImagePullPolicy: pullPolicy,
		Env:             env,
		Args:            args,
		VolumeMounts:    mounts,
		Lifecycle: &corev1.Lifecycle{
			PreStop: &corev1.LifecycleHandler{
				Exec: &corev1.ExecAction{Command: []string{"kill", "-TERM", "1"}},
			},
		},
		SecurityContext: buildSecurityContext(runnerPool.Spec.SecurityContext),
	}

	var initContainers []corev1.Container
	if runnerPool.Spec.InitContainerSpec.Image != "" {
		initContainers = append(initContainers, corev1.Container{
			Name:         "init",
			Image:        runnerPool.Spec.InitContainerSpec.Image,
			VolumeMounts: mounts,
		})
	}

	return &corev1.Pod{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: runnerPool.Namespace,
			Labels:    labels,
		},
		Spec: corev1.PodSpec{
			RestartPolicy:  corev1.RestartPolicyNever,
			InitContainers: initContainers,
			Containers:     []corev1.Container{container},
			Volumes:        volumes,
		},
	}
}

func buildExtraEnv(extra []opentoolsmfv1.ExtraEnv) []corev1.EnvVar {
	out := make([]corev1.EnvVar, 0, len(extra))
	for _, e := range extra {
		ev := corev1.EnvVar{Name: e.Name}
		switch {
		case e.Value != nil:
			ev.Value = *e.Value
		case e.ValueFrom != nil && e.ValueFrom.SecretKeyRef != nil:
			ev.ValueFrom = &corev1.EnvVarSource{SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: e.ValueFrom.SecretKeyRef.Name},
				Key:                  e.ValueFrom.SecretKeyRef.Key,
			}}
		case e.ValueFrom != nil && e.ValueFrom.ConfigMapKeyRef != nil:
			ev.ValueFrom = &corev1.EnvVarSource{ConfigMapKeyRef: &corev1.ConfigMapKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: e.ValueFrom.ConfigMapKeyRef.Name},
			}}
		}
		out = append(out, ev)
	}
	return out
}

func buildVolumes(runnerPool *opentoolsmfv1.RunnerPool, index int) ([]corev1.Volume, []corev1.VolumeMount) {
	var volumes []corev1.Volume
	var mounts []corev1.VolumeMount

	for _, pvc := range runnerPool.Spec.Storage {
		claimName := pvc.ClaimName
		if claimName == "" {
			claimName = pvcName(runnerPool.Name, pvc.Name, index)
		}
		volumes = append(volumes, corev1.Volume{
			Name: pvc.Name,
			VolumeSource: corev1.VolumeSource{
				PersistentVolumeClaim: &corev1.PersistentVolumeClaimVolumeSource{ClaimName: claimName},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{Name: pvc.Name, MountPath: pvc.MountPath})
	}

	for i, cert := range runnerPool.Spec.SecretTrustStore {
		volName := fmt.Sprintf("cert-trust-%d", i)
		volumes = append(volumes, corev1.Volume{
			Name: volName,
			VolumeSource: corev1.VolumeSource{
				Secret: &corev1.SecretVolumeSource{SecretName: cert.SecretName},
			},
		})
		mounts = append(mounts, corev1.VolumeMount{
			Name:      volName,
			MountPath: "/etc/ssl/certs/trust-store/" + strings.TrimSuffix(cert.SecretName, "-cert"),
			ReadOnly:  true,
		})
	}

	sort.Slice(volumes, func(i, j int) bool { return volumes[i].Name < volumes[j].Name })
	return volumes, mounts
}

func buildSecurityContext(sc opentoolsmfv1.SecurityContext) *corev1.SecurityContext {
	if sc == (opentoolsmfv1.SecurityContext{}) {
		return nil
	}
	out := &corev1.SecurityContext{Privileged: &sc.Privileged}
	if sc.RunAsUser != 0 {
		out.RunAsUser = &sc.RunAsUser
	}
	if sc.RunAsGroup != 0 {
		out.RunAsGroup = &sc.RunAsGroup
	}
	return out
}
