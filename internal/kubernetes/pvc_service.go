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

// Package kubernetes - pvc_service.go handles PersistentVolumeClaim operations
package kubernetes

import (
	"context"
	"fmt"
	"strconv"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
)

const labelAgentIndex = "agent-index"

// PVCService handles PersistentVolumeClaim operations for runner agents.
// PVCs provide persistent storage for agent workspaces and caches across
// pod restarts when a StorageSpec entry does not name an existing claim.
type PVCService struct {
	client client.Client
}

// NewPVCService wires a PVCService around an existing Kubernetes client.
func NewPVCService(c client.Client) *PVCService {
	return &PVCService{client: c}
}

// CreatePVC creates a PersistentVolumeClaim for one StorageSpec entry on
// agentIndex. It is a no-op, returning the existing claim, if a PVC of
// the derived name already exists.
func (s *PVCService) CreatePVC(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool, storage opentoolsmfv1.StorageSpec, agentIndex int) (*corev1.PersistentVolumeClaim, error) {
	name := pvcName(runnerPool.Name, storage.Name, agentIndex)

	existing := &corev1.PersistentVolumeClaim{}
	err := s.client.Get(ctx, client.ObjectKey{Namespace: runnerPool.Namespace, Name: name}, existing)
	if err == nil {
		return existing, nil
	}
	if !apierrors.IsNotFound(err) {
		return nil, fmt.Errorf("kubernetes: get pvc %s: %w", name, err)
	}

	quantity, err := resource.ParseQuantity(storage.Size)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: parse storage size %q for %s: %w", storage.Size, name, err)
	}

	pvc := &corev1.PersistentVolumeClaim{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: runnerPool.Namespace,
			Labels: map[string]string{
				labelRunnerPool: runnerPool.Name,
				labelAgentIndex: strconv.Itoa(agentIndex),
			},
		},
		Spec: corev1.PersistentVolumeClaimSpec{
			AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
			Resources: corev1.VolumeResourceRequirements{
				Requests: corev1.ResourceList{corev1.ResourceStorage: quantity},
			},
		},
	}
	if storage.StorageClass != "" {
		pvc.Spec.StorageClassName = &storage.StorageClass
	}

	if storage.DeleteWithAgents {
		if err := controllerutil.SetControllerReference(runnerPool, pvc, s.client.Scheme()); err != nil {
			return nil, fmt.Errorf("kubernetes: set owner reference on pvc %s: %w", name, err)
		}
	}

	if err := s.client.Create(ctx, pvc); err != nil {
		return nil, fmt.Errorf("kubernetes: create pvc %s: %w", name, err)
	}
	return pvc, nil
}

// DeletePVC deletes a PVC by name. A 404 is treated as success.
func (s *PVCService) DeletePVC(ctx context.Context, namespace, name string) error {
	pvc := &corev1.PersistentVolumeClaim{ObjectMeta: metav1.ObjectMeta{Namespace: namespace, Name: name}}
	if err := s.client.Delete(ctx, pvc); err != nil {
		if apierrors.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("kubernetes: delete pvc %s/%s: %w", namespace, name, err)
	}
	return nil
}

// GetPVCsForAgent lists PVCs belonging to runnerPool at agentIndex.
func (s *PVCService) GetPVCsForAgent(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool, agentIndex int) ([]corev1.PersistentVolumeClaim, error) {
	var list corev1.PersistentVolumeClaimList
	err := s.client.List(ctx, &list,
		client.InNamespace(runnerPool.Namespace),
		client.MatchingLabels{labelRunnerPool: runnerPool.Name, labelAgentIndex: strconv.Itoa(agentIndex)},
	)
	if err != nil {
		return nil, fmt.Errorf("kubernetes: list pvcs for pool %s index %d: %w", runnerPool.Name, agentIndex, err)
	}
	return list.Items, nil
}

func pvcName(poolName, storageName string, agentIndex int) string {
	return fmt.Sprintf("%s-%s-%d", poolName, storageName, agentIndex)
}
