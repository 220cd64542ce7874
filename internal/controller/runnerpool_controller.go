/*
Copyright 2025 mahmoudk1000.

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

// Package controller contains the core reconciliation logic for the operator.
// The reconciler watches RunnerPool resources, registers them with the poll
// scheduler, and handles finalization; the actual Azure DevOps/Kubernetes
// convergence work happens in PollOnce, called both here (immediately, on
// first sight of a pool) and repeatedly by the PollScheduler.
package controller

import (
	"context"
	"fmt"
	"time"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/log"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
	"github.com/opentools-mf/azdo-runner-operator/internal/azdo"
	"github.com/opentools-mf/azdo-runner-operator/internal/executor"
	"github.com/opentools-mf/azdo-runner-operator/internal/kubernetes"
	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
	"github.com/opentools-mf/azdo-runner-operator/internal/registry"
	"github.com/opentools-mf/azdo-runner-operator/internal/status"
)

var finalizer = opentoolsmfv1.GroupVersion.Group + "/finalizer"

// RunnerPoolReconciler reconciles a RunnerPool object. It owns the
// RunnerPool watch, finalization, and first-sight registration; the
// recurring poll/plan/execute/status cycle lives in PollOnce so the
// PollScheduler can drive it independent of watch events.
type RunnerPoolReconciler struct {
	client.Client
	Scheme *runtime.Scheme

	Registry     *registry.Registry
	PodService   *kubernetes.PodService
	PVCService   *kubernetes.PVCService
	StatusWriter *status.Writer
	NewGateway   func(azURL, pat string) (*azdo.Gateway, error)
}

// +kubebuilder:rbac:groups=devops.opentools.mf,resources=runnerpools,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=devops.opentools.mf,resources=runnerpools/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=devops.opentools.mf,resources=runnerpools/finalizers,verbs=update
// +kubebuilder:rbac:groups="",resources=pods,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=persistentvolumeclaims,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=secrets,verbs=get;list;watch

// Reconcile registers or removes runnerPool from the poll scheduler and
// handles deletion. It deliberately does not run the poll cycle itself
// on every watch event — PollScheduler owns that cadence — except for a
// first synchronous pass so a freshly created pool doesn't wait a full
// tick to see its first agents.
func (r *RunnerPoolReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	var runnerPool opentoolsmfv1.RunnerPool
	if err := r.Get(ctx, req.NamespacedName, &runnerPool); err != nil {
		if apierrors.IsNotFound(err) {
			r.Registry.Remove(req.Namespace, req.Name)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, err
	}

	if !runnerPool.DeletionTimestamp.IsZero() {
		return r.finalize(ctx, &runnerPool)
	}

	if controllerutil.AddFinalizer(&runnerPool, finalizer) {
		if err := r.Update(ctx, &runnerPool); err != nil {
			return ctrl.Result{}, fmt.Errorf("add finalizer: %w", err)
		}
	}

	pat, err := r.getPATToken(ctx, &runnerPool)
	if err != nil {
		logger.Error(err, "failed to read PAT secret", "secret", runnerPool.Spec.PATSecretName)
		r.writeErrorStatus(ctx, req.NamespacedName, err)
		return ctrl.Result{RequeueAfter: 30 * time.Second}, nil
	}

	pollInterval := runnerPool.Spec.PollIntervalSeconds
	if pollInterval < 5 {
		pollInterval = 5
	}
	firstSight := true
	for _, e := range r.Registry.Snapshot() {
		if e.Namespace == runnerPool.Namespace && e.Name == runnerPool.Name {
			firstSight = false
			break
		}
	}
	r.Registry.Upsert(runnerPool.Namespace, runnerPool.Name, toPoolSpec(&runnerPool), pat, runnerPool.Spec.AzURL, pollInterval)

	if firstSight {
		if err := r.PollOnce(ctx, runnerPool.Namespace, runnerPool.Name); err != nil {
			logger.Error(err, "initial poll failed; the scheduler will retry")
		}
	}

	return ctrl.Result{RequeueAfter: 5 * time.Minute}, nil
}

// PollOnce runs one full reconcile pass for a single registered pool:
// fetch Azure DevOps + pod state, plan, execute, write status. It is the
// function both Reconcile's first-sight pass and the PollScheduler call.
func (r *RunnerPoolReconciler) PollOnce(ctx context.Context, namespace, name string) error {
	logger := log.FromContext(ctx).WithValues("namespace", namespace, "name", name)
	key := client.ObjectKey{Namespace: namespace, Name: name}

	var runnerPool opentoolsmfv1.RunnerPool
	if err := r.Get(ctx, key, &runnerPool); err != nil {
		if apierrors.IsNotFound(err) {
			r.Registry.Remove(namespace, name)
			return nil
		}
		return fmt.Errorf("poll: get runnerpool: %w", err)
	}

	entries := r.Registry.Snapshot()
	pat := ""
	for _, e := range entries {
		if e.Namespace == namespace && e.Name == name {
			pat = e.PAT
			break
		}
	}
	if pat == "" {
		var err error
		pat, err = r.getPATToken(ctx, &runnerPool)
		if err != nil {
			r.writeErrorStatus(ctx, key, err)
			return err
		}
	}

	gateway, err := r.NewGateway(runnerPool.Spec.AzURL, pat)
	if err != nil {
		r.writeErrorStatus(ctx, key, err)
		return fmt.Errorf("poll: build gateway: %w", err)
	}
	defer gateway.Close()

	var pods []corev1.Pod
	var podsErr error
	podsDone := make(chan struct{})
	go func() {
		defer close(podsDone)
		pods, podsErr = r.PodService.ListAll(ctx, &runnerPool)
	}()

	poolID, agents, jobs, err := gateway.FetchAgentsAndJobs(ctx, runnerPool.Spec.Pool)
	<-podsDone
	if err != nil {
		r.writeErrorStatus(ctx, key, err)
		return fmt.Errorf("poll: fetch azure devops state: %w", err)
	}
	r.Registry.SetPoolID(namespace, name, poolID)

	if podsErr != nil {
		r.writeErrorStatus(ctx, key, podsErr)
		return fmt.Errorf("poll: list pods: %w", podsErr)
	}

	now := time.Now()
	snapshot := buildSnapshot(now, pods, agents, jobs)
	spec := toPoolSpec(&runnerPool)

	actions := planner.Plan(spec, snapshot)
	logger.V(1).Info("planned reconciliation", "actions", len(actions))

	if err := r.ensureStorage(ctx, &runnerPool); err != nil {
		logger.Error(err, "failed to ensure PVCs ahead of pod creation")
	}

	exec := executor.New(gateway, r.PodService, poolID)
	exec.Apply(ctx, &runnerPool, actions, func(ctx context.Context) (planner.Snapshot, error) {
		freshPods, err := r.PodService.ListAll(ctx, &runnerPool)
		if err != nil {
			return planner.Snapshot{}, err
		}
		freshAgents, freshJobs, err := refetchAzDoState(ctx, gateway, poolID)
		if err != nil {
			return planner.Snapshot{}, err
		}
		return buildSnapshot(time.Now(), freshPods, freshAgents, freshJobs), nil
	})

	postPods, err := r.PodService.ListAll(ctx, &runnerPool)
	if err != nil {
		postPods = pods
	}

	connected, connErr := gateway.TestConnection(ctx)
	report := status.Report{
		Connected:        connErr == nil && connected,
		OrganizationName: azdo.ExtractOrganizationName(runnerPool.Spec.AzURL),
		QueuedJobs:       azdo.CountQueued(jobs),
		RunningAgents:    countRunning(postPods),
		MaxAgents:        runnerPool.Spec.MaxAgents,
		Agents:           runningAgentSummaries(postPods),
		Err:              connErr,
	}
	if werr := r.StatusWriter.Write(ctx, key, metav1.NewTime(now), report); werr != nil {
		logger.Error(werr, "failed to write status")
	}

	return nil
}

func refetchAzDoState(ctx context.Context, gateway *azdo.Gateway, poolID int) ([]planner.Agent, []planner.JobRequest, error) {
	agents, err := gateway.ListAgents(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	jobs, err := gateway.ListJobRequests(ctx, poolID)
	if err != nil {
		return nil, nil, err
	}
	return agents, jobs, nil
}

func (r *RunnerPoolReconciler) ensureStorage(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool) error {
	for i := 0; i < runnerPool.Spec.MaxAgents; i++ {
		for _, storage := range runnerPool.Spec.Storage {
			if storage.ClaimName != "" {
				continue
			}
			if _, err := r.PVCService.CreatePVC(ctx, runnerPool, storage, i); err != nil {
				return err
			}
		}
	}
	return nil
}

// finalize deregisters every operator-managed agent and deletes every
// pod for runnerPool, then removes the finalizer so deletion proceeds.
func (r *RunnerPoolReconciler) finalize(ctx context.Context, runnerPool *opentoolsmfv1.RunnerPool) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(runnerPool, finalizer) {
		return ctrl.Result{}, nil
	}

	pat, err := r.getPATToken(ctx, runnerPool)
	if err == nil {
		if gateway, gerr := r.NewGateway(runnerPool.Spec.AzURL, pat); gerr == nil {
			if poolID, rerr := gateway.ResolvePoolID(ctx, runnerPool.Spec.Pool); rerr == nil {
				pods, _ := r.PodService.ListAll(ctx, runnerPool)
				for _, pod := range pods {
					if derr := gateway.UnregisterAgent(ctx, poolID, pod.Name); derr != nil {
						logger.Error(derr, "failed to deregister agent during finalize", "pod", pod.Name)
					}
				}
			}
			gateway.Close()
		} else {
			logger.Error(gerr, "failed to build gateway during finalize; pods will still be deleted")
		}
	} else {
		logger.Error(err, "failed to read PAT during finalize; pods will still be deleted")
	}

	pods, err := r.PodService.ListAll(ctx, runnerPool)
	if err != nil {
		logger.Error(err, "failed to list pods during finalize")
	}
	for _, pod := range pods {
		if err := r.PodService.DeletePod(ctx, pod.Namespace, pod.Name); err != nil {
			logger.Error(err, "failed to delete pod during finalize", "pod", pod.Name)
		}
	}

	r.Registry.Remove(runnerPool.Namespace, runnerPool.Name)

	controllerutil.RemoveFinalizer(runnerPool, finalizer)
	if err := r.Update(ctx, runnerPool); err != nil {
		return ctrl.Result{}, fmt.Errorf("remove finalizer: %w", err)
	}
	return ctrl.Result{}, nil
}

func (r *RunnerPoolReconciler) getPATToken(ctx context.Context, rp *opentoolsmfv1.RunnerPool) (string, error) {
	var secret corev1.Secret
	secretKey := client.ObjectKey{Name: rp.Spec.PATSecretName, Namespace: rp.Namespace}
	if err := r.Get(ctx, secretKey, &secret); err != nil {
		return "", fmt.Errorf("get PAT secret %s: %w", rp.Spec.PATSecretName, err)
	}
	token, ok := secret.Data["token"]
	if !ok {
		return "", fmt.Errorf("PAT secret %s is missing 'token' key", rp.Spec.PATSecretName)
	}
	return string(token), nil
}

func (r *RunnerPoolReconciler) writeErrorStatus(ctx context.Context, key client.ObjectKey, err error) {
	if werr := r.StatusWriter.Write(ctx, key, metav1.Now(), status.Report{Err: err}); werr != nil {
		log.FromContext(ctx).Error(werr, "failed to write error status")
	}
}

// SetupWithManager sets up the controller with the Manager.
func (r *RunnerPoolReconciler) SetupWithManager(mgr ctrl.Manager) error {
	return ctrl.NewControllerManagedBy(mgr).
		For(&opentoolsmfv1.RunnerPool{}).
		Named("runnerpool").
		Complete(r)
}
