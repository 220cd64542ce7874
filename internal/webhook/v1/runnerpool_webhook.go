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

package v1

import (
	"context"
	"fmt"
	"net/url"
	"strings"

	"k8s.io/apimachinery/pkg/runtime"
	ctrl "sigs.k8s.io/controller-runtime"
	logf "sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/webhook/admission"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
)

// nolint:unused
// log is for logging in this package.
var runnerpoollog = logf.Log.WithName("runnerpool-resource")

// SetupRunnerPoolWebhookWithManager registers the webhook for RunnerPool in the manager.
func SetupRunnerPoolWebhookWithManager(mgr ctrl.Manager) error {
	return ctrl.NewWebhookManagedBy(mgr).For(&opentoolsmfv1.RunnerPool{}).
		WithValidator(&RunnerPoolCustomValidator{}).
		WithDefaulter(&RunnerPoolCustomDefaulter{}).
		Complete()
}

// TODO(user): EDIT THIS FILE!  THIS IS SCAFFOLDING FOR YOU TO OWN!

// +kubebuilder:webhook:path=/mutate-devops-opentools-mf-v1-runnerpool,mutating=true,failurePolicy=fail,sideEffects=None,groups=devops.opentools.mf,resources=runnerpools,verbs=create;update,versions=v1,name=mrunnerpool-v1.kb.io,admissionReviewVersions=v1

// RunnerPoolCustomDefaulter struct is responsible for setting default values on the custom resource of the
// Kind RunnerPool when those are created or updated.
//
// NOTE: The +kubebuilder:object:generate=false marker prevents controller-gen from generating DeepCopy methods,
// as it is used only for temporary operations and does not need to be deeply copied.
// +kubebuilder:object:generate=false
type RunnerPoolCustomDefaulter struct {
	// TODO(user): Add more fields as needed for defaulting
}

var _ webhook.CustomDefaulter = &RunnerPoolCustomDefaulter{}

// Default implements webhook.CustomDefaulter so a webhook will be registered for the Kind RunnerPool.
func (d *RunnerPoolCustomDefaulter) Default(ctx context.Context, obj runtime.Object) error {
	runnerpool, ok := obj.(*opentoolsmfv1.RunnerPool)

	if !ok {
		return fmt.Errorf("expected an RunnerPool object but got %T", obj)
	}
	runnerpoollog.Info("Defaulting for RunnerPool", "name", runnerpool.GetName())

	if runnerpool.Spec.MaxAgents == 0 {
		runnerpool.Spec.MaxAgents = 10
	}
	if runnerpool.Spec.ImagePullPolicy == "" {
		runnerpool.Spec.ImagePullPolicy = "IfNotPresent"
	}
	if runnerpool.Spec.PollIntervalSeconds == 0 {
		runnerpool.Spec.PollIntervalSeconds = 5
	}
	if runnerpool.Spec.SecurityContext.RunAsUser == 0 {
		runnerpool.Spec.SecurityContext.RunAsUser = 1001
	}
	if runnerpool.Spec.SecurityContext.RunAsGroup == 0 {
		runnerpool.Spec.SecurityContext.RunAsGroup = 1001
	}

	return nil
}

// TODO(user): change verbs to "verbs=create;update;delete" if you want to enable deletion validation.
// NOTE: The 'path' attribute must follow a specific pattern and should not be modified directly here.
// Modifying the path for an invalid path can cause API server errors; failing to locate the webhook.
// +kubebuilder:webhook:path=/validate-devops-opentools-mf-v1-runnerpool,mutating=false,failurePolicy=fail,sideEffects=None,groups=devops.opentools.mf,resources=runnerpools,verbs=create;update,versions=v1,name=vrunnerpool-v1.kb.io,admissionReviewVersions=v1

// RunnerPoolCustomValidator struct is responsible for validating the RunnerPool resource
// when it is created, updated, or deleted.
//
// NOTE: The +kubebuilder:object:generate=false marker prevents controller-gen from generating DeepCopy methods,
// as this struct is used only for temporary operations and does not need to be deeply copied.
// +kubebuilder:object:generate=false
type RunnerPoolCustomValidator struct {
	// TODO(user): Add more fields as needed for validation
}

var _ webhook.CustomValidator = &RunnerPoolCustomValidator{}

// ValidateCreate implements webhook.CustomValidator so a webhook will be registered for the type RunnerPool.
func (v *RunnerPoolCustomValidator) ValidateCreate(
	ctx context.Context,
	obj runtime.Object,
) (admission.Warnings, error) {
	runnerpool, ok := obj.(*opentoolsmfv1.RunnerPool)
	if !ok {
		return nil, fmt.Errorf("expected a RunnerPool object but got %T", obj)
	}
	runnerpoollog.Info("Validation for RunnerPool upon creation", "name", runnerpool.GetName())

	return nil, validateRunnerPool(runnerpool)
}

// ValidateUpdate implements webhook.CustomValidator so a webhook will be registered for the type RunnerPool.
func (v *RunnerPoolCustomValidator) ValidateUpdate(
	ctx context.Context,
	oldObj, newObj runtime.Object,
) (admission.Warnings, error) {
	runnerpool, ok := newObj.(*opentoolsmfv1.RunnerPool)
	if !ok {
		return nil, fmt.Errorf("expected a RunnerPool object for the newObj but got %T", newObj)
	}
	runnerpoollog.Info("Validation for RunnerPool upon update", "name", runnerpool.GetName())

	return nil, validateRunnerPool(runnerpool)
}

// ValidateDelete implements webhook.CustomValidator so a webhook will be registered for the type RunnerPool.
func (v *RunnerPoolCustomValidator) ValidateDelete(
	ctx context.Context,
	obj runtime.Object,
) (admission.Warnings, error) {
	runnerpool, ok := obj.(*opentoolsmfv1.RunnerPool)
	if !ok {
		return nil, fmt.Errorf("expected a RunnerPool object but got %T", obj)
	}
	runnerpoollog.Info("Validation for RunnerPool upon deletion", "name", runnerpool.GetName())

	return nil, nil
}

func validateRunnerPool(rp *opentoolsmfv1.RunnerPool) error {
	if err := validateAzURL(rp.Spec.AzURL); err != nil {
		return err
	}
	if rp.Spec.Pool == "" {
		return fmt.Errorf("pool is required")
	}
	if rp.Spec.PATSecretName == "" {
		return fmt.Errorf("patSecretName is required")
	}
	if rp.Spec.Image == "" {
		return fmt.Errorf("image is required")
	}
	if rp.Spec.MaxAgents <= 0 {
		return fmt.Errorf("maxAgents must be greater than 0")
	}
	if rp.Spec.MinAgents < 0 {
		return fmt.Errorf("minAgents must be >= 0")
	}
	if rp.Spec.MinAgents > rp.Spec.MaxAgents {
		return fmt.Errorf("minAgents (%d) must not exceed maxAgents (%d)", rp.Spec.MinAgents, rp.Spec.MaxAgents)
	}
	if rp.Spec.PollIntervalSeconds != 0 && rp.Spec.PollIntervalSeconds < 5 {
		return fmt.Errorf("pollIntervalSeconds must be >= 5")
	}
	for i, env := range rp.Spec.ExtraEnv {
		if env.Name == "" {
			return fmt.Errorf("extraEnv[%d].name is required", i)
		}
		if env.Value == nil && env.ValueFrom == nil {
			return fmt.Errorf("extraEnv[%d]: either value or valueFrom is required", i)
		}
	}
	for i, storage := range rp.Spec.Storage {
		if storage.Name == "" {
			return fmt.Errorf("storage[%d].name is required", i)
		}
		if storage.MountPath == "" {
			return fmt.Errorf("storage[%d].mountPath is required", i)
		}
		if storage.ClaimName == "" && storage.Size == "" {
			return fmt.Errorf("storage[%d]: either claimName or size is required", i)
		}
	}
	for i, cert := range rp.Spec.SecretTrustStore {
		if cert.SecretName == "" {
			return fmt.Errorf("certTrustStore[%d].secretName is required", i)
		}
	}
	return nil
}

func validateAzURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("azUrl is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("azUrl must be a valid URL: %w", err)
	}
	if parsed.Scheme != "https" {
		return fmt.Errorf("azUrl must use https")
	}
	if strings.TrimSuffix(parsed.Path, "/") == "" {
		return fmt.Errorf("azUrl must include an organization or collection path segment")
	}
	return nil
}
