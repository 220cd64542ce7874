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

package main

import (
	"crypto/tls"
	"flag"
	"os"

	// +kubebuilder:scaffold:imports

	"github.com/spf13/pflag"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/healthz"
	metricsserver "sigs.k8s.io/controller-runtime/pkg/metrics/server"
	"sigs.k8s.io/controller-runtime/pkg/webhook"
	"sigs.k8s.io/controller-runtime/pkg/log/zap"

	opentoolsmfv1 "github.com/opentools-mf/azdo-runner-operator/api/v1"
	"github.com/opentools-mf/azdo-runner-operator/internal/azdo"
	"github.com/opentools-mf/azdo-runner-operator/internal/config"
	"github.com/opentools-mf/azdo-runner-operator/internal/controller"
	"github.com/opentools-mf/azdo-runner-operator/internal/kubernetes"
	"github.com/opentools-mf/azdo-runner-operator/internal/planner"
	"github.com/opentools-mf/azdo-runner-operator/internal/registry"
	"github.com/opentools-mf/azdo-runner-operator/internal/scheduler"
	"github.com/opentools-mf/azdo-runner-operator/internal/status"
	"github.com/opentools-mf/azdo-runner-operator/internal/sweeper"
	webhookv1 "github.com/opentools-mf/azdo-runner-operator/internal/webhook/v1"
)

var (
	scheme   = runtime.NewScheme()
	setupLog = ctrl.Log.WithName("setup")
)

func init() {
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))
	utilruntime.Must(opentoolsmfv1.AddToScheme(scheme))
	// +kubebuilder:scaffold:scheme
}

func main() {
	cfg := config.Default()

	fs := pflag.NewFlagSet("azdo-runner-operator", pflag.ExitOnError)
	cfg.BindFlags(fs)

	zapOpts := zap.Options{Development: false}
	goFlagSet := flag.NewFlagSet("zap", flag.ContinueOnError)
	zapOpts.BindFlags(goFlagSet)
	fs.AddGoFlagSet(goFlagSet)

	if err := fs.Parse(os.Args[1:]); err != nil {
		setupLog.Error(err, "failed to parse flags")
		os.Exit(1)
	}

	ctrl.SetLogger(zap.New(zap.UseFlagOptions(&zapOpts)))

	planner.RegistrationGracePeriod = cfg.RegistrationGracePeriod
	azdo.HTTPTimeout = cfg.HTTPTimeout
	status.MaxConflictRetries = cfg.MaxStatusConflictRetries

	var tlsOpts []func(*tls.Config)
	if !cfg.EnableHTTP2 {
		tlsOpts = append(tlsOpts, func(c *tls.Config) {
			c.NextProtos = []string{"http/1.1"}
		})
	}

	webhookServer := webhook.NewServer(webhook.Options{TLSOpts: tlsOpts})

	mgr, err := ctrl.NewManager(ctrl.GetConfigOrDie(), ctrl.Options{
		Scheme: scheme,
		Metrics: metricsserver.Options{
			BindAddress:   cfg.MetricsAddr,
			SecureServing: cfg.SecureMetrics,
			TLSOpts:       tlsOpts,
		},
		WebhookServer:          webhookServer,
		HealthProbeBindAddress: cfg.ProbeAddr,
		LeaderElection:         cfg.EnableLeaderElection,
		LeaderElectionID:       "azdo-runner-operator.devops.opentools.mf",
	})
	if err != nil {
		setupLog.Error(err, "unable to start manager")
		os.Exit(1)
	}

	podService := kubernetes.NewPodService(mgr.GetClient())
	pvcService := kubernetes.NewPVCService(mgr.GetClient())
	statusWriter := status.New(mgr.GetClient())
	reg := registry.New()

	reconciler := &controller.RunnerPoolReconciler{
		Client:       mgr.GetClient(),
		Scheme:       mgr.GetScheme(),
		Registry:     reg,
		PodService:   podService,
		PVCService:   pvcService,
		StatusWriter: statusWriter,
		NewGateway:   azdo.NewGateway,
	}
	if err := reconciler.SetupWithManager(mgr); err != nil {
		setupLog.Error(err, "unable to create controller", "controller", "RunnerPool")
		os.Exit(1)
	}

	poll := scheduler.New(reg, reconciler.PollOnce)
	poll.Concurrency = cfg.PollQueueConcurrency
	if err := mgr.Add(poll); err != nil {
		setupLog.Error(err, "unable to register poll scheduler")
		os.Exit(1)
	}

	sweep := sweeper.New(reg, podService, azdo.NewGateway)
	sweep.Interval = cfg.ErrorSweepInterval
	if err := mgr.Add(sweep); err != nil {
		setupLog.Error(err, "unable to register error sweeper")
		os.Exit(1)
	}

	if cfg.EnableWebhooks {
		if err := webhookv1.SetupRunnerPoolWebhookWithManager(mgr); err != nil {
			setupLog.Error(err, "unable to create webhook", "webhook", "RunnerPool")
			os.Exit(1)
		}
	}
	// +kubebuilder:scaffold:builder

	if err := mgr.AddHealthzCheck("healthz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up health check")
		os.Exit(1)
	}
	if err := mgr.AddReadyzCheck("readyz", healthz.Ping); err != nil {
		setupLog.Error(err, "unable to set up ready check")
		os.Exit(1)
	}

	setupLog.Info("starting manager")
	if err := mgr.Start(ctrl.SetupSignalHandler()); err != nil {
		setupLog.Error(err, "problem running manager")
		os.Exit(1)
	}
}
