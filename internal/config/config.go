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

// Package config holds the manager's command-line-configurable settings.
package config

import (
	"time"

	"github.com/spf13/pflag"
)

// Config holds everything cmd/main.go needs to construct the manager.
type Config struct {
	MetricsAddr          string
	ProbeAddr            string
	EnableLeaderElection bool
	EnableWebhooks       bool
	SecureMetrics        bool
	EnableHTTP2          bool

	// RegistrationGracePeriod shields a freshly created pod from idle
	// and max-agent removal for this long after creation.
	RegistrationGracePeriod time.Duration
	// ErrorSweepInterval is the cadence of the stuck-pod cleanup pass.
	ErrorSweepInterval time.Duration
	// HTTPTimeout bounds every Azure DevOps round trip the Gateway makes.
	HTTPTimeout time.Duration
	// MaxStatusConflictRetries bounds how many times a status update
	// retries after a resourceVersion conflict.
	MaxStatusConflictRetries int
	// PollQueueConcurrency bounds how many due pools are polled at once
	// within a single scheduler tick.
	PollQueueConcurrency int
}

// Default returns a Config populated with the same defaults the
// kubebuilder-scaffolded flags use.
func Default() *Config {
	return &Config{
		MetricsAddr:          "0",
		ProbeAddr:            ":8081",
		EnableLeaderElection: false,
		EnableWebhooks:       true,
		SecureMetrics:        true,
		EnableHTTP2:          false,

		RegistrationGracePeriod:  2 * time.Minute,
		ErrorSweepInterval:       10 * time.Second,
		HTTPTimeout:              30 * time.Second,
		MaxStatusConflictRetries: 3,
		PollQueueConcurrency:     1,
	}
}

// BindFlags registers c's fields on fs.
func (c *Config) BindFlags(fs *pflag.FlagSet) {
	fs.StringVar(&c.MetricsAddr, "metrics-bind-address", c.MetricsAddr,
		"The address the metrics endpoint binds to. Use :8443 for HTTPS or :8080 for HTTP, or leave as 0 to disable the metrics service.")
	fs.StringVar(&c.ProbeAddr, "health-probe-bind-address", c.ProbeAddr,
		"The address the probe endpoint binds to.")
	fs.BoolVar(&c.EnableLeaderElection, "leader-elect", c.EnableLeaderElection,
		"Enable leader election for controller manager. Enabling this will ensure there is only one active controller manager.")
	fs.BoolVar(&c.EnableWebhooks, "enable-webhooks", c.EnableWebhooks, "Enable the validating and defaulting webhooks.")
	fs.BoolVar(&c.SecureMetrics, "metrics-secure", c.SecureMetrics, "If set, the metrics endpoint is served securely via HTTPS.")
	fs.BoolVar(&c.EnableHTTP2, "enable-http2", c.EnableHTTP2,
		"If set, HTTP/2 will be enabled for the metrics and webhook servers.")

	fs.DurationVar(&c.RegistrationGracePeriod, "registration-grace-period", c.RegistrationGracePeriod,
		"How long a freshly created pod is shielded from idle and max-agent removal.")
	fs.DurationVar(&c.ErrorSweepInterval, "error-sweep-interval", c.ErrorSweepInterval,
		"How often the error sweeper scans for pods stuck beyond recovery.")
	fs.DurationVar(&c.HTTPTimeout, "azure-devops-http-timeout", c.HTTPTimeout,
		"Timeout applied to every outbound Azure DevOps API call.")
	fs.IntVar(&c.MaxStatusConflictRetries, "max-status-conflict-retries", c.MaxStatusConflictRetries,
		"How many times a status update retries after a resourceVersion conflict.")
	fs.IntVar(&c.PollQueueConcurrency, "poll-queue-concurrency", c.PollQueueConcurrency,
		"How many due pools the poll scheduler may reconcile concurrently within one tick.")
}
