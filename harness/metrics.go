/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package harness

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Global metrics with consistent dimensions
	runCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_harness_runs_total",
			Help: "Total number of agent runs started",
		},
	)

	runFailureCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_harness_run_failures_total",
			Help: "Total number of agent runs that ended in an error",
		},
	)

	runTimeoutCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_harness_run_timeouts_total",
			Help: "Total number of agent runs killed by the main timeout",
		},
	)

	pushRecoveryCounter = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agent_harness_push_recoveries_total",
			Help: "Total number of pushes recovered from a remote rejection",
		},
		[]string{"method"},
	)

	pullRequestCounter = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "agent_harness_pull_requests_total",
			Help: "Total number of pull requests opened for test repositories",
		},
	)
)
