/*
 * === This file is part of orchestra ===
 *
 * Copyright 2025 the orchestra authors.
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU General Public License for more details.
 *
 * You should have received a copy of the GNU General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 */

// Package metrics defines the Prometheus instruments exported by the
// orchestrator's status server.
package metrics

import (
	"sync"
	"time"

	"github.com/iancoleman/strcase"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	Namespace = "orchestra"
)

var (
	TransitionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "sm",
		Name:      "transition_count",
		Help:      "The number of accepted state transitions, by entity kind and destination state.",
	}, []string{"kind", "to"})
	RejectedTransitionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "sm",
		Name:      "rejected_transition_count",
		Help:      "The number of transitions rejected by the transition table.",
	}, []string{"kind"})
	CommandCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "executor",
		Name:      "command_count",
		Help:      "The number of remote commands issued, by purpose.",
	}, []string{"type"})
	CommandErrorCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "executor",
		Name:      "command_error_count",
		Help:      "The number of remote commands that failed to run or exited non-zero.",
	}, []string{"type"})
	CommandLatency = prometheus.NewSummaryVec(prometheus.SummaryOpts{
		Namespace: Namespace,
		Subsystem: "executor",
		Name:      "command_latency",
		Help:      "Time to execute remote commands, by purpose.",
	}, []string{"type"})
	ProbeCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "health",
		Name:      "probe_count",
		Help:      "The number of completed health probes, by outcome.",
	}, []string{"service", "outcome"})
	RestartCount = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "recovery",
		Name:      "restart_count",
		Help:      "The number of recovery restart cycles, by service.",
	}, []string{"service"})
	PipelineStatus = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: Namespace,
		Subsystem: "status",
		Name:      "pipeline_status",
		Help:      "1 for the current aggregate pipeline status, 0 otherwise.",
	}, []string{"status"})
	DeploymentAttempts = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: Namespace,
		Subsystem: "pipeline",
		Name:      "deployment_attempts",
		Help:      "The number of health verification rounds run by deployment pipelines.",
	})
)

var registerMetrics sync.Once

func Register() {
	registerMetrics.Do(func() {
		prometheus.MustRegister(TransitionCount)
		prometheus.MustRegister(RejectedTransitionCount)
		prometheus.MustRegister(CommandCount)
		prometheus.MustRegister(CommandErrorCount)
		prometheus.MustRegister(CommandLatency)
		prometheus.MustRegister(ProbeCount)
		prometheus.MustRegister(RestartCount)
		prometheus.MustRegister(PipelineStatus)
		prometheus.MustRegister(DeploymentAttempts)
	})
}

// Label normalizes a state or status name into a metric label value.
func Label(name string) string {
	return strcase.ToSnake(name)
}

// ObserveCommand records one command execution of the given purpose.
func ObserveCommand(kind string, start time.Time, failed bool) {
	CommandCount.WithLabelValues(kind).Inc()
	CommandLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if failed {
		CommandErrorCount.WithLabelValues(kind).Inc()
	}
}

// SetPipelineStatus flips the status gauge so that only current is 1.
func SetPipelineStatus(current string, all []string) {
	for _, s := range all {
		v := 0.0
		if s == current {
			v = 1.0
		}
		PipelineStatus.WithLabelValues(Label(s)).Set(v)
	}
}
