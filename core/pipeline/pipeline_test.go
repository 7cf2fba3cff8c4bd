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

package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sensornode/orchestra/core/component"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/recovery"
	"github.com/sensornode/orchestra/core/service"
	"github.com/sensornode/orchestra/core/sm"
)

func newSpec(id string, deps ...string) service.ServiceSpec {
	return service.ServiceSpec{
		ID:        id,
		DependsOn: deps,
		StartCmd:  "start " + id,
		StopCmd:   "stop " + id,
		HealthCheck: service.HealthCheck{
			Command:     "check " + id,
			MaxAttempts: 2,
			Interval:    time.Millisecond,
			Timeout:     time.Second,
		},
	}
}

type fixture struct {
	mock     *executor.MockExecutor
	fleet    *component.Fleet
	pipeline *Pipeline
}

func setup(specs []service.ServiceSpec, opts Options) fixture {
	mock := executor.NewMockExecutor()
	plan, err := graph.Plan(specs)
	Expect(err).NotTo(HaveOccurred())
	fleet := component.NewFleet(specs)
	prober := health.NewProber(mock)
	rec := recovery.NewManager(mock, prober, recovery.Options{MaxRestarts: 2, CommandTimeout: time.Second})
	if opts.CommandTimeout == 0 {
		opts.CommandTimeout = time.Second
	}
	return fixture{
		mock:     mock,
		fleet:    fleet,
		pipeline: New(mock, fleet, plan, prober, rec, opts),
	}
}

func path(e *sm.Entity) []sm.State {
	var out []sm.State
	for _, t := range e.History() {
		out = append(out, t.To)
	}
	return out
}

func indexOf(lines []string, line string) int {
	for i, l := range lines {
		if l == line {
			return i
		}
	}
	return -1
}

var _ = Describe("Pipeline", func() {
	ctx := context.Background()

	When("every service becomes healthy", func() {
		It("walks all phases to DEPLOYED and starts batches in dependency order", func() {
			f := setup([]service.ServiceSpec{newSpec("C", "A", "B"), newSpec("B", "A"), newSpec("A")}, Options{
				Phases: Phases{
					Prereqs:      []PhaseCommand{{Name: "docker", Line: "docker info"}},
					Dependencies: []PhaseCommand{{Name: "packages", Line: "apt-get install -y jq", Elevated: true}},
				},
				Uploads: []Upload{{Local: "./stack", Remote: "/opt/stack", Dir: true}},
			})

			Expect(f.pipeline.Run(ctx)).To(Succeed())
			Expect(f.pipeline.Current()).To(Equal(sm.DEPLOYED))
			Expect(path(f.pipeline.Entity)).To(Equal([]sm.State{
				sm.CHECKING_PREREQ, sm.PREREQ_OK,
				sm.INSTALLING_DEPS, sm.DEPS_INSTALLED,
				sm.BUILDING_IMAGES, sm.IMAGES_BUILT,
				sm.STARTING_SERVICES, sm.SERVICES_STARTED,
				sm.VERIFYING_HEALTH, sm.HEALTH_OK, sm.DEPLOYED,
			}))
			Expect(f.fleet.States()).To(Equal([]sm.State{sm.HEALTHY, sm.HEALTHY, sm.HEALTHY}))
			Expect(f.mock.Uploads()).To(HaveKeyWithValue("/opt/stack/", "./stack"))

			var lines []string
			for _, c := range f.mock.Calls() {
				lines = append(lines, c.Line)
			}
			Expect(indexOf(lines, "docker info")).To(BeNumerically("<", indexOf(lines, "apt-get install -y jq")))
			Expect(indexOf(lines, "check A")).To(BeNumerically("<", indexOf(lines, "start B")))
			Expect(indexOf(lines, "check B")).To(BeNumerically("<", indexOf(lines, "start C")))
			Expect(f.pipeline.Attempts()).To(Equal(1))
		})
	})

	When("verification keeps failing with two attempts allowed", func() {
		It("aborts naming VERIFYING_HEALTH", func() {
			f := setup([]service.ServiceSpec{newSpec("sensor")}, Options{
				MaxAttempts: 2,
				Policy:      service.BEST_EFFORT,
			})
			f.mock.On("check sensor", executor.FailWith(1))

			err := f.pipeline.Run(ctx)
			var aborted *DeploymentAborted
			Expect(errors.As(err, &aborted)).To(BeTrue())
			Expect(aborted.Phase).To(Equal(sm.VERIFYING_HEALTH))
			Expect(aborted.Attempts).To(Equal(2))
			Expect(aborted.Canceled).To(BeFalse())
			Expect(aborted.FailedComponents()).To(Equal([]string{"sensor"}))
			Expect(aborted.Report()).To(ContainSubstring("failing phase: VERIFYING_HEALTH"))
			Expect(f.pipeline.Current()).To(Equal(sm.ABORTED))

			Expect(f.mock.CallLines("start sensor")).To(HaveLen(2))
			Expect(f.mock.CallLines("stop sensor")).To(HaveLen(1))
			Expect(path(f.pipeline.Entity)).To(ContainElement(sm.RETRYING))
		})
	})

	When("a regression is fixed by the pipeline retry", func() {
		It("deploys on the second round", func() {
			f := setup([]service.ServiceSpec{newSpec("api")}, Options{MaxAttempts: 2})
			f.mock.On("check api",
				executor.Succeed(),
				executor.FailWith(1), executor.FailWith(1),
				executor.Succeed())

			Expect(f.pipeline.Run(ctx)).To(Succeed())
			Expect(f.pipeline.Attempts()).To(Equal(2))
			Expect(f.fleet.States()).To(Equal([]sm.State{sm.HEALTHY}))
		})
	})

	When("a dependency never becomes healthy under the strict policy", func() {
		It("never starts its dependents and aborts in STARTING_SERVICES", func() {
			f := setup([]service.ServiceSpec{newSpec("db"), newSpec("api", "db")}, Options{MaxAttempts: 1})
			f.mock.On("check db", executor.FailWith(2))

			err := f.pipeline.Run(ctx)
			var aborted *DeploymentAborted
			Expect(errors.As(err, &aborted)).To(BeTrue())
			Expect(aborted.Phase).To(Equal(sm.STARTING_SERVICES))
			Expect(aborted.ComponentErrors).To(HaveKey("db"))
			Expect(f.mock.CallLines("start api")).To(BeEmpty())

			db, _ := f.fleet.Get("db")
			api, _ := f.fleet.Get("api")
			Expect(db.Current()).To(Equal(sm.ERROR))
			Expect(api.Current()).To(Equal(sm.PENDING))
		})
	})

	When("a dependency is merely slow under the best-effort policy", func() {
		It("starts the next batch with the dependency RUNNING", func() {
			f := setup([]service.ServiceSpec{newSpec("db"), newSpec("api", "db")}, Options{Policy: service.BEST_EFFORT})
			f.mock.On("check db", executor.FailWith(1), executor.FailWith(1), executor.Succeed())

			Expect(f.pipeline.Run(ctx)).To(Succeed())
			Expect(f.mock.CallLines("start api")).To(HaveLen(1))
			Expect(f.fleet.States()).To(Equal([]sm.State{sm.HEALTHY, sm.HEALTHY}))
		})
	})

	When("a start command fails", func() {
		It("blocks the batch even under the best-effort policy", func() {
			f := setup([]service.ServiceSpec{newSpec("db"), newSpec("api", "db")}, Options{
				MaxAttempts: 1,
				Policy:      service.BEST_EFFORT,
			})
			f.mock.On("start db", executor.FailWith(125))

			err := f.pipeline.Run(ctx)
			var aborted *DeploymentAborted
			Expect(errors.As(err, &aborted)).To(BeTrue())
			Expect(aborted.Phase).To(Equal(sm.STARTING_SERVICES))
			Expect(f.mock.CallLines("start api")).To(BeEmpty())

			var rErr *executor.RemoteExecutionError
			Expect(errors.As(err, &rErr)).To(BeTrue())
		})
	})

	When("a prerequisite check fails", func() {
		It("aborts before touching any service", func() {
			f := setup([]service.ServiceSpec{newSpec("db")}, Options{
				CommandRetries: 2,
				RetryInterval:  time.Millisecond,
				Phases:         Phases{Prereqs: []PhaseCommand{{Name: "docker", Line: "docker info"}}},
			})
			f.mock.On("docker info", executor.FailWith(1))

			err := f.pipeline.Run(ctx)
			var aborted *DeploymentAborted
			Expect(errors.As(err, &aborted)).To(BeTrue())
			Expect(aborted.Phase).To(Equal(sm.CHECKING_PREREQ))
			Expect(aborted.Attempts).To(BeZero())
			Expect(f.mock.CallLines("docker info")).To(HaveLen(2))
			Expect(f.mock.CallLines("start *")).To(BeEmpty())
			Expect(path(f.pipeline.Entity)).To(Equal([]sm.State{sm.CHECKING_PREREQ, sm.PREREQ_FAILED, sm.ABORTED}))
		})
	})

	When("the operator cancels during startup", func() {
		It("halts batch progression and leaves started services in place", func() {
			f := setup([]service.ServiceSpec{newSpec("db"), newSpec("api", "db")}, Options{})
			f.mock.On("check db", executor.Hang(time.Minute))

			cctx, cancel := context.WithCancel(ctx)
			go func() {
				defer GinkgoRecover()
				Eventually(func() []string { return f.mock.CallLines("check db") }).ShouldNot(BeEmpty())
				cancel()
			}()

			err := f.pipeline.Run(cctx)
			var aborted *DeploymentAborted
			Expect(errors.As(err, &aborted)).To(BeTrue())
			Expect(aborted.Canceled).To(BeTrue())
			Expect(aborted.Phase).To(Equal(sm.STARTING_SERVICES))
			Expect(strings.ToLower(aborted.Error())).To(ContainSubstring("cancelled"))
			Expect(f.mock.CallLines("start api")).To(BeEmpty())

			db, _ := f.fleet.Get("db")
			Expect(db.Current()).To(Equal(sm.RUNNING))
		})
	})
})
