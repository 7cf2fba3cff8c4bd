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

package recovery

import (
	"context"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sensornode/orchestra/core/component"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/service"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sensornode/orchestra/core/status"
)

func newSpec(id string) service.ServiceSpec {
	return service.ServiceSpec{
		ID:       id,
		StartCmd: "start " + id,
		StopCmd:  "stop " + id,
		HealthCheck: service.HealthCheck{
			Command:     "check " + id,
			MaxAttempts: 2,
			Interval:    time.Millisecond,
			Timeout:     time.Second,
		},
	}
}

var _ = Describe("Manager", func() {
	var (
		ctx     = context.Background()
		mock    *executor.MockExecutor
		manager *Manager
		prober  *health.Prober
	)

	BeforeEach(func() {
		mock = executor.NewMockExecutor()
		prober = health.NewProber(mock)
		manager = NewManager(mock, prober, Options{MaxRestarts: 2, CommandTimeout: time.Second})
	})

	// bringUp starts c and applies the first probe the way deployment does.
	bringUp := func(c *component.Component) {
		Expect(c.Start(ctx, mock, time.Second)).To(Succeed())
		report := prober.Probe(ctx, c.Spec, health.PolicyFor(c.Spec.HealthCheck, 1))
		if report.Healthy {
			Expect(c.Apply(sm.HEALTHY, "probe")).To(Succeed())
		} else {
			Expect(c.Fail(sm.UNHEALTHY, "probe", report.Err)).To(Succeed())
		}
	}

	When("a health check fails twice and the restart fixes it", func() {
		It("ends HEALTHY after one restart and the pipeline is OK", func() {
			mock.On("check B", executor.FailWith(1), executor.FailWith(1), executor.Succeed())
			fleet := component.NewFleet([]service.ServiceSpec{newSpec("A"), newSpec("B")})
			a, _ := fleet.Get("A")
			b, _ := fleet.Get("B")
			bringUp(a)
			bringUp(b)
			Expect(b.Current()).To(Equal(sm.UNHEALTHY))
			Expect(status.Reduce(fleet.States())).To(Equal(status.DEGRADED))

			state, err := manager.Recover(ctx, b)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(sm.HEALTHY))
			Expect(manager.Used("B")).To(Equal(1))
			Expect(mock.CallLines("stop B")).To(HaveLen(1))
			Expect(mock.CallLines("start B")).To(HaveLen(2))
			Expect(b.LastError()).To(BeNil())
			Expect(status.Reduce(fleet.States())).To(Equal(status.OK))
		})
	})

	When("the health check never passes", func() {
		It("ends in ERROR after spending the budget and is never restarted again", func() {
			mock.On("check db", executor.FailWith(1))
			c := component.New(newSpec("db"))
			bringUp(c)

			state, err := manager.Settle(ctx, c)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(sm.ERROR))
			Expect(manager.Exhausted("db")).To(BeTrue())
			Expect(mock.CallLines("stop db")).To(HaveLen(2))
			Expect(mock.CallLines("check db")).To(HaveLen(2 * 3))

			calls := len(mock.Calls())
			state, err = manager.Recover(ctx, c)
			Expect(err).NotTo(HaveOccurred())
			Expect(state).To(Equal(sm.ERROR))
			Expect(mock.Calls()).To(HaveLen(calls))

			var path []sm.State
			for _, t := range c.History() {
				path = append(path, t.To)
			}
			Expect(path).To(Equal([]sm.State{
				sm.STARTING, sm.RUNNING, sm.UNHEALTHY,
				sm.RESTARTING, sm.DEGRADED,
				sm.RESTARTING, sm.ERROR,
			}))
		})
	})

	It("keeps failures isolated between components", func() {
		mock.On("check bad", executor.FailWith(1))
		bad := component.New(newSpec("bad"))
		good := component.New(newSpec("good"))
		bringUp(bad)
		Expect(good.Start(ctx, mock, time.Second)).To(Succeed())
		Expect(good.Fail(sm.UNHEALTHY, "flaky", nil)).To(Succeed())

		_, err := manager.Settle(ctx, bad)
		Expect(err).NotTo(HaveOccurred())
		Expect(bad.Current()).To(Equal(sm.ERROR))

		state, err := manager.Recover(ctx, good)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(sm.HEALTHY))
		Expect(manager.Remaining("good")).To(Equal(1))
	})

	It("moves a component straight to ERROR when the budget is already spent", func() {
		mock.On("check x", executor.FailWith(1))
		c := component.New(newSpec("x"))
		bringUp(c)
		_, _ = manager.consume("x")
		_, _ = manager.consume("x")

		state, err := manager.Recover(ctx, c)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(sm.ERROR))
		Expect(mock.CallLines("stop x")).To(BeEmpty())
	})

	It("ignores components that do not need recovery", func() {
		c := component.New(newSpec("idle"))
		state, err := manager.Recover(ctx, c)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(sm.PENDING))
		Expect(mock.Calls()).To(BeEmpty())
	})

	It("restarts on operator request without touching the budget", func() {
		c := component.New(newSpec("api"))
		bringUp(c)
		Expect(c.Current()).To(Equal(sm.HEALTHY))

		state, err := manager.Restart(ctx, c)
		Expect(err).NotTo(HaveOccurred())
		Expect(state).To(Equal(sm.HEALTHY))
		Expect(manager.Used("api")).To(BeZero())

		_, err = manager.Restart(ctx, component.New(newSpec("fresh")))
		Expect(err).To(BeAssignableToTypeOf(sm.InvalidTransitionError{}))
	})

	It("stops settling when the context is cancelled", func() {
		mock.On("check slow", executor.FailWith(1))
		m := NewManager(mock, prober, Options{MaxRestarts: 10, RestartInterval: time.Hour})
		c := component.New(newSpec("slow"))
		bringUp(c)

		cctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		_, err := m.Settle(cctx, c)
		Expect(err).To(MatchError(context.DeadlineExceeded))
		Expect(m.Used("slow")).To(Equal(1))
	})
})
