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

package graph

import (
	"errors"
	"fmt"
	"math/rand"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sensornode/orchestra/core/service"
)

func svc(id string, deps ...string) service.ServiceSpec {
	return service.ServiceSpec{ID: id, DependsOn: deps}
}

func expectOrdered(services []service.ServiceSpec, plan *DeploymentPlan) {
	Expect(plan.Len()).To(Equal(len(services)))
	for _, s := range services {
		for _, dep := range s.DependsOn {
			Expect(plan.BatchOf(s.ID)).To(BeNumerically(">", plan.BatchOf(dep)),
				fmt.Sprintf("%s must start after %s", s.ID, dep))
		}
	}
}

var _ = Describe("Plan", func() {
	When("services form a chain", func() {
		It("puts each service in its own batch", func() {
			services := []service.ServiceSpec{svc("C", "A", "B"), svc("B", "A"), svc("A")}
			plan, err := Plan(services)
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Batches).To(Equal([][]string{{"A"}, {"B"}, {"C"}}))
			Expect(plan.ShutdownOrder()).To(Equal([][]string{{"C"}, {"B"}, {"A"}}))
		})
	})

	When("services share a dependency", func() {
		It("groups independent services in the same sorted batch", func() {
			services := []service.ServiceSpec{
				svc("dashboard", "metrics", "cache"),
				svc("sensor"),
				svc("metrics", "sensor"),
				svc("cache", "sensor"),
				svc("shipper", "sensor", "sensor"),
			}
			plan, err := Plan(services)
			Expect(err).NotTo(HaveOccurred())
			Expect(plan.Batches).To(Equal([][]string{
				{"sensor"},
				{"cache", "metrics", "shipper"},
				{"dashboard"},
			}))
			Expect(plan.IDs()).To(HaveLen(5))
			Expect(plan.BatchOf("nope")).To(Equal(-1))
			Expect(plan.String()).To(Equal("[sensor] -> [cache metrics shipper] -> [dashboard]"))
		})
	})

	When("the graph is a random DAG", func() {
		It("always places dependencies in earlier batches", func() {
			r := rand.New(rand.NewSource(42))
			for round := 0; round < 20; round++ {
				n := 2 + r.Intn(15)
				services := make([]service.ServiceSpec, n)
				for i := 0; i < n; i++ {
					var deps []string
					for j := 0; j < i; j++ {
						if r.Intn(3) == 0 {
							deps = append(deps, fmt.Sprintf("s%02d", j))
						}
					}
					services[i] = svc(fmt.Sprintf("s%02d", i), deps...)
				}
				r.Shuffle(n, func(i, j int) { services[i], services[j] = services[j], services[i] })

				plan, err := Plan(services)
				Expect(err).NotTo(HaveOccurred())
				expectOrdered(services, plan)
			}
		})
	})

	When("the graph has a cycle", func() {
		It("fails with the same sorted offending set every time", func() {
			services := []service.ServiceSpec{
				svc("root"),
				svc("b", "a"),
				svc("a", "c", "root"),
				svc("c", "b"),
				svc("leaf", "c"),
			}
			for i := 0; i < 5; i++ {
				_, err := Plan(services)
				var cyclic CyclicDependencyError
				Expect(errors.As(err, &cyclic)).To(BeTrue())
				Expect(cyclic.IDs).To(Equal([]string{"a", "b", "c", "leaf"}))
			}
		})

		It("detects self dependencies", func() {
			_, err := Plan([]service.ServiceSpec{svc("x", "x")})
			Expect(err).To(MatchError(CyclicDependencyError{IDs: []string{"x"}}))
		})
	})

	It("rejects unknown dependencies and duplicate ids", func() {
		_, err := Plan([]service.ServiceSpec{svc("a", "ghost")})
		Expect(err).To(MatchError(UnknownDependencyError{Service: "a", Dependency: "ghost"}))

		_, err = Plan([]service.ServiceSpec{svc("a"), svc("a")})
		Expect(err).To(MatchError(DuplicateServiceError{ID: "a"}))
	})

	It("returns an empty plan for no services", func() {
		plan, err := Plan(nil)
		Expect(err).NotTo(HaveOccurred())
		Expect(plan.Batches).To(BeEmpty())
	})
})

var _ = Describe("Dependents", func() {
	It("walks reverse edges transitively in declaration order", func() {
		services := []service.ServiceSpec{svc("A"), svc("B", "A"), svc("C", "B"), svc("D")}
		Expect(Dependents(services, "A")).To(Equal([]string{"B", "C"}))
		Expect(Dependents(services, "D")).To(BeEmpty())
	})
})
