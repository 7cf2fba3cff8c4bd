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

package status

import (
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sensornode/orchestra/core/sm"
)

func repeat(s sm.State, n int) []sm.State {
	out := make([]sm.State, n)
	for i := range out {
		out[i] = s
	}
	return out
}

var _ = Describe("Reduce", func() {
	It("gives OK for five healthy components", func() {
		Expect(Reduce(repeat(sm.HEALTHY, 5))).To(Equal(OK))
	})

	It("gives DEGRADED for one unhealthy among healthy peers", func() {
		states := append([]sm.State{sm.UNHEALTHY}, repeat(sm.HEALTHY, 4)...)
		Expect(Reduce(states)).To(Equal(DEGRADED))
	})

	It("gives KO when every component is in error", func() {
		Expect(Reduce(repeat(sm.ERROR, 5))).To(Equal(KO))
	})

	It("gives KO for a mix of error and unhealthy only", func() {
		Expect(Reduce([]sm.State{sm.ERROR, sm.UNHEALTHY, sm.DEGRADED})).To(Equal(KO))
	})

	It("lets RECOVERING win over everything else", func() {
		states := append(repeat(sm.HEALTHY, 4), sm.RESTARTING)
		Expect(Reduce(states)).To(Equal(RECOVERING))
		Expect(Reduce([]sm.State{sm.RESTARTING, sm.ERROR, sm.ERROR})).To(Equal(RECOVERING))
		Expect(Reduce([]sm.State{sm.ERROR, sm.UNHEALTHY, sm.RESTARTING})).To(Equal(RECOVERING))
	})

	It("is independent of ordering", func() {
		a := []sm.State{sm.HEALTHY, sm.ERROR, sm.RUNNING, sm.HEALTHY}
		b := []sm.State{sm.RUNNING, sm.HEALTHY, sm.HEALTHY, sm.ERROR}
		Expect(Reduce(a)).To(Equal(DEGRADED))
		Expect(Reduce(b)).To(Equal(Reduce(a)))
	})

	It("gives UNKNOWN for transitional states and for the empty set", func() {
		Expect(Reduce(nil)).To(Equal(UNKNOWN))
		Expect(Reduce([]sm.State{sm.HEALTHY, sm.STARTING})).To(Equal(UNKNOWN))
		Expect(Reduce(repeat(sm.STOPPED, 3))).To(Equal(UNKNOWN))
	})

	It("reduces snapshots the same way", func() {
		snaps := []*sm.Snapshot{{State: sm.HEALTHY}, nil, {State: sm.UNHEALTHY}}
		Expect(ReduceSnapshots(snaps)).To(Equal(DEGRADED))
	})
})

var _ = Describe("PipelineStatus", func() {
	It("round-trips through text", func() {
		for _, name := range Names() {
			var s PipelineStatus
			Expect(s.UnmarshalText([]byte(name))).To(Succeed())
			out, err := s.MarshalText()
			Expect(err).NotTo(HaveOccurred())
			Expect(string(out)).To(Equal(name))
		}
		_, err := FromString("sideways")
		Expect(err).To(HaveOccurred())
	})

	It("has an associative and commutative product", func() {
		all := []PipelineStatus{UNKNOWN, OK, DEGRADED, KO, RECOVERING}
		for _, a := range all {
			for _, b := range all {
				Expect(a.X(b)).To(Equal(b.X(a)))
				for _, c := range all {
					Expect(a.X(b).X(c)).To(Equal(a.X(b.X(c))))
				}
			}
		}
	})

	It("tracks changes in SafeStatus", func() {
		var s SafeStatus
		Expect(s.Get()).To(Equal(UNKNOWN))
		Expect(s.Set(OK)).To(BeTrue())
		Expect(s.Set(OK)).To(BeFalse())
		Expect(s.Get()).To(Equal(OK))
	})
})
