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

package metrics_test

import (
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/sensornode/orchestra/core/metrics"
)

var _ = Describe("metrics", func() {
	It("snake cases labels", func() {
		Expect(metrics.Label("COMPONENTS_STARTING")).To(Equal("components_starting"))
		Expect(metrics.Label("DeploymentAborted")).To(Equal("deployment_aborted"))
	})

	It("keeps exactly one pipeline status set", func() {
		all := []string{"OK", "DEGRADED", "KO"}
		metrics.SetPipelineStatus("DEGRADED", all)
		Expect(testutil.ToFloat64(metrics.PipelineStatus.WithLabelValues("degraded"))).To(Equal(1.0))
		Expect(testutil.ToFloat64(metrics.PipelineStatus.WithLabelValues("ok"))).To(Equal(0.0))

		metrics.SetPipelineStatus("KO", all)
		Expect(testutil.ToFloat64(metrics.PipelineStatus.WithLabelValues("degraded"))).To(Equal(0.0))
		Expect(testutil.ToFloat64(metrics.PipelineStatus.WithLabelValues("ko"))).To(Equal(1.0))
	})

	It("counts failed commands separately", func() {
		before := testutil.ToFloat64(metrics.CommandErrorCount.WithLabelValues("probe"))
		calls := testutil.ToFloat64(metrics.CommandCount.WithLabelValues("probe"))
		metrics.ObserveCommand("probe", time.Now(), true)
		metrics.ObserveCommand("probe", time.Now(), false)
		Expect(testutil.ToFloat64(metrics.CommandCount.WithLabelValues("probe"))).To(Equal(calls + 2))
		Expect(testutil.ToFloat64(metrics.CommandErrorCount.WithLabelValues("probe"))).To(Equal(before + 1))
	})

	It("registers once", func() {
		Expect(func() { metrics.Register(); metrics.Register() }).NotTo(Panic())
	})
})
