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

package server

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sensornode/orchestra/core/lifecycle"
	"github.com/sensornode/orchestra/core/sm"
)

type fakeController struct {
	stops    atomic.Int32
	patterns []string
}

func (f *fakeController) Status() lifecycle.Report {
	return lifecycle.Report{
		RunID:     "run-1",
		System:    sm.SUPERVISOR_MONITORING,
		Aggregate: "OK",
		Components: []lifecycle.ComponentStatus{
			{ID: "broker", State: sm.HEALTHY},
			{ID: "sensor-a", State: sm.DEGRADED, Restarts: 1, RestartsLeft: 1},
		},
	}
}

func (f *fakeController) Component(id string) (lifecycle.ComponentStatus, bool) {
	for _, cs := range f.Status().Components {
		if cs.ID == id {
			return cs, true
		}
	}
	return lifecycle.ComponentStatus{}, false
}

func (f *fakeController) RequestStop() {
	f.stops.Add(1)
}

func (f *fakeController) RestartService(_ context.Context, pattern string) (map[string]sm.State, error) {
	f.patterns = append(f.patterns, pattern)
	switch pattern {
	case "ghost":
		return nil, lifecycle.NoMatchError{Pattern: pattern}
	case "broken":
		return map[string]sm.State{"broken": sm.DEGRADED}, errors.New("health expectation not met")
	case "early":
		return nil, lifecycle.NotSupervisingError{State: sm.COMPONENTS_STARTING}
	}
	return map[string]sm.State{"sensor-a": sm.HEALTHY}, nil
}

var _ = Describe("status server", func() {
	var (
		ctl    *fakeController
		ts     *httptest.Server
		client *Client
		ctx    context.Context
	)

	BeforeEach(func() {
		ctl = &fakeController{}
		ts = httptest.NewServer(NewHandler(ctl))
		client = NewClient(ts.URL, time.Second)
		ctx = context.Background()
	})

	AfterEach(func() {
		ts.Close()
	})

	It("serves the status report", func() {
		report, err := client.Status(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(report.System).To(Equal(sm.SUPERVISOR_MONITORING))
		Expect(report.Components).To(HaveLen(2))
		Expect(report.Components[1].RestartsLeft).To(Equal(1))
	})

	It("serves a single component and 404s unknown ones", func() {
		cs, err := client.Component(ctx, "sensor-a")
		Expect(err).NotTo(HaveOccurred())
		Expect(cs.State).To(Equal(sm.DEGRADED))

		_, err = client.Component(ctx, "ghost")
		Expect(err).To(HaveOccurred())
	})

	It("forwards stop requests", func() {
		_, err := client.Stop(ctx)
		Expect(err).NotTo(HaveOccurred())
		Expect(ctl.stops.Load()).To(Equal(int32(1)))
	})

	It("rejects stop over GET", func() {
		resp, err := http.Get(ts.URL + PATH_STOP)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusMethodNotAllowed))
		Expect(ctl.stops.Load()).To(BeZero())
	})

	It("forwards glob restarts", func() {
		states, err := client.Restart(ctx, "sensor-*")
		Expect(err).NotTo(HaveOccurred())
		Expect(states).To(HaveKeyWithValue("sensor-a", sm.HEALTHY))
		Expect(ctl.patterns).To(Equal([]string{"sensor-*"}))
	})

	It("maps restart failures", func() {
		_, err := client.Restart(ctx, "ghost")
		var nm lifecycle.NoMatchError
		Expect(errors.As(err, &nm)).To(BeTrue())

		states, err := client.Restart(ctx, "broken")
		Expect(err).To(MatchError(ContainSubstring("health expectation not met")))
		Expect(states).To(HaveKeyWithValue("broken", sm.DEGRADED))
	})

	It("answers 409 to restarts during deployment", func() {
		resp, err := http.Post(ts.URL+"/v1/components/early/restart", "application/json", nil)
		Expect(err).NotTo(HaveOccurred())
		resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusConflict))

		_, err = client.Restart(ctx, "early")
		var busy lifecycle.NotSupervisingError
		Expect(errors.As(err, &busy)).To(BeTrue())
		Expect(busy.State).To(Equal(sm.COMPONENTS_STARTING))
	})

	It("exposes metrics", func() {
		resp, err := http.Get(ts.URL + PATH_METRICS)
		Expect(err).NotTo(HaveOccurred())
		defer resp.Body.Close()
		Expect(resp.StatusCode).To(Equal(http.StatusOK))
	})

	It("reports an unreachable endpoint", func() {
		ts.Close()
		_, err := client.Status(ctx)
		Expect(errors.Is(err, ErrUnreachable)).To(BeTrue())
		Expect(strings.HasPrefix(err.Error(), ErrUnreachable.Error())).To(BeTrue())
	})
})
