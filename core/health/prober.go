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

// Package health polls a service's readiness command with a bounded,
// backed-off number of attempts.
package health

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/metrics"
	"github.com/sensornode/orchestra/core/service"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "health")

const defaultMaxInterval = time.Minute

type Policy struct {
	Timeout     time.Duration
	MaxAttempts int
	Interval    time.Duration
	// Multiplier grows the interval between attempts; 1 keeps it constant.
	Multiplier  float64
	MaxInterval time.Duration
}

// PolicyFor builds the probe policy of a service.
func PolicyFor(hc service.HealthCheck, multiplier float64) Policy {
	return Policy{
		Timeout:     hc.Timeout,
		MaxAttempts: hc.MaxAttempts,
		Interval:    hc.Interval,
		Multiplier:  multiplier,
		MaxInterval: defaultMaxInterval,
	}
}

func (p Policy) backOff() backoff.BackOff {
	if p.Interval <= 0 {
		return &backoff.ZeroBackOff{}
	}
	if p.Multiplier <= 1 {
		return backoff.NewConstantBackOff(p.Interval)
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.Interval
	b.Multiplier = p.Multiplier
	b.RandomizationFactor = 0
	b.MaxInterval = p.MaxInterval
	if b.MaxInterval <= 0 {
		b.MaxInterval = defaultMaxInterval
	}
	return b
}

func (p Policy) attempts() int {
	if p.MaxAttempts <= 0 {
		return 1
	}
	return p.MaxAttempts
}

// HealthCheckTimeout is the reason attached to an unhealthy report.
type HealthCheckTimeout struct {
	Service  string
	Attempts int
	LastErr  error
}

func (e HealthCheckTimeout) Error() string {
	if e.LastErr == nil {
		return fmt.Sprintf("service %s not healthy after %d attempts", e.Service, e.Attempts)
	}
	return fmt.Sprintf("service %s not healthy after %d attempts: %s", e.Service, e.Attempts, e.LastErr)
}

func (e HealthCheckTimeout) Unwrap() error {
	return e.LastErr
}

// Report is the outcome of one probe. An unhealthy report is a signal for
// the caller, with Err describing why.
type Report struct {
	Service  string
	Healthy  bool
	Attempts int
	Last     executor.Result
	Err      error
}

type Prober struct {
	ex executor.Executor
}

func NewProber(ex executor.Executor) *Prober {
	return &Prober{ex: ex}
}

var errPredicateFalse = errors.New("health expectation not met")

// Probe runs the service's health command until it passes or the policy's
// attempts are spent. The first success returns immediately.
func (p *Prober) Probe(ctx context.Context, spec service.ServiceSpec, pol Policy) Report {
	report := Report{Service: spec.ID}
	cmd := executor.Command{
		Line:     spec.HealthCheck.Command,
		Elevated: spec.Elevated,
		Timeout:  pol.Timeout,
		Service:  spec.ID,
		Kind:     executor.KIND_HEALTH,
	}

	var lastErr error
	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		report.Attempts++
		res, err := p.ex.Execute(ctx, cmd)
		report.Last = res
		if ctx.Err() != nil {
			return struct{}{}, backoff.Permanent(ctx.Err())
		}

		var rErr *executor.RemoteExecutionError
		if err != nil && (spec.HealthCheck.Expect == "" || !errors.As(err, &rErr) || rErr.TimedOut || rErr.Err != nil) {
			lastErr = err
			return struct{}{}, err
		}
		if res.Simulated {
			return struct{}{}, nil
		}
		ok, evalErr := evaluate(spec.HealthCheck.Expect, res)
		if evalErr != nil {
			lastErr = evalErr
			return struct{}{}, backoff.Permanent(evalErr)
		}
		if !ok {
			lastErr = errPredicateFalse
			return struct{}{}, errPredicateFalse
		}
		return struct{}{}, nil
	},
		backoff.WithBackOff(pol.backOff()),
		backoff.WithMaxTries(uint(pol.attempts())),
		backoff.WithMaxElapsedTime(time.Duration(pol.attempts())*(pol.Timeout+pol.Interval+defaultMaxInterval)),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithField("service", spec.ID).
				WithField("attempt", report.Attempts).
				WithField("next", next).
				Debugf("health check not passing yet: %s", err)
		}),
	)

	if err == nil {
		report.Healthy = true
		metrics.ProbeCount.WithLabelValues(spec.ID, "healthy").Inc()
		return report
	}

	if lastErr == nil {
		lastErr = err
	}
	report.Err = HealthCheckTimeout{Service: spec.ID, Attempts: report.Attempts, LastErr: lastErr}
	metrics.ProbeCount.WithLabelValues(spec.ID, "unhealthy").Inc()
	log.WithField("service", spec.ID).
		WithField("attempts", report.Attempts).
		Debug(report.Err.Error())
	return report
}
