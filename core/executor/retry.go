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

package executor

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxRetryInterval = 30 * time.Second

// ExecuteWithRetry runs cmd up to tries times, spacing attempts with an
// exponential backoff starting at interval. Cancellation of ctx stops the
// retries immediately.
func ExecuteWithRetry(ctx context.Context, ex Executor, cmd Command, tries uint, interval time.Duration) (Result, error) {
	if tries == 0 {
		tries = 1
	}
	b := backoff.NewExponentialBackOff()
	if interval > 0 {
		b.InitialInterval = interval
	}
	b.MaxInterval = maxRetryInterval

	attempt := 0
	operation := func() (Result, error) {
		attempt++
		res, err := ex.Execute(ctx, cmd)
		if err != nil && ctx.Err() != nil {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	return backoff.Retry(ctx, operation,
		backoff.WithBackOff(b),
		backoff.WithMaxTries(tries),
		backoff.WithMaxElapsedTime(time.Duration(tries)*(cmd.Timeout+maxRetryInterval)+time.Minute),
		backoff.WithNotify(func(err error, next time.Duration) {
			log.WithError(err).
				WithField("service", cmd.Service).
				WithField("attempt", attempt).
				WithField("next", next).
				Warn("command failed, retrying")
		}),
	)
}
