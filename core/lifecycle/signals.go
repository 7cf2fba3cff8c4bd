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

package lifecycle

import (
	"os"
	"os/signal"
	"syscall"
)

// HandleSignals turns the first SIGINT or SIGTERM into a graceful stop.
// A second signal exits immediately. The returned function detaches the
// handler.
func HandleSignals(c *Controller) (release func()) {
	signalChan := make(chan os.Signal, 2)
	signal.Notify(signalChan, syscall.SIGINT, syscall.SIGTERM)
	quit := make(chan struct{})

	go func() {
		select {
		case s := <-signalChan:
			log.WithPrefix("termination").
				WithField("signal", s.String()).
				Warn("shutting down, send again to exit immediately")
			c.RequestStop()
		case <-quit:
			return
		}

		select {
		case s := <-signalChan:
			switch s {
			case syscall.SIGINT:
				os.Exit(130) // 128+2
			case syscall.SIGTERM:
				os.Exit(143) // 128+15
			}
		case <-quit:
		}
	}()

	return func() {
		signal.Stop(signalChan)
		close(quit)
	}
}
