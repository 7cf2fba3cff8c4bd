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
	"context"
	"fmt"

	"github.com/sensornode/orchestra/configuration"
	"github.com/sensornode/orchestra/core/executor"
)

// DialTarget opens the transport the descriptor asks for. A dry run never
// touches the target.
func DialTarget(ctx context.Context, d *configuration.Deployment, dryRun bool) (executor.Transport, error) {
	if dryRun {
		return executor.NewDryRunExecutor(d.Target.Host), nil
	}
	switch d.Target.Transport {
	case configuration.TRANSPORT_LOCAL:
		return executor.NewLocalExecutor(), nil
	case configuration.TRANSPORT_SSH, "":
		return executor.DialSSH(ctx, d.SSHConfig())
	default:
		return nil, fmt.Errorf("unsupported transport %q", d.Target.Transport)
	}
}
