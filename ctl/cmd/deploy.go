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

package cmd

import (
	"fmt"

	"github.com/sensornode/orchestra/common/product"
	"github.com/sensornode/orchestra/ctl/control"
	"github.com/spf13/cobra"
)

// deployCmd represents the deploy command
var deployCmd = &cobra.Command{
	Use:   "deploy",
	Short: "deploy and supervise the services of a descriptor",
	Long: fmt.Sprintf(`The deploy command validates the deployment descriptor, runs the
prerequisite, dependency and build phases on the target, starts the services
batch by batch in dependency order and waits for each batch to become healthy.

Once deployed, %s stays in the foreground and supervises the services,
restarting failing ones within their restart budget. SIGINT, SIGTERM or the
stop command shut everything down in reverse dependency order.

Exit status is 2 for an invalid descriptor or a dependency cycle and 3 when
the deployment is aborted.`, product.PRETTY_SHORTNAME),
	Run:  control.WrapCall(control.Deploy),
	Args: cobra.NoArgs,
}

func init() {
	rootCmd.AddCommand(deployCmd)
}
