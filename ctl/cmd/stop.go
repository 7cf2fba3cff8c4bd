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
	"github.com/sensornode/orchestra/ctl/control"
	"github.com/spf13/cobra"
)

// stopCmd represents the stop command
var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "stop every service in reverse dependency order",
	Long: `The stop command asks the supervising orchestrator to shut the deployment
down. When no supervisor answers, the stop command of every service in the
descriptor runs directly, dependents first.`,
	Run:  control.WrapQuery(control.Stop),
	Args: cobra.NoArgs,
}

func init() {
	rootCmd.AddCommand(stopCmd)

	stopCmd.Flags().BoolP("yes", "y", false, "do not ask for confirmation")
	bindFlags(stopCmd.Flags(), "yes")
}
