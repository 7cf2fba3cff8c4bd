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

// restartCmd represents the restart command
var restartCmd = &cobra.Command{
	Use:   "restart [service]",
	Short: "restart one or more services",
	Long: `The restart command runs a stop, start and health check cycle for every
service whose id matches the argument, which may be a glob pattern such as
"sensor-*". Operator restarts do not count against the restart budget; a
service in ERROR is restarted with a fresh budget.`,
	Run:  control.WrapQuery(control.Restart),
	Args: cobra.ExactArgs(1),
}

func init() {
	rootCmd.AddCommand(restartCmd)
}
