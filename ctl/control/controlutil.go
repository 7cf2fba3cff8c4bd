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

package control

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"github.com/olekukonko/tablewriter"
	"github.com/sensornode/orchestra/common/utils"
	"github.com/sensornode/orchestra/configuration"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/lifecycle"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/sensornode/orchestra/core/status"
	"github.com/xlab/treeprint"
)

var (
	blue   = color.New(color.FgHiBlue).SprintFunc()
	green  = color.New(color.FgHiGreen).SprintFunc()
	yellow = color.New(color.FgHiYellow).SprintFunc()
	red    = color.New(color.FgHiRed).SprintFunc()
	grey   = color.New(color.FgWhite).SprintFunc()
)

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func colorState(st sm.State) string {
	s := st.String()
	switch st {
	case sm.HEALTHY, sm.DEPLOYED, sm.SUPERVISOR_MONITORING:
		return green(s)
	case sm.PENDING, sm.STOPPED, sm.WAIT_USER, sm.NOT_STARTED:
		return blue(s)
	case sm.STARTING, sm.RUNNING, sm.RESTARTING, sm.STOPPING, sm.DEGRADED,
		sm.SUPERVISOR_RUNNING, sm.SUPERVISOR_RECOVERING, sm.SUPERVISOR_DEGRADED, sm.RETRYING:
		return yellow(s)
	case sm.ERROR, sm.UNHEALTHY, sm.ABORTED:
		return red(s)
	default:
		return grey(s)
	}
}

func colorAggregate(agg string) string {
	switch agg {
	case "OK":
		return green(agg)
	case "DEGRADED", "RECOVERING":
		return yellow(agg)
	case "KO":
		return red(agg)
	default:
		return grey(agg)
	}
}

func newTable(headers []string, o io.Writer) *tablewriter.Table {
	table := tablewriter.NewWriter(o)
	table.SetHeader(headers)
	table.SetBorder(false)
	table.SetAutoWrapText(false)
	fg := tablewriter.Colors{tablewriter.Bold, tablewriter.FgYellowColor}
	fgColSlice := make([]tablewriter.Colors, len(headers))
	for i := 0; i < len(headers); i++ {
		fgColSlice[i] = fg
	}
	table.SetHeaderColor(fgColSlice...)
	return table
}

func formatAge(t time.Time) string {
	if t.IsZero() {
		return grey("-")
	}
	return time.Since(t).Truncate(time.Second).String()
}

func drawReport(r lifecycle.Report, o io.Writer) {
	_, _ = fmt.Fprintf(o, "run:       %s\n", r.RunID)
	if r.Target != "" {
		_, _ = fmt.Fprintf(o, "target:    %s\n", r.Target)
	}
	_, _ = fmt.Fprintf(o, "system:    %s\n", colorState(r.System))
	_, _ = fmt.Fprintf(o, "pipeline:  %s (attempts %d)\n", stateOrDash(r.Pipeline), r.Attempts)
	_, _ = fmt.Fprintf(o, "aggregate: %s\n\n", colorAggregate(r.Aggregate))
	if len(r.Components) == 0 {
		return
	}

	table := newTable([]string{"service", "batch", "state", "restarts", "since", "last error"}, o)
	data := make([][]string, 0, len(r.Components))
	for _, cs := range r.Components {
		data = append(data, []string{
			cs.ID,
			strconv.Itoa(cs.Batch),
			colorState(cs.State),
			fmt.Sprintf("%d/%d", cs.Restarts, cs.Restarts+cs.RestartsLeft),
			formatAge(cs.UpdatedAt),
			utils.TruncateString(cs.LastError, 60),
		})
	}
	table.AppendBulk(data)
	table.Render()
}

// sweepAggregate reduces one probe sweep as if every passing service were
// HEALTHY and every failing one UNHEALTHY.
func sweepAggregate(reports []health.Report) status.PipelineStatus {
	states := make([]sm.State, len(reports))
	for i, r := range reports {
		states[i] = sm.UNHEALTHY
		if r.Healthy {
			states[i] = sm.HEALTHY
		}
	}
	return status.Reduce(states)
}

func drawUnknown(reason error, o io.Writer) {
	_, _ = fmt.Fprintf(o, "aggregate: %s\n", colorAggregate(status.UNKNOWN.String()))
	_, _ = fmt.Fprintf(o, "reason:    %s\n", reason.Error())
}

func drawSweep(reports []health.Report, o io.Writer) {
	_, _ = fmt.Fprintf(o, "aggregate: %s\n\n", colorAggregate(sweepAggregate(reports).String()))
	table := newTable([]string{"service", "health", "exit code", "detail"}, o)
	data := make([][]string, 0, len(reports))
	for _, r := range reports {
		healthStr := green("healthy")
		detail := ""
		if !r.Healthy {
			healthStr = red("unhealthy")
			if r.Err != nil {
				detail = utils.TruncateString(r.Err.Error(), 60)
			}
		}
		data = append(data, []string{
			r.Service,
			healthStr,
			strconv.Itoa(r.Last.ExitCode),
			detail,
		})
	}
	table.AppendBulk(data)
	table.Render()
}

func drawPlan(d *configuration.Deployment, plan *graph.DeploymentPlan, o io.Writer) {
	specs := d.Specs()
	deps := make(map[string][]string, len(specs))
	elevated := make(map[string]bool, len(specs))
	for _, s := range specs {
		deps[s.ID] = s.DependsOn
		elevated[s.ID] = s.Elevated
	}

	tree := treeprint.New()
	tree.SetValue(fmt.Sprintf("%s (%d services)", d.Source(), plan.Len()))
	for i, batch := range plan.Batches {
		branch := tree.AddMetaBranch(yellow(fmt.Sprintf("batch %d", i)), strings.Join(batch, ", "))
		for _, id := range batch {
			text := id
			if len(deps[id]) > 0 {
				text = fmt.Sprintf("%-24s %s %s", id, yellow("<-"), strings.Join(deps[id], ", "))
			}
			if elevated[id] {
				branch.AddMetaNode(red("sudo"), text)
			} else {
				branch.AddNode(text)
			}
		}
	}
	_, _ = fmt.Fprint(o, tree.String())
}
