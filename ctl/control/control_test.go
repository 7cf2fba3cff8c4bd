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
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sensornode/orchestra/configuration"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/pipeline"
	"github.com/sensornode/orchestra/core/sm"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const planDescriptor = `
target: {transport: local}
orchestrator: {degradedPolicy: best-effort}
services:
  - {id: broker, startCmd: s, stopCmd: t, healthCmd: h, elevated: true}
  - {id: ingest, dependsOn: [broker], startCmd: s, stopCmd: t, healthCmd: h}
  - {id: dashboard, dependsOn: [ingest], startCmd: s, stopCmd: t, healthCmd: h}
`

var _ = Describe("exit codes", func() {
	It("maps each error family to its status", func() {
		Expect(ExitCode(nil)).To(Equal(EXIT_OK))
		Expect(ExitCode(errors.New("boom"))).To(Equal(EXIT_FAILURE))
		Expect(ExitCode(&configuration.ConfigError{Source: "x"})).To(Equal(EXIT_CONFIG))
		Expect(ExitCode(graph.CyclicDependencyError{IDs: []string{"a", "b"}})).To(Equal(EXIT_CONFIG))
		Expect(ExitCode(&pipeline.DeploymentAborted{Phase: sm.VERIFYING_HEALTH})).To(Equal(EXIT_ABORTED))
	})

	It("looks through wrapping", func() {
		wrapped := fmt.Errorf("deploy: %w", &pipeline.DeploymentAborted{Phase: sm.CHECKING_PREREQ})
		Expect(ExitCode(wrapped)).To(Equal(EXIT_ABORTED))

		cyc := &configuration.ConfigError{Err: graph.CyclicDependencyError{IDs: []string{"a"}}}
		Expect(ExitCode(errors.Join(errors.New("init"), cyc))).To(Equal(EXIT_CONFIG))
	})

	It("exits with the mapped status when a call fails", func() {
		var code int
		exit = func(c int) { code = c }
		DeferCleanup(func() { exit = os.Exit })

		run := WrapCall(func(context.Context, *cobra.Command, []string, io.Writer) error {
			return &configuration.ConfigError{Source: "inline"}
		})
		run(&cobra.Command{Use: "deploy"}, nil)
		Expect(code).To(Equal(EXIT_CONFIG))
	})
})

var _ = Describe("plan command", func() {
	BeforeEach(func() {
		color.NoColor = true
		dir := GinkgoT().TempDir()
		path := filepath.Join(dir, "deploy.yaml")
		Expect(os.WriteFile(path, []byte(planDescriptor), 0o644)).To(Succeed())
		viper.Set("config", path)
		DeferCleanup(func() {
			viper.Set("config", "")
			viper.Set("max-retries", 0)
		})
	})

	It("prints batches and orders", func() {
		viper.Set("max-retries", 4)
		var out strings.Builder
		Expect(Plan(context.Background(), &cobra.Command{Use: "plan"}, nil, &out)).To(Succeed())

		text := out.String()
		Expect(text).To(ContainSubstring("batch 0"))
		Expect(text).To(ContainSubstring("dashboard"))
		Expect(text).To(ContainSubstring("start order:    [broker] -> [ingest] -> [dashboard]"))
		Expect(text).To(ContainSubstring("shutdown order: [dashboard] -> [ingest] -> [broker]"))
		Expect(text).To(ContainSubstring("best-effort, max attempts 4"))
	})

	It("fails with a config error without a descriptor", func() {
		viper.Set("config", "")
		err := Plan(context.Background(), &cobra.Command{Use: "plan"}, nil, &strings.Builder{})
		Expect(ExitCode(err)).To(Equal(EXIT_CONFIG))
	})
})

const sweepDescriptor = `
target: {transport: local}
services:
  - {id: up, startCmd: "true", stopCmd: "true", healthCmd: "true"}
  - {id: down, startCmd: "true", stopCmd: "true", healthCmd: "exit 3"}
`

var _ = Describe("status command without a supervisor", func() {
	var out strings.Builder

	BeforeEach(func() {
		color.NoColor = true
		out.Reset()
		viper.Set("endpoint", "127.0.0.1:1")
		DeferCleanup(func() {
			viper.Set("endpoint", "")
			viper.Set("config", "")
		})
	})

	writeDescriptor := func(doc string) {
		path := filepath.Join(GinkgoT().TempDir(), "deploy.yaml")
		Expect(os.WriteFile(path, []byte(doc), 0o644)).To(Succeed())
		viper.Set("config", path)
	}

	It("reports the aggregate of a direct health sweep", func() {
		writeDescriptor(sweepDescriptor)
		Expect(Status(context.Background(), &cobra.Command{Use: "status"}, nil, &out)).To(Succeed())

		text := out.String()
		Expect(text).To(ContainSubstring("no supervisor at 127.0.0.1:1"))
		Expect(text).To(ContainSubstring("aggregate: DEGRADED"))
		Expect(text).To(ContainSubstring("down"))
	})

	It("reports UNKNOWN without a descriptor", func() {
		viper.Set("config", "")
		Expect(Status(context.Background(), &cobra.Command{Use: "status"}, nil, &out)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("aggregate: UNKNOWN"))
		Expect(out.String()).To(ContainSubstring("no deployment descriptor given"))
	})

	It("reports UNKNOWN when the descriptor cannot be loaded", func() {
		writeDescriptor(`
target: {transport: local}
services:
  - {id: a, dependsOn: [b], startCmd: s, stopCmd: t, healthCmd: h}
  - {id: b, dependsOn: [a], startCmd: s, stopCmd: t, healthCmd: h}
`)
		Expect(Status(context.Background(), &cobra.Command{Use: "status"}, nil, &out)).To(Succeed())
		Expect(out.String()).To(ContainSubstring("aggregate: UNKNOWN"))
		Expect(out.String()).To(ContainSubstring("cycl"))
	})
})
