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

package configuration

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/service"
)

const validDescriptor = `
target:
  host: node-1.lan
  user: pi
  remoteDir: /srv/node
orchestrator:
  maxRetries: 3
  degradedPolicy: best-effort
vars:
  compose: "docker compose -f {{remote_dir}}/compose.yml"
defaults:
  healthMaxAttempts: 7
  elevated: true
phases:
  prereqs:
    - name: docker
      run: docker info
  build:
    - name: images
      run: "{{compose}} build"
uploads:
  - local: ./stack
    remote: "{{remote_dir}}/stack"
    dir: true
services:
  - id: broker
    startCmd: "{{compose}} up -d {{service}}"
    stopCmd: "{{compose}} stop {{service}}"
    healthCmd: "{{compose}} ps -q {{service}}"
  - id: ingest
    dependsOn: [broker]
    startCmd: "{{compose}} up -d {{service}}"
    stopCmd: "{{compose}} stop {{service}}"
    healthCmd: curl -s localhost:8080/health
    healthExpect: 'exitCode == 0 && stdout contains "ok"'
    healthTimeoutSec: 3
    elevated: false
`

func problemsOf(err error) []string {
	var cerr *ConfigError
	ExpectWithOffset(1, errors.As(err, &cerr)).To(BeTrue())
	return cerr.Problems
}

var _ = Describe("deployment descriptor", func() {
	When("the descriptor is valid", func() {
		var (
			d   *Deployment
			err error
		)
		BeforeEach(func() {
			d, err = Parse([]byte(validDescriptor), "inline", Overrides{})
		})

		It("parses without error", func() {
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Source()).To(Equal("inline"))
		})

		It("fills built-in defaults", func() {
			Expect(d.Target.Port).To(Equal(22))
			Expect(d.Target.Transport).To(Equal(TRANSPORT_SSH))
			Expect(d.Orchestrator.PerComponentMaxRestarts).To(Equal(2))
			Expect(d.Orchestrator.StatusEndpoint).To(Equal(DEFAULT_STATUS_ENDPOINT))
			Expect(d.Orchestrator.Kafka.Topic).To(Equal(DEFAULT_KAFKA_TOPIC))
			Expect(d.MonitorInterval()).To(Equal(5 * time.Second))
		})

		It("merges the defaults block without overriding explicit values", func() {
			specs := d.Specs()
			Expect(specs).To(HaveLen(2))
			Expect(specs[0].Elevated).To(BeTrue())
			Expect(specs[1].Elevated).To(BeFalse())
			Expect(specs[0].HealthCheck.MaxAttempts).To(Equal(7))
			Expect(specs[0].HealthCheck.Timeout).To(Equal(10 * time.Second))
			Expect(specs[1].HealthCheck.Timeout).To(Equal(3 * time.Second))
		})

		It("expands templates in commands, phases and uploads", func() {
			Expect(d.Services[0].StartCmd).To(Equal("docker compose -f /srv/node/compose.yml up -d broker"))
			Expect(d.Services[1].StopCmd).To(Equal("docker compose -f /srv/node/compose.yml stop ingest"))
			Expect(d.Phases.Build[0].Run).To(Equal("docker compose -f /srv/node/compose.yml build"))
			Expect(d.Uploads[0].Remote).To(Equal("/srv/node/stack"))
		})

		It("converts to pipeline and recovery options", func() {
			po := d.PipelineOptions()
			Expect(po.MaxAttempts).To(Equal(3))
			Expect(po.Policy).To(Equal(service.BEST_EFFORT))
			Expect(po.Phases.Prereqs).To(HaveLen(1))
			Expect(po.Phases.Prereqs[0].Line).To(Equal("docker info"))
			Expect(po.Uploads).To(HaveLen(1))
			Expect(po.Uploads[0].Dir).To(BeTrue())

			ro := d.RecoveryOptions()
			Expect(ro.MaxRestarts).To(Equal(2))

			ssh := d.SSHConfig()
			Expect(ssh.Host).To(Equal("node-1.lan"))
			Expect(ssh.User).To(Equal("pi"))
		})
	})

	When("command line overrides are given", func() {
		It("prefers them over the orchestrator block", func() {
			d, err := Parse([]byte(validDescriptor), "inline", Overrides{
				MaxRetries:     5,
				DegradedPolicy: "strict",
				ExtraVars:      map[string]string{"compose": "podman-compose"},
			})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Orchestrator.MaxRetries).To(Equal(5))
			Expect(d.Policy()).To(Equal(service.STRICT))
			Expect(d.Services[0].StartCmd).To(Equal("podman-compose up -d broker"))
		})
	})

	When("the schema is violated", func() {
		It("reports unknown keys", func() {
			_, err := Parse([]byte("target: {remoteDir: /x}\nbogus: 1\nservices: []\n"), "inline", Overrides{})
			Expect(err).To(HaveOccurred())
			Expect(problemsOf(err)).NotTo(BeEmpty())
		})

		It("rejects an empty document", func() {
			_, err := Parse([]byte(""), "inline", Overrides{})
			var cerr *ConfigError
			Expect(errors.As(err, &cerr)).To(BeTrue())
		})
	})

	When("struct rules fail", func() {
		It("names the offending field", func() {
			doc := `
target: {transport: local}
services:
  - id: a
    startCmd: run
    healthCmd: check
`
			_, err := Parse([]byte(doc), "inline", Overrides{})
			Expect(err).To(HaveOccurred())
			Expect(problemsOf(err)).To(ContainElement(ContainSubstring("stopCmd")))
		})

		It("requires a host for the ssh transport", func() {
			doc := `
target: {user: pi}
services:
  - {id: a, startCmd: s, stopCmd: t, healthCmd: h}
`
			_, err := Parse([]byte(doc), "inline", Overrides{})
			Expect(err).To(HaveOccurred())
			Expect(problemsOf(err)).To(ContainElement(ContainSubstring("target.host")))
		})
	})

	When("semantic rules fail", func() {
		It("reports duplicate ids and unknown dependencies together", func() {
			doc := `
target: {transport: local}
services:
  - {id: a, startCmd: s, stopCmd: t, healthCmd: h}
  - {id: a, startCmd: s, stopCmd: t, healthCmd: h}
  - {id: b, dependsOn: [ghost], startCmd: s, stopCmd: t, healthCmd: h}
`
			_, err := Parse([]byte(doc), "inline", Overrides{})
			problems := problemsOf(err)
			Expect(problems).To(ContainElement(ContainSubstring("duplicate service id")))
			Expect(problems).To(ContainElement(ContainSubstring(`unknown service "ghost"`)))
		})

		It("rejects an expectation that does not compile", func() {
			doc := `
target: {transport: local}
services:
  - {id: a, startCmd: s, stopCmd: t, healthCmd: h, healthExpect: "exitCode =="}
`
			_, err := Parse([]byte(doc), "inline", Overrides{})
			Expect(problemsOf(err)).To(ContainElement(ContainSubstring("healthExpect")))
		})

		It("rejects an undefined template variable", func() {
			doc := `
target: {transport: local}
services:
  - {id: a, startCmd: "{{nope}} up", stopCmd: t, healthCmd: h}
`
			_, err := Parse([]byte(doc), "inline", Overrides{})
			Expect(problemsOf(err)).To(ContainElement(ContainSubstring(`undefined variable "nope"`)))
		})

		It("surfaces a cycle as a CyclicDependencyError", func() {
			doc := `
target: {transport: local}
services:
  - {id: a, dependsOn: [b], startCmd: s, stopCmd: t, healthCmd: h}
  - {id: b, dependsOn: [a], startCmd: s, stopCmd: t, healthCmd: h}
`
			_, err := Parse([]byte(doc), "inline", Overrides{})
			Expect(err).To(HaveOccurred())
			var cyc graph.CyclicDependencyError
			Expect(errors.As(err, &cyc)).To(BeTrue())
			Expect(cyc.IDs).To(Equal([]string{"a", "b"}))
		})
	})

	Describe("sources", func() {
		It("loads a plain path and a file URI", func() {
			dir := GinkgoT().TempDir()
			path := filepath.Join(dir, "deploy.yaml")
			Expect(os.WriteFile(path, []byte(validDescriptor), 0o644)).To(Succeed())

			d, err := Load(context.Background(), path, Overrides{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Source()).To(Equal(path))

			d, err = Load(context.Background(), "file://"+path, Overrides{})
			Expect(err).NotTo(HaveOccurred())
			Expect(d.Services).To(HaveLen(2))
		})

		It("wraps a missing file in a ConfigError", func() {
			_, err := Load(context.Background(), "/does/not/exist.yaml", Overrides{})
			var cerr *ConfigError
			Expect(errors.As(err, &cerr)).To(BeTrue())
			Expect(errors.Is(err, os.ErrNotExist)).To(BeTrue())
		})

		It("resolves consul URIs", func() {
			src, err := NewSource("consul://127.0.0.1:8500/orchestra/deploy")
			Expect(err).NotTo(HaveOccurred())
			Expect(src.String()).To(Equal("consul://127.0.0.1:8500/orchestra/deploy"))

			_, err = NewSource("consul://127.0.0.1:8500")
			Expect(err).To(HaveOccurred())
			_, err = NewSource("ftp://host/file")
			Expect(err).To(HaveOccurred())
		})
	})
})
