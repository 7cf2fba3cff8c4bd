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

// Package configuration loads, validates and expands deployment
// descriptors, and converts them into the option structs consumed by the
// core packages.
package configuration

import (
	"time"

	"github.com/sensornode/orchestra/common/logger"
	"github.com/sensornode/orchestra/core/executor"
	"github.com/sensornode/orchestra/core/pipeline"
	"github.com/sensornode/orchestra/core/recovery"
	"github.com/sensornode/orchestra/core/service"
	"github.com/sirupsen/logrus"
)

var log = logger.New(logrus.StandardLogger(), "configuration")

const (
	TRANSPORT_SSH   = "ssh"
	TRANSPORT_LOCAL = "local"

	DEFAULT_STATUS_ENDPOINT = "127.0.0.1:47180"
	DEFAULT_KAFKA_TOPIC     = "orchestra.transitions"
)

type Target struct {
	Host       string `yaml:"host" json:"host" validate:"required_if=Transport ssh"`
	Port       int    `yaml:"port" json:"port" validate:"gte=0,lte=65535"`
	User       string `yaml:"user" json:"user" validate:"required_if=Transport ssh"`
	KeyFile    string `yaml:"keyFile" json:"keyFile"`
	Password   string `yaml:"password" json:"-"`
	KnownHosts string `yaml:"knownHosts" json:"knownHosts"`
	Transport  string `yaml:"transport" json:"transport" validate:"oneof=ssh local"`
	RemoteDir  string `yaml:"remoteDir" json:"remoteDir" validate:"required"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" json:"brokers" validate:"dive,hostname_port"`
	Topic   string   `yaml:"topic" json:"topic"`
}

type Orchestrator struct {
	MaxRetries              int     `yaml:"maxRetries" json:"maxRetries" validate:"gte=1"`
	DegradedPolicy          string  `yaml:"degradedPolicy" json:"degradedPolicy"`
	PerComponentMaxRestarts int     `yaml:"perComponentMaxRestarts" json:"perComponentMaxRestarts" validate:"gte=0"`
	MonitorIntervalSec      int     `yaml:"monitorIntervalSec" json:"monitorIntervalSec" validate:"gte=1"`
	Workers                 int     `yaml:"workers" json:"workers" validate:"gte=1"`
	CommandTimeoutSec       int     `yaml:"commandTimeoutSec" json:"commandTimeoutSec" validate:"gte=1"`
	CommandRetries          int     `yaml:"commandRetries" json:"commandRetries" validate:"gte=1"`
	HealthBackoffMultiplier float64 `yaml:"healthBackoffMultiplier" json:"healthBackoffMultiplier" validate:"gte=1"`
	RetryIntervalSec        int     `yaml:"retryIntervalSec" json:"retryIntervalSec" validate:"gte=0"`
	TransitionLog           string  `yaml:"transitionLog" json:"transitionLog"`
	StatusEndpoint          string  `yaml:"statusEndpoint" json:"statusEndpoint" validate:"omitempty,hostname_port"`
	Kafka                   Kafka   `yaml:"kafka" json:"kafka"`
}

type PhaseStep struct {
	Name     string `yaml:"name" json:"name" validate:"required"`
	Run      string `yaml:"run" json:"run" validate:"required"`
	Elevated bool   `yaml:"elevated" json:"elevated"`
}

type Phases struct {
	Prereqs      []PhaseStep `yaml:"prereqs" json:"prereqs" validate:"dive"`
	Dependencies []PhaseStep `yaml:"dependencies" json:"dependencies" validate:"dive"`
	Build        []PhaseStep `yaml:"build" json:"build" validate:"dive"`
}

type Upload struct {
	Local  string `yaml:"local" json:"local" validate:"required"`
	Remote string `yaml:"remote" json:"remote" validate:"required"`
	Dir    bool   `yaml:"dir" json:"dir"`
}

// ServiceDescriptor is a single entry of the services list. The same shape
// is used for the defaults block, whose values fill unset fields.
type ServiceDescriptor struct {
	ID                string   `yaml:"id" json:"id" validate:"required,max=63,serviceid"`
	DependsOn         []string `yaml:"dependsOn" json:"dependsOn" validate:"dive,required"`
	StartCmd          string   `yaml:"startCmd" json:"startCmd" validate:"required"`
	StopCmd           string   `yaml:"stopCmd" json:"stopCmd" validate:"required"`
	HealthCmd         string   `yaml:"healthCmd" json:"healthCmd" validate:"required"`
	HealthExpect      string   `yaml:"healthExpect" json:"healthExpect"`
	HealthIntervalSec int      `yaml:"healthIntervalSec" json:"healthIntervalSec" validate:"gte=0"`
	HealthMaxAttempts int      `yaml:"healthMaxAttempts" json:"healthMaxAttempts" validate:"gte=1"`
	HealthTimeoutSec  int      `yaml:"healthTimeoutSec" json:"healthTimeoutSec" validate:"gte=1"`
	Elevated          *bool    `yaml:"elevated" json:"elevated"`
}

type Deployment struct {
	Target       Target              `yaml:"target" json:"target"`
	Orchestrator Orchestrator        `yaml:"orchestrator" json:"orchestrator"`
	Vars         map[string]string   `yaml:"vars" json:"vars"`
	Defaults     ServiceDescriptor   `yaml:"defaults" json:"defaults" validate:"-"`
	Phases       Phases              `yaml:"phases" json:"phases"`
	Uploads      []Upload            `yaml:"uploads" json:"uploads" validate:"dive"`
	Services     []ServiceDescriptor `yaml:"services" json:"services" validate:"required,min=1,dive"`

	source string
}

// Source is the location the descriptor was read from.
func (d *Deployment) Source() string {
	return d.source
}

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

// Specs returns the service specs in descriptor order.
func (d *Deployment) Specs() []service.ServiceSpec {
	specs := make([]service.ServiceSpec, 0, len(d.Services))
	for _, s := range d.Services {
		elevated := false
		if s.Elevated != nil {
			elevated = *s.Elevated
		}
		specs = append(specs, service.ServiceSpec{
			ID:        s.ID,
			DependsOn: append([]string(nil), s.DependsOn...),
			StartCmd:  s.StartCmd,
			StopCmd:   s.StopCmd,
			Elevated:  elevated,
			HealthCheck: service.HealthCheck{
				Command:     s.HealthCmd,
				Expect:      s.HealthExpect,
				Timeout:     seconds(s.HealthTimeoutSec),
				MaxAttempts: s.HealthMaxAttempts,
				Interval:    seconds(s.HealthIntervalSec),
			},
		})
	}
	return specs
}

func (d *Deployment) Policy() service.DegradedStartPolicy {
	p, err := service.ParsePolicy(d.Orchestrator.DegradedPolicy)
	if err != nil {
		return service.STRICT
	}
	return p
}

func (d *Deployment) CommandTimeout() time.Duration {
	return seconds(d.Orchestrator.CommandTimeoutSec)
}

func (d *Deployment) MonitorInterval() time.Duration {
	return seconds(d.Orchestrator.MonitorIntervalSec)
}

func phaseCommands(steps []PhaseStep) []pipeline.PhaseCommand {
	out := make([]pipeline.PhaseCommand, 0, len(steps))
	for _, s := range steps {
		out = append(out, pipeline.PhaseCommand{Name: s.Name, Line: s.Run, Elevated: s.Elevated})
	}
	return out
}

func (d *Deployment) PipelineOptions() pipeline.Options {
	uploads := make([]pipeline.Upload, 0, len(d.Uploads))
	for _, u := range d.Uploads {
		uploads = append(uploads, pipeline.Upload{Local: u.Local, Remote: u.Remote, Dir: u.Dir})
	}
	return pipeline.Options{
		MaxAttempts:      d.Orchestrator.MaxRetries,
		Policy:           d.Policy(),
		Workers:          d.Orchestrator.Workers,
		CommandTimeout:   d.CommandTimeout(),
		CommandRetries:   uint(d.Orchestrator.CommandRetries),
		RetryInterval:    seconds(d.Orchestrator.RetryIntervalSec),
		HealthMultiplier: d.Orchestrator.HealthBackoffMultiplier,
		Phases: pipeline.Phases{
			Prereqs:      phaseCommands(d.Phases.Prereqs),
			Dependencies: phaseCommands(d.Phases.Dependencies),
			Build:        phaseCommands(d.Phases.Build),
		},
		Uploads: uploads,
	}
}

func (d *Deployment) RecoveryOptions() recovery.Options {
	return recovery.Options{
		MaxRestarts:      d.Orchestrator.PerComponentMaxRestarts,
		CommandTimeout:   d.CommandTimeout(),
		HealthMultiplier: d.Orchestrator.HealthBackoffMultiplier,
		RestartInterval:  seconds(d.Orchestrator.RetryIntervalSec),
	}
}

func (d *Deployment) SSHConfig() executor.SSHConfig {
	return executor.SSHConfig{
		Host:           d.Target.Host,
		Port:           d.Target.Port,
		User:           d.Target.User,
		KeyFile:        d.Target.KeyFile,
		Password:       d.Target.Password,
		KnownHostsFile: d.Target.KnownHosts,
		DialTimeout:    10 * time.Second,
		DialRetries:    3,
	}
}
