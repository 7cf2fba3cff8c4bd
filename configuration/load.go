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
	"bytes"
	"context"
	"errors"
	"io"

	"dario.cat/mergo"
	"github.com/mitchellh/go-homedir"
	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Overrides carries command line values that take precedence over the
// descriptor's orchestrator block. Zero values leave the descriptor as is.
type Overrides struct {
	MaxRetries     int
	DegradedPolicy string
	ExtraVars      map[string]string
}

var (
	defaultTarget = Target{
		Port:      22,
		Transport: TRANSPORT_SSH,
		RemoteDir: "/opt/sensornode",
	}
	defaultOrchestrator = Orchestrator{
		MaxRetries:              2,
		DegradedPolicy:          "strict",
		PerComponentMaxRestarts: 2,
		MonitorIntervalSec:      5,
		Workers:                 4,
		CommandTimeoutSec:       300,
		CommandRetries:          1,
		HealthBackoffMultiplier: 1,
		RetryIntervalSec:        2,
		StatusEndpoint:          DEFAULT_STATUS_ENDPOINT,
		Kafka:                   Kafka{Topic: DEFAULT_KAFKA_TOPIC},
	}
	defaultService = ServiceDescriptor{
		HealthIntervalSec: 5,
		HealthMaxAttempts: 5,
		HealthTimeoutSec:  10,
	}
)

// Load reads, validates and expands the descriptor at uri.
func Load(ctx context.Context, uri string, ov Overrides) (*Deployment, error) {
	src, err := NewSource(uri)
	if err != nil {
		return nil, &ConfigError{Source: uri, Err: err}
	}
	raw, err := src.Read(ctx)
	if err != nil {
		return nil, &ConfigError{Source: src.String(), Err: err}
	}
	log.WithField("source", src.String()).
		Debug("deployment descriptor read")
	return Parse(raw, src.String(), ov)
}

// Parse validates raw YAML and returns the expanded deployment. Every
// failure is reported as a *ConfigError.
func Parse(raw []byte, source string, ov Overrides) (*Deployment, error) {
	cerr := &ConfigError{Source: source}

	problems, err := CheckSchema(raw)
	if err != nil {
		cerr.Err = err
		return nil, cerr
	}
	if len(problems) > 0 {
		cerr.Problems = problems
		return nil, cerr
	}

	d := &Deployment{source: source}
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err = dec.Decode(d); err != nil && !errors.Is(err, io.EOF) {
		cerr.Err = err
		return nil, cerr
	}

	d.applyOverrides(ov)
	if err = d.applyDefaults(); err != nil {
		cerr.Err = err
		return nil, cerr
	}
	d.expandTemplates(ov.ExtraVars, cerr)
	d.validateStruct(cerr)
	d.validateSemantics(cerr)
	if err = cerr.orNil(); err != nil {
		return nil, err
	}

	log.WithFields(logrus.Fields{
		"source":   source,
		"services": len(d.Services),
		"policy":   d.Policy().String(),
	}).Debug("deployment descriptor validated")
	return d, nil
}

func (d *Deployment) applyOverrides(ov Overrides) {
	if ov.MaxRetries > 0 {
		d.Orchestrator.MaxRetries = ov.MaxRetries
	}
	if ov.DegradedPolicy != "" {
		d.Orchestrator.DegradedPolicy = ov.DegradedPolicy
	}
}

// applyDefaults fills unset fields: the descriptor's defaults block first,
// then the built-in values. Zero counts are treated as unset.
func (d *Deployment) applyDefaults() error {
	if err := mergo.Merge(&d.Target, defaultTarget); err != nil {
		return err
	}
	if err := mergo.Merge(&d.Orchestrator, defaultOrchestrator); err != nil {
		return err
	}

	shared := d.Defaults
	shared.ID = ""
	shared.DependsOn = nil
	for i := range d.Services {
		if err := mergo.Merge(&d.Services[i], shared); err != nil {
			return err
		}
		if err := mergo.Merge(&d.Services[i], defaultService); err != nil {
			return err
		}
	}

	var err error
	for _, p := range []*string{&d.Target.KeyFile, &d.Target.KnownHosts, &d.Orchestrator.TransitionLog} {
		if *p == "" {
			continue
		}
		if *p, err = homedir.Expand(*p); err != nil {
			return err
		}
	}
	return nil
}
