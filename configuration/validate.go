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
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/sensornode/orchestra/core/graph"
	"github.com/sensornode/orchestra/core/health"
	"github.com/sensornode/orchestra/core/service"
)

var (
	deploymentValidate *validator.Validate
	serviceIDPattern   = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]*$`)
)

func init() {
	deploymentValidate = validator.New()
	deploymentValidate.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	_ = deploymentValidate.RegisterValidation("serviceid", func(fl validator.FieldLevel) bool {
		return serviceIDPattern.MatchString(fl.Field().String())
	})
}

func fieldProblem(fe validator.FieldError) string {
	ns := fe.Namespace()
	if i := strings.Index(ns, "."); i >= 0 {
		ns = ns[i+1:]
	}
	if fe.Param() != "" {
		return fmt.Sprintf("%s: failed %s=%s rule", ns, fe.Tag(), fe.Param())
	}
	return fmt.Sprintf("%s: failed %s rule", ns, fe.Tag())
}

func (d *Deployment) validateStruct(cerr *ConfigError) {
	err := deploymentValidate.Struct(d)
	if err == nil {
		return
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		cerr.add("%s", err.Error())
		return
	}
	for _, fe := range fieldErrs {
		cerr.add("%s", fieldProblem(fe))
	}
}

// validateSemantics checks the rules that span several fields. The graph
// is only planned once ids and dependency references are sound, so that a
// CyclicDependencyError is the sole remaining cause.
func (d *Deployment) validateSemantics(cerr *ConfigError) {
	if _, err := service.ParsePolicy(d.Orchestrator.DegradedPolicy); err != nil {
		cerr.add("orchestrator.degradedPolicy: %s", err.Error())
	}

	seen := make(map[string]struct{}, len(d.Services))
	sound := true
	for _, s := range d.Services {
		if _, dup := seen[s.ID]; dup {
			cerr.add("services[%s].id: duplicate service id", s.ID)
			sound = false
		}
		seen[s.ID] = struct{}{}
	}
	for _, s := range d.Services {
		for _, dep := range s.DependsOn {
			if _, ok := seen[dep]; !ok {
				cerr.add("services[%s].dependsOn: unknown service %q", s.ID, dep)
				sound = false
			}
		}
		if s.HealthExpect != "" {
			if _, err := health.CompilePredicate(s.HealthExpect); err != nil {
				cerr.add("services[%s].healthExpect: %s", s.ID, err.Error())
			}
		}
	}
	if !sound {
		return
	}

	if _, err := graph.Plan(d.Specs()); err != nil {
		cerr.add("services: %s", err.Error())
		if cerr.Err == nil {
			cerr.Err = err
		}
	}
}
