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
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/valyala/fasttemplate"
)

const (
	VAR_REMOTE_DIR = "remote_dir"
	VAR_HOST       = "host"
	VAR_USER       = "user"
	VAR_SERVICE    = "service"
)

type varStack map[string]string

func (v varStack) with(key, value string) varStack {
	out := make(varStack, len(v)+1)
	for k, val := range v {
		out[k] = val
	}
	out[key] = value
	return out
}

func (v varStack) expand(s string) (string, error) {
	if !strings.Contains(s, "{{") {
		return s, nil
	}
	tmpl, err := fasttemplate.NewTemplate(s, "{{", "}}")
	if err != nil {
		return s, err
	}
	return tmpl.ExecuteFuncStringWithErr(func(w io.Writer, tag string) (int, error) {
		value, ok := v[strings.TrimSpace(tag)]
		if !ok {
			return 0, fmt.Errorf("undefined variable %q", strings.TrimSpace(tag))
		}
		return w.Write([]byte(value))
	})
}

// builtinVars are available in every field and in user vars.
func (d *Deployment) builtinVars() varStack {
	return varStack{
		VAR_REMOTE_DIR: d.Target.RemoteDir,
		VAR_HOST:       d.Target.Host,
		VAR_USER:       d.Target.User,
	}
}

// expandTemplates resolves {{var}} references in commands, phases and
// uploads. User vars may reference built-in vars but not each other;
// extra vars override descriptor vars.
func (d *Deployment) expandTemplates(extra map[string]string, cerr *ConfigError) {
	stack := d.builtinVars()

	keys := make([]string, 0, len(d.Vars))
	for k := range d.Vars {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	resolved := make(varStack, len(stack)+len(d.Vars)+len(extra))
	for k, v := range stack {
		resolved[k] = v
	}
	for _, k := range keys {
		value, err := stack.expand(d.Vars[k])
		if err != nil {
			cerr.add("vars.%s: %s", k, err.Error())
			continue
		}
		resolved[k] = value
	}
	for k, v := range extra {
		resolved[k] = v
	}

	field := func(path string, stack varStack, s *string) {
		value, err := stack.expand(*s)
		if err != nil {
			cerr.add("%s: %s", path, err.Error())
			return
		}
		*s = value
	}

	for i := range d.Services {
		svc := &d.Services[i]
		svcStack := resolved.with(VAR_SERVICE, svc.ID)
		field(fmt.Sprintf("services[%s].startCmd", svc.ID), svcStack, &svc.StartCmd)
		field(fmt.Sprintf("services[%s].stopCmd", svc.ID), svcStack, &svc.StopCmd)
		field(fmt.Sprintf("services[%s].healthCmd", svc.ID), svcStack, &svc.HealthCmd)
	}
	for _, phase := range []struct {
		name  string
		steps []PhaseStep
	}{
		{"prereqs", d.Phases.Prereqs},
		{"dependencies", d.Phases.Dependencies},
		{"build", d.Phases.Build},
	} {
		for i := range phase.steps {
			field(fmt.Sprintf("phases.%s[%d].run", phase.name, i), resolved, &phase.steps[i].Run)
		}
	}
	for i := range d.Uploads {
		field(fmt.Sprintf("uploads[%d].local", i), resolved, &d.Uploads[i].Local)
		field(fmt.Sprintf("uploads[%d].remote", i), resolved, &d.Uploads[i].Remote)
	}
}
