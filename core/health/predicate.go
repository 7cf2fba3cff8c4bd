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

package health

import (
	"fmt"
	"sync"

	"github.com/antonmedv/expr"
	"github.com/antonmedv/expr/vm"
	"github.com/sensornode/orchestra/core/executor"
)

var predicateCache sync.Map // string -> *vm.Program

func predicateEnv(res executor.Result) map[string]interface{} {
	return map[string]interface{}{
		"exitCode": res.ExitCode,
		"stdout":   res.Stdout,
		"stderr":   res.Stderr,
	}
}

// CompilePredicate checks that code is a boolean expression over exitCode,
// stdout and stderr, and caches the compiled program.
func CompilePredicate(code string) (*vm.Program, error) {
	if cached, ok := predicateCache.Load(code); ok {
		return cached.(*vm.Program), nil
	}
	program, err := expr.Compile(code,
		expr.Env(predicateEnv(executor.Result{})),
		expr.AsBool(),
	)
	if err != nil {
		return nil, fmt.Errorf("invalid health expectation %q: %w", code, err)
	}
	predicateCache.Store(code, program)
	return program, nil
}

// evaluate tells whether res satisfies the expectation. An empty
// expectation requires a zero exit code.
func evaluate(code string, res executor.Result) (bool, error) {
	if code == "" {
		return res.ExitCode == 0, nil
	}
	program, err := CompilePredicate(code)
	if err != nil {
		return false, err
	}
	out, err := expr.Run(program, predicateEnv(res))
	if err != nil {
		return false, err
	}
	ok, _ := out.(bool)
	return ok, nil
}
