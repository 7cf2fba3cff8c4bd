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
	"strings"
)

// ConfigError collects every problem found while loading a descriptor.
// Err, when set, is the underlying cause and is reachable via errors.As.
type ConfigError struct {
	Source   string
	Problems []string
	Err      error
}

func (e *ConfigError) Error() string {
	if len(e.Problems) == 0 && e.Err != nil {
		return fmt.Sprintf("invalid deployment descriptor %s: %s", e.Source, e.Err.Error())
	}
	if len(e.Problems) == 1 {
		return fmt.Sprintf("invalid deployment descriptor %s: %s", e.Source, e.Problems[0])
	}
	return fmt.Sprintf("invalid deployment descriptor %s: %d problems:\n  - %s",
		e.Source, len(e.Problems), strings.Join(e.Problems, "\n  - "))
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

func (e *ConfigError) add(format string, args ...interface{}) {
	e.Problems = append(e.Problems, fmt.Sprintf(format, args...))
}

func (e *ConfigError) orNil() error {
	if len(e.Problems) == 0 && e.Err == nil {
		return nil
	}
	return e
}
