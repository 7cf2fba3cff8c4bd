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

package graph

import (
	"fmt"
	"strings"
)

// CyclicDependencyError names every service left unresolved once all
// dependency-free services were layered. IDs is sorted.
type CyclicDependencyError struct {
	IDs []string
}

func (e CyclicDependencyError) Error() string {
	return fmt.Sprintf("cyclic dependency among services [%s]", strings.Join(e.IDs, ", "))
}

type UnknownDependencyError struct {
	Service    string
	Dependency string
}

func (e UnknownDependencyError) Error() string {
	return fmt.Sprintf("service %s depends on unknown service %s", e.Service, e.Dependency)
}

type DuplicateServiceError struct {
	ID string
}

func (e DuplicateServiceError) Error() string {
	return fmt.Sprintf("service %s declared more than once", e.ID)
}
