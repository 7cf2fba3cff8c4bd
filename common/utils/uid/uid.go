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

// Package uid generates identifiers for deployment runs and transition
// records.
package uid

import (
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rs/xid"
)

// ID is a sortable, compact run identifier.
type ID string

func (u ID) String() string {
	return string(u)
}

func (u ID) IsNil() bool {
	return len(u) == 0
}

func FromString(s string) (ID, error) {
	_, err := xid.FromString(s)
	if err != nil {
		return "", err
	}
	return ID(s), nil
}

func NilID() ID {
	return ""
}

// New returns a fresh run ID. IDs created later sort after earlier ones.
func New() ID {
	return ID(xid.New().String())
}

// NewRecordID returns a random identifier for a single transition record.
func NewRecordID() string {
	return uuid.NewString()
}

func (u ID) MarshalJSON() ([]byte, error) {
	return json.Marshal(u.String())
}
