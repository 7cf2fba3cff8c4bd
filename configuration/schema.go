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

	"github.com/xeipuuv/gojsonschema"
	"gopkg.in/yaml.v3"
)

const deploymentSchema = `{
  "$schema": "http://json-schema.org/draft-07/schema#",
  "type": "object",
  "additionalProperties": false,
  "required": ["target", "services"],
  "definitions": {
    "step": {
      "type": "object",
      "additionalProperties": false,
      "required": ["name", "run"],
      "properties": {
        "name": {"type": "string"},
        "run": {"type": "string"},
        "elevated": {"type": "boolean"}
      }
    },
    "steps": {"type": "array", "items": {"$ref": "#/definitions/step"}},
    "service": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "id": {"type": "string", "pattern": "^[A-Za-z0-9][A-Za-z0-9_.-]*$"},
        "dependsOn": {"type": "array", "items": {"type": "string"}},
        "startCmd": {"type": "string"},
        "stopCmd": {"type": "string"},
        "healthCmd": {"type": "string"},
        "healthExpect": {"type": "string"},
        "healthIntervalSec": {"type": "integer", "minimum": 0},
        "healthMaxAttempts": {"type": "integer", "minimum": 1},
        "healthTimeoutSec": {"type": "integer", "minimum": 1},
        "elevated": {"type": "boolean"}
      }
    }
  },
  "properties": {
    "target": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "host": {"type": "string"},
        "port": {"type": "integer"},
        "user": {"type": "string"},
        "keyFile": {"type": "string"},
        "password": {"type": "string"},
        "knownHosts": {"type": "string"},
        "transport": {"enum": ["ssh", "local"]},
        "remoteDir": {"type": "string"}
      }
    },
    "orchestrator": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "maxRetries": {"type": "integer", "minimum": 1},
        "degradedPolicy": {"enum": ["strict", "best-effort", "besteffort", "best_effort"]},
        "perComponentMaxRestarts": {"type": "integer", "minimum": 0},
        "monitorIntervalSec": {"type": "integer", "minimum": 1},
        "workers": {"type": "integer", "minimum": 1},
        "commandTimeoutSec": {"type": "integer", "minimum": 1},
        "commandRetries": {"type": "integer", "minimum": 1},
        "healthBackoffMultiplier": {"type": "number", "minimum": 1},
        "retryIntervalSec": {"type": "integer", "minimum": 0},
        "transitionLog": {"type": "string"},
        "statusEndpoint": {"type": "string"},
        "kafka": {
          "type": "object",
          "additionalProperties": false,
          "properties": {
            "brokers": {"type": "array", "items": {"type": "string"}},
            "topic": {"type": "string"}
          }
        }
      }
    },
    "vars": {"type": "object", "additionalProperties": {"type": ["string", "number", "boolean"]}},
    "defaults": {"$ref": "#/definitions/service"},
    "phases": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "prereqs": {"$ref": "#/definitions/steps"},
        "dependencies": {"$ref": "#/definitions/steps"},
        "build": {"$ref": "#/definitions/steps"}
      }
    },
    "uploads": {
      "type": "array",
      "items": {
        "type": "object",
        "additionalProperties": false,
        "required": ["local", "remote"],
        "properties": {
          "local": {"type": "string"},
          "remote": {"type": "string"},
          "dir": {"type": "boolean"}
        }
      }
    },
    "services": {
      "type": "array",
      "minItems": 1,
      "items": {
        "allOf": [
          {"$ref": "#/definitions/service"},
          {"required": ["id"]}
        ]
      }
    }
  }
}`

// CheckSchema validates raw YAML against the descriptor schema and
// returns one message per violation.
func CheckSchema(raw []byte) ([]string, error) {
	var doc interface{}
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("unmarshaling YAML failed: %w", err)
	}
	doc = convert(doc)

	schemaLoader := gojsonschema.NewStringLoader(deploymentSchema)
	documentLoader := gojsonschema.NewGoLoader(doc)

	result, err := gojsonschema.Validate(schemaLoader, documentLoader)
	if err != nil {
		return nil, fmt.Errorf("error loading data: %w", err)
	}
	if result.Valid() {
		return nil, nil
	}
	problems := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		problems = append(problems, desc.String())
	}
	return problems, nil
}

func convert(i interface{}) interface{} {
	switch x := i.(type) {
	case map[interface{}]interface{}:
		m := map[string]interface{}{}
		for k, v := range x {
			m[fmt.Sprint(k)] = convert(v)
		}
		return m
	case map[string]interface{}:
		for k, v := range x {
			x[k] = convert(v)
		}
	case []interface{}:
		for i, v := range x {
			x[i] = convert(v)
		}
	}
	return i
}
