// Copyright (C) 2025 Dyne.org foundation
// designed, written and maintained by Denis Roio <jaromil@dyne.org>
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as
// published by the Free Software Foundation, either version 3 of the
// License, or (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package config

import (
	"encoding/json"
	"fmt"
	"sort"
)

// SchemaJSON returns the JSON schema for the config file.
func SchemaJSON() string {
	return configSchemaJSON
}

// ExampleConfigJSON returns a minimal example config derived from the schema.
func ExampleConfigJSON() string {
	return exampleConfigJSON
}

func normalizeConfig(data []byte, fromYAML bool) ([]byte, error) {
	var raw map[string]interface{}
	if fromYAML {
		decoded, err := decodeYAML(data)
		if err != nil {
			return nil, err
		}
		raw = decoded
	} else if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	if err := validateConfigMap(raw, ""); err != nil {
		return nil, err
	}
	normalized, err := json.Marshal(raw)
	if err != nil {
		return nil, err
	}
	return normalized, nil
}

func validateConfigMap(raw map[string]interface{}, prefix string) error {
	allowed := map[string]func(interface{}) error{
		"allow": func(v interface{}) error { return validateStringArray(v, prefix+"allow") },
		"deny":  func(v interface{}) error { return validateStringArray(v, prefix+"deny") },
		"pkill_targets": func(v interface{}) error {
			return validateStringArray(v, prefix+"pkill_targets")
		},
		"execution_tools": func(v interface{}) error {
			return validateStringArray(v, prefix+"execution_tools")
		},
		"log_file":     func(v interface{}) error { return validateString(v, prefix+"log_file") },
		"history_file": func(v interface{}) error { return validateString(v, prefix+"history_file") },
		"debug":        func(v interface{}) error { return validateBool(v, prefix+"debug") },
	}
	return validateSection(raw, allowed, prefix)
}

func validateSection(section map[string]interface{}, allowed map[string]func(interface{}) error, prefix string) error {
	keys := make([]string, 0, len(section))
	for key := range section {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		validator, ok := allowed[key]
		if !ok {
			return fmt.Errorf("unknown configuration field %q", prefix+key)
		}
		if err := validator(section[key]); err != nil {
			return err
		}
	}
	return nil
}

func validateString(value interface{}, name string) error {
	if _, ok := value.(string); !ok {
		return fmt.Errorf("%s must be a string", name)
	}
	return nil
}

func validateBool(value interface{}, name string) error {
	if _, ok := value.(bool); !ok {
		return fmt.Errorf("%s must be a boolean", name)
	}
	return nil
}

func validateStringArray(value interface{}, name string) error {
	list, ok := value.([]interface{})
	if !ok {
		return fmt.Errorf("%s must be an array of strings", name)
	}
	for _, item := range list {
		if _, ok := item.(string); !ok {
			return fmt.Errorf("%s must be an array of strings", name)
		}
	}
	return nil
}

const configSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "title": "cmdgate Config",
  "type": "object",
  "properties": {
    "allow": {
      "type": "array",
      "items": { "type": "string" },
      "description": "Programs allowed unconditionally in addition to the built-in allowlist"
    },
    "deny": {
      "type": "array",
      "items": { "type": "string" },
      "description": "Programs removed from the allowlist, including conditional ones"
    },
    "pkill_targets": {
      "type": "array",
      "items": { "type": "string" },
      "description": "Process names pkill may target"
    },
    "execution_tools": {
      "type": "array",
      "items": { "type": "string" },
      "minItems": 1,
      "description": "Tool identifiers whose command is validated"
    },
    "log_file": { "type": "string" },
    "history_file": { "type": "string" },
    "debug": { "type": "boolean" }
  },
  "additionalProperties": false
}`

const exampleConfigJSON = `{
  "allow": ["make", "go"],
  "deny": ["pkill"],
  "execution_tools": ["Bash", "execute_shell_command"],
  "log_file": "cmdgate.log"
}`
