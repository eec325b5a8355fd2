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
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	apperrors "cmdgate/internal/errors"
	"cmdgate/internal/hook"
	"cmdgate/internal/paths"
	"cmdgate/internal/policy"
)

// Config represents the gate configuration. Every field is optional; the
// zero file yields the built-in policy.
type Config struct {
	Allow          []string `json:"allow,omitempty" yaml:"allow,omitempty"`
	Deny           []string `json:"deny,omitempty" yaml:"deny,omitempty"`
	PkillTargets   []string `json:"pkill_targets,omitempty" yaml:"pkill_targets,omitempty"`
	ExecutionTools []string `json:"execution_tools,omitempty" yaml:"execution_tools,omitempty"`
	LogFile        string   `json:"log_file,omitempty" yaml:"log_file,omitempty"`
	HistoryFile    string   `json:"history_file,omitempty" yaml:"history_file,omitempty"`
	Debug          bool     `json:"debug,omitempty" yaml:"debug,omitempty"`
}

// ValidationWarning describes a non-fatal configuration issue.
type ValidationWarning struct {
	Field   string
	Message string
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		ExecutionTools: append([]string(nil), hook.DefaultExecutionTools...),
		HistoryFile:    ".cmdgate_history",
	}
}

// LoadConfig loads configuration from a JSON or YAML file, applies env
// overrides, and validates the result. A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	config := DefaultConfig()

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := paths.ValidatePathString(path, paths.MaxPathLength); err != nil {
				return nil, apperrors.Wrap(apperrors.CodeConfig, "invalid config path", err)
			}
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeConfig, "failed to read config", err)
			}
			normalized, err := normalizeConfig(data, isYAML(path))
			if err != nil {
				return nil, apperrors.Wrap(apperrors.CodeConfig, fmt.Sprintf("invalid config %s", path), err)
			}
			if err := json.Unmarshal(normalized, config); err != nil {
				return nil, apperrors.Wrap(apperrors.CodeConfig, fmt.Sprintf("invalid config %s", path), err)
			}
		}
	}

	if val := os.Getenv("CMDGATE_LOG_FILE"); val != "" {
		config.LogFile = val
	}
	if val := os.Getenv("CMDGATE_DEBUG"); val != "" {
		debug, err := strconv.ParseBool(val)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConfig, "CMDGATE_DEBUG must be a boolean", err)
		}
		config.Debug = debug
	}

	if len(trimmed(config.ExecutionTools)) == 0 {
		return nil, apperrors.New(apperrors.CodeConfig, "execution_tools must name at least one tool")
	}

	return config, nil
}

func isYAML(path string) bool {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return true
	}
	return false
}

// Policy builds the read-only policy described by the config: the built-in
// allowlist plus Allow, minus Deny, with the pkill rule narrowed to
// PkillTargets when set.
func (c *Config) Policy() (*policy.Policy, error) {
	allow := append([]string(nil), policy.DefaultAllowList...)
	allow = append(allow, trimmed(c.Allow)...)

	validators := policy.DefaultValidators()
	if targets := trimmed(c.PkillTargets); len(targets) > 0 {
		validators["pkill"] = policy.NewPkillValidator(targets)
	}

	p, err := policy.New(allow, validators)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeConfig, "invalid policy", err)
	}
	if deny := trimmed(c.Deny); len(deny) > 0 {
		p, err = p.Without(deny...)
		if err != nil {
			return nil, apperrors.Wrap(apperrors.CodeConfig, "invalid policy", err)
		}
	}
	return p, nil
}

// Hook builds a security hook for the configured policy and tools.
func (c *Config) Hook(opts ...hook.Option) (*hook.Hook, error) {
	p, err := c.Policy()
	if err != nil {
		return nil, err
	}
	opts = append([]hook.Option{hook.WithExecutionTools(trimmed(c.ExecutionTools)...)}, opts...)
	return hook.New(p, opts...)
}

// Validate reports non-fatal config issues.
func (c *Config) Validate() []ValidationWarning {
	var warnings []ValidationWarning

	denied := make(map[string]bool, len(c.Deny))
	for _, name := range trimmed(c.Deny) {
		denied[name] = true
	}
	for _, name := range trimmed(c.Allow) {
		if denied[name] {
			warnings = append(warnings, ValidationWarning{
				Field:   "allow",
				Message: fmt.Sprintf("%q is both allowed and denied; deny wins", name),
			})
		}
		if strings.Contains(name, "/") {
			warnings = append(warnings, ValidationWarning{
				Field:   "allow",
				Message: fmt.Sprintf("%q contains a path separator; commands are matched by base name", name),
			})
		}
	}

	known := make(map[string]bool, len(policy.DefaultAllowList)+4)
	for _, name := range policy.DefaultAllowList {
		known[name] = true
	}
	for name := range policy.DefaultValidators() {
		known[name] = true
	}
	for _, name := range trimmed(c.Deny) {
		if !known[name] {
			warnings = append(warnings, ValidationWarning{
				Field:   "deny",
				Message: fmt.Sprintf("%q is not in the built-in allowlist", name),
			})
		}
	}

	if len(trimmed(c.PkillTargets)) > 0 && denied["pkill"] {
		warnings = append(warnings, ValidationWarning{
			Field:   "pkill_targets",
			Message: "pkill is denied; pkill_targets has no effect",
		})
	}

	for i, target := range c.PkillTargets {
		if strings.TrimSpace(target) == "" {
			warnings = append(warnings, ValidationWarning{
				Field:   fmt.Sprintf("pkill_targets[%d]", i),
				Message: "empty target ignored",
			})
		}
	}

	return warnings
}

func trimmed(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func decodeYAML(data []byte) (map[string]interface{}, error) {
	raw := map[string]interface{}{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return raw, nil
}
