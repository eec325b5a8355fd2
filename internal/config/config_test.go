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
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	apperrors "cmdgate/internal/errors"
	"cmdgate/internal/policy"
)

func writeTempConfig(t *testing.T, name, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("CMDGATE_LOG_FILE", "")
	t.Setenv("CMDGATE_DEBUG", "")
}

func TestLoadConfigMissingFileReturnsDefault(t *testing.T) {
	clearEnv(t)
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "missing.json"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(cfg.ExecutionTools) != 2 {
		t.Fatalf("expected default execution tools, got %v", cfg.ExecutionTools)
	}
	if cfg.HistoryFile == "" {
		t.Fatal("expected default history file")
	}
	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}
	if p.Len() != policy.Default().Len() {
		t.Fatalf("expected default policy size %d, got %d", policy.Default().Len(), p.Len())
	}
}

func TestLoadConfigJSON(t *testing.T) {
	clearEnv(t)
	path := writeTempConfig(t, "cmdgate.json", `{"allow":["make"],"deny":["rm"],"log_file":"gate.log","debug":true}`)

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogFile != "gate.log" || !cfg.Debug {
		t.Fatalf("unexpected config: %+v", cfg)
	}
	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("unexpected policy error: %v", err)
	}
	if entry, ok := p.Lookup("make"); !ok || entry.Mode != policy.Unconditional {
		t.Fatalf("expected make to be unconditionally allowed, got %+v %v", entry, ok)
	}
	if _, ok := p.Lookup("rm"); ok {
		t.Fatal("expected rm to be denied")
	}
}

func TestLoadConfigYAML(t *testing.T) {
	clearEnv(t)
	content := "allow:\n  - make\npkill_targets:\n  - python\nexecution_tools:\n  - Shell\n"
	for _, name := range []string{"cmdgate.yaml", "cmdgate.yml"} {
		t.Run(name, func(t *testing.T) {
			cfg, err := LoadConfig(writeTempConfig(t, name, content))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(cfg.ExecutionTools) != 1 || cfg.ExecutionTools[0] != "Shell" {
				t.Fatalf("expected execution tools [Shell], got %v", cfg.ExecutionTools)
			}
			if len(cfg.Allow) != 1 || cfg.Allow[0] != "make" {
				t.Fatalf("expected allow [make], got %v", cfg.Allow)
			}
		})
	}
}

func TestConfigValidationRejectsUnknownField(t *testing.T) {
	cases := []struct {
		name    string
		file    string
		content string
	}{
		{"json", "cmdgate.json", `{"allow":["make"],"unknown_field":123}`},
		{"yaml", "cmdgate.yaml", "allow: [make]\nunknown_field: 123\n"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := LoadConfig(writeTempConfig(t, tc.file, tc.content))
			if err == nil {
				t.Fatal("expected error for unknown field")
			}
			if !strings.Contains(err.Error(), "unknown_field") {
				t.Fatalf("expected field name in error, got %v", err)
			}
			if apperrors.CodeOf(err) != apperrors.CodeConfig {
				t.Fatalf("expected config error code, got %q", apperrors.CodeOf(err))
			}
		})
	}
}

func TestConfigValidationRejectsInvalidType(t *testing.T) {
	cases := []struct {
		content string
		field   string
	}{
		{`{"allow":"make"}`, "allow"},
		{`{"deny":[1]}`, "deny"},
		{`{"pkill_targets":{"a":1}}`, "pkill_targets"},
		{`{"log_file":3}`, "log_file"},
		{`{"debug":"yes"}`, "debug"},
	}
	for _, tc := range cases {
		_, err := LoadConfig(writeTempConfig(t, "cmdgate.json", tc.content))
		if err == nil {
			t.Fatalf("expected error for %s", tc.content)
		}
		if !strings.Contains(err.Error(), tc.field) {
			t.Fatalf("expected %q in error, got %v", tc.field, err)
		}
	}
}

func TestConfigRejectsMalformedFile(t *testing.T) {
	if _, err := LoadConfig(writeTempConfig(t, "cmdgate.json", `{"allow":`)); err == nil {
		t.Fatal("expected error for malformed JSON")
	}
	if _, err := LoadConfig(writeTempConfig(t, "cmdgate.yaml", "allow: [make\n")); err == nil {
		t.Fatal("expected error for malformed YAML")
	}
}

func TestEmptyExecutionToolsIsError(t *testing.T) {
	clearEnv(t)
	_, err := LoadConfig(writeTempConfig(t, "cmdgate.json", `{"execution_tools":[" "]}`))
	if err == nil {
		t.Fatal("expected error for empty execution tools")
	}
}

func TestEnvOverridesFile(t *testing.T) {
	path := writeTempConfig(t, "cmdgate.json", `{"log_file":"file.log","debug":false}`)
	t.Setenv("CMDGATE_LOG_FILE", "env.log")
	t.Setenv("CMDGATE_DEBUG", "true")

	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.LogFile != "env.log" {
		t.Fatalf("expected env log file to override file, got %s", cfg.LogFile)
	}
	if !cfg.Debug {
		t.Fatal("expected env debug to override file")
	}
}

func TestInvalidDebugEnv(t *testing.T) {
	t.Setenv("CMDGATE_LOG_FILE", "")
	t.Setenv("CMDGATE_DEBUG", "sometimes")
	if _, err := LoadConfig(""); err == nil {
		t.Fatal("expected error for invalid CMDGATE_DEBUG")
	}
}

func TestPolicyDenyEverythingIsError(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Deny = policy.Default().Names()

	_, err := cfg.Policy()
	if !errors.Is(err, policy.ErrEmptyPolicy) {
		t.Fatalf("expected ErrEmptyPolicy, got %v", err)
	}
	if apperrors.CodeOf(err) != apperrors.CodeConfig {
		t.Fatalf("expected config error code, got %q", apperrors.CodeOf(err))
	}
}

func TestPolicyCustomPkillTargets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.PkillTargets = []string{"python"}

	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	entry, ok := p.Lookup("pkill")
	if !ok || entry.Mode != policy.Conditional {
		t.Fatalf("expected conditional pkill entry, got %+v %v", entry, ok)
	}
	if res := entry.Validator.Validate("pkill python"); !res.Allowed {
		t.Fatalf("expected pkill python to be allowed, got %q", res.Reason)
	}
	if res := entry.Validator.Validate("pkill node"); res.Allowed {
		t.Fatal("expected pkill node to be blocked with custom targets")
	}
}

func TestPolicyAllowDoesNotOverrideConditional(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Allow = []string{"rm"}

	p, err := cfg.Policy()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if entry, _ := p.Lookup("rm"); entry.Mode != policy.Conditional {
		t.Fatalf("expected rm to stay conditional, got %s", entry.Mode)
	}
}

func TestConfigHook(t *testing.T) {
	cfg := DefaultConfig()
	cfg.ExecutionTools = []string{"Shell"}

	h, err := cfg.Hook()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !h.IsExecutionTool("Shell") || h.IsExecutionTool("Bash") {
		t.Fatal("expected only Shell to be an execution tool")
	}
}

func TestValidateWarnings(t *testing.T) {
	cases := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"allowed and denied", Config{Allow: []string{"make"}, Deny: []string{"make"}}, "allow"},
		{"path separator", Config{Allow: []string{"/usr/bin/make"}}, "allow"},
		{"unknown deny", Config{Deny: []string{"terraform"}}, "deny"},
		{"pkill denied", Config{Deny: []string{"pkill"}, PkillTargets: []string{"python"}}, "pkill_targets"},
		{"empty target", Config{PkillTargets: []string{"python", ""}}, "pkill_targets[1]"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			warnings := tc.cfg.Validate()
			found := false
			for _, w := range warnings {
				if w.Field == tc.field {
					found = true
				}
			}
			if !found {
				t.Fatalf("expected warning for %s, got %+v", tc.field, warnings)
			}
		})
	}

	if warnings := DefaultConfig().Validate(); len(warnings) != 0 {
		t.Fatalf("expected no warnings for defaults, got %+v", warnings)
	}
}

func TestSchemaAndExampleAreValidJSON(t *testing.T) {
	var schema map[string]interface{}
	if err := json.Unmarshal([]byte(SchemaJSON()), &schema); err != nil {
		t.Fatalf("schema is not valid JSON: %v", err)
	}
	path := writeTempConfig(t, "cmdgate.json", ExampleConfigJSON())
	clearEnv(t)
	if _, err := LoadConfig(path); err != nil {
		t.Fatalf("example config failed to load: %v", err)
	}
}
