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

package paths

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode"
	"unicode/utf8"
)

// MaxPathLength bounds paths read from configuration and flags.
const MaxPathLength = 4096

// ConfigEnvVar names the environment variable that points at a config file.
const ConfigEnvVar = "CMDGATE_CONFIG"

// ValidatePathString validates raw path input before resolution.
func ValidatePathString(path string, maxLen int) error {
	if strings.TrimSpace(path) == "" {
		return fmt.Errorf("path cannot be empty")
	}
	if strings.IndexByte(path, 0) != -1 {
		return fmt.Errorf("path contains null byte")
	}
	if !utf8.ValidString(path) {
		return fmt.Errorf("path is not valid UTF-8")
	}
	for _, r := range path {
		if unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Me, r) {
			return fmt.Errorf("path contains unsupported unicode combining mark")
		}
	}
	if maxLen > 0 && len(filepath.Clean(path)) > maxLen {
		return fmt.Errorf("path exceeds maximum length of %d characters", maxLen)
	}
	return nil
}

// ExpandHome replaces a leading "~/" with the user's home directory.
func ExpandHome(path string) (string, error) {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to resolve home directory: %v", err)
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~")), nil
}

// Resolve validates and expands a user supplied path.
func Resolve(path string) (string, error) {
	if err := ValidatePathString(path, MaxPathLength); err != nil {
		return "", err
	}
	expanded, err := ExpandHome(path)
	if err != nil {
		return "", err
	}
	return filepath.Clean(expanded), nil
}

// ConfigCandidates returns the config files to try, most specific first:
// the explicit path, $CMDGATE_CONFIG, then the user config directory.
func ConfigCandidates(explicit string) []string {
	var candidates []string
	if explicit != "" {
		candidates = append(candidates, explicit)
	}
	if env := os.Getenv(ConfigEnvVar); env != "" {
		candidates = append(candidates, env)
	}
	if dir, err := os.UserConfigDir(); err == nil {
		candidates = append(candidates,
			filepath.Join(dir, "cmdgate", "config.json"),
			filepath.Join(dir, "cmdgate", "config.yaml"),
		)
	}
	return candidates
}

// FindConfig returns the first existing candidate, or the first candidate
// when none exist so callers fall back to defaults.
func FindConfig(explicit string) string {
	candidates := ConfigCandidates(explicit)
	for _, candidate := range candidates {
		resolved, err := Resolve(candidate)
		if err != nil {
			continue
		}
		if info, err := os.Stat(resolved); err == nil && !info.IsDir() {
			return resolved
		}
	}
	if len(candidates) > 0 {
		return candidates[0]
	}
	return ""
}
