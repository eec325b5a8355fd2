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

package errors

import (
	stderrors "errors"
	"fmt"
	"testing"
)

func TestErrorMessage(t *testing.T) {
	base := stderrors.New("file missing")
	cases := []struct {
		name     string
		err      *Error
		expected string
	}{
		{"message and cause", Wrap(CodeConfig, "failed to load config", base), "failed to load config: file missing"},
		{"message only", New(CodePolicy, "allowed commands list is empty"), "allowed commands list is empty"},
		{"cause only", &Error{Code: CodeParse, Err: base}, "file missing"},
		{"code only", &Error{Code: CodeHook}, "hook"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := tc.err.Error(); got != tc.expected {
				t.Fatalf("expected %q, got %q", tc.expected, got)
			}
		})
	}
}

func TestWrapUnwraps(t *testing.T) {
	base := stderrors.New("boom")
	err := Wrap(CodeInput, "bad input", base)
	if !stderrors.Is(err, base) {
		t.Fatal("errors.Is should unwrap to base error")
	}
}

func TestNilError(t *testing.T) {
	var err *Error
	if err.Error() != "" {
		t.Fatal("expected empty message for nil error")
	}
	if err.Unwrap() != nil {
		t.Fatal("expected nil unwrap for nil error")
	}
}

func TestCodeOf(t *testing.T) {
	coded := New(CodeConfig, "bad config")
	wrapped := fmt.Errorf("startup: %w", coded)
	if got := CodeOf(wrapped); got != CodeConfig {
		t.Fatalf("expected %q, got %q", CodeConfig, got)
	}
	nested := fmt.Errorf("outer: %w", Wrap(CodeParse, "inner", New(CodeHook, "root")))
	if got := CodeOf(nested); got != CodeParse {
		t.Fatalf("expected outermost code %q, got %q", CodeParse, got)
	}
	if got := CodeOf(stderrors.New("plain")); got != "" {
		t.Fatalf("expected empty code, got %q", got)
	}
	if got := CodeOf(nil); got != "" {
		t.Fatalf("expected empty code for nil, got %q", got)
	}
}
