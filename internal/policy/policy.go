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

// Package policy holds the allowlist of programs an agent may run and the
// argument rules for programs that are only allowed in restricted forms.
package policy

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrEmptyPolicy indicates a policy with no allowed programs.
	ErrEmptyPolicy = errors.New("allowed commands list is empty")

	// ErrNilValidator indicates a conditional entry registered without a validator.
	ErrNilValidator = errors.New("conditional command has no validator")
)

// Mode is how an allowlisted program is permitted.
type Mode int

const (
	// Unconditional programs run with any arguments.
	Unconditional Mode = iota
	// Conditional programs run only when their Validator accepts the segment.
	Conditional
)

func (m Mode) String() string {
	switch m {
	case Unconditional:
		return "unconditional"
	case Conditional:
		return "conditional"
	default:
		return "unknown"
	}
}

// Entry is the policy for one program name.
type Entry struct {
	Mode      Mode
	Validator Validator
}

// Policy maps program names to entries. It is read-only once built and safe
// for concurrent use.
type Policy struct {
	entries map[string]Entry
}

// DefaultAllowList contains the programs allowed with any arguments.
var DefaultAllowList = []string{
	// File inspection
	"ls", "cat", "head", "tail", "wc", "grep",
	// File operations
	"cp", "mkdir", "pwd", "echo",
	// Node.js development
	"npm", "node", "npx",
	// Version control
	"git",
	// Process inspection
	"ps", "lsof", "sleep",
}

// DefaultValidators returns the restricted-form rules keyed by program name.
func DefaultValidators() map[string]Validator {
	return map[string]Validator{
		"chmod":   ValidatorFunc(ValidateChmod),
		"rm":      ValidatorFunc(ValidateRm),
		"pkill":   ValidatorFunc(ValidatePkill),
		"init.sh": ValidatorFunc(ValidateInitScript),
	}
}

// Default returns the built-in policy.
func Default() *Policy {
	p, err := New(DefaultAllowList, DefaultValidators())
	if err != nil {
		panic(err)
	}
	return p
}

// New builds a policy from unconditional names and conditional validators.
// A name present in both is conditional.
func New(allow []string, validators map[string]Validator) (*Policy, error) {
	entries := make(map[string]Entry, len(allow)+len(validators))
	for _, name := range allow {
		if name == "" {
			continue
		}
		entries[name] = Entry{Mode: Unconditional}
	}
	for name, v := range validators {
		if name == "" {
			continue
		}
		if v == nil {
			return nil, fmt.Errorf("%w: %s", ErrNilValidator, name)
		}
		entries[name] = Entry{Mode: Conditional, Validator: v}
	}
	if len(entries) == 0 {
		return nil, ErrEmptyPolicy
	}
	return &Policy{entries: entries}, nil
}

// Lookup returns the entry for a program name.
func (p *Policy) Lookup(name string) (Entry, bool) {
	if p == nil {
		return Entry{}, false
	}
	entry, ok := p.entries[name]
	return entry, ok
}

// Len returns the number of allowed program names.
func (p *Policy) Len() int {
	if p == nil {
		return 0
	}
	return len(p.entries)
}

// Names returns the allowed program names in sorted order.
func (p *Policy) Names() []string {
	if p == nil {
		return nil
	}
	names := make([]string, 0, len(p.entries))
	for name := range p.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Without returns a copy of p with the given names removed.
func (p *Policy) Without(names ...string) (*Policy, error) {
	entries := make(map[string]Entry, p.Len())
	for name, entry := range p.entries {
		entries[name] = entry
	}
	for _, name := range names {
		delete(entries, name)
	}
	if len(entries) == 0 {
		return nil, ErrEmptyPolicy
	}
	return &Policy{entries: entries}, nil
}
