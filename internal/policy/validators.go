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

package policy

import (
	"fmt"
	"path"
	"regexp"
	"sort"
	"strings"

	"github.com/google/shlex"
)

// Result is the outcome of validating one command segment. Reason is set
// exactly when Allowed is false.
type Result struct {
	Allowed bool
	Reason  string
}

// Allow returns an allowing result.
func Allow() Result {
	return Result{Allowed: true}
}

// Block returns a blocking result with the given reason.
func Block(reason string) Result {
	return Result{Reason: reason}
}

// Blockf returns a blocking result with a formatted reason.
func Blockf(format string, args ...interface{}) Result {
	return Block(fmt.Sprintf(format, args...))
}

// Validator checks the full text of a command segment.
type Validator interface {
	Validate(segment string) Result
}

// ValidatorFunc adapts a function to the Validator interface.
type ValidatorFunc func(segment string) Result

// Validate calls f(segment).
func (f ValidatorFunc) Validate(segment string) Result {
	return f(segment)
}

// DefaultPkillTargets are the processes an agent may terminate: the dev
// servers and package runners it starts itself.
var DefaultPkillTargets = []string{"node", "npm", "npx", "vite", "next"}

var chmodExecMode = regexp.MustCompile(`^[ugoa]*\+x$`)

// ValidateChmod allows chmod only to add execute permission, e.g. "+x" or "u+x".
func ValidateChmod(segment string) Result {
	args, res, ok := arguments(segment, "chmod")
	if !ok {
		return res
	}

	var mode string
	var files []string
	endOfFlags := false
	for _, arg := range args {
		if arg == "--" && !endOfFlags {
			endOfFlags = true
			continue
		}
		if !endOfFlags && strings.HasPrefix(arg, "-") {
			return Blockf("chmod flag %s is not allowed", arg)
		}
		if mode == "" {
			mode = arg
			continue
		}
		files = append(files, arg)
	}

	if mode == "" {
		return Block("chmod requires a mode argument")
	}
	if !chmodExecMode.MatchString(mode) {
		return Blockf("chmod only allowed with +x mode (e.g. +x, u+x), got %q", mode)
	}
	if len(files) == 0 {
		return Block("chmod requires at least one file")
	}
	return Allow()
}

// ValidateRm allows rm without recursive or force flags.
func ValidateRm(segment string) Result {
	args, res, ok := arguments(segment, "rm")
	if !ok {
		return res
	}

	for _, arg := range args {
		if arg == "--" {
			break
		}
		switch {
		case strings.HasPrefix(arg, "--"):
			opt := strings.SplitN(arg[2:], "=", 2)[0]
			if opt == "" {
				continue
			}
			if strings.HasPrefix("recursive", opt) {
				return rmRecursive(arg)
			}
			if strings.HasPrefix("force", opt) {
				return rmForce(arg)
			}
		case strings.HasPrefix(arg, "-") && len(arg) > 1:
			for _, c := range arg[1:] {
				switch c {
				case 'r', 'R':
					return rmRecursive("-" + string(c))
				case 'f':
					return rmForce("-f")
				}
			}
		}
	}
	return Allow()
}

func rmRecursive(flag string) Result {
	return Blockf("rm %s is not allowed: recursive deletion must be done manually", flag)
}

func rmForce(flag string) Result {
	return Blockf("rm %s is not allowed: forced deletion must be done manually", flag)
}

type pkillValidator struct {
	allowed map[string]bool
	names   []string
}

// NewPkillValidator returns a validator that allows pkill only for the given
// process names. Names that are not plain literals are ignored.
func NewPkillValidator(targets []string) Validator {
	v := pkillValidator{allowed: make(map[string]bool, len(targets))}
	for _, name := range targets {
		if name == "" || v.allowed[name] || strings.ContainsAny(name, pkillRegexChars+". \t") {
			continue
		}
		v.allowed[name] = true
		v.names = append(v.names, name)
	}
	sort.Strings(v.names)
	return v
}

// pkillRegexChars are the extended regex operators pkill would honour.
const pkillRegexChars = `|*?+[](){}^$\`

var defaultPkill = NewPkillValidator(DefaultPkillTargets)

// ValidatePkill applies the pkill rule with DefaultPkillTargets.
func ValidatePkill(segment string) Result {
	return defaultPkill.Validate(segment)
}

func (v pkillValidator) Validate(segment string) Result {
	args, res, ok := arguments(segment, "pkill")
	if !ok {
		return res
	}

	var targets []string
	full := false
	endOfFlags := false
	for _, arg := range args {
		if arg == "--" && !endOfFlags {
			endOfFlags = true
			continue
		}
		if !endOfFlags && strings.HasPrefix(arg, "-") {
			if arg == "-f" || arg == "--full" {
				full = true
			}
			continue
		}
		targets = append(targets, arg)
	}
	if len(targets) == 0 {
		return Block("pkill requires a process name")
	}

	for _, target := range targets {
		if res := v.checkTarget(target, full); !res.Allowed {
			return res
		}
	}
	return Allow()
}

// checkTarget treats target as the extended regex pkill compiles it to.
// Without -f it must be exactly an allowed name. With -f the first word must
// be an allowed name and the remaining words plain literals; "." is tolerated
// there for file names such as server.js.
func (v pkillValidator) checkTarget(target string, full bool) Result {
	fields := strings.Fields(target)
	if len(fields) == 0 {
		return Block("pkill requires a process name")
	}
	name := fields[0]
	if strings.ContainsAny(name, pkillRegexChars+".") {
		return Blockf("pkill pattern %q is not a plain process name", target)
	}
	if !v.allowed[name] || (!full && target != name) {
		return Blockf("pkill only allowed for dev processes: %s (got %q)", strings.Join(v.names, ", "), target)
	}
	for _, word := range fields[1:] {
		if strings.ContainsAny(word, pkillRegexChars) {
			return Blockf("pkill pattern %q is not a plain process name", target)
		}
	}
	return Allow()
}

// ValidateInitScript allows the project's own ./init.sh and nothing else named init.sh.
func ValidateInitScript(segment string) Result {
	tokens, err := shlex.Split(segment)
	if err != nil {
		return Blockf("could not parse init.sh command: %v", err)
	}
	program, _ := commandToken(tokens)
	if program != "./init.sh" {
		return Blockf("only ./init.sh is allowed, got %q", program)
	}
	return Allow()
}

// arguments tokenizes segment and returns the tokens after the command
// token, which must name the expected program.
func arguments(segment, program string) ([]string, Result, bool) {
	tokens, err := shlex.Split(segment)
	if err != nil {
		return nil, Blockf("could not parse %s command: %v", program, err), false
	}
	token, idx := commandToken(tokens)
	if idx < 0 {
		return nil, Blockf("could not find %s in command", program), false
	}
	if path.Base(token) != program {
		return nil, Blockf("expected %s command, got %q", program, token), false
	}
	return tokens[idx+1:], Result{}, true
}

// commandToken returns the first non-flag token and its index, or -1.
func commandToken(tokens []string) (string, int) {
	for i, tok := range tokens {
		if strings.HasPrefix(tok, "-") {
			continue
		}
		return tok, i
	}
	return "", -1
}
