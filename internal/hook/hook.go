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

// Package hook is the pre-execution gate for agent tool calls. It is invoked
// once per proposed tool execution and returns an allow or block Decision for
// shell commands; other tools pass through untouched.
package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	apperrors "cmdgate/internal/errors"
	"cmdgate/internal/policy"
	"cmdgate/internal/shell"
)

var (
	// ErrNilPolicy indicates a hook constructed without a usable policy.
	ErrNilPolicy = errors.New("security hook requires a non-empty policy")

	// ErrBlocked is returned by Approver when a command is blocked.
	ErrBlocked = errors.New("command blocked by security policy")
)

// DecisionBlock is the value of Decision.Decision for blocked calls.
const DecisionBlock = "block"

// DefaultExecutionTools are the tool names whose calls run a shell command.
var DefaultExecutionTools = []string{"Bash", "execute_shell_command"}

// Input is the tool invocation record received from the dispatch layer.
type Input struct {
	ToolName  string                 `json:"tool_name"`
	ToolInput map[string]interface{} `json:"tool_input"`
}

// Decision is the verdict for one tool invocation. The zero value allows and
// encodes as {}.
type Decision struct {
	Decision string `json:"decision,omitempty"`
	Reason   string `json:"reason,omitempty"`
}

// Allow returns the neutral allow decision.
func Allow() Decision {
	return Decision{}
}

// Block returns a blocking decision carrying reason.
func Block(reason string) Decision {
	return Decision{Decision: DecisionBlock, Reason: reason}
}

// Blocked reports whether d blocks execution.
func (d Decision) Blocked() bool {
	return d.Decision == DecisionBlock
}

// ApprovalFunc approves or rejects a tool call before it is dispatched.
type ApprovalFunc func(call openai.ToolCall) (bool, error)

// Option configures a Hook.
type Option func(*Hook)

// WithLogger sets the logger used for decision tracing.
func WithLogger(logger zerolog.Logger) Option {
	return func(h *Hook) {
		h.logger = logger
	}
}

// WithExecutionTools replaces the tool names that trigger command validation.
func WithExecutionTools(names ...string) Option {
	return func(h *Hook) {
		tools := make(map[string]bool, len(names))
		for _, name := range names {
			if name = strings.TrimSpace(name); name != "" {
				tools[name] = true
			}
		}
		h.tools = tools
	}
}

// Hook evaluates tool calls against a policy. It holds no mutable state and
// is safe for concurrent use.
type Hook struct {
	policy *policy.Policy
	tools  map[string]bool
	logger zerolog.Logger
}

// New creates a hook for p. A nil or empty policy is a configuration error.
func New(p *policy.Policy, opts ...Option) (*Hook, error) {
	if p == nil || p.Len() == 0 {
		return nil, apperrors.Wrap(apperrors.CodePolicy, "cannot create security hook", ErrNilPolicy)
	}
	h := &Hook{
		policy: p,
		logger: zerolog.Nop(),
	}
	WithExecutionTools(DefaultExecutionTools...)(h)
	for _, opt := range opts {
		opt(h)
	}
	return h, nil
}

// Policy returns the policy the hook enforces.
func (h *Hook) Policy() *policy.Policy {
	return h.policy
}

// IsExecutionTool reports whether calls to name are validated.
func (h *Hook) IsExecutionTool(name string) bool {
	return h.tools[name]
}

// Evaluate returns the decision for one tool invocation.
func (h *Hook) Evaluate(in Input) (d Decision) {
	defer h.recoverBlock(&d)

	if !h.IsExecutionTool(in.ToolName) {
		return Allow()
	}

	raw, ok := in.ToolInput["command"]
	if !ok || raw == nil {
		return Allow()
	}
	command, ok := raw.(string)
	if !ok {
		d = Block(fmt.Sprintf("%s command must be a string, got %T", in.ToolName, raw))
		h.logDecision(uuid.NewString(), "", d)
		return d
	}
	return h.EvaluateCommand(command)
}

// EvaluateCommand returns the decision for a shell command line. Every
// program in the line must be allowed; the first violation blocks.
func (h *Hook) EvaluateCommand(command string) (d Decision) {
	defer h.recoverBlock(&d)

	evalID := uuid.NewString()
	d = h.decide(command)
	h.logDecision(evalID, command, d)
	return d
}

func (h *Hook) decide(command string) Decision {
	segments, err := shell.Extract(command)
	if err != nil {
		cause := apperrors.Wrap(apperrors.CodeParse, "could not validate command", err)
		h.logger.Debug().Err(cause).Str("code", string(cause.Code)).Msg("Command extraction failed")
		return Block(cause.Error())
	}

	for _, seg := range segments {
		entry, ok := h.policy.Lookup(seg.Program)
		if !ok {
			return Block(fmt.Sprintf("%s is not in the allowed commands list", seg.Program))
		}

		switch entry.Mode {
		case policy.Unconditional:
			continue
		case policy.Conditional:
			if entry.Validator == nil {
				return Block(fmt.Sprintf("%s has no validator configured", seg.Program))
			}
			res := entry.Validator.Validate(seg.Text)
			if !res.Allowed {
				reason := res.Reason
				if reason == "" {
					reason = fmt.Sprintf("%s command rejected: %s", seg.Program, seg.Text)
				}
				return Block(reason)
			}
		default:
			return Block(fmt.Sprintf("%s has unknown policy mode %v", seg.Program, entry.Mode))
		}
	}
	return Allow()
}

// EvaluateToolCall returns the decision for an OpenAI-style tool call.
func (h *Hook) EvaluateToolCall(call openai.ToolCall) Decision {
	if !h.IsExecutionTool(call.Function.Name) {
		return Allow()
	}
	in, err := InputFromToolCall(call)
	if err != nil {
		d := Block(fmt.Sprintf("could not validate command: %v", err))
		h.logDecision(uuid.NewString(), call.Function.Arguments, d)
		return d
	}
	return h.Evaluate(in)
}

// Approver adapts the hook to a tool dispatcher's approval callback. Blocked
// calls return false and an error wrapping ErrBlocked with the reason.
func (h *Hook) Approver() ApprovalFunc {
	return func(call openai.ToolCall) (bool, error) {
		d := h.EvaluateToolCall(call)
		if d.Blocked() {
			return false, fmt.Errorf("%w: %s", ErrBlocked, d.Reason)
		}
		return true, nil
	}
}

// InputFromToolCall converts an OpenAI tool call into an Input record.
func InputFromToolCall(call openai.ToolCall) (Input, error) {
	in := Input{
		ToolName:  call.Function.Name,
		ToolInput: map[string]interface{}{},
	}
	args := strings.TrimSpace(call.Function.Arguments)
	if args == "" {
		return in, nil
	}
	if err := json.Unmarshal([]byte(args), &in.ToolInput); err != nil {
		return Input{}, apperrors.Wrap(apperrors.CodeInput, "invalid tool arguments", err)
	}
	return in, nil
}

func (h *Hook) recoverBlock(d *Decision) {
	if r := recover(); r != nil {
		cause := apperrors.New(apperrors.CodeHook, fmt.Sprintf("internal error while validating command: %v", r))
		*d = Block(cause.Error())
		h.logger.Error().Err(cause).Str("code", string(cause.Code)).Interface("panic", r).Msg("Recovered from panic in security hook")
	}
}

func (h *Hook) logDecision(evalID, command string, d Decision) {
	if d.Blocked() {
		h.logger.Warn().
			Str("eval_id", evalID).
			Str("command", command).
			Str("reason", d.Reason).
			Msg("Command blocked")
		return
	}
	h.logger.Debug().
		Str("eval_id", evalID).
		Str("command", command).
		Msg("Command allowed")
}
