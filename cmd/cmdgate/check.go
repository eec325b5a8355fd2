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

package main

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/rs/zerolog"
	"github.com/sashabaranov/go-openai"

	"cmdgate/internal/hook"
)

// maxHookInput bounds the JSON record read in hook mode.
const maxHookInput = 1 << 20

// hookEnvelope sniffs which record shape arrived on stdin.
type hookEnvelope struct {
	ToolName string          `json:"tool_name"`
	Function json.RawMessage `json:"function"`
}

// runHook reads one record, writes one decision and always exits 0; the
// decision itself carries the verdict.
func runHook(h *hook.Hook, stdin io.Reader, stdout io.Writer, logger zerolog.Logger) int {
	d := decodeAndEvaluate(h, stdin, logger)
	if err := json.NewEncoder(stdout).Encode(d); err != nil {
		logger.Error().Err(err).Msg("Failed to write decision")
	}
	return exitAllow
}

func decodeAndEvaluate(h *hook.Hook, stdin io.Reader, logger zerolog.Logger) hook.Decision {
	data, err := io.ReadAll(io.LimitReader(stdin, maxHookInput+1))
	if err != nil {
		return blockInput(logger, fmt.Errorf("read stdin: %w", err))
	}
	if len(data) > maxHookInput {
		return blockInput(logger, fmt.Errorf("input exceeds %d bytes", maxHookInput))
	}
	data = bytes.TrimSpace(data)

	var env hookEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return blockInput(logger, err)
	}

	if len(env.Function) > 0 && env.ToolName == "" {
		var call openai.ToolCall
		if err := json.Unmarshal(data, &call); err != nil {
			return blockInput(logger, err)
		}
		logger.Debug().Str("tool", call.Function.Name).Str("call_id", call.ID).Msg("Tool call received")
		return h.EvaluateToolCall(call)
	}

	var in hook.Input
	if err := json.Unmarshal(data, &in); err != nil {
		return blockInput(logger, err)
	}
	logger.Debug().Str("tool", in.ToolName).Msg("Hook input received")
	return h.Evaluate(in)
}

func blockInput(logger zerolog.Logger, err error) hook.Decision {
	logger.Warn().Err(err).Msg("Undecodable hook input")
	return hook.Block(fmt.Sprintf("could not decode hook input: %v", err))
}

func runCheck(h *hook.Hook, command string, stdout io.Writer) int {
	d := h.EvaluateCommand(command)
	fmt.Fprintln(stdout, verdict(d))
	if d.Blocked() {
		return exitBlock
	}
	return exitAllow
}

// runBatch evaluates one command per line. Blank lines are skipped.
func runBatch(h *hook.Hook, stdin io.Reader, stdout io.Writer, logger zerolog.Logger) int {
	logger.Debug().Msg("Running in batch mode")

	code := exitAllow
	scanner := bufio.NewScanner(stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), maxHookInput)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == "" {
			continue
		}
		d := h.EvaluateCommand(line)
		fmt.Fprintln(stdout, verdict(d))
		if d.Blocked() {
			code = exitBlock
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Error().Err(err).Msg("Error reading input")
		fmt.Fprintf(stdout, "block: error reading input: %v\n", err)
		return exitBlock
	}
	return code
}

func verdict(d hook.Decision) string {
	if d.Blocked() {
		return "block: " + d.Reason
	}
	return "allow"
}
