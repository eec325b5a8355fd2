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
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/chzyer/readline"
	"github.com/rs/zerolog"

	"cmdgate/internal/config"
	"cmdgate/internal/hook"
	"cmdgate/internal/paths"
)

// Command represents a slash command
type Command struct {
	Name        string
	Description string
}

// getAvailableCommands returns the list of all slash commands
func getAvailableCommands() []Command {
	return []Command{
		{Name: "help", Description: "Show available commands"},
		{Name: "policy", Description: "Show allowed programs and how they are checked"},
		{Name: "debug", Description: "Toggle logging of allowed commands"},
		{Name: "quit", Description: "Exit the application"},
		{Name: "exit", Description: "Exit the application"},
	}
}

// handleCommand processes slash commands, returns true if should quit
func handleCommand(input string, h *hook.Hook, out io.Writer, logger zerolog.Logger, debugMode *bool) bool {
	cmdName := strings.TrimPrefix(input, "/")
	cmdName = strings.ToLower(strings.TrimSpace(cmdName))

	logger.Debug().Str("command", cmdName).Msg("Executing command")

	switch cmdName {
	case "help":
		showHelp(out)
		return false

	case "policy":
		showPolicy(h, out)
		return false

	case "debug":
		*debugMode = !*debugMode
		if *debugMode {
			zerolog.SetGlobalLevel(zerolog.DebugLevel)
			fmt.Fprintln(out, "✓ Debug mode enabled")
		} else {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			fmt.Fprintln(out, "✓ Debug mode disabled")
		}
		return false

	case "quit", "exit":
		return true

	default:
		fmt.Fprintf(out, "✗ Unknown command: /%s (type /help for available commands)\n", cmdName)
		return false
	}
}

func showHelp(out io.Writer) {
	fmt.Fprintln(out, "\nAvailable Commands:")
	for _, cmd := range getAvailableCommands() {
		fmt.Fprintf(out, "  /%-12s - %s\n", cmd.Name, cmd.Description)
	}
	fmt.Fprintln(out, "\nAnything else is checked as a shell command.")
	fmt.Fprintln(out)
}

func showPolicy(h *hook.Hook, out io.Writer) {
	fmt.Fprintln(out, "\nAllowed Programs:")

	p := h.Policy()
	w := tabwriter.NewWriter(out, 0, 8, 2, '\t', 0)
	fmt.Fprintln(w, "Program\tMode")
	fmt.Fprintln(w, "───────\t────")
	for _, name := range p.Names() {
		entry, _ := p.Lookup(name)
		fmt.Fprintf(w, "%s\t%s\n", name, entry.Mode)
	}
	w.Flush()
	fmt.Fprintln(out)
}

// getCommandCompleter builds a readline completer from available commands
func getCommandCompleter() *readline.PrefixCompleter {
	commands := getAvailableCommands()
	items := make([]readline.PrefixCompleterInterface, len(commands))
	for i, cmd := range commands {
		items[i] = readline.PcItem("/" + cmd.Name)
	}
	return readline.NewPrefixCompleter(items...)
}

// handleLine evaluates one REPL line and reports whether the session ends.
func handleLine(line string, h *hook.Hook, out io.Writer, logger zerolog.Logger, debugMode *bool) bool {
	line = strings.TrimSpace(sanitizeInputLine(line))
	if line == "" {
		return false
	}
	if strings.HasPrefix(line, "/") {
		return handleCommand(line, h, out, logger, debugMode)
	}
	fmt.Fprintln(out, verdict(h.EvaluateCommand(line)))
	return false
}

func runREPL(h *hook.Hook, cfg *config.Config, logger zerolog.Logger) int {
	logger.Debug().Msg("Running in interactive mode")

	historyFile := ""
	if cfg.HistoryFile != "" {
		resolved, err := paths.Resolve(cfg.HistoryFile)
		if err != nil {
			logger.Warn().Err(err).Msg("Ignoring history file")
		} else {
			historyFile = resolved
		}
	}

	rl, err := readline.NewEx(&readline.Config{
		Prompt:          "cmdgate❯ ",
		HistoryFile:     historyFile,
		AutoComplete:    getCommandCompleter(),
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		logger.Error().Err(err).Msg("Failed to initialize readline")
		return exitConfig
	}
	defer rl.Close()

	out := rl.Stdout()
	fmt.Fprintln(out, "cmdgate: type a shell command to check it, /help for commands")
	fmt.Fprintln(out)

	debugMode := zerolog.GlobalLevel() <= zerolog.DebugLevel
	for {
		line, err := rl.Readline()
		if err != nil {
			switch classifyReadlineError(line, err) {
			case readlineContinue:
				continue
			case readlineExit:
				logger.Debug().Msg("Readline closed")
			default:
				logger.Error().Err(err).Msg("Readline failed")
			}
			break
		}
		if handleLine(line, h, out, logger, &debugMode) {
			break
		}
	}

	logger.Info().Msg("Session ended")
	return exitAllow
}
