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
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
	"golang.org/x/term"

	"cmdgate/internal/config"
	"cmdgate/internal/hook"
	"cmdgate/internal/paths"
)

const (
	exitAllow  = 0
	exitBlock  = 1
	exitConfig = 2
)

type options struct {
	configPath string
	debug      bool
	logFile    string
	hookMode   bool
	args       []string
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdin, os.Stdout, os.Stderr))
}

func parseFlags(args []string, stderr io.Writer) (options, error) {
	var opts options
	fs := flag.NewFlagSet("cmdgate", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.StringVar(&opts.configPath, "config", "cmdgate.json", "Config file path (JSON or YAML)")
	fs.BoolVar(&opts.debug, "d", false, "Enable debug mode")
	fs.StringVar(&opts.logFile, "log-file", "", "Log file path (logs disabled by default)")
	fs.BoolVar(&opts.hookMode, "hook", false, "Read one tool call as JSON from stdin and write the decision")
	if err := fs.Parse(args); err != nil {
		return opts, err
	}
	opts.args = fs.Args()
	return opts, nil
}

func run(args []string, stdin io.Reader, stdout, stderr io.Writer) int {
	opts, err := parseFlags(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return exitAllow
	}
	if err != nil {
		return exitConfig
	}

	cfg, err := config.LoadConfig(paths.FindConfig(opts.configPath))
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}
	for _, w := range cfg.Validate() {
		fmt.Fprintf(stderr, "Warning: %s: %s\n", w.Field, w.Message)
	}

	logPath := cfg.LogFile
	if opts.logFile != "" {
		logPath = opts.logFile
	}
	logger, closer, err := initLogger(opts.debug || cfg.Debug, logPath)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}
	if closer != nil {
		defer closer.Close()
	}

	h, err := cfg.Hook(hook.WithLogger(logger))
	if err != nil {
		logger.Error().Err(err).Msg("Failed to build security hook")
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return exitConfig
	}
	logger.Debug().Int("programs", h.Policy().Len()).Msg("cmdgate starting")

	switch {
	case opts.hookMode:
		return runHook(h, stdin, stdout, logger)
	case len(opts.args) > 0:
		return runCheck(h, strings.Join(opts.args, " "), stdout)
	case isTerminal(stdin):
		return runREPL(h, cfg, logger)
	default:
		return runBatch(h, stdin, stdout, logger)
	}
}

func isTerminal(r io.Reader) bool {
	f, ok := r.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

func initLogger(debug bool, logFilePath string) (zerolog.Logger, io.Closer, error) {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if debug {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}

	// stdout carries decisions, so logs go to a file or nowhere
	var output io.Writer = io.Discard
	var closer io.Closer
	if logFilePath != "" {
		resolved, err := paths.Resolve(logFilePath)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("invalid log file path: %w", err)
		}
		file, err := os.OpenFile(resolved, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("failed to open log file: %w", err)
		}
		output = file
		closer = file
	}

	return zerolog.New(output).With().Timestamp().Logger(), closer, nil
}
