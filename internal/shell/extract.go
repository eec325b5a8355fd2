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

// Package shell splits a command line into the programs it would invoke.
//
// Parsing is done with a real bash parser. Only a small, explicit subset of
// the grammar is accepted: simple commands joined by ";", "&&", "||", "|",
// "|&" or "&". Anything whose effect cannot be read off the literal text
// (expansions, substitutions, compound commands, assignments, here-documents)
// is rejected with ErrUnsupported so callers can fail closed.
package shell

import (
	"errors"
	"fmt"
	"path"
	"strings"

	"mvdan.cc/sh/v3/syntax"
)

var (
	// ErrParse indicates the command line is not valid shell syntax.
	ErrParse = errors.New("command could not be parsed")

	// ErrUnsupported indicates the command line uses a construct the extractor does not analyze.
	ErrUnsupported = errors.New("unsupported shell construct")
)

// Connector describes how a segment is joined to the segment before it.
type Connector int

const (
	// ConnectorNone marks the first segment of a line.
	ConnectorNone Connector = iota
	// ConnectorPipe is "|" or "|&".
	ConnectorPipe
	// ConnectorChain is ";", newline, "&&", "||" or "&".
	ConnectorChain
)

func (c Connector) String() string {
	switch c {
	case ConnectorNone:
		return "none"
	case ConnectorPipe:
		return "pipe"
	case ConnectorChain:
		return "chain"
	default:
		return "unknown"
	}
}

// Segment is one program invocation within a command line.
type Segment struct {
	// Program is the base name of the invoked executable.
	Program string
	// Text is the segment as written in the original command line.
	Text string
	// Connector joins this segment to the previous one.
	Connector Connector
}

// Extract returns the segments of line in left-to-right order.
// A blank line yields no segments and no error.
func Extract(line string) ([]Segment, error) {
	if strings.TrimSpace(line) == "" {
		return nil, nil
	}

	file, err := parse(line)
	if err != nil {
		// Retry once without empty segments, e.g. "ls &&" or "ls ; ; pwd".
		cleaned := dropEmptySegments(line)
		if cleaned == line {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		if file, err = parse(cleaned); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrParse, err)
		}
		line = cleaned
	}

	e := &extractor{src: line}
	for i, stmt := range file.Stmts {
		conn := ConnectorChain
		if i == 0 {
			conn = ConnectorNone
		}
		if err := e.stmt(stmt, conn); err != nil {
			return nil, err
		}
	}
	return e.segments, nil
}

func parse(line string) (*syntax.File, error) {
	parser := syntax.NewParser(syntax.KeepComments(false), syntax.Variant(syntax.LangBash))
	return parser.Parse(strings.NewReader(line), "")
}

type piece struct {
	conn string
	body string
}

// dropEmptySegments removes connectors that join nothing. Quotes, escapes and
// the redirections >&, <&, &> and >| are not split. Words are never removed,
// so every program in line is still present in the result.
func dropEmptySegments(line string) string {
	var pieces []piece
	var body strings.Builder
	conn := ""
	var quote byte
	flush := func(next string) {
		pieces = append(pieces, piece{conn: conn, body: body.String()})
		body.Reset()
		conn = next
	}

	for i := 0; i < len(line); i++ {
		c := line[i]
		var next, prev byte
		if i+1 < len(line) {
			next = line[i+1]
		}
		if i > 0 {
			prev = line[i-1]
		}
		switch {
		case quote != 0:
			body.WriteByte(c)
			if c == '\\' && quote == '"' && next != 0 {
				i++
				body.WriteByte(next)
			} else if c == quote {
				quote = 0
			}
		case c == '\\' && next != 0:
			body.WriteByte(c)
			body.WriteByte(next)
			i++
		case c == '\'' || c == '"':
			quote = c
			body.WriteByte(c)
		case c == ';' || c == '\n':
			flush(string(c))
		case c == '&' && (prev == '>' || prev == '<' || next == '>'):
			body.WriteByte(c)
		case c == '|' && prev == '>':
			body.WriteByte(c)
		case c == '&' || c == '|':
			op := string(c)
			if next == '&' || (c == '|' && next == '|') {
				op += string(next)
				i++
			}
			flush(op)
		default:
			body.WriteByte(c)
		}
	}
	flush("")

	var sb strings.Builder
	for _, p := range pieces {
		if strings.TrimSpace(p.body) == "" {
			continue
		}
		if sb.Len() > 0 {
			sb.WriteString(p.conn)
		}
		sb.WriteString(p.body)
	}
	return sb.String()
}

// Commands returns the program names invoked by line, duplicates included.
func Commands(line string) ([]string, error) {
	segments, err := Extract(line)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(segments))
	for _, seg := range segments {
		names = append(names, seg.Program)
	}
	return names, nil
}

// ProgramName strips any directory from a command token.
func ProgramName(token string) string {
	if token == "" {
		return ""
	}
	base := path.Base(token)
	if base == "/" || base == "." {
		return ""
	}
	return base
}

type extractor struct {
	src      string
	segments []Segment
}

func (e *extractor) stmt(s *syntax.Stmt, conn Connector) error {
	if s.Coprocess {
		return unsupported("coprocess")
	}
	for _, r := range s.Redirs {
		if err := checkRedirect(r); err != nil {
			return err
		}
	}
	if s.Cmd == nil {
		// Redirection only, e.g. "> file".
		return nil
	}

	switch cmd := s.Cmd.(type) {
	case *syntax.CallExpr:
		return e.call(cmd, conn)
	case *syntax.BinaryCmd:
		if err := e.stmt(cmd.X, conn); err != nil {
			return err
		}
		next := ConnectorChain
		if cmd.Op == syntax.Pipe || cmd.Op == syntax.PipeAll {
			next = ConnectorPipe
		}
		return e.stmt(cmd.Y, next)
	case *syntax.Subshell:
		return unsupported("subshell")
	case *syntax.Block:
		return unsupported("command group")
	case *syntax.IfClause, *syntax.WhileClause, *syntax.ForClause, *syntax.CaseClause:
		return unsupported("control flow")
	case *syntax.FuncDecl:
		return unsupported("function declaration")
	case *syntax.DeclClause:
		return unsupported(cmd.Variant.Value)
	case *syntax.LetClause:
		return unsupported("let")
	case *syntax.TimeClause:
		return unsupported("time")
	case *syntax.CoprocClause:
		return unsupported("coproc")
	case *syntax.ArithmCmd:
		return unsupported("arithmetic command")
	case *syntax.TestClause:
		return unsupported("test clause")
	default:
		return unsupported(fmt.Sprintf("%T", cmd))
	}
}

func (e *extractor) call(call *syntax.CallExpr, conn Connector) error {
	if len(call.Assigns) > 0 {
		return unsupported("variable assignment")
	}
	for _, w := range call.Args {
		if err := checkWord(w); err != nil {
			return err
		}
	}

	program := ""
	for _, w := range call.Args {
		token, err := literal(w)
		if err != nil {
			return err
		}
		if strings.HasPrefix(token, "-") {
			continue
		}
		program = ProgramName(token)
		break
	}
	if program == "" {
		return fmt.Errorf("%w: no program name in %q", ErrUnsupported, e.text(call))
	}

	e.segments = append(e.segments, Segment{
		Program:   program,
		Text:      e.text(call),
		Connector: conn,
	})
	return nil
}

func (e *extractor) text(n syntax.Node) string {
	start, end := int(n.Pos().Offset()), int(n.End().Offset())
	if start < 0 || end > len(e.src) || start > end {
		return ""
	}
	return strings.TrimSpace(e.src[start:end])
}

func checkRedirect(r *syntax.Redirect) error {
	switch r.Op {
	case syntax.Hdoc, syntax.DashHdoc:
		return unsupported("here-document")
	}
	if r.Word != nil {
		if err := checkWord(r.Word); err != nil {
			return err
		}
	}
	return nil
}

// checkWord rejects any part of a word whose value is only known at run time.
func checkWord(w *syntax.Word) error {
	var err error
	syntax.Walk(w, func(node syntax.Node) bool {
		if err != nil {
			return false
		}
		switch n := node.(type) {
		case *syntax.CmdSubst:
			err = unsupported("command substitution")
		case *syntax.ProcSubst:
			err = unsupported("process substitution")
		case *syntax.ParamExp:
			err = unsupported("parameter expansion")
		case *syntax.ArithmExp:
			err = unsupported("arithmetic expansion")
		case *syntax.SglQuoted:
			if n.Dollar {
				err = unsupported("ANSI-C quoting")
			}
		case *syntax.DblQuoted:
			if n.Dollar {
				err = unsupported("locale quoting")
			}
		}
		return err == nil
	})
	return err
}

// literal resolves a word made only of literal text and quotes.
func literal(w *syntax.Word) (string, error) {
	var sb strings.Builder
	for _, part := range w.Parts {
		switch p := part.(type) {
		case *syntax.Lit:
			sb.WriteString(unescape(p.Value))
		case *syntax.SglQuoted:
			sb.WriteString(p.Value)
		case *syntax.DblQuoted:
			for _, inner := range p.Parts {
				lit, ok := inner.(*syntax.Lit)
				if !ok {
					return "", unsupported("expansion inside double quotes")
				}
				sb.WriteString(unescapeQuoted(lit.Value))
			}
		default:
			return "", unsupported(fmt.Sprintf("%T in command word", part))
		}
	}
	return sb.String(), nil
}

func unescape(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			i++
			if s[i] == '\n' {
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

// unescapeQuoted applies the backslash rules that hold inside double quotes.
func unescapeQuoted(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	var sb strings.Builder
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case '"', '\\', '$', '`':
				i++
			case '\n':
				i++
				continue
			}
		}
		sb.WriteByte(s[i])
	}
	return sb.String()
}

func unsupported(what string) error {
	return fmt.Errorf("%w: %s", ErrUnsupported, what)
}
