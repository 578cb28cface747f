// Package commfile parses the command file: a line-oriented format where
// each non-comment line describes one command to run, with optional
// leading speedup/thread-count tokens followed by a mandatory trailing
// cmd: token and its argv. Grounded on __parse_comm_file/
// __parse_store_argv/parse_comm_file in fairamp.c.
package commfile

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/cdkim/fairamp/pkg/fairamp/env"
)

// ErrEmptyCommand is returned when a line's cmd: token has no argv after
// it — the source silently accepts this (leaving an empty, unusable
// argv); this repository rejects it with a parse error, per the spec's
// design note on the degenerate case.
var ErrEmptyCommand = fmt.Errorf("commfile: cmd: token has no following command")

// ParseError reports the offending line number and the text of that line.
type ParseError struct {
	Line int
	Text string
	Err  error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("commfile: line %d: %v (%q)", e.Line, e.Err, e.Text)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ParseFile reads a command file from path and returns one *env.Command
// per non-comment line, numbered in file order. Grounded on
// parse_comm_file's two-pass read (count then fill); this port parses in
// a single pass since Go slices grow.
func ParseFile(path string) ([]*env.Command, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("commfile: open %s: %w", path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse reads command lines from r.
func Parse(r io.Reader) ([]*env.Command, error) {
	var commands []*env.Command
	scanner := bufio.NewScanner(r)
	lineNo := 0
	num := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.HasPrefix(line, "#") || strings.TrimSpace(line) == "" {
			continue
		}
		c, err := parseLine(line)
		if err != nil {
			return nil, &ParseError{Line: lineNo, Text: line, Err: err}
		}
		c.Num = num
		num++
		commands = append(commands, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("commfile: scan: %w", err)
	}
	return commands, nil
}

// parseLine implements __parse_comm_file's token loop plus
// __parse_store_argv's argv split, grounded on the format documented in
// usage_comm_file: optional "speedup: <float>" and "num: <int>" leading
// tokens, then a mandatory "cmd: <argv...>" trailing token that must be
// the last recognised token on the line.
func parseLine(line string) (*env.Command, error) {
	fields := strings.Fields(line)
	c := &env.Command{SpeedupHint: 1.0, NumThreads: 1}

	i := 0
	for i < len(fields) {
		tok := fields[i]
		switch {
		case tok == "speedup:":
			i++
			if i >= len(fields) {
				return nil, fmt.Errorf("speedup: token has no value")
			}
			v, err := strconv.ParseFloat(fields[i], 64)
			if err != nil {
				return nil, fmt.Errorf("invalid speedup value %q: %w", fields[i], err)
			}
			c.SpeedupHint = v
			i++
		case tok == "num:":
			i++
			if i >= len(fields) {
				return nil, fmt.Errorf("num: token has no value")
			}
			n, err := strconv.Atoi(fields[i])
			if err != nil {
				return nil, fmt.Errorf("invalid num value %q: %w", fields[i], err)
			}
			if n < 1 {
				return nil, fmt.Errorf("invalid num value %d: must be at least 1", n)
			}
			c.NumThreads = n
			i++
		case tok == "cmd:":
			i++
			goto gotCmd
		default:
			return nil, fmt.Errorf("unexpected token %q (expected speedup:, num:, or cmd:)", tok)
		}
	}
	return nil, fmt.Errorf("no cmd: token found")

gotCmd:
	if i >= len(fields) {
		return nil, ErrEmptyCommand
	}
	c.Argv = append([]string{}, fields[i:]...)
	c.Name = commandName(c.Argv[0])
	c.Speedup = c.SpeedupHint
	return c, nil
}

const maxNameLen = 31

// commandName mirrors __parse_store_argv's name truncation: the full
// argv[0] when short enough, otherwise its tail.
func commandName(argv0 string) string {
	if len(argv0) < maxNameLen {
		return argv0
	}
	return argv0[len(argv0)-maxNameLen+1:]
}
