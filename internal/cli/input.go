// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// input.go - Line input for prompts and the interactive REPLs.
//
// On a terminal, lines come from liner (history, arrow keys) and passwords
// are read without echo. Otherwise lines are read from the command's input
// stream, which keeps the REPLs scriptable.

package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"golang.org/x/term"

	"github.com/bhassurance/assurbot/internal/config"
)

// ErrAborted is returned when the user presses Ctrl-C at a prompt.
var ErrAborted = errors.New("aborted")

// LineReader reads one line per prompt. io.EOF ends the session.
type LineReader interface {
	ReadLine(prompt string) (string, error)
	ReadPassword(prompt string) (string, error)
	Close() error
}

// newLineReader returns a liner-backed reader when in is the process's
// terminal, a plain reader otherwise. history names a file under the
// config directory.
func newLineReader(in io.Reader, out io.Writer, history string) LineReader {
	if fd, ok := isTerminalReader(in); ok && isTerminalWriter(out) {
		return NewChatCLI(fd, history)
	}
	return &plainReader{in: bufio.NewReader(in), out: out}
}

// =============================================================================
// LINER
// =============================================================================

// ChatCLI provides input history and line editing on a terminal.
type ChatCLI struct {
	line        *liner.State
	fd          int
	historyFile string
}

// NewChatCLI creates a ChatCLI with history loaded from the named file.
func NewChatCLI(fd int, history string) *ChatCLI {
	line := liner.NewLiner()
	line.SetCtrlCAborts(true)

	c := &ChatCLI{line: line, fd: fd}
	if history != "" {
		dir, err := config.ConfigDir()
		if err != nil {
			dir = os.TempDir()
		}
		c.historyFile = filepath.Join(dir, history)
		c.LoadHistory()
	}
	return c
}

// LoadHistory loads command history from file.
func (c *ChatCLI) LoadHistory() {
	if f, err := os.Open(c.historyFile); err == nil {
		_, _ = c.line.ReadHistory(f)
		f.Close()
	}
}

// ReadLine reads a line with history navigation.
func (c *ChatCLI) ReadLine(prompt string) (string, error) {
	input, err := c.line.Prompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrAborted
	}
	if err != nil {
		return "", err
	}
	if strings.TrimSpace(input) != "" && !strings.HasPrefix(input, "/login") {
		c.line.AppendHistory(input)
	}
	return input, nil
}

// ReadPassword reads without echo. Passwords never enter the history.
func (c *ChatCLI) ReadPassword(prompt string) (string, error) {
	pw, err := c.line.PasswordPrompt(prompt)
	if errors.Is(err, liner.ErrPromptAborted) {
		return "", ErrAborted
	}
	return pw, err
}

// SaveHistory persists command history with 0600 permissions.
func (c *ChatCLI) SaveHistory() {
	if c.historyFile == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(c.historyFile), 0700); err != nil {
		return
	}
	f, err := os.OpenFile(c.historyFile, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = c.line.WriteHistory(f)
}

// Close saves history and restores the terminal.
func (c *ChatCLI) Close() error {
	c.SaveHistory()
	return c.line.Close()
}

// =============================================================================
// PLAIN INPUT
// =============================================================================

type plainReader struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *plainReader) ReadLine(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	line, err := p.in.ReadString('\n')
	if err != nil && (line == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func (p *plainReader) ReadPassword(prompt string) (string, error) {
	return p.ReadLine(prompt)
}

func (p *plainReader) Close() error { return nil }

// =============================================================================
// ONE-SHOT PROMPTS
// =============================================================================

// prompter asks for single values outside a REPL.
type prompter struct {
	in  io.Reader
	out io.Writer
	buf *bufio.Reader
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: in, out: out, buf: bufio.NewReader(in)}
}

func (p *prompter) line(prompt string) (string, error) {
	fmt.Fprint(p.out, prompt)
	s, err := p.buf.ReadString('\n')
	if err != nil && (s == "" || !errors.Is(err, io.EOF)) {
		return "", err
	}
	return strings.TrimSpace(s), nil
}

// password reads without echo on a terminal.
func (p *prompter) password(prompt string) (string, error) {
	if fd, ok := isTerminalReader(p.in); ok {
		fmt.Fprint(p.out, prompt)
		pw, err := term.ReadPassword(fd)
		fmt.Fprintln(p.out)
		if err != nil {
			return "", err
		}
		return string(pw), nil
	}
	return p.line(prompt)
}
