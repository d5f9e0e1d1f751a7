// Package logger provides the logging interface used throughout serf.
package logger

import (
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// Logger defines the interface for logging throughout the application.
// Different implementations can be used for different contexts (console, silent, etc.)
type Logger interface {
	Info(msg string, args ...interface{})
	Error(msg string, args ...interface{})
	Debug(msg string, args ...interface{})
}

var (
	infoStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("#8AB4F8")).Bold(true)
	errorStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#EA4335")).Bold(true)
	debugStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#9AA0A6")).Faint(true)
)

// ConsoleLogger writes human-readable logs to stdout/stderr.
// Debug lines are dropped unless debug output was enabled.
type ConsoleLogger struct {
	mu     sync.Mutex
	out    io.Writer
	errOut io.Writer
	debug  bool
}

// NewConsoleLogger returns a logger writing info and debug to stdout and errors to stderr.
func NewConsoleLogger(debug bool) *ConsoleLogger {
	return NewWriterLogger(os.Stdout, os.Stderr, debug)
}

// NewWriterLogger returns a ConsoleLogger writing to the given writers.
func NewWriterLogger(out, errOut io.Writer, debug bool) *ConsoleLogger {
	return &ConsoleLogger{out: out, errOut: errOut, debug: debug}
}

func (c *ConsoleLogger) Info(msg string, args ...interface{}) {
	c.write(c.out, infoStyle.Render("[INFO]"), msg, args)
}

func (c *ConsoleLogger) Error(msg string, args ...interface{}) {
	c.write(c.errOut, errorStyle.Render("[ERROR]"), msg, args)
}

func (c *ConsoleLogger) Debug(msg string, args ...interface{}) {
	if !c.debug {
		return
	}
	c.write(c.out, debugStyle.Render("[DEBUG]"), msg, args)
}

// write serializes output so lines from concurrent jobs never interleave.
func (c *ConsoleLogger) write(w io.Writer, prefix, msg string, args []interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintf(w, prefix+" "+msg+"\n", args...)
}

// SilentLogger discards all log messages.
// Used by tests and by the MCP server, whose stdout carries the protocol.
type SilentLogger struct{}

func NewSilentLogger() *SilentLogger {
	return &SilentLogger{}
}

func (s *SilentLogger) Info(msg string, args ...interface{})  {}
func (s *SilentLogger) Error(msg string, args ...interface{}) {}
func (s *SilentLogger) Debug(msg string, args ...interface{}) {}
