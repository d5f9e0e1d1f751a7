package main

import "github.com/spf13/cobra"

// UsageError is bad or missing command line input. It is reported with the
// command's usage before any work starts.
type UsageError struct {
	Message string
	Hint    string
	cmd     *cobra.Command
}

func (e *UsageError) Error() string {
	msg := e.Message
	if e.Hint != "" {
		msg += "\n\nHint: " + e.Hint
	}
	return msg
}

func usageError(cmd *cobra.Command, msg, hint string) error {
	return &UsageError{Message: msg, Hint: hint, cmd: cmd}
}
