// Package common holds small helpers shared by backend adapters.
package common

import (
	"errors"
	"io"
	"os"
	"os/exec"
	"strings"

	"github.com/lemonade-sdk/lemonade/pkg/internal/utils"
	"github.com/lemonade-sdk/lemonade/pkg/logging"
)

// SanitizedArgsLog logs command arguments with sanitization for safe logging.
func SanitizedArgsLog(log logging.Logger, label string, args []string) {
	sanitizedArgs := make([]string, len(args))
	for i, arg := range args {
		sanitizedArgs[i] = utils.SanitizeForLog(arg)
	}
	log.Info(label, "args", sanitizedArgs)
}

// HandleSocketCleanup removes the socket file at the given path, ignoring if
// it doesn't exist.
func HandleSocketCleanup(socket string) error {
	if err := os.RemoveAll(socket); err != nil && !errors.Is(err, os.ErrNotExist) {
		return err
	}
	return nil
}

// ProcessExitHandler waits on cmd and captures its output for error
// reporting. It closes serverLogStream before reading the tail buffer so
// that any buffered output has already been flushed.
func ProcessExitHandler(
	log logging.Logger,
	cmd *exec.Cmd,
	tailBuf io.Reader,
	serverLogStream io.Closer,
) error {
	serverLogStream.Close()

	errOutput := new(strings.Builder)
	if _, err := io.Copy(errOutput, tailBuf); err != nil {
		log.Warn("failed to read server output tail", "error", err)
	}

	cmdErr := cmd.Wait()
	outputStr := errOutput.String()
	if len(outputStr) != 0 {
		return &BackendExitError{Err: cmdErr, Output: outputStr}
	}
	return cmdErr
}

// BackendExitError represents an error when a backend process exits.
type BackendExitError struct {
	Err    error
	Output string
}

func (e *BackendExitError) Error() string {
	if e.Output != "" {
		return e.Err.Error() + "\nwith output: " + e.Output
	}
	return e.Err.Error()
}

func (e *BackendExitError) Unwrap() error { return e.Err }

// SplitArgs splits a string into arguments, respecting quoted arguments.
func SplitArgs(s string) []string {
	var args []string
	var currentArg strings.Builder
	inQuotes := false

	for _, r := range s {
		switch {
		case r == '"' || r == '\'':
			inQuotes = !inQuotes
		case r == ' ' && !inQuotes:
			if currentArg.Len() > 0 {
				args = append(args, currentArg.String())
				currentArg.Reset()
			}
		default:
			currentArg.WriteRune(r)
		}
	}

	if currentArg.Len() > 0 {
		args = append(args, currentArg.String())
	}

	return args
}
