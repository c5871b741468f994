// Package compiler runs the ConTeXt document compiler over rendered sources.
package compiler

import (
	"bytes"
	"context"
	stderrors "errors"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"templater/internal/pkg/errors"
	"templater/internal/pkg/logger"
)

// DefaultCommand is the ConTeXt front end looked up on PATH.
const DefaultCommand = "context"

// maxCapture bounds how much of each output stream is kept on errors.
const maxCapture = 8 << 10

// ConTeXt compiles .tex and .mkiv sources into PDF.
type ConTeXt struct {
	// Command defaults to DefaultCommand.
	Command string
	// Timeout bounds a single run. Zero means no bound.
	Timeout time.Duration
	Log     *logger.Logger
}

// Compile runs "<command> --batchmode <source>" inside workDir and returns
// the path of the produced PDF, which sits next to the source.
func (c *ConTeXt) Compile(ctx context.Context, sourcePath, workDir string) (string, error) {
	log := c.Log
	if log == nil {
		log = logger.Discard()
	}
	log = log.FromContext(ctx).WithComponent("compiler")

	command := c.Command
	if command == "" {
		command = DefaultCommand
	}

	if c.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, command, "--batchmode", sourcePath)
	cmd.Dir = workDir
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = 5 * time.Second

	start := time.Now()
	runErr := cmd.Run()
	exitCode := -1
	if cmd.ProcessState != nil {
		exitCode = cmd.ProcessState.ExitCode()
	}

	log.Debug("compiler finished",
		"command", command,
		"source", sourcePath,
		"exit_code", exitCode,
		"duration_ms", time.Since(start).Milliseconds(),
		"stdout", tail(stdout.String()),
		"stderr", tail(stderr.String()),
	)

	if runErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil && stderrors.Is(ctxErr, context.DeadlineExceeded) {
			runErr = errors.Timeout("compile").WithField("timeout", c.Timeout.String())
		}
		return "", errors.WrapWithCode(runErr, errors.CodeCompilationFailed, "compiler.run", "could not compile file").
			WithFields(map[string]any{
				"source":    sourcePath,
				"exit_code": exitCode,
				"stdout":    tail(stdout.String()),
				"stderr":    tail(stderr.String()),
			})
	}

	out := OutputPath(sourcePath)
	if _, err := os.Stat(out); err != nil {
		return "", errors.WrapWithCode(err, errors.CodeCompilationFailed, "compiler.output", "compiler produced no output").
			WithFields(map[string]any{
				"source":    sourcePath,
				"exit_code": exitCode,
				"stdout":    tail(stdout.String()),
			})
	}
	return out, nil
}

// OutputPath is sourcePath with its extension replaced by .pdf.
func OutputPath(sourcePath string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + ".pdf"
}

// Available reports whether the compiler command can be found.
func (c *ConTeXt) Available() error {
	command := c.Command
	if command == "" {
		command = DefaultCommand
	}
	_, err := exec.LookPath(command)
	return err
}

func tail(s string) string {
	if len(s) <= maxCapture {
		return s
	}
	return "..." + s[len(s)-maxCapture:]
}
