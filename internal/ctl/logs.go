package ctl

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

type LogsOptions struct {
	// Lines keeps only the last N lines of each file. Zero prints everything.
	Lines int
	// Follow streams new lines after the files are printed.
	Follow bool
}

// Logs prints the stored stdout and stderr files of a process, then
// optionally follows its live output.
func (c *Controller) Logs(ctx context.Context, name string, opts LogsOptions) error {
	if name == "" {
		return c.missing("view logs")
	}

	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Disconnect()

	proc, err := cl.Describe(ctx, name)
	if err != nil {
		c.printErr("Failed to describe session with name: %s %v", name, err)
		return &ExitError{Code: ExitFailure, Err: err}
	}

	if data, ok := c.readLog(proc.OutLogPath, opts.Lines); ok {
		c.print("--- STDOUT LOGS ---")
		writeBlock(c.out, data)
	}
	if data, ok := c.readLog(proc.ErrLogPath, opts.Lines); ok {
		c.print("--- STDERR LOGS ---")
		writeBlock(c.errOut, data)
	}

	if !opts.Follow {
		return nil
	}

	bus, err := cl.LaunchBus(ctx)
	if err != nil {
		c.printErr("Error launching log bus: %v", err)
		return &ExitError{Code: ExitFailure, Err: err}
	}
	defer bus.Close()

	return c.follow(ctx, bus, name, 0)
}

func (c *Controller) readLog(path string, lines int) ([]byte, bool) {
	if path == "" {
		return nil, false
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("reading log file", zap.String("path", path), zap.Error(err))
		}
		return nil, false
	}
	return Tail(data, lines), true
}

// Tail returns the last n lines of data. A trailing newline does not count
// as an extra line. n <= 0 returns data unchanged.
func Tail(data []byte, n int) []byte {
	if n <= 0 || len(data) == 0 {
		return data
	}
	end := len(data)
	if data[end-1] == '\n' {
		end--
	}
	i := end
	for count := 0; i > 0; {
		if data[i-1] == '\n' {
			count++
			if count == n {
				break
			}
		}
		i--
	}
	return data[i:]
}

func writeBlock(w io.Writer, data []byte) {
	w.Write(data)
	if !bytes.HasSuffix(data, []byte("\n")) {
		fmt.Fprintln(w)
	}
}
