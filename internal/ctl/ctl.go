// Package ctl holds the pupctl commands. Every operation connects to the
// pupervisord daemon, issues one request, prints the reply and disconnects.
// Failures are reported on the error writer and returned as *ExitError so
// the caller can exit with the matching status.
package ctl

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"go.uber.org/zap"
	"golang.org/x/term"

	"pupctl/internal/client"
)

// Exit statuses.
const (
	ExitOK         = 0
	ExitMissingArg = 1
	ExitFailure    = 2
)

const (
	// DefaultWidth is assumed when stdout is not a terminal.
	DefaultWidth    = 80
	horizontalWidth = 100
)

// ExitError carries the process exit status for a failed operation. The
// user-facing message has already been printed when it is returned.
type ExitError struct {
	Code int
	Err  error
}

func (e *ExitError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("exit status %d", e.Code)
	}
	return e.Err.Error()
}

func (e *ExitError) Unwrap() error {
	return e.Err
}

// ExitCode maps an operation error to a process exit status.
func ExitCode(err error) int {
	if err == nil {
		return ExitOK
	}
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code
	}
	return ExitFailure
}

var errMissingName = errors.New("missing connection name")

type Controller struct {
	addr       string
	out        io.Writer
	errOut     io.Writer
	width      func() int
	now        func() time.Time
	logger     *zap.Logger
	clientOpts []client.Option
}

type Option func(*Controller)

// WithOutput sets where results and errors are printed.
func WithOutput(out, errOut io.Writer) Option {
	return func(c *Controller) {
		c.out = out
		c.errOut = errOut
	}
}

// WithWidth overrides terminal width detection.
func WithWidth(width func() int) Option {
	return func(c *Controller) { c.width = width }
}

func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

func WithLogger(logger *zap.Logger) Option {
	return func(c *Controller) { c.logger = logger }
}

// WithClientOptions is passed to every client.Connect.
func WithClientOptions(opts ...client.Option) Option {
	return func(c *Controller) { c.clientOpts = append(c.clientOpts, opts...) }
}

func New(addr string, opts ...Option) *Controller {
	c := &Controller{
		addr:   addr,
		out:    os.Stdout,
		errOut: os.Stderr,
		width:  func() int { return TerminalWidth(os.Stdout) },
		now:    time.Now,
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// TerminalWidth returns the column count of f, or DefaultWidth when f is not
// a terminal.
func TerminalWidth(f *os.File) int {
	if f == nil || !term.IsTerminal(int(f.Fd())) {
		return DefaultWidth
	}
	w, _, err := term.GetSize(int(f.Fd()))
	if err != nil || w <= 0 {
		return DefaultWidth
	}
	return w
}

func (c *Controller) connect(ctx context.Context) (*client.Client, error) {
	opts := append([]client.Option{client.WithLogger(c.logger)}, c.clientOpts...)
	cl, err := client.Connect(ctx, c.addr, opts...)
	if err != nil {
		c.printErr("Error connecting to pupervisor: %v", err)
		return nil, &ExitError{Code: ExitFailure, Err: err}
	}
	return cl, nil
}

func (c *Controller) missing(verb string) error {
	c.printErr("Please specify a connection name to %s", verb)
	return &ExitError{Code: ExitMissingArg, Err: errMissingName}
}

func (c *Controller) print(format string, args ...interface{}) {
	fmt.Fprintf(c.out, format+"\n", args...)
}

func (c *Controller) printErr(format string, args ...interface{}) {
	fmt.Fprintf(c.errOut, format+"\n", args...)
}
