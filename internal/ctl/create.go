package ctl

import (
	"context"
	"strconv"
	"time"

	"pupctl/internal/models"
)

type CreateOptions struct {
	// Name defaults to the current Unix time in milliseconds.
	Name        string
	Script      string
	Args        []string
	Interpreter string
	Directory   string
	// Timeout stops streaming output after this long. Zero streams until
	// the context is cancelled.
	Timeout time.Duration
}

// Create starts a new named process and streams its output.
func (c *Controller) Create(ctx context.Context, opts CreateOptions) error {
	name := opts.Name
	if name == "" {
		name = strconv.FormatInt(c.now().UnixMilli(), 10)
	}

	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	defer cl.Disconnect()

	bus, err := cl.LaunchBus(ctx)
	if err != nil {
		c.printErr("Error launching log bus: %v", err)
		return &ExitError{Code: ExitFailure, Err: err}
	}
	defer bus.Close()

	_, err = cl.Create(ctx, models.StartRequest{
		Name:        name,
		Script:      opts.Script,
		Args:        opts.Args,
		Interpreter: opts.Interpreter,
		Directory:   opts.Directory,
	})
	if err != nil {
		c.printErr("Failed to start connection: %v", err)
		return &ExitError{Code: ExitFailure, Err: err}
	}

	c.print("Session started with name: %s", name)
	return c.follow(ctx, bus, name, opts.Timeout)
}
