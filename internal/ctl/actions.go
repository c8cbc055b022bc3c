package ctl

import (
	"context"

	"go.uber.org/zap"

	"pupctl/internal/client"
)

type action struct {
	verb    string
	call    func(*client.Client, context.Context, string) error
	success string
}

var (
	deleteAction  = action{verb: "delete", call: (*client.Client).Delete, success: "Connection deleted: %s"}
	stopAction    = action{verb: "stop", call: (*client.Client).Stop, success: "Connection stopped: %s"}
	startAction   = action{verb: "start", call: (*client.Client).Start, success: "Connection started with name: %s"}
	restartAction = action{verb: "restart", call: (*client.Client).Restart, success: "Connection restarted: %s"}
)

// Delete stops the named process if needed and removes it from the daemon.
func (c *Controller) Delete(ctx context.Context, name string) error {
	return c.run(ctx, deleteAction, name)
}

func (c *Controller) Stop(ctx context.Context, name string) error {
	return c.run(ctx, stopAction, name)
}

// Start starts a registered process that is not running.
func (c *Controller) Start(ctx context.Context, name string) error {
	return c.run(ctx, startAction, name)
}

func (c *Controller) Restart(ctx context.Context, name string) error {
	return c.run(ctx, restartAction, name)
}

func (c *Controller) run(ctx context.Context, a action, name string) error {
	if name == "" {
		return c.missing(a.verb)
	}

	cl, err := c.connect(ctx)
	if err != nil {
		return err
	}
	err = a.call(cl, ctx, name)
	cl.Disconnect()

	if err != nil {
		c.logger.Debug("action failed", zap.String("action", a.verb), zap.String("name", name), zap.Error(err))
		c.printErr("Failed to %s connection with name: %s %v", a.verb, name, err)
		return &ExitError{Code: ExitFailure, Err: err}
	}
	c.print(a.success, name)
	return nil
}
