package ctl

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"

	"pupctl/internal/client"
	"pupctl/internal/models"
)

var prefixPattern = regexp.MustCompile(`^\[[^\]]*\]\s*`)

// StripPrefix removes one leading "[...]" block and the whitespace after it.
func StripPrefix(line string) string {
	return prefixPattern.ReplaceAllString(line, "")
}

// follow prints the bus lines of one process until ctx ends or the bus
// closes. A non-zero timeout ends the stream after that long. A bus dropped
// by the daemon is a failure.
func (c *Controller) follow(ctx context.Context, bus *client.Bus, name string, timeout time.Duration) error {
	var expire <-chan time.Time
	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		expire = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-expire:
			return nil
		case p, ok := <-bus.Packets():
			if !ok {
				if err := bus.Err(); err != nil {
					c.logger.Debug("log bus ended", zap.Error(err))
					c.printErr("Error: log stream interrupted: %v", err)
					return &ExitError{Code: ExitFailure, Err: err}
				}
				return nil
			}
			c.printPacket(p, name)
		}
	}
}

func (c *Controller) printPacket(p models.LogPacket, name string) {
	if p.Process.Name != name {
		return
	}
	line := StripPrefix(p.Data)
	if p.Stream == models.StreamErr {
		fmt.Fprintln(c.errOut, line)
		return
	}
	fmt.Fprintln(c.out, line)
}
