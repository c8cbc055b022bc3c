package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"

	"go.uber.org/zap"

	"pupctl/internal/models"
)

const maxEventBytes = 1 << 20

const (
	eventOut = "log:out"
	eventErr = "log:err"
)

// Bus is a live subscription to the daemon's log bus.
type Bus struct {
	client  *Client
	cancel  context.CancelFunc
	packets chan models.LogPacket
	done    chan struct{}

	once sync.Once
	mu   sync.Mutex
	err  error
}

// LaunchBus opens the log bus. It returns once the daemon has accepted the
// subscription, so packets emitted after that point are delivered.
func (c *Client) LaunchBus(ctx context.Context) (*Bus, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	c.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.endpoint("/api/bus"), nil)
	if err != nil {
		cancel()
		return nil, err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := c.long.Do(req)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("opening log bus: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		cancel()
		return nil, &APIError{StatusCode: resp.StatusCode, Err: "log bus unavailable"}
	}

	b := &Bus{
		client:  c,
		cancel:  cancel,
		packets: make(chan models.LogPacket, 64),
		done:    make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		resp.Body.Close()
		cancel()
		return nil, ErrClosed
	}
	c.buses[b] = struct{}{}
	c.mu.Unlock()

	// The daemon writes a comment as soon as the subscription exists.
	// Reading it here means LaunchBus returns only after that point.
	reader := bufio.NewReaderSize(resp.Body, 4096)
	if _, err := reader.Peek(1); err != nil {
		c.mu.Lock()
		delete(c.buses, b)
		c.mu.Unlock()
		resp.Body.Close()
		cancel()
		return nil, fmt.Errorf("opening log bus: %w", err)
	}

	go b.read(ctx, reader, resp)
	c.logger.Debug("log bus launched")
	return b, nil
}

// Packets yields bus packets until the bus is closed or the stream ends.
func (b *Bus) Packets() <-chan models.LogPacket {
	return b.packets
}

// Err reports why the stream ended. It is nil after a normal Close.
func (b *Bus) Err() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.err
}

// Close ends the subscription and waits for the reader to stop.
func (b *Bus) Close() {
	b.once.Do(func() {
		b.cancel()
		b.client.mu.Lock()
		delete(b.client.buses, b)
		b.client.mu.Unlock()
	})
	<-b.done
}

func (b *Bus) setErr(err error) {
	b.mu.Lock()
	b.err = err
	b.mu.Unlock()
}

func (b *Bus) read(ctx context.Context, r *bufio.Reader, resp *http.Response) {
	defer close(b.done)
	defer close(b.packets)
	defer resp.Body.Close()

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 4096), maxEventBytes)

	var event string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(data) > 0 {
				if !b.dispatch(ctx, event, strings.Join(data, "\n")) {
					return
				}
			}
			event, data = "", nil
		case strings.HasPrefix(line, ":"):
		case strings.HasPrefix(line, "event:"):
			event = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}

	err := scanner.Err()
	if ctx.Err() != nil {
		return
	}
	if err == nil {
		err = errors.New("log bus closed by daemon")
	}
	b.setErr(err)
	b.client.logger.Debug("log bus ended", zap.Error(err))
}

func (b *Bus) dispatch(ctx context.Context, event, data string) bool {
	var stream string
	switch event {
	case eventOut:
		stream = models.StreamOut
	case eventErr:
		stream = models.StreamErr
	default:
		b.client.logger.Debug("skipping bus event", zap.String("event", event))
		return true
	}

	var p models.LogPacket
	if err := json.Unmarshal([]byte(data), &p); err != nil {
		b.client.logger.Debug("skipping malformed bus event", zap.String("event", event), zap.Error(err))
		return true
	}
	if p.Stream == "" {
		p.Stream = stream
	}
	select {
	case b.packets <- p:
		return true
	case <-ctx.Done():
		return false
	}
}
