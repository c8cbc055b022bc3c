package client

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"pupctl/internal/models"
)

func receive(t *testing.T, bus *Bus) models.LogPacket {
	t.Helper()
	select {
	case p, ok := <-bus.Packets():
		require.True(t, ok, "bus closed early: %v", bus.Err())
		return p
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for bus packet")
	}
	return models.LogPacket{}
}

func TestBusDeliversProcessOutput(t *testing.T) {
	srv, _ := newDaemon(t)
	c := connect(t, srv.URL)
	ctx := context.Background()

	bus, err := c.LaunchBus(ctx)
	require.NoError(t, err)
	defer bus.Close()

	_, err = c.Create(ctx, models.StartRequest{
		Name:   "talker",
		Script: "/bin/sh",
		Args:   []string{"-c", "echo out-line; echo err-line >&2"},
	})
	require.NoError(t, err)

	got := map[string]string{}
	for len(got) < 2 {
		p := receive(t, bus)
		assert.Equal(t, "talker", p.Process.Name)
		got[p.Stream] = p.Data
	}
	assert.Equal(t, "[talker] out-line", got[models.StreamOut])
	assert.Equal(t, "[talker] err-line", got[models.StreamErr])
}

func TestBusParsesEventStream(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": connected\n\n")
		fmt.Fprint(w, "event: log:err\ndata: {\"process\":{\"id\":3,\"name\":\"a\"},\"data\":\"[a] x\"}\n\n")
		fmt.Fprint(w, ": ping\n\n")
		fmt.Fprint(w, "event: process:exit\ndata: {\"process\":{\"id\":3,\"name\":\"a\"},\"data\":\"exited\"}\n\n")
		fmt.Fprint(w, "data: {\"process\":{\"id\":3,\"name\":\"a\"},\"data\":\"unnamed\"}\n\n")
		fmt.Fprint(w, "event: log:out\ndata: not-json\n\n")
		fmt.Fprint(w, "event: log:out\ndata: {\"process\":{\"id\":3,\"name\":\"a\"},\"stream\":\"out\",\"data\":\"[a] y\"}\n\n")
	}))
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	defer c.Disconnect()

	bus, err := c.LaunchBus(context.Background())
	require.NoError(t, err)

	first := receive(t, bus)
	assert.Equal(t, models.StreamErr, first.Stream)
	assert.Equal(t, "[a] x", first.Data)
	assert.Equal(t, 3, first.Process.ID)

	second := receive(t, bus)
	assert.Equal(t, models.StreamOut, second.Stream)
	assert.Equal(t, "[a] y", second.Data)

	_, ok := <-bus.Packets()
	assert.False(t, ok)
	assert.Error(t, bus.Err())
}

func TestBusRejectsNonStreamReply(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c, err := New(srv.URL)
	require.NoError(t, err)
	defer c.Disconnect()

	_, err = c.LaunchBus(context.Background())
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestDisconnectClosesBusesWithoutLeaks(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	srv, _ := newDaemon(t)
	c, err := Connect(context.Background(), srv.URL)
	require.NoError(t, err)

	first, err := c.LaunchBus(context.Background())
	require.NoError(t, err)
	second, err := c.LaunchBus(context.Background())
	require.NoError(t, err)

	c.Disconnect()

	_, ok := <-first.Packets()
	assert.False(t, ok)
	_, ok = <-second.Packets()
	assert.False(t, ok)
	assert.NoError(t, first.Err())

	first.Close()
	srv.Close()
}
