package service

import (
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"pupctl/internal/models"
)

func packet(name, data string) models.LogPacket {
	return models.LogPacket{Process: models.PacketProcess{Name: name}, Stream: models.StreamOut, Data: data, At: time.Now()}
}

func TestLogBusFanOut(t *testing.T) {
	bus := NewLogBus(4)
	a, cancelA := bus.Subscribe()
	b, cancelB := bus.Subscribe()
	defer cancelA()
	defer cancelB()
	assert.Equal(t, 2, bus.Subscribers())

	bus.Publish(packet("x", "[x] hi"))

	assert.Equal(t, "[x] hi", (<-a).Data)
	assert.Equal(t, "[x] hi", (<-b).Data)
}

func TestLogBusDropsForSlowSubscribers(t *testing.T) {
	bus := NewLogBus(2)
	ch, cancel := bus.Subscribe()
	defer cancel()

	for i := 0; i < 5; i++ {
		bus.Publish(packet("x", fmt.Sprint(i)))
	}

	assert.Len(t, ch, 2)
	assert.Equal(t, uint64(3), bus.Dropped())
}

func TestLogBusCancelClosesOnce(t *testing.T) {
	bus := NewLogBus(1)
	ch, cancel := bus.Subscribe()

	cancel()
	cancel()

	_, ok := <-ch
	assert.False(t, ok)
	assert.Zero(t, bus.Subscribers())

	bus.Publish(packet("x", "after cancel"))
}

func TestLogBusConcurrentPublishAndCancel(t *testing.T) {
	bus := NewLogBus(8)
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ch, cancel := bus.Subscribe()
			for j := 0; j < 50; j++ {
				bus.Publish(packet("x", "line"))
				select {
				case <-ch:
				default:
				}
			}
			cancel()
		}()
	}
	wg.Wait()
	assert.Zero(t, bus.Subscribers())
}

func TestLogBufferKeepsNewest(t *testing.T) {
	lb := NewLogBuffer(3)
	for i := 0; i < 5; i++ {
		lb.Add(models.LogEntry{Message: fmt.Sprint(i), Level: "info", Process: "p"})
	}
	lb.Add(models.LogEntry{Message: "boom", Level: "error", Process: "q"})

	last := lb.GetLast(10)
	require.Len(t, last, 3)
	assert.Equal(t, "3", last[0].Message)
	assert.Equal(t, "boom", last[2].Message)

	assert.Empty(t, lb.GetLast(0))
	assert.Len(t, lb.GetByLevel("error", 5), 1)
	assert.Len(t, lb.GetByProcess("p", 5), 2)
	assert.Len(t, lb.GetByProcess("p", 1), 1)
}

func TestLineWriterSplitsLines(t *testing.T) {
	var got []string
	w := newLineWriter(0, func(s string) { got = append(got, s) })

	_, _ = w.Write([]byte("one\ntw"))
	_, _ = w.Write([]byte("o\r\nthree"))
	assert.Equal(t, []string{"one", "two"}, got)

	w.Flush()
	assert.Equal(t, []string{"one", "two", "three"}, got)

	w.Flush()
	assert.Len(t, got, 3)
}

func TestLineWriterCapsLongLines(t *testing.T) {
	var got []string
	w := newLineWriter(4, func(s string) { got = append(got, s) })

	_, _ = w.Write([]byte("abcdefg"))
	assert.Equal(t, []string{"abcdefg"}, got)
}

func TestLineWriterPreservesContent(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		lines := rapid.SliceOfN(rapid.StringMatching(`[a-z ]{0,12}`), 0, 10).Draw(t, "lines")
		chunk := rapid.IntRange(1, 7).Draw(t, "chunk")

		var sb strings.Builder
		for _, l := range lines {
			sb.WriteString(l + "\n")
		}
		data := []byte(sb.String())

		got := []string{}
		w := newLineWriter(0, func(s string) { got = append(got, s) })
		for len(data) > 0 {
			n := min(chunk, len(data))
			_, _ = w.Write(data[:n])
			data = data[n:]
		}
		w.Flush()

		if strings.Join(got, "|") != strings.Join(lines, "|") || len(got) != len(lines) {
			t.Fatalf("got %q, want %q", got, lines)
		}
	})
}
