package transfer

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func drain(t *testing.T, c *Channel) []Event {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var evs []Event
	for {
		ev, err := c.Next(ctx)
		if errors.Is(err, io.EOF) {
			return evs
		}
		require.NoError(t, err)
		evs = append(evs, ev)
	}
}

func TestChannelOrder(t *testing.T) {
	c := NewChannel(8)

	c.Progress(Progress{Transferred: 10, Total: 30})
	c.Entry(DirEntry{Name: "a"})
	c.Progress(Progress{Transferred: 30, Total: 30})
	require.True(t, c.Finish(Outcome{Result: Result{Transferred: 30}}))

	evs := drain(t, c)
	require.Len(t, evs, 4)
	assert.Equal(t, EventProgress, evs[0].Kind)
	assert.Equal(t, EventEntry, evs[1].Kind)
	assert.Equal(t, "a", evs[1].Entry.Name)
	assert.Equal(t, int64(30), evs[2].Progress.Transferred)
	assert.True(t, evs[3].Terminal())
	assert.True(t, evs[3].Outcome.Success())
}

func TestChannelNothingAfterTerminal(t *testing.T) {
	c := NewChannel(4)

	require.True(t, c.Finish(Outcome{Err: ErrCancelled}))
	assert.False(t, c.Finish(Outcome{}), "second finish must be rejected")

	c.Progress(Progress{Transferred: 1})
	c.Entry(DirEntry{Name: "late"})

	evs := drain(t, c)
	require.Len(t, evs, 1)
	assert.True(t, evs[0].Terminal())
	assert.ErrorIs(t, evs[0].Outcome.Err, ErrCancelled)

	_, err := c.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
}

func TestChannelDropsOldestProgressOnly(t *testing.T) {
	c := NewChannel(3)

	c.Entry(DirEntry{Name: "keep-1"})
	for i := 1; i <= 10; i++ {
		c.Progress(Progress{Transferred: int64(i), Total: 10})
	}
	c.Entry(DirEntry{Name: "keep-2"})
	c.Finish(Outcome{})

	evs := drain(t, c)

	var (
		names []string
		last  int64
	)
	for _, ev := range evs {
		switch ev.Kind {
		case EventEntry:
			names = append(names, ev.Entry.Name)
		case EventProgress:
			assert.Greater(t, ev.Progress.Transferred, last, "progress must stay ordered")
			last = ev.Progress.Transferred
		}
	}

	assert.Equal(t, []string{"keep-1", "keep-2"}, names)
	assert.Equal(t, int64(10), last, "newest progress must survive")
	assert.True(t, evs[len(evs)-1].Terminal())
	assert.Positive(t, c.Dropped())
}

func TestChannelProducerNeverBlocks(t *testing.T) {
	c := NewChannel(2)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 10000; i++ {
			c.Progress(Progress{Transferred: int64(i)})
		}
		c.Finish(Outcome{})
	}()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("producer blocked without a consumer")
	}

	o, err := c.Wait(context.Background())
	require.NoError(t, err)
	assert.True(t, o.Success())
}

func TestChannelNextWaitsForProducer(t *testing.T) {
	c := NewChannel(0)

	go func() {
		time.Sleep(20 * time.Millisecond)
		c.Progress(Progress{Transferred: 5, Total: UnknownTotal})
		c.Finish(Outcome{Result: Result{Transferred: 5}})
	}()

	evs := drain(t, c)
	require.Len(t, evs, 2)
	assert.Equal(t, UnknownTotal, evs[0].Progress.Total)
}

func TestChannelNextHonorsContext(t *testing.T) {
	c := NewChannel(1)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := c.Next(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestChannelC(t *testing.T) {
	c := NewChannel(4)
	c.Progress(Progress{Transferred: 1})
	c.Finish(Outcome{Err: NewError(KindTransport, "read", io.ErrUnexpectedEOF)})

	var kinds []EventKind
	for ev := range c.C() {
		kinds = append(kinds, ev.Kind)
	}

	assert.Equal(t, []EventKind{EventProgress, EventDone}, kinds)

	o, ok := c.Outcome()
	require.True(t, ok)
	assert.Equal(t, KindTransport, o.Kind())
}
