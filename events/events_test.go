package events

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSub struct{ unsubscribed bool }

func (s *fakeSub) Unsubscribe() error {
	s.unsubscribed = true
	return nil
}

type fakeConn struct {
	mu        sync.Mutex
	published map[string][][]byte
	handler   nats.MsgHandler
	sub       *fakeSub
	failWith  error
	closed    bool
}

func (c *fakeConn) Publish(subject string, data []byte) error {
	if c.failWith != nil {
		return c.failWith
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.published == nil {
		c.published = make(map[string][][]byte)
	}
	c.published[subject] = append(c.published[subject], data)
	if c.handler != nil {
		c.handler(&nats.Msg{Subject: subject, Data: data})
	}
	return nil
}

func (c *fakeConn) Subscribe(_ string, cb nats.MsgHandler) (natsSubscription, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handler = cb
	c.sub = &fakeSub{}
	return c.sub, nil
}

func (c *fakeConn) Close() { c.closed = true }

func TestNATSPublisher_Publish(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn, "", nil)
	assert.Equal(t, "semloop.iteration", p.Subject())

	ev := Event{Type: TypeTransition, TaskID: "t1", From: "EXPLORATION", To: "REASONING", Iteration: 1, Time: time.Unix(100, 0).UTC()}
	require.NoError(t, p.Publish(context.Background(), ev))

	require.Len(t, conn.published["semloop.iteration"], 1)
	got, err := Decode(conn.published["semloop.iteration"][0])
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	require.NoError(t, p.Close())
	assert.True(t, conn.closed)
}

func TestNATSPublisher_PublishErrors(t *testing.T) {
	conn := &fakeConn{failWith: errors.New("no responders")}
	p := newNATSPublisher(conn, "x", nil)
	assert.Error(t, p.Publish(context.Background(), Event{}))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, p.Publish(ctx, Event{}), context.Canceled)
}

func TestNATSPublisher_Subscribe(t *testing.T) {
	conn := &fakeConn{}
	p := newNATSPublisher(conn, "events", nil)

	ctx, cancel := context.WithCancel(context.Background())
	var mu sync.Mutex
	var got []Event
	done := make(chan error, 1)
	go func() {
		done <- p.Subscribe(ctx, func(e Event) {
			mu.Lock()
			got = append(got, e)
			mu.Unlock()
		})
	}()

	require.Eventually(t, func() bool {
		conn.mu.Lock()
		defer conn.mu.Unlock()
		return conn.handler != nil
	}, time.Second, 10*time.Millisecond)

	require.NoError(t, p.Publish(context.Background(), Event{Type: TypeCompleted, TaskID: "t"}))
	conn.handler(&nats.Msg{Subject: "events", Data: []byte("garbage")})

	cancel()
	require.NoError(t, <-done)
	assert.True(t, conn.sub.unsubscribed)

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 1)
	assert.Equal(t, "t", got[0].TaskID)
}

func TestRecorder(t *testing.T) {
	var r Recorder
	require.NoError(t, r.Publish(context.Background(), Event{TaskID: "a"}))
	require.NoError(t, r.Publish(context.Background(), Event{TaskID: "b"}))
	events := r.Events()
	require.Len(t, events, 2)
	assert.Equal(t, "b", events[1].TaskID)
}
