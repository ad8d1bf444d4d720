package events

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type captureSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *captureSink) Emit(_ context.Context, event Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.events = append(s.events, event)
	return nil
}

func (s *captureSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.events)
}

func TestKey(t *testing.T) {
	assert.Equal(t, "event:ACTION_TAKEN:a1", Key(TypeActionTaken, "a1"))
	assert.Equal(t, "event:HAND_STARTED:h1", Key(TypeHandStarted, "h1"))
}

func TestProcessorDelivers(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessor(sink, log.New(io.Discard), 2, 16)

	for i := 0; i < 5; i++ {
		p.Publish(Event{Type: TypeActionTaken, TableID: "t1"})
	}
	require.Eventually(t, func() bool { return sink.count() == 5 }, time.Second, time.Millisecond)
	p.Close()
}

func TestProcessorCloseDrains(t *testing.T) {
	sink := &captureSink{}
	p := NewProcessor(sink, log.New(io.Discard), 1, 16)

	for i := 0; i < 8; i++ {
		p.Publish(Event{Type: TypeHandEnded, TableID: "t1"})
	}
	p.Close()
	assert.Equal(t, 8, sink.count())
}

func TestProcessorSurvivesSinkFailures(t *testing.T) {
	sink := &captureSink{err: errors.New("down")}
	p := NewProcessor(sink, log.New(io.Discard), 1, 16)

	p.Publish(Event{Type: TypeHandStarted, TableID: "t1"})
	p.Close()

	sink2 := &captureSink{}
	p2 := NewProcessor(sink2, log.New(io.Discard), 1, 16)
	p2.Publish(Event{Type: TypeHandStarted, TableID: "t1"})
	p2.Close()
	assert.Equal(t, 1, sink2.count())
}

func TestRecorder(t *testing.T) {
	r := &Recorder{}
	r.Publish(Event{Type: TypePlayerJoined, TableID: "t1"})
	r.Publish(Event{Type: TypePlayerLeft, TableID: "t1"})
	r.Publish(Event{Type: TypePlayerJoined, TableID: "t2"})

	assert.Len(t, r.Events(), 3)
	joined := r.OfType(TypePlayerJoined)
	require.Len(t, joined, 2)
	assert.Equal(t, "t1", joined[0].TableID)
}

func TestHTTPSink(t *testing.T) {
	var gotKey string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/events", r.URL.Path)
		gotKey = r.Header.Get("Idempotency-Key")
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	sink := NewHTTPSink(srv.URL)
	err := sink.Emit(context.Background(), Event{
		Type:           TypeActionTaken,
		TableID:        "t1",
		IdempotencyKey: Key(TypeActionTaken, "a1"),
	})
	require.NoError(t, err)
	assert.Equal(t, "event:ACTION_TAKEN:a1", gotKey)

	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer bad.Close()
	err = NewHTTPSink(bad.URL).Emit(context.Background(), Event{Type: TypeActionTaken})
	assert.Error(t, err)
}
