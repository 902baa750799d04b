package notify

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"web/clustermap/mapview"
	"web/clustermap/session"
	"web/clustermap/store"
	"web/clustermap/store/memory"
)

// mockReader serves queued messages and reports io.EOF once closed.
type mockReader struct {
	messages chan kafka.Message
	errs     chan error

	mu        sync.Mutex
	committed []int64
	closed    bool
}

func newMockReader() *mockReader {
	return &mockReader{messages: make(chan kafka.Message, 16), errs: make(chan error, 4)}
}

func (r *mockReader) ReadMessage(ctx context.Context) (kafka.Message, error) {
	select {
	case <-ctx.Done():
		return kafka.Message{}, ctx.Err()
	case err := <-r.errs:
		return kafka.Message{}, err
	case msg, ok := <-r.messages:
		if !ok {
			return kafka.Message{}, io.EOF
		}
		return msg, nil
	}
}

func (r *mockReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *mockReader) Close() error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	return nil
}

func (r *mockReader) commits() []int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...)
}

func message(t *testing.T, offset int64, e any) kafka.Message {
	t.Helper()
	v, err := json.Marshal(e)
	require.NoError(t, err)
	return kafka.Message{Topic: "records", Offset: offset, Value: v}
}

func TestConsumerHandlesAndCommits(t *testing.T) {
	r := newMockReader()
	got := make(chan Event, 8)
	c := NewConsumer(r, func(_ context.Context, e Event) error {
		got <- e
		if e.ID == "fail" {
			return errors.New("handler failed")
		}
		return nil
	})

	r.messages <- message(t, 0, Event{Entity: "Place", ID: "a", Op: OpPut})
	r.messages <- kafka.Message{Offset: 1, Value: []byte("{not json")}
	r.messages <- message(t, 2, Event{Entity: "Place", ID: "b", Op: "upsert"})
	r.messages <- message(t, 3, Event{Entity: "Place", ID: "fail", Op: OpDelete})
	close(r.messages)

	c.Start(context.Background())
	first := <-got
	assert.Equal(t, Event{Entity: "Place", ID: "a", Op: OpPut}, first)
	second := <-got
	assert.Equal(t, "fail", second.ID)

	c.Stop()
	c.Stop()
	assert.Equal(t, []int64{0, 1, 2, 3}, r.commits(), "bad and failed events are committed too")
	assert.True(t, r.closed)
	assert.Empty(t, got)
}

func TestConsumerBacksOffOnReadErrors(t *testing.T) {
	r := newMockReader()
	got := make(chan Event, 1)
	c := NewConsumer(r, func(_ context.Context, e Event) error {
		got <- e
		return nil
	})
	c.backoff = time.Millisecond

	r.errs <- errors.New("broker unreachable")
	r.messages <- message(t, 7, Event{Entity: "Place", ID: "x", Op: OpPut})
	c.Start(context.Background())

	select {
	case e := <-got:
		assert.Equal(t, "x", e.ID)
	case <-time.After(5 * time.Second):
		t.Fatal("event not handled after a read error")
	}
	c.Stop()
}

func TestConsumerStopsWithContext(t *testing.T) {
	r := newMockReader()
	c := NewConsumer(r, func(context.Context, Event) error { return nil })
	ctx, cancel := context.WithCancel(context.Background())
	c.Start(ctx)
	cancel()

	done := make(chan struct{})
	go func() {
		c.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("consumer did not stop")
	}
}

type mockWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *mockWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func (w *mockWriter) Close() error { return nil }

func TestPublisher(t *testing.T) {
	w := &mockWriter{}
	p := NewPublisher(w)

	require.NoError(t, p.Publish(context.Background(),
		Event{Entity: "Place", ID: "a", Op: OpPut},
		Event{Entity: "Cafe", ID: "b", Op: OpDelete},
	))
	require.Len(t, w.msgs, 2)
	assert.Equal(t, "Place", string(w.msgs[0].Key))
	var e Event
	require.NoError(t, json.Unmarshal(w.msgs[1].Value, &e))
	assert.Equal(t, Event{Entity: "Cafe", ID: "b", Op: OpDelete}, e)

	assert.Error(t, p.Publish(context.Background(), Event{ID: "no entity", Op: OpPut}))
	assert.NoError(t, p.Publish(context.Background()))

	w.err = errors.New("leader not available")
	assert.ErrorIs(t, p.Publish(context.Background(), Event{Entity: "Place", Op: OpPut}), w.err)
	assert.NoError(t, p.Close())
}

func TestRefreshSessions(t *testing.T) {
	st := memory.New()
	require.NoError(t, st.Dataset("default").Put("Place", store.MapRecord{Key: "a", Values: map[string]any{"lat": 0.0, "lon": 0.0}}))
	factory := func() (*mapview.MapView, error) {
		opts := mapview.DefaultOptions()
		opts.EntityName = "Place"
		opts.LatitudeField = "lat"
		opts.LongitudeField = "lon"
		opts.ZoomOnFirstRefresh = false
		opts.StoreConfiguration = store.Configuration{InMemoryIdentifier: "default"}
		return mapview.New(st, nil, opts)
	}
	m := session.NewManager(factory, 4, 0)
	defer m.Close()
	_, view, err := m.Get("")
	require.NoError(t, err)

	h := RefreshSessions(m)
	require.NoError(t, h(context.Background(), Event{Entity: "Other", ID: "z", Op: OpPut}))
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, view.Settle(ctx))
	assert.Empty(t, view.DisplayedAnnotations())

	require.NoError(t, h(context.Background(), Event{Entity: "Place", ID: "a", Op: OpPut}))
	require.NoError(t, view.Settle(ctx))
	assert.Len(t, view.DisplayedAnnotations(), 1)
}
