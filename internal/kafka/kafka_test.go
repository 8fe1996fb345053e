package kafka

import (
	"context"
	"encoding/json"
	"errors"
	"sort"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestDecodePayload(t *testing.T) {
	type payload struct {
		OrderID string `json:"order_id"`
	}
	p, err := DecodePayload[payload](json.RawMessage(`{"order_id":"o1"}`))
	require.NoError(t, err)
	assert.Equal(t, "o1", p.OrderID)

	_, err = DecodePayload[payload](json.RawMessage(`{`))
	assert.ErrorContains(t, err, "decode payload")

	for _, raw := range []json.RawMessage{nil, json.RawMessage(`null`)} {
		_, err = DecodePayload[payload](raw)
		assert.ErrorIs(t, err, errEmptyPayload)
	}
}

func TestMustMarshalPanicsOnUnsupported(t *testing.T) {
	assert.Equal(t, []byte(`{"a":1}`), MustMarshal(map[string]int{"a": 1}))
	assert.Panics(t, func() { MustMarshal(make(chan int)) })
}

func TestProducerPublishIsNonBlocking(t *testing.T) {
	p := NewProducer([]string{"localhost:1"}, 1, zaptest.NewLogger(t))

	assert.True(t, p.Publish("order.created", []byte("o1"), []byte("{}")))
	assert.False(t, p.Publish("order.created", []byte("o2"), []byte("{}")), "full inbox drops")

	p.Close()
	p.Close()
	assert.False(t, p.Publish("order.created", []byte("o3"), []byte("{}")), "closed producer drops")
}

type fakeReader struct {
	mu        sync.Mutex
	pending   []kafka.Message
	committed []int64
}

func (f *fakeReader) FetchMessage(ctx context.Context) (kafka.Message, error) {
	f.mu.Lock()
	if len(f.pending) > 0 {
		m := f.pending[0]
		f.pending = f.pending[1:]
		f.mu.Unlock()
		return m, nil
	}
	f.mu.Unlock()
	<-ctx.Done()
	return kafka.Message{}, ctx.Err()
}

func (f *fakeReader) CommitMessages(_ context.Context, msgs ...kafka.Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, m := range msgs {
		f.committed = append(f.committed, m.Offset)
	}
	return nil
}

func (f *fakeReader) Close() error { return nil }

func (f *fakeReader) commits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.committed)
}

func TestConsumerKeepsPerKeyOrder(t *testing.T) {
	r := &fakeReader{}
	keys := []string{"o1", "o2", "o3"}
	for i := 0; i < 30; i++ {
		r.pending = append(r.pending, kafka.Message{Key: []byte(keys[i%3]), Value: []byte(strconv.Itoa(i)), Offset: int64(i)})
	}
	c := newConsumer(r, 4, zaptest.NewLogger(t))

	var mu sync.Mutex
	seen := map[string][]int{}
	h := func(_ context.Context, m kafka.Message) error {
		n, _ := strconv.Atoi(string(m.Value))
		time.Sleep(time.Duration(30-n) * 100 * time.Microsecond) // earlier messages take longer
		mu.Lock()
		seen[string(m.Key)] = append(seen[string(m.Key)], n)
		mu.Unlock()
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx, h) }()
	require.Eventually(t, func() bool { return r.commits() == 30 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)

	for _, k := range keys {
		assert.True(t, sort.IntsAreSorted(seen[k]), "key %s handled out of order: %v", k, seen[k])
		assert.Len(t, seen[k], 10)
	}
}

func TestConsumerRetriesBeforeSkipping(t *testing.T) {
	r := &fakeReader{pending: []kafka.Message{
		{Key: []byte("o1"), Offset: 1},
		{Key: []byte("o2"), Offset: 2},
	}}
	c := newConsumer(r, 1, zaptest.NewLogger(t))
	c.backoff = time.Millisecond

	var mu sync.Mutex
	calls := map[int64]int{}
	h := func(_ context.Context, m kafka.Message) error {
		mu.Lock()
		defer mu.Unlock()
		calls[m.Offset]++
		if m.Offset == 1 && calls[m.Offset] < 3 {
			return errors.New("redis down")
		}
		if m.Offset == 2 {
			return errors.New("always fails")
		}
		return nil
	}

	ctx, cancel := context.WithCancel(context.Background())
	errc := make(chan error, 1)
	go func() { errc <- c.Start(ctx, h) }()
	require.Eventually(t, func() bool { return r.commits() == 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	require.NoError(t, <-errc)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 3, calls[1], "transient failure recovers on retry")
	assert.Equal(t, MaxAttempts, calls[2])
	assert.Equal(t, []int64{1, 2}, r.committed)
}

func TestWorkerForIsStable(t *testing.T) {
	assert.Equal(t, 0, workerFor(nil, 4))
	assert.Equal(t, 0, workerFor([]byte("o1"), 1))
	w := workerFor([]byte("order-42"), 8)
	for i := 0; i < 10; i++ {
		assert.Equal(t, w, workerFor([]byte("order-42"), 8))
	}
}
