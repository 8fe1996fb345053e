package kafka

import (
	"context"
	"hash/fnv"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-stripe-orders/internal/logx"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
// A failing message is retried with backoff up to MaxAttempts times. After
// that it is logged at error level with its offset and committed, because a
// later offset committed on the same partition would skip it anyway.
type Handler func(ctx context.Context, m kafka.Message) error

const (
	MaxAttempts  = 5
	retryBackoff = 200 * time.Millisecond
)

type reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Consumer struct {
	r       reader
	workers int
	backoff time.Duration
	log     *zap.Logger
}

func NewConsumer(brokers []string, group, topic string, workers int, log *zap.Logger) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	return newConsumer(r, workers, logx.OrNop(log).With(zap.String("topic", topic), zap.String("group", group)))
}

func newConsumer(r reader, workers int, log *zap.Logger) *Consumer {
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, workers: workers, backoff: retryBackoff, log: logx.OrNop(log)}
}

// Start fans messages out to workers by key, so messages sharing a key (one
// order) are handled one at a time in offset order.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()

	queues := make([]chan kafka.Message, c.workers)
	done := make(chan struct{}, c.workers)
	for i := range queues {
		queues[i] = make(chan kafka.Message, 128)
		go func(jobs <-chan kafka.Message) {
			defer func() { done <- struct{}{} }()
			for m := range jobs {
				c.process(ctx, h, m)
			}
		}(queues[i])
	}
	stop := func() {
		for _, q := range queues {
			close(q)
		}
		for range queues {
			<-done
		}
	}

	// dispatcher loop
	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			stop()
			// kecilkan noise saat shutdown
			select {
			case <-ctx.Done():
				return nil
			default:
				return err
			}
		}
		select {
		case queues[workerFor(m.Key, c.workers)] <- m:
		case <-ctx.Done():
			stop()
			return nil
		}
	}
}

func (c *Consumer) process(ctx context.Context, h Handler, m kafka.Message) {
	var err error
	for attempt := 1; attempt <= MaxAttempts; attempt++ {
		if err = h(ctx, m); err == nil {
			break
		}
		c.log.Warn("handler error", zap.Error(err), zap.Int64("offset", m.Offset), zap.Int("attempt", attempt))
		if attempt == MaxAttempts {
			c.log.Error("message skipped after retries",
				zap.Error(err), zap.Int("partition", m.Partition), zap.Int64("offset", m.Offset), zap.ByteString("key", m.Key))
			break
		}
		select {
		case <-time.After(c.backoff * time.Duration(attempt)): // backoff ringan
		case <-ctx.Done():
			return
		}
	}
	if err := c.r.CommitMessages(ctx, m); err != nil {
		c.log.Warn("commit failed", zap.Error(err), zap.Int64("offset", m.Offset))
	}
}

func workerFor(key []byte, n int) int {
	if n <= 1 || len(key) == 0 {
		return 0
	}
	h := fnv.New32a()
	_, _ = h.Write(key)
	return int(h.Sum32() % uint32(n))
}
