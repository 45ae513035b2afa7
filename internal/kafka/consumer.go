package kafka

import (
	"context"
	"github.com/ariefcatur/go-flashsale-orders/internal/logx"
	"github.com/segmentio/kafka-go"
	"sync"
	"time"
)

// Handler harus return nil hanya jika proses sukses & boleh commit offset.
type Handler func(ctx context.Context, m kafka.Message) error

// Backoff is the wait between handler retries, doubling up to Max.
type Backoff struct {
	Initial time.Duration
	Max     time.Duration
}

var DefaultBackoff = Backoff{Initial: 200 * time.Millisecond, Max: 5 * time.Second}

type Consumer struct {
	r       *kafka.Reader
	topic   string
	workers int
	backoff Backoff
}

func NewConsumer(brokers []string, group, topic string, workers int) *Consumer {
	r := kafka.NewReader(kafka.ReaderConfig{
		Brokers:        brokers,
		GroupID:        group,
		Topic:          topic,
		MinBytes:       1,
		MaxBytes:       10e6,
		CommitInterval: 0, // manual commit
	})
	if workers <= 0 {
		workers = 1
	}
	return &Consumer{r: r, topic: topic, workers: workers, backoff: DefaultBackoff}
}

// Start fetches until ctx ends. Every partition is pinned to one worker and
// a message is retried until the handler accepts it, so the committed
// offset of a partition never passes a message that was not processed.
func (c *Consumer) Start(ctx context.Context, h Handler) error {
	defer c.r.Close()
	log := logx.Ctx(ctx).With().Str("topic", c.topic).Logger()
	ctx = log.WithContext(ctx)

	lanes := make([]chan kafka.Message, c.workers)
	var wg sync.WaitGroup
	for i := range lanes {
		lanes[i] = make(chan kafka.Message, 4)
		wg.Add(1)
		go func(id int, in <-chan kafka.Message) {
			defer wg.Done()
			for m := range in {
				if err := HandleWithRetry(ctx, h, m, c.backoff); err != nil {
					// shutdown: offset tidak di-commit, pesan dikirim ulang
					return
				}
				if err := c.r.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
					log.Error().Err(err).Int("worker", id).Int("partition", m.Partition).Int64("offset", m.Offset).Msg("commit failed")
				}
			}
		}(i, lanes[i])
	}
	defer wg.Wait()
	defer func() {
		for _, l := range lanes {
			close(l)
		}
	}()

	for {
		m, err := c.r.FetchMessage(ctx)
		if err != nil {
			// kecilkan noise saat shutdown
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		select {
		case lanes[WorkerFor(m.Partition, c.workers)] <- m:
		case <-ctx.Done():
			return nil
		}
	}
}

// WorkerFor maps a partition to a fixed worker index.
func WorkerFor(partition, workers int) int {
	if workers <= 1 || partition < 0 {
		return 0
	}
	return partition % workers
}

// HandleWithRetry runs h until it returns nil or ctx ends. It only returns
// an error when ctx is done.
func HandleWithRetry(ctx context.Context, h Handler, m kafka.Message, b Backoff) error {
	wait := b.Initial
	for attempt := 1; ; attempt++ {
		err := h(ctx, m)
		if err == nil {
			return nil
		}
		logx.Ctx(ctx).Error().Err(err).Int("partition", m.Partition).Int64("offset", m.Offset).
			Int("attempt", attempt).Dur("retry_in", wait).Msg("handler failed")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		case <-t.C:
		}
		if wait *= 2; b.Max > 0 && wait > b.Max {
			wait = b.Max
		}
	}
}
