package kafka_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jhoicas/warehouse-monitor/internal/application/ingest"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/kafka"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// fakeReader entrega msgs y luego bloquea hasta que ctx se cancele.
type fakeReader struct {
	mu        sync.Mutex
	msgs      []kafkago.Message
	committed []int64
	closed    bool
}

func (r *fakeReader) FetchMessage(ctx context.Context) (kafkago.Message, error) {
	r.mu.Lock()
	if len(r.msgs) > 0 {
		m := r.msgs[0]
		r.msgs = r.msgs[1:]
		r.mu.Unlock()
		return m, nil
	}
	r.mu.Unlock()
	<-ctx.Done()
	return kafkago.Message{}, ctx.Err()
}

func (r *fakeReader) CommitMessages(_ context.Context, msgs ...kafkago.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, m := range msgs {
		r.committed = append(r.committed, m.Offset)
	}
	return nil
}

func (r *fakeReader) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return nil
}

func (r *fakeReader) snapshot() ([]int64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]int64(nil), r.committed...), r.closed
}

type handlerFunc func(ctx context.Context, msg ingest.Message) error

func (f handlerFunc) Handle(ctx context.Context, msg ingest.Message) error { return f(ctx, msg) }

func messages(offsets ...int64) []kafkago.Message {
	var out []kafkago.Message
	for _, o := range offsets {
		out = append(out, kafkago.Message{Topic: "warehouse_movements", Partition: 0, Offset: o, Value: []byte("{}")})
	}
	return out
}

func TestConsumer_ConfirmaTrasProcesar(t *testing.T) {
	reader := &fakeReader{msgs: messages(1, 2, 3)}
	var (
		mu   sync.Mutex
		seen []int64
	)
	ctx, cancel := context.WithCancel(context.Background())
	handler := handlerFunc(func(_ context.Context, msg ingest.Message) error {
		mu.Lock()
		defer mu.Unlock()
		seen = append(seen, msg.Offset)
		if len(seen) == 3 {
			go func() {
				time.Sleep(10 * time.Millisecond)
				cancel()
			}()
		}
		return nil
	})

	c := kafka.NewConsumer(func(int) kafka.Reader { return reader }, 1, handler, logger.Nop())
	require.NoError(t, c.Run(ctx), "el apagado no es un error")

	committed, closed := reader.snapshot()
	assert.Equal(t, []int64{1, 2, 3}, seen, "orden preservado dentro del worker")
	assert.Equal(t, []int64{1, 2, 3}, committed)
	assert.True(t, closed)
}

func TestConsumer_NoConfirmaSiSeInterrumpe(t *testing.T) {
	reader := &fakeReader{msgs: messages(7)}
	ctx, cancel := context.WithCancel(context.Background())
	handler := handlerFunc(func(ctx context.Context, _ ingest.Message) error {
		cancel()
		return ctx.Err()
	})

	c := kafka.NewConsumer(func(int) kafka.Reader { return reader }, 1, handler, logger.Nop())
	require.NoError(t, c.Run(ctx))

	committed, _ := reader.snapshot()
	assert.Empty(t, committed, "el mensaje se reentregará")
}

func TestConsumer_ErrorDelHandlerDetieneLosWorkers(t *testing.T) {
	readers := []*fakeReader{{msgs: messages(1)}, {}}
	handler := handlerFunc(func(context.Context, ingest.Message) error {
		return errors.New("boom")
	})

	c := kafka.NewConsumer(func(n int) kafka.Reader { return readers[n] }, 2, handler, logger.Nop())
	err := c.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")

	for _, r := range readers {
		_, closed := r.snapshot()
		assert.True(t, closed, "cada worker cierra su reader")
	}
}
