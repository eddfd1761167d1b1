// Package kafka consume el topic de movimientos con un reader de kafka-go por worker.
package kafka

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	kafkago "github.com/segmentio/kafka-go"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/warehouse-monitor/internal/application/ingest"
	"github.com/jhoicas/warehouse-monitor/pkg/config"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

const commitTimeout = 10 * time.Second

// Reader subconjunto de *kafkago.Reader que usa el consumidor.
type Reader interface {
	FetchMessage(ctx context.Context) (kafkago.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafkago.Message) error
	Close() error
}

// ReaderFactory crea el reader del worker n.
type ReaderFactory func(worker int) Reader

// Handler procesa un mensaje; nil permite confirmar el offset.
type Handler interface {
	Handle(ctx context.Context, msg ingest.Message) error
}

// NewReaderFactory readers del consumer group: offset inicial earliest y commit manual.
func NewReaderFactory(cfg config.KafkaConfig) ReaderFactory {
	return func(int) Reader {
		return kafkago.NewReader(kafkago.ReaderConfig{
			Brokers:     cfg.Brokers,
			GroupID:     cfg.GroupID,
			Topic:       cfg.Topic,
			MinBytes:    cfg.MinBytes,
			MaxBytes:    cfg.MaxBytes,
			MaxWait:     cfg.MaxWait,
			StartOffset: kafkago.FirstOffset,
		})
	}
}

// Consumer reparte el consumo en workers; cada uno procesa sus mensajes en orden.
type Consumer struct {
	newReader ReaderFactory
	workers   int
	handler   Handler
	log       *logger.Logger
}

// NewConsumer construye el consumidor.
func NewConsumer(newReader ReaderFactory, workers int, handler Handler, log *logger.Logger) *Consumer {
	if workers < 1 {
		workers = 1
	}
	return &Consumer{newReader: newReader, workers: workers, handler: handler, log: log.Component("kafka")}
}

// Run bloquea hasta que ctx se cancele o un worker falle.
func (c *Consumer) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for i := 0; i < c.workers; i++ {
		worker := i
		g.Go(func() error {
			return c.work(gctx, worker)
		})
	}
	return g.Wait()
}

func (c *Consumer) work(ctx context.Context, worker int) error {
	r := c.newReader(worker)
	defer func() {
		if err := r.Close(); err != nil {
			c.log.Warn().Err(err).Int("worker", worker).Msg("cerrando reader")
		}
	}()
	log := c.log.With().Int("worker", worker).Logger()
	log.Info().Msg("worker iniciado")

	for {
		m, err := r.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, io.EOF) {
				log.Info().Msg("worker detenido")
				return nil
			}
			return fmt.Errorf("kafka worker %d: fetch: %w", worker, err)
		}

		msg := ingest.Message{Topic: m.Topic, Partition: m.Partition, Offset: m.Offset, Key: m.Key, Value: m.Value}
		if err := c.handler.Handle(ctx, msg); err != nil {
			if ctx.Err() != nil {
				// Apagado en medio de reintentos: sin commit, se reentrega al reiniciar
				log.Info().Str("source", msg.Source()).Msg("worker detenido sin confirmar el mensaje en curso")
				return nil
			}
			return fmt.Errorf("kafka worker %d: %w", worker, err)
		}

		// El commit no debe perderse por el apagado; un commit fallido solo implica reentrega
		cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), commitTimeout)
		err = r.CommitMessages(cctx, m)
		cancel()
		if err != nil {
			log.Warn().Err(err).Str("source", msg.Source()).Msg("no se pudo confirmar el offset")
		}
	}
}
