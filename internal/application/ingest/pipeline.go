// Package ingest convierte mensajes crudos del stream en eventos de dominio y los
// entrega al reconciliador con reintentos, circuit breaker y dead-letter.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sony/gobreaker"

	"github.com/jhoicas/warehouse-monitor/internal/application/reconcile"
	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
	"github.com/jhoicas/warehouse-monitor/pkg/config"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// Message mensaje crudo del stream.
type Message struct {
	Topic     string
	Partition int
	Offset    int64
	Key       []byte
	Value     []byte
}

// Source identifica el origen para anomalías y logs.
func (m Message) Source() string {
	return fmt.Sprintf("%s/%d/%d", m.Topic, m.Partition, m.Offset)
}

// EventReconciler lo que el pipeline necesita del reconciliador.
type EventReconciler interface {
	Reconcile(ctx context.Context, ev entity.DomainEvent) (reconcile.Result, error)
}

// Pipeline normaliza, reconcilia y decide cuándo un mensaje puede confirmarse.
type Pipeline struct {
	rec         EventReconciler
	sink        repository.AnomalySink
	breaker     *gobreaker.CircuitBreaker
	backoff     backoff
	maxAttempts int
	log         *logger.Logger
	now         func() time.Time
}

// NewPipeline construye el pipeline. El breaker solo cuenta como fallo la indisponibilidad del almacenamiento.
func NewPipeline(rec EventReconciler, sink repository.AnomalySink, cfg config.IngestConfig, log *logger.Logger) *Pipeline {
	log = log.Component("ingest")
	p := &Pipeline{
		rec:         rec,
		sink:        sink,
		backoff:     backoff{base: cfg.RetryBase, max: cfg.RetryMax},
		maxAttempts: cfg.MaxAttempts,
		log:         log,
		now:         time.Now,
	}
	if p.maxAttempts < 1 {
		p.maxAttempts = 1
	}
	failures := cfg.BreakerFailures
	if failures == 0 {
		failures = 5
	}
	p.breaker = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "ledger",
		MaxRequests: 1,
		Timeout:     cfg.BreakerOpenDelay,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || !errors.Is(err, domain.ErrStorageUnavailable)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).Msg("cambio de estado del circuit breaker")
		},
	})
	return p
}

// BreakerState estado del circuit breaker ("closed", "open", "half-open").
func (p *Pipeline) BreakerState() string {
	return p.breaker.State().String()
}

// Handle procesa un mensaje. nil significa que puede confirmarse (commit del offset).
// Un error solo se devuelve cuando ctx se cancela durante una espera: el mensaje no debe confirmarse.
func (p *Pipeline) Handle(ctx context.Context, msg Message) error {
	log := p.log.With().Str("source", msg.Source()).Logger()

	ev, err := Normalize(msg.Value)
	if err != nil {
		log.Warn().Err(err).Msg("evento mal formado: se envía a dead-letter")
		return p.deadLetter(ctx, msg, entity.AnomalyMalformedEvent, "", err.Error())
	}
	half := ev.MovementHalf()
	log = log.With().Str("movement_id", half.MovementID).Str("event", string(half.Kind)).Logger()

	// La reconciliación en curso no se corta por el apagado; solo las esperas entre intentos
	work := context.WithoutCancel(ctx)
	failures := 0
	for attempt := 0; ; attempt++ {
		_, err := p.breaker.Execute(func() (interface{}, error) {
			return p.rec.Reconcile(work, ev)
		})
		if err == nil {
			return nil
		}

		if !isTransient(err) {
			failures++
			if failures >= p.maxAttempts {
				log.Error().Err(err).Int("attempts", failures).Msg("reconciliación fallida: se envía a dead-letter")
				return p.deadLetter(ctx, msg, entity.AnomalyUnprocessableEvent, half.MovementID, err.Error())
			}
		}

		wait := p.backoff.delay(attempt)
		log.Warn().Err(err).Int("attempt", attempt+1).Dur("retry_in", wait).Msg("reintentando reconciliación")
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("ingest %s: interrumpido: %w", msg.Source(), err)
		}
	}
}

// deadLetter reintenta hasta que el sink acepte el registro o ctx termine.
func (p *Pipeline) deadLetter(ctx context.Context, msg Message, kind entity.AnomalyKind, movementID, detail string) error {
	a := entity.Anomaly{
		ID:         uuid.NewString(),
		Kind:       kind,
		MovementID: movementID,
		Detail:     detail,
		Payload:    string(msg.Value),
		Source:     msg.Source(),
		DetectedAt: p.now().UTC(),
	}
	for attempt := 0; ; attempt++ {
		err := p.sink.Publish(context.WithoutCancel(ctx), a)
		if err == nil {
			return nil
		}
		wait := p.backoff.delay(attempt)
		p.log.Error().Err(err).Str("source", a.Source).Dur("retry_in", wait).Msg("dead-letter no disponible")
		if err := sleep(ctx, wait); err != nil {
			return fmt.Errorf("dead-letter %s: interrumpido: %w", a.Source, err)
		}
	}
}

func isTransient(err error) bool {
	return errors.Is(err, domain.ErrStorageUnavailable) ||
		errors.Is(err, gobreaker.ErrOpenState) ||
		errors.Is(err, gobreaker.ErrTooManyRequests)
}
