// Package rabbitmq publica anomalías y eventos descartados en un exchange topic.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// Colas y bindings del exchange de anomalías.
const (
	AnomalyQueue      = "warehouse.anomalies"
	DeadLetterQueue   = "warehouse.deadletter"
	anomalyBinding    = "anomaly.#"
	deadLetterBinding = "deadletter.#"
)

// DefaultConfirmTimeout espera máxima del ack del broker por mensaje.
const DefaultConfirmTimeout = 5 * time.Second

var (
	ErrNacked         = errors.New("el broker rechazó el mensaje (nack)")
	ErrConfirmTimeout = errors.New("sin confirmación del broker")
	ErrChannelClosed  = errors.New("canal rabbitmq cerrado")
)

// Channel subconjunto de *amqp.Channel usado por el publicador (modo confirm).
type Channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Confirm(noWait bool) error
	NotifyPublish(confirm chan amqp.Confirmation) chan amqp.Confirmation
	NotifyClose(c chan *amqp.Error) chan *amqp.Error
	Close() error
}

// ChannelProvider abre un canal nuevo; se invoca al arrancar y cada vez que el anterior se cierra.
type ChannelProvider func() (Channel, error)

var _ repository.AnomalySink = (*AnomalyPublisher)(nil)

// AnomalyPublisher implementación de repository.AnomalySink sobre RabbitMQ.
//
// Cada Publish espera el ack del broker. Si el canal se cierra (NotifyClose), falla un
// publish o vence la confirmación, el canal se descarta y el siguiente Publish abre otro
// con el provider y vuelve a declarar la topología.
type AnomalyPublisher struct {
	mu             sync.Mutex
	open           ChannelProvider
	ch             Channel
	confirms       chan amqp.Confirmation
	closed         chan *amqp.Error
	conn           *amqp.Connection
	exchange       string
	confirmTimeout time.Duration
	log            *logger.Logger
}

// Dial conecta al broker y abre el primer canal. La conexión se rehace si el broker la cerró.
func Dial(url, exchange string, log *logger.Logger) (*AnomalyPublisher, error) {
	p := &AnomalyPublisher{}
	provider := func() (Channel, error) {
		if p.conn == nil || p.conn.IsClosed() {
			conn, err := amqp.Dial(url)
			if err != nil {
				return nil, fmt.Errorf("conectar rabbitmq: %w", err)
			}
			p.conn = conn
		}
		ch, err := p.conn.Channel()
		if err != nil {
			return nil, fmt.Errorf("abrir canal rabbitmq: %w", err)
		}
		return ch, nil
	}
	if err := p.init(provider, exchange, log); err != nil {
		_ = p.Close()
		return nil, err
	}
	return p, nil
}

// NewAnomalyPublisher construye el publicador y abre el primer canal con open.
func NewAnomalyPublisher(open ChannelProvider, exchange string, log *logger.Logger) (*AnomalyPublisher, error) {
	p := &AnomalyPublisher{}
	if err := p.init(open, exchange, log); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *AnomalyPublisher) init(open ChannelProvider, exchange string, log *logger.Logger) error {
	p.open = open
	p.exchange = exchange
	p.confirmTimeout = DefaultConfirmTimeout
	p.log = log.Component("rabbitmq")

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ensureChannel()
}

// SetConfirmTimeout cambia la espera del ack (tests).
func (p *AnomalyPublisher) SetConfirmTimeout(d time.Duration) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if d > 0 {
		p.confirmTimeout = d
	}
}

// ensureChannel descarta un canal cerrado y abre uno nuevo si hace falta. Requiere p.mu.
func (p *AnomalyPublisher) ensureChannel() error {
	if p.ch != nil {
		select {
		case amqpErr, ok := <-p.closed:
			ev := p.log.Warn()
			if ok && amqpErr != nil {
				ev = ev.Int("code", amqpErr.Code).Str("reason", amqpErr.Reason)
			}
			ev.Msg("canal rabbitmq cerrado, se abrirá uno nuevo")
			p.discard()
		default:
			return nil
		}
	}

	ch, err := p.open()
	if err != nil {
		return err
	}
	if err := ch.Confirm(false); err != nil {
		_ = ch.Close()
		return fmt.Errorf("activar modo confirm: %w", err)
	}
	confirms := ch.NotifyPublish(make(chan amqp.Confirmation, 1))
	closed := ch.NotifyClose(make(chan *amqp.Error, 1))
	if err := declareTopology(ch, p.exchange); err != nil {
		_ = ch.Close()
		return err
	}
	p.ch, p.confirms, p.closed = ch, confirms, closed
	return nil
}

// discard suelta el canal actual. Requiere p.mu.
func (p *AnomalyPublisher) discard() {
	if p.ch != nil {
		_ = p.ch.Close()
	}
	p.ch, p.confirms, p.closed = nil, nil, nil
}

// DeclareTopology declara exchange, colas y bindings (idempotente).
func (p *AnomalyPublisher) DeclareTopology() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.ensureChannel(); err != nil {
		return err
	}
	return declareTopology(p.ch, p.exchange)
}

func declareTopology(ch Channel, exchange string) error {
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		return fmt.Errorf("declarar exchange %s: %w", exchange, err)
	}
	for queue, binding := range map[string]string{AnomalyQueue: anomalyBinding, DeadLetterQueue: deadLetterBinding} {
		if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
			return fmt.Errorf("declarar cola %s: %w", queue, err)
		}
		if err := ch.QueueBind(queue, binding, exchange, false, nil); err != nil {
			return fmt.Errorf("bind %s -> %s: %w", queue, binding, err)
		}
	}
	return nil
}

// RoutingKey deadletter.<kind> para eventos descartados, anomaly.<kind> para el resto.
func RoutingKey(kind entity.AnomalyKind) string {
	if kind.DeadLetter() {
		return "deadletter." + string(kind)
	}
	return "anomaly." + string(kind)
}

// Publish envía la anomalía como JSON persistente y espera el ack del broker.
func (p *AnomalyPublisher) Publish(ctx context.Context, a entity.Anomaly) error {
	body, err := json.Marshal(a)
	if err != nil {
		return fmt.Errorf("serializar anomalía: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.ensureChannel(); err != nil {
		return fmt.Errorf("publicar %s: %w", a.Kind, err)
	}
	err = p.ch.PublishWithContext(ctx, p.exchange, RoutingKey(a.Kind), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    a.ID,
		Timestamp:    a.DetectedAt,
		Type:         string(a.Kind),
		Body:         body,
	})
	if err != nil {
		p.discard()
		return fmt.Errorf("publicar %s: %w", a.Kind, err)
	}

	timer := time.NewTimer(p.confirmTimeout)
	defer timer.Stop()
	select {
	case c, ok := <-p.confirms:
		if !ok {
			p.discard()
			return fmt.Errorf("publicar %s: %w", a.Kind, ErrChannelClosed)
		}
		if !c.Ack {
			return fmt.Errorf("publicar %s: %w", a.Kind, ErrNacked)
		}
		return nil
	case <-timer.C:
		// Un ack tardío desalinearía los siguientes: canal nuevo
		p.discard()
		return fmt.Errorf("publicar %s: %w", a.Kind, ErrConfirmTimeout)
	case <-ctx.Done():
		p.discard()
		return fmt.Errorf("publicar %s: %w", a.Kind, ctx.Err())
	}
}

// Close cierra canal y conexión.
func (p *AnomalyPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	if p.ch != nil {
		err = p.ch.Close()
		p.ch = nil
	}
	if p.conn != nil {
		err = errors.Join(err, p.conn.Close())
	}
	return err
}
