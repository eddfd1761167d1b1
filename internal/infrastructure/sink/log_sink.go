// Package sink destinos de anomalías que no dependen de un broker.
package sink

import (
	"context"
	"errors"

	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// LogSink escribe cada anomalía como warning estructurado. Nunca falla.
type LogSink struct {
	log *logger.Logger
}

// NewLogSink construye el sink de log.
func NewLogSink(log *logger.Logger) *LogSink {
	return &LogSink{log: log.Component("anomalies")}
}

func (s *LogSink) Publish(_ context.Context, a entity.Anomaly) error {
	ev := s.log.Warn().
		Str("anomaly_id", a.ID).
		Str("kind", string(a.Kind)).
		Bool("dead_letter", a.Kind.DeadLetter()).
		Time("detected_at", a.DetectedAt)
	if a.MovementID != "" {
		ev = ev.Str("movement_id", a.MovementID)
	}
	if a.WarehouseID != "" {
		ev = ev.Str("warehouse_id", a.WarehouseID).Str("product_id", a.ProductID)
	}
	if a.Source != "" {
		ev = ev.Str("source", a.Source)
	}
	ev.Msg(a.Detail)
	return nil
}

// Multi reparte cada anomalía a todos los sinks y une los errores.
type Multi []repository.AnomalySink

func (m Multi) Publish(ctx context.Context, a entity.Anomaly) error {
	var errs []error
	for _, s := range m {
		if err := s.Publish(ctx, a); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
