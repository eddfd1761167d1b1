package repository

import (
	"context"

	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
)

// AnomalySink destino de anomalías y eventos descartados (dead-letter).
type AnomalySink interface {
	Publish(ctx context.Context, anomaly entity.Anomaly) error
}
