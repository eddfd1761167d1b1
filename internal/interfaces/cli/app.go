package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/jhoicas/warehouse-monitor/internal/application/ingest"
	"github.com/jhoicas/warehouse-monitor/internal/application/reconcile"
	"github.com/jhoicas/warehouse-monitor/internal/application/usecase"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/cache"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/postgres"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/rabbitmq"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/sink"
	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/sqlite"
	"github.com/jhoicas/warehouse-monitor/pkg/config"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// app componentes cableados a partir de la configuración.
type app struct {
	movements repository.MovementLedger
	stock     repository.StockLedger
	cache     repository.ReadCache
	sink      repository.AnomalySink

	reconciler *reconcile.Reconciler
	pipeline   *ingest.Pipeline
	query      *usecase.QueryUseCase

	closers []func() error
}

// openLedgers abre el almacenamiento del driver configurado y aplica el esquema.
func (a *app) openLedgers(ctx context.Context, cfg config.DBConfig) error {
	switch cfg.Driver {
	case config.DriverSQLite:
		store, err := sqlite.Open(cfg.SQLitePath)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, store.Close)
		a.movements, a.stock = store.Movements(), store.Stock()
	case config.DriverPostgres, "":
		pool, err := postgres.NewPool(ctx, cfg)
		if err != nil {
			return err
		}
		a.closers = append(a.closers, func() error { pool.Close(); return nil })
		if err := postgres.Migrate(ctx, pool); err != nil {
			return err
		}
		a.movements, a.stock = postgres.NewMovementLedger(pool), postgres.NewStockLedger(pool)
	default:
		return fmt.Errorf("driver de base de datos desconocido: %q", cfg.Driver)
	}
	return nil
}

// buildApp cablea ledgers, caché, sink, reconciliador, pipeline y consultas.
func buildApp(ctx context.Context, cfg *config.Config, log *logger.Logger) (*app, error) {
	a := &app{cache: cache.Noop{}}
	if err := a.openLedgers(ctx, cfg.DB); err != nil {
		a.Close()
		return nil, err
	}

	if cfg.Redis.Enabled {
		client, err := cache.NewRedisClient(ctx, cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.cache = cache.NewRedisCache(client)
	}

	sinks := sink.Multi{sink.NewLogSink(log)}
	if cfg.RabbitMQ.Enabled() {
		pub, err := rabbitmq.Dial(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange, log)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.closers = append(a.closers, pub.Close)
		sinks = append(sinks, pub)
	}
	a.sink = sinks

	a.reconciler = reconcile.NewReconciler(a.movements, a.stock, a.cache, a.sink, log)
	a.pipeline = ingest.NewPipeline(a.reconciler, a.sink, cfg.Ingest, log)
	a.query = usecase.NewQueryUseCase(a.movements, a.stock, a.cache, cfg.Redis.CacheTTL, log)
	return a, nil
}

// Close libera los recursos en orden inverso de apertura.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	return errors.Join(errs...)
}
