package cli

import (
	"context"
	"errors"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/jhoicas/warehouse-monitor/internal/infrastructure/kafka"
	httpRouter "github.com/jhoicas/warehouse-monitor/internal/interfaces/http"
)

const shutdownTimeout = 10 * time.Second

// NewServeCommand levanta la API de consultas y, si hay brokers, los consumidores del stream.
func NewServeCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "serve",
		Short:         "API HTTP y consumidores de Kafka",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			return runServe(parent, root)
		},
	}
}

func runServe(parent context.Context, root *RootOptions) error {
	cfg, log := root.cfg, root.log
	log.Info().
		Str("env", cfg.App.Env).
		Str("app", cfg.App.Name).
		Str("driver", cfg.DB.Driver).
		Msg("iniciando aplicación")

	ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			log.Error().Err(err).Msg("cierre de recursos")
		}
	}()

	deps := httpRouter.RouterDeps{
		AppName: cfg.App.Name,
		HTTP:    cfg.HTTP,
		Query:   a.query,
		Log:     log,
	}
	if cfg.Kafka.Enabled() {
		deps.IngestState = a.pipeline.BreakerState
	}
	server := httpRouter.NewApp(deps)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Listen(cfg.HTTP.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("señal de apagado recibida, cerrando servidor...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return server.ShutdownWithContext(shutdownCtx)
	})

	if cfg.Kafka.Enabled() {
		consumer := kafka.NewConsumer(kafka.NewReaderFactory(cfg.Kafka), cfg.Kafka.Workers, a.pipeline, log)
		g.Go(func() error {
			return consumer.Run(gctx)
		})
	} else {
		log.Warn().Msg("KAFKA_BOOTSTRAP_SERVERS vacío: solo API de consultas")
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	log.Info().Msg("aplicación detenida")
	return nil
}
