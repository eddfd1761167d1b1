// Package cli comandos de línea de comandos: serve, migrate e ingest.
package cli

import (
	"github.com/spf13/cobra"

	"github.com/jhoicas/warehouse-monitor/pkg/config"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// RootOptions estado compartido por todos los subcomandos.
type RootOptions struct {
	LogLevel string

	cfg *config.Config
	log *logger.Logger
}

// NewRootCommand construye el comando raíz con sus subcomandos.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "warehouse-monitor",
		Short: "Reconciliación de movimientos entre bodegas",
		Long: `warehouse-monitor consume eventos de llegada y salida de mercancía,
los empareja por movement_id y mantiene el stock por bodega y producto.`,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return opts.load()
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.LogLevel, "log-level", "", "nivel de log (sobrescribe LOG_LEVEL)")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewIngestCommand(opts))

	return cmd
}

func (o *RootOptions) load() error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	if o.LogLevel != "" {
		cfg.App.LogLevel = o.LogLevel
	}
	o.cfg = cfg
	o.log = logger.New(logger.Config{Env: cfg.App.Env, Level: cfg.App.LogLevel})
	return nil
}
