package cli

import (
	"context"

	"github.com/spf13/cobra"
)

// NewMigrateCommand aplica el esquema del driver configurado y termina.
func NewMigrateCommand(root *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:           "migrate",
		Short:         "Aplica el esquema de los ledgers",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			a := &app{}
			defer a.Close()
			if err := a.openLedgers(ctx, root.cfg.DB); err != nil {
				return err
			}
			root.log.Info().Str("driver", root.cfg.DB.Driver).Msg("esquema aplicado")
			return nil
		},
	}
}
