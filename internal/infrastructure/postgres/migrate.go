package postgres

import (
	"context"
	_ "embed"
)

//go:embed schema.sql
var schemaSQL string

// Migrate aplica el esquema de los ledgers. Sin argumentos pgx usa el protocolo simple,
// que admite varias sentencias en un solo Exec.
func Migrate(ctx context.Context, q Querier) error {
	if _, err := q.Exec(ctx, schemaSQL); err != nil {
		return classify("aplicar esquema", err)
	}
	return nil
}
