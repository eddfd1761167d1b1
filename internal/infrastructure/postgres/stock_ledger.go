package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
)

var _ repository.StockLedger = (*StockLedger)(nil)

// StockLedger implementación de repository.StockLedger sobre PostgreSQL (usable con pool o tx).
type StockLedger struct {
	q  Querier
	tx *TxRunner
}

// NewStockLedger construye el ledger de stock sobre el pool.
func NewStockLedger(pool *pgxpool.Pool) *StockLedger {
	return &StockLedger{q: pool, tx: NewTxRunner(pool)}
}

// ApplyHalf registra el efecto de la mitad y ajusta el stock en la misma transacción.
// Una mitad corregida mueve la diferencia; una mitad bloqueada por RevertMovement no aplica.
func (l *StockLedger) ApplyHalf(ctx context.Context, c entity.StockContribution) (*entity.StockEntry, bool, error) {
	var (
		entry   *entity.StockEntry
		applied bool
	)
	err := l.tx.Run(ctx, "apply half", func(q Querier) error {
		tag, err := q.Exec(ctx, `
			INSERT INTO stock_applications (movement_id, event_kind, warehouse_id, product_id, delta)
			VALUES ($1, $2, $3, $4, $5)
			ON CONFLICT (movement_id, event_kind) DO NOTHING`,
			c.MovementID, string(c.Kind), c.WarehouseID, c.ProductID, c.Delta,
		)
		if err != nil {
			return classify("insert stock application", err)
		}
		if tag.RowsAffected() == 1 {
			applied = true
			if err := addStock(ctx, q, c.WarehouseID, c.ProductID, c.Delta); err != nil {
				return err
			}
		} else {
			var (
				prev     entity.StockContribution
				reverted *time.Time
			)
			if err := q.QueryRow(ctx, `
				SELECT warehouse_id, product_id, delta, reverted_at FROM stock_applications
				WHERE movement_id = $1 AND event_kind = $2
				FOR UPDATE`,
				c.MovementID, string(c.Kind),
			).Scan(&prev.WarehouseID, &prev.ProductID, &prev.Delta, &reverted); err != nil {
				return classify("get stock application", err)
			}
			if reverted == nil && (prev.WarehouseID != c.WarehouseID || prev.ProductID != c.ProductID || prev.Delta != c.Delta) {
				applied = true
				if err := addStock(ctx, q, prev.WarehouseID, prev.ProductID, -prev.Delta); err != nil {
					return err
				}
				if err := addStock(ctx, q, c.WarehouseID, c.ProductID, c.Delta); err != nil {
					return err
				}
				if _, err := q.Exec(ctx, `
					UPDATE stock_applications SET warehouse_id = $3, product_id = $4, delta = $5, applied_at = now()
					WHERE movement_id = $1 AND event_kind = $2`,
					c.MovementID, string(c.Kind), c.WarehouseID, c.ProductID, c.Delta,
				); err != nil {
					return classify("update stock application", err)
				}
			}
		}

		e, err := getEntry(ctx, q, c.WarehouseID, c.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			e, err = &entity.StockEntry{WarehouseID: c.WarehouseID, ProductID: c.ProductID}, nil
		}
		entry = e
		return err
	})
	if err != nil {
		return nil, false, err
	}
	return entry, applied, nil
}

// RevertMovement bloquea ambas mitades (tombstone) y descuenta los efectos aún vigentes.
// Devuelve las filas de stock que cambiaron.
func (l *StockLedger) RevertMovement(ctx context.Context, movementID string) ([]entity.StockEntry, error) {
	var changed []entity.StockEntry
	err := l.tx.Run(ctx, "revert movement", func(q Querier) error {
		if _, err := q.Exec(ctx, `
			INSERT INTO stock_applications (movement_id, event_kind, warehouse_id, product_id, delta, reverted_at)
			VALUES ($1, 'arrival', '', '', 0, now()), ($1, 'departure', '', '', 0, now())
			ON CONFLICT (movement_id, event_kind) DO NOTHING`,
			movementID,
		); err != nil {
			return classify("block stock application", err)
		}

		rows, err := q.Query(ctx, `
			UPDATE stock_applications SET reverted_at = now()
			WHERE movement_id = $1 AND reverted_at IS NULL
			RETURNING warehouse_id, product_id, delta`,
			movementID,
		)
		if err != nil {
			return classify("revert stock applications", err)
		}
		live, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (entity.StockContribution, error) {
			var c entity.StockContribution
			err := row.Scan(&c.WarehouseID, &c.ProductID, &c.Delta)
			return c, err
		})
		if err != nil {
			return classify("revert stock applications", err)
		}

		for _, c := range live {
			if err := addStock(ctx, q, c.WarehouseID, c.ProductID, -c.Delta); err != nil {
				return err
			}
			e, err := getEntry(ctx, q, c.WarehouseID, c.ProductID)
			if err != nil {
				return err
			}
			changed = append(changed, *e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return changed, nil
}

// addStock incremento atómico en la base (sin lectura previa en la aplicación).
func addStock(ctx context.Context, q Querier, warehouseID, productID string, delta int64) error {
	if _, err := q.Exec(ctx, `
		INSERT INTO stock (warehouse_id, product_id, quantity, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (warehouse_id, product_id)
		DO UPDATE SET quantity = stock.quantity + EXCLUDED.quantity, updated_at = now()`,
		warehouseID, productID, delta,
	); err != nil {
		return classify("upsert stock", err)
	}
	return nil
}

// GetEntry devuelve domain.ErrNotFound si el par nunca se observó.
func (l *StockLedger) GetEntry(ctx context.Context, warehouseID, productID string) (*entity.StockEntry, error) {
	return getEntry(ctx, l.q, warehouseID, productID)
}

func getEntry(ctx context.Context, q Querier, warehouseID, productID string) (*entity.StockEntry, error) {
	e := entity.StockEntry{WarehouseID: warehouseID, ProductID: productID}
	err := q.QueryRow(ctx,
		`SELECT quantity, updated_at FROM stock WHERE warehouse_id = $1 AND product_id = $2`,
		warehouseID, productID,
	).Scan(&e.Quantity, &e.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, classify("get stock", err)
	}
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
