package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
)

var _ repository.StockLedger = (*StockLedger)(nil)

// StockLedger implementación de repository.StockLedger sobre SQLite.
type StockLedger struct {
	s *Store
}

// ApplyHalf registra el efecto de la mitad y ajusta el stock en la misma transacción.
func (l *StockLedger) ApplyHalf(ctx context.Context, c entity.StockContribution) (*entity.StockEntry, bool, error) {
	var (
		entry   *entity.StockEntry
		applied bool
	)
	now := time.Now().UTC()

	err := l.s.withTx(ctx, "apply half", func(tx *sql.Tx) error {
		tag, err := tx.ExecContext(ctx, `
			INSERT INTO stock_applications (movement_id, event_kind, warehouse_id, product_id, delta, applied_at)
			VALUES (?, ?, ?, ?, ?, ?)
			ON CONFLICT (movement_id, event_kind) DO NOTHING`,
			c.MovementID, string(c.Kind), c.WarehouseID, c.ProductID, c.Delta, now,
		)
		if err != nil {
			return classify("insert stock application", err)
		}
		if n, _ := tag.RowsAffected(); n == 1 {
			applied = true
			if err := addStock(ctx, tx, c.WarehouseID, c.ProductID, c.Delta, now); err != nil {
				return err
			}
		} else {
			var (
				prev     entity.StockContribution
				reverted sql.NullTime
			)
			if err := tx.QueryRowContext(ctx, `
				SELECT warehouse_id, product_id, delta, reverted_at FROM stock_applications
				WHERE movement_id = ? AND event_kind = ?`,
				c.MovementID, string(c.Kind),
			).Scan(&prev.WarehouseID, &prev.ProductID, &prev.Delta, &reverted); err != nil {
				return classify("get stock application", err)
			}
			if !reverted.Valid && (prev.WarehouseID != c.WarehouseID || prev.ProductID != c.ProductID || prev.Delta != c.Delta) {
				// Mitad corregida: sale el efecto anterior y entra el nuevo
				applied = true
				if err := addStock(ctx, tx, prev.WarehouseID, prev.ProductID, -prev.Delta, now); err != nil {
					return err
				}
				if err := addStock(ctx, tx, c.WarehouseID, c.ProductID, c.Delta, now); err != nil {
					return err
				}
				if _, err := tx.ExecContext(ctx, `
					UPDATE stock_applications SET warehouse_id = ?, product_id = ?, delta = ?, applied_at = ?
					WHERE movement_id = ? AND event_kind = ?`,
					c.WarehouseID, c.ProductID, c.Delta, now, c.MovementID, string(c.Kind),
				); err != nil {
					return classify("update stock application", err)
				}
			}
		}

		e, err := getEntry(ctx, tx, c.WarehouseID, c.ProductID)
		if errors.Is(err, domain.ErrNotFound) {
			// Mitad bloqueada antes de crear la fila: se reporta en cero
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

// RevertMovement bloquea ambas mitades y descuenta los efectos aún vigentes.
func (l *StockLedger) RevertMovement(ctx context.Context, movementID string) ([]entity.StockEntry, error) {
	var changed []entity.StockEntry
	now := time.Now().UTC()

	err := l.s.withTx(ctx, "revert movement", func(tx *sql.Tx) error {
		for _, kind := range []entity.EventKind{entity.EventArrival, entity.EventDeparture} {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO stock_applications (movement_id, event_kind, warehouse_id, product_id, delta, applied_at, reverted_at)
				VALUES (?, ?, '', '', 0, ?, ?)
				ON CONFLICT (movement_id, event_kind) DO NOTHING`,
				movementID, string(kind), now, now,
			); err != nil {
				return classify("block stock application", err)
			}
		}

		rows, err := tx.QueryContext(ctx, `
			SELECT event_kind, warehouse_id, product_id, delta FROM stock_applications
			WHERE movement_id = ? AND reverted_at IS NULL`, movementID)
		if err != nil {
			return classify("list stock applications", err)
		}
		var live []entity.StockContribution
		for rows.Next() {
			var c entity.StockContribution
			var kind string
			if err := rows.Scan(&kind, &c.WarehouseID, &c.ProductID, &c.Delta); err != nil {
				rows.Close()
				return classify("scan stock application", err)
			}
			c.Kind = entity.EventKind(kind)
			live = append(live, c)
		}
		rows.Close()
		if err := rows.Err(); err != nil {
			return classify("list stock applications", err)
		}

		for _, c := range live {
			if err := addStock(ctx, tx, c.WarehouseID, c.ProductID, -c.Delta, now); err != nil {
				return err
			}
			if _, err := tx.ExecContext(ctx, `
				UPDATE stock_applications SET reverted_at = ? WHERE movement_id = ? AND event_kind = ?`,
				now, movementID, string(c.Kind),
			); err != nil {
				return classify("revert stock application", err)
			}
			e, err := getEntry(ctx, tx, c.WarehouseID, c.ProductID)
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

// GetEntry devuelve domain.ErrNotFound si el par nunca se observó.
func (l *StockLedger) GetEntry(ctx context.Context, warehouseID, productID string) (*entity.StockEntry, error) {
	return getEntry(ctx, l.s.db, warehouseID, productID)
}

// addStock incremento atómico en la base, sin lectura previa en la aplicación.
func addStock(ctx context.Context, tx *sql.Tx, warehouseID, productID string, delta int64, now time.Time) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO stock (warehouse_id, product_id, quantity, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (warehouse_id, product_id)
		DO UPDATE SET quantity = stock.quantity + excluded.quantity, updated_at = excluded.updated_at`,
		warehouseID, productID, delta, now,
	); err != nil {
		return classify("upsert stock", err)
	}
	return nil
}

func getEntry(ctx context.Context, q queryer, warehouseID, productID string) (*entity.StockEntry, error) {
	e := entity.StockEntry{WarehouseID: warehouseID, ProductID: productID}
	err := q.QueryRowContext(ctx,
		`SELECT quantity, updated_at FROM stock WHERE warehouse_id = ? AND product_id = ?`,
		warehouseID, productID,
	).Scan(&e.Quantity, &e.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, classify("get stock", err)
	}
	e.UpdatedAt = e.UpdatedAt.UTC()
	return &e, nil
}
