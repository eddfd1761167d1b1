package repository

import (
	"context"

	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
)

// StockLedger puerto para el stock por (bodega, producto).
//
// Cada mitad aporta su efecto una sola vez, registrado en stock_applications con clave
// (movement_id, event_kind) en la misma transacción que el incremento.
type StockLedger interface {
	// ApplyHalf aplica el efecto de una mitad. Reaplicar los mismos hechos es un no-op
	// (applied=false). Si la mitad fue corregida se mueve la diferencia: se descuenta el
	// efecto anterior y se suma el nuevo. Una mitad revertida ya no se aplica.
	// Devuelve la fila de stock de c tras la operación.
	ApplyHalf(ctx context.Context, c entity.StockContribution) (entry *entity.StockEntry, applied bool, err error)
	// RevertMovement deshace los efectos aplicados del movimiento y bloquea los futuros.
	// Idempotente; devuelve las filas que cambiaron.
	RevertMovement(ctx context.Context, movementID string) ([]entity.StockEntry, error)
	// GetEntry devuelve domain.ErrNotFound si la combinación nunca se observó.
	GetEntry(ctx context.Context, warehouseID, productID string) (*entity.StockEntry, error)
}
