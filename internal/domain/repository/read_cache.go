package repository

import (
	"context"
	"time"
)

// ReadCache caché clave-valor con TTL delante de los ledgers.
// Es solo una optimización: sin caché la API responde igual, solo más lento.
type ReadCache interface {
	// Get devuelve found=false en un miss.
	Get(ctx context.Context, key string) (value []byte, found bool, err error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
}

// MovementCacheKey clave del detalle de un movimiento.
func MovementCacheKey(movementID string) string {
	return "movement:" + movementID
}

// StockCacheKey clave del stock de un producto en una bodega.
func StockCacheKey(warehouseID, productID string) string {
	return "stock:" + warehouseID + ":" + productID
}
