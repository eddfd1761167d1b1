package dto

import (
	"time"

	"github.com/shopspring/decimal"
)

// MovementResponse respuesta de GET /api/movements/:movement_id.
type MovementResponse struct {
	MovementID             string     `json:"movement_id"`
	ProductID              string     `json:"product_id"`
	SourceWarehouseID      *string    `json:"source_warehouse_id"`      // bodega de la salida
	DestinationWarehouseID *string    `json:"destination_warehouse_id"` // bodega de la llegada
	DepartureTimestamp     *time.Time `json:"departure_timestamp"`
	ArrivalTimestamp       *time.Time `json:"arrival_timestamp"`
	DepartureQuantity      *int64     `json:"departure_quantity"`
	ArrivalQuantity        *int64     `json:"arrival_quantity"`
	// Revisiones > 1: la mitad se corrigió; si ocurrió tras cerrar, métricas y stock
	// reflejan la versión anterior.
	DepartureRevision *int             `json:"departure_revision"`
	ArrivalRevision   *int             `json:"arrival_revision"`
	TransitDurationMs *int64           `json:"transit_duration_ms"`
	TransitSeconds    *decimal.Decimal `json:"transit_seconds"`
	QuantityDelta     *int64           `json:"quantity_delta"`
	State             string           `json:"state"` // pending | completed | inconsistent
	IsComplete        bool             `json:"is_complete"`
	StockApplied      bool             `json:"stock_applied"`
}

// StockResponse respuesta de GET /api/warehouses/:warehouse_id/products/:product_id.
type StockResponse struct {
	WarehouseID string     `json:"warehouse_id"`
	ProductID   string     `json:"product_id"`
	Quantity    int64      `json:"quantity"`
	UpdatedAt   *time.Time `json:"updated_at,omitempty"` // nil si nunca se observó
}
