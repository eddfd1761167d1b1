package entity

import "time"

// StockEntry cantidad actual de un producto en una bodega.
// Puede quedar negativa si las salidas superan las llegadas registradas (se reporta como anomalía).
type StockEntry struct {
	WarehouseID string
	ProductID   string
	Quantity    int64
	UpdatedAt   time.Time
}
