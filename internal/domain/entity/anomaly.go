package entity

import "time"

// AnomalyKind tipos de registro enviados al sink de anomalías / dead-letter.
type AnomalyKind string

const (
	AnomalyMalformedEvent       AnomalyKind = "malformed_event"
	AnomalyUnprocessableEvent   AnomalyKind = "unprocessable_event" // falló MaxAttempts veces sin ser transitorio
	AnomalyInconsistentMovement AnomalyKind = "inconsistent_movement"
	AnomalyQuantityMismatch     AnomalyKind = "quantity_mismatch"
	AnomalyHalfCorrected        AnomalyKind = "half_corrected"
	AnomalyNegativeStock        AnomalyKind = "negative_stock"
)

// DeadLetter indica si el registro corresponde a un evento descartado (no a una anomalía de negocio).
func (k AnomalyKind) DeadLetter() bool {
	return k == AnomalyMalformedEvent || k == AnomalyUnprocessableEvent
}

// Anomaly registro para inspección de operadores.
type Anomaly struct {
	ID          string      `json:"id"`
	Kind        AnomalyKind `json:"kind"`
	MovementID  string      `json:"movement_id,omitempty"`
	WarehouseID string      `json:"warehouse_id,omitempty"`
	ProductID   string      `json:"product_id,omitempty"`
	Detail      string      `json:"detail"`
	Payload     string      `json:"payload,omitempty"` // mensaje crudo (puede no ser JSON válido)
	Source      string      `json:"source,omitempty"`  // topic/partition/offset del mensaje de origen
	DetectedAt  time.Time   `json:"detected_at"`
}
