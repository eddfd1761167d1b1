package entity

import "time"

// EventKind tipo de mitad de un movimiento.
type EventKind string

const (
	EventArrival   EventKind = "arrival"   // llegada a bodega
	EventDeparture EventKind = "departure" // salida de bodega
)

// ParseEventKind valida el tipo de evento (ya normalizado a minúsculas).
func ParseEventKind(s string) (EventKind, bool) {
	switch EventKind(s) {
	case EventArrival, EventDeparture:
		return EventKind(s), true
	}
	return "", false
}

// MovementState estado derivado de un movimiento.
type MovementState string

const (
	MovementPending      MovementState = "pending"
	MovementCompleted    MovementState = "completed"
	MovementInconsistent MovementState = "inconsistent"
)

// MovementHalf una mitad observada (llegada o salida) de un movimiento.
// Clave de idempotencia: (MovementID, Kind).
type MovementHalf struct {
	MovementID  string
	WarehouseID string
	ProductID   string
	Kind        EventKind
	Quantity    int64
	ObservedAt  time.Time // timestamp del evento, no de ingesta
	EnvelopeID  string
	Revision    int
	ReceivedAt  time.Time
}

// SameFacts indica si dos mitades con la misma clave describen los mismos hechos.
// Si no, la segunda es una corrección.
func (h MovementHalf) SameFacts(o MovementHalf) bool {
	return h.WarehouseID == o.WarehouseID &&
		h.ProductID == o.ProductID &&
		h.Quantity == o.Quantity &&
		h.ObservedAt.Equal(o.ObservedAt)
}

// Movement unión lógica de hasta dos mitades con el mismo movement_id.
type Movement struct {
	ID        string
	Arrival   *MovementHalf
	Departure *MovementHalf

	// CompletedAt se fija una sola vez cuando se otorga el token de completitud.
	CompletedAt *time.Time
	// OutcomeAt se fija cuando se persiste el resultado (métricas o inconsistencia).
	OutcomeAt       *time.Time
	Inconsistent    bool
	TransitDuration *time.Duration
	QuantityDelta   *int64
	// StockAppliedAt se fija cuando el stock quedó conciliado: ambas mitades aplicadas,
	// o revertidas si el movimiento es inconsistente.
	StockAppliedAt *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Half devuelve la mitad del tipo indicado (nil si aún no llegó).
func (m *Movement) Half(kind EventKind) *MovementHalf {
	switch kind {
	case EventArrival:
		return m.Arrival
	case EventDeparture:
		return m.Departure
	}
	return nil
}

// HasBothHalves indica si llegaron la salida y la llegada.
func (m *Movement) HasBothHalves() bool {
	return m.Arrival != nil && m.Departure != nil
}

// State deriva el estado: el resultado persistido manda sobre las mitades
// (una corrección posterior no reabre un movimiento ya resuelto).
func (m *Movement) State() MovementState {
	if m.OutcomeAt != nil {
		if m.Inconsistent {
			return MovementInconsistent
		}
		return MovementCompleted
	}
	if !m.HasBothHalves() {
		return MovementPending
	}
	if !HalvesAgree(*m.Arrival, *m.Departure) {
		return MovementInconsistent
	}
	return MovementCompleted
}

// StockApplied indica si el efecto del movimiento completo quedó en el stock.
func (m *Movement) StockApplied() bool {
	return m.StockAppliedAt != nil && !m.Inconsistent
}

// Resolved indica si el resultado ya se persistió (completado o inconsistente).
func (m *Movement) Resolved() bool {
	return m.OutcomeAt != nil
}

// AcceptsHalfStock indica si una mitad recién ingerida puede aplicar su efecto al stock:
// solo mientras el movimiento no esté resuelto y sus mitades no se contradigan.
func (m *Movement) AcceptsHalfStock() bool {
	if m.Resolved() {
		return false
	}
	return !m.HasBothHalves() || HalvesAgree(*m.Arrival, *m.Departure)
}

// NeedsFinalization: completado (token otorgado) pero con resultado o stock sin conciliar,
// típico de un reintento tras una caída a mitad de la reconciliación.
func (m *Movement) NeedsFinalization() bool {
	if m.CompletedAt == nil || !m.HasBothHalves() {
		return false
	}
	return m.OutcomeAt == nil || m.StockAppliedAt == nil
}

// HalvesAgree valida que ambas mitades hablen de la misma bodega y producto.
func HalvesAgree(arrival, departure MovementHalf) bool {
	return arrival.WarehouseID == departure.WarehouseID && arrival.ProductID == departure.ProductID
}

// MovementOutcome resultado de la reconciliación que se persiste una sola vez.
type MovementOutcome struct {
	Inconsistent    bool
	TransitDuration time.Duration // salida - llegada; negativo si la salida es anterior
	QuantityDelta   int64         // llegada - salida; distinto de cero = merma/sobrante
}

// Reconcile calcula el resultado a partir de ambas mitades.
// Movimientos inconsistentes no llevan métricas.
func Reconcile(arrival, departure MovementHalf) MovementOutcome {
	if !HalvesAgree(arrival, departure) {
		return MovementOutcome{Inconsistent: true}
	}
	return MovementOutcome{
		TransitDuration: departure.ObservedAt.Sub(arrival.ObservedAt),
		QuantityDelta:   arrival.Quantity - departure.Quantity,
	}
}

// StockContribution efecto firmado de una mitad sobre una fila de stock.
// Clave de idempotencia: (MovementID, Kind).
type StockContribution struct {
	MovementID  string
	Kind        EventKind
	WarehouseID string
	ProductID   string
	Delta       int64
}

// Contribution: la llegada suma en su bodega y la salida resta en la suya.
func (h MovementHalf) Contribution() StockContribution {
	delta := h.Quantity
	if h.Kind == EventDeparture {
		delta = -delta
	}
	return StockContribution{
		MovementID:  h.MovementID,
		Kind:        h.Kind,
		WarehouseID: h.WarehouseID,
		ProductID:   h.ProductID,
		Delta:       delta,
	}
}
