package ingest

import (
	"encoding/json"
	"errors"
	"strings"
	"time"

	"golang.org/x/text/cases"

	"github.com/jhoicas/warehouse-monitor/internal/application/dto"
	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
)

// Formatos ISO-8601 aceptados para data.timestamp. Sin zona se asume UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// Normalize convierte un envelope crudo en ArrivalEvent o DepartureEvent.
// Cualquier problema devuelve *domain.MalformedEventError; nunca entra en pánico.
func Normalize(raw []byte) (entity.DomainEvent, error) {
	var env dto.MovementEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) {
			return nil, domain.Malformed(typeErr.Field, "tipo inválido: se esperaba "+typeErr.Type.String())
		}
		return nil, domain.Malformed("", "JSON inválido: "+err.Error())
	}
	if env.Time < 0 {
		return nil, domain.Malformed("time", "debe ser un entero positivo")
	}
	if env.Data == nil {
		return nil, domain.Malformed("data", "requerido")
	}
	d := env.Data

	movementID := strings.TrimSpace(d.MovementID)
	if movementID == "" {
		return nil, domain.Malformed("data.movement_id", "requerido")
	}
	warehouseID := strings.TrimSpace(d.WarehouseID)
	if warehouseID == "" {
		return nil, domain.Malformed("data.warehouse_id", "requerido")
	}
	productID := strings.TrimSpace(d.ProductID)
	if productID == "" {
		return nil, domain.Malformed("data.product_id", "requerido")
	}
	if d.Quantity == nil {
		return nil, domain.Malformed("data.quantity", "requerido")
	}
	if *d.Quantity < 0 {
		return nil, domain.Malformed("data.quantity", "no puede ser negativo")
	}

	kind, ok := entity.ParseEventKind(cases.Fold().String(strings.TrimSpace(d.Event)))
	if !ok {
		if d.Event == "" {
			return nil, domain.Malformed("data.event", "requerido")
		}
		return nil, domain.Malformed("data.event", "debe ser arrival o departure, recibido "+d.Event)
	}

	observedAt, err := parseTimestamp(d.Timestamp)
	if err != nil {
		return nil, err
	}

	half := entity.MovementHalf{
		MovementID:  movementID,
		WarehouseID: warehouseID,
		ProductID:   productID,
		Kind:        kind,
		Quantity:    *d.Quantity,
		ObservedAt:  observedAt,
		EnvelopeID:  env.ID,
	}
	ev, _ := entity.NewDomainEvent(half)
	return ev, nil
}

// parseTimestamp normaliza a UTC con precisión de microsegundos (la de timestamptz),
// así una reentrega idéntica compara igual contra lo ya persistido.
func parseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, domain.Malformed("data.timestamp", "requerido")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC().Truncate(time.Microsecond), nil
		}
	}
	return time.Time{}, domain.Malformed("data.timestamp", "formato ISO-8601 inválido (ej. 2025-02-18T14:34:56Z)")
}
