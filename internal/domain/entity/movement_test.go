package entity_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
)

var t0 = time.Date(2025, 2, 18, 14, 34, 56, 0, time.UTC)

func half(kind entity.EventKind, wh, product string, qty int64, ts time.Time) *entity.MovementHalf {
	return &entity.MovementHalf{MovementID: "M1", WarehouseID: wh, ProductID: product, Kind: kind, Quantity: qty, ObservedAt: ts}
}

func TestReconcile_Metricas(t *testing.T) {
	arrival := half(entity.EventArrival, "W1", "P1", 100, t0)
	departure := half(entity.EventDeparture, "W1", "P1", 97, t0.Add(90*time.Second))

	out := entity.Reconcile(*arrival, *departure)
	assert.False(t, out.Inconsistent)
	assert.Equal(t, 90*time.Second, out.TransitDuration)
	assert.Equal(t, int64(3), out.QuantityDelta)
}

func TestReconcile_TransitoNegativoSeConserva(t *testing.T) {
	arrival := half(entity.EventArrival, "W1", "P1", 10, t0)
	departure := half(entity.EventDeparture, "W1", "P1", 10, t0.Add(-time.Hour))

	out := entity.Reconcile(*arrival, *departure)
	assert.Equal(t, -time.Hour, out.TransitDuration)
	assert.Zero(t, out.QuantityDelta)
}

func TestReconcile_Inconsistente(t *testing.T) {
	cases := map[string]*entity.MovementHalf{
		"otra bodega":   half(entity.EventDeparture, "W2", "P1", 10, t0),
		"otro producto": half(entity.EventDeparture, "W1", "P2", 10, t0),
	}
	for name, departure := range cases {
		t.Run(name, func(t *testing.T) {
			out := entity.Reconcile(*half(entity.EventArrival, "W1", "P1", 10, t0), *departure)
			assert.True(t, out.Inconsistent)
			assert.Zero(t, out.TransitDuration, "sin métricas")
			assert.Zero(t, out.QuantityDelta)
		})
	}
}

func TestMovementHalf_Contribution(t *testing.T) {
	in := half(entity.EventArrival, "W2", "P1", 100, t0).Contribution()
	assert.Equal(t, entity.StockContribution{MovementID: "M1", Kind: entity.EventArrival, WarehouseID: "W2", ProductID: "P1", Delta: 100}, in)

	out := half(entity.EventDeparture, "W1", "P1", 40, t0).Contribution()
	assert.Equal(t, entity.StockContribution{MovementID: "M1", Kind: entity.EventDeparture, WarehouseID: "W1", ProductID: "P1", Delta: -40}, out)
}

func TestMovement_AcceptsHalfStock(t *testing.T) {
	now := t0
	alone := entity.Movement{Arrival: half(entity.EventArrival, "W1", "P1", 1, t0)}
	assert.True(t, alone.AcceptsHalfStock(), "una mitad sola aplica su efecto")

	agree := entity.Movement{
		Arrival:   half(entity.EventArrival, "W1", "P1", 1, t0),
		Departure: half(entity.EventDeparture, "W1", "P1", 1, t0),
	}
	assert.True(t, agree.AcceptsHalfStock())

	disagree := entity.Movement{
		Arrival:   half(entity.EventArrival, "W1", "P1", 1, t0),
		Departure: half(entity.EventDeparture, "W2", "P1", 1, t0),
	}
	assert.False(t, disagree.AcceptsHalfStock(), "se revertirá al cerrar")

	agree.OutcomeAt = &now
	assert.False(t, agree.AcceptsHalfStock(), "cerrado: las correcciones no tocan el stock")
}

func TestMovement_State(t *testing.T) {
	now := t0
	tests := []struct {
		name string
		m    entity.Movement
		want entity.MovementState
	}{
		{"solo llegada", entity.Movement{Arrival: half(entity.EventArrival, "W1", "P1", 1, t0)}, entity.MovementPending},
		{"solo salida", entity.Movement{Departure: half(entity.EventDeparture, "W1", "P1", 1, t0)}, entity.MovementPending},
		{"ambas de acuerdo", entity.Movement{
			Arrival:   half(entity.EventArrival, "W1", "P1", 1, t0),
			Departure: half(entity.EventDeparture, "W1", "P1", 1, t0),
		}, entity.MovementCompleted},
		{"ambas en desacuerdo", entity.Movement{
			Arrival:   half(entity.EventArrival, "W1", "P1", 1, t0),
			Departure: half(entity.EventDeparture, "W2", "P1", 1, t0),
		}, entity.MovementInconsistent},
		{"el resultado persistido manda", entity.Movement{
			Arrival:   half(entity.EventArrival, "W1", "P1", 1, t0),
			Departure: half(entity.EventDeparture, "W2", "P1", 1, t0),
			OutcomeAt: &now,
		}, entity.MovementCompleted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.m.State())
		})
	}
}

func TestMovement_NeedsFinalization(t *testing.T) {
	now := t0
	both := func() entity.Movement {
		return entity.Movement{
			Arrival:   half(entity.EventArrival, "W1", "P1", 1, t0),
			Departure: half(entity.EventDeparture, "W1", "P1", 1, t0),
		}
	}

	m := both()
	assert.False(t, m.NeedsFinalization(), "sin token no hay nada que reanudar")

	m.CompletedAt = &now
	assert.True(t, m.NeedsFinalization(), "token sin resultado")

	m.OutcomeAt = &now
	assert.True(t, m.NeedsFinalization(), "resultado sin stock")

	m.StockAppliedAt = &now
	assert.False(t, m.NeedsFinalization())

	inc := both()
	inc.CompletedAt, inc.OutcomeAt, inc.Inconsistent = &now, &now, true
	assert.True(t, inc.NeedsFinalization(), "inconsistente sin reversión")
	inc.StockAppliedAt = &now
	assert.False(t, inc.NeedsFinalization())
	assert.False(t, inc.StockApplied(), "un inconsistente nunca queda aplicado")
}

func TestMovementHalf_SameFacts(t *testing.T) {
	a := half(entity.EventArrival, "W1", "P1", 5, t0)
	b := *a
	b.EnvelopeID, b.ReceivedAt = "otro-sobre", t0.Add(time.Hour)
	assert.True(t, a.SameFacts(b), "el sobre y la recepción no son hechos del movimiento")

	b.ObservedAt = t0.In(time.FixedZone("MSK", 3*3600))
	assert.True(t, a.SameFacts(b), "mismo instante en otra zona")

	b.Quantity = 6
	assert.False(t, a.SameFacts(b))
}

func TestParseEventKind(t *testing.T) {
	k, ok := entity.ParseEventKind("arrival")
	assert.True(t, ok)
	assert.Equal(t, entity.EventArrival, k)

	_, ok = entity.ParseEventKind("ARRIVAL")
	assert.False(t, ok, "se espera ya normalizado")
}

func TestAnomalyKind_DeadLetter(t *testing.T) {
	assert.True(t, entity.AnomalyMalformedEvent.DeadLetter())
	assert.True(t, entity.AnomalyUnprocessableEvent.DeadLetter())
	assert.False(t, entity.AnomalyQuantityMismatch.DeadLetter())
	assert.False(t, entity.AnomalyNegativeStock.DeadLetter())
}
