package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// Result resumen de lo que hizo Reconcile con un evento.
type Result struct {
	MovementID   string
	Upsert       repository.UpsertOutcome
	State        entity.MovementState
	StockApplied bool
	// Finalized es true si esta llamada cerró el movimiento (resultado y/o stock).
	Finalized bool
}

// Reconciler orquesta la máquina de estados por movement_id:
// Pending -> Completed | Inconsistent -> StockApplied.
//
// Cada mitad aplica su efecto en stock al ingerirse; si el movimiento resulta inconsistente
// ambos efectos se revierten y el neto queda en cero.
//
// Todos los pasos son idempotentes: ante cualquier error el llamador reintenta con el mismo evento
// y el algoritmo vuelve a entrar en el mismo estado.
type Reconciler struct {
	movements repository.MovementLedger
	stock     repository.StockLedger
	cache     repository.ReadCache
	sink      repository.AnomalySink
	log       *logger.Logger
	now       func() time.Time
}

// NewReconciler construye el reconciliador. cache puede ser nil (sin caché).
func NewReconciler(
	movements repository.MovementLedger,
	stock repository.StockLedger,
	cache repository.ReadCache,
	sink repository.AnomalySink,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		movements: movements,
		stock:     stock,
		cache:     cache,
		sink:      sink,
		log:       log.Component("reconciler"),
		now:       time.Now,
	}
}

// Reconcile aplica un evento normalizado.
func (r *Reconciler) Reconcile(ctx context.Context, ev entity.DomainEvent) (Result, error) {
	var half entity.MovementHalf
	switch e := ev.(type) {
	case entity.ArrivalEvent:
		half = e.Half
		half.Kind = entity.EventArrival
	case entity.DepartureEvent:
		half = e.Half
		half.Kind = entity.EventDeparture
	default:
		return Result{}, fmt.Errorf("reconcile: evento no soportado %T", ev)
	}

	res := Result{MovementID: half.MovementID}
	log := r.log.With().Str("movement_id", half.MovementID).Str("event", string(half.Kind)).Logger()

	// 1. Registrar la mitad
	up, err := r.movements.UpsertHalf(ctx, half)
	if err != nil {
		return res, fmt.Errorf("upsert half: %w", err)
	}
	res.Upsert = up.Outcome

	switch up.Outcome {
	case repository.UpsertDuplicate:
		// Sin retorno anticipado: los pasos siguientes son idempotentes y retoman
		// cualquier ejecución anterior que haya caído a mitad de camino.
		log.Debug().Msg("entrega duplicada")
	case repository.UpsertCorrected:
		log.Warn().
			Int64("quantity_anterior", up.Previous.Quantity).
			Int64("quantity_nueva", half.Quantity).
			Msg("corrección de mitad: gana la última escritura")
		r.publish(ctx, log, r.anomaly(entity.AnomalyHalfCorrected, half.MovementID, half.WarehouseID, half.ProductID,
			correctionDetail(*up.Previous, half)))
		// La bodega anterior también cambia si la corrección mueve el efecto
		r.invalidate(ctx, log, repository.MovementCacheKey(half.MovementID),
			repository.StockCacheKey(up.Previous.WarehouseID, up.Previous.ProductID))
	case repository.UpsertCreated:
		r.invalidate(ctx, log, repository.MovementCacheKey(half.MovementID))
	}

	// 2. ¿Están ambas mitades?
	cr, err := r.movements.TryComplete(ctx, half.MovementID)
	if err != nil {
		return res, fmt.Errorf("try complete: %w", err)
	}
	m := cr.Movement

	// 3. Cada mitad suma su propio efecto al ingerirse (+qty llegada, -qty salida)
	if m.AcceptsHalfStock() {
		if stored := m.Half(half.Kind); stored != nil {
			if _, err := r.applyHalf(ctx, log, *stored); err != nil {
				return res, err
			}
		}
	} else if up.Outcome == repository.UpsertCorrected && m.Resolved() {
		log.Warn().Msg("corrección recibida con el movimiento ya cerrado: el stock no se recalcula")
	}

	switch cr.Status {
	case repository.CompletionPending:
		log.Debug().Msg("movimiento pendiente de la otra mitad")
		return describe(res, m), nil
	case repository.CompletionAlreadyCompleted:
		if !m.NeedsFinalization() {
			return describe(res, m), nil
		}
		log.Warn().Msg("reanudando reconciliación interrumpida")
		return r.finalize(ctx, log, res, m)
	case repository.CompletionGranted:
		return r.finalize(ctx, log, res, m)
	}
	return res, fmt.Errorf("try complete: estado desconocido %v", cr.Status)
}

// applyHalf aplica el efecto de una mitad (idempotente) e invalida la clave de stock.
func (r *Reconciler) applyHalf(ctx context.Context, log zerolog.Logger, h entity.MovementHalf) (bool, error) {
	c := h.Contribution()
	entry, applied, err := r.stock.ApplyHalf(ctx, c)
	if err != nil {
		return false, fmt.Errorf("apply %s %s/%s: %w", c.Kind, c.WarehouseID, c.ProductID, err)
	}
	if !applied {
		log.Debug().Str("event", string(c.Kind)).Msg("efecto de la mitad ya aplicado")
		return false, nil
	}
	log.Info().
		Str("warehouse_id", c.WarehouseID).Str("product_id", c.ProductID).
		Int64("delta", c.Delta).Int64("quantity", entry.Quantity).
		Msg("stock actualizado")
	if entry.Quantity < 0 {
		r.publish(ctx, log, r.anomaly(entity.AnomalyNegativeStock, c.MovementID, c.WarehouseID, c.ProductID,
			fmt.Sprintf("stock negativo %d tras delta %d", entry.Quantity, c.Delta)))
	}
	r.invalidate(ctx, log, repository.StockCacheKey(c.WarehouseID, c.ProductID))
	return true, nil
}

// finalize ejecuta los pasos 3 a 6 sobre un movimiento con ambas mitades.
func (r *Reconciler) finalize(ctx context.Context, log zerolog.Logger, res Result, m *entity.Movement) (Result, error) {
	arrival, departure := *m.Arrival, *m.Departure
	res.Finalized = true

	// 3-4. Validar y calcular métricas; el resultado ya persistido no se recalcula
	inconsistent := m.Inconsistent
	if m.OutcomeAt == nil {
		outcome := entity.Reconcile(arrival, departure)
		recorded, err := r.movements.RecordOutcome(ctx, m.ID, outcome)
		if err != nil {
			return res, fmt.Errorf("record outcome: %w", err)
		}
		if !recorded {
			// Otro worker lo registró primero: se usa lo persistido y no se republica
			if m, err = r.movements.GetMovement(ctx, m.ID); err != nil {
				return res, fmt.Errorf("get movement: %w", err)
			}
			inconsistent = m.Inconsistent
		} else if inconsistent = outcome.Inconsistent; inconsistent {
			log.Warn().
				Str("arrival_warehouse", arrival.WarehouseID).Str("departure_warehouse", departure.WarehouseID).
				Str("arrival_product", arrival.ProductID).Str("departure_product", departure.ProductID).
				Msg("movimiento inconsistente: se revierte su efecto en stock")
			r.publish(ctx, log, r.anomaly(entity.AnomalyInconsistentMovement, m.ID, arrival.WarehouseID, arrival.ProductID,
				fmt.Sprintf("llegada %s/%s, salida %s/%s", arrival.WarehouseID, arrival.ProductID, departure.WarehouseID, departure.ProductID)))
		} else {
			log.Info().
				Dur("transit_duration", outcome.TransitDuration).
				Int64("quantity_delta", outcome.QuantityDelta).
				Msg("movimiento completado")
			if outcome.QuantityDelta != 0 {
				r.publish(ctx, log, r.anomaly(entity.AnomalyQuantityMismatch, m.ID, arrival.WarehouseID, arrival.ProductID,
					fmt.Sprintf("llegaron %d, salieron %d (delta %d)", arrival.Quantity, departure.Quantity, outcome.QuantityDelta)))
			}
		}
	}
	if inconsistent {
		// 5a. Reversión compensatoria: el movimiento neto no toca el stock
		reverted, err := r.stock.RevertMovement(ctx, m.ID)
		if err != nil {
			return res, fmt.Errorf("revert movement: %w", err)
		}
		keys := []string{repository.MovementCacheKey(m.ID)}
		for _, e := range reverted {
			log.Info().
				Str("warehouse_id", e.WarehouseID).Str("product_id", e.ProductID).
				Int64("quantity", e.Quantity).
				Msg("efecto de mitad revertido")
			keys = append(keys, repository.StockCacheKey(e.WarehouseID, e.ProductID))
		}
		if err := r.movements.MarkStockApplied(ctx, m.ID); err != nil {
			return res, fmt.Errorf("mark stock applied: %w", err)
		}
		r.invalidate(ctx, log, keys...)
		res.State = entity.MovementInconsistent
		return res, nil
	}

	// 5b. Asegurar el efecto de ambas mitades (no-op si ya se aplicaron al ingerirse)
	for _, h := range []entity.MovementHalf{arrival, departure} {
		if _, err := r.applyHalf(ctx, log, h); err != nil {
			return res, err
		}
	}
	if err := r.movements.MarkStockApplied(ctx, m.ID); err != nil {
		return res, fmt.Errorf("mark stock applied: %w", err)
	}

	// 6. Invalidar (no actualizar) la caché; la próxima lectura repuebla desde el ledger
	r.invalidate(ctx, log, repository.MovementCacheKey(m.ID))

	res.State = entity.MovementCompleted
	res.StockApplied = true
	return res, nil
}

func describe(res Result, m *entity.Movement) Result {
	if m == nil {
		res.State = entity.MovementPending
		return res
	}
	res.State = m.State()
	res.StockApplied = m.StockApplied()
	return res
}

func (r *Reconciler) anomaly(kind entity.AnomalyKind, movementID, warehouseID, productID, detail string) entity.Anomaly {
	return entity.Anomaly{
		ID:          uuid.NewString(),
		Kind:        kind,
		MovementID:  movementID,
		WarehouseID: warehouseID,
		ProductID:   productID,
		Detail:      detail,
		DetectedAt:  r.now().UTC(),
	}
}

// publish no falla el evento: el sink es un colaborador externo.
func (r *Reconciler) publish(ctx context.Context, log zerolog.Logger, a entity.Anomaly) {
	if r.sink == nil {
		return
	}
	if err := r.sink.Publish(ctx, a); err != nil {
		log.Error().Err(err).Str("kind", string(a.Kind)).Msg("no se pudo publicar la anomalía")
	}
}

// invalidate no falla el evento: la caché es solo una optimización (TTL acotado).
func (r *Reconciler) invalidate(ctx context.Context, log zerolog.Logger, keys ...string) {
	if r.cache == nil || len(keys) == 0 {
		return
	}
	if err := r.cache.Delete(ctx, keys...); err != nil {
		log.Warn().Err(err).Strs("keys", keys).Msg("no se pudo invalidar la caché")
	}
}

func correctionDetail(prev, next entity.MovementHalf) string {
	return fmt.Sprintf("%s corregida: bodega %s->%s, producto %s->%s, cantidad %d->%d, observed_at %s->%s",
		next.Kind,
		prev.WarehouseID, next.WarehouseID,
		prev.ProductID, next.ProductID,
		prev.Quantity, next.Quantity,
		prev.ObservedAt.Format(time.RFC3339Nano), next.ObservedAt.Format(time.RFC3339Nano))
}
