package usecase

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jhoicas/warehouse-monitor/internal/application/dto"
	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// QueryUseCase lecturas de movimientos y stock con caché read-through.
// Nunca modifica los ledgers.
type QueryUseCase struct {
	movements repository.MovementLedger
	stock     repository.StockLedger
	cache     repository.ReadCache
	ttl       time.Duration
	log       *logger.Logger
}

// NewQueryUseCase construye el caso de uso. cache puede ser nil.
func NewQueryUseCase(
	movements repository.MovementLedger,
	stock repository.StockLedger,
	cache repository.ReadCache,
	ttl time.Duration,
	log *logger.Logger,
) *QueryUseCase {
	return &QueryUseCase{movements: movements, stock: stock, cache: cache, ttl: ttl, log: log.Component("query")}
}

// GetMovement devuelve domain.ErrNotFound si no se observó ninguna mitad.
func (uc *QueryUseCase) GetMovement(ctx context.Context, movementID string) (*dto.MovementResponse, error) {
	movementID = strings.TrimSpace(movementID)
	if movementID == "" {
		return nil, domain.ErrInvalidInput
	}
	key := repository.MovementCacheKey(movementID)
	var out dto.MovementResponse
	if uc.fromCache(ctx, key, &out) {
		return &out, nil
	}

	m, err := uc.movements.GetMovement(ctx, movementID)
	if err != nil {
		return nil, err
	}
	resp := toMovementResponse(m)
	uc.toCache(ctx, key, resp)
	return resp, nil
}

// GetStock devuelve cantidad 0 para un par nunca observado.
func (uc *QueryUseCase) GetStock(ctx context.Context, warehouseID, productID string) (*dto.StockResponse, error) {
	warehouseID, productID = strings.TrimSpace(warehouseID), strings.TrimSpace(productID)
	if warehouseID == "" || productID == "" {
		return nil, domain.ErrInvalidInput
	}
	key := repository.StockCacheKey(warehouseID, productID)
	var out dto.StockResponse
	if uc.fromCache(ctx, key, &out) {
		return &out, nil
	}

	resp := &dto.StockResponse{WarehouseID: warehouseID, ProductID: productID}
	e, err := uc.stock.GetEntry(ctx, warehouseID, productID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
	case err != nil:
		return nil, err
	default:
		resp.Quantity = e.Quantity
		updated := e.UpdatedAt
		resp.UpdatedAt = &updated
	}
	uc.toCache(ctx, key, resp)
	return resp, nil
}

// fromCache: cualquier fallo de la caché se trata como miss.
func (uc *QueryUseCase) fromCache(ctx context.Context, key string, dst any) bool {
	if uc.cache == nil {
		return false
	}
	raw, found, err := uc.cache.Get(ctx, key)
	if err != nil {
		uc.log.Warn().Err(err).Str("key", key).Msg("caché no disponible, se lee del ledger")
		return false
	}
	if !found {
		return false
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		uc.log.Warn().Err(err).Str("key", key).Msg("entrada de caché corrupta")
		return false
	}
	return true
}

func (uc *QueryUseCase) toCache(ctx context.Context, key string, v any) {
	if uc.cache == nil {
		return
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return
	}
	if err := uc.cache.Set(ctx, key, raw, uc.ttl); err != nil {
		uc.log.Warn().Err(err).Str("key", key).Msg("no se pudo poblar la caché")
	}
}

func toMovementResponse(m *entity.Movement) *dto.MovementResponse {
	resp := &dto.MovementResponse{
		MovementID:   m.ID,
		State:        string(m.State()),
		IsComplete:   m.HasBothHalves(),
		StockApplied: m.StockApplied(),
	}
	if d := m.Departure; d != nil {
		wh, ts, qty, rev := d.WarehouseID, d.ObservedAt, d.Quantity, d.Revision
		resp.ProductID = d.ProductID
		resp.SourceWarehouseID, resp.DepartureTimestamp, resp.DepartureQuantity = &wh, &ts, &qty
		resp.DepartureRevision = &rev
	}
	if a := m.Arrival; a != nil {
		wh, ts, qty, rev := a.WarehouseID, a.ObservedAt, a.Quantity, a.Revision
		resp.ProductID = a.ProductID
		resp.DestinationWarehouseID, resp.ArrivalTimestamp, resp.ArrivalQuantity = &wh, &ts, &qty
		resp.ArrivalRevision = &rev
	}
	if m.TransitDuration != nil {
		ms := m.TransitDuration.Milliseconds()
		secs := decimal.NewFromInt(m.TransitDuration.Microseconds()).Shift(-6)
		resp.TransitDurationMs, resp.TransitSeconds = &ms, &secs
	}
	if m.QuantityDelta != nil {
		delta := *m.QuantityDelta
		resp.QuantityDelta = &delta
	}
	return resp
}
