package http

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/jhoicas/warehouse-monitor/internal/application/dto"
	"github.com/jhoicas/warehouse-monitor/internal/application/usecase"
	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/pkg/logger"
)

// QueryHandler lecturas de movimientos y stock (solo GET).
type QueryHandler struct {
	uc  *usecase.QueryUseCase
	log *logger.Logger
}

// NewQueryHandler construye el handler.
func NewQueryHandler(uc *usecase.QueryUseCase, log *logger.Logger) *QueryHandler {
	return &QueryHandler{uc: uc, log: log.Component("http")}
}

// GetMovement godoc
// @Summary      Detalle de un movimiento
// @Description  Estado derivado (pending, completed, inconsistent) y métricas de tránsito.
// @Tags         movements
// @Produce      json
// @Param        movement_id  path  string  true  "ID del movimiento"
// @Success      200  {object}  dto.MovementResponse
// @Failure      404  {object}  dto.ErrorResponse
// @Failure      503  {object}  dto.ErrorResponse
// @Router       /api/movements/{movement_id} [get]
func (h *QueryHandler) GetMovement(c *fiber.Ctx) error {
	out, err := h.uc.GetMovement(c.UserContext(), c.Params("movement_id"))
	if err != nil {
		return h.fail(c, err, "movimiento no encontrado")
	}
	return c.JSON(out)
}

// GetStock godoc
// @Summary      Stock de un producto en una bodega
// @Description  Un par nunca observado devuelve cantidad 0.
// @Tags         stock
// @Produce      json
// @Param        warehouse_id  path  string  true  "ID de la bodega"
// @Param        product_id    path  string  true  "ID del producto"
// @Success      200  {object}  dto.StockResponse
// @Failure      503  {object}  dto.ErrorResponse
// @Router       /api/warehouses/{warehouse_id}/products/{product_id} [get]
func (h *QueryHandler) GetStock(c *fiber.Ctx) error {
	out, err := h.uc.GetStock(c.UserContext(), c.Params("warehouse_id"), c.Params("product_id"))
	if err != nil {
		return h.fail(c, err, "stock no encontrado")
	}
	return c.JSON(out)
}

func (h *QueryHandler) fail(c *fiber.Ctx, err error, notFound string) error {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		return c.Status(fiber.StatusNotFound).JSON(dto.ErrorResponse{Code: "NOT_FOUND", Message: notFound})
	case errors.Is(err, domain.ErrInvalidInput):
		return c.Status(fiber.StatusBadRequest).JSON(dto.ErrorResponse{Code: "VALIDATION", Message: err.Error()})
	case errors.Is(err, domain.ErrStorageUnavailable):
		h.log.Error().Err(err).Str("path", c.Path()).Msg("ledger no disponible")
		return c.Status(fiber.StatusServiceUnavailable).JSON(dto.ErrorResponse{Code: "UNAVAILABLE", Message: "almacenamiento no disponible, intente más tarde"})
	default:
		h.log.Error().Err(err).Str("path", c.Path()).Msg("error de lectura")
		return c.Status(fiber.StatusInternalServerError).JSON(dto.ErrorResponse{Code: "INTERNAL", Message: "error interno"})
	}
}
