package repository

import (
	"context"

	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
)

// UpsertOutcome resultado de registrar una mitad.
type UpsertOutcome int

const (
	UpsertCreated   UpsertOutcome = iota // primera vez que se ve la clave
	UpsertDuplicate                      // reentrega idéntica, sin efectos
	UpsertCorrected                      // misma clave, hechos distintos: gana la última escritura
)

func (o UpsertOutcome) String() string {
	switch o {
	case UpsertCreated:
		return "created"
	case UpsertDuplicate:
		return "duplicate_ignored"
	case UpsertCorrected:
		return "corrected"
	}
	return "unknown"
}

// UpsertResult salida de UpsertHalf. Previous solo se llena en correcciones.
type UpsertResult struct {
	Outcome  UpsertOutcome
	Previous *entity.MovementHalf
}

// CompletionStatus respuesta de TryComplete.
type CompletionStatus int

const (
	CompletionPending          CompletionStatus = iota // falta una mitad
	CompletionGranted                                  // token otorgado: solo una llamada lo recibe
	CompletionAlreadyCompleted                         // otra llamada ya recibió el token
)

func (s CompletionStatus) String() string {
	switch s {
	case CompletionPending:
		return "pending"
	case CompletionGranted:
		return "granted"
	case CompletionAlreadyCompleted:
		return "already_completed"
	}
	return "unknown"
}

// CompletionResult estado de completitud y el movimiento leído tras la operación.
type CompletionResult struct {
	Status   CompletionStatus
	Movement *entity.Movement
}

// MovementLedger puerto de persistencia de mitades y estado de reconciliación.
// Cada operación es atómica por sí misma; no expone actualizaciones parciales.
type MovementLedger interface {
	UpsertHalf(ctx context.Context, half entity.MovementHalf) (UpsertResult, error)
	// GetMovement devuelve domain.ErrNotFound si no existe ninguna mitad.
	GetMovement(ctx context.Context, movementID string) (*entity.Movement, error)
	TryComplete(ctx context.Context, movementID string) (CompletionResult, error)
	// RecordOutcome persiste el resultado una sola vez; llamadas posteriores no lo cambian
	// y devuelven recorded=false.
	RecordOutcome(ctx context.Context, movementID string, outcome entity.MovementOutcome) (recorded bool, err error)
	MarkStockApplied(ctx context.Context, movementID string) error
}
