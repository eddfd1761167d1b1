package postgres

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
)

var _ repository.MovementLedger = (*MovementLedger)(nil)

// MovementLedger implementación de repository.MovementLedger sobre PostgreSQL.
type MovementLedger struct {
	q  Querier
	tx *TxRunner
}

// NewMovementLedger construye el ledger sobre el pool.
func NewMovementLedger(pool *pgxpool.Pool) *MovementLedger {
	return &MovementLedger{q: pool, tx: NewTxRunner(pool)}
}

const halfColumns = `movement_id, event_kind, warehouse_id, product_id, quantity, observed_at, envelope_id, revision, received_at`

// UpsertHalf inserta la mitad o detecta duplicado/corrección en una sola transacción.
// La fila de la mitad queda bloqueada (FOR UPDATE) mientras se compara y corrige.
func (l *MovementLedger) UpsertHalf(ctx context.Context, half entity.MovementHalf) (repository.UpsertResult, error) {
	var res repository.UpsertResult

	err := l.tx.Run(ctx, "upsert half", func(q Querier) error {
		if _, err := q.Exec(ctx, `
			INSERT INTO movements (movement_id) VALUES ($1)
			ON CONFLICT (movement_id) DO NOTHING`,
			half.MovementID,
		); err != nil {
			return classify("insert movement", err)
		}

		tag, err := q.Exec(ctx, `
			INSERT INTO movement_halves (movement_id, event_kind, warehouse_id, product_id, quantity, observed_at, envelope_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
			ON CONFLICT (movement_id, event_kind) DO NOTHING`,
			half.MovementID, string(half.Kind), half.WarehouseID, half.ProductID, half.Quantity,
			half.ObservedAt.UTC(), half.EnvelopeID,
		)
		if err != nil {
			return classify("insert half", err)
		}
		if tag.RowsAffected() == 1 {
			res.Outcome = repository.UpsertCreated
			return nil
		}

		existing, err := scanHalf(q.QueryRow(ctx,
			`SELECT `+halfColumns+` FROM movement_halves WHERE movement_id = $1 AND event_kind = $2 FOR UPDATE`,
			half.MovementID, string(half.Kind)))
		if err != nil {
			return classify("get half", err)
		}
		if existing.SameFacts(half) {
			res.Outcome = repository.UpsertDuplicate
			return nil
		}

		// Corrección: se guarda la versión anterior y gana la última escritura
		if _, err := q.Exec(ctx, `
			INSERT INTO movement_half_revisions (movement_id, event_kind, revision, warehouse_id, product_id, quantity, observed_at, envelope_id)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			existing.MovementID, string(existing.Kind), existing.Revision, existing.WarehouseID, existing.ProductID,
			existing.Quantity, existing.ObservedAt, existing.EnvelopeID,
		); err != nil {
			return classify("insert half revision", err)
		}
		if _, err := q.Exec(ctx, `
			UPDATE movement_halves
			SET warehouse_id = $3, product_id = $4, quantity = $5, observed_at = $6, envelope_id = $7,
			    revision = revision + 1, updated_at = now()
			WHERE movement_id = $1 AND event_kind = $2`,
			half.MovementID, string(half.Kind), half.WarehouseID, half.ProductID, half.Quantity,
			half.ObservedAt.UTC(), half.EnvelopeID,
		); err != nil {
			return classify("update half", err)
		}
		if _, err := q.Exec(ctx, `UPDATE movements SET updated_at = now() WHERE movement_id = $1`, half.MovementID); err != nil {
			return classify("touch movement", err)
		}
		res.Outcome = repository.UpsertCorrected
		res.Previous = existing
		return nil
	})
	return res, err
}

// GetMovement lee el movimiento con sus mitades.
func (l *MovementLedger) GetMovement(ctx context.Context, movementID string) (*entity.Movement, error) {
	return l.load(ctx, movementID)
}

// TryComplete otorga el token de completitud con un único UPDATE condicional:
// de varios llamadores concurrentes solo uno ve RowsAffected == 1.
func (l *MovementLedger) TryComplete(ctx context.Context, movementID string) (repository.CompletionResult, error) {
	tag, err := l.q.Exec(ctx, `
		UPDATE movements SET completed_at = now(), updated_at = now()
		WHERE movement_id = $1 AND completed_at IS NULL
		  AND (SELECT count(*) FROM movement_halves WHERE movement_id = $1) = 2`,
		movementID,
	)
	if err != nil {
		return repository.CompletionResult{}, classify("try complete", err)
	}

	m, err := l.load(ctx, movementID)
	if err != nil {
		return repository.CompletionResult{}, err
	}
	switch {
	case tag.RowsAffected() == 1:
		return repository.CompletionResult{Status: repository.CompletionGranted, Movement: m}, nil
	case m.CompletedAt != nil:
		return repository.CompletionResult{Status: repository.CompletionAlreadyCompleted, Movement: m}, nil
	default:
		return repository.CompletionResult{Status: repository.CompletionPending, Movement: m}, nil
	}
}

// RecordOutcome persiste el resultado solo si aún no existe.
func (l *MovementLedger) RecordOutcome(ctx context.Context, movementID string, outcome entity.MovementOutcome) (bool, error) {
	var (
		transitSeconds *decimal.Decimal
		delta          *int64
	)
	if !outcome.Inconsistent {
		secs := decimal.NewFromInt(outcome.TransitDuration.Microseconds()).Shift(-6)
		transitSeconds, delta = &secs, &outcome.QuantityDelta
	}
	tag, err := l.q.Exec(ctx, `
		UPDATE movements
		SET outcome_at = now(), inconsistent = $2, transit_seconds = $3, quantity_delta = $4, updated_at = now()
		WHERE movement_id = $1 AND completed_at IS NOT NULL AND outcome_at IS NULL`,
		movementID, outcome.Inconsistent, transitSeconds, delta,
	)
	if err != nil {
		return false, classify("record outcome", err)
	}
	if tag.RowsAffected() == 0 {
		return false, l.ensureExists(ctx, movementID)
	}
	return true, nil
}

// MarkStockApplied es idempotente.
func (l *MovementLedger) MarkStockApplied(ctx context.Context, movementID string) error {
	tag, err := l.q.Exec(ctx, `
		UPDATE movements SET stock_applied_at = now(), updated_at = now()
		WHERE movement_id = $1 AND stock_applied_at IS NULL`,
		movementID,
	)
	if err != nil {
		return classify("mark stock applied", err)
	}
	if tag.RowsAffected() == 0 {
		return l.ensureExists(ctx, movementID)
	}
	return nil
}

func (l *MovementLedger) ensureExists(ctx context.Context, movementID string) error {
	var one int
	err := l.q.QueryRow(ctx, `SELECT 1 FROM movements WHERE movement_id = $1`, movementID).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return classify("movement exists", err)
	}
	return nil
}

func (l *MovementLedger) load(ctx context.Context, movementID string) (*entity.Movement, error) {
	var (
		m       entity.Movement
		transit decimal.NullDecimal
	)
	err := l.q.QueryRow(ctx, `
		SELECT movement_id, completed_at, outcome_at, inconsistent, transit_seconds, quantity_delta, stock_applied_at, created_at, updated_at
		FROM movements WHERE movement_id = $1`, movementID,
	).Scan(&m.ID, &m.CompletedAt, &m.OutcomeAt, &m.Inconsistent, &transit, &m.QuantityDelta, &m.StockAppliedAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, classify("get movement", err)
	}
	if transit.Valid {
		// NUMERIC(20,6): resolución de microsegundos
		d := time.Duration(transit.Decimal.Shift(6).IntPart()) * time.Microsecond
		m.TransitDuration = &d
	}

	rows, err := l.q.Query(ctx, `SELECT `+halfColumns+` FROM movement_halves WHERE movement_id = $1`, movementID)
	if err != nil {
		return nil, classify("get halves", err)
	}
	defer rows.Close()
	for rows.Next() {
		h, err := scanHalf(rows)
		if err != nil {
			return nil, classify("scan half", err)
		}
		switch h.Kind {
		case entity.EventArrival:
			m.Arrival = h
		case entity.EventDeparture:
			m.Departure = h
		}
	}
	if err := rows.Err(); err != nil {
		return nil, classify("get halves", err)
	}
	return &m, nil
}

func scanHalf(row pgx.Row) (*entity.MovementHalf, error) {
	var h entity.MovementHalf
	var kind string
	if err := row.Scan(&h.MovementID, &kind, &h.WarehouseID, &h.ProductID, &h.Quantity,
		&h.ObservedAt, &h.EnvelopeID, &h.Revision, &h.ReceivedAt); err != nil {
		return nil, err
	}
	h.Kind = entity.EventKind(kind)
	h.ObservedAt = h.ObservedAt.UTC()
	return &h, nil
}
