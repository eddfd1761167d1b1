package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/jhoicas/warehouse-monitor/internal/domain"
	"github.com/jhoicas/warehouse-monitor/internal/domain/entity"
	"github.com/jhoicas/warehouse-monitor/internal/domain/repository"
)

var _ repository.MovementLedger = (*MovementLedger)(nil)

// MovementLedger implementación de repository.MovementLedger sobre SQLite.
type MovementLedger struct {
	s *Store
}

const halfColumns = `movement_id, event_kind, warehouse_id, product_id, quantity, observed_at, envelope_id, revision, received_at`

// UpsertHalf inserta la mitad o detecta duplicado/corrección en una sola transacción.
func (l *MovementLedger) UpsertHalf(ctx context.Context, half entity.MovementHalf) (repository.UpsertResult, error) {
	var res repository.UpsertResult
	now := time.Now().UTC()

	err := l.s.withTx(ctx, "upsert half", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO movements (movement_id, created_at, updated_at)
			VALUES (?, ?, ?)
			ON CONFLICT (movement_id) DO NOTHING`,
			half.MovementID, now, now,
		); err != nil {
			return classify("insert movement", err)
		}

		tag, err := tx.ExecContext(ctx, `
			INSERT INTO movement_halves (movement_id, event_kind, warehouse_id, product_id, quantity, observed_at, envelope_id, revision, received_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, 1, ?, ?)
			ON CONFLICT (movement_id, event_kind) DO NOTHING`,
			half.MovementID, string(half.Kind), half.WarehouseID, half.ProductID, half.Quantity,
			half.ObservedAt.UTC(), half.EnvelopeID, now, now,
		)
		if err != nil {
			return classify("insert half", err)
		}
		if n, _ := tag.RowsAffected(); n == 1 {
			res.Outcome = repository.UpsertCreated
			return nil
		}

		existing, err := scanHalf(tx.QueryRowContext(ctx,
			`SELECT `+halfColumns+` FROM movement_halves WHERE movement_id = ? AND event_kind = ?`,
			half.MovementID, string(half.Kind)))
		if err != nil {
			return classify("get half", err)
		}
		if existing.SameFacts(half) {
			res.Outcome = repository.UpsertDuplicate
			return nil
		}

		// Corrección: se guarda la versión anterior y gana la última escritura
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO movement_half_revisions (movement_id, event_kind, revision, warehouse_id, product_id, quantity, observed_at, envelope_id, superseded_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			existing.MovementID, string(existing.Kind), existing.Revision, existing.WarehouseID, existing.ProductID,
			existing.Quantity, existing.ObservedAt.UTC(), existing.EnvelopeID, now,
		); err != nil {
			return classify("insert half revision", err)
		}
		if _, err := tx.ExecContext(ctx, `
			UPDATE movement_halves
			SET warehouse_id = ?, product_id = ?, quantity = ?, observed_at = ?, envelope_id = ?, revision = revision + 1, updated_at = ?
			WHERE movement_id = ? AND event_kind = ?`,
			half.WarehouseID, half.ProductID, half.Quantity, half.ObservedAt.UTC(), half.EnvelopeID, now,
			half.MovementID, string(half.Kind),
		); err != nil {
			return classify("update half", err)
		}
		if _, err := tx.ExecContext(ctx, `UPDATE movements SET updated_at = ? WHERE movement_id = ?`, now, half.MovementID); err != nil {
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
	return l.load(ctx, l.s.db, movementID)
}

// TryComplete otorga el token de completitud con un único UPDATE condicional.
func (l *MovementLedger) TryComplete(ctx context.Context, movementID string) (repository.CompletionResult, error) {
	now := time.Now().UTC()
	tag, err := l.s.db.ExecContext(ctx, `
		UPDATE movements SET completed_at = ?, updated_at = ?
		WHERE movement_id = ? AND completed_at IS NULL
		  AND (SELECT COUNT(*) FROM movement_halves WHERE movement_id = ?) = 2`,
		now, now, movementID, movementID,
	)
	if err != nil {
		return repository.CompletionResult{}, classify("try complete", err)
	}
	granted, _ := tag.RowsAffected()

	m, err := l.load(ctx, l.s.db, movementID)
	if err != nil {
		return repository.CompletionResult{}, err
	}
	switch {
	case granted == 1:
		return repository.CompletionResult{Status: repository.CompletionGranted, Movement: m}, nil
	case m.CompletedAt != nil:
		return repository.CompletionResult{Status: repository.CompletionAlreadyCompleted, Movement: m}, nil
	default:
		return repository.CompletionResult{Status: repository.CompletionPending, Movement: m}, nil
	}
}

// RecordOutcome persiste el resultado solo si aún no existe.
func (l *MovementLedger) RecordOutcome(ctx context.Context, movementID string, outcome entity.MovementOutcome) (bool, error) {
	now := time.Now().UTC()
	var transitUs, delta any
	if !outcome.Inconsistent {
		transitUs = outcome.TransitDuration.Microseconds()
		delta = outcome.QuantityDelta
	}
	tag, err := l.s.db.ExecContext(ctx, `
		UPDATE movements
		SET outcome_at = ?, inconsistent = ?, transit_us = ?, quantity_delta = ?, updated_at = ?
		WHERE movement_id = ? AND completed_at IS NOT NULL AND outcome_at IS NULL`,
		now, outcome.Inconsistent, transitUs, delta, now, movementID,
	)
	if err != nil {
		return false, classify("record outcome", err)
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return false, l.ensureExists(ctx, movementID)
	}
	return true, nil
}

// MarkStockApplied es idempotente.
func (l *MovementLedger) MarkStockApplied(ctx context.Context, movementID string) error {
	now := time.Now().UTC()
	tag, err := l.s.db.ExecContext(ctx, `
		UPDATE movements SET stock_applied_at = ?, updated_at = ?
		WHERE movement_id = ? AND stock_applied_at IS NULL`,
		now, now, movementID,
	)
	if err != nil {
		return classify("mark stock applied", err)
	}
	if n, _ := tag.RowsAffected(); n == 0 {
		return l.ensureExists(ctx, movementID)
	}
	return nil
}

// Revisions devuelve las versiones reemplazadas de una mitad (más antigua primero).
func (l *MovementLedger) Revisions(ctx context.Context, movementID string, kind entity.EventKind) ([]entity.MovementHalf, error) {
	rows, err := l.s.db.QueryContext(ctx, `
		SELECT movement_id, event_kind, warehouse_id, product_id, quantity, observed_at, envelope_id, revision, superseded_at
		FROM movement_half_revisions WHERE movement_id = ? AND event_kind = ?
		ORDER BY revision`,
		movementID, string(kind))
	if err != nil {
		return nil, classify("list revisions", err)
	}
	defer rows.Close()
	var list []entity.MovementHalf
	for rows.Next() {
		h, err := scanHalf(rows)
		if err != nil {
			return nil, classify("scan revision", err)
		}
		list = append(list, *h)
	}
	return list, rows.Err()
}

func (l *MovementLedger) ensureExists(ctx context.Context, movementID string) error {
	var one int
	err := l.s.db.QueryRowContext(ctx, `SELECT 1 FROM movements WHERE movement_id = ?`, movementID).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.ErrNotFound
	}
	if err != nil {
		return classify("movement exists", err)
	}
	return nil
}

type queryer interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (l *MovementLedger) load(ctx context.Context, q queryer, movementID string) (*entity.Movement, error) {
	var (
		m                                      entity.Movement
		completedAt, outcomeAt, stockAppliedAt sql.NullTime
		transitUs, delta                       sql.NullInt64
	)
	err := q.QueryRowContext(ctx, `
		SELECT movement_id, completed_at, outcome_at, inconsistent, transit_us, quantity_delta, stock_applied_at, created_at, updated_at
		FROM movements WHERE movement_id = ?`, movementID,
	).Scan(&m.ID, &completedAt, &outcomeAt, &m.Inconsistent, &transitUs, &delta, &stockAppliedAt, &m.CreatedAt, &m.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, classify("get movement", err)
	}
	m.CompletedAt = nullTime(completedAt)
	m.OutcomeAt = nullTime(outcomeAt)
	m.StockAppliedAt = nullTime(stockAppliedAt)
	if transitUs.Valid {
		d := time.Duration(transitUs.Int64) * time.Microsecond
		m.TransitDuration = &d
	}
	if delta.Valid {
		v := delta.Int64
		m.QuantityDelta = &v
	}

	rows, err := q.QueryContext(ctx, `SELECT `+halfColumns+` FROM movement_halves WHERE movement_id = ?`, movementID)
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

type scanner interface {
	Scan(dest ...any) error
}

func scanHalf(row scanner) (*entity.MovementHalf, error) {
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

func nullTime(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
