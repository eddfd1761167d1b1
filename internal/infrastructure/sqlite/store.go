// Package sqlite implementa los ledgers de movimientos y stock sobre SQLite.
//
// Pensado para desarrollo local, el comando ingest y los tests. Se usa una sola conexión:
// SQLite admite un escritor a la vez y así cada transacción queda serializada sin locks en proceso.
// En producción se usa el paquete postgres, con la misma semántica atómica.
package sqlite

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/jhoicas/warehouse-monitor/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Store base SQLite compartida por ambos ledgers.
type Store struct {
	db *sql.DB
}

// Open abre (o crea) la base en path y aplica el esquema. Use ":memory:" para tests.
func Open(path string) (*Store, error) {
	dsn := path + "?_foreign_keys=on&_busy_timeout=5000&_txlock=immediate"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("abrir sqlite: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("conectar sqlite: %w", err)
	}

	// Un solo escritor; además mantiene viva la base ":memory:".
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if !strings.Contains(path, ":memory:") {
		if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("pragma WAL: %w", err)
		}
	}

	s := &Store{db: db}
	if err := s.Migrate(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Migrate aplica el esquema embebido (idempotente).
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("aplicar esquema sqlite: %w", err)
	}
	return nil
}

// Close cierra la base.
func (s *Store) Close() error {
	return s.db.Close()
}

// Movements devuelve el ledger de movimientos.
func (s *Store) Movements() *MovementLedger {
	return &MovementLedger{s: s}
}

// Stock devuelve el ledger de stock.
func (s *Store) Stock() *StockLedger {
	return &StockLedger{s: s}
}

// withTx ejecuta fn en una transacción (BEGIN IMMEDIATE) con Commit o Rollback.
func (s *Store) withTx(ctx context.Context, op string, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return classify(op+": begin", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return classify(op+": commit", err)
	}
	return nil
}

// classify marca como transitorios los errores de bloqueo y conexión.
func classify(op string, err error) error {
	if isTransient(err) {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isTransient(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
	}
	return errors.Is(err, sql.ErrConnDone)
}
