package domain

import (
	"errors"
	"fmt"
)

// Errores de dominio (sin dependencias externas).
var (
	ErrNotFound     = errors.New("recurso no encontrado")
	ErrInvalidInput = errors.New("entrada inválida")

	// ErrMalformedEvent agrupa todos los MalformedEventError (útil con errors.Is).
	ErrMalformedEvent = errors.New("evento mal formado")

	// ErrStorageUnavailable marca fallos transitorios del almacenamiento (conexión, deadlock, SQLITE_BUSY).
	// El pipeline reintenta con backoff y pausa el consumo mientras persista.
	ErrStorageUnavailable = errors.New("almacenamiento no disponible")
)

// MalformedEventError describe por qué un envelope no pudo normalizarse.
// Nunca se reintenta: se envía al dead-letter y se confirma el mensaje.
type MalformedEventError struct {
	Field  string // campo que falló (vacío si el JSON no se pudo leer)
	Reason string
}

func (e *MalformedEventError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("evento mal formado: %s", e.Reason)
	}
	return fmt.Sprintf("evento mal formado: %s: %s", e.Field, e.Reason)
}

// Is permite errors.Is(err, ErrMalformedEvent).
func (e *MalformedEventError) Is(target error) bool {
	return target == ErrMalformedEvent
}

// Malformed construye un MalformedEventError para el campo indicado.
func Malformed(field, reason string) *MalformedEventError {
	return &MalformedEventError{Field: field, Reason: reason}
}

// Unavailable envuelve err como fallo transitorio de almacenamiento conservando la causa original.
func Unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}
