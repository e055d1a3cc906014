// errors.go - Fehler-Taxonomie fuer das Inferenz-Protokoll
// Dieses Modul definiert die geschlossene Menge an Fehlerarten und den Error-Wrapper.
package ml

import (
	"errors"
	"fmt"
)

// ============================================================================
// Fehlerarten
// ============================================================================

// Jede Operation liefert genau eine dieser Arten, erkennbar via errors.Is.
var (
	ErrGraphLoad       = errors.New("graph load failed")
	ErrContextCreation = errors.New("execution context creation failed")
	ErrInvalidSlot     = errors.New("invalid slot")
	ErrShapeMismatch   = errors.New("shape mismatch")
	ErrBufferSize      = errors.New("buffer size mismatch")
	ErrCompute         = errors.New("compute failed")
	ErrStaleState      = errors.New("outputs not computed for current inputs")
)

// Ursachen, die in den Arten oben verpackt werden.
var (
	ErrClosed              = errors.New("handle closed")
	ErrModelNotFound       = errors.New("model not found")
	ErrUnsupportedEncoding = errors.New("unsupported graph encoding")
	ErrUnsupportedTarget   = errors.New("unsupported execution target")
)

// ============================================================================
// Error - strukturierter Protokoll-Fehler
// ============================================================================

// Error beschreibt einen fehlgeschlagenen Protokoll-Aufruf.
type Error struct {
	Op   string // Operation, z.B. "load", "set_input"
	Slot int    // Slot-Index, -1 wenn nicht relevant
	Kind error  // eine der Fehlerarten oben oder ErrClosed
	Err  error  // Ursache, darf nil sein
}

func (e *Error) Error() string {
	msg := e.Op
	if e.Slot >= 0 {
		msg += fmt.Sprintf(" slot %d", e.Slot)
	}
	switch {
	case e.Err == nil:
		msg += ": " + e.Kind.Error()
	case errors.Is(e.Err, e.Kind):
		msg += ": " + e.Err.Error()
	default:
		msg += ": " + e.Kind.Error() + ": " + e.Err.Error()
	}
	return msg
}

// Unwrap liefert Art und Ursache, damit errors.Is beide findet.
func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}
	return []error{e.Kind, e.Err}
}

func newError(op string, slot int, kind, err error) *Error {
	return &Error{Op: op, Slot: slot, Kind: kind, Err: err}
}

// KindOf gibt die Fehlerart eines Protokoll-Fehlers zurueck, sonst nil.
func KindOf(err error) error {
	for _, kind := range []error{
		ErrGraphLoad,
		ErrContextCreation,
		ErrInvalidSlot,
		ErrShapeMismatch,
		ErrBufferSize,
		ErrCompute,
		ErrStaleState,
	} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}
