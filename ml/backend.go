// backend.go - Backend-Interface und Registrierung fuer Inferenz-Engines
// Dieses Modul definiert die Schnittstelle zur Engine und die Backend-Factory-Funktionen.
package ml

import (
	"context"
	"fmt"
	"slices"
	"sync"
)

// Backend represents a loaded, compiled graph inside an inference engine.
// Implementations must be safe for concurrent NewContext calls.
type Backend interface {
	// Signature returns the declared input and output slots.
	Signature() Signature

	// NewContext allocates per-invocation execution state.
	NewContext() (BackendContext, error)

	// Close frees all memory associated with this backend.
	Close() error
}

// BackendContext is the engine side of an execution context.
type BackendContext interface {
	// Compute executes the graph. inputs holds one tensor per input slot,
	// already validated against the signature. The result holds one tensor
	// per output slot.
	Compute(ctx context.Context, inputs []Tensor) ([]Tensor, error)

	Close() error
}

// BackendParams controls how the backend loads and executes models
type BackendParams struct {
	// Target is the requested device class
	Target ExecutionTarget

	// NumThreads sets the number of threads to use if running on the CPU
	NumThreads int
}

// BackendFactory laedt ein Modell-Artefakt fuer ein Encoding.
type BackendFactory func(ctx context.Context, modelPath string, params BackendParams) (Backend, error)

var (
	backendsMu sync.RWMutex
	backends   = make(map[GraphEncoding]BackendFactory)
)

// RegisterBackend registers a backend factory function.
func RegisterBackend(encoding GraphEncoding, f BackendFactory) {
	backendsMu.Lock()
	defer backendsMu.Unlock()

	if _, ok := backends[encoding]; ok {
		panic("backend: backend already registered for " + encoding.String())
	}

	backends[encoding] = f
}

// NewBackend creates a new backend instance for the given model path.
func NewBackend(ctx context.Context, encoding GraphEncoding, modelPath string, params BackendParams) (Backend, error) {
	backendsMu.RLock()
	f, ok := backends[encoding]
	backendsMu.RUnlock()

	if !ok {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedEncoding, encoding)
	}

	return f(ctx, modelPath, params)
}

// Backends gibt die installierten Encodings sortiert zurueck.
func Backends() []GraphEncoding {
	backendsMu.RLock()
	defer backendsMu.RUnlock()

	encodings := make([]GraphEncoding, 0, len(backends))
	for e := range backends {
		encodings = append(encodings, e)
	}
	slices.Sort(encodings)
	return encodings
}
