// graph.go - Graph-Loader und Graph-Handle
// Dieses Modul laedt Modell-Artefakte ueber die registrierten Backends und
// verwaltet die Lebensdauer der Engine-Ressourcen per Referenzzaehlung.
package ml

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nnhost/nnhost/envconfig"
)

// ============================================================================
// Lade-Optionen
// ============================================================================

type loadOptions struct {
	cache      *Cache
	numThreads int
}

// LoadOption konfiguriert Load.
type LoadOption func(*loadOptions)

// WithCache setzt den Cache fuer die Artefakt-Aufloesung.
func WithCache(c *Cache) LoadOption {
	return func(o *loadOptions) {
		o.cache = c
	}
}

// WithNumThreads setzt die Anzahl der CPU-Threads. Werte <= 0 werden ignoriert.
func WithNumThreads(n int) LoadOption {
	return func(o *loadOptions) {
		if n > 0 {
			o.numThreads = n
		}
	}
}

// ============================================================================
// resource - referenzgezaehlte Engine-Ressource
// ============================================================================

// resource gibt das Backend frei, sobald Graph und alle Kontexte geschlossen sind.
type resource struct {
	backend Backend
	refs    atomic.Int64
	id      string
}

func (r *resource) acquire() {
	r.refs.Add(1)
}

// tryAcquire erhoeht den Zaehler nur, solange die Ressource noch lebt.
func (r *resource) tryAcquire() bool {
	for {
		n := r.refs.Load()
		if n <= 0 {
			return false
		}
		if r.refs.CompareAndSwap(n, n+1) {
			return true
		}
	}
}

func (r *resource) release() {
	if r.refs.Add(-1) == 0 {
		if err := r.backend.Close(); err != nil {
			slog.Warn("failed to release graph", "graph", r.id, "error", err)
			return
		}
		slog.Debug("released graph", "graph", r.id)
	}
}

// handle ist ein einmalig freigebbarer Anteil an einer resource.
type handle struct {
	res    *resource
	closed atomic.Bool
}

func (h *handle) close() bool {
	if h.closed.CompareAndSwap(false, true) {
		h.res.release()
		return true
	}
	return false
}

// ============================================================================
// Graph - Handle auf einen geladenen Graphen
// ============================================================================

// Graph ist ein unveraenderliches Handle auf einen geladenen Graphen.
// Ein Graph kann beliebig viele unabhaengige ExecutionContexts erzeugen
// und ist fuer nebenlaeufige Nutzung sicher.
type Graph struct {
	id        string
	name      string
	path      string
	encoding  GraphEncoding
	target    ExecutionTarget
	signature Signature

	h *handle
}

// Load loest name auf, laedt das Artefakt mit der Engine fuer encoding und
// gibt ein Graph-Handle zurueck. Jeder Fehler ist ein ErrGraphLoad.
func Load(ctx context.Context, encoding GraphEncoding, target ExecutionTarget, name string, opts ...LoadOption) (*Graph, error) {
	o := loadOptions{numThreads: envconfig.NumThreads()}
	for _, opt := range opts {
		opt(&o)
	}

	if o.cache == nil {
		cache, err := DefaultCache()
		if err != nil {
			return nil, newError("load", -1, ErrGraphLoad, err)
		}
		o.cache = cache
	}

	path, err := o.cache.Resolve(name)
	if err != nil {
		return nil, newError("load", -1, ErrGraphLoad, err)
	}

	if encoding == EncodingAutodetect {
		if p, ok := o.cache.Lookup(name); ok && p.Encoding != EncodingAutodetect {
			encoding = p.Encoding
		} else if encoding, err = DetectEncoding(path); err != nil {
			return nil, newError("load", -1, ErrGraphLoad, err)
		}
	}

	if err := ctx.Err(); err != nil {
		return nil, newError("load", -1, ErrGraphLoad, err)
	}

	start := time.Now()
	backend, err := NewBackend(ctx, encoding, path, BackendParams{Target: target, NumThreads: o.numThreads})
	if err != nil {
		return nil, newError("load", -1, ErrGraphLoad, err)
	}

	signature := backend.Signature()
	if err := signature.Validate(); err != nil {
		backend.Close()
		return nil, newError("load", -1, ErrGraphLoad, err)
	}

	g := &Graph{
		id:        uuid.NewString(),
		name:      name,
		path:      path,
		encoding:  encoding,
		target:    target,
		signature: signature,
	}

	res := &resource{backend: backend, id: g.id}
	res.acquire()
	g.h = &handle{res: res}
	runtime.AddCleanup(g, func(h *handle) {
		if h.close() {
			slog.Warn("graph was not closed", "graph", h.res.id)
		}
	}, g.h)

	slog.Info("loaded graph",
		"graph", g.id,
		"name", name,
		"encoding", encoding,
		"target", target,
		"inputs", len(signature.Inputs),
		"outputs", len(signature.Outputs),
		"duration", time.Since(start))
	return g, nil
}

// ID gibt die eindeutige Kennung des Graphen zurueck.
func (g *Graph) ID() string { return g.id }

// Name gibt den Identifikator zurueck, mit dem der Graph geladen wurde.
func (g *Graph) Name() string { return g.name }

// Path gibt den aufgeloesten Dateipfad zurueck.
func (g *Graph) Path() string { return g.path }

// Encoding gibt das Encoding zurueck, mit dem der Graph geladen wurde.
func (g *Graph) Encoding() GraphEncoding { return g.encoding }

// Target gibt das angeforderte Execution-Target zurueck.
func (g *Graph) Target() ExecutionTarget { return g.target }

// Signature gibt eine Kopie der Slot-Signatur zurueck.
func (g *Graph) Signature() Signature {
	clone := func(specs []TensorSpec) []TensorSpec {
		out := make([]TensorSpec, len(specs))
		for i, s := range specs {
			out[i] = TensorSpec{Name: s.Name, Type: s.Type, Shape: slices.Clone(s.Shape)}
		}
		return out
	}
	return Signature{Inputs: clone(g.signature.Inputs), Outputs: clone(g.signature.Outputs)}
}

// NewContext erzeugt einen neuen, unabhaengigen ExecutionContext.
func (g *Graph) NewContext() (*ExecutionContext, error) {
	if g.h.closed.Load() || !g.h.res.tryAcquire() {
		return nil, newError("create_context", -1, ErrContextCreation, ErrClosed)
	}

	bctx, err := g.h.res.backend.NewContext()
	if err != nil {
		g.h.res.release()
		return nil, newError("create_context", -1, ErrContextCreation, err)
	}

	return newExecutionContext(g, bctx), nil
}

// Close gibt den Anteil des Graphen an den Engine-Ressourcen frei.
// Die Engine wird freigegeben, sobald auch alle Kontexte geschlossen sind.
// Mehrfaches Schliessen ist erlaubt.
func (g *Graph) Close() error {
	g.h.close()
	return nil
}

// ============================================================================
// Scoped-Form
// ============================================================================

// WithGraph laedt einen Graphen, ruft fn auf und schliesst den Graphen danach.
func WithGraph(ctx context.Context, encoding GraphEncoding, target ExecutionTarget, name string, fn func(*Graph) error, opts ...LoadOption) error {
	g, err := Load(ctx, encoding, target, name, opts...)
	if err != nil {
		return err
	}
	defer g.Close()

	return fn(g)
}

func (g *Graph) String() string {
	return fmt.Sprintf("graph(%s %s %v/%v)", g.id, g.name, g.encoding, g.target)
}
