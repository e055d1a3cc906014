// context.go - ExecutionContext fuer eine Inferenz-Ausfuehrung
// Dieses Modul implementiert Eingabe-Bindung, Berechnung und Ausgabe-Abruf
// auf einem geladenen Graphen.
package ml

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/nnhost/nnhost/logutil"
)

// ExecutionContext haelt den veraenderlichen Zustand einer Inferenz:
// gebundene Eingaben pro Slot und berechnete Ausgaben pro Slot.
//
// Ein ExecutionContext ist nicht fuer nebenlaeufige Nutzung ausgelegt.
// Aufrufer, die einen Kontext teilen, muessen den Zugriff serialisieren.
// Die Reihenfolge ist SetInput -> Compute -> GetOutput.
type ExecutionContext struct {
	id    string
	graph *Graph

	inputs  []*Tensor
	outputs []Tensor
	fresh   bool

	h *contextHandle
}

// contextHandle gibt Engine-Kontext und Graph-Referenz genau einmal frei.
type contextHandle struct {
	id     string
	bctx   BackendContext
	res    *resource
	closed atomic.Bool
}

func (h *contextHandle) close() bool {
	if !h.closed.CompareAndSwap(false, true) {
		return false
	}

	if err := h.bctx.Close(); err != nil {
		slog.Warn("failed to close execution context", "context", h.id, "error", err)
	}
	h.res.release()
	return true
}

func newExecutionContext(g *Graph, bctx BackendContext) *ExecutionContext {
	c := &ExecutionContext{
		id:     uuid.NewString(),
		graph:  g,
		inputs: make([]*Tensor, len(g.signature.Inputs)),
	}

	c.h = &contextHandle{id: c.id, bctx: bctx, res: g.h.res}
	runtime.AddCleanup(c, func(h *contextHandle) {
		if h.close() {
			slog.Warn("execution context was not closed", "context", h.id)
		}
	}, c.h)

	slog.Debug("created execution context", "graph", g.id, "context", c.id)
	return c
}

// ID gibt die eindeutige Kennung des Kontexts zurueck.
func (c *ExecutionContext) ID() string { return c.id }

// Graph gibt den zugrundeliegenden Graphen zurueck.
func (c *ExecutionContext) Graph() *Graph { return c.graph }

// ============================================================================
// SetInput - Eingabe binden
// ============================================================================

// SetInput bindet t an den Eingabe-Slot slot. Typ und Form muessen exakt der
// Slot-Deklaration entsprechen. Eine vorherige Bindung wird ueberschrieben;
// bei einem Fehler bleibt sie unveraendert. Der Tensor wird kopiert.
func (c *ExecutionContext) SetInput(slot int, t Tensor) error {
	if c.h.closed.Load() {
		return newError("set_input", slot, ErrClosed, nil)
	}

	specs := c.graph.signature.Inputs
	if slot < 0 || slot >= len(specs) {
		return newError("set_input", slot, ErrInvalidSlot, fmt.Errorf("graph has %d inputs", len(specs)))
	}

	if err := t.Validate(); err != nil {
		return newError("set_input", slot, ErrShapeMismatch, err)
	}

	if err := specs[slot].Matches(t); err != nil {
		return newError("set_input", slot, ErrShapeMismatch, err)
	}

	bound := t.Clone()
	c.inputs[slot] = &bound
	c.fresh = false

	logutil.Trace("bound input", "context", c.id, "slot", slot, "tensor", bound)
	return nil
}

// Bound meldet ob an slot eine Eingabe gebunden ist.
func (c *ExecutionContext) Bound(slot int) bool {
	return slot >= 0 && slot < len(c.inputs) && c.inputs[slot] != nil
}

// ============================================================================
// Compute - Graph ausfuehren
// ============================================================================

// Compute fuehrt den Graphen mit den gebundenen Eingaben aus. Alle
// Eingabe-Slots muessen gebunden sein. ctx kann die Berechnung abbrechen;
// die Engine prueft ihn zwischen den Schichten.
// Bei einem Fehler bleiben die Ausgaben im vorherigen Zustand.
func (c *ExecutionContext) Compute(ctx context.Context) error {
	if c.h.closed.Load() {
		return newError("compute", -1, ErrClosed, nil)
	}

	var missing []string
	inputs := make([]Tensor, len(c.inputs))
	for i, t := range c.inputs {
		if t == nil {
			missing = append(missing, fmt.Sprintf("%d (%s)", i, c.graph.signature.Inputs[i].Name))
			continue
		}
		inputs[i] = *t
	}

	if len(missing) > 0 {
		return newError("compute", -1, ErrCompute, fmt.Errorf("unbound inputs: %v", missing))
	}

	start := time.Now()
	outputs, err := c.h.bctx.Compute(ctx, inputs)
	if err != nil {
		return newError("compute", -1, ErrCompute, err)
	}

	specs := c.graph.signature.Outputs
	if len(outputs) != len(specs) {
		return newError("compute", -1, ErrCompute, fmt.Errorf("engine returned %d outputs, graph declares %d", len(outputs), len(specs)))
	}

	for i, t := range outputs {
		if err := t.Validate(); err != nil {
			return newError("compute", i, ErrCompute, err)
		}
		if err := specs[i].Matches(t); err != nil {
			return newError("compute", i, ErrCompute, err)
		}
	}

	c.outputs = outputs
	c.fresh = true

	slog.Debug("computed graph", "context", c.id, "duration", time.Since(start))
	return nil
}

// ============================================================================
// Ausgabe-Abruf
// ============================================================================

// outputSpec prueft Slot und Frische und gibt die Slot-Deklaration zurueck.
func (c *ExecutionContext) outputSpec(op string, slot int) (TensorSpec, error) {
	if c.h.closed.Load() {
		return TensorSpec{}, newError(op, slot, ErrClosed, nil)
	}

	specs := c.graph.signature.Outputs
	if slot < 0 || slot >= len(specs) {
		return TensorSpec{}, newError(op, slot, ErrInvalidSlot, fmt.Errorf("graph has %d outputs", len(specs)))
	}

	if !c.fresh {
		return TensorSpec{}, newError(op, slot, ErrStaleState, nil)
	}

	return specs[slot], nil
}

// GetOutput kopiert die Rohbytes des Ausgabe-Slots nach dst. len(dst) muss
// exakt der Groesse des Slots in Bytes entsprechen; sonst bleibt dst
// unveraendert. Gibt die Anzahl geschriebener Bytes zurueck.
func (c *ExecutionContext) GetOutput(slot int, dst []byte) (int, error) {
	spec, err := c.outputSpec("get_output", slot)
	if err != nil {
		return 0, err
	}

	if len(dst) != spec.Size() {
		return 0, newError("get_output", slot, ErrBufferSize, fmt.Errorf("need %d bytes, got %d", spec.Size(), len(dst)))
	}

	return copy(dst, c.outputs[slot].Data), nil
}

// GetOutputFloats dekodiert den Ausgabe-Slot nach float32 in dst. len(dst)
// muss exakt der Elementanzahl des Slots entsprechen; sonst bleibt dst
// unveraendert.
func (c *ExecutionContext) GetOutputFloats(slot int, dst []float32) error {
	spec, err := c.outputSpec("get_output", slot)
	if err != nil {
		return err
	}

	if len(dst) != spec.Len() {
		return newError("get_output", slot, ErrBufferSize, fmt.Errorf("need %d elements, got %d", spec.Len(), len(dst)))
	}

	copy(dst, c.outputs[slot].Floats())
	return nil
}

// Output gibt eine Kopie des Ausgabe-Tensors zurueck.
func (c *ExecutionContext) Output(slot int) (Tensor, error) {
	if _, err := c.outputSpec("output", slot); err != nil {
		return Tensor{}, err
	}

	return c.outputs[slot].Clone(), nil
}

// Close gibt den Engine-Kontext und die Referenz auf den Graphen frei.
// Mehrfaches Schliessen ist erlaubt.
func (c *ExecutionContext) Close() error {
	c.h.close()
	return nil
}
