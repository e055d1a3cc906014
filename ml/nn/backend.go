// MODUL: backend
// ZWECK: ml.Backend-Implementierung ueber einem kompilierten Program
// INPUT: Program + ml.BackendParams
// OUTPUT: ml.Backend / ml.BackendContext fuer die Engine-Pakete
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: ml (Backend-Interface, Tensor-Konvertierung)
// HINWEISE: Die Engine rechnet in float32. Eingaben werden aus ihrem
//           Elementtyp dekodiert, Ausgaben in den deklarierten Typ kodiert.

package nn

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/nnhost/nnhost/ml"
)

// CheckTarget prueft ob die Engine das Target bedienen kann. Sie rechnet
// ausschliesslich auf der CPU.
func CheckTarget(target ml.ExecutionTarget) error {
	switch target {
	case ml.TargetCPU, ml.TargetAuto:
		return nil
	default:
		return fmt.Errorf("%w: %v (cpu only)", ml.ErrUnsupportedTarget, target)
	}
}

// Bind verbindet eine Definition mit geladenen Gewichten. Wenn alle
// Parameter-Formen aus der Definition ableitbar sind, gelten die Regeln von
// Params.Update. Sonst werden die Gewichte direkt kompiliert.
func Bind(d Definition, weights *Params) (*Program, error) {
	if shapes, err := d.ParamShapes(); err == nil {
		declared := NewParams()
		for pair := shapes.Oldest(); pair != nil; pair = pair.Next() {
			declared.Set(pair.Key, &Param{Shape: pair.Value})
		}

		if err := declared.Update(weights); err != nil {
			return nil, err
		}
		weights = declared
	}

	return Compile(d, weights)
}

// Backend fuehrt ein Program als ml.Backend aus.
type Backend struct {
	program *Program
	params  ml.BackendParams
	closed  atomic.Bool
}

// NewBackend erstellt ein Backend ueber p.
func NewBackend(p *Program, params ml.BackendParams) *Backend {
	return &Backend{program: p, params: params}
}

func (b *Backend) Signature() ml.Signature {
	return b.program.Signature()
}

// Program gibt das kompilierte Program zurueck.
func (b *Backend) Program() *Program {
	return b.program
}

func (b *Backend) NewContext() (ml.BackendContext, error) {
	if b.closed.Load() {
		return nil, ml.ErrClosed
	}
	return &backendContext{b: b}, nil
}

func (b *Backend) Close() error {
	if b.closed.CompareAndSwap(false, true) {
		slog.Debug("closed engine", "params", b.program.params.Len())
	}
	return nil
}

type backendContext struct {
	b *Backend
}

func (c *backendContext) Compute(ctx context.Context, inputs []ml.Tensor) ([]ml.Tensor, error) {
	if c.b.closed.Load() {
		return nil, ml.ErrClosed
	}

	xs := make([][]float32, len(inputs))
	for i, t := range inputs {
		xs[i] = t.Floats()
	}

	ys, err := c.b.program.Run(ctx, xs)
	if err != nil {
		return nil, err
	}

	specs := c.b.program.Signature().Outputs
	outputs := make([]ml.Tensor, len(ys))
	for i, y := range ys {
		t, err := ml.NewTensor(specs[i].Type, specs[i].Shape, ml.EncodeFloats(specs[i].Type, y))
		if err != nil {
			return nil, err
		}
		outputs[i] = t
	}

	return outputs, nil
}

func (c *backendContext) Close() error {
	return nil
}
