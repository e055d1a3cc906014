// MODUL: program
// ZWECK: Kompiliertes Graph-Programm mit Form-Pruefung und Ausfuehrung
// INPUT: Definition + Params
// OUTPUT: Program mit Signatur und Run(ctx, inputs)
// NEBENEFFEKTE: Keine
// ABHAENGIGKEITEN: ml (Signatur), fs (Elementanzahl), ops.go (Kernels)
// HINWEISE: Ein Program ist unveraenderlich. Run ist fuer nebenlaeufige
//           Aufrufe sicher, jeder Aufruf nutzt eigene Puffer.

package nn

import (
	"context"
	"fmt"
	"slices"

	"github.com/nnhost/nnhost/fs"
	"github.com/nnhost/nnhost/ml"
)

type step struct {
	op     string
	index  int
	in     []int
	out    int
	weight *Param
	bias   *Param
	eps    float32
}

// Program ist eine kompilierte Definition.
type Program struct {
	signature ml.Signature
	steps     []step
	inputs    []int
	outputs   []int
	shapes    [][]int
	sizes     []int
	params    *Params
}

// Compile prueft die Definition gegen params und berechnet alle Formen.
func Compile(d Definition, params *Params) (*Program, error) {
	layers, err := d.resolve()
	if err != nil {
		return nil, err
	}

	p := &Program{signature: d.Signature(), params: params}
	if err := p.signature.Validate(); err != nil {
		return nil, err
	}

	values := make(map[string]int)
	define := func(name string, shape []int) (int, error) {
		n, err := fs.Elements(shape, 4)
		if err != nil {
			return 0, fmt.Errorf("value %q: %w", name, err)
		}

		values[name] = len(p.shapes)
		p.shapes = append(p.shapes, shape)
		p.sizes = append(p.sizes, n)
		return values[name], nil
	}

	for _, in := range d.Inputs {
		v, err := define(in.Name, slices.Clone(in.Shape))
		if err != nil {
			return nil, err
		}
		p.inputs = append(p.inputs, v)
	}

	for _, l := range layers {
		s := step{op: l.Op, index: l.index}
		in := make([][]int, len(l.In))
		for i, name := range l.In {
			s.in = append(s.in, values[name])
			in[i] = p.shapes[values[name]]
		}

		var units int
		switch {
		case l.Op == "linear":
			if s.weight, s.bias, err = p.linearParams(l, in); err != nil {
				return nil, err
			}
			units = s.weight.Shape[1]
		case l.Op == "embedding":
			if s.weight, err = p.embeddingParams(l); err != nil {
				return nil, err
			}
			units = s.weight.Shape[1]
		case l.Op == "rms_norm":
			if s.weight, s.eps, err = p.normParams(l, in); err != nil {
				return nil, err
			}
		case l.Weight != "" || l.Bias != "":
			return nil, fmt.Errorf("layer %d (%s): op takes no parameters", l.index, l.Op)
		}

		shape, err := inferShape(l, in, units)
		if err != nil {
			return nil, err
		}

		if s.out, err = define(l.Out, shape); err != nil {
			return nil, fmt.Errorf("layer %d (%s): %w", l.index, l.Op, err)
		}
		p.steps = append(p.steps, s)
	}

	for i, out := range d.Outputs {
		name := d.outputValue(layers, i)
		v, ok := values[name]
		if !ok {
			return nil, fmt.Errorf("output %q: undefined value %q", out.Name, name)
		}

		if !slices.Equal(p.shapes[v], out.Shape) {
			return nil, fmt.Errorf("output %q: declared shape %v, graph computes %v", out.Name, out.Shape, p.shapes[v])
		}

		p.outputs = append(p.outputs, v)
	}

	return p, nil
}

func (p *Program) linearParams(l resolved, in [][]int) (*Param, *Param, error) {
	if len(in[0]) == 0 {
		return nil, nil, fmt.Errorf("layer %d (linear): scalar input", l.index)
	}

	w, ok := p.params.Get(l.Weight)
	if !ok {
		return nil, nil, fmt.Errorf("layer %d (linear): missing weight %q", l.index, l.Weight)
	}

	k := in[0][len(in[0])-1]
	if len(w.Shape) != 2 || w.Shape[0] != k {
		return nil, nil, fmt.Errorf("layer %d (linear): weight %s has shape %v, input has %d features", l.index, l.Weight, w.Shape, k)
	}

	if l.Units > 0 && w.Shape[1] != l.Units {
		return nil, nil, fmt.Errorf("layer %d (linear): weight %s has %d units, expected %d", l.index, l.Weight, w.Shape[1], l.Units)
	}

	if l.Bias == "" {
		return w, nil, nil
	}

	b, ok := p.params.Get(l.Bias)
	if !ok {
		return nil, nil, fmt.Errorf("layer %d (linear): missing bias %q", l.index, l.Bias)
	}

	if !slices.Equal(b.Shape, []int{w.Shape[1]}) {
		return nil, nil, fmt.Errorf("layer %d (linear): bias %s has shape %v, expected [%d]", l.index, l.Bias, b.Shape, w.Shape[1])
	}

	return w, b, nil
}

func (p *Program) embeddingParams(l resolved) (*Param, error) {
	if l.Bias != "" {
		return nil, fmt.Errorf("layer %d (embedding): op takes no bias", l.index)
	}

	w, ok := p.params.Get(l.Weight)
	if !ok {
		return nil, fmt.Errorf("layer %d (embedding): missing weight %q", l.index, l.Weight)
	}

	if len(w.Shape) != 2 {
		return nil, fmt.Errorf("layer %d (embedding): weight %s has shape %v, expected [vocab, units]", l.index, l.Weight, w.Shape)
	}

	if (l.Vocab > 0 && w.Shape[0] != l.Vocab) || (l.Units > 0 && w.Shape[1] != l.Units) {
		return nil, fmt.Errorf("layer %d (embedding): weight %s has shape %v, expected [%d, %d]", l.index, l.Weight, w.Shape, l.Vocab, l.Units)
	}

	return w, nil
}

func (p *Program) normParams(l resolved, in [][]int) (*Param, float32, error) {
	if l.Bias != "" {
		return nil, 0, fmt.Errorf("layer %d (rms_norm): op takes no bias", l.index)
	}

	if len(in[0]) == 0 {
		return nil, 0, fmt.Errorf("layer %d (rms_norm): scalar input", l.index)
	}

	eps := l.Eps
	if eps < 0 {
		return nil, 0, fmt.Errorf("layer %d (rms_norm): negative eps %v", l.index, eps)
	} else if eps == 0 {
		eps = defaultEps
	}

	w, ok := p.params.Get(l.Weight)
	if !ok {
		return nil, 0, fmt.Errorf("layer %d (rms_norm): missing weight %q", l.index, l.Weight)
	}

	k := in[0][len(in[0])-1]
	if !slices.Equal(w.Shape, []int{k}) {
		return nil, 0, fmt.Errorf("layer %d (rms_norm): weight %s has shape %v, expected [%d]", l.index, l.Weight, w.Shape, k)
	}

	return w, eps, nil
}

// Signature gibt die Slot-Signatur zurueck.
func (p *Program) Signature() ml.Signature {
	return p.signature
}

// Params gibt die Parameter des Programms zurueck.
func (p *Program) Params() *Params {
	return p.params
}

// Run fuehrt das Programm aus. inputs enthaelt je Eingabe-Slot die Werte in
// Zeilen-Reihenfolge. ctx wird vor jeder Schicht geprueft.
func (p *Program) Run(ctx context.Context, inputs [][]float32) ([][]float32, error) {
	if len(inputs) != len(p.inputs) {
		return nil, fmt.Errorf("expected %d inputs, got %d", len(p.inputs), len(inputs))
	}

	env := make([][]float32, len(p.shapes))
	for i, v := range p.inputs {
		if n := p.sizes[v]; len(inputs[i]) != n {
			return nil, fmt.Errorf("input %d: expected %d values, got %d", i, n, len(inputs[i]))
		}
		env[v] = inputs[i]
	}

	for _, s := range p.steps {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		shape := p.shapes[s.out]
		out := make([]float32, p.sizes[s.out])
		x := env[s.in[0]]

		switch s.op {
		case "linear":
			inShape := p.shapes[s.in[0]]
			k := inShape[len(inShape)-1]
			linear(x, len(x)/k, k, s.weight, s.bias, out)
		case "embedding":
			if err := embedding(x, s.weight, out); err != nil {
				return nil, fmt.Errorf("layer %d (embedding): %w", s.index, err)
			}
		case "rms_norm":
			rmsNorm(x, s.weight.Data, s.eps, out)
		case "relu":
			unary(x, out, relu)
		case "sigmoid":
			unary(x, out, sigmoid)
		case "silu":
			unary(x, out, silu)
		case "tanh":
			unary(x, out, tanh)
		case "gelu":
			unary(x, out, gelu)
		case "softmax":
			softmax(x, out, shape[len(shape)-1])
		case "add":
			add(x, env[s.in[1]], out)
		case "mul":
			mul(x, env[s.in[1]], out)
		case "dropout":
			copy(out, x)
		default:
			return nil, fmt.Errorf("layer %d: unknown op %q", s.index, s.op)
		}

		env[s.out] = out
	}

	outputs := make([][]float32, len(p.outputs))
	for i, v := range p.outputs {
		outputs[i] = env[v]
	}

	return outputs, nil
}
