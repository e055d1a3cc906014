// reader_torch.go - PyTorch-Checkpoints lesen
// Dieses Modul liest state_dicts aus torch.save (Zip-Format) und bildet die
// Tensoren auf Modell-Parameter ab.
package convert

import (
	"fmt"
	"slices"
	"strings"

	"github.com/nlpodyssey/gopickle/pytorch"
	"github.com/nlpodyssey/gopickle/types"
	"github.com/pdevine/tensor"
	"github.com/pdevine/tensor/native"

	"github.com/nnhost/nnhost/fs"
	"github.com/nnhost/nnhost/ml/nn"
)

// readTorch liest alle Float-Tensoren eines state_dicts. Gewichte von
// Linear-Schichten liegen als [out, in] vor und werden nach [in, out]
// transponiert.
func readTorch(path string) (*nn.Params, error) {
	pt, err := pytorch.Load(path)
	if err != nil {
		return nil, err
	}

	params := nn.NewParams()
	err = torchItems(pt, func(name string, v any) error {
		t, ok := v.(*pytorch.Tensor)
		if !ok {
			return fmt.Errorf("%s: unexpected value %T", name, v)
		}

		data, err := torchFloats(t)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		shape := slices.Clone(t.Size)
		if len(shape) == 2 && strings.HasSuffix(name, ".weight") {
			if data, err = transpose(shape, data); err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			shape[0], shape[1] = shape[1], shape[0]
		}

		p, err := nn.NewParam(shape, data)
		if err != nil {
			return fmt.Errorf("%s: %w", name, err)
		}

		params.Set(name, p)
		return nil
	})
	if err != nil {
		return nil, err
	}

	return params, nil
}

// torchItems ruft fn fuer jeden Eintrag des state_dicts in Datei-Reihenfolge auf.
func torchItems(v any, fn func(name string, v any) error) error {
	switch d := v.(type) {
	case *types.Dict:
		for _, k := range d.Keys() {
			name, ok := k.(string)
			if !ok {
				return fmt.Errorf("unexpected key %v", k)
			}

			if err := fn(name, d.MustGet(k)); err != nil {
				return err
			}
		}
	case *types.OrderedDict:
		for e := d.List.Front(); e != nil; e = e.Next() {
			entry := e.Value.(*types.OrderedDictEntry)
			name, ok := entry.Key.(string)
			if !ok {
				return fmt.Errorf("unexpected key %v", entry.Key)
			}

			if err := fn(name, entry.Value); err != nil {
				return err
			}
		}
	default:
		return fmt.Errorf("unexpected checkpoint root %T, expected a state_dict", v)
	}

	return nil
}

// torchFloats gibt die Elemente eines zusammenhaengenden Tensors zurueck.
func torchFloats(t *pytorch.Tensor) ([]float32, error) {
	var data []float32
	switch s := t.Source.(type) {
	case *pytorch.FloatStorage:
		data = s.Data
	case *pytorch.HalfStorage:
		data = s.Data
	case *pytorch.BFloat16Storage:
		data = s.Data
	case *pytorch.DoubleStorage:
		data = make([]float32, len(s.Data))
		for i, f := range s.Data {
			data[i] = float32(f)
		}
	default:
		return nil, fmt.Errorf("unsupported storage %T", t.Source)
	}

	n, err := fs.Elements(t.Size, 4)
	if err != nil {
		return nil, err
	}

	stride := make([]int, len(t.Size))
	for i := range stride {
		if stride[i], err = fs.Elements(t.Size[i+1:], 4); err != nil {
			return nil, err
		}
	}

	if n > 1 && !slices.Equal(stride, t.Stride) {
		return nil, fmt.Errorf("non-contiguous tensor, stride %v", t.Stride)
	}

	if t.StorageOffset < 0 || t.StorageOffset+n > len(data) {
		return nil, fmt.Errorf("storage of %d elements too small for %v at offset %d", len(data), t.Size, t.StorageOffset)
	}

	return slices.Clone(data[t.StorageOffset : t.StorageOffset+n]), nil
}

// transpose vertauscht die beiden Achsen einer Matrix.
func transpose(shape []int, data []float32) ([]float32, error) {
	n := tensor.New(tensor.WithShape(shape...), tensor.WithBacking(data))
	if err := n.T(1, 0); err != nil {
		return nil, err
	}

	if err := n.Transpose(); err != nil {
		return nil, err
	}

	ts, err := native.SelectF32(n, 1)
	if err != nil {
		return nil, err
	}

	f32s := make([]float32, 0, len(data))
	for _, t := range ts {
		f32s = append(f32s, t...)
	}

	return f32s, nil
}
