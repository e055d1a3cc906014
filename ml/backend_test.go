package ml

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
)

// ============================================================================
// fakeBackend - Test-Engine fuer das Protokoll
// ============================================================================

// fakeBackend berechnet fuer eine Eingabe [1,4] die Ausgaben
// [sum, max] und [x*2].
type fakeBackend struct {
	signature Signature

	fail      atomic.Pointer[error]
	badOutput atomic.Bool
	computes  atomic.Int32
	contexts  atomic.Int32
	closed    atomic.Int32
}

var fakes sync.Map

func init() {
	RegisterBackend(EncodingOpenVINO, func(ctx context.Context, path string, params BackendParams) (Backend, error) {
		if params.Target != TargetCPU && params.Target != TargetAuto {
			return nil, ErrUnsupportedTarget
		}

		b, ok := fakes.Load(path)
		if !ok {
			return nil, errors.New("not a fake model")
		}
		return b.(*fakeBackend), nil
	})
}

func fakeSignature() Signature {
	return Signature{
		Inputs: []TensorSpec{{Name: "x", Type: DTypeF32, Shape: []int{1, 4}}},
		Outputs: []TensorSpec{
			{Name: "stats", Type: DTypeF32, Shape: []int{1, 2}},
			{Name: "double", Type: DTypeF32, Shape: []int{1, 4}},
		},
	}
}

// newFake legt eine Modell-Datei an und gibt Cache und Engine zurueck.
func newFake(t *testing.T) (*Cache, *fakeBackend) {
	t.Helper()

	dir := t.TempDir()
	path := filepath.Join(dir, "fake.bin")
	if err := os.WriteFile(path, []byte("fake"), 0o644); err != nil {
		t.Fatal(err)
	}

	b := &fakeBackend{signature: fakeSignature()}
	fakes.Store(path, b)
	t.Cleanup(func() { fakes.Delete(path) })
	return NewCache(dir), b
}

func (b *fakeBackend) Signature() Signature { return b.signature }

func (b *fakeBackend) NewContext() (BackendContext, error) {
	if b.closed.Load() > 0 {
		return nil, errors.New("backend closed")
	}
	b.contexts.Add(1)
	return &fakeContext{b: b}, nil
}

func (b *fakeBackend) Close() error {
	b.closed.Add(1)
	return nil
}

type fakeContext struct {
	b *fakeBackend
}

func (c *fakeContext) Compute(ctx context.Context, inputs []Tensor) ([]Tensor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := c.b.fail.Load(); err != nil {
		return nil, *err
	}

	c.b.computes.Add(1)
	x := inputs[0].Floats()

	if c.b.badOutput.Load() {
		t, _ := FromFloat32([]int{2}, []float32{0, 0})
		return []Tensor{t, t}, nil
	}

	stats, err := FromFloat32([]int{1, 2}, []float32{sum(x), slices.Max(x)})
	if err != nil {
		return nil, err
	}

	double := make([]float32, len(x))
	for i, v := range x {
		double[i] = 2 * v
	}

	doubled, err := FromFloat32([]int{1, 4}, double)
	if err != nil {
		return nil, err
	}

	return []Tensor{stats, doubled}, nil
}

func (c *fakeContext) Close() error {
	c.b.contexts.Add(-1)
	return nil
}

func sum(s []float32) (n float32) {
	for _, v := range s {
		n += v
	}
	return n
}

func (b *fakeBackend) failWith(err error) {
	if err == nil {
		b.fail.Store(nil)
		return
	}
	b.fail.Store(&err)
}
