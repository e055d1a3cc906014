package nn

import (
	"context"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"

	"github.com/nnhost/nnhost/fs"
	"github.com/nnhost/nnhost/ml"
)

// mapConfig ist eine fs.Config fuer Tests
type mapConfig map[string]any

func (c mapConfig) Architecture() string {
	s, _ := c["general.architecture"].(string)
	return s
}

func (c mapConfig) String(key string, d ...string) string {
	if s, ok := c[key].(string); ok {
		return s
	}
	if len(d) > 0 {
		return d[0]
	}
	return ""
}

func (c mapConfig) Uint(key string, d ...uint32) uint32 {
	if v, ok := c[c.Architecture()+"."+key].(uint32); ok {
		return v
	}
	if len(d) > 0 {
		return d[0]
	}
	return 0
}

func (c mapConfig) Float(string, ...float32) float32 { return 0 }

func (c mapConfig) Bool(string, ...bool) bool { return false }

func (c mapConfig) Strings(string, ...[]string) []string { return nil }

func f32(shape ...int) ml.TensorSpec {
	return ml.TensorSpec{Type: ml.DTypeF32, Shape: shape}
}

func named(name string, spec ml.TensorSpec) ml.TensorSpec {
	spec.Name = name
	return spec
}

// TestMNISTForward prueft das Referenz-Modell mit zufaelligen Gewichten
func TestMNISTForward(t *testing.T) {
	d := MNIST(MNISTOptions{BatchSize: 1, InputSize: 784, HiddenSize: 100, OutputSize: 10, BlockCount: 3})

	params, err := Init(d, 42)
	require.NoError(t, err)

	want := []string{
		"fc1.weight",
		"fc2.weight", "fc2.l1.weight", "fc2.l1.bias",
		"layers.0.weight", "layers.0.bias", "layers.0.l1.weight", "layers.0.l1.bias",
		"layers.1.weight", "layers.1.bias", "layers.1.l1.weight", "layers.1.l1.bias",
		"layers.2.weight", "layers.2.bias", "layers.2.l1.weight", "layers.2.l1.bias",
	}
	if diff := cmp.Diff(want, params.Names()); diff != "" {
		t.Errorf("Parameter-Namen (-want +got):\n%s", diff)
	}

	w, _ := params.Get("fc1.weight")
	require.Equal(t, []int{784, 100}, w.Shape)

	ones, _ := params.Get("fc2.l1.weight")
	for _, v := range ones.Data {
		require.EqualValues(t, 1, v)
	}

	p, err := Compile(d, params)
	require.NoError(t, err)

	sig := p.Signature()
	require.Equal(t, []int{1, 784}, sig.Inputs[0].Shape)
	require.Equal(t, []int{1, 10}, sig.Outputs[0].Shape)

	x := make([]float32, 784)
	for i := range x {
		x[i] = float32(i%7) / 7
	}

	ys, err := p.Run(context.Background(), [][]float32{x})
	require.NoError(t, err)
	require.Len(t, ys, 1)
	require.Len(t, ys[0], 10)

	// Gleicher Seed, gleiche Ausgabe
	again, err := Init(d, 42)
	require.NoError(t, err)
	p2, err := Compile(d, again)
	require.NoError(t, err)
	ys2, err := p2.Run(context.Background(), [][]float32{x})
	require.NoError(t, err)
	require.Equal(t, ys, ys2)
}

// TestLinear prueft x·W + b mit bekannten Werten
func TestLinear(t *testing.T) {
	d := Definition{
		Inputs:  []ml.TensorSpec{named("x", f32(2, 2))},
		Outputs: []OutputSpec{{TensorSpec: named("y", f32(2, 3))}},
		Layers:  []LayerSpec{{Op: "linear", Weight: "w", Bias: "b"}},
	}

	params := NewParams()
	w, err := NewParam([]int{2, 3}, []float32{1, 2, 3, 4, 5, 6})
	require.NoError(t, err)
	b, err := NewParam([]int{3}, []float32{1, 1, 1})
	require.NoError(t, err)
	params.Set("w", w)
	params.Set("b", b)

	p, err := Compile(d, params)
	require.NoError(t, err)

	ys, err := p.Run(context.Background(), [][]float32{{1, 0, 1, 1}})
	require.NoError(t, err)

	// [1 0]·W = [1 2 3], [1 1]·W = [5 7 9], jeweils +1
	if diff := cmp.Diff([]float32{2, 3, 4, 6, 8, 10}, ys[0]); diff != "" {
		t.Errorf("linear (-want +got):\n%s", diff)
	}
}

// TestActivations prueft die elementweisen Operationen und softmax
func TestActivations(t *testing.T) {
	x := []float32{-1, 0, 2}

	cases := []struct {
		op   string
		want []float32
	}{
		{"relu", []float32{0, 0, 2}},
		{"sigmoid", []float32{0.26894143, 0.5, 0.8807971}},
		{"tanh", []float32{-0.7615942, 0, 0.9640276}},
		{"gelu", []float32{-0.15880796, 0, 1.9545977}},
		{"silu", []float32{-0.26894143, 0, 1.7615942}},
		{"dropout", []float32{-1, 0, 2}},
	}

	for _, tt := range cases {
		t.Run(tt.op, func(t *testing.T) {
			d := Definition{
				Inputs:  []ml.TensorSpec{named("x", f32(1, 3))},
				Outputs: []OutputSpec{{TensorSpec: named("y", f32(1, 3))}},
				Layers:  []LayerSpec{{Op: tt.op}},
			}

			p, err := Compile(d, NewParams())
			require.NoError(t, err)

			ys, err := p.Run(context.Background(), [][]float32{x})
			require.NoError(t, err)
			require.InDeltaSlice(t, tt.want, ys[0], 1e-5)
		})
	}

	t.Run("softmax", func(t *testing.T) {
		d := Definition{
			Inputs:  []ml.TensorSpec{named("x", f32(2, 3))},
			Outputs: []OutputSpec{{TensorSpec: named("y", f32(2, 3))}},
			Layers:  []LayerSpec{{Op: "softmax"}},
		}

		p, err := Compile(d, NewParams())
		require.NoError(t, err)

		ys, err := p.Run(context.Background(), [][]float32{{1, 2, 3, 1000, 1000, 1000}})
		require.NoError(t, err)

		for r := range 2 {
			var sum float64
			for _, v := range ys[0][r*3 : r*3+3] {
				require.False(t, math.IsNaN(float64(v)))
				sum += float64(v)
			}
			require.InDelta(t, 1, sum, 1e-5)
		}
		require.InDelta(t, 1.0/3, ys[0][3], 1e-6)
	})
}

// TestAddNamedValues prueft benannte Werte und mehrere Ausgaben
func TestAddNamedValues(t *testing.T) {
	d := Definition{
		Inputs: []ml.TensorSpec{named("a", f32(1, 2)), named("b", f32(1, 2))},
		Outputs: []OutputSpec{
			{TensorSpec: named("sum", f32(1, 2)), Value: "s"},
			{TensorSpec: named("act", f32(1, 2)), Value: "r"},
		},
		Layers: []LayerSpec{
			{Op: "add", In: []string{"a", "b"}, Out: "s"},
			{Op: "relu", Out: "r"},
		},
	}

	p, err := Compile(d, NewParams())
	require.NoError(t, err)

	ys, err := p.Run(context.Background(), [][]float32{{1, -5}, {2, 3}})
	require.NoError(t, err)
	require.Equal(t, []float32{3, -2}, ys[0])
	require.Equal(t, []float32{3, 0}, ys[1])
}

// TestRMSNorm prueft die Normierung ueber die letzte Achse mit Gewicht
func TestRMSNorm(t *testing.T) {
	d := Definition{
		Inputs:  []ml.TensorSpec{named("x", f32(2, 2))},
		Outputs: []OutputSpec{{TensorSpec: named("y", f32(2, 2))}},
		Layers:  []LayerSpec{{Op: "rms_norm", Weight: "norm.weight"}},
	}

	params := NewParams()
	w, err := NewParam([]int{2}, []float32{1, 2})
	require.NoError(t, err)
	params.Set("norm.weight", w)

	p, err := Compile(d, params)
	require.NoError(t, err)

	// [3 4]: Mittel der Quadrate 12.5, [0 0] bleibt 0
	ys, err := p.Run(context.Background(), [][]float32{{3, 4, 0, 0}})
	require.NoError(t, err)
	require.InDeltaSlice(t, []float32{0.8485281, 2.2627418, 0, 0}, ys[0], 1e-4)

	// Ohne Angabe beginnt das Gewicht mit 1
	fresh, err := Init(d, 7)
	require.NoError(t, err)
	ones, _ := fresh.Get("norm.weight")
	require.Equal(t, []float32{1, 1}, ones.Data)
}

// TestEmbedding prueft das Nachschlagen von Zeilen und ungueltige Indizes
func TestEmbedding(t *testing.T) {
	d := Definition{
		Inputs:  []ml.TensorSpec{{Name: "ids", Type: ml.DTypeI32, Shape: []int{1, 2}}},
		Outputs: []OutputSpec{{TensorSpec: named("h", f32(1, 2, 2))}},
		Layers:  []LayerSpec{{Op: "embedding", Weight: "embed_tokens.weight", Vocab: 3, Units: 2}},
	}

	shapes, err := d.ParamShapes()
	require.NoError(t, err)
	shape, _ := shapes.Get("embed_tokens.weight")
	require.Equal(t, []int{3, 2}, shape)

	params := NewParams()
	w, err := NewParam([]int{3, 2}, []float32{0, 1, 10, 11, 20, 21})
	require.NoError(t, err)
	params.Set("embed_tokens.weight", w)

	p, err := Compile(d, params)
	require.NoError(t, err)

	ys, err := p.Run(context.Background(), [][]float32{{2, 0}})
	require.NoError(t, err)
	require.Equal(t, []float32{20, 21, 0, 1}, ys[0])

	for _, ids := range [][]float32{{3, 0}, {-1, 0}, {0, float32(math.NaN())}} {
		_, err := p.Run(context.Background(), [][]float32{ids})
		require.Error(t, err)
	}
}

// TestGatedMLP prueft einen Block aus embedding, rms_norm und gated MLP mit
// Residual, aufgebaut aus den einzelnen Operationen
func TestGatedMLP(t *testing.T) {
	d := Definition{
		Inputs:  []ml.TensorSpec{{Name: "ids", Type: ml.DTypeI32, Shape: []int{1}}},
		Outputs: []OutputSpec{{TensorSpec: named("y", f32(1, 2))}},
		Layers: []LayerSpec{
			{Op: "embedding", Weight: "embed_tokens.weight", Vocab: 4, Units: 2, Init: "ones", Out: "h"},
			{Op: "rms_norm", Weight: "post_attention_layernorm.weight", Eps: 1e-6, Out: "n"},
			{Op: "linear", In: []string{"n"}, Weight: "mlp.gate_proj.weight", Units: 3, Init: "ones", Out: "gate"},
			{Op: "linear", In: []string{"n"}, Weight: "mlp.up_proj.weight", Units: 3, Init: "ones", Out: "up"},
			{Op: "silu", In: []string{"gate"}},
			{Op: "mul", In: []string{"silu.4", "up"}},
			{Op: "linear", Weight: "mlp.down_proj.weight", Units: 2, Init: "ones"},
			{Op: "dropout"},
			{Op: "add", In: []string{"h", "dropout.7"}},
		},
	}

	params, err := Init(d, 1)
	require.NoError(t, err)

	want := []string{
		"embed_tokens.weight",
		"post_attention_layernorm.weight",
		"mlp.gate_proj.weight",
		"mlp.up_proj.weight",
		"mlp.down_proj.weight",
	}
	if diff := cmp.Diff(want, params.Names()); diff != "" {
		t.Errorf("Parameter-Namen (-want +got):\n%s", diff)
	}

	p, err := Compile(d, params)
	require.NoError(t, err)

	// h = [1 1], n = h, gate = up = [2 2 2], silu(2)*2 = 3.5231884,
	// down = 3 * 3.5231884, plus Residual 1
	ys, err := p.Run(context.Background(), [][]float32{{3}})
	require.NoError(t, err)
	require.InDeltaSlice(t, []float32{11.569565, 11.569565}, ys[0], 1e-3)

	_, err = p.Run(context.Background(), [][]float32{{4}})
	require.Error(t, err)
}

// TestOps prueft die Liste der Operationen
func TestOps(t *testing.T) {
	want := []string{"add", "dropout", "embedding", "gelu", "linear", "mul", "relu", "rms_norm", "sigmoid", "silu", "softmax", "tanh"}
	if diff := cmp.Diff(want, Ops()); diff != "" {
		t.Errorf("Ops (-want +got):\n%s", diff)
	}
}

// TestCompileErrors prueft ungueltige Definitionen
func TestCompileErrors(t *testing.T) {
	w, _ := NewParam([]int{3, 2}, make([]float32, 6))
	params := NewParams()
	params.Set("w", w)

	in := []ml.TensorSpec{named("x", f32(1, 3))}
	out := func(shape ...int) []OutputSpec {
		return []OutputSpec{{TensorSpec: named("y", f32(shape...))}}
	}

	cases := map[string]Definition{
		"no layers":       {Inputs: in, Outputs: out(1, 3)},
		"unknown op":      {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "conv"}}},
		"undefined value": {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "relu", In: []string{"z"}}}},
		"missing weight":  {Inputs: in, Outputs: out(1, 2), Layers: []LayerSpec{{Op: "linear", Weight: "nope"}}},
		"weight shape":    {Inputs: []ml.TensorSpec{named("x", f32(1, 4))}, Outputs: out(1, 2), Layers: []LayerSpec{{Op: "linear", Weight: "w"}}},
		"units":           {Inputs: in, Outputs: out(1, 2), Layers: []LayerSpec{{Op: "linear", Weight: "w", Units: 5}}},
		"output shape":    {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "linear", Weight: "w"}}},
		"add arity":       {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "add"}}},
		"duplicate value": {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "relu", Out: "x"}}},
		"no outputs":      {Inputs: in, Layers: []LayerSpec{{Op: "relu"}}},
		"mul arity":       {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "mul"}}},
		"dropout weight":  {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "dropout", Weight: "w"}}},
		"norm weight":     {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "rms_norm", Weight: "w"}}},
		"norm bias":       {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "rms_norm", Weight: "w", Bias: "w"}}},
		"norm eps":        {Inputs: in, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "rms_norm", Weight: "w", Eps: -1}}},
		"embedding vocab": {Inputs: in, Outputs: out(1, 3, 2), Layers: []LayerSpec{{Op: "embedding", Weight: "w", Vocab: 4}}},
		"embedding bias":  {Inputs: in, Outputs: out(1, 3, 2), Layers: []LayerSpec{{Op: "embedding", Weight: "w", Bias: "w"}}},
		"input overflow":  {Inputs: []ml.TensorSpec{named("x", f32(1<<32, 1<<32))}, Outputs: out(1<<32, 1<<32), Layers: []LayerSpec{{Op: "relu"}}},
		"value overflow":  {Inputs: []ml.TensorSpec{named("x", f32(1<<30, 1<<30))}, Outputs: out(1, 3), Layers: []LayerSpec{{Op: "embedding", Weight: "w"}}},
	}

	for name, d := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Compile(d, params)
			require.Error(t, err)
		})
	}
}

// TestParamShapeErrors prueft fehlende Angaben und zu grosse Parameter
func TestParamShapeErrors(t *testing.T) {
	in := []ml.TensorSpec{named("x", f32(1, 1<<30))}
	out := []OutputSpec{{TensorSpec: named("y", f32(1, 2))}}

	cases := map[string][]LayerSpec{
		"linear units":      {{Op: "linear", Weight: "w"}},
		"embedding units":   {{Op: "embedding", Weight: "w", Vocab: 3}},
		"norm without name": {{Op: "rms_norm"}},
		"weight overflow":   {{Op: "linear", Weight: "w", Units: 1 << 40}},
		"table overflow":    {{Op: "embedding", Weight: "w", Vocab: 1 << 32, Units: 1 << 32}},
	}

	for name, layers := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Init(Definition{Inputs: in, Outputs: out, Layers: layers}, 1)
			require.Error(t, err)
		})
	}

	t.Run("param", func(t *testing.T) {
		_, err := NewParam([]int{1 << 32, 1 << 32}, nil)
		require.ErrorIs(t, err, fs.ErrShapeOverflow)

		_, err = NewParam([]int{1 << 31, 1 << 31, 4}, nil)
		require.ErrorIs(t, err, fs.ErrShapeOverflow)
	})
}

// TestRunCanceled prueft den Abbruch ueber den Context
func TestRunCanceled(t *testing.T) {
	d := MNIST(MNISTOptions{BatchSize: 1, InputSize: 4, HiddenSize: 3, OutputSize: 2, BlockCount: 1})
	params, err := Init(d, 1)
	require.NoError(t, err)

	p, err := Compile(d, params)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = p.Run(ctx, [][]float32{make([]float32, 4)})
	require.ErrorIs(t, err, context.Canceled)

	_, err = p.Run(context.Background(), [][]float32{make([]float32, 3)})
	require.Error(t, err)
}

// TestUpdate prueft unbekannte, fehlende und abweichende Parameter
func TestUpdate(t *testing.T) {
	mk := func(shape ...int) *Param {
		n := 1
		for _, d := range shape {
			n *= d
		}
		p, err := NewParam(shape, make([]float32, n))
		require.NoError(t, err)
		return p
	}

	declared := func() *Params {
		p := NewParams()
		p.Set("fc1.weight", &Param{Shape: []int{4, 3}})
		p.Set("fc1.bias", &Param{Shape: []int{3}})
		return p
	}

	t.Run("ok mit unbekanntem Namen", func(t *testing.T) {
		weights := NewParams()
		weights.Set("fc1.weight", mk(4, 3))
		weights.Set("fc1.bias", mk(3))
		weights.Set("fc1.weigth", mk(4, 3))

		p := declared()
		require.NoError(t, p.Update(weights))

		got, _ := p.Get("fc1.weight")
		require.Len(t, got.Data, 12)
		require.Equal(t, "fc1.weight", p.closest("fc1.weigth"))
		require.Empty(t, p.closest("completely.different.name"))
	})

	t.Run("form", func(t *testing.T) {
		weights := NewParams()
		weights.Set("fc1.weight", mk(3, 4))
		weights.Set("fc1.bias", mk(3))
		require.ErrorContains(t, declared().Update(weights), "shape")
	})

	t.Run("fehlend", func(t *testing.T) {
		weights := NewParams()
		weights.Set("fc1.weight", mk(4, 3))
		require.ErrorContains(t, declared().Update(weights), "fc1.bias")
	})
}

// TestBind prueft Bind mit und ohne ableitbare Formen
func TestBind(t *testing.T) {
	d := MNIST(MNISTOptions{BatchSize: 2, InputSize: 4, HiddenSize: 3, OutputSize: 2, BlockCount: 2})
	weights, err := Init(d, 7)
	require.NoError(t, err)

	p, err := Bind(d, weights)
	require.NoError(t, err)
	require.Equal(t, weights.Len(), p.Params().Len())

	// Ohne Units wird direkt kompiliert
	d.Layers[0].Units = 0
	_, err = Bind(d, weights)
	require.NoError(t, err)
}

// TestForConfig prueft die Architektur-Registry
func TestForConfig(t *testing.T) {
	d := MNIST(MNISTOptions{BatchSize: 1, InputSize: 8, HiddenSize: 4, OutputSize: 2, BlockCount: 1})
	bts, err := d.Marshal()
	require.NoError(t, err)

	t.Run("sequential", func(t *testing.T) {
		got, err := ForConfig(mapConfig{GraphKey: string(bts)})
		require.NoError(t, err)
		if diff := cmp.Diff(d, got); diff != "" {
			t.Errorf("Definition (-want +got):\n%s", diff)
		}
	})

	t.Run("sequential ohne Graph", func(t *testing.T) {
		_, err := ForConfig(mapConfig{"general.architecture": "sequential"})
		require.ErrorIs(t, err, ErrMissingGraph)
	})

	t.Run("mnist_mlp", func(t *testing.T) {
		got, err := ForConfig(mapConfig{
			"general.architecture":  "mnist_mlp",
			"mnist_mlp.block_count": uint32(1),
			"mnist_mlp.input_size":  uint32(8),
			"mnist_mlp.hidden_size": uint32(4),
			"mnist_mlp.output_size": uint32(2),
		})
		require.NoError(t, err)
		if diff := cmp.Diff(d, got); diff != "" {
			t.Errorf("Definition (-want +got):\n%s", diff)
		}
	})

	t.Run("unbekannt", func(t *testing.T) {
		_, err := ForConfig(mapConfig{"general.architecture": "transformer"})
		require.ErrorIs(t, err, ErrUnsupportedArchitecture)
	})

	require.Contains(t, Architectures(), "mnist_mlp")
	require.Panics(t, func() { RegisterArchitecture("sequential", sequential) })
}

// TestCheckTarget prueft die unterstuetzten Targets
func TestCheckTarget(t *testing.T) {
	require.NoError(t, CheckTarget(ml.TargetCPU))
	require.NoError(t, CheckTarget(ml.TargetAuto))
	require.ErrorIs(t, CheckTarget(ml.TargetGPU), ml.ErrUnsupportedTarget)
}
