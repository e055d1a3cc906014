package cmd

import (
	"bytes"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/schollz/progressbar/v3"
	"github.com/stretchr/testify/require"

	"github.com/nnhost/nnhost/convert"
	"github.com/nnhost/nnhost/ml"
	"github.com/nnhost/nnhost/ml/nn"
	"github.com/nnhost/nnhost/session"
)

// setup schreibt das Referenz-Modell in ein frisches Modell-Verzeichnis.
func setup(t *testing.T) string {
	t.Helper()

	dir := t.TempDir()
	t.Setenv("NNHOST_MODELS", dir)
	t.Setenv("NNHOST_PRELOAD", "")
	t.Setenv("NNHOST_NOPROGRESS", "1")

	m, err := convert.New(convert.KV{"general.architecture": "mnist_mlp", "general.name": "mnist"}, 1)
	require.NoError(t, err)
	require.NoError(t, convert.WriteModel(filepath.Join(dir, "mnist.safetensors"), m, ml.EncodingMLX))
	return dir
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := NewCLI()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)

	err := cmd.ExecuteContext(t.Context())
	return out.String(), err
}

// outputs schneidet die Ausgabe-Tensoren ab, die IDs davor sind zufaellig.
func outputs(t *testing.T, s string) string {
	t.Helper()

	i := strings.Index(s, "Output tensor")
	require.GreaterOrEqual(t, i, 0, s)
	return s[i:]
}

// TestModelArg prueft dass genau ein Modell verlangt wird
func TestModelArg(t *testing.T) {
	setup(t)

	cases := [][]string{
		{},
		{"a", "b"},
		{"run"},
		{"run", "a", "b"},
		{"show"},
	}

	for _, args := range cases {
		_, err := execute(t, args...)
		if err == nil || !strings.Contains(err.Error(), "expected exactly one MODEL argument") {
			t.Errorf("%v: erwartet Argument-Fehler, bekommen %v", args, err)
		}
	}
}

// TestRun prueft die Ausgabe einer vollstaendigen Sitzung
func TestRun(t *testing.T) {
	setup(t)

	out, err := execute(t, "mnist", "--seed", "3", "--verbose")
	require.NoError(t, err)

	for _, line := range []string{
		"model_bin_name mnist\n",
		"Loaded graph with ID: ",
		"Created execution context with ID: ",
		"Read input tensor \"input\", size in bytes: 3136\n",
		"Executed graph inference\n",
		"inference duration: ",
		"Output tensor \"output\" [1 10] f32:\n[[",
	} {
		require.Contains(t, out, line)
	}

	again, err := execute(t, "run", "mnist", "--seed", "3")
	require.NoError(t, err)
	require.Equal(t, outputs(t, out), outputs(t, again))

	other, err := execute(t, "mnist", "--seed", "4")
	require.NoError(t, err)
	require.NotEqual(t, outputs(t, out), outputs(t, other))
}

// TestRunStages prueft dass Fehler die Stufe melden
func TestRunStages(t *testing.T) {
	dir := setup(t)

	short := filepath.Join(dir, "short.bin")
	require.NoError(t, os.WriteFile(short, make([]byte, 10), 0o644))

	cases := []struct {
		args  []string
		stage session.Stage
		kind  error
	}{
		{[]string{"missing"}, session.StageLoad, ml.ErrModelNotFound},
		{[]string{"mnist", "--target", "gpu"}, session.StageLoad, ml.ErrUnsupportedTarget},
		{[]string{"mnist", "--encoding", "ggml"}, session.StageLoad, ml.ErrGraphLoad},
		{[]string{"mnist", "--input", short}, session.StageBind, ml.ErrShapeMismatch},
	}

	for _, tt := range cases {
		t.Run(strings.Join(tt.args, " "), func(t *testing.T) {
			_, err := execute(t, tt.args...)
			require.ErrorIs(t, err, tt.kind)

			stage, ok := session.StageOf(err)
			require.True(t, ok)
			require.Equal(t, tt.stage, stage)
			require.True(t, strings.HasPrefix(err.Error(), string(tt.stage)+": "), err.Error())
		})
	}

	_, err := execute(t, "mnist", "--encoding", "caffe")
	require.ErrorContains(t, err, "invalid --encoding")

	_, err = execute(t, "mnist", "--target", "fpga")
	require.ErrorContains(t, err, "invalid --target")
}

// TestShow prueft die Tabellen von show
func TestShow(t *testing.T) {
	setup(t)

	out, err := execute(t, "show", "mnist")
	require.NoError(t, err)

	for _, s := range []string{"Model", "mnist_mlp", "mlx", "80,170", "Inputs", "[1 784]", "3.1 kB", "Outputs", "[1 10]", "40 B"} {
		require.Contains(t, out, s)
	}
	require.NotContains(t, out, "Metadata")

	out, err = execute(t, "show", "mnist", "--verbose")
	require.NoError(t, err)
	require.Contains(t, out, "Metadata")
	require.Contains(t, out, "general.name")
	require.Contains(t, out, "fc1.weight")

	_, err = execute(t, "show", "missing")
	require.ErrorIs(t, err, ml.ErrModelNotFound)
}

// TestConvert prueft dass das konvertierte Modell dieselben Ausgaben liefert
func TestConvert(t *testing.T) {
	dir := setup(t)
	src := filepath.Join(dir, "mnist.safetensors")
	dst := filepath.Join(dir, "copy.gguf")

	out, err := execute(t, "convert", src, dst)
	require.NoError(t, err)
	require.Contains(t, out, "converted "+src+" to "+dst+" (ggml, ")

	want, err := execute(t, src, "--seed", "9")
	require.NoError(t, err)

	got, err := execute(t, "copy", "--seed", "9")
	require.NoError(t, err)
	require.Equal(t, outputs(t, want), outputs(t, got))

	_, err = execute(t, "convert", src, filepath.Join(dir, "x.onnx"), "--to", "onnx")
	require.ErrorContains(t, err, "cannot write")

	_, err = execute(t, "convert", src, dst, "--dtype", "q4")
	require.ErrorContains(t, err, "invalid --dtype")

	_, err = execute(t, "convert", src, dst, "--set", "eps")
	require.ErrorIs(t, err, errInvalidSet)

	_, err = execute(t, "convert", filepath.Join(dir, "missing.gguf"), dst)
	require.ErrorIs(t, err, os.ErrNotExist)
}

// TestCreate prueft das Erstellen von Modellen aus Architektur und Graph
func TestCreate(t *testing.T) {
	dir := setup(t)
	dst := filepath.Join(dir, "small.gguf")

	out, err := execute(t, "create", "mnist_mlp", dst, "--set", "hidden_size=16", "--seed", "1")
	require.NoError(t, err)
	require.Contains(t, out, `created mnist_mlp model "small"`)

	m, err := convert.LoadModel(t.Context(), dst, ml.EncodingAutodetect)
	require.NoError(t, err)
	require.Equal(t, "small", m.KV.String("general.name"))
	p, ok := m.Params.Get("fc1.weight")
	require.True(t, ok)
	require.Equal(t, []int{784, 16}, p.Shape)

	_, err = execute(t, "small", "--seed", "1")
	require.NoError(t, err)

	_, err = execute(t, "create", "mnist_mlp", dst, "--set", "hidden_size")
	require.ErrorIs(t, err, errInvalidSet)

	_, err = execute(t, "create", "resnet", dst)
	require.ErrorIs(t, err, nn.ErrUnsupportedArchitecture)
}

// TestCreateGraph prueft create mit einer Graph-Definition
func TestCreateGraph(t *testing.T) {
	dir := setup(t)

	d := nn.Definition{
		Inputs:  []ml.TensorSpec{{Name: "x", Type: ml.DTypeF32, Shape: []int{1, 3}}},
		Outputs: []nn.OutputSpec{{TensorSpec: ml.TensorSpec{Name: "y", Type: ml.DTypeF32, Shape: []int{1, 3}}}},
		Layers:  []nn.LayerSpec{{Op: "relu"}},
	}
	bts, err := d.Marshal()
	require.NoError(t, err)

	graph := filepath.Join(dir, "relu.json")
	require.NoError(t, os.WriteFile(graph, bts, 0o644))

	dst := filepath.Join(dir, "relu.safetensors")
	_, err = execute(t, "create", nn.DefaultArchitecture, dst, "-f", graph)
	require.NoError(t, err)

	input := filepath.Join(dir, "x.bin")
	require.NoError(t, os.WriteFile(input, ml.EncodeFloats(ml.DTypeF32, []float32{-1, 2, -3}), 0o644))

	out, err := execute(t, "relu", "--input", input, "--precision", "1")
	require.NoError(t, err)
	require.Contains(t, out, "Output tensor \"y\" [1 3] f32:\n[[ 0.0,  2.0,  0.0]]\n")

	_, err = execute(t, "create", "mnist_mlp", dst, "-f", graph)
	require.ErrorContains(t, err, "--graph requires")
}

// TestEncodingFor prueft die Wahl des Ziel-Encodings
func TestEncodingFor(t *testing.T) {
	cmd := newConvertCmd()

	cases := map[string]ml.GraphEncoding{
		"a.gguf":        ml.EncodingGGML,
		"a.GGUF":        ml.EncodingGGML,
		"a.safetensors": ml.EncodingMLX,
		"a":             ml.EncodingMLX,
	}

	for path, want := range cases {
		got, err := encodingFor(cmd, path)
		require.NoError(t, err)
		require.Equal(t, want, got, path)
	}

	require.NoError(t, cmd.Flags().Set("to", "ggml"))
	got, err := encodingFor(cmd, "a.safetensors")
	require.NoError(t, err)
	require.Equal(t, ml.EncodingGGML, got)
}

// TestProgress prueft die Fortschrittsanzeige ausserhalb eines Terminals
func TestProgress(t *testing.T) {
	t.Setenv("NNHOST_NOPROGRESS", "")
	require.Nil(t, newProgressBar(&bytes.Buffer{}, "writing"))

	progressFunc(nil)("fc1.weight", 1, 2)

	bar := progressbar.NewOptions(-1, progressbar.OptionSetWriter(io.Discard))
	fn := progressFunc(bar)
	fn("fc1.weight", 1, 4)
	fn("fc1.bias", 2, 4)
	require.Equal(t, 4, bar.GetMax())
}
