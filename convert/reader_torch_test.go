package convert

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/binary"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/nnhost/nnhost/ml"
)

// torchTensor ist ein Eintrag des state_dicts in torch-Layout.
type torchTensor struct {
	name  string
	shape []int
	data  []float32
}

// writeTorch schreibt ein state_dict im Zip-Format von torch.save.
func writeTorch(t *testing.T, path string, ts []torchTensor) {
	t.Helper()

	var pkl bytes.Buffer
	str := func(s string) {
		pkl.WriteByte('X')
		pkl.Write(binary.LittleEndian.AppendUint32(nil, uint32(len(s))))
		pkl.WriteString(s)
	}
	num := func(n int) {
		pkl.WriteByte('J')
		pkl.Write(binary.LittleEndian.AppendUint32(nil, uint32(int32(n))))
	}
	tuple := func(ns []int) {
		pkl.WriteByte('(')
		for _, n := range ns {
			num(n)
		}
		pkl.WriteByte('t')
	}

	pkl.WriteString("\x80\x02}(")
	for i, tt := range ts {
		stride := make([]int, len(tt.shape))
		n := 1
		for j := len(tt.shape) - 1; j >= 0; j-- {
			stride[j] = n
			n *= tt.shape[j]
		}

		str(tt.name)
		pkl.WriteString("ctorch._utils\n_rebuild_tensor_v2\n(")
		pkl.WriteString("(")
		str("storage")
		pkl.WriteString("ctorch\nFloatStorage\n")
		str(strconv.Itoa(i))
		str("cpu")
		num(len(tt.data))
		pkl.WriteString("tQ")
		num(0)
		tuple(tt.shape)
		tuple(stride)
		pkl.WriteString("\x89ccollections\nOrderedDict\n)R")
		pkl.WriteString("tR")
	}
	pkl.WriteString("u.")

	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	zw := zip.NewWriter(f)
	add := func(name string, b []byte) {
		w, err := zw.CreateHeader(&zip.FileHeader{Name: "archive/" + name, Method: zip.Store})
		require.NoError(t, err)
		_, err = w.Write(b)
		require.NoError(t, err)
	}

	add("data.pkl", pkl.Bytes())
	for i, tt := range ts {
		var b []byte
		for _, f := range tt.data {
			b = binary.LittleEndian.AppendUint32(b, math.Float32bits(f))
		}
		add("data/"+strconv.Itoa(i), b)
	}
	add("version", []byte("3\n"))
	require.NoError(t, zw.Close())
}

// torchLayout bringt die Parameter von m in torch-Layout: Linear-Gewichte
// als [out, in].
func torchLayout(m *Model) []torchTensor {
	var ts []torchTensor
	for _, name := range m.Params.Names() {
		p, _ := m.Params.Get(name)
		tt := torchTensor{name: name, shape: append([]int(nil), p.Shape...), data: append([]float32(nil), p.Data...)}
		if len(p.Shape) == 2 && strings.HasSuffix(name, ".weight") {
			rows, cols := p.Shape[0], p.Shape[1]
			tt.shape = []int{cols, rows}
			for r := range rows {
				for c := range cols {
					tt.data[c*rows+r] = p.Data[r*cols+c]
				}
			}
		}
		ts = append(ts, tt)
	}
	return ts
}

// TestLoadTorch prueft das Lesen eines state_dicts inklusive Transposition
func TestLoadTorch(t *testing.T) {
	m := mnist(t, 3)

	path := filepath.Join(t.TempDir(), "mnist.pt")
	writeTorch(t, path, torchLayout(m))

	e, err := ml.DetectEncoding(path)
	require.NoError(t, err)
	require.Equal(t, ml.EncodingPyTorch, e)

	got, err := LoadModel(t.Context(), path, ml.EncodingAutodetect, WithKV(m.KV))
	require.NoError(t, err)
	require.Equal(t, "mnist_mlp", got.KV.Architecture())
	require.ElementsMatch(t, m.Params.Names(), got.Params.Names())

	for _, name := range m.Params.Names() {
		want, _ := m.Params.Get(name)
		p, ok := got.Params.Get(name)
		require.True(t, ok, name)
		require.Equal(t, want.Shape, p.Shape, name)
		require.Equal(t, want.Data, p.Data, name)
	}

	require.NoError(t, got.Check())
}

// TestConvertTorch prueft die Konvertierung eines Checkpoints nach Safetensors
func TestConvertTorch(t *testing.T) {
	m := mnist(t, 5)

	dir := t.TempDir()
	src := filepath.Join(dir, "mnist.pt")
	writeTorch(t, src, torchLayout(m))

	dst := filepath.Join(dir, "mnist.safetensors")
	err := ConvertModel(context.Background(), src, dst, ml.EncodingMLX)
	require.ErrorContains(t, err, "architecture required")

	require.NoError(t, ConvertModel(context.Background(), src, dst, ml.EncodingMLX, WithKV(m.KV)))

	got, err := LoadModel(t.Context(), dst, ml.EncodingAutodetect)
	require.NoError(t, err)
	for _, name := range m.Params.Names() {
		want, _ := m.Params.Get(name)
		p, _ := got.Params.Get(name)
		require.Equal(t, want.Data, p.Data, name)
	}
}

// TestLoadTorchRejects prueft Fehler bei kaputten Checkpoints
func TestLoadTorchRejects(t *testing.T) {
	dir := t.TempDir()

	path := filepath.Join(dir, "short.pt")
	writeTorch(t, path, []torchTensor{{name: "w", shape: []int{2, 3}, data: []float32{1, 2}}})
	_, err := LoadModel(t.Context(), path, ml.EncodingPyTorch, WithKV(KV{"general.architecture": "mnist_mlp"}))
	require.Error(t, err)

	bad := filepath.Join(dir, "bad.pt")
	require.NoError(t, os.WriteFile(bad, []byte("PK\x03\x04 not a zip"), 0o644))
	_, err = LoadModel(t.Context(), bad, ml.EncodingAutodetect)
	require.Error(t, err)
}
