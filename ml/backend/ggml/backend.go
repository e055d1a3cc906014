// backend.go - Backend fuer das GGML-Encoding (GGUF-Artefakte)
// Enthaelt: New() zum Erstellen des Backends, ReadModel() fuer die
// Konvertierung und readWeights() zum parallelen Laden der Tensoren. Die Graph-Topologie kommt aus den KV-Paaren
// general.architecture und nnhost.graph.

package ggml

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nnhost/nnhost/fs/gguf"
	"github.com/nnhost/nnhost/logutil"
	"github.com/nnhost/nnhost/ml"
	"github.com/nnhost/nnhost/ml/nn"
)

func init() {
	ml.RegisterBackend(ml.EncodingGGML, New)
}

// New erstellt ein neues GGML-Backend fuer das angegebene Modell
func New(ctx context.Context, modelPath string, params ml.BackendParams) (ml.Backend, error) {
	if err := nn.CheckTarget(params.Target); err != nil {
		return nil, err
	}

	start := time.Now()
	f, err := gguf.Open(modelPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	c := f.Config()
	slog.Debug("gguf file",
		"path", modelPath,
		"architecture", c.Architecture(),
		"name", c.String("general.name"),
		"num_tensors", f.NumTensors(),
		"num_key_values", f.NumKeyValues())

	def, err := nn.ForConfig(c)
	if err != nil {
		return nil, err
	}

	weights, err := readWeights(ctx, f, modelPath, params.NumThreads)
	if err != nil {
		return nil, err
	}

	program, err := nn.Bind(def, weights)
	if err != nil {
		return nil, err
	}

	slog.Debug("ggml graph",
		"architecture", c.Architecture(),
		"num_tensors", weights.Len(),
		"num_params", weights.NumValues(),
		"duration", time.Since(start))
	return nn.NewBackend(program, params), nil
}

// ReadModel liest alle KV-Paare und Tensoren eines GGUF-Artefakts, ohne
// daraus einen Graphen zu bauen. Die Keys tragen ihren vollen Namensraum.
func ReadModel(ctx context.Context, modelPath string, numThreads int) (map[string]any, *nn.Params, error) {
	f, err := gguf.Open(modelPath)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	kvs := make(map[string]any, f.NumKeyValues())
	for _, kv := range f.KeyValues() {
		kvs[kv.Key] = kv.Any()
	}

	weights, err := readWeights(ctx, f, modelPath, numThreads)
	if err != nil {
		return nil, nil, err
	}

	return kvs, weights, nil
}

var dtypes = map[gguf.TensorType]ml.DType{
	gguf.TensorTypeF32:  ml.DTypeF32,
	gguf.TensorTypeF16:  ml.DTypeF16,
	gguf.TensorTypeBF16: ml.DTypeBF16,
	gguf.TensorTypeF64:  ml.DTypeF64,
	gguf.TensorTypeI32:  ml.DTypeI32,
	gguf.TensorTypeI64:  ml.DTypeI64,
}

// Shape gibt die Form in Zeilen-Reihenfolge zurueck. GGUF speichert die
// schnellste Dimension zuerst.
func Shape(ti gguf.TensorInfo) []int {
	shape := make([]int, len(ti.Shape))
	for i, d := range ti.Shape {
		shape[len(shape)-1-i] = int(d)
	}
	return shape
}

// readWeights laedt alle Tensoren parallel. Die Reader werden vorher
// sequentiell erzeugt, da File nicht nebenlaeufig gelesen werden darf.
func readWeights(ctx context.Context, f *gguf.File, modelPath string, numThreads int) (*nn.Params, error) {
	infos := make([]gguf.TensorInfo, 0, f.NumTensors())
	for _, ti := range f.TensorInfos() {
		infos = append(infos, ti)
	}

	if err := f.Err(); err != nil {
		return nil, err
	}

	readers := make([]io.Reader, len(infos))
	for i, ti := range infos {
		if _, ok := dtypes[ti.Type]; !ok {
			return nil, fmt.Errorf("tensor %s: unsupported type %v", ti.Name, ti.Type)
		}

		_, r, err := f.TensorReader(ti.Name)
		if err != nil {
			return nil, err
		}
		readers[i] = r
	}

	loaded := make([]*nn.Param, len(infos))

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(numThreads, 1))
	for i, ti := range infos {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			bts := make([]byte, ti.NumBytes())
			if _, err := io.ReadFull(readers[i], bts); err != nil {
				slog.Warn("file read error", "file", modelPath, "error", err)
				return err
			}

			p, err := nn.NewParam(Shape(ti), ml.DecodeFloats(dtypes[ti.Type], bts))
			if err != nil {
				return fmt.Errorf("tensor %s: %w", ti.Name, err)
			}

			logutil.Trace("decoded tensor", "name", ti.Name, "type", ti.Type, "shape", p.Shape)
			loaded[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	weights := nn.NewParams()
	for i, ti := range infos {
		if _, ok := weights.Get(ti.Name); ok {
			return nil, fmt.Errorf("duplicate tensor %s", ti.Name)
		}
		weights.Set(ti.Name, loaded[i])
	}
	return weights, nil
}

// Reverse gibt shape in GGML-Reihenfolge zurueck.
func Reverse(shape []int) []uint64 {
	out := make([]uint64, len(shape))
	for i, d := range shape {
		out[len(shape)-1-i] = uint64(d)
	}
	return out
}
