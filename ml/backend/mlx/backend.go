// Package mlx - Backend fuer das MLX-Encoding (Safetensors-Artefakte)
//
// Hauptfunktionen:
// - New: Backend erstellen
// - ReadModel: Metadaten und Tensoren fuer die Konvertierung lesen
// - openShards: Einzeldatei oder Verzeichnis mit model.safetensors.index.json
// - loadWeights: Tensors parallel nach float32 dekodieren
//
// Die Graph-Topologie kommt aus den Metadaten: general.architecture waehlt
// die Architektur, nnhost.graph traegt die JSON-Definition fuer "sequential".
package mlx

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/nnhost/nnhost/fs/safetensors"
	"github.com/nnhost/nnhost/logutil"
	"github.com/nnhost/nnhost/ml"
	"github.com/nnhost/nnhost/ml/nn"
)

func init() {
	ml.RegisterBackend(ml.EncodingMLX, New)
}

// SafetensorsIndex repraesentiert model.safetensors.index.json
type SafetensorsIndex struct {
	Metadata  map[string]any    `json:"metadata"`
	WeightMap map[string]string `json:"weight_map"`
}

const indexFilename = "model.safetensors.index.json"

// New erstellt ein neues MLX-Backend
func New(ctx context.Context, modelPath string, params ml.BackendParams) (ml.Backend, error) {
	if err := nn.CheckTarget(params.Target); err != nil {
		return nil, err
	}

	start := time.Now()
	metadata, weights, shards, err := read(ctx, modelPath, params.NumThreads)
	if err != nil {
		return nil, err
	}

	def, err := nn.ForConfig(safetensors.NewConfig(metadata))
	if err != nil {
		return nil, err
	}

	program, err := nn.Bind(def, weights)
	if err != nil {
		return nil, err
	}

	slog.Debug("mlx graph",
		"architecture", metadata["general.architecture"],
		"shards", shards,
		"num_tensors", weights.Len(),
		"num_params", weights.NumValues(),
		"duration", time.Since(start))
	return nn.NewBackend(program, params), nil
}

// ReadModel liest Metadaten und Tensoren eines Safetensors-Artefakts,
// ohne daraus einen Graphen zu bauen.
func ReadModel(ctx context.Context, modelPath string, numThreads int) (map[string]string, *nn.Params, error) {
	metadata, weights, _, err := read(ctx, modelPath, numThreads)
	return metadata, weights, err
}

// read oeffnet alle Shards, fuehrt die Metadaten zusammen und laedt die
// Tensoren. Gibt zusaetzlich die Anzahl der Shards zurueck.
func read(ctx context.Context, modelPath string, numThreads int) (map[string]string, *nn.Params, int, error) {
	files, err := openShards(modelPath)
	if err != nil {
		return nil, nil, 0, err
	}
	defer func() {
		for _, f := range files {
			f.Close()
		}
	}()

	metadata := make(map[string]string)
	for _, f := range files {
		maps.Copy(metadata, f.Metadata())
	}

	weights, err := loadWeights(ctx, files, numThreads)
	if err != nil {
		return nil, nil, 0, err
	}

	return metadata, weights, len(files), nil
}

// openShards oeffnet eine Safetensors-Datei oder alle Shards eines
// Verzeichnisses. Ohne Index wird model.safetensors gesucht.
func openShards(modelPath string) ([]*safetensors.File, error) {
	fi, err := os.Stat(modelPath)
	if err != nil {
		return nil, err
	}

	if !fi.IsDir() {
		f, err := safetensors.Open(modelPath)
		if err != nil {
			return nil, err
		}
		return []*safetensors.File{f}, nil
	}

	filenames := []string{"model.safetensors"}
	if bts, err := os.ReadFile(filepath.Join(modelPath, indexFilename)); err == nil {
		var index SafetensorsIndex
		if err := json.Unmarshal(bts, &index); err != nil {
			return nil, fmt.Errorf("decode error: %s: %w", indexFilename, err)
		}

		shards := make(map[string]struct{})
		for _, name := range index.WeightMap {
			shards[name] = struct{}{}
		}
		filenames = slices.Sorted(maps.Keys(shards))

		if len(filenames) == 0 {
			return nil, fmt.Errorf("%s: empty weight map", indexFilename)
		}
	}

	var files []*safetensors.File
	for _, name := range filenames {
		slog.Debug("loading tensors from", "filename", name)
		f, err := safetensors.Open(filepath.Join(modelPath, name))
		if err != nil {
			for _, f := range files {
				f.Close()
			}
			return nil, err
		}
		files = append(files, f)
	}

	return files, nil
}

var dtypes = map[safetensors.DType]ml.DType{
	safetensors.DTypeF16:  ml.DTypeF16,
	safetensors.DTypeBF16: ml.DTypeBF16,
	safetensors.DTypeF32:  ml.DTypeF32,
	safetensors.DTypeF64:  ml.DTypeF64,
	safetensors.DTypeI32:  ml.DTypeI32,
	safetensors.DTypeI64:  ml.DTypeI64,
	safetensors.DTypeU8:   ml.DTypeU8,
}

type tensorRef struct {
	file *safetensors.File
	name string
}

// loadWeights dekodiert alle Tensors parallel. Die Reihenfolge der Params
// folgt den Shards und dem Header.
func loadWeights(ctx context.Context, files []*safetensors.File, numThreads int) (*nn.Params, error) {
	var refs []tensorRef
	seen := make(map[string]bool)
	for _, f := range files {
		for _, name := range f.Names() {
			if seen[name] {
				return nil, fmt.Errorf("tensor %s is stored in more than one shard", name)
			}
			seen[name] = true
			refs = append(refs, tensorRef{file: f, name: name})
		}
	}

	loaded := make([]*nn.Param, len(refs))
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(max(numThreads, 1))
	for i, ref := range refs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}

			ti, bts, err := ref.file.Tensor(ref.name)
			if err != nil {
				return err
			}

			dtype, ok := dtypes[ti.DType]
			if !ok {
				return fmt.Errorf("tensor %s: unsupported dtype %s", ref.name, ti.DType)
			}

			p, err := nn.NewParam(ti.Shape, ml.DecodeFloats(dtype, bts))
			if err != nil {
				return fmt.Errorf("tensor %s: %w", ref.name, err)
			}

			logutil.Trace("decoded tensor", "name", ref.name, "dtype", ti.DType, "shape", ti.Shape)
			loaded[i] = p
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	weights := nn.NewParams()
	for i, ref := range refs {
		weights.Set(ref.name, loaded[i])
	}
	return weights, nil
}
