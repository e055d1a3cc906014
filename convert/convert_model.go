// convert_model.go - Modell-Konvertierung zwischen MLX (Safetensors) und GGML (GGUF)
// Hauptfunktionen: New, Sequential, LoadModel, WriteModel, ConvertModel
package convert

import (
	"cmp"
	"context"
	"fmt"
	"log/slog"
	"maps"
	"runtime"

	"github.com/nnhost/nnhost/fs/gguf"
	"github.com/nnhost/nnhost/fs/safetensors"
	"github.com/nnhost/nnhost/ml"
	"github.com/nnhost/nnhost/ml/backend/ggml"
	"github.com/nnhost/nnhost/ml/backend/mlx"
	"github.com/nnhost/nnhost/ml/nn"
)

// Model - Metadaten und Parameter eines Modells, unabhaengig vom Encoding
type Model struct {
	KV     KV
	Params *nn.Params
}

// New - Erstellt ein Modell fuer die Architektur in kv mit zufaelligen
// Parametern. Gleiche Seeds liefern gleiche Parameter.
func New(kv KV, seed uint64) (*Model, error) {
	def, err := nn.ForConfig(kv)
	if err != nil {
		return nil, err
	}

	params, err := nn.Init(def, seed)
	if err != nil {
		return nil, err
	}

	return &Model{KV: kv, Params: params}, nil
}

// Sequential - Erstellt ein Modell, das d in den Metadaten traegt
func Sequential(name string, d nn.Definition, seed uint64) (*Model, error) {
	bts, err := d.Marshal()
	if err != nil {
		return nil, err
	}

	return New(KV{
		"general.architecture": nn.DefaultArchitecture,
		"general.name":         name,
		nn.GraphKey:            string(bts),
	}, seed)
}

// Definition - Baut die Graph-Definition aus den Metadaten
func (m *Model) Definition() (nn.Definition, error) {
	return nn.ForConfig(m.KV)
}

// Check - Prueft ob Definition und Parameter zusammenpassen
func (m *Model) Check() error {
	def, err := m.Definition()
	if err != nil {
		return err
	}

	_, err = nn.Bind(def, m.Params)
	return err
}

// =============================================================================
// Optionen
// =============================================================================

type options struct {
	dtype      ml.DType
	numThreads int
	progress   func(name string, done, total int)
	kv         KV
}

// Option - Konfiguriert LoadModel, WriteModel und ConvertModel
type Option func(*options)

// WithDType - Setzt den Elementtyp der geschriebenen Tensoren (Default f32)
func WithDType(dtype ml.DType) Option {
	return func(o *options) {
		o.dtype = dtype
	}
}

// WithNumThreads - Setzt die Anzahl paralleler Leser
func WithNumThreads(n int) Option {
	return func(o *options) {
		o.numThreads = n
	}
}

// WithProgress - Wird nach jedem kodierten Tensor mit der Anzahl der
// fertigen und aller Tensoren aufgerufen
func WithProgress(fn func(name string, done, total int)) Option {
	return func(o *options) {
		o.progress = fn
	}
}

// WithKV - Ergaenzt Metadaten, die das Artefakt nicht selbst traegt.
// Vorhandene Schluessel werden nicht ueberschrieben.
func WithKV(kv KV) Option {
	return func(o *options) {
		o.kv = kv
	}
}

func newOptions(opts []Option) options {
	o := options{dtype: ml.DTypeF32, progress: func(string, int, int) {}}
	for _, opt := range opts {
		opt(&o)
	}
	o.numThreads = cmp.Or(max(o.numThreads, 0), runtime.GOMAXPROCS(0))
	return o
}

// =============================================================================
// Lesen und Schreiben
// =============================================================================

// LoadModel - Liest ein Artefakt. EncodingAutodetect erkennt das Format
// anhand der Magic-Bytes.
func LoadModel(ctx context.Context, path string, encoding ml.GraphEncoding, opts ...Option) (*Model, error) {
	o := newOptions(opts)

	if encoding == ml.EncodingAutodetect {
		var err error
		if encoding, err = ml.DetectEncoding(path); err != nil {
			return nil, err
		}
	}

	var m *Model
	switch encoding {
	case ml.EncodingMLX:
		md, params, err := mlx.ReadModel(ctx, path, o.numThreads)
		if err != nil {
			return nil, err
		}
		m = &Model{KV: ParseMetadata(md), Params: params}
	case ml.EncodingGGML:
		kvs, params, err := ggml.ReadModel(ctx, path, o.numThreads)
		if err != nil {
			return nil, err
		}
		m = &Model{KV: KV(kvs), Params: params}
	case ml.EncodingPyTorch:
		params, err := readTorch(path)
		if err != nil {
			return nil, err
		}
		m = &Model{KV: KV{}, Params: params}
	default:
		return nil, fmt.Errorf("%w: %v", ml.ErrUnsupportedEncoding, encoding)
	}

	if m.KV == nil {
		m.KV = KV{}
	}

	for k, v := range o.kv {
		if _, ok := m.KV[k]; !ok {
			m.KV[k] = v
		}
	}

	if m.KV.Architecture() == "" && encoding == ml.EncodingPyTorch {
		return nil, fmt.Errorf("%s: pytorch checkpoint carries no metadata, architecture required", path)
	}

	return m, nil
}

var safetensorsTypes = map[ml.DType]safetensors.DType{
	ml.DTypeF32:  safetensors.DTypeF32,
	ml.DTypeF16:  safetensors.DTypeF16,
	ml.DTypeBF16: safetensors.DTypeBF16,
	ml.DTypeF64:  safetensors.DTypeF64,
}

var ggufTypes = map[ml.DType]gguf.TensorType{
	ml.DTypeF32:  gguf.TensorTypeF32,
	ml.DTypeF16:  gguf.TensorTypeF16,
	ml.DTypeBF16: gguf.TensorTypeBF16,
	ml.DTypeF64:  gguf.TensorTypeF64,
}

// WriteModel - Schreibt m im angegebenen Encoding nach path
func WriteModel(path string, m *Model, encoding ml.GraphEncoding, opts ...Option) error {
	o := newOptions(opts)

	kv := maps.Clone(m.KV)
	if kv == nil {
		kv = KV{}
	}

	if kv.Architecture() == "" {
		kv["general.architecture"] = nn.DefaultArchitecture
	}

	switch encoding {
	case ml.EncodingMLX:
		dtype, ok := safetensorsTypes[o.dtype]
		if !ok {
			return fmt.Errorf("unsupported tensor type %v", o.dtype)
		}

		md, err := kv.Metadata()
		if err != nil {
			return err
		}

		ts := make([]safetensors.TensorData, 0, m.Params.Len())
		for i, name := range m.Params.Names() {
			p, _ := m.Params.Get(name)
			ts = append(ts, safetensors.TensorData{Name: name, DType: dtype, Shape: p.Shape, Data: ml.EncodeFloats(o.dtype, p.Data)})
			o.progress(name, i+1, m.Params.Len())
		}

		return safetensors.WriteFile(path, md, ts)
	case ml.EncodingGGML:
		t, ok := ggufTypes[o.dtype]
		if !ok {
			return fmt.Errorf("unsupported tensor type %v", o.dtype)
		}

		ts := make([]gguf.TensorData, 0, m.Params.Len())
		for i, name := range m.Params.Names() {
			p, _ := m.Params.Get(name)
			ts = append(ts, gguf.TensorData{Name: name, Type: t, Shape: ggml.Reverse(p.Shape), Data: ml.EncodeFloats(o.dtype, p.Data)})
			o.progress(name, i+1, m.Params.Len())
		}

		return gguf.WriteFile(path, kv.KeyValues(), ts)
	default:
		return fmt.Errorf("%w: %v", ml.ErrUnsupportedEncoding, encoding)
	}
}

// ConvertModel - Liest src, prueft das Modell und schreibt es im Encoding
// to nach dst
func ConvertModel(ctx context.Context, src, dst string, to ml.GraphEncoding, opts ...Option) error {
	m, err := LoadModel(ctx, src, ml.EncodingAutodetect, opts...)
	if err != nil {
		return err
	}

	if err := m.Check(); err != nil {
		return fmt.Errorf("%s: %w", src, err)
	}

	slog.Debug("converting model", "src", src, "dst", dst, "encoding", to, "architecture", m.KV.Architecture(), "tensors", m.Params.Len())
	return WriteModel(dst, m, to, opts...)
}
