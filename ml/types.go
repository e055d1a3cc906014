// types.go - Datentypen und Konstanten fuer das Inferenz-Protokoll
// Dieses Modul definiert GraphEncoding, ExecutionTarget und DType.
package ml

import (
	"fmt"
	"strings"
)

// GraphEncoding identifiziert das Serialisierungs-/Runtime-Format eines Graphen.
type GraphEncoding int

const (
	EncodingOpenVINO GraphEncoding = iota
	EncodingONNX
	EncodingTensorFlow
	EncodingPyTorch
	EncodingTensorFlowLite
	EncodingAutodetect
	EncodingGGML
	EncodingMLX
)

var encodingNames = map[GraphEncoding]string{
	EncodingOpenVINO:       "openvino",
	EncodingONNX:           "onnx",
	EncodingTensorFlow:     "tensorflow",
	EncodingPyTorch:        "pytorch",
	EncodingTensorFlowLite: "tensorflowlite",
	EncodingAutodetect:     "autodetect",
	EncodingGGML:           "ggml",
	EncodingMLX:            "mlx",
}

func (e GraphEncoding) String() string {
	if s, ok := encodingNames[e]; ok {
		return s
	}
	return fmt.Sprintf("encoding(%d)", int(e))
}

// ParseGraphEncoding parst einen Encoding-Namen (Gross-/Kleinschreibung egal).
// "auto" ist ein Alias fuer "autodetect".
func ParseGraphEncoding(s string) (GraphEncoding, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "auto" {
		return EncodingAutodetect, nil
	}

	for e, name := range encodingNames {
		if name == s {
			return e, nil
		}
	}

	return 0, fmt.Errorf("%w: %q", ErrUnsupportedEncoding, s)
}

// ExecutionTarget identifiziert die Geraeteklasse fuer die Ausfuehrung.
type ExecutionTarget int

const (
	TargetCPU ExecutionTarget = iota
	TargetGPU
	TargetTPU
	TargetAuto
)

func (t ExecutionTarget) String() string {
	switch t {
	case TargetCPU:
		return "cpu"
	case TargetGPU:
		return "gpu"
	case TargetTPU:
		return "tpu"
	case TargetAuto:
		return "auto"
	default:
		return fmt.Sprintf("target(%d)", int(t))
	}
}

// ParseExecutionTarget parst einen Target-Namen (Gross-/Kleinschreibung egal).
func ParseExecutionTarget(s string) (ExecutionTarget, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "cpu":
		return TargetCPU, nil
	case "gpu":
		return TargetGPU, nil
	case "tpu":
		return TargetTPU, nil
	case "auto", "":
		return TargetAuto, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnsupportedTarget, s)
	}
}

// DType represents the data type of tensor elements.
type DType int

const (
	DTypeF16 DType = iota
	DTypeF32
	DTypeF64
	DTypeU8
	DTypeI32
	DTypeI64
	DTypeBF16
)

// Size gibt die Groesse eines Elements in Bytes zurueck.
func (d DType) Size() int {
	switch d {
	case DTypeU8:
		return 1
	case DTypeF16, DTypeBF16:
		return 2
	case DTypeF32, DTypeI32:
		return 4
	case DTypeF64, DTypeI64:
		return 8
	default:
		return 0
	}
}

func (d DType) String() string {
	switch d {
	case DTypeF16:
		return "f16"
	case DTypeF32:
		return "f32"
	case DTypeF64:
		return "f64"
	case DTypeU8:
		return "u8"
	case DTypeI32:
		return "i32"
	case DTypeI64:
		return "i64"
	case DTypeBF16:
		return "bf16"
	default:
		return fmt.Sprintf("dtype(%d)", int(d))
	}
}

// ParseDType parst einen Elementtyp, z.B. "f32", "F32" oder "float32".
func ParseDType(s string) (DType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "f16", "float16":
		return DTypeF16, nil
	case "f32", "float32":
		return DTypeF32, nil
	case "f64", "float64":
		return DTypeF64, nil
	case "u8", "uint8":
		return DTypeU8, nil
	case "i32", "int32":
		return DTypeI32, nil
	case "i64", "int64":
		return DTypeI64, nil
	case "bf16", "bfloat16":
		return DTypeBF16, nil
	default:
		return 0, fmt.Errorf("unknown dtype %q", s)
	}
}

// MarshalText implementiert encoding.TextMarshaler fuer JSON-Signaturen.
func (d DType) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// UnmarshalText implementiert encoding.TextUnmarshaler.
func (d *DType) UnmarshalText(b []byte) error {
	v, err := ParseDType(string(b))
	if err != nil {
		return err
	}
	*d = v
	return nil
}
