// Package gguf - GGUF Write Operations
//
// Dieses Modul enthaelt Funktionen zum Schreiben von GGUF-Dateien:
// - WriteFile: Schreibt eine komplette Datei mit KV-Paaren und Tensors
// - Write: Schreibt in eine bereits geoeffnete Datei (V3 Format)
// - writeValue: Typisierte Wert-Serialisierung
// - writeString: String-Serialisierung
// - writeArray: Array-Serialisierung
// - writeTensorInfo: Tensor-Metadaten Serialisierung
package gguf

import (
	"cmp"
	"encoding/binary"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime"
	"slices"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/nnhost/nnhost/fs"
)

// TensorData ist ein zu schreibender Tensor. Shape ist in GGML-Reihenfolge.
type TensorData struct {
	Name  string
	Type  TensorType
	Shape []uint64
	Data  []byte
}

func (t TensorData) info() TensorInfo {
	return TensorInfo{Name: t.Name, Type: t.Type, Shape: t.Shape}
}

// WriteFile erstellt path und schreibt KV-Paare und Tensors hinein.
func WriteFile(path string, kvs []KeyValue, ts []TensorData) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}

	if err := Write(f, kvs, ts); err != nil {
		f.Close()
		return err
	}

	return f.Close()
}

// Write schreibt ein GGUF-File mit KV-Paaren und Tensors (V3 Format)
func Write(f *os.File, kvs []KeyValue, ts []TensorData) error {
	var arch string
	if i := slices.IndexFunc(kvs, func(kv KeyValue) bool { return kv.Key == "general.architecture" }); i >= 0 {
		arch = kvs[i].String()
	}
	if arch == "" {
		return fmt.Errorf("architecture not set")
	}

	for _, t := range ts {
		if err := t.info().checkShape(); err != nil {
			return fmt.Errorf("tensor %s: %w", t.Name, err)
		}

		if want := t.info().NumBytes(); want == 0 || int64(len(t.Data)) != want {
			return fmt.Errorf("tensor %s: %d bytes for %v %v", t.Name, len(t.Data), t.Type, t.Shape)
		}
	}

	// Magic: "GGUF"
	if err := binary.Write(f, binary.LittleEndian, magic); err != nil {
		return err
	}

	// Version: 3
	if err := binary.Write(f, binary.LittleEndian, uint32(3)); err != nil {
		return err
	}

	// Tensor Count
	if err := binary.Write(f, binary.LittleEndian, uint64(len(ts))); err != nil {
		return err
	}

	// KV Count
	if err := binary.Write(f, binary.LittleEndian, uint64(len(kvs))); err != nil {
		return err
	}

	// Write KV Pairs
	kvs = slices.SortedFunc(slices.Values(kvs), func(a, b KeyValue) int {
		return cmp.Compare(a.Key, b.Key)
	})

	alignment := int64(defaultAlignment)
	for _, kv := range kvs {
		if kv.Key == "general.alignment" {
			alignment = cmp.Or(kv.Int(), alignment)
		}

		if err := writeKeyValue(f, arch, kv); err != nil {
			return err
		}
	}

	// Calculate offsets and write tensor info
	offsets := make([]uint64, len(ts))
	var s uint64
	for i, t := range ts {
		offsets[i] = s
		info := t.info()
		info.Offset = s
		if err := writeTensorInfo(f, info); err != nil {
			return err
		}
		s += uint64(info.NumBytes())
		s += uint64(padding(int64(s), alignment))
	}

	offset, err := f.Seek(0, io.SeekCurrent)
	if err != nil {
		return err
	}
	offset += padding(offset, alignment)

	// Write tensor data in parallel
	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i, t := range ts {
		w := io.NewOffsetWriter(f, offset+int64(offsets[i]))
		g.Go(func() error {
			_, err := w.Write(t.Data)
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Letztes Padding, damit die Datei am Alignment endet
	return f.Truncate(offset + int64(s))
}

// writeValue schreibt einen typisierten Wert mit Typ-Prefix
func writeValue[V any](w io.Writer, t uint32, v V) error {
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, v)
}

// writeString schreibt einen String mit Typ-Prefix und Laenge
func writeString(w io.Writer, s string) error {
	if err := binary.Write(w, binary.LittleEndian, typeString); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.Copy(w, strings.NewReader(s))
	return err
}

// writeArray schreibt ein Array mit Typ-Prefix
func writeArray[S ~[]E, E any](w io.Writer, t uint32, s S) error {
	if err := binary.Write(w, binary.LittleEndian, typeArray); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, t); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, uint64(len(s))); err != nil {
		return err
	}

	// Strings muessen einzeln geschrieben werden
	if t == typeString {
		for _, e := range any(s).([]string) {
			if err := binary.Write(w, binary.LittleEndian, uint64(len(e))); err != nil {
				return err
			}
			if err := binary.Write(w, binary.LittleEndian, []byte(e)); err != nil {
				return err
			}
		}
		return nil
	}

	return binary.Write(w, binary.LittleEndian, s)
}

// writeKeyValue schreibt ein Key-Value Paar
func writeKeyValue(w io.Writer, arch string, kv KeyValue) error {
	// Prefix hinzufuegen falls nicht vorhanden
	k := fs.Key(arch, kv.Key)

	slog.Debug(k, "type", fmt.Sprintf("%T", kv.Any()))

	// Key schreiben
	if err := binary.Write(w, binary.LittleEndian, uint64(len(k))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, []byte(k)); err != nil {
		return err
	}

	// Value schreiben
	switch v := kv.Any().(type) {
	case uint8:
		return writeValue(w, typeUint8, v)
	case int8:
		return writeValue(w, typeInt8, v)
	case uint16:
		return writeValue(w, typeUint16, v)
	case int16:
		return writeValue(w, typeInt16, v)
	case int32:
		return writeValue(w, typeInt32, v)
	case int64:
		return writeValue(w, typeInt64, v)
	case uint32:
		return writeValue(w, typeUint32, v)
	case uint64:
		return writeValue(w, typeUint64, v)
	case float32:
		return writeValue(w, typeFloat32, v)
	case float64:
		return writeValue(w, typeFloat64, v)
	case bool:
		return writeValue(w, typeBool, v)
	case string:
		return writeString(w, v)
	case []int32:
		return writeArray(w, typeInt32, v)
	case []int64:
		return writeArray(w, typeInt64, v)
	case []uint32:
		return writeArray(w, typeUint32, v)
	case []float32:
		return writeArray(w, typeFloat32, v)
	case []string:
		return writeArray(w, typeString, v)
	case []bool:
		return writeArray(w, typeBool, v)
	default:
		return fmt.Errorf("improper type for '%s'", k)
	}
}

// writeTensorInfo schreibt die Tensor-Metadaten
func writeTensorInfo(w io.Writer, t TensorInfo) error {
	slog.Debug(t.Name, "kind", t.Type, "shape", t.Shape, "offset", t.Offset)

	// Name
	if err := binary.Write(w, binary.LittleEndian, uint64(len(t.Name))); err != nil {
		return err
	}
	if err := binary.Write(w, binary.LittleEndian, []byte(t.Name)); err != nil {
		return err
	}

	// Dimensions
	if err := binary.Write(w, binary.LittleEndian, uint32(len(t.Shape))); err != nil {
		return err
	}
	for _, n := range t.Shape {
		if err := binary.Write(w, binary.LittleEndian, n); err != nil {
			return err
		}
	}

	// Kind + Offset
	if err := binary.Write(w, binary.LittleEndian, uint32(t.Type)); err != nil {
		return err
	}
	return binary.Write(w, binary.LittleEndian, t.Offset)
}

// padding berechnet das Padding fuer Alignment
func padding(offset, align int64) int64 {
	return (align - offset%align) % align
}
