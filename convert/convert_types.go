// convert_types.go - Basis-Typen fuer die Konvertierung
// Haupttypen: KV (Metadaten, implementiert fs.Config), Umrechnung zwischen
// GGUF-KV-Paaren und Safetensors-Metadaten
package convert

import (
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"
	"strconv"
	"strings"

	"github.com/nnhost/nnhost/fs"
	"github.com/nnhost/nnhost/fs/gguf"
)

// KV - Key-Value Map fuer die Metadaten eines Modells
type KV map[string]any

// Architecture - Gibt die Modell-Architektur zurueck
func (kv KV) Architecture() string {
	return kv.String("general.architecture")
}

// valueTypes - Erlaubte Einzelwert-Typen fuer KV
type valueTypes interface {
	uint8 | int8 | uint16 | int16 |
		uint32 | int32 | uint64 | int64 |
		string | float32 | float64 | bool
}

// arrayValueTypes - Erlaubte Array-Typen fuer KV
type arrayValueTypes interface {
	[]uint8 | []int8 | []uint16 | []int16 |
		[]uint32 | []int32 | []uint64 | []int64 |
		[]string | []float32 | []float64 | []bool
}

// keyValue - Generische Funktion zum Abrufen von Werten aus KV
// Schluessel ohne Architecture-Prefix werden ebenfalls gefunden.
func keyValue[T valueTypes | arrayValueTypes](kv KV, key string, defaultValue ...T) (T, bool) {
	keys := []string{key}
	if !fs.Reserved(key) {
		keys = []string{fs.Key(kv.Architecture(), key), key}
	}

	for _, k := range keys {
		if val, ok := kv[k].(T); ok {
			return val, true
		}
	}
	return defaultValue[0], false
}

// Len - Anzahl der Eintraege
func (kv KV) Len() int {
	return len(kv)
}

// Keys - Gibt alle Schluessel sortiert zurueck
func (kv KV) Keys() iter.Seq[string] {
	return slices.Values(slices.Sorted(maps.Keys(kv)))
}

// Value - Gibt einen Wert zurueck
func (kv KV) Value(key string) any {
	return kv[key]
}

// qualified gibt eine Kopie mit vollen Schluesseln zurueck.
func (kv KV) qualified() KV {
	arch := kv.Architecture()
	out := make(KV, len(kv))
	for k, v := range kv {
		out[fs.Key(arch, k)] = v
	}
	return out
}

// =============================================================================
// GGUF
// =============================================================================

// KeyValues - Gibt die Eintraege als GGUF-KV-Paare sortiert nach Key zurueck
func (kv KV) KeyValues() []gguf.KeyValue {
	q := kv.qualified()
	kvs := make([]gguf.KeyValue, 0, len(q))
	for k := range q.Keys() {
		kvs = append(kvs, gguf.KeyValue{Key: k, Value: gguf.NewValue(q[k])})
	}
	return kvs
}

// =============================================================================
// Safetensors
// =============================================================================

// Metadata - Gibt die Eintraege als Safetensors-Metadaten zurueck.
// Strings bleiben unveraendert, Listen werden als JSON kodiert.
func (kv KV) Metadata() (map[string]string, error) {
	md := make(map[string]string, len(kv))
	for k, v := range kv.qualified() {
		switch v := v.(type) {
		case string:
			md[k] = v
		case bool:
			md[k] = strconv.FormatBool(v)
		case float32:
			md[k] = strconv.FormatFloat(float64(v), 'g', -1, 32)
		case float64:
			md[k] = strconv.FormatFloat(v, 'g', -1, 64)
		case uint8, int8, uint16, int16, uint32, int32, uint64, int64:
			md[k] = fmt.Sprint(v)
		case []uint8, []int8, []uint16, []int16, []uint32, []int32, []uint64, []int64,
			[]string, []float32, []float64, []bool:
			bts, err := json.Marshal(v)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", k, err)
			}
			md[k] = string(bts)
		default:
			return nil, fmt.Errorf("improper type for '%s': %T", k, v)
		}
	}
	return md, nil
}

// ParseMetadata - Erstellt KV aus Safetensors-Metadaten. Ganzzahlen werden
// zu uint32 oder int32, Kommazahlen zu float32, true/false zu bool und
// JSON-String-Listen zu []string.
func ParseMetadata(md map[string]string) KV {
	kv := make(KV, len(md))
	for k, v := range md {
		kv[k] = parseValue(v)
	}
	return kv
}

func parseValue(s string) any {
	if strings.ContainsAny(s, "0123456789") {
		if n, err := strconv.ParseUint(s, 10, 32); err == nil {
			return uint32(n)
		}

		if n, err := strconv.ParseInt(s, 10, 32); err == nil {
			return int32(n)
		}

		if f, err := strconv.ParseFloat(s, 32); err == nil {
			return float32(f)
		}
	}

	switch s {
	case "true":
		return true
	case "false":
		return false
	}

	if strings.HasPrefix(s, "[") {
		var ss []string
		if err := json.Unmarshal([]byte(s), &ss); err == nil {
			return ss
		}
	}

	return s
}
