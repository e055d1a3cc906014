// Package gguf - Key-Value Paare
//
// Dieses Modul enthaelt KeyValue und Value mit typisierten Zugriffen.
// Zugriffe auf fehlende oder anders typisierte Werte liefern Nullwerte.
package gguf

import (
	"reflect"
	"slices"
)

// KeyValue ist ein Metadaten-Eintrag einer GGUF-Datei
type KeyValue struct {
	Key string
	Value
}

// Valid meldet ob der Eintrag existiert
func (kv KeyValue) Valid() bool {
	return kv.Key != "" && kv.Value.value != nil
}

// Value haelt einen dekodierten GGUF-Wert
type Value struct {
	value any
}

// NewValue verpackt v fuer den Writer.
func NewValue(v any) Value {
	return Value{v}
}

// Any gibt den rohen Wert zurueck
func (v Value) Any() any {
	return v.value
}

func value[T any](v Value, kinds ...reflect.Kind) (t T) {
	vv := reflect.ValueOf(v.value)
	if slices.Contains(kinds, vv.Kind()) {
		t = vv.Convert(reflect.TypeOf(t)).Interface().(T)
	}
	return
}

func values[T any](v Value, kinds ...reflect.Kind) (ts []T) {
	switch vv := reflect.ValueOf(v.value); vv.Kind() {
	case reflect.Slice:
		if slices.Contains(kinds, vv.Type().Elem().Kind()) {
			ts = make([]T, vv.Len())
			for i := range vv.Len() {
				ts[i] = vv.Index(i).Convert(reflect.TypeOf(ts[i])).Interface().(T)
			}
		}
	}
	return
}

// Int gibt den Wert als int64 zurueck, wenn er ein Integer ist
func (v Value) Int() int64 {
	return value[int64](v, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32)
}

// Ints gibt den Wert als []int64 zurueck
func (v Value) Ints() []int64 {
	return values[int64](v, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint8, reflect.Uint16, reflect.Uint32)
}

// Uint gibt den Wert als uint64 zurueck, wenn er ein vorzeichenloser Integer ist
func (v Value) Uint() uint64 {
	return value[uint64](v, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64)
}

// Float gibt den Wert als float64 zurueck
func (v Value) Float() float64 {
	return value[float64](v, reflect.Float32, reflect.Float64)
}

// Bool gibt den Wert als bool zurueck
func (v Value) Bool() bool {
	return value[bool](v, reflect.Bool)
}

// String gibt den Wert als string zurueck
func (v Value) String() string {
	return value[string](v, reflect.String)
}

// Strings gibt den Wert als []string zurueck
func (v Value) Strings() []string {
	return values[string](v, reflect.String)
}
