// convert_kv.go - KV-Getter: Typisierte Zugriffsmethoden fuer KV-Map
// Hauptfunktionen: String, Uint, Float, Bool, Strings, Ints, Uints, Floats
// String bis Strings erfuellen fs.Config.
package convert

// String - Gibt String-Wert zurueck
func (kv KV) String(key string, defaultValue ...string) string {
	val, _ := keyValue(kv, key, append(defaultValue, "")...)
	return val
}

// Uint - Gibt uint32-Wert zurueck
func (kv KV) Uint(key string, defaultValue ...uint32) uint32 {
	val, _ := keyValue(kv, key, append(defaultValue, 0)...)
	return val
}

// Float - Gibt float32-Wert zurueck. Ganzzahlen werden umgewandelt, da
// Safetensors-Metadaten "1" nicht von "1.0" unterscheiden.
func (kv KV) Float(key string, defaultValue ...float32) float32 {
	val, ok := keyValue(kv, key, append(defaultValue, 0)...)
	if ok {
		return val
	}

	if n, ok := keyValue[uint32](kv, key, 0); ok {
		return float32(n)
	}

	if n, ok := keyValue[int32](kv, key, 0); ok {
		return float32(n)
	}

	return val
}

// Bool - Gibt bool-Wert zurueck
func (kv KV) Bool(key string, defaultValue ...bool) bool {
	val, _ := keyValue(kv, key, append(defaultValue, false)...)
	return val
}

// Strings - Gibt String-Array zurueck
func (kv KV) Strings(key string, defaultValue ...[]string) []string {
	val, _ := keyValue(kv, key, append(defaultValue, nil)...)
	return val
}

// Ints - Gibt int32-Array zurueck
func (kv KV) Ints(key string, defaultValue ...[]int32) []int32 {
	val, _ := keyValue(kv, key, append(defaultValue, nil)...)
	return val
}

// Uints - Gibt uint32-Array zurueck
func (kv KV) Uints(key string, defaultValue ...[]uint32) []uint32 {
	val, _ := keyValue(kv, key, append(defaultValue, nil)...)
	return val
}

// Floats - Gibt float32-Array zurueck
func (kv KV) Floats(key string, defaultValue ...[]float32) []float32 {
	val, _ := keyValue(kv, key, append(defaultValue, nil)...)
	return val
}
