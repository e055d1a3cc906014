package safetensors

import (
	"cmp"
	"encoding/json"
	"strconv"

	"github.com/nnhost/nnhost/fs"
)

// Config gibt "__metadata__" als fs.Config zurueck. Zahlen und Bools
// werden aus ihrer Textform geparst, String-Listen aus JSON-Arrays.
func (f *File) Config() fs.Config {
	return NewConfig(f.metadata)
}

// NewConfig gibt metadata als fs.Config zurueck
func NewConfig(metadata map[string]string) fs.Config {
	return config(metadata)
}

type config map[string]string

func (c config) Architecture() string {
	return c["general.architecture"]
}

func (c config) lookup(key string) (string, bool) {
	v, ok := c[fs.Key(c.Architecture(), key)]
	return v, ok
}

func (c config) String(key string, defaultValue ...string) string {
	if v, ok := c.lookup(key); ok {
		return v
	}
	return cmp.Or(defaultValue...)
}

func (c config) Uint(key string, defaultValue ...uint32) uint32 {
	if v, ok := c.lookup(key); ok {
		if n, err := strconv.ParseUint(v, 10, 32); err == nil {
			return uint32(n)
		}
	}
	return cmp.Or(defaultValue...)
}

func (c config) Float(key string, defaultValue ...float32) float32 {
	if v, ok := c.lookup(key); ok {
		if f, err := strconv.ParseFloat(v, 32); err == nil {
			return float32(f)
		}
	}
	return cmp.Or(defaultValue...)
}

func (c config) Bool(key string, defaultValue ...bool) bool {
	if v, ok := c.lookup(key); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return cmp.Or(defaultValue...)
}

func (c config) Strings(key string, defaultValue ...[]string) []string {
	if v, ok := c.lookup(key); ok {
		var s []string
		if err := json.Unmarshal([]byte(v), &s); err == nil {
			return s
		}
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return nil
}
