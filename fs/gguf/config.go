package gguf

import (
	"cmp"

	"github.com/nnhost/nnhost/fs"
)

// Config gibt die KV-Paare der Datei als fs.Config zurueck
func (f *File) Config() fs.Config {
	return config{f}
}

type config struct {
	f *File
}

func (c config) Architecture() string {
	return c.f.KeyValue("general.architecture").String()
}

func (c config) String(key string, defaultValue ...string) string {
	if kv := c.f.KeyValue(key); kv.Valid() {
		return kv.String()
	}
	return cmp.Or(defaultValue...)
}

func (c config) Uint(key string, defaultValue ...uint32) uint32 {
	if kv := c.f.KeyValue(key); kv.Valid() {
		return uint32(kv.Uint())
	}
	return cmp.Or(defaultValue...)
}

func (c config) Float(key string, defaultValue ...float32) float32 {
	if kv := c.f.KeyValue(key); kv.Valid() {
		return float32(kv.Float())
	}
	return cmp.Or(defaultValue...)
}

func (c config) Bool(key string, defaultValue ...bool) bool {
	if kv := c.f.KeyValue(key); kv.Valid() {
		return kv.Bool()
	}
	return cmp.Or(defaultValue...)
}

func (c config) Strings(key string, defaultValue ...[]string) []string {
	if kv := c.f.KeyValue(key); kv.Valid() {
		return kv.Strings()
	}
	if len(defaultValue) > 0 {
		return defaultValue[0]
	}
	return nil
}
