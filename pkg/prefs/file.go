// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

package prefs

import (
	"encoding/json"
	"os"
	"sync"
	"time"
)

// File is a Store persisted as a JSON file, written on every set. Suitable
// for the small handful of keys the engines keep.
type File struct {
	mu     sync.Mutex
	path   string
	values map[string]json.RawMessage
}

// OpenFile loads or creates a file-backed preference store.
func OpenFile(path string) (*File, error) {
	f := &File{path: path, values: make(map[string]json.RawMessage)}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, &f.values); err != nil {
		return nil, err
	}
	return f, nil
}

func (f *File) get(key string, out any) {
	f.mu.Lock()
	raw, ok := f.values[key]
	f.mu.Unlock()
	if ok {
		_ = json.Unmarshal(raw, out)
	}
}

func (f *File) set(key string, value any) {
	raw, err := json.Marshal(value)
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	f.values[key] = raw

	blob, err := json.MarshalIndent(f.values, "", "  ")
	if err != nil {
		return
	}
	_ = os.WriteFile(f.path, blob, 0o600)
}

func (f *File) GetBool(key string) bool {
	var v bool
	f.get(key, &v)
	return v
}

func (f *File) SetBool(key string, value bool) { f.set(key, value) }

func (f *File) GetInt(key string) int64 {
	var v int64
	f.get(key, &v)
	return v
}

func (f *File) SetInt(key string, value int64) { f.set(key, value) }

func (f *File) GetString(key string) string {
	var v string
	f.get(key, &v)
	return v
}

func (f *File) SetString(key string, value string) { f.set(key, value) }

func (f *File) GetTime(key string) time.Time {
	var v time.Time
	f.get(key, &v)
	return v
}

func (f *File) SetTime(key string, value time.Time) { f.set(key, value) }
