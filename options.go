// Copyright 2026 The Govisor Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use file except in compliance with the License.
// You may obtain a copy of the license at
//
//    http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package qvisor

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// Options is a small insertion-ordered map of backend name to backend
// option, used for audio devices and accelerators.  Keys are unique;
// setting an existing key overwrites its value in place.  The zero
// value is an empty map ready for use.  Options is not safe for
// concurrent use; the Descriptor guards its copies.
type Options struct {
	keys []string
	vals map[string]string
}

// NewOptions builds Options from alternating key, value pairs.
func NewOptions(kv ...string) Options {
	var o Options
	for i := 0; i+1 < len(kv); i += 2 {
		o.Set(kv[i], kv[i+1])
	}
	return o
}

func (o *Options) Set(key, value string) {
	if o.vals == nil {
		o.vals = make(map[string]string)
	}
	if _, ok := o.vals[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.vals[key] = value
}

// Delete removes key.  Removing an absent key is a no-op.
func (o *Options) Delete(key string) {
	if _, ok := o.vals[key]; !ok {
		return
	}
	delete(o.vals, key)
	for i, k := range o.keys {
		if k == key {
			o.keys = append(o.keys[:i], o.keys[i+1:]...)
			break
		}
	}
}

func (o Options) Get(key string) (string, bool) {
	v, ok := o.vals[key]
	return v, ok
}

func (o Options) Len() int {
	return len(o.keys)
}

// Keys returns the keys in insertion order.
func (o Options) Keys() []string {
	return append([]string{}, o.keys...)
}

// Clone returns a deep copy.
func (o Options) Clone() Options {
	var c Options
	for _, k := range o.keys {
		c.Set(k, o.vals[k])
	}
	return c
}

// Equal reports whether both maps hold the same pairs in the same order.
func (o Options) Equal(other Options) bool {
	if len(o.keys) != len(other.keys) {
		return false
	}
	for i, k := range o.keys {
		if other.keys[i] != k || other.vals[k] != o.vals[k] {
			return false
		}
	}
	return true
}

// Label renders the map for display as "key=value" pairs joined by
// ", " in insertion order.  Entries with an empty value show the key
// alone.
func (o Options) Label() string {
	parts := make([]string, 0, len(o.keys))
	for _, k := range o.keys {
		if v := o.vals[k]; v != "" {
			parts = append(parts, k+"="+v)
		} else {
			parts = append(parts, k)
		}
	}
	return strings.Join(parts, ", ")
}

// MarshalJSON writes a JSON object whose members keep insertion order.
func (o Options) MarshalJSON() ([]byte, error) {
	var b bytes.Buffer
	b.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			b.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(o.vals[k])
		if err != nil {
			return nil, err
		}
		b.Write(kb)
		b.WriteByte(':')
		b.Write(vb)
	}
	b.WriteByte('}')
	return b.Bytes(), nil
}

// UnmarshalJSON reads a JSON object, preserving member order.
func (o *Options) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if tok == nil {
		*o = Options{}
		return nil
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("options: expected object, got %v", tok)
	}
	var res Options
	for dec.More() {
		tok, err = dec.Token()
		if err != nil {
			return err
		}
		key, ok := tok.(string)
		if !ok {
			return fmt.Errorf("options: bad key %v", tok)
		}
		var val string
		if err = dec.Decode(&val); err != nil {
			return fmt.Errorf("options: value for %q: %w", key, err)
		}
		res.Set(key, val)
	}
	if _, err = dec.Token(); err != nil {
		return err
	}
	*o = res
	return nil
}
