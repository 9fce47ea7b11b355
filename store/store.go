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

// Package store persists machine manifests.  Descriptors survive a
// daemon restart in a Badger database, and may also be seeded from a
// directory of JSON manifests.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"

	"github.com/qtemu/qvisor"
)

var ErrNotFound = errors.New("store: manifest not found")

const prefix = "machine:"

// Store saves manifests by uuid.
type Store interface {
	Save(m qvisor.Manifest) error
	Load(id string) (qvisor.Manifest, error)
	List() ([]qvisor.Manifest, error)
	Delete(id string) error
	Close() error
}

type BadgerStore struct {
	db *badger.DB
}

// badgerLogger routes badger's own logging through zap.
type badgerLogger struct {
	*zap.SugaredLogger
}

func (l badgerLogger) Warningf(f string, args ...interface{}) {
	l.Warnf(f, args...)
}

// Open opens or creates the database in dir.  A nil logger silences
// badger.
func Open(dir string, logger *zap.Logger) (*BadgerStore, error) {
	opts := badger.DefaultOptions(filepath.Clean(dir))
	opts.Logger = nil
	if logger != nil {
		opts.Logger = badgerLogger{logger.Named("badger").Sugar()}
	}
	opts = opts.WithValueLogFileSize(1 << 20)
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

// OpenInMemory returns a store that is discarded on Close.
func OpenInMemory() (*BadgerStore, error) {
	opts := badger.DefaultOptions("").WithInMemory(true)
	opts.Logger = nil
	db, err := badger.Open(opts)
	if err != nil {
		return nil, err
	}
	return &BadgerStore{db: db}, nil
}

func (s *BadgerStore) Close() error {
	return s.db.Close()
}

func key(id string) []byte {
	return []byte(prefix + id)
}

func (s *BadgerStore) Save(m qvisor.Manifest) error {
	if m.UUID == "" {
		return &qvisor.ConfigurationError{Field: "uuid", Reason: "missing"}
	}
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(key(m.UUID), data)
	})
}

func (s *BadgerStore) Load(id string) (qvisor.Manifest, error) {
	var out qvisor.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(key(id))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return item.Value(func(v []byte) error {
			return json.Unmarshal(v, &out)
		})
	})
	return out, err
}

// List returns every stored manifest, ordered by uuid.
func (s *BadgerStore) List() ([]qvisor.Manifest, error) {
	var out []qvisor.Manifest
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(prefix)
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Rewind(); it.Valid(); it.Next() {
			var m qvisor.Manifest
			err := it.Item().Value(func(v []byte) error {
				return json.Unmarshal(v, &m)
			})
			if err != nil {
				return err
			}
			out = append(out, m)
		}
		return nil
	})
	return out, err
}

func (s *BadgerStore) Delete(id string) error {
	return s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(key(id)); err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return ErrNotFound
			}
			return err
		}
		return txn.Delete(key(id))
	})
}

// LoadManifests reads every *.json file in dir.  Files that fail to
// parse are reported to the logger and skipped, so one bad manifest
// does not keep the others from loading.
func LoadManifests(dir string, logger *zap.Logger) ([]*qvisor.Descriptor, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	names, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, ent := range names {
		if ent.IsDir() || !strings.HasSuffix(ent.Name(), ".json") {
			continue
		}
		files = append(files, filepath.Join(dir, ent.Name()))
	}
	sort.Strings(files)

	var out []*qvisor.Descriptor
	for _, fname := range files {
		f, err := os.Open(fname)
		if err != nil {
			logger.Warn("failed to open manifest",
				zap.String("file", fname), zap.Error(err))
			continue
		}
		d, err := qvisor.NewDescriptorFromJson(f)
		f.Close()
		if err != nil {
			logger.Warn("failed to load manifest",
				zap.String("file", fname), zap.Error(err))
			continue
		}
		out = append(out, d)
	}
	return out, nil
}
