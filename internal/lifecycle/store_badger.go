// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

const threatKeyPrefix = "threat:"

// BadgerThreatStore implements ThreatStore on BadgerDB.
type BadgerThreatStore struct {
	db *badger.DB
}

// NewBadgerThreatStore creates a BadgerDB-backed threat store.
func NewBadgerThreatStore(db *badger.DB) *BadgerThreatStore {
	return &BadgerThreatStore{db: db}
}

// Save persists a threat.
func (s *BadgerThreatStore) Save(_ context.Context, threat *Threat) error {
	data, err := json.Marshal(threat)
	if err != nil {
		return fmt.Errorf("marshal threat: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(threatKeyPrefix+threat.ID), data)
	})
	if err != nil {
		return fmt.Errorf("save threat: %w", err)
	}
	return nil
}

// Get retrieves a threat by ID.
func (s *BadgerThreatStore) Get(_ context.Context, id string) (*Threat, error) {
	var threat Threat

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(threatKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrThreatNotFound
		}
		if err != nil {
			return fmt.Errorf("get threat: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &threat)
		})
	})
	if err != nil {
		if errors.Is(err, ErrThreatNotFound) {
			return nil, ErrThreatNotFound
		}
		return nil, fmt.Errorf("get threat: %w", err)
	}
	return &threat, nil
}

// List retrieves threats matching the filter, newest first.
func (s *BadgerThreatStore) List(_ context.Context, filter ThreatFilter) ([]*Threat, error) {
	var out []*Threat

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(threatKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var threat Threat
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &threat)
			})
			if err != nil {
				return err
			}
			if filter.Status != "" && threat.Status != filter.Status {
				continue
			}
			cp := threat
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list threats: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].DetectedAt.After(out[j].DetectedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Update applies fn inside one read-modify-write transaction.
func (s *BadgerThreatStore) Update(_ context.Context, id string, fn func(*Threat)) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(threatKeyPrefix + id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrThreatNotFound
		}
		if err != nil {
			return fmt.Errorf("get threat: %w", err)
		}

		var threat Threat
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &threat)
		}); err != nil {
			return err
		}

		fn(&threat)

		data, err := json.Marshal(&threat)
		if err != nil {
			return fmt.Errorf("marshal threat: %w", err)
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, ErrThreatNotFound) {
		return ErrThreatNotFound
	}
	if err != nil {
		return fmt.Errorf("update threat: %w", err)
	}
	return nil
}
