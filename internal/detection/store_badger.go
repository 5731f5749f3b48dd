// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package detection

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage.
const (
	alertKeyPrefix     = "alert:"
	alertPairKeyPrefix = "alert_pair:"
)

// BadgerAlertStore implements AlertStore on BadgerDB. Pair uniqueness is
// enforced with a dedicated alert_pair: key written in the same transaction
// as the alert itself.
type BadgerAlertStore struct {
	db *badger.DB
}

// NewBadgerAlertStore creates a BadgerDB-backed alert store.
func NewBadgerAlertStore(db *badger.DB) *BadgerAlertStore {
	return &BadgerAlertStore{db: db}
}

// Save persists a new alert, enforcing pair uniqueness transactionally.
func (s *BadgerAlertStore) Save(_ context.Context, alert *TravelAlert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		pairKey := []byte(alertPairKeyPrefix + alert.PairKey)
		_, err := txn.Get(pairKey)
		if err == nil {
			return ErrDuplicatePair
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return fmt.Errorf("check pair key: %w", err)
		}

		if err := txn.Set([]byte(alertKeyPrefix+alert.ID), data); err != nil {
			return fmt.Errorf("set alert: %w", err)
		}
		return txn.Set(pairKey, []byte(alert.ID))
	})
	if errors.Is(err, ErrDuplicatePair) {
		return ErrDuplicatePair
	}
	if err != nil {
		return fmt.Errorf("save alert: %w", err)
	}
	return nil
}

// Get retrieves an alert by ID.
func (s *BadgerAlertStore) Get(_ context.Context, id string) (*TravelAlert, error) {
	var alert TravelAlert

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(alertKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &alert)
		})
	})
	if err != nil {
		if errors.Is(err, ErrAlertNotFound) {
			return nil, ErrAlertNotFound
		}
		return nil, fmt.Errorf("get alert: %w", err)
	}
	return &alert, nil
}

// List retrieves alerts matching the filter, newest first.
func (s *BadgerAlertStore) List(_ context.Context, filter AlertFilter) ([]*TravelAlert, error) {
	var out []*TravelAlert

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(alertKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var alert TravelAlert
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &alert)
			})
			if err != nil {
				return err
			}
			if filter.Status != "" && alert.Status != filter.Status {
				continue
			}
			if filter.IdentityID != "" && alert.IdentityID != filter.IdentityID {
				continue
			}
			cp := alert
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Transition moves a pending alert to a terminal status inside one
// read-modify-write transaction. The returned status is the one the alert
// held before the call.
func (s *BadgerAlertStore) Transition(_ context.Context, id string, to AlertStatus) (AlertStatus, error) {
	var prev AlertStatus

	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(alertKeyPrefix + id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrAlertNotFound
		}
		if err != nil {
			return fmt.Errorf("get alert: %w", err)
		}

		var alert TravelAlert
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &alert)
		}); err != nil {
			return err
		}

		prev = alert.Status
		if prev != StatusPending {
			return nil
		}

		alert.Status = to
		data, err := json.Marshal(&alert)
		if err != nil {
			return fmt.Errorf("marshal alert: %w", err)
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, ErrAlertNotFound) {
		return "", ErrAlertNotFound
	}
	if err != nil {
		return "", fmt.Errorf("transition alert: %w", err)
	}
	return prev, nil
}
