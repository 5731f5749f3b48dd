// SessionGuard - Session Risk & Anomaly Detection Engine
// Copyright 2026 Perimetra Labs
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/perimetra/sessionguard

package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"
)

// Key prefixes for BadgerDB storage.
const (
	sessionKeyPrefix     = "session:"
	sessionUserKeyPrefix = "session_user:"
	loginKeyPrefix       = "login:"
	loginUserKeyPrefix   = "login_user:"
)

// BadgerStore implements Store using BadgerDB for durable storage across
// restarts.
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore creates a BadgerDB-backed session store.
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

// tsKey renders a timestamp as a fixed-width sortable key segment.
func tsKey(t time.Time) string {
	return fmt.Sprintf("%019d", t.UnixNano())
}

// Create stores a new session and records its login event.
func (s *BadgerStore) Create(ctx context.Context, sess *Session) error {
	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if err := txn.Set([]byte(sessionKeyPrefix+sess.ID), data); err != nil {
			return fmt.Errorf("set session: %w", err)
		}
		userKey := []byte(sessionUserKeyPrefix + sess.IdentityID + ":" + sess.ID)
		if err := txn.Set(userKey, []byte(sess.ID)); err != nil {
			return fmt.Errorf("set identity mapping: %w", err)
		}
		return nil
	})
	if err != nil {
		return storeErr(err)
	}

	return s.RecordLogin(ctx, &LoginEvent{
		ID:         sess.ID,
		IdentityID: sess.IdentityID,
		At:         sess.CreatedAt,
		IPAddress:  sess.IPAddress,
		City:       sess.City,
		Country:    sess.Country,
		Latitude:   sess.Latitude,
		Longitude:  sess.Longitude,
		Device:     sess.Device,
	})
}

// Get retrieves a session by ID.
func (s *BadgerStore) Get(_ context.Context, id string) (*Session, error) {
	var sess Session

	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(sessionKeyPrefix + id))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		})
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, ErrNotFound
		}
		return nil, storeErr(err)
	}
	return &sess, nil
}

// ListActive returns all live sessions.
func (s *BadgerStore) ListActive(_ context.Context, now time.Time) ([]*Session, error) {
	var out []*Session

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sess Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err != nil {
				return err
			}
			if sess.Active(now) {
				cp := sess
				out = append(out, &cp)
			}
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	sortSessions(out)
	return out, nil
}

// ListAll returns every session regardless of state.
func (s *BadgerStore) ListAll(_ context.Context) ([]*Session, error) {
	var out []*Session

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = true
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionKeyPrefix)
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sess Session
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			})
			if err != nil {
				return err
			}
			cp := sess
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	sortSessions(out)
	return out, nil
}

// ListByIdentity returns all sessions for an identity.
func (s *BadgerStore) ListByIdentity(_ context.Context, identityID string) ([]*Session, error) {
	var out []*Session

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(sessionUserKeyPrefix + identityID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var sessionID string
			if err := it.Item().Value(func(val []byte) error {
				sessionID = string(val)
				return nil
			}); err != nil {
				continue
			}

			item, err := txn.Get([]byte(sessionKeyPrefix + sessionID))
			if err != nil {
				continue // session removed by retention
			}
			var sess Session
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &sess)
			}); err != nil {
				continue
			}
			cp := sess
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	sortSessions(out)
	return out, nil
}

// MarkSuspicious sets the suspicious flag in a single transaction.
func (s *BadgerStore) MarkSuspicious(_ context.Context, id string, suspicious bool) error {
	return s.mutate(id, func(sess *Session) {
		sess.Suspicious = suspicious
	})
}

// Touch bumps the last-activity time in a single transaction.
func (s *BadgerStore) Touch(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(sess *Session) {
		if at.After(sess.LastActivityAt) {
			sess.LastActivityAt = at
		}
	})
}

// Revoke forces expiration to the given instant. Idempotent: an already
// revoked session is left untouched.
func (s *BadgerStore) Revoke(_ context.Context, id string, at time.Time) error {
	return s.mutate(id, func(sess *Session) {
		if sess.RevokedAt != nil {
			return
		}
		revoked := at
		sess.RevokedAt = &revoked
		sess.ExpiresAt = at
	})
}

// mutate applies fn to a session inside one read-modify-write transaction,
// which makes each per-session mutation atomic.
func (s *BadgerStore) mutate(id string, fn func(*Session)) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		key := []byte(sessionKeyPrefix + id)
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("get session: %w", err)
		}

		var sess Session
		if err := item.Value(func(val []byte) error {
			return json.Unmarshal(val, &sess)
		}); err != nil {
			return err
		}

		fn(&sess)

		data, err := json.Marshal(&sess)
		if err != nil {
			return fmt.Errorf("marshal session: %w", err)
		}
		return txn.Set(key, data)
	})
	if errors.Is(err, ErrNotFound) {
		return ErrNotFound
	}
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// RecordLogin appends a login event under both a global and a per-identity
// time-ordered key.
func (s *BadgerStore) RecordLogin(_ context.Context, ev *LoginEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal login event: %w", err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		ts := tsKey(ev.At)
		if err := txn.Set([]byte(loginKeyPrefix+ts+":"+ev.ID), data); err != nil {
			return err
		}
		return txn.Set([]byte(loginUserKeyPrefix+ev.IdentityID+":"+ts+":"+ev.ID), data)
	})
	if err != nil {
		return storeErr(err)
	}
	return nil
}

// LastLoginBefore returns the identity's most recent login strictly before
// the given instant, or nil if none exists.
func (s *BadgerStore) LastLoginBefore(_ context.Context, identityID string, before time.Time) (*LoginEvent, error) {
	var last *LoginEvent

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(loginUserKeyPrefix + identityID + ":")
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var ev LoginEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			if !ev.At.Before(before) {
				break // keys are time-ordered, nothing older follows
			}
			cp := ev
			last = &cp
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return last, nil
}

// ListLoginsSince returns login events at or after since, ascending.
func (s *BadgerStore) ListLoginsSince(_ context.Context, since time.Time) ([]*LoginEvent, error) {
	var out []*LoginEvent

	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		it := txn.NewIterator(opts)
		defer it.Close()

		prefix := []byte(loginKeyPrefix)
		seek := []byte(loginKeyPrefix + tsKey(since))
		for it.Seek(seek); it.ValidForPrefix(prefix); it.Next() {
			var ev LoginEvent
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &ev)
			}); err != nil {
				return err
			}
			cp := ev
			out = append(out, &cp)
		}
		return nil
	})
	if err != nil {
		return nil, storeErr(err)
	}
	return out, nil
}

// storeErr wraps backend failures as ErrStoreUnavailable so callers can
// classify them as retryable.
func storeErr(err error) error {
	return fmt.Errorf("%w: %s", ErrStoreUnavailable, err)
}
