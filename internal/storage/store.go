// Package storage persists filter state, rule lists and the allow-list in
// a bbolt database.
package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	bbolt "go.etcd.io/bbolt"

	"github.com/bnema/cbsync/internal/models"
)

var (
	bucketRules     = []byte("rules")
	bucketFilters   = []byte("filters")
	bucketAllowList = []byte("allowlist")
	bucketMeta      = []byte("meta")

	keyAllowList   = []byte("state")
	keyInitialized = []byte("initialized")
)

// Store is the bbolt-backed persistence for the pipeline
type Store struct {
	db *bbolt.DB
}

// Open opens (or creates) the database at path and ensures buckets exist.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}

	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, err
	}
	if err := db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{bucketRules, bucketFilters, bucketAllowList, bucketMeta} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error { return s.db.Close() }

func filterKey(id int) []byte {
	return []byte(strconv.Itoa(id))
}

// LoadRules returns the stored rule lines of a filter, nil when none
func (s *Store) LoadRules(filterID int) ([]string, error) {
	var lines []string
	err := s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketRules).Get(filterKey(filterID))
		if len(v) > 0 {
			lines = strings.Split(string(v), "\n")
		}
		return nil
	})
	return lines, err
}

// SaveRules replaces the stored rule lines of a filter
func (s *Store) SaveRules(filterID int, lines []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putRules(tx, filterID, lines)
	})
}

func putRules(tx *bbolt.Tx, filterID int, lines []string) error {
	return tx.Bucket(bucketRules).Put(filterKey(filterID), []byte(strings.Join(lines, "\n")))
}

// FilterStates returns every stored filter state keyed by filter id
func (s *Store) FilterStates() (map[int]models.FilterMetadata, error) {
	states := make(map[int]models.FilterMetadata)
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketFilters).ForEach(func(k, v []byte) error {
			var m models.FilterMetadata
			if err := json.Unmarshal(v, &m); err != nil {
				return fmt.Errorf("decoding filter %s: %w", k, err)
			}
			states[m.FilterID] = m
			return nil
		})
	})
	return states, err
}

// SaveFilterState stores a filter's metadata and state
func (s *Store) SaveFilterState(m models.FilterMetadata) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return putFilter(tx, m)
	})
}

// SaveFilter stores a filter's state and rules in one transaction
func (s *Store) SaveFilter(m models.FilterMetadata, lines []string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := putFilter(tx, m); err != nil {
			return err
		}
		return putRules(tx, m.FilterID, lines)
	})
}

// SaveFilters stores several filters' states and rules in one transaction.
// Filters missing from rules keep their stored rules.
func (s *Store) SaveFilters(states []models.FilterMetadata, rules map[int][]string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		for _, m := range states {
			if err := putFilter(tx, m); err != nil {
				return err
			}
			if lines, ok := rules[m.FilterID]; ok {
				if err := putRules(tx, m.FilterID, lines); err != nil {
					return err
				}
			}
		}
		return nil
	})
}

func putFilter(tx *bbolt.Tx, m models.FilterMetadata) error {
	data, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return tx.Bucket(bucketFilters).Put(filterKey(m.FilterID), data)
}

// DeleteFilter removes a filter's state and rules
func (s *Store) DeleteFilter(filterID int) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.Bucket(bucketFilters).Delete(filterKey(filterID)); err != nil {
			return err
		}
		return tx.Bucket(bucketRules).Delete(filterKey(filterID))
	})
}

// AllowList returns the stored allow-list; ok is false when none was saved
func (s *Store) AllowList() (state models.AllowListState, ok bool, err error) {
	err = s.db.View(func(tx *bbolt.Tx) error {
		v := tx.Bucket(bucketAllowList).Get(keyAllowList)
		if v == nil {
			return nil
		}
		ok = true
		return json.Unmarshal(v, &state)
	})
	return state, ok, err
}

// SaveAllowList replaces the stored allow-list
func (s *Store) SaveAllowList(state models.AllowListState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return err
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketAllowList).Put(keyAllowList, data)
	})
}

// Initialized reports whether MarkInitialized was ever called
func (s *Store) Initialized() (bool, error) {
	var done bool
	err := s.db.View(func(tx *bbolt.Tx) error {
		done = tx.Bucket(bucketMeta).Get(keyInitialized) != nil
		return nil
	})
	return done, err
}

// MarkInitialized records that the first run has completed
func (s *Store) MarkInitialized(at time.Time) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketMeta).Put(keyInitialized, []byte(at.UTC().Format(time.RFC3339)))
	})
}
