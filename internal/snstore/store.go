// Copyright (c) 2021-2022 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package snstore persists the service node registry and the payment ledger
// between runs so a restarted node does not have to sync them from scratch.
//
// Each cache is stored under a data key next to a version tag.  A cache whose
// tag is missing or does not match the current one is deleted and treated as
// empty.
package snstore

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/decred/dcrd/wire"
	"github.com/noirofficial/noir-sub000/internal/snode"
	"github.com/noirofficial/noir-sub000/snwire"
	"github.com/syndtr/goleveldb/leveldb"
	"github.com/syndtr/goleveldb/leveldb/filter"
	"github.com/syndtr/goleveldb/leveldb/opt"
)

const (
	// dbName is the name of the service node cache database.
	dbName = "sncache"

	// RegistryVersion and PaymentsVersion tag the current format of the
	// registry and payments caches.
	RegistryVersion = "SNRegistry-Version-1"
	PaymentsVersion = "SNPayments-Version-1"
)

var (
	registryVersionKey = []byte("version/registry")
	registryDataKey    = []byte("data/registry")
	paymentsVersionKey = []byte("version/payments")
	paymentsDataKey    = []byte("data/payments")
)

// Store is the on-disk service node cache.  It is safe for concurrent access.
type Store struct {
	db *leveldb.DB
}

// removeRegressionDB removes the existing regression test database if running
// in regression test mode and it already exists.
func removeRegressionDB(net wire.CurrencyNet, dbPath string) error {
	if net != wire.RegNet {
		return nil
	}
	if _, err := os.Stat(dbPath); err == nil {
		log.Infof("Removing regression test service node cache from '%s'",
			dbPath)
		return os.RemoveAll(dbPath)
	}
	return nil
}

// Open loads (or creates when needed) the cache database in dataDir.
func Open(dataDir string, net wire.CurrencyNet) (*Store, error) {
	dbPath := filepath.Join(dataDir, dbName)
	_ = removeRegressionDB(net, dbPath)

	// The error can be ignored here since the call to leveldb.OpenFile will
	// fail if the directory couldn't be created.
	_ = os.MkdirAll(dataDir, 0700)

	log.Infof("Loading service node cache from '%s'", dbPath)
	opts := opt.Options{
		Strict:      opt.DefaultStrict,
		Compression: opt.NoCompression,
		Filter:      filter.NewBloomFilter(10),
	}
	db, err := leveldb.OpenFile(dbPath, &opts)
	if err != nil {
		return nil, convertLdbErr(err, "failed to open service node cache")
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return convertLdbErr(err, "failed to close service node cache")
	}
	return nil
}

// put atomically stores value under dataKey along with the version tag.
func (s *Store) put(versionKey, dataKey []byte, version string, value []byte) error {
	var batch leveldb.Batch
	batch.Put(versionKey, []byte(version))
	batch.Put(dataKey, value)
	if err := s.db.Write(&batch, nil); err != nil {
		str := fmt.Sprintf("failed to store %s", dataKey)
		return convertLdbErr(err, str)
	}
	return nil
}

// get returns the value stored under dataKey when its version tag matches.
// Stale or untagged data is deleted and nil is returned.
func (s *Store) get(versionKey, dataKey []byte, version string) ([]byte, error) {
	tag, err := s.db.Get(versionKey, nil)
	switch {
	case errors.Is(err, leveldb.ErrNotFound):
		tag = nil
	case err != nil:
		return nil, convertLdbErr(err, "failed to read cache version")
	}

	if string(tag) != version {
		if tag != nil {
			log.Infof("Discarding %s cache with version %q (want %q)",
				dataKey, tag, version)
		}
		if err := s.remove(versionKey, dataKey); err != nil {
			return nil, err
		}
		return nil, nil
	}

	value, err := s.db.Get(dataKey, nil)
	if err != nil {
		if errors.Is(err, leveldb.ErrNotFound) {
			return nil, nil
		}
		str := fmt.Sprintf("failed to read %s", dataKey)
		return nil, convertLdbErr(err, str)
	}
	return value, nil
}

// remove deletes a cache along with its version tag.
func (s *Store) remove(versionKey, dataKey []byte) error {
	var batch leveldb.Batch
	batch.Delete(versionKey)
	batch.Delete(dataKey)
	if err := s.db.Write(&batch, nil); err != nil {
		str := fmt.Sprintf("failed to remove %s", dataKey)
		return convertLdbErr(err, str)
	}
	return nil
}

// SaveRegistry stores the registry records.
func (s *Store) SaveRegistry(recs []snode.Record) error {
	value, err := serializeRecords(recs)
	if err != nil {
		return storeError(ErrSerialize, fmt.Sprintf("unable to serialize "+
			"service node records: %v", err))
	}
	if err := s.put(registryVersionKey, registryDataKey, RegistryVersion,
		value); err != nil {
		return err
	}
	log.Debugf("Stored %d service node records (%d bytes)", len(recs),
		len(value))
	return nil
}

// LoadRegistry returns the stored registry records.  It returns no records
// when the cache is missing or was written by a different version.
func (s *Store) LoadRegistry() ([]snode.Record, error) {
	value, err := s.get(registryVersionKey, registryDataKey, RegistryVersion)
	if err != nil || value == nil {
		return nil, err
	}
	return deserializeRecords(value)
}

// SavePayments stores the payment votes.
func (s *Store) SavePayments(votes []snwire.MsgPaymentVote) error {
	value, err := serializeVotes(votes)
	if err != nil {
		return storeError(ErrSerialize, fmt.Sprintf("unable to serialize "+
			"payment votes: %v", err))
	}
	if err := s.put(paymentsVersionKey, paymentsDataKey, PaymentsVersion,
		value); err != nil {
		return err
	}
	log.Debugf("Stored %d payment votes (%d bytes)", len(votes), len(value))
	return nil
}

// LoadPayments returns the stored payment votes.  It returns no votes when
// the cache is missing or was written by a different version.
func (s *Store) LoadPayments() ([]snwire.MsgPaymentVote, error) {
	value, err := s.get(paymentsVersionKey, paymentsDataKey, PaymentsVersion)
	if err != nil || value == nil {
		return nil, err
	}
	return deserializeVotes(value)
}
