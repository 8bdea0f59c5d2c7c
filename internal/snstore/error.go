// Copyright (c) 2021-2022 The Decred developers
// Copyright (c) 2026 The Noir developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package snstore

import (
	"errors"
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	ldberrors "github.com/syndtr/goleveldb/leveldb/errors"
)

// ErrorKind identifies a kind of error.  It has full support for errors.Is and
// errors.As, so the caller can directly check against an error kind when
// determining the reason for an error.
type ErrorKind string

// These constants are used to identify a specific Error.
const (
	// ErrDatabase indicates a general database failure.
	ErrDatabase = ErrorKind("ErrDatabase")

	// ErrCorruption indicates the database is corrupted.
	ErrCorruption = ErrorKind("ErrCorruption")

	// ErrNotOpen indicates the database was used after being closed.
	ErrNotOpen = ErrorKind("ErrNotOpen")

	// ErrSerialize indicates a value could not be encoded for storage.
	ErrSerialize = ErrorKind("ErrSerialize")

	// ErrDeserialize indicates a stored value could not be decoded.
	ErrDeserialize = ErrorKind("ErrDeserialize")
)

// Error satisfies the error interface and prints human-readable errors.
func (e ErrorKind) Error() string {
	return string(e)
}

// Error identifies an error related to the service node cache.  It has full
// support for errors.Is and errors.As, so the caller can ascertain the
// specific reason for the error by checking the underlying error.
type Error struct {
	Err         error
	Description string
	RawErr      error
}

// Error satisfies the error interface and prints human-readable errors.
func (e Error) Error() string {
	return e.Description
}

// Unwrap returns the underlying wrapped error.
func (e Error) Unwrap() error {
	return e.Err
}

// storeError creates an Error given a set of arguments.
func storeError(kind ErrorKind, desc string) Error {
	return Error{Err: kind, Description: desc}
}

// convertLdbErr converts the passed leveldb error into an Error with an
// equivalent error kind and the passed description.
func convertLdbErr(ldbErr error, desc string) Error {
	kind := ErrDatabase
	switch {
	case ldberrors.IsCorrupted(ldbErr):
		kind = ErrCorruption
	case errors.Is(ldbErr, leveldb.ErrClosed):
		kind = ErrNotOpen
	}

	err := storeError(kind, fmt.Sprintf("%s: %v", desc, ldbErr))
	err.RawErr = ldbErr
	return err
}
