// Copyright (C) 2022 Storj Labs, Inc.
// See LICENSE for copying information.

package badgerstate

import (
	badger "github.com/outcaste-io/badger/v3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"storj.io/authlimit/pkg/failrate/statedb"
)

func init() {
	monkit.AddErrorNameHandler(errorName)
}

// errorName fits the requirements for monkit.AddErrorNameHandler so that we can
// provide a useful error tag with mon.Task().
func errorName(err error) (name string, ok bool) {
	switch {
	case errs.Is(err, statedb.ErrNotFound):
		name = "NotFound"
	case errs.Is(err, badger.ErrKeyNotFound):
		name = "KeyNotFound"
	case errs.Is(err, badger.ErrValueLogSize):
		name = "ValueLogSize"
	case errs.Is(err, badger.ErrTxnTooBig):
		name = "TxnTooBig"
	case errs.Is(err, badger.ErrConflict):
		name = "Conflict"
	case errs.Is(err, badger.ErrReadOnlyTxn):
		name = "ReadonlyTxn"
	case errs.Is(err, badger.ErrDiscardedTxn):
		name = "DiscardedTxn"
	case errs.Is(err, badger.ErrEmptyKey):
		name = "EmptyKey"
	case errs.Is(err, badger.ErrInvalidKey):
		name = "InvalidKey"
	case errs.Is(err, badger.ErrBlockedWrites):
		name = "BlockedWrites"
	case errs.Is(err, badger.ErrEncryptionKeyMismatch):
		name = "EncryptionKeyMismatch"
	case errs.Is(err, badger.ErrDBClosed):
		name = "DBClosed"
	case Error.Has(err):
		name = "BadgerState"
	}

	return name, len(name) > 0
}
