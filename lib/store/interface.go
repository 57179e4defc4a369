package store

import (
	"errors"
	"fmt"

	"github.com/ValentinKolb/pKV/lib/db"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// DBFactory is a function type that creates a new db used by the store.
// This is used to abstract the creation of the db from the store implementation.
type DBFactory func() (db.KVDB, error)

// IStore is the generic interface for interacting with a key–value store.
// Keys live in one flat keyspace. A missing key is never an error, it is
// reported through the loaded flags. Every error returned by an
// implementation is a *Error.
type IStore interface {
	// Get returns the value for a key. The boolean return value indicates whether a value for the key was found.
	Get(key string) (value []byte, loaded bool, err error)
	// MGet returns the values for several keys, positionally aligned with keys.
	MGet(keys []string) (values [][]byte, loaded []bool, err error)
	// GetAll returns every entry of the store sorted by key.
	GetAll() (keys []string, values [][]byte, err error)

	// Set inserts or updates a key–value pair and returns the value it replaced.
	Set(key string, value []byte) (prev []byte, loaded bool, err error)
	// MSet sets several pairs, keys and values must have the same length.
	// The previous values are positionally aligned with keys.
	MSet(keys []string, values [][]byte) (prevs [][]byte, loaded []bool, err error)

	// Delete removes a key–value pair and returns the removed value.
	Delete(key string) (prev []byte, loaded bool, err error)
	// MDelete removes several keys and returns the removed values.
	MDelete(keys []string) (prevs [][]byte, loaded []bool, err error)

	// Has returns whether a key exists in the store.
	Has(key string) (loaded bool, err error)
	// MHas returns for several keys whether they exist.
	MHas(keys []string) (loaded []bool, err error)

	// GetDBInfo returns metadata about the database underlying the store.
	// It is not guaranteed that all fields are filled in or that the information is up-to-date!
	GetDBInfo() (info db.DatabaseInfo, err error)

	// Close releases the store and its database.
	Close() error
}

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode // The return code
	Msg  string  // The error message.
	Err  error   // The underlying error, if any
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("KVStoreError (code %s): %s: %v", e.Code, e.Msg, e.Err)
	}
	return fmt.Sprintf("KVStoreError (code %s): %s", e.Code, e.Msg)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether target is a *Error with the same code
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Code == e.Code
}

// NewError creates a new KVStoreError with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// WrapError creates a new KVStoreError that wraps err
func WrapError(code RetCode, err error, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
		Err:  err,
	}
}

// Sentinels for errors.Is
var (
	ErrInternal             = NewError(RetCInternalError, "internal error")
	ErrUnsupportedOperation = NewError(RetCUnsupportedOperation, "unsupported operation")
	ErrInvalidOperation     = NewError(RetCInvalidOperation, "invalid operation")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by underlying database.
	RetCInvalidOperation                    // 3: Invalid operation.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	default:
		return "Unknown"
	}
}
