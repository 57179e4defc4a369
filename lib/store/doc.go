// Package store provides a high-level interface for key-value storage operations
// with multi-key variants and unified error handling. It serves as an
// abstraction layer over the lower-level db.KVDB implementations.
//
// Key Components:
//
//   - IStore Interface: The core abstraction defining operations for interacting with
//     a key-value store. Writes return the value they replaced, multi-key
//     operations return results positionally aligned with their keys. The
//     pKV server dispatches commands to an IStore and the RPC client
//     implements IStore over the wire, so both sides can be swapped freely.
//
//   - Error System: Every failure is a *Error carrying a RetCode. Errors match
//     the sentinels ErrInternal, ErrUnsupportedOperation and ErrInvalidOperation
//     with errors.Is. A missing key is not an error.
//
//   - DBFactory: A function type that abstracts the creation of underlying db.KVDB
//     instances, providing dependency injection and flexible configuration of
//     storage backends.
//
// Implementations:
//
//   - Local Store (lstore): utilizes a db.KVDB instance directly.
//     Available in the "github.com/ValentinKolb/pKV/lib/store/lstore" package.
//
//   - RPC Store: talks to a pKV server.
//     Available in the "github.com/ValentinKolb/pKV/rpc/client" package.
//
// The package "github.com/ValentinKolb/pKV/lib/store/testing" contains a
// conformance suite every implementation is tested with.
package store
