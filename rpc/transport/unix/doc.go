// Package unix implements the pKV transport over Unix domain sockets for
// clients and servers on the same machine.
//
// The server removes a stale socket file before binding and unlinks the file
// when it stops. The secure channel and the yamux session are the same as for
// tcp and come from the base package.
package unix
