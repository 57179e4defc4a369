// Package tcp implements the TCP socket transport of the pKV RPC system. It
// provides the TCP specific connectors for the base package: listening,
// dialing and the socket options of TCPConf and SocketConf (NoDelay, buffer
// sizes, keep-alive, linger), applied on both sides of every connection.
//
// Everything above the socket (secure channel, yamux session, stream
// handling, retries) is inherited from the base package.
package tcp
