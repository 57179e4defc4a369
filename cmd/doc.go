// Package cmd implements the command-line interface of pKV. It provides a
// hierarchical command structure with operations for running the server and
// interacting with it as a client.
//
// The package is organized into several subpackages:
//
//   - serve: Starts and configures the pKV server
//   - kv: Commands for key-value operations (get, set, mget, ...) and a perf tool
//   - pubsub: Publish to topics, subscribe to them and drop subscriptions by id
//   - config: Writes a TOML config file for the server
//   - util: Shared utilities for command-line processing and configuration (internal use)
//
// Every flag can also be set as PKV_<FLAG> in the environment or in a .env file.
// See pkv --help for a list of all commands.
package cmd
